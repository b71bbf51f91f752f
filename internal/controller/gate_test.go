/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package controller_test

import (
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/riverside-labs/dstore/internal/controller"
)

var _ = Describe("admission/exclusion gate", func() {
	var gate *controller.Gate

	BeforeEach(func() {
		gate = controller.NewGate()
	})

	It("lets client operations through when no rebalance is running", func() {
		end := gate.BeginClientOp()
		end()
	})

	It("blocks BeginRebalance until every in-flight client op ends", func() {
		end := gate.BeginClientOp()

		rebalanceStarted := make(chan struct{})
		go func() {
			gate.BeginRebalance()
			close(rebalanceStarted)
			gate.EndRebalance()
		}()

		Consistently(rebalanceStarted, 50*time.Millisecond).ShouldNot(BeClosed())
		end()
		Eventually(rebalanceStarted, time.Second).Should(BeClosed())
	})

	It("wakes every blocked client session in one broadcast when rebalance ends", func() {
		gate.BeginRebalance()

		const waiters = 5
		var started sync.WaitGroup
		var woken int32
		started.Add(waiters)
		done := make(chan struct{})

		for i := 0; i < waiters; i++ {
			go func() {
				started.Done()
				end := gate.BeginClientOp()
				n := atomic.AddInt32(&woken, 1)
				end()
				if n == waiters {
					close(done)
				}
			}()
		}
		started.Wait()
		time.Sleep(20 * time.Millisecond) // let every goroutine reach cond.Wait

		gate.EndRebalance()

		Eventually(done, time.Second).Should(BeClosed())
		Expect(atomic.LoadInt32(&woken)).To(Equal(int32(waiters)))
	})

	It("lets WaitReadable pass through once rebalancing clears", func() {
		gate.BeginRebalance()
		readable := make(chan struct{})
		go func() {
			gate.WaitReadable()
			close(readable)
		}()

		Consistently(readable, 50*time.Millisecond).ShouldNot(BeClosed())
		gate.EndRebalance()
		Eventually(readable, time.Second).Should(BeClosed())
	})
})
