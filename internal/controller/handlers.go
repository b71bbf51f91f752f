/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package controller

import (
	"context"
	"strconv"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/riverside-labs/dstore/internal/fileindex"
	"github.com/riverside-labs/dstore/internal/wire"
)

// Reply is a single outbound line the caller should write back to the
// client socket.
type Reply []string

func reply(tokens ...string) Reply { return Reply(tokens) }

var (
	errNotEnoughDstores = reply("ERROR_NOT_ENOUGH_DSTORES")
	errFileExists       = reply("ERROR_FILE_ALREADY_EXISTS")
	errFileMissing      = reply("ERROR_FILE_DOES_NOT_EXIST")
	errLoadExhausted    = reply("ERROR_LOAD")
)

// Dispatch parses and executes one client command line, returning the
// final reply to write back. It returns nil when no reply is warranted:
// on malformed or unknown input, and when a STORE or REMOVE does not
// collect every ack before its deadline (the client then hears nothing).
// conn is the client's own connection: STORE writes its interim
// STORE_TO reply directly to it before awaiting acks, since the
// protocol requires two replies for a single command.
func (s *Session) Dispatch(ctx context.Context, conn *wire.Conn, tokens []string) Reply {
	if len(tokens) == 0 {
		return nil
	}
	cmd := tokens[0]
	s.clearCursorExcept(cmd)

	switch cmd {
	case "STORE":
		return s.handleStore(ctx, conn, tokens)
	case "LOAD":
		return s.handleLoad(tokens, false)
	case "RELOAD":
		return s.handleLoad(tokens, true)
	case "REMOVE":
		return s.handleRemove(ctx, tokens)
	case "LIST":
		return s.handleList()
	default:
		glog.Warningf("client: unknown command %q, discarding", tokens)
		return nil
	}
}

// admissionGuard is the N < R check spec.md §4.4 requires before STORE,
// LOAD, RELOAD, REMOVE, and LIST.
func (s *Session) admissionGuard() bool {
	return s.c.Nodes.Len() >= s.c.Cfg.ReplicationFactor
}

func (s *Session) handleStore(ctx context.Context, conn *wire.Conn, tokens []string) Reply {
	if len(tokens) != 3 {
		return nil
	}
	name := tokens[1]
	size, err := strconv.ParseInt(tokens[2], 10, 64)
	if err != nil || size < 0 {
		return nil
	}

	end := s.c.Gate.BeginClientOp()
	defer end()

	if !s.admissionGuard() {
		return errNotEnoughDstores
	}

	if _, exists := s.c.Index.Get(name); exists {
		return errFileExists
	}

	ports, err := s.c.Nodes.SelectLeastLoaded(s.c.Cfg.ReplicationFactor)
	if err != nil {
		return errNotEnoughDstores
	}

	if err := s.c.Index.AdmitStore(name, size, ports); err != nil {
		return errFileExists
	}
	s.c.Metrics.StoresAdmitted.Inc()

	// STORE gets two replies: STORE_TO now so the client can start the
	// direct client<->node transfer, then STORE_COMPLETE (or silence)
	// once every replica has acked.
	if err := conn.WriteLine(append([]string{"STORE_TO"}, ports...)...); err != nil {
		s.c.Index.Drop(name)
		return nil
	}

	acked := s.collectStoreAcks(ctx, name, ports)

	if acked == len(ports) {
		s.c.Index.MarkStoreComplete(name)
		s.c.Metrics.StoresCompleted.Inc()
		return reply("STORE_COMPLETE")
	}
	s.c.Index.Drop(name)
	s.c.Metrics.StoresTimedOut.Inc()
	return nil
}

// collectStoreAcks fans out to every destination node and waits, with a
// single deadline of Cfg.Timeout from the moment the reply was sent, for
// a STORE_ACK from each. Each received ack increments that node's file
// count. Returns the number of nodes that acked before the deadline.
func (s *Session) collectStoreAcks(ctx context.Context, name string, ports []string) int {
	deadline := time.Now().Add(s.c.Cfg.Timeout)
	g, _ := errgroup.WithContext(ctx)
	acked := make([]bool, len(ports))
	for i, port := range ports {
		i, port := i, port
		g.Go(func() error {
			hub, ok := s.c.Hub(port)
			if !ok {
				return nil
			}
			key := "STORE_ACK:" + name
			ch := hub.Register(key)
			select {
			case <-ch:
				acked[i] = true
				s.c.Nodes.AdjustFileCount(port, 1)
			case <-time.After(time.Until(deadline)):
				hub.Unregister(key)
			}
			return nil
		})
	}
	_ = g.Wait()
	n := 0
	for _, ok := range acked {
		if ok {
			n++
		}
	}
	return n
}

func (s *Session) handleLoad(tokens []string, isReload bool) Reply {
	if len(tokens) != 2 {
		return nil
	}
	name := tokens[1]

	s.c.Gate.WaitReadable()
	if !s.admissionGuard() {
		return errNotEnoughDstores
	}

	entry, ok := s.c.Index.Get(name)
	if !ok || entry.Status != fileindex.StoreComplete {
		return errFileMissing
	}

	tried := s.cursor[name]
	for _, port := range entry.Replicas {
		if contains(tried, port) {
			continue
		}
		s.cursor[name] = append(tried, port)
		return reply("LOAD_FROM", port, strconv.FormatInt(entry.Size, 10))
	}
	_ = isReload
	return errLoadExhausted
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func (s *Session) handleRemove(ctx context.Context, tokens []string) Reply {
	if len(tokens) != 2 {
		return nil
	}
	name := tokens[1]

	end := s.c.Gate.BeginClientOp()
	defer end()

	if !s.admissionGuard() {
		return errNotEnoughDstores
	}

	entry, ok := s.c.Index.Get(name)
	if !ok || entry.Status != fileindex.StoreComplete {
		return errFileMissing
	}
	if err := s.c.Index.AdmitRemove(name); err != nil {
		return errFileMissing
	}
	s.c.Metrics.RemovesAdmitted.Inc()

	acked := s.collectRemoveAcks(ctx, name, entry.Replicas)

	if acked == len(entry.Replicas) {
		s.c.Index.Drop(name)
		s.c.Metrics.RemovesCompleted.Inc()
		return reply("REMOVE_COMPLETE")
	}
	// left in REMOVE_IN_PROGRESS; the next rebalance pass reconciles it.
	s.c.Metrics.RemovesTimedOut.Inc()
	return nil
}

func (s *Session) collectRemoveAcks(ctx context.Context, name string, replicas []string) int {
	deadline := time.Now().Add(s.c.Cfg.Timeout)
	g, _ := errgroup.WithContext(ctx)
	acked := make([]bool, len(replicas))
	for i, port := range replicas {
		i, port := i, port
		g.Go(func() error {
			hub, ok := s.c.Hub(port)
			if !ok {
				return nil
			}
			if err := hub.Send("REMOVE", name); err != nil {
				return nil
			}
			ackKey := "REMOVE_ACK:" + name
			missingKey := "ERROR_FILE_DOES_NOT_EXIST:" + name
			ackCh := hub.Register(ackKey)
			missingCh := hub.Register(missingKey)
			select {
			case <-ackCh:
				acked[i] = true
				hub.Unregister(missingKey)
				s.c.Nodes.AdjustFileCount(port, -1)
			case <-missingCh:
				acked[i] = true
				hub.Unregister(ackKey)
			case <-time.After(time.Until(deadline)):
				hub.Unregister(ackKey)
				hub.Unregister(missingKey)
			}
			return nil
		})
	}
	_ = g.Wait()
	n := 0
	for _, ok := range acked {
		if ok {
			n++
		}
	}
	return n
}

func (s *Session) handleList() Reply {
	s.c.Gate.WaitReadable()
	if !s.admissionGuard() {
		return errNotEnoughDstores
	}
	names := s.c.Index.SnapshotVisible()
	out := append(Reply{"LIST"}, names...)
	return out
}
