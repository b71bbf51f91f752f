/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package rebalance

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/golang/glog"
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"

	"github.com/riverside-labs/dstore/internal/config"
	"github.com/riverside-labs/dstore/internal/controller"
	"github.com/riverside-labs/dstore/internal/fileindex"
	"github.com/riverside-labs/dstore/internal/metrics"
)

// Planner drives the periodic pass of spec.md §4.5 against a
// controller.Coordinator: it prunes dead nodes, collects LIST from every
// live node, computes a Plan, dispatches it, and commits whatever part
// of it every node acknowledged.
type Planner struct {
	coord *controller.Coordinator
	cfg   *config.Controller
	mset  *metrics.Set

	trigger chan struct{}
	running atomic.Bool
}

// New returns a Planner bound to coord. Satisfies controller.Rebalancer.
func New(coord *controller.Coordinator) *Planner {
	return &Planner{
		coord:   coord,
		cfg:     coord.Cfg,
		mset:    coord.Metrics,
		trigger: make(chan struct{}, 1),
	}
}

// TriggerNow requests an immediate pass. A pending request is coalesced
// with any already queued; a request made while a pass is running is
// dropped.
func (p *Planner) TriggerNow() {
	if p.running.Load() {
		return
	}
	select {
	case p.trigger <- struct{}{}:
	default:
	}
}

// Run fires a pass on every tick of cfg.RebalancePeriod and on every
// TriggerNow, until ctx is canceled.
func (p *Planner) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.RebalancePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.attempt(ctx)
		case <-p.trigger:
			p.attempt(ctx)
		}
	}
}

// attempt runs at most one pass at a time; a concurrent request is
// dropped per spec.md §4.5's "subsequent requests while running are
// dropped".
func (p *Planner) attempt(ctx context.Context) {
	if !p.running.CompareAndSwap(false, true) {
		return
	}
	defer p.running.Store(false)
	p.runPass(ctx)
}

func (p *Planner) runPass(ctx context.Context) {
	p.coord.Gate.BeginRebalance()
	defer p.coord.Gate.EndRebalance()

	p.pruneDead()

	if n := p.coord.Nodes.Len(); n < p.cfg.ReplicationFactor {
		glog.Infof("rebalance: %d nodes registered, need %d, skipping pass", n, p.cfg.ReplicationFactor)
		return
	}

	reported := p.collectLists(ctx)
	if len(reported) < p.cfg.ReplicationFactor {
		glog.Infof("rebalance: %d nodes responded to LIST, need %d, skipping pass", len(reported), p.cfg.ReplicationFactor)
		return
	}

	visible := make(map[string]bool)
	removing := make(map[string]bool)
	for _, e := range p.coord.Index.SnapshotAll() {
		switch e.Status {
		case fileindex.StoreComplete:
			visible[e.Name] = true
		case fileindex.RemoveInProgress:
			removing[e.Name] = true
		}
	}

	plan := Compute(Input{
		R:                p.cfg.ReplicationFactor,
		Reported:         reported,
		Visible:          visible,
		RemoveInProgress: removing,
	})

	p.dispatch(ctx, plan)
	p.mset.RebalancePasses.Inc()
}

// pruneDead removes any node whose session is already known closed,
// per spec.md §4.5 step 2. The demultiplexing reader evicts nodes
// continuously on I/O failure; this is a belt-and-suspenders check for
// a session that closed without a read ever failing.
func (p *Planner) pruneDead() {
	for port, hub := range p.coord.Hubs() {
		if hub.Closed() {
			p.coord.EvictNode(port)
		}
	}
}

// collectLists sends LIST to every live node and collects replies
// within cfg.Timeout. A node that times out is absent from the result,
// per spec.md §4.5 step 4.
func (p *Planner) collectLists(ctx context.Context) map[string][]string {
	hubs := p.coord.Hubs()
	deadline := time.Now().Add(p.cfg.Timeout)

	type result struct {
		port  string
		files []string
		ok    bool
	}
	results := make([]result, len(hubs))

	g, _ := errgroup.WithContext(ctx)
	i := 0
	for port, hub := range hubs {
		idx, port, hub := i, port, hub
		i++
		g.Go(func() error {
			ch := hub.Register("LIST")
			if err := hub.Send("LIST"); err != nil {
				hub.Unregister("LIST")
				return nil
			}
			select {
			case tokens := <-ch:
				results[idx] = result{port: port, files: tokens[1:], ok: true}
			case <-time.After(time.Until(deadline)):
				hub.Unregister("LIST")
			}
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string][]string, len(hubs))
	for _, r := range results {
		if r.ok {
			out[r.port] = r.files
		}
	}
	return out
}

// dispatch sends every node with a non-empty plan its REBALANCE
// message, awaits REBALANCE_COMPLETE within cfg.Timeout, and commits
// whatever part of the plan every affected node acknowledged.
func (p *Planner) dispatch(ctx context.Context, plan *Plan) {
	hubs := p.coord.Hubs()
	ports := make(map[string]bool, len(plan.Currents))
	for port := range plan.Sends {
		ports[port] = true
	}
	for port := range plan.Removals {
		ports[port] = true
	}

	success := make(map[string]bool, len(hubs))
	for port := range hubs {
		success[port] = !ports[port] // no message needed: trivially successful
	}

	type result struct {
		port string
		ok   bool
	}
	results := make([]result, 0, len(ports))
	var mu sync.Mutex

	deadline := time.Now().Add(p.cfg.Timeout)
	g, _ := errgroup.WithContext(ctx)
	for port := range ports {
		port := port
		hub, ok := hubs[port]
		if !ok {
			continue
		}
		g.Go(func() error {
			msg := buildRebalanceMessage(port, plan)
			ch := hub.Register("REBALANCE_COMPLETE")
			acked := false
			if err := hub.Send(msg...); err != nil {
				hub.Unregister("REBALANCE_COMPLETE")
			} else {
				select {
				case <-ch:
					acked = true
				case <-time.After(time.Until(deadline)):
					hub.Unregister("REBALANCE_COMPLETE")
				}
			}
			mu.Lock()
			results = append(results, result{port: port, ok: acked})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	for _, r := range results {
		success[r.port] = r.ok
	}

	p.commit(plan, success)
}

// commit applies the parts of plan every involved node acknowledged:
// file replica sets, node file counts, and index entries scheduled for
// deletion, per spec.md §4.5 steps 10-11. A node that never answered
// leaves its files' replica set uncommitted so the next pass retries.
func (p *Planner) commit(plan *Plan, success map[string]bool) {
	removalSources := make(map[string][]string)
	for port, files := range plan.Removals {
		for _, f := range files {
			removalSources[f] = append(removalSources[f], port)
		}
	}

	senders := make(map[string][]string)
	for port, files := range plan.Sends {
		for f := range files {
			senders[f] = append(senders[f], port)
		}
	}

	moved, deleted := 0, 0

	for fname, holders := range plan.FilesStored {
		if allSucceeded(holders, success) && allSucceeded(senders[fname], success) {
			p.coord.Index.SetReplicas(fname, holders)
		}
	}
	for port, files := range plan.Sends {
		if success[port] {
			moved += len(files)
		}
	}

	for fname, sources := range removalSources {
		if !allSucceeded(sources, success) {
			continue
		}
		deleted += len(sources)
		if _, holds := plan.FilesStored[fname]; !holds {
			// phantom or fully-removed: safe to drop if still present.
			p.coord.Index.Drop(fname)
		}
	}

	for port := range plan.Currents {
		if success[port] {
			p.coord.Nodes.SetFileCount(port, len(plan.Currents[port]))
		}
	}

	if moved > 0 {
		p.mset.RebalanceMoved.Add(float64(moved))
	}
	if deleted > 0 {
		p.mset.RebalanceDeleted.Add(float64(deleted))
	}
}

func allSucceeded(ports []string, success map[string]bool) bool {
	for _, port := range ports {
		if !success[port] {
			return false
		}
	}
	return true
}

// buildRebalanceMessage renders the wire form of spec.md §4.5 step 9:
// REBALANCE S f1 c1 p1,1 … p1,c1 … D r1 … rD
func buildRebalanceMessage(port string, plan *Plan) []string {
	files := sortedKeys(plan.Sends[port])
	tokens := []string{"REBALANCE", strconv.Itoa(len(files))}
	for _, f := range files {
		dests := plan.Sends[port][f]
		tokens = append(tokens, f, strconv.Itoa(len(dests)))
		tokens = append(tokens, dests...)
	}
	removals := append([]string(nil), plan.Removals[port]...)
	tokens = append(tokens, strconv.Itoa(len(removals)))
	tokens = append(tokens, removals...)
	return tokens
}
