/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package controller

import (
	"sync"

	"github.com/golang/glog"

	"github.com/riverside-labs/dstore/internal/config"
	"github.com/riverside-labs/dstore/internal/fileindex"
	"github.com/riverside-labs/dstore/internal/metrics"
	"github.com/riverside-labs/dstore/internal/noderegistry"
	"github.com/riverside-labs/dstore/internal/wire"
)

// Rebalancer is the subset of internal/rebalance.Planner the coordinator
// needs: a way to ask for an immediate pass after a JOIN.
type Rebalancer interface {
	TriggerNow()
}

// Coordinator is the request coordinator of spec.md §4.4: it owns the
// file index, the node registry, the admission gate, and one NodeHub per
// joined data node.
type Coordinator struct {
	Cfg     *config.Controller
	Index   *fileindex.Index
	Nodes   *noderegistry.Registry
	Gate    *Gate
	Metrics *metrics.Set
	Reb     Rebalancer

	hubsMu sync.Mutex
	hubs   map[string]*NodeHub
}

// New builds a Coordinator. Reb may be nil until the rebalance planner is
// wired in by cmd/controller (the planner itself needs a Coordinator to
// reach the node hubs, so construction is two-phase).
func New(cfg *config.Controller, mset *metrics.Set) *Coordinator {
	return &Coordinator{
		Cfg:     cfg,
		Index:   fileindex.New(),
		Nodes:   noderegistry.New(),
		Gate:    NewGate(),
		Metrics: mset,
		hubs:    make(map[string]*NodeHub),
	}
}

// Hub returns the NodeHub for a joined node, if any.
func (c *Coordinator) Hub(port string) (*NodeHub, bool) {
	c.hubsMu.Lock()
	defer c.hubsMu.Unlock()
	h, ok := c.hubs[port]
	return h, ok
}

// Hubs returns a snapshot of all node hubs, keyed by port.
func (c *Coordinator) Hubs() map[string]*NodeHub {
	c.hubsMu.Lock()
	defer c.hubsMu.Unlock()
	out := make(map[string]*NodeHub, len(c.hubs))
	for k, v := range c.hubs {
		out[k] = v
	}
	return out
}

// HandleJoin takes over a freshly-accepted connection on which the first
// line was "JOIN port". It registers the node, spawns its demultiplexing
// reader, and triggers an immediate rebalance pass.
func (c *Coordinator) HandleJoin(conn *wire.Conn, port string) {
	addr := conn.Raw().RemoteAddr().String()
	node := c.Nodes.Join(port, addr, conn)
	hub := newNodeHub(port, conn)
	c.hubsMu.Lock()
	c.hubs[port] = hub
	c.hubsMu.Unlock()

	glog.Infof("node %s joined from %s", port, addr)
	c.Metrics.NodesLive.Set(float64(c.Nodes.Len()))

	go hub.Run(func() {
		c.evictNode(node.Port)
	})

	if c.Reb != nil {
		c.Reb.TriggerNow()
	}
}

// EvictNode removes a node by port, scrubbing it from every file's
// replica set. Exported for internal/rebalance's dead-node prune step;
// the close callback HandleJoin passes to the hub's Run loop calls
// evictNode directly.
func (c *Coordinator) EvictNode(port string) { c.evictNode(port) }

// evictNode removes a node whose session closed or failed, scrubbing it
// from every file's replica set. The next rebalance pass restores the
// replication-factor invariant.
func (c *Coordinator) evictNode(port string) {
	c.hubsMu.Lock()
	delete(c.hubs, port)
	c.hubsMu.Unlock()

	c.Nodes.Remove(port)
	c.Index.ScrubNode(port)
	c.Metrics.NodesLive.Set(float64(c.Nodes.Len()))
	glog.Warningf("node %s evicted", port)
}

// Session is per-client-connection state: the recent-load cursor of
// spec.md §4.7, cleared on any command whose first token is not RELOAD.
type Session struct {
	c      *Coordinator
	cursor map[string][]string // filename -> ports already offered this sequence
}

// NewSession returns a fresh per-connection Session.
func (c *Coordinator) NewSession() *Session {
	return &Session{c: c, cursor: make(map[string][]string)}
}

// clearCursorExcept clears the LOAD retry cursor unless the command is a
// RELOAD, per spec.md §4.7.
func (s *Session) clearCursorExcept(cmd string) {
	if cmd != "RELOAD" {
		s.cursor = make(map[string][]string)
	}
}
