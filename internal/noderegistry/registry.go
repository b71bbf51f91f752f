// Package noderegistry tracks the live set of data nodes: their session,
// address, and a monotone file-count estimate used for least/most-loaded
// placement decisions.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package noderegistry

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/riverside-labs/dstore/internal/wire"
)

// ErrNotEnoughNodes is returned by SelectLeastLoaded when fewer than R
// nodes are registered.
var ErrNotEnoughNodes = errors.New("noderegistry: not enough nodes")

// Node is one registered data node.
type Node struct {
	Port      string // the node's advertised listening port; the registry key
	Addr      string // remote address of the node's JOIN connection, for diagnostics
	Conn      *wire.Conn
	JoinedAt  time.Time
	fileCount int
}

// FileCount returns the node's current file-count estimate.
func (n *Node) FileCount() int { return n.fileCount }

// Registry is the node-id -> Node map. All mutation is serialized by a
// single mutex, the same discipline the teacher applies to its daemon/
// mountpath maps (fs.Mountpaths, ais smap).
type Registry struct {
	mu    sync.Mutex
	nodes map[string]*Node
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{nodes: make(map[string]*Node)}
}

// Join inserts a node, replacing any prior entry under the same port (a
// rejoin after a reconnect).
func (r *Registry) Join(port, addr string, conn *wire.Conn) *Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := &Node{Port: port, Addr: addr, Conn: conn, JoinedAt: time.Now()}
	r.nodes[port] = n
	return n
}

// Remove deletes a node from the registry. It does not scrub the file
// index; callers (the controller) are responsible for calling
// fileindex.Index.ScrubNode with the same port.
func (r *Registry) Remove(port string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.nodes, port)
}

// Get returns the node at port, if present.
func (r *Registry) Get(port string) (*Node, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n, ok := r.nodes[port]
	return n, ok
}

// List returns a snapshot slice of all registered nodes, ordered by port
// for deterministic iteration.
func (r *Registry) List() []*Node {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Node, 0, len(r.nodes))
	for _, n := range r.nodes {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Port < out[j].Port })
	return out
}

// Len returns the number of live, registered nodes.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.nodes)
}

// SelectLeastLoaded returns the n nodes with the smallest fileCount,
// breaking ties by ascending port number for reproducibility. It fails
// with ErrNotEnoughNodes when fewer than n are registered.
func (r *Registry) SelectLeastLoaded(n int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.nodes) < n {
		return nil, ErrNotEnoughNodes
	}
	all := make([]*Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		all = append(all, node)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].fileCount != all[j].fileCount {
			return all[i].fileCount < all[j].fileCount
		}
		return all[i].Port < all[j].Port
	})
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].Port
	}
	return out, nil
}

// AdjustFileCount adds delta (positive or negative) to a node's file
// count estimate. Used on store-ack (+1) and remove-ack (-1); the
// rebalance executor sets counts outright with SetFileCount.
func (r *Registry) AdjustFileCount(port string, delta int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[port]; ok {
		n.fileCount += delta
	}
}

// SetFileCount overwrites a node's file-count estimate outright, used by
// the rebalance executor to commit the planned count after a successful
// REBALANCE_COMPLETE.
func (r *Registry) SetFileCount(port string, count int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[port]; ok {
		n.fileCount = count
	}
}
