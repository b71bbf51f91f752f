/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package controller

import (
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/riverside-labs/dstore/internal/wire"
)

// NodeHub is the single demultiplexing reader for one node's persistent
// inbound session. It distributes every incoming line to whichever
// waiter has declared interest in its key, per spec.md §4.4's
// concurrency note: synchronous acks (STORE_ACK, REMOVE_ACK,
// REBALANCE_COMPLETE) and unsolicited replies (LIST) share one TCP
// session, so exactly one goroutine may call ReadLine on it.
type NodeHub struct {
	Port string
	conn *wire.Conn

	mu      sync.Mutex
	waiters map[string]chan []string
}

func newNodeHub(port string, conn *wire.Conn) *NodeHub {
	return &NodeHub{
		Port:    port,
		conn:    conn,
		waiters: make(map[string]chan []string),
	}
}

// Register declares interest in one demultiplex key (e.g. "STORE_ACK:a.txt"
// or "REBALANCE_COMPLETE") and returns a channel that receives the full
// token list of the matching line exactly once.
func (h *NodeHub) Register(key string) chan []string {
	ch := make(chan []string, 1)
	h.mu.Lock()
	h.waiters[key] = ch
	h.mu.Unlock()
	return ch
}

// Unregister drops a waiter that timed out without a match.
func (h *NodeHub) Unregister(key string) {
	h.mu.Lock()
	delete(h.waiters, key)
	h.mu.Unlock()
}

// Send writes a line to the node's session.
func (h *NodeHub) Send(tokens ...string) error {
	return h.conn.WriteLine(tokens...)
}

// Closed reports whether the node's session has observed a read/write
// failure and torn itself down. Used by the rebalance pass's dead-node
// prune step as a cheap liveness check alongside the continuous
// eviction the demultiplexing loop already performs on I/O failure.
func (h *NodeHub) Closed() bool {
	return h.conn.Closed()
}

// Run is the demultiplexing reader loop. It blocks until the connection
// closes or fails, calling onClosed exactly once when that happens.
func (h *NodeHub) Run(onClosed func()) {
	defer onClosed()
	for {
		tokens, err := h.conn.ReadLine(time.Now().Add(24 * time.Hour))
		if err != nil {
			if err != wire.ErrTimeout {
				glog.Infof("node %s: session closed: %v", h.Port, err)
				return
			}
			continue
		}
		if len(tokens) == 0 {
			continue
		}
		if tokens[0] == "JOIN" {
			glog.Warningf("node %s: duplicate JOIN on an already-joined session, closing", h.Port)
			_ = h.conn.Close()
			return
		}
		key := demuxKey(tokens)
		if key == "" {
			glog.Warningf("node %s: malformed or unsolicited line %q, discarding", h.Port, tokens)
			continue
		}
		h.mu.Lock()
		ch, ok := h.waiters[key]
		if ok {
			delete(h.waiters, key)
		}
		h.mu.Unlock()
		if !ok {
			glog.Warningf("node %s: no waiter for %q, discarding", h.Port, tokens)
			continue
		}
		ch <- tokens
	}
}

// demuxKey derives the routing key for an inbound line from a node. Acks
// tied to a filename route on token+name; REBALANCE_COMPLETE and LIST
// (the rebalance collection reply) have no filename and route on the
// token alone.
func demuxKey(tokens []string) string {
	switch tokens[0] {
	case "STORE_ACK", "REMOVE_ACK", "ERROR_FILE_DOES_NOT_EXIST":
		if len(tokens) < 2 {
			return ""
		}
		return tokens[0] + ":" + tokens[1]
	case "REBALANCE_COMPLETE", "LIST":
		return tokens[0]
	default:
		return ""
	}
}
