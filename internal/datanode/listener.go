/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package datanode

import (
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/riverside-labs/dstore/internal/wire"
)

// ServeClients accepts raw-byte connections until ctx is canceled. Every
// connection's first line is one of STORE, LOAD_DATA (client-facing) or
// REBALANCE_STORE (node-to-node), per spec.md §6's client/node payload
// protocol, which the controller never mediates.
func (n *Node) ServeClients(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()
	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				glog.Warningf("datanode accept: %v", err)
				continue
			}
		}
		go n.handleTransferConn(nc)
	}
}

func (n *Node) handleTransferConn(nc net.Conn) {
	conn := wire.NewConn(nc)
	defer conn.Close()

	tokens, err := conn.ReadLine(time.Now().Add(n.Cfg.Timeout))
	if err != nil {
		return
	}
	if len(tokens) == 0 {
		return
	}
	switch tokens[0] {
	case "STORE", "REBALANCE_STORE":
		n.handleIncomingStore(conn, tokens)
	case "LOAD_DATA":
		n.handleLoadData(conn, tokens)
	default:
		glog.Warningf("datanode: unexpected transfer header %q, closing", tokens)
	}
}

func (n *Node) handleIncomingStore(conn *wire.Conn, tokens []string) {
	if len(tokens) != 3 {
		return
	}
	name := tokens[1]
	size, err := strconv.ParseInt(tokens[2], 10, 64)
	if err != nil || size < 0 {
		return
	}
	if err := conn.WriteLine("ACK"); err != nil {
		return
	}
	pr, err := conn.PayloadReader(time.Now().Add(n.Cfg.Timeout))
	if err != nil {
		return
	}
	if err := n.Store.Put(name, pr, size); err != nil {
		glog.Warningf("datanode: storing %q: %v", name, err)
		return
	}
	glog.Infof("datanode: stored %q (%d bytes)", name, size)
}

func (n *Node) handleLoadData(conn *wire.Conn, tokens []string) {
	if len(tokens) != 2 {
		return
	}
	name := tokens[1]
	r, _, err := n.Store.Get(name)
	if err != nil {
		glog.Warningf("datanode: load %q: %v", name, err)
		return
	}
	defer r.Close()
	if _, err := io.Copy(conn.Raw(), r); err != nil {
		glog.Warningf("datanode: serving %q: %v", name, err)
	}
}
