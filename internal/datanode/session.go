/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package datanode

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/riverside-labs/dstore/internal/config"
	"github.com/riverside-labs/dstore/internal/wire"
)

var errBadAck = errors.New("datanode: expected ACK")

// Node is one running data node: its local store, its own listening
// address, and its persistent session to the controller.
type Node struct {
	Cfg   *config.DataNode
	Store LocalStore
}

// New returns a Node backed by store.
func New(cfg *config.DataNode, store LocalStore) *Node {
	return &Node{Cfg: cfg, Store: store}
}

// RunControllerSession dials the controller, sends JOIN, and serves
// LIST/REMOVE/REBALANCE directives on that single connection until ctx
// is canceled or the connection fails, reconnecting with a fixed
// backoff on failure (the controller side evicts and rebalances around
// the gap; a reconnecting node simply rejoins).
func (n *Node) RunControllerSession(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := n.joinAndServe(ctx); err != nil {
			glog.Warningf("controller session: %v, retrying", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(n.Cfg.Timeout):
		}
	}
}

func (n *Node) joinAndServe(ctx context.Context) error {
	nc, err := net.Dial("tcp", n.Cfg.ControllerAddr)
	if err != nil {
		return err
	}
	conn := wire.NewConn(nc)
	defer conn.Close()

	if err := conn.WriteLine("JOIN", n.Cfg.Port); err != nil {
		return err
	}
	glog.Infof("joined controller at %s as port %s", n.Cfg.ControllerAddr, n.Cfg.Port)

	for {
		tokens, err := conn.ReadLine(time.Now().Add(24 * time.Hour))
		if err != nil {
			if err == wire.ErrTimeout {
				continue
			}
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		n.handleDirective(conn, tokens)
	}
}

// handleDirective dispatches one line from the controller: LIST, REMOVE
// name, or REBALANCE S f c p... D r....
func (n *Node) handleDirective(conn *wire.Conn, tokens []string) {
	if len(tokens) == 0 {
		return
	}
	switch tokens[0] {
	case "LIST":
		names := n.Store.List()
		_ = conn.WriteLine(append([]string{"LIST"}, names...)...)
	case "REMOVE":
		n.handleRemove(conn, tokens)
	case "REBALANCE":
		n.handleRebalance(conn, tokens)
	default:
		glog.Warningf("controller session: unexpected directive %q, discarding", tokens)
	}
}

func (n *Node) handleRemove(conn *wire.Conn, tokens []string) {
	if len(tokens) != 2 {
		return
	}
	name := tokens[1]
	if err := n.Store.Remove(name); err != nil {
		_ = conn.WriteLine("ERROR_FILE_DOES_NOT_EXIST", name)
		return
	}
	_ = conn.WriteLine("REMOVE_ACK", name)
}

// handleRebalance parses "REBALANCE S f1 c1 p1,1 ... D r1 ... rD",
// pushes each f to its destination ports via a node-to-node
// REBALANCE_STORE, deletes every r, and acks once all of that is done.
func (n *Node) handleRebalance(conn *wire.Conn, tokens []string) {
	pos := 1
	readInt := func() (int, bool) {
		if pos >= len(tokens) {
			return 0, false
		}
		v, err := strconv.Atoi(tokens[pos])
		pos++
		return v, err == nil
	}

	s, ok := readInt()
	if !ok {
		glog.Warningf("malformed REBALANCE, discarding")
		return
	}
	type send struct {
		name string
		dest []string
	}
	sends := make([]send, 0, s)
	for i := 0; i < s; i++ {
		if pos >= len(tokens) {
			glog.Warningf("malformed REBALANCE, discarding")
			return
		}
		name := tokens[pos]
		pos++
		c, ok := readInt()
		if !ok || pos+c > len(tokens) {
			glog.Warningf("malformed REBALANCE, discarding")
			return
		}
		dest := append([]string(nil), tokens[pos:pos+c]...)
		pos += c
		sends = append(sends, send{name: name, dest: dest})
	}
	d, ok := readInt()
	if !ok || pos+d > len(tokens) {
		glog.Warningf("malformed REBALANCE, discarding")
		return
	}
	removals := append([]string(nil), tokens[pos:pos+d]...)

	for _, sd := range sends {
		for _, destPort := range sd.dest {
			if err := n.pushTo(destPort, sd.name); err != nil {
				glog.Warningf("rebalance push %s -> %s: %v", sd.name, destPort, err)
			}
		}
	}
	for _, name := range removals {
		_ = n.Store.Remove(name)
	}

	_ = conn.WriteLine("REBALANCE_COMPLETE")
}

// pushTo sends name to the data node listening on destPort via the
// node-to-node rebalance transfer: REBALANCE_STORE name size -> ACK ->
// raw bytes. REBALANCE messages carry bare ports, not full addresses;
// every node in a deployment is reachable at "localhost:port" in this
// single-host protocol, matching how the controller itself addresses
// nodes by port alone.
func (n *Node) pushTo(destPort, name string) error {
	r, size, err := n.Store.Get(name)
	if err != nil {
		return err
	}
	defer r.Close()

	nc, err := net.Dial("tcp", "localhost:"+destPort)
	if err != nil {
		return err
	}
	defer nc.Close()
	conn := wire.NewConn(nc)

	if err := conn.WriteLine("REBALANCE_STORE", name, strconv.FormatInt(size, 10)); err != nil {
		return err
	}
	ack, err := conn.ReadLine(time.Now().Add(n.Cfg.Timeout))
	if err != nil {
		return err
	}
	if len(ack) == 0 || ack[0] != "ACK" {
		return errBadAck
	}
	_, err = io.CopyN(conn.Raw(), r, size)
	return err
}
