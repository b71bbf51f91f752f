/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package controller

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/riverside-labs/dstore/internal/wire"
)

// Serve accepts connections on ln until ctx is canceled. Every new
// connection's first line decides its fate: "JOIN port" hands the
// session to the node registry for the lifetime of the process; anything
// else is treated as a client session and looped through Dispatch.
func (c *Coordinator) Serve(ctx context.Context, ln net.Listener) error {
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
				glog.Warningf("accept: %v", err)
				continue
			}
		}
		go c.handleConn(ctx, wire.NewConn(nc))
	}
}

// handleConn reads the first line of a freshly-accepted connection to
// decide whether it is a data node JOIN or a client session.
func (c *Coordinator) handleConn(ctx context.Context, conn *wire.Conn) {
	tokens, err := conn.ReadLine(time.Now().Add(c.Cfg.Timeout))
	if err != nil {
		_ = conn.Close()
		return
	}
	if len(tokens) == 2 && tokens[0] == "JOIN" {
		port := tokens[1]
		if _, err := strconv.Atoi(port); err != nil {
			glog.Warningf("malformed JOIN (unparseable port %q), closing session", port)
			_ = conn.Close()
			return
		}
		c.HandleJoin(conn, port)
		return
	}

	c.runClientSession(ctx, conn, tokens)
}

// runClientSession drives one client connection: the first already-read
// line, then one Dispatch per subsequent line until the client
// disconnects.
func (c *Coordinator) runClientSession(ctx context.Context, conn *wire.Conn, first []string) {
	defer conn.Close()
	sess := c.NewSession()

	tokens := first
	for {
		if len(tokens) > 0 {
			if r := sess.Dispatch(ctx, conn, tokens); r != nil {
				if err := conn.WriteLine(r...); err != nil {
					return
				}
			}
		}
		next, err := conn.ReadLine(time.Now().Add(24 * time.Hour))
		if err != nil {
			return
		}
		tokens = next
	}
}
