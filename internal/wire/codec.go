// Package wire implements the line-oriented text framing used by every
// TCP connection in the system: one logical message per line, tokens
// separated by single spaces.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// ErrClosed is returned by ReadLine when the peer closed the connection
// or the underlying socket failed.
var ErrClosed = errors.New("wire: connection closed")

// ErrTimeout is returned by ReadLine when no full line arrived before the
// deadline.
var ErrTimeout = errors.New("wire: read timeout")

// Conn wraps a net.Conn with line framing. Reads are single-threaded by
// convention (the demultiplexer owns ReadLine); writes are serialized by
// an internal mutex so two goroutines replying on the same session never
// interleave at sub-line granularity.
type Conn struct {
	nc     net.Conn
	r      *bufio.Reader
	wmu    sync.Mutex
	closed atomic.Bool
}

// NewConn wraps an already-dialed or already-accepted net.Conn.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Raw returns the underlying net.Conn for callers writing raw bytes after
// the line protocol hands off (e.g. the LOAD_DATA/REBALANCE_STORE
// sender side). Writes never pass through the buffered reader, so
// writing directly to the raw net.Conn is always safe.
func (c *Conn) Raw() net.Conn { return c.nc }

// PayloadReader returns an io.Reader positioned exactly where the line
// reader left off, for callers about to read a raw byte payload
// immediately after a header line (STORE name size, REBALANCE_STORE
// name size). Reading from the raw net.Conn instead would silently
// drop any payload bytes ReadLine's buffered reader already pulled off
// the wire, so this must be used instead of Raw() for the read side.
func (c *Conn) PayloadReader(deadline time.Time) (io.Reader, error) {
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	return c.r, nil
}

// ReadLine reads one newline-terminated line and returns its
// space-separated tokens. It fails with ErrTimeout if no full line arrives
// before the deadline, or ErrClosed on EOF/IO error.
func (c *Conn) ReadLine(deadline time.Time) ([]string, error) {
	if err := c.nc.SetReadDeadline(deadline); err != nil {
		return nil, err
	}
	line, err := c.r.ReadString('\n')
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, ErrTimeout
		}
		c.closed.Store(true)
		return nil, ErrClosed
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return []string{}, nil
	}
	return strings.Fields(line), nil
}

// ReadLineCtx is ReadLine generalized to a context.Context so callers can
// compose it with the fan-out barriers in internal/controller and
// internal/rebalance, which are themselves built on
// golang.org/x/sync/errgroup.
func (c *Conn) ReadLineCtx(ctx context.Context, timeout time.Duration) ([]string, error) {
	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	return c.ReadLine(deadline)
}

// WriteLine writes one line, appending the tokens with single spaces and a
// trailing newline. Best-effort: failure marks the session broken and
// returns the error so the caller can evict the peer.
func (c *Conn) WriteLine(tokens ...string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if c.closed.Load() {
		return ErrClosed
	}
	if err := c.nc.SetWriteDeadline(time.Now().Add(30 * time.Second)); err != nil {
		return err
	}
	msg := strings.Join(tokens, " ") + "\n"
	if _, err := c.nc.Write([]byte(msg)); err != nil {
		c.closed.Store(true)
		return err
	}
	return nil
}

// Closed reports whether a prior read or write has observed the
// connection to be broken.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Close closes the underlying connection.
func (c *Conn) Close() error {
	c.closed.Store(true)
	return c.nc.Close()
}
