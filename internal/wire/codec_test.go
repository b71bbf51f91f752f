/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package wire_test

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/riverside-labs/dstore/internal/testutil"
	"github.com/riverside-labs/dstore/internal/wire"
)

func TestWriteLineThenReadLineRoundTrips(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := wire.NewConn(server)
	cc := wire.NewConn(client)

	done := make(chan error, 1)
	go func() { done <- cc.WriteLine("STORE", "a.txt", "10") }()

	tokens, err := sc.ReadLine(time.Now().Add(time.Second))
	testutil.CheckFatal(t, err)
	testutil.CheckFatal(t, <-done)
	testutil.Fatalf(t, len(tokens) == 3 && tokens[0] == "STORE" && tokens[2] == "10",
		"unexpected tokens %v", tokens)
}

func TestReadLineTimesOut(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := wire.NewConn(server)
	_, err := sc.ReadLine(time.Now().Add(10 * time.Millisecond))
	testutil.Errorf(t, err == wire.ErrTimeout, "expected ErrTimeout, got %v", err)
}

func TestReadLineReturnsClosedOnEOF(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()

	sc := wire.NewConn(server)
	client.Close()

	_, err := sc.ReadLine(time.Now().Add(time.Second))
	testutil.Errorf(t, err == wire.ErrClosed, "expected ErrClosed, got %v", err)
	testutil.Errorf(t, sc.Closed(), "connection should report Closed() after EOF")
}

func TestPayloadReaderSeesBytesAfterHeaderLine(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	sc := wire.NewConn(server)
	cc := wire.NewConn(client)

	go func() {
		_ = cc.WriteLine("STORE", "a.txt", "5")
		_, _ = cc.Raw().Write([]byte("hello"))
	}()

	tokens, err := sc.ReadLine(time.Now().Add(time.Second))
	testutil.CheckFatal(t, err)
	testutil.Fatalf(t, len(tokens) == 3, "unexpected header %v", tokens)

	pr, err := sc.PayloadReader(time.Now().Add(time.Second))
	testutil.CheckFatal(t, err)

	buf := make([]byte, 5)
	_, err = io.ReadFull(pr, buf)
	testutil.CheckFatal(t, err)
	testutil.Errorf(t, string(buf) == "hello", "expected %q, got %q", "hello", buf)
}
