// Package dstoreclient is a thin client library for the three-party
// protocol of spec.md §6: command lines flow to the controller, but the
// file payload itself flows directly between client and data node.
/*
 * Copyright (c) 2018-2020, NVIDIA CORPORATION. All rights reserved.
 */
package dstoreclient

import (
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/riverside-labs/dstore/internal/wire"
)

// Error kinds surfaced to callers, per spec.md §7.
var (
	ErrNotEnoughReplicas = errors.New("dstoreclient: not enough data nodes")
	ErrFileAlreadyExists = errors.New("dstoreclient: file already exists")
	ErrFileDoesNotExist  = errors.New("dstoreclient: file does not exist")
	ErrLoadExhausted     = errors.New("dstoreclient: every replica already tried")
	ErrTimedOut          = errors.New("dstoreclient: operation timed out waiting for the controller")
)

// Client is one session with the controller. Not safe for concurrent
// use by multiple goroutines, matching the in-order, one-command-
// at-a-time nature of the wire protocol.
type Client struct {
	conn    *wire.Conn
	timeout time.Duration
}

// Dial opens a controller session.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	nc, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &Client{conn: wire.NewConn(nc), timeout: timeout}, nil
}

// Close closes the underlying session.
func (c *Client) Close() error { return c.conn.Close() }

func (c *Client) deadline() time.Time { return time.Now().Add(c.timeout) }

// Store uploads size bytes read from r under name: STORE to the
// controller, then a direct raw transfer to every assigned replica.
func (c *Client) Store(name string, r io.Reader, size int64) error {
	if err := c.conn.WriteLine("STORE", name, strconv.FormatInt(size, 10)); err != nil {
		return err
	}
	tokens, err := c.conn.ReadLine(c.deadline())
	if err != nil {
		return ErrTimedOut
	}
	if len(tokens) == 0 {
		return ErrTimedOut
	}
	switch tokens[0] {
	case "ERROR_FILE_ALREADY_EXISTS":
		return ErrFileAlreadyExists
	case "ERROR_NOT_ENOUGH_DSTORES":
		return ErrNotEnoughReplicas
	case "STORE_TO":
	default:
		return fmt.Errorf("dstoreclient: unexpected reply %q", tokens)
	}
	ports := tokens[1:]

	buf, err := io.ReadAll(io.LimitReader(r, size))
	if err != nil {
		return err
	}
	var g errgroup.Group
	for _, port := range ports {
		port := port
		g.Go(func() error {
			if err := pushRaw(port, name, buf, c.timeout); err != nil {
				return fmt.Errorf("dstoreclient: pushing to %s: %w", port, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	final, err := c.conn.ReadLine(c.deadline())
	if err != nil || len(final) == 0 || final[0] != "STORE_COMPLETE" {
		return ErrTimedOut
	}
	return nil
}

func pushRaw(destPort, name string, data []byte, timeout time.Duration) error {
	nc, err := net.Dial("tcp", "localhost:"+destPort)
	if err != nil {
		return err
	}
	defer nc.Close()
	conn := wire.NewConn(nc)
	if err := conn.WriteLine("STORE", name, strconv.Itoa(len(data))); err != nil {
		return err
	}
	ack, err := conn.ReadLine(time.Now().Add(timeout))
	if err != nil || len(ack) == 0 || ack[0] != "ACK" {
		return errors.New("dstoreclient: data node did not ack")
	}
	_, err = conn.Raw().Write(data)
	return err
}

// Load fetches name into w, automatically trying the next replica (via
// RELOAD) whenever a chosen node is unreachable, until every replica has
// been tried.
func (c *Client) Load(name string, w io.Writer) error {
	cmd := "LOAD"
	for {
		port, size, err := c.loadFrom(cmd, name)
		if err != nil {
			return err
		}
		cmd = "RELOAD"
		if err := fetchRaw(port, name, size, w, c.timeout); err != nil {
			continue // try the next replica via RELOAD
		}
		return nil
	}
}

func (c *Client) loadFrom(cmd, name string) (port string, size int64, err error) {
	if err := c.conn.WriteLine(cmd, name); err != nil {
		return "", 0, err
	}
	tokens, err := c.conn.ReadLine(c.deadline())
	if err != nil {
		return "", 0, ErrTimedOut
	}
	if len(tokens) == 0 {
		return "", 0, ErrTimedOut
	}
	switch tokens[0] {
	case "ERROR_FILE_DOES_NOT_EXIST":
		return "", 0, ErrFileDoesNotExist
	case "ERROR_NOT_ENOUGH_DSTORES":
		return "", 0, ErrNotEnoughReplicas
	case "ERROR_LOAD":
		return "", 0, ErrLoadExhausted
	case "LOAD_FROM":
		if len(tokens) != 3 {
			return "", 0, fmt.Errorf("dstoreclient: malformed LOAD_FROM %q", tokens)
		}
		size, err := strconv.ParseInt(tokens[2], 10, 64)
		if err != nil {
			return "", 0, err
		}
		return tokens[1], size, nil
	default:
		return "", 0, fmt.Errorf("dstoreclient: unexpected reply %q", tokens)
	}
}

func fetchRaw(port, name string, size int64, w io.Writer, timeout time.Duration) error {
	nc, err := net.Dial("tcp", "localhost:"+port)
	if err != nil {
		return err
	}
	defer nc.Close()
	conn := wire.NewConn(nc)
	if err := conn.WriteLine("LOAD_DATA", name); err != nil {
		return err
	}
	pr, err := conn.PayloadReader(time.Now().Add(timeout))
	if err != nil {
		return err
	}
	_, err = io.CopyN(w, pr, size)
	return err
}

// Remove deletes name from the store.
func (c *Client) Remove(name string) error {
	if err := c.conn.WriteLine("REMOVE", name); err != nil {
		return err
	}
	tokens, err := c.conn.ReadLine(c.deadline())
	if err != nil || len(tokens) == 0 {
		return ErrTimedOut
	}
	switch tokens[0] {
	case "REMOVE_COMPLETE":
		return nil
	case "ERROR_FILE_DOES_NOT_EXIST":
		return ErrFileDoesNotExist
	case "ERROR_NOT_ENOUGH_DSTORES":
		return ErrNotEnoughReplicas
	default:
		return fmt.Errorf("dstoreclient: unexpected reply %q", tokens)
	}
}

// List returns every visible filename.
func (c *Client) List() ([]string, error) {
	if err := c.conn.WriteLine("LIST"); err != nil {
		return nil, err
	}
	tokens, err := c.conn.ReadLine(c.deadline())
	if err != nil {
		return nil, ErrTimedOut
	}
	if len(tokens) == 0 || tokens[0] != "LIST" {
		if len(tokens) > 0 && tokens[0] == "ERROR_NOT_ENOUGH_DSTORES" {
			return nil, ErrNotEnoughReplicas
		}
		return nil, fmt.Errorf("dstoreclient: unexpected reply %q", tokens)
	}
	return tokens[1:], nil
}
