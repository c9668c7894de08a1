// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Conn is one framed connection. Either side may send requests on it; the
// read loop routes responses to the response table and requests to the
// registered handlers.
type Conn struct {
	ep       *endpoint
	nc       net.Conn
	addr     string
	writeMu  sync.Mutex
	closed   atomic.Bool
	readDone chan struct{}
	onClose  func(*Conn)
	log      *zap.Logger
}

func newConn(ep *endpoint, nc net.Conn, onClose func(*Conn)) *Conn {
	addr := nc.RemoteAddr().String()
	c := &Conn{
		ep:       ep,
		nc:       nc,
		addr:     addr,
		readDone: make(chan struct{}),
		onClose:  onClose,
		log:      ep.log.With(zap.String("remote", addr)),
	}
	ep.conns.Store(c, struct{}{})
	go c.readLoop()
	return c
}

// RemoteAddr returns the peer address.
func (c *Conn) RemoteAddr() string { return c.addr }

// Done is closed when the read loop has exited.
func (c *Conn) Done() <-chan struct{} { return c.readDone }

func (c *Conn) IsClosed() bool { return c.closed.Load() }

// InvokeSync sends req on this connection and waits for its response.
func (c *Conn) InvokeSync(ctx context.Context, req *Envelope, timeout time.Duration) (*Envelope, error) {
	return c.ep.invokeSync(ctx, c, req, timeout)
}

// InvokeAsync sends req and delivers the response to cb.
func (c *Conn) InvokeAsync(ctx context.Context, req *Envelope, timeout time.Duration, cb ResponseCallback) error {
	return c.ep.invokeAsync(ctx, c, req, timeout, cb)
}

// InvokeOneway sends req without waiting for any response.
func (c *Conn) InvokeOneway(ctx context.Context, req *Envelope, timeout time.Duration) error {
	return c.ep.invokeOneway(ctx, c, req, timeout)
}

func (c *Conn) write(e *Envelope, timeout time.Duration) error {
	if c.closed.Load() {
		return &Error{Kind: KindClosed, Addr: c.addr, Opaque: e.Opaque}
	}

	buf := c.ep.pool.Get()
	defer c.ep.pool.Put(buf)
	if err := e.encodeTo(buf); err != nil {
		return &Error{Kind: KindSend, Addr: c.addr, Opaque: e.Opaque, Err: err}
	}
	frame := buf.Bytes()
	if n := len(frame) - 4; n > c.ep.opts.maxFrameSize {
		return &Error{Kind: KindSend, Addr: c.addr, Opaque: e.Opaque,
			Err: fmt.Errorf("%w: %d bytes exceeds limit %d", ErrFrame, n, c.ep.opts.maxFrameSize)}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if timeout > 0 {
		if err := c.nc.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return &Error{Kind: KindSend, Addr: c.addr, Opaque: e.Opaque, Err: err}
		}
	}
	if _, err := c.nc.Write(frame); err != nil {
		c.log.Debug("write failed", zap.Int32("opaque", e.Opaque), zap.Error(err))
		go c.Close()
		return &Error{Kind: KindSend, Addr: c.addr, Opaque: e.Opaque, Err: err}
	}
	return nil
}

func (c *Conn) readLoop() {
	defer close(c.readDone)
	defer c.Close()

	header := make([]byte, 4)
	for {
		if _, err := io.ReadFull(c.nc, header); err != nil {
			if !c.closed.Load() && !errors.Is(err, io.EOF) {
				c.log.Debug("read failed", zap.Error(err))
			}
			return
		}

		n := int32(binary.BigEndian.Uint32(header))
		if n < frameHeaderSize || int(n) > c.ep.opts.maxFrameSize {
			c.log.Warn("invalid frame length, closing", zap.Int32("length", n))
			return
		}

		payload := make([]byte, n)
		if _, err := io.ReadFull(c.nc, payload); err != nil {
			c.log.Debug("short frame", zap.Error(err))
			return
		}

		env, err := decodePayload(payload)
		if err != nil {
			c.log.Warn("undecodable frame, closing", zap.Error(err))
			return
		}
		c.ep.processFrame(c, env)
	}
}

// Close closes the connection and fails every request still waiting on it.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	err := c.nc.Close()
	c.ep.conns.Delete(c)
	for _, p := range c.ep.table.drain(c) {
		c.ep.finish(p, nil, &Error{Kind: KindClosed, Addr: c.addr, Opaque: p.opaque})
	}
	if c.onClose != nil {
		c.onClose(c)
	}
	return err
}

type connKey struct{}

func withConn(ctx context.Context, c *Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// ConnFromContext returns the connection a request arrived on. Handlers use
// it to call back into the peer.
func ConnFromContext(ctx context.Context) (*Conn, bool) {
	c, ok := ctx.Value(connKey{}).(*Conn)
	return c, ok
}
