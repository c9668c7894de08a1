// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// RemotingClient invokes requests over framed TCP connections, one per
// address, dialed on first use.
type RemotingClient struct {
	*endpoint

	mu     sync.Mutex
	conns  map[string]*Conn
	closed atomic.Bool
}

var _ Client = (*RemotingClient)(nil)

func newRemotingClient(o *options) (Client, error) {
	return remotingClient(o)
}

// NewRemotingClient creates a TCP client. Connections are dialed on first use.
func NewRemotingClient(opts ...Option) (*RemotingClient, error) {
	return remotingClient(newOptions(opts))
}

func remotingClient(o *options) (*RemotingClient, error) {
	ep, err := newEndpoint(o)
	if err != nil {
		return nil, err
	}
	return &RemotingClient{
		endpoint: ep,
		conns:    make(map[string]*Conn),
	}, nil
}

// Connect returns the live connection to addr, dialing it if needed.
func (c *RemotingClient) Connect(ctx context.Context, addr string) (*Conn, error) {
	if c.closed.Load() {
		return nil, &Error{Kind: KindClosed, Addr: addr}
	}
	c.mu.Lock()
	if conn, ok := c.conns[addr]; ok && !conn.IsClosed() {
		c.mu.Unlock()
		return conn, nil
	}
	c.mu.Unlock()

	dctx, cancel := context.WithTimeout(ctx, c.opts.connectTimeout)
	defer cancel()
	var d net.Dialer
	nc, err := d.DialContext(dctx, "tcp", addr)
	if err != nil {
		return nil, &Error{Kind: KindConnect, Addr: addr, Timeout: c.opts.connectTimeout, Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.conns[addr]; ok && !conn.IsClosed() {
		nc.Close()
		return conn, nil
	}
	conn := newConn(c.endpoint, nc, func(closed *Conn) {
		c.mu.Lock()
		if c.conns[addr] == closed {
			delete(c.conns, addr)
		}
		c.mu.Unlock()
	})
	c.conns[addr] = conn
	c.log.Debug("connected", zap.String("addr", addr))
	return conn, nil
}

func (c *RemotingClient) InvokeSync(ctx context.Context, addr string, req *Envelope, timeout time.Duration) (*Envelope, error) {
	start := time.Now()
	conn, err := c.Connect(ctx, addr)
	if err != nil {
		return nil, err
	}
	// connecting counts against the caller's budget
	remaining := timeout - time.Since(start)
	if remaining <= 0 {
		return nil, &Error{Kind: KindTimeout, Addr: addr, Timeout: timeout}
	}
	return conn.InvokeSync(ctx, req, remaining)
}

func (c *RemotingClient) InvokeAsync(ctx context.Context, addr string, req *Envelope, timeout time.Duration, cb ResponseCallback) error {
	conn, err := c.Connect(ctx, addr)
	if err != nil {
		return err
	}
	return conn.InvokeAsync(ctx, req, timeout, cb)
}

func (c *RemotingClient) InvokeOneway(ctx context.Context, addr string, req *Envelope, timeout time.Duration) error {
	conn, err := c.Connect(ctx, addr)
	if err != nil {
		return err
	}
	return conn.InvokeOneway(ctx, req, timeout)
}

// CloseConn closes the connection to addr, failing its pending requests.
func (c *RemotingClient) CloseConn(addr string) {
	c.mu.Lock()
	conn := c.conns[addr]
	c.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

func (c *RemotingClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.stop()
	return nil
}

// RemotingServer accepts framed TCP connections and dispatches their
// requests to registered handlers.
type RemotingServer struct {
	*endpoint

	listener net.Listener
	closed   atomic.Bool
}

var _ Server = (*RemotingServer)(nil)

func listenRemoting(addr string, o *options) (Server, error) {
	return remotingServer(addr, o)
}

// ListenRemoting binds addr. Requests are served once Serve is called.
func ListenRemoting(addr string, opts ...Option) (*RemotingServer, error) {
	return remotingServer(addr, newOptions(opts))
}

func remotingServer(addr string, o *options) (*RemotingServer, error) {
	ep, err := newEndpoint(o)
	if err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		ep.stop()
		return nil, err
	}
	return &RemotingServer{endpoint: ep, listener: l}, nil
}

// Serve accepts connections until the server is closed or ctx is done.
func (s *RemotingServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.log.Info("serving", zap.String("addr", s.Addr()))
	for {
		nc, err := s.listener.Accept()
		if err != nil {
			if s.closed.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("accept failed", zap.Error(err))
			continue
		}
		conn := newConn(s.endpoint, nc, nil)
		conn.log.Debug("accepted")
	}
}

func (s *RemotingServer) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	err := s.listener.Close()
	s.stop()
	return err
}

// Addr returns the listener address
func (s *RemotingServer) Addr() string {
	return s.listener.Addr().String()
}
