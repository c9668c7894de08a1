// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"context"
	"fmt"
	"time"
)

// Client is the transport-agnostic invocation interface.
type Client interface {
	// InvokeSync sends req to addr and blocks for its response.
	InvokeSync(ctx context.Context, addr string, req *Envelope, timeout time.Duration) (*Envelope, error)

	// InvokeAsync sends req to addr; cb receives the response or failure.
	InvokeAsync(ctx context.Context, addr string, req *Envelope, timeout time.Duration, cb ResponseCallback) error

	// InvokeOneway sends req to addr without expecting a response.
	InvokeOneway(ctx context.Context, addr string, req *Envelope, timeout time.Duration) error

	// Stats reports pending requests and open connections.
	Stats() Stats

	// Close fails all pending requests and closes every connection.
	Close() error
}

// Server is the transport-agnostic serving interface.
type Server interface {
	// RegisterHandler routes a request code to a handler and executor.
	RegisterHandler(code int32, h Handler, exec Executor)

	// RegisterDefaultHandler handles codes without a registered handler.
	RegisterDefaultHandler(h Handler, exec Executor)

	// Serve starts serving requests (blocks until context cancelled)
	Serve(ctx context.Context) error

	// Stats reports pending requests, connections and registered codes.
	Stats() Stats

	// Close stops the server
	Close() error

	// Addr returns the server's listen address
	Addr() string
}

// Handler answers one request. A nil response with a nil error is sent as
// an empty CodeSuccess response; an error becomes CodeSystemError.
type Handler interface {
	Handle(ctx context.Context, req *Envelope) (*Envelope, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, req *Envelope) (*Envelope, error)

func (f HandlerFunc) Handle(ctx context.Context, req *Envelope) (*Envelope, error) {
	return f(ctx, req)
}

// Stats is a point-in-time view of an endpoint.
type Stats struct {
	Pending        int     `json:"pending"`
	Connections    int     `json:"connections"`
	Codes          []int32 `json:"codes,omitempty"`
	DefaultHandler bool    `json:"defaultHandler"`
	Version        string  `json:"version"`
}

// Caller binds a Client to one address and a body codec.
type Caller struct {
	client  Client
	addr    string
	codec   Codec
	timeout time.Duration
	owned   bool
}

// NewCaller wraps c for calls to addr. A nil codec selects the record
// codec; timeout applies when the call context has no deadline.
func NewCaller(c Client, addr string, codec Codec, timeout time.Duration) *Caller {
	if codec == nil {
		codec = defaultCodec
	}
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Caller{client: c, addr: addr, codec: codec, timeout: timeout}
}

func (c *Caller) Client() Client { return c.client }
func (c *Caller) Addr() string   { return c.addr }

func (c *Caller) timeoutFor(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		return time.Until(dl)
	}
	return c.timeout
}

func (c *Caller) request(code int32, header, args any) (*Envelope, error) {
	req := NewRequest(code, header)
	if args != nil {
		body, err := c.codec.Encode(args)
		if err != nil {
			return nil, fmt.Errorf("encode args: %w", err)
		}
		req.Body = body
	}
	return req, nil
}

// Call sends a request with an encoded body and decodes the response body
// into reply. Non-success responses are returned as *RemoteError.
func (c *Caller) Call(ctx context.Context, code int32, header, args, reply any) error {
	req, err := c.request(code, header, args)
	if err != nil {
		return err
	}
	resp, err := c.client.InvokeSync(ctx, c.addr, req, c.timeoutFor(ctx))
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if reply != nil && len(resp.Body) > 0 {
		if err := c.codec.Decode(resp.Body, reply); err != nil {
			return fmt.Errorf("decode reply: %w", err)
		}
	}
	return nil
}

// CallRaw makes a call with raw bytes
func (c *Caller) CallRaw(ctx context.Context, code int32, header any, payload []byte) ([]byte, error) {
	req := NewRequest(code, header)
	req.Body = payload
	resp, err := c.client.InvokeSync(ctx, c.addr, req, c.timeoutFor(ctx))
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// Notify sends a one-way request (no response expected)
func (c *Caller) Notify(ctx context.Context, code int32, header, args any) error {
	req, err := c.request(code, header, args)
	if err != nil {
		return err
	}
	return c.client.InvokeOneway(ctx, c.addr, req, c.timeoutFor(ctx))
}

// Close closes the underlying client when the Caller created it.
func (c *Caller) Close() error {
	if c.owned {
		return c.client.Close()
	}
	return nil
}
