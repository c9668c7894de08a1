// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"context"
	"fmt"
)

// NewClient creates a client on the configured transport (TCP by default).
func NewClient(opts ...Option) (Client, error) {
	o := newOptions(opts)
	t, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", o.transport)
	}
	return t.newClient(o)
}

// Listen creates a server on the configured transport (TCP by default).
func Listen(addr string, opts ...Option) (Server, error) {
	o := newOptions(opts)
	t, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", o.transport)
	}
	return t.listen(addr, o)
}

// Dial creates a client bound to addr. On TCP the connection is opened
// eagerly so that an unreachable peer fails here.
func Dial(ctx context.Context, addr string, opts ...Option) (*Caller, error) {
	o := newOptions(opts)
	t, ok := lookupTransport(o.transport)
	if !ok {
		return nil, fmt.Errorf("unknown transport: %s", o.transport)
	}
	c, err := t.newClient(o)
	if err != nil {
		return nil, err
	}
	if rc, ok := c.(*RemotingClient); ok {
		if _, err := rc.Connect(ctx, addr); err != nil {
			rc.Close()
			return nil, err
		}
	}
	return &Caller{client: c, addr: addr, codec: o.codec, timeout: o.requestTimeout, owned: true}, nil
}
