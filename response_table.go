// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"sync"
	"sync/atomic"
	"time"
)

// ResponseCallback receives the outcome of an async invocation. Exactly one
// of resp and err is non-nil.
type ResponseCallback func(resp *Envelope, err error)

// pendingCall is an outstanding request waiting for its response. Whoever
// removes it from the responseTable owns its completion.
type pendingCall struct {
	opaque   int32
	conn     *Conn
	timeout  time.Duration
	deadline time.Time
	callback ResponseCallback
	release  func()

	done chan struct{}
	resp *Envelope
	err  error
}

func newPendingCall(opaque int32, c *Conn, timeout time.Duration, cb ResponseCallback, release func()) *pendingCall {
	return &pendingCall{
		opaque:   opaque,
		conn:     c,
		timeout:  timeout,
		deadline: time.Now().Add(timeout),
		callback: cb,
		release:  release,
		done:     make(chan struct{}),
	}
}

func (p *pendingCall) complete(resp *Envelope, err error) {
	p.resp, p.err = resp, err
	close(p.done)
	if p.release != nil {
		p.release()
	}
}

// responseTable maps opaque to pendingCall.
type responseTable struct {
	calls sync.Map
	count atomic.Int64
}

func (t *responseTable) add(p *pendingCall) {
	t.calls.Store(p.opaque, p)
	t.count.Add(1)
}

// remove takes the entry for opaque out of the table. At most one caller
// observes ok for a given entry.
func (t *responseTable) remove(opaque int32) (*pendingCall, bool) {
	v, ok := t.calls.LoadAndDelete(opaque)
	if !ok {
		return nil, false
	}
	t.count.Add(-1)
	return v.(*pendingCall), true
}

// removeFrom takes the entry for opaque only if it was sent on c.
func (t *responseTable) removeFrom(opaque int32, c *Conn) (*pendingCall, bool) {
	v, ok := t.calls.Load(opaque)
	if !ok || v.(*pendingCall).conn != c {
		return nil, false
	}
	if !t.calls.CompareAndDelete(opaque, v) {
		return nil, false
	}
	t.count.Add(-1)
	return v.(*pendingCall), true
}

// expired removes and returns the entries whose deadline is before now.
func (t *responseTable) expired(now time.Time) []*pendingCall {
	return t.removeIf(func(p *pendingCall) bool {
		return p.deadline.Before(now)
	})
}

// drain removes and returns the entries sent on c.
func (t *responseTable) drain(c *Conn) []*pendingCall {
	return t.removeIf(func(p *pendingCall) bool {
		return p.conn == c
	})
}

func (t *responseTable) removeIf(match func(*pendingCall) bool) []*pendingCall {
	var out []*pendingCall
	t.calls.Range(func(k, v any) bool {
		if match(v.(*pendingCall)) {
			if p, ok := t.remove(k.(int32)); ok {
				out = append(out, p)
			}
		}
		return true
	})
	return out
}

func (t *responseTable) Len() int {
	return int(t.count.Load())
}
