// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package buffer

import "sync"

const (
	DefaultInitialCapacity = 512
	// DefaultMaxCacheable is the largest capacity a pool keeps.
	DefaultMaxCacheable = 16 << 10
)

// Pool hands out write-mode buffers and takes them back after use.
// Buffers that grew beyond the cacheable size are dropped on Put.
type Pool struct {
	pool         sync.Pool
	maxCacheable int
}

// NewPool creates a pool whose fresh buffers start at initialCapacity.
func NewPool(initialCapacity, maxCacheable int) *Pool {
	if initialCapacity <= 0 {
		initialCapacity = DefaultInitialCapacity
	}
	if maxCacheable <= 0 {
		maxCacheable = DefaultMaxCacheable
	}
	p := &Pool{maxCacheable: maxCacheable}
	p.pool.New = func() any {
		return New(initialCapacity)
	}
	return p
}

// Get returns a cleared buffer.
func (p *Pool) Get() *Buffer {
	b := p.pool.Get().(*Buffer)
	b.Clear()
	return b
}

// Put returns b to the pool. b must not be used afterwards.
func (p *Pool) Put(b *Buffer) {
	if b == nil || b.Capacity() > p.maxCacheable {
		return
	}
	p.pool.Put(b)
}
