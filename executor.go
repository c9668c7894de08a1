// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"errors"
	"sync"
)

// ErrRejected is returned by executors that cannot accept more work.
var ErrRejected = errors.New("uidrpc: executor rejected task")

// Executor runs request handlers and response callbacks off the
// connection read loop.
type Executor interface {
	Execute(task func()) error
}

// ExecutorFunc is a function adapter for Executor
type ExecutorFunc func(task func()) error

func (f ExecutorFunc) Execute(task func()) error { return f(task) }

// GoExecutor runs every task on its own goroutine.
var GoExecutor Executor = ExecutorFunc(func(task func()) error {
	go task()
	return nil
})

// WorkerPool runs tasks on a fixed number of goroutines with a bounded
// queue. Execute never blocks; it fails with ErrRejected when the queue is
// full or the pool is closed.
type WorkerPool struct {
	tasks  chan func()
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewWorkerPool(workers, queue int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}
	p := &WorkerPool{tasks: make(chan func(), queue)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.run()
	}
	return p
}

func (p *WorkerPool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

func (p *WorkerPool) Execute(task func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrRejected
	}
	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrRejected
	}
}

// Close rejects new tasks and returns once every queued task has run.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()
	p.wg.Wait()
}
