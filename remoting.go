// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/luxfi/uidrpc/buffer"
)

type handlerEntry struct {
	handler Handler
	exec    Executor
}

// endpoint is the state shared by both sides of the transport: handler
// table, response table, permits and the sweep loop.
type endpoint struct {
	opts    *options
	log     *zap.Logger
	pool    *buffer.Pool
	version int32
	accept  *semver.Constraints

	table         responseTable
	conns         sync.Map // *Conn -> struct{}
	asyncPermits  *semaphore.Weighted
	onewayPermits *semaphore.Weighted

	mu             sync.RWMutex
	handlers       map[int32]handlerEntry
	defaultHandler *handlerEntry

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func newEndpoint(o *options) (*endpoint, error) {
	version, err := ParseVersion(o.version)
	if err != nil {
		return nil, err
	}
	var accept *semver.Constraints
	if o.minPeerVersion != "" {
		if accept, err = semver.NewConstraint(o.minPeerVersion); err != nil {
			return nil, fmt.Errorf("uidrpc: peer version constraint %q: %w", o.minPeerVersion, err)
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	ep := &endpoint{
		opts:          o,
		log:           o.log,
		pool:          buffer.NewPool(buffer.DefaultInitialCapacity, buffer.DefaultMaxCacheable),
		version:       version,
		accept:        accept,
		asyncPermits:  semaphore.NewWeighted(o.permitsAsync),
		onewayPermits: semaphore.NewWeighted(o.permitsOneway),
		handlers:      make(map[int32]handlerEntry),
		ctx:           ctx,
		cancel:        cancel,
	}
	ep.wg.Add(1)
	go ep.sweepLoop()
	return ep, nil
}

func (ep *endpoint) stop() {
	ep.stopOnce.Do(func() {
		ep.cancel()
		ep.conns.Range(func(k, _ any) bool {
			k.(*Conn).Close()
			return true
		})
		ep.wg.Wait()
		for _, p := range ep.opts.owned {
			p.Close()
		}
	})
}

// RegisterHandler routes requests carrying code to h, run on exec. A nil
// exec uses the configured handler executor.
func (ep *endpoint) RegisterHandler(code int32, h Handler, exec Executor) {
	if exec == nil {
		exec = ep.opts.handlerExec
	}
	ep.mu.Lock()
	ep.handlers[code] = handlerEntry{h, exec}
	ep.mu.Unlock()
}

// RegisterDefaultHandler handles every code without its own handler.
func (ep *endpoint) RegisterDefaultHandler(h Handler, exec Executor) {
	if exec == nil {
		exec = ep.opts.handlerExec
	}
	ep.mu.Lock()
	ep.defaultHandler = &handlerEntry{h, exec}
	ep.mu.Unlock()
}

func (ep *endpoint) lookupHandler(code int32) (handlerEntry, bool) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()
	if e, ok := ep.handlers[code]; ok {
		return e, true
	}
	if ep.defaultHandler != nil {
		return *ep.defaultHandler, true
	}
	return handlerEntry{}, false
}

// Stats reports the endpoint's current load.
func (ep *endpoint) Stats() Stats {
	var st Stats
	st.Pending = ep.table.Len()
	ep.conns.Range(func(_, _ any) bool {
		st.Connections++
		return true
	})
	ep.mu.RLock()
	for code := range ep.handlers {
		st.Codes = append(st.Codes, code)
	}
	st.DefaultHandler = ep.defaultHandler != nil
	ep.mu.RUnlock()
	sort.Slice(st.Codes, func(i, j int) bool { return st.Codes[i] < st.Codes[j] })
	st.Version = DecodeVersion(ep.version).String()
	return st
}

func (ep *endpoint) processFrame(c *Conn, e *Envelope) {
	if e.IsResponse() {
		ep.processResponse(c, e)
		return
	}
	ep.dispatch(withConn(ep.ctx, c), e, func(resp *Envelope) {
		if err := c.write(resp, ep.opts.connectTimeout); err != nil {
			c.log.Warn("failed to send response",
				zap.Int32("code", e.Code), zap.Int32("opaque", e.Opaque), zap.Error(err))
		}
	})
}

func (ep *endpoint) processResponse(c *Conn, resp *Envelope) {
	p, ok := ep.table.removeFrom(resp.Opaque, c)
	if !ok {
		c.log.Warn("discarding response without pending request on this connection",
			zap.Int32("opaque", resp.Opaque), zap.Int32("code", resp.Code))
		return
	}
	ep.finish(p, resp, nil)
}

// dispatch runs the handler for req and passes its answer to reply. reply
// is not called for one-way requests.
func (ep *endpoint) dispatch(ctx context.Context, req *Envelope, reply func(*Envelope)) {
	respond := func(resp *Envelope) {
		if req.IsOneway() {
			return
		}
		resp.Opaque = req.Opaque
		resp.Flags |= FlagResponse
		if resp.Version == 0 {
			resp.Version = ep.version
		}
		reply(resp)
	}

	if ep.accept != nil && !ep.accept.Check(DecodeVersion(req.Version)) {
		respond(NewResponse(CodeVersionRejected,
			fmt.Sprintf("version %s does not satisfy %s", DecodeVersion(req.Version), ep.accept)))
		return
	}

	entry, ok := ep.lookupHandler(req.Code)
	if !ok {
		ep.log.Debug("request code not supported", zap.Int32("code", req.Code))
		respond(NewResponse(CodeRequestCodeNotSupported,
			fmt.Sprintf("request code %d not supported", req.Code)))
		return
	}

	task := func() {
		defer func() {
			if r := recover(); r != nil {
				ep.log.Error("handler panic", zap.Int32("code", req.Code), zap.Any("panic", r))
				respond(NewResponse(CodeSystemError, fmt.Sprint(r)))
			}
		}()
		resp, err := entry.handler.Handle(ctx, req)
		if err != nil {
			ep.log.Debug("handler failed", zap.Int32("code", req.Code), zap.Error(err))
			respond(NewResponse(CodeSystemError, err.Error()))
			return
		}
		if resp == nil {
			resp = NewResponse(CodeSuccess, "")
		}
		respond(resp)
	}
	if err := entry.exec.Execute(task); err != nil {
		ep.log.Warn("handler executor rejected request", zap.Int32("code", req.Code), zap.Error(err))
		respond(NewResponse(CodeSystemBusy, "too many requests and system thread pool busy"))
	}
}

// finish completes a pending call removed from the table and schedules its
// callback.
func (ep *endpoint) finish(p *pendingCall, resp *Envelope, err error) {
	p.complete(resp, err)
	if p.callback != nil {
		ep.runCallback(p.opaque, p.callback, resp, err)
	}
}

// runCallback hands cb to the callback executor, falling back to a fresh
// goroutine when the executor rejects it.
func (ep *endpoint) runCallback(opaque int32, cb ResponseCallback, resp *Envelope, err error) {
	run := func() {
		defer func() {
			if r := recover(); r != nil {
				ep.log.Error("response callback panic", zap.Int32("opaque", opaque), zap.Any("panic", r))
			}
		}()
		cb(resp, err)
	}
	if xerr := ep.opts.callbackExec.Execute(run); xerr != nil {
		go run()
	}
}

func (ep *endpoint) prepare(req *Envelope, oneway bool) {
	req.Opaque = nextOpaque()
	req.Flags &^= FlagResponse | FlagOneway
	if oneway {
		req.Flags |= FlagOneway
	}
	if req.Version == 0 {
		req.Version = ep.version
	}
}

func (ep *endpoint) acquire(ctx context.Context, sem *semaphore.Weighted, addr string, timeout time.Duration) (func(), error) {
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := sem.Acquire(actx, 1); err != nil {
		return nil, &Error{Kind: KindTooManyRequests, Addr: addr, Timeout: timeout, Err: err}
	}
	var once sync.Once
	return func() { once.Do(func() { sem.Release(1) }) }, nil
}

func (ep *endpoint) invokeSync(ctx context.Context, c *Conn, req *Envelope, timeout time.Duration) (*Envelope, error) {
	ep.prepare(req, false)
	p := newPendingCall(req.Opaque, c, timeout, nil, nil)
	ep.table.add(p)
	if err := c.write(req, timeout); err != nil {
		if q, ok := ep.table.remove(p.opaque); ok {
			q.complete(nil, err)
		}
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var err error
	select {
	case <-p.done:
		return p.resp, p.err
	case <-timer.C:
		err = &Error{Kind: KindTimeout, Addr: c.addr, Opaque: p.opaque, Timeout: timeout}
	case <-ctx.Done():
		err = ctx.Err()
	}
	if q, ok := ep.table.remove(p.opaque); ok {
		q.complete(nil, err)
		return nil, err
	}
	// completed concurrently by the read loop, sweep or close
	<-p.done
	return p.resp, p.err
}

func (ep *endpoint) invokeAsync(ctx context.Context, c *Conn, req *Envelope, timeout time.Duration, cb ResponseCallback) error {
	release, err := ep.acquire(ctx, ep.asyncPermits, c.addr, timeout)
	if err != nil {
		return err
	}
	ep.prepare(req, false)
	p := newPendingCall(req.Opaque, c, timeout, cb, release)
	ep.table.add(p)
	if err := c.write(req, timeout); err != nil {
		if q, ok := ep.table.remove(p.opaque); ok {
			q.complete(nil, err)
			return err
		}
	}
	return nil
}

func (ep *endpoint) invokeOneway(ctx context.Context, c *Conn, req *Envelope, timeout time.Duration) error {
	release, err := ep.acquire(ctx, ep.onewayPermits, c.addr, timeout)
	if err != nil {
		return err
	}
	defer release()
	ep.prepare(req, true)
	return c.write(req, timeout)
}

func (ep *endpoint) sweepLoop() {
	defer ep.wg.Done()

	delay := time.NewTimer(ep.opts.sweepDelay)
	defer delay.Stop()
	select {
	case <-delay.C:
	case <-ep.ctx.Done():
		return
	}

	ticker := time.NewTicker(ep.opts.sweepInterval)
	defer ticker.Stop()
	for {
		ep.scanResponseTable(time.Now())
		select {
		case <-ticker.C:
		case <-ep.ctx.Done():
			return
		}
	}
}

// scanResponseTable fails every pending call whose deadline has passed.
func (ep *endpoint) scanResponseTable(now time.Time) {
	for _, p := range ep.table.expired(now) {
		ep.log.Warn("removing expired pending request", zap.Int32("opaque", p.opaque),
			zap.String("remote", p.conn.addr), zap.Duration("timeout", p.timeout))
		ep.finish(p, nil, &Error{Kind: KindTimeout, Addr: p.conn.addr, Opaque: p.opaque, Timeout: p.timeout})
	}
}
