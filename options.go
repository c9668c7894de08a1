// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"time"

	"go.uber.org/zap"

	"github.com/luxfi/uidrpc/config"
)

const (
	DefaultConnectTimeout  = 3 * time.Second
	DefaultRequestTimeout  = 3 * time.Second
	DefaultSweepDelay      = 3 * time.Second
	DefaultSweepInterval   = time.Second
	DefaultPermitsOneway   = 65535
	DefaultPermitsAsync    = 65535
	DefaultMaxFrameSize    = 16 << 20
	DefaultProtocolVersion = "1.0.0"
)

// Option configures clients and servers.
type Option func(*options)

type options struct {
	transport      string
	codec          Codec
	log            *zap.Logger
	connectTimeout time.Duration
	requestTimeout time.Duration
	sweepDelay     time.Duration
	sweepInterval  time.Duration
	permitsOneway  int64
	permitsAsync   int64
	handlerExec    Executor
	callbackExec   Executor
	maxFrameSize   int
	version        string
	minPeerVersion string

	// pools created from config and closed with the endpoint
	owned []*WorkerPool
}

func newOptions(opts []Option) *options {
	o := &options{
		transport:      DefaultTransport,
		log:            zap.NewNop(),
		connectTimeout: DefaultConnectTimeout,
		requestTimeout: DefaultRequestTimeout,
		sweepDelay:     DefaultSweepDelay,
		sweepInterval:  DefaultSweepInterval,
		permitsOneway:  DefaultPermitsOneway,
		permitsAsync:   DefaultPermitsAsync,
		handlerExec:    GoExecutor,
		callbackExec:   GoExecutor,
		maxFrameSize:   DefaultMaxFrameSize,
		version:        DefaultProtocolVersion,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.codec == nil {
		o.codec = NewRecordCodec()
	}
	return o
}

// WithConfig applies a loaded configuration.
func WithConfig(cfg config.Config) Option {
	return func(o *options) {
		if cfg.Transport != "" {
			o.transport = cfg.Transport
		}
		if cfg.ConnectTimeout > 0 {
			o.connectTimeout = cfg.ConnectTimeout
		}
		if cfg.RequestTimeout > 0 {
			o.requestTimeout = cfg.RequestTimeout
		}
		if cfg.SweepDelay > 0 {
			o.sweepDelay = cfg.SweepDelay
		}
		if cfg.SweepInterval > 0 {
			o.sweepInterval = cfg.SweepInterval
		}
		if cfg.PermitsOneway > 0 {
			o.permitsOneway = int64(cfg.PermitsOneway)
		}
		if cfg.PermitsAsync > 0 {
			o.permitsAsync = int64(cfg.PermitsAsync)
		}
		if cfg.MaxFrameSize > 0 {
			o.maxFrameSize = cfg.MaxFrameSize
		}
		if cfg.ProtocolVersion != "" {
			o.version = cfg.ProtocolVersion
		}
		o.minPeerVersion = cfg.MinPeerVersion
		if cfg.WorkerThreads > 0 {
			p := NewWorkerPool(cfg.WorkerThreads, cfg.WorkerQueue)
			o.handlerExec = p
			o.owned = append(o.owned, p)
		}
		if cfg.CallbackThreads > 0 {
			p := NewWorkerPool(cfg.CallbackThreads, cfg.WorkerQueue)
			o.callbackExec = p
			o.owned = append(o.owned, p)
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithCodec sets the body codec used by Caller.
func WithCodec(c Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithTransport selects a registered transport by name.
func WithTransport(t string) Option {
	return func(o *options) { o.transport = t }
}

func WithConnectTimeout(d time.Duration) Option {
	return func(o *options) { o.connectTimeout = d }
}

// WithRequestTimeout sets the Caller timeout used when the context has no
// deadline.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *options) { o.requestTimeout = d }
}

// WithSweep sets when the pending-response sweep first runs and how often
// it repeats.
func WithSweep(delay, interval time.Duration) Option {
	return func(o *options) {
		o.sweepDelay = delay
		o.sweepInterval = interval
	}
}

// WithPermits bounds unacknowledged one-way and async sends.
func WithPermits(oneway, async int) Option {
	return func(o *options) {
		o.permitsOneway = int64(oneway)
		o.permitsAsync = int64(async)
	}
}

// WithHandlerExecutor sets the executor for handlers registered without one.
func WithHandlerExecutor(e Executor) Option {
	return func(o *options) { o.handlerExec = e }
}

// WithCallbackExecutor sets where async response callbacks run.
func WithCallbackExecutor(e Executor) Option {
	return func(o *options) { o.callbackExec = e }
}

func WithMaxFrameSize(n int) Option {
	return func(o *options) { o.maxFrameSize = n }
}

// WithProtocolVersion sets the semver stamped on outgoing requests.
func WithProtocolVersion(v string) Option {
	return func(o *options) { o.version = v }
}

// WithMinPeerVersion makes servers reject requests whose version does not
// satisfy the semver constraint.
func WithMinPeerVersion(constraint string) Option {
	return func(o *options) { o.minPeerVersion = constraint }
}
