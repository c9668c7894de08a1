// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"
)

const (
	grpcCodecName = "uidrpc"
	grpcMethod    = "/uidrpc.Remoting/Invoke"
)

func init() {
	encoding.RegisterCodec(envelopeCodec{})
	registerTransport(TransportGRPC, newGRPCClient, listenGRPC)
}

// envelopeCodec carries whole frames as gRPC messages.
type envelopeCodec struct{}

func (envelopeCodec) Name() string { return grpcCodecName }

func (envelopeCodec) Marshal(v any) ([]byte, error) {
	e, ok := v.(*Envelope)
	if !ok {
		return nil, fmt.Errorf("uidrpc: grpc codec cannot marshal %T", v)
	}
	return e.Encode()
}

func (envelopeCodec) Unmarshal(data []byte, v any) error {
	e, ok := v.(*Envelope)
	if !ok {
		return fmt.Errorf("uidrpc: grpc codec cannot unmarshal into %T", v)
	}
	d, err := DecodeEnvelope(data)
	if err != nil {
		return err
	}
	d.Body = bytes.Clone(d.Body)
	*e = *d
	return nil
}

// GRPCClient tunnels envelopes through unary gRPC calls. gRPC correlates
// requests itself, so no response table is kept.
type GRPCClient struct {
	*endpoint

	mu       sync.Mutex
	conns    map[string]*grpc.ClientConn
	inflight atomic.Int64
	closed   atomic.Bool
}

var _ Client = (*GRPCClient)(nil)

func newGRPCClient(o *options) (Client, error) {
	ep, err := newEndpoint(o)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{endpoint: ep, conns: make(map[string]*grpc.ClientConn)}, nil
}

func (c *GRPCClient) conn(addr string) (*grpc.ClientConn, error) {
	if c.closed.Load() {
		return nil, &Error{Kind: KindClosed, Addr: addr}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if cc, ok := c.conns[addr]; ok {
		return cc, nil
	}
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(grpcCodecName),
			grpc.MaxCallRecvMsgSize(c.opts.maxFrameSize),
			grpc.MaxCallSendMsgSize(c.opts.maxFrameSize),
		),
	)
	if err != nil {
		return nil, &Error{Kind: KindConnect, Addr: addr, Err: err}
	}
	c.conns[addr] = cc
	return cc, nil
}

func (c *GRPCClient) invoke(ctx context.Context, addr string, req *Envelope, timeout time.Duration) (*Envelope, error) {
	cc, err := c.conn(addr)
	if err != nil {
		return nil, err
	}
	c.inflight.Add(1)
	defer c.inflight.Add(-1)

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	resp := new(Envelope)
	if err := cc.Invoke(cctx, grpcMethod, req, resp); err != nil {
		return nil, grpcError(ctx, err, addr, req.Opaque, timeout)
	}
	return resp, nil
}

func grpcError(ctx context.Context, err error, addr string, opaque int32, timeout time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	switch status.Code(err) {
	case codes.DeadlineExceeded:
		return &Error{Kind: KindTimeout, Addr: addr, Opaque: opaque, Timeout: timeout, Err: err}
	case codes.Unavailable:
		return &Error{Kind: KindConnect, Addr: addr, Opaque: opaque, Err: err}
	default:
		return &Error{Kind: KindSend, Addr: addr, Opaque: opaque, Err: err}
	}
}

func (c *GRPCClient) InvokeSync(ctx context.Context, addr string, req *Envelope, timeout time.Duration) (*Envelope, error) {
	c.prepare(req, false)
	return c.invoke(ctx, addr, req, timeout)
}

func (c *GRPCClient) InvokeAsync(ctx context.Context, addr string, req *Envelope, timeout time.Duration, cb ResponseCallback) error {
	release, err := c.acquire(ctx, c.asyncPermits, addr, timeout)
	if err != nil {
		return err
	}
	c.prepare(req, false)
	ctx = context.WithoutCancel(ctx)
	go func() {
		defer release()
		resp, err := c.invoke(ctx, addr, req, timeout)
		c.runCallback(req.Opaque, cb, resp, err)
	}()
	return nil
}

// InvokeOneway returns once the server has accepted the request for
// dispatch; the handler's outcome is not reported.
func (c *GRPCClient) InvokeOneway(ctx context.Context, addr string, req *Envelope, timeout time.Duration) error {
	release, err := c.acquire(ctx, c.onewayPermits, addr, timeout)
	if err != nil {
		return err
	}
	defer release()
	c.prepare(req, true)
	_, err = c.invoke(ctx, addr, req, timeout)
	return err
}

func (c *GRPCClient) Stats() Stats {
	st := c.endpoint.Stats()
	st.Pending = int(c.inflight.Load())
	c.mu.Lock()
	st.Connections = len(c.conns)
	c.mu.Unlock()
	return st
}

func (c *GRPCClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.mu.Lock()
	var errs []error
	for addr, cc := range c.conns {
		errs = append(errs, cc.Close())
		delete(c.conns, addr)
	}
	c.mu.Unlock()
	c.stop()
	return errors.Join(errs...)
}

// GRPCServer serves envelopes arriving as unary gRPC calls.
type GRPCServer struct {
	*endpoint

	listener net.Listener
	server   *grpc.Server
	inflight atomic.Int64
	closed   atomic.Bool
}

var _ Server = (*GRPCServer)(nil)

func listenGRPC(addr string, o *options) (Server, error) {
	ep, err := newEndpoint(o)
	if err != nil {
		return nil, err
	}
	l, err := net.Listen("tcp", addr)
	if err != nil {
		ep.stop()
		return nil, err
	}
	s := &GRPCServer{endpoint: ep, listener: l}
	s.server = grpc.NewServer(
		grpc.UnknownServiceHandler(s.handleStream),
		grpc.MaxRecvMsgSize(o.maxFrameSize),
		grpc.MaxSendMsgSize(o.maxFrameSize),
	)
	return s, nil
}

func (s *GRPCServer) handleStream(_ any, stream grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(stream)
	if method != grpcMethod {
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	req := new(Envelope)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	s.inflight.Add(1)
	defer s.inflight.Add(-1)

	if req.IsOneway() {
		s.dispatch(s.ctx, req, func(*Envelope) {})
		ack := NewResponse(CodeSuccess, "")
		ack.Opaque = req.Opaque
		ack.Version = s.version
		return stream.SendMsg(ack)
	}

	ctx := stream.Context()
	done := make(chan *Envelope, 1)
	s.dispatch(ctx, req, func(resp *Envelope) { done <- resp })
	select {
	case resp := <-done:
		return stream.SendMsg(resp)
	case <-ctx.Done():
		s.log.Debug("grpc caller went away", zap.Int32("opaque", req.Opaque), zap.Error(ctx.Err()))
		return status.FromContextError(ctx.Err()).Err()
	}
}

// Serve accepts gRPC connections until the server is closed or ctx is done.
func (s *GRPCServer) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	s.log.Info("serving grpc", zap.String("addr", s.Addr()))
	err := s.server.Serve(s.listener)
	if s.closed.Load() || errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

func (s *GRPCServer) Stats() Stats {
	st := s.endpoint.Stats()
	st.Pending = int(s.inflight.Load())
	return st
}

func (s *GRPCServer) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	s.server.Stop()
	_ = s.listener.Close()
	s.stop()
	return nil
}

func (s *GRPCServer) Addr() string {
	return s.listener.Addr().String()
}
