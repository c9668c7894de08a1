// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/luxfi/uidrpc/config"
)

func startServer(t testing.TB, opts ...Option) *RemotingServer {
	t.Helper()
	s, err := ListenRemoting("127.0.0.1:0", opts...)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go s.Serve(ctx)
	t.Cleanup(func() {
		cancel()
		s.Close()
	})
	return s
}

func newTestClient(t testing.TB, opts ...Option) *RemotingClient {
	t.Helper()
	c, err := NewRemotingClient(opts...)
	if err != nil {
		t.Fatalf("NewRemotingClient: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

var echo = HandlerFunc(func(ctx context.Context, req *Envelope) (*Envelope, error) {
	resp := NewResponse(CodeSuccess, "")
	resp.Body = req.Body
	return resp, nil
})

// rawPeer is a TCP listener whose connections the test drives by hand.
type rawPeer struct {
	ln    net.Listener
	conns chan net.Conn
}

func newRawPeer(t *testing.T) *rawPeer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	p := &rawPeer{ln: ln, conns: make(chan net.Conn, 4)}
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			p.conns <- c
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		close(p.conns)
		for c := range p.conns {
			c.Close()
		}
	})
	return p
}

func (p *rawPeer) addr() string { return p.ln.Addr().String() }

func readFrame(r io.Reader) (*Envelope, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	payload := make([]byte, binary.BigEndian.Uint32(hdr[:]))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return decodePayload(payload)
}

func writeResponse(w io.Writer, req *Envelope, body string) error {
	resp := NewResponse(CodeSuccess, "")
	resp.Opaque = req.Opaque
	resp.Body = []byte(body)
	frame, err := resp.Encode()
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

func requestWithBody(code int32, body string) *Envelope {
	req := NewRequest(code, nil)
	req.Body = []byte(body)
	return req
}

func TestRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t)
	server.RegisterHandler(1, echo, nil)

	caller, err := Dial(ctx, server.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer caller.Close()

	payload := []byte("hello world")
	resp, err := caller.CallRaw(ctx, 1, nil, payload)
	if err != nil {
		t.Fatalf("CallRaw: %v", err)
	}
	if string(resp) != string(payload) {
		t.Errorf("got %q, want %q", resp, payload)
	}
}

type addArgs struct {
	A int32 `wire:"1"`
	B int32 `wire:"2"`
}

type addReply struct {
	Sum int32 `wire:"1"`
}

func TestCall(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t)
	server.RegisterHandler(10, HandlerFunc(func(ctx context.Context, req *Envelope) (*Envelope, error) {
		var h testHeader
		if err := req.DecodeHeader(&h); err != nil {
			return nil, err
		}
		var args addArgs
		if err := defaultCodec.Decode(req.Body, &args); err != nil {
			return nil, err
		}
		resp := NewResponse(CodeSuccess, h.Rule)
		body, err := defaultCodec.Encode(addReply{Sum: args.A + args.B})
		resp.Body = body
		return resp, err
	}), NewWorkerPool(2, 8))

	caller, err := Dial(ctx, server.Addr())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer caller.Close()

	var reply addReply
	if err := caller.Call(ctx, 10, &testHeader{Rule: "sum"}, addArgs{A: 2, B: 3}, &reply); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if reply.Sum != 5 {
		t.Errorf("got %d, want 5", reply.Sum)
	}

	// required header field missing
	var remote *RemoteError
	err = caller.Call(ctx, 10, nil, addArgs{A: 1}, &reply)
	if !errors.As(err, &remote) || remote.Code != CodeSystemError {
		t.Fatalf("got %v, want SystemError", err)
	}
}

func TestResponseCodes(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t)
	server.RegisterHandler(20, HandlerFunc(func(context.Context, *Envelope) (*Envelope, error) {
		return nil, errors.New("boom")
	}), nil)
	server.RegisterHandler(21, echo, ExecutorFunc(func(func()) error { return ErrRejected }))
	server.RegisterHandler(22, HandlerFunc(func(context.Context, *Envelope) (*Envelope, error) {
		panic("handler exploded")
	}), nil)
	server.RegisterHandler(23, HandlerFunc(func(context.Context, *Envelope) (*Envelope, error) {
		return nil, nil
	}), nil)

	client := newTestClient(t)
	tests := []struct {
		code   int32
		want   int32
		remark string
	}{
		{20, CodeSystemError, "boom"},
		{21, CodeSystemBusy, ""},
		{22, CodeSystemError, "handler exploded"},
		{23, CodeSuccess, ""},
		{99, CodeRequestCodeNotSupported, ""},
	}
	for _, tt := range tests {
		resp, err := client.InvokeSync(ctx, server.Addr(), NewRequest(tt.code, nil), time.Second)
		if err != nil {
			t.Fatalf("code %d: %v", tt.code, err)
		}
		if resp.Code != tt.want || !resp.IsResponse() {
			t.Fatalf("code %d: got response %s, want code %d", tt.code, resp, tt.want)
		}
		if tt.remark != "" && resp.Remark != tt.remark {
			t.Fatalf("code %d: remark %q, want %q", tt.code, resp.Remark, tt.remark)
		}
	}

	server.RegisterDefaultHandler(echo, nil)
	resp, err := client.InvokeSync(ctx, server.Addr(), requestWithBody(99, "fallback"), time.Second)
	if err != nil || resp.Code != CodeSuccess || string(resp.Body) != "fallback" {
		t.Fatalf("default handler: %v %v", resp, err)
	}

	st := server.Stats()
	if len(st.Codes) != 4 || st.Codes[0] != 20 || !st.DefaultHandler || st.Connections != 1 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestVersionConstraint(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t, WithMinPeerVersion(">= 2.0.0"))
	server.RegisterHandler(1, echo, nil)

	old := newTestClient(t)
	resp, err := old.InvokeSync(ctx, server.Addr(), NewRequest(1, nil), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Code != CodeVersionRejected {
		t.Fatalf("got %s, want VersionRejected", resp)
	}

	current := newTestClient(t, WithProtocolVersion("2.1.0"))
	resp, err = current.InvokeSync(ctx, server.Addr(), NewRequest(1, nil), time.Second)
	if err != nil || resp.Code != CodeSuccess {
		t.Fatalf("got %v %v, want success", resp, err)
	}

	if _, err := NewRemotingClient(WithProtocolVersion("banana")); err == nil {
		t.Fatal("expected invalid version error")
	}
	if _, err := ListenRemoting("127.0.0.1:0", WithMinPeerVersion("~> ~>")); err == nil {
		t.Fatal("expected invalid constraint error")
	}
}

func TestOutOfOrderResponses(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer := newRawPeer(t)
	client := newTestClient(t)
	if _, err := client.Connect(ctx, peer.addr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	go func() {
		conn := <-peer.conns
		first, err := readFrame(conn)
		if err != nil {
			t.Errorf("read first: %v", err)
			return
		}
		second, err := readFrame(conn)
		if err != nil {
			t.Errorf("read second: %v", err)
			return
		}
		// answer in reverse order
		writeResponse(conn, second, string(second.Body))
		writeResponse(conn, first, string(first.Body))
	}()

	var wg sync.WaitGroup
	for _, body := range []string{"one", "two"} {
		wg.Add(1)
		go func(body string) {
			defer wg.Done()
			resp, err := client.InvokeSync(ctx, peer.addr(), requestWithBody(1, body), 2*time.Second)
			if err != nil {
				t.Errorf("%s: %v", body, err)
				return
			}
			if string(resp.Body) != body {
				t.Errorf("request %q got response %q", body, resp.Body)
			}
		}(body)
	}
	wg.Wait()
}

func TestTimeoutDiscardsLateResponse(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer := newRawPeer(t)
	client := newTestClient(t)

	timedOut := make(chan struct{})
	go func() {
		conn := <-peer.conns
		first, err := readFrame(conn)
		if err != nil {
			t.Errorf("read first: %v", err)
			return
		}
		<-timedOut
		second, err := readFrame(conn)
		if err != nil {
			t.Errorf("read second: %v", err)
			return
		}
		writeResponse(conn, first, "stale")
		writeResponse(conn, second, "fresh")
	}()

	start := time.Now()
	_, err := client.InvokeSync(ctx, peer.addr(), NewRequest(1, nil), 100*time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("got %v, want ErrTimeout", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("timeout took %s", time.Since(start))
	}
	if n := client.Stats().Pending; n != 0 {
		t.Fatalf("pending after timeout = %d", n)
	}
	close(timedOut)

	resp, err := client.InvokeSync(ctx, peer.addr(), NewRequest(1, nil), 2*time.Second)
	if err != nil {
		t.Fatalf("second call: %v", err)
	}
	if string(resp.Body) != "fresh" {
		t.Fatalf("got %q, want fresh", resp.Body)
	}
}

func TestBackpressure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer := newRawPeer(t)
	client := newTestClient(t, WithPermits(0, 1))
	if _, err := client.Connect(ctx, peer.addr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	var frames atomic.Int32
	go func() {
		conn := <-peer.conns
		for {
			if _, err := readFrame(conn); err != nil {
				return
			}
			frames.Add(1)
		}
	}()

	// the only async permit is held until this request completes
	if err := client.InvokeAsync(ctx, peer.addr(), NewRequest(1, nil), 5*time.Second, func(*Envelope, error) {}); err != nil {
		t.Fatalf("first async: %v", err)
	}
	var called atomic.Bool
	err := client.InvokeAsync(ctx, peer.addr(), NewRequest(1, nil), 50*time.Millisecond, func(*Envelope, error) {
		called.Store(true)
	})
	if !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("second async: got %v, want ErrTooManyRequests", err)
	}

	if err := client.InvokeOneway(ctx, peer.addr(), NewRequest(1, nil), 50*time.Millisecond); !errors.Is(err, ErrTooManyRequests) {
		t.Fatalf("oneway: got %v, want ErrTooManyRequests", err)
	}

	time.Sleep(100 * time.Millisecond)
	if n := frames.Load(); n != 1 {
		t.Fatalf("peer received %d frames, want 1", n)
	}
	if called.Load() {
		t.Fatal("rejected request's callback was invoked")
	}
}

func TestOneway(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan string, 1)
	server := startServer(t)
	server.RegisterHandler(11, HandlerFunc(func(ctx context.Context, req *Envelope) (*Envelope, error) {
		if !req.IsOneway() {
			t.Errorf("request not flagged one-way")
		}
		got <- string(req.Body)
		return echo(ctx, req)
	}), nil)

	caller, err := Dial(ctx, server.Addr(), WithCodec(Binary))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer caller.Close()

	if err := caller.Notify(ctx, 11, nil, []byte("fire")); err != nil {
		t.Fatalf("Notify: %v", err)
	}
	select {
	case body := <-got:
		if body != "fire" {
			t.Fatalf("got %q", body)
		}
	case <-ctx.Done():
		t.Fatal("handler not invoked")
	}
	if n := caller.Client().Stats().Pending; n != 0 {
		t.Fatalf("one-way left %d pending", n)
	}
}

func TestAsyncCallback(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t)
	server.RegisterHandler(1, echo, nil)
	pool := NewWorkerPool(1, 4)
	defer pool.Close()
	client := newTestClient(t, WithCallbackExecutor(pool))

	type result struct {
		resp *Envelope
		err  error
	}
	done := make(chan result, 1)
	err := client.InvokeAsync(ctx, server.Addr(), requestWithBody(1, "async"), time.Second, func(resp *Envelope, err error) {
		done <- result{resp, err}
	})
	if err != nil {
		t.Fatalf("InvokeAsync: %v", err)
	}
	select {
	case r := <-done:
		if r.err != nil || string(r.resp.Body) != "async" {
			t.Fatalf("callback got %v %v", r.resp, r.err)
		}
	case <-ctx.Done():
		t.Fatal("callback not invoked")
	}
}

func TestSweepExpiresAsync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer := newRawPeer(t)
	client := newTestClient(t, WithSweep(10*time.Millisecond, 10*time.Millisecond))

	done := make(chan error, 1)
	err := client.InvokeAsync(ctx, peer.addr(), NewRequest(1, nil), 50*time.Millisecond, func(resp *Envelope, err error) {
		done <- err
	})
	if err != nil {
		t.Fatalf("InvokeAsync: %v", err)
	}
	select {
	case err := <-done:
		if !errors.Is(err, ErrTimeout) {
			t.Fatalf("got %v, want ErrTimeout", err)
		}
	case <-ctx.Done():
		t.Fatal("sweep never expired the request")
	}
	if n := client.Stats().Pending; n != 0 {
		t.Fatalf("pending = %d", n)
	}
}

func TestConnectionCloseFailsPending(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer := newRawPeer(t)
	client := newTestClient(t)

	go func() {
		conn := <-peer.conns
		readFrame(conn)
		readFrame(conn)
		conn.Close()
	}()

	asyncErr := make(chan error, 1)
	if err := client.InvokeAsync(ctx, peer.addr(), NewRequest(1, nil), 10*time.Second, func(_ *Envelope, err error) {
		asyncErr <- err
	}); err != nil {
		t.Fatalf("InvokeAsync: %v", err)
	}

	start := time.Now()
	_, err := client.InvokeSync(ctx, peer.addr(), NewRequest(1, nil), 10*time.Second)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("sync: got %v, want ErrClosed", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatalf("close took %s to surface", time.Since(start))
	}
	select {
	case err := <-asyncErr:
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("async: got %v, want ErrClosed", err)
		}
	case <-ctx.Done():
		t.Fatal("async callback not invoked")
	}
}

func TestCloseRunsPendingCallbacks(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peer := newRawPeer(t)
	cfg := config.Default()
	cfg.CallbackThreads = 1
	cfg.WorkerQueue = 1000
	client, err := NewRemotingClient(WithConfig(cfg))
	if err != nil {
		t.Fatalf("NewRemotingClient: %v", err)
	}

	const calls = 50
	var fired, closed atomic.Int32
	for i := 0; i < calls; i++ {
		err := client.InvokeAsync(ctx, peer.addr(), NewRequest(1, nil), 10*time.Second, func(_ *Envelope, err error) {
			if errors.Is(err, ErrClosed) {
				closed.Add(1)
			}
			fired.Add(1)
		})
		if err != nil {
			t.Fatalf("InvokeAsync %d: %v", i, err)
		}
	}
	client.Close()

	if n := fired.Load(); n != calls {
		t.Fatalf("callbacks fired %d of %d", n, calls)
	}
	if n := closed.Load(); n != calls {
		t.Fatalf("%d of %d callbacks saw ErrClosed", n, calls)
	}
}

func TestResponseOnOtherConnectionIgnored(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	peerA, peerB := newRawPeer(t), newRawPeer(t)
	client := newTestClient(t)
	if _, err := client.Connect(ctx, peerB.addr()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	connB := <-peerB.conns
	defer connB.Close()

	sent := make(chan *Envelope, 1)
	answer := make(chan struct{})
	go func() {
		conn := <-peerA.conns
		req, err := readFrame(conn)
		if err != nil {
			t.Errorf("read: %v", err)
			return
		}
		sent <- req
		<-answer
		writeResponse(conn, req, "from a")
	}()

	type result struct {
		resp *Envelope
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := client.InvokeSync(ctx, peerA.addr(), NewRequest(1, nil), 3*time.Second)
		done <- result{resp, err}
	}()

	var req *Envelope
	select {
	case req = <-sent:
	case <-ctx.Done():
		t.Fatal("request never reached peer A")
	}
	if err := writeResponse(connB, req, "from b"); err != nil {
		t.Fatalf("write on B: %v", err)
	}
	select {
	case r := <-done:
		t.Fatalf("request completed by another connection: %v %v", r.resp, r.err)
	case <-time.After(100 * time.Millisecond):
	}

	close(answer)
	r := <-done
	if r.err != nil || string(r.resp.Body) != "from a" {
		t.Fatalf("got %v %v, want response from a", r.resp, r.err)
	}
}

func TestConnectError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	client := newTestClient(t, WithConnectTimeout(time.Second))
	_, err = client.InvokeSync(context.Background(), addr, NewRequest(1, nil), time.Second)
	if !errors.Is(err, ErrConnect) {
		t.Fatalf("got %v, want ErrConnect", err)
	}
	if _, err := Dial(context.Background(), addr); !errors.Is(err, ErrConnect) {
		t.Fatalf("Dial: got %v, want ErrConnect", err)
	}
}

func TestServerInvokesClient(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t)
	server.RegisterHandler(1, HandlerFunc(func(ctx context.Context, req *Envelope) (*Envelope, error) {
		conn, ok := ConnFromContext(ctx)
		if !ok {
			return nil, errors.New("no connection in context")
		}
		back, err := conn.InvokeSync(ctx, requestWithBody(50, string(req.Body)), time.Second)
		if err != nil {
			return nil, err
		}
		resp := NewResponse(CodeSuccess, "")
		resp.Body = back.Body
		return resp, nil
	}), nil)

	client := newTestClient(t)
	client.RegisterHandler(50, HandlerFunc(func(ctx context.Context, req *Envelope) (*Envelope, error) {
		resp := NewResponse(CodeSuccess, "")
		resp.Body = append([]byte("client:"), req.Body...)
		return resp, nil
	}), nil)

	resp, err := client.InvokeSync(ctx, server.Addr(), requestWithBody(1, "hi"), 2*time.Second)
	if err != nil {
		t.Fatalf("InvokeSync: %v", err)
	}
	if resp.Code != CodeSuccess || string(resp.Body) != "client:hi" {
		t.Fatalf("got %s %q", resp, resp.Body)
	}
}

func TestFrameSizeLimit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	server := startServer(t, WithMaxFrameSize(64))
	server.RegisterHandler(1, echo, nil)

	nc, err := net.Dial("tcp", server.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer nc.Close()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], 1000)
	if _, err := nc.Write(hdr[:]); err != nil {
		t.Fatal(err)
	}
	nc.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := nc.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("oversized frame: got %v, want EOF", err)
	}

	client := newTestClient(t, WithMaxFrameSize(64))
	_, err = client.InvokeSync(ctx, server.Addr(), requestWithBody(1, string(make([]byte, 100))), time.Second)
	if !errors.Is(err, ErrSend) || !errors.Is(err, ErrFrame) {
		t.Fatalf("oversized request: got %v, want ErrSend wrapping ErrFrame", err)
	}
	resp, err := client.InvokeSync(ctx, server.Addr(), requestWithBody(1, "small"), time.Second)
	if err != nil || string(resp.Body) != "small" {
		t.Fatalf("small request after rejection: %v %v", resp, err)
	}
}

func TestClosedClient(t *testing.T) {
	client, err := NewClient()
	if err != nil {
		t.Fatal(err)
	}
	client.Close()
	if _, err := client.InvokeSync(context.Background(), "127.0.0.1:1", NewRequest(1, nil), time.Second); !errors.Is(err, ErrClosed) {
		t.Fatalf("got %v, want ErrClosed", err)
	}
	if _, err := NewClient(WithTransport("carrier-pigeon")); err == nil {
		t.Fatal("expected unknown transport error")
	}
}

func BenchmarkRoundTripTCP(b *testing.B) {
	ctx := context.Background()
	server := startServer(b)
	server.RegisterHandler(1, echo, nil)

	caller, err := Dial(ctx, server.Addr())
	if err != nil {
		b.Fatalf("Dial: %v", err)
	}
	defer caller.Close()

	payload := make([]byte, 1024)

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := caller.CallRaw(ctx, 1, nil, payload); err != nil {
			b.Fatal(err)
		}
	}
}
