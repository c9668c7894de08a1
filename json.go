// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/rpc/v2"
	"github.com/gorilla/rpc/v2/json2"
	"go.uber.org/zap"
)

const (
	maxRetries    = 3
	retryBaseWait = 500 * time.Millisecond

	// AdminService is the JSON-RPC service name of the admin endpoint.
	AdminService = "Admin"
)

// StatsSource is anything that can report endpoint stats.
type StatsSource interface {
	Stats() Stats
}

// Admin answers JSON-RPC admin calls for one endpoint.
type Admin struct {
	source  StatsSource
	started time.Time
	log     *zap.Logger
}

type PingArgs struct {
	Message string `json:"message"`
}

type PingReply struct {
	Message string `json:"message"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
}

type StatsArgs struct{}

// Ping echoes the message with the endpoint's protocol version.
func (a *Admin) Ping(_ *http.Request, args *PingArgs, reply *PingReply) error {
	reply.Message = args.Message
	reply.Version = a.source.Stats().Version
	reply.Uptime = time.Since(a.started).Truncate(time.Second).String()
	return nil
}

func (a *Admin) Stats(_ *http.Request, _ *StatsArgs, reply *Stats) error {
	*reply = a.source.Stats()
	a.log.Debug("admin stats", zap.Int("pending", reply.Pending), zap.Int("connections", reply.Connections))
	return nil
}

// NewAdminHandler serves the Admin service as JSON-RPC 2.0 over HTTP POST.
func NewAdminHandler(source StatsSource, log *zap.Logger) (http.Handler, error) {
	if log == nil {
		log = zap.NewNop()
	}
	s := rpc.NewServer()
	s.RegisterCodec(json2.NewCodec(), "application/json")
	admin := &Admin{source: source, started: time.Now(), log: log}
	if err := s.RegisterService(admin, AdminService); err != nil {
		return nil, fmt.Errorf("register admin service: %w", err)
	}
	return s, nil
}

// RequestOption configures a JSON-RPC request.
type RequestOption func(*requestOptions)

type requestOptions struct {
	headers     http.Header
	queryParams url.Values
	log         *zap.Logger
}

func newRequestOptions(opts []RequestOption) *requestOptions {
	o := &requestOptions{
		headers:     http.Header{},
		queryParams: url.Values{},
		log:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func WithHeader(key, value string) RequestOption {
	return func(o *requestOptions) { o.headers.Set(key, value) }
}

func WithQueryParam(key, value string) RequestOption {
	return func(o *requestOptions) { o.queryParams.Set(key, value) }
}

func WithRequestLogger(l *zap.Logger) RequestOption {
	return func(o *requestOptions) { o.log = l }
}

// newHTTPClient creates a fresh HTTP client with disabled connection reuse.
func newHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			DisableKeepAlives: true,
		},
	}
}

// CleanlyCloseBody drains and closes an HTTP response body.
func CleanlyCloseBody(body io.ReadCloser) error {
	if body == nil {
		return nil
	}
	_, _ = io.Copy(io.Discard, body)
	return body.Close()
}

// isRetryableError checks if an error is transient and worth retrying
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	if errors.Is(err, io.EOF) || strings.Contains(errStr, "EOF") {
		return true
	}
	return strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "broken pipe")
}

// SendJSONRequest issues a JSON-RPC 2.0 call, retrying transient transport
// failures with exponential backoff.
func SendJSONRequest(
	ctx context.Context,
	uri *url.URL,
	method string,
	params interface{},
	reply interface{},
	options ...RequestOption,
) error {
	ops := newRequestOptions(options)
	ops.log.Debug("sending json request", zap.String("method", method), zap.Stringer("uri", uri))

	requestBodyBytes, err := json2.EncodeClientRequest(method, params)
	if err != nil {
		return fmt.Errorf("failed to encode client params: %w", err)
	}
	uri.RawQuery = ops.queryParams.Encode()

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			waitTime := retryBaseWait * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(waitTime):
			}
		}

		// body buffer is consumed by each attempt
		request, err := http.NewRequestWithContext(
			ctx,
			http.MethodPost,
			uri.String(),
			bytes.NewBuffer(requestBodyBytes),
		)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		request.Header = ops.headers.Clone()
		request.Header.Set("Content-Type", "application/json")

		resp, err := newHTTPClient().Do(request)
		if err != nil {
			lastErr = err
			retry := isRetryableError(err)
			ops.log.Warn("json request attempt failed",
				zap.Int("attempt", attempt+1), zap.Bool("retryable", retry), zap.Error(err))
			if retry {
				continue
			}
			return fmt.Errorf("failed to issue request: %w", err)
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			CleanlyCloseBody(resp.Body)
			return fmt.Errorf("received status code: %d", resp.StatusCode)
		}

		err = json2.DecodeClientResponse(resp.Body, reply)
		CleanlyCloseBody(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to decode client response: %w", err)
		}
		return nil
	}

	return fmt.Errorf("failed to issue request after %d retries: %w", maxRetries, lastErr)
}

// AdminPing calls Admin.Ping on the admin endpoint at uri.
func AdminPing(ctx context.Context, uri *url.URL, message string, opts ...RequestOption) (*PingReply, error) {
	var reply PingReply
	if err := SendJSONRequest(ctx, uri, AdminService+".Ping", &PingArgs{Message: message}, &reply, opts...); err != nil {
		return nil, err
	}
	return &reply, nil
}

// AdminStats calls Admin.Stats on the admin endpoint at uri.
func AdminStats(ctx context.Context, uri *url.URL, opts ...RequestOption) (*Stats, error) {
	var reply Stats
	if err := SendJSONRequest(ctx, uri, AdminService+".Stats", &StatsArgs{}, &reply, opts...); err != nil {
		return nil, err
	}
	return &reply, nil
}
