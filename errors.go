// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind categorizes a transport failure.
type Kind uint8

const (
	KindConnect Kind = iota + 1
	KindTimeout
	KindTooManyRequests
	KindSend
	KindClosed
)

func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindTimeout:
		return "timeout"
	case KindTooManyRequests:
		return "too many requests"
	case KindSend:
		return "send"
	case KindClosed:
		return "connection closed"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Error is returned by every invocation that fails inside the transport.
// Compare with errors.Is against the sentinels below.
type Error struct {
	Kind    Kind
	Addr    string
	Opaque  int32
	Timeout time.Duration
	Err     error
}

var (
	ErrConnect         = &Error{Kind: KindConnect}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrTooManyRequests = &Error{Kind: KindTooManyRequests}
	ErrSend            = &Error{Kind: KindSend}
	ErrClosed          = &Error{Kind: KindClosed}
)

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("uidrpc: ")
	b.WriteString(e.Kind.String())
	if e.Addr != "" {
		b.WriteString(" ")
		b.WriteString(e.Addr)
	}
	if e.Opaque != 0 {
		fmt.Fprintf(&b, " opaque=%d", e.Opaque)
	}
	if e.Timeout > 0 {
		fmt.Fprintf(&b, " after %s", e.Timeout)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// RemoteError is a response whose code is not CodeSuccess.
type RemoteError struct {
	Code   int32
	Remark string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("uidrpc: remote code %d: %s", e.Code, e.Remark)
}

// ErrHeaderField is wrapped by typed header decode failures.
var ErrHeaderField = errors.New("uidrpc: header field")

// ErrFrame is wrapped by envelope framing failures.
var ErrFrame = errors.New("uidrpc: invalid frame")
