// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
)

// ErrFormat matches every FormatError via errors.Is.
var ErrFormat = errors.New("codec: format error")

// FormatKind categorizes a decode failure.
type FormatKind string

const (
	KindBadMagic        FormatKind = "bad_magic"
	KindBadRootTag      FormatKind = "bad_root_tag"
	KindUnsupportedType FormatKind = "unsupported_type"
	KindTruncated       FormatKind = "truncated"
	KindTypeMismatch    FormatKind = "type_mismatch"
	KindMalformed       FormatKind = "malformed"
)

// FormatError reports bytes that are not a valid encoding. It is fatal to
// the decode call that produced it.
type FormatError struct {
	Kind   FormatKind
	Offset int
	Detail string
	Err    error
}

func (e *FormatError) Error() string {
	var b strings.Builder
	b.WriteString("codec: ")
	b.WriteString(string(e.Kind))
	b.WriteString(" at offset ")
	b.WriteString(strconv.Itoa(e.Offset))
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Err.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *FormatError) Unwrap() error { return e.Err }

func (e *FormatError) Is(target error) bool {
	if target == ErrFormat {
		return true
	}
	if t, ok := target.(*FormatError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// SchemaError reports a Go type the wire schema cannot describe.
type SchemaError struct {
	Type   reflect.Type
	Field  string
	Detail string
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("codec: schema")
	if e.Type != nil {
		b.WriteString(" for ")
		b.WriteString(e.Type.String())
	}
	if e.Field != "" {
		b.WriteString(" field ")
		b.WriteString(e.Field)
	}
	b.WriteString(": ")
	b.WriteString(e.Detail)
	return b.String()
}
