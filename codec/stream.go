// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"

	"github.com/luxfi/uidrpc/buffer"
)

var errNoMark = errors.New("codec: record length patched without a mark")

// Stream layers typed, big-endian reads and writes over a Buffer.
// Strings are a 4-byte byte length followed by UTF-8 bytes; packed values
// are a 4-byte count followed by the elements.
type Stream struct {
	buf   *buffer.Buffer
	marks []int
}

func NewStream(b *buffer.Buffer) *Stream {
	return &Stream{buf: b}
}

func (s *Stream) Buffer() *buffer.Buffer { return s.buf }

func (s *Stream) formatError(kind FormatKind, err error, format string, args ...any) *FormatError {
	return &FormatError{
		Kind:   kind,
		Offset: s.buf.Position(),
		Detail: fmt.Sprintf(format, args...),
		Err:    err,
	}
}

func (s *Stream) truncated(err error) error {
	if err == nil {
		return nil
	}
	return &FormatError{Kind: KindTruncated, Offset: s.buf.Position(), Err: err}
}

func (s *Stream) PutTag(t Tag) {
	s.buf.PutInt16(int16(t.Ordinal))
	s.buf.PutInt16(int16(t.Type))
}

func (s *Stream) Tag() (Tag, error) {
	o, err := s.buf.Int16()
	if err != nil {
		return Tag{}, s.truncated(err)
	}
	t, err := s.buf.Int16()
	if err != nil {
		return Tag{}, s.truncated(err)
	}
	return Tag{Ordinal: uint16(o), Type: WireType(uint16(t))}, nil
}

func (s *Stream) PutInt32(v int32)     { s.buf.PutInt32(v) }
func (s *Stream) PutInt64(v int64)     { s.buf.PutInt64(v) }
func (s *Stream) PutFloat32(v float32) { s.buf.PutFloat32(v) }
func (s *Stream) PutFloat64(v float64) { s.buf.PutFloat64(v) }

func (s *Stream) PutBool(v bool) {
	if v {
		s.buf.PutByte(1)
		return
	}
	s.buf.PutByte(0)
}

func (s *Stream) PutString(v string) {
	s.buf.PutInt32(int32(len(v)))
	s.buf.Put([]byte(v))
}

func (s *Stream) Int32() (int32, error) {
	v, err := s.buf.Int32()
	return v, s.truncated(err)
}

func (s *Stream) Int64() (int64, error) {
	v, err := s.buf.Int64()
	return v, s.truncated(err)
}

func (s *Stream) Float32() (float32, error) {
	v, err := s.buf.Float32()
	return v, s.truncated(err)
}

func (s *Stream) Float64() (float64, error) {
	v, err := s.buf.Float64()
	return v, s.truncated(err)
}

func (s *Stream) Bool() (bool, error) {
	v, err := s.buf.Byte()
	return v != 0, s.truncated(err)
}

func (s *Stream) ReadString() (string, error) {
	n, err := s.length("string")
	if err != nil {
		return "", err
	}
	p, err := s.buf.Next(n)
	if err != nil {
		return "", s.truncated(err)
	}
	return string(p), nil
}

// length reads a 4-byte length and checks it against the remaining bytes.
func (s *Stream) length(what string) (int, error) {
	n, err := s.buf.Int32()
	if err != nil {
		return 0, s.truncated(err)
	}
	if n < 0 {
		return 0, s.formatError(KindMalformed, nil, "negative %s length %d", what, n)
	}
	if int(n) > s.buf.Remaining() {
		return 0, s.formatError(KindTruncated, buffer.ErrUnderflow, "%s length %d exceeds %d remaining bytes", what, n, s.buf.Remaining())
	}
	return int(n), nil
}

// PutCount writes the element count of a packed value.
func (s *Stream) PutCount(n int) { s.buf.PutInt32(int32(n)) }

// Count reads the element count of a packed value. Every element takes at
// least one byte, so a count larger than the remaining bytes is rejected.
func (s *Stream) Count() (int, error) { return s.length("count") }

// MarkRecordLength reserves a 4-byte length at the current position. Each
// mark must be closed by PatchRecordLength in LIFO order.
func (s *Stream) MarkRecordLength() {
	s.marks = append(s.marks, s.buf.Position())
	s.buf.PutInt32(0)
}

// PatchRecordLength overwrites the innermost reserved length with the
// number of bytes written since it.
func (s *Stream) PatchRecordLength() error {
	if len(s.marks) == 0 {
		return errNoMark
	}
	m := s.marks[len(s.marks)-1]
	s.marks = s.marks[:len(s.marks)-1]
	return s.buf.PutInt32At(m, int32(s.buf.Position()-m-4))
}

// RecordLength reads the length that precedes a record body.
func (s *Stream) RecordLength() (int, error) { return s.length("record") }

// Skip passes over one value of type t without interpreting it.
func (s *Stream) Skip(t WireType) error {
	if !t.Valid() {
		return s.formatError(KindUnsupportedType, nil, "unsupported field type %d", uint16(t))
	}
	if t.Packed() {
		n, err := s.Count()
		if err != nil {
			return err
		}
		base := t.Base()
		if size := base.fixedSize(); size > 0 {
			if n > s.buf.Remaining()/size {
				return s.formatError(KindTruncated, buffer.ErrUnderflow, "%d %s elements exceed remaining bytes", n, base)
			}
			return s.truncated(s.buf.Skip(n * size))
		}
		for i := 0; i < n; i++ {
			if err := s.Skip(base); err != nil {
				return err
			}
		}
		return nil
	}
	if size := t.fixedSize(); size > 0 {
		return s.truncated(s.buf.Skip(size))
	}
	// string and record are both length-prefixed
	n, err := s.length(t.String())
	if err != nil {
		return err
	}
	return s.truncated(s.buf.Skip(n))
}

// PutStringMap writes a count followed by key/value string pairs.
func (s *Stream) PutStringMap(m map[string]string) {
	s.PutCount(len(m))
	for k, v := range m {
		s.PutString(k)
		s.PutString(v)
	}
}

func (s *Stream) StringMap() (map[string]string, error) {
	n, err := s.Count()
	if err != nil {
		return nil, err
	}
	m := make(map[string]string, n)
	for i := 0; i < n; i++ {
		k, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		v, err := s.ReadString()
		if err != nil {
			return nil, err
		}
		m[k] = v
	}
	return m, nil
}

// PutList writes a packed list using put for each element.
func PutList[T any](s *Stream, vs []T, put func(*Stream, T)) {
	s.PutCount(len(vs))
	for _, v := range vs {
		put(s, v)
	}
}

// List reads a packed list. The result is never nil.
func List[T any](s *Stream, get func(*Stream) (T, error)) ([]T, error) {
	n, err := s.Count()
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := get(s)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func PutSet[T comparable](s *Stream, set map[T]struct{}, put func(*Stream, T)) {
	s.PutCount(len(set))
	for v := range set {
		put(s, v)
	}
}

func Set[T comparable](s *Stream, get func(*Stream) (T, error)) (map[T]struct{}, error) {
	n, err := s.Count()
	if err != nil {
		return nil, err
	}
	out := make(map[T]struct{}, n)
	for i := 0; i < n; i++ {
		v, err := get(s)
		if err != nil {
			return nil, err
		}
		out[v] = struct{}{}
	}
	return out, nil
}

// Array reads a packed value whose count must equal len(dst).
func Array[T any](s *Stream, dst []T, get func(*Stream) (T, error)) error {
	n, err := s.Count()
	if err != nil {
		return err
	}
	if n != len(dst) {
		return s.formatError(KindMalformed, nil, "array of %d elements, want %d", n, len(dst))
	}
	for i := range dst {
		if dst[i], err = get(s); err != nil {
			return err
		}
	}
	return nil
}

// PutInts writes any integer slice as a packed INT list.
func PutInts[T constraints.Integer](s *Stream, vs []T) {
	s.PutCount(len(vs))
	for _, v := range vs {
		s.buf.PutInt32(int32(v))
	}
}

func Ints[T constraints.Integer](s *Stream) ([]T, error) {
	return List(s, func(s *Stream) (T, error) {
		v, err := s.Int32()
		return T(v), err
	})
}

// PutLongs writes any integer slice as a packed LONG list.
func PutLongs[T constraints.Integer](s *Stream, vs []T) {
	s.PutCount(len(vs))
	for _, v := range vs {
		s.buf.PutInt64(int64(v))
	}
}

func Longs[T constraints.Integer](s *Stream) ([]T, error) {
	return List(s, func(s *Stream) (T, error) {
		v, err := s.Int64()
		return T(v), err
	})
}

// PutDoubles writes any float slice as a packed DOUBLE list.
func PutDoubles[T constraints.Float](s *Stream, vs []T) {
	s.PutCount(len(vs))
	for _, v := range vs {
		s.buf.PutFloat64(float64(v))
	}
}

func Doubles[T constraints.Float](s *Stream) ([]T, error) {
	return List(s, func(s *Stream) (T, error) {
		v, err := s.Float64()
		return T(v), err
	})
}
