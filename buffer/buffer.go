// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package buffer provides a growable big-endian byte buffer with
// position/limit/mark cursors, and a pool for reusing small buffers.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

var (
	ErrUnderflow   = errors.New("buffer: underflow")
	ErrOutOfBounds = errors.New("buffer: index out of bounds")
	ErrInvalidMark = errors.New("buffer: invalid mark")
)

// Buffer is a resizable byte buffer. In write mode limit equals capacity and
// writes past it grow the backing array; Flip switches to read mode.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	buf  []byte
	pos  int
	lim  int
	mark int
}

// New returns a write-mode buffer with the given initial capacity.
func New(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{
		buf:  make([]byte, capacity),
		lim:  capacity,
		mark: -1,
	}
}

// Wrap returns a read-mode buffer over b. The bytes are not copied.
func Wrap(b []byte) *Buffer {
	return &Buffer{
		buf:  b,
		lim:  len(b),
		mark: -1,
	}
}

func (b *Buffer) Capacity() int  { return len(b.buf) }
func (b *Buffer) Position() int  { return b.pos }
func (b *Buffer) Limit() int     { return b.lim }
func (b *Buffer) Remaining() int { return b.lim - b.pos }

// SetPosition moves the cursor. The mark is discarded if it lies beyond p.
func (b *Buffer) SetPosition(p int) error {
	if p < 0 || p > b.lim {
		return fmt.Errorf("%w: position %d, limit %d", ErrOutOfBounds, p, b.lim)
	}
	b.pos = p
	if b.mark > p {
		b.mark = -1
	}
	return nil
}

// SetLimit sets the limit, clamping position and mark to it.
func (b *Buffer) SetLimit(l int) error {
	if l < 0 || l > len(b.buf) {
		return fmt.Errorf("%w: limit %d, capacity %d", ErrOutOfBounds, l, len(b.buf))
	}
	b.lim = l
	if b.pos > l {
		b.pos = l
	}
	if b.mark > l {
		b.mark = -1
	}
	return nil
}

// Mark records the current position.
func (b *Buffer) Mark() { b.mark = b.pos }

// Reset returns the position to the last mark.
func (b *Buffer) Reset() error {
	if b.mark < 0 {
		return ErrInvalidMark
	}
	b.pos = b.mark
	return nil
}

// Clear switches to write mode over the whole capacity.
func (b *Buffer) Clear() {
	b.pos = 0
	b.lim = len(b.buf)
	b.mark = -1
}

// Flip switches from write mode to read mode: limit becomes the current
// position and position returns to zero.
func (b *Buffer) Flip() {
	b.lim = b.pos
	b.pos = 0
	b.mark = -1
}

// Bytes returns the written region [0, position). The slice aliases the
// buffer and is only valid until the next write.
func (b *Buffer) Bytes() []byte { return b.buf[:b.pos] }

// ensure makes room for n more bytes at the current position. Growth keeps
// bytes [0, position) in place.
func (b *Buffer) ensure(n int) {
	need := b.pos + n
	if need <= b.lim {
		return
	}
	if need <= len(b.buf) {
		b.lim = len(b.buf)
		return
	}
	grown := len(b.buf)*3/2 + n
	if grown < need {
		grown = need
	}
	nb := make([]byte, grown)
	copy(nb, b.buf[:b.pos])
	b.buf = nb
	b.lim = grown
}

func (b *Buffer) next(n int) ([]byte, error) {
	if n < 0 || b.pos+n > b.lim {
		return nil, fmt.Errorf("%w: need %d bytes at %d, limit %d", ErrUnderflow, n, b.pos, b.lim)
	}
	p := b.buf[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

func (b *Buffer) at(i, n int) ([]byte, error) {
	if i < 0 || n < 0 || i+n > b.lim {
		return nil, fmt.Errorf("%w: %d bytes at %d, limit %d", ErrOutOfBounds, n, i, b.lim)
	}
	return b.buf[i : i+n], nil
}

func (b *Buffer) PutByte(v byte) {
	b.ensure(1)
	b.buf[b.pos] = v
	b.pos++
}

func (b *Buffer) PutInt16(v int16) {
	b.ensure(2)
	binary.BigEndian.PutUint16(b.buf[b.pos:], uint16(v))
	b.pos += 2
}

func (b *Buffer) PutInt32(v int32) {
	b.ensure(4)
	binary.BigEndian.PutUint32(b.buf[b.pos:], uint32(v))
	b.pos += 4
}

func (b *Buffer) PutInt64(v int64) {
	b.ensure(8)
	binary.BigEndian.PutUint64(b.buf[b.pos:], uint64(v))
	b.pos += 8
}

func (b *Buffer) PutFloat32(v float32) { b.PutInt32(int32(math.Float32bits(v))) }
func (b *Buffer) PutFloat64(v float64) { b.PutInt64(int64(math.Float64bits(v))) }

// Put appends p at the current position.
func (b *Buffer) Put(p []byte) {
	b.ensure(len(p))
	copy(b.buf[b.pos:], p)
	b.pos += len(p)
}

func (b *Buffer) Byte() (byte, error) {
	p, err := b.next(1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) Int16() (int16, error) {
	p, err := b.next(2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(p)), nil
}

func (b *Buffer) Int32() (int32, error) {
	p, err := b.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p)), nil
}

func (b *Buffer) Int64() (int64, error) {
	p, err := b.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

func (b *Buffer) Float32() (float32, error) {
	v, err := b.Int32()
	return math.Float32frombits(uint32(v)), err
}

func (b *Buffer) Float64() (float64, error) {
	v, err := b.Int64()
	return math.Float64frombits(uint64(v)), err
}

// Next returns the next n bytes and advances past them. The slice aliases
// the buffer.
func (b *Buffer) Next(n int) ([]byte, error) { return b.next(n) }

// Read copies len(dst) bytes into dst.
func (b *Buffer) Read(dst []byte) error {
	p, err := b.next(len(dst))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// Skip advances the position by n bytes.
func (b *Buffer) Skip(n int) error {
	_, err := b.next(n)
	return err
}

func (b *Buffer) ByteAt(i int) (byte, error) {
	p, err := b.at(i, 1)
	if err != nil {
		return 0, err
	}
	return p[0], nil
}

func (b *Buffer) Int16At(i int) (int16, error) {
	p, err := b.at(i, 2)
	if err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(p)), nil
}

func (b *Buffer) Int32At(i int) (int32, error) {
	p, err := b.at(i, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(p)), nil
}

func (b *Buffer) Int64At(i int) (int64, error) {
	p, err := b.at(i, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(p)), nil
}

func (b *Buffer) PutByteAt(i int, v byte) error {
	p, err := b.at(i, 1)
	if err != nil {
		return err
	}
	p[0] = v
	return nil
}

func (b *Buffer) PutInt16At(i int, v int16) error {
	p, err := b.at(i, 2)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint16(p, uint16(v))
	return nil
}

func (b *Buffer) PutInt32At(i int, v int32) error {
	p, err := b.at(i, 4)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint32(p, uint32(v))
	return nil
}

func (b *Buffer) PutInt64At(i int, v int64) error {
	p, err := b.at(i, 8)
	if err != nil {
		return err
	}
	binary.BigEndian.PutUint64(p, uint64(v))
	return nil
}
