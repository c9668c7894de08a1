// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"encoding/json"

	"github.com/luxfi/uidrpc/codec"
)

// Codec encodes and decodes envelope bodies.
type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// RecordCodec encodes bodies with the tagged binary record format.
type RecordCodec struct {
	c *codec.Codec
}

func NewRecordCodec(opts ...codec.Option) RecordCodec {
	return RecordCodec{c: codec.New(opts...)}
}

func (r RecordCodec) Encode(v any) ([]byte, error)    { return r.c.Marshal(v) }
func (r RecordCodec) Decode(data []byte, v any) error { return r.c.Unmarshal(data, v) }

// JSONCodec is a JSON-based codec
type JSONCodec struct{}

func (JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// defaultCodec handles values BinaryCodec does not pass through.
var defaultCodec Codec = NewRecordCodec()

// BinaryCodec passes bytes through unchanged (for pre-encoded data)
type BinaryCodec struct{}

func (BinaryCodec) Encode(v any) ([]byte, error) {
	if b, ok := v.([]byte); ok {
		return b, nil
	}
	if b, ok := v.(*[]byte); ok {
		return *b, nil
	}
	return defaultCodec.Encode(v)
}

func (BinaryCodec) Decode(data []byte, v any) error {
	if b, ok := v.(*[]byte); ok {
		*b = data
		return nil
	}
	return defaultCodec.Decode(data, v)
}

// Binary is a codec that passes bytes through unchanged
var Binary Codec = BinaryCodec{}
