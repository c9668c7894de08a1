// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package codec implements the tag-based binary object codec.
//
// An encoded record is
//
//	int32 Magic | int16 0 | int16 record | int32 length | field...
//
// where every field is its tag (int16 ordinal, int16 wire type) followed
// by the value. Nested records carry their own int32 length, written as a
// placeholder and patched once the record body is complete. Packed fields
// carry an int32 element count. Absent fields are not written; decoding
// leaves them at their zero value, and list and set fields are never nil
// after a successful decode.
//
// Record types are plain structs whose encoded fields carry a `wire` tag:
//
//	type Range struct {
//		Start int64    `wire:"1"`
//		End   int64    `wire:"2"`
//		Owner *Server  `wire:"3"`
//		Tags  []string `wire:"4"`
//	}
package codec

import (
	"reflect"

	"github.com/luxfi/uidrpc/buffer"
)

// Codec encodes and decodes records. It is safe for concurrent use; each
// call works on its own pooled buffer.
type Codec struct {
	registry *Registry
	pool     *buffer.Pool
}

// Option configures a Codec.
type Option func(*Codec)

// WithRegistry shares a schema registry between codecs.
func WithRegistry(r *Registry) Option {
	return func(c *Codec) { c.registry = r }
}

// WithPool sets the buffer pool used for encoding.
func WithPool(p *buffer.Pool) Option {
	return func(c *Codec) { c.pool = p }
}

func New(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = NewRegistry()
	}
	if c.pool == nil {
		c.pool = buffer.NewPool(buffer.DefaultInitialCapacity, buffer.DefaultMaxCacheable)
	}
	return c
}

func (c *Codec) Registry() *Registry { return c.registry }

// Marshal encodes v, a struct or pointer to struct.
func (c *Codec) Marshal(v any) ([]byte, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return nil, &SchemaError{Type: rv.Type(), Detail: "cannot encode a nil record"}
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, &SchemaError{Type: reflect.TypeOf(v), Detail: "record must be a struct"}
	}
	schema, err := c.registry.Lookup(rv.Type())
	if err != nil {
		return nil, err
	}

	buf := c.pool.Get()
	defer c.pool.Put(buf)

	s := NewStream(buf)
	s.PutInt32(Magic)
	s.PutTag(rootTag)
	s.MarkRecordLength()
	if err := c.encodeFields(s, schema, rv); err != nil {
		return nil, err
	}
	if err := s.PatchRecordLength(); err != nil {
		return nil, err
	}

	out := make([]byte, buf.Position())
	copy(out, buf.Bytes())
	return out, nil
}

// Unmarshal decodes data into v, which must be a non-nil pointer to a
// struct. v is reset to its zero value first.
func (c *Codec) Unmarshal(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return &SchemaError{Type: reflect.TypeOf(v), Detail: "decode target must be a non-nil pointer"}
	}
	rv = rv.Elem()
	if rv.Kind() != reflect.Struct {
		return &SchemaError{Type: rv.Type(), Detail: "record must be a struct"}
	}
	schema, err := c.registry.Lookup(rv.Type())
	if err != nil {
		return err
	}

	s := NewStream(buffer.Wrap(data))
	magic, err := s.Int32()
	if err != nil {
		return err
	}
	if magic != Magic {
		return &FormatError{Kind: KindBadMagic, Offset: 0, Detail: "magic mismatch"}
	}
	tag, err := s.Tag()
	if err != nil {
		return err
	}
	if tag != rootTag {
		return &FormatError{Kind: KindBadRootTag, Offset: 4, Detail: "root tag " + tag.String() + ", want " + rootTag.String()}
	}
	n, err := s.RecordLength()
	if err != nil {
		return err
	}
	rv.Set(reflect.Zero(rv.Type()))
	return c.decodeFields(s, schema, rv, n)
}

// Decode allocates a T and decodes data into it.
func Decode[T any](c *Codec, data []byte) (*T, error) {
	v := new(T)
	if err := c.Unmarshal(data, v); err != nil {
		return nil, err
	}
	return v, nil
}

func (c *Codec) encodeFields(s *Stream, schema *Schema, rv reflect.Value) error {
	for _, f := range schema.Fields {
		fv := rv.FieldByIndex(f.index)
		if absent(fv) {
			continue
		}
		s.PutTag(Tag{Ordinal: f.Ordinal, Type: f.Type})
		var err error
		if f.Kind == KindScalar {
			err = c.encodeValue(s, f.Type, f, fv)
		} else {
			err = c.encodePacked(s, f, fv)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func absent(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Ptr:
		return v.IsNil()
	case reflect.Slice, reflect.Map:
		return v.Len() == 0
	default:
		return v.IsZero()
	}
}

func (c *Codec) encodeValue(s *Stream, base WireType, f *Field, v reflect.Value) error {
	switch base {
	case TypeInt:
		s.PutInt32(int32(intOf(v)))
	case TypeLong:
		s.PutInt64(intOf(v))
	case TypeFloat:
		s.PutFloat32(float32(v.Float()))
	case TypeDouble:
		s.PutFloat64(v.Float())
	case TypeBool:
		s.PutBool(v.Bool())
	case TypeString:
		s.PutString(v.String())
	case TypeRecord:
		return c.encodeRecord(s, f.Record, v)
	default:
		return &SchemaError{Field: f.Name, Detail: "unsupported wire type " + base.String()}
	}
	return nil
}

func (c *Codec) encodeRecord(s *Stream, rec reflect.Type, v reflect.Value) error {
	s.MarkRecordLength()
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return s.PatchRecordLength()
		}
		v = v.Elem()
	}
	schema, err := c.registry.Lookup(rec)
	if err != nil {
		return err
	}
	if err := c.encodeFields(s, schema, v); err != nil {
		return err
	}
	return s.PatchRecordLength()
}

func (c *Codec) encodePacked(s *Stream, f *Field, v reflect.Value) error {
	if putPacked(s, v) {
		return nil
	}
	base := f.Type.Base()
	switch f.Kind {
	case KindList, KindArray:
		n := v.Len()
		s.PutCount(n)
		for i := 0; i < n; i++ {
			ev := v.Index(i)
			if f.boxed {
				// nil elements travel as zero
				if ev.IsNil() {
					ev = reflect.Zero(f.elem.Elem())
				} else {
					ev = ev.Elem()
				}
			}
			if err := c.encodeValue(s, base, f, ev); err != nil {
				return err
			}
		}
	case KindSet:
		keys := v.MapKeys()
		if f.boolSet {
			members := keys[:0]
			for _, k := range keys {
				if v.MapIndex(k).Bool() {
					members = append(members, k)
				}
			}
			keys = members
		}
		s.PutCount(len(keys))
		for _, k := range keys {
			if err := c.encodeValue(s, base, f, k); err != nil {
				return err
			}
		}
	}
	return nil
}

func intOf(v reflect.Value) int64 {
	switch v.Kind() {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(v.Uint())
	default:
		return v.Int()
	}
}

func (c *Codec) decodeFields(s *Stream, schema *Schema, rv reflect.Value, length int) error {
	end := s.buf.Position() + length
	for s.buf.Position() < end {
		tag, err := s.Tag()
		if err != nil {
			return err
		}
		if !tag.Type.Valid() {
			return s.formatError(KindUnsupportedType, nil, "unsupported field type %d for ordinal %d", uint16(tag.Type), tag.Ordinal)
		}
		f, ok := schema.Field(tag.Ordinal)
		if !ok {
			if err := s.Skip(tag.Type); err != nil {
				return err
			}
			continue
		}
		if tag.Type != f.Type {
			return s.formatError(KindTypeMismatch, nil, "%s.%s is %s, wire has %s", schema.Type.Name(), f.Name, f.Type, tag.Type)
		}
		fv := rv.FieldByIndex(f.index)
		if f.Kind == KindScalar {
			err = c.decodeValue(s, f.Type, f, fv)
		} else {
			err = c.decodePacked(s, f, fv)
		}
		if err != nil {
			return err
		}
	}
	if s.buf.Position() != end {
		return s.formatError(KindMalformed, nil, "%s fields end at %d, record length ends at %d", schema.Type.Name(), s.buf.Position(), end)
	}
	return c.fillEmpty(schema, rv)
}

// fillEmpty replaces nil lists and sets with empty ones, descending into
// records held by value, including the elements of record arrays.
func (c *Codec) fillEmpty(schema *Schema, rv reflect.Value) error {
	for _, f := range schema.Fields {
		fv := rv.FieldByIndex(f.index)
		switch {
		case f.Kind == KindList && fv.IsNil():
			fv.Set(reflect.MakeSlice(fv.Type(), 0, 0))
		case f.Kind == KindSet && fv.IsNil():
			fv.Set(reflect.MakeMap(fv.Type()))
		case f.Kind == KindScalar && f.Type == TypeRecord && !f.pointer:
			nested, err := c.registry.Lookup(f.Record)
			if err != nil {
				return err
			}
			if err := c.fillEmpty(nested, fv); err != nil {
				return err
			}
		case f.Kind == KindArray && f.Type.Base() == TypeRecord && !f.pointer:
			nested, err := c.registry.Lookup(f.Record)
			if err != nil {
				return err
			}
			for i := 0; i < fv.Len(); i++ {
				if err := c.fillEmpty(nested, fv.Index(i)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c *Codec) decodeValue(s *Stream, base WireType, f *Field, v reflect.Value) error {
	switch base {
	case TypeInt:
		x, err := s.Int32()
		if err != nil {
			return err
		}
		return setInt(s, v, int64(x))
	case TypeLong:
		x, err := s.Int64()
		if err != nil {
			return err
		}
		return setInt(s, v, x)
	case TypeFloat:
		x, err := s.Float32()
		if err != nil {
			return err
		}
		v.SetFloat(float64(x))
	case TypeDouble:
		x, err := s.Float64()
		if err != nil {
			return err
		}
		v.SetFloat(x)
	case TypeBool:
		x, err := s.Bool()
		if err != nil {
			return err
		}
		v.SetBool(x)
	case TypeString:
		x, err := s.ReadString()
		if err != nil {
			return err
		}
		v.SetString(x)
	case TypeRecord:
		return c.decodeRecord(s, f, v)
	default:
		return s.formatError(KindUnsupportedType, nil, "unsupported field type %s", base)
	}
	return nil
}

func setInt(s *Stream, v reflect.Value, x int64) error {
	switch v.Kind() {
	case reflect.Uint64, reflect.Uint:
		// 64-bit unsigned values travel as the LONG bit pattern
		v.SetUint(uint64(x))
	case reflect.Uint8, reflect.Uint16, reflect.Uint32:
		if x < 0 || v.OverflowUint(uint64(x)) {
			return s.formatError(KindMalformed, nil, "value %d overflows %s", x, v.Type())
		}
		v.SetUint(uint64(x))
	default:
		if v.OverflowInt(x) {
			return s.formatError(KindMalformed, nil, "value %d overflows %s", x, v.Type())
		}
		v.SetInt(x)
	}
	return nil
}

// decodeRecord reads a length-prefixed record. A zero length is the absent
// sentinel: pointers stay nil.
func (c *Codec) decodeRecord(s *Stream, f *Field, v reflect.Value) error {
	n, err := s.RecordLength()
	if err != nil {
		return err
	}
	schema, err := c.registry.Lookup(f.Record)
	if err != nil {
		return err
	}
	if f.pointer {
		if n == 0 {
			v.Set(reflect.Zero(v.Type()))
			return nil
		}
		p := reflect.New(f.Record)
		v.Set(p)
		v = p.Elem()
	} else {
		v.Set(reflect.Zero(f.Record))
	}
	return c.decodeFields(s, schema, v, n)
}

func (c *Codec) decodePacked(s *Stream, f *Field, v reflect.Value) error {
	if ok, err := getPacked(s, v); ok {
		return err
	}
	n, err := s.Count()
	if err != nil {
		return err
	}
	base := f.Type.Base()
	switch f.Kind {
	case KindList:
		list := reflect.MakeSlice(v.Type(), n, n)
		for i := 0; i < n; i++ {
			if err := c.decodeElem(s, base, f, list.Index(i)); err != nil {
				return err
			}
		}
		v.Set(list)
	case KindArray:
		if n != f.arrayLen {
			return s.formatError(KindMalformed, nil, "%s has %d elements, array holds %d", f.Name, n, f.arrayLen)
		}
		for i := 0; i < n; i++ {
			if err := c.decodeElem(s, base, f, v.Index(i)); err != nil {
				return err
			}
		}
	case KindSet:
		set := reflect.MakeMapWithSize(v.Type(), n)
		member := reflect.New(v.Type().Elem()).Elem()
		if f.boolSet {
			member.SetBool(true)
		}
		for i := 0; i < n; i++ {
			k := reflect.New(f.elem).Elem()
			if err := c.decodeValue(s, base, f, k); err != nil {
				return err
			}
			set.SetMapIndex(k, member)
		}
		v.Set(set)
	}
	return nil
}

// decodeElem decodes one list or array element, allocating boxed ones.
func (c *Codec) decodeElem(s *Stream, base WireType, f *Field, v reflect.Value) error {
	if !f.boxed {
		return c.decodeValue(s, base, f, v)
	}
	p := reflect.New(f.elem.Elem())
	if err := c.decodeValue(s, base, f, p.Elem()); err != nil {
		return err
	}
	v.Set(p)
	return nil
}
