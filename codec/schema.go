// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"errors"
	"reflect"
	"strconv"
	"strings"
	"sync"
)

// TagName is the struct tag holding a field's ordinal.
const TagName = "wire"

// Field describes one ordinal of a record type.
type Field struct {
	Name    string
	Ordinal uint16
	// Type is the wire type written in the field's tag.
	Type WireType
	Kind CollectionKind
	// Record is the struct type of a RECORD field or of the elements of a
	// packed RECORD field.
	Record reflect.Type

	index    []int
	elem     reflect.Type
	pointer  bool
	arrayLen int
	boolSet  bool
	// boxed list and array elements are pointers to scalars
	boxed bool
}

// Schema is the compiled wire description of a struct type.
type Schema struct {
	Type      reflect.Type
	Fields    []*Field
	byOrdinal map[uint16]*Field
}

// Field returns the field declared with the given ordinal.
func (s *Schema) Field(ordinal uint16) (*Field, bool) {
	f, ok := s.byOrdinal[ordinal]
	return f, ok
}

// Registry compiles schemas on first use and caches them. It is safe for
// concurrent use; each type is compiled at most once.
type Registry struct {
	mu    sync.Mutex
	cache sync.Map // reflect.Type -> *Schema
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register compiles the schemas of the given values' types ahead of use.
func (r *Registry) Register(samples ...any) error {
	for _, v := range samples {
		if _, err := r.Lookup(reflect.TypeOf(v)); err != nil {
			return err
		}
	}
	return nil
}

// Lookup returns the schema of t, which must be a struct or a pointer to one.
func (r *Registry) Lookup(t reflect.Type) (*Schema, error) {
	if t == nil {
		return nil, &SchemaError{Detail: "nil type"}
	}
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if s, ok := r.cache.Load(t); ok {
		return s.(*Schema), nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.cache.Load(t); ok {
		return s.(*Schema), nil
	}
	s, err := compileSchema(t)
	if err != nil {
		return nil, err
	}
	r.cache.Store(t, s)
	return s, nil
}

func compileSchema(t reflect.Type) (*Schema, error) {
	if t.Kind() != reflect.Struct {
		return nil, &SchemaError{Type: t, Detail: "record must be a struct"}
	}
	s := &Schema{
		Type:      t,
		byOrdinal: make(map[uint16]*Field),
	}
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag, ok := sf.Tag.Lookup(TagName)
		if !ok || tag == "-" {
			continue
		}
		if !sf.IsExported() {
			return nil, &SchemaError{Type: t, Field: sf.Name, Detail: "tagged field is unexported"}
		}
		name, _, _ := strings.Cut(tag, ",")
		ord, err := strconv.ParseUint(name, 10, 16)
		if err != nil || ord == 0 {
			return nil, &SchemaError{Type: t, Field: sf.Name, Detail: "ordinal must be in [1, 65535], got " + strconv.Quote(name)}
		}
		if prev, dup := s.byOrdinal[uint16(ord)]; dup {
			return nil, &SchemaError{Type: t, Field: sf.Name, Detail: "ordinal " + name + " already used by " + prev.Name}
		}
		f, err := compileField(sf)
		if err != nil {
			return nil, &SchemaError{Type: t, Field: sf.Name, Detail: err.Error()}
		}
		f.Ordinal = uint16(ord)
		s.Fields = append(s.Fields, f)
		s.byOrdinal[f.Ordinal] = f
	}
	return s, nil
}

func compileField(sf reflect.StructField) (*Field, error) {
	f := &Field{Name: sf.Name, index: sf.Index}
	t := sf.Type

	if base, rec, ptr, ok := scalarWireType(t); ok {
		f.Type, f.Kind, f.Record, f.pointer = base, KindScalar, rec, ptr
		return f, nil
	}

	switch t.Kind() {
	case reflect.Slice:
		f.Kind = KindList
		f.elem = t.Elem()
	case reflect.Array:
		f.Kind = KindArray
		f.elem = t.Elem()
		f.arrayLen = t.Len()
	case reflect.Map:
		v := t.Elem()
		switch {
		case v.Kind() == reflect.Struct && v.NumField() == 0:
		case v.Kind() == reflect.Bool:
			f.boolSet = true
		default:
			return nil, errors.New("maps are only supported as sets (map[K]struct{} or map[K]bool), got " + t.String())
		}
		f.Kind = KindSet
		f.elem = t.Key()
	default:
		return nil, errors.New("unsupported Go type " + t.String())
	}

	base, rec, ptr, ok := scalarWireType(f.elem)
	if !ok && f.Kind != KindSet && f.elem.Kind() == reflect.Ptr {
		if b, r, _, scalar := scalarWireType(f.elem.Elem()); scalar && r == nil {
			base, ok, f.boxed = b, true, true
		}
	}
	if !ok {
		return nil, errors.New("unsupported element type " + f.elem.String())
	}
	f.Type, f.Record, f.pointer = base.AsPacked(), rec, ptr
	return f, nil
}

// scalarWireType maps a Go type to its scalar wire type. rec is the struct
// type for records and ptr reports whether records are held by pointer.
func scalarWireType(t reflect.Type) (wt WireType, rec reflect.Type, ptr bool, ok bool) {
	switch t.Kind() {
	case reflect.Bool:
		return TypeBool, nil, false, true
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return TypeInt, nil, false, true
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return TypeLong, nil, false, true
	case reflect.Float32:
		return TypeFloat, nil, false, true
	case reflect.Float64:
		return TypeDouble, nil, false, true
	case reflect.String:
		return TypeString, nil, false, true
	case reflect.Struct:
		return TypeRecord, t, false, true
	case reflect.Ptr:
		if t.Elem().Kind() == reflect.Struct {
			return TypeRecord, t.Elem(), true, true
		}
	}
	return 0, nil, false, false
}
