// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package uidrpc

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"
)

// HeaderValidator is implemented by typed headers that check their own
// fields after decoding.
type HeaderValidator interface {
	Validate() error
}

type headerField struct {
	key      string
	index    []int
	required bool
}

var headerLayouts sync.Map // reflect.Type -> []headerField

// headerLayout lists the exported scalar fields of a header struct. The
// key is taken from the `header:"name[,required]"` tag, or the field name
// with a lower-case first letter.
func headerLayout(t reflect.Type) ([]headerField, error) {
	if l, ok := headerLayouts.Load(t); ok {
		return l.([]headerField), nil
	}
	var layout []headerField
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("header")
		if tag == "-" {
			continue
		}
		if !headerKind(sf.Type) {
			return nil, fmt.Errorf("%w: %s.%s has unsupported type %s", ErrHeaderField, t.Name(), sf.Name, sf.Type)
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name == "" {
			r, size := utf8.DecodeRuneInString(sf.Name)
			name = string(unicode.ToLower(r)) + sf.Name[size:]
		}
		layout = append(layout, headerField{
			key:      name,
			index:    sf.Index,
			required: opts == "required",
		})
	}
	l, _ := headerLayouts.LoadOrStore(t, layout)
	return l.([]headerField), nil
}

func headerKind(t reflect.Type) bool {
	if t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func headerStruct(h any) (reflect.Value, error) {
	v := reflect.ValueOf(h)
	if v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: nil header", ErrHeaderField)
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("%w: header must be a struct, got %T", ErrHeaderField, h)
	}
	return v, nil
}

// headerFields renders a typed header as string fields. Nil pointer fields
// are left out.
func headerFields(h any) (map[string]string, error) {
	v, err := headerStruct(h)
	if err != nil {
		return nil, err
	}
	layout, err := headerLayout(v.Type())
	if err != nil {
		return nil, err
	}
	fields := make(map[string]string, len(layout))
	for _, f := range layout {
		fv := v.FieldByIndex(f.index)
		if fv.Kind() == reflect.Ptr {
			if fv.IsNil() {
				continue
			}
			fv = fv.Elem()
		}
		fields[f.key] = formatHeaderValue(fv)
	}
	return fields, nil
}

func formatHeaderValue(v reflect.Value) string {
	switch v.Kind() {
	case reflect.String:
		return v.String()
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'g', -1, 32)
	default:
		return strconv.FormatFloat(v.Float(), 'g', -1, 64)
	}
}

// decodeHeaderFields parses fields into dst, a non-nil pointer to a header
// struct. A required field without a value is an error.
func decodeHeaderFields(fields map[string]string, dst any) error {
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Ptr || v.IsNil() {
		return fmt.Errorf("%w: decode target must be a non-nil pointer, got %T", ErrHeaderField, dst)
	}
	v, err := headerStruct(dst)
	if err != nil {
		return err
	}
	layout, err := headerLayout(v.Type())
	if err != nil {
		return err
	}
	for _, f := range layout {
		raw, ok := fields[f.key]
		if !ok {
			if f.required {
				return fmt.Errorf("%w: required field %q missing", ErrHeaderField, f.key)
			}
			continue
		}
		fv := v.FieldByIndex(f.index)
		if fv.Kind() == reflect.Ptr {
			p := reflect.New(fv.Type().Elem())
			fv.Set(p)
			fv = p.Elem()
		}
		if err := parseHeaderValue(fv, raw); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrHeaderField, f.key, err)
		}
	}
	if hv, ok := dst.(HeaderValidator); ok {
		return hv.Validate()
	}
	return nil
}

func parseHeaderValue(v reflect.Value, raw string) error {
	switch v.Kind() {
	case reflect.String:
		v.SetString(raw)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetFloat(f)
	}
	return nil
}
