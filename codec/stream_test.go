// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import (
	"errors"
	"reflect"
	"testing"

	"github.com/luxfi/uidrpc/buffer"
)

func readBack(s *Stream) *Stream {
	s.Buffer().Flip()
	return NewStream(s.Buffer())
}

func TestNestedRecordLengths(t *testing.T) {
	s := NewStream(buffer.New(4))
	s.MarkRecordLength()
	s.PutInt32(1)
	s.MarkRecordLength()
	s.PutString("ab")
	if err := s.PatchRecordLength(); err != nil {
		t.Fatal(err)
	}
	s.PutBool(true)
	if err := s.PatchRecordLength(); err != nil {
		t.Fatal(err)
	}
	if err := s.PatchRecordLength(); err == nil {
		t.Fatal("unbalanced patch succeeded")
	}

	r := readBack(s)
	outer, err := r.RecordLength()
	if err != nil || outer != 4+4+6+1 {
		t.Fatalf("outer length = %d, %v", outer, err)
	}
	if v, _ := r.Int32(); v != 1 {
		t.Fatalf("int = %d", v)
	}
	innerLen, err := r.RecordLength()
	if err != nil || innerLen != 6 {
		t.Fatalf("inner length = %d, %v", innerLen, err)
	}
	if v, _ := r.ReadString(); v != "ab" {
		t.Fatalf("string = %q", v)
	}
	if v, _ := r.Bool(); !v {
		t.Fatal("bool = false")
	}
}

func TestTagRoundTrip(t *testing.T) {
	s := NewStream(buffer.New(8))
	s.PutTag(Tag{Ordinal: 65535, Type: TypePackedRecord})
	got, err := readBack(s).Tag()
	if err != nil {
		t.Fatal(err)
	}
	if got != (Tag{Ordinal: 65535, Type: TypePackedRecord}) {
		t.Fatalf("got %v", got)
	}
}

func TestStringMap(t *testing.T) {
	in := map[string]string{"a": "1", "": "empty-key", "ü": ""}
	s := NewStream(buffer.New(0))
	s.PutStringMap(in)
	out, err := readBack(s).StringMap()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("got %v, want %v", out, in)
	}
}

func TestGenericPacked(t *testing.T) {
	s := NewStream(buffer.New(0))
	PutInts(s, []int{1, -2, 3})
	PutLongs(s, []uint64{1 << 40})
	PutDoubles(s, []float32{0.25})
	PutList(s, []string{"x", "y"}, (*Stream).PutString)
	PutSet(s, map[int64]struct{}{9: {}}, (*Stream).PutInt64)
	PutList(s, []int32{4, 5}, (*Stream).PutInt32)

	r := readBack(s)
	ints, err := Ints[int](r)
	if err != nil || !reflect.DeepEqual(ints, []int{1, -2, 3}) {
		t.Fatalf("ints = %v, %v", ints, err)
	}
	longs, err := Longs[uint64](r)
	if err != nil || longs[0] != 1<<40 {
		t.Fatalf("longs = %v, %v", longs, err)
	}
	doubles, err := Doubles[float32](r)
	if err != nil || doubles[0] != 0.25 {
		t.Fatalf("doubles = %v, %v", doubles, err)
	}
	strs, err := List(r, (*Stream).ReadString)
	if err != nil || !reflect.DeepEqual(strs, []string{"x", "y"}) {
		t.Fatalf("strings = %v, %v", strs, err)
	}
	set, err := Set(r, (*Stream).Int64)
	if err != nil || !reflect.DeepEqual(set, map[int64]struct{}{9: {}}) {
		t.Fatalf("set = %v, %v", set, err)
	}
	arr := make([]int32, 3)
	if err := Array(r, arr, (*Stream).Int32); !errors.Is(err, ErrFormat) {
		t.Fatalf("array count mismatch: %v", err)
	}
}

func TestCountBoundedByRemaining(t *testing.T) {
	s := NewStream(buffer.New(8))
	s.PutCount(1 << 30)
	_, err := readBack(s).Count()
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("err = %v, want format error", err)
	}

	s = NewStream(buffer.New(8))
	s.PutInt32(-1)
	_, err = readBack(s).ReadString()
	var fe *FormatError
	if !errors.As(err, &fe) || fe.Kind != KindMalformed {
		t.Fatalf("negative length: %v", err)
	}
}

func TestSkip(t *testing.T) {
	s := NewStream(buffer.New(0))
	s.PutInt32(1)
	s.PutInt64(2)
	s.PutBool(true)
	s.PutString("skip")
	PutList(s, []string{"a", "bb"}, (*Stream).PutString)
	PutLongs(s, []int64{1, 2, 3})
	s.MarkRecordLength()
	s.PutTag(Tag{Ordinal: 1, Type: TypeInt})
	s.PutInt32(5)
	if err := s.PatchRecordLength(); err != nil {
		t.Fatal(err)
	}
	s.PutInt32(0x7eadbeef)

	r := readBack(s)
	for _, wt := range []WireType{TypeInt, TypeLong, TypeBool, TypeString, TypePackedString, TypePackedLong, TypeRecord} {
		if err := r.Skip(wt); err != nil {
			t.Fatalf("skip %s: %v", wt, err)
		}
	}
	if v, err := r.Int32(); err != nil || v != 0x7eadbeef {
		t.Fatalf("sentinel = %x, %v", v, err)
	}
	if err := r.Skip(WireType(0)); !errors.Is(err, ErrFormat) {
		t.Fatalf("skip invalid: %v", err)
	}
}

func TestWireTypeHelpers(t *testing.T) {
	if TypeRecord.AsPacked() != TypePackedRecord || TypePackedInt.Base() != TypeInt {
		t.Fatal("packed offset mismatch")
	}
	if TypeString.Packed() || !TypePackedString.Packed() {
		t.Fatal("Packed() wrong")
	}
	if WireType(15).Valid() || WireType(0).Valid() {
		t.Fatal("out-of-range type reported valid")
	}
}
