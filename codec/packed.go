// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import "reflect"

// putPacked writes the common slice, array and set shapes through the
// typed Stream helpers. It reports false when v needs the reflective path.
func putPacked(s *Stream, v reflect.Value) bool {
	if v.Kind() == reflect.Array {
		if !v.CanAddr() {
			return false
		}
		v = v.Slice(0, v.Len())
	}
	if !v.CanInterface() {
		return false
	}
	switch x := v.Interface().(type) {
	case []int32:
		PutInts(s, x)
	case []int64:
		PutLongs(s, x)
	case []uint64:
		PutLongs(s, x)
	case []float64:
		PutDoubles(s, x)
	case []string:
		PutList(s, x, (*Stream).PutString)
	case []bool:
		PutList(s, x, (*Stream).PutBool)
	case map[string]struct{}:
		PutSet(s, x, (*Stream).PutString)
	case map[int32]struct{}:
		PutSet(s, x, (*Stream).PutInt32)
	case map[int64]struct{}:
		PutSet(s, x, (*Stream).PutInt64)
	default:
		return false
	}
	return true
}

// getPacked is the decoding side of putPacked. v must be settable; ok is
// false when no helper matches its type.
func getPacked(s *Stream, v reflect.Value) (ok bool, err error) {
	if !v.CanAddr() || !v.Addr().CanInterface() {
		return false, nil
	}
	if v.Kind() == reflect.Array {
		switch dst := v.Slice(0, v.Len()).Interface().(type) {
		case []int32:
			return true, Array(s, dst, (*Stream).Int32)
		case []int64:
			return true, Array(s, dst, (*Stream).Int64)
		case []float64:
			return true, Array(s, dst, (*Stream).Float64)
		case []string:
			return true, Array(s, dst, (*Stream).ReadString)
		}
		return false, nil
	}
	switch p := v.Addr().Interface().(type) {
	case *[]int32:
		*p, err = Ints[int32](s)
	case *[]int64:
		*p, err = Longs[int64](s)
	case *[]uint64:
		*p, err = Longs[uint64](s)
	case *[]float64:
		*p, err = Doubles[float64](s)
	case *[]string:
		*p, err = List(s, (*Stream).ReadString)
	case *[]bool:
		*p, err = List(s, (*Stream).Bool)
	case *map[string]struct{}:
		*p, err = Set(s, (*Stream).ReadString)
	case *map[int32]struct{}:
		*p, err = Set(s, (*Stream).Int32)
	case *map[int64]struct{}:
		*p, err = Set(s, (*Stream).Int64)
	default:
		return false, nil
	}
	return true, err
}
