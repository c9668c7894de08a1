// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package codec

import "fmt"

// Magic prefixes every encoded root record.
const Magic int32 = 0x55494430 // "UID0"

// WireType identifies the encoding of a field value. Packed types are the
// base type offset by packedOffset and carry a count-prefixed sequence.
type WireType uint16

const (
	TypeInt WireType = iota + 1
	TypeLong
	TypeFloat
	TypeDouble
	TypeBool
	TypeString
	TypeRecord

	TypePackedInt
	TypePackedLong
	TypePackedFloat
	TypePackedDouble
	TypePackedBool
	TypePackedString
	TypePackedRecord
)

const packedOffset = 7

var wireTypeNames = [...]string{
	TypeInt:          "int",
	TypeLong:         "long",
	TypeFloat:        "float",
	TypeDouble:       "double",
	TypeBool:         "bool",
	TypeString:       "string",
	TypeRecord:       "record",
	TypePackedInt:    "packed-int",
	TypePackedLong:   "packed-long",
	TypePackedFloat:  "packed-float",
	TypePackedDouble: "packed-double",
	TypePackedBool:   "packed-bool",
	TypePackedString: "packed-string",
	TypePackedRecord: "packed-record",
}

func (t WireType) Valid() bool  { return t >= TypeInt && t <= TypePackedRecord }
func (t WireType) Packed() bool { return t > TypeRecord && t <= TypePackedRecord }

// Base returns the element type of a packed type, or t itself.
func (t WireType) Base() WireType {
	if t.Packed() {
		return t - packedOffset
	}
	return t
}

// AsPacked returns the packed form of a scalar type.
func (t WireType) AsPacked() WireType {
	if t.Packed() {
		return t
	}
	return t + packedOffset
}

func (t WireType) String() string {
	if t.Valid() {
		return wireTypeNames[t]
	}
	return fmt.Sprintf("wiretype(%d)", uint16(t))
}

// fixedSize is the encoded size of a scalar, or -1 for length-prefixed types.
func (t WireType) fixedSize() int {
	switch t {
	case TypeInt, TypeFloat:
		return 4
	case TypeLong, TypeDouble:
		return 8
	case TypeBool:
		return 1
	default:
		return -1
	}
}

// Tag precedes every encoded field.
type Tag struct {
	Ordinal uint16
	Type    WireType
}

var rootTag = Tag{Ordinal: 0, Type: TypeRecord}

func (t Tag) String() string { return fmt.Sprintf("(%d, %s)", t.Ordinal, t.Type) }

// CollectionKind is the container shape of a packed field. It is resolved
// from the schema, never from the wire.
type CollectionKind uint8

const (
	KindScalar CollectionKind = iota
	KindList
	KindSet
	KindArray
)

func (k CollectionKind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindSet:
		return "set"
	case KindArray:
		return "array"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}
