// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package marshal

import (
	"fmt"
	"reflect"
	"time"
)

// Kind is the closed set of handler kinds a field can be stored with.
type Kind uint8

const (
	// Primitive values are encoded inline: booleans, numbers, strings, byte
	// slices and time.Time.
	Primitive Kind = iota + 1
	// Array values are slices or fixed-size arrays of any other kind.
	Array
	// FirstClass values are pointers to structs. They are stored as their own
	// objects and the field holds the referenced ID.
	FirstClass
	// Embedded values are struct values stored inline in their parent.
	Embedded
	// Untyped values are interfaces. The encoding carries a tag naming the
	// dynamic type.
	Untyped
)

func (k Kind) String() string {
	switch k {
	case Primitive:
		return "primitive"
	case Array:
		return "array"
	case FirstClass:
		return "first-class"
	case Embedded:
		return "embedded"
	case Untyped:
		return "untyped"
	default:
		return fmt.Sprintf("kind(%d)", k)
	}
}

// primitive identifies the encoding of a Primitive handler. The values are
// persisted in untyped fields.
type primitive uint8

const (
	primBool primitive = iota + 1
	primInt8
	primInt16
	primInt32
	primInt64
	primInt
	primUint8
	primUint16
	primUint32
	primUint64
	primUint
	primFloat32
	primFloat64
	primString
	primBytes
	primTime
	numPrims
)

var primNames = [numPrims]string{
	primBool:    "bool",
	primInt8:    "int8",
	primInt16:   "int16",
	primInt32:   "int32",
	primInt64:   "int64",
	primInt:     "int",
	primUint8:   "uint8",
	primUint16:  "uint16",
	primUint32:  "uint32",
	primUint64:  "uint64",
	primUint:    "uint",
	primFloat32: "float32",
	primFloat64: "float64",
	primString:  "string",
	primBytes:   "bytes",
	primTime:    "time",
}

// primTypes maps each primitive to the type untyped values are decoded as.
var primTypes = [numPrims]reflect.Type{
	primBool:    reflect.TypeFor[bool](),
	primInt8:    reflect.TypeFor[int8](),
	primInt16:   reflect.TypeFor[int16](),
	primInt32:   reflect.TypeFor[int32](),
	primInt64:   reflect.TypeFor[int64](),
	primInt:     reflect.TypeFor[int](),
	primUint8:   reflect.TypeFor[uint8](),
	primUint16:  reflect.TypeFor[uint16](),
	primUint32:  reflect.TypeFor[uint32](),
	primUint64:  reflect.TypeFor[uint64](),
	primUint:    reflect.TypeFor[uint](),
	primFloat32: reflect.TypeFor[float32](),
	primFloat64: reflect.TypeFor[float64](),
	primString:  reflect.TypeFor[string](),
	primBytes:   reflect.TypeFor[[]byte](),
	primTime:    reflect.TypeFor[time.Time](),
}

var timeType = reflect.TypeFor[time.Time]()

// primitiveOf returns the primitive encoding for t, if any. Named types are
// matched by their underlying kind.
func primitiveOf(t reflect.Type) (primitive, bool) {
	if t == timeType {
		return primTime, true
	}
	switch t.Kind() {
	case reflect.Bool:
		return primBool, true
	case reflect.Int8:
		return primInt8, true
	case reflect.Int16:
		return primInt16, true
	case reflect.Int32:
		return primInt32, true
	case reflect.Int64:
		return primInt64, true
	case reflect.Int:
		return primInt, true
	case reflect.Uint8:
		return primUint8, true
	case reflect.Uint16:
		return primUint16, true
	case reflect.Uint32:
		return primUint32, true
	case reflect.Uint64:
		return primUint64, true
	case reflect.Uint:
		return primUint, true
	case reflect.Float32:
		return primFloat32, true
	case reflect.Float64:
		return primFloat64, true
	case reflect.String:
		return primString, true
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return primBytes, true
		}
	}
	return 0, false
}

// minSize returns the smallest encoding of the primitive in bytes.
func (p primitive) minSize() int {
	switch p {
	case primBool, primInt8, primUint8, primString, primBytes, primTime:
		return 1
	case primInt16, primUint16:
		return 2
	case primInt32, primUint32, primFloat32:
		return 4
	default:
		return 8
	}
}

// Handler describes how values of one Go type are stored. Exactly the
// fields relevant to Kind are set.
type Handler struct {
	Kind Kind
	Type reflect.Type

	prim primitive
	// Elem is the element handler of an Array.
	Elem *Handler
	// Len is the length of a fixed-size Array, or -1 for a slice.
	Len int
	// Layout is the struct layout of a FirstClass target or an Embedded
	// value.
	Layout *Layout
}

// String returns the handler's contribution to a class descriptor.
func (h *Handler) String() string {
	switch h.Kind {
	case Primitive:
		return primNames[h.prim]
	case Array:
		if h.Len < 0 {
			return "[]" + h.Elem.String()
		}
		return fmt.Sprintf("[%d]%s", h.Len, h.Elem)
	case FirstClass:
		return "*" + h.Layout.Name
	case Embedded:
		return h.Layout.Name + h.Layout.Descriptor()
	case Untyped:
		return "any"
	default:
		return h.Kind.String()
	}
}

func (h *Handler) minSize() int {
	switch h.Kind {
	case Primitive:
		return h.prim.minSize()
	case Array:
		if h.Len < 0 {
			return 4
		}
		return h.Len * h.Elem.minSize()
	case FirstClass:
		return 4
	case Embedded:
		n := 0
		for i := range h.Layout.Fields {
			n += h.Layout.Fields[i].Handler.minSize()
		}
		return n
	default:
		return 1
	}
}
