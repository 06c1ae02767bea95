// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package marshal

import (
	"encoding/binary"
	"math"
	"reflect"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
)

// Untyped field tags.
const (
	untypedNil byte = iota
	untypedPrimitive
	untypedFirstClass
)

// Linker maps referenced objects to the IDs stored in their place.
type Linker interface {
	// LinkID returns the ID of the object p points to, assigning one (and
	// scheduling the object to be stored) if it has none yet.
	LinkID(p reflect.Value, target *Layout) (int32, error)
	// ClassID returns the persistent class ID of l.
	ClassID(l *Layout) (int32, error)
	// LayoutOf returns the layout of the struct p points to. It resolves
	// the dynamic types found in untyped fields.
	LayoutOf(p reflect.Value) (*Layout, error)
}

// Writer encodes values into a byte buffer. All integers are big-endian.
type Writer struct {
	buf    []byte
	linker Linker
}

// MakeWriter returns a writer resolving references through linker, which
// may be nil if no first-class or untyped values are written.
func MakeWriter(linker Linker) Writer {
	return Writer{linker: linker}
}

// Bytes returns the encoded bytes.
func (w *Writer) Bytes() []byte { return w.buf }

// Len returns the number of encoded bytes.
func (w *Writer) Len() int { return len(w.buf) }

// Reset discards the encoded bytes, retaining the buffer.
func (w *Writer) Reset() { w.buf = w.buf[:0] }

// WriteByte appends b.
func (w *Writer) WriteByte(b byte) error {
	w.buf = append(w.buf, b)
	return nil
}

// WriteBool appends v as one byte.
func (w *Writer) WriteBool(v bool) {
	var b byte
	if v {
		b = 1
	}
	w.buf = append(w.buf, b)
}

// WriteInt32 appends v.
func (w *Writer) WriteInt32(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

// WriteInt64 appends v.
func (w *Writer) WriteInt64(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

// WriteUvarint appends v in varint form.
func (w *Writer) WriteUvarint(v uint64) {
	w.buf = binary.AppendUvarint(w.buf, v)
}

// WriteBytes appends b prefixed by its length.
func (w *Writer) WriteBytes(b []byte) {
	w.WriteUvarint(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// WriteString appends s prefixed by its length.
func (w *Writer) WriteString(s string) {
	w.WriteUvarint(uint64(len(s)))
	w.buf = append(w.buf, s...)
}

// Marshal appends the stored fields of v, an instance of l.
func (w *Writer) Marshal(l *Layout, v reflect.Value) error {
	for i := range l.Fields {
		f := &l.Fields[i]
		if err := w.write(f.Handler, v.Field(f.Index)); err != nil {
			return errors.Wrapf(err, "field %s", errors.Safe(f.Name))
		}
	}
	return nil
}

func (w *Writer) write(h *Handler, v reflect.Value) error {
	switch h.Kind {
	case Primitive:
		return w.writePrimitive(h.prim, v)
	case Array:
		n := v.Len()
		if h.Len < 0 {
			if v.IsNil() {
				w.WriteInt32(-1)
				return nil
			}
			w.WriteInt32(int32(n))
		}
		for i := 0; i < n; i++ {
			if err := w.write(h.Elem, v.Index(i)); err != nil {
				return err
			}
		}
		return nil
	case FirstClass:
		if v.IsNil() {
			w.WriteInt32(0)
			return nil
		}
		id, err := w.link(v, h.Layout)
		if err != nil {
			return err
		}
		w.WriteInt32(id)
		return nil
	case Embedded:
		return w.Marshal(h.Layout, v)
	case Untyped:
		return w.writeUntyped(v)
	default:
		return errors.AssertionFailedf("slotdb: unknown handler kind %d", h.Kind)
	}
}

func (w *Writer) link(p reflect.Value, target *Layout) (int32, error) {
	if w.linker == nil {
		return 0, errors.AssertionFailedf("slotdb: reference to %s written without a linker", errors.Safe(target.Name))
	}
	return w.linker.LinkID(p, target)
}

func (w *Writer) writeUntyped(v reflect.Value) error {
	if v.IsNil() {
		return w.WriteByte(untypedNil)
	}
	e := v.Elem()
	if e.Kind() == reflect.Pointer && e.Type().Elem().Kind() == reflect.Struct {
		if e.IsNil() {
			return w.WriteByte(untypedNil)
		}
		if w.linker == nil {
			return errors.AssertionFailedf("slotdb: untyped reference written without a linker")
		}
		target, err := w.linker.LayoutOf(e)
		if err != nil {
			return err
		}
		classID, err := w.linker.ClassID(target)
		if err != nil {
			return err
		}
		id, err := w.linker.LinkID(e, target)
		if err != nil {
			return err
		}
		_ = w.WriteByte(untypedFirstClass)
		w.WriteInt32(classID)
		w.WriteInt32(id)
		return nil
	}
	p, ok := primitiveOf(e.Type())
	if !ok || primTypes[p] != e.Type() {
		return errors.Mark(errors.Errorf("slotdb: unsupported untyped value of type %s", errors.Safe(e.Type().String())), base.ErrNotStorable)
	}
	_ = w.WriteByte(untypedPrimitive)
	_ = w.WriteByte(byte(p))
	return w.writePrimitive(p, e)
}

func (w *Writer) writePrimitive(p primitive, v reflect.Value) error {
	switch p {
	case primBool:
		w.WriteBool(v.Bool())
	case primInt8:
		w.buf = append(w.buf, byte(v.Int()))
	case primInt16:
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v.Int()))
	case primInt32:
		w.WriteInt32(int32(v.Int()))
	case primInt64, primInt:
		w.WriteInt64(v.Int())
	case primUint8:
		w.buf = append(w.buf, byte(v.Uint()))
	case primUint16:
		w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(v.Uint()))
	case primUint32:
		w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v.Uint()))
	case primUint64, primUint:
		w.buf = binary.BigEndian.AppendUint64(w.buf, v.Uint())
	case primFloat32:
		w.buf = binary.BigEndian.AppendUint32(w.buf, math.Float32bits(float32(v.Float())))
	case primFloat64:
		w.buf = binary.BigEndian.AppendUint64(w.buf, math.Float64bits(v.Float()))
	case primString:
		w.WriteString(v.String())
	case primBytes:
		w.WriteBytes(v.Bytes())
	case primTime:
		b, err := v.Interface().(interface{ MarshalBinary() ([]byte, error) }).MarshalBinary()
		if err != nil {
			return errors.Mark(err, base.ErrNotStorable)
		}
		w.WriteBytes(b)
	default:
		return errors.AssertionFailedf("slotdb: unknown primitive %d", p)
	}
	return nil
}
