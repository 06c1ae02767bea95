// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package marshal

import (
	"encoding/binary"
	"math"
	"reflect"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
)

// Resolver maps stored IDs back to objects.
type Resolver interface {
	// Resolve returns a pointer to the object stored under id, an instance
	// of target. An invalid Value leaves the field nil.
	Resolve(id int32, target *Layout) (reflect.Value, error)
	// LayoutForClass returns the layout of a persistent class ID.
	LayoutForClass(classID int32) (*Layout, error)
}

// Reader decodes values written by Writer. Decoding errors are sticky: once
// the input is found to be truncated or malformed every further read returns
// a zero value and Err reports the first error.
type Reader struct {
	buf      []byte
	off      int
	resolver Resolver
	err      error
}

// MakeReader returns a reader over buf resolving references through
// resolver, which may be nil when only IDs are collected.
func MakeReader(buf []byte, resolver Resolver) Reader {
	return Reader{buf: buf, resolver: resolver}
}

// Err returns the first decoding error.
func (r *Reader) Err() error { return r.err }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.off }

func (r *Reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
	r.off = len(r.buf)
}

func (r *Reader) next(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || n > r.Remaining() {
		r.fail(base.CorruptionErrorf("slotdb: object truncated: need %d bytes at offset %d, have %d",
			errors.Safe(n), errors.Safe(r.off), errors.Safe(r.Remaining())))
		return nil
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b
}

// ReadByte reads one byte.
func (r *Reader) ReadByte() (byte, error) {
	b := r.next(1)
	if b == nil {
		return 0, r.err
	}
	return b[0], nil
}

// ReadBool reads a bool.
func (r *Reader) ReadBool() bool {
	b, _ := r.ReadByte()
	return b != 0
}

func (r *Reader) readUint16() uint16 {
	if b := r.next(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (r *Reader) readUint32() uint32 {
	if b := r.next(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (r *Reader) readUint64() uint64 {
	if b := r.next(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

// ReadInt32 reads an int32.
func (r *Reader) ReadInt32() int32 { return int32(r.readUint32()) }

// ReadInt64 reads an int64.
func (r *Reader) ReadInt64() int64 { return int64(r.readUint64()) }

// ReadUvarint reads a varint.
func (r *Reader) ReadUvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		r.fail(base.CorruptionErrorf("slotdb: malformed varint at offset %d", errors.Safe(r.off)))
		return 0
	}
	r.off += n
	return v
}

// ReadBytes reads a length-prefixed byte string. The result aliases the
// input.
func (r *Reader) ReadBytes() []byte {
	n := r.ReadUvarint()
	if n > uint64(r.Remaining()) {
		r.fail(base.CorruptionErrorf("slotdb: byte string of length %d exceeds object", errors.Safe(n)))
		return nil
	}
	return r.next(int(n))
}

// ReadString reads a length-prefixed string.
func (r *Reader) ReadString() string {
	return string(r.ReadBytes())
}

// Unmarshal decodes the stored fields of l into v, an addressable instance
// of l.
func (r *Reader) Unmarshal(l *Layout, v reflect.Value) error {
	for i := range l.Fields {
		f := &l.Fields[i]
		if err := r.read(f.Handler, v.Field(f.Index)); err != nil {
			return errors.Wrapf(err, "field %s", errors.Safe(f.Name))
		}
	}
	return r.err
}

func (r *Reader) read(h *Handler, v reflect.Value) error {
	switch h.Kind {
	case Primitive:
		r.readPrimitive(h.prim, v)
	case Array:
		n := h.Len
		if n < 0 {
			n = int(r.ReadInt32())
			if n == -1 {
				v.SetZero()
				return r.err
			}
			if err := r.checkCount(n, h.Elem); err != nil {
				return err
			}
			v.Set(reflect.MakeSlice(h.Type, n, n))
		}
		for i := 0; i < n && r.err == nil; i++ {
			if err := r.read(h.Elem, v.Index(i)); err != nil {
				return err
			}
		}
	case FirstClass:
		id := r.ReadInt32()
		if r.err != nil {
			return r.err
		}
		return r.resolve(id, h.Layout, v)
	case Embedded:
		return r.Unmarshal(h.Layout, v)
	case Untyped:
		return r.readUntyped(v)
	default:
		return errors.AssertionFailedf("slotdb: unknown handler kind %d", h.Kind)
	}
	return r.err
}

func (r *Reader) checkCount(n int, elem *Handler) error {
	if n < 0 || (elem.minSize() > 0 && n > r.Remaining()/elem.minSize()) {
		r.fail(base.CorruptionErrorf("slotdb: implausible array length %d", errors.Safe(n)))
	}
	return r.err
}

func (r *Reader) resolve(id int32, target *Layout, v reflect.Value) error {
	if id == 0 {
		v.SetZero()
		return nil
	}
	if id < 0 {
		r.fail(base.CorruptionErrorf("slotdb: negative reference %d", errors.Safe(id)))
		return r.err
	}
	if r.resolver == nil {
		return errors.AssertionFailedf("slotdb: reference read without a resolver")
	}
	p, err := r.resolver.Resolve(id, target)
	if err != nil {
		return err
	}
	if !p.IsValid() {
		v.SetZero()
		return nil
	}
	if !p.Type().AssignableTo(v.Type()) {
		return errors.Mark(errors.Errorf("slotdb: %s is not assignable to %s",
			errors.Safe(p.Type().String()), errors.Safe(v.Type().String())), base.ErrNotStorable)
	}
	v.Set(p)
	return nil
}

func (r *Reader) readUntyped(v reflect.Value) error {
	tag, err := r.ReadByte()
	if err != nil {
		return err
	}
	switch tag {
	case untypedNil:
		v.SetZero()
		return nil
	case untypedPrimitive:
		code, err := r.ReadByte()
		if err != nil {
			return err
		}
		p := primitive(code)
		if p == 0 || p >= numPrims {
			r.fail(base.CorruptionErrorf("slotdb: unknown primitive code %d", errors.Safe(code)))
			return r.err
		}
		e := reflect.New(primTypes[p]).Elem()
		r.readPrimitive(p, e)
		if r.err != nil {
			return r.err
		}
		if !e.Type().AssignableTo(v.Type()) {
			return errors.Mark(errors.Errorf("slotdb: %s is not assignable to %s",
				errors.Safe(e.Type().String()), errors.Safe(v.Type().String())), base.ErrNotStorable)
		}
		v.Set(e)
		return nil
	case untypedFirstClass:
		classID := r.ReadInt32()
		id := r.ReadInt32()
		if r.err != nil {
			return r.err
		}
		if r.resolver == nil {
			return errors.AssertionFailedf("slotdb: reference read without a resolver")
		}
		target, err := r.resolver.LayoutForClass(classID)
		if err != nil {
			return err
		}
		return r.resolve(id, target, v)
	default:
		r.fail(base.CorruptionErrorf("slotdb: unknown untyped tag %d", errors.Safe(tag)))
		return r.err
	}
}

func (r *Reader) readPrimitive(p primitive, v reflect.Value) {
	switch p {
	case primBool:
		v.SetBool(r.ReadBool())
	case primInt8:
		b, _ := r.ReadByte()
		v.SetInt(int64(int8(b)))
	case primInt16:
		v.SetInt(int64(int16(r.readUint16())))
	case primInt32:
		v.SetInt(int64(r.ReadInt32()))
	case primInt64, primInt:
		v.SetInt(r.ReadInt64())
	case primUint8:
		b, _ := r.ReadByte()
		v.SetUint(uint64(b))
	case primUint16:
		v.SetUint(uint64(r.readUint16()))
	case primUint32:
		v.SetUint(uint64(r.readUint32()))
	case primUint64, primUint:
		v.SetUint(r.readUint64())
	case primFloat32:
		v.SetFloat(float64(math.Float32frombits(r.readUint32())))
	case primFloat64:
		v.SetFloat(math.Float64frombits(r.readUint64()))
	case primString:
		v.SetString(r.ReadString())
	case primBytes:
		b := r.ReadBytes()
		if r.err != nil {
			return
		}
		v.SetBytes(append([]byte(nil), b...))
	case primTime:
		b := r.ReadBytes()
		if r.err != nil {
			return
		}
		var t time.Time
		if err := t.UnmarshalBinary(b); err != nil {
			r.fail(base.MarkCorruptionError(err))
			return
		}
		v.Set(reflect.ValueOf(t))
	default:
		r.fail(errors.AssertionFailedf("slotdb: unknown primitive %d", p))
	}
}

// ChildIDs decodes an instance of l without materializing it and returns
// the IDs of all objects it references, in field order.
func (r *Reader) ChildIDs(l *Layout) ([]int32, error) {
	var ids []int32
	err := r.skipLayout(l, func(id int32) { ids = append(ids, id) })
	return ids, err
}

func (r *Reader) skipLayout(l *Layout, fn func(int32)) error {
	for i := range l.Fields {
		if err := r.skip(l.Fields[i].Handler, fn); err != nil {
			return err
		}
	}
	return r.err
}

func (r *Reader) skip(h *Handler, fn func(int32)) error {
	switch h.Kind {
	case Primitive:
		r.skipPrimitive(h.prim)
	case Array:
		n := h.Len
		if n < 0 {
			if n = int(r.ReadInt32()); n == -1 {
				return r.err
			}
			if err := r.checkCount(n, h.Elem); err != nil {
				return err
			}
		}
		for i := 0; i < n && r.err == nil; i++ {
			if err := r.skip(h.Elem, fn); err != nil {
				return err
			}
		}
	case FirstClass:
		if id := r.ReadInt32(); id > 0 && r.err == nil {
			fn(id)
		}
	case Embedded:
		return r.skipLayout(h.Layout, fn)
	case Untyped:
		tag, err := r.ReadByte()
		if err != nil {
			return err
		}
		switch tag {
		case untypedNil:
		case untypedPrimitive:
			code, _ := r.ReadByte()
			if p := primitive(code); p > 0 && p < numPrims {
				r.skipPrimitive(p)
			} else if r.err == nil {
				r.fail(base.CorruptionErrorf("slotdb: unknown primitive code %d", errors.Safe(code)))
			}
		case untypedFirstClass:
			_ = r.ReadInt32()
			if id := r.ReadInt32(); id > 0 && r.err == nil {
				fn(id)
			}
		default:
			r.fail(base.CorruptionErrorf("slotdb: unknown untyped tag %d", errors.Safe(tag)))
		}
	}
	return r.err
}

func (r *Reader) skipPrimitive(p primitive) {
	switch p {
	case primString, primBytes, primTime:
		_ = r.ReadBytes()
	default:
		r.next(p.minSize())
	}
}
