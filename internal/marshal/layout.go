// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

// Package marshal maps Go structs onto the byte layout of object slots.
//
// A Registry derives a Layout for every struct type handed to it. Each field
// is assigned a Handler of one of a closed set of kinds (Primitive, Array,
// FirstClass, Embedded, Untyped); Writer and Reader dispatch on that kind to
// encode and decode field values. References between objects are encoded as
// IDs; the Linker and Resolver interfaces let the caller map objects to IDs
// and back, so the package itself never touches storage.
package marshal

import (
	"reflect"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
)

// Field is a stored struct field.
type Field struct {
	Name    string
	Index   int
	Handler *Handler
}

// Layout is the stored form of a struct type.
type Layout struct {
	Type   reflect.Type
	Name   string
	Fields []Field

	descriptor string
}

// Descriptor returns a textual summary of the stored fields. Two layouts
// with the same descriptor have the same encoding.
func (l *Layout) Descriptor() string {
	if l.descriptor == "" {
		var b strings.Builder
		b.WriteString("{")
		for i := range l.Fields {
			if i > 0 {
				b.WriteString("; ")
			}
			b.WriteString(l.Fields[i].Name)
			b.WriteString(" ")
			b.WriteString(l.Fields[i].Handler.String())
		}
		b.WriteString("}")
		l.descriptor = b.String()
	}
	return l.descriptor
}

// New returns a pointer to a new zero instance of the layout's type.
func (l *Layout) New() reflect.Value {
	return reflect.New(l.Type)
}

// Clear sets every stored field of v, an addressable struct value, to its
// zero value.
func (l *Layout) Clear(v reflect.Value) {
	for i := range l.Fields {
		v.Field(l.Fields[i].Index).SetZero()
	}
}

// ClassName returns the name a struct type is stored under.
func ClassName(t reflect.Type) string {
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// Registry derives and caches layouts. A registry belongs to one open
// database.
type Registry struct {
	layouts map[reflect.Type]*Layout
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{layouts: make(map[reflect.Type]*Layout)}
}

// Layout returns the layout of the struct type t.
func (r *Registry) Layout(t reflect.Type) (*Layout, error) {
	if t.Kind() != reflect.Struct {
		return nil, errors.Mark(errors.Errorf("slotdb: %s is not a struct", errors.Safe(t.String())), base.ErrNotStorable)
	}
	if l, ok := r.layouts[t]; ok {
		return l, nil
	}
	if t.Name() == "" {
		return nil, errors.Mark(errors.Errorf("slotdb: anonymous struct %s", errors.Safe(t.String())), base.ErrNotStorable)
	}
	l := &Layout{Type: t, Name: ClassName(t)}
	// Registered before its fields so that self-referencing types resolve.
	r.layouts[t] = l
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() || sf.Tag.Get("slotdb") == "-" {
			continue
		}
		h, err := r.handler(sf.Type)
		if err != nil {
			delete(r.layouts, t)
			return nil, errors.Wrapf(err, "field %s.%s", errors.Safe(t.Name()), errors.Safe(sf.Name))
		}
		l.Fields = append(l.Fields, Field{Name: sf.Name, Index: i, Handler: h})
	}
	return l, nil
}

// LayoutOf returns the layout for the struct that p, a pointer, points to.
func (r *Registry) LayoutOf(p reflect.Value) (*Layout, error) {
	if p.Kind() != reflect.Pointer || p.Type().Elem().Kind() != reflect.Struct {
		return nil, errors.Mark(errors.Errorf("slotdb: %s is not a pointer to a struct", errors.Safe(p.Type().String())), base.ErrNotStorable)
	}
	return r.Layout(p.Type().Elem())
}

func (r *Registry) handler(t reflect.Type) (*Handler, error) {
	if p, ok := primitiveOf(t); ok {
		return &Handler{Kind: Primitive, Type: t, prim: p}, nil
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		elem, err := r.handler(t.Elem())
		if err != nil {
			return nil, err
		}
		n := -1
		if t.Kind() == reflect.Array {
			n = t.Len()
		}
		return &Handler{Kind: Array, Type: t, Elem: elem, Len: n}, nil
	case reflect.Pointer:
		if t.Elem().Kind() != reflect.Struct {
			break
		}
		l, err := r.Layout(t.Elem())
		if err != nil {
			return nil, err
		}
		return &Handler{Kind: FirstClass, Type: t, Layout: l}, nil
	case reflect.Struct:
		l, err := r.Layout(t)
		if err != nil {
			return nil, err
		}
		return &Handler{Kind: Embedded, Type: t, Layout: l}, nil
	case reflect.Interface:
		return &Handler{Kind: Untyped, Type: t}, nil
	}
	return nil, errors.Mark(errors.Errorf("slotdb: unsupported type %s", errors.Safe(t.String())), base.ErrNotStorable)
}

// VisitReferences calls fn for every non-nil first-class reference held by
// v, an instance of l, including references inside arrays, embedded structs
// and interfaces. target is the layout of the referenced struct.
func (r *Registry) VisitReferences(l *Layout, v reflect.Value, fn func(p reflect.Value, target *Layout)) {
	for i := range l.Fields {
		r.visit(l.Fields[i].Handler, v.Field(l.Fields[i].Index), fn)
	}
}

func (r *Registry) visit(h *Handler, v reflect.Value, fn func(reflect.Value, *Layout)) {
	switch h.Kind {
	case Array:
		if h.Elem.Kind == Primitive {
			return
		}
		for i := 0; i < v.Len(); i++ {
			r.visit(h.Elem, v.Index(i), fn)
		}
	case FirstClass:
		if !v.IsNil() {
			fn(v, h.Layout)
		}
	case Embedded:
		r.VisitReferences(h.Layout, v, fn)
	case Untyped:
		if v.IsNil() {
			return
		}
		e := v.Elem()
		if e.Kind() != reflect.Pointer || e.IsNil() {
			return
		}
		if target, err := r.LayoutOf(e); err == nil {
			fn(e, target)
		}
	}
}
