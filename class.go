// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package slotdb

import (
	"cmp"
	"reflect"
	"slices"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/activation"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/btree"
	"github.com/cockroachdb/slotdb/internal/marshal"
	"github.com/cockroachdb/slotdb/internal/slot"
	"github.com/cockroachdb/swiss"
)

// ClassConfig configures how instances of one struct type are stored,
// activated and deleted.
type ClassConfig struct {
	// Prototype is a pointer to the struct type being configured. A typed
	// nil pointer such as (*Item)(nil) is sufficient.
	Prototype any

	// Name is the name the class is stored under. It defaults to the
	// package path qualified type name. Setting it allows a type to be
	// renamed or moved without losing access to stored instances.
	Name string

	// CascadeOnActivate activates the direct children of an instance
	// whenever the instance is activated.
	CascadeOnActivate bool
	// CascadeOnUpdate stores the direct children of an instance whenever
	// the instance is stored.
	CascadeOnUpdate bool
	// CascadeOnDelete deletes the children of an instance with it.
	CascadeOnDelete bool

	// MinimumActivationDepth and MaximumActivationDepth clamp the activation
	// depth of instances when non-zero.
	MinimumActivationDepth int
	MaximumActivationDepth int

	// UpdateDepth overrides Options.UpdateDepth for instances of the class.
	UpdateDepth int

	// Collection marks container types whose elements are reached through
	// an additional level of indirection. Deletes and updates of collections
	// descend by CollectionUpdateDepth.
	Collection bool
	// CollectionUpdateDepth overrides Options.CollectionUpdateDepth.
	CollectionUpdateDepth int
}

func (c *ClassConfig) structType() (reflect.Type, error) {
	t := reflect.TypeOf(c.Prototype)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, errors.Mark(errors.Errorf("slotdb: class prototype %T is not a pointer to a struct", c.Prototype),
			base.ErrNotStorable)
	}
	return t.Elem(), nil
}

type classState uint8

const (
	// classUnbound classes were read from the file but no Go type has been
	// registered for them yet.
	classUnbound classState = iota
	classOK
	// classStale classes are bound to a Go type whose layout differs from
	// the stored one. Their instances are neither stored nor activated.
	classStale
)

// class is the persistent identity of a stored struct type.
type class struct {
	id         int32
	name       string
	descriptor string
	state      classState
	layout     *marshal.Layout
	cfg        ClassConfig
	bounds     activation.Bounds
	// extent holds the IDs of the committed instances.
	extent *btree.BTree[int32]
}

var _ activation.Class = (*class)(nil)

func newClass(id int32, name string) *class {
	return &class{id: id, name: name, extent: btree.New[int32](cmp.Compare[int32])}
}

func (c *class) configure(cfg ClassConfig) {
	c.cfg = cfg
	c.bounds = activation.Bounds{
		Cascade: cfg.CascadeOnActivate,
		Minimum: cfg.MinimumActivationDepth,
		Maximum: cfg.MaximumActivationDepth,
	}
}

// AdjustActivationDepth implements activation.Class.
func (c *class) AdjustActivationDepth(depth int) int {
	return c.bounds.Adjust(depth)
}

// IsValueType implements activation.Class. Value types are embedded in
// their parent's slot and never reach the reference system.
func (c *class) IsValueType() bool {
	return false
}

// stateOK returns true if instances of the class can be materialized.
func (c *class) stateOK() bool {
	return c.state == classOK
}

func (c *class) collectionUpdateDepth(opts *Options) int {
	if c.cfg.CollectionUpdateDepth > 0 {
		return c.cfg.CollectionUpdateDepth
	}
	return opts.CollectionUpdateDepth
}

// updateDepth returns the depth a top-level store of an instance uses.
func (c *class) updateDepth(opts *Options) int {
	if c.cfg.UpdateDepth > 0 {
		return c.cfg.UpdateDepth
	}
	return opts.UpdateDepth
}

// childUpdateDepth returns the update depth handed to the children of an
// instance stored with depth.
func (c *class) childUpdateDepth(depth int, opts *Options) int {
	child := depth - 1
	if c.cfg.CascadeOnUpdate {
		child = max(child, 1)
	}
	if c.cfg.Collection {
		child = max(child, c.collectionUpdateDepth(opts)-2)
	}
	return child
}

// memberDeleteDepth returns the cascade depth handed to the children of a
// deleted instance. Collections pass the remaining depth on to their
// elements. The cascading collection adjustment subtracts three to undo the
// levels a member delete adds back for the collection itself.
func (c *class) memberDeleteDepth(cascade int, opts *Options) int {
	switch {
	case c.cfg.CascadeOnDelete && c.cfg.Collection:
		return max(1, cascade+c.collectionUpdateDepth(opts)-3)
	case c.cfg.CascadeOnDelete:
		return 1
	case c.cfg.Collection:
		return cascade
	}
	return 0
}

// TypeRegistry maps class names to the struct types whose instances are
// stored under them. A DB binds an unbound class of its file to the type
// registered under the class name when it reads the first instance. Storing
// an instance registers its type. DBs share a registry only when their
// Options name the same one.
type TypeRegistry struct {
	mu    sync.Mutex
	types *swiss.Map[string, reflect.Type]
}

// NewTypeRegistry returns an empty registry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: swiss.New[string, reflect.Type](8)}
}

// Register records the struct types that prototypes point to under their
// default class names.
func (r *TypeRegistry) Register(prototypes ...any) error {
	for _, p := range prototypes {
		cfg := ClassConfig{Prototype: p}
		t, err := cfg.structType()
		if err != nil {
			return err
		}
		r.add(marshal.ClassName(t), t)
	}
	return nil
}

func (r *TypeRegistry) add(name string, t reflect.Type) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types.Put(name, t)
}

// lookup returns the struct type registered for name.
func (r *TypeRegistry) lookup(name string) (reflect.Type, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.types.Get(name)
}

// classCollection maps class IDs to classes. It is persisted as one record
// through the system transaction under a pointer ID fixed at file creation.
type classCollection struct {
	id     int32
	byID   *swiss.Map[int32, *class]
	byName *swiss.Map[string, *class]
	byType *swiss.Map[reflect.Type, *class]
	reg    *marshal.Registry
	types  *TypeRegistry
	nextID int32
	// dirty is set when the record must be rewritten at the next commit.
	dirty bool
}

func newClassCollection(id int32, reg *marshal.Registry, types *TypeRegistry) *classCollection {
	return &classCollection{
		id:     id,
		reg:    reg,
		types:  types,
		byID:   swiss.New[int32, *class](8),
		byName: swiss.New[string, *class](8),
		byType: swiss.New[reflect.Type, *class](8),
		nextID: 1,
	}
}

func (cc *classCollection) add(c *class) {
	cc.byID.Put(c.id, c)
	cc.byName.Put(c.name, c)
	cc.nextID = max(cc.nextID, c.id+1)
}

// bind returns the class of the struct type t, registering it if needed.
// cfg is applied when non-nil. A type whose stored layout differs from its
// current layout is bound but stale.
func (cc *classCollection) bind(reg *marshal.Registry, t reflect.Type, cfg *ClassConfig) (*class, error) {
	if c, ok := cc.byType.Get(t); ok {
		if cfg != nil {
			c.configure(*cfg)
		}
		return c, nil
	}
	layout, err := reg.Layout(t)
	if err != nil {
		return nil, err
	}
	name := layout.Name
	if cfg != nil && cfg.Name != "" {
		name = cfg.Name
	}
	c, ok := cc.byName.Get(name)
	switch {
	case !ok:
		c = newClass(cc.nextID, name)
		c.descriptor = layout.Descriptor()
		c.state = classOK
		cc.add(c)
		cc.dirty = true
	case c.state != classUnbound:
		return nil, errors.Errorf("slotdb: class %s is already bound to %s",
			errors.Safe(name), errors.Safe(c.layout.Type.String()))
	case c.descriptor == layout.Descriptor():
		c.state = classOK
	default:
		c.state = classStale
	}
	c.layout = layout
	if cfg != nil {
		c.configure(*cfg)
	}
	cc.byType.Put(t, c)
	if cfg == nil || cfg.Name == "" {
		cc.types.add(name, t)
	}
	return c, nil
}

func (cc *classCollection) forID(id int32) (*class, error) {
	c, ok := cc.byID.Get(id)
	if !ok {
		return nil, base.CorruptionErrorf("slotdb: unknown class id %d", errors.Safe(id))
	}
	if c.state == classUnbound {
		if t, ok := cc.types.lookup(c.name); ok {
			if _, bound := cc.byType.Get(t); !bound {
				return cc.bind(cc.reg, t, nil)
			}
		}
	}
	return c, nil
}

// sorted returns the classes in ID order.
func (cc *classCollection) sorted() []*class {
	classes := make([]*class, 0, cc.byID.Len())
	cc.byID.All(func(_ int32, c *class) bool {
		classes = append(classes, c)
		return true
	})
	slices.SortFunc(classes, func(a, b *class) int { return cmp.Compare(a.id, b.id) })
	return classes
}

// encode serializes the collection:
//
//	count int32 | { id int32 | name | descriptor | extent count uvarint | ids int32... }
func (cc *classCollection) encode() []byte {
	w := marshal.MakeWriter(nil)
	classes := cc.sorted()
	w.WriteInt32(int32(len(classes)))
	for _, c := range classes {
		w.WriteInt32(c.id)
		w.WriteString(c.name)
		w.WriteString(c.descriptor)
		w.WriteUvarint(uint64(c.extent.Len()))
		c.extent.Ascend(func(id int32) bool {
			w.WriteInt32(id)
			return true
		})
	}
	return w.Bytes()
}

func (cc *classCollection) decode(payload []byte) error {
	r := marshal.MakeReader(payload, nil)
	n := r.ReadInt32()
	if n < 0 {
		return base.CorruptionErrorf("slotdb: class collection holds %d classes", errors.Safe(n))
	}
	for i := int32(0); i < n && r.Err() == nil; i++ {
		c := newClass(r.ReadInt32(), "")
		c.name = r.ReadString()
		c.descriptor = r.ReadString()
		count := r.ReadUvarint()
		if count > uint64(r.Remaining()/slot.IntLength) {
			return base.CorruptionErrorf("slotdb: class %s extent of %d instances is truncated",
				errors.Safe(c.name), errors.Safe(count))
		}
		for j := uint64(0); j < count; j++ {
			c.extent.Set(r.ReadInt32())
		}
		if c.id <= 0 {
			return base.CorruptionErrorf("slotdb: invalid class id %d", errors.Safe(c.id))
		}
		cc.add(c)
	}
	if err := r.Err(); err != nil {
		return base.MarkCorruptionError(errors.Wrap(err, "slotdb: decoding class collection"))
	}
	return nil
}

// loadClassCollection reads the class collection record of an existing file.
func (d *DB) loadClassCollection() error {
	cc := newClassCollection(d.mu.hdr.classCollectionID, d.reg, d.opts.Types)
	d.mu.classes = cc
	s, err := d.readPointer(cc.id)
	if err != nil {
		return errors.Wrap(err, "slotdb: reading class collection pointer")
	}
	if s.IsNull() {
		return nil
	}
	f, payload, err := d.readFrame(s)
	if err != nil {
		return errors.Wrap(err, "slotdb: reading class collection")
	}
	if f.ClassID != 0 {
		return base.CorruptionErrorf("slotdb: class collection record has class id %d", errors.Safe(f.ClassID))
	}
	return cc.decode(payload)
}

// writeClassCollection stores the class collection record through the
// system transaction if it changed. Writing it twice within one commit
// releases the first copy.
func (d *DB) writeClassCollection() error {
	cc := d.mu.classes
	if !cc.dirty {
		return nil
	}
	sys := d.mu.systemTxn
	old, err := sys.currentSlot(cc.id)
	if err != nil {
		return err
	}
	frame := marshal.AppendFrame(nil, 0, d.opts.Compression, cc.encode())
	s := d.getSlot(len(frame))
	if err := d.writeSlot(s, frame); err != nil {
		d.free(s)
		return err
	}
	sys.ledger.SlotFreeOnRollbackCommitSetPointer(cc.id, old, s, false)
	cc.dirty = false
	return nil
}

// classOf returns the class of the struct p points to, binding its type on
// first use.
func (d *DB) classOf(p reflect.Value) (*class, error) {
	if p.Kind() != reflect.Pointer || p.Type().Elem().Kind() != reflect.Struct {
		return nil, errors.Mark(errors.Errorf("slotdb: %s is not a pointer to a struct", errors.Safe(p.Type().String())),
			base.ErrNotStorable)
	}
	return d.mu.classes.bind(d.reg, p.Type().Elem(), nil)
}

// configureClasses binds the types named by Options.Classes.
func (d *DB) configureClasses() error {
	for i := range d.opts.Classes {
		cfg := &d.opts.Classes[i]
		t, err := cfg.structType()
		if err != nil {
			return err
		}
		c, err := d.mu.classes.bind(d.reg, t, cfg)
		if err != nil {
			return err
		}
		if c.state == classStale {
			d.opts.Logger.Infof("slotdb: stored layout of class %s differs from %s; its instances stay inactive",
				errors.Safe(c.name), errors.Safe(t.String()))
		}
	}
	return nil
}
