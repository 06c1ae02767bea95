// Copyright 2025 The LevelDB-Go and Pebble Authors. All rights reserved. Use
// of this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package marshal

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/slotdb/internal/base"
	"github.com/cockroachdb/slotdb/internal/compression"
	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int32
}

type color uint16

type node struct {
	Name    string
	Next    *node
	Tags    []string
	Pos     point
	Any     any
	Data    []byte
	When    time.Time
	Nums    [3]int16
	skip    int
	Ignored string `slotdb:"-"`
	Ratio   float64
	Small   int8
	Flag    bool
	Color   color
	Kids    []*node
}

type withMap struct {
	M map[string]int
}

// testLinker hands out IDs in the order objects are first linked.
type testLinker struct {
	reg  *Registry
	ids  map[*node]int32
	objs map[int32]*node
	next int32
}

func newTestLinker(reg *Registry) *testLinker {
	return &testLinker{reg: reg, ids: map[*node]int32{}, objs: map[int32]*node{}, next: 10}
}

func (l *testLinker) LinkID(p reflect.Value, _ *Layout) (int32, error) {
	n := p.Interface().(*node)
	if id, ok := l.ids[n]; ok {
		return id, nil
	}
	id := l.next
	l.next++
	l.ids[n] = id
	l.objs[id] = n
	return id, nil
}

func (l *testLinker) ClassID(*Layout) (int32, error) { return 5, nil }

func (l *testLinker) LayoutOf(p reflect.Value) (*Layout, error) { return l.reg.LayoutOf(p) }

func (l *testLinker) Resolve(id int32, _ *Layout) (reflect.Value, error) {
	n, ok := l.objs[id]
	if !ok {
		return reflect.Value{}, nil
	}
	return reflect.ValueOf(n), nil
}

func (l *testLinker) LayoutForClass(classID int32) (*Layout, error) {
	if classID != 5 {
		return nil, errors.Newf("unknown class %d", classID)
	}
	return l.reg.Layout(reflect.TypeFor[node]())
}

func TestLayout(t *testing.T) {
	reg := NewRegistry()
	l, err := reg.Layout(reflect.TypeFor[point]())
	require.NoError(t, err)
	require.Equal(t, "github.com/cockroachdb/slotdb/internal/marshal.point", l.Name)
	require.Equal(t, "{X int32; Y int32}", l.Descriptor())

	l, err = reg.Layout(reflect.TypeFor[node]())
	require.NoError(t, err)
	var kinds []string
	for _, f := range l.Fields {
		kinds = append(kinds, f.Name+":"+f.Handler.Kind.String())
	}
	require.Equal(t, []string{
		"Name:primitive", "Next:first-class", "Tags:array", "Pos:embedded", "Any:untyped",
		"Data:primitive", "When:primitive", "Nums:array", "Ratio:primitive", "Small:primitive",
		"Flag:primitive", "Color:primitive", "Kids:array",
	}, kinds)
	require.Contains(t, l.Descriptor(), "Next *github.com/cockroachdb/slotdb/internal/marshal.node;")
	require.Contains(t, l.Descriptor(), "Pos github.com/cockroachdb/slotdb/internal/marshal.point{X int32; Y int32};")
	require.Contains(t, l.Descriptor(), "Nums [3]int16;")
	require.Contains(t, l.Descriptor(), "Data bytes;")

	again, err := reg.Layout(reflect.TypeFor[node]())
	require.NoError(t, err)
	require.Same(t, l, again)

	_, err = reg.Layout(reflect.TypeFor[withMap]())
	require.True(t, errors.Is(err, base.ErrNotStorable))
	_, err = reg.Layout(reflect.TypeFor[int]())
	require.True(t, errors.Is(err, base.ErrNotStorable))
	_, err = reg.LayoutOf(reflect.ValueOf(point{}))
	require.True(t, errors.Is(err, base.ErrNotStorable))
}

func TestRoundtrip(t *testing.T) {
	reg := NewRegistry()
	l, err := reg.Layout(reflect.TypeFor[node]())
	require.NoError(t, err)

	b := &node{Name: "b"}
	c := &node{Name: "c"}
	a := &node{
		Name:    "a",
		Next:    b,
		Tags:    []string{"x", "", "zz"},
		Pos:     point{X: -3, Y: 4},
		Any:     c,
		Data:    []byte{1, 2, 3},
		When:    time.Date(2024, 3, 1, 12, 0, 0, 5, time.UTC),
		Nums:    [3]int16{-1, 0, 300},
		skip:    9,
		Ignored: "ignored",
		Ratio:   0.25,
		Small:   -7,
		Flag:    true,
		Color:   color(513),
		Kids:    []*node{b, nil, c},
	}
	link := newTestLinker(reg)
	w := MakeWriter(link)
	require.NoError(t, w.Marshal(l, reflect.ValueOf(a).Elem()))
	require.Equal(t, int32(10), link.ids[b])
	require.Equal(t, int32(11), link.ids[c])

	got := &node{}
	r := MakeReader(w.Bytes(), link)
	require.NoError(t, r.Unmarshal(l, reflect.ValueOf(got).Elem()))
	require.Equal(t, 0, r.Remaining())

	require.Same(t, b, got.Next)
	require.Same(t, c, got.Any)
	require.Same(t, b, got.Kids[0])
	require.Nil(t, got.Kids[1])
	require.Same(t, c, got.Kids[2])
	require.Equal(t, a.Name, got.Name)
	require.Equal(t, a.Tags, got.Tags)
	require.Equal(t, a.Pos, got.Pos)
	require.Equal(t, a.Data, got.Data)
	require.True(t, a.When.Equal(got.When))
	require.Equal(t, a.Nums, got.Nums)
	require.Equal(t, a.Ratio, got.Ratio)
	require.Equal(t, a.Small, got.Small)
	require.Equal(t, a.Flag, got.Flag)
	require.Equal(t, a.Color, got.Color)
	require.Zero(t, got.skip)
	require.Empty(t, got.Ignored)

	r = MakeReader(w.Bytes(), nil)
	ids, err := r.ChildIDs(l)
	require.NoError(t, err)
	require.Equal(t, []int32{10, 11, 10, 11}, ids)

	var visited []string
	reg.VisitReferences(l, reflect.ValueOf(a).Elem(), func(p reflect.Value, target *Layout) {
		require.Same(t, l, target)
		visited = append(visited, p.Interface().(*node).Name)
	})
	require.Equal(t, []string{"b", "c", "b", "c"}, visited)
}

func TestNilAndUntypedPrimitives(t *testing.T) {
	reg := NewRegistry()
	l, err := reg.Layout(reflect.TypeFor[node]())
	require.NoError(t, err)

	for _, v := range []any{nil, int64(-42), "hello", 3.5, true, []byte("raw")} {
		n := &node{Any: v, Tags: nil}
		w := MakeWriter(nil)
		require.NoError(t, w.Marshal(l, reflect.ValueOf(n).Elem()))
		got := &node{Tags: []string{"stale"}, Any: "stale"}
		r := MakeReader(w.Bytes(), nil)
		require.NoError(t, r.Unmarshal(l, reflect.ValueOf(got).Elem()))
		require.Equal(t, v, got.Any)
		require.Nil(t, got.Tags)
		require.Nil(t, got.Next)
	}

	// Named types cannot be recovered from an untyped field.
	w := MakeWriter(nil)
	err = w.Marshal(l, reflect.ValueOf(&node{Any: color(1)}).Elem())
	require.True(t, errors.Is(err, base.ErrNotStorable))

	// References need a linker.
	w = MakeWriter(nil)
	err = w.Marshal(l, reflect.ValueOf(&node{Next: &node{}}).Elem())
	require.Error(t, err)
}

func TestTruncated(t *testing.T) {
	reg := NewRegistry()
	l, err := reg.Layout(reflect.TypeFor[node]())
	require.NoError(t, err)
	w := MakeWriter(nil)
	require.NoError(t, w.Marshal(l, reflect.ValueOf(&node{Name: "abc", Tags: []string{"t"}}).Elem()))
	buf := w.Bytes()
	for i := 0; i < len(buf); i++ {
		r := MakeReader(buf[:i], nil)
		err := r.Unmarshal(l, reflect.ValueOf(&node{}).Elem())
		require.True(t, base.IsCorruptionError(err), "prefix %d: %v", i, err)
		r = MakeReader(buf[:i], nil)
		_, err = r.ChildIDs(l)
		require.True(t, base.IsCorruptionError(err), "prefix %d: %v", i, err)
	}

	// An array length far beyond the remaining bytes is rejected before
	// allocating.
	var bad Writer
	bad.WriteString("n")
	bad.WriteInt32(0)
	bad.WriteInt32(1 << 30)
	r := MakeReader(bad.Bytes(), nil)
	err = r.Unmarshal(l, reflect.ValueOf(&node{}).Elem())
	require.True(t, base.IsCorruptionError(err))
}

func TestClear(t *testing.T) {
	reg := NewRegistry()
	l, err := reg.Layout(reflect.TypeFor[node]())
	require.NoError(t, err)
	n := &node{Name: "x", Next: &node{}, skip: 3, Ignored: "y", Kids: []*node{{}}}
	l.Clear(reflect.ValueOf(n).Elem())
	require.Equal(t, &node{skip: 3, Ignored: "y"}, n)
}

func TestFrame(t *testing.T) {
	payload := bytes.Repeat([]byte("payload "), 64)
	for a := compression.NoCompression; a.Valid(); a++ {
		buf := AppendFrame([]byte("prefix"), 7, a, payload)
		require.Equal(t, []byte("prefix"), buf[:6])
		// Slots are block aligned, so frames are followed by padding.
		f, err := DecodeFrame(append(buf[6:], 0, 0, 0))
		require.NoError(t, err)
		require.Equal(t, int32(7), f.ClassID)
		require.Equal(t, a, f.Compression)
		got, err := f.Payload()
		require.NoError(t, err)
		require.Equal(t, payload, got)
	}

	buf := AppendFrame(nil, 3, compression.Snappy, nil)
	f, err := DecodeFrame(buf)
	require.NoError(t, err)
	require.Equal(t, compression.NoCompression, f.Compression)
	got, err := f.Payload()
	require.NoError(t, err)
	require.Empty(t, got)

	buf = AppendFrame(nil, 3, compression.NoCompression, []byte("abc"))
	corrupt := append([]byte(nil), buf...)
	corrupt[len(corrupt)-1] ^= 1
	_, err = DecodeFrame(corrupt)
	require.True(t, base.IsCorruptionError(err))

	corrupt = append([]byte(nil), buf...)
	corrupt[4] = 200
	_, err = DecodeFrame(corrupt)
	require.True(t, base.IsCorruptionError(err))

	_, err = DecodeFrame(buf[:len(buf)-1])
	require.True(t, base.IsCorruptionError(err))
	_, err = DecodeFrame(buf[:4])
	require.True(t, base.IsCorruptionError(err))
}
