package isaspec

import "sort"

// Model is a fully resolved instruction set description. It is immutable
// once Build returns it and may be shared freely between goroutines.
//
// The accessors hand out the model's own *Bitset values. Callers must treat
// them as read-only: decoding works from the same values.
type Model struct {
	Bitsize uint

	bitsets []*Bitset
	byName  map[string]int
	enums   map[string]*Enum
	exprs   map[string]*Expression

	roots    map[string][]int // root name to the bitsets registered under it
	leafs    map[string][]int
	rootSize map[string]uint
	tables   map[string]*Table

	// nested marks roots used by bitset fields; isolated marks leafs that
	// no sibling under any of their roots can shadow.
	nested   map[string]bool
	isolated []bool
}

// Bitset returns the named bitset. The result must not be modified.
func (m *Model) Bitset(name string) (*Bitset, bool) {
	i, ok := m.byName[name]
	if !ok {
		return nil, false
	}
	return m.bitsets[i], true
}

// Bitsets returns every bitset in declaration order. The slice is a fresh
// copy but the bitsets it points to are shared with m.
func (m *Model) Bitsets() []*Bitset {
	ret := make([]*Bitset, len(m.bitsets))
	copy(ret, m.bitsets)
	return ret
}

// Parent returns b's parent, if it has one.
func (m *Model) Parent(b *Bitset) (*Bitset, bool) {
	if b.Parent < 0 {
		return nil, false
	}
	return m.bitsets[b.Parent], true
}

// Roots returns the names of every decode root, sorted.
func (m *Model) Roots() []string {
	ret := make([]string, 0, len(m.roots))
	for name := range m.roots {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret
}

// RootBitsets returns the bitsets registered as entry points of root. Like
// Bitsets, the slice is fresh and the bitsets are shared.
func (m *Model) RootBitsets(root string) []*Bitset {
	return m.resolve(m.roots[root])
}

// Leafs returns the concrete bitsets reachable from root, sorted by name.
// The bitsets are shared with m.
func (m *Model) Leafs(root string) []*Bitset {
	return m.resolve(m.leafs[root])
}

// RootSize returns the word width of root.
func (m *Model) RootSize(root string) (uint, bool) {
	size, ok := m.rootSize[root]
	return size, ok
}

// Nested reports whether some bitset field decodes through root.
func (m *Model) Nested(root string) bool {
	return m.nested[root]
}

func (m *Model) Table(root string) (*Table, bool) {
	t, ok := m.tables[root]
	return t, ok
}

func (m *Model) Enum(name string) (*Enum, bool) {
	e, ok := m.enums[name]
	return e, ok
}

// Enums returns every enum, sorted by name.
func (m *Model) Enums() []*Enum {
	ret := make([]*Enum, 0, len(m.enums))
	for _, e := range m.enums {
		ret = append(ret, e)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name < ret[j].Name
	})
	return ret
}

func (m *Model) Expression(name string) (*Expression, bool) {
	e, ok := m.exprs[name]
	return e, ok
}

func (m *Model) resolve(idxs []int) []*Bitset {
	ret := make([]*Bitset, len(idxs))
	for i, idx := range idxs {
		ret[i] = m.bitsets[idx]
	}
	return ret
}
