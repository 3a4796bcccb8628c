package isaspec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// PatternDecl constrains bits [Low, High] to Bits, written most significant
// bit first with 'x' for don't care. Set Low == High for a single bit.
type PatternDecl struct {
	Low  uint
	High uint
	Bits string
}

// BitsetDecl declares one bitset.
type BitsetDecl struct {
	Name    string
	Extends string

	// Size is the word width. Zero inherits the parent's, or the builder's
	// bitsize for a bitset without a parent.
	Size uint

	Gen      GenRange
	Patterns []PatternDecl
	Cases    []Case

	// Roots lists the decode roots this bitset is an entry point of. Every
	// descendant of an entry point is reachable from the root.
	Roots []string
}

// Builder accumulates declarations. Build consumes it exactly once.
type Builder struct {
	bitsize uint
	bitsets []BitsetDecl
	enums   []*Enum
	exprs   [][2]string
	built   bool
}

var errBuilderUsed = errors.New("builder has already been built")

// NewBuilder returns an empty builder whose bitsets default to bitsize bits.
func NewBuilder(bitsize uint) *Builder {
	return &Builder{bitsize: bitsize}
}

// Enum declares a named enum. The values map is copied.
func (b *Builder) Enum(name string, values map[uint64]string) {
	e := &Enum{Name: name, Values: make(map[uint64]string, len(values))}
	for k, v := range values {
		e.Values[k] = v
	}
	b.enums = append(b.enums, e)
}

// Expr declares a named expression.
func (b *Builder) Expr(name, src string) {
	b.exprs = append(b.exprs, [2]string{name, src})
}

// Bitset declares a bitset. Parents may be declared after their children.
func (b *Builder) Bitset(d BitsetDecl) {
	b.bitsets = append(b.bitsets, d)
}

// Build resolves every declaration into a Model. It fails on the first
// configuration problem and never returns a partial model; errors are
// *ConfigError values, or several of them joined for ambiguous patterns.
func (b *Builder) Build() (*Model, error) {
	if b.built {
		return nil, errBuilderUsed
	}
	b.built = true

	bd := &build{
		b:     b,
		decls: b.bitsets,
		m: &Model{
			Bitsize:  b.bitsize,
			byName:   make(map[string]int),
			enums:    make(map[string]*Enum),
			exprs:    make(map[string]*Expression),
			roots:    make(map[string][]int),
			leafs:    make(map[string][]int),
			rootSize: make(map[string]uint),
			tables:   make(map[string]*Table),
			nested:   make(map[string]bool),
		},
	}
	steps := []func() error{
		bd.registries,
		bd.arena,
		bd.parents,
		bd.fold,
		bd.resolveRoots,
		bd.validateFields,
		bd.checkExprCycles,
		bd.checkAmbiguity,
		bd.buildTables,
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return bd.m, nil
}

type build struct {
	b     *Builder
	m     *Model
	decls []BitsetDecl
	order []int // parents before children
}

func (bd *build) registries() error {
	m := bd.m
	for _, e := range bd.b.enums {
		if _, exists := m.enums[e.Name]; exists {
			return configErrorf(DuplicateName, e.Name, "enum declared twice")
		}
		m.enums[e.Name] = e
	}
	for _, decl := range bd.b.exprs {
		name, src := decl[0], decl[1]
		if _, exists := m.exprs[name]; exists {
			return configErrorf(DuplicateName, name, "expression declared twice")
		}
		e, err := ParseExpression(name, src)
		if err != nil {
			return configErrorf(InvalidExpression, name, "%s: %s", src, err)
		}
		m.exprs[name] = e
	}
	return nil
}

func (bd *build) arena() error {
	m := bd.m
	for i, d := range bd.decls {
		if d.Name == "" {
			return configErrorf(DuplicateName, "", "bitset %d has no name", i)
		}
		if _, exists := m.byName[d.Name]; exists {
			return configErrorf(DuplicateName, d.Name, "bitset declared twice")
		}
		m.byName[d.Name] = i
		m.bitsets = append(m.bitsets, &Bitset{
			Name:   d.Name,
			Index:  i,
			Parent: -1,
		})
	}
	return nil
}

func (bd *build) parents() error {
	m := bd.m
	for i, d := range bd.decls {
		if d.Extends == "" {
			continue
		}
		p, ok := m.byName[d.Extends]
		if !ok {
			return configErrorf(UnknownParent, d.Name, "extends undeclared bitset %q", d.Extends)
		}
		m.bitsets[i].Parent = p
	}

	// A chain longer than the arena must revisit some bitset.
	depth := make([]int, len(m.bitsets))
	for i, bs := range m.bitsets {
		chain := []string{bs.Name}
		for p := bs.Parent; p >= 0; p = m.bitsets[p].Parent {
			depth[i]++
			chain = append(chain, m.bitsets[p].Name)
			if depth[i] > len(m.bitsets) {
				return configErrorf(CyclicInheritance, bs.Name, "%s", strings.Join(chain[:len(m.bitsets)+1], " -> "))
			}
		}
	}

	for i, bs := range m.bitsets {
		if bs.Parent >= 0 {
			parent := m.bitsets[bs.Parent]
			parent.Children = append(parent.Children, i)
		}
		bd.order = append(bd.order, i)
	}
	sort.SliceStable(bd.order, func(a, b int) bool {
		return depth[bd.order[a]] < depth[bd.order[b]]
	})
	return nil
}

// fold computes sizes, effective patterns, generation ranges and effective
// cases, visiting every parent before its children.
func (bd *build) fold() error {
	m := bd.m
	for _, i := range bd.order {
		bs, d := m.bitsets[i], bd.decls[i]
		var parent *Bitset
		if bs.Parent >= 0 {
			parent = m.bitsets[bs.Parent]
		}

		size := d.Size
		switch {
		case parent != nil && size == 0:
			size = parent.Size
		case parent != nil && size != parent.Size:
			return configErrorf(InvalidPattern, bs.Name, "size %d differs from parent %q size %d", size, parent.Name, parent.Size)
		case size == 0:
			size = bd.b.bitsize
		}
		if size == 0 {
			return configErrorf(InvalidPattern, bs.Name, "no word size")
		}
		bs.Size = size

		bs.Own = NewBitPattern(size)
		for _, pd := range d.Patterns {
			if err := bs.Own.Place(pd.Low, pd.High, pd.Bits); err != nil {
				return configErrorf(InvalidPattern, bs.Name, "%s", err)
			}
		}
		bs.Pattern = bs.Own
		if parent != nil {
			bs.Pattern = Merge(parent.Pattern, bs.Own)
		}

		lo, hi := d.Gen.Min, d.Gen.Max
		if hi == 0 {
			hi = MaxGen
		}
		if lo > hi {
			return configErrorf(InvalidGenRange, bs.Name, "min %d above max %d", lo, hi)
		}
		if parent != nil {
			if parent.GenMin > lo {
				lo = parent.GenMin
			}
			if parent.GenMax < hi {
				hi = parent.GenMax
			}
			if lo > hi {
				return configErrorf(InvalidGenRange, bs.Name, "range does not intersect parent %q", parent.Name)
			}
		}
		bs.GenMin, bs.GenMax = lo, hi

		if err := bd.foldCases(bs, parent, d.Cases); err != nil {
			return err
		}
	}
	return nil
}

func (bd *build) foldCases(bs, parent *Bitset, declared []Case) error {
	bs.Declared = make([]Case, len(declared))
	copy(bs.Declared, declared)

	var ownDefault *Case
	var overrides []Case
	for ci := range declared {
		c := declared[ci]
		seen := make(map[string]bool, len(c.Fields))
		for _, f := range c.Fields {
			if f.Name == "" {
				continue
			}
			if seen[f.Name] {
				return configErrorf(DuplicateName, bs.Name, "field %q declared twice in one case", f.Name)
			}
			seen[f.Name] = true
		}
		if c.Discriminator != "" {
			overrides = append(overrides, c)
			continue
		}
		if ownDefault != nil {
			return configErrorf(InvalidField, bs.Name, "more than one case without a discriminator")
		}
		ownDefault = &c
	}

	if parent != nil {
		bs.base = parent.base
		bs.baseShow = parent.baseShow
		overrides = append(overrides, parent.overrides...)
	}
	if ownDefault != nil {
		bs.base = layerFields(bs.base, ownDefault.Fields)
		if ownDefault.Display != "" {
			bs.baseShow = ownDefault.Display
		}
	}
	bs.overrides = overrides
	bs.hasDefault = ownDefault != nil || (len(declared) == 0 && (parent == nil || parent.hasDefault))

	bs.Cases = bs.Cases[:0]
	for _, ov := range overrides {
		c := Case{
			Fields:        layerFields(bs.base, ov.Fields),
			Discriminator: ov.Discriminator,
			Display:       ov.Display,
		}
		if c.Display == "" {
			c.Display = bs.baseShow
		}
		bs.Cases = append(bs.Cases, c)
	}
	if bs.hasDefault {
		bs.Cases = append(bs.Cases, Case{
			Fields:  layerFields(nil, bs.base),
			Display: bs.baseShow,
		})
	}
	for ci := range bs.Cases {
		bs.Cases[ci].index()
	}
	return nil
}

func (bd *build) resolveRoots() error {
	m := bd.m
	for i, d := range bd.decls {
		for _, root := range d.Roots {
			m.roots[root] = appendUnique(m.roots[root], i)
		}
	}

	for root, bases := range m.roots {
		size := m.bitsets[bases[0]].Size
		for _, idx := range bases[1:] {
			if m.bitsets[idx].Size != size {
				return configErrorf(InvalidPattern, m.bitsets[idx].Name, "root %q mixes %d-bit and %d-bit entry points", root, size, m.bitsets[idx].Size)
			}
		}
		m.rootSize[root] = size

		seen := make(map[int]bool)
		var visit func(int)
		visit = func(idx int) {
			if seen[idx] {
				return
			}
			seen[idx] = true
			bs := m.bitsets[idx]
			if !bs.Abstract() {
				m.leafs[root] = append(m.leafs[root], idx)
			}
			for _, c := range bs.Children {
				visit(c)
			}
		}
		for _, idx := range bases {
			visit(idx)
		}
		leafs := m.leafs[root]
		sort.Slice(leafs, func(a, b int) bool {
			return m.bitsets[leafs[a]].Name < m.bitsets[leafs[b]].Name
		})
	}
	return nil
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func (bd *build) validateFields() error {
	for _, bs := range bd.m.bitsets {
		for ci := range bs.Cases {
			if err := bd.validateCase(bs, &bs.Cases[ci]); err != nil {
				return err
			}
		}
	}
	return nil
}

func (bd *build) validateCase(bs *Bitset, c *Case) error {
	m := bd.m
	var ranged []*Field
	for fi := range c.Fields {
		f := &c.Fields[fi]
		if f.Type == nil {
			f.Type = Raw{}
		}
		if !f.Derived() {
			if f.Low > f.High || f.High >= bs.Size {
				return configErrorf(InvalidField, bs.Name, "field %q range [%d:%d] outside %d-bit word", f.Name, f.Low, f.High, bs.Size)
			}
			ranged = append(ranged, f)
		}

		switch t := f.Type.(type) {
		case Raw:
			if f.Width() > 64 {
				return configErrorf(InvalidField, bs.Name, "integer field %q is wider than 64 bits", f.Name)
			}
		case EnumType:
			if _, ok := m.enums[t.Enum]; !ok {
				return configErrorf(UnknownReference, bs.Name, "field %q uses undeclared enum %q", f.Name, t.Enum)
			}
			if f.Width() > 64 {
				return configErrorf(InvalidField, bs.Name, "enum field %q is wider than 64 bits", f.Name)
			}
		case BitsetType:
			size, ok := m.rootSize[t.Root]
			if !ok {
				return configErrorf(UnknownReference, bs.Name, "field %q decodes through undeclared root %q", f.Name, t.Root)
			}
			if size != f.Width() {
				return configErrorf(InvalidField, bs.Name, "field %q is %d bits wide but root %q decodes %d-bit words", f.Name, f.Width(), t.Root, size)
			}
			m.nested[t.Root] = true
		case ExprType:
			if _, ok := m.exprs[t.Expr]; !ok {
				return configErrorf(UnknownReference, bs.Name, "field %q uses undeclared expression %q", f.Name, t.Expr)
			}
		case AssertType:
			v, err := parseAssert(t.Value, f.Width())
			if err != nil {
				return configErrorf(InvalidField, bs.Name, "field %q: %s", f.Name, err)
			}
			f.assert = v
		default:
			return configErrorf(InvalidField, bs.Name, "field %q has unsupported type %T", f.Name, f.Type)
		}

		if f.Expr != "" {
			if _, ok := m.exprs[f.Expr]; !ok {
				return configErrorf(UnknownReference, bs.Name, "field %q is guarded by undeclared expression %q", f.Name, f.Expr)
			}
		}
		for _, p := range f.Params {
			if _, ok := c.Field(p.Name); ok {
				continue
			}
			if _, ok := m.exprs[p.Name]; ok {
				continue
			}
			return configErrorf(UnknownReference, bs.Name, "field %q passes unknown parameter %q", f.Name, p.Name)
		}
	}
	if c.Discriminator != "" {
		if _, ok := m.exprs[c.Discriminator]; !ok {
			return configErrorf(UnknownReference, bs.Name, "case discriminated by undeclared expression %q", c.Discriminator)
		}
	}

	sort.SliceStable(ranged, func(a, b int) bool {
		return ranged[a].Low < ranged[b].Low
	})
	// prev is the field reaching highest so far.
	var prev *Field
	for _, f := range ranged {
		if prev != nil && f.Low <= prev.High {
			return configErrorf(OverlappingFieldRanges, bs.Name, "field %q [%d:%d] overlaps %q [%d:%d]",
				f.Name, f.Low, f.High, prev.Name, prev.Low, prev.High)
		}
		if prev == nil || f.High > prev.High {
			prev = f
		}
	}
	return nil
}

func parseAssert(lit string, width uint) (BitVec, error) {
	lit = strings.ReplaceAll(lit, "_", "")
	lit = strings.TrimPrefix(strings.TrimPrefix(lit, "0b"), "0B")
	if uint(len(lit)) != width {
		return nil, fmt.Errorf("assert literal %q is %d bits wide, field needs %d", lit, len(lit), width)
	}
	ret := NewBitVec(width)
	for i := 0; i < len(lit); i++ {
		switch lit[i] {
		case '0':
		case '1':
			ret.SetBit(width-1-uint(i), true)
		default:
			return nil, fmt.Errorf("invalid assert digit %q in %q", lit[i], lit)
		}
	}
	return ret, nil
}

// checkExprCycles walks the dependency graph of every effective case: a
// derived field depends on its expression, and an expression on every field
// or expression it references. Expressions no case refers to are walked on
// their own afterwards.
func (bd *build) checkExprCycles() error {
	for _, bs := range bd.m.bitsets {
		for ci := range bs.Cases {
			c := &bs.Cases[ci]
			g := &exprGraph{m: bd.m, c: c, state: make(map[string]int)}
			var starts []string
			for _, f := range c.Fields {
				if f.Name != "" {
					starts = append(starts, "field "+f.Name)
				}
				if f.Expr != "" {
					starts = append(starts, "expr "+f.Expr)
				}
				for _, p := range f.Params {
					if _, ok := c.Field(p.Name); !ok {
						starts = append(starts, "expr "+p.Name)
					}
				}
			}
			if c.Discriminator != "" {
				starts = append(starts, "expr "+c.Discriminator)
			}
			for _, n := range starts {
				if cycle := g.visit(n); cycle != nil {
					return configErrorf(CyclicExpressionDependency, bs.Name, "%s", strings.Join(cycle, " -> "))
				}
			}
		}
	}

	names := make([]string, 0, len(bd.m.exprs))
	for name := range bd.m.exprs {
		names = append(names, name)
	}
	sort.Strings(names)
	g := &exprGraph{m: bd.m, c: &Case{}, state: make(map[string]int)}
	for _, name := range names {
		if cycle := g.visit("expr " + name); cycle != nil {
			return configErrorf(CyclicExpressionDependency, name, "%s", strings.Join(cycle, " -> "))
		}
	}
	return nil
}

type exprGraph struct {
	m     *Model
	c     *Case
	state map[string]int // 1 on the DFS stack, 2 done
	stack []string
}

func (g *exprGraph) deps(node string) []string {
	kind, name, _ := strings.Cut(node, " ")
	if kind == "field" {
		f, ok := g.c.Field(name)
		if !ok {
			return nil
		}
		if t, ok := f.Type.(ExprType); ok {
			return []string{"expr " + t.Expr}
		}
		return nil
	}
	e, ok := g.m.exprs[name]
	if !ok {
		return nil
	}
	var ret []string
	for _, ref := range e.Refs {
		if _, ok := g.c.Field(ref); ok {
			ret = append(ret, "field "+ref)
		} else if _, ok := g.m.exprs[ref]; ok {
			ret = append(ret, "expr "+ref)
		}
	}
	return ret
}

// visit returns the cycle through node, if any.
func (g *exprGraph) visit(node string) []string {
	switch g.state[node] {
	case 2:
		return nil
	case 1:
		for i, n := range g.stack {
			if n == node {
				return append(append([]string(nil), g.stack[i:]...), node)
			}
		}
	}
	g.state[node] = 1
	g.stack = append(g.stack, node)
	for _, dep := range g.deps(node) {
		if cycle := g.visit(dep); cycle != nil {
			return cycle
		}
	}
	g.stack = g.stack[:len(g.stack)-1]
	g.state[node] = 2
	return nil
}

// checkAmbiguity rejects leafs of one root that some word could match
// together when both would fall back to a default case for it. A leaf
// without a default only decodes through its discriminators, which rank
// above any default.
func (bd *build) checkAmbiguity() error {
	m := bd.m
	m.isolated = make([]bool, len(m.bitsets))
	for i := range m.isolated {
		m.isolated[i] = true
	}

	var errs []error
	reported := make(map[[2]int]bool)
	for _, root := range m.Roots() {
		leafs := m.leafs[root]
		for i := 0; i < len(leafs); i++ {
			for j := i + 1; j < len(leafs); j++ {
				a, b := m.bitsets[leafs[i]], m.bitsets[leafs[j]]
				if a.GenMin > b.GenMax || b.GenMin > a.GenMax {
					continue
				}
				if !a.Pattern.Overlaps(b.Pattern) {
					continue
				}
				m.isolated[a.Index] = false
				m.isolated[b.Index] = false
				if !a.HasDefault() || !b.HasDefault() {
					continue
				}
				pair := [2]int{a.Index, b.Index}
				if reported[pair] {
					continue
				}
				reported[pair] = true
				errs = append(errs, configErrorf(AmbiguousPattern, a.Name, "overlaps %q under root %q:\n  %s\n  %s", b.Name, root, a.Pattern, b.Pattern))
			}
		}
	}
	return errors.Join(errs...)
}

func (bd *build) buildTables() error {
	m := bd.m
	for root := range m.roots {
		m.tables[root] = buildTable(root, m.rootSize[root], m.resolve(m.leafs[root]))
	}
	return nil
}
