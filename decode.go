package isaspec

import (
	"errors"
	"fmt"
	"strings"
)

// DecodedValue is one decoded field. Raw always holds the field's bits (the
// low 64 of them for nested bitsets); Value is the interpreted integer.
type DecodedValue struct {
	Name    string
	Type    FieldType
	Raw     uint64
	Value   int64
	Display string // enum name, for enum fields
	Nested  *DecodeResult
}

// DecodeResult describes the leaf a word matched and its decoded fields.
type DecodeResult struct {
	Root    string
	Bitset  string
	Case    int // index into the bitset's effective Cases
	Display string
	Fields  map[string]DecodedValue
	Nested  map[string]*DecodeResult

	// Order lists the field names in case order.
	Order []string
}

func (r *DecodeResult) Field(name string) (DecodedValue, bool) {
	v, ok := r.Fields[name]
	return v, ok
}

// Decode finds the leaf of root that word encodes on hardware generation gen
// and decodes its fields.
//
// Failures are *DecodeError values. UnknownEnumValue is the one failure that
// still returns a complete result, with the raw value of the offending field.
func (m *Model) Decode(root string, gen uint, word BitVec) (*DecodeResult, error) {
	return m.decode(root, gen, word, nil)
}

// DecodeUint64 decodes a word of at most 64 bits.
func (m *Model) DecodeUint64(root string, gen uint, word uint64) (*DecodeResult, error) {
	size, ok := m.rootSize[root]
	if !ok || size > 64 {
		size = 64
	}
	return m.Decode(root, gen, BitVecFromUint64(size, word))
}

type candidate struct {
	bs      *Bitset
	cs      int
	viaDisc bool
}

func (m *Model) decode(root string, gen uint, word BitVec, params map[string]int64) (*DecodeResult, error) {
	t, ok := m.tables[root]
	if !ok {
		return nil, &DecodeError{Kind: NoMatch, Root: root, Msg: "no such root"}
	}

	var found []candidate
	for _, idx := range t.Candidates(word) {
		bs := m.bitsets[idx]
		// Generation first: a pattern that fits but belongs to another
		// generation must never be selected.
		if !bs.ValidFor(gen) {
			continue
		}
		if !bs.Pattern.Matches(word) {
			continue
		}
		cs, viaDisc, err := m.selectCase(root, bs, word, params)
		if err != nil {
			return nil, err
		}
		if cs < 0 {
			continue
		}
		found = append(found, candidate{bs: bs, cs: cs, viaDisc: viaDisc})
	}

	if len(found) > 1 {
		var narrowed []candidate
		for _, c := range found {
			if c.viaDisc {
				narrowed = append(narrowed, c)
			}
		}
		if len(narrowed) > 0 {
			found = narrowed
		}
	}

	switch len(found) {
	case 0:
		return nil, &DecodeError{Kind: NoMatch, Root: root, Msg: fmt.Sprintf("%s at generation %d", word, gen)}
	case 1:
		return m.decodeFields(root, gen, found[0].bs, found[0].cs, word, params)
	default:
		names := make([]string, len(found))
		for i, c := range found {
			names[i] = c.bs.Name
		}
		return nil, &DecodeError{Kind: Ambiguous, Root: root, Msg: fmt.Sprintf("%s matches %s", word, strings.Join(names, ", "))}
	}
}

// selectCase returns the first case of bs that applies to word, and whether
// it was chosen by a discriminator rather than by default. It returns -1 when
// no case applies.
func (m *Model) selectCase(root string, bs *Bitset, word BitVec, params map[string]int64) (int, bool, error) {
	for ci := range bs.Cases {
		c := &bs.Cases[ci]
		if c.Discriminator == "" {
			return ci, false, nil
		}
		sc := newScope(m, root, bs, c, word, params)
		v, err := sc.eval(c.Discriminator)
		if err != nil {
			return -1, false, err
		}
		if v != 0 {
			return ci, true, nil
		}
	}
	return -1, false, nil
}

func (m *Model) decodeFields(root string, gen uint, bs *Bitset, ci int, word BitVec, params map[string]int64) (*DecodeResult, error) {
	c := &bs.Cases[ci]
	sc := newScope(m, root, bs, c, word, params)
	res := &DecodeResult{
		Root:    root,
		Bitset:  bs.Name,
		Case:    ci,
		Display: c.Display,
		Fields:  make(map[string]DecodedValue, len(c.Fields)),
		Nested:  make(map[string]*DecodeResult),
	}

	var enumErr error
	for fi := range c.Fields {
		f := &c.Fields[fi]
		if f.Expr != "" {
			on, err := sc.eval(f.Expr)
			if err != nil {
				return nil, err
			}
			if on == 0 {
				continue
			}
		}

		dv := DecodedValue{Name: f.Name, Type: f.Type}
		switch t := f.Type.(type) {
		case Raw:
			dv.Raw, dv.Value = f.raw(word)

		case EnumType:
			dv.Raw, dv.Value = f.raw(word)
			if s, ok := m.enums[t.Enum].Lookup(dv.Raw); ok {
				dv.Display = s
			} else if enumErr == nil {
				enumErr = &DecodeError{Kind: UnknownEnumValue, Root: root, Bitset: bs.Name, Field: f.Name,
					Msg: fmt.Sprintf("%d is not a value of enum %q", dv.Raw, t.Enum)}
			}

		case ExprType:
			var v int64
			var err error
			if f.Name != "" {
				v, err = sc.lookup(f.Name)
			} else {
				v, err = sc.eval(t.Expr)
			}
			if err != nil {
				return nil, err
			}
			dv.Raw, dv.Value = uint64(v), v

		case BitsetType:
			var np map[string]int64
			for _, p := range f.Params {
				v, err := sc.lookup(p.Name)
				if err != nil {
					return nil, err
				}
				if np == nil {
					np = make(map[string]int64, len(f.Params))
				}
				as := p.As
				if as == "" {
					as = p.Name
				}
				np[as] = v
			}
			nested, err := m.decode(t.Root, gen, word.Extract(f.Low, f.High), np)
			if err != nil {
				if nested == nil {
					return nil, fmt.Errorf("%s/%s.%s: %w", root, bs.Name, f.Name, err)
				}
				if enumErr == nil {
					enumErr = err
				}
			}
			dv.Raw, dv.Value = f.raw(word)
			dv.Nested = nested
			if f.Name != "" {
				res.Nested[f.Name] = nested
			}

		case AssertType:
			got := word.Extract(f.Low, f.High)
			if !got.Equal(f.assert) {
				return nil, &DecodeError{Kind: AssertionFailed, Root: root, Bitset: bs.Name, Field: f.Name,
					Msg: fmt.Sprintf("bits [%d:%d] are %s, want %s", f.Low, f.High, got.Binary(f.Width()), f.assert.Binary(f.Width()))}
			}
			dv.Raw, dv.Value = f.raw(word)
		}

		if f.Name == "" {
			continue
		}
		res.Fields[f.Name] = dv
		res.Order = append(res.Order, f.Name)
	}

	if enumErr != nil {
		return res, enumErr
	}
	return res, nil
}

// scope resolves expression references while decoding one case of one
// word. Values are memoized, so every expression is evaluated at most once.
type scope struct {
	m      *Model
	root   string
	bs     *Bitset
	c      *Case
	word   BitVec
	params map[string]int64
	vals   map[string]int64
	busy   map[string]bool
}

func newScope(m *Model, root string, bs *Bitset, c *Case, word BitVec, params map[string]int64) *scope {
	return &scope{
		m:      m,
		root:   root,
		bs:     bs,
		c:      c,
		word:   word,
		params: params,
		vals:   make(map[string]int64),
		busy:   make(map[string]bool),
	}
}

func (s *scope) lookup(name string) (int64, error) {
	if v, ok := s.vals[name]; ok {
		return v, nil
	}
	if s.busy[name] {
		return 0, &DecodeError{Kind: EvalError, Root: s.root, Bitset: s.bs.Name, Field: name, Msg: "reference cycle"}
	}
	s.busy[name] = true
	defer delete(s.busy, name)

	v, err := s.resolve(name)
	if err != nil {
		return 0, err
	}
	s.vals[name] = v
	return v, nil
}

// resolve looks name up as a field of the case, then as a parameter from the
// enclosing decode, then as a named expression.
func (s *scope) resolve(name string) (int64, error) {
	if f, ok := s.c.Field(name); ok {
		if t, ok := f.Type.(ExprType); ok {
			return s.eval(t.Expr)
		}
		_, v := f.raw(s.word)
		return v, nil
	}
	if v, ok := s.params[name]; ok {
		return v, nil
	}
	if _, ok := s.m.exprs[name]; ok {
		return s.eval(name)
	}
	return 0, &DecodeError{Kind: Unresolved, Root: s.root, Bitset: s.bs.Name, Field: name,
		Msg: "no field, parameter or expression of this name"}
}

func (s *scope) eval(name string) (int64, error) {
	e := s.m.exprs[name]
	v, err := e.Eval(s.lookup)
	if err != nil {
		var de *DecodeError
		if errors.As(err, &de) {
			return 0, err
		}
		return 0, &DecodeError{Kind: EvalError, Root: s.root, Bitset: s.bs.Name,
			Msg: fmt.Sprintf("%s: %s", e.Source, err)}
	}
	return v, nil
}
