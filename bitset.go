package isaspec

// MaxGen is the upper generation bound of a bitset that declares none.
const MaxGen = ^uint(0)

// GenRange restricts a bitset to hardware generations [Min, Max]. A zero Max
// means no upper bound, so the zero GenRange admits every generation.
type GenRange struct {
	Min uint
	Max uint
}

// Case is one field layout of a bitset. A case with a Discriminator only
// applies when that expression evaluates non-zero; a case without one is the
// bitset's default.
type Case struct {
	Fields        []Field
	Discriminator string
	Display       string

	byName map[string]int
}

// Field returns the named field of c.
func (c *Case) Field(name string) (*Field, bool) {
	if c.byName != nil {
		i, ok := c.byName[name]
		if !ok {
			return nil, false
		}
		return &c.Fields[i], true
	}
	for i := range c.Fields {
		if c.Fields[i].Name == name {
			return &c.Fields[i], true
		}
	}
	return nil, false
}

func (c *Case) index() {
	c.byName = make(map[string]int, len(c.Fields))
	for i, f := range c.Fields {
		if f.Name != "" {
			c.byName[f.Name] = i
		}
	}
}

// Bitset is one node of the encoding hierarchy. Everything but Own and
// Declared is resolved against the parent chain.
type Bitset struct {
	Name   string
	Index  int
	Parent int // -1 for none
	Size   uint
	GenMin uint
	GenMax uint

	// Own is the pattern declared on this bitset alone; Pattern is the
	// effective pattern merged with every ancestor.
	Own     BitPattern
	Pattern BitPattern

	// Declared holds the cases as written. Cases holds the effective cases
	// with inherited fields layered in: discriminated cases first, in
	// evaluation order, then the default case if there is one.
	Declared []Case
	Cases    []Case

	Children []int

	hasDefault bool
	overrides  []Case
	base       []Field
	baseShow   string
}

// Abstract reports whether other bitsets extend b.
func (b *Bitset) Abstract() bool {
	return len(b.Children) > 0
}

// HasDefault reports whether b decodes even when none of its discriminated
// cases apply.
func (b *Bitset) HasDefault() bool {
	return b.hasDefault
}

// Discriminated reports whether b has at least one discriminated case.
func (b *Bitset) Discriminated() bool {
	return len(b.overrides) > 0
}

// ValidFor reports whether gen is within b's generation range.
func (b *Bitset) ValidFor(gen uint) bool {
	return gen >= b.GenMin && gen <= b.GenMax
}

// DefaultCase returns the case used when no discriminator applies.
func (b *Bitset) DefaultCase() (*Case, bool) {
	if !b.hasDefault {
		return nil, false
	}
	return &b.Cases[len(b.Cases)-1], true
}

// layerFields returns base with every field of over replacing the base field
// of the same name, and unnamed or new fields appended.
func layerFields(base, over []Field) []Field {
	ret := make([]Field, len(base), len(base)+len(over))
	copy(ret, base)
	for _, f := range over {
		replaced := false
		if f.Name != "" {
			for i := range ret {
				if ret[i].Name == f.Name {
					ret[i] = f
					replaced = true
					break
				}
			}
		}
		if !replaced {
			ret = append(ret, f)
		}
	}
	return ret
}
