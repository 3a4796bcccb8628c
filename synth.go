package isaspec

import (
	"fmt"
	"math/rand"
)

// Synthesize returns a word that the named bitset's effective pattern
// accepts on generation gen. Bits the pattern leaves open are random, assert
// fields hold their literal and bitset fields hold a synthesized word of a
// randomly chosen leaf of their root.
func (m *Model) Synthesize(bitset string, gen uint, rnd *rand.Rand) (BitVec, error) {
	bs, ok := m.Bitset(bitset)
	if !ok {
		return nil, fmt.Errorf("no bitset named %q", bitset)
	}
	return m.synthesize(bs, gen, rnd, 0)
}

func (m *Model) synthesize(bs *Bitset, gen uint, rnd *rand.Rand, depth int) (BitVec, error) {
	if depth > len(m.bitsets) {
		return nil, fmt.Errorf("%s: bitset fields nest too deeply", bs.Name)
	}
	if !bs.ValidFor(gen) {
		return nil, fmt.Errorf("%s: not valid for generation %d", bs.Name, gen)
	}
	if len(bs.Cases) == 0 {
		return nil, fmt.Errorf("%s: no cases", bs.Name)
	}

	word := NewBitVec(bs.Size)
	for i := range word {
		word[i] = rnd.Uint64()
	}
	word.truncate(bs.Size)

	c, ok := bs.DefaultCase()
	if !ok {
		c = &bs.Cases[0]
	}
	for fi := range c.Fields {
		f := &c.Fields[fi]
		switch t := f.Type.(type) {
		case AssertType:
			word.Insert(f.Low, f.assert, f.Width())
		case BitsetType:
			leaf, err := m.pickLeaf(t.Root, gen, rnd)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", bs.Name, f.Name, err)
			}
			sub, err := m.synthesize(leaf, gen, rnd, depth+1)
			if err != nil {
				return nil, err
			}
			word.Insert(f.Low, sub, f.Width())
		}
	}

	// The pattern goes last so that it wins over any field sharing its bits.
	sig := bs.Pattern.Significant()
	return word.AndNot(sig).Or(bs.Pattern.Exact.And(sig)), nil
}

// pickLeaf chooses a leaf of root that decodes unambiguously on gen.
func (m *Model) pickLeaf(root string, gen uint, rnd *rand.Rand) (*Bitset, error) {
	var ok []*Bitset
	for _, idx := range m.leafs[root] {
		bs := m.bitsets[idx]
		if bs.ValidFor(gen) && bs.HasDefault() && m.isolated[idx] {
			ok = append(ok, bs)
		}
	}
	if len(ok) == 0 {
		return nil, fmt.Errorf("root %q has no unambiguous leaf for generation %d", root, gen)
	}
	return ok[rnd.Intn(len(ok))], nil
}
