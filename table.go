package isaspec

// maxKeyBits bounds the bucket key so a table never has more than 64K
// buckets.
const maxKeyBits = 16

// Table is the decode table of one root. Every leaf of the root constrains
// all of KeyBits exactly, so the key bits of a word select the only bucket
// whose leafs can possibly match it, the same way a major opcode partitions
// a conventional instruction set.
type Table struct {
	Root string
	Size uint

	// KeyBits are bit positions, most significant first.
	KeyBits []uint

	// Buckets maps a key value to bitset indices in the model's arena.
	Buckets map[uint64][]int
}

func buildTable(root string, size uint, leafs []*Bitset) *Table {
	t := &Table{
		Root:    root,
		Size:    size,
		Buckets: make(map[uint64][]int),
	}
	if len(leafs) == 0 {
		return t
	}

	common := leafs[0].Pattern.Significant()
	for _, l := range leafs[1:] {
		common = common.And(l.Pattern.Significant())
	}

	// A bit every leaf agrees on cannot split them, so only bits that
	// take both values among the leafs are useful as key bits.
	for i := int(size) - 1; i >= 0 && len(t.KeyBits) < maxKeyBits; i-- {
		pos := uint(i)
		if !common.Bit(pos) {
			continue
		}
		first := leafs[0].Pattern.Exact.Bit(pos)
		for _, l := range leafs[1:] {
			if l.Pattern.Exact.Bit(pos) != first {
				t.KeyBits = append(t.KeyBits, pos)
				break
			}
		}
	}

	for _, l := range leafs {
		k := t.key(l.Pattern.Exact)
		t.Buckets[k] = append(t.Buckets[k], l.Index)
	}
	return t
}

func (t *Table) key(word BitVec) uint64 {
	var k uint64
	for _, pos := range t.KeyBits {
		k <<= 1
		if word.Bit(pos) {
			k |= 1
		}
	}
	return k
}

// Candidates returns the indices of the leafs that may match word.
func (t *Table) Candidates(word BitVec) []int {
	return t.Buckets[t.key(word)]
}
