package isaspec

import (
	"fmt"
	"strings"
)

// BitPattern is a set of constraints over a fixed-width word.
//
// Mask marks every bit the pattern says anything about. Of those, DontCare
// marks the ones explicitly declared as "x" and Exact holds the required
// value of the rest. Exact and DontCare never overlap.
type BitPattern struct {
	Exact    BitVec
	DontCare BitVec
	Mask     BitVec
	Width    uint
}

// NewBitPattern returns a pattern of the given width that constrains nothing.
func NewBitPattern(width uint) BitPattern {
	return BitPattern{
		Exact:    NewBitVec(width),
		DontCare: NewBitVec(width),
		Mask:     NewBitVec(width),
		Width:    width,
	}
}

// Place constrains bits [low, high] to the literal bits, written most
// significant first using '0', '1' and 'x' (don't care). It refuses to
// constrain a bit twice.
func (p BitPattern) Place(low, high uint, lit string) error {
	if low > high || high >= p.Width {
		return fmt.Errorf("range [%d:%d] outside %d-bit word", low, high, p.Width)
	}
	lit = strings.ReplaceAll(lit, "_", "")
	if uint(len(lit)) != high-low+1 {
		return fmt.Errorf("literal %q is %d bits wide, range [%d:%d] needs %d", lit, len(lit), low, high, high-low+1)
	}
	for i := 0; i < len(lit); i++ {
		pos := high - uint(i)
		if p.Mask.Bit(pos) {
			return fmt.Errorf("bit %d is constrained twice", pos)
		}
		switch lit[i] {
		case '0':
		case '1':
			p.Exact.SetBit(pos, true)
		case 'x', 'X':
			p.DontCare.SetBit(pos, true)
		default:
			return fmt.Errorf("invalid pattern character %q in %q", lit[i], lit)
		}
		p.Mask.SetBit(pos, true)
	}
	return nil
}

// Merge layers child on top of parent: where the child constrains a bit its
// value wins, everywhere else the parent's constraint is inherited.
func Merge(parent, child BitPattern) BitPattern {
	width := child.Width
	if parent.Width > width {
		width = parent.Width
	}
	return BitPattern{
		Exact:    child.Exact.And(child.Mask).Or(parent.Exact.AndNot(child.Mask)),
		DontCare: child.DontCare.And(child.Mask).Or(parent.DontCare.AndNot(child.Mask)),
		Mask:     parent.Mask.Or(child.Mask),
		Width:    width,
	}
}

// Significant returns the bits whose value the pattern actually tests.
func (p BitPattern) Significant() BitVec {
	return p.Mask.AndNot(p.DontCare)
}

// Matches reports whether word satisfies every significant bit of p.
func (p BitPattern) Matches(word BitVec) bool {
	for i := range p.Mask {
		sig := p.Mask[i] &^ p.DontCare[i]
		if word.word(i)&sig != p.Exact[i]&sig {
			return false
		}
	}
	return true
}

// Overlaps reports whether some word satisfies both p and o.
func (p BitPattern) Overlaps(o BitPattern) bool {
	common := p.Significant().And(o.Significant())
	return p.Exact.Xor(o.Exact).And(common).IsZero()
}

// Covers reports whether p constrains at least every bit o constrains.
func (p BitPattern) Covers(o BitPattern) bool {
	return o.Mask.AndNot(p.Mask).IsZero()
}

// String renders the pattern most significant bit first, with '.' for bits
// the pattern does not constrain.
func (p BitPattern) String() string {
	var b strings.Builder
	for i := int(p.Width) - 1; i >= 0; i-- {
		pos := uint(i)
		switch {
		case !p.Mask.Bit(pos):
			b.WriteByte('.')
		case p.DontCare.Bit(pos):
			b.WriteByte('x')
		case p.Exact.Bit(pos):
			b.WriteByte('1')
		default:
			b.WriteByte('0')
		}
	}
	return b.String()
}
