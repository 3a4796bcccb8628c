package isaspec

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
)

// BitVec is a little-endian vector of bits stored in 64-bit words. Bit 0 is
// the least significant bit of the first word.
//
// Operations treat words beyond the end of a shorter operand as zero, so a
// BitVec behaves like a single wide unsigned integer of arbitrary size.
type BitVec []uint64

func wordsFor(width uint) int {
	return int((width + 63) / 64)
}

// NewBitVec returns a zeroed vector able to hold width bits.
func NewBitVec(width uint) BitVec {
	return make(BitVec, wordsFor(width))
}

// BitVecFromUint64 returns a vector of the given width whose low word is v,
// truncated to width.
func BitVecFromUint64(width uint, v uint64) BitVec {
	ret := NewBitVec(width)
	if len(ret) == 0 {
		return ret
	}
	ret[0] = v
	ret.truncate(width)
	return ret
}

// ParseBitVec parses a hex (optionally "0x"-prefixed) or "0b"-prefixed binary
// literal of any length into a vector of the given width. Underscores are
// ignored so long words can be grouped.
func ParseBitVec(width uint, s string) (BitVec, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), "_", "")
	base := 16
	switch {
	case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
		base = 2
		s = s[2:]
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		s = s[2:]
	}
	if s == "" {
		return nil, fmt.Errorf("empty literal")
	}

	digitBits := uint(4)
	if base == 2 {
		digitBits = 1
	}
	ret := NewBitVec(width)
	for i := 0; i < len(s); i++ {
		d, err := strconv.ParseUint(s[len(s)-1-i:len(s)-i], base, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid digit %q in %q", s[len(s)-1-i], s)
		}
		for b := uint(0); b < digitBits; b++ {
			if d&(1<<b) == 0 {
				continue
			}
			pos := uint(i)*digitBits + b
			if pos >= width {
				return nil, fmt.Errorf("literal %q does not fit in %d bits", s, width)
			}
			ret.SetBit(pos, true)
		}
	}
	return ret, nil
}

func (v BitVec) word(i int) uint64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

// truncate clears every bit at or above width.
func (v BitVec) truncate(width uint) {
	for i := range v {
		lo := uint(i) * 64
		switch {
		case lo >= width:
			v[i] = 0
		case width-lo < 64:
			v[i] &= (1 << (width - lo)) - 1
		}
	}
}

// Bit reports whether bit i is set.
func (v BitVec) Bit(i uint) bool {
	return v.word(int(i/64))&(1<<(i%64)) != 0
}

// SetBit sets or clears bit i in place. The vector must be wide enough.
func (v BitVec) SetBit(i uint, on bool) {
	if on {
		v[i/64] |= 1 << (i % 64)
	} else {
		v[i/64] &^= 1 << (i % 64)
	}
}

func (v BitVec) combine(o BitVec, op func(a, b uint64) uint64) BitVec {
	n := len(v)
	if len(o) > n {
		n = len(o)
	}
	ret := make(BitVec, n)
	for i := range ret {
		ret[i] = op(v.word(i), o.word(i))
	}
	return ret
}

func (v BitVec) And(o BitVec) BitVec {
	return v.combine(o, func(a, b uint64) uint64 { return a & b })
}

func (v BitVec) Or(o BitVec) BitVec {
	return v.combine(o, func(a, b uint64) uint64 { return a | b })
}

func (v BitVec) Xor(o BitVec) BitVec {
	return v.combine(o, func(a, b uint64) uint64 { return a ^ b })
}

func (v BitVec) AndNot(o BitVec) BitVec {
	return v.combine(o, func(a, b uint64) uint64 { return a &^ b })
}

// Equal compares two vectors as wide integers.
func (v BitVec) Equal(o BitVec) bool {
	n := len(v)
	if len(o) > n {
		n = len(o)
	}
	for i := 0; i < n; i++ {
		if v.word(i) != o.word(i) {
			return false
		}
	}
	return true
}

func (v BitVec) IsZero() bool {
	for _, w := range v {
		if w != 0 {
			return false
		}
	}
	return true
}

func (v BitVec) OnesCount() int {
	n := 0
	for _, w := range v {
		n += bits.OnesCount64(w)
	}
	return n
}

func (v BitVec) Clone() BitVec {
	ret := make(BitVec, len(v))
	copy(ret, v)
	return ret
}

// Extract returns bits [low, high] shifted down to bit 0.
func (v BitVec) Extract(low, high uint) BitVec {
	width := high - low + 1
	ret := NewBitVec(width)
	shift := low % 64
	base := int(low / 64)
	for i := range ret {
		w := v.word(base+i) >> shift
		if shift != 0 {
			w |= v.word(base+i+1) << (64 - shift)
		}
		ret[i] = w
	}
	ret.truncate(width)
	return ret
}

// Uint64 returns bits [low, high], which must span at most 64 bits.
func (v BitVec) Uint64(low, high uint) uint64 {
	return v.Extract(low, high).word(0)
}

// Insert copies the low width bits of src into v starting at bit low.
func (v BitVec) Insert(low uint, src BitVec, width uint) {
	for i := uint(0); i < width; i++ {
		v.SetBit(low+i, src.Bit(i))
	}
}

// Binary renders the low width bits most significant first.
func (v BitVec) Binary(width uint) string {
	var b strings.Builder
	b.WriteString("0b")
	for i := int(width) - 1; i >= 0; i-- {
		if v.Bit(uint(i)) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
	}
	return b.String()
}

func (v BitVec) String() string {
	top := len(v) - 1
	for top > 0 && v[top] == 0 {
		top--
	}
	if top < 0 {
		return "0x0"
	}
	var b strings.Builder
	b.WriteString("0x")
	for i := top; i >= 0; i-- {
		if i == top {
			fmt.Fprintf(&b, "%x", v[i])
		} else {
			fmt.Fprintf(&b, "%016x", v[i])
		}
	}
	return b.String()
}
