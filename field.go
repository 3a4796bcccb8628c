package isaspec

// FieldType says how the bits of a field are interpreted. It is one of Raw,
// BitsetType, EnumType, ExprType or AssertType.
type FieldType interface{ isFieldType() }

// RawFormat selects how a Raw field's bits turn into a number.
type RawFormat int

const (
	Uint RawFormat = iota
	Int            // two's complement, sign-extended from the field width
	Bool
	Hex // same value as Uint, kept for renderers
)

func (f RawFormat) String() string {
	switch f {
	case Int:
		return "int"
	case Bool:
		return "bool"
	case Hex:
		return "hex"
	default:
		return "uint"
	}
}

// Raw is a plain integer field.
type Raw struct{ Format RawFormat }

// BitsetType decodes the field's bits as a word of the named root.
type BitsetType struct{ Root string }

// EnumType looks the field's value up in the named enum.
type EnumType struct{ Enum string }

// ExprType is a derived field: its value is the named expression, and it
// occupies no bits.
type ExprType struct{ Expr string }

// AssertType requires the field's bits to equal Value, written most
// significant bit first.
type AssertType struct{ Value string }

func (Raw) isFieldType()        {}
func (BitsetType) isFieldType() {}
func (EnumType) isFieldType()   {}
func (ExprType) isFieldType()   {}
func (AssertType) isFieldType() {}

// Param passes the value of the enclosing case's field Name into a nested
// bitset decode, where expressions see it as As.
type Param struct {
	Name string
	As   string
}

// Field is a named slice [Low, High] of a word.
type Field struct {
	Name string
	Low  uint
	High uint
	Type FieldType

	// Expr optionally names an expression guarding the field: when it
	// evaluates to zero the field is left out of the decode result.
	Expr string

	Display string
	Params  []Param

	assert BitVec
}

// Derived reports whether the field computes its value instead of reading
// bits.
func (f *Field) Derived() bool {
	_, ok := f.Type.(ExprType)
	return ok
}

func (f *Field) Width() uint {
	return f.High - f.Low + 1
}

// raw reads the field's bits from word as an integer, sign-extending Int
// fields. Fields wider than 64 bits keep only their low 64 bits.
func (f *Field) raw(word BitVec) (uint64, int64) {
	high := f.High
	if f.Width() > 64 {
		high = f.Low + 63
	}
	u := word.Uint64(f.Low, high)
	if r, ok := f.Type.(Raw); ok {
		switch r.Format {
		case Int:
			shift := 64 - f.Width()
			return u, int64(u<<shift) >> shift
		case Bool:
			if u != 0 {
				return u, 1
			}
			return u, 0
		}
	}
	return u, int64(u)
}
