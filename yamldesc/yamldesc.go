// Package yamldesc reads instruction set descriptions written in YAML and
// feeds them to an isaspec.Builder.
//
// A description looks like this:
//
//	bitsize: 64
//	enums:
//	  - name: cond
//	    values: {0: eq, 1: ne}
//	expressions:
//	  - name: is_gather
//	    expr: "{SEC} == 1"
//	bitsets:
//	  - name: "#instruction"
//	    roots: [instruction]
//	  - name: cat5
//	    extends: "#instruction"
//	    patterns:
//	      - {low: 56, high: 63, bits: 00110010}
//	    fields:
//	      - {name: DST, low: 0, high: 7}
//
// Bit literals may be written unquoted; they are always read as text.
package yamldesc

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/apparentlymart/isaspec"
)

// Description is the document root.
type Description struct {
	Bitsize     uint         `yaml:"bitsize"`
	Enums       []EnumDesc   `yaml:"enums,omitempty"`
	Expressions []ExprDesc   `yaml:"expressions,omitempty"`
	Bitsets     []BitsetDesc `yaml:"bitsets"`
}

type EnumDesc struct {
	Name   string            `yaml:"name"`
	Values map[uint64]string `yaml:"values"`
}

type ExprDesc struct {
	Name string `yaml:"name"`
	Expr string `yaml:"expr"`
}

type GenDesc struct {
	Min uint `yaml:"min,omitempty"`
	Max uint `yaml:"max,omitempty"`
}

// BitsetDesc declares one bitset. Fields and Display make up its default
// case; Cases add discriminated ones.
type BitsetDesc struct {
	Name     string        `yaml:"name"`
	Extends  string        `yaml:"extends,omitempty"`
	Size     uint          `yaml:"size,omitempty"`
	Gen      *GenDesc      `yaml:"gen,omitempty"`
	Roots    []string      `yaml:"roots,omitempty"`
	Patterns []PatternDesc `yaml:"patterns,omitempty"`
	Display  string        `yaml:"display,omitempty"`
	Fields   []FieldDesc   `yaml:"fields,omitempty"`
	Cases    []CaseDesc    `yaml:"cases,omitempty"`
}

// PatternDesc places Bits at [Low, High], or at the single bit Pos.
type PatternDesc struct {
	Low  *uint `yaml:"low,omitempty"`
	High *uint `yaml:"high,omitempty"`
	Pos  *uint `yaml:"pos,omitempty"`
	Bits Bits  `yaml:"bits"`
}

// CaseDesc is a discriminated case. When is an expression name or an inline
// expression.
type CaseDesc struct {
	When    string      `yaml:"when"`
	Display string      `yaml:"display,omitempty"`
	Fields  []FieldDesc `yaml:"fields,omitempty"`
}

// FieldDesc declares a field. Type is one of uint (the default), int, bool,
// hex, enum, bitset, expr or assert; enum, bitset and expr name their target
// in the field of the same name, and assert takes its literal from Value.
type FieldDesc struct {
	Name    string      `yaml:"name,omitempty"`
	Low     *uint       `yaml:"low,omitempty"`
	High    *uint       `yaml:"high,omitempty"`
	Pos     *uint       `yaml:"pos,omitempty"`
	Type    string      `yaml:"type,omitempty"`
	Enum    string      `yaml:"enum,omitempty"`
	Bitset  string      `yaml:"bitset,omitempty"`
	Expr    string      `yaml:"expr,omitempty"`
	Value   Bits        `yaml:"value,omitempty"`
	When    string      `yaml:"when,omitempty"`
	Display string      `yaml:"display,omitempty"`
	Params  []ParamDesc `yaml:"params,omitempty"`
}

type ParamDesc struct {
	Name string `yaml:"name"`
	As   string `yaml:"as,omitempty"`
}

// Bits is a bit literal. It takes the scalar's text verbatim so that
// 0110 is not read as the integer 110.
type Bits string

func (b *Bits) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: bit literal must be a scalar", node.Line)
	}
	*b = Bits(node.Value)
	return nil
}

// Parse decodes a YAML description, rejecting unknown keys.
func Parse(src []byte) (*Description, error) {
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	var d Description
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to parse description: %w", err)
	}
	return &d, nil
}

// Load parses src and builds the model it describes.
func Load(src []byte) (*isaspec.Model, error) {
	d, err := Parse(src)
	if err != nil {
		return nil, err
	}
	b := isaspec.NewBuilder(d.Bitsize)
	if err := d.Apply(b); err != nil {
		return nil, err
	}
	return b.Build()
}

// LoadFile is Load for a file on disk.
func LoadFile(filename string) (*isaspec.Model, error) {
	src, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	m, err := Load(src)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return m, nil
}

// Apply adds every declaration of d to b. Inline expressions used by cases
// and fields are declared under generated names of the form
// "bitset:where".
func (d *Description) Apply(b *isaspec.Builder) error {
	for _, e := range d.Enums {
		b.Enum(e.Name, e.Values)
	}
	a := &applier{b: b, named: make(map[string]bool)}
	for _, e := range d.Expressions {
		b.Expr(e.Name, e.Expr)
		a.named[e.Name] = true
	}
	for _, bd := range d.Bitsets {
		decl, err := a.bitset(bd)
		if err != nil {
			return fmt.Errorf("bitset %q: %w", bd.Name, err)
		}
		b.Bitset(decl)
	}
	return nil
}

type applier struct {
	b     *isaspec.Builder
	named map[string]bool
}

// exprRef returns src itself when it names a declared expression, otherwise
// declares src as an inline expression called name.
func (a *applier) exprRef(name, src string) string {
	src = strings.TrimSpace(src)
	if src == "" || a.named[src] {
		return src
	}
	a.b.Expr(name, src)
	a.named[name] = true
	return name
}

func (a *applier) bitset(bd BitsetDesc) (isaspec.BitsetDecl, error) {
	decl := isaspec.BitsetDecl{
		Name:    bd.Name,
		Extends: bd.Extends,
		Size:    bd.Size,
		Roots:   bd.Roots,
	}
	if bd.Gen != nil {
		decl.Gen = isaspec.GenRange{Min: bd.Gen.Min, Max: bd.Gen.Max}
	}
	for i, pd := range bd.Patterns {
		low, high, err := bitRange(pd.Low, pd.High, pd.Pos)
		if err != nil {
			return decl, fmt.Errorf("pattern %d: %w", i, err)
		}
		decl.Patterns = append(decl.Patterns, isaspec.PatternDecl{Low: low, High: high, Bits: string(pd.Bits)})
	}

	if len(bd.Fields) > 0 || bd.Display != "" {
		fields, err := a.fields(bd.Name+":default", bd.Fields)
		if err != nil {
			return decl, err
		}
		decl.Cases = append(decl.Cases, isaspec.Case{Fields: fields, Display: bd.Display})
	}
	for i, cd := range bd.Cases {
		where := fmt.Sprintf("%s:case%d", bd.Name, i)
		if strings.TrimSpace(cd.When) == "" {
			return decl, fmt.Errorf("case %d has no when expression", i)
		}
		fields, err := a.fields(where, cd.Fields)
		if err != nil {
			return decl, err
		}
		decl.Cases = append(decl.Cases, isaspec.Case{
			Fields:        fields,
			Discriminator: a.exprRef(where, cd.When),
			Display:       cd.Display,
		})
	}
	return decl, nil
}

func (a *applier) fields(where string, fds []FieldDesc) ([]isaspec.Field, error) {
	var ret []isaspec.Field
	for i, fd := range fds {
		label := fd.Name
		if label == "" {
			label = fmt.Sprint(i)
		}
		f := isaspec.Field{
			Name:    fd.Name,
			Display: fd.Display,
		}
		for _, p := range fd.Params {
			f.Params = append(f.Params, isaspec.Param{Name: p.Name, As: p.As})
		}
		if fd.When != "" {
			f.Expr = a.exprRef(where+"."+label+":when", fd.When)
		}

		typ := fd.Type
		if typ == "" && fd.Expr != "" && fd.Low == nil && fd.Pos == nil {
			typ = "expr"
		}
		switch typ {
		case "", "uint":
			f.Type = isaspec.Raw{Format: isaspec.Uint}
		case "int":
			f.Type = isaspec.Raw{Format: isaspec.Int}
		case "bool":
			f.Type = isaspec.Raw{Format: isaspec.Bool}
		case "hex":
			f.Type = isaspec.Raw{Format: isaspec.Hex}
		case "enum":
			f.Type = isaspec.EnumType{Enum: fd.Enum}
		case "bitset":
			f.Type = isaspec.BitsetType{Root: fd.Bitset}
		case "expr":
			f.Type = isaspec.ExprType{Expr: a.exprRef(where+"."+label, fd.Expr)}
		case "assert":
			f.Type = isaspec.AssertType{Value: string(fd.Value)}
		default:
			return nil, fmt.Errorf("field %s: unknown type %q", label, fd.Type)
		}

		if typ != "expr" {
			low, high, err := bitRange(fd.Low, fd.High, fd.Pos)
			if err != nil {
				return nil, fmt.Errorf("field %s: %w", label, err)
			}
			f.Low, f.High = low, high
		}
		ret = append(ret, f)
	}
	return ret, nil
}

func bitRange(low, high, pos *uint) (uint, uint, error) {
	switch {
	case pos != nil && (low != nil || high != nil):
		return 0, 0, fmt.Errorf("pos cannot be combined with low/high")
	case pos != nil:
		return *pos, *pos, nil
	case low != nil && high != nil:
		return *low, *high, nil
	case low != nil:
		return *low, *low, nil
	default:
		return 0, 0, fmt.Errorf("missing bit range")
	}
}
