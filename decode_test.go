package isaspec_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"

	"github.com/davecgh/go-spew/spew"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/apparentlymart/isaspec"
)

func opcode(bits string) []isaspec.PatternDecl {
	return []isaspec.PatternDecl{{Low: 56, High: 63, Bits: bits}}
}

// shaderModel describes a handful of 64-bit instructions keyed by the
// opcode in bits 56..63.
func shaderModel() *isaspec.Model {
	b := isaspec.NewBuilder(64)
	b.Enum("cond", map[uint64]string{0: "eq", 1: "ne"})
	b.Expr("is_sample", "{SEC} == 0")
	b.Expr("is_gather", "{SEC} == 1")
	b.Expr("has_imm", "{K} == 1")
	b.Expr("wide_mode", "{W} == 1")
	b.Expr("scaled", "{HALF} ? {R} / 2 : {R}")

	b.Bitset(isaspec.BitsetDecl{Name: "#instruction", Roots: []string{"instruction"}})

	// Texture instructions share the primary opcode 0x32 and are told
	// apart by the secondary field in bits 40..41.
	b.Bitset(isaspec.BitsetDecl{
		Name:     "#tex",
		Extends:  "#instruction",
		Patterns: opcode("00110010"),
		Cases: []isaspec.Case{{Fields: []isaspec.Field{
			{Name: "DST", Low: 0, High: 7},
			{Name: "SEC", Low: 40, High: 41},
		}}},
	})
	b.Bitset(isaspec.BitsetDecl{
		Name:    "texture_sample",
		Extends: "#tex",
		Cases:   []isaspec.Case{{Discriminator: "is_sample", Display: "sam"}},
	})
	b.Bitset(isaspec.BitsetDecl{
		Name:    "texture_gather",
		Extends: "#tex",
		Cases:   []isaspec.Case{{Discriminator: "is_gather", Display: "gather4"}},
	})

	b.Bitset(isaspec.BitsetDecl{
		Name:     "mov",
		Extends:  "#instruction",
		Patterns: opcode("00000001"),
		Cases: []isaspec.Case{{Display: "mov", Fields: []isaspec.Field{
			{Name: "DST", Low: 0, High: 5},
			{Low: 6, High: 7, Type: isaspec.AssertType{Value: "0b11"}},
			{Name: "IMM", Low: 8, High: 15, Type: isaspec.Raw{Format: isaspec.Hex}, Expr: "has_imm"},
			{Name: "K", Low: 16, High: 16, Type: isaspec.Raw{Format: isaspec.Bool}},
		}}},
	})
	b.Bitset(isaspec.BitsetDecl{
		Name:     "mov.v2",
		Extends:  "#instruction",
		Gen:      isaspec.GenRange{Min: 2},
		Patterns: opcode("00000010"),
	})

	// The same encoding means different things before and after
	// generation 2.
	b.Bitset(isaspec.BitsetDecl{
		Name:     "old",
		Extends:  "#instruction",
		Gen:      isaspec.GenRange{Max: 1},
		Patterns: opcode("00000101"),
	})
	b.Bitset(isaspec.BitsetDecl{
		Name:     "new",
		Extends:  "#instruction",
		Gen:      isaspec.GenRange{Min: 2},
		Patterns: opcode("00000101"),
	})

	b.Bitset(isaspec.BitsetDecl{
		Name:     "cmp",
		Extends:  "#instruction",
		Patterns: opcode("00000100"),
		Cases: []isaspec.Case{{Fields: []isaspec.Field{
			{Name: "COND", Low: 48, High: 49, Type: isaspec.EnumType{Enum: "cond"}},
		}}},
	})

	// Sources decode through their own 8-bit root and see the H bit of
	// the enclosing instruction as HALF.
	b.Bitset(isaspec.BitsetDecl{Name: "#src", Size: 8, Roots: []string{"src"}})
	b.Bitset(isaspec.BitsetDecl{
		Name:     "reg",
		Extends:  "#src",
		Patterns: []isaspec.PatternDecl{{Low: 7, High: 7, Bits: "0"}},
		Cases: []isaspec.Case{{Fields: []isaspec.Field{
			{Name: "R", Low: 0, High: 6},
			{Name: "SCALED", Type: isaspec.ExprType{Expr: "scaled"}},
		}}},
	})
	b.Bitset(isaspec.BitsetDecl{
		Name:     "const",
		Extends:  "#src",
		Patterns: []isaspec.PatternDecl{{Low: 7, High: 7, Bits: "1"}},
		Cases: []isaspec.Case{{Fields: []isaspec.Field{
			{Name: "C", Low: 0, High: 6},
		}}},
	})
	b.Bitset(isaspec.BitsetDecl{
		Name:     "op",
		Extends:  "#instruction",
		Patterns: opcode("00000011"),
		Cases: []isaspec.Case{{Fields: []isaspec.Field{
			{Name: "H", Low: 8, High: 8, Type: isaspec.Raw{Format: isaspec.Bool}},
			{Name: "SRC", Low: 16, High: 23, Type: isaspec.BitsetType{Root: "src"},
				Params: []isaspec.Param{{Name: "H", As: "HALF"}}},
		}}},
	})

	// alu.add inherits the wide-mode case of its parent and replaces the
	// parent's unsigned A with a signed one.
	b.Bitset(isaspec.BitsetDecl{
		Name:    "#alu",
		Extends: "#instruction",
		Cases: []isaspec.Case{
			{Discriminator: "wide_mode", Display: "alu.w"},
			{Fields: []isaspec.Field{
				{Name: "A", Low: 0, High: 3},
				{Name: "W", Low: 9, High: 9},
			}},
		},
	})
	b.Bitset(isaspec.BitsetDecl{
		Name:     "alu.add",
		Extends:  "#alu",
		Patterns: opcode("00000110"),
		Cases: []isaspec.Case{{Display: "add", Fields: []isaspec.Field{
			{Name: "A", Low: 0, High: 3, Type: isaspec.Raw{Format: isaspec.Int}},
		}}},
	})

	m, err := b.Build()
	Expect(err).NotTo(HaveOccurred())
	return m
}

var _ = Describe("Decoder", func() {
	var m *isaspec.Model

	BeforeEach(func() {
		m = shaderModel()
	})

	decode := func(gen uint, word uint64) *isaspec.DecodeResult {
		GinkgoHelper()
		res, err := m.DecodeUint64("instruction", gen, word)
		Expect(err).NotTo(HaveOccurred(), "decoding %#x", word)
		return res
	}

	Describe("secondary opcode fields", func() {
		It("should decode the sample form when the secondary field is 00", func() {
			res := decode(0, 0x3200_0000_0000_0011)
			Expect(res.Bitset).To(Equal("texture_sample"))
			Expect(res.Display).To(Equal("sam"))
			Expect(res.Fields["DST"].Value).To(Equal(int64(0x11)))
		})

		It("should decode the gather form when the secondary field is 01", func() {
			res := decode(0, 0x3200_0100_0000_0000)
			Expect(res.Bitset).To(Equal("texture_gather"))
			Expect(res.Display).To(Equal("gather4"))
			Expect(res.Fields["SEC"].Value).To(Equal(int64(1)))
		})

		It("should not match an undeclared secondary value", func() {
			_, err := m.DecodeUint64("instruction", 0, 0x3200_0200_0000_0000)
			Expect(err).To(MatchError(isaspec.ErrNoMatch))
		})
	})

	Describe("assert fields", func() {
		It("should accept the asserted literal", func() {
			res := decode(0, 0x0100_0000_0000_00c5)
			Expect(res.Bitset).To(Equal("mov"))
			Expect(res.Fields["DST"].Value).To(Equal(int64(5)))
			Expect(res.Order).To(Equal([]string{"DST", "K"}))
		})

		It("should fail when the bits differ", func() {
			_, err := m.DecodeUint64("instruction", 0, 0x0100_0000_0000_0080)
			Expect(err).To(MatchError(isaspec.ErrAssertionFailed))

			var de *isaspec.DecodeError
			Expect(errors.As(err, &de)).To(BeTrue())
			Expect(de.Bitset).To(Equal("mov"))
			Expect(de.Msg).To(ContainSubstring("0b10"))
		})
	})

	Describe("guarded fields", func() {
		It("should include the field when its guard holds", func() {
			res := decode(0, 0x0100_0000_0001_12c0)
			Expect(res.Fields).To(HaveKey("IMM"))
			Expect(res.Fields["IMM"].Raw).To(Equal(uint64(0x12)))
			Expect(res.Order).To(Equal([]string{"DST", "IMM", "K"}))
		})

		It("should leave the field out otherwise", func() {
			res := decode(0, 0x0100_0000_0000_12c0)
			Expect(res.Fields).NotTo(HaveKey("IMM"))
		})
	})

	Describe("generation gating", func() {
		It("should not match a bitset outside its generation range", func() {
			_, err := m.DecodeUint64("instruction", 1, 0x0200_0000_0000_0000)
			Expect(err).To(MatchError(isaspec.ErrNoMatch))
			Expect(decode(2, 0x0200_0000_0000_0000).Bitset).To(Equal("mov.v2"))
		})

		It("should choose between encodings by generation", func() {
			Expect(decode(0, 0x0500_0000_0000_0000).Bitset).To(Equal("old"))
			Expect(decode(1, 0x0500_0000_0000_0000).Bitset).To(Equal("old"))
			Expect(decode(2, 0x0500_0000_0000_0000).Bitset).To(Equal("new"))
			Expect(decode(9, 0x0500_0000_0000_0000).Bitset).To(Equal("new"))
		})
	})

	Describe("enum fields", func() {
		It("should resolve known values", func() {
			res := decode(0, 0x0401_0000_0000_0000)
			Expect(res.Fields["COND"].Display).To(Equal("ne"))
		})

		It("should return the raw value alongside an unknown value error", func() {
			res, err := m.DecodeUint64("instruction", 0, 0x0403_0000_0000_0000)
			Expect(err).To(MatchError(isaspec.ErrUnknownEnumValue))
			Expect(res).NotTo(BeNil())
			Expect(res.Bitset).To(Equal("cmp"))
			Expect(res.Fields["COND"].Raw).To(Equal(uint64(3)))
			Expect(res.Fields["COND"].Display).To(BeEmpty())
		})
	})

	Describe("bitset fields", func() {
		It("should decode through the nested root with parameters", func() {
			res := decode(0, 0x0300_0000_000a_0100)
			src := res.Nested["SRC"]
			Expect(src).NotTo(BeNil())
			Expect(src.Root).To(Equal("src"))
			Expect(src.Bitset).To(Equal("reg"))
			Expect(src.Fields["R"].Value).To(Equal(int64(10)))
			Expect(src.Fields["SCALED"].Value).To(Equal(int64(5)))
			Expect(res.Fields["SRC"].Nested).To(BeIdenticalTo(src))

			res = decode(0, 0x0300_0000_000a_0000)
			Expect(res.Nested["SRC"].Fields["SCALED"].Value).To(Equal(int64(10)))
		})

		It("should pick the nested leaf by its own pattern", func() {
			res := decode(0, 0x0300_0000_0085_0000)
			Expect(res.Nested["SRC"].Bitset).To(Equal("const"))
			Expect(res.Nested["SRC"].Fields["C"].Value).To(Equal(int64(5)))
		})

		It("should mark the nested root", func() {
			Expect(m.Nested("src")).To(BeTrue())
			Expect(m.Nested("instruction")).To(BeFalse())
		})
	})

	Describe("inherited cases", func() {
		It("should apply the parent's discriminated case", func() {
			res := decode(0, 0x0600_0000_0000_020f)
			Expect(res.Bitset).To(Equal("alu.add"))
			Expect(res.Display).To(Equal("alu.w"))
			Expect(res.Fields["A"].Value).To(Equal(int64(-1)))
		})

		It("should fall back to the child's default case", func() {
			res := decode(0, 0x0600_0000_0000_000f)
			Expect(res.Display).To(Equal("add"))
			Expect(res.Fields["A"].Value).To(Equal(int64(-1)))
			Expect(res.Fields["W"].Value).To(Equal(int64(0)))
		})
	})

	It("should report an unknown root", func() {
		_, err := m.DecodeUint64("nope", 0, 0)
		Expect(err).To(MatchError(isaspec.ErrNoMatch))
	})

	It("should be idempotent", func() {
		words := []uint64{0x3200_0100_0000_0000, 0x0300_0000_000a_0100, 0x0401_0000_0000_0000, 0x0600_0000_0000_020f}
		for _, w := range words {
			a := decode(2, w)
			b := decode(2, w)
			Expect(a).To(Equal(b), spew.Sdump(a))
		}
	})

	It("should round-trip synthesized words for every leaf", func() {
		rnd := rand.New(rand.NewSource(42))
		const gen = 2
		secondary := map[string]uint64{"texture_sample": 0, "texture_gather": 1}

		for _, root := range m.Roots() {
			for _, leaf := range m.Leafs(root) {
				if !leaf.ValidFor(gen) {
					continue
				}
				for i := 0; i < 20; i++ {
					word, err := m.Synthesize(leaf.Name, gen, rnd)
					Expect(err).NotTo(HaveOccurred())
					Expect(leaf.Pattern.Matches(word)).To(BeTrue())
					if sec, ok := secondary[leaf.Name]; ok {
						word.Insert(40, isaspec.BitVecFromUint64(2, sec), 2)
					}

					res, err := m.Decode(root, gen, word)
					if err != nil && root == "src" {
						// reg needs HALF from an enclosing instruction.
						Expect(err).To(MatchError(isaspec.ErrUnresolved))
						continue
					}
					if err != nil {
						Expect(err).To(MatchError(isaspec.ErrUnknownEnumValue))
					}
					Expect(res.Bitset).To(Equal(leaf.Name), "word %s", word)
				}
			}
		}
	})

	It("should pass its own self check", func() {
		Expect(m.SelfCheck(context.Background(), 0, 50, 1)).To(Succeed())
		Expect(m.SelfCheck(context.Background(), 2, 50, 2)).To(Succeed())
	})

	It("should decode from many goroutines at once", func() {
		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				for j := 0; j < 200; j++ {
					res, err := m.DecodeUint64("instruction", 0, 0x3200_0100_0000_0000)
					if err == nil && res.Bitset != "texture_gather" {
						err = errors.New("decoded as " + res.Bitset)
					}
					if err != nil {
						errs[i] = err
						return
					}
				}
			}(i)
		}
		wg.Wait()
		Expect(errors.Join(errs...)).NotTo(HaveOccurred())
	})
})

var _ = Describe("Decoder on wide words", func() {
	It("should match and extract above bit 64", func() {
		b := isaspec.NewBuilder(128)
		b.Bitset(isaspec.BitsetDecl{Name: "#wide", Roots: []string{"wide"}})
		b.Bitset(isaspec.BitsetDecl{
			Name:     "long",
			Extends:  "#wide",
			Patterns: []isaspec.PatternDecl{{Low: 120, High: 127, Bits: "10100101"}},
			Cases: []isaspec.Case{{Fields: []isaspec.Field{
				{Name: "SPAN", Low: 60, High: 67, Type: isaspec.Raw{Format: isaspec.Hex}},
				{Name: "HI", Low: 96, High: 103},
			}}},
		})
		m, err := b.Build()
		Expect(err).NotTo(HaveOccurred())

		word, err := isaspec.ParseBitVec(128, "a500_0033_0000_0000_b000_0000_0000_0000")
		Expect(err).NotTo(HaveOccurred())
		res, err := m.Decode("wide", 0, word)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Bitset).To(Equal("long"))
		Expect(res.Fields["SPAN"].Raw).To(Equal(uint64(0x0b)))
		Expect(res.Fields["HI"].Value).To(Equal(int64(0x33)))

		word.SetBit(127, false)
		_, err = m.Decode("wide", 0, word)
		Expect(err).To(MatchError(isaspec.ErrNoMatch))
	})
})

var _ = Describe("Decoder expression failures", func() {
	build := func(expr string) *isaspec.Model {
		GinkgoHelper()
		b := isaspec.NewBuilder(8)
		b.Expr("q", expr)
		b.Bitset(isaspec.BitsetDecl{
			Name:  "div",
			Roots: []string{"r"},
			Cases: []isaspec.Case{{Fields: []isaspec.Field{
				{Name: "Z", Low: 0, High: 3},
				{Name: "Q", Type: isaspec.ExprType{Expr: "q"}},
			}}},
		})
		m, err := b.Build()
		Expect(err).NotTo(HaveOccurred())
		return m
	}

	It("should report division by zero as an evaluation error", func() {
		m := build("8 / {Z}")
		res, err := m.DecodeUint64("r", 0, 2)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.Fields["Q"].Value).To(Equal(int64(4)))

		_, err = m.DecodeUint64("r", 0, 0)
		Expect(err).To(MatchError(isaspec.ErrEval))
	})

	It("should report names that resolve to nothing", func() {
		m := build("{NOPE} + 1")
		_, err := m.DecodeUint64("r", 0, 0)
		Expect(err).To(MatchError(isaspec.ErrUnresolved))

		var de *isaspec.DecodeError
		Expect(errors.As(err, &de)).To(BeTrue())
		Expect(de.Field).To(Equal("NOPE"))
	})
})
