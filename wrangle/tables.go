package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/apparentlymart/isaspec"
)

// writeTables lists the decode table of every root: the key bits that
// partition its leafs and, per bucket, each leaf's generation range and
// effective pattern. It returns the first error from w.
func writeTables(w io.Writer, m *isaspec.Model) error {
	tw := &tableWriter{w: w}
	bitsets := m.Bitsets()
	for _, root := range m.Roots() {
		t, ok := m.Table(root)
		if !ok {
			continue
		}

		kind := "root"
		if m.Nested(root) {
			kind = "nested root"
		}
		tw.printf("%s %s (%d bits)\n", kind, root, t.Size)

		keyBits := make([]string, len(t.KeyBits))
		for i, pos := range t.KeyBits {
			keyBits[i] = fmt.Sprint(pos)
		}
		tw.printf("  key bits: [%s]\n", strings.Join(keyBits, " "))

		for _, k := range sortedKeys(t.Buckets) {
			tw.printf("  bucket %s\n", formatKey(k, len(t.KeyBits)))
			for _, idx := range t.Buckets[k] {
				bs := bitsets[idx]
				tw.printf("    %-16s %-9s %s", bs.Name, formatGen(bs), bs.Pattern)
				if bs.Discriminated() {
					tw.printf(" (discriminated)")
				}
				tw.printf("\n")
			}
		}
	}
	return tw.err
}

// tableWriter keeps the first write error and drops everything after it.
type tableWriter struct {
	w   io.Writer
	err error
}

func (tw *tableWriter) printf(format string, args ...interface{}) {
	if tw.err != nil {
		return
	}
	_, tw.err = fmt.Fprintf(tw.w, format, args...)
}

func formatKey(k uint64, bits int) string {
	if bits == 0 {
		return "(all)"
	}
	return fmt.Sprintf("0b%0*b", bits, k)
}

func formatGen(bs *isaspec.Bitset) string {
	switch {
	case bs.GenMin == 0 && bs.GenMax == isaspec.MaxGen:
		return "gen *"
	case bs.GenMax == isaspec.MaxGen:
		return fmt.Sprintf("gen %d+", bs.GenMin)
	default:
		return fmt.Sprintf("gen %d-%d", bs.GenMin, bs.GenMax)
	}
}
