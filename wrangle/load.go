package main

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/apparentlymart/isaspec"
	"github.com/apparentlymart/isaspec/yamldesc"
)

func loadModel(filename string) (*isaspec.Model, error) {
	m, err := yamldesc.LoadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load description: %w", err)
	}
	return m, nil
}

// loadWords reads one word per line. Anything after a '#' is a comment and
// blank lines are skipped.
func loadWords(filename string) ([]string, error) {
	r, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var ret []string

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := trimComments(sc.Text())
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		ret = append(ret, fields[0])
	}

	return ret, sc.Err()
}

func trimComments(line string) string {
	hash := strings.IndexByte(line, '#')
	if hash == -1 {
		return line
	}
	return line[:hash]
}

// formatResult renders res on one line: the bitset, its display string and
// every field in case order, with nested results in braces.
func formatResult(res *isaspec.DecodeResult) string {
	var b strings.Builder
	b.WriteString(res.Bitset)
	if res.Display != "" {
		fmt.Fprintf(&b, " %q", res.Display)
	}
	for _, name := range res.Order {
		v := res.Fields[name]
		fmt.Fprintf(&b, " %s=", name)
		switch t := v.Type.(type) {
		case isaspec.BitsetType:
			if v.Nested != nil {
				fmt.Fprintf(&b, "{%s}", formatResult(v.Nested))
			} else {
				fmt.Fprintf(&b, "%#x", v.Raw)
			}
		case isaspec.EnumType:
			if v.Display != "" {
				b.WriteString(v.Display)
			} else {
				fmt.Fprintf(&b, "%s(%d)", t.Enum, v.Raw)
			}
		case isaspec.Raw:
			if t.Format == isaspec.Hex {
				fmt.Fprintf(&b, "%#x", v.Raw)
			} else {
				fmt.Fprintf(&b, "%d", v.Value)
			}
		default:
			fmt.Fprintf(&b, "%d", v.Value)
		}
	}
	return b.String()
}

func sortedKeys(m map[uint64][]int) []uint64 {
	ret := make([]uint64, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i] < ret[j]
	})
	return ret
}
