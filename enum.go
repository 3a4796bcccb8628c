package isaspec

import "sort"

// Enum maps field values to their symbolic names.
type Enum struct {
	Name   string
	Values map[uint64]string
}

func (e *Enum) Lookup(v uint64) (string, bool) {
	s, ok := e.Values[v]
	return s, ok
}

// Keys returns the declared values in ascending order.
func (e *Enum) Keys() []uint64 {
	keys := make([]uint64, 0, len(e.Values))
	for k := range e.Values {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i] < keys[j]
	})
	return keys
}
