package isaspec

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"reflect"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// SelfCheck synthesizes rounds random words for every leaf of every
// top-level root and checks that each decodes back to the leaf it was built
// from, and that decoding it again gives the same result. Leafs that share
// encodings with a sibling, or only decode through a discriminator, are
// skipped since a random word cannot be expected to select them.
//
// Leafs are checked concurrently against the shared model. Every failure is
// reported; the returned error joins them.
func (m *Model) SelfCheck(ctx context.Context, gen uint, rounds int, seed int64) error {
	if rounds <= 0 {
		rounds = 1
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))

	var mu sync.Mutex
	var failures []error
	for _, root := range m.Roots() {
		if m.nested[root] {
			continue
		}
		for _, leaf := range m.Leafs(root) {
			if !leaf.ValidFor(gen) || !leaf.HasDefault() || !m.isolated[leaf.Index] {
				continue
			}
			root, leaf := root, leaf
			g.Go(func() error {
				rnd := rand.New(rand.NewSource(seed + int64(leaf.Index)))
				for i := 0; i < rounds; i++ {
					if err := ctx.Err(); err != nil {
						return err
					}
					if err := m.checkRoundTrip(root, gen, leaf, rnd); err != nil {
						mu.Lock()
						failures = append(failures, err)
						mu.Unlock()
						return nil
					}
				}
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return errors.Join(failures...)
}

func (m *Model) checkRoundTrip(root string, gen uint, leaf *Bitset, rnd *rand.Rand) error {
	word, err := m.synthesize(leaf, gen, rnd, 0)
	if err != nil {
		return fmt.Errorf("%s/%s: %w", root, leaf.Name, err)
	}
	res, err := m.Decode(root, gen, word)
	if err != nil && !errors.Is(err, ErrUnknownEnumValue) {
		return fmt.Errorf("%s/%s: decoding %s: %w", root, leaf.Name, word, err)
	}
	if res.Bitset != leaf.Name {
		return fmt.Errorf("%s/%s: %s decoded as %s", root, leaf.Name, word, res.Bitset)
	}
	again, _ := m.Decode(root, gen, word)
	if !reflect.DeepEqual(res, again) {
		return fmt.Errorf("%s/%s: decoding %s twice gave different results", root, leaf.Name, word)
	}
	return nil
}
