// Package picker chooses the next item to publish from a candidate pool,
// preferring items that have not been published before.
package picker

import (
	"errors"
	"math/rand/v2"
)

// ErrNoCandidates means there is nothing to publish this run.
var ErrNoCandidates = errors.New("no candidates available")

// Candidate is one selectable content item. Only ID and Tags are used here.
type Candidate struct {
	ID   string
	Tags string
}

// Lookup reports whether an ID has already been used. *history.Store satisfies it.
type Lookup interface {
	Contains(id string) bool
}

// Options tunes the selection policy.
type Options struct {
	// Exclusive disables the repeat fallback: when every candidate has been
	// used, Pick returns ErrNoCandidates instead of re-selecting one.
	Exclusive bool
}

// Selection is the result of a successful Pick.
type Selection struct {
	Candidate Candidate
	// Index is the position of Candidate in the pool passed to Pick.
	Index int
	// Fallback is true when every candidate was already used and one was
	// re-selected from the whole pool.
	Fallback bool
	// Unused is the number of unused candidates that were available.
	Unused int
}

// Pick selects uniformly at random among candidates whose ID is not in
// seen. If all have been used it selects uniformly from the whole pool,
// unless opts.Exclusive is set. An empty pool returns ErrNoCandidates.
// Pick does not record the selection; the caller does that.
func Pick(pool []Candidate, seen Lookup, rng *rand.Rand, opts Options) (Selection, error) {
	if len(pool) == 0 {
		return Selection{}, ErrNoCandidates
	}

	unused := make([]int, 0, len(pool))
	for i, c := range pool {
		if !seen.Contains(c.ID) {
			unused = append(unused, i)
		}
	}

	if len(unused) > 0 {
		idx := unused[rng.IntN(len(unused))]
		return Selection{Candidate: pool[idx], Index: idx, Unused: len(unused)}, nil
	}

	if opts.Exclusive {
		return Selection{}, ErrNoCandidates
	}

	idx := rng.IntN(len(pool))
	return Selection{Candidate: pool[idx], Index: idx, Fallback: true}, nil
}
