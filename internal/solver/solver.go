// Package solver computes gift assignments: random derangements of a roster
// that avoid pairings from recent prior events.
//
// Restrictions are an n × window matrix where r[i][k] is the index of the
// giftee participant i had k events ago, or None. Each recency index k has a
// weight w[k] in [0,1]. A weight of 0 forbids repeating that pairing. A
// positive weight lets a candidate that repeats it survive with probability
// w[k], drawn independently for every offending (i, k) pair.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
)

// None marks a restriction slot with no recorded giftee.
const None = -1

// ErrNoValidAssignment is returned when no derangement satisfies the roster
// size and the hard restrictions.
var ErrNoValidAssignment = errors.New("no valid gift assignment exists")

// ctxCheckInterval is how many sampling attempts pass between context checks.
const ctxCheckInterval = 256

// Config tunes the solver. Weights has one entry per prior event consulted;
// its length is the history window.
type Config struct {
	Weights     []float64 `yaml:"weights"`
	MaxAttempts int       `yaml:"max_attempts"`
}

// DefaultConfig avoids repeats from the last two events outright and halves
// the chance of repeating the pairing from three events ago.
func DefaultConfig() Config {
	return Config{
		Weights:     []float64{0, 0, 0.5},
		MaxAttempts: 100_000,
	}
}

// Window is the number of prior events the configuration consults.
func (c Config) Window() int {
	return len(c.Weights)
}

// Validate checks the weight table and attempt bound.
func (c Config) Validate() error {
	for k, w := range c.Weights {
		if w < 0 || w > 1 {
			return fmt.Errorf("solver weight %d must be within [0,1], got %v", k, w)
		}
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("solver max_attempts must not be negative, got %d", c.MaxAttempts)
	}
	return nil
}

// Method reports how an accepted permutation was produced.
type Method string

const (
	MethodSampling Method = "sampling"
	MethodMatching Method = "matching"
)

// Stats describes a single Solve run.
type Stats struct {
	Attempts int
	Method   Method
}

// NewRestrictions returns an n × window matrix filled with None.
func NewRestrictions(n, window int) [][]int {
	r := make([][]int, n)
	for i := range r {
		r[i] = make([]int, window)
		for k := range r[i] {
			r[i][k] = None
		}
	}
	return r
}

// Solve returns perm where participant i gives to participant perm[i].
//
// It rejects rosters smaller than two and restriction sets that admit no
// derangement before sampling. Sampling is bounded by cfg.MaxAttempts; once
// exhausted a randomized matching constructs a solution that respects every
// hard restriction, preferring to avoid soft ones as well.
func Solve(ctx context.Context, n int, restrictions [][]int, cfg Config, rng *rand.Rand) ([]int, Stats, error) {
	var stats Stats
	if n < 2 {
		return nil, stats, fmt.Errorf("%w: need at least 2 participants, have %d", ErrNoValidAssignment, n)
	}
	if len(restrictions) != n {
		return nil, stats, fmt.Errorf("restriction matrix has %d rows for %d participants", len(restrictions), n)
	}
	if err := cfg.Validate(); err != nil {
		return nil, stats, err
	}

	hard := allowedEdges(n, restrictions, cfg.Weights, false)
	if _, ok := perfectMatching(hard, nil); !ok {
		return nil, stats, fmt.Errorf("%w: history leaves no derangement for %d participants", ErrNoValidAssignment, n)
	}

	for stats.Attempts < cfg.MaxAttempts {
		if stats.Attempts%ctxCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, stats, err
			}
		}
		stats.Attempts++

		perm := rng.Perm(n)
		if Accept(perm, restrictions, cfg.Weights, rng) {
			stats.Method = MethodSampling
			return perm, stats, nil
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	stats.Method = MethodMatching
	strict := allowedEdges(n, restrictions, cfg.Weights, true)
	if perm, ok := perfectMatching(strict, rng); ok {
		return perm, stats, nil
	}
	perm, _ := perfectMatching(hard, rng)
	return perm, stats, nil
}

// Accept reports whether perm is a derangement that survives the history
// restrictions. Every repeated pairing with a positive weight is an
// independent trial, so one candidate can pass one repeat and fail another.
func Accept(perm []int, restrictions [][]int, weights []float64, rng *rand.Rand) bool {
	for i, giftee := range perm {
		if giftee == i {
			return false
		}
		for k, w := range weights {
			if k >= len(restrictions[i]) || restrictions[i][k] != giftee {
				continue
			}
			if w == 0 {
				return false
			}
			if rng.Float64() > w {
				return false
			}
		}
	}
	return true
}

// allowedEdges lists, for each participant, the giftees they may receive.
// A weight of 1 never restricts. When strict is set every other restricted
// repeat is excluded too, not only the weight-0 ones.
func allowedEdges(n int, restrictions [][]int, weights []float64, strict bool) [][]int {
	adj := make([][]int, n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			if j == i || blocked(restrictions[i], weights, j, strict) {
				continue
			}
			adj[i] = append(adj[i], j)
		}
	}
	return adj
}

func blocked(row []int, weights []float64, giftee int, strict bool) bool {
	for k, w := range weights {
		if k >= len(row) || row[k] != giftee {
			continue
		}
		if w == 0 || (strict && w < 1) {
			return true
		}
	}
	return false
}
