package retrieval

import (
	"cmp"
	"slices"

	"github.com/lazypower/lore/internal/quality"
)

// Weights scale the three re-rank components.
type Weights struct {
	Base    float64 `toml:"base" json:"base"`
	Success float64 `toml:"success" json:"success"`
	Reuse   float64 `toml:"reuse" json:"reuse"`
}

// DefaultWeights favors the original relevance order.
func DefaultWeights() Weights {
	return Weights{Base: 0.7, Success: 0.2, Reuse: 0.1}
}

func (w Weights) normalized() Weights {
	if w.Base+w.Success+w.Reuse <= 0 {
		return DefaultWeights()
	}
	return w
}

// DefaultReuseCap is the reuse count at which the reuse bonus saturates.
const DefaultReuseCap = 10

// Rerank reorders an already-selected candidate list by blending its
// original position with quality signals. It never adds or drops
// candidates. Ties fall back to (base, success rate, reuse calls, calls, id),
// all descending.
func Rerank(cands []Candidate, signals map[int64]quality.Signal, w Weights, reuseCap int) []Candidate {
	n := len(cands)
	if n == 0 {
		return cands
	}
	w = w.normalized()
	if reuseCap < 1 {
		reuseCap = 1
	}

	out := make([]Candidate, n)
	for idx, c := range cands {
		sig := signals[c.Entity.ID]
		rate, _ := sig.SuccessRate()
		reuse := min(1.0, float64(sig.ReuseCalls)/float64(reuseCap))
		if reuse < 0 {
			reuse = 0
		}
		c.Signal = sig
		c.Base = float64(n-idx) / float64(n)
		c.SuccessRate = rate
		c.ReuseBonus = reuse
		c.Score = w.Base*c.Base + w.Success*rate + w.Reuse*reuse
		out[idx] = c
	}

	slices.SortStableFunc(out, func(a, b Candidate) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(b.Base, a.Base),
			cmp.Compare(b.SuccessRate, a.SuccessRate),
			cmp.Compare(b.Signal.ReuseCalls, a.Signal.ReuseCalls),
			cmp.Compare(b.Signal.Calls, a.Signal.Calls),
			cmp.Compare(b.Entity.ID, a.Entity.ID),
		)
	})
	return out
}
