// Package quality turns the execution log into per-entity quality signals.
package quality

import (
	"context"
	"time"

	"github.com/lazypower/lore/internal/store"
)

// Signal summarizes how an entity has fared over a time window.
type Signal struct {
	Calls      int64 `json:"calls"`
	ReuseCalls int64 `json:"reuse_calls"`
	PassCalls  int64 `json:"pass_calls"`
	FailCalls  int64 `json:"fail_calls"`
}

// Sampled returns the number of calls with a pass or fail verdict.
func (s Signal) Sampled() int64 { return s.PassCalls + s.FailCalls }

// SuccessRate returns pass/(pass+fail). ok is false when nothing was sampled.
func (s Signal) SuccessRate() (rate float64, ok bool) {
	n := s.Sampled()
	if n <= 0 {
		return 0, false
	}
	return float64(s.PassCalls) / float64(n), true
}

// Provider computes quality signals on demand. Implementations may be remote
// and fail; callers never retry.
type Provider interface {
	GetQualityMap(ctx context.Context, kind store.Kind, ids []int64, since *time.Time) (map[int64]Signal, error)
}

// StoreProvider aggregates signals from the local execution log.
type StoreProvider struct {
	DB *store.DB
}

// NewStoreProvider returns a Provider backed by db.
func NewStoreProvider(db *store.DB) *StoreProvider {
	return &StoreProvider{DB: db}
}

func (p *StoreProvider) GetQualityMap(ctx context.Context, kind store.Kind, ids []int64, since *time.Time) (map[int64]Signal, error) {
	stats, err := p.DB.ExecutionStatsFor(ctx, kind, ids, since)
	if err != nil {
		return nil, err
	}
	out := make(map[int64]Signal, len(stats))
	for id, s := range stats {
		out[id] = Signal{
			Calls:      s.Calls,
			ReuseCalls: s.ReuseCalls,
			PassCalls:  s.PassCalls,
			FailCalls:  s.FailCalls,
		}
	}
	return out, nil
}

// Since returns the start of a trailing window of days, or nil for days <= 0.
func Since(now time.Time, days int) *time.Time {
	if days <= 0 {
		return nil
	}
	t := now.Add(-time.Duration(days) * 24 * time.Hour)
	return &t
}

// Static is a fixed Provider, handy for tests and offline tooling.
type Static map[store.Kind]map[int64]Signal

func (s Static) GetQualityMap(_ context.Context, kind store.Kind, ids []int64, _ *time.Time) (map[int64]Signal, error) {
	out := make(map[int64]Signal, len(ids))
	for _, id := range ids {
		if sig, ok := s[kind][id]; ok {
			out[id] = sig
		}
	}
	return out, nil
}
