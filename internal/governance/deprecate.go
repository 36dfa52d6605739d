package governance

import (
	"context"
	"fmt"

	"github.com/lazypower/lore/internal/quality"
	"github.com/lazypower/lore/internal/store"
)

// AutoDeprecateOptions controls AutoDeprecateLowQuality. Zero values take
// the configured defaults.
type AutoDeprecateOptions struct {
	SinceDays int
	MinCalls  int64
	// Threshold is the success rate below which an entity is demoted. Nil
	// takes the configured default; zero disables demotion.
	Threshold *float64
	DryRun    bool
	// Kinds defaults to skills and tools.
	Kinds []store.Kind
	// Targets overrides the status demoted entities move to, per kind.
	Targets map[store.Kind]store.Status
}

func (o AutoDeprecateOptions) withDefaults(def AutoDeprecateConfig) AutoDeprecateOptions {
	if o.SinceDays == 0 {
		o.SinceDays = def.SinceDays
	}
	if o.MinCalls <= 0 {
		o.MinCalls = def.MinCalls
	}
	if o.MinCalls <= 0 {
		o.MinCalls = 1
	}
	if o.Threshold == nil {
		t := def.Threshold
		o.Threshold = &t
	}
	if len(o.Kinds) == 0 {
		o.Kinds = []store.Kind{store.KindSkill, store.KindTool}
	}
	return o
}

func (o AutoDeprecateOptions) target(kind store.Kind) store.Status {
	if t, ok := o.Targets[kind]; ok && t != "" {
		return t
	}
	return DefaultTargets(kind).Approved
}

// AutoDeprecateLowQuality demotes approved entities whose success rate over
// the window fell below the threshold. Entities with fewer than MinCalls
// sampled calls are skipped; those never executed are not considered.
func (g *Governor) AutoDeprecateLowQuality(ctx context.Context, opts AutoDeprecateOptions) (*Report, error) {
	opts = opts.withDefaults(g.cfg.AutoDeprecate)
	r := g.newReport("auto_deprecate", opts.DryRun)
	since := quality.Since(g.now(), opts.SinceDays)

	for _, kind := range opts.Kinds {
		if err := ctx.Err(); err != nil {
			return g.finish(r), err
		}
		approved, bad, err := g.db.ListEntities(ctx, kind, store.StatusApproved)
		if err != nil {
			r.fail(kind, 0, "list", err)
			continue
		}
		r.rowErrors(kind, "list", bad)
		if len(approved) == 0 {
			continue
		}
		ids := make([]int64, len(approved))
		for i, e := range approved {
			ids[i] = e.ID
		}
		signals, err := g.quality.GetQualityMap(ctx, kind, ids, since)
		if err != nil {
			r.Counts.Failed++
			r.Errors = append(r.Errors, ItemError{Kind: kind, Op: "quality", Code: CodeQuality, Message: err.Error()})
			continue
		}

		to := opts.target(kind)
		for _, e := range approved {
			sig, ok := signals[e.ID]
			if !ok || sig.Calls == 0 {
				continue
			}
			r.Counts.Matched++
			rate, sampled := sig.SuccessRate()
			if !sampled || sig.Sampled() < opts.MinCalls {
				r.Counts.Skipped++
				continue
			}
			if rate >= *opts.Threshold {
				r.Counts.Unchanged++
				continue
			}
			reason := fmt.Sprintf("success rate %.2f below %.2f over %d samples", rate, *opts.Threshold, sig.Sampled())
			g.demote(ctx, r, &e, to, true, reason)
		}
	}
	return g.finish(r), nil
}
