package governance

import (
	"context"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/lazypower/lore/internal/store"
)

// DedupeOptions controls DedupeAndMerge.
type DedupeOptions struct {
	Kind store.Kind
	// IncludeDraft lets drafts join groups; otherwise only approved rows do.
	IncludeDraft bool
	// MergeAcrossDomains ignores the domain when grouping unscoped entities.
	MergeAcrossDomains bool
	DryRun             bool
	// Targets overrides the demotion status of duplicates.
	Targets Targets
}

func (o DedupeOptions) eligible() []store.Status {
	if o.IncludeDraft {
		return []store.Status{store.StatusApproved, store.StatusDraft}
	}
	return []store.Status{store.StatusApproved}
}

// DedupeAndMerge collapses groups of duplicate entities into one canonical
// row per group. The canonical row absorbs every list value of its
// duplicates, gets a bumped version (which records a VersionRecord) and is
// republished; the duplicates are demoted. Running it twice changes nothing
// the second time.
func (g *Governor) DedupeAndMerge(ctx context.Context, opts DedupeOptions) (*Report, error) {
	if opts.Kind == "" {
		opts.Kind = store.KindSkill
	}
	opts.Targets = opts.Targets.withDefaults(opts.Kind)
	r := g.newReport("dedupe", opts.DryRun)

	entities, bad, err := g.db.ListEntities(ctx, opts.Kind, opts.eligible()...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", opts.Kind, err)
	}
	r.rowErrors(opts.Kind, "dedupe", bad)

	keys, groups := groupEntities(entities, opts.MergeAcrossDomains)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return g.finish(r), err
		}
		group := groups[key]
		r.Counts.Matched += len(group)
		if opts.DryRun {
			plan := planMerge(key, group, g.cfg.DefaultVersion, opts.Targets)
			r.Merges = append(r.Merges, plan)
			r.Actions = append(r.Actions, mergeAction(plan, false))
			r.Actions = append(r.Actions, plan.Demotions...)
			continue
		}
		ids := make([]int64, len(group))
		for i, e := range group {
			ids[i] = e.ID
		}
		g.mergeGroup(ctx, r, opts, key, ids)
	}
	return g.finish(r), nil
}

// mergeGroup re-reads the group under its lock so a concurrent dedupe that
// already merged it finds nothing left to do.
func (g *Governor) mergeGroup(ctx context.Context, r *Report, opts DedupeOptions, key string, ids []int64) {
	unlock := g.locks.Lock(fmt.Sprintf("dedupe:%s:%s", opts.Kind, key))
	defer unlock()

	eligible := opts.eligible()
	var fresh []store.Entity
	for _, id := range ids {
		e, err := g.db.GetEntity(ctx, opts.Kind, id)
		if err != nil {
			r.fail(opts.Kind, id, "merge", err)
			continue
		}
		if !slices.Contains(eligible, e.EffectiveStatus()) || groupKey(e, opts.MergeAcrossDomains) != key {
			continue
		}
		fresh = append(fresh, *e)
	}
	if len(fresh) < 2 {
		r.Counts.Unchanged++
		return
	}

	plan := planMerge(key, fresh, g.cfg.DefaultVersion, opts.Targets)
	merged := plan.Merged
	if _, err := g.db.UpdateEntity(ctx, &merged, mergeNotes(plan)); err != nil {
		r.fail(opts.Kind, plan.CanonicalID, "merge", err)
		return
	}
	r.Counts.Merged++
	r.Counts.Changed++
	r.Actions = append(r.Actions, mergeAction(plan, true))
	g.log.Info("merged duplicates",
		zap.String("kind", string(opts.Kind)),
		zap.Int64("canonical", plan.CanonicalID),
		zap.Int64s("duplicates", plan.DuplicateIDs),
		zap.String("version", plan.ToVersion))

	for i, d := range plan.Demotions {
		if d.To == "" {
			r.Counts.Unchanged++
			continue
		}
		if err := g.db.Transition(ctx, opts.Kind, d.ID, store.Status(d.To), d.Reason); err != nil {
			r.fail(opts.Kind, d.ID, "demote", err)
			continue
		}
		d.Applied = true
		plan.Demotions[i] = d
		r.Counts.Changed++
		r.Actions = append(r.Actions, d)
	}
	r.Merges = append(r.Merges, plan)

	g.publish(ctx, r, opts.Kind, plan.CanonicalID)
}

func mergeAction(p MergePlan, applied bool) Action {
	return Action{
		Kind:    p.Kind,
		ID:      p.CanonicalID,
		Op:      "merge",
		From:    p.FromVersion,
		To:      p.ToVersion,
		Applied: applied,
		Reason:  fmt.Sprintf("absorbs %v", p.DuplicateIDs),
	}
}
