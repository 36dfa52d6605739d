package governance

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lazypower/lore/internal/store"
)

// RollbackToPreviousVersion restores an entity to the snapshot held by its
// latest VersionRecord. The pre-rollback state is recorded first, so a
// second rollback undoes the first. The publish path is kept.
func (g *Governor) RollbackToPreviousVersion(ctx context.Context, kind store.Kind, id int64, dryRun bool) (*Report, error) {
	r := g.newReport("rollback_version", dryRun)
	unlock := g.locks.Lock(entityKey(kind, id))
	defer unlock()

	current, err := g.db.GetEntity(ctx, kind, id)
	if err != nil {
		r.fail(kind, id, "rollback", err)
		return g.finish(r), err
	}
	r.Counts.Matched++

	rec, err := g.db.LatestVersionRecord(ctx, kind, id)
	if err != nil {
		r.fail(kind, id, "rollback", err)
		return g.finish(r), err
	}
	snap, err := rec.Snapshot()
	if err != nil {
		r.fail(kind, id, "rollback", err)
		return g.finish(r), err
	}

	act := Action{
		Kind:   kind,
		ID:     id,
		Op:     "restore",
		From:   current.Version,
		To:     snap.Version,
		Reason: fmt.Sprintf("version record %d", rec.ID),
	}
	if dryRun {
		r.Actions = append(r.Actions, act)
		return g.finish(r), nil
	}

	notes := fmt.Sprintf("rollback to %s (record %d)", snap.Version, rec.ID)
	if _, err := g.db.RestoreSnapshot(ctx, snap, notes); err != nil {
		r.fail(kind, id, "rollback", err)
		return g.finish(r), err
	}
	act.Applied = true
	r.Actions = append(r.Actions, act)
	r.Counts.Changed++
	g.log.Info("rolled back entity",
		zap.String("kind", string(kind)),
		zap.Int64("id", id),
		zap.String("from", current.Version),
		zap.String("to", snap.Version))

	g.publish(ctx, r, kind, id)
	return g.finish(r), nil
}

// RunRollbackOptions controls RollbackKnowledgeFromRun.
type RunRollbackOptions struct {
	DryRun bool
	// Kinds limits the rollback; empty means skills, memories and graph nodes.
	// Tools are always handled through their approval run.
	Kinds []store.Kind
	// Targets overrides the demotion of non-tool entities.
	Targets Targets
	// ToolStatus overrides the status rejected tools move to.
	ToolStatus store.Status
	Reason     string
}

var runKinds = []store.Kind{store.KindSkill, store.KindMemory, store.KindGraphNode}

// RollbackKnowledgeFromRun demotes everything a run produced: entities whose
// source run is runID or that carry the tag "run:{runID}", and tools whose
// approval was created by the run. Already-demoted rows are left alone, so
// repeating the call is a no-op.
func (g *Governor) RollbackKnowledgeFromRun(ctx context.Context, runID int64, opts RunRollbackOptions) (*Report, error) {
	r := g.newReport("rollback_run", opts.DryRun)
	kinds := opts.Kinds
	if len(kinds) == 0 {
		kinds = runKinds
	}
	reason := opts.Reason
	if reason == "" {
		reason = fmt.Sprintf("%s: run %d", g.cfg.RejectReason, runID)
	}

	for _, kind := range kinds {
		if kind == store.KindTool {
			continue
		}
		es, bad, err := g.db.FindByRun(ctx, kind, runID)
		if err != nil {
			r.fail(kind, 0, "find", err)
			continue
		}
		r.rowErrors(kind, "find", bad)
		targets := opts.Targets.withDefaults(kind)
		for _, e := range es {
			r.Counts.Matched++
			to, ok := targets.For(e.EffectiveStatus())
			g.demote(ctx, r, &e, to, ok, reason)
		}
	}

	tools, bad, err := g.db.FindToolsByApprovalRun(ctx, runID)
	if err != nil {
		r.fail(store.KindTool, 0, "find", err)
		return g.finish(r), nil
	}
	r.rowErrors(store.KindTool, "find", bad)
	toolStatus := opts.ToolStatus
	if toolStatus == "" {
		toolStatus = store.StatusRejected
	}
	for _, e := range tools {
		r.Counts.Matched++
		g.demote(ctx, r, &e, toolStatus, e.EffectiveStatus() != toolStatus, reason)
	}
	return g.finish(r), nil
}

// demote moves e to status `to` when ok, recording the outcome on r.
func (g *Governor) demote(ctx context.Context, r *Report, e *store.Entity, to store.Status, ok bool, reason string) {
	from := e.EffectiveStatus()
	if !ok {
		r.Counts.Unchanged++
		return
	}
	act := Action{Kind: e.Kind, ID: e.ID, Op: "demote", From: string(from), To: string(to), Reason: reason}
	if r.DryRun {
		if !store.CanTransition(e.Kind, from, to) {
			r.fail(e.Kind, e.ID, "demote", fmt.Errorf("%w: %s %d cannot move %s -> %s", store.ErrInvalidStatus, e.Kind, e.ID, from, to))
			return
		}
		r.Counts.Changed++
		r.Actions = append(r.Actions, act)
		return
	}
	if err := g.db.Transition(ctx, e.Kind, e.ID, to, reason); err != nil {
		r.fail(e.Kind, e.ID, "demote", err)
		return
	}
	act.Applied = true
	r.Counts.Changed++
	r.Actions = append(r.Actions, act)
	g.log.Info("demoted entity",
		zap.String("kind", string(e.Kind)),
		zap.Int64("id", e.ID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	g.publish(ctx, r, e.Kind, e.ID)
}
