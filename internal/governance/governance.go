// Package governance runs the lifecycle operations over stored knowledge:
// dedupe and merge, version rollback, run rollback and quality-driven
// auto-deprecation. Every operation returns a Report; per-item failures are
// collected there instead of aborting the batch.
package governance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lazypower/lore/internal/quality"
	"github.com/lazypower/lore/internal/store"
)

// ErrPublishFailed wraps failures of the publish sink.
var ErrPublishFailed = errors.New("publish failed")

// Error codes used in ItemError.Code and the errors metric.
const (
	CodeNotFound          = "not_found"
	CodeInvalidStatus     = "invalid_status"
	CodeInvalidSnapshot   = "invalid_snapshot"
	CodeNoPreviousVersion = "no_previous_version"
	CodeIndexUnavailable  = "index_unavailable"
	CodePublishFailed     = "publish_failed"
	CodeInvalidRow        = "invalid_row"
	CodeQuality           = "quality_unavailable"
	CodeInternal          = "internal"
)

// Config holds governance defaults.
type Config struct {
	// DefaultVersion is assigned when a merged entity has no parseable version.
	DefaultVersion string `toml:"default_version"`
	// PublishDir enables the file publisher when set.
	PublishDir string `toml:"publish_dir"`
	// RejectReason is stamped on tools rejected by run rollback.
	RejectReason  string              `toml:"reject_reason"`
	AutoDeprecate AutoDeprecateConfig `toml:"auto_deprecate"`
}

// AutoDeprecateConfig holds the defaults for AutoDeprecateLowQuality.
type AutoDeprecateConfig struct {
	SinceDays int     `toml:"since_days"`
	MinCalls  int64   `toml:"min_calls"`
	Threshold float64 `toml:"threshold"`
}

// DefaultConfig returns the stock governance settings.
func DefaultConfig() Config {
	return Config{
		DefaultVersion: "0.1.0",
		RejectReason:   "rolled back",
		AutoDeprecate: AutoDeprecateConfig{
			SinceDays: 30,
			MinCalls:  3,
			Threshold: 0.3,
		},
	}
}

// Governor applies lifecycle operations to a store.
type Governor struct {
	db        *store.DB
	quality   quality.Provider
	publisher Publisher
	cfg       Config
	log       *zap.Logger
	locks     *KeyedMutex
	metrics   *Metrics
	now       func() time.Time
}

// New creates a Governor. A nil provider reads quality from the store's
// execution log; a nil publisher publishes nothing.
func New(db *store.DB, qp quality.Provider, pub Publisher, cfg Config, logger *zap.Logger) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if qp == nil {
		qp = quality.NewStoreProvider(db)
	}
	if pub == nil {
		pub = NopPublisher{}
	}
	def := DefaultConfig()
	if cfg.DefaultVersion == "" {
		cfg.DefaultVersion = def.DefaultVersion
	}
	if cfg.RejectReason == "" {
		cfg.RejectReason = def.RejectReason
	}
	return &Governor{
		db:        db,
		quality:   qp,
		publisher: pub,
		cfg:       cfg,
		log:       logger,
		locks:     NewKeyedMutex(),
		metrics:   NewMetrics(),
		now:       time.Now,
	}
}

// Counts tallies what an operation touched.
type Counts struct {
	Matched   int `json:"matched"`
	Changed   int `json:"changed"`
	Unchanged int `json:"unchanged"`
	Skipped   int `json:"skipped"`
	Merged    int `json:"merged"`
	Failed    int `json:"failed"`
}

// Action is one per-entity step of an operation. In a dry run, Applied is
// false and the action describes what would happen.
type Action struct {
	Kind    store.Kind `json:"kind"`
	ID      int64      `json:"id"`
	Op      string     `json:"op"`
	From    string     `json:"from,omitempty"`
	To      string     `json:"to,omitempty"`
	Applied bool       `json:"applied"`
	Reason  string     `json:"reason,omitempty"`
}

// ItemError records a failure for one entity (ID is 0 for kind-wide failures).
type ItemError struct {
	Kind    store.Kind `json:"kind"`
	ID      int64      `json:"id,omitempty"`
	Op      string     `json:"op"`
	Code    string     `json:"code"`
	Message string     `json:"message"`
}

// Report is the structured result of a governance operation.
type Report struct {
	OperationID string      `json:"operation_id"`
	Operation   string      `json:"operation"`
	OK          bool        `json:"ok"`
	DryRun      bool        `json:"dry_run"`
	Counts      Counts      `json:"counts"`
	Actions     []Action    `json:"actions"`
	Merges      []MergePlan `json:"merges,omitempty"`
	Errors      []ItemError `json:"errors"`
	StartedAt   time.Time   `json:"started_at"`
	Elapsed     string      `json:"elapsed"`
}

func (g *Governor) newReport(op string, dryRun bool) *Report {
	return &Report{
		OperationID: uuid.NewString(),
		Operation:   op,
		DryRun:      dryRun,
		Actions:     []Action{},
		Errors:      []ItemError{},
		StartedAt:   g.now(),
	}
}

// finish settles OK and emits metrics. Publish failures do not make an
// operation fail.
func (g *Governor) finish(r *Report) *Report {
	r.OK = true
	for _, e := range r.Errors {
		if e.Code != CodePublishFailed {
			r.OK = false
		}
		g.metrics.Errors.WithLabelValues(r.Operation, e.Code).Inc()
	}
	for _, a := range r.Actions {
		label := a.Op
		if !a.Applied {
			label += "_planned"
		}
		g.metrics.Actions.WithLabelValues(r.Operation, label).Inc()
	}
	r.Elapsed = g.now().Sub(r.StartedAt).String()
	g.log.Info("governance operation finished",
		zap.String("operation", r.Operation),
		zap.String("operation_id", r.OperationID),
		zap.Bool("ok", r.OK),
		zap.Bool("dry_run", r.DryRun),
		zap.Int("changed", r.Counts.Changed),
		zap.Int("errors", len(r.Errors)))
	return r
}

func (r *Report) fail(kind store.Kind, id int64, op string, err error) {
	r.Counts.Failed++
	r.Errors = append(r.Errors, ItemError{
		Kind:    kind,
		ID:      id,
		Op:      op,
		Code:    errorCode(err),
		Message: err.Error(),
	})
}

func (r *Report) rowErrors(kind store.Kind, op string, bad []store.RowError) {
	for _, b := range bad {
		r.Counts.Skipped++
		r.Errors = append(r.Errors, ItemError{
			Kind:    kind,
			ID:      b.ID,
			Op:      op,
			Code:    CodeInvalidRow,
			Message: b.Err.Error(),
		})
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, store.ErrInvalidStatus):
		return CodeInvalidStatus
	case errors.Is(err, store.ErrInvalidSnapshot):
		return CodeInvalidSnapshot
	case errors.Is(err, store.ErrNoPreviousVersion):
		return CodeNoPreviousVersion
	case errors.Is(err, store.ErrIndexUnavailable):
		return CodeIndexUnavailable
	case errors.Is(err, ErrPublishFailed):
		return CodePublishFailed
	default:
		return CodeInternal
	}
}

// publish pushes one entity to the sink. Failures land in the report and
// never undo the write that preceded them.
func (g *Governor) publish(ctx context.Context, r *Report, kind store.Kind, id int64) {
	if err := g.publisher.Publish(ctx, kind, id); err != nil {
		err = fmt.Errorf("%w: %s %d: %v", ErrPublishFailed, kind, id, err)
		g.log.Warn("publish failed", zap.String("kind", string(kind)), zap.Int64("id", id), zap.Error(err))
		r.Errors = append(r.Errors, ItemError{
			Kind:    kind,
			ID:      id,
			Op:      "publish",
			Code:    CodePublishFailed,
			Message: err.Error(),
		})
	}
}

// SetStatus applies a single manual transition and republishes the entity.
func (g *Governor) SetStatus(ctx context.Context, kind store.Kind, id int64, to store.Status, reason string) (*Report, error) {
	r := g.newReport("set_status", false)
	unlock := g.locks.Lock(entityKey(kind, id))
	defer unlock()

	from, err := g.db.CurrentStatus(ctx, kind, id)
	if err != nil {
		r.fail(kind, id, "transition", err)
		return g.finish(r), err
	}
	r.Counts.Matched++
	if err := g.db.Transition(ctx, kind, id, to, reason); err != nil {
		r.fail(kind, id, "transition", err)
		return g.finish(r), err
	}
	r.Counts.Changed++
	r.Actions = append(r.Actions, Action{Kind: kind, ID: id, Op: "transition", From: string(from), To: string(to), Applied: true, Reason: reason})
	g.publish(ctx, r, kind, id)
	return g.finish(r), nil
}

func entityKey(kind store.Kind, id int64) string {
	return fmt.Sprintf("entity:%s:%d", kind, id)
}
