// Package retrieval selects and ranks knowledge candidates for a task.
//
// Membership is decided by text relevance (FTS5) with a recency backfill;
// quality signals only reorder what was selected. Retrieval is advisory, so
// every failure degrades to a smaller result instead of an error.
package retrieval

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lazypower/lore/internal/quality"
	"github.com/lazypower/lore/internal/query"
	"github.com/lazypower/lore/internal/store"
)

// Store is the read surface retrieval needs.
type Store interface {
	FTSExists(ctx context.Context, kind store.Kind) (bool, error)
	SearchFTS(ctx context.Context, kind store.Kind, match string, f store.Filter, limit int) ([]store.Entity, []store.RowError, error)
	ListRecent(ctx context.Context, kind store.Kind, f store.Filter, exclude []int64, limit int) ([]store.Entity, []store.RowError, error)
	ListNamed(ctx context.Context, kind store.Kind, f store.Filter, limit int) ([]store.Entity, []store.RowError, error)
	EdgesWithin(ctx context.Context, ids []int64) ([]store.Edge, error)
}

// Candidate sources.
const (
	SourceFTS    = "fts"
	SourceRecent = "recent"
	SourceNamed  = "named"
)

// Candidate is one ranked retrieval result.
type Candidate struct {
	Entity      store.Entity   `json:"entity"`
	Score       float64        `json:"score"`
	Base        float64        `json:"base"`
	SuccessRate float64        `json:"success_rate"`
	ReuseBonus  float64        `json:"reuse_bonus"`
	Signal      quality.Signal `json:"signal"`
	Source      string         `json:"source"`
}

// Config tunes retrieval. Zero fields fall back to defaults.
type Config struct {
	DefaultLimit      int     `toml:"default_limit"`
	TermLimit         int     `toml:"term_limit"`
	Weights           Weights `toml:"weights"`
	ReuseCap          int     `toml:"reuse_cap"`
	QualityWindowDays int     `toml:"quality_window_days"`
}

// DefaultConfig returns the stock tuning values.
func DefaultConfig() Config {
	return Config{
		DefaultLimit:      10,
		TermLimit:         8,
		Weights:           DefaultWeights(),
		ReuseCap:          DefaultReuseCap,
		QualityWindowDays: 30,
	}
}

// Options controls a single retrieval call.
type Options struct {
	Limit  int
	Filter store.Filter
	// Diagnostics, when non-nil, is filled with per-phase details.
	Diagnostics *Diagnostics
}

// Diagnostics reports how a result was assembled. It is informational only.
type Diagnostics struct {
	Kind           store.Kind       `json:"kind"`
	Query          string           `json:"query"`
	IndexAvailable bool             `json:"index_available"`
	FTSHits        int              `json:"fts_hits"`
	RecentHits     int              `json:"recent_hits"`
	NamedHits      int              `json:"named_hits"`
	SkippedRows    int              `json:"skipped_rows"`
	Sources        map[int64]string `json:"sources"`
	Errors         []string         `json:"errors,omitempty"`
	Elapsed        time.Duration    `json:"elapsed"`
}

// Retriever runs the two-phase selection and the quality re-rank.
type Retriever struct {
	store   Store
	quality quality.Provider
	cfg     Config
	log     *zap.Logger
	metrics *Metrics
	now     func() time.Time
}

// New creates a Retriever. qp may be nil, in which case candidates keep
// their relevance order.
func New(st Store, qp quality.Provider, cfg Config, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}
	if cfg.TermLimit <= 0 {
		cfg.TermLimit = def.TermLimit
	}
	return &Retriever{
		store:   st,
		quality: qp,
		cfg:     cfg,
		log:     logger.Named("retrieval"),
		metrics: NewMetrics(),
		now:     time.Now,
	}
}

func (o Options) limit(def int) int {
	if o.Limit <= 0 {
		return def
	}
	return o.Limit
}

// Retrieve returns up to opts.Limit candidates of kind for text.
func (r *Retriever) Retrieve(ctx context.Context, kind store.Kind, text string, opts Options) []Candidate {
	start := r.now()
	limit := opts.limit(r.cfg.DefaultLimit)

	diag := opts.Diagnostics
	if diag == nil {
		diag = &Diagnostics{}
	}
	diag.Kind = kind
	diag.Sources = make(map[int64]string)
	r.metrics.Requests.WithLabelValues(string(kind)).Inc()
	defer func() {
		diag.Elapsed = r.now().Sub(start)
		r.metrics.Duration.WithLabelValues(string(kind)).Observe(diag.Elapsed.Seconds())
	}()

	if len(opts.Filter.Names) > 0 {
		return r.named(ctx, kind, opts.Filter, limit, diag)
	}

	var cands []Candidate
	seen := make(map[int64]bool)

	diag.Query = query.BuildSafeQuery(text, r.cfg.TermLimit)
	if diag.Query != "" {
		ok, err := r.store.FTSExists(ctx, kind)
		if err != nil {
			r.absorb(kind, "index_check", err, diag)
		}
		diag.IndexAvailable = ok
		if ok {
			rows, bad, err := r.store.SearchFTS(ctx, kind, diag.Query, opts.Filter, limit)
			if err != nil {
				r.absorb(kind, "fts", err, diag)
			}
			r.skipped(kind, bad, diag)
			for _, e := range rows {
				if seen[e.ID] || len(cands) >= limit {
					continue
				}
				seen[e.ID] = true
				cands = append(cands, Candidate{Entity: e, Source: SourceFTS})
				diag.Sources[e.ID] = SourceFTS
				diag.FTSHits++
			}
		}
	}

	if len(cands) < limit {
		exclude := make([]int64, 0, len(cands))
		for _, c := range cands {
			exclude = append(exclude, c.Entity.ID)
		}
		rows, bad, err := r.store.ListRecent(ctx, kind, opts.Filter, exclude, limit-len(cands))
		if err != nil {
			r.absorb(kind, "recent", err, diag)
		}
		r.skipped(kind, bad, diag)
		for _, e := range rows {
			if seen[e.ID] || len(cands) >= limit {
				continue
			}
			seen[e.ID] = true
			cands = append(cands, Candidate{Entity: e, Source: SourceRecent})
			diag.Sources[e.ID] = SourceRecent
			diag.RecentHits++
		}
	}

	r.metrics.Rows.WithLabelValues(string(kind), SourceFTS).Add(float64(diag.FTSHits))
	r.metrics.Rows.WithLabelValues(string(kind), SourceRecent).Add(float64(diag.RecentHits))

	return Rerank(cands, r.signals(ctx, kind, cands, diag), r.cfg.Weights, r.cfg.ReuseCap)
}

// named serves exact-name lookups in the caller's order without re-ranking.
func (r *Retriever) named(ctx context.Context, kind store.Kind, f store.Filter, limit int, diag *Diagnostics) []Candidate {
	rows, bad, err := r.store.ListNamed(ctx, kind, f, limit)
	if err != nil {
		r.absorb(kind, "named", err, diag)
	}
	r.skipped(kind, bad, diag)

	cands := make([]Candidate, 0, len(rows))
	for i, e := range rows {
		base := float64(len(rows)-i) / float64(len(rows))
		cands = append(cands, Candidate{Entity: e, Source: SourceNamed, Base: base, Score: base})
		diag.Sources[e.ID] = SourceNamed
	}
	diag.NamedHits = len(cands)
	r.metrics.Rows.WithLabelValues(string(kind), SourceNamed).Add(float64(len(cands)))
	return cands
}

func (r *Retriever) signals(ctx context.Context, kind store.Kind, cands []Candidate, diag *Diagnostics) map[int64]quality.Signal {
	if r.quality == nil || len(cands) == 0 {
		return nil
	}
	ids := make([]int64, len(cands))
	for i, c := range cands {
		ids[i] = c.Entity.ID
	}
	m, err := r.quality.GetQualityMap(ctx, kind, ids, quality.Since(r.now(), r.cfg.QualityWindowDays))
	if err != nil {
		r.absorb(kind, "quality", err, diag)
		return nil
	}
	return m
}

func (r *Retriever) absorb(kind store.Kind, stage string, err error, diag *Diagnostics) {
	r.log.Warn("retrieval degraded",
		zap.String("kind", string(kind)), zap.String("stage", stage), zap.Error(err))
	r.metrics.Errors.WithLabelValues(string(kind), stage).Inc()
	diag.Errors = append(diag.Errors, stage+": "+err.Error())
}

func (r *Retriever) skipped(kind store.Kind, bad []store.RowError, diag *Diagnostics) {
	for _, b := range bad {
		r.log.Debug("skipping malformed row",
			zap.String("kind", string(kind)), zap.Int64("id", b.ID), zap.Error(b.Err))
		r.metrics.Errors.WithLabelValues(string(kind), "decode").Inc()
	}
	diag.SkippedRows += len(bad)
}

// Skills retrieves skill candidates.
func (r *Retriever) Skills(ctx context.Context, text string, opts Options) []Candidate {
	return r.Retrieve(ctx, store.KindSkill, text, opts)
}

// Tools retrieves tool candidates.
func (r *Retriever) Tools(ctx context.Context, text string, opts Options) []Candidate {
	return r.Retrieve(ctx, store.KindTool, text, opts)
}

// Memories retrieves memory items.
func (r *Retriever) Memories(ctx context.Context, text string, opts Options) []Candidate {
	return r.Retrieve(ctx, store.KindMemory, text, opts)
}

// GraphNodes retrieves graph nodes.
func (r *Retriever) GraphNodes(ctx context.Context, text string, opts Options) []Candidate {
	return r.Retrieve(ctx, store.KindGraphNode, text, opts)
}

// Edges loads the edges among nodeIDs only, so a small node seed never
// expands into the wider graph.
func (r *Retriever) Edges(ctx context.Context, nodeIDs []int64) []store.Edge {
	edges, err := r.store.EdgesWithin(ctx, nodeIDs)
	if err != nil {
		r.log.Warn("edge load failed", zap.Error(err))
		r.metrics.Errors.WithLabelValues(string(store.KindGraphNode), "edges").Inc()
		return nil
	}
	return edges
}

// Bundle is the knowledge context assembled for one task.
type Bundle struct {
	Skills     []Candidate  `json:"skills"`
	Tools      []Candidate  `json:"tools"`
	Memories   []Candidate  `json:"memories"`
	GraphNodes []Candidate  `json:"graph_nodes"`
	Edges      []store.Edge `json:"edges"`
}

// BundleOptions carries per-kind options for Bundle.
type BundleOptions struct {
	Skills, Tools, Memories, GraphNodes Options
}

// Bundle retrieves every kind concurrently, then loads the edges among the
// selected graph nodes.
func (r *Retriever) Bundle(ctx context.Context, text string, opts BundleOptions) Bundle {
	var b Bundle
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { b.Skills = r.Skills(gctx, text, opts.Skills); return nil })
	g.Go(func() error { b.Tools = r.Tools(gctx, text, opts.Tools); return nil })
	g.Go(func() error { b.Memories = r.Memories(gctx, text, opts.Memories); return nil })
	g.Go(func() error { b.GraphNodes = r.GraphNodes(gctx, text, opts.GraphNodes); return nil })
	_ = g.Wait()

	if len(b.GraphNodes) > 0 {
		ids := make([]int64, len(b.GraphNodes))
		for i, c := range b.GraphNodes {
			ids[i] = c.Entity.ID
		}
		b.Edges = r.Edges(ctx, ids)
	}
	return b
}
