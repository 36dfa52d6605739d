package engine

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lazypower/lore/internal/governance"
	"github.com/lazypower/lore/internal/retrieval"
	"github.com/lazypower/lore/internal/store"
)

// Engine ties the store to retrieval and governance and runs background
// maintenance.
type Engine struct {
	DB        *store.DB
	Retriever *retrieval.Retriever
	Governor  *governance.Governor

	log      *zap.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Engine.
func New(db *store.DB, r *retrieval.Retriever, g *governance.Governor, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		DB:        db,
		Retriever: r,
		Governor:  g,
		log:       logger,
		stopCh:    make(chan struct{}),
	}
}

// Record appends an execution to the log that feeds quality signals.
func (e *Engine) Record(ctx context.Context, x *store.Execution) error {
	return e.DB.RecordExecution(ctx, x)
}

// RunMaintenance runs one auto-deprecation pass.
func (e *Engine) RunMaintenance(ctx context.Context, opts governance.AutoDeprecateOptions) (*governance.Report, error) {
	r, err := e.Governor.AutoDeprecateLowQuality(ctx, opts)
	if err != nil {
		e.log.Warn("maintenance failed", zap.Error(err))
		return r, err
	}
	if r.Counts.Changed > 0 || len(r.Errors) > 0 {
		e.log.Info("maintenance pass",
			zap.String("operation_id", r.OperationID),
			zap.Int("deprecated", r.Counts.Changed),
			zap.Int("errors", len(r.Errors)))
	}
	return r, nil
}

// StartMaintenance runs auto-deprecation on startup and then every interval.
func (e *Engine) StartMaintenance(interval time.Duration, opts governance.AutoDeprecateOptions) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		go func() {
			select {
			case <-e.stopCh:
				cancel()
			case <-ctx.Done():
			}
		}()

		e.RunMaintenance(ctx, opts)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.RunMaintenance(ctx, opts)
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the engine's background goroutines and waits for them.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.wg.Wait()
}
