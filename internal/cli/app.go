package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/lazypower/lore/internal/config"
	"github.com/lazypower/lore/internal/engine"
	"github.com/lazypower/lore/internal/governance"
	"github.com/lazypower/lore/internal/logging"
	"github.com/lazypower/lore/internal/retrieval"
	"github.com/lazypower/lore/internal/store"
)

// app is everything a command needs, built from configuration.
type app struct {
	cfg config.Config
	log *zap.Logger
	db  *store.DB
	eng *engine.Engine
}

// openApp loads configuration, opens the database and wires the engine.
func openApp() (*app, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	dbPath := cfg.Database.Path
	if dbPath == "" {
		if dbPath, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
	}
	db, err := store.Open(dbPath, logger)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	var pub governance.Publisher
	if cfg.Governance.PublishDir != "" {
		pub = governance.NewFilePublisher(db, cfg.Governance.PublishDir)
	}
	r := retrieval.New(db, nil, cfg.Retrieval, logger)
	g := governance.New(db, nil, pub, cfg.Governance, logger)

	return &app{
		cfg: cfg,
		log: logger,
		db:  db,
		eng: engine.New(db, r, g, logger),
	}, nil
}

func (a *app) Close() {
	a.eng.Stop()
	a.db.Close()
	a.log.Sync()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printReport writes a governance report and turns a failed one into an error.
func printReport(w io.Writer, r *governance.Report) error {
	if err := printJSON(w, r); err != nil {
		return err
	}
	if !r.OK {
		return fmt.Errorf("%s finished with %d error(s)", r.Operation, len(r.Errors))
	}
	return nil
}
