package governance

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/lazypower/lore/internal/store"
)

// Publisher pushes the current state of an entity to an external sink.
type Publisher interface {
	Publish(ctx context.Context, kind store.Kind, id int64) error
}

// NopPublisher publishes nothing.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, store.Kind, int64) error { return nil }

// FilePublisher writes each entity as JSON under Dir/<table>/<id>.json and
// records that path on the row the first time.
type FilePublisher struct {
	DB  *store.DB
	Dir string
}

// NewFilePublisher returns a FilePublisher rooted at dir.
func NewFilePublisher(db *store.DB, dir string) *FilePublisher {
	return &FilePublisher{DB: db, Dir: dir}
}

func (p *FilePublisher) Publish(ctx context.Context, kind store.Kind, id int64) error {
	e, err := p.DB.GetEntity(ctx, kind, id)
	if err != nil {
		return err
	}
	path := e.PublishPath
	if path == "" {
		path = filepath.Join(p.Dir, kind.Table(), fmt.Sprintf("%d.json", id))
	}
	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename: %w", err)
	}
	if e.PublishPath == "" {
		return p.DB.SetPublishPath(ctx, kind, id, path)
	}
	return nil
}
