package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// VersionRecord is one append-only audit entry: the full entity as it was
// before a version-changing write.
type VersionRecord struct {
	ID               int64           `json:"id"`
	Kind             Kind            `json:"kind"`
	EntityID         int64           `json:"entity_id"`
	PreviousVersion  string          `json:"previous_version"`
	NextVersion      string          `json:"next_version"`
	PreviousSnapshot json.RawMessage `json:"previous_snapshot"`
	ChangeNotes      string          `json:"change_notes,omitempty"`
	CreatedAt        int64           `json:"created_at"`
}

// Snapshot decodes the captured entity. Empty or corrupt snapshots, and
// snapshots of a different entity, yield ErrInvalidSnapshot.
func (r *VersionRecord) Snapshot() (*Entity, error) {
	if len(r.PreviousSnapshot) == 0 || string(r.PreviousSnapshot) == "null" {
		return nil, fmt.Errorf("%w: record %d is empty", ErrInvalidSnapshot, r.ID)
	}
	var e Entity
	if err := json.Unmarshal(r.PreviousSnapshot, &e); err != nil {
		return nil, fmt.Errorf("%w: record %d: %v", ErrInvalidSnapshot, r.ID, err)
	}
	if e.ID != 0 && e.ID != r.EntityID {
		return nil, fmt.Errorf("%w: record %d holds entity %d, want %d", ErrInvalidSnapshot, r.ID, e.ID, r.EntityID)
	}
	e.ID = r.EntityID
	e.Kind = r.Kind
	return &e, nil
}

func insertVersionRecord(ctx context.Context, q querier, prev *Entity, next, notes string) (*VersionRecord, error) {
	spec, err := specFor(prev.Kind)
	if err != nil {
		return nil, err
	}
	snap, err := json.Marshal(prev)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	rec := &VersionRecord{
		Kind:             prev.Kind,
		EntityID:         prev.ID,
		PreviousVersion:  prev.Version,
		NextVersion:      next,
		PreviousSnapshot: snap,
		ChangeNotes:      notes,
		CreatedAt:        time.Now().UnixMilli(),
	}
	res, err := q.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (entity_id, previous_version, next_version, previous_snapshot, change_notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, spec.versions), rec.EntityID, nullString(rec.PreviousVersion), nullString(rec.NextVersion),
		string(rec.PreviousSnapshot), nullString(rec.ChangeNotes), rec.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert version record: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	return rec, nil
}

// LatestVersionRecord returns the most recent record for an entity, or
// ErrNoPreviousVersion when the entity has never changed version.
func (db *DB) LatestVersionRecord(ctx context.Context, kind Kind, entityID int64) (*VersionRecord, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	var r VersionRecord
	var prev, next, notes sql.NullString
	var snap string
	err = db.QueryRowContext(ctx, fmt.Sprintf(`
		SELECT id, entity_id, previous_version, next_version, previous_snapshot, change_notes, created_at
		FROM %s WHERE entity_id = ? ORDER BY id DESC LIMIT 1
	`, spec.versions), entityID).Scan(&r.ID, &r.EntityID, &prev, &next, &snap, &notes, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %d: %w", kind, entityID, ErrNoPreviousVersion)
	}
	if err != nil {
		return nil, fmt.Errorf("latest version record: %w", err)
	}
	r.Kind = kind
	r.PreviousVersion = prev.String
	r.NextVersion = next.String
	r.PreviousSnapshot = json.RawMessage(snap)
	r.ChangeNotes = notes.String
	return &r, nil
}

// ListVersionRecords returns every record for an entity, newest first.
func (db *DB) ListVersionRecords(ctx context.Context, kind Kind, entityID int64) ([]VersionRecord, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, entity_id, previous_version, next_version, previous_snapshot, change_notes, created_at
		FROM %s WHERE entity_id = ? ORDER BY id DESC
	`, spec.versions), entityID)
	if err != nil {
		return nil, fmt.Errorf("list version records: %w", err)
	}
	defer rows.Close()

	var out []VersionRecord
	for rows.Next() {
		var r VersionRecord
		var prev, next, notes sql.NullString
		var snap string
		if err := rows.Scan(&r.ID, &r.EntityID, &prev, &next, &snap, &notes, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version record: %w", err)
		}
		r.Kind = kind
		r.PreviousVersion = prev.String
		r.NextVersion = next.String
		r.PreviousSnapshot = json.RawMessage(snap)
		r.ChangeNotes = notes.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// RestoreSnapshot rolls an entity back to snap. The live row is first
// appended to the version log (next_version = snap's version) so the
// rollback itself can be undone; that write is best-effort. Identity
// fields and the publish path stay as they are. Returns the record
// written, or nil when it could not be written.
func (db *DB) RestoreSnapshot(ctx context.Context, snap *Entity, notes string) (*VersionRecord, error) {
	var rec *VersionRecord
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		current, err := getEntity(ctx, tx, snap.Kind, snap.ID)
		if err != nil {
			return err
		}
		r, err := insertVersionRecord(ctx, tx, current, snap.Version, notes)
		if err != nil {
			db.log.Warn("rollback snapshot failed",
				zap.String("kind", string(snap.Kind)), zap.Int64("id", snap.ID), zap.Error(err))
		} else {
			rec = r
		}

		restored := *snap
		restored.PublishPath = current.PublishPath
		restored.CreatedAt = current.CreatedAt
		return writeFields(ctx, tx, &restored)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
