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

// CreateEntity inserts e into its kind's table and fills in ID and timestamps.
func (db *DB) CreateEntity(ctx context.Context, e *Entity) error {
	spec, err := specFor(e.Kind)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()

	args := []any{e.Name, nullString(e.Description), nullString(e.Scope), nullString(e.DomainID),
		nullString(e.KindTag), nullString(e.Status), encodeApproval(e.Approval)}
	for _, f := range ListFields {
		args = append(args, encodeList(f.Get(e)))
	}
	args = append(args, nullString(e.Version), nullInt(e.SourceTaskID), nullInt(e.SourceRunID),
		nullString(e.PublishPath), now, now)

	result, err := db.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (%s) VALUES (%s)
	`, spec.table, entityColumns[len("id, "):], placeholders(len(args))), args...)
	if err != nil {
		return fmt.Errorf("create %s: %w", e.Kind, err)
	}

	id, _ := result.LastInsertId()
	e.ID = id
	e.CreatedAt = now
	e.UpdatedAt = now
	return nil
}

// GetEntity returns one entity. Missing rows yield ErrNotFound; rows with
// malformed JSON columns yield the decode error.
func (db *DB) GetEntity(ctx context.Context, kind Kind, id int64) (*Entity, error) {
	return getEntity(ctx, db, kind, id)
}

func getEntity(ctx context.Context, q querier, kind Kind, id int64) (*Entity, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, err
	}
	row := q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, entityColumns, spec.table), id)
	e, decodeErr, err := scanEntity(row, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s %d: %w", kind, id, decodeErr)
	}
	return &e, nil
}

// UpdateEntity writes every mutable field of e. When the version changes to
// a new non-empty value, the previous row is appended to the version log
// first; a failure to write that record is logged and the update proceeds.
// The publish path and creation time are never touched here.
func (db *DB) UpdateEntity(ctx context.Context, e *Entity, notes string) (recorded bool, err error) {
	err = db.withTx(ctx, func(tx *sql.Tx) error {
		prev, err := getEntity(ctx, tx, e.Kind, e.ID)
		if err != nil {
			return err
		}
		if e.Version != "" && e.Version != prev.Version {
			if _, err := insertVersionRecord(ctx, tx, prev, e.Version, notes); err != nil {
				db.log.Warn("version snapshot failed",
					zap.String("kind", string(e.Kind)), zap.Int64("id", e.ID), zap.Error(err))
			} else {
				recorded = true
			}
		}
		return writeFields(ctx, tx, e)
	})
	return recorded, err
}

// writeFields overwrites the mutable columns of e.ID with e's values.
func writeFields(ctx context.Context, q querier, e *Entity) error {
	spec, err := specFor(e.Kind)
	if err != nil {
		return err
	}
	now := time.Now().UnixMilli()
	args := []any{e.Name, nullString(e.Description), nullString(e.Scope), nullString(e.DomainID),
		nullString(e.KindTag), nullString(e.Status), encodeApproval(e.Approval)}
	for _, f := range ListFields {
		args = append(args, encodeList(f.Get(e)))
	}
	args = append(args, nullString(e.Version), nullInt(e.SourceTaskID), nullInt(e.SourceRunID), now, e.ID)

	res, err := q.ExecContext(ctx, fmt.Sprintf(`
		UPDATE %s SET name = ?, description = ?, scope = ?, domain_id = ?, kind_tag = ?,
			status = ?, approval = ?,
			tags = ?, triggers = ?, aliases = ?, prerequisites = ?, inputs = ?, outputs = ?,
			steps = ?, failure_modes = ?, validation = ?,
			version = ?, source_task_id = ?, source_run_id = ?, updated_at = ?
		WHERE id = ?
	`, spec.table), args...)
	if err != nil {
		return fmt.Errorf("update %s %d: %w", e.Kind, e.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %d: %w", e.Kind, e.ID, ErrNotFound)
	}
	e.UpdatedAt = now
	return nil
}

// ListEntities returns every entity of kind whose normalized status is in
// statuses (all statuses when empty), ordered by id. Rows with malformed
// JSON are returned separately.
func (db *DB) ListEntities(ctx context.Context, kind Kind, statuses ...Status) ([]Entity, []RowError, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, nil, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s`, entityColumns, spec.table)
	var args []any
	if len(statuses) > 0 {
		ph, sargs := statusArgs(statuses)
		query += fmt.Sprintf(` WHERE %s IN (%s)`, spec.statusExpr, ph)
		args = sargs
	}
	query += ` ORDER BY id`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", kind, err)
	}
	defer rows.Close()
	return scanEntities(rows, kind)
}

// SetPublishPath records where an entity was last published.
func (db *DB) SetPublishPath(ctx context.Context, kind Kind, id int64, path string) error {
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx,
		fmt.Sprintf(`UPDATE %s SET publish_path = ? WHERE id = ?`, spec.table), path, id)
	if err != nil {
		return fmt.Errorf("set publish path: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

// DeleteEntity removes an entity row. Its version log is kept.
func (db *DB) DeleteEntity(ctx context.Context, kind Kind, id int64) error {
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, spec.table), id)
	if err != nil {
		return fmt.Errorf("delete %s %d: %w", kind, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	return nil
}

// FindByRun returns entities produced by runID: those whose source_run_id
// matches, or whose tags hold the exact token "run:{runID}". A tag such as
// "run:52" never matches run 5.
func (db *DB) FindByRun(ctx context.Context, kind Kind, runID int64) ([]Entity, []RowError, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, nil, err
	}
	token := RunTag(runID)
	needle, _ := json.Marshal(token)

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE source_run_id = ? OR instr(tags, ?) > 0
		ORDER BY id
	`, entityColumns, spec.table), runID, string(needle))
	if err != nil {
		return nil, nil, fmt.Errorf("find %s by run: %w", kind, err)
	}
	defer rows.Close()

	candidates, bad, err := scanEntities(rows, kind)
	if err != nil {
		return nil, nil, err
	}
	var out []Entity
	for _, e := range candidates {
		if (e.SourceRunID != nil && *e.SourceRunID == runID) || e.Tags.ContainsString(token) {
			out = append(out, e)
		}
	}
	return out, bad, nil
}

// FindToolsByApprovalRun returns tools whose approval records created_run_id == runID.
func (db *DB) FindToolsByApprovalRun(ctx context.Context, runID int64) ([]Entity, []RowError, error) {
	spec := kindSpecs[KindTool]
	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE CAST(CASE WHEN json_valid(approval) THEN json_extract(approval, '$.created_run_id') END AS INTEGER) = ?
		ORDER BY id
	`, entityColumns, spec.table), runID)
	if err != nil {
		return nil, nil, fmt.Errorf("find tools by approval run: %w", err)
	}
	defer rows.Close()
	return scanEntities(rows, KindTool)
}

// RunTag is the tag token marking knowledge produced by a run.
func RunTag(runID int64) string {
	return fmt.Sprintf("run:%d", runID)
}
