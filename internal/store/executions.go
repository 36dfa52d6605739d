package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// maxDetailSize caps the free-form detail stored per execution.
const maxDetailSize = 4 * 1024

// Outcome is the verdict recorded for one use of an entity.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeUnknown Outcome = "unknown"
)

// Execution is one recorded use of a knowledge entity.
type Execution struct {
	ID int64 `json:"id"`
	// ExecID deduplicates retried writes; generated when empty.
	ExecID    string  `json:"exec_id"`
	Kind      Kind    `json:"kind"`
	EntityID  int64   `json:"entity_id"`
	RunID     *int64  `json:"run_id,omitempty"`
	TaskID    *int64  `json:"task_id,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Reused    bool    `json:"reused"`
	Detail    string  `json:"detail,omitempty"`
	CreatedAt int64   `json:"created_at"`
}

// ExecutionStats aggregates executions of one entity.
type ExecutionStats struct {
	Calls      int64
	ReuseCalls int64
	PassCalls  int64
	FailCalls  int64
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// RecordExecution appends an execution. Writing the same ExecID twice is a
// no-op. Detail is truncated to 4KB.
func (db *DB) RecordExecution(ctx context.Context, x *Execution) error {
	if _, err := specFor(x.Kind); err != nil {
		return err
	}
	if x.ExecID == "" {
		x.ExecID = uuid.NewString()
	}
	switch x.Outcome {
	case OutcomePass, OutcomeFail, OutcomeUnknown:
	case "":
		x.Outcome = OutcomeUnknown
	default:
		return fmt.Errorf("unknown outcome %q", x.Outcome)
	}
	x.Detail = truncateUTF8(x.Detail, maxDetailSize)
	if x.CreatedAt == 0 {
		x.CreatedAt = time.Now().UnixMilli()
	}
	reused := 0
	if x.Reused {
		reused = 1
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO executions (exec_id, kind, entity_id, run_id, task_id, outcome, reused, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (exec_id) DO NOTHING
	`, x.ExecID, string(x.Kind), x.EntityID, nullInt(x.RunID), nullInt(x.TaskID),
		string(x.Outcome), reused, nullString(x.Detail), x.CreatedAt)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		x.ID, _ = res.LastInsertId()
	}
	return nil
}

// ExecutionStatsFor aggregates executions of the given entities recorded at
// or after since (all time when since is nil). Entities without executions
// are absent from the map.
func (db *DB) ExecutionStatsFor(ctx context.Context, kind Kind, ids []int64, since *time.Time) (map[int64]ExecutionStats, error) {
	out := make(map[int64]ExecutionStats, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var sinceMs int64
	if since != nil {
		sinceMs = since.UnixMilli()
	}
	args := []any{string(kind), sinceMs}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT entity_id,
			COUNT(*),
			SUM(reused),
			SUM(CASE WHEN outcome = 'pass' THEN 1 ELSE 0 END),
			SUM(CASE WHEN outcome = 'fail' THEN 1 ELSE 0 END)
		FROM executions
		WHERE kind = ? AND created_at >= ? AND entity_id IN (%s)
		GROUP BY entity_id
	`, placeholders(len(ids))), args...)
	if err != nil {
		return nil, fmt.Errorf("execution stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var s ExecutionStats
		if err := rows.Scan(&id, &s.Calls, &s.ReuseCalls, &s.PassCalls, &s.FailCalls); err != nil {
			return nil, fmt.Errorf("scan execution stats: %w", err)
		}
		out[id] = s
	}
	return out, rows.Err()
}

// RecentExecutions returns the latest executions of one entity.
func (db *DB) RecentExecutions(ctx context.Context, kind Kind, entityID int64, limit int) ([]Execution, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, exec_id, kind, entity_id, run_id, task_id, outcome, reused, COALESCE(detail, ''), created_at
		FROM executions WHERE kind = ? AND entity_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, string(kind), entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent executions: %w", err)
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var x Execution
		var kindStr, outcome string
		var runID, taskID sql.NullInt64
		var reused int
		if err := rows.Scan(&x.ID, &x.ExecID, &kindStr, &x.EntityID, &runID, &taskID,
			&outcome, &reused, &x.Detail, &x.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		x.Kind = Kind(kindStr)
		x.Outcome = Outcome(outcome)
		x.Reused = reused != 0
		if runID.Valid {
			x.RunID = &runID.Int64
		}
		if taskID.Valid {
			x.TaskID = &taskID.Int64
		}
		out = append(out, x)
	}
	return out, rows.Err()
}
