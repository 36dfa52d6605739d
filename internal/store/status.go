package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a knowledge entity.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusApproved   Status = "approved"
	StatusDeprecated Status = "deprecated"
	StatusAbandoned  Status = "abandoned"
	StatusRejected   Status = "rejected"
)

var (
	entityTransitions = map[Status][]Status{
		StatusDraft:      {StatusApproved, StatusAbandoned, StatusDeprecated},
		StatusApproved:   {StatusDeprecated},
		StatusDeprecated: {StatusApproved},
	}
	toolTransitions = map[Status][]Status{
		StatusDraft:    {StatusApproved, StatusRejected},
		StatusApproved: {StatusRejected},
		StatusRejected: {StatusApproved},
	}
)

func transitionsFor(kind Kind) map[Status][]Status {
	if kind == KindTool {
		return toolTransitions
	}
	return entityTransitions
}

// ValidStatus reports whether s belongs to kind's status set.
func ValidStatus(kind Kind, s Status) bool {
	if kind == KindTool {
		return s == StatusDraft || s == StatusApproved || s == StatusRejected
	}
	return s == StatusDraft || s == StatusApproved || s == StatusDeprecated || s == StatusAbandoned
}

// NormalizeStatus maps a stored status to kind's status set. Empty and
// unrecognized values read as approved, which covers rows written before
// status existed.
func NormalizeStatus(kind Kind, raw string) Status {
	s := Status(strings.TrimSpace(raw))
	if ValidStatus(kind, s) {
		return s
	}
	return StatusApproved
}

// CanTransition reports whether from -> to is an allowed edge for kind.
func CanTransition(kind Kind, from, to Status) bool {
	for _, s := range transitionsFor(kind)[from] {
		if s == to {
			return true
		}
	}
	return false
}

// sourcesOf returns every status that may transition to `to`.
func sourcesOf(kind Kind, to Status) []Status {
	var out []Status
	for from, targets := range transitionsFor(kind) {
		for _, t := range targets {
			if t == to {
				out = append(out, from)
			}
		}
	}
	return out
}

// StatusRank orders statuses for canonical selection: approved > draft > rest.
func StatusRank(s Status) int {
	switch s {
	case StatusApproved:
		return 2
	case StatusDraft:
		return 1
	default:
		return 0
	}
}

// Transition moves one entity to status `to` with a single conditional
// update. The reason is stamped on tool rejections. Transitions never
// cascade to other rows.
func (db *DB) Transition(ctx context.Context, kind Kind, id int64, to Status, reason string) error {
	return transition(ctx, db, kind, id, to, reason)
}

func transition(ctx context.Context, q querier, kind Kind, id int64, to Status, reason string) error {
	spec, err := specFor(kind)
	if err != nil {
		return err
	}
	if !ValidStatus(kind, to) {
		return fmt.Errorf("%w: %q is not a %s status", ErrInvalidStatus, to, kind)
	}
	froms := sourcesOf(kind, to)
	if len(froms) == 0 {
		return fmt.Errorf("%w: nothing transitions to %q", ErrInvalidStatus, to)
	}

	now := time.Now().UnixMilli()
	placeholders, args := statusArgs(froms)

	var res sql.Result
	if kind == KindTool {
		set := `json_set(COALESCE(approval, '{}'), '$.status', ?)`
		setArgs := []any{string(to)}
		switch to {
		case StatusRejected:
			set = `json_set(COALESCE(approval, '{}'), '$.status', ?, '$.rejected_at', ?, '$.reject_reason', ?)`
			setArgs = append(setArgs, now, reason)
		case StatusApproved:
			set = `json_set(COALESCE(approval, '{}'), '$.status', ?, '$.approved_at', ?)`
			setArgs = append(setArgs, now)
		}
		query := fmt.Sprintf(`UPDATE %s SET approval = %s, updated_at = ? WHERE id = ? AND %s IN (%s)`,
			spec.table, set, spec.statusExpr, placeholders)
		res, err = q.ExecContext(ctx, query, append(append(setArgs, now, id), args...)...)
	} else {
		query := fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id = ? AND %s IN (%s)`,
			spec.table, spec.statusExpr, placeholders)
		res, err = q.ExecContext(ctx, query, append([]any{string(to), now, id}, args...)...)
	}
	if err != nil {
		return fmt.Errorf("transition %s %d: %w", kind, id, err)
	}

	n, _ := res.RowsAffected()
	if n > 0 {
		return nil
	}

	current, err := currentStatus(ctx, q, kind, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: %s %d cannot move %s -> %s", ErrInvalidStatus, kind, id, current, to)
}

// CurrentStatus returns the normalized status of one entity.
func (db *DB) CurrentStatus(ctx context.Context, kind Kind, id int64) (Status, error) {
	return currentStatus(ctx, db, kind, id)
}

func currentStatus(ctx context.Context, q querier, kind Kind, id int64) (Status, error) {
	spec, err := specFor(kind)
	if err != nil {
		return "", err
	}
	var s string
	err = q.QueryRowContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, spec.statusExpr, spec.table), id).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get status: %w", err)
	}
	return Status(s), nil
}

func statusArgs(statuses []Status) (string, []any) {
	args := make([]any, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}
	return placeholders(len(statuses)), args
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
