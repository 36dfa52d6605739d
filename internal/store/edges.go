package store

import (
	"context"
	"fmt"
	"time"
)

// Edge is a directed, labelled relation between two graph nodes.
type Edge struct {
	ID        int64   `json:"id"`
	SrcID     int64   `json:"src_id"`
	DstID     int64   `json:"dst_id"`
	Relation  string  `json:"relation"`
	Weight    float64 `json:"weight"`
	CreatedAt int64   `json:"created_at"`
}

// AddEdge inserts an edge, or updates the weight of an existing
// (src, relation, dst) triple.
func (db *DB) AddEdge(ctx context.Context, e *Edge) error {
	if e.Weight == 0 {
		e.Weight = 1.0
	}
	now := time.Now().UnixMilli()
	err := db.QueryRowContext(ctx, `
		INSERT INTO graph_edges (src_id, dst_id, relation, weight, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (src_id, relation, dst_id) DO UPDATE SET weight = excluded.weight
		RETURNING id, created_at
	`, e.SrcID, e.DstID, e.Relation, e.Weight, now).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return fmt.Errorf("add edge: %w", err)
	}
	return nil
}

// EdgesWithin returns the edges whose endpoints are both in ids.
func (db *DB) EdgesWithin(ctx context.Context, ids []int64) ([]Edge, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	ph := placeholders(len(ids))
	args := make([]any, 0, 2*len(ids))
	for _, id := range ids {
		args = append(args, id)
	}
	for _, id := range ids {
		args = append(args, id)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, src_id, dst_id, relation, weight, created_at
		FROM graph_edges
		WHERE src_id IN (%s) AND dst_id IN (%s)
		ORDER BY id
	`, ph, ph), args...)
	if err != nil {
		return nil, fmt.Errorf("edges within: %w", err)
	}
	defer rows.Close()

	var out []Edge
	for rows.Next() {
		var e Edge
		if err := rows.Scan(&e.ID, &e.SrcID, &e.DstID, &e.Relation, &e.Weight, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
