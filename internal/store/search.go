package store

import (
	"context"
	"fmt"
	"slices"
	"strings"
)

// Filter narrows the rows retrieval may return.
type Filter struct {
	// IncludeDraft admits draft rows. Deprecated, abandoned and rejected
	// rows are never returned.
	IncludeDraft bool
	// KindTags restricts kind_tag; a NULL skill_type reads as "methodology".
	KindTags []string
	// Domains matches a domain exactly or any dotted descendant of it.
	Domains []string
	// Names restricts to exact names. Named lookups keep the caller's order.
	Names []string
}

func (f Filter) where(kind Kind) (string, []any) {
	spec := kindSpecs[kind]
	var conds []string
	var args []any

	excluded := []Status{StatusDeprecated, StatusAbandoned}
	if kind == KindTool {
		excluded = []Status{StatusRejected}
	}
	if !f.IncludeDraft {
		excluded = append(excluded, StatusDraft)
	}
	ph, sargs := statusArgs(excluded)
	conds = append(conds, fmt.Sprintf("%s NOT IN (%s)", spec.statusExpr, ph))
	args = append(args, sargs...)

	if len(f.KindTags) > 0 {
		conds = append(conds, fmt.Sprintf("COALESCE(NULLIF(e.kind_tag, ''), ?) IN (%s)", placeholders(len(f.KindTags))))
		args = append(args, spec.defaultTag)
		for _, t := range f.KindTags {
			args = append(args, t)
		}
	}

	if len(f.Domains) > 0 {
		var ors []string
		for _, d := range f.Domains {
			ors = append(ors, `COALESCE(NULLIF(e.domain_id, ''), 'misc') = ?`,
				`COALESCE(NULLIF(e.domain_id, ''), 'misc') LIKE ? ESCAPE '\'`)
			args = append(args, d, escapeLike(d)+".%")
		}
		conds = append(conds, "("+strings.Join(ors, " OR ")+")")
	}

	if len(f.Names) > 0 {
		conds = append(conds, fmt.Sprintf("e.name IN (%s)", placeholders(len(f.Names))))
		for _, n := range f.Names {
			args = append(args, n)
		}
	}

	return strings.Join(conds, " AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// FTSExists reports whether kind's full-text index is present.
func (db *DB) FTSExists(ctx context.Context, kind Kind) (bool, error) {
	spec, err := specFor(kind)
	if err != nil {
		return false, err
	}
	var n int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, spec.fts).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check fts: %w", err)
	}
	return n > 0, nil
}

// SearchFTS returns up to limit rows matching an FTS5 expression, best rank
// first and newest first among equal ranks. match must come from
// query.BuildSafeQuery.
func (db *DB) SearchFTS(ctx context.Context, kind Kind, match string, f Filter, limit int) ([]Entity, []RowError, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, nil, err
	}
	ok, err := db.FTSExists(ctx, kind)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("%s: %w", spec.fts, ErrIndexUnavailable)
	}

	where, args := f.where(kind)
	query := fmt.Sprintf(`
		SELECT %[1]s
		FROM %[2]s JOIN %[3]s e ON e.id = %[2]s.rowid
		WHERE %[2]s MATCH ? AND %[4]s
		ORDER BY %[2]s.rank ASC, e.id DESC
		LIMIT ?
	`, prefixed("e"), spec.fts, spec.table, where)
	args = append([]any{match}, args...)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("search %s: %w", kind, err)
	}
	defer rows.Close()
	return scanEntities(rows, kind)
}

// ListRecent returns up to limit rows newest first, skipping exclude.
func (db *DB) ListRecent(ctx context.Context, kind Kind, f Filter, exclude []int64, limit int) ([]Entity, []RowError, error) {
	spec, err := specFor(kind)
	if err != nil {
		return nil, nil, err
	}
	where, args := f.where(kind)
	if len(exclude) > 0 {
		where += fmt.Sprintf(" AND e.id NOT IN (%s)", placeholders(len(exclude)))
		for _, id := range exclude {
			args = append(args, id)
		}
	}
	query := fmt.Sprintf(`SELECT %s FROM %s e WHERE %s ORDER BY e.id DESC LIMIT ?`,
		prefixed("e"), spec.table, where)
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list recent %s: %w", kind, err)
	}
	defer rows.Close()
	return scanEntities(rows, kind)
}

// ListNamed returns rows whose name is in f.Names, ordered by the position
// of their name in f.Names and newest first within a name.
func (db *DB) ListNamed(ctx context.Context, kind Kind, f Filter, limit int) ([]Entity, []RowError, error) {
	if len(f.Names) == 0 {
		return nil, nil, nil
	}
	spec, err := specFor(kind)
	if err != nil {
		return nil, nil, err
	}
	where, args := f.where(kind)
	rows, err := db.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM %s e WHERE %s ORDER BY e.id DESC`, prefixed("e"), spec.table, where),
		args...)
	if err != nil {
		return nil, nil, fmt.Errorf("list named %s: %w", kind, err)
	}
	defer rows.Close()

	found, bad, err := scanEntities(rows, kind)
	if err != nil {
		return nil, nil, err
	}
	pos := make(map[string]int, len(f.Names))
	for i, n := range f.Names {
		if _, ok := pos[n]; !ok {
			pos[n] = i
		}
	}
	slices.SortStableFunc(found, func(a, b Entity) int {
		return pos[a.Name] - pos[b.Name]
	})
	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, bad, nil
}
