package store

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
)

// List is an ordered sequence of opaque JSON values. Two elements are the
// same when their canonical encodings (sorted object keys, no whitespace)
// are equal.
type List []json.RawMessage

// StringList builds a List of JSON strings.
func StringList(vals ...string) List {
	if len(vals) == 0 {
		return nil
	}
	l := make(List, 0, len(vals))
	for _, v := range vals {
		b, _ := json.Marshal(v)
		l = append(l, b)
	}
	return l
}

// Strings returns the string elements of l, skipping anything else.
func (l List) Strings() []string {
	var out []string
	for _, raw := range l {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			out = append(out, s)
		}
	}
	return out
}

// ContainsString reports whether l holds the exact string s.
func (l List) ContainsString(s string) bool {
	for _, v := range l.Strings() {
		if v == s {
			return true
		}
	}
	return false
}

// CanonicalKey returns the structural identity of one list element.
// encoding/json emits map keys sorted, so a decode/encode round trip is a
// canonical form. Numbers keep their literal text so large integers stay
// distinct. Undecodable values fall back to their compacted bytes.
func CanonicalKey(raw json.RawMessage) string {
	var v any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil || dec.More() {
		var buf bytes.Buffer
		if json.Compact(&buf, raw) == nil {
			return buf.String()
		}
		return strings.TrimSpace(string(raw))
	}
	b, err := json.Marshal(v)
	if err != nil {
		return strings.TrimSpace(string(raw))
	}
	return string(b)
}

// Approval is the embedded review state carried by tools.
type Approval struct {
	Status       string `json:"status,omitempty"`
	CreatedRunID *int64 `json:"created_run_id,omitempty"`
	ApprovedAt   *int64 `json:"approved_at,omitempty"`
	RejectedAt   *int64 `json:"rejected_at,omitempty"`
	RejectReason string `json:"reject_reason,omitempty"`
}

// Entity is one knowledge row: a skill, tool, memory item or graph node.
type Entity struct {
	ID          int64  `json:"id"`
	Kind        Kind   `json:"kind"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Scope       string `json:"scope,omitempty"`
	DomainID    string `json:"domain_id,omitempty"`
	// KindTag is skill_type for skills, node type for graph nodes.
	KindTag string `json:"kind_tag,omitempty"`
	// Status is the raw stored status. Tools carry theirs in Approval.
	Status   string    `json:"status,omitempty"`
	Approval *Approval `json:"approval,omitempty"`

	Tags          List `json:"tags,omitempty"`
	Triggers      List `json:"triggers,omitempty"`
	Aliases       List `json:"aliases,omitempty"`
	Prerequisites List `json:"prerequisites,omitempty"`
	Inputs        List `json:"inputs,omitempty"`
	Outputs       List `json:"outputs,omitempty"`
	Steps         List `json:"steps,omitempty"`
	FailureModes  List `json:"failure_modes,omitempty"`
	Validation    List `json:"validation,omitempty"`

	Version      string `json:"version,omitempty"`
	SourceTaskID *int64 `json:"source_task_id,omitempty"`
	SourceRunID  *int64 `json:"source_run_id,omitempty"`
	PublishPath  string `json:"publish_path,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	UpdatedAt    int64  `json:"updated_at"`
}

// EffectiveStatus returns the normalized lifecycle status.
func (e *Entity) EffectiveStatus() Status {
	if e.Kind == KindTool {
		if e.Approval == nil {
			return StatusApproved
		}
		return NormalizeStatus(KindTool, e.Approval.Status)
	}
	return NormalizeStatus(e.Kind, e.Status)
}

// Domain returns the domain id, defaulting to "misc".
func (e *Entity) Domain() string {
	if e.DomainID == "" {
		return "misc"
	}
	return e.DomainID
}

// ListField names one ordered list column.
type ListField struct {
	Name string
	Get  func(*Entity) List
	Set  func(*Entity, List)
}

// ListFields enumerates every list-valued column in storage order.
var ListFields = []ListField{
	{"tags", func(e *Entity) List { return e.Tags }, func(e *Entity, l List) { e.Tags = l }},
	{"triggers", func(e *Entity) List { return e.Triggers }, func(e *Entity, l List) { e.Triggers = l }},
	{"aliases", func(e *Entity) List { return e.Aliases }, func(e *Entity, l List) { e.Aliases = l }},
	{"prerequisites", func(e *Entity) List { return e.Prerequisites }, func(e *Entity, l List) { e.Prerequisites = l }},
	{"inputs", func(e *Entity) List { return e.Inputs }, func(e *Entity, l List) { e.Inputs = l }},
	{"outputs", func(e *Entity) List { return e.Outputs }, func(e *Entity, l List) { e.Outputs = l }},
	{"steps", func(e *Entity) List { return e.Steps }, func(e *Entity, l List) { e.Steps = l }},
	{"failure_modes", func(e *Entity) List { return e.FailureModes }, func(e *Entity, l List) { e.FailureModes = l }},
	{"validation", func(e *Entity) List { return e.Validation }, func(e *Entity, l List) { e.Validation = l }},
}

// RowError describes a row that could not be decoded.
type RowError struct {
	ID  int64
	Err error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.ID, e.Err) }

const entityColumns = `id, name, description, scope, domain_id, kind_tag, status, approval,
	tags, triggers, aliases, prerequisites, inputs, outputs, steps, failure_modes, validation,
	version, source_task_id, source_run_id, publish_path, created_at, updated_at`

// prefixed returns entityColumns qualified with alias.
func prefixed(alias string) string {
	cols := strings.Split(entityColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

type scanner interface {
	Scan(dest ...any) error
}

// scanEntity reads one row. A non-nil decodeErr means the row was read but
// a JSON column is malformed; err means the row itself could not be read.
func scanEntity(sc scanner, kind Kind) (e Entity, decodeErr error, err error) {
	var desc, scope, domain, tag, status, approval, version, publish sql.NullString
	var taskID, runID sql.NullInt64
	lists := make([]sql.NullString, len(ListFields))

	dest := []any{&e.ID, &e.Name, &desc, &scope, &domain, &tag, &status, &approval}
	for i := range lists {
		dest = append(dest, &lists[i])
	}
	dest = append(dest, &version, &taskID, &runID, &publish, &e.CreatedAt, &e.UpdatedAt)
	if err := sc.Scan(dest...); err != nil {
		return e, nil, fmt.Errorf("scan %s: %w", kind, err)
	}

	e.Kind = kind
	e.Description = desc.String
	e.Scope = scope.String
	e.DomainID = domain.String
	e.KindTag = tag.String
	e.Status = status.String
	e.Version = version.String
	e.PublishPath = publish.String
	if taskID.Valid {
		e.SourceTaskID = &taskID.Int64
	}
	if runID.Valid {
		e.SourceRunID = &runID.Int64
	}

	for i, f := range ListFields {
		l, err := decodeList(lists[i].String)
		if err != nil {
			return e, fmt.Errorf("%s: %w", f.Name, err), nil
		}
		f.Set(&e, l)
	}
	if approval.String != "" {
		var a Approval
		if err := json.Unmarshal([]byte(approval.String), &a); err != nil {
			return e, fmt.Errorf("approval: %w", err), nil
		}
		e.Approval = &a
	}
	return e, nil, nil
}

// scanEntities reads every row, setting aside rows with malformed JSON.
func scanEntities(rows *sql.Rows, kind Kind) ([]Entity, []RowError, error) {
	var out []Entity
	var bad []RowError
	for rows.Next() {
		e, decodeErr, err := scanEntity(rows, kind)
		if err != nil {
			return nil, nil, err
		}
		if decodeErr != nil {
			bad = append(bad, RowError{ID: e.ID, Err: decodeErr})
			continue
		}
		out = append(out, e)
	}
	return out, bad, rows.Err()
}

func decodeList(s string) (List, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "null" {
		return nil, nil
	}
	var l List
	if err := json.Unmarshal([]byte(s), &l); err != nil {
		return nil, err
	}
	return l, nil
}

func encodeList(l List) string {
	if len(l) == 0 {
		return "[]"
	}
	b, err := json.Marshal(l)
	if err != nil {
		return "[]"
	}
	return string(b)
}

func encodeApproval(a *Approval) sql.NullString {
	if a == nil {
		return sql.NullString{}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
