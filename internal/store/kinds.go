package store

import "fmt"

// Kind names a knowledge entity kind. Each kind lives in its own table with
// a parallel version table and an optional FTS5 index.
type Kind string

const (
	KindSkill     Kind = "skill"
	KindTool      Kind = "tool"
	KindMemory    Kind = "memory"
	KindGraphNode Kind = "graph_node"
)

// Kinds lists every entity kind in a stable order.
var Kinds = []Kind{KindSkill, KindTool, KindMemory, KindGraphNode}

type kindSpec struct {
	table    string
	versions string
	fts      string
	// defaultTag is substituted for a NULL kind_tag.
	defaultTag string
	// statusExpr normalizes the stored status to a known value; anything
	// unrecognized reads as approved.
	statusExpr string
}

const entityStatusExpr = `(CASE WHEN status IN ('draft', 'approved', 'deprecated', 'abandoned') THEN status ELSE 'approved' END)`

const toolStatusExpr = `(CASE WHEN json_valid(approval) THEN
	CASE WHEN json_extract(approval, '$.status') IN ('draft', 'approved', 'rejected')
		THEN json_extract(approval, '$.status') ELSE 'approved' END
	ELSE 'approved' END)`

var kindSpecs = map[Kind]kindSpec{
	KindSkill: {
		table: "skills", versions: "skill_versions", fts: "skills_fts",
		defaultTag: "methodology", statusExpr: entityStatusExpr,
	},
	KindTool: {
		table: "tools", versions: "tool_versions", fts: "tools_fts",
		statusExpr: toolStatusExpr,
	},
	KindMemory: {
		table: "memories", versions: "memory_versions", fts: "memories_fts",
		statusExpr: entityStatusExpr,
	},
	KindGraphNode: {
		table: "graph_nodes", versions: "graph_node_versions", fts: "graph_nodes_fts",
		statusExpr: entityStatusExpr,
	},
}

// ParseKind accepts a kind name or its table name ("skills").
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s || kindSpecs[k].table == s {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown kind %q", s)
}

func specFor(kind Kind) (kindSpec, error) {
	s, ok := kindSpecs[kind]
	if !ok {
		return kindSpec{}, fmt.Errorf("unknown kind %q", kind)
	}
	return s, nil
}

// Table returns the entity table backing kind.
func (k Kind) Table() string { return kindSpecs[k].table }

// DefaultTag is the kind_tag a NULL value stands for.
func (k Kind) DefaultTag() string { return kindSpecs[k].defaultTag }
