package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lazypower/lore/internal/governance"
	"github.com/lazypower/lore/internal/retrieval"
	"github.com/lazypower/lore/internal/store"
)

// run executes the root command against a throwaway database.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func setupEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LORE_DB", filepath.Join(dir, "lore.db"))
	t.Setenv("LORE_CONFIG", filepath.Join(dir, "missing.toml"))
}

func TestVersionCommand(t *testing.T) {
	out, err := run(t, "", "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "lore dev") {
		t.Errorf("version output = %q", out)
	}
}

func TestParseKindID(t *testing.T) {
	kind, id, err := parseKindID("graph_nodes", "12")
	if err != nil || kind != store.KindGraphNode || id != 12 {
		t.Errorf("parseKindID = %s %d %v", kind, id, err)
	}
	if _, _, err := parseKindID("widget", "1"); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, _, err := parseKindID("skill", "-3"); err == nil {
		t.Error("expected error for negative id")
	}
	if _, err := parseIDs([]string{"1", "x"}); err == nil {
		t.Error("expected error for non-numeric id")
	}
}

func TestAddSearchAndGovern(t *testing.T) {
	setupEnv(t)

	out, err := run(t, `{"name":"clean csv files","scope":"tool:1","tags":["x"]}`, "add", "skill")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	var first store.Entity
	if err := json.Unmarshal([]byte(out), &first); err != nil {
		t.Fatalf("decode add output %q: %v", out, err)
	}
	if _, err := run(t, `{"name":"tidy csv","scope":"tool:1","tags":["y"]}`, "add", "skill"); err != nil {
		t.Fatalf("add: %v", err)
	}

	out, err = run(t, "", "search", "csv", "--json")
	searchJSON = false
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var cands []retrieval.Candidate
	if err := json.Unmarshal([]byte(out), &cands); err != nil {
		t.Fatalf("decode search output: %v", err)
	}
	if len(cands) != 2 {
		t.Fatalf("search returned %d candidates, want 2", len(cands))
	}

	out, err = run(t, "", "dedupe")
	if err != nil {
		t.Fatalf("dedupe: %v", err)
	}
	var rep governance.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("decode dedupe report: %v", err)
	}
	if rep.Counts.Merged != 1 {
		t.Errorf("merged = %d, want 1", rep.Counts.Merged)
	}

	if _, err := run(t, "", "status", "skill", "999", "approved"); err == nil {
		t.Error("status on missing entity: expected error")
	}
}
