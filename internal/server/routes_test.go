package server

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/lazypower/lore/internal/governance"
	"github.com/lazypower/lore/internal/retrieval"
	"github.com/lazypower/lore/internal/store"
)

func createEntity(t *testing.T, srv *Server, kind, body string) store.Entity {
	t.Helper()
	w := do(t, srv, "POST", "/api/"+kind, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: status = %d, body: %s", w.Code, w.Body.String())
	}
	var e store.Entity
	decode(t, w, &e)
	return e
}

func TestCreateGetAndSearch(t *testing.T) {
	srv := testServer(t)

	e := createEntity(t, srv, "skill", `{"name":"parse csv files","tags":["data"]}`)
	if e.ID == 0 || e.Kind != store.KindSkill {
		t.Fatalf("created = %+v", e)
	}

	w := do(t, srv, "GET", fmt.Sprintf("/api/skill/%d", e.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}

	w = do(t, srv, "GET", "/api/skill/search?q=csv&diagnostics=true", "")
	if w.Code != http.StatusOK {
		t.Fatalf("search: status = %d", w.Code)
	}
	var resp struct {
		Count       int                   `json:"count"`
		Results     []retrieval.Candidate `json:"results"`
		Diagnostics *retrieval.Diagnostics `json:"diagnostics"`
	}
	decode(t, w, &resp)
	if resp.Count != 1 || resp.Results[0].Entity.ID != e.ID {
		t.Errorf("search results = %+v", resp.Results)
	}
	if resp.Diagnostics == nil || resp.Diagnostics.FTSHits != 1 {
		t.Errorf("diagnostics = %+v, want one fts hit", resp.Diagnostics)
	}
}

func TestCreateRequiresName(t *testing.T) {
	srv := testServer(t)
	if w := do(t, srv, "POST", "/api/skill", `{"description":"x"}`); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if w := do(t, srv, "POST", "/api/skill", `{`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid json: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestGetMissing(t *testing.T) {
	srv := testServer(t)
	if w := do(t, srv, "GET", "/api/memory/42", ""); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestUpdateVersionsAndRollback(t *testing.T) {
	srv := testServer(t)
	e := createEntity(t, srv, "skill", `{"name":"deploy","description":"v1","version":"1.0.0"}`)
	path := fmt.Sprintf("/api/skill/%d", e.ID)

	w := do(t, srv, "PUT", path+"?notes=rewrite", `{"name":"deploy","description":"v2","version":"1.1.0"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body: %s", w.Code, w.Body.String())
	}
	var upd struct {
		VersionRecorded bool `json:"version_recorded"`
	}
	decode(t, w, &upd)
	if !upd.VersionRecorded {
		t.Error("version_recorded = false, want true")
	}

	w = do(t, srv, "GET", path+"/versions", "")
	var vs struct {
		Versions []store.VersionRecord `json:"versions"`
	}
	decode(t, w, &vs)
	if len(vs.Versions) != 1 || vs.Versions[0].ChangeNotes != "rewrite" {
		t.Fatalf("versions = %+v", vs.Versions)
	}

	w = do(t, srv, "POST", path+"/rollback", "")
	if w.Code != http.StatusOK {
		t.Fatalf("rollback: status = %d, body: %s", w.Code, w.Body.String())
	}
	w = do(t, srv, "GET", path, "")
	var got store.Entity
	decode(t, w, &got)
	if got.Description != "v1" || got.Version != "1.0.0" {
		t.Errorf("after rollback = %q %q, want v1 1.0.0", got.Description, got.Version)
	}
}

func TestRollbackWithoutHistory(t *testing.T) {
	srv := testServer(t)
	e := createEntity(t, srv, "tool", `{"name":"grep"}`)

	w := do(t, srv, "POST", fmt.Sprintf("/api/tool/%d/rollback", e.ID), "")
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	var rep governance.Report
	decode(t, w, &rep)
	if rep.OK || len(rep.Errors) != 1 || rep.Errors[0].Code != governance.CodeNoPreviousVersion {
		t.Errorf("report = %+v", rep)
	}
}

func TestStatusTransitions(t *testing.T) {
	srv := testServer(t)
	e := createEntity(t, srv, "skill", `{"name":"lint","status":"draft"}`)
	path := fmt.Sprintf("/api/skill/%d/status", e.ID)

	if w := do(t, srv, "POST", path, `{"status":"approved"}`); w.Code != http.StatusOK {
		t.Fatalf("approve: status = %d, body: %s", w.Code, w.Body.String())
	}
	if w := do(t, srv, "POST", path, `{"status":"abandoned"}`); w.Code != http.StatusConflict {
		t.Errorf("approved->abandoned: status = %d, want %d", w.Code, http.StatusConflict)
	}
	if w := do(t, srv, "POST", path, `{"status":"bogus"}`); w.Code != http.StatusConflict {
		t.Errorf("unknown status: status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestGovernanceEndpoints(t *testing.T) {
	srv := testServer(t)
	createEntity(t, srv, "skill", `{"name":"a","scope":"tool:1","tags":["x"]}`)
	keep := createEntity(t, srv, "skill", `{"name":"b","scope":"tool:1","tags":["y"]}`)
	createEntity(t, srv, "memory", `{"name":"m","tags":["run:5"]}`)

	w := do(t, srv, "POST", "/api/governance/dedupe", `{"kind":"skill"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("dedupe: status = %d, body: %s", w.Code, w.Body.String())
	}
	var rep governance.Report
	decode(t, w, &rep)
	if rep.Counts.Merged != 1 || rep.Merges[0].CanonicalID != keep.ID {
		t.Errorf("dedupe report = %+v", rep)
	}

	w = do(t, srv, "POST", "/api/governance/rollback-run", `{"run_id":5}`)
	if w.Code != http.StatusOK {
		t.Fatalf("rollback-run: status = %d", w.Code)
	}
	rep = governance.Report{}
	decode(t, w, &rep)
	if rep.Counts.Changed != 1 {
		t.Errorf("rollback-run changed = %d, want 1", rep.Counts.Changed)
	}

	if w := do(t, srv, "POST", "/api/governance/rollback-run", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing run_id: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w = do(t, srv, "POST", "/api/governance/auto-deprecate", `{"dry_run":true}`)
	if w.Code != http.StatusOK {
		t.Fatalf("auto-deprecate: status = %d", w.Code)
	}
}

func TestExecutionsFeedAutoDeprecate(t *testing.T) {
	srv := testServer(t)
	e := createEntity(t, srv, "tool", `{"name":"flaky","approval":{"status":"approved"}}`)
	path := fmt.Sprintf("/api/tool/%d/executions", e.ID)

	for range 3 {
		if w := do(t, srv, "POST", path, `{"outcome":"fail"}`); w.Code != http.StatusCreated {
			t.Fatalf("record: status = %d, body: %s", w.Code, w.Body.String())
		}
	}
	if w := do(t, srv, "POST", path, `{"outcome":"maybe"}`); w.Code != http.StatusBadRequest {
		t.Errorf("invalid outcome: status = %d, want %d", w.Code, http.StatusBadRequest)
	}

	w := do(t, srv, "POST", "/api/governance/auto-deprecate", `{"threshold":0}`)
	var rep governance.Report
	decode(t, w, &rep)
	if rep.Counts.Changed != 0 {
		t.Fatalf("threshold 0: changed = %d, want 0", rep.Counts.Changed)
	}

	w = do(t, srv, "POST", "/api/governance/auto-deprecate", `{}`)
	rep = governance.Report{}
	decode(t, w, &rep)
	if rep.Counts.Changed != 1 {
		t.Fatalf("changed = %d, want 1", rep.Counts.Changed)
	}

	w = do(t, srv, "GET", fmt.Sprintf("/api/tool/%d", e.ID), "")
	var got store.Entity
	decode(t, w, &got)
	if got.EffectiveStatus() != store.StatusRejected {
		t.Errorf("status = %s, want rejected", got.EffectiveStatus())
	}
}

func TestGraphEdges(t *testing.T) {
	srv := testServer(t)
	a := createEntity(t, srv, "graph_node", `{"name":"a"}`)
	b := createEntity(t, srv, "graph_node", `{"name":"b"}`)
	c := createEntity(t, srv, "graph_node", `{"name":"c"}`)
	for _, e := range []*store.Edge{
		{SrcID: a.ID, DstID: b.ID, Relation: "uses"},
		{SrcID: b.ID, DstID: c.ID, Relation: "uses"},
	} {
		if err := srv.db.AddEdge(t.Context(), e); err != nil {
			t.Fatalf("AddEdge: %v", err)
		}
	}

	w := do(t, srv, "GET", fmt.Sprintf("/api/graph/edges?ids=%d,%d", a.ID, b.ID), "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Edges []store.Edge `json:"edges"`
	}
	decode(t, w, &resp)
	if len(resp.Edges) != 1 || resp.Edges[0].DstID != b.ID {
		t.Errorf("edges = %+v, want only a->b", resp.Edges)
	}

	if w := do(t, srv, "GET", "/api/graph/edges?ids=x", ""); w.Code != http.StatusBadRequest {
		t.Errorf("bad ids: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestBundle(t *testing.T) {
	srv := testServer(t)
	createEntity(t, srv, "skill", `{"name":"deploy service"}`)
	createEntity(t, srv, "graph_node", `{"name":"deploy pipeline"}`)

	w := do(t, srv, "GET", "/api/bundle?q=deploy", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var b retrieval.Bundle
	decode(t, w, &b)
	if len(b.Skills) != 1 || len(b.GraphNodes) != 1 {
		t.Errorf("bundle = %d skills, %d nodes", len(b.Skills), len(b.GraphNodes))
	}

	if w := do(t, srv, "GET", "/api/bundle", ""); w.Code != http.StatusBadRequest {
		t.Errorf("missing q: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestDeleteAndExecutions(t *testing.T) {
	srv := testServer(t)
	e := createEntity(t, srv, "memory", `{"name":"note"}`)
	path := fmt.Sprintf("/api/memory/%d", e.ID)

	do(t, srv, "POST", path+"/executions", `{"outcome":"pass","reused":true}`)
	w := do(t, srv, "GET", path+"/executions", "")
	var resp struct {
		Executions []store.Execution `json:"executions"`
	}
	decode(t, w, &resp)
	if len(resp.Executions) != 1 || !resp.Executions[0].Reused {
		t.Errorf("executions = %+v", resp.Executions)
	}

	if w := do(t, srv, "DELETE", path, ""); w.Code != http.StatusNoContent {
		t.Fatalf("delete: status = %d", w.Code)
	}
	if w := do(t, srv, "DELETE", path, ""); w.Code != http.StatusNotFound {
		t.Errorf("second delete: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
