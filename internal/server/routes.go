package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/lore/internal/governance"
	"github.com/lazypower/lore/internal/retrieval"
	"github.com/lazypower/lore/internal/store"
)

var errBadRequest = errors.New("bad request")

func pathKind(r *http.Request) (store.Kind, error) {
	return store.ParseKind(chi.URLParam(r, "kind"))
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errBadRequest
	}
	return id, nil
}

// pathEntity resolves {kind} and {id}, writing a 400 when either is bad.
func pathEntity(w http.ResponseWriter, r *http.Request) (store.Kind, int64, bool) {
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return "", 0, false
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return "", 0, false
	}
	return kind, id, true
}

func boolParam(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func listParam(r *http.Request, name string) []string {
	var out []string
	for _, v := range r.URL.Query()[name] {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// searchOptions reads limit, include_draft, tag, domain and name.
func searchOptions(r *http.Request) retrieval.Options {
	opts := retrieval.Options{
		Filter: store.Filter{
			IncludeDraft: boolParam(r, "include_draft"),
			KindTags:     listParam(r, "tag"),
			Domains:      listParam(r, "domain"),
			Names:        listParam(r, "name"),
		},
	}
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		opts.Limit = n
	}
	return opts
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query().Get("q")
	opts := searchOptions(r)
	var diag *retrieval.Diagnostics
	if boolParam(r, "diagnostics") {
		diag = &retrieval.Diagnostics{}
		opts.Diagnostics = diag
	}

	results := s.eng.Retriever.Retrieve(r.Context(), kind, q, opts)
	resp := map[string]any{
		"kind":    kind,
		"query":   q,
		"count":   len(results),
		"results": results,
	}
	if diag != nil {
		resp["diagnostics"] = diag
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeError(w, http.StatusBadRequest, "q parameter required")
		return
	}
	opts := searchOptions(r)
	b := s.eng.Retriever.Bundle(r.Context(), q, retrieval.BundleOptions{
		Skills: opts, Tools: opts, Memories: opts, GraphNodes: opts,
	})
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	for _, v := range listParam(r, "ids") {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id "+v)
			return
		}
		ids = append(ids, id)
	}
	edges := s.eng.Retriever.Edges(r.Context(), ids)
	if edges == nil {
		edges = []store.Edge{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"edges": edges})
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var e store.Entity
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(e.Name) == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	e.ID = 0
	e.Kind = kind
	if err := s.db.CreateEntity(r.Context(), &e); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, e)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	e, err := s.db.GetEntity(r.Context(), kind, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleUpdate replaces the mutable fields of an entity. A version change
// records the previous state; notes come from ?notes=.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	var e store.Entity
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	e.ID = id
	e.Kind = kind
	recorded, err := s.db.UpdateEntity(r.Context(), &e, r.URL.Query().Get("notes"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	got, err := s.db.GetEntity(r.Context(), kind, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entity": got, "version_recorded": recorded})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	if err := s.db.DeleteEntity(r.Context(), kind, id); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecutions(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	limit := 50
	if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
		limit = n
	}
	xs, err := s.db.RecentExecutions(r.Context(), kind, id, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if xs == nil {
		xs = []store.Execution{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"executions": xs})
}

func (s *Server) handleVersions(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	recs, err := s.db.ListVersionRecords(r.Context(), kind, id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []store.VersionRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": recs})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	var req struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	rep, err := s.eng.Governor.SetStatus(r.Context(), kind, id, store.Status(req.Status), req.Reason)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	rep, err := s.eng.Governor.RollbackToPreviousVersion(r.Context(), kind, id, boolParam(r, "dry_run"))
	if err != nil {
		writeJSON(w, statusFor(err), rep)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRecordExecution(w http.ResponseWriter, r *http.Request) {
	kind, id, ok := pathEntity(w, r)
	if !ok {
		return
	}
	var x store.Execution
	if err := json.NewDecoder(r.Body).Decode(&x); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	x.Kind = kind
	x.EntityID = id
	if err := s.eng.Record(r.Context(), &x); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, x)
}

func (s *Server) handleDedupe(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind               string `json:"kind"`
		IncludeDraft       bool   `json:"include_draft"`
		MergeAcrossDomains bool   `json:"merge_across_domains"`
		DryRun             bool   `json:"dry_run"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	opts := governance.DedupeOptions{
		IncludeDraft:       req.IncludeDraft,
		MergeAcrossDomains: req.MergeAcrossDomains,
		DryRun:             req.DryRun,
	}
	if req.Kind != "" {
		kind, err := store.ParseKind(req.Kind)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		opts.Kind = kind
	}
	rep, err := s.eng.Governor.DedupeAndMerge(r.Context(), opts)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRollbackRun(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RunID  int64  `json:"run_id"`
		DryRun bool   `json:"dry_run"`
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.RunID <= 0 {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	rep, err := s.eng.Governor.RollbackKnowledgeFromRun(r.Context(), req.RunID, governance.RunRollbackOptions{
		DryRun: req.DryRun,
		Reason: req.Reason,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleAutoDeprecate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SinceDays int     `json:"since_days"`
		MinCalls  int64   `json:"min_calls"`
		Threshold *float64 `json:"threshold"`
		DryRun    bool    `json:"dry_run"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	rep, err := s.eng.Governor.AutoDeprecateLowQuality(r.Context(), governance.AutoDeprecateOptions{
		SinceDays: req.SinceDays,
		MinCalls:  req.MinCalls,
		Threshold: req.Threshold,
		DryRun:    req.DryRun,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
