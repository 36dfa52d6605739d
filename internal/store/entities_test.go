package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func int64p(v int64) *int64 { return &v }

func mustCreate(t *testing.T, db *DB, e *Entity) *Entity {
	t.Helper()
	if err := db.CreateEntity(context.Background(), e); err != nil {
		t.Fatalf("CreateEntity: %v", err)
	}
	return e
}

func TestCreateAndGetEntity(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	e := mustCreate(t, db, &Entity{
		Kind:        KindSkill,
		Name:        "Clean CSV",
		Description: "Normalize delimiters and headers",
		DomainID:    "data.clean",
		KindTag:     "solution",
		Status:      "approved",
		Tags:        StringList("csv", "etl"),
		Steps:       List{json.RawMessage(`{"do":"split","by":","}`)},
		Version:     "1.0.0",
		SourceRunID: int64p(7),
	})
	if e.ID == 0 {
		t.Fatal("expected non-zero ID")
	}

	got, err := db.GetEntity(ctx, KindSkill, e.ID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Name != "Clean CSV" || got.DomainID != "data.clean" || got.KindTag != "solution" {
		t.Errorf("got %+v", got)
	}
	if tags := got.Tags.Strings(); len(tags) != 2 || tags[0] != "csv" || tags[1] != "etl" {
		t.Errorf("tags = %v, want [csv etl]", tags)
	}
	if len(got.Steps) != 1 {
		t.Errorf("steps = %v, want one element", got.Steps)
	}
	if got.SourceRunID == nil || *got.SourceRunID != 7 {
		t.Errorf("source_run_id = %v, want 7", got.SourceRunID)
	}
	if got.EffectiveStatus() != StatusApproved {
		t.Errorf("status = %q, want approved", got.EffectiveStatus())
	}
}

func TestGetEntityNotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.GetEntity(context.Background(), KindSkill, 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetEntityMalformedList(t *testing.T) {
	db := testDB(t)
	e := mustCreate(t, db, &Entity{Kind: KindMemory, Name: "broken"})

	if _, err := db.Exec("UPDATE memories SET tags = '{not json' WHERE id = ?", e.ID); err != nil {
		t.Fatalf("corrupt: %v", err)
	}
	if _, err := db.GetEntity(context.Background(), KindMemory, e.ID); err == nil {
		t.Error("expected decode error for malformed tags")
	}

	all, bad, err := db.ListEntities(context.Background(), KindMemory)
	if err != nil {
		t.Fatalf("ListEntities: %v", err)
	}
	if len(all) != 0 || len(bad) != 1 || bad[0].ID != e.ID {
		t.Errorf("ListEntities = %d rows, bad = %v", len(all), bad)
	}
}

func TestNullStatusReadsApproved(t *testing.T) {
	db := testDB(t)
	e := mustCreate(t, db, &Entity{Kind: KindSkill, Name: "legacy"})

	got, err := db.GetEntity(context.Background(), KindSkill, e.ID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.Status != "" {
		t.Errorf("raw status = %q, want empty", got.Status)
	}
	if got.EffectiveStatus() != StatusApproved {
		t.Errorf("effective status = %q, want approved", got.EffectiveStatus())
	}

	tool := mustCreate(t, db, &Entity{Kind: KindTool, Name: "legacy-tool"})
	if tool.EffectiveStatus() != StatusApproved {
		t.Errorf("tool without approval = %q, want approved", tool.EffectiveStatus())
	}
}

func TestUpdateEntityVersionRecord(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	e := mustCreate(t, db, &Entity{Kind: KindSkill, Name: "s", Description: "v1 text", Version: "1.0.0"})

	// Plain edit without a version change writes no record.
	e.Description = "edited"
	recorded, err := db.UpdateEntity(ctx, e, "typo")
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if recorded {
		t.Error("recorded = true for an unchanged version")
	}

	// Clearing the version writes no record either.
	e.Version = ""
	if recorded, _ := db.UpdateEntity(ctx, e, ""); recorded {
		t.Error("recorded = true for an empty version")
	}

	e.Version = "1.0.1"
	e.Description = "v2 text"
	recorded, err = db.UpdateEntity(ctx, e, "bump")
	if err != nil {
		t.Fatalf("UpdateEntity: %v", err)
	}
	if !recorded {
		t.Error("recorded = false for a version change")
	}

	recs, err := db.ListVersionRecords(ctx, KindSkill, e.ID)
	if err != nil {
		t.Fatalf("ListVersionRecords: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("records = %d, want 1", len(recs))
	}
	if recs[0].PreviousVersion != "" || recs[0].NextVersion != "1.0.1" {
		t.Errorf("record versions = %q -> %q", recs[0].PreviousVersion, recs[0].NextVersion)
	}
	snap, err := recs[0].Snapshot()
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snap.Description != "edited" {
		t.Errorf("snapshot description = %q, want edited", snap.Description)
	}
}

func TestUpdateEntityNotFound(t *testing.T) {
	db := testDB(t)

	_, err := db.UpdateEntity(context.Background(), &Entity{Kind: KindSkill, ID: 42, Name: "x"}, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFindByRunExactTag(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	five := mustCreate(t, db, &Entity{Kind: KindSkill, Name: "a", Tags: StringList("run:5")})
	mustCreate(t, db, &Entity{Kind: KindSkill, Name: "b", Tags: StringList("run:52")})
	mustCreate(t, db, &Entity{Kind: KindSkill, Name: "c", Tags: StringList("run:15")})
	bySource := mustCreate(t, db, &Entity{Kind: KindSkill, Name: "d", SourceRunID: int64p(5)})
	mustCreate(t, db, &Entity{Kind: KindSkill, Name: "e", SourceRunID: int64p(52)})

	got, bad, err := db.FindByRun(ctx, KindSkill, 5)
	if err != nil {
		t.Fatalf("FindByRun: %v", err)
	}
	if len(bad) != 0 {
		t.Errorf("bad rows = %v", bad)
	}
	if len(got) != 2 || got[0].ID != five.ID || got[1].ID != bySource.ID {
		t.Errorf("FindByRun(5) = %v, want ids %d and %d", ids(got), five.ID, bySource.ID)
	}
}

func TestFindToolsByApprovalRun(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	match := mustCreate(t, db, &Entity{Kind: KindTool, Name: "t1",
		Approval: &Approval{Status: "approved", CreatedRunID: int64p(9)}})
	mustCreate(t, db, &Entity{Kind: KindTool, Name: "t2",
		Approval: &Approval{Status: "approved", CreatedRunID: int64p(90)}})
	mustCreate(t, db, &Entity{Kind: KindTool, Name: "t3"})

	got, _, err := db.FindToolsByApprovalRun(ctx, 9)
	if err != nil {
		t.Fatalf("FindToolsByApprovalRun: %v", err)
	}
	if len(got) != 1 || got[0].ID != match.ID {
		t.Errorf("got %v, want [%d]", ids(got), match.ID)
	}
}

func TestSetPublishPathAndDelete(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	e := mustCreate(t, db, &Entity{Kind: KindGraphNode, Name: "n"})

	if err := db.SetPublishPath(ctx, KindGraphNode, e.ID, "/tmp/n.json"); err != nil {
		t.Fatalf("SetPublishPath: %v", err)
	}
	got, _ := db.GetEntity(ctx, KindGraphNode, e.ID)
	if got.PublishPath != "/tmp/n.json" {
		t.Errorf("publish_path = %q", got.PublishPath)
	}

	if err := db.DeleteEntity(ctx, KindGraphNode, e.ID); err != nil {
		t.Fatalf("DeleteEntity: %v", err)
	}
	if err := db.DeleteEntity(ctx, KindGraphNode, e.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete err = %v, want ErrNotFound", err)
	}
}

func TestCanonicalKey(t *testing.T) {
	a := CanonicalKey(json.RawMessage(`{"b":1, "a":[1, 2]}`))
	b := CanonicalKey(json.RawMessage(`{"a":[1,2],"b":1}`))
	if a != b {
		t.Errorf("keys differ: %q vs %q", a, b)
	}
	if CanonicalKey(json.RawMessage(`"x"`)) == CanonicalKey(json.RawMessage(`"y"`)) {
		t.Error("distinct strings share a key")
	}
	if CanonicalKey(json.RawMessage(`9007199254740993`)) == CanonicalKey(json.RawMessage(`9007199254740992`)) {
		t.Error("distinct large integers share a key")
	}
	big := CanonicalKey(json.RawMessage(`{"id": 9007199254740993}`))
	if big != `{"id":9007199254740993}` {
		t.Errorf("key = %q, want integer kept verbatim", big)
	}
}

func ids(es []Entity) []int64 {
	out := make([]int64, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}
