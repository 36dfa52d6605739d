package store

import (
	"context"
	"errors"
	"testing"
)

func TestTransitionAllowedEdges(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusDraft, StatusApproved, true},
		{StatusDraft, StatusAbandoned, true},
		{StatusDraft, StatusDeprecated, true},
		{StatusApproved, StatusDeprecated, true},
		{StatusDeprecated, StatusApproved, true},
		{StatusApproved, StatusDraft, false},
		{StatusAbandoned, StatusApproved, false},
		{StatusApproved, StatusApproved, false},
		{StatusApproved, StatusAbandoned, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			db := testDB(t)
			ctx := context.Background()
			e := mustCreate(t, db, &Entity{Kind: KindSkill, Name: "s", Status: string(tt.from)})

			err := db.Transition(ctx, KindSkill, e.ID, tt.to, "")
			if tt.ok && err != nil {
				t.Fatalf("Transition: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidStatus) {
				t.Fatalf("err = %v, want ErrInvalidStatus", err)
			}

			got, _ := db.CurrentStatus(ctx, KindSkill, e.ID)
			want := tt.from
			if tt.ok {
				want = tt.to
			}
			if got != want {
				t.Errorf("status = %q, want %q", got, want)
			}
		})
	}
}

func TestTransitionNullStatusIsApproved(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	e := mustCreate(t, db, &Entity{Kind: KindSkill, Name: "legacy", Status: "weird"})

	if err := db.Transition(ctx, KindSkill, e.ID, StatusDeprecated, ""); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	got, _ := db.CurrentStatus(ctx, KindSkill, e.ID)
	if got != StatusDeprecated {
		t.Errorf("status = %q, want deprecated", got)
	}
}

func TestTransitionUnknownTarget(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	e := mustCreate(t, db, &Entity{Kind: KindSkill, Name: "s", Status: "draft"})

	err := db.Transition(ctx, KindSkill, e.ID, Status("archived"), "")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
	// rejected belongs to tools only
	err = db.Transition(ctx, KindSkill, e.ID, StatusRejected, "")
	if !errors.Is(err, ErrInvalidStatus) {
		t.Fatalf("err = %v, want ErrInvalidStatus", err)
	}
	got, _ := db.CurrentStatus(ctx, KindSkill, e.ID)
	if got != StatusDraft {
		t.Errorf("status = %q, want draft", got)
	}
}

func TestTransitionNotFound(t *testing.T) {
	db := testDB(t)

	err := db.Transition(context.Background(), KindMemory, 404, StatusApproved, "")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestToolTransitionStampsApproval(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	e := mustCreate(t, db, &Entity{Kind: KindTool, Name: "fetch",
		Approval: &Approval{Status: "approved", CreatedRunID: int64p(3)}})

	if err := db.Transition(ctx, KindTool, e.ID, StatusRejected, "bad run"); err != nil {
		t.Fatalf("Transition: %v", err)
	}
	got, err := db.GetEntity(ctx, KindTool, e.ID)
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if got.EffectiveStatus() != StatusRejected {
		t.Errorf("status = %q, want rejected", got.EffectiveStatus())
	}
	if got.Approval.RejectedAt == nil || got.Approval.RejectReason != "bad run" {
		t.Errorf("approval = %+v, want rejection stamp", got.Approval)
	}
	if got.Approval.CreatedRunID == nil || *got.Approval.CreatedRunID != 3 {
		t.Errorf("created_run_id lost: %+v", got.Approval)
	}

	if err := db.Transition(ctx, KindTool, e.ID, StatusDeprecated, ""); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("deprecated on tool err = %v, want ErrInvalidStatus", err)
	}
}

func TestNormalizeStatus(t *testing.T) {
	if NormalizeStatus(KindSkill, "") != StatusApproved {
		t.Error("empty should read approved")
	}
	if NormalizeStatus(KindSkill, "rejected") != StatusApproved {
		t.Error("rejected is not a skill status and should read approved")
	}
	if NormalizeStatus(KindTool, "rejected") != StatusRejected {
		t.Error("rejected is a tool status")
	}
	if StatusRank(StatusApproved) <= StatusRank(StatusDraft) || StatusRank(StatusDraft) <= StatusRank(StatusDeprecated) {
		t.Error("status rank order broken")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		kind     Kind
		from, to Status
		want     bool
	}{
		{KindMemory, StatusDraft, StatusDeprecated, true},
		{KindGraphNode, StatusDeprecated, StatusApproved, true},
		{KindGraphNode, StatusAbandoned, StatusDraft, false},
		{KindTool, StatusApproved, StatusRejected, true},
		{KindTool, StatusRejected, StatusApproved, true},
		{KindTool, StatusApproved, StatusDeprecated, false},
		{KindSkill, StatusApproved, StatusRejected, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.kind, tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s, %s) = %v, want %v", tt.kind, tt.from, tt.to, got, tt.want)
		}
	}
}
