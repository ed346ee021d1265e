package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSessionState_CanTransition(t *testing.T) {
	tests := []struct {
		from SessionState
		to   SessionState
		want bool
	}{
		{SessionIdle, SessionPlanning, true},
		{SessionPlanning, SessionAwaitingApproval, true},
		{SessionAwaitingApproval, SessionExecuting, true},
		{SessionExecuting, SessionCompleted, true},
		{SessionExecuting, SessionExecuting, true},
		{SessionIdle, SessionFailed, true},
		{SessionPlanning, SessionFailed, true},
		{SessionExecuting, SessionFailed, true},
		{SessionExecuting, SessionPlanning, false},
		{SessionAwaitingApproval, SessionIdle, false},
		{SessionCompleted, SessionFailed, false},
		{SessionFailed, SessionIdle, false},
		{SessionCompleted, SessionCompleted, false},
		{SessionIdle, SessionState("bogus"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("CanTransition() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionState_Terminal(t *testing.T) {
	for _, s := range []SessionState{SessionCompleted, SessionFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []SessionState{SessionIdle, SessionPlanning, SessionAwaitingApproval, SessionExecuting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestPlan_Approve(t *testing.T) {
	plan := &Plan{ID: "p1"}
	if plan.Approved() {
		t.Fatal("new plan should not be approved")
	}

	at := time.Date(2025, 3, 3, 9, 0, 0, 0, time.UTC)
	plan.Approve("user-1", at)

	if !plan.Approved() {
		t.Fatal("plan should be approved")
	}
	if plan.ApprovedBy != "user-1" {
		t.Errorf("ApprovedBy = %q, want %q", plan.ApprovedBy, "user-1")
	}
	if !plan.ApprovedAt.Equal(at) {
		t.Errorf("ApprovedAt = %v, want %v", plan.ApprovedAt, at)
	}

	var nilPlan *Plan
	if nilPlan.Approved() {
		t.Error("nil plan should not be approved")
	}
	nilPlan.Approve("x", at)
}

func TestPlan_OrderedSteps(t *testing.T) {
	plan := &Plan{Steps: []*PlanStep{
		{ID: "c", Order: 3},
		nil,
		{ID: "a", Order: 1},
		{ID: "b1", Order: 2},
		{ID: "b2", Order: 2},
	}}

	got := plan.OrderedSteps()
	want := []string{"a", "b1", "b2", "c"}
	if len(got) != len(want) {
		t.Fatalf("len = %d, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("step[%d] = %q, want %q", i, got[i].ID, id)
		}
	}
	if plan.Steps[0].ID != "c" {
		t.Error("OrderedSteps should not reorder the plan")
	}
}

func TestPlan_CloneIsIndependent(t *testing.T) {
	at := time.Now()
	plan := &Plan{
		ID:         "p1",
		Risks:      []string{"r1"},
		ApprovedAt: &at,
		Steps: []*PlanStep{
			{ID: "s1", Tool: "create_task", Parameters: map[string]any{"title": "a"}},
		},
	}

	clone := plan.Clone()
	clone.Steps[0].Status = StepStatusCompleted
	clone.Steps[0].Parameters["title"] = "b"
	clone.Risks[0] = "changed"

	if plan.Steps[0].Status != "" {
		t.Error("step status leaked into original")
	}
	if plan.Steps[0].Parameters["title"] != "a" {
		t.Error("parameters leaked into original")
	}
	if plan.Risks[0] != "r1" {
		t.Error("risks leaked into original")
	}
	if clone.Step("s1") == nil {
		t.Error("Step(s1) should resolve on the clone")
	}
}

func TestNewConversationState(t *testing.T) {
	now := time.Now()
	state := NewConversationState("conv-1", now)

	if state.Phase != PhaseClarifying {
		t.Errorf("Phase = %q, want %q", state.Phase, PhaseClarifying)
	}
	if state.Confidence != 0.5 {
		t.Errorf("Confidence = %v, want 0.5", state.Confidence)
	}
	if state.Entities == nil || state.WorkingMemory.AccumulatedEntities == nil {
		t.Error("entity maps should be initialized")
	}
}

func TestScheduledTask_JSON(t *testing.T) {
	task := ScheduledTask{
		ID:       "t1",
		Name:     "standup",
		Cron:     "0 9 * * 1-5",
		Status:   TaskStatusActive,
		Metadata: TaskMetadata{Action: "daily_standup", Failures: 2, LastError: "boom"},
	}

	data, err := json.Marshal(task)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	meta, ok := raw["metadata"].(map[string]any)
	if !ok {
		t.Fatalf("metadata missing: %s", data)
	}
	if meta["failures"] != float64(2) {
		t.Errorf("failures = %v, want 2", meta["failures"])
	}
	if _, ok := raw["last_run"]; ok {
		t.Error("last_run should be omitted when unset")
	}
}
