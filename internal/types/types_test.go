package types

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestSprintTransitions(t *testing.T) {
	allowed := map[SprintStatus]SprintStatus{
		SprintPlanned: SprintActive,
		SprintActive:  SprintCompleted,
	}
	all := []SprintStatus{SprintPlanned, SprintActive, SprintCompleted}
	for _, from := range all {
		for _, to := range all {
			got := from.CanTransitionTo(to)
			want := allowed[from] == to
			if got != want {
				t.Errorf("%s -> %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestWorkItemValidate(t *testing.T) {
	valid := WorkItem{
		Type: TypeTask, ProjectID: "p1", Title: "ok",
		Status: StatusTodo, Priority: PriorityLow,
	}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid item rejected: %v", err)
	}

	parent := "x"
	broken := []WorkItem{
		{Type: TypeTask, Title: "", Status: StatusTodo, Priority: PriorityLow},
		{Type: "widget", Title: "t", Status: StatusTodo, Priority: PriorityLow},
		{Type: TypeTask, Title: "t", Status: "paused", Priority: PriorityLow},
		{Type: TypeProject, Title: "t", Status: StatusTodo, Priority: PriorityLow, ParentID: &parent},
	}
	for i, w := range broken {
		if err := w.Validate(); err == nil {
			t.Errorf("broken item %d accepted", i)
		}
	}
}

func TestSprintValidateDates(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	sp := Sprint{Name: "S1", Status: SprintPlanned, StartDate: start, EndDate: start}
	if err := sp.Validate(); err == nil {
		t.Error("zero-length sprint accepted")
	}
	sp.EndDate = start.AddDate(0, 0, 1)
	if err := sp.Validate(); err != nil {
		t.Errorf("valid sprint rejected: %v", err)
	}
}

func TestCodedErrorHelpers(t *testing.T) {
	conflict := NewVersionConflict(3, nil)
	wrapped := fmt.Errorf("handler: %w", conflict)
	if CodeOf(wrapped) != CodeVersionConflict {
		t.Errorf("CodeOf(wrapped) = %v", CodeOf(wrapped))
	}
	if AsCoded(wrapped) != conflict {
		t.Error("AsCoded did not unwrap")
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Errorf("uncoded error maps to %v, want internal", CodeOf(errors.New("plain")))
	}
}
