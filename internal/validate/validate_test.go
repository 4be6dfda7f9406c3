package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/taskwire/taskwire/internal/protocol"
	"github.com/taskwire/taskwire/internal/types"
)

func fieldNames(vs []types.FieldViolation) []string {
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.Field
	}
	return names
}

func TestWorkItemCreateCollectsAllViolations(t *testing.T) {
	neg := -1
	vs := WorkItemCreate(&protocol.WorkItemCreateArgs{
		Type:        "widget",
		Title:       "",
		Status:      "paused",
		StoryPoints: &neg,
	})
	want := []string{"title", "type", "status", "story_points", "project_id"}
	for _, field := range want {
		found := false
		for _, v := range vs {
			if v.Field == field {
				found = true
			}
		}
		if !found {
			t.Errorf("missing violation for %q in %v", field, fieldNames(vs))
		}
	}
}

func TestWorkItemCreateTitleLength(t *testing.T) {
	args := &protocol.WorkItemCreateArgs{
		Type:      "task",
		ProjectID: "p1",
		Title:     strings.Repeat("x", types.MaxTitleLength),
	}
	if vs := WorkItemCreate(args); vs != nil {
		t.Errorf("max-length title rejected: %v", vs)
	}
	args.Title += "x"
	if vs := WorkItemCreate(args); len(vs) != 1 || vs[0].Field != "title" {
		t.Errorf("over-length title violations = %v", vs)
	}
}

func TestWorkItemCreateProjectNeedsNoProjectID(t *testing.T) {
	if vs := WorkItemCreate(&protocol.WorkItemCreateArgs{Type: "project", Title: "Root"}); vs != nil {
		t.Errorf("project create rejected: %v", vs)
	}
	parent := "other"
	vs := WorkItemCreate(&protocol.WorkItemCreateArgs{Type: "project", Title: "Root", ParentID: &parent})
	if len(vs) != 1 || vs[0].Field != "parent_id" {
		t.Errorf("project with parent violations = %v", vs)
	}
}

func TestUpdateRequiresExpectedVersion(t *testing.T) {
	vs := WorkItemUpdate(&protocol.WorkItemUpdateArgs{ID: "w1"})
	if len(vs) != 1 || vs[0].Field != "expected_version" {
		t.Errorf("missing expected_version violations = %v", vs)
	}
	if vs := WorkItemUpdate(&protocol.WorkItemUpdateArgs{ID: "w1", ExpectedVersion: 1}); vs != nil {
		t.Errorf("minimal valid update rejected: %v", vs)
	}
}

func TestSprintCreateDateOrder(t *testing.T) {
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	args := &protocol.SprintCreateArgs{
		ProjectID: "p1",
		Name:      "Sprint 1",
		StartDate: start,
		EndDate:   start,
	}
	vs := SprintCreate(args)
	if len(vs) != 1 || vs[0].Field != "end_date" {
		t.Errorf("equal dates violations = %v", vs)
	}
	args.EndDate = start.AddDate(0, 0, 14)
	if vs := SprintCreate(args); vs != nil {
		t.Errorf("valid sprint rejected: %v", vs)
	}
}

func TestCommentContentBounds(t *testing.T) {
	vs := CommentCreate(&protocol.CommentCreateArgs{WorkItemID: "w1", Content: ""})
	if len(vs) != 1 || vs[0].Field != "content" {
		t.Errorf("empty content violations = %v", vs)
	}
	vs = CommentCreate(&protocol.CommentCreateArgs{
		WorkItemID: "w1",
		Content:    strings.Repeat("y", types.MaxContentLength+1),
	})
	if len(vs) != 1 || vs[0].Field != "content" {
		t.Errorf("oversized content violations = %v", vs)
	}
}
