package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"

	"github.com/taskwire/taskwire/internal/storage"
	"github.com/taskwire/taskwire/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// seedProject creates a root project item and returns its id
func seedProject(t *testing.T, s *Store) string {
	t.Helper()
	id := uuid.NewString()
	_, _, err := s.CreateWorkItem(context.Background(), &types.WorkItem{
		ID:        id,
		Type:      types.TypeProject,
		ProjectID: id,
		Title:     "Test Project",
		Status:    types.StatusBacklog,
		Priority:  types.PriorityMedium,
	}, "alice")
	if err != nil {
		t.Fatalf("failed to seed project: %v", err)
	}
	return id
}

func seedTask(t *testing.T, s *Store, projectID string, parentID *string, title string) *types.WorkItem {
	t.Helper()
	item, _, err := s.CreateWorkItem(context.Background(), &types.WorkItem{
		ID:        uuid.NewString(),
		Type:      types.TypeTask,
		ParentID:  parentID,
		ProjectID: projectID,
		Title:     title,
		Status:    types.StatusTodo,
		Priority:  types.PriorityMedium,
	}, "alice")
	if err != nil {
		t.Fatalf("failed to seed task %q: %v", title, err)
	}
	return item
}

func seedSprint(t *testing.T, s *Store, projectID string) *types.Sprint {
	t.Helper()
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	sp, _, err := s.CreateSprint(context.Background(), &types.Sprint{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		Name:      "Sprint 1",
		Status:    types.SprintPlanned,
		StartDate: start,
		EndDate:   start.AddDate(0, 0, 14),
	}, "alice")
	if err != nil {
		t.Fatalf("failed to seed sprint: %v", err)
	}
	return sp
}

func TestCreateWorkItemStartsAtVersionOne(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)

	item := seedTask(t, s, projectID, nil, "First task")
	if item.Version != 1 {
		t.Errorf("new item version = %d, want 1", item.Version)
	}
	if item.CreatedBy != "alice" || item.UpdatedBy != "alice" {
		t.Errorf("actor not recorded: created_by=%q updated_by=%q", item.CreatedBy, item.UpdatedBy)
	}

	got, err := s.GetWorkItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("failed to get item: %v", err)
	}
	if got.Version != 1 || got.Title != "First task" {
		t.Errorf("got version=%d title=%q, want version=1 title=%q", got.Version, got.Title, "First task")
	}
}

func TestUpdateWorkItemBumpsVersionAndLogsChanges(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	item := seedTask(t, s, projectID, nil, "Original")

	newTitle := "Renamed"
	newStatus := types.StatusInProgress
	updated, entry, err := s.UpdateWorkItem(context.Background(), item.ID, storage.WorkItemPatch{
		Title:  &newTitle,
		Status: &newStatus,
	}, 1, "bob")
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version after update = %d, want 2", updated.Version)
	}
	if updated.UpdatedBy != "bob" {
		t.Errorf("updated_by = %q, want bob", updated.UpdatedBy)
	}

	wantChanges := map[string]types.FieldChange{
		"title":  {Old: "Original", New: "Renamed"},
		"status": {Old: types.StatusTodo, New: types.StatusInProgress},
	}
	if diff := cmp.Diff(wantChanges, entry.Changes); diff != "" {
		t.Errorf("activity changes mismatch (-want +got):\n%s", diff)
	}
	if entry.Action != types.ActionUpdated || entry.ActorID != "bob" {
		t.Errorf("entry action=%q actor=%q, want updated/bob", entry.Action, entry.ActorID)
	}
}

func TestUpdateWorkItemVersionConflict(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	item := seedTask(t, s, projectID, nil, "Contended")

	title := "winner"
	if _, _, err := s.UpdateWorkItem(context.Background(), item.ID, storage.WorkItemPatch{Title: &title}, 1, "alice"); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	stale := "loser"
	_, _, err := s.UpdateWorkItem(context.Background(), item.ID, storage.WorkItemPatch{Title: &stale}, 1, "bob")
	coded := types.AsCoded(err)
	if coded == nil || coded.Code != types.CodeVersionConflict {
		t.Fatalf("stale update error = %v, want version_conflict", err)
	}
	if got := coded.Details["current_version"]; got != int64(2) {
		t.Errorf("conflict current_version = %v, want 2", got)
	}
	snapshot, ok := coded.Details["current_snapshot"].(*types.WorkItem)
	if !ok {
		t.Fatalf("conflict carries no snapshot: %T", coded.Details["current_snapshot"])
	}
	if snapshot.Title != "winner" {
		t.Errorf("conflict snapshot title = %q, want winner", snapshot.Title)
	}
}

func TestConcurrentUpdatesExactlyOneWins(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	item := seedTask(t, s, projectID, nil, "Race target")

	const writers = 10
	var wg sync.WaitGroup
	results := make([]error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			title := "writer"
			_, _, err := s.UpdateWorkItem(context.Background(), item.ID, storage.WorkItemPatch{Title: &title}, 1, "alice")
			results[i] = err
		}(i)
	}
	wg.Wait()

	var wins, conflicts int
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case types.CodeOf(err) == types.CodeVersionConflict:
			conflicts++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || conflicts != writers-1 {
		t.Errorf("wins=%d conflicts=%d, want 1/%d", wins, conflicts, writers-1)
	}

	got, err := s.GetWorkItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("failed to get item: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("final version = %d, want 2", got.Version)
	}
}

func TestDeleteWorkItemCascadesToDescendants(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	parent := seedTask(t, s, projectID, nil, "Parent")
	child := seedTask(t, s, projectID, &parent.ID, "Child")
	grandchild := seedTask(t, s, projectID, &child.ID, "Grandchild")
	sibling := seedTask(t, s, projectID, nil, "Sibling")

	if _, _, err := s.DeleteWorkItem(context.Background(), parent.ID, 1, "alice"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	for _, id := range []string{parent.ID, child.ID, grandchild.ID} {
		if _, err := s.GetWorkItem(context.Background(), id); types.CodeOf(err) != types.CodeNotFound {
			t.Errorf("item %s still visible after cascade delete: %v", id, err)
		}
	}
	if _, err := s.GetWorkItem(context.Background(), sibling.ID); err != nil {
		t.Errorf("sibling swept up in cascade: %v", err)
	}
}

func TestDeleteWorkItemStaleVersionConflicts(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	item := seedTask(t, s, projectID, nil, "To delete")

	title := "bumped"
	if _, _, err := s.UpdateWorkItem(context.Background(), item.ID, storage.WorkItemPatch{Title: &title}, 1, "alice"); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if _, _, err := s.DeleteWorkItem(context.Background(), item.ID, 1, "alice"); types.CodeOf(err) != types.CodeVersionConflict {
		t.Errorf("stale delete error = %v, want version_conflict", err)
	}
	if _, err := s.GetWorkItem(context.Background(), item.ID); err != nil {
		t.Errorf("item deleted despite conflict: %v", err)
	}
}

func TestCreateWorkItemRejectsCrossProjectParent(t *testing.T) {
	s := newTestStore(t)
	projectA := seedProject(t, s)
	projectB := seedProject(t, s)
	parent := seedTask(t, s, projectA, nil, "In A")

	_, _, err := s.CreateWorkItem(context.Background(), &types.WorkItem{
		ID:        uuid.NewString(),
		Type:      types.TypeTask,
		ParentID:  &parent.ID,
		ProjectID: projectB,
		Title:     "In B",
		Status:    types.StatusTodo,
		Priority:  types.PriorityLow,
	}, "alice")
	if types.CodeOf(err) != types.CodeValidation {
		t.Errorf("cross-project parent error = %v, want validation", err)
	}
}

func TestSprintStateMachine(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	sp := seedSprint(t, s, projectID)

	skip := types.SprintCompleted
	_, _, err := s.UpdateSprint(context.Background(), sp.ID, storage.SprintPatch{Status: &skip}, 1, "alice")
	if types.CodeOf(err) != types.CodeInvalidStateTransition {
		t.Fatalf("planned->completed error = %v, want invalid_state_transition", err)
	}

	active := types.SprintActive
	sp2, _, err := s.UpdateSprint(context.Background(), sp.ID, storage.SprintPatch{Status: &active}, 1, "alice")
	if err != nil {
		t.Fatalf("planned->active failed: %v", err)
	}
	if sp2.Version != 2 {
		t.Errorf("sprint version after transition = %d, want 2", sp2.Version)
	}

	completed := types.SprintCompleted
	sp3, _, err := s.UpdateSprint(context.Background(), sp.ID, storage.SprintPatch{Status: &completed}, 2, "alice")
	if err != nil {
		t.Fatalf("active->completed failed: %v", err)
	}

	back := types.SprintActive
	_, _, err = s.UpdateSprint(context.Background(), sp.ID, storage.SprintPatch{Status: &back}, sp3.Version, "alice")
	if types.CodeOf(err) != types.CodeInvalidStateTransition {
		t.Errorf("completed->active error = %v, want invalid_state_transition", err)
	}
}

func TestDeleteSprintUnassignsWorkItems(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	sp := seedSprint(t, s, projectID)

	item := seedTask(t, s, projectID, nil, "Sprinted")
	sprintPtr := &sp.ID
	assigned, _, err := s.UpdateWorkItem(context.Background(), item.ID, storage.WorkItemPatch{SprintID: &sprintPtr}, 1, "alice")
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if assigned.SprintID == nil || *assigned.SprintID != sp.ID {
		t.Fatalf("item not assigned to sprint")
	}

	if _, _, err := s.DeleteSprint(context.Background(), sp.ID, 1, "alice"); err != nil {
		t.Fatalf("sprint delete failed: %v", err)
	}

	got, err := s.GetWorkItem(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("failed to get item: %v", err)
	}
	if got.SprintID != nil {
		t.Errorf("item still references deleted sprint %q", *got.SprintID)
	}
	if got.Version != assigned.Version+1 {
		t.Errorf("unassigned item version = %d, want %d", got.Version, assigned.Version+1)
	}

	sprints, err := s.ListSprints(context.Background(), storage.SprintFilter{ProjectID: projectID})
	if err != nil {
		t.Fatalf("list sprints failed: %v", err)
	}
	if len(sprints) != 0 {
		t.Errorf("deleted sprint still listed: %d sprints", len(sprints))
	}
}

func TestCommentAuthorOnly(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	item := seedTask(t, s, projectID, nil, "Discussed")

	c, _, err := s.CreateComment(context.Background(), &types.Comment{
		ID:         uuid.NewString(),
		WorkItemID: item.ID,
		Content:    "looks good",
	}, "alice")
	if err != nil {
		t.Fatalf("create comment failed: %v", err)
	}
	if c.AuthorID != "alice" {
		t.Errorf("author = %q, want alice", c.AuthorID)
	}

	_, _, err = s.UpdateComment(context.Background(), c.ID, "hijacked", 1, "mallory")
	if types.CodeOf(err) != types.CodeAccessDenied {
		t.Errorf("non-author edit error = %v, want access_denied", err)
	}
	_, _, err = s.DeleteComment(context.Background(), c.ID, 1, "mallory")
	if types.CodeOf(err) != types.CodeAccessDenied {
		t.Errorf("non-author delete error = %v, want access_denied", err)
	}

	// A missing comment must be indistinguishable from a forbidden one
	_, _, err = s.UpdateComment(context.Background(), uuid.NewString(), "ghost", 1, "mallory")
	if types.CodeOf(err) != types.CodeAccessDenied {
		t.Errorf("missing comment error = %v, want access_denied", err)
	}

	updated, _, err := s.UpdateComment(context.Background(), c.ID, "revised", 1, "alice")
	if err != nil {
		t.Fatalf("author edit failed: %v", err)
	}
	if updated.Version != 2 || updated.Content != "revised" {
		t.Errorf("edit result version=%d content=%q", updated.Version, updated.Content)
	}

	if _, _, err := s.DeleteComment(context.Background(), c.ID, 2, "alice"); err != nil {
		t.Fatalf("author delete failed: %v", err)
	}
	comments, err := s.ListComments(context.Background(), item.ID)
	if err != nil {
		t.Fatalf("list comments failed: %v", err)
	}
	if len(comments) != 0 {
		t.Errorf("deleted comment still listed")
	}
}

func TestActivityPagination(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	item := seedTask(t, s, projectID, nil, "Busy item")

	// 2 seed entries exist already; add updates until the log holds 25
	for v := int64(1); v <= 23; v++ {
		title := "rev"
		if _, _, err := s.UpdateWorkItem(context.Background(), item.ID, storage.WorkItemPatch{Title: &title, Position: intPtr(int(v))}, v, "alice"); err != nil {
			t.Fatalf("update %d failed: %v", v, err)
		}
	}

	var seen []int64
	cursor := ""
	wantSizes := []int{10, 10, 5}
	for i, want := range wantSizes {
		page, err := s.ListActivity(context.Background(), projectID, cursor, 10)
		if err != nil {
			t.Fatalf("page %d failed: %v", i, err)
		}
		if len(page.Entries) != want {
			t.Fatalf("page %d size = %d, want %d", i, len(page.Entries), want)
		}
		wantMore := i < len(wantSizes)-1
		if page.HasMore != wantMore {
			t.Errorf("page %d has_more = %v, want %v", i, page.HasMore, wantMore)
		}
		for _, e := range page.Entries {
			seen = append(seen, e.ID)
		}
		cursor = page.NextCursor
	}

	if len(seen) != 25 {
		t.Fatalf("total entries = %d, want 25", len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] >= seen[i-1] {
			t.Fatalf("entries not strictly newest-first at %d: %d then %d", i, seen[i-1], seen[i])
		}
	}
}

func TestActivityRejectsBadCursor(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	if _, err := s.ListActivity(context.Background(), projectID, "not-a-cursor", 10); types.CodeOf(err) != types.CodeValidation {
		t.Errorf("bad cursor error = %v, want validation", err)
	}
}

func TestTimestampsScanBack(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	task := seedTask(t, s, projectID, nil, "Timestamped")

	got, err := s.GetWorkItem(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("failed to get work item: %v", err)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Fatalf("timestamps did not survive the round trip: created=%v updated=%v", got.CreatedAt, got.UpdatedAt)
	}
	if d := got.CreatedAt.Sub(task.CreatedAt); d < -time.Second || d > time.Second {
		t.Errorf("created_at read back %v, want within 1s of %v", got.CreatedAt, task.CreatedAt)
	}

	sprint := seedSprint(t, s, projectID)
	sprints, err := s.ListSprints(context.Background(), storage.SprintFilter{ProjectID: projectID})
	if err != nil {
		t.Fatalf("failed to list sprints: %v", err)
	}
	if len(sprints) != 1 {
		t.Fatalf("sprint count = %d, want 1", len(sprints))
	}
	if !sprints[0].StartDate.Equal(sprint.StartDate) || !sprints[0].EndDate.Equal(sprint.EndDate) {
		t.Errorf("sprint dates read back %v..%v, want %v..%v",
			sprints[0].StartDate, sprints[0].EndDate, sprint.StartDate, sprint.EndDate)
	}
}

func TestUpdateWorkItemClearsStoryPoints(t *testing.T) {
	s := newTestStore(t)
	projectID := seedProject(t, s)
	task := seedTask(t, s, projectID, nil, "Estimated")

	pointed, _, err := s.UpdateWorkItem(context.Background(), task.ID,
		storage.WorkItemPatch{StoryPoints: ptrPtr(intPtr(5))}, 1, "alice")
	if err != nil {
		t.Fatalf("failed to set story points: %v", err)
	}
	if pointed.StoryPoints == nil || *pointed.StoryPoints != 5 {
		t.Fatalf("story points = %v, want 5", pointed.StoryPoints)
	}

	var clear *int
	cleared, entry, err := s.UpdateWorkItem(context.Background(), task.ID,
		storage.WorkItemPatch{StoryPoints: &clear}, 2, "alice")
	if err != nil {
		t.Fatalf("failed to clear story points: %v", err)
	}
	if cleared.StoryPoints != nil {
		t.Fatalf("story points = %d, want cleared", *cleared.StoryPoints)
	}
	if _, ok := entry.Changes["story_points"]; !ok {
		t.Errorf("clear did not record a story_points change: %v", entry.Changes)
	}

	got, err := s.GetWorkItem(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("failed to get work item: %v", err)
	}
	if got.StoryPoints != nil {
		t.Errorf("cleared story points read back as %d", *got.StoryPoints)
	}
}

func intPtr(v int) *int { return &v }

func ptrPtr(p *int) **int { return &p }
