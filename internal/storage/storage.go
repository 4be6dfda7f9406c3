// Package storage defines the persistence interface for the sync engine.
package storage

import (
	"context"
	"time"

	"github.com/taskwire/taskwire/internal/types"
)

// WorkItemPatch is a sparse update; nil fields are left unchanged.
// Pointer-to-pointer fields distinguish "clear" from "leave alone":
// a non-nil outer pointer with a nil inner value writes NULL.
type WorkItemPatch struct {
	Title       *string
	Description *string
	Status      *types.ItemStatus
	Priority    *types.Priority
	Position    *int
	AssigneeID  **string
	SprintID    **string
	StoryPoints **int
}

// SprintPatch is a sparse update on a sprint
type SprintPatch struct {
	Name      *string
	StartDate *time.Time
	EndDate   *time.Time
	Status    *types.SprintStatus
}

// WorkItemFilter narrows ListWorkItems. Zero values mean "no filter".
type WorkItemFilter struct {
	ProjectID  string
	Type       types.ItemType
	Status     types.ItemStatus
	SprintID   *string
	AssigneeID *string
	ParentID   *string
	Limit      int
}

// SprintFilter narrows ListSprints
type SprintFilter struct {
	ProjectID string
	Status    types.SprintStatus
}

// Storage is the persistence boundary. Every mutation is atomic: the
// entity change, its version bump, and its activity entry commit
// together or not at all. Mutations return the post-commit snapshot
// and the activity entry they produced.
type Storage interface {
	CreateWorkItem(ctx context.Context, item *types.WorkItem, actor string) (*types.WorkItem, *types.ActivityEntry, error)
	UpdateWorkItem(ctx context.Context, id string, patch WorkItemPatch, expectedVersion int64, actor string) (*types.WorkItem, *types.ActivityEntry, error)
	DeleteWorkItem(ctx context.Context, id string, expectedVersion int64, actor string) (*types.WorkItem, *types.ActivityEntry, error)
	GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error)
	ListWorkItems(ctx context.Context, filter WorkItemFilter) ([]*types.WorkItem, error)

	CreateSprint(ctx context.Context, sprint *types.Sprint, actor string) (*types.Sprint, *types.ActivityEntry, error)
	UpdateSprint(ctx context.Context, id string, patch SprintPatch, expectedVersion int64, actor string) (*types.Sprint, *types.ActivityEntry, error)
	DeleteSprint(ctx context.Context, id string, expectedVersion int64, actor string) (*types.Sprint, *types.ActivityEntry, error)
	ListSprints(ctx context.Context, filter SprintFilter) ([]*types.Sprint, error)

	CreateComment(ctx context.Context, comment *types.Comment, actor string) (*types.Comment, *types.ActivityEntry, error)
	UpdateComment(ctx context.Context, id, content string, expectedVersion int64, actor string) (*types.Comment, *types.ActivityEntry, error)
	DeleteComment(ctx context.Context, id string, expectedVersion int64, actor string) (*types.Comment, *types.ActivityEntry, error)
	ListComments(ctx context.Context, workItemID string) ([]*types.Comment, error)

	ListActivity(ctx context.Context, projectID, cursor string, limit int) (*types.ActivityPage, error)

	Close() error
	Path() string
}
