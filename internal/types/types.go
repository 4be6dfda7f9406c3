// Package types defines the core domain entities shared by the storage
// layer, the dispatcher, and the wire protocol.
package types

import (
	"fmt"
	"time"
)

// ItemType categorizes a work item within the project hierarchy
type ItemType string

const (
	TypeProject ItemType = "project"
	TypeEpic    ItemType = "epic"
	TypeStory   ItemType = "story"
	TypeTask    ItemType = "task"
)

// IsValid returns true if the item type is one of the known values
func (t ItemType) IsValid() bool {
	switch t {
	case TypeProject, TypeEpic, TypeStory, TypeTask:
		return true
	}
	return false
}

// ItemStatus is the workflow state of a work item
type ItemStatus string

const (
	StatusBacklog    ItemStatus = "backlog"
	StatusTodo       ItemStatus = "todo"
	StatusInProgress ItemStatus = "in_progress"
	StatusInReview   ItemStatus = "in_review"
	StatusDone       ItemStatus = "done"
)

func (s ItemStatus) IsValid() bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusInReview, StatusDone:
		return true
	}
	return false
}

// Priority is the urgency bucket of a work item
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// SprintStatus is the lifecycle state of a sprint. Transitions are
// forward-only: planned -> active -> completed.
type SprintStatus string

const (
	SprintPlanned   SprintStatus = "planned"
	SprintActive    SprintStatus = "active"
	SprintCompleted SprintStatus = "completed"
)

func (s SprintStatus) IsValid() bool {
	switch s {
	case SprintPlanned, SprintActive, SprintCompleted:
		return true
	}
	return false
}

// CanTransitionTo reports whether moving from s to next is a legal
// forward step in the sprint state machine.
func (s SprintStatus) CanTransitionTo(next SprintStatus) bool {
	switch s {
	case SprintPlanned:
		return next == SprintActive
	case SprintActive:
		return next == SprintCompleted
	}
	return false
}

// WorkItem is a node in the project hierarchy (project/epic/story/task)
type WorkItem struct {
	ID          string     `json:"id"`
	Type        ItemType   `json:"type"`
	ParentID    *string    `json:"parent_id,omitempty"`
	ProjectID   string     `json:"project_id"`
	Position    int        `json:"position"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Status      ItemStatus `json:"status"`
	Priority    Priority   `json:"priority"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	SprintID    *string    `json:"sprint_id,omitempty"`
	StoryPoints *int       `json:"story_points,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	CreatedBy   string     `json:"created_by"`
	UpdatedAt   time.Time  `json:"updated_at"`
	UpdatedBy   string     `json:"updated_by"`
	DeletedAt   *time.Time `json:"deleted_at,omitempty"`
}

// Validate checks structural invariants on the work item itself.
// Cross-entity checks (parent existence, project membership) live in storage.
func (w *WorkItem) Validate() error {
	if w.Title == "" {
		return fmt.Errorf("work item title is required")
	}
	if len(w.Title) > MaxTitleLength {
		return fmt.Errorf("work item title exceeds %d characters", MaxTitleLength)
	}
	if !w.Type.IsValid() {
		return fmt.Errorf("invalid work item type: %s", w.Type)
	}
	if !w.Status.IsValid() {
		return fmt.Errorf("invalid work item status: %s", w.Status)
	}
	if !w.Priority.IsValid() {
		return fmt.Errorf("invalid work item priority: %s", w.Priority)
	}
	if w.Type == TypeProject && w.ParentID != nil {
		return fmt.Errorf("project items cannot have a parent")
	}
	if w.StoryPoints != nil && *w.StoryPoints < 0 {
		return fmt.Errorf("story points cannot be negative")
	}
	return nil
}

// Sprint is a time-boxed iteration within a project
type Sprint struct {
	ID        string       `json:"id"`
	ProjectID string       `json:"project_id"`
	Name      string       `json:"name"`
	StartDate time.Time    `json:"start_date"`
	EndDate   time.Time    `json:"end_date"`
	Status    SprintStatus `json:"status"`
	Version   int64        `json:"version"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

func (s *Sprint) Validate() error {
	if s.Name == "" {
		return fmt.Errorf("sprint name is required")
	}
	if len(s.Name) > MaxNameLength {
		return fmt.Errorf("sprint name exceeds %d characters", MaxNameLength)
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid sprint status: %s", s.Status)
	}
	if !s.EndDate.After(s.StartDate) {
		return fmt.Errorf("sprint end date must be after start date")
	}
	return nil
}

// Comment is a remark attached to a work item. Only the author may
// update or delete it.
type Comment struct {
	ID         string     `json:"id"`
	WorkItemID string     `json:"work_item_id"`
	AuthorID   string     `json:"author_id"`
	Content    string     `json:"content"`
	Version    int64      `json:"version"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	DeletedAt  *time.Time `json:"deleted_at,omitempty"`
}

// EntityType names the kind of entity an activity entry or event refers to
type EntityType string

const (
	EntityWorkItem EntityType = "work_item"
	EntitySprint   EntityType = "sprint"
	EntityComment  EntityType = "comment"
)

// Action is the kind of mutation recorded in the activity log
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
	ActionDeleted Action = "deleted"
)

// FieldChange records one field's before/after values in an activity entry
type FieldChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// ActivityEntry is one immutable row of the audit trail. Entries are
// written in the same transaction as the mutation they record and are
// never updated or deleted afterwards.
type ActivityEntry struct {
	ID         int64                  `json:"id"`
	ProjectID  string                 `json:"project_id"`
	EntityType EntityType             `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	Action     Action                 `json:"action"`
	Changes    map[string]FieldChange `json:"changes,omitempty"`
	ActorID    string                 `json:"actor_id"`
	CreatedAt  time.Time              `json:"created_at"`
}

// ActivityPage is one page of the audit trail, newest first
type ActivityPage struct {
	Entries    []*ActivityEntry `json:"entries"`
	HasMore    bool             `json:"has_more"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// Field length bounds enforced by both the validator and the schema
const (
	MaxTitleLength   = 500
	MaxNameLength    = 200
	MaxContentLength = 10000
)
