// Package protocol defines the wire envelopes exchanged between clients
// and the sync daemon, and the closed set of message type tags.
package protocol

import (
	"encoding/json"
	"time"

	"github.com/taskwire/taskwire/internal/types"
)

// Message type tags for all client operations
const (
	MsgPing        = "ping"
	MsgSubscribe   = "subscribe"
	MsgUnsubscribe = "unsubscribe"

	MsgWorkItemCreate = "work_item_create"
	MsgWorkItemUpdate = "work_item_update"
	MsgWorkItemDelete = "work_item_delete"
	MsgWorkItemGet    = "work_item_get"
	MsgWorkItemList   = "work_item_list"

	MsgSprintCreate = "sprint_create"
	MsgSprintUpdate = "sprint_update"
	MsgSprintDelete = "sprint_delete"
	MsgSprintList   = "sprint_list"

	MsgCommentCreate = "comment_create"
	MsgCommentUpdate = "comment_update"
	MsgCommentDelete = "comment_delete"
	MsgCommentList   = "comment_list"

	MsgActivityList = "activity_list"
)

// Event type tags for broadcast messages
const (
	EventWorkItemCreated = "work_item_created"
	EventWorkItemUpdated = "work_item_updated"
	EventWorkItemDeleted = "work_item_deleted"
	EventSprintCreated   = "sprint_created"
	EventSprintUpdated   = "sprint_updated"
	EventSprintDeleted   = "sprint_deleted"
	EventCommentCreated  = "comment_created"
	EventCommentUpdated  = "comment_updated"
	EventCommentDeleted  = "comment_deleted"
)

// Request is the envelope for all client-to-server messages. The
// correlation id is an opaque client-chosen token echoed back on the
// matching response.
type Request struct {
	Type          string          `json:"type"`
	CorrelationID string          `json:"correlation_id"`
	Actor         string          `json:"actor,omitempty"`
	ClientVersion string          `json:"client_version,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// Response status values
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the envelope for all server-to-client replies
type Response struct {
	CorrelationID string          `json:"correlation_id"`
	Status        string          `json:"status"`
	Body          json.RawMessage `json:"body,omitempty"`
	Error         *types.Error    `json:"error,omitempty"`
}

// Event is the envelope for broadcast messages. Events carry no
// correlation id; Seq is the per-project delivery order.
type Event struct {
	EventType      string               `json:"event_type"`
	ProjectID      string               `json:"project_id"`
	Seq            uint64               `json:"seq"`
	EntitySnapshot json.RawMessage      `json:"entity_snapshot"`
	ActivityEntry  *types.ActivityEntry `json:"activity_entry,omitempty"`
}

// OK builds a success response with the given body
func OK(correlationID string, body any) Response {
	data, err := json.Marshal(body)
	if err != nil {
		return Fail(correlationID, types.NewInternal())
	}
	return Response{CorrelationID: correlationID, Status: StatusOK, Body: data}
}

// Fail builds an error response from a coded error
func Fail(correlationID string, coded *types.Error) Response {
	return Response{CorrelationID: correlationID, Status: StatusError, Error: coded}
}

// SubscribeArgs selects projects whose events this connection receives
type SubscribeArgs struct {
	ProjectID string `json:"project_id"`
}

// UnsubscribeArgs stops event delivery for one project
type UnsubscribeArgs struct {
	ProjectID string `json:"project_id"`
}

// WorkItemCreateArgs carries a new work item. IdempotencyKey dedupes
// client retries after perceived timeouts.
type WorkItemCreateArgs struct {
	IdempotencyKey string  `json:"idempotency_key,omitempty"`
	Type           string  `json:"type"`
	ParentID       *string `json:"parent_id,omitempty"`
	ProjectID      string  `json:"project_id"`
	Position       int     `json:"position,omitempty"`
	Title          string  `json:"title"`
	Description    string  `json:"description,omitempty"`
	Status         string  `json:"status,omitempty"`
	Priority       string  `json:"priority,omitempty"`
	AssigneeID     *string `json:"assignee_id,omitempty"`
	SprintID       *string `json:"sprint_id,omitempty"`
	StoryPoints    *int    `json:"story_points,omitempty"`
}

// WorkItemUpdateArgs is a sparse patch; nil fields are left untouched
type WorkItemUpdateArgs struct {
	ID              string  `json:"id"`
	ExpectedVersion int64   `json:"expected_version"`
	Title           *string `json:"title,omitempty"`
	Description     *string `json:"description,omitempty"`
	Status          *string `json:"status,omitempty"`
	Priority        *string `json:"priority,omitempty"`
	Position        *int    `json:"position,omitempty"`
	AssigneeID      *string `json:"assignee_id,omitempty"`
	SprintID        *string `json:"sprint_id,omitempty"`
	StoryPoints     *int    `json:"story_points,omitempty"`
	// ClearStoryPoints removes the estimate; an empty string cannot
	// stand in for "no value" the way it does for assignee/sprint.
	ClearStoryPoints bool `json:"clear_story_points,omitempty"`
}

// WorkItemDeleteArgs soft-deletes an item and its descendants
type WorkItemDeleteArgs struct {
	ID              string `json:"id"`
	ExpectedVersion int64  `json:"expected_version"`
}

// WorkItemGetArgs fetches one item by id
type WorkItemGetArgs struct {
	ID string `json:"id"`
}

// WorkItemListArgs filters active items within a project
type WorkItemListArgs struct {
	ProjectID  string  `json:"project_id"`
	Type       string  `json:"type,omitempty"`
	Status     string  `json:"status,omitempty"`
	SprintID   *string `json:"sprint_id,omitempty"`
	AssigneeID *string `json:"assignee_id,omitempty"`
	ParentID   *string `json:"parent_id,omitempty"`
	Limit      int     `json:"limit,omitempty"`
}

// SprintCreateArgs carries a new sprint
type SprintCreateArgs struct {
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	ProjectID      string    `json:"project_id"`
	Name           string    `json:"name"`
	StartDate      time.Time `json:"start_date"`
	EndDate        time.Time `json:"end_date"`
}

// SprintUpdateArgs is a sparse patch on a sprint. Status changes are
// checked against the forward-only state machine.
type SprintUpdateArgs struct {
	ID              string     `json:"id"`
	ExpectedVersion int64      `json:"expected_version"`
	Name            *string    `json:"name,omitempty"`
	StartDate       *time.Time `json:"start_date,omitempty"`
	EndDate         *time.Time `json:"end_date,omitempty"`
	Status          *string    `json:"status,omitempty"`
}

// SprintDeleteArgs removes a sprint; referencing work items keep
// existing but lose their sprint assignment.
type SprintDeleteArgs struct {
	ID              string `json:"id"`
	ExpectedVersion int64  `json:"expected_version"`
}

// SprintListArgs lists sprints in a project
type SprintListArgs struct {
	ProjectID string `json:"project_id"`
	Status    string `json:"status,omitempty"`
}

// CommentCreateArgs attaches a comment to a work item. The author is
// the connection's actor; the payload never names one.
type CommentCreateArgs struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	WorkItemID     string `json:"work_item_id"`
	Content        string `json:"content"`
}

// CommentUpdateArgs edits a comment (author only)
type CommentUpdateArgs struct {
	ID              string `json:"id"`
	ExpectedVersion int64  `json:"expected_version"`
	Content         string `json:"content"`
}

// CommentDeleteArgs soft-deletes a comment (author only)
type CommentDeleteArgs struct {
	ID              string `json:"id"`
	ExpectedVersion int64  `json:"expected_version"`
}

// CommentListArgs lists active comments on a work item
type CommentListArgs struct {
	WorkItemID string `json:"work_item_id"`
}

// ActivityListArgs pages through a project's audit trail, newest first
type ActivityListArgs struct {
	ProjectID string `json:"project_id"`
	Cursor    string `json:"cursor,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// PingResponse is the reply to a ping
type PingResponse struct {
	Message string `json:"message"`
	Version string `json:"version"`
}
