// Package validate holds the stateless structural checks applied to
// request payloads before dispatch. Checks needing storage access
// (existence, authorization) belong to the handlers.
package validate

import (
	"fmt"

	"github.com/taskwire/taskwire/internal/protocol"
	"github.com/taskwire/taskwire/internal/types"
)

func required(vs []types.FieldViolation, field, value string) []types.FieldViolation {
	if value == "" {
		vs = append(vs, types.FieldViolation{Field: field, Reason: "is required"})
	}
	return vs
}

func maxLen(vs []types.FieldViolation, field, value string, limit int) []types.FieldViolation {
	if len(value) > limit {
		vs = append(vs, types.FieldViolation{Field: field, Reason: fmt.Sprintf("exceeds %d characters", limit)})
	}
	return vs
}

func enum(vs []types.FieldViolation, field, value string, ok bool) []types.FieldViolation {
	if value != "" && !ok {
		vs = append(vs, types.FieldViolation{Field: field, Reason: fmt.Sprintf("unknown value %q", value)})
	}
	return vs
}

// WorkItemCreate checks a work item create payload
func WorkItemCreate(args *protocol.WorkItemCreateArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "title", args.Title)
	vs = maxLen(vs, "title", args.Title, types.MaxTitleLength)
	vs = required(vs, "type", args.Type)
	vs = enum(vs, "type", args.Type, types.ItemType(args.Type).IsValid())
	vs = enum(vs, "status", args.Status, types.ItemStatus(args.Status).IsValid())
	vs = enum(vs, "priority", args.Priority, types.Priority(args.Priority).IsValid())
	if types.ItemType(args.Type) != types.TypeProject {
		vs = required(vs, "project_id", args.ProjectID)
	}
	if types.ItemType(args.Type) == types.TypeProject && args.ParentID != nil {
		vs = append(vs, types.FieldViolation{Field: "parent_id", Reason: "project items cannot have a parent"})
	}
	if args.StoryPoints != nil && *args.StoryPoints < 0 {
		vs = append(vs, types.FieldViolation{Field: "story_points", Reason: "must be non-negative"})
	}
	return vs
}

// WorkItemUpdate checks a work item patch
func WorkItemUpdate(args *protocol.WorkItemUpdateArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "id", args.ID)
	vs = expectedVersion(vs, args.ExpectedVersion)
	if args.Title != nil {
		vs = required(vs, "title", *args.Title)
		vs = maxLen(vs, "title", *args.Title, types.MaxTitleLength)
	}
	if args.Status != nil {
		vs = enum(vs, "status", *args.Status, types.ItemStatus(*args.Status).IsValid())
	}
	if args.Priority != nil {
		vs = enum(vs, "priority", *args.Priority, types.Priority(*args.Priority).IsValid())
	}
	if args.StoryPoints != nil && *args.StoryPoints < 0 {
		vs = append(vs, types.FieldViolation{Field: "story_points", Reason: "must be non-negative"})
	}
	if args.ClearStoryPoints && args.StoryPoints != nil {
		vs = append(vs, types.FieldViolation{Field: "story_points", Reason: "cannot be set and cleared in the same request"})
	}
	return vs
}

// WorkItemDelete checks a work item delete payload
func WorkItemDelete(args *protocol.WorkItemDeleteArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "id", args.ID)
	vs = expectedVersion(vs, args.ExpectedVersion)
	return vs
}

// WorkItemGet checks a work item get payload
func WorkItemGet(args *protocol.WorkItemGetArgs) []types.FieldViolation {
	return required(nil, "id", args.ID)
}

// WorkItemList checks a work item list payload
func WorkItemList(args *protocol.WorkItemListArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "project_id", args.ProjectID)
	vs = enum(vs, "type", args.Type, types.ItemType(args.Type).IsValid())
	vs = enum(vs, "status", args.Status, types.ItemStatus(args.Status).IsValid())
	if args.Limit < 0 {
		vs = append(vs, types.FieldViolation{Field: "limit", Reason: "must be non-negative"})
	}
	return vs
}

// SprintCreate checks a sprint create payload. The end-after-start rule
// is the one cheap cross-field check done here.
func SprintCreate(args *protocol.SprintCreateArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "project_id", args.ProjectID)
	vs = required(vs, "name", args.Name)
	vs = maxLen(vs, "name", args.Name, types.MaxNameLength)
	if args.StartDate.IsZero() {
		vs = append(vs, types.FieldViolation{Field: "start_date", Reason: "is required"})
	}
	if args.EndDate.IsZero() {
		vs = append(vs, types.FieldViolation{Field: "end_date", Reason: "is required"})
	} else if !args.StartDate.IsZero() && !args.EndDate.After(args.StartDate) {
		vs = append(vs, types.FieldViolation{Field: "end_date", Reason: "must be after start_date"})
	}
	return vs
}

// SprintUpdate checks a sprint patch
func SprintUpdate(args *protocol.SprintUpdateArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "id", args.ID)
	vs = expectedVersion(vs, args.ExpectedVersion)
	if args.Name != nil {
		vs = required(vs, "name", *args.Name)
		vs = maxLen(vs, "name", *args.Name, types.MaxNameLength)
	}
	if args.Status != nil {
		vs = enum(vs, "status", *args.Status, types.SprintStatus(*args.Status).IsValid())
	}
	if args.StartDate != nil && args.EndDate != nil && !args.EndDate.After(*args.StartDate) {
		vs = append(vs, types.FieldViolation{Field: "end_date", Reason: "must be after start_date"})
	}
	return vs
}

// SprintDelete checks a sprint delete payload
func SprintDelete(args *protocol.SprintDeleteArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "id", args.ID)
	vs = expectedVersion(vs, args.ExpectedVersion)
	return vs
}

// SprintList checks a sprint list payload
func SprintList(args *protocol.SprintListArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "project_id", args.ProjectID)
	vs = enum(vs, "status", args.Status, types.SprintStatus(args.Status).IsValid())
	return vs
}

// CommentCreate checks a comment create payload
func CommentCreate(args *protocol.CommentCreateArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "work_item_id", args.WorkItemID)
	vs = required(vs, "content", args.Content)
	vs = maxLen(vs, "content", args.Content, types.MaxContentLength)
	return vs
}

// CommentUpdate checks a comment edit
func CommentUpdate(args *protocol.CommentUpdateArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "id", args.ID)
	vs = expectedVersion(vs, args.ExpectedVersion)
	vs = required(vs, "content", args.Content)
	vs = maxLen(vs, "content", args.Content, types.MaxContentLength)
	return vs
}

// CommentDelete checks a comment delete payload
func CommentDelete(args *protocol.CommentDeleteArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "id", args.ID)
	vs = expectedVersion(vs, args.ExpectedVersion)
	return vs
}

// CommentList checks a comment list payload
func CommentList(args *protocol.CommentListArgs) []types.FieldViolation {
	return required(nil, "work_item_id", args.WorkItemID)
}

// ActivityList checks an activity page request
func ActivityList(args *protocol.ActivityListArgs) []types.FieldViolation {
	var vs []types.FieldViolation
	vs = required(vs, "project_id", args.ProjectID)
	if args.Limit < 0 {
		vs = append(vs, types.FieldViolation{Field: "limit", Reason: "must be non-negative"})
	}
	return vs
}

// Subscribe checks a subscribe payload
func Subscribe(args *protocol.SubscribeArgs) []types.FieldViolation {
	return required(nil, "project_id", args.ProjectID)
}

// Unsubscribe checks an unsubscribe payload
func Unsubscribe(args *protocol.UnsubscribeArgs) []types.FieldViolation {
	return required(nil, "project_id", args.ProjectID)
}

func expectedVersion(vs []types.FieldViolation, v int64) []types.FieldViolation {
	if v < 1 {
		vs = append(vs, types.FieldViolation{Field: "expected_version", Reason: "must be at least 1"})
	}
	return vs
}
