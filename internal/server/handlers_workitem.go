package server

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/taskwire/taskwire/internal/protocol"
	"github.com/taskwire/taskwire/internal/storage"
	"github.com/taskwire/taskwire/internal/types"
	"github.com/taskwire/taskwire/internal/validate"
)

func (d *Dispatcher) handleWorkItemCreate(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.WorkItemCreateArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.WorkItemCreate(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	if args.IdempotencyKey != "" {
		if cached, ok := d.idem.Get(req.Type, actor, args.IdempotencyKey); ok {
			cached.CorrelationID = req.CorrelationID
			return cached
		}
	}

	item := &types.WorkItem{
		ID:          uuid.NewString(),
		Type:        types.ItemType(args.Type),
		ParentID:    args.ParentID,
		ProjectID:   args.ProjectID,
		Position:    args.Position,
		Title:       args.Title,
		Description: args.Description,
		Status:      types.StatusBacklog,
		Priority:    types.PriorityMedium,
		AssigneeID:  args.AssigneeID,
		SprintID:    args.SprintID,
		StoryPoints: args.StoryPoints,
	}
	if args.Status != "" {
		item.Status = types.ItemStatus(args.Status)
	}
	if args.Priority != "" {
		item.Priority = types.Priority(args.Priority)
	}
	// A project item is the root of its own hierarchy
	if item.Type == types.TypeProject {
		item.ProjectID = item.ID
	}

	var created *types.WorkItem
	var entry *types.ActivityEntry
	err := d.mutate(func() error {
		var err error
		created, entry, err = d.store.CreateWorkItem(ctx, item, actor)
		return err
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}

	resp := protocol.OK(req.CorrelationID, created)
	if args.IdempotencyKey != "" {
		d.idem.Put(req.Type, actor, args.IdempotencyKey, resp)
	}
	d.broadcaster.Publish(protocol.EventWorkItemCreated, created.ProjectID, created, entry)
	return resp
}

func (d *Dispatcher) handleWorkItemUpdate(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.WorkItemUpdateArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.WorkItemUpdate(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	patch := storage.WorkItemPatch{
		Title:       args.Title,
		Description: args.Description,
		Position:    args.Position,
	}
	if args.Status != nil {
		s := types.ItemStatus(*args.Status)
		patch.Status = &s
	}
	if args.Priority != nil {
		p := types.Priority(*args.Priority)
		patch.Priority = &p
	}
	// Empty string on the wire clears the field
	if args.AssigneeID != nil {
		patch.AssigneeID = clearableString(*args.AssigneeID)
	}
	if args.SprintID != nil {
		patch.SprintID = clearableString(*args.SprintID)
	}
	if args.ClearStoryPoints {
		patch.StoryPoints = new(*int)
	} else if args.StoryPoints != nil {
		v := args.StoryPoints
		patch.StoryPoints = &v
	}

	var updated *types.WorkItem
	var entry *types.ActivityEntry
	err := d.mutate(func() error {
		var err error
		updated, entry, err = d.store.UpdateWorkItem(ctx, args.ID, patch, args.ExpectedVersion, actor)
		return err
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}

	d.broadcaster.Publish(protocol.EventWorkItemUpdated, updated.ProjectID, updated, entry)
	return protocol.OK(req.CorrelationID, updated)
}

func (d *Dispatcher) handleWorkItemDelete(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.WorkItemDeleteArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.WorkItemDelete(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	var deleted *types.WorkItem
	var entry *types.ActivityEntry
	err := d.mutate(func() error {
		var err error
		deleted, entry, err = d.store.DeleteWorkItem(ctx, args.ID, args.ExpectedVersion, actor)
		return err
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}

	d.broadcaster.Publish(protocol.EventWorkItemDeleted, deleted.ProjectID, deleted, entry)
	return protocol.OK(req.CorrelationID, deleted)
}

func (d *Dispatcher) handleWorkItemGet(ctx context.Context, req protocol.Request) protocol.Response {
	var args protocol.WorkItemGetArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.WorkItemGet(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	item, err := d.store.GetWorkItem(ctx, args.ID)
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}
	return protocol.OK(req.CorrelationID, item)
}

func (d *Dispatcher) handleWorkItemList(ctx context.Context, req protocol.Request) protocol.Response {
	var args protocol.WorkItemListArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.WorkItemList(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	items, err := d.store.ListWorkItems(ctx, storage.WorkItemFilter{
		ProjectID:  args.ProjectID,
		Type:       types.ItemType(args.Type),
		Status:     types.ItemStatus(args.Status),
		SprintID:   args.SprintID,
		AssigneeID: args.AssigneeID,
		ParentID:   args.ParentID,
		Limit:      args.Limit,
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}
	return protocol.OK(req.CorrelationID, map[string]any{"work_items": items})
}

// clearableString maps the wire convention (empty string clears) to the
// patch convention (inner nil writes NULL).
func clearableString(v string) **string {
	if v == "" {
		var p *string
		return &p
	}
	p := &v
	return &p
}
