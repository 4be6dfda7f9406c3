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

func (d *Dispatcher) handleSprintCreate(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.SprintCreateArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.SprintCreate(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	if args.IdempotencyKey != "" {
		if cached, ok := d.idem.Get(req.Type, actor, args.IdempotencyKey); ok {
			cached.CorrelationID = req.CorrelationID
			return cached
		}
	}

	sprint := &types.Sprint{
		ID:        uuid.NewString(),
		ProjectID: args.ProjectID,
		Name:      args.Name,
		Status:    types.SprintPlanned,
		StartDate: args.StartDate,
		EndDate:   args.EndDate,
	}

	var created *types.Sprint
	var entry *types.ActivityEntry
	err := d.mutate(func() error {
		var err error
		created, entry, err = d.store.CreateSprint(ctx, sprint, actor)
		return err
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}

	resp := protocol.OK(req.CorrelationID, created)
	if args.IdempotencyKey != "" {
		d.idem.Put(req.Type, actor, args.IdempotencyKey, resp)
	}
	d.broadcaster.Publish(protocol.EventSprintCreated, created.ProjectID, created, entry)
	return resp
}

func (d *Dispatcher) handleSprintUpdate(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.SprintUpdateArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.SprintUpdate(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	patch := storage.SprintPatch{
		Name:      args.Name,
		StartDate: args.StartDate,
		EndDate:   args.EndDate,
	}
	if args.Status != nil {
		s := types.SprintStatus(*args.Status)
		patch.Status = &s
	}

	var updated *types.Sprint
	var entry *types.ActivityEntry
	err := d.mutate(func() error {
		var err error
		updated, entry, err = d.store.UpdateSprint(ctx, args.ID, patch, args.ExpectedVersion, actor)
		return err
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}

	d.broadcaster.Publish(protocol.EventSprintUpdated, updated.ProjectID, updated, entry)
	return protocol.OK(req.CorrelationID, updated)
}

func (d *Dispatcher) handleSprintDelete(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.SprintDeleteArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.SprintDelete(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	var deleted *types.Sprint
	var entry *types.ActivityEntry
	err := d.mutate(func() error {
		var err error
		deleted, entry, err = d.store.DeleteSprint(ctx, args.ID, args.ExpectedVersion, actor)
		return err
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}

	d.broadcaster.Publish(protocol.EventSprintDeleted, deleted.ProjectID, deleted, entry)
	return protocol.OK(req.CorrelationID, deleted)
}

func (d *Dispatcher) handleSprintList(ctx context.Context, req protocol.Request) protocol.Response {
	var args protocol.SprintListArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.SprintList(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	sprints, err := d.store.ListSprints(ctx, storage.SprintFilter{
		ProjectID: args.ProjectID,
		Status:    types.SprintStatus(args.Status),
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}
	return protocol.OK(req.CorrelationID, map[string]any{"sprints": sprints})
}
