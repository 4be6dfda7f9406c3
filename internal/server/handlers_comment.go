package server

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/taskwire/taskwire/internal/protocol"
	"github.com/taskwire/taskwire/internal/types"
	"github.com/taskwire/taskwire/internal/validate"
)

func (d *Dispatcher) handleCommentCreate(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.CommentCreateArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.CommentCreate(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	if args.IdempotencyKey != "" {
		if cached, ok := d.idem.Get(req.Type, actor, args.IdempotencyKey); ok {
			cached.CorrelationID = req.CorrelationID
			return cached
		}
	}

	comment := &types.Comment{
		ID:         uuid.NewString(),
		WorkItemID: args.WorkItemID,
		Content:    args.Content,
	}

	var created *types.Comment
	var entry *types.ActivityEntry
	err := d.mutate(func() error {
		var err error
		created, entry, err = d.store.CreateComment(ctx, comment, actor)
		return err
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}

	resp := protocol.OK(req.CorrelationID, created)
	if args.IdempotencyKey != "" {
		d.idem.Put(req.Type, actor, args.IdempotencyKey, resp)
	}
	d.broadcaster.Publish(protocol.EventCommentCreated, entry.ProjectID, created, entry)
	return resp
}

func (d *Dispatcher) handleCommentUpdate(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.CommentUpdateArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.CommentUpdate(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	var updated *types.Comment
	var entry *types.ActivityEntry
	err := d.mutate(func() error {
		var err error
		updated, entry, err = d.store.UpdateComment(ctx, args.ID, args.Content, args.ExpectedVersion, actor)
		return err
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}

	d.broadcaster.Publish(protocol.EventCommentUpdated, entry.ProjectID, updated, entry)
	return protocol.OK(req.CorrelationID, updated)
}

func (d *Dispatcher) handleCommentDelete(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.CommentDeleteArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.CommentDelete(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	var deleted *types.Comment
	var entry *types.ActivityEntry
	err := d.mutate(func() error {
		var err error
		deleted, entry, err = d.store.DeleteComment(ctx, args.ID, args.ExpectedVersion, actor)
		return err
	})
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}

	d.broadcaster.Publish(protocol.EventCommentDeleted, entry.ProjectID, deleted, entry)
	return protocol.OK(req.CorrelationID, deleted)
}

func (d *Dispatcher) handleCommentList(ctx context.Context, req protocol.Request) protocol.Response {
	var args protocol.CommentListArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.CommentList(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	comments, err := d.store.ListComments(ctx, args.WorkItemID)
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}
	return protocol.OK(req.CorrelationID, map[string]any{"comments": comments})
}
