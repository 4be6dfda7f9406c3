package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/taskwire/taskwire/internal/protocol"
	"github.com/taskwire/taskwire/internal/storage"
	"github.com/taskwire/taskwire/internal/storage/sqlite"
	"github.com/taskwire/taskwire/internal/types"
	"github.com/taskwire/taskwire/internal/validate"
)

// MinClientVersion is the oldest client protocol version the daemon
// accepts. Clients below this are told to upgrade before anything else
// runs.
const MinClientVersion = "v0.3.0"

// Dispatcher routes decoded requests to their handlers. It owns the
// cross-cutting steps every mutation shares: payload validation,
// idempotent replay, the single retry on lock contention, and the
// post-commit broadcast.
type Dispatcher struct {
	store       storage.Storage
	registry    *Registry
	broadcaster *Broadcaster
	idem        *IdempotencyCache
	logger      *slog.Logger
	version     string
}

func NewDispatcher(store storage.Storage, registry *Registry, broadcaster *Broadcaster, idem *IdempotencyCache, logger *slog.Logger, version string) *Dispatcher {
	return &Dispatcher{
		store:       store,
		registry:    registry,
		broadcaster: broadcaster,
		idem:        idem,
		logger:      logger,
		version:     version,
	}
}

// checkClientVersion rejects clients older than MinClientVersion.
// Clients that do not announce a version are accepted.
func checkClientVersion(clientVersion string) *types.Error {
	if clientVersion == "" {
		return nil
	}
	v := clientVersion
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return types.NewValidationError([]types.FieldViolation{
			{Field: "client_version", Reason: "is not a valid semantic version"},
		})
	}
	if semver.Compare(v, MinClientVersion) < 0 {
		return types.NewValidationError([]types.FieldViolation{
			{Field: "client_version", Reason: "is older than minimum supported " + MinClientVersion},
		})
	}
	return nil
}

// Dispatch routes one request and returns the response to send back.
// Every failure path produces a coded error; nothing panics across
// this boundary.
func (d *Dispatcher) Dispatch(ctx context.Context, conn *Conn, req protocol.Request) protocol.Response {
	if coded := checkClientVersion(req.ClientVersion); coded != nil {
		return protocol.Fail(req.CorrelationID, coded)
	}

	// The envelope may override the connection-level identity; local
	// clients are trusted to say who they act for.
	actor := req.Actor
	if actor == "" {
		actor = conn.Actor
	}

	switch req.Type {
	case protocol.MsgPing:
		return protocol.OK(req.CorrelationID, protocol.PingResponse{Message: "pong", Version: d.version})
	case protocol.MsgSubscribe:
		return d.handleSubscribe(ctx, conn, actor, req)
	case protocol.MsgUnsubscribe:
		return d.handleUnsubscribe(ctx, conn, actor, req)

	case protocol.MsgWorkItemCreate:
		return d.handleWorkItemCreate(ctx, conn, actor, req)
	case protocol.MsgWorkItemUpdate:
		return d.handleWorkItemUpdate(ctx, conn, actor, req)
	case protocol.MsgWorkItemDelete:
		return d.handleWorkItemDelete(ctx, conn, actor, req)
	case protocol.MsgWorkItemGet:
		return d.handleWorkItemGet(ctx, req)
	case protocol.MsgWorkItemList:
		return d.handleWorkItemList(ctx, req)

	case protocol.MsgSprintCreate:
		return d.handleSprintCreate(ctx, conn, actor, req)
	case protocol.MsgSprintUpdate:
		return d.handleSprintUpdate(ctx, conn, actor, req)
	case protocol.MsgSprintDelete:
		return d.handleSprintDelete(ctx, conn, actor, req)
	case protocol.MsgSprintList:
		return d.handleSprintList(ctx, req)

	case protocol.MsgCommentCreate:
		return d.handleCommentCreate(ctx, conn, actor, req)
	case protocol.MsgCommentUpdate:
		return d.handleCommentUpdate(ctx, conn, actor, req)
	case protocol.MsgCommentDelete:
		return d.handleCommentDelete(ctx, conn, actor, req)
	case protocol.MsgCommentList:
		return d.handleCommentList(ctx, req)

	case protocol.MsgActivityList:
		return d.handleActivityList(ctx, conn, actor, req)

	default:
		return protocol.Fail(req.CorrelationID, types.NewUnknownMessageType(req.Type))
	}
}

// fail converts any handler error into an error response, logging the
// ones that are not the client's fault.
func (d *Dispatcher) fail(correlationID, msgType string, err error) protocol.Response {
	coded := types.AsCoded(err)
	if coded == nil {
		d.logger.Error("handler failed", "type", msgType, "error", err)
		coded = types.NewInternal()
	}
	return protocol.Fail(correlationID, coded)
}

// mutate runs a storage mutation, retrying exactly once if the first
// attempt lost a lock race. Anything else propagates as-is.
func (d *Dispatcher) mutate(fn func() error) error {
	err := fn()
	if err != nil && sqlite.IsTransient(err) {
		d.logger.Debug("retrying mutation after transient storage error", "error", err)
		err = fn()
	}
	return err
}

func (d *Dispatcher) handleSubscribe(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.SubscribeArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.Subscribe(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}

	project, err := d.store.GetWorkItem(ctx, args.ProjectID)
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}
	if project.Type != types.TypeProject {
		return d.fail(req.CorrelationID, req.Type, types.NewNotFound(types.EntityWorkItem, args.ProjectID))
	}

	d.registry.Subscribe(conn.ID, args.ProjectID)
	return protocol.OK(req.CorrelationID, map[string]string{"project_id": args.ProjectID})
}

func (d *Dispatcher) handleUnsubscribe(_ context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.UnsubscribeArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.Unsubscribe(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}
	d.registry.Unsubscribe(conn.ID, args.ProjectID)
	return protocol.OK(req.CorrelationID, map[string]string{"project_id": args.ProjectID})
}

func (d *Dispatcher) handleActivityList(ctx context.Context, conn *Conn, actor string, req protocol.Request) protocol.Response {
	var args protocol.ActivityListArgs
	if err := json.Unmarshal(req.Payload, &args); err != nil {
		return protocol.Fail(req.CorrelationID, malformedPayload(err))
	}
	if vs := validate.ActivityList(&args); vs != nil {
		return protocol.Fail(req.CorrelationID, types.NewValidationError(vs))
	}
	// Reading the audit trail requires the same standing as receiving
	// the project's events
	if !d.registry.IsSubscribed(conn.ID, args.ProjectID) {
		return protocol.Fail(req.CorrelationID, types.NewAccessDenied())
	}

	page, err := d.store.ListActivity(ctx, args.ProjectID, args.Cursor, args.Limit)
	if err != nil {
		return d.fail(req.CorrelationID, req.Type, err)
	}
	return protocol.OK(req.CorrelationID, page)
}

func malformedPayload(err error) *types.Error {
	return types.NewValidationError([]types.FieldViolation{
		{Field: "payload", Reason: "is not valid JSON: " + err.Error()},
	})
}
