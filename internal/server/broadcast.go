package server

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/taskwire/taskwire/internal/protocol"
	"github.com/taskwire/taskwire/internal/types"
)

// projectStream serializes event publication for one project. The
// mutex is held only while stamping the sequence number and enqueueing
// frames, never while storage work runs, so writers to different
// projects do not contend.
type projectStream struct {
	mu  sync.Mutex
	seq uint64
}

// Broadcaster fans committed mutations out to project subscribers.
// Delivery per project is totally ordered by Seq; a subscriber that
// cannot keep up is disconnected so it can never stall the rest.
type Broadcaster struct {
	registry *Registry
	logger   *slog.Logger

	mu      sync.Mutex
	streams map[string]*projectStream
}

func NewBroadcaster(registry *Registry, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		logger:   logger,
		streams:  make(map[string]*projectStream),
	}
}

func (b *Broadcaster) stream(projectID string) *projectStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	ps, ok := b.streams[projectID]
	if !ok {
		ps = &projectStream{}
		b.streams[projectID] = ps
	}
	return ps
}

// Publish stamps the event with the project's next sequence number and
// enqueues it to every subscriber. It never blocks on a slow client.
func (b *Broadcaster) Publish(eventType, projectID string, snapshot any, entry *types.ActivityEntry) {
	snapshotJSON, err := json.Marshal(snapshot)
	if err != nil {
		b.logger.Error("failed to marshal event snapshot",
			"event_type", eventType, "project_id", projectID, "error", err)
		return
	}

	ps := b.stream(projectID)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	ps.seq++
	event := protocol.Event{
		EventType:      eventType,
		ProjectID:      projectID,
		Seq:            ps.seq,
		EntitySnapshot: snapshotJSON,
		ActivityEntry:  entry,
	}
	frame, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("failed to marshal event", "event_type", eventType, "error", err)
		return
	}
	frame = append(frame, '\n')

	for _, conn := range b.registry.Subscribers(projectID) {
		if !conn.TrySend(frame) {
			// Buffer full or closed: drop the client, not the event
			b.logger.Warn("disconnecting slow subscriber",
				"conn_id", conn.ID, "actor", conn.Actor, "project_id", projectID, "seq", ps.seq)
			conn.Close()
			b.registry.Unregister(conn.ID)
		}
	}
}
