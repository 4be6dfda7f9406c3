// Package server implements the sync daemon: connection handling,
// message dispatch, and event broadcast.
package server

import (
	"sync"
)

// sendBufferSize bounds each connection's outbound queue. A client
// that cannot drain this many frames is disconnected rather than
// allowed to stall delivery to everyone else.
const sendBufferSize = 256

// Conn is one client connection's server-side state. Frames are
// written by a single writer goroutine draining the send channel.
type Conn struct {
	ID    string
	Actor string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewConn builds connection state not yet tied to a transport. The
// socket server and the HTTP event stream both drive these.
func NewConn(id, actor string) *Conn {
	return newConn(id, actor)
}

func newConn(id, actor string) *Conn {
	return &Conn{
		ID:    id,
		Actor: actor,
		send:  make(chan []byte, sendBufferSize),
		done:  make(chan struct{}),
	}
}

// TrySend enqueues a frame without blocking. It returns false if the
// buffer is full or the connection is closed; the caller decides what
// a full buffer means.
func (c *Conn) TrySend(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// Close marks the connection dead and wakes its writer. Safe to call
// from any goroutine, any number of times.
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// Done is closed when the connection is shut down
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Send exposes the outbound frame queue to the transport draining it
func (c *Conn) Send() <-chan []byte {
	return c.send
}

// registryShardCount spreads lock contention across independent map
// shards so unrelated connections and projects never serialize on one
// global mutex.
const registryShardCount = 16

// connShard holds a slice of the connection table keyed by conn id,
// along with each connection's subscribed project set.
type connShard struct {
	mu    sync.RWMutex
	conns map[string]*Conn
	subs  map[string]map[string]bool // conn id -> project ids
}

// projectShard holds a slice of the project -> subscriber index.
type projectShard struct {
	mu  sync.RWMutex
	set map[string]map[string]*Conn // project id -> conn id -> conn
}

// Registry tracks live connections and which projects each one
// subscribes to. State is sharded by key: operations on different
// connections or different projects proceed in parallel. All methods
// are safe for concurrent use.
type Registry struct {
	conns    [registryShardCount]*connShard
	projects [registryShardCount]*projectShard
}

func NewRegistry() *Registry {
	r := &Registry{}
	for i := range r.conns {
		r.conns[i] = &connShard{
			conns: make(map[string]*Conn),
			subs:  make(map[string]map[string]bool),
		}
	}
	for i := range r.projects {
		r.projects[i] = &projectShard{set: make(map[string]map[string]*Conn)}
	}
	return r
}

func registryShard(key string) uint32 {
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h % registryShardCount
}

func (r *Registry) shardForConn(connID string) *connShard {
	return r.conns[registryShard(connID)]
}

func (r *Registry) shardForProject(projectID string) *projectShard {
	return r.projects[registryShard(projectID)]
}

// Register adds a connection to the registry
func (r *Registry) Register(c *Conn) {
	s := r.shardForConn(c.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conns[c.ID] = c
	s.subs[c.ID] = make(map[string]bool)
}

// Unregister removes a connection and all its subscriptions
func (r *Registry) Unregister(connID string) {
	s := r.shardForConn(connID)
	s.mu.Lock()
	projects := make([]string, 0, len(s.subs[connID]))
	for projectID := range s.subs[connID] {
		projects = append(projects, projectID)
	}
	delete(s.subs, connID)
	delete(s.conns, connID)
	s.mu.Unlock()

	for _, projectID := range projects {
		p := r.shardForProject(projectID)
		p.mu.Lock()
		delete(p.set[projectID], connID)
		if len(p.set[projectID]) == 0 {
			delete(p.set, projectID)
		}
		p.mu.Unlock()
	}
}

// Subscribe adds the connection to a project's broadcast set
func (r *Registry) Subscribe(connID, projectID string) {
	s := r.shardForConn(connID)
	s.mu.Lock()
	c, ok := s.conns[connID]
	if ok {
		s.subs[connID][projectID] = true
	}
	s.mu.Unlock()
	if !ok {
		return
	}

	p := r.shardForProject(projectID)
	p.mu.Lock()
	if p.set[projectID] == nil {
		p.set[projectID] = make(map[string]*Conn)
	}
	p.set[projectID][connID] = c
	p.mu.Unlock()
}

// Unsubscribe removes the connection from a project's broadcast set
func (r *Registry) Unsubscribe(connID, projectID string) {
	s := r.shardForConn(connID)
	s.mu.Lock()
	delete(s.subs[connID], projectID)
	s.mu.Unlock()

	p := r.shardForProject(projectID)
	p.mu.Lock()
	delete(p.set[projectID], connID)
	if len(p.set[projectID]) == 0 {
		delete(p.set, projectID)
	}
	p.mu.Unlock()
}

// Lookup returns a registered connection by id, or nil
func (r *Registry) Lookup(connID string) *Conn {
	s := r.shardForConn(connID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[connID]
}

// IsSubscribed reports whether the connection receives a project's events
func (r *Registry) IsSubscribed(connID, projectID string) bool {
	s := r.shardForConn(connID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subs[connID][projectID]
}

// Subscribers returns a snapshot of the connections subscribed to a
// project. The slice is safe to iterate without holding any lock.
func (r *Registry) Subscribers(projectID string) []*Conn {
	p := r.shardForProject(projectID)
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.set[projectID]
	conns := make([]*Conn, 0, len(set))
	for _, c := range set {
		conns = append(conns, c)
	}
	return conns
}

// Len returns the number of live connections
func (r *Registry) Len() int {
	n := 0
	for _, s := range r.conns {
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}
