package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os/user"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/taskwire/taskwire/internal/protocol"
)

// writeTimeout bounds a single frame write. The outbound buffer plus
// this timeout together decide how long a stalled client survives.
const writeTimeout = 10 * time.Second

// Server accepts client connections on a listener and runs one reader
// and one writer goroutine per connection. All request handling goes
// through the dispatcher.
type Server struct {
	dispatcher *Dispatcher
	registry   *Registry
	logger     *slog.Logger

	mu       sync.Mutex
	listener net.Listener
	closed   bool
	wg       sync.WaitGroup
}

func NewServer(dispatcher *Dispatcher, registry *Registry, logger *slog.Logger) *Server {
	return &Server{
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger,
	}
}

// Serve accepts connections until the listener is closed
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("server already shut down")
	}
	s.listener = l
	s.mu.Unlock()

	for {
		nc, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return fmt.Errorf("accept failed: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleConn(nc)
		}()
	}
}

// Shutdown stops accepting, closes the listener, and waits for
// in-flight connections to finish or the context to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	l := s.listener
	s.mu.Unlock()
	if l != nil {
		_ = l.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// peerActor identifies the connecting user from socket credentials.
// Only meaningful on unix sockets; anything else gets an empty actor
// and must name one on each request.
func peerActor(nc net.Conn) string {
	uc, ok := nc.(*net.UnixConn)
	if !ok {
		return ""
	}
	raw, err := uc.SyscallConn()
	if err != nil {
		return ""
	}
	var cred *unix.Ucred
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, err = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil || err != nil || cred == nil {
		return ""
	}
	if u, err := user.LookupId(strconv.FormatUint(uint64(cred.Uid), 10)); err == nil {
		return u.Username
	}
	return "uid:" + strconv.FormatUint(uint64(cred.Uid), 10)
}

func (s *Server) handleConn(nc net.Conn) {
	conn := newConn(uuid.NewString(), peerActor(nc))
	s.registry.Register(conn)
	s.logger.Debug("client connected", "conn_id", conn.ID, "actor", conn.Actor)

	defer func() {
		conn.Close()
		s.registry.Unregister(conn.ID)
		_ = nc.Close()
		s.logger.Debug("client disconnected", "conn_id", conn.ID)
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Writer: sole goroutine touching the socket's write side
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case frame := <-conn.send:
				_ = nc.SetWriteDeadline(time.Now().Add(writeTimeout))
				if _, err := nc.Write(frame); err != nil {
					conn.Close()
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	// Reader: decode frames, dispatch, enqueue the response
	decoder := protocol.NewDecoder(nc)
	for {
		select {
		case <-conn.Done():
			return
		default:
		}

		var req protocol.Request
		if err := decoder.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug("read failed", "conn_id", conn.ID, "error", err)
			}
			return
		}

		resp := s.dispatcher.Dispatch(ctx, conn, req)
		frame, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("failed to marshal response", "conn_id", conn.ID, "error", err)
			return
		}
		frame = append(frame, '\n')
		if !conn.TrySend(frame) {
			// Response queue full: same policy as a slow subscriber
			s.logger.Warn("disconnecting unresponsive client", "conn_id", conn.ID)
			return
		}
	}
}
