// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	sqlite3 "github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"github.com/tetratelabs/wazero"

	"github.com/taskwire/taskwire/internal/types"
)

// Store implements storage.Storage on SQLite
type Store struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool
}

// setupWASMCache configures WASM compilation caching so the embedded
// SQLite engine is not re-JITed on every process start.
func setupWASMCache() {
	var cache wazero.CompilationCache
	if userCache, err := os.UserCacheDir(); err == nil {
		dir := filepath.Join(userCache, "taskwire", "wasm")
		if c, err := wazero.NewCompilationCacheWithDir(dir); err == nil {
			cache = c
		}
	}
	if cache == nil {
		cache = wazero.NewCompilationCache()
	}
	sqlite3.RuntimeConfig = wazero.NewRuntimeConfig().WithCompilationCache(cache)
}

func init() {
	setupWASMCache()
}

// New opens (creating if needed) a SQLite store at path
func New(path string) (*Store, error) {
	// :memory: databases need shared cache so the pool's connections
	// see the same data; WAL does not work there, so journal stays DELETE.
	var connStr string
	switch {
	case path == ":memory:":
		connStr = "file:memdb?mode=memory&cache=shared&_pragma=journal_mode(DELETE)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	case strings.HasPrefix(path, "file:"):
		connStr = path
		if !strings.Contains(path, "_pragma=foreign_keys") {
			connStr += "&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
		}
	default:
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		connStr = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// In-memory databases are per-connection by default; force a single
	// pooled connection so writes are visible everywhere.
	isInMemory := path == ":memory:" ||
		(strings.HasPrefix(path, "file:") && strings.Contains(path, "mode=memory"))
	if isInMemory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	absPath := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}

	return &Store{db: db, dbPath: absPath}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// Path returns the path the store was opened with
func (s *Store) Path() string {
	return s.dbPath
}

// IsTransient reports whether err is a retriable storage failure
// (lock contention rather than a logic error).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// withImmediateTx runs fn inside a BEGIN IMMEDIATE transaction on a
// dedicated connection. IMMEDIATE takes the write lock up front so the
// version read and the conditional write below it are one atomic unit.
// database/sql cannot express transaction modes, hence the raw Exec.
func (s *Store) withImmediateTx(ctx context.Context, fn func(conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return fmt.Errorf("failed to begin immediate transaction: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			// Background context so rollback still runs if ctx is canceled
			_, _ = conn.ExecContext(context.Background(), "ROLLBACK")
		}
	}()

	if err := fn(conn); err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	committed = true
	return nil
}

// appendActivity inserts one audit row inside the caller's transaction
// and returns it with its assigned id and timestamp.
func appendActivity(ctx context.Context, conn *sql.Conn, projectID string, entityType types.EntityType, entityID string, action types.Action, changes map[string]types.FieldChange, actor string) (*types.ActivityEntry, error) {
	var changesJSON any
	if len(changes) > 0 {
		data, err := json.Marshal(changes)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal changes: %w", err)
		}
		changesJSON = string(data)
	}

	now := time.Now().UTC()
	result, err := conn.ExecContext(ctx, `
		INSERT INTO activity_log (project_id, entity_type, entity_id, action, changes, actor_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, projectID, entityType, entityID, action, changesJSON, actor, now)
	if err != nil {
		return nil, fmt.Errorf("failed to append activity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get activity id: %w", err)
	}

	return &types.ActivityEntry{
		ID:         id,
		ProjectID:  projectID,
		EntityType: entityType,
		EntityID:   entityID,
		Action:     action,
		Changes:    changes,
		ActorID:    actor,
		CreatedAt:  now,
	}, nil
}
