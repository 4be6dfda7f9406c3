package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/taskwire/taskwire/internal/types"
)

const (
	defaultActivityLimit = 50
	maxActivityLimit     = 200
)

// ListActivity pages a project's audit trail newest first. The cursor
// is the id of the last entry of the previous page; the next page is
// everything strictly older.
func (s *Store) ListActivity(ctx context.Context, projectID, cursor string, limit int) (*types.ActivityPage, error) {
	if limit <= 0 {
		limit = defaultActivityLimit
	}
	if limit > maxActivityLimit {
		limit = maxActivityLimit
	}

	query := `SELECT id, project_id, entity_type, entity_id, action, changes, actor_id, created_at
		FROM activity_log WHERE project_id = ?`
	args := []any{projectID}
	if cursor != "" {
		before, err := strconv.ParseInt(cursor, 10, 64)
		if err != nil {
			return nil, types.NewValidationError([]types.FieldViolation{
				{Field: "cursor", Reason: "is not a valid cursor"},
			})
		}
		query += " AND id < ?"
		args = append(args, before)
	}
	// Fetch one extra row to learn whether another page exists
	query += " ORDER BY id DESC LIMIT ?"
	args = append(args, limit+1)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list activity: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*types.ActivityEntry
	for rows.Next() {
		var e types.ActivityEntry
		var changes sql.NullString
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.EntityType, &e.EntityID, &e.Action, &changes, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan activity entry: %w", err)
		}
		if changes.Valid {
			if err := json.Unmarshal([]byte(changes.String), &e.Changes); err != nil {
				return nil, fmt.Errorf("failed to decode activity changes: %w", err)
			}
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	page := &types.ActivityPage{Entries: entries}
	if len(entries) > limit {
		page.Entries = entries[:limit]
		page.HasMore = true
		page.NextCursor = strconv.FormatInt(page.Entries[limit-1].ID, 10)
	}
	return page, nil
}
