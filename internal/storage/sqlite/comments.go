package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskwire/taskwire/internal/types"
)

const commentColumns = `id, work_item_id, project_id, author_id, content, version,
	created_at, updated_at, deleted_at`

func scanComment(row rowScanner) (*types.Comment, string, error) {
	var c types.Comment
	var projectID string
	var deletedAt sql.NullTime
	err := row.Scan(
		&c.ID, &c.WorkItemID, &projectID, &c.AuthorID, &c.Content, &c.Version,
		&c.CreatedAt, &c.UpdatedAt, &deletedAt,
	)
	if err != nil {
		return nil, "", err
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		c.DeletedAt = &t
	}
	return &c, projectID, nil
}

// getCommentTx loads a comment for mutation. A missing or deleted
// comment reports access denied, not not-found: callers must not be
// able to probe for comment existence.
func getCommentTx(ctx context.Context, conn *sql.Conn, id string) (*types.Comment, string, error) {
	row := conn.QueryRowContext(ctx,
		"SELECT "+commentColumns+" FROM comments WHERE id = ?", id)
	c, projectID, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, "", types.NewAccessDenied()
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to get comment: %w", err)
	}
	if c.DeletedAt != nil {
		return nil, "", types.NewAccessDenied()
	}
	return c, projectID, nil
}

// CreateComment attaches a comment to a live work item. The author is
// always the acting user.
func (s *Store) CreateComment(ctx context.Context, comment *types.Comment, actor string) (*types.Comment, *types.ActivityEntry, error) {
	if comment.Content == "" || len(comment.Content) > types.MaxContentLength {
		return nil, nil, types.NewValidationError([]types.FieldViolation{
			{Field: "content", Reason: fmt.Sprintf("must be 1 to %d characters", types.MaxContentLength)},
		})
	}

	now := time.Now().UTC()
	created := *comment
	created.AuthorID = actor
	created.Version = 1
	created.CreatedAt = now
	created.UpdatedAt = now
	created.DeletedAt = nil

	var entry *types.ActivityEntry
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		item, err := getWorkItemTx(ctx, conn, created.WorkItemID)
		if err != nil {
			return err
		}
		if item.DeletedAt != nil {
			return types.NewNotFound(types.EntityWorkItem, created.WorkItemID)
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO comments (id, work_item_id, project_id, author_id, content, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, created.ID, created.WorkItemID, item.ProjectID, created.AuthorID, created.Content, created.Version, now, now)
		if err != nil {
			return fmt.Errorf("failed to insert comment: %w", err)
		}

		entry, err = appendActivity(ctx, conn, item.ProjectID, types.EntityComment, created.ID, types.ActionCreated, nil, actor)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &created, entry, nil
}

// UpdateComment replaces a comment's content. Only the author may edit;
// anyone else gets the same access denied a missing comment gets.
func (s *Store) UpdateComment(ctx context.Context, id, content string, expectedVersion int64, actor string) (*types.Comment, *types.ActivityEntry, error) {
	if content == "" || len(content) > types.MaxContentLength {
		return nil, nil, types.NewValidationError([]types.FieldViolation{
			{Field: "content", Reason: fmt.Sprintf("must be 1 to %d characters", types.MaxContentLength)},
		})
	}

	var updated *types.Comment
	var entry *types.ActivityEntry
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		current, projectID, err := getCommentTx(ctx, conn, id)
		if err != nil {
			return err
		}
		if current.AuthorID != actor {
			return types.NewAccessDenied()
		}
		if current.Version != expectedVersion {
			return types.NewVersionConflict(current.Version, current)
		}

		now := time.Now().UTC()
		next := *current
		changes := map[string]types.FieldChange{}
		if content != next.Content {
			changes["content"] = types.FieldChange{Old: next.Content, New: content}
			next.Content = content
		}
		next.Version = current.Version + 1
		next.UpdatedAt = now

		_, err = conn.ExecContext(ctx, `
			UPDATE comments SET content = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, next.Content, next.Version, now, id, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update comment: %w", err)
		}

		entry, err = appendActivity(ctx, conn, projectID, types.EntityComment, id, types.ActionUpdated, changes, actor)
		if err != nil {
			return err
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, entry, nil
}

// DeleteComment soft-deletes a comment (author only)
func (s *Store) DeleteComment(ctx context.Context, id string, expectedVersion int64, actor string) (*types.Comment, *types.ActivityEntry, error) {
	var deleted *types.Comment
	var entry *types.ActivityEntry
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		current, projectID, err := getCommentTx(ctx, conn, id)
		if err != nil {
			return err
		}
		if current.AuthorID != actor {
			return types.NewAccessDenied()
		}
		if current.Version != expectedVersion {
			return types.NewVersionConflict(current.Version, current)
		}

		now := time.Now().UTC()
		_, err = conn.ExecContext(ctx, `
			UPDATE comments SET deleted_at = ?, version = ?, updated_at = ?
			WHERE id = ? AND version = ?
		`, now, current.Version+1, now, id, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to delete comment: %w", err)
		}

		entry, err = appendActivity(ctx, conn, projectID, types.EntityComment, id, types.ActionDeleted, nil, actor)
		if err != nil {
			return err
		}

		next := *current
		next.Version = current.Version + 1
		next.UpdatedAt = now
		next.DeletedAt = &now
		deleted = &next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return deleted, entry, nil
}

// ListComments returns live comments on a work item, oldest first
func (s *Store) ListComments(ctx context.Context, workItemID string) ([]*types.Comment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+commentColumns+" FROM comments WHERE work_item_id = ? AND deleted_at IS NULL ORDER BY created_at, id",
		workItemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list comments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var comments []*types.Comment
	for rows.Next() {
		c, _, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
