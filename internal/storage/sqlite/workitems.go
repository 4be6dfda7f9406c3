package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/taskwire/taskwire/internal/storage"
	"github.com/taskwire/taskwire/internal/types"
)

const workItemColumns = `id, item_type, parent_id, project_id, position, title, description,
	status, priority, assignee_id, sprint_id, story_points, version,
	created_at, created_by, updated_at, updated_by, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkItem(row rowScanner) (*types.WorkItem, error) {
	var item types.WorkItem
	var parentID, assigneeID, sprintID sql.NullString
	var storyPoints sql.NullInt64
	var deletedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.Type, &parentID, &item.ProjectID, &item.Position,
		&item.Title, &item.Description, &item.Status, &item.Priority,
		&assigneeID, &sprintID, &storyPoints, &item.Version,
		&item.CreatedAt, &item.CreatedBy, &item.UpdatedAt, &item.UpdatedBy,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}

	if parentID.Valid {
		item.ParentID = &parentID.String
	}
	if assigneeID.Valid {
		item.AssigneeID = &assigneeID.String
	}
	if sprintID.Valid {
		item.SprintID = &sprintID.String
	}
	if storyPoints.Valid {
		v := int(storyPoints.Int64)
		item.StoryPoints = &v
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		item.DeletedAt = &t
	}
	return &item, nil
}

func getWorkItemTx(ctx context.Context, conn *sql.Conn, id string) (*types.WorkItem, error) {
	row := conn.QueryRowContext(ctx,
		"SELECT "+workItemColumns+" FROM work_items WHERE id = ?", id)
	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFound(types.EntityWorkItem, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return item, nil
}

// checkSprintAssignable verifies the sprint exists and belongs to the
// item's project before an assignment is accepted.
func checkSprintAssignable(ctx context.Context, conn *sql.Conn, sprintID, projectID string) error {
	var sprintProject string
	err := conn.QueryRowContext(ctx,
		"SELECT project_id FROM sprints WHERE id = ?", sprintID).Scan(&sprintProject)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewNotFound(types.EntitySprint, sprintID)
	}
	if err != nil {
		return fmt.Errorf("failed to check sprint: %w", err)
	}
	if sprintProject != projectID {
		return types.NewValidationError([]types.FieldViolation{
			{Field: "sprint_id", Reason: "sprint belongs to a different project"},
		})
	}
	return nil
}

// CreateWorkItem inserts a new item at version 1 and records the
// creation in the activity log, atomically.
func (s *Store) CreateWorkItem(ctx context.Context, item *types.WorkItem, actor string) (*types.WorkItem, *types.ActivityEntry, error) {
	if err := item.Validate(); err != nil {
		return nil, nil, types.NewValidationError([]types.FieldViolation{
			{Field: "work_item", Reason: err.Error()},
		})
	}

	now := time.Now().UTC()
	created := *item
	created.Version = 1
	created.CreatedAt = now
	created.CreatedBy = actor
	created.UpdatedAt = now
	created.UpdatedBy = actor
	created.DeletedAt = nil

	var entry *types.ActivityEntry
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		if created.ParentID != nil {
			parent, err := getWorkItemTx(ctx, conn, *created.ParentID)
			if err != nil {
				return err
			}
			if parent.DeletedAt != nil {
				return types.NewNotFound(types.EntityWorkItem, *created.ParentID)
			}
			if parent.ProjectID != created.ProjectID {
				return types.NewValidationError([]types.FieldViolation{
					{Field: "parent_id", Reason: "parent belongs to a different project"},
				})
			}
		}
		if created.SprintID != nil {
			if err := checkSprintAssignable(ctx, conn, *created.SprintID, created.ProjectID); err != nil {
				return err
			}
		}

		_, err := conn.ExecContext(ctx, `
			INSERT INTO work_items (id, item_type, parent_id, project_id, position, title, description,
				status, priority, assignee_id, sprint_id, story_points, version,
				created_at, created_by, updated_at, updated_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, created.ID, created.Type, created.ParentID, created.ProjectID, created.Position,
			created.Title, created.Description, created.Status, created.Priority,
			created.AssigneeID, created.SprintID, intPtrToNull(created.StoryPoints), created.Version,
			now, actor, now, actor)
		if err != nil {
			return fmt.Errorf("failed to insert work item: %w", err)
		}

		entry, err = appendActivity(ctx, conn, created.ProjectID, types.EntityWorkItem, created.ID, types.ActionCreated, nil, actor)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &created, entry, nil
}

// UpdateWorkItem applies a sparse patch under optimistic concurrency:
// the write happens only if the stored version still equals
// expectedVersion, and bumps the version by one.
func (s *Store) UpdateWorkItem(ctx context.Context, id string, patch storage.WorkItemPatch, expectedVersion int64, actor string) (*types.WorkItem, *types.ActivityEntry, error) {
	var updated *types.WorkItem
	var entry *types.ActivityEntry

	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		current, err := getWorkItemTx(ctx, conn, id)
		if err != nil {
			return err
		}
		if current.DeletedAt != nil {
			return types.NewNotFound(types.EntityWorkItem, id)
		}
		if current.Version != expectedVersion {
			return types.NewVersionConflict(current.Version, current)
		}

		next := *current
		changes := map[string]types.FieldChange{}

		if patch.Title != nil && *patch.Title != next.Title {
			changes["title"] = types.FieldChange{Old: next.Title, New: *patch.Title}
			next.Title = *patch.Title
		}
		if patch.Description != nil && *patch.Description != next.Description {
			changes["description"] = types.FieldChange{Old: next.Description, New: *patch.Description}
			next.Description = *patch.Description
		}
		if patch.Status != nil && *patch.Status != next.Status {
			changes["status"] = types.FieldChange{Old: next.Status, New: *patch.Status}
			next.Status = *patch.Status
		}
		if patch.Priority != nil && *patch.Priority != next.Priority {
			changes["priority"] = types.FieldChange{Old: next.Priority, New: *patch.Priority}
			next.Priority = *patch.Priority
		}
		if patch.Position != nil && *patch.Position != next.Position {
			changes["position"] = types.FieldChange{Old: next.Position, New: *patch.Position}
			next.Position = *patch.Position
		}
		if patch.AssigneeID != nil && !strPtrEq(*patch.AssigneeID, next.AssigneeID) {
			changes["assignee_id"] = types.FieldChange{Old: strPtrVal(next.AssigneeID), New: strPtrVal(*patch.AssigneeID)}
			next.AssigneeID = *patch.AssigneeID
		}
		if patch.SprintID != nil && !strPtrEq(*patch.SprintID, next.SprintID) {
			if *patch.SprintID != nil {
				if err := checkSprintAssignable(ctx, conn, **patch.SprintID, next.ProjectID); err != nil {
					return err
				}
			}
			changes["sprint_id"] = types.FieldChange{Old: strPtrVal(next.SprintID), New: strPtrVal(*patch.SprintID)}
			next.SprintID = *patch.SprintID
		}
		if patch.StoryPoints != nil && !intPtrEq(*patch.StoryPoints, next.StoryPoints) {
			changes["story_points"] = types.FieldChange{Old: intPtrVal(next.StoryPoints), New: intPtrVal(*patch.StoryPoints)}
			next.StoryPoints = *patch.StoryPoints
		}

		if err := next.Validate(); err != nil {
			return types.NewValidationError([]types.FieldViolation{
				{Field: "work_item", Reason: err.Error()},
			})
		}

		now := time.Now().UTC()
		next.Version = current.Version + 1
		next.UpdatedAt = now
		next.UpdatedBy = actor

		_, err = conn.ExecContext(ctx, `
			UPDATE work_items SET title = ?, description = ?, status = ?, priority = ?,
				position = ?, assignee_id = ?, sprint_id = ?, story_points = ?,
				version = ?, updated_at = ?, updated_by = ?
			WHERE id = ? AND version = ?
		`, next.Title, next.Description, next.Status, next.Priority,
			next.Position, next.AssigneeID, next.SprintID, intPtrToNull(next.StoryPoints),
			next.Version, now, actor, id, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update work item: %w", err)
		}

		entry, err = appendActivity(ctx, conn, next.ProjectID, types.EntityWorkItem, id, types.ActionUpdated, changes, actor)
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

// DeleteWorkItem soft-deletes the item and every live descendant in
// one transaction. The version check applies to the target only;
// descendants get their deletion stamped unconditionally.
func (s *Store) DeleteWorkItem(ctx context.Context, id string, expectedVersion int64, actor string) (*types.WorkItem, *types.ActivityEntry, error) {
	var deleted *types.WorkItem
	var entry *types.ActivityEntry

	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		current, err := getWorkItemTx(ctx, conn, id)
		if err != nil {
			return err
		}
		if current.DeletedAt != nil {
			return types.NewNotFound(types.EntityWorkItem, id)
		}
		if current.Version != expectedVersion {
			return types.NewVersionConflict(current.Version, current)
		}

		now := time.Now().UTC()
		_, err = conn.ExecContext(ctx, `
			WITH RECURSIVE subtree(id) AS (
				SELECT id FROM work_items WHERE id = ?
				UNION ALL
				SELECT w.id FROM work_items w
				JOIN subtree s ON w.parent_id = s.id
				WHERE w.deleted_at IS NULL
			)
			UPDATE work_items
			SET deleted_at = ?, updated_at = ?, updated_by = ?, version = version + 1
			WHERE id IN (SELECT id FROM subtree) AND deleted_at IS NULL
		`, id, now, now, actor)
		if err != nil {
			return fmt.Errorf("failed to delete work item subtree: %w", err)
		}

		entry, err = appendActivity(ctx, conn, current.ProjectID, types.EntityWorkItem, id, types.ActionDeleted, nil, actor)
		if err != nil {
			return err
		}

		next := *current
		next.Version = current.Version + 1
		next.UpdatedAt = now
		next.UpdatedBy = actor
		next.DeletedAt = &now
		deleted = &next
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return deleted, entry, nil
}

// GetWorkItem returns one live item by id
func (s *Store) GetWorkItem(ctx context.Context, id string) (*types.WorkItem, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+workItemColumns+" FROM work_items WHERE id = ? AND deleted_at IS NULL", id)
	item, err := scanWorkItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFound(types.EntityWorkItem, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get work item: %w", err)
	}
	return item, nil
}

// ListWorkItems returns live items matching the filter, ordered by
// position then creation time.
func (s *Store) ListWorkItems(ctx context.Context, filter storage.WorkItemFilter) ([]*types.WorkItem, error) {
	var conds []string
	var args []any

	conds = append(conds, "deleted_at IS NULL")
	if filter.ProjectID != "" {
		conds = append(conds, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Type != "" {
		conds = append(conds, "item_type = ?")
		args = append(args, filter.Type)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.SprintID != nil {
		conds = append(conds, "sprint_id = ?")
		args = append(args, *filter.SprintID)
	}
	if filter.AssigneeID != nil {
		conds = append(conds, "assignee_id = ?")
		args = append(args, *filter.AssigneeID)
	}
	if filter.ParentID != nil {
		conds = append(conds, "parent_id = ?")
		args = append(args, *filter.ParentID)
	}

	query := "SELECT " + workItemColumns + " FROM work_items WHERE " +
		strings.Join(conds, " AND ") + " ORDER BY position, created_at"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list work items: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var items []*types.WorkItem
	for rows.Next() {
		item, err := scanWorkItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan work item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func strPtrEq(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func strPtrVal(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtrEq(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func intPtrVal(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

func intPtrToNull(p *int) any {
	if p == nil {
		return nil
	}
	return int64(*p)
}
