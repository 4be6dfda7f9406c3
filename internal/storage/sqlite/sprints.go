package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/taskwire/taskwire/internal/storage"
	"github.com/taskwire/taskwire/internal/types"
)

const sprintColumns = `id, project_id, name, status, start_date, end_date, version,
	created_at, created_by, updated_at, updated_by`

func scanSprint(row rowScanner) (*types.Sprint, error) {
	var sp types.Sprint
	var createdBy, updatedBy string
	err := row.Scan(
		&sp.ID, &sp.ProjectID, &sp.Name, &sp.Status, &sp.StartDate, &sp.EndDate,
		&sp.Version, &sp.CreatedAt, &createdBy, &sp.UpdatedAt, &updatedBy,
	)
	if err != nil {
		return nil, err
	}
	return &sp, nil
}

func getSprintTx(ctx context.Context, conn *sql.Conn, id string) (*types.Sprint, error) {
	row := conn.QueryRowContext(ctx,
		"SELECT "+sprintColumns+" FROM sprints WHERE id = ?", id)
	sp, err := scanSprint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.NewNotFound(types.EntitySprint, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sprint: %w", err)
	}
	return sp, nil
}

func checkProjectExists(ctx context.Context, conn *sql.Conn, projectID string) error {
	var one int
	err := conn.QueryRowContext(ctx,
		"SELECT 1 FROM work_items WHERE id = ? AND item_type = 'project' AND deleted_at IS NULL",
		projectID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return types.NewNotFound(types.EntityWorkItem, projectID)
	}
	if err != nil {
		return fmt.Errorf("failed to check project: %w", err)
	}
	return nil
}

// CreateSprint inserts a new sprint at version 1
func (s *Store) CreateSprint(ctx context.Context, sprint *types.Sprint, actor string) (*types.Sprint, *types.ActivityEntry, error) {
	if err := sprint.Validate(); err != nil {
		return nil, nil, types.NewValidationError([]types.FieldViolation{
			{Field: "sprint", Reason: err.Error()},
		})
	}

	now := time.Now().UTC()
	created := *sprint
	created.Version = 1
	created.CreatedAt = now
	created.UpdatedAt = now

	var entry *types.ActivityEntry
	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		if err := checkProjectExists(ctx, conn, created.ProjectID); err != nil {
			return err
		}
		_, err := conn.ExecContext(ctx, `
			INSERT INTO sprints (id, project_id, name, status, start_date, end_date, version,
				created_at, created_by, updated_at, updated_by)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, created.ID, created.ProjectID, created.Name, created.Status,
			created.StartDate, created.EndDate, created.Version, now, actor, now, actor)
		if err != nil {
			return fmt.Errorf("failed to insert sprint: %w", err)
		}
		entry, err = appendActivity(ctx, conn, created.ProjectID, types.EntitySprint, created.ID, types.ActionCreated, nil, actor)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	return &created, entry, nil
}

// UpdateSprint applies a sparse patch under optimistic concurrency.
// Status changes must follow planned -> active -> completed.
func (s *Store) UpdateSprint(ctx context.Context, id string, patch storage.SprintPatch, expectedVersion int64, actor string) (*types.Sprint, *types.ActivityEntry, error) {
	var updated *types.Sprint
	var entry *types.ActivityEntry

	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		current, err := getSprintTx(ctx, conn, id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return types.NewVersionConflict(current.Version, current)
		}

		next := *current
		changes := map[string]types.FieldChange{}

		if patch.Name != nil && *patch.Name != next.Name {
			changes["name"] = types.FieldChange{Old: next.Name, New: *patch.Name}
			next.Name = *patch.Name
		}
		if patch.StartDate != nil && !patch.StartDate.Equal(next.StartDate) {
			changes["start_date"] = types.FieldChange{Old: next.StartDate, New: *patch.StartDate}
			next.StartDate = *patch.StartDate
		}
		if patch.EndDate != nil && !patch.EndDate.Equal(next.EndDate) {
			changes["end_date"] = types.FieldChange{Old: next.EndDate, New: *patch.EndDate}
			next.EndDate = *patch.EndDate
		}
		if patch.Status != nil && *patch.Status != next.Status {
			if !next.Status.CanTransitionTo(*patch.Status) {
				return types.NewInvalidStateTransition(next.Status, *patch.Status)
			}
			changes["status"] = types.FieldChange{Old: next.Status, New: *patch.Status}
			next.Status = *patch.Status
		}

		if err := next.Validate(); err != nil {
			return types.NewValidationError([]types.FieldViolation{
				{Field: "sprint", Reason: err.Error()},
			})
		}

		now := time.Now().UTC()
		next.Version = current.Version + 1
		next.UpdatedAt = now

		_, err = conn.ExecContext(ctx, `
			UPDATE sprints SET name = ?, status = ?, start_date = ?, end_date = ?,
				version = ?, updated_at = ?, updated_by = ?
			WHERE id = ? AND version = ?
		`, next.Name, next.Status, next.StartDate, next.EndDate,
			next.Version, now, actor, id, expectedVersion)
		if err != nil {
			return fmt.Errorf("failed to update sprint: %w", err)
		}

		entry, err = appendActivity(ctx, conn, next.ProjectID, types.EntitySprint, id, types.ActionUpdated, changes, actor)
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

// DeleteSprint hard-deletes a sprint. Work items assigned to it keep
// existing but lose the assignment; their versions bump so concurrent
// editors see the change as a conflict rather than silent drift.
func (s *Store) DeleteSprint(ctx context.Context, id string, expectedVersion int64, actor string) (*types.Sprint, *types.ActivityEntry, error) {
	var deleted *types.Sprint
	var entry *types.ActivityEntry

	err := s.withImmediateTx(ctx, func(conn *sql.Conn) error {
		current, err := getSprintTx(ctx, conn, id)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return types.NewVersionConflict(current.Version, current)
		}

		now := time.Now().UTC()
		_, err = conn.ExecContext(ctx, `
			UPDATE work_items SET sprint_id = NULL, version = version + 1,
				updated_at = ?, updated_by = ?
			WHERE sprint_id = ? AND deleted_at IS NULL
		`, now, actor, id)
		if err != nil {
			return fmt.Errorf("failed to unassign sprint items: %w", err)
		}

		if _, err := conn.ExecContext(ctx, "DELETE FROM sprints WHERE id = ?", id); err != nil {
			return fmt.Errorf("failed to delete sprint: %w", err)
		}

		entry, err = appendActivity(ctx, conn, current.ProjectID, types.EntitySprint, id, types.ActionDeleted, nil, actor)
		if err != nil {
			return err
		}
		deleted = current
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return deleted, entry, nil
}

// ListSprints returns sprints in a project ordered by start date
func (s *Store) ListSprints(ctx context.Context, filter storage.SprintFilter) ([]*types.Sprint, error) {
	query := "SELECT " + sprintColumns + " FROM sprints WHERE project_id = ?"
	args := []any{filter.ProjectID}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, filter.Status)
	}
	query += " ORDER BY start_date, created_at"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sprints: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sprints []*types.Sprint
	for rows.Next() {
		sp, err := scanSprint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sprint: %w", err)
		}
		sprints = append(sprints, sp)
	}
	return sprints, rows.Err()
}
