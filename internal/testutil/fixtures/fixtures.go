// Package fixtures loads YAML board definitions and seeds them into a
// store, so tests can describe non-trivial hierarchies declaratively.
package fixtures

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/taskwire/taskwire/internal/storage"
	"github.com/taskwire/taskwire/internal/types"
)

// Board is the root of a fixture file
type Board struct {
	Projects []Project `yaml:"projects"`
}

// Project seeds one project item with its sprints and children
type Project struct {
	Title   string   `yaml:"title"`
	Sprints []Sprint `yaml:"sprints"`
	Items   []Item   `yaml:"items"`
}

// Sprint seeds one sprint
type Sprint struct {
	Name      string    `yaml:"name"`
	StartDate time.Time `yaml:"start_date"`
	EndDate   time.Time `yaml:"end_date"`
}

// Item seeds one work item, recursively with children and comments
type Item struct {
	Title    string    `yaml:"title"`
	Type     string    `yaml:"type"`
	Status   string    `yaml:"status"`
	Priority string    `yaml:"priority"`
	Sprint   string    `yaml:"sprint"` // sprint name within the same project
	Points   *int      `yaml:"points"`
	Children []Item    `yaml:"children"`
	Comments []Comment `yaml:"comments"`
}

// Comment seeds one comment
type Comment struct {
	Author  string `yaml:"author"`
	Content string `yaml:"content"`
}

// Load parses a fixture file
func Load(path string) (*Board, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture: %w", err)
	}
	var board Board
	if err := yaml.Unmarshal(data, &board); err != nil {
		return nil, fmt.Errorf("failed to parse fixture %s: %w", path, err)
	}
	return &board, nil
}

// Seeded maps fixture titles and names back to the ids they received
type Seeded struct {
	Projects map[string]string // project title -> id
	Items    map[string]string // item title -> id
	Sprints  map[string]string // sprint name -> id
}

// Seed writes the board into the store as actor. Titles must be unique
// within the fixture; they are the lookup keys afterwards.
func Seed(ctx context.Context, store storage.Storage, board *Board, actor string) (*Seeded, error) {
	seeded := &Seeded{
		Projects: make(map[string]string),
		Items:    make(map[string]string),
		Sprints:  make(map[string]string),
	}

	for _, p := range board.Projects {
		projectID := uuid.NewString()
		_, _, err := store.CreateWorkItem(ctx, &types.WorkItem{
			ID:        projectID,
			Type:      types.TypeProject,
			ProjectID: projectID,
			Title:     p.Title,
			Status:    types.StatusBacklog,
			Priority:  types.PriorityMedium,
		}, actor)
		if err != nil {
			return nil, fmt.Errorf("failed to seed project %q: %w", p.Title, err)
		}
		seeded.Projects[p.Title] = projectID

		for _, sp := range p.Sprints {
			created, _, err := store.CreateSprint(ctx, &types.Sprint{
				ID:        uuid.NewString(),
				ProjectID: projectID,
				Name:      sp.Name,
				Status:    types.SprintPlanned,
				StartDate: sp.StartDate,
				EndDate:   sp.EndDate,
			}, actor)
			if err != nil {
				return nil, fmt.Errorf("failed to seed sprint %q: %w", sp.Name, err)
			}
			seeded.Sprints[sp.Name] = created.ID
		}

		for _, item := range p.Items {
			if err := seedItem(ctx, store, seeded, projectID, nil, item, actor); err != nil {
				return nil, err
			}
		}
	}
	return seeded, nil
}

func seedItem(ctx context.Context, store storage.Storage, seeded *Seeded, projectID string, parentID *string, item Item, actor string) error {
	w := &types.WorkItem{
		ID:          uuid.NewString(),
		Type:        types.TypeTask,
		ParentID:    parentID,
		ProjectID:   projectID,
		Title:       item.Title,
		Status:      types.StatusBacklog,
		Priority:    types.PriorityMedium,
		StoryPoints: item.Points,
	}
	if item.Type != "" {
		w.Type = types.ItemType(item.Type)
	}
	if item.Status != "" {
		w.Status = types.ItemStatus(item.Status)
	}
	if item.Priority != "" {
		w.Priority = types.Priority(item.Priority)
	}
	if item.Sprint != "" {
		sprintID, ok := seeded.Sprints[item.Sprint]
		if !ok {
			return fmt.Errorf("item %q references unknown sprint %q", item.Title, item.Sprint)
		}
		w.SprintID = &sprintID
	}

	created, _, err := store.CreateWorkItem(ctx, w, actor)
	if err != nil {
		return fmt.Errorf("failed to seed item %q: %w", item.Title, err)
	}
	seeded.Items[item.Title] = created.ID

	for _, c := range item.Comments {
		_, _, err := store.CreateComment(ctx, &types.Comment{
			ID:         uuid.NewString(),
			WorkItemID: created.ID,
			Content:    c.Content,
		}, c.Author)
		if err != nil {
			return fmt.Errorf("failed to seed comment on %q: %w", item.Title, err)
		}
	}
	for _, child := range item.Children {
		if err := seedItem(ctx, store, seeded, projectID, &created.ID, child, actor); err != nil {
			return err
		}
	}
	return nil
}
