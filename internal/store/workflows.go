package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Workflow visibilities.
const (
	VisibilityPrivate  = "private"
	VisibilityPublic   = "public"
	VisibilityReadonly = "readonly"
)

type Workflow struct {
	ID          string
	UserID      string
	Name        string
	Description string
	IsPublished bool
	Visibility  string
	CreatedAt   time.Time
}

func (s *Store) CreateWorkflow(ctx context.Context, w Workflow) (*Workflow, error) {
	if w.Name == "" {
		return nil, fmt.Errorf("store: create workflow: name is required")
	}
	switch w.Visibility {
	case "":
		w.Visibility = VisibilityPrivate
	case VisibilityPrivate, VisibilityPublic, VisibilityReadonly:
	default:
		return nil, fmt.Errorf("store: create workflow: invalid visibility %q", w.Visibility)
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	w.CreatedAt = s.now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO workflows (id, user_id, name, description, is_published, visibility, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.UserID, w.Name, w.Description, w.IsPublished, w.Visibility, millis(w.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("store: create workflow: %w", err)
	}
	return &w, nil
}

// ExecutableWorkflows lists the published workflows userID may run: its own
// and every non-private one.
func (s *Store) ExecutableWorkflows(ctx context.Context, userID string) ([]Workflow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, name, description, is_published, visibility, created_at
		FROM workflows
		WHERE is_published AND (user_id = ? OR visibility != 'private')
		ORDER BY created_at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("store: executable workflows: %w", err)
	}
	defer rows.Close()

	var out []Workflow
	for rows.Next() {
		var (
			w       Workflow
			created int64
		)
		if err := rows.Scan(&w.ID, &w.UserID, &w.Name, &w.Description, &w.IsPublished, &w.Visibility, &created); err != nil {
			return nil, fmt.Errorf("store: scan workflow: %w", err)
		}
		w.CreatedAt = fromMillis(created)
		out = append(out, w)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: executable workflows: %w", err)
	}
	return out, nil
}
