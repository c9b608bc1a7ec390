package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matsen/litreview/internal/project"
)

// CreateProject inserts a project and sets its ID and CreatedAt.
func (t *Tx) CreateProject(ctx context.Context, p *project.Project) error {
	if err := p.ValidateForCreate(); err != nil {
		return &ValidationError{Field: "name", Row: -1, Message: err.Error()}
	}
	p.CreatedAt = now()
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO projects (name, required_reviewers, created_at)
		VALUES (?, ?, ?)
	`, p.Name, p.RequiredReviewers, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting project: %w", err)
	}
	p.ID, err = res.LastInsertId()
	return err
}

// GetProject retrieves a project by its ID.
func (c *Conn) GetProject(ctx context.Context, id int64) (*project.Project, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT id, name, required_reviewers, created_at
		FROM projects
		WHERE id = ?
	`, id)

	var p project.Project
	if err := row.Scan(&p.ID, &p.Name, &p.RequiredReviewers, &p.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &p, nil
}

// ListProjects returns all projects in the database.
func (c *Conn) ListProjects(ctx context.Context) ([]project.Project, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT id, name, required_reviewers, created_at
		FROM projects
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("querying projects: %w", err)
	}
	defer rows.Close()

	var projects []project.Project
	for rows.Next() {
		var p project.Project
		if err := rows.Scan(&p.ID, &p.Name, &p.RequiredReviewers, &p.CreatedAt); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// SetRequiredReviewers changes how many reviewer passes a reference needs.
func (t *Tx) SetRequiredReviewers(ctx context.Context, projectID int64, n int) error {
	if n < 1 {
		return &ValidationError{Field: "required_reviewers", Row: -1, Message: project.ErrInvalidReviewers.Error()}
	}
	res, err := t.q.ExecContext(ctx, `UPDATE projects SET required_reviewers = ? WHERE id = ?`, n, projectID)
	if err != nil {
		return fmt.Errorf("updating project %d: %w", projectID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	return nil
}
