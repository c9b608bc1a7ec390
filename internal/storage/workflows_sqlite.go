package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/matsen/litreview/internal/project"
)

const selectWorkflowFields = `id, project_id, title, admission_tags_json,
	admission_include_descendants, completion_tags_json`

// CreateWorkflow validates and inserts a workflow. Every admission and
// completion tag must belong to the workflow's project.
func (t *Tx) CreateWorkflow(ctx context.Context, w *project.Workflow) error {
	if err := w.Validate(); err != nil {
		return Invalid("workflow", "%v", err)
	}
	foreign, err := t.ForeignTags(ctx, w.ProjectID, w.Tags())
	if err != nil {
		return err
	}
	if len(foreign) > 0 {
		return Invalid("tags", "tag %d is not in project %d", foreign[0], w.ProjectID)
	}

	admission, _ := json.Marshal(orEmpty(w.AdmissionTags))
	completion, _ := json.Marshal(orEmpty(w.CompletionTags))
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO workflows (project_id, title, admission_tags_json, admission_include_descendants, completion_tags_json)
		VALUES (?, ?, ?, ?, ?)
	`, w.ProjectID, w.Title, string(admission), w.AdmissionIncludeDescendants, string(completion))
	if err != nil {
		return fmt.Errorf("inserting workflow: %w", err)
	}
	w.ID, err = res.LastInsertId()
	return err
}

// GetWorkflow retrieves a workflow by its ID.
func (c *Conn) GetWorkflow(ctx context.Context, id int64) (*project.Workflow, error) {
	w, err := scanWorkflow(c.q.QueryRowContext(ctx, `SELECT `+selectWorkflowFields+` FROM workflows WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("workflow %d: %w", id, ErrNotFound)
	}
	return w, err
}

// ListWorkflows returns a project's workflows.
func (c *Conn) ListWorkflows(ctx context.Context, projectID int64) ([]project.Workflow, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+selectWorkflowFields+` FROM workflows WHERE project_id = ? ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing workflows: %w", err)
	}
	defer rows.Close()

	var out []project.Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *w)
	}
	return out, rows.Err()
}

func scanWorkflow(s scanner) (*project.Workflow, error) {
	var w project.Workflow
	var admission, completion string
	if err := s.Scan(&w.ID, &w.ProjectID, &w.Title, &admission, &w.AdmissionIncludeDescendants, &completion); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(admission), &w.AdmissionTags); err != nil {
		return nil, fmt.Errorf("parsing admission tags of workflow %d: %w", w.ID, err)
	}
	if err := json.Unmarshal([]byte(completion), &w.CompletionTags); err != nil {
		return nil, fmt.Errorf("parsing completion tags of workflow %d: %w", w.ID, err)
	}
	return &w, nil
}

func orEmpty(ids []int64) []int64 {
	if ids == nil {
		return []int64{}
	}
	return ids
}
