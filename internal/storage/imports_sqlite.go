package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matsen/litreview/internal/reference"
)

const selectBatchFields = `id, project_id, source, kind, title, query, file_name, created_at`

// CreateBatch inserts an import batch and sets its ID and CreatedAt.
func (t *Tx) CreateBatch(ctx context.Context, b *reference.ImportBatch) error {
	b.CreatedAt = now()
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO import_batches (project_id, source, kind, title, query, file_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.ProjectID, b.Source, b.Kind, b.Title, b.Query, b.FileName, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting import batch: %w", err)
	}
	b.ID, err = res.LastInsertId()
	return err
}

// GetBatch retrieves an import batch by its ID.
func (c *Conn) GetBatch(ctx context.Context, id int64) (*reference.ImportBatch, error) {
	var b reference.ImportBatch
	err := c.q.QueryRowContext(ctx, `SELECT `+selectBatchFields+` FROM import_batches WHERE id = ?`, id).
		Scan(&b.ID, &b.ProjectID, &b.Source, &b.Kind, &b.Title, &b.Query, &b.FileName, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("import batch %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBatches returns a project's import batches, oldest first.
func (c *Conn) ListBatches(ctx context.Context, projectID int64) ([]reference.ImportBatch, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+selectBatchFields+` FROM import_batches WHERE project_id = ? ORDER BY id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing import batches: %w", err)
	}
	defer rows.Close()

	var batches []reference.ImportBatch
	for rows.Next() {
		var b reference.ImportBatch
		if err := rows.Scan(&b.ID, &b.ProjectID, &b.Source, &b.Kind, &b.Title, &b.Query, &b.FileName, &b.CreatedAt); err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// AttachBatch associates references with an import batch. Existing
// associations are kept. Returns how many associations were new.
func (t *Tx) AttachBatch(ctx context.Context, batchID int64, refIDs []int64) (int, error) {
	if len(refIDs) == 0 {
		return 0, nil
	}
	res, err := t.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO ref_batches (ref_id, batch_id)
		SELECT value, ? FROM json_each(?)
	`, batchID, idList(refIDs))
	if err != nil {
		return 0, fmt.Errorf("attaching references to batch %d: %w", batchID, err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// BatchRefIDs returns the references attached to a batch.
func (c *Conn) BatchRefIDs(ctx context.Context, batchID int64) ([]int64, error) {
	return c.queryIDs(ctx, `SELECT ref_id FROM ref_batches WHERE batch_id = ? ORDER BY ref_id`, batchID)
}

// CountBatchLinks returns the number of reference-batch associations in a project.
func (c *Conn) CountBatchLinks(ctx context.Context, projectID int64) (int, error) {
	var count int
	err := c.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM ref_batches rb JOIN import_batches b ON b.id = rb.batch_id
		WHERE b.project_id = ?
	`, projectID).Scan(&count)
	return count, err
}

// RefsInOtherBatches returns the refIDs attached to any batch besides batchID.
func (c *Conn) RefsInOtherBatches(ctx context.Context, batchID int64, refIDs []int64) ([]int64, error) {
	return c.queryIDs(ctx, `
		SELECT DISTINCT ref_id FROM ref_batches
		WHERE batch_id != ? AND ref_id`+inIDs+`
		ORDER BY ref_id
	`, batchID, idList(refIDs))
}

// DeleteBatch deletes an import batch and its associations, leaving the
// references themselves in place.
func (t *Tx) DeleteBatch(ctx context.Context, batchID int64) error {
	res, err := t.q.ExecContext(ctx, `DELETE FROM import_batches WHERE id = ?`, batchID)
	if err != nil {
		return fmt.Errorf("deleting import batch %d: %w", batchID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("import batch %d: %w", batchID, ErrNotFound)
	}
	return nil
}
