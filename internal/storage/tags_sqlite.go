package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/matsen/litreview/internal/tag"
)

const selectTagFields = `id, project_id, name, path, depth`

// InsertTag inserts a tag and sets its ID. Path and depth are taken as given;
// callers compute them from the tree.
func (t *Tx) InsertTag(ctx context.Context, tg *tag.Tag) error {
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO tags (project_id, name, path, depth) VALUES (?, ?, ?, ?)
	`, tg.ProjectID, tg.Name, tg.Path, tg.Depth)
	if err != nil {
		return fmt.Errorf("inserting tag %q: %w", tg.Name, err)
	}
	tg.ID, err = res.LastInsertId()
	return err
}

// GetTag retrieves a tag by its ID.
func (c *Conn) GetTag(ctx context.Context, id int64) (*tag.Tag, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+selectTagFields+` FROM tags WHERE id = ?`, id)
	var tg tag.Tag
	if err := row.Scan(&tg.ID, &tg.ProjectID, &tg.Name, &tg.Path, &tg.Depth); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("tag %d: %w", id, ErrNotFound)
		}
		return nil, err
	}
	return &tg, nil
}

// RootTag returns a project's root tag.
func (c *Conn) RootTag(ctx context.Context, projectID int64) (*tag.Tag, error) {
	row := c.q.QueryRowContext(ctx, `
		SELECT `+selectTagFields+` FROM tags WHERE project_id = ? AND depth = 1 ORDER BY id LIMIT 1
	`, projectID)
	var tg tag.Tag
	if err := row.Scan(&tg.ID, &tg.ProjectID, &tg.Name, &tg.Path, &tg.Depth); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("root tag of project %d: %w", projectID, ErrNotFound)
		}
		return nil, err
	}
	return &tg, nil
}

// ProjectTags returns every tag of a project in path (depth-first) order.
func (c *Conn) ProjectTags(ctx context.Context, projectID int64) ([]tag.Tag, error) {
	return c.queryTags(ctx, `
		SELECT `+selectTagFields+` FROM tags WHERE project_id = ? ORDER BY path, id
	`, projectID)
}

// TagsByID loads the given tags in path order. Unknown ids are skipped.
func (c *Conn) TagsByID(ctx context.Context, ids []int64) ([]tag.Tag, error) {
	return c.queryTags(ctx, `
		SELECT `+selectTagFields+` FROM tags WHERE id`+inIDs+` ORDER BY path, id
	`, idList(ids))
}

func (c *Conn) queryTags(ctx context.Context, query string, args ...any) ([]tag.Tag, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tags: %w", err)
	}
	defer rows.Close()

	var tags []tag.Tag
	for rows.Next() {
		var tg tag.Tag
		if err := rows.Scan(&tg.ID, &tg.ProjectID, &tg.Name, &tg.Path, &tg.Depth); err != nil {
			return nil, err
		}
		tags = append(tags, tg)
	}
	return tags, rows.Err()
}

// LastChildPath returns the greatest path among parent's direct children,
// or "" when it has none.
func (c *Conn) LastChildPath(ctx context.Context, projectID int64, parentPath string) (string, error) {
	lo, hi := tag.SubtreeRange(parentPath)
	var last sql.NullString
	err := c.q.QueryRowContext(ctx, `
		SELECT MAX(path) FROM tags
		WHERE project_id = ? AND path > ? AND path < ? AND depth = ?
	`, projectID, lo, hi, tag.Depth(parentPath)+1).Scan(&last)
	if err != nil {
		return "", fmt.Errorf("finding last child of %s: %w", parentPath, err)
	}
	return last.String, nil
}

// Descendants returns the ids of the given tags and all of their
// descendants, by path range scan within each tag's project.
func (c *Conn) Descendants(ctx context.Context, tagIDs []int64) ([]int64, error) {
	return c.queryIDs(ctx, `
		SELECT DISTINCT d.id
		FROM tags a
		JOIN tags d ON d.project_id = a.project_id AND d.path >= a.path AND d.path < a.path || '~'
		WHERE a.id`+inIDs+`
		ORDER BY d.id
	`, idList(tagIDs))
}

// ForeignTags returns the ids among tagIDs that are not tags of the project,
// including ids that do not exist at all.
func (c *Conn) ForeignTags(ctx context.Context, projectID int64, tagIDs []int64) ([]int64, error) {
	return c.queryIDs(ctx, `
		SELECT DISTINCT k.value FROM json_each(?) k
		WHERE k.value NOT IN (SELECT id FROM tags WHERE project_id = ?)
		ORDER BY k.value
	`, idList(tagIDs), projectID)
}

// RenameTag changes a tag's name.
func (t *Tx) RenameTag(ctx context.Context, id int64, name string) error {
	res, err := t.q.ExecContext(ctx, `UPDATE tags SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return fmt.Errorf("renaming tag %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tag %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteTags deletes tags along with their resolved and reviewer assignments.
func (t *Tx) DeleteTags(ctx context.Context, ids []int64) (int, error) {
	res, err := t.q.ExecContext(ctx, `DELETE FROM tags WHERE id`+inIDs, idList(ids))
	if err != nil {
		return 0, fmt.Errorf("deleting tags: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
