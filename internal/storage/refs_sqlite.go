package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/matsen/litreview/internal/reference"
)

// insertChunk bounds the rows per multi-row INSERT.
const insertChunk = 100

// refInsertColumns are written by InsertReferences, in order.
const refInsertColumns = `project_id, title, authors_json, authors_short, year, journal,
	abstract, full_text_url, import_marker, created_at`

// selectRefFields contains the standard field list for SELECT queries.
const selectRefFields = `id, project_id, title, authors_json, authors_short, year, journal,
	abstract, full_text_url, in_conflict, created_at`

// InsertReferences batch-inserts references into a project and returns their
// generated ids in input order.
//
// Rows are written with a fresh correlation marker, read back by that marker
// in id order, then the marker is cleared, so a batch of thousands costs a
// handful of statements rather than one round trip per row.
func (t *Tx) InsertReferences(ctx context.Context, projectID int64, refs []reference.Reference) ([]int64, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	marker := uuid.NewString()
	ts := now()

	for start := 0; start < len(refs); start += insertChunk {
		end := min(start+insertChunk, len(refs))
		var (
			values []string
			args   []any
		)
		for _, ref := range refs[start:end] {
			authorsJSON, err := json.Marshal(ref.Authors)
			if err != nil {
				return nil, fmt.Errorf("marshaling authors: %w", err)
			}
			values = append(values, placeholders(10))
			args = append(args, projectID, ref.Title, string(authorsJSON), ref.AuthorsShort,
				nullableYear(ref.Year), ref.Journal, ref.Abstract, ref.FullTextURL, marker, ts)
		}
		query := `INSERT INTO refs (` + refInsertColumns + `) VALUES ` + strings.Join(values, ", ")
		if _, err := t.q.ExecContext(ctx, query, args...); err != nil {
			return nil, fmt.Errorf("inserting references: %w", err)
		}
	}

	ids, err := t.queryIDs(ctx, `SELECT id FROM refs WHERE import_marker = ? ORDER BY id`, marker)
	if err != nil {
		return nil, fmt.Errorf("recovering inserted ids: %w", err)
	}
	if len(ids) != len(refs) {
		return nil, &IntegrityError{Message: fmt.Sprintf("inserted %d references but recovered %d ids", len(refs), len(ids))}
	}
	if _, err := t.q.ExecContext(ctx, `UPDATE refs SET import_marker = NULL WHERE import_marker = ?`, marker); err != nil {
		return nil, fmt.Errorf("clearing import marker: %w", err)
	}

	for i, ref := range refs {
		if _, err := t.q.ExecContext(ctx, `
			INSERT INTO refs_fts (ref_id, title, authors_text) VALUES (?, ?, ?)
		`, ids[i], ref.Title, ref.AuthorsText()); err != nil {
			return nil, fmt.Errorf("indexing reference %d: %w", ids[i], err)
		}
	}
	return ids, nil
}

func nullableYear(year int) sql.NullInt64 {
	if year == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(year), Valid: true}
}

// GetReference retrieves a reference by its ID.
func (c *Conn) GetReference(ctx context.Context, id int64) (*reference.Reference, error) {
	row := c.q.QueryRowContext(ctx, `SELECT `+selectRefFields+` FROM refs WHERE id = ?`, id)
	ref, err := scanReference(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reference %d: %w", id, ErrNotFound)
	}
	return ref, err
}

// GetReferences retrieves references by id, ordered by id. Unknown ids are skipped.
func (c *Conn) GetReferences(ctx context.Context, ids []int64) ([]reference.Reference, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT `+selectRefFields+` FROM refs WHERE id`+inIDs+` ORDER BY id
	`, idList(ids))
	if err != nil {
		return nil, fmt.Errorf("loading references: %w", err)
	}
	defer rows.Close()
	return scanReferences(rows)
}

// RefFilter holds the SQL-side predicates of a reference listing. All set
// fields must hold (AND logic).
type RefFilter struct {
	ProjectID int64
	Search    string // free text over title and authors (FTS5)
	Year      int    // exact publication year, 0 = any

	// IDs, when Restrict is set, limits results to these ids; an empty
	// list then matches nothing.
	IDs      []int64
	Restrict bool

	ExcludeIDs []int64
	InConflict bool  // only references flagged in conflict
	BatchID    int64 // only references attached to this import batch

	Limit  int // 0 = no limit
	Offset int
}

func (f RefFilter) where() (string, []any) {
	clauses := []string{"project_id = ?"}
	args := []any{f.ProjectID}

	if q := prepareSearchQuery(f.Search); q != "" {
		clauses = append(clauses, "id IN (SELECT ref_id FROM refs_fts WHERE refs_fts MATCH ?)")
		args = append(args, q)
	}
	if f.Year != 0 {
		clauses = append(clauses, "year = ?")
		args = append(args, f.Year)
	}
	if f.Restrict {
		clauses = append(clauses, "id"+inIDs)
		args = append(args, idList(f.IDs))
	}
	if len(f.ExcludeIDs) > 0 {
		clauses = append(clauses, "id NOT"+inIDs)
		args = append(args, idList(f.ExcludeIDs))
	}
	if f.InConflict {
		clauses = append(clauses, "in_conflict = 1")
	}
	if f.BatchID != 0 {
		clauses = append(clauses, "id IN (SELECT ref_id FROM ref_batches WHERE batch_id = ?)")
		args = append(args, f.BatchID)
	}
	return strings.Join(clauses, " AND "), args
}

// ListReferences returns the references matching f, ordered by id.
func (c *Conn) ListReferences(ctx context.Context, f RefFilter) ([]reference.Reference, error) {
	where, args := f.where()
	query := `SELECT ` + selectRefFields + ` FROM refs WHERE ` + where + ` ORDER BY id`
	if f.Limit > 0 || f.Offset > 0 {
		limit := f.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, f.Offset)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	defer rows.Close()
	return scanReferences(rows)
}

// CountReferences returns how many references match f, ignoring Limit and Offset.
func (c *Conn) CountReferences(ctx context.Context, f RefFilter) (int, error) {
	where, args := f.where()
	var count int
	err := c.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM refs WHERE `+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting references: %w", err)
	}
	return count, nil
}

// ProjectRefIDs returns the ids of every reference in a project.
func (c *Conn) ProjectRefIDs(ctx context.Context, projectID int64) ([]int64, error) {
	return c.queryIDs(ctx, `SELECT id FROM refs WHERE project_id = ? ORDER BY id`, projectID)
}

// ForeignRefs returns the ids among refIDs that are not references of the
// project, including ids that do not exist at all.
func (c *Conn) ForeignRefs(ctx context.Context, projectID int64, refIDs []int64) ([]int64, error) {
	return c.queryIDs(ctx, `
		SELECT DISTINCT k.value FROM json_each(?) k
		WHERE k.value NOT IN (SELECT id FROM refs WHERE project_id = ?)
		ORDER BY k.value
	`, idList(refIDs), projectID)
}

// SetInConflict sets or clears a reference's conflict flag.
func (t *Tx) SetInConflict(ctx context.Context, refID int64, inConflict bool) error {
	_, err := t.q.ExecContext(ctx, `UPDATE refs SET in_conflict = ? WHERE id = ?`, inConflict, refID)
	if err != nil {
		return fmt.Errorf("updating conflict flag of reference %d: %w", refID, err)
	}
	return nil
}

// DeleteReferences deletes references with all their associations.
func (t *Tx) DeleteReferences(ctx context.Context, refIDs []int64) (int, error) {
	if len(refIDs) == 0 {
		return 0, nil
	}
	ids := idList(refIDs)
	if _, err := t.q.ExecContext(ctx, `DELETE FROM refs_fts WHERE ref_id`+inIDs, ids); err != nil {
		return 0, fmt.Errorf("unindexing references: %w", err)
	}
	res, err := t.q.ExecContext(ctx, `DELETE FROM refs WHERE id`+inIDs, ids)
	if err != nil {
		return 0, fmt.Errorf("deleting references: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanReference(s scanner) (*reference.Reference, error) {
	var ref reference.Reference
	var authorsJSON string
	var year sql.NullInt64

	err := s.Scan(
		&ref.ID, &ref.ProjectID, &ref.Title, &authorsJSON, &ref.AuthorsShort, &year,
		&ref.Journal, &ref.Abstract, &ref.FullTextURL, &ref.InConflict, &ref.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	ref.Year = int(year.Int64)

	if err := json.Unmarshal([]byte(authorsJSON), &ref.Authors); err != nil {
		return nil, fmt.Errorf("parsing authors JSON for %d: %w", ref.ID, err)
	}
	return &ref, nil
}

func scanReferences(rows *sql.Rows) ([]reference.Reference, error) {
	var refs []reference.Reference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		refs = append(refs, *ref)
	}
	return refs, rows.Err()
}
