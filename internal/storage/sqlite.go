// Package storage is the SQLite store behind every project-scoped and global table.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Conn holds the read operations, usable both outside and inside a transaction.
type Conn struct {
	q querier
}

// DB wraps a SQLite database connection.
type DB struct {
	Conn
	db *sql.DB
}

// Tx is an open transaction. Every write operation is a Tx method.
type Tx struct {
	Conn
	tx *sql.Tx
}

// OpenDB opens or creates a SQLite database at the given path.
func OpenDB(path string) (*DB, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite doesn't support concurrent writes

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{Conn: Conn{q: db}, db: db}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// WithTx runs fn in a transaction, committing if it returns nil and rolling
// back otherwise. The single pooled connection is held by the transaction,
// so fn must use tx and never d.
func (d *DB) WithTx(ctx context.Context, fn func(*Tx) error) error {
	sqlTx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	tx := &Tx{Conn: Conn{q: sqlTx}, tx: sqlTx}

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback failed: %v)", err, rbErr)
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// createSchema creates the database schema if it doesn't exist.
func createSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS projects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			required_reviewers INTEGER NOT NULL DEFAULT 2,
			created_at TEXT NOT NULL
		);

		-- Global identifier registry, shared by all projects
		CREATE TABLE IF NOT EXISTS identifiers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source TEXT NOT NULL,
			external_id TEXT NOT NULL,
			content BLOB,
			content_hash TEXT,
			updated_at TEXT NOT NULL,
			UNIQUE (source, external_id)
		);

		CREATE TABLE IF NOT EXISTS refs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			authors_json TEXT NOT NULL,
			authors_short TEXT NOT NULL DEFAULT '',
			year INTEGER,
			journal TEXT NOT NULL DEFAULT '',
			abstract TEXT NOT NULL DEFAULT '',
			full_text_url TEXT NOT NULL DEFAULT '',
			in_conflict INTEGER NOT NULL DEFAULT 0,
			import_marker TEXT,
			created_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_refs_project ON refs(project_id);
		CREATE INDEX IF NOT EXISTS idx_refs_marker ON refs(import_marker) WHERE import_marker IS NOT NULL;

		-- Full-text search over authors and title (standalone, kept in sync by writers)
		CREATE VIRTUAL TABLE IF NOT EXISTS refs_fts USING fts5(
			ref_id UNINDEXED,
			title,
			authors_text
		);

		CREATE TABLE IF NOT EXISTS ref_identifiers (
			ref_id INTEGER NOT NULL REFERENCES refs(id) ON DELETE CASCADE,
			identifier_id INTEGER NOT NULL REFERENCES identifiers(id),
			PRIMARY KEY (ref_id, identifier_id)
		);
		CREATE INDEX IF NOT EXISTS idx_ref_identifiers_identifier ON ref_identifiers(identifier_id);

		CREATE TABLE IF NOT EXISTS import_batches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL DEFAULT '',
			query TEXT NOT NULL DEFAULT '',
			file_name TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS ref_batches (
			ref_id INTEGER NOT NULL REFERENCES refs(id) ON DELETE CASCADE,
			batch_id INTEGER NOT NULL REFERENCES import_batches(id) ON DELETE CASCADE,
			PRIMARY KEY (ref_id, batch_id)
		);
		CREATE INDEX IF NOT EXISTS idx_ref_batches_batch ON ref_batches(batch_id);

		-- Materialized-path taxonomy. (project_id, path) is deliberately not
		-- unique: duplicates are detected after each structural edit.
		CREATE TABLE IF NOT EXISTS tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			name TEXT NOT NULL,
			path TEXT NOT NULL,
			depth INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_tags_project_path ON tags(project_id, path);

		-- Resolved (consensus) tag assignments
		CREATE TABLE IF NOT EXISTS ref_tags (
			ref_id INTEGER NOT NULL REFERENCES refs(id) ON DELETE CASCADE,
			tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			PRIMARY KEY (ref_id, tag_id)
		);
		CREATE INDEX IF NOT EXISTS idx_ref_tags_tag ON ref_tags(tag_id);

		-- One row per completed reviewer pass; an empty tag set is still a pass
		CREATE TABLE IF NOT EXISTS reviewer_passes (
			ref_id INTEGER NOT NULL REFERENCES refs(id) ON DELETE CASCADE,
			reviewer TEXT NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (ref_id, reviewer)
		);

		CREATE TABLE IF NOT EXISTS reviewer_tags (
			ref_id INTEGER NOT NULL REFERENCES refs(id) ON DELETE CASCADE,
			tag_id INTEGER NOT NULL REFERENCES tags(id) ON DELETE CASCADE,
			reviewer TEXT NOT NULL,
			PRIMARY KEY (ref_id, reviewer, tag_id)
		);
		CREATE INDEX IF NOT EXISTS idx_reviewer_tags_tag ON reviewer_tags(tag_id);

		CREATE TABLE IF NOT EXISTS workflows (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id INTEGER NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			title TEXT NOT NULL,
			admission_tags_json TEXT NOT NULL,
			admission_include_descendants INTEGER NOT NULL DEFAULT 0,
			completion_tags_json TEXT NOT NULL
		);
	`

	_, err := db.Exec(schema)
	return err
}

// now returns the current time in the stored timestamp format.
func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// scanner interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

// idList encodes ids as a JSON array for use with json_each, which keeps
// the statement's parameter count fixed however many ids there are.
func idList(ids []int64) string {
	if ids == nil {
		ids = []int64{}
	}
	b, _ := json.Marshal(ids)
	return string(b)
}

// inIDs is the SQL fragment matching a column against an idList argument.
const inIDs = ` IN (SELECT value FROM json_each(?))`

// scanIDs collects a single int64 column.
func scanIDs(rows *sql.Rows) ([]int64, error) {
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (c *Conn) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return scanIDs(rows)
}

// placeholders returns "(?, ?, ...)" with n markers.
func placeholders(n int) string {
	return "(" + strings.TrimSuffix(strings.Repeat("?, ", n), ", ") + ")"
}

// prepareSearchQuery turns free text into an FTS5 query over title and
// authors. Every word must match, as a prefix ("Tim" matches "Timothy").
func prepareSearchQuery(text string) string {
	var terms []string
	for _, part := range strings.Fields(text) {
		escaped := strings.ReplaceAll(part, "\"", "\"\"")
		terms = append(terms, "\""+escaped+"\"*")
	}
	return strings.Join(terms, " AND ")
}
