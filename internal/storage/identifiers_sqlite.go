package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/matsen/litreview/internal/identifier"
)

// keyList encodes keys as a JSON array of [source, external_id] pairs for
// joining against json_each.
func keyList(keys []identifier.Key) string {
	pairs := make([][2]string, len(keys))
	for i, k := range keys {
		pairs[i] = [2]string{string(k.Source), k.ExternalID}
	}
	b, _ := json.Marshal(pairs)
	return string(b)
}

// keyJoin joins identifiers i against a keyList argument.
const keyJoin = ` JOIN json_each(?) k
	ON i.source = json_extract(k.value, '$[0]') AND i.external_id = json_extract(k.value, '$[1]')`

// LookupIdentifiers returns the stored identifiers among keys. Content is
// only loaded when withContent is set.
func (c *Conn) LookupIdentifiers(ctx context.Context, keys []identifier.Key, withContent bool) (map[identifier.Key]identifier.Identifier, error) {
	found := make(map[identifier.Key]identifier.Identifier, len(keys))
	if len(keys) == 0 {
		return found, nil
	}

	content := "NULL"
	if withContent {
		content = "i.content"
	}
	rows, err := c.q.QueryContext(ctx, `
		SELECT i.id, i.source, i.external_id, `+content+`, i.content_hash, i.updated_at
		FROM identifiers i`+keyJoin, keyList(keys))
	if err != nil {
		return nil, fmt.Errorf("looking up identifiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		ident, err := scanIdentifier(rows)
		if err != nil {
			return nil, err
		}
		found[ident.Key()] = ident
	}
	return found, rows.Err()
}

func scanIdentifier(s scanner) (identifier.Identifier, error) {
	var ident identifier.Identifier
	var hash sql.NullString
	err := s.Scan(&ident.ID, &ident.Source, &ident.ExternalID, &ident.Content, &hash, &ident.UpdatedAt)
	ident.ContentHash = hash.String
	return ident, err
}

// UpsertIdentifiers stores identifiers by (source, external id), setting each
// element's ID. An existing row is reused; its content is replaced only when
// new content is given and its hash differs. Returns how many rows were new.
func (t *Tx) UpsertIdentifiers(ctx context.Context, idents []identifier.Identifier) (int, error) {
	keys := make([]identifier.Key, len(idents))
	for i, ident := range idents {
		keys[i] = ident.Key()
	}
	existing, err := t.LookupIdentifiers(ctx, keys, false)
	if err != nil {
		return 0, err
	}

	created := 0
	ts := now()
	for i := range idents {
		ident := &idents[i]
		if len(ident.Content) > 0 {
			ident.ContentHash = identifier.Hash(ident.Content)
		}

		if old, ok := existing[ident.Key()]; ok {
			ident.ID = old.ID
			if len(ident.Content) == 0 || old.ContentHash == ident.ContentHash {
				continue
			}
			if _, err := t.q.ExecContext(ctx, `
				UPDATE identifiers SET content = ?, content_hash = ?, updated_at = ? WHERE id = ?
			`, ident.Content, ident.ContentHash, ts, ident.ID); err != nil {
				return 0, fmt.Errorf("refreshing identifier %s: %w", ident.Key(), err)
			}
			continue
		}

		res, err := t.q.ExecContext(ctx, `
			INSERT INTO identifiers (source, external_id, content, content_hash, updated_at)
			VALUES (?, ?, ?, ?, ?)
		`, ident.Source, ident.ExternalID, ident.Content, nullableStringValue(ident.ContentHash), ts)
		if err != nil {
			return 0, fmt.Errorf("inserting identifier %s: %w", ident.Key(), err)
		}
		if ident.ID, err = res.LastInsertId(); err != nil {
			return 0, err
		}
		ident.UpdatedAt = ts
		existing[ident.Key()] = *ident
		created++
	}
	return created, nil
}

// ResolveKeys maps each key that is already linked to a reference in the
// project onto that reference.
func (c *Conn) ResolveKeys(ctx context.Context, projectID int64, keys []identifier.Key) (map[identifier.Key]int64, error) {
	resolved := make(map[identifier.Key]int64)
	if len(keys) == 0 {
		return resolved, nil
	}

	rows, err := c.q.QueryContext(ctx, `
		SELECT i.source, i.external_id, MIN(ri.ref_id)
		FROM identifiers i`+keyJoin+`
		JOIN ref_identifiers ri ON ri.identifier_id = i.id
		JOIN refs r ON r.id = ri.ref_id
		WHERE r.project_id = ?
		GROUP BY i.id
	`, keyList(keys), projectID)
	if err != nil {
		return nil, fmt.Errorf("resolving identifiers: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var k identifier.Key
		var refID int64
		if err := rows.Scan(&k.Source, &k.ExternalID, &refID); err != nil {
			return nil, err
		}
		resolved[k] = refID
	}
	return resolved, rows.Err()
}

// RefIdentifier links a reference to an identifier.
type RefIdentifier struct {
	RefID        int64
	IdentifierID int64
}

// LinkIdentifiers associates references with identifiers. Existing links are kept.
func (t *Tx) LinkIdentifiers(ctx context.Context, links []RefIdentifier) error {
	if len(links) == 0 {
		return nil
	}
	pairs := make([][2]int64, len(links))
	for i, l := range links {
		pairs[i] = [2]int64{l.RefID, l.IdentifierID}
	}
	b, _ := json.Marshal(pairs)
	_, err := t.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO ref_identifiers (ref_id, identifier_id)
		SELECT json_extract(value, '$[0]'), json_extract(value, '$[1]') FROM json_each(?)
	`, string(b))
	if err != nil {
		return fmt.Errorf("linking identifiers: %w", err)
	}
	return nil
}

// UnlinkSource removes a reference's identifiers from one source.
func (t *Tx) UnlinkSource(ctx context.Context, refID int64, source identifier.Source) error {
	_, err := t.q.ExecContext(ctx, `
		DELETE FROM ref_identifiers
		WHERE ref_id = ? AND identifier_id IN (SELECT id FROM identifiers WHERE source = ?)
	`, refID, source)
	if err != nil {
		return fmt.Errorf("unlinking %s identifiers from reference %d: %w", source, refID, err)
	}
	return nil
}

// RefIdentifiers returns the identifiers (without content) linked to each reference.
func (c *Conn) RefIdentifiers(ctx context.Context, refIDs []int64) (map[int64][]identifier.Identifier, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT ri.ref_id, i.id, i.source, i.external_id, NULL, i.content_hash, i.updated_at
		FROM ref_identifiers ri
		JOIN identifiers i ON i.id = ri.identifier_id
		WHERE ri.ref_id`+inIDs+`
		ORDER BY ri.ref_id, i.source, i.external_id
	`, idList(refIDs))
	if err != nil {
		return nil, fmt.Errorf("listing reference identifiers: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]identifier.Identifier)
	for rows.Next() {
		var refID int64
		var ident identifier.Identifier
		var hash sql.NullString
		if err := rows.Scan(&refID, &ident.ID, &ident.Source, &ident.ExternalID, &ident.Content, &hash, &ident.UpdatedAt); err != nil {
			return nil, err
		}
		ident.ContentHash = hash.String
		out[refID] = append(out[refID], ident)
	}
	return out, rows.Err()
}

// CountIdentifiers returns the number of stored identifiers from source, or
// from every source when source is "".
func (c *Conn) CountIdentifiers(ctx context.Context, source identifier.Source) (int, error) {
	var count int
	err := c.q.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM identifiers WHERE ? = '' OR source = ?
	`, source, source).Scan(&count)
	return count, err
}

// nullableStringValue converts a string to sql.NullString, treating empty as NULL.
func nullableStringValue(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
