package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

// TagPair is one (reference, tag) assignment.
type TagPair struct {
	RefID int64 `json:"ref_id"`
	TagID int64 `json:"tag_id"`
}

func pairList(pairs []TagPair) string {
	arr := make([][2]int64, len(pairs))
	for i, p := range pairs {
		arr[i] = [2]int64{p.RefID, p.TagID}
	}
	b, _ := json.Marshal(arr)
	return string(b)
}

// ResolvedTags returns the resolved tag ids of each reference, ascending.
// References without tags are absent from the map.
func (c *Conn) ResolvedTags(ctx context.Context, refIDs []int64) (map[int64][]int64, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT ref_id, tag_id FROM ref_tags WHERE ref_id`+inIDs+` ORDER BY ref_id, tag_id
	`, idList(refIDs))
	if err != nil {
		return nil, fmt.Errorf("loading resolved tags: %w", err)
	}
	defer rows.Close()

	out := make(map[int64][]int64)
	for rows.Next() {
		var refID, tagID int64
		if err := rows.Scan(&refID, &tagID); err != nil {
			return nil, err
		}
		out[refID] = append(out[refID], tagID)
	}
	return out, rows.Err()
}

// AddRefTags inserts resolved assignments, ignoring ones that exist.
// Returns how many were new.
func (t *Tx) AddRefTags(ctx context.Context, pairs []TagPair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	res, err := t.q.ExecContext(ctx, `
		INSERT OR IGNORE INTO ref_tags (ref_id, tag_id)
		SELECT json_extract(value, '$[0]'), json_extract(value, '$[1]') FROM json_each(?)
	`, pairList(pairs))
	if err != nil {
		return 0, fmt.Errorf("adding tag assignments: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// RemoveRefTags deletes resolved assignments. Pairs that do not exist are
// ignored. Returns how many were removed.
func (t *Tx) RemoveRefTags(ctx context.Context, pairs []TagPair) (int, error) {
	if len(pairs) == 0 {
		return 0, nil
	}
	res, err := t.q.ExecContext(ctx, `
		DELETE FROM ref_tags
		WHERE (ref_id, tag_id) IN (
			SELECT json_extract(value, '$[0]'), json_extract(value, '$[1]') FROM json_each(?)
		)
	`, pairList(pairs))
	if err != nil {
		return 0, fmt.Errorf("removing tag assignments: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// SetRefTags replaces one reference's resolved tags.
func (t *Tx) SetRefTags(ctx context.Context, refID int64, tagIDs []int64) error {
	if _, err := t.q.ExecContext(ctx, `DELETE FROM ref_tags WHERE ref_id = ?`, refID); err != nil {
		return fmt.Errorf("clearing tags of reference %d: %w", refID, err)
	}
	pairs := make([]TagPair, len(tagIDs))
	for i, id := range tagIDs {
		pairs[i] = TagPair{RefID: refID, TagID: id}
	}
	_, err := t.AddRefTags(ctx, pairs)
	return err
}

// RefsWithTags returns the references carrying any of tagIDs as a resolved tag.
func (c *Conn) RefsWithTags(ctx context.Context, tagIDs []int64) ([]int64, error) {
	return c.queryIDs(ctx, `
		SELECT DISTINCT ref_id FROM ref_tags WHERE tag_id`+inIDs+` ORDER BY ref_id
	`, idList(tagIDs))
}

// TaggedRefIDs returns a project's references with at least one resolved tag.
func (c *Conn) TaggedRefIDs(ctx context.Context, projectID int64) ([]int64, error) {
	return c.queryIDs(ctx, `
		SELECT DISTINCT rt.ref_id FROM ref_tags rt JOIN refs r ON r.id = rt.ref_id
		WHERE r.project_id = ? ORDER BY rt.ref_id
	`, projectID)
}

// RefsWithAnyTag returns the refIDs carrying a resolved or a reviewer tag.
func (c *Conn) RefsWithAnyTag(ctx context.Context, refIDs []int64) ([]int64, error) {
	ids := idList(refIDs)
	return c.queryIDs(ctx, `
		SELECT ref_id FROM ref_tags WHERE ref_id`+inIDs+`
		UNION
		SELECT ref_id FROM reviewer_tags WHERE ref_id`+inIDs+`
		ORDER BY ref_id
	`, ids, ids)
}

// SetReviewerPass records one reviewer's tag set for a reference, replacing
// that reviewer's previous pass. An empty set is a valid pass.
func (t *Tx) SetReviewerPass(ctx context.Context, refID int64, reviewer string, tagIDs []int64) error {
	if _, err := t.q.ExecContext(ctx, `
		DELETE FROM reviewer_tags WHERE ref_id = ? AND reviewer = ?
	`, refID, reviewer); err != nil {
		return fmt.Errorf("clearing reviewer tags: %w", err)
	}
	if len(tagIDs) > 0 {
		if _, err := t.q.ExecContext(ctx, `
			INSERT OR IGNORE INTO reviewer_tags (ref_id, tag_id, reviewer)
			SELECT ?, value, ? FROM json_each(?)
		`, refID, reviewer, idList(tagIDs)); err != nil {
			return fmt.Errorf("storing reviewer tags: %w", err)
		}
	}
	if _, err := t.q.ExecContext(ctx, `
		INSERT INTO reviewer_passes (ref_id, reviewer, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (ref_id, reviewer) DO UPDATE SET updated_at = excluded.updated_at
	`, refID, reviewer, now()); err != nil {
		return fmt.Errorf("recording reviewer pass: %w", err)
	}
	return nil
}

// ReviewerSets returns, per reference, every reviewer's tag set. Reviewers
// who completed a pass without tags map to an empty set.
func (c *Conn) ReviewerSets(ctx context.Context, refIDs []int64) (map[int64]map[string][]int64, error) {
	ids := idList(refIDs)
	out := make(map[int64]map[string][]int64)

	rows, err := c.q.QueryContext(ctx, `
		SELECT ref_id, reviewer FROM reviewer_passes WHERE ref_id`+inIDs+`
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("loading reviewer passes: %w", err)
	}
	for rows.Next() {
		var refID int64
		var reviewer string
		if err := rows.Scan(&refID, &reviewer); err != nil {
			rows.Close()
			return nil, err
		}
		if out[refID] == nil {
			out[refID] = make(map[string][]int64)
		}
		out[refID][reviewer] = []int64{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = c.q.QueryContext(ctx, `
		SELECT ref_id, reviewer, tag_id FROM reviewer_tags WHERE ref_id`+inIDs+`
		ORDER BY ref_id, reviewer, tag_id
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("loading reviewer tags: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var refID, tagID int64
		var reviewer string
		if err := rows.Scan(&refID, &reviewer, &tagID); err != nil {
			return nil, err
		}
		if out[refID] == nil {
			out[refID] = make(map[string][]int64)
		}
		out[refID][reviewer] = append(out[refID][reviewer], tagID)
	}
	return out, rows.Err()
}

// ReviewerCounts returns how many reviewers completed a pass on each of a
// project's references. References nobody reviewed are absent.
func (c *Conn) ReviewerCounts(ctx context.Context, projectID int64) (map[int64]int, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT p.ref_id, COUNT(*) FROM reviewer_passes p JOIN refs r ON r.id = p.ref_id
		WHERE r.project_id = ? GROUP BY p.ref_id
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("counting reviewer passes: %w", err)
	}
	defer rows.Close()

	out := make(map[int64]int)
	for rows.Next() {
		var refID int64
		var n int
		if err := rows.Scan(&refID, &n); err != nil {
			return nil, err
		}
		out[refID] = n
	}
	return out, rows.Err()
}

// RefsTaggedBy returns a project's references that reviewer has tagged.
func (c *Conn) RefsTaggedBy(ctx context.Context, projectID int64, reviewer string) ([]int64, error) {
	return c.queryIDs(ctx, `
		SELECT DISTINCT rt.ref_id FROM reviewer_tags rt JOIN refs r ON r.id = rt.ref_id
		WHERE r.project_id = ? AND rt.reviewer = ? ORDER BY rt.ref_id
	`, projectID, reviewer)
}

// ConflictRefIDs returns a project's references flagged in conflict.
func (c *Conn) ConflictRefIDs(ctx context.Context, projectID int64) ([]int64, error) {
	return c.queryIDs(ctx, `
		SELECT id FROM refs WHERE project_id = ? AND in_conflict = 1 ORDER BY id
	`, projectID)
}
