package tagging

import (
	"context"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/matsen/litreview/internal/storage"
)

// Resolution is a reference's state after a reviewer pass or a manual
// resolution.
type Resolution struct {
	RefID      int64   `json:"ref_id"`
	Tags       []int64 `json:"tags"`
	InConflict bool    `json:"in_conflict"`
}

// Conflict is a reference whose reviewers disagree.
type Conflict struct {
	RefID     int64              `json:"ref_id"`
	Title     string             `json:"title"`
	Reviewers map[string][]int64 `json:"reviewers"`
}

// checkAssignment rejects a reference or tags outside the project.
func checkAssignment(ctx context.Context, tx *storage.Tx, projectID, refID int64, tagIDs []int64) error {
	foreign, err := tx.ForeignRefs(ctx, projectID, []int64{refID})
	if err != nil {
		return err
	}
	if len(foreign) > 0 {
		return storage.Invalid("ref_id", "reference %d is not in project %d", refID, projectID)
	}
	badTags, err := tx.ForeignTags(ctx, projectID, tagIDs)
	if err != nil {
		return err
	}
	if len(badTags) > 0 {
		return storage.Invalid("tag_id", "tag %d is not in project %d", badTags[0], projectID)
	}
	return nil
}

// SetReviewerTags stores reviewer's pass over a reference and reconciles it
// with the other reviewers' passes. Agreement replaces the resolved tags and
// clears the conflict flag; disagreement leaves the resolved tags alone and
// flags the reference.
func (m *Mutator) SetReviewerTags(ctx context.Context, projectID int64, reviewer string, refID int64, tagIDs []int64) (*Resolution, error) {
	reviewer = strings.TrimSpace(reviewer)
	if reviewer == "" {
		return nil, storage.Invalid("reviewer", "reviewer is required")
	}
	tags := sorted(mapset.NewSet(tagIDs...))

	res := &Resolution{RefID: refID}
	err := m.db.WithTx(ctx, func(tx *storage.Tx) error {
		if err := checkAssignment(ctx, tx, projectID, refID, tags); err != nil {
			return err
		}
		if err := tx.SetReviewerPass(ctx, refID, reviewer, tags); err != nil {
			return err
		}
		passes, err := tx.ReviewerSets(ctx, []int64{refID})
		if err != nil {
			return err
		}

		resolved, conflict := Resolve(toSets(passes[refID]))
		res.InConflict = conflict
		if conflict {
			current, err := tx.ResolvedTags(ctx, []int64{refID})
			if err != nil {
				return err
			}
			res.Tags = current[refID]
			return tx.SetInConflict(ctx, refID, true)
		}
		res.Tags = sorted(resolved)
		if err := tx.SetRefTags(ctx, refID, res.Tags); err != nil {
			return err
		}
		return tx.SetInConflict(ctx, refID, false)
	})
	if err != nil {
		return nil, err
	}

	entry := log.WithFields(log.Fields{"project": projectID, "reviewer": reviewer})
	if res.InConflict {
		entry.Infof("reference %d is in conflict", refID)
	} else {
		entry.Debugf("reference %d resolved to %v", refID, res.Tags)
	}
	return res, nil
}

// ResolveConflict sets a reference's resolved tags by hand and clears its
// conflict flag. Reviewer passes are kept as they were.
func (m *Mutator) ResolveConflict(ctx context.Context, projectID, refID int64, tagIDs []int64) (*Resolution, error) {
	tags := sorted(mapset.NewSet(tagIDs...))
	err := m.db.WithTx(ctx, func(tx *storage.Tx) error {
		if err := checkAssignment(ctx, tx, projectID, refID, tags); err != nil {
			return err
		}
		if err := tx.SetRefTags(ctx, refID, tags); err != nil {
			return err
		}
		return tx.SetInConflict(ctx, refID, false)
	})
	if err != nil {
		return nil, err
	}
	return &Resolution{RefID: refID, Tags: tags}, nil
}

// Conflicts lists the project's references in conflict with each reviewer's
// tag set.
func (m *Mutator) Conflicts(ctx context.Context, projectID int64) ([]Conflict, error) {
	ids, err := m.db.ConflictRefIDs(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	refs, err := m.db.GetReferences(ctx, ids)
	if err != nil {
		return nil, err
	}
	passes, err := m.db.ReviewerSets(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("loading reviewer passes: %w", err)
	}

	out := make([]Conflict, 0, len(refs))
	for _, ref := range refs {
		out = append(out, Conflict{RefID: ref.ID, Title: ref.Title, Reviewers: passes[ref.ID]})
	}
	return out, nil
}
