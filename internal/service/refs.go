package service

import (
	"context"
	"fmt"

	"github.com/matsen/litreview/internal/identifier"
	"github.com/matsen/litreview/internal/query"
	"github.com/matsen/litreview/internal/reference"
	"github.com/matsen/litreview/internal/storage"
)

// Page is one page of query results.
type Page struct {
	Total      int                   `json:"total"`
	Offset     int                   `json:"offset"`
	References []reference.Reference `json:"references"`
}

// QueryReferences filters a project's references. The user is the reviewer
// for AnythingTaggedByMe.
func (s *Service) QueryReferences(ctx context.Context, user string, projectID int64, spec query.Spec) (*Page, error) {
	if err := s.canView(ctx, user, projectID); err != nil {
		return nil, err
	}
	spec.Reviewer = user
	refs, total, err := s.query.Page(ctx, projectID, &spec)
	if err != nil {
		return nil, err
	}
	return &Page{Total: total, Offset: spec.Offset, References: refs}, nil
}

// ReferenceDetail is a reference with everything linked to it.
type ReferenceDetail struct {
	reference.Reference
	Identifiers []identifier.Identifier `json:"identifiers"`
	Tags        []int64                 `json:"tags"`
	Reviewers   map[string][]int64      `json:"reviewers,omitempty"`
}

// GetReference returns one reference of a project with its identifiers,
// resolved tags and reviewer passes.
func (s *Service) GetReference(ctx context.Context, user string, projectID, refID int64) (*ReferenceDetail, error) {
	if err := s.canView(ctx, user, projectID); err != nil {
		return nil, err
	}
	ref, err := s.db.GetReference(ctx, refID)
	if err != nil {
		return nil, err
	}
	if ref.ProjectID != projectID {
		return nil, fmt.Errorf("reference %d in project %d: %w", refID, projectID, storage.ErrNotFound)
	}

	ids := []int64{refID}
	idents, err := s.db.RefIdentifiers(ctx, ids)
	if err != nil {
		return nil, err
	}
	tags, err := s.db.ResolvedTags(ctx, ids)
	if err != nil {
		return nil, err
	}
	reviewers, err := s.db.ReviewerSets(ctx, ids)
	if err != nil {
		return nil, err
	}
	return &ReferenceDetail{
		Reference:   *ref,
		Identifiers: idents[refID],
		Tags:        tags[refID],
		Reviewers:   reviewers[refID],
	}, nil
}
