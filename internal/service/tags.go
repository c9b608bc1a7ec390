package service

import (
	"context"

	"github.com/matsen/litreview/internal/storage"
	"github.com/matsen/litreview/internal/tag"
	"github.com/matsen/litreview/internal/tagging"
)

// TagTree is a project's taxonomy, nested and flattened.
type TagTree struct {
	Roots     []*tag.Node     `json:"roots"`
	Flattened []tag.Flattened `json:"flattened"`
}

// GetTagTree returns a project's taxonomy.
func (s *Service) GetTagTree(ctx context.Context, user string, projectID int64) (*TagTree, error) {
	if err := s.canView(ctx, user, projectID); err != nil {
		return nil, err
	}
	tags, err := s.db.ProjectTags(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &TagTree{Roots: tag.BuildTree(tags), Flattened: tag.Flatten(tags)}, nil
}

// AddTag appends a child under parentID. A zero parentID means the root.
func (s *Service) AddTag(ctx context.Context, user string, projectID, parentID int64, name string) (*tag.Tag, error) {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return nil, err
	}
	if parentID == 0 {
		p, err := s.db.GetProject(ctx, projectID)
		if err != nil {
			return nil, err
		}
		root, err := s.tree.EnsureRoot(ctx, projectID, p.Name)
		if err != nil {
			return nil, err
		}
		parentID = root.ID
	}
	return s.tree.AddChild(ctx, projectID, parentID, name)
}

// RenameTag changes a tag's name.
func (s *Service) RenameTag(ctx context.Context, user string, projectID, tagID int64, name string) error {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return err
	}
	return s.tree.Rename(ctx, projectID, tagID, name)
}

// DeleteTag removes a tag, its descendants and their assignments.
func (s *Service) DeleteTag(ctx context.Context, user string, projectID, tagID int64) (int, error) {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return 0, err
	}
	return s.tree.DeleteSubtree(ctx, projectID, tagID)
}

// CopyTagTree clones src's taxonomy into dst. The user needs to view src
// and edit dst.
func (s *Service) CopyTagTree(ctx context.Context, user string, src, dst int64, confirm bool) (int, error) {
	if err := s.canView(ctx, user, src); err != nil {
		return 0, err
	}
	if err := s.canEdit(ctx, user, dst); err != nil {
		return 0, err
	}
	return s.tree.CopyAll(ctx, src, dst, confirm)
}

// BulkTag edits resolved tags in one all-or-nothing batch.
func (s *Service) BulkTag(ctx context.Context, user string, projectID int64, mode tagging.Mode, pairs []storage.TagPair, dryRun bool) (*tagging.Result, error) {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return nil, err
	}
	return s.tagger.Apply(ctx, projectID, mode, pairs, dryRun)
}

// SetReviewerTags records user's own review of a reference.
func (s *Service) SetReviewerTags(ctx context.Context, user string, projectID, refID int64, tagIDs []int64) (*tagging.Resolution, error) {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return nil, err
	}
	return s.tagger.SetReviewerTags(ctx, projectID, user, refID, tagIDs)
}

// ResolveConflict settles a disagreement by fixing the resolved tags.
func (s *Service) ResolveConflict(ctx context.Context, user string, projectID, refID int64, tagIDs []int64) (*tagging.Resolution, error) {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return nil, err
	}
	return s.tagger.ResolveConflict(ctx, projectID, refID, tagIDs)
}

// Conflicts lists references whose reviewers disagree.
func (s *Service) Conflicts(ctx context.Context, user string, projectID int64) ([]tagging.Conflict, error) {
	if err := s.canView(ctx, user, projectID); err != nil {
		return nil, err
	}
	return s.tagger.Conflicts(ctx, projectID)
}
