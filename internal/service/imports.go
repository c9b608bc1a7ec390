package service

import (
	"context"
	"io"

	"github.com/matsen/litreview/internal/identifier"
	"github.com/matsen/litreview/internal/importer"
	"github.com/matsen/litreview/internal/reference"
	"github.com/matsen/litreview/internal/storage"
)

// ImportKind selects how SubmitImport obtains records.
type ImportKind string

const (
	ImportSearch ImportKind = "search" // run Query against Source
	ImportIDs    ImportKind = "ids"    // fetch IDs from Source
	ImportRIS    ImportKind = "ris"    // parse File
	ImportPDF    ImportKind = "pdf"    // recover DOIs from Paths
)

// ImportRequest describes one submission. Which fields matter depends on
// Kind.
type ImportRequest struct {
	Kind   ImportKind
	Source identifier.Source
	Title  string

	Query string
	IDs   []string

	FileName string
	File     io.Reader

	Paths []string
}

// SubmitImport runs a search or upload into a new import batch.
func (s *Service) SubmitImport(ctx context.Context, user string, projectID int64, req ImportRequest) (*importer.Result, error) {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return nil, err
	}
	switch req.Kind {
	case ImportSearch:
		return s.importer.SubmitSearch(ctx, projectID, req.Source, req.Query, req.Title)
	case ImportIDs:
		return s.importer.SubmitIDs(ctx, projectID, req.Source, req.IDs, req.Title)
	case ImportRIS:
		if req.File == nil {
			return nil, storage.Invalid("file", "no RIS file given")
		}
		return s.importer.SubmitRIS(ctx, projectID, req.FileName, req.File)
	case ImportPDF:
		return s.importer.SubmitPDFs(ctx, projectID, req.Paths)
	}
	return nil, storage.Invalid("kind", "unknown import kind %q", req.Kind)
}

// RefreshImport re-runs a search batch.
func (s *Service) RefreshImport(ctx context.Context, user string, batchID int64) (*importer.Result, error) {
	batch, err := s.db.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := s.canEdit(ctx, user, batch.ProjectID); err != nil {
		return nil, err
	}
	return s.importer.RefreshSearch(ctx, batchID)
}

// ListImports returns a project's import batches.
func (s *Service) ListImports(ctx context.Context, user string, projectID int64) ([]reference.ImportBatch, error) {
	if err := s.canView(ctx, user, projectID); err != nil {
		return nil, err
	}
	return s.db.ListBatches(ctx, projectID)
}

// DeleteImport removes an import batch and the references only it brought
// in, keeping any reference that is tagged, promoted or held by another
// batch.
func (s *Service) DeleteImport(ctx context.Context, user string, projectID, batchID int64) (*importer.DeleteResult, error) {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return nil, err
	}
	return s.importer.DeleteBatch(ctx, projectID, batchID)
}

// DeleteReference removes one reference unless it has been promoted.
func (s *Service) DeleteReference(ctx context.Context, user string, projectID, refID int64) error {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return err
	}
	return s.importer.DeleteReference(ctx, projectID, refID)
}

// ReplaceIdentifiers points references at different external records of one
// source.
func (s *Service) ReplaceIdentifiers(ctx context.Context, user string, projectID int64, source identifier.Source, reps []importer.Replacement) (int, error) {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return 0, err
	}
	return s.importer.ReplaceIdentifiers(ctx, projectID, source, reps)
}
