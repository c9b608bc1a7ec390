// Package service is the access-checked API over projects, imports, tags
// and queries. Every read consults access.Checker.CanView and every mutation
// CanEdit before doing any work.
package service

import (
	"context"
	"fmt"

	"github.com/matsen/litreview/internal/access"
	"github.com/matsen/litreview/internal/importer"
	"github.com/matsen/litreview/internal/project"
	"github.com/matsen/litreview/internal/query"
	"github.com/matsen/litreview/internal/storage"
	"github.com/matsen/litreview/internal/tagging"
	"github.com/matsen/litreview/internal/tagtree"
)

// Service bundles the components behind one access checker.
type Service struct {
	db       *storage.DB
	access   access.Checker
	importer *importer.Engine
	tree     *tagtree.Tree
	tagger   *tagging.Mutator
	query    *query.Engine

	requiredReviewers int
}

// Option configures a Service.
type Option func(*Service)

// WithRequiredReviewers sets the default for projects created without one.
func WithRequiredReviewers(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.requiredReviewers = n
		}
	}
}

// New creates a Service. imp carries the configured external sources.
func New(db *storage.DB, checker access.Checker, imp *importer.Engine, opts ...Option) *Service {
	s := &Service{
		db:                db,
		access:            checker,
		importer:          imp,
		tree:              tagtree.New(db),
		tagger:            tagging.NewMutator(db),
		query:             query.NewEngine(db),
		requiredReviewers: project.DefaultRequiredReviewers,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) canView(ctx context.Context, user string, projectID int64) error {
	ok, err := s.access.CanView(ctx, user, projectID)
	if err != nil {
		return fmt.Errorf("checking access: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s may not view project %d: %w", user, projectID, access.ErrForbidden)
	}
	return nil
}

func (s *Service) canEdit(ctx context.Context, user string, projectID int64) error {
	ok, err := s.access.CanEdit(ctx, user, projectID)
	if err != nil {
		return fmt.Errorf("checking access: %w", err)
	}
	if !ok {
		return fmt.Errorf("%s may not edit project %d: %w", user, projectID, access.ErrForbidden)
	}
	return nil
}

// CreateProject creates a project together with its root tag, named after
// the project. Creating projects needs an edit grant covering every project.
func (s *Service) CreateProject(ctx context.Context, user, name string, requiredReviewers int) (*project.Project, error) {
	if err := s.canEdit(ctx, user, 0); err != nil {
		return nil, err
	}
	if requiredReviewers == 0 {
		requiredReviewers = s.requiredReviewers
	}
	p := &project.Project{Name: name, RequiredReviewers: requiredReviewers}
	if err := s.db.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.CreateProject(ctx, p); err != nil {
			return err
		}
		_, err := tagtree.CreateRoot(ctx, tx, p.ID, p.Name)
		return err
	}); err != nil {
		return nil, err
	}
	return p, nil
}

// ListProjects returns the projects user may view.
func (s *Service) ListProjects(ctx context.Context, user string) ([]project.Project, error) {
	all, err := s.db.ListProjects(ctx)
	if err != nil {
		return nil, err
	}
	var visible []project.Project
	for _, p := range all {
		ok, err := s.access.CanView(ctx, user, p.ID)
		if err != nil {
			return nil, fmt.Errorf("checking access: %w", err)
		}
		if ok {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

// GetProject returns one project.
func (s *Service) GetProject(ctx context.Context, user string, projectID int64) (*project.Project, error) {
	if err := s.canView(ctx, user, projectID); err != nil {
		return nil, err
	}
	return s.db.GetProject(ctx, projectID)
}

// SetRequiredReviewers changes how many reviewer passes a reference needs.
func (s *Service) SetRequiredReviewers(ctx context.Context, user string, projectID int64, n int) error {
	if err := s.canEdit(ctx, user, projectID); err != nil {
		return err
	}
	return s.db.WithTx(ctx, func(tx *storage.Tx) error {
		return tx.SetRequiredReviewers(ctx, projectID, n)
	})
}

// CreateWorkflow stores a workflow on its project.
func (s *Service) CreateWorkflow(ctx context.Context, user string, w *project.Workflow) error {
	if err := s.canEdit(ctx, user, w.ProjectID); err != nil {
		return err
	}
	return s.db.WithTx(ctx, func(tx *storage.Tx) error {
		return tx.CreateWorkflow(ctx, w)
	})
}

// ListWorkflows returns a project's workflows.
func (s *Service) ListWorkflows(ctx context.Context, user string, projectID int64) ([]project.Workflow, error) {
	if err := s.canView(ctx, user, projectID); err != nil {
		return nil, err
	}
	return s.db.ListWorkflows(ctx, projectID)
}
