package query

import (
	"context"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/matsen/litreview/internal/project"
	"github.com/matsen/litreview/internal/reference"
	"github.com/matsen/litreview/internal/storage"
	"github.com/matsen/litreview/internal/tagtree"
)

// Engine runs Specs against a database.
type Engine struct {
	db *storage.DB
}

// NewEngine returns an Engine over db.
func NewEngine(db *storage.DB) *Engine {
	return &Engine{db: db}
}

// Query returns the matching references ordered by id. Limit and Offset
// page through the same ordering, so a listing can be resumed.
func (e *Engine) Query(ctx context.Context, projectID int64, spec *Spec) ([]reference.Reference, error) {
	var refs []reference.Reference
	err := e.read(ctx, projectID, spec, func(tx *storage.Tx, f storage.RefFilter) error {
		var err error
		refs, err = tx.ListReferences(ctx, f)
		return err
	})
	return refs, err
}

// Count returns how many references match, ignoring Limit and Offset.
func (e *Engine) Count(ctx context.Context, projectID int64, spec *Spec) (int, error) {
	var n int
	err := e.read(ctx, projectID, spec, func(tx *storage.Tx, f storage.RefFilter) error {
		var err error
		n, err = tx.CountReferences(ctx, f)
		return err
	})
	return n, err
}

// Page returns one page of matches together with the total they were taken
// from, both read from the same snapshot.
func (e *Engine) Page(ctx context.Context, projectID int64, spec *Spec) ([]reference.Reference, int, error) {
	var (
		refs  []reference.Reference
		total int
	)
	err := e.read(ctx, projectID, spec, func(tx *storage.Tx, f storage.RefFilter) error {
		var err error
		if refs, err = tx.ListReferences(ctx, f); err != nil {
			return err
		}
		total, err = tx.CountReferences(ctx, f)
		return err
	})
	return refs, total, err
}

// read validates spec and resolves it to a RefFilter inside one transaction,
// so every set it is built from comes from the same snapshot.
func (e *Engine) read(ctx context.Context, projectID int64, spec *Spec, fn func(*storage.Tx, storage.RefFilter) error) error {
	if err := spec.Validate(); err != nil {
		return err
	}
	p, err := e.db.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	return e.db.WithTx(ctx, func(tx *storage.Tx) error {
		b := &builder{ctx: ctx, tx: tx, project: p, spec: spec}
		f, err := b.filter()
		if err != nil {
			return err
		}
		return fn(tx, f)
	})
}

// builder turns the tag and reviewer predicates of a Spec into id sets.
// restrict is nil until some predicate limits the candidates.
type builder struct {
	ctx      context.Context
	tx       *storage.Tx
	project  *project.Project
	spec     *Spec
	restrict mapset.Set[int64]
	exclude  mapset.Set[int64]
}

func (b *builder) keep(ids mapset.Set[int64]) {
	if b.restrict == nil {
		b.restrict = ids
		return
	}
	b.restrict = b.restrict.Intersect(ids)
}

func (b *builder) drop(ids mapset.Set[int64]) {
	if b.exclude == nil {
		b.exclude = mapset.NewSet[int64]()
	}
	b.exclude = b.exclude.Union(ids)
}

// tags checks tagIDs belong to the project and optionally adds their
// descendants.
func (b *builder) tags(tagIDs []int64, descend bool) (mapset.Set[int64], error) {
	if descend {
		return tagtree.Descendants(b.ctx, &b.tx.Conn, b.project.ID, tagIDs)
	}
	foreign, err := b.tx.ForeignTags(b.ctx, b.project.ID, tagIDs)
	if err != nil {
		return nil, err
	}
	if len(foreign) > 0 {
		return nil, storage.Invalid("tag_id", "tag %d is not in project %d", foreign[0], b.project.ID)
	}
	return mapset.NewSet(tagIDs...), nil
}

// carrying returns the references with any of tagIDs as a resolved tag.
func (b *builder) carrying(tagIDs mapset.Set[int64]) (mapset.Set[int64], error) {
	ids, err := b.tx.RefsWithTags(b.ctx, tagIDs.ToSlice())
	if err != nil {
		return nil, err
	}
	return mapset.NewSet(ids...), nil
}

func (b *builder) filter() (storage.RefFilter, error) {
	s := b.spec
	f := storage.RefFilter{
		ProjectID:  b.project.ID,
		Search:     s.Search,
		Year:       s.Year,
		InConflict: s.InConflict,
		BatchID:    s.ImportBatchID,
		Limit:      s.Limit,
		Offset:     s.Offset,
	}

	steps := []func() error{b.tagged, b.required, b.pruned, b.untagged, b.reviewers, b.workflow}
	for _, step := range steps {
		if err := step(); err != nil {
			return f, err
		}
	}

	if b.restrict != nil {
		f.Restrict = true
		f.IDs = b.restrict.ToSlice()
	}
	if b.exclude != nil {
		f.ExcludeIDs = b.exclude.ToSlice()
	}
	return f, nil
}

// tagged filters on TagID only when it stands alone. Next to required or
// pruned tags it is just their context.
func (b *builder) tagged() error {
	if b.spec.TagID == 0 {
		return nil
	}
	if len(b.spec.RequiredTags) > 0 || len(b.spec.PrunedTags) > 0 {
		_, err := b.tags([]int64{b.spec.TagID}, false)
		return err
	}
	tags, err := b.tags([]int64{b.spec.TagID}, b.spec.IncludeDescendants)
	if err != nil {
		return err
	}
	refs, err := b.carrying(tags)
	if err != nil {
		return err
	}
	b.keep(refs)
	return nil
}

// required keeps references carrying every required tag, each matched by
// the tag itself or, with IncludeDescendants, anything beneath it.
func (b *builder) required() error {
	for _, id := range b.spec.RequiredTags {
		tags, err := b.tags([]int64{id}, b.spec.IncludeDescendants)
		if err != nil {
			return err
		}
		refs, err := b.carrying(tags)
		if err != nil {
			return err
		}
		b.keep(refs)
	}
	return nil
}

// pruned removes whole subtrees.
func (b *builder) pruned() error {
	if len(b.spec.PrunedTags) == 0 {
		return nil
	}
	tags, err := b.tags(b.spec.PrunedTags, true)
	if err != nil {
		return err
	}
	refs, err := b.carrying(tags)
	if err != nil {
		return err
	}
	b.drop(refs)
	return nil
}

func (b *builder) untagged() error {
	if !b.spec.Untagged && !b.spec.AnythingTagged {
		return nil
	}
	ids, err := b.tx.TaggedRefIDs(b.ctx, b.project.ID)
	if err != nil {
		return err
	}
	if b.spec.Untagged {
		b.drop(mapset.NewSet(ids...))
	} else {
		b.keep(mapset.NewSet(ids...))
	}
	return nil
}

// reviewers applies the predicates on reviewer passes.
func (b *builder) reviewers() error {
	s := b.spec
	if s.AnythingTaggedByMe {
		ids, err := b.tx.RefsTaggedBy(b.ctx, b.project.ID, s.Reviewer)
		if err != nil {
			return err
		}
		b.keep(mapset.NewSet(ids...))
	}
	if !s.PartiallyTagged && !s.NeedsTagging {
		return nil
	}

	counts, err := b.tx.ReviewerCounts(b.ctx, b.project.ID)
	if err != nil {
		return err
	}
	required := b.project.RequiredReviewers
	if s.NeedsTagging {
		// references nobody reviewed have no count, so exclude the
		// sufficiently reviewed ones instead of listing the rest
		done := mapset.NewSet[int64]()
		for ref, n := range counts {
			if n >= required {
				done.Add(ref)
			}
		}
		b.drop(done)
	}
	if s.PartiallyTagged {
		partial := mapset.NewSet[int64]()
		for ref, n := range counts {
			if n >= 1 && n < required {
				partial.Add(ref)
			}
		}
		b.keep(partial)
	}
	return nil
}

func (b *builder) workflow() error {
	s := b.spec
	if s.WorkflowID == 0 {
		return nil
	}
	w, err := b.tx.GetWorkflow(b.ctx, s.WorkflowID)
	if err != nil {
		return err
	}
	if w.ProjectID != b.project.ID {
		return storage.Invalid("workflow_id", "workflow %d is not in project %d", w.ID, b.project.ID)
	}

	if len(w.AdmissionTags) > 0 {
		tags, err := b.tags(w.AdmissionTags, w.AdmissionIncludeDescendants)
		if err != nil {
			return err
		}
		admitted, err := b.carrying(tags)
		if err != nil {
			return err
		}
		b.keep(admitted)
	}

	completion, err := b.tags(w.CompletionTags, false)
	if err != nil {
		return err
	}
	completed, err := b.carrying(completion)
	if err != nil {
		return err
	}
	if s.WorkflowStage == project.Completed {
		b.keep(completed)
	} else {
		b.drop(completed)
	}
	return nil
}
