package query

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	"github.com/matsen/litreview/internal/project"
	"github.com/matsen/litreview/internal/reference"
	"github.com/matsen/litreview/internal/storage"
	"github.com/matsen/litreview/internal/tag"
)

func TestParseSpec(t *testing.T) {
	s, err := ParseSpec(map[string]string{
		"search":              "arsenic",
		"year":                "2019",
		"tag_id":              "4",
		"include_descendants": "true",
		"required_tags":       "5, 6",
		"workflow_id":         "2",
		"workflow_stage":      "Awaiting",
		"limit":               "10",
	})
	if err != nil {
		t.Fatalf("ParseSpec() error = %v", err)
	}
	if s.Search != "arsenic" || s.Year != 2019 || s.TagID != 4 || !s.IncludeDescendants {
		t.Errorf("ParseSpec() = %+v", s)
	}
	if !slices.Equal(s.RequiredTags, []int64{5, 6}) || s.WorkflowStage != project.Awaiting || s.Limit != 10 {
		t.Errorf("ParseSpec() = %+v", s)
	}

	bad := []map[string]string{
		{"required_tags": "1,2,x"},
		{"pruned_tags": "1,,2"},
		{"tag_id": "-3"},
		{"untagged": "maybe"},
		{"workflow_stage": "done"},
		{"colour": "red"},
	}
	for _, params := range bad {
		if _, err := ParseSpec(params); !errors.Is(err, storage.ErrValidation) {
			t.Errorf("ParseSpec(%v) error = %v, want ErrValidation", params, err)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		spec    Spec
		wantErr bool
	}{
		{"empty", Spec{}, false},
		{"untagged alone", Spec{Untagged: true, Search: "x"}, false},
		{"untagged with tag", Spec{Untagged: true, TagID: 1}, true},
		{"untagged with anything", Spec{Untagged: true, AnythingTagged: true}, true},
		{"untagged with needs", Spec{Untagged: true, NeedsTagging: true}, true},
		{"required without context", Spec{RequiredTags: []int64{2}}, true},
		{"pruned without context", Spec{PrunedTags: []int64{2}}, true},
		{"required with context", Spec{TagID: 1, RequiredTags: []int64{2}}, false},
		{"by me without reviewer", Spec{AnythingTaggedByMe: true}, true},
		{"workflow without stage", Spec{WorkflowID: 1}, true},
		{"negative offset", Spec{Offset: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, storage.ErrValidation) {
				t.Errorf("Validate() error = %v, want ErrValidation", err)
			}
		})
	}
}

// fixture: root -> A -> {A1, A2}, root -> B; five references.
//
//	r0: A1 (resolved), reviewed by ann and bob
//	r1: A (resolved), reviewed by ann
//	r2: B (resolved)
//	r3: untagged, title mentions benzene
//	r4: untagged
type fixture struct {
	db                 *storage.DB
	e                  *Engine
	project            int64
	root, a, a1, a2, b int64
	refs               []int64
}

func setup(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "lit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	f := fixture{db: db, e: NewEngine(db)}
	err = db.WithTx(ctx, func(tx *storage.Tx) error {
		p := &project.Project{Name: "Arsenic"}
		if err := tx.CreateProject(ctx, p); err != nil {
			return err
		}
		f.project = p.ID

		ids := map[string]*int64{"0001": &f.root, "00010001": &f.a, "000100010001": &f.a1, "000100010002": &f.a2, "00010002": &f.b}
		for _, path := range []string{"0001", "00010001", "000100010001", "000100010002", "00010002"} {
			tg := &tag.Tag{ProjectID: p.ID, Name: path, Path: path, Depth: tag.Depth(path)}
			if err := tx.InsertTag(ctx, tg); err != nil {
				return err
			}
			*ids[path] = tg.ID
		}

		f.refs, err = tx.InsertReferences(ctx, p.ID, []reference.Reference{
			{Title: "Arsenic cohort", Year: 2019},
			{Title: "Arsenic review", Year: 2020},
			{Title: "Arsenic in mice", Year: 2019},
			{Title: "Benzene exposure", Year: 2019},
			{Title: "Unrelated", Year: 2021},
		})
		if err != nil {
			return err
		}
		if _, err := tx.AddRefTags(ctx, []storage.TagPair{
			{RefID: f.refs[0], TagID: f.a1},
			{RefID: f.refs[1], TagID: f.a},
			{RefID: f.refs[2], TagID: f.b},
		}); err != nil {
			return err
		}
		if err := tx.SetReviewerPass(ctx, f.refs[0], "ann", []int64{f.a1}); err != nil {
			return err
		}
		if err := tx.SetReviewerPass(ctx, f.refs[0], "bob", []int64{f.a1}); err != nil {
			return err
		}
		return tx.SetReviewerPass(ctx, f.refs[1], "ann", []int64{f.a})
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func (f fixture) ids(t *testing.T, spec Spec) []int64 {
	t.Helper()
	refs, err := f.e.Query(context.Background(), f.project, &spec)
	if err != nil {
		t.Fatalf("Query(%+v) error = %v", spec, err)
	}
	var ids []int64
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestQuery_TagPredicates(t *testing.T) {
	f := setup(t)
	r := f.refs

	tests := []struct {
		name string
		spec Spec
		want []int64
	}{
		{"all", Spec{}, r},
		{"tag exact", Spec{TagID: f.a}, []int64{r[1]}},
		{"tag with descendants", Spec{TagID: f.a, IncludeDescendants: true}, []int64{r[0], r[1]}},
		{"leaf excluded without expansion", Spec{TagID: f.root}, nil},
		{"leaf included with expansion", Spec{TagID: f.root, IncludeDescendants: true}, []int64{r[0], r[1], r[2]}},
		{"required", Spec{TagID: f.root, IncludeDescendants: true, RequiredTags: []int64{f.a}}, []int64{r[0], r[1]}},
		{"required without expansion", Spec{TagID: f.root, RequiredTags: []int64{f.a}}, []int64{r[1]}},
		{"required is all of", Spec{TagID: f.root, RequiredTags: []int64{f.a1, f.b}}, nil},
		{"required all of with expansion", Spec{TagID: f.root, IncludeDescendants: true, RequiredTags: []int64{f.a, f.a1}}, []int64{r[0]}},
		{"required under a subtree context", Spec{TagID: f.a, RequiredTags: []int64{f.b}}, []int64{r[2]}},
		{"pruned", Spec{TagID: f.root, IncludeDescendants: true, PrunedTags: []int64{f.a}}, []int64{r[2], r[3], r[4]}},
		{"pruned without expansion", Spec{TagID: f.root, PrunedTags: []int64{f.a}}, []int64{r[2], r[3], r[4]}},
		{"pruned and required", Spec{TagID: f.root, IncludeDescendants: true, RequiredTags: []int64{f.a}, PrunedTags: []int64{f.a1}}, []int64{r[1]}},
		{"untagged", Spec{Untagged: true}, []int64{r[3], r[4]}},
		{"anything tagged", Spec{AnythingTagged: true}, []int64{r[0], r[1], r[2]}},
		{"untagged and text", Spec{Untagged: true, Search: "benzene"}, []int64{r[3]}},
		{"year", Spec{Year: 2019, AnythingTagged: true}, []int64{r[0], r[2]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.ids(t, tt.spec); !slices.Equal(got, tt.want) {
				t.Errorf("Query() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuery_Reviewers(t *testing.T) {
	f := setup(t)
	r := f.refs

	tests := []struct {
		name string
		spec Spec
		want []int64
	}{
		{"by me", Spec{AnythingTaggedByMe: true, Reviewer: "bob"}, []int64{r[0]}},
		{"by someone else", Spec{AnythingTaggedByMe: true, Reviewer: "cat"}, nil},
		{"partially tagged", Spec{PartiallyTagged: true}, []int64{r[1]}},
		{"needs tagging", Spec{NeedsTagging: true}, []int64{r[1], r[2], r[3], r[4]}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := f.ids(t, tt.spec); !slices.Equal(got, tt.want) {
				t.Errorf("Query() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestQuery_Workflow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.refs

	w := &project.Workflow{
		ProjectID:                   f.project,
		Title:                       "Human screening",
		AdmissionTags:               []int64{f.a},
		AdmissionIncludeDescendants: true,
		CompletionTags:              []int64{f.a1},
	}
	open := &project.Workflow{ProjectID: f.project, Title: "Everything", CompletionTags: []int64{f.b}}
	err := f.db.WithTx(ctx, func(tx *storage.Tx) error {
		if err := tx.CreateWorkflow(ctx, w); err != nil {
			return err
		}
		return tx.CreateWorkflow(ctx, open)
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := f.ids(t, Spec{WorkflowID: w.ID, WorkflowStage: project.Awaiting}); !slices.Equal(got, []int64{r[1]}) {
		t.Errorf("awaiting = %v, want [%d]", got, r[1])
	}
	if got := f.ids(t, Spec{WorkflowID: w.ID, WorkflowStage: project.Completed}); !slices.Equal(got, []int64{r[0]}) {
		t.Errorf("completed = %v, want [%d]", got, r[0])
	}
	if got := f.ids(t, Spec{WorkflowID: open.ID, WorkflowStage: project.Awaiting}); !slices.Equal(got, []int64{r[0], r[1], r[3], r[4]}) {
		t.Errorf("open awaiting = %v", got)
	}
}

func TestQuery_PagingAndCount(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var pages []int64
	for offset := 0; ; offset += 2 {
		got := f.ids(t, Spec{Limit: 2, Offset: offset})
		if len(got) == 0 {
			break
		}
		pages = append(pages, got...)
	}
	if !slices.Equal(pages, f.refs) {
		t.Errorf("paged = %v, want %v", pages, f.refs)
	}

	n, err := f.e.Count(ctx, f.project, &Spec{AnythingTagged: true, Limit: 1})
	if err != nil || n != 3 {
		t.Errorf("Count() = %d, %v; want 3", n, err)
	}

	refs, total, err := f.e.Page(ctx, f.project, &Spec{AnythingTagged: true, Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Page() error = %v", err)
	}
	if total != 3 || len(refs) != 1 || refs[0].ID != f.refs[2] {
		t.Errorf("Page() = %v, %d; want [%d] of 3", refs, total, f.refs[2])
	}
}

func TestQuery_RejectsForeignTags(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var foreign int64
	err := f.db.WithTx(ctx, func(tx *storage.Tx) error {
		p := &project.Project{Name: "Other"}
		if err := tx.CreateProject(ctx, p); err != nil {
			return err
		}
		tg := &tag.Tag{ProjectID: p.ID, Name: "Other", Path: tag.RootPath, Depth: 1}
		if err := tx.InsertTag(ctx, tg); err != nil {
			return err
		}
		foreign = tg.ID
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, spec := range []Spec{
		{TagID: foreign},
		{TagID: foreign, IncludeDescendants: true},
		{TagID: f.root, RequiredTags: []int64{foreign}},
		{TagID: foreign, PrunedTags: []int64{f.a}},
	} {
		if _, err := f.e.Query(ctx, f.project, &spec); !errors.Is(err, storage.ErrValidation) {
			t.Errorf("Query(%+v) error = %v, want ErrValidation", spec, err)
		}
	}
	if _, err := f.e.Query(ctx, f.project, &Spec{Untagged: true, TagID: f.a}); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("Query(untagged+tag) error = %v", err)
	}
}
