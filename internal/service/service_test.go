package service

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/matsen/litreview/internal/access"
	"github.com/matsen/litreview/internal/importer"
	"github.com/matsen/litreview/internal/query"
	"github.com/matsen/litreview/internal/storage"
	"github.com/matsen/litreview/internal/tagging"
)

const export = `TY  - JOUR
TI  - Arsenic exposure and skin lesions
AU  - Lee, Kim
PY  - 2019
DO  - 10.1000/skin.1
ER  -

TY  - JOUR
TI  - Arsenic in drinking water
AU  - Park, Jin
PY  - 2020
DO  - 10.1000/water.2
ER  -
`

func newService(t *testing.T, checker access.Checker) *Service {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "lit.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, checker, importer.NewEngine(db), WithRequiredReviewers(1))
}

func TestService_Workflow(t *testing.T) {
	s := newService(t, access.AllowAll{})
	ctx := context.Background()

	p, err := s.CreateProject(ctx, "ann", "Arsenic", 0)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	if p.RequiredReviewers != 1 {
		t.Errorf("RequiredReviewers = %d, want configured default 1", p.RequiredReviewers)
	}

	tree, err := s.GetTagTree(ctx, "ann", p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree.Roots) != 1 || tree.Roots[0].Name != "Arsenic" {
		t.Fatalf("GetTagTree() roots = %+v, want the project root", tree.Roots)
	}

	human, err := s.AddTag(ctx, "ann", p.ID, 0, "Human")
	if err != nil {
		t.Fatalf("AddTag() error = %v", err)
	}
	cohort, err := s.AddTag(ctx, "ann", p.ID, human.ID, "Cohort")
	if err != nil {
		t.Fatalf("AddTag() error = %v", err)
	}

	res, err := s.SubmitImport(ctx, "ann", p.ID, ImportRequest{
		Kind:     ImportRIS,
		FileName: "export.ris",
		File:     strings.NewReader(export),
	})
	if err != nil {
		t.Fatalf("SubmitImport() error = %v", err)
	}
	if len(res.Created) != 2 {
		t.Fatalf("Created = %v, want 2", res.Created)
	}

	// One reviewer is enough here, so the pass becomes the resolved set.
	resolution, err := s.SetReviewerTags(ctx, "ann", p.ID, res.Created[0], []int64{cohort.ID})
	if err != nil {
		t.Fatalf("SetReviewerTags() error = %v", err)
	}
	if resolution.InConflict || !slices.Equal(resolution.Tags, []int64{cohort.ID}) {
		t.Errorf("SetReviewerTags() = %+v", resolution)
	}

	page, err := s.QueryReferences(ctx, "ann", p.ID, query.Spec{TagID: human.ID, IncludeDescendants: true})
	if err != nil {
		t.Fatalf("QueryReferences() error = %v", err)
	}
	if page.Total != 1 || len(page.References) != 1 || page.References[0].ID != res.Created[0] {
		t.Errorf("QueryReferences() = %+v", page)
	}

	mine, err := s.QueryReferences(ctx, "ann", p.ID, query.Spec{AnythingTaggedByMe: true})
	if err != nil {
		t.Fatalf("QueryReferences(by me) error = %v", err)
	}
	if mine.Total != 1 {
		t.Errorf("by me total = %d, want 1", mine.Total)
	}

	detail, err := s.GetReference(ctx, "ann", p.ID, res.Created[0])
	if err != nil {
		t.Fatalf("GetReference() error = %v", err)
	}
	if len(detail.Identifiers) == 0 || !slices.Equal(detail.Tags, []int64{cohort.ID}) || len(detail.Reviewers["ann"]) != 1 {
		t.Errorf("GetReference() = %+v", detail)
	}

	bulk, err := s.BulkTag(ctx, "ann", p.ID, tagging.Append, []storage.TagPair{{RefID: res.Created[1], TagID: human.ID}}, false)
	if err != nil || bulk.Added != 1 {
		t.Errorf("BulkTag() = %+v, %v", bulk, err)
	}

	// Both references are tagged, so deleting the import keeps them.
	del, err := s.DeleteImport(ctx, "ann", p.ID, res.Batch.ID)
	if err != nil {
		t.Fatalf("DeleteImport() error = %v", err)
	}
	if len(del.Deleted) != 0 || len(del.Kept) != 2 {
		t.Errorf("DeleteImport() = %+v", del)
	}
}

func TestService_CopyTagTree(t *testing.T) {
	s := newService(t, access.AllowAll{})
	ctx := context.Background()

	src, _ := s.CreateProject(ctx, "ann", "Arsenic", 0)
	dst, _ := s.CreateProject(ctx, "ann", "Cadmium", 0)
	if _, err := s.AddTag(ctx, "ann", src.ID, 0, "Human"); err != nil {
		t.Fatal(err)
	}
	n, err := s.CopyTagTree(ctx, "ann", src.ID, dst.ID, false)
	if err != nil || n != 1 {
		t.Fatalf("CopyTagTree() = %d, %v; want 1", n, err)
	}
	if _, err := s.CopyTagTree(ctx, "ann", src.ID, dst.ID, false); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("second CopyTagTree() error = %v, want ErrConflict", err)
	}

	tree, err := s.GetTagTree(ctx, "ann", dst.ID)
	if err != nil {
		t.Fatal(err)
	}
	names := make([]string, len(tree.Flattened))
	for i, f := range tree.Flattened {
		names[i] = f.NestedName
	}
	if !slices.Equal(names, []string{"Cadmium", "Cadmium|Human"}) {
		t.Errorf("flattened = %v", names)
	}
}

func TestService_Access(t *testing.T) {
	checker := access.StaticChecker{Grants: []access.Grant{
		{User: "admin", Edit: true},
		{User: "viewer", ProjectID: 1},
	}}
	s := newService(t, checker)
	ctx := context.Background()

	if _, err := s.CreateProject(ctx, "viewer", "Arsenic", 0); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("CreateProject(viewer) error = %v, want ErrForbidden", err)
	}
	p, err := s.CreateProject(ctx, "admin", "Arsenic", 0)
	if err != nil {
		t.Fatal(err)
	}
	if p.ID != 1 {
		t.Fatalf("project id = %d, want 1", p.ID)
	}
	other, err := s.CreateProject(ctx, "admin", "Cadmium", 0)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := s.GetTagTree(ctx, "viewer", p.ID); err != nil {
		t.Errorf("GetTagTree(viewer) error = %v", err)
	}
	if _, err := s.GetTagTree(ctx, "viewer", other.ID); !errors.Is(err, access.ErrForbidden) {
		t.Errorf("GetTagTree(viewer, other) error = %v, want ErrForbidden", err)
	}

	mutations := map[string]func() error{
		"AddTag": func() error {
			_, err := s.AddTag(ctx, "viewer", p.ID, 0, "Human")
			return err
		},
		"SubmitImport": func() error {
			_, err := s.SubmitImport(ctx, "viewer", p.ID, ImportRequest{Kind: ImportRIS, File: strings.NewReader(export)})
			return err
		},
		"BulkTag": func() error {
			_, err := s.BulkTag(ctx, "viewer", p.ID, tagging.Append, []storage.TagPair{{RefID: 1, TagID: 1}}, true)
			return err
		},
		"CopyTagTree": func() error {
			_, err := s.CopyTagTree(ctx, "viewer", p.ID, other.ID, true)
			return err
		},
		"DeleteImport": func() error {
			_, err := s.DeleteImport(ctx, "viewer", p.ID, 1)
			return err
		},
	}
	for name, fn := range mutations {
		if err := fn(); !errors.Is(err, access.ErrForbidden) {
			t.Errorf("%s(viewer) error = %v, want ErrForbidden", name, err)
		}
	}

	projects, err := s.ListProjects(ctx, "viewer")
	if err != nil || len(projects) != 1 || projects[0].ID != p.ID {
		t.Errorf("ListProjects(viewer) = %v, %v", projects, err)
	}
}

func TestService_SubmitImportRejects(t *testing.T) {
	s := newService(t, access.AllowAll{})
	ctx := context.Background()
	p, _ := s.CreateProject(ctx, "ann", "Arsenic", 0)

	for _, req := range []ImportRequest{
		{Kind: "carrier-pigeon"},
		{Kind: ImportRIS},
	} {
		if _, err := s.SubmitImport(ctx, "ann", p.ID, req); !errors.Is(err, storage.ErrValidation) {
			t.Errorf("SubmitImport(%q) error = %v, want ErrValidation", req.Kind, err)
		}
	}
}

func TestService_CreateProjectIsAtomic(t *testing.T) {
	s := newService(t, access.AllowAll{})
	ctx := context.Background()

	// the project name is also the root tag's name, which may not hold the
	// separator; nothing may be left behind when the root is refused
	if _, err := s.CreateProject(ctx, "ann", "Arsenic|Lead", 0); !errors.Is(err, storage.ErrValidation) {
		t.Fatalf("CreateProject() error = %v, want ErrValidation", err)
	}
	projects, err := s.ListProjects(ctx, "ann")
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 0 {
		t.Errorf("ListProjects() = %+v, want none", projects)
	}

	p, err := s.CreateProject(ctx, "ann", "Arsenic", 0)
	if err != nil {
		t.Fatalf("CreateProject() error = %v", err)
	}
	root, err := s.db.RootTag(ctx, p.ID)
	if err != nil || root.Name != "Arsenic" {
		t.Errorf("RootTag() = %+v, %v", root, err)
	}
}

func TestService_QueryReferencesPage(t *testing.T) {
	s := newService(t, access.AllowAll{})
	ctx := context.Background()
	p, _ := s.CreateProject(ctx, "ann", "Arsenic", 0)

	res, err := s.SubmitImport(ctx, "ann", p.ID, ImportRequest{Kind: ImportRIS, FileName: "export.ris", File: strings.NewReader(export)})
	if err != nil {
		t.Fatal(err)
	}

	page, err := s.QueryReferences(ctx, "ann", p.ID, query.Spec{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("QueryReferences() error = %v", err)
	}
	if page.Total != 2 || page.Offset != 1 || len(page.References) != 1 || page.References[0].ID != res.Created[1] {
		t.Errorf("QueryReferences() = %+v", page)
	}
}
