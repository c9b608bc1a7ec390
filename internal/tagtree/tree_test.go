package tagtree

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/matsen/litreview/internal/project"
	"github.com/matsen/litreview/internal/reference"
	"github.com/matsen/litreview/internal/storage"
	"github.com/matsen/litreview/internal/tag"
)

func setup(t *testing.T) (*Tree, *storage.DB) {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "lit.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), db
}

func mustProject(t *testing.T, db *storage.DB, name string) int64 {
	t.Helper()
	p := &project.Project{Name: name}
	if err := db.WithTx(context.Background(), func(tx *storage.Tx) error {
		return tx.CreateProject(context.Background(), p)
	}); err != nil {
		t.Fatal(err)
	}
	return p.ID
}

// fixture builds root -> A -> {A1, A2}, root -> B.
type fixture struct {
	project            int64
	root, a, a1, a2, b *tag.Tag
}

func build(t *testing.T, tr *Tree, db *storage.DB, name string) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{project: mustProject(t, db, name)}

	must := func(tg *tag.Tag, err error) *tag.Tag {
		t.Helper()
		if err != nil {
			t.Fatalf("building tree: %v", err)
		}
		return tg
	}
	f.root = must(tr.EnsureRoot(ctx, f.project, name))
	f.a = must(tr.AddChild(ctx, f.project, f.root.ID, "Human"))
	f.a1 = must(tr.AddChild(ctx, f.project, f.a.ID, "Cohort"))
	f.a2 = must(tr.AddChild(ctx, f.project, f.a.ID, "Case-control"))
	f.b = must(tr.AddChild(ctx, f.project, f.root.ID, "Animal"))
	return f
}

func TestAddChild_Paths(t *testing.T) {
	tr, db := setup(t)
	f := build(t, tr, db, "Arsenic")

	tests := []struct {
		tg   *tag.Tag
		path string
	}{
		{f.root, "0001"},
		{f.a, "00010001"},
		{f.a1, "000100010001"},
		{f.a2, "000100010002"},
		{f.b, "00010002"},
	}
	for _, tt := range tests {
		if tt.tg.Path != tt.path || tt.tg.Depth != tag.Depth(tt.path) {
			t.Errorf("%s: path %s depth %d, want %s", tt.tg.Name, tt.tg.Path, tt.tg.Depth, tt.path)
		}
	}

	again, err := tr.EnsureRoot(context.Background(), f.project, "ignored")
	if err != nil || again.ID != f.root.ID {
		t.Errorf("EnsureRoot() = %+v, %v; want existing root", again, err)
	}
}

func TestAddChild_Rejects(t *testing.T) {
	tr, db := setup(t)
	f := build(t, tr, db, "Arsenic")
	other := build(t, tr, db, "Benzene")
	ctx := context.Background()

	if _, err := tr.AddChild(ctx, f.project, other.a.ID, "X"); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("AddChild(foreign parent) error = %v, want ErrValidation", err)
	}
	if _, err := tr.AddChild(ctx, f.project, f.a.ID, "A|B"); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("AddChild(separator) error = %v, want ErrValidation", err)
	}
	if _, err := tr.AddChild(ctx, f.project, 9999, "X"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("AddChild(missing parent) error = %v, want ErrNotFound", err)
	}
}

func TestDescendants(t *testing.T) {
	tr, db := setup(t)
	f := build(t, tr, db, "Arsenic")
	other := build(t, tr, db, "Benzene")
	ctx := context.Background()

	got, err := tr.Descendants(ctx, f.project, []int64{f.a.ID})
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{f.a.ID, f.a1.ID, f.a2.ID}
	ids := got.ToSlice()
	slices.Sort(ids)
	if !slices.Equal(ids, want) {
		t.Errorf("Descendants(A) = %v, want %v", ids, want)
	}

	leaf, _ := tr.Descendants(ctx, f.project, []int64{f.b.ID})
	if leaf.Cardinality() != 1 || !leaf.Contains(f.b.ID) {
		t.Errorf("Descendants(B) = %v", leaf)
	}

	if _, err := tr.Descendants(ctx, f.project, []int64{f.a.ID, other.a.ID}); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("Descendants(cross-project) error = %v, want ErrValidation", err)
	}
}

func TestFlattened(t *testing.T) {
	tr, db := setup(t)
	f := build(t, tr, db, "Arsenic")

	flat, err := tr.Flattened(context.Background(), f.project)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, ft := range flat {
		names = append(names, ft.NestedName)
	}
	want := []string{
		"Arsenic",
		"Arsenic|Human",
		"Arsenic|Human|Cohort",
		"Arsenic|Human|Case-control",
		"Arsenic|Animal",
	}
	if !slices.Equal(names, want) {
		t.Errorf("Flattened() = %v, want %v", names, want)
	}

	nodes, err := tr.Tree(context.Background(), f.project)
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || len(nodes[0].Children) != 2 || len(nodes[0].Children[0].Children) != 2 {
		t.Errorf("Tree() shape wrong: %+v", nodes)
	}
}

func TestDeleteSubtree(t *testing.T) {
	tr, db := setup(t)
	f := build(t, tr, db, "Arsenic")
	ctx := context.Background()

	var refID int64
	err := db.WithTx(ctx, func(tx *storage.Tx) error {
		ids, err := tx.InsertReferences(ctx, f.project, []reference.Reference{{Title: "Cohort study"}})
		if err != nil {
			return err
		}
		refID = ids[0]
		_, err = tx.AddRefTags(ctx, []storage.TagPair{{RefID: refID, TagID: f.a1.ID}, {RefID: refID, TagID: f.b.ID}})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	n, err := tr.DeleteSubtree(ctx, f.project, f.a.ID)
	if err != nil || n != 3 {
		t.Fatalf("DeleteSubtree() = %d, %v; want 3", n, err)
	}
	resolved, _ := db.ResolvedTags(ctx, []int64{refID})
	if !slices.Equal(resolved[refID], []int64{f.b.ID}) {
		t.Errorf("remaining tags = %v, want [%d]", resolved[refID], f.b.ID)
	}
	if _, err := tr.DeleteSubtree(ctx, f.project, f.root.ID); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("DeleteSubtree(root) error = %v, want ErrValidation", err)
	}

	// new children still append after the deleted slot's siblings
	c, err := tr.AddChild(ctx, f.project, f.root.ID, "In vitro")
	if err != nil || c.Path != "00010003" {
		t.Errorf("AddChild() after delete = %+v, %v", c, err)
	}
}

func TestRename(t *testing.T) {
	tr, db := setup(t)
	f := build(t, tr, db, "Arsenic")
	ctx := context.Background()

	if err := tr.Rename(ctx, f.project, f.a.ID, "Humans"); err != nil {
		t.Fatal(err)
	}
	tg, _ := db.GetTag(ctx, f.a.ID)
	if tg.Name != "Humans" || tg.Path != f.a.Path {
		t.Errorf("after rename = %+v", tg)
	}
	if err := tr.Rename(ctx, f.project, f.a.ID, " "); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("Rename(blank) error = %v", err)
	}
}

func TestCopyAll(t *testing.T) {
	tr, db := setup(t)
	src := build(t, tr, db, "Arsenic")
	ctx := context.Background()
	dst := mustProject(t, db, "Cadmium")

	n, err := tr.CopyAll(ctx, src.project, dst, false)
	if err != nil || n != 4 {
		t.Fatalf("CopyAll() = %d, %v; want 4", n, err)
	}
	flat, _ := tr.Flattened(ctx, dst)
	if len(flat) != 5 || flat[0].Name != "Cadmium" || flat[2].NestedName != "Cadmium|Human|Cohort" {
		t.Errorf("copied taxonomy = %+v", flat)
	}
	for _, ft := range flat {
		if ft.ProjectID != dst {
			t.Errorf("tag %d copied into project %d", ft.ID, ft.ProjectID)
		}
	}

	if _, err := tr.CopyAll(ctx, src.project, dst, false); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("CopyAll(existing, unconfirmed) error = %v, want ErrConflict", err)
	}
	n, err = tr.CopyAll(ctx, src.project, dst, true)
	if err != nil || n != 4 {
		t.Errorf("CopyAll(confirmed) = %d, %v", n, err)
	}
	tags, _ := db.ProjectTags(ctx, dst)
	if len(tags) != 5 {
		t.Errorf("dst has %d tags after replace, want 5", len(tags))
	}
	if err := tr.Check(ctx, dst); err != nil {
		t.Errorf("Check() after copy = %v", err)
	}
}

func TestCheck(t *testing.T) {
	root := tag.Tag{ID: 1, Name: "R", Path: "0001", Depth: 1}
	tests := []struct {
		name string
		tags []tag.Tag
		want string
	}{
		{"ok", []tag.Tag{root, {ID: 2, Path: "00010001", Depth: 2}}, ""},
		{"duplicate", []tag.Tag{root, {ID: 2, Path: "00010001", Depth: 2}, {ID: 3, Path: "00010001", Depth: 2}}, "share path"},
		{"orphan", []tag.Tag{root, {ID: 2, Path: "000100020001", Depth: 3}}, "orphaned"},
		{"depth", []tag.Tag{root, {ID: 2, Path: "00010001", Depth: 3}}, "depth"},
		{"two roots", []tag.Tag{root, {ID: 2, Path: "0002", Depth: 1}}, "root"},
		{"bad path", []tag.Tag{root, {ID: 2, Path: "0001x", Depth: 2}}, "invalid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Check(tt.tags)
			if tt.want == "" {
				if err != nil {
					t.Errorf("Check() = %v", err)
				}
				return
			}
			if !errors.Is(err, storage.ErrIntegrity) || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Check() = %v, want integrity error mentioning %q", err, tt.want)
			}
		})
	}
}
