package tagging

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/matsen/litreview/internal/project"
	"github.com/matsen/litreview/internal/reference"
	"github.com/matsen/litreview/internal/storage"
	"github.com/matsen/litreview/internal/tag"
)

type env struct {
	db      *storage.DB
	m       *Mutator
	project int64
	refs    []int64
	tags    []int64 // root, then three children
}

func setup(t *testing.T) env {
	t.Helper()
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "lit.db"))
	if err != nil {
		t.Fatalf("OpenDB() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	e := env{db: db, m: NewMutator(db)}
	e.project, e.refs, e.tags = seed(t, db, "Arsenic")
	return e
}

// seed creates a project with three references and a root with three children.
func seed(t *testing.T, db *storage.DB, name string) (int64, []int64, []int64) {
	t.Helper()
	ctx := context.Background()
	var pid int64
	var refs, tags []int64
	err := db.WithTx(ctx, func(tx *storage.Tx) error {
		p := &project.Project{Name: name}
		if err := tx.CreateProject(ctx, p); err != nil {
			return err
		}
		pid = p.ID
		var err error
		refs, err = tx.InsertReferences(ctx, pid, []reference.Reference{
			{Title: name + " one"}, {Title: name + " two"}, {Title: name + " three"},
		})
		if err != nil {
			return err
		}
		for i, path := range []string{"0001", "00010001", "00010002", "00010003"} {
			tg := &tag.Tag{ProjectID: pid, Name: string(rune('A' + i)), Path: path, Depth: tag.Depth(path)}
			if err := tx.InsertTag(ctx, tg); err != nil {
				return err
			}
			tags = append(tags, tg.ID)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	return pid, refs, tags
}

func (e env) resolved(t *testing.T, refID int64) []int64 {
	t.Helper()
	m, err := e.db.ResolvedTags(context.Background(), []int64{refID})
	if err != nil {
		t.Fatal(err)
	}
	return m[refID]
}

func TestResolve(t *testing.T) {
	set := func(ids ...int64) mapset.Set[int64] { return mapset.NewSet(ids...) }
	tests := []struct {
		name         string
		sets         map[string]mapset.Set[int64]
		want         []int64
		wantConflict bool
	}{
		{"nobody", nil, []int64{}, false},
		{"one reviewer", map[string]mapset.Set[int64]{"ann": set(1, 2)}, []int64{1, 2}, false},
		{"agree", map[string]mapset.Set[int64]{"ann": set(1, 2), "bob": set(2, 1)}, []int64{1, 2}, false},
		{"both empty", map[string]mapset.Set[int64]{"ann": set(), "bob": set()}, []int64{}, false},
		{"disagree", map[string]mapset.Set[int64]{"ann": set(1), "bob": set(2)}, nil, true},
		{"empty vs tagged", map[string]mapset.Set[int64]{"ann": set(), "bob": set(2)}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, conflict := Resolve(tt.sets)
			if conflict != tt.wantConflict {
				t.Fatalf("conflict = %v, want %v", conflict, tt.wantConflict)
			}
			if conflict {
				if got != nil {
					t.Errorf("resolved = %v, want nil on conflict", got)
				}
				return
			}
			if ids := sorted(got); !slices.Equal(ids, tt.want) {
				t.Errorf("resolved = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestApply_Modes(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r0, r1 := e.refs[0], e.refs[1]
	a, b, c := e.tags[1], e.tags[2], e.tags[3]

	res, err := e.m.Apply(ctx, e.project, Append, []storage.TagPair{{RefID: r0, TagID: a}, {RefID: r0, TagID: b}, {RefID: r1, TagID: a}}, false)
	if err != nil {
		t.Fatalf("Apply(append) error = %v", err)
	}
	if res.Added != 3 || !slices.Equal(e.resolved(t, r0), []int64{a, b}) {
		t.Errorf("after append: added %d, r0 = %v", res.Added, e.resolved(t, r0))
	}

	// appending again changes nothing
	res, err = e.m.Apply(ctx, e.project, Append, []storage.TagPair{{RefID: r0, TagID: a}}, false)
	if err != nil || res.Added != 0 || res.Rows[0].Status != StatusExists {
		t.Errorf("re-append = %+v, %v", res, err)
	}

	res, err = e.m.Apply(ctx, e.project, Replace, []storage.TagPair{{RefID: r0, TagID: b}, {RefID: r0, TagID: c}}, false)
	if err != nil {
		t.Fatalf("Apply(replace) error = %v", err)
	}
	if res.Added != 1 || res.Removed != 1 {
		t.Errorf("replace added %d removed %d, want 1 and 1", res.Added, res.Removed)
	}
	if got := e.resolved(t, r0); !slices.Equal(got, []int64{b, c}) {
		t.Errorf("r0 after replace = %v, want [%d %d]", got, b, c)
	}
	if got := e.resolved(t, r1); !slices.Equal(got, []int64{a}) {
		t.Errorf("r1 touched by replace: %v", got)
	}

	// duplicates are fine under remove
	res, err = e.m.Apply(ctx, e.project, Remove, []storage.TagPair{{RefID: r0, TagID: b}, {RefID: r0, TagID: b}, {RefID: r1, TagID: c}}, false)
	if err != nil {
		t.Fatalf("Apply(remove) error = %v", err)
	}
	if res.Removed != 1 || res.Rows[1].Status != StatusAbsent || res.Rows[2].Status != StatusAbsent {
		t.Errorf("remove = %+v", res)
	}
	if got := e.resolved(t, r0); !slices.Equal(got, []int64{c}) {
		t.Errorf("r0 after remove = %v", got)
	}
}

func TestApply_ModeIsCaseInsensitive(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r0, a := e.refs[0], e.tags[1]

	res, err := e.m.Apply(ctx, e.project, Mode("Append"), []storage.TagPair{{RefID: r0, TagID: a}}, false)
	if err != nil {
		t.Fatalf("Apply(Append) error = %v", err)
	}
	if res.Mode != Append || res.Added != 1 {
		t.Errorf("Apply(Append) = %+v", res)
	}
	if _, err := e.m.Apply(ctx, e.project, Mode(" REMOVE "), []storage.TagPair{{RefID: r0, TagID: a}}, false); err != nil {
		t.Fatalf("Apply(REMOVE) error = %v", err)
	}
	if got := e.resolved(t, r0); len(got) != 0 {
		t.Errorf("r0 after REMOVE = %v", got)
	}
}

func TestApply_Laws(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	r0 := e.refs[0]
	a, b, c := e.tags[1], e.tags[2], e.tags[3]

	if _, err := e.m.Apply(ctx, e.project, Append, []storage.TagPair{{RefID: r0, TagID: a}}, false); err != nil {
		t.Fatal(err)
	}
	prior := e.resolved(t, r0)

	x := []storage.TagPair{{RefID: r0, TagID: b}, {RefID: r0, TagID: c}}
	if _, err := e.m.Apply(ctx, e.project, Append, x, false); err != nil {
		t.Fatal(err)
	}
	if _, err := e.m.Apply(ctx, e.project, Remove, x, false); err != nil {
		t.Fatal(err)
	}
	if got := e.resolved(t, r0); !slices.Equal(got, prior) {
		t.Errorf("append then remove = %v, want %v", got, prior)
	}

	if _, err := e.m.Apply(ctx, e.project, Replace, x, false); err != nil {
		t.Fatal(err)
	}
	once := e.resolved(t, r0)
	res, err := e.m.Apply(ctx, e.project, Replace, x, false)
	if err != nil {
		t.Fatal(err)
	}
	if got := e.resolved(t, r0); !slices.Equal(got, once) || res.Added != 0 || res.Removed != 0 {
		t.Errorf("second replace = %v (added %d removed %d), want %v unchanged", got, res.Added, res.Removed, once)
	}
}

func TestApply_DryRun(t *testing.T) {
	e := setup(t)
	ctx := context.Background()

	res, err := e.m.Apply(ctx, e.project, Append, []storage.TagPair{{RefID: e.refs[0], TagID: e.tags[1]}}, true)
	if err != nil {
		t.Fatal(err)
	}
	if !res.DryRun || res.Added != 1 || res.Rows[0].Status != StatusAdded {
		t.Errorf("dry run = %+v", res)
	}
	if got := e.resolved(t, e.refs[0]); len(got) != 0 {
		t.Errorf("dry run wrote tags: %v", got)
	}
}

func TestApply_RejectsWholeBatch(t *testing.T) {
	e := setup(t)
	_, otherRefs, otherTags := seed(t, e.db, "Benzene")
	ctx := context.Background()
	r0, a := e.refs[0], e.tags[1]

	tests := []struct {
		name   string
		mode   Mode
		pairs  []storage.TagPair
		badRow int
		status string
		want   error
	}{
		{"foreign tag", Append, []storage.TagPair{{RefID: r0, TagID: a}, {RefID: r0, TagID: otherTags[1]}}, 1, StatusBadTag, storage.ErrValidation},
		{"foreign ref", Replace, []storage.TagPair{{RefID: otherRefs[0], TagID: a}}, 0, StatusBadRef, storage.ErrValidation},
		{"missing tag", Append, []storage.TagPair{{RefID: r0, TagID: 99999}}, 0, StatusBadTag, storage.ErrValidation},
		{"duplicate", Append, []storage.TagPair{{RefID: r0, TagID: a}, {RefID: r0, TagID: a}}, 1, StatusDuplicate, storage.ErrConflict},
		{"duplicate replace", Replace, []storage.TagPair{{RefID: r0, TagID: a}, {RefID: r0, TagID: a}}, 1, StatusDuplicate, storage.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := e.m.Apply(ctx, e.project, tt.mode, tt.pairs, false)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Apply() error = %v, want %v", err, tt.want)
			}
			if res == nil || res.Rows[tt.badRow].Status != tt.status {
				t.Errorf("rows = %+v, want row %d %q", res, tt.badRow, tt.status)
			}
			if got := e.resolved(t, r0); len(got) != 0 {
				t.Errorf("rejected batch wrote tags: %v", got)
			}
		})
	}

	if _, err := e.m.Apply(ctx, e.project, Mode("merge"), []storage.TagPair{{RefID: r0, TagID: a}}, false); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("Apply(bad mode) error = %v", err)
	}
}

func TestSetReviewerTags_ConflictScenario(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	ref := e.refs[0]
	a, b := e.tags[1], e.tags[2]

	res, err := e.m.SetReviewerTags(ctx, e.project, "ann", ref, []int64{a})
	if err != nil {
		t.Fatal(err)
	}
	if res.InConflict || !slices.Equal(res.Tags, []int64{a}) {
		t.Errorf("single reviewer = %+v", res)
	}

	res, err = e.m.SetReviewerTags(ctx, e.project, "bob", ref, []int64{b})
	if err != nil {
		t.Fatal(err)
	}
	if !res.InConflict {
		t.Fatalf("disagreement not flagged: %+v", res)
	}
	if got := e.resolved(t, ref); !slices.Equal(got, []int64{a}) {
		t.Errorf("resolved changed on conflict: %v", got)
	}

	conflicts, err := e.m.Conflicts(ctx, e.project)
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 || conflicts[0].RefID != ref || len(conflicts[0].Reviewers) != 2 {
		t.Errorf("Conflicts() = %+v", conflicts)
	}

	// bob comes around
	res, err = e.m.SetReviewerTags(ctx, e.project, "bob", ref, []int64{a, a})
	if err != nil {
		t.Fatal(err)
	}
	if res.InConflict || !slices.Equal(res.Tags, []int64{a}) {
		t.Errorf("after agreement = %+v", res)
	}
	if conflicts, _ := e.m.Conflicts(ctx, e.project); len(conflicts) != 0 {
		t.Errorf("conflict not cleared: %+v", conflicts)
	}
}

func TestResolveConflict(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	ref := e.refs[1]
	a, b, c := e.tags[1], e.tags[2], e.tags[3]

	if _, err := e.m.SetReviewerTags(ctx, e.project, "ann", ref, []int64{a}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.m.SetReviewerTags(ctx, e.project, "bob", ref, nil); err != nil {
		t.Fatal(err)
	}

	res, err := e.m.ResolveConflict(ctx, e.project, ref, []int64{c, b})
	if err != nil {
		t.Fatal(err)
	}
	if res.InConflict || !slices.Equal(res.Tags, []int64{b, c}) {
		t.Errorf("ResolveConflict() = %+v", res)
	}
	got, _ := e.db.GetReference(ctx, ref)
	if got.InConflict {
		t.Error("reference still flagged")
	}
	if tags := e.resolved(t, ref); !slices.Equal(tags, []int64{b, c}) {
		t.Errorf("resolved = %v", tags)
	}
}

func TestSetReviewerTags_Rejects(t *testing.T) {
	e := setup(t)
	_, _, otherTags := seed(t, e.db, "Benzene")
	ctx := context.Background()

	if _, err := e.m.SetReviewerTags(ctx, e.project, "ann", e.refs[0], []int64{otherTags[1]}); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("foreign tag error = %v, want ErrValidation", err)
	}
	if _, err := e.m.SetReviewerTags(ctx, e.project, " ", e.refs[0], nil); !errors.Is(err, storage.ErrValidation) {
		t.Errorf("blank reviewer error = %v, want ErrValidation", err)
	}
	sets, _ := e.db.ReviewerSets(ctx, []int64{e.refs[0]})
	if len(sets) != 0 {
		t.Errorf("rejected pass stored: %v", sets)
	}
}
