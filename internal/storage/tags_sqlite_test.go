package storage

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/matsen/litreview/internal/reference"
	"github.com/matsen/litreview/internal/tag"
)

// mustTags inserts tags given as name -> path.
func mustTags(t *testing.T, db *DB, projectID int64, paths map[string]string) map[string]int64 {
	t.Helper()
	ids := make(map[string]int64)
	err := db.WithTx(context.Background(), func(tx *Tx) error {
		for name, path := range paths {
			tg := &tag.Tag{ProjectID: projectID, Name: name, Path: path, Depth: tag.Depth(path)}
			if err := tx.InsertTag(context.Background(), tg); err != nil {
				return err
			}
			ids[name] = tg.ID
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InsertTag() error = %v", err)
	}
	return ids
}

func TestTags_DescendantsAndLastChild(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	pid := mustProject(t, db, "P")
	ids := mustTags(t, db, pid, map[string]string{
		"root": "0001",
		"A":    "00010001",
		"A1":   "000100010001",
		"A2":   "000100010002",
		"B":    "00010002",
	})

	got, err := db.Descendants(ctx, []int64{ids["A"]})
	if err != nil {
		t.Fatal(err)
	}
	want := sortIDs([]int64{ids["A"], ids["A1"], ids["A2"]})
	if !equalIDs(got, want) {
		t.Errorf("Descendants(A) = %v, want %v", got, want)
	}

	last, err := db.LastChildPath(ctx, pid, "0001")
	if err != nil || last != "00010002" {
		t.Errorf("LastChildPath(root) = %q, %v", last, err)
	}
	last, _ = db.LastChildPath(ctx, pid, "00010002")
	if last != "" {
		t.Errorf("LastChildPath(B) = %q, want empty", last)
	}

	root, err := db.RootTag(ctx, pid)
	if err != nil || root.ID != ids["root"] {
		t.Errorf("RootTag() = %+v, %v", root, err)
	}

	tags, _ := db.ProjectTags(ctx, pid)
	if len(tags) != 5 || tags[1].Name != "A" || tags[4].Name != "B" {
		t.Errorf("ProjectTags() order = %+v", tags)
	}
}

func TestForeignTags(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	pid := mustProject(t, db, "P")
	other := mustProject(t, db, "Other")
	mine := mustTags(t, db, pid, map[string]string{"root": "0001"})
	theirs := mustTags(t, db, other, map[string]string{"root": "0001"})

	foreign, err := db.ForeignTags(ctx, pid, []int64{mine["root"], theirs["root"]})
	if err != nil {
		t.Fatal(err)
	}
	if !equalIDs(foreign, []int64{theirs["root"]}) {
		t.Errorf("ForeignTags() = %v", foreign)
	}
}

func TestAssignments(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	pid := mustProject(t, db, "P")
	tags := mustTags(t, db, pid, map[string]string{"root": "0001", "A": "00010001", "B": "00010002"})
	refs := mustInsertRefs(t, db, pid, reference.Reference{Title: "One"}, reference.Reference{Title: "Two"})

	err := db.WithTx(ctx, func(tx *Tx) error {
		n, err := tx.AddRefTags(ctx, []TagPair{{refs[0], tags["A"]}, {refs[0], tags["B"]}, {refs[1], tags["A"]}})
		if err != nil {
			return err
		}
		if n != 3 {
			t.Errorf("AddRefTags() = %d, want 3", n)
		}
		n, err = tx.RemoveRefTags(ctx, []TagPair{{refs[0], tags["B"]}, {refs[1], tags["B"]}})
		if n != 1 {
			t.Errorf("RemoveRefTags() = %d, want 1", n)
		}
		return err
	})
	if err != nil {
		t.Fatal(err)
	}

	resolved, err := db.ResolvedTags(ctx, refs)
	if err != nil {
		t.Fatal(err)
	}
	if !equalIDs(resolved[refs[0]], []int64{tags["A"]}) || !equalIDs(resolved[refs[1]], []int64{tags["A"]}) {
		t.Errorf("ResolvedTags() = %v", resolved)
	}

	withA, _ := db.RefsWithTags(ctx, []int64{tags["A"]})
	if !equalIDs(withA, refs) {
		t.Errorf("RefsWithTags(A) = %v", withA)
	}

	// deleting a tag cascades to its assignments
	err = db.WithTx(ctx, func(tx *Tx) error {
		_, err := tx.DeleteTags(ctx, []int64{tags["A"]})
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	tagged, _ := db.TaggedRefIDs(ctx, pid)
	if len(tagged) != 0 {
		t.Errorf("TaggedRefIDs() after tag delete = %v", tagged)
	}
}

func TestReviewerPasses(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	pid := mustProject(t, db, "P")
	tags := mustTags(t, db, pid, map[string]string{"root": "0001", "A": "00010001"})
	refs := mustInsertRefs(t, db, pid, reference.Reference{Title: "One"})

	err := db.WithTx(ctx, func(tx *Tx) error {
		if err := tx.SetReviewerPass(ctx, refs[0], "alice", []int64{tags["A"]}); err != nil {
			return err
		}
		if err := tx.SetReviewerPass(ctx, refs[0], "bob", nil); err != nil {
			return err
		}
		// a second pass replaces the first
		return tx.SetReviewerPass(ctx, refs[0], "alice", []int64{tags["A"], tags["root"]})
	})
	if err != nil {
		t.Fatal(err)
	}

	sets, err := db.ReviewerSets(ctx, refs)
	if err != nil {
		t.Fatal(err)
	}
	if len(sets[refs[0]]) != 2 {
		t.Fatalf("ReviewerSets() = %v, want two reviewers", sets)
	}
	if len(sets[refs[0]]["bob"]) != 0 || len(sets[refs[0]]["alice"]) != 2 {
		t.Errorf("ReviewerSets() = %v", sets)
	}

	counts, _ := db.ReviewerCounts(ctx, pid)
	if counts[refs[0]] != 2 {
		t.Errorf("ReviewerCounts() = %v", counts)
	}
	byAlice, _ := db.RefsTaggedBy(ctx, pid, "alice")
	byBob, _ := db.RefsTaggedBy(ctx, pid, "bob")
	if len(byAlice) != 1 || len(byBob) != 0 {
		t.Errorf("RefsTaggedBy() alice=%v bob=%v", byAlice, byBob)
	}
	withAny, _ := db.RefsWithAnyTag(ctx, refs)
	if !equalIDs(withAny, refs) {
		t.Errorf("RefsWithAnyTag() = %v", withAny)
	}
}

func TestRenameTag_Missing(t *testing.T) {
	db := openTestDB(t)
	err := db.WithTx(context.Background(), func(tx *Tx) error {
		return tx.RenameTag(context.Background(), 99, "x")
	})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("RenameTag(missing) error = %v, want ErrNotFound", err)
	}
}

func sortIDs(ids []int64) []int64 {
	slices.Sort(ids)
	return ids
}
