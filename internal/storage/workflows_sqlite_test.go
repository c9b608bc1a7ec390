package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/matsen/litreview/internal/project"
)

func TestWorkflows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	pid := mustProject(t, db, "P")
	other := mustProject(t, db, "Other")
	tags := mustTags(t, db, pid, map[string]string{"root": "0001", "Include": "00010001", "Done": "00010002"})
	foreign := mustTags(t, db, other, map[string]string{"root": "0001"})

	w := &project.Workflow{
		ProjectID:                   pid,
		Title:                       "Full text screening",
		AdmissionTags:               []int64{tags["Include"]},
		AdmissionIncludeDescendants: true,
		CompletionTags:              []int64{tags["Done"]},
	}
	err := db.WithTx(ctx, func(tx *Tx) error { return tx.CreateWorkflow(ctx, w) })
	if err != nil {
		t.Fatalf("CreateWorkflow() error = %v", err)
	}

	got, err := db.GetWorkflow(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWorkflow() error = %v", err)
	}
	if got.Title != w.Title || !got.AdmissionIncludeDescendants || !equalIDs(got.CompletionTags, w.CompletionTags) {
		t.Errorf("GetWorkflow() = %+v", got)
	}

	bad := &project.Workflow{ProjectID: pid, Title: "Bad", CompletionTags: []int64{foreign["root"]}}
	err = db.WithTx(ctx, func(tx *Tx) error { return tx.CreateWorkflow(ctx, bad) })
	if !errors.Is(err, ErrValidation) {
		t.Errorf("CreateWorkflow(foreign tag) error = %v, want ErrValidation", err)
	}

	list, _ := db.ListWorkflows(ctx, pid)
	if len(list) != 1 {
		t.Errorf("ListWorkflows() = %v", list)
	}
	if _, err := db.GetWorkflow(ctx, 999); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetWorkflow(missing) error = %v", err)
	}
}
