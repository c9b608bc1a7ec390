package tagging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/matsen/litreview/internal/storage"
)

// Mode selects how Apply treats existing resolved tags.
type Mode string

const (
	// Append adds the given pairs, keeping existing tags.
	Append Mode = "append"
	// Replace makes each mentioned reference carry exactly its given tags.
	Replace Mode = "replace"
	// Remove deletes the given pairs.
	Remove Mode = "remove"
)

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case Append, Replace, Remove:
		return m, nil
	}
	return "", storage.Invalid("mode", "unknown mode %q (valid: append, replace, remove)", s)
}

// Row statuses reported by Apply.
const (
	StatusAdded      = "added"
	StatusExists     = "exists"
	StatusKept       = "kept"
	StatusRemoved    = "removed"
	StatusAbsent     = "absent"
	StatusBadRef     = "reference not in project"
	StatusBadTag     = "tag not in project"
	StatusDuplicate  = "duplicate"
	StatusUnverified = "not checked"
)

// RowResult is the outcome for one input pair.
type RowResult struct {
	Row    int    `json:"row"`
	RefID  int64  `json:"ref_id"`
	TagID  int64  `json:"tag_id"`
	Status string `json:"status"`
}

// Result summarizes one Apply call.
type Result struct {
	Mode    Mode        `json:"mode"`
	DryRun  bool        `json:"dry_run"`
	Added   int         `json:"added"`
	Removed int         `json:"removed"`
	Rows    []RowResult `json:"rows"`
}

// Mutator edits tag assignments.
type Mutator struct {
	db *storage.DB
}

// NewMutator returns a Mutator over db.
func NewMutator(db *storage.DB) *Mutator {
	return &Mutator{db: db}
}

// errDryRun rolls back a dry run after its diff has been computed.
var errDryRun = errors.New("dry run")

// Apply edits resolved tags in bulk. The input is validated as a whole: a row
// naming a reference or tag outside the project fails the batch with a
// ValidationError, and a repeated pair (allowed only under Remove) with a
// ConflictError. Either way nothing is written and the returned Result lists
// every row's status. A dry run validates and computes the same Result
// without writing.
func (m *Mutator) Apply(ctx context.Context, projectID int64, mode Mode, pairs []storage.TagPair, dryRun bool) (*Result, error) {
	mode, err := ParseMode(string(mode))
	if err != nil {
		return nil, err
	}
	if len(pairs) == 0 {
		return nil, storage.Invalid("pairs", "no assignments given")
	}

	res := &Result{Mode: mode, DryRun: dryRun, Rows: make([]RowResult, len(pairs))}
	for i, p := range pairs {
		res.Rows[i] = RowResult{Row: i, RefID: p.RefID, TagID: p.TagID, Status: StatusUnverified}
	}

	err = m.db.WithTx(ctx, func(tx *storage.Tx) error {
		if err := validate(ctx, tx, projectID, mode, pairs, res); err != nil {
			return err
		}
		if err := diff(ctx, tx, mode, pairs, res); err != nil {
			return err
		}
		if dryRun {
			return errDryRun
		}
		return write(ctx, tx, mode, pairs)
	})
	if errors.Is(err, errDryRun) {
		err = nil
	}
	if errors.Is(err, storage.ErrValidation) || errors.Is(err, storage.ErrConflict) {
		return res, err
	}
	if err != nil {
		return nil, err
	}

	if !dryRun {
		log.WithFields(log.Fields{"project": projectID}).Infof("%s: %d tags added, %d removed", mode, res.Added, res.Removed)
	}
	return res, nil
}

// validate marks invalid rows and fails when there are any.
func validate(ctx context.Context, tx *storage.Tx, projectID int64, mode Mode, pairs []storage.TagPair, res *Result) error {
	refIDs := mapset.NewSet[int64]()
	tagIDs := mapset.NewSet[int64]()
	for _, p := range pairs {
		refIDs.Add(p.RefID)
		tagIDs.Add(p.TagID)
	}
	foreignRefs, err := tx.ForeignRefs(ctx, projectID, refIDs.ToSlice())
	if err != nil {
		return err
	}
	foreignTags, err := tx.ForeignTags(ctx, projectID, tagIDs.ToSlice())
	if err != nil {
		return err
	}
	badRef := mapset.NewSet(foreignRefs...)
	badTag := mapset.NewSet(foreignTags...)

	firstInvalid, firstDup := -1, -1
	seen := make(map[storage.TagPair]int, len(pairs))
	for i, p := range pairs {
		switch {
		case badRef.Contains(p.RefID):
			res.Rows[i].Status = StatusBadRef
		case badTag.Contains(p.TagID):
			res.Rows[i].Status = StatusBadTag
		default:
			if _, dup := seen[p]; dup && mode != Remove {
				res.Rows[i].Status = StatusDuplicate
				if firstDup < 0 {
					firstDup = i
				}
			}
			seen[p] = i
			continue
		}
		if firstInvalid < 0 {
			firstInvalid = i
		}
	}

	if firstInvalid >= 0 {
		bad := res.Rows[firstInvalid]
		return storage.InvalidRow(firstInvalid, "pair", "reference %d, tag %d: %s", bad.RefID, bad.TagID, bad.Status)
	}
	if firstDup >= 0 {
		bad := res.Rows[firstDup]
		return &storage.ConflictError{Row: firstDup, Message: fmt.Sprintf("reference %d, tag %d appears more than once", bad.RefID, bad.TagID)}
	}
	return nil
}

// diff fills in each row's status and the added and removed counts against
// the current resolved tags.
func diff(ctx context.Context, tx *storage.Tx, mode Mode, pairs []storage.TagPair, res *Result) error {
	refIDs := mapset.NewSet[int64]()
	for _, p := range pairs {
		refIDs.Add(p.RefID)
	}
	current, err := tx.ResolvedTags(ctx, refIDs.ToSlice())
	if err != nil {
		return err
	}
	has := func(p storage.TagPair) bool {
		for _, id := range current[p.RefID] {
			if id == p.TagID {
				return true
			}
		}
		return false
	}

	done := make(map[storage.TagPair]bool)
	for i, p := range pairs {
		switch {
		case mode == Remove && done[p]:
			res.Rows[i].Status = StatusAbsent
		case mode == Remove && has(p):
			res.Rows[i].Status = StatusRemoved
			res.Removed++
		case mode == Remove:
			res.Rows[i].Status = StatusAbsent
		case has(p) && mode == Replace:
			res.Rows[i].Status = StatusKept
		case has(p):
			res.Rows[i].Status = StatusExists
		default:
			res.Rows[i].Status = StatusAdded
			res.Added++
		}
		done[p] = true
	}

	if mode == Replace {
		for ref, want := range desired(pairs) {
			for _, id := range current[ref] {
				if !want.Contains(id) {
					res.Removed++
				}
			}
		}
	}
	return nil
}

// desired groups pairs into each reference's wanted tag set.
func desired(pairs []storage.TagPair) map[int64]mapset.Set[int64] {
	out := make(map[int64]mapset.Set[int64])
	for _, p := range pairs {
		if out[p.RefID] == nil {
			out[p.RefID] = mapset.NewSet[int64]()
		}
		out[p.RefID].Add(p.TagID)
	}
	return out
}

func write(ctx context.Context, tx *storage.Tx, mode Mode, pairs []storage.TagPair) error {
	switch mode {
	case Append:
		_, err := tx.AddRefTags(ctx, pairs)
		return err
	case Remove:
		_, err := tx.RemoveRefTags(ctx, pairs)
		return err
	case Replace:
		for ref, want := range desired(pairs) {
			if err := tx.SetRefTags(ctx, ref, sorted(want)); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unhandled mode %q", mode)
}
