package importer

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/matsen/litreview/internal/identifier"
	"github.com/matsen/litreview/internal/storage"
)

// Replacement gives a reference a new external id for one source.
type Replacement struct {
	RefID      int64  `json:"ref_id"`
	ExternalID string `json:"external_id"`
}

// ReplaceIdentifiers swaps each reference's identifier for source with the
// given one. The whole list is rejected when a reference is outside the
// project, or when two references in the project would end up sharing an
// identifier.
func (e *Engine) ReplaceIdentifiers(ctx context.Context, projectID int64, source identifier.Source, reps []Replacement) (int, error) {
	if len(reps) == 0 {
		return 0, storage.Invalid("replacements", "no replacements given")
	}

	keys := make([]identifier.Key, len(reps))
	refRow := make(map[int64]int, len(reps))
	keyRow := make(map[identifier.Key]int, len(reps))
	refIDs := make([]int64, len(reps))
	for i, rep := range reps {
		id, err := source.NormalizeID(rep.ExternalID)
		if err != nil {
			return 0, storage.InvalidRow(i, "external_id", "%v", err)
		}
		keys[i] = identifier.Key{Source: source, ExternalID: id}
		refIDs[i] = rep.RefID

		if prev, dup := refRow[rep.RefID]; dup {
			return 0, &storage.ConflictError{Row: i, Message: fmt.Sprintf("reference %d already replaced in row %d", rep.RefID, prev)}
		}
		refRow[rep.RefID] = i
		if prev, dup := keyRow[keys[i]]; dup {
			return 0, &storage.ConflictError{Row: i, Message: fmt.Sprintf("%s already assigned in row %d", keys[i], prev)}
		}
		keyRow[keys[i]] = i
	}

	err := e.db.WithTx(ctx, func(tx *storage.Tx) error {
		foreign, err := tx.ForeignRefs(ctx, projectID, refIDs)
		if err != nil {
			return err
		}
		if len(foreign) > 0 {
			return storage.InvalidRow(refRow[foreign[0]], "ref_id", "reference %d is not in project %d", foreign[0], projectID)
		}

		resolved, err := tx.ResolveKeys(ctx, projectID, keys)
		if err != nil {
			return err
		}
		for i, k := range keys {
			holder, ok := resolved[k]
			if !ok || holder == reps[i].RefID {
				continue
			}
			// a holder that is itself being replaced gives the id up
			if _, replacing := refRow[holder]; replacing {
				continue
			}
			return &storage.ConflictError{Row: i, Message: fmt.Sprintf("%s already belongs to reference %d", k, holder)}
		}

		idents := make([]identifier.Identifier, len(keys))
		for i, k := range keys {
			idents[i] = identifier.Identifier{Source: k.Source, ExternalID: k.ExternalID}
		}
		if _, err := tx.UpsertIdentifiers(ctx, idents); err != nil {
			return err
		}
		links := make([]storage.RefIdentifier, len(reps))
		for i, rep := range reps {
			if err := tx.UnlinkSource(ctx, rep.RefID, source); err != nil {
				return err
			}
			links[i] = storage.RefIdentifier{RefID: rep.RefID, IdentifierID: idents[i].ID}
		}
		return tx.LinkIdentifiers(ctx, links)
	})
	if err != nil {
		return 0, err
	}

	log.WithFields(log.Fields{
		"project": projectID,
		"source":  source,
	}).Infof("replaced %d identifiers", len(reps))
	return len(reps), nil
}
