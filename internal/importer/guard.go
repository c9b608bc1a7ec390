package importer

import (
	"context"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/matsen/litreview/internal/storage"
)

// DeleteResult reports what deleting an import batch removed.
type DeleteResult struct {
	BatchID int64   `json:"batch_id"`
	Deleted []int64 `json:"deleted"`
	Kept    []int64 `json:"kept"`
}

// DeleteBatch deletes an import batch together with the references only it
// introduced. A reference survives, detached from the batch, when it carries
// any tag, belongs to another batch, or has been promoted.
func (e *Engine) DeleteBatch(ctx context.Context, projectID, batchID int64) (*DeleteResult, error) {
	batch, err := e.db.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.ProjectID != projectID {
		return nil, storage.Invalid("batch", "batch %d is not in project %d", batchID, projectID)
	}

	// Promotion is an outside collaborator, so ask it before the transaction
	// takes the connection.
	refIDs, err := e.db.BatchRefIDs(ctx, batchID)
	if err != nil {
		return nil, err
	}
	promoted := mapset.NewSet[int64]()
	for _, id := range refIDs {
		ok, err := e.promotions.IsPromoted(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("checking promotion of reference %d: %w", id, err)
		}
		if ok {
			promoted.Add(id)
		}
	}

	res := &DeleteResult{BatchID: batchID}
	err = e.db.WithTx(ctx, func(tx *storage.Tx) error {
		refIDs, err := tx.BatchRefIDs(ctx, batchID)
		if err != nil {
			return err
		}
		tagged, err := tx.RefsWithAnyTag(ctx, refIDs)
		if err != nil {
			return err
		}
		shared, err := tx.RefsInOtherBatches(ctx, batchID, refIDs)
		if err != nil {
			return err
		}

		protected := promoted.Union(mapset.NewSet(tagged...)).Union(mapset.NewSet(shared...))
		for _, id := range refIDs {
			if protected.Contains(id) {
				res.Kept = append(res.Kept, id)
			} else {
				res.Deleted = append(res.Deleted, id)
			}
		}

		if err := tx.DeleteBatch(ctx, batchID); err != nil {
			return err
		}
		_, err = tx.DeleteReferences(ctx, res.Deleted)
		return err
	})
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"project": projectID,
		"batch":   batchID,
	}).Infof("deleted batch: %d references removed, %d kept", len(res.Deleted), len(res.Kept))
	return res, nil
}

// DeleteReference deletes one reference unless it has been promoted.
func (e *Engine) DeleteReference(ctx context.Context, projectID, refID int64) error {
	ref, err := e.db.GetReference(ctx, refID)
	if err != nil {
		return err
	}
	if ref.ProjectID != projectID {
		return storage.Invalid("ref_id", "reference %d is not in project %d", refID, projectID)
	}
	promoted, err := e.promotions.IsPromoted(ctx, refID)
	if err != nil {
		return fmt.Errorf("checking promotion of reference %d: %w", refID, err)
	}
	if promoted {
		return &storage.IntegrityError{Message: fmt.Sprintf("reference %d has been promoted and cannot be deleted", refID)}
	}
	return e.db.WithTx(ctx, func(tx *storage.Tx) error {
		_, err := tx.DeleteReferences(ctx, []int64{refID})
		return err
	})
}
