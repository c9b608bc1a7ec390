package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/matsen/litreview/internal/fetch"
	"github.com/matsen/litreview/internal/identifier"
	"github.com/matsen/litreview/internal/reference"
	"github.com/matsen/litreview/internal/ris"
)

// SubmitRIS imports every entry of a RIS export. Each entry is stored under
// a content-derived id, so re-uploading the same file attaches rather than
// duplicates.
func (e *Engine) SubmitRIS(ctx context.Context, projectID int64, fileName string, r io.Reader) (*Result, error) {
	entries, err := ris.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", fileName, err)
	}

	records := make([]fetch.Record, 0, len(entries))
	for _, entry := range entries {
		// map keys marshal sorted, so equal entries give equal bytes
		content, err := json.Marshal(entry)
		if err != nil {
			return nil, fmt.Errorf("encoding RIS entry: %w", err)
		}
		records = append(records, fetch.Record{ExternalID: identifier.ContentID(content), Content: content})
	}

	batch := &reference.ImportBatch{
		ProjectID: projectID,
		Source:    string(identifier.RIS),
		Kind:      reference.KindImport,
		FileName:  fileName,
	}
	return e.submit(ctx, batch, identifier.RIS, records)
}

// cslStub is the minimal CSL-JSON written for a DOI recovered from a PDF.
type cslStub struct {
	DOI   string   `json:"DOI"`
	Title []string `json:"title"`
}

// SubmitPDFs imports uploaded PDFs by the DOI printed in each. A PDF whose
// DOI cannot be found is reported as a skipped row.
func (e *Engine) SubmitPDFs(ctx context.Context, projectID int64, paths []string) (*Result, error) {
	var records []fetch.Record
	var recordRow []int
	var unreadable []RowError
	for i, path := range paths {
		doc, err := e.inspect(path)
		if err == nil && doc.DOI == "" {
			err = fmt.Errorf("no DOI found")
		}
		if err != nil {
			log.WithFields(log.Fields{
				"project": projectID,
				"row":     i,
			}).Warnf("skipping %s: %v", path, err)
			unreadable = append(unreadable, RowError{Row: i, ExternalID: filepath.Base(path), Reason: err.Error()})
			continue
		}
		content, err := json.Marshal(cslStub{DOI: doc.DOI, Title: []string{doc.Title}})
		if err != nil {
			return nil, fmt.Errorf("encoding %s: %w", path, err)
		}
		records = append(records, fetch.Record{ExternalID: doc.DOI, Content: content})
		recordRow = append(recordRow, i)
	}

	var names []string
	for _, p := range paths {
		names = append(names, filepath.Base(p))
	}
	batch := &reference.ImportBatch{
		ProjectID: projectID,
		Source:    string(identifier.DOI),
		Kind:      reference.KindImport,
		FileName:  strings.Join(names, ", "),
	}
	res, err := e.submit(ctx, batch, identifier.DOI, records)
	if err != nil {
		return nil, err
	}
	for i := range res.Skipped {
		res.Skipped[i].Row = recordRow[res.Skipped[i].Row]
	}
	for i := range res.Unlinked {
		res.Unlinked[i].Row = recordRow[res.Unlinked[i].Row]
	}
	res.Skipped = append(unreadable, res.Skipped...)
	slices.SortFunc(res.Skipped, func(a, b RowError) int { return a.Row - b.Row })
	return res, nil
}
