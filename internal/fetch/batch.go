package fetch

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Defaults for FetchAll.
const (
	DefaultChunkSize   = 200
	DefaultConcurrency = 4
)

// FetchAll fetches ids from src in chunks, with at most concurrency chunks
// in flight. Records come back in the order of ids with duplicates dropped;
// ids the service did not return are listed in missing. Any failed chunk
// cancels the rest and its error is returned, so a partial fetch never
// reaches the caller.
func FetchAll(ctx context.Context, src Source, ids []string, chunkSize, concurrency int) (records []Record, missing []string, err error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var unique []string
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	var chunks [][]string
	for start := 0; start < len(unique); start += chunkSize {
		chunks = append(chunks, unique[start:min(start+chunkSize, len(unique))])
	}

	results := make([][]Record, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, chunk := range chunks {
		g.Go(func() error {
			recs, err := src.Fetch(gctx, chunk)
			if err != nil {
				return err
			}
			results[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	byID := make(map[string]Record)
	for _, recs := range results {
		for _, r := range recs {
			byID[r.ExternalID] = r
		}
	}
	for _, id := range unique {
		if r, ok := byID[id]; ok {
			records = append(records, r)
		} else {
			missing = append(missing, id)
		}
	}
	return records, missing, nil
}
