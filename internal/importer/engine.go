// Package importer merges externally sourced records into a project's
// references, deduplicating them by identifier.
package importer

import (
	"context"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/matsen/litreview/internal/access"
	"github.com/matsen/litreview/internal/fetch"
	"github.com/matsen/litreview/internal/identifier"
	"github.com/matsen/litreview/internal/pdf"
	"github.com/matsen/litreview/internal/reference"
	"github.com/matsen/litreview/internal/storage"
)

// DefaultMaxResults caps how many records one search may import.
const DefaultMaxResults = 10000

// Engine runs imports against one database.
type Engine struct {
	db          *storage.DB
	sources     map[identifier.Source]fetch.Source
	promotions  access.PromotionChecker
	maxResults  int
	chunkSize   int
	concurrency int
	inspect     func(path string) (pdf.Document, error)
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource registers a searchable service under its own name.
func WithSource(src fetch.Source) Option {
	return func(e *Engine) {
		e.sources[src.Name()] = src
	}
}

// WithMaxResults sets the largest search or id list accepted.
func WithMaxResults(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxResults = n
		}
	}
}

// WithPromotionChecker sets the collaborator that pins promoted references.
func WithPromotionChecker(pc access.PromotionChecker) Option {
	return func(e *Engine) {
		e.promotions = pc
	}
}

// WithFetchLimits sets the fetch chunk size and concurrency.
func WithFetchLimits(chunkSize, concurrency int) Option {
	return func(e *Engine) {
		e.chunkSize = chunkSize
		e.concurrency = concurrency
	}
}

// NewEngine creates an import engine over db.
func NewEngine(db *storage.DB, opts ...Option) *Engine {
	e := &Engine{
		db:          db,
		sources:     make(map[identifier.Source]fetch.Source),
		promotions:  access.NeverPromoted{},
		maxResults:  DefaultMaxResults,
		chunkSize:   fetch.DefaultChunkSize,
		concurrency: fetch.DefaultConcurrency,
		inspect:     pdf.InspectFile,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RowError records one input row that could not be imported. The rest of the
// batch is still imported.
type RowError struct {
	Row        int    `json:"row"`
	ExternalID string `json:"external_id,omitempty"`
	Reason     string `json:"reason"`
}

func (e RowError) Error() string {
	if e.ExternalID != "" {
		return fmt.Sprintf("row %d (%s): %s", e.Row, e.ExternalID, e.Reason)
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Reason)
}

// Result summarizes one submission.
type Result struct {
	Batch          reference.ImportBatch `json:"batch"`
	Created        []int64               `json:"created"`
	Attached       []int64               `json:"attached"`
	NewIdentifiers int                   `json:"new_identifiers"`
	Skipped        []RowError            `json:"skipped,omitempty"`
	Unlinked       []RowError            `json:"unlinked,omitempty"` // identifiers held by another reference
	Missing        []string              `json:"missing,omitempty"`
}

// row is one mapped payload waiting to be merged. index is its position in
// the submitted records.
type row struct {
	index   int
	key     identifier.Key
	content []byte
	fields  identifier.Fields
}

// keys returns the primary key followed by the secondary keys.
func (r row) keys() []identifier.Key {
	return append([]identifier.Key{r.key}, r.fields.Secondary...)
}

// stage maps raw payloads through the source's Mapper. Payloads that fail to
// map become RowErrors; the rest are returned in input order.
func stage(batch *reference.ImportBatch, source identifier.Source, records []fetch.Record) ([]row, []RowError, error) {
	mapper, err := identifier.MapperFor(source)
	if err != nil {
		return nil, nil, storage.Invalid("source", "%v", err)
	}

	var rows []row
	var skipped []RowError
	for i, rec := range records {
		id, err := source.NormalizeID(rec.ExternalID)
		var fields identifier.Fields
		if err == nil {
			fields, err = mapper.ExtractFields(rec.Content)
		}
		if err != nil {
			re := RowError{Row: i, ExternalID: rec.ExternalID, Reason: err.Error()}
			log.WithFields(log.Fields{
				"project": batch.ProjectID,
				"source":  source,
				"row":     i,
			}).Warnf("skipping record: %v", err)
			skipped = append(skipped, re)
			continue
		}
		rows = append(rows, row{
			index:   i,
			key:     identifier.Key{Source: source, ExternalID: id},
			content: rec.Content,
			fields:  fields,
		})
	}
	return rows, skipped, nil
}

// submit stages records and merges them into a new batch.
func (e *Engine) submit(ctx context.Context, batch *reference.ImportBatch, source identifier.Source, records []fetch.Record) (*Result, error) {
	if _, err := e.db.GetProject(ctx, batch.ProjectID); err != nil {
		return nil, err
	}
	rows, skipped, err := stage(batch, source, records)
	if err != nil {
		return nil, err
	}

	res := &Result{Skipped: skipped}
	err = e.db.WithTx(ctx, func(tx *storage.Tx) error {
		if batch.ID == 0 {
			if err := tx.CreateBatch(ctx, batch); err != nil {
				return err
			}
		}
		return merge(ctx, tx, batch, rows, res)
	})
	if err != nil {
		return nil, err
	}
	res.Batch = *batch

	log.WithFields(log.Fields{
		"project": batch.ProjectID,
		"source":  source,
		"batch":   batch.ID,
	}).Infof("imported %d new, attached %d existing, skipped %d", len(res.Created), len(res.Attached), len(res.Skipped))
	return res, nil
}

// merge writes staged rows into batch:
//
//  1. rows whose primary or secondary identifier already resolves to a
//     reference in the project attach to that reference;
//  2. the remaining rows become new references, one per distinct identifier
//     set, inserted in one pass;
//  3. every identifier is upserted into the global store and linked, and
//     every touched reference is attached to batch.
//
// A secondary identifier that already belongs to a different reference is
// not linked again; it is reported in res.Unlinked.
func merge(ctx context.Context, tx *storage.Tx, batch *reference.ImportBatch, rows []row, res *Result) error {
	var allKeys []identifier.Key
	for _, r := range rows {
		allKeys = append(allKeys, r.keys()...)
	}
	resolved, err := tx.ResolveKeys(ctx, batch.ProjectID, allKeys)
	if err != nil {
		return err
	}

	// owner maps a row to either an existing reference (ref > 0) or the
	// index of a new reference in fresh.
	type owner struct {
		ref   int64
		fresh int
	}
	owners := make([]owner, len(rows))
	claimed := make(map[identifier.Key]owner)
	var fresh []reference.Reference
	seenRef := make(map[int64]bool)

	for i, r := range rows {
		o, found := owner{}, false
		for _, k := range r.keys() {
			if refID, ok := resolved[k]; ok {
				o, found = owner{ref: refID}, true
				break
			}
			if c, ok := claimed[k]; ok {
				o, found = c, true
				break
			}
		}
		if !found {
			o = owner{fresh: len(fresh)}
			fresh = append(fresh, r.fields.Reference)
		}
		if o.ref > 0 && !seenRef[o.ref] {
			seenRef[o.ref] = true
			res.Attached = append(res.Attached, o.ref)
		}
		for _, k := range r.keys() {
			if _, ok := claimed[k]; !ok {
				claimed[k] = o
			}
		}
		owners[i] = o
	}

	newIDs, err := tx.InsertReferences(ctx, batch.ProjectID, fresh)
	if err != nil {
		return err
	}
	res.Created = newIDs

	refOf := func(o owner) int64 {
		if o.ref > 0 {
			return o.ref
		}
		return newIDs[o.fresh]
	}

	// Identifier rows: the primary key carries content, secondaries do not.
	var idents []identifier.Identifier
	var identOwner []owner
	keyOwner := make(map[identifier.Key]owner)
	unlinked := func(i int, k identifier.Key, holder int64) {
		r := rows[i]
		log.WithFields(log.Fields{
			"project": batch.ProjectID,
			"row":     r.index,
		}).Warnf("not linking %s to reference %d: held by reference %d", k, refOf(owners[i]), holder)
		res.Unlinked = append(res.Unlinked, RowError{
			Row:        r.index,
			ExternalID: r.key.ExternalID,
			Reason:     fmt.Sprintf("%s already belongs to reference %d", k, holder),
		})
	}
	add := func(i int, k identifier.Key, content []byte) {
		o := owners[i]
		if held, ok := keyOwner[k]; ok {
			if held != o {
				unlinked(i, k, refOf(held))
			}
			return
		}
		if refID, ok := resolved[k]; ok && refID != o.ref {
			unlinked(i, k, refID)
			return
		}
		keyOwner[k] = o
		idents = append(idents, identifier.Identifier{Source: k.Source, ExternalID: k.ExternalID, Content: content})
		identOwner = append(identOwner, o)
	}
	for i, r := range rows {
		add(i, r.key, r.content)
	}
	for i, r := range rows {
		for _, k := range r.fields.Secondary {
			add(i, k, nil)
		}
	}
	created, err := tx.UpsertIdentifiers(ctx, idents)
	if err != nil {
		return err
	}
	res.NewIdentifiers = created

	links := make([]storage.RefIdentifier, len(idents))
	for i, ident := range idents {
		links[i] = storage.RefIdentifier{RefID: refOf(identOwner[i]), IdentifierID: ident.ID}
	}
	if err := tx.LinkIdentifiers(ctx, links); err != nil {
		return err
	}

	attach := append(append([]int64{}, res.Attached...), newIDs...)
	if _, err := tx.AttachBatch(ctx, batch.ID, attach); err != nil {
		return err
	}
	return nil
}

// source returns the registered searchable service for s.
func (e *Engine) source(s identifier.Source) (fetch.Source, error) {
	if !s.Searchable() {
		return nil, storage.Invalid("source", "%s cannot be searched", s)
	}
	src, ok := e.sources[s]
	if !ok {
		return nil, storage.Invalid("source", "%s is not configured", s)
	}
	return src, nil
}

// SubmitSearch runs query against a network source and imports every hit
// into a new search batch. The result count is checked before anything is
// fetched; all fetching finishes before the database is touched.
func (e *Engine) SubmitSearch(ctx context.Context, projectID int64, source identifier.Source, query, title string) (*Result, error) {
	src, err := e.source(source)
	if err != nil {
		return nil, err
	}
	if query == "" {
		return nil, storage.Invalid("query", "empty search query")
	}

	ids, err := e.search(ctx, src, query)
	if err != nil {
		return nil, err
	}
	records, missing, err := e.fetchMissing(ctx, src, ids)
	if err != nil {
		return nil, err
	}

	batch := &reference.ImportBatch{
		ProjectID: projectID,
		Source:    string(source),
		Kind:      reference.KindSearch,
		Title:     title,
		Query:     query,
	}
	res, err := e.submit(ctx, batch, source, records)
	if err != nil {
		return nil, err
	}
	res.Missing = missing
	return res, nil
}

func (e *Engine) search(ctx context.Context, src fetch.Source, query string) ([]string, error) {
	count, err := src.Count(ctx, query)
	if err != nil {
		return nil, err
	}
	if count > e.maxResults {
		return nil, fetch.TooMany(src.Name(), count, e.maxResults)
	}
	if count == 0 {
		return nil, nil
	}
	return src.Search(ctx, query, count)
}

// RefreshSearch re-runs a search batch, refreshing the stored content of every
// hit and attaching new hits to the same batch. Cached sources are bypassed.
func (e *Engine) RefreshSearch(ctx context.Context, batchID int64) (*Result, error) {
	batch, err := e.db.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Kind != reference.KindSearch {
		return nil, storage.Invalid("batch", "batch %d is not a search", batchID)
	}
	source, err := identifier.ParseSource(batch.Source)
	if err != nil {
		return nil, storage.Invalid("batch", "%v", err)
	}
	src, err := e.source(source)
	if err != nil {
		return nil, err
	}

	fresh := fetch.Fresh(ctx)
	ids, err := e.search(fresh, src, batch.Query)
	if err != nil {
		return nil, err
	}
	records, missing, err := fetch.FetchAll(fresh, src, ids, e.chunkSize, e.concurrency)
	if err != nil {
		return nil, err
	}
	res, err := e.submit(ctx, batch, source, records)
	if err != nil {
		return nil, err
	}
	res.Missing = missing
	return res, nil
}

// SubmitIDs imports an explicit id list from a network source. Ids whose
// content is already in the global store are not fetched again.
func (e *Engine) SubmitIDs(ctx context.Context, projectID int64, source identifier.Source, ids []string, title string) (*Result, error) {
	src, err := e.source(source)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, storage.Invalid("ids", "no ids given")
	}
	normalized := make([]string, len(ids))
	for i, id := range ids {
		n, err := source.NormalizeID(id)
		if err != nil {
			return nil, storage.InvalidRow(i, "ids", "%v", err)
		}
		normalized[i] = n
	}
	if len(normalized) > e.maxResults {
		return nil, fetch.TooMany(source, len(normalized), e.maxResults)
	}

	records, missing, err := e.fetchMissing(ctx, src, normalized)
	if err != nil {
		return nil, err
	}
	batch := &reference.ImportBatch{
		ProjectID: projectID,
		Source:    string(source),
		Kind:      reference.KindImport,
		Title:     title,
		Query:     strings.Join(normalized, ","),
	}
	res, err := e.submit(ctx, batch, source, records)
	if err != nil {
		return nil, err
	}
	res.Missing = missing
	return res, nil
}

// fetchMissing returns records for ids in input order, taking stored content
// from the global store and fetching only the rest.
func (e *Engine) fetchMissing(ctx context.Context, src fetch.Source, ids []string) ([]fetch.Record, []string, error) {
	keys := make([]identifier.Key, len(ids))
	for i, id := range ids {
		keys[i] = identifier.Key{Source: src.Name(), ExternalID: id}
	}
	stored, err := e.db.LookupIdentifiers(ctx, keys, true)
	if err != nil {
		return nil, nil, err
	}

	var toFetch []string
	for _, k := range keys {
		if ident, ok := stored[k]; !ok || len(ident.Content) == 0 {
			toFetch = append(toFetch, k.ExternalID)
		}
	}
	fetched, missing, err := fetch.FetchAll(ctx, src, toFetch, e.chunkSize, e.concurrency)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[string][]byte, len(fetched))
	for _, rec := range fetched {
		byID[rec.ExternalID] = rec.Content
	}

	var records []fetch.Record
	for _, k := range keys {
		content := byID[k.ExternalID]
		if ident, ok := stored[k]; ok && len(ident.Content) > 0 {
			content = ident.Content
		}
		if content != nil {
			records = append(records, fetch.Record{ExternalID: k.ExternalID, Content: content})
		}
	}
	if len(toFetch) > 0 {
		log.WithFields(log.Fields{
			"source": src.Name(),
		}).Debugf("fetched %d of %d ids, %d from store", len(fetched), len(toFetch), len(ids)-len(toFetch))
	}
	return records, missing, nil
}
