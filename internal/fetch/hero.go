package fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/matsen/litreview/internal/identifier"
)

const (
	// HEROBaseURL is the EPA HERO web service base URL.
	HEROBaseURL = "https://hero.epa.gov/hero/ws/index.cfm/api/1.0"

	heroRate = 2.0
)

// HERO queries the EPA Health and Environmental Research Online database.
type HERO struct {
	client
}

// NewHERO creates a HERO client.
func NewHERO(opts ...ClientOption) *HERO {
	return &HERO{client: newClient(identifier.HERO, HEROBaseURL, heroRate, opts)}
}

// Name returns identifier.HERO.
func (h *HERO) Name() identifier.Source {
	return identifier.HERO
}

type heroResponse struct {
	NumFound int               `json:"numFound"`
	Results  []json.RawMessage `json:"results"`
}

func (h *HERO) search(ctx context.Context, query string, perPage int) (*heroResponse, error) {
	u := fmt.Sprintf("%s/search/criteria/%s/recordsperpage/%d.json", h.baseURL, url.PathEscape(query), perPage)
	body, err := h.get(ctx, u)
	if err != nil {
		return nil, err
	}
	var resp heroResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, h.invalid("parsing search response: %v", err)
	}
	return &resp, nil
}

// Count returns how many HERO records match query.
func (h *HERO) Count(ctx context.Context, query string) (int, error) {
	resp, err := h.search(ctx, query, 1)
	if err != nil {
		return 0, err
	}
	return resp.NumFound, nil
}

// Search returns up to max HERO ids matching query.
func (h *HERO) Search(ctx context.Context, query string, max int) ([]string, error) {
	resp, err := h.search(ctx, query, max)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(resp.Results))
	for _, raw := range resp.Results {
		id, err := heroID(raw)
		if err != nil {
			return nil, h.invalid("%v", err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Fetch returns the JSON record of each HERO id.
func (h *HERO) Fetch(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	u := fmt.Sprintf("%s/search/heroid/%s.json", h.baseURL, url.PathEscape(strings.Join(ids, ",")))
	body, err := h.get(ctx, u)
	if err != nil {
		return nil, err
	}

	var resp heroResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, h.invalid("parsing records: %v", err)
	}
	records := make([]Record, 0, len(resp.Results))
	for _, raw := range resp.Results {
		id, err := heroID(raw)
		if err != nil {
			continue
		}
		records = append(records, Record{ExternalID: id, Content: []byte(raw)})
	}
	return records, nil
}

// heroID reads the HEROID of one result, which HERO sends as a number or a string.
func heroID(raw json.RawMessage) (string, error) {
	var rec struct {
		HEROID identifier.FlexibleString `json:"HEROID"`
	}
	if err := json.Unmarshal(raw, &rec); err != nil {
		return "", fmt.Errorf("parsing record: %w", err)
	}
	id := rec.HEROID.String()
	if _, err := strconv.ParseInt(id, 10, 64); err != nil {
		return "", fmt.Errorf("record has invalid HEROID %q", id)
	}
	return id, nil
}
