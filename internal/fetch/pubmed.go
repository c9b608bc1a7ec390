package fetch

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"net/url"
	"strconv"
	"strings"

	"github.com/matsen/litreview/internal/identifier"
)

const (
	// PubMedBaseURL is the NCBI E-utilities base URL.
	PubMedBaseURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"

	// NCBI allows 3 requests per second, 10 with an API key.
	pubmedRate        = 3.0
	pubmedRateWithKey = 10.0
)

// PubMed queries NCBI E-utilities.
type PubMed struct {
	client
	apiKey string
	email  string
}

// NewPubMed creates a PubMed client. apiKey and email may be empty.
func NewPubMed(apiKey, email string, opts ...ClientOption) *PubMed {
	perSecond := pubmedRate
	if apiKey != "" {
		perSecond = pubmedRateWithKey
	}
	return &PubMed{
		client: newClient(identifier.PubMed, PubMedBaseURL, perSecond, opts),
		apiKey: apiKey,
		email:  email,
	}
}

// Name returns identifier.PubMed.
func (p *PubMed) Name() identifier.Source {
	return identifier.PubMed
}

func (p *PubMed) endpoint(tool string, params url.Values) string {
	params.Set("db", "pubmed")
	params.Set("tool", "litreview")
	if p.apiKey != "" {
		params.Set("api_key", p.apiKey)
	}
	if p.email != "" {
		params.Set("email", p.email)
	}
	return p.baseURL + "/" + tool + "?" + params.Encode()
}

type esearchResponse struct {
	Result struct {
		Count  string   `json:"count"`
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

func (p *PubMed) esearch(ctx context.Context, query string, retmax int) (*esearchResponse, error) {
	params := url.Values{}
	params.Set("term", query)
	params.Set("retmode", "json")
	params.Set("retmax", strconv.Itoa(retmax))
	body, err := p.get(ctx, p.endpoint("esearch.fcgi", params))
	if err != nil {
		return nil, err
	}

	var resp esearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, p.invalid("parsing esearch response: %v", err)
	}
	return &resp, nil
}

// Count returns how many PubMed records match query.
func (p *PubMed) Count(ctx context.Context, query string) (int, error) {
	resp, err := p.esearch(ctx, query, 0)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(resp.Result.Count)
	if err != nil {
		return 0, p.invalid("count %q", resp.Result.Count)
	}
	return n, nil
}

// Search returns up to max PMIDs matching query.
func (p *PubMed) Search(ctx context.Context, query string, max int) ([]string, error) {
	resp, err := p.esearch(ctx, query, max)
	if err != nil {
		return nil, err
	}
	return resp.Result.IDList, nil
}

// articleSet splits an efetch response into its articles, keeping each
// article's XML verbatim.
type articleSet struct {
	Articles []struct {
		PMID  string `xml:"MedlineCitation>PMID"`
		Inner []byte `xml:",innerxml"`
	} `xml:"PubmedArticle"`
}

// Fetch returns the <PubmedArticle> XML of each PMID.
func (p *PubMed) Fetch(ctx context.Context, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	params := url.Values{}
	params.Set("id", strings.Join(ids, ","))
	params.Set("retmode", "xml")
	body, err := p.get(ctx, p.endpoint("efetch.fcgi", params))
	if err != nil {
		return nil, err
	}

	var set articleSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, p.invalid("parsing efetch response: %v", err)
	}

	records := make([]Record, 0, len(set.Articles))
	for _, a := range set.Articles {
		pmid := strings.TrimSpace(a.PMID)
		if pmid == "" {
			continue
		}
		content := make([]byte, 0, len(a.Inner)+len("<PubmedArticle></PubmedArticle>"))
		content = append(content, "<PubmedArticle>"...)
		content = append(content, a.Inner...)
		content = append(content, "</PubmedArticle>"...)
		records = append(records, Record{ExternalID: pmid, Content: content})
	}
	return records, nil
}
