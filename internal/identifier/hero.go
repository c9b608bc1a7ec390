package identifier

import (
	"encoding/json"
	"fmt"

	"github.com/matsen/litreview/internal/reference"
)

// heroRecord is a reference as returned by the EPA HERO web service.
type heroRecord struct {
	HEROID   FlexibleString `json:"HEROID"`
	PMID     FlexibleString `json:"PMID"`
	DOI      string         `json:"doi"`
	Title    string         `json:"title"`
	Abstract string         `json:"abstract"`
	Authors  StringList     `json:"authors"`
	Year     FlexibleString `json:"year"`
	Source   string         `json:"source"` // journal citation text
	URL      string         `json:"url"`
}

func mapHERO(raw []byte) (Fields, error) {
	var rec heroRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Fields{}, fmt.Errorf("parsing HERO JSON: %w", err)
	}
	if rec.HEROID.String() == "" {
		return Fields{}, fmt.Errorf("HERO record has no HEROID")
	}

	ref := reference.Reference{
		Title:       stripTags(rec.Title),
		Abstract:    rec.Abstract,
		Journal:     rec.Source,
		Year:        parseYear(rec.Year.String()),
		FullTextURL: rec.URL,
	}
	for _, name := range rec.Authors {
		if a := reference.ParseName(name); a.Last != "" {
			ref.Authors = append(ref.Authors, a)
		}
	}

	fields := Fields{Reference: ref}
	if rec.PMID.String() != "" {
		fields.Secondary = appendKey(fields.Secondary, PubMed, rec.PMID.String())
	}
	if rec.DOI != "" {
		fields.Secondary = appendKey(fields.Secondary, DOI, rec.DOI)
	}
	return finish(fields)
}
