package identifier

import (
	"encoding/json"
	"fmt"

	"github.com/matsen/litreview/internal/reference"
)

// cslRecord is the CSL-JSON subset returned by DOI content negotiation, and
// written by the PDF importer when it recovers a DOI from an upload.
type cslRecord struct {
	DOI    string     `json:"DOI"`
	Title  StringList `json:"title"`
	Author []struct {
		Family  string `json:"family"`
		Given   string `json:"given"`
		Literal string `json:"literal"`
	} `json:"author"`
	Issued struct {
		DateParts [][]int `json:"date-parts"`
	} `json:"issued"`
	Container StringList `json:"container-title"`
	Abstract  string     `json:"abstract"`
	URL       string     `json:"URL"`
}

func mapCSL(raw []byte) (Fields, error) {
	var rec cslRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Fields{}, fmt.Errorf("parsing CSL JSON: %w", err)
	}
	if _, err := DOI.NormalizeID(rec.DOI); err != nil {
		return Fields{}, err
	}

	ref := reference.Reference{
		Title:       stripTags(rec.Title.First()),
		Journal:     rec.Container.First(),
		Abstract:    stripTags(rec.Abstract),
		FullTextURL: rec.URL,
	}
	if len(rec.Issued.DateParts) > 0 && len(rec.Issued.DateParts[0]) > 0 {
		ref.Year = rec.Issued.DateParts[0][0]
	}
	for _, a := range rec.Author {
		switch {
		case a.Literal != "":
			ref.Authors = append(ref.Authors, reference.Author{Last: a.Literal})
		case a.Family != "":
			ref.Authors = append(ref.Authors, reference.Author{First: a.Given, Last: a.Family})
		}
	}
	return finish(Fields{Reference: ref})
}
