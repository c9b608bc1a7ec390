package identifier

import (
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/matsen/litreview/internal/doi"
	"github.com/matsen/litreview/internal/reference"
)

// pubmedArticle is the subset of a <PubmedArticle> element that maps to a Reference.
type pubmedArticle struct {
	XMLName  xml.Name `xml:"PubmedArticle"`
	Citation struct {
		PMID    string `xml:"PMID"`
		Article struct {
			Journal struct {
				Title   string `xml:"Title"`
				PubDate struct {
					Year        string `xml:"Year"`
					MedlineDate string `xml:"MedlineDate"`
				} `xml:"JournalIssue>PubDate"`
			} `xml:"Journal"`
			Title struct {
				Inner string `xml:",innerxml"`
			} `xml:"ArticleTitle"`
			Abstract []struct {
				Label string `xml:"Label,attr"`
				Inner string `xml:",innerxml"`
			} `xml:"Abstract>AbstractText"`
			Authors []struct {
				LastName       string `xml:"LastName"`
				ForeName       string `xml:"ForeName"`
				Initials       string `xml:"Initials"`
				CollectiveName string `xml:"CollectiveName"`
			} `xml:"AuthorList>Author"`
			ELocations []struct {
				Type  string `xml:"EIdType,attr"`
				Value string `xml:",chardata"`
			} `xml:"ELocationID"`
		} `xml:"Article"`
	} `xml:"MedlineCitation"`
	ArticleIDs []struct {
		Type  string `xml:"IdType,attr"`
		Value string `xml:",chardata"`
	} `xml:"PubmedData>ArticleIdList>ArticleId"`
}

// mapPubMed maps one <PubmedArticle> XML element.
func mapPubMed(raw []byte) (Fields, error) {
	var a pubmedArticle
	if err := xml.Unmarshal(raw, &a); err != nil {
		return Fields{}, fmt.Errorf("parsing PubMed XML: %w", err)
	}
	c := a.Citation
	if strings.TrimSpace(c.PMID) == "" {
		return Fields{}, fmt.Errorf("PubMed XML has no PMID")
	}

	ref := reference.Reference{
		Title:   stripTags(c.Article.Title.Inner),
		Journal: c.Article.Journal.Title,
		Year:    parseYear(c.Article.Journal.PubDate.Year),
	}
	if ref.Year == 0 {
		ref.Year = parseYear(c.Article.Journal.PubDate.MedlineDate)
	}

	var paragraphs []string
	for _, p := range c.Article.Abstract {
		text := stripTags(p.Inner)
		if p.Label != "" {
			text = p.Label + ": " + text
		}
		paragraphs = append(paragraphs, text)
	}
	ref.Abstract = strings.Join(paragraphs, "\n")

	for _, au := range c.Article.Authors {
		switch {
		case au.CollectiveName != "":
			ref.Authors = append(ref.Authors, reference.Author{Last: au.CollectiveName})
		case au.LastName != "":
			first := au.ForeName
			if first == "" {
				first = au.Initials
			}
			ref.Authors = append(ref.Authors, reference.Author{First: first, Last: au.LastName})
		}
	}

	fields := Fields{Reference: ref}
	if d := pubmedDOI(a); d != "" {
		fields.Secondary = appendKey(fields.Secondary, DOI, d)
	}
	for _, id := range a.ArticleIDs {
		if id.Type == "pmc" && strings.HasPrefix(id.Value, "PMC") {
			fields.Reference.FullTextURL = "https://www.ncbi.nlm.nih.gov/pmc/articles/" + strings.TrimSpace(id.Value) + "/"
		}
	}
	return finish(fields)
}

// pubmedDOI reads the DOI from the structured article ids or electronic
// locations. Anything else in the record, such as comments, corrections or
// cited references, may name other papers' DOIs.
func pubmedDOI(a pubmedArticle) string {
	for _, id := range a.ArticleIDs {
		if id.Type == "doi" {
			if d, ok := doi.Normalize(id.Value, true); ok {
				return d
			}
		}
	}
	for _, loc := range a.Citation.Article.ELocations {
		if loc.Type == "doi" {
			if d, ok := doi.Normalize(loc.Value, true); ok {
				return d
			}
		}
	}
	return ""
}
