package identifier

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/matsen/litreview/internal/reference"
)

// RIS payloads are stored as the JSON encoding of the parsed tag map
// (tag -> values in file order).

// first returns the first non-empty value among the given RIS tags.
func first(rec map[string][]string, tags ...string) string {
	for _, tag := range tags {
		for _, v := range rec[tag] {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return ""
}

func mapRIS(raw []byte) (Fields, error) {
	var rec map[string][]string
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Fields{}, fmt.Errorf("parsing RIS row: %w", err)
	}

	ref := reference.Reference{
		Title:       first(rec, "TI", "T1", "CT", "BT"),
		Journal:     first(rec, "JO", "JF", "T2", "JA", "J2"),
		Abstract:    first(rec, "AB", "N2"),
		Year:        parseYear(first(rec, "PY", "Y1", "DA")),
		FullTextURL: first(rec, "UR", "L2"),
	}
	for _, tag := range []string{"AU", "A1"} {
		for _, name := range rec[tag] {
			if a := reference.ParseName(name); a.Last != "" {
				ref.Authors = append(ref.Authors, a)
			}
		}
	}

	fields := Fields{Reference: ref}
	if d := first(rec, "DO"); d != "" {
		fields.Secondary = appendKey(fields.Secondary, DOI, d)
	}
	if an := first(rec, "AN"); an != "" {
		if src, id, ok := classifyAccession(first(rec, "DB"), an); ok {
			fields.Secondary = appendKey(fields.Secondary, src, id)
		}
	}
	return finish(fields)
}

// classifyAccession maps a RIS accession number to the database that issued it.
func classifyAccession(database, accession string) (Source, string, bool) {
	db := strings.ToLower(database)
	switch {
	case strings.HasPrefix(accession, "WOS:"):
		return WebOfScience, strings.TrimPrefix(accession, "WOS:"), true
	case strings.Contains(db, "web of science"), strings.Contains(db, "wos"):
		return WebOfScience, accession, true
	case strings.HasPrefix(accession, "2-s2.0-"), strings.Contains(db, "scopus"):
		return Scopus, accession, true
	case strings.Contains(db, "embase"):
		return Embase, accession, true
	case strings.Contains(db, "pubmed"), strings.Contains(db, "medline"):
		return PubMed, accession, true
	}
	return "", "", false
}
