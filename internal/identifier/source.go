// Package identifier models externally-sourced bibliographic identifiers and
// the per-source mapping from their raw payloads to reference fields.
package identifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/matsen/litreview/internal/doi"
)

// Source is the closed set of external bibliographic sources.
type Source string

const (
	PubMed       Source = "pubmed"
	HERO         Source = "hero"
	RIS          Source = "ris"
	DOI          Source = "doi"
	WebOfScience Source = "wos"
	Scopus       Source = "scopus"
	Embase       Source = "embase"
)

// Sources lists every valid Source in display order.
var Sources = []Source{PubMed, HERO, RIS, DOI, WebOfScience, Scopus, Embase}

var numericID = regexp.MustCompile(`^\d+$`)

// ParseSource parses a source name, case-insensitively.
func ParseSource(s string) (Source, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, src := range Sources {
		if string(src) == s {
			return src, nil
		}
	}
	return "", fmt.Errorf("unknown source %q (valid: %v)", s, Sources)
}

func (s Source) String() string {
	return string(s)
}

// Searchable reports whether the source can be queried over the network.
func (s Source) Searchable() bool {
	return s == PubMed || s == HERO
}

// NormalizeID returns the canonical external id for this source.
func (s Source) NormalizeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("empty %s id", s)
	}

	switch s {
	case PubMed, HERO:
		if !numericID.MatchString(id) {
			return "", fmt.Errorf("invalid %s id %q: must be numeric", s, id)
		}
		if id = strings.TrimLeft(id, "0"); id == "" {
			return "", fmt.Errorf("invalid %s id: zero", s)
		}
		return id, nil
	case DOI:
		key := doi.Key(id)
		if key == "" {
			return "", fmt.Errorf("invalid DOI %q", id)
		}
		return key, nil
	default:
		return id, nil
	}
}
