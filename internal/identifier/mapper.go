package identifier

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/matsen/litreview/internal/reference"
)

// Fields is the result of mapping one raw payload.
type Fields struct {
	Reference reference.Reference
	// Secondary lists further identifiers recovered from the payload, such as a
	// DOI found in PubMed XML or a Web of Science accession number in a RIS row.
	Secondary []Key
}

// Mapper converts a source's raw payload into reference fields.
type Mapper interface {
	ExtractFields(raw []byte) (Fields, error)
}

// MapperFunc adapts a function to the Mapper interface.
type MapperFunc func(raw []byte) (Fields, error)

// ExtractFields calls f(raw).
func (f MapperFunc) ExtractFields(raw []byte) (Fields, error) {
	return f(raw)
}

var mappers = map[Source]Mapper{
	PubMed: MapperFunc(mapPubMed),
	HERO:   MapperFunc(mapHERO),
	RIS:    MapperFunc(mapRIS),
	DOI:    MapperFunc(mapCSL),
}

// MapperFor returns the field mapping for a source. Web of Science, Scopus and
// Embase identifiers only ever arrive as secondary ids of RIS rows, so they have
// no mapping of their own.
func MapperFor(s Source) (Mapper, error) {
	m, ok := mappers[s]
	if !ok {
		return nil, fmt.Errorf("source %s has no field mapping", s)
	}
	return m, nil
}

// yearPattern finds the first plausible four digit year.
var yearPattern = regexp.MustCompile(`\b(1[5-9]\d\d|20\d\d)\b`)

// parseYear extracts a year from strings like "2019", "2019 Mar-Apr" or "2019/03/01".
func parseYear(s string) int {
	m := yearPattern.FindString(s)
	if m == "" {
		return 0
	}
	y, _ := strconv.Atoi(m)
	return y
}

// tagPattern matches inline markup such as <i> or <sup> in titles.
var tagPattern = regexp.MustCompile(`<[^>]+>`)

func stripTags(s string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(s, "")), " ")
}

// finish normalizes and validates a mapped reference.
func finish(f Fields) (Fields, error) {
	f.Reference.Normalize()
	if err := f.Reference.Validate(); err != nil {
		return Fields{}, err
	}
	return f, nil
}

// appendKey adds a secondary key when the id normalizes for its source.
func appendKey(keys []Key, src Source, id string) []Key {
	norm, err := src.NormalizeID(id)
	if err != nil {
		return keys
	}
	for _, k := range keys {
		if k.Source == src && k.ExternalID == norm {
			return keys
		}
	}
	return append(keys, Key{Source: src, ExternalID: norm})
}
