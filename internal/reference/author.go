package reference

import (
	"strings"
	"unicode"
)

// Author represents a paper author.
type Author struct {
	First string `json:"first,omitempty"` // First/given name(s), may be initials
	Last  string `json:"last"`            // Last/family name, or a collective name
}

// Common name suffixes to keep with the last name.
var nameSuffixes = map[string]bool{
	"jr":   true,
	"jr.":  true,
	"sr":   true,
	"sr.":  true,
	"ii":   true,
	"iii":  true,
	"iv":   true,
	"phd":  true,
	"ph.d": true,
	"md":   true,
	"m.d":  true,
}

// FullName returns "First Last", or just Last when no given name is known.
func (a Author) FullName() string {
	if a.First == "" {
		return a.Last
	}
	return a.First + " " + a.Last
}

// Citation returns the author in "Last FI" citation form, e.g. "Smith JA".
func (a Author) Citation() string {
	initials := Initials(a.First)
	if initials == "" {
		return a.Last
	}
	return a.Last + " " + initials
}

// Initials reduces given names to their uppercase initials ("John Adam" -> "JA").
func Initials(first string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(first, func(r rune) bool {
		return unicode.IsSpace(r) || r == '.' || r == '-'
	}) {
		for _, r := range part {
			b.WriteRune(unicode.ToUpper(r))
			break
		}
	}
	return b.String()
}

// ShortAuthors formats an author list for display: "A", "A and B", or "A et al.".
func ShortAuthors(authors []Author) string {
	switch len(authors) {
	case 0:
		return ""
	case 1:
		return authors[0].Citation()
	case 2:
		return authors[0].Citation() + " and " + authors[1].Citation()
	default:
		return authors[0].Citation() + " et al."
	}
}

// ParseName splits a free-form name into an Author.
// Accepts "Last, First" (RIS, HERO) as well as "First Last".
//
// Known limitations:
// - Multi-part surnames (von Neumann, van der Waals) split incorrectly without a comma
// - Middle names are included in the first name
func ParseName(name string) Author {
	name = strings.TrimSpace(name)
	if name == "" {
		return Author{}
	}

	if last, first, ok := strings.Cut(name, ","); ok {
		first = strings.TrimSpace(first)
		// "Smith, Jr., John" keeps the suffix with the last name
		if suffix, rest, ok := strings.Cut(first, ","); ok && nameSuffixes[strings.ToLower(strings.TrimSpace(suffix))] {
			return Author{First: strings.TrimSpace(rest), Last: strings.TrimSpace(last) + " " + strings.TrimSpace(suffix)}
		}
		return Author{First: first, Last: strings.TrimSpace(last)}
	}

	parts := strings.Fields(name)
	if len(parts) == 1 {
		return Author{Last: parts[0]}
	}

	lastPart := strings.ToLower(parts[len(parts)-1])
	if nameSuffixes[lastPart] && len(parts) > 2 {
		return Author{
			First: strings.Join(parts[:len(parts)-2], " "),
			Last:  parts[len(parts)-2] + " " + parts[len(parts)-1],
		}
	}
	return Author{
		First: strings.Join(parts[:len(parts)-1], " "),
		Last:  parts[len(parts)-1],
	}
}
