// Package reference defines the canonical literature record owned by a project.
package reference

import (
	"errors"
	"strings"
)

// Reference is one piece of literature within a project.
type Reference struct {
	// Identity
	ID        int64 `json:"id"`
	ProjectID int64 `json:"project_id"`

	// Metadata
	Title        string   `json:"title"`
	Authors      []Author `json:"authors"`
	AuthorsShort string   `json:"authors_short"`
	Year         int      `json:"year,omitempty"` // 0 if unknown
	Journal      string   `json:"journal"`
	Abstract     string   `json:"abstract"`
	FullTextURL  string   `json:"full_text_url,omitempty"`

	// Review state
	InConflict bool `json:"in_conflict"`

	CreatedAt string `json:"created_at,omitempty"` // RFC3339
}

// Validation errors.
var (
	ErrMissingTitle = errors.New("missing required field 'title'")
	ErrInvalidYear  = errors.New("year out of range")
)

// MaxYear bounds publication years accepted from external payloads.
const MaxYear = 2100

// Normalize trims whitespace and derives AuthorsShort when it is empty.
func (r *Reference) Normalize() {
	r.Title = strings.TrimSpace(r.Title)
	r.Journal = strings.TrimSpace(r.Journal)
	r.Abstract = strings.TrimSpace(r.Abstract)
	r.FullTextURL = strings.TrimSpace(r.FullTextURL)
	if r.AuthorsShort == "" {
		r.AuthorsShort = ShortAuthors(r.Authors)
	}
}

// Validate reports whether the reference can be stored.
func (r *Reference) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return ErrMissingTitle
	}
	if r.Year < 0 || r.Year > MaxYear {
		return ErrInvalidYear
	}
	return nil
}

// AuthorsText returns a searchable, comma separated list of author names.
func (r *Reference) AuthorsText() string {
	names := make([]string, 0, len(r.Authors))
	for _, a := range r.Authors {
		names = append(names, a.FullName())
	}
	return strings.Join(names, ", ")
}
