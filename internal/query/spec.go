// Package query selects a project's references by composable predicates over
// their metadata, tags, reviewer activity and workflows.
package query

import (
	"sort"
	"strconv"
	"strings"

	"github.com/matsen/litreview/internal/project"
	"github.com/matsen/litreview/internal/storage"
)

// Spec is a reference filter. Every set predicate must hold.
type Spec struct {
	Search string `json:"search,omitempty"` // words matched against title and authors
	Year   int    `json:"year,omitempty"`

	// TagID selects references carrying the tag (or, with
	// IncludeDescendants, any tag beneath it). When RequiredTags or
	// PrunedTags are set it is only their context and filters nothing.
	TagID              int64   `json:"tag_id,omitempty"`
	IncludeDescendants bool    `json:"include_descendants,omitempty"`
	RequiredTags       []int64 `json:"required_tags,omitempty"` // carries all of these
	PrunedTags         []int64 `json:"pruned_tags,omitempty"`   // carries none of these subtrees

	Untagged           bool `json:"untagged,omitempty"`
	AnythingTagged     bool `json:"anything_tagged,omitempty"`
	AnythingTaggedByMe bool `json:"anything_tagged_by_me,omitempty"`
	PartiallyTagged    bool `json:"partially_tagged,omitempty"`
	NeedsTagging       bool `json:"needs_tagging,omitempty"`

	WorkflowID    int64         `json:"workflow_id,omitempty"`
	WorkflowStage project.Stage `json:"workflow_stage,omitempty"`

	InConflict    bool  `json:"in_conflict,omitempty"`
	ImportBatchID int64 `json:"import_batch_id,omitempty"`

	// Reviewer is the caller, for AnythingTaggedByMe.
	Reviewer string `json:"-"`

	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// usesTags reports whether any predicate other than Untagged looks at tags.
func (s *Spec) usesTags() bool {
	return s.TagID != 0 || len(s.RequiredTags) > 0 || len(s.PrunedTags) > 0 ||
		s.AnythingTagged || s.AnythingTaggedByMe || s.PartiallyTagged ||
		s.NeedsTagging || s.WorkflowID != 0
}

// Validate rejects contradictory or incomplete specs.
func (s *Spec) Validate() error {
	if s.Untagged && s.usesTags() {
		return storage.Invalid("untagged", "cannot be combined with other tag filters")
	}
	if (len(s.RequiredTags) > 0 || len(s.PrunedTags) > 0) && s.TagID == 0 {
		return storage.Invalid("tag_id", "required and pruned tags need a tag context")
	}
	if s.IncludeDescendants && s.TagID == 0 {
		return storage.Invalid("include_descendants", "needs a tag_id")
	}
	if s.AnythingTaggedByMe && strings.TrimSpace(s.Reviewer) == "" {
		return storage.Invalid("anything_tagged_by_me", "needs a reviewer")
	}
	if (s.WorkflowID == 0) != (s.WorkflowStage == "") {
		return storage.Invalid("workflow", "workflow_id and workflow_stage go together")
	}
	if s.Limit < 0 || s.Offset < 0 {
		return storage.Invalid("limit", "limit and offset must not be negative")
	}
	return nil
}

// ParseSpec builds a Spec from string parameters, such as a query string or
// CLI flags. Unknown keys and malformed values are validation errors; id
// lists are comma separated and any bad token rejects the whole list.
func ParseSpec(params map[string]string) (*Spec, error) {
	s := &Spec{}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		val := strings.TrimSpace(params[key])
		var err error
		switch key {
		case "search":
			s.Search = val
		case "year":
			s.Year, err = parseInt(key, val)
		case "tag_id":
			s.TagID, err = parseID(key, val)
		case "include_descendants":
			s.IncludeDescendants, err = parseBool(key, val)
		case "required_tags":
			s.RequiredTags, err = ParseIDList(key, val)
		case "pruned_tags":
			s.PrunedTags, err = ParseIDList(key, val)
		case "untagged":
			s.Untagged, err = parseBool(key, val)
		case "anything_tagged":
			s.AnythingTagged, err = parseBool(key, val)
		case "anything_tagged_by_me":
			s.AnythingTaggedByMe, err = parseBool(key, val)
		case "partially_tagged":
			s.PartiallyTagged, err = parseBool(key, val)
		case "needs_tagging":
			s.NeedsTagging, err = parseBool(key, val)
		case "workflow_id":
			s.WorkflowID, err = parseID(key, val)
		case "workflow_stage":
			if val != "" {
				s.WorkflowStage, err = project.ParseStage(val)
				if err != nil {
					err = storage.Invalid(key, "%v", err)
				}
			}
		case "in_conflict":
			s.InConflict, err = parseBool(key, val)
		case "import_batch_id":
			s.ImportBatchID, err = parseID(key, val)
		case "limit":
			s.Limit, err = parseInt(key, val)
		case "offset":
			s.Offset, err = parseInt(key, val)
		default:
			err = storage.Invalid(key, "unknown filter")
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ParseIDList parses a comma separated list of positive ids. Blank input is
// an empty list.
func ParseIDList(field, s string) ([]int64, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	ids := make([]int64, 0, len(parts))
	for _, part := range parts {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil || id <= 0 {
			return nil, storage.Invalid(field, "invalid id %q in list", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseID(field, s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, storage.Invalid(field, "invalid id %q", s)
	}
	return id, nil
}

func parseInt(field, s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, storage.Invalid(field, "invalid number %q", s)
	}
	return n, nil
}

func parseBool(field, s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, storage.Invalid(field, "invalid boolean %q", s)
	}
	return b, nil
}
