// Package project defines the project and workflow domain types.
package project

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultRequiredReviewers is the number of independent reviewer passes a
// reference needs before it no longer counts as needing tagging.
const DefaultRequiredReviewers = 2

// Project is a literature review: it owns references, imports and a tag tree.
type Project struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`                 // Required: human-readable display name
	RequiredReviewers int    `json:"required_reviewers"`   // Reviewer passes before a reference is fully tagged
	CreatedAt         string `json:"created_at,omitempty"` // RFC3339, auto-set on create
}

// Validation errors.
var (
	ErrEmptyName          = errors.New("name is required")
	ErrInvalidReviewers   = errors.New("required_reviewers must be at least 1")
	ErrProjectNotFound    = errors.New("project not found")
	ErrWorkflowNotFound   = errors.New("workflow not found")
	ErrEmptyWorkflowTitle = errors.New("workflow title is required")
	ErrNoCompletionTags   = errors.New("workflow needs at least one completion tag")
)

// ValidateForCreate validates a project for creation, filling defaults.
func (p *Project) ValidateForCreate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return ErrEmptyName
	}
	if p.RequiredReviewers == 0 {
		p.RequiredReviewers = DefaultRequiredReviewers
	}
	if p.RequiredReviewers < 1 {
		return ErrInvalidReviewers
	}
	return nil
}

// Stage selects one side of a workflow.
type Stage string

const (
	// Awaiting references carry an admission tag but no completion tag.
	Awaiting Stage = "awaiting"
	// Completed references carry an admission tag and a completion tag.
	Completed Stage = "completed"
)

// ParseStage parses a workflow stage name.
func ParseStage(s string) (Stage, error) {
	switch Stage(strings.ToLower(strings.TrimSpace(s))) {
	case Awaiting:
		return Awaiting, nil
	case Completed:
		return Completed, nil
	}
	return "", fmt.Errorf("invalid workflow stage %q (valid: awaiting, completed)", s)
}

// Workflow is a named review-pipeline stage defined by admission and
// completion tag sets. An empty admission set admits every reference.
type Workflow struct {
	ID                          int64   `json:"id"`
	ProjectID                   int64   `json:"project_id"`
	Title                       string  `json:"title"`
	AdmissionTags               []int64 `json:"admission_tags"`
	AdmissionIncludeDescendants bool    `json:"admission_include_descendants"`
	CompletionTags              []int64 `json:"completion_tags"`
}

// Validate checks the workflow's own fields. Tag project membership is
// checked by storage, which can see the tags.
func (w *Workflow) Validate() error {
	w.Title = strings.TrimSpace(w.Title)
	if w.Title == "" {
		return ErrEmptyWorkflowTitle
	}
	if len(w.CompletionTags) == 0 {
		return ErrNoCompletionTags
	}
	return nil
}

// Tags returns every tag id the workflow refers to.
func (w *Workflow) Tags() []int64 {
	ids := make([]int64, 0, len(w.AdmissionTags)+len(w.CompletionTags))
	ids = append(ids, w.AdmissionTags...)
	return append(ids, w.CompletionTags...)
}
