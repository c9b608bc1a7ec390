// Package access is the boundary to the host application's authorization and
// extraction-record collaborators.
package access

import (
	"context"
	"errors"
	"slices"
)

// ErrForbidden is returned when a user may not perform an operation.
var ErrForbidden = errors.New("forbidden")

// Checker decides whether a user may read or modify a project.
type Checker interface {
	CanView(ctx context.Context, user string, projectID int64) (bool, error)
	CanEdit(ctx context.Context, user string, projectID int64) (bool, error)
}

// PromotionChecker reports whether a reference has been promoted into a
// downstream extraction record, which pins it against deletion.
type PromotionChecker interface {
	IsPromoted(ctx context.Context, refID int64) (bool, error)
}

// Grant lists what one user may do on one project.
type Grant struct {
	User      string `yaml:"user"`
	ProjectID int64  `yaml:"project"`
	Edit      bool   `yaml:"edit"`
}

// StaticChecker grants access from a fixed list. A user with an edit grant can
// also view. A Grant with ProjectID 0 applies to every project.
type StaticChecker struct {
	Grants []Grant
}

func (s StaticChecker) find(user string, projectID int64, needEdit bool) bool {
	return slices.ContainsFunc(s.Grants, func(g Grant) bool {
		if g.User != user || (g.ProjectID != 0 && g.ProjectID != projectID) {
			return false
		}
		return g.Edit || !needEdit
	})
}

// CanView implements Checker.
func (s StaticChecker) CanView(_ context.Context, user string, projectID int64) (bool, error) {
	return s.find(user, projectID, false), nil
}

// CanEdit implements Checker.
func (s StaticChecker) CanEdit(_ context.Context, user string, projectID int64) (bool, error) {
	return s.find(user, projectID, true), nil
}

// AllowAll grants every user full access.
type AllowAll struct{}

func (AllowAll) CanView(context.Context, string, int64) (bool, error) { return true, nil }
func (AllowAll) CanEdit(context.Context, string, int64) (bool, error) { return true, nil }

// NeverPromoted is the PromotionChecker used when no extraction feature is
// attached.
type NeverPromoted struct{}

func (NeverPromoted) IsPromoted(context.Context, int64) (bool, error) { return false, nil }

// PromotedSet treats a fixed set of references as promoted.
type PromotedSet map[int64]bool

func (p PromotedSet) IsPromoted(_ context.Context, refID int64) (bool, error) {
	return p[refID], nil
}
