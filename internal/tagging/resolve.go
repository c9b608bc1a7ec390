// Package tagging applies tag assignments to references, both as bulk edits
// of the resolved tags and as individual reviewer passes that are reconciled
// into them.
package tagging

import (
	"slices"

	mapset "github.com/deckarep/golang-set/v2"
)

// Resolve reconciles reviewers' tag sets. With no reviewers the resolved set
// is empty. When every reviewer chose the same set, that set is resolved;
// otherwise there is a conflict and the returned set is nil.
func Resolve(sets map[string]mapset.Set[int64]) (mapset.Set[int64], bool) {
	var agreed mapset.Set[int64]
	for _, s := range sets {
		if agreed == nil {
			agreed = s
			continue
		}
		if !agreed.Equal(s) {
			return nil, true
		}
	}
	if agreed == nil {
		return mapset.NewSet[int64](), false
	}
	return agreed.Clone(), false
}

// toSets converts stored reviewer tag lists into sets.
func toSets(byReviewer map[string][]int64) map[string]mapset.Set[int64] {
	out := make(map[string]mapset.Set[int64], len(byReviewer))
	for reviewer, ids := range byReviewer {
		out[reviewer] = mapset.NewSet(ids...)
	}
	return out
}

// sorted returns a set's members in ascending order.
func sorted(s mapset.Set[int64]) []int64 {
	ids := s.ToSlice()
	slices.Sort(ids)
	return ids
}
