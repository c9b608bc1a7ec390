// Package tag defines project-scoped taxonomy nodes and their materialized paths.
//
// A path is a sequence of fixed-width base-36 segments, one per level. The
// root of every project's tree has the single segment "0001"; its first child
// is "00010001", the child's next sibling "00010002", and so on. Sorting paths
// as strings yields a depth-first ordering, and all descendants of P sort in
// [P, P+"~").
package tag

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

const (
	// SegmentLen is the width of one path segment.
	SegmentLen = 4
	// RootPath is the path of every project's synthetic root tag.
	RootPath = "0001"
	// NameSeparator joins ancestor names in flattened display names.
	NameSeparator = "|"

	alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	// rangeEnd sorts after every alphabet character.
	rangeEnd = "~"
)

// maxSegment is the largest value a segment can hold (ZZZZ).
var maxSegment = pow(len(alphabet), SegmentLen) - 1

// Tag is one node of a project's tag tree.
type Tag struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
	Path      string `json:"path"`
	Depth     int    `json:"depth"` // root is 1
}

// IsRoot reports whether t is its project's root.
func (t Tag) IsRoot() bool {
	return t.Depth == 1
}

// Validation errors.
var (
	ErrEmptyName       = errors.New("tag name is required")
	ErrSeparatorInName = errors.New("tag name must not contain " + NameSeparator)
	ErrSiblingsFull    = errors.New("no free sibling slot under parent")
	ErrInvalidPath     = errors.New("invalid tag path")
)

// ValidateName trims and checks a tag name.
func ValidateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrEmptyName
	}
	if strings.Contains(name, NameSeparator) {
		return "", ErrSeparatorInName
	}
	return name, nil
}

// EncodeSegment formats n as a fixed-width segment.
func EncodeSegment(n int) (string, error) {
	if n < 1 || n > maxSegment {
		return "", fmt.Errorf("segment value %d out of range", n)
	}
	buf := []byte(strings.Repeat("0", SegmentLen))
	for i := SegmentLen - 1; n > 0; i-- {
		buf[i] = alphabet[n%len(alphabet)]
		n /= len(alphabet)
	}
	return string(buf), nil
}

// DecodeSegment parses one segment.
func DecodeSegment(seg string) (int, error) {
	if len(seg) != SegmentLen {
		return 0, fmt.Errorf("%w: segment %q", ErrInvalidPath, seg)
	}
	n := 0
	for _, c := range seg {
		i := strings.IndexRune(alphabet, c)
		if i < 0 {
			return 0, fmt.Errorf("%w: segment %q", ErrInvalidPath, seg)
		}
		n = n*len(alphabet) + i
	}
	return n, nil
}

// ValidatePath checks that every segment of path is well formed.
func ValidatePath(path string) error {
	if path == "" || len(path)%SegmentLen != 0 {
		return fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	for i := 0; i < len(path); i += SegmentLen {
		if _, err := DecodeSegment(path[i : i+SegmentLen]); err != nil {
			return err
		}
	}
	return nil
}

// Depth returns the number of segments in path.
func Depth(path string) int {
	return len(path) / SegmentLen
}

// Parent returns the parent path, or "" for a root path.
func Parent(path string) string {
	if len(path) <= SegmentLen {
		return ""
	}
	return path[:len(path)-SegmentLen]
}

// ChildPath returns the path for a new child of parent given the path of
// its current last child ("" when it has none). Children are only ever
// appended, so existing paths never change.
func ChildPath(parent, lastChild string) (string, error) {
	if lastChild == "" {
		seg, _ := EncodeSegment(1)
		return parent + seg, nil
	}
	if Parent(lastChild) != parent {
		return "", fmt.Errorf("%w: %q is not a child of %q", ErrInvalidPath, lastChild, parent)
	}
	n, err := DecodeSegment(lastChild[len(parent):])
	if err != nil {
		return "", err
	}
	if n >= maxSegment {
		return "", ErrSiblingsFull
	}
	seg, _ := EncodeSegment(n + 1)
	return parent + seg, nil
}

// IsDescendant reports whether path lies in the subtree rooted at ancestor
// (a path is its own descendant).
func IsDescendant(path, ancestor string) bool {
	return strings.HasPrefix(path, ancestor) && len(path)%SegmentLen == 0
}

// SubtreeRange returns the half-open string range [lo, hi) covering
// ancestor and all of its descendants.
func SubtreeRange(ancestor string) (lo, hi string) {
	return ancestor, ancestor + rangeEnd
}

// Node is a tag with its children, for display.
type Node struct {
	Tag
	Children []*Node `json:"children,omitempty"`
}

// BuildTree nests tags by path. Tags whose parent is missing are attached to
// the returned roots so nothing is silently dropped.
func BuildTree(tags []Tag) []*Node {
	sorted := make([]Tag, len(tags))
	copy(sorted, tags)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})

	byPath := make(map[string]*Node, len(sorted))
	var roots []*Node
	for _, t := range sorted {
		node := &Node{Tag: t}
		byPath[t.Path] = node
		if parent := byPath[Parent(t.Path)]; parent != nil {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}
	return roots
}

// Flattened is a tag with its nested display name, e.g. "Root|Human|Cohort".
type Flattened struct {
	Tag
	NestedName string `json:"nested_name"`
}

// Flatten lists tags depth first, each with the names of its ancestors
// joined by NameSeparator. Tags must all belong to one project.
func Flatten(tags []Tag) []Flattened {
	sorted := make([]Tag, len(tags))
	copy(sorted, tags)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Path < sorted[j].Path
	})

	names := make(map[string]string, len(sorted))
	out := make([]Flattened, 0, len(sorted))
	for _, t := range sorted {
		nested := t.Name
		if prefix, ok := names[Parent(t.Path)]; ok {
			nested = prefix + NameSeparator + t.Name
		}
		names[t.Path] = nested
		out = append(out, Flattened{Tag: t, NestedName: nested})
	}
	return out
}

func pow(base, exp int) int {
	n := 1
	for i := 0; i < exp; i++ {
		n *= base
	}
	return n
}
