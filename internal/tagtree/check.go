package tagtree

import (
	"fmt"
	"strings"

	"github.com/matsen/litreview/internal/storage"
	"github.com/matsen/litreview/internal/tag"
)

// Check verifies one project's tags form a single well-formed tree: valid,
// unique paths, depths matching their paths, one root, and a parent present
// for every other tag. All problems are reported together.
func Check(tags []tag.Tag) error {
	var problems []string
	byPath := make(map[string]int64, len(tags))
	roots := 0

	for _, tg := range tags {
		if err := tag.ValidatePath(tg.Path); err != nil {
			problems = append(problems, fmt.Sprintf("tag %d: %v", tg.ID, err))
			continue
		}
		if other, dup := byPath[tg.Path]; dup {
			problems = append(problems, fmt.Sprintf("tags %d and %d share path %s", other, tg.ID, tg.Path))
			continue
		}
		byPath[tg.Path] = tg.ID
		if tg.Depth != tag.Depth(tg.Path) {
			problems = append(problems, fmt.Sprintf("tag %d: depth %d does not match path %s", tg.ID, tg.Depth, tg.Path))
		}
		if tg.Depth == 1 {
			roots++
		}
	}
	if roots > 1 {
		problems = append(problems, fmt.Sprintf("%d root tags", roots))
	}

	for _, tg := range tags {
		parent := tag.Parent(tg.Path)
		if parent == "" || tag.ValidatePath(tg.Path) != nil {
			continue
		}
		if _, ok := byPath[parent]; !ok {
			problems = append(problems, fmt.Sprintf("tag %d is orphaned: no tag at %s", tg.ID, parent))
		}
	}

	if len(problems) > 0 {
		return &storage.IntegrityError{Message: "tag tree: " + strings.Join(problems, "; ")}
	}
	return nil
}
