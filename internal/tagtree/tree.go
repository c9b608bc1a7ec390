// Package tagtree maintains each project's tag taxonomy as a materialized-path
// tree.
package tagtree

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	log "github.com/sirupsen/logrus"

	"github.com/matsen/litreview/internal/storage"
	"github.com/matsen/litreview/internal/tag"
)

// Tree edits and reads tag trees. Every structural edit re-checks the
// project's tree before committing.
type Tree struct {
	db *storage.DB
}

// New returns a Tree over db.
func New(db *storage.DB) *Tree {
	return &Tree{db: db}
}

// structural runs fn in a transaction and checks the project's tree before
// committing.
func (t *Tree) structural(ctx context.Context, projectID int64, fn func(tx *storage.Tx) error) error {
	return t.db.WithTx(ctx, func(tx *storage.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		tags, err := tx.ProjectTags(ctx, projectID)
		if err != nil {
			return err
		}
		return Check(tags)
	})
}

// EnsureRoot returns the project's root tag, creating it with name if the
// project has none.
func (t *Tree) EnsureRoot(ctx context.Context, projectID int64, name string) (*tag.Tag, error) {
	var root *tag.Tag
	err := t.structural(ctx, projectID, func(tx *storage.Tx) error {
		var err error
		root, err = ensureRoot(ctx, tx, projectID, name)
		return err
	})
	return root, err
}

// CreateRoot gives a project created inside tx its root tag, so the project
// never commits without one.
func CreateRoot(ctx context.Context, tx *storage.Tx, projectID int64, name string) (*tag.Tag, error) {
	root, err := ensureRoot(ctx, tx, projectID, name)
	if err != nil {
		return nil, err
	}
	tags, err := tx.ProjectTags(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return root, Check(tags)
}

func ensureRoot(ctx context.Context, tx *storage.Tx, projectID int64, name string) (*tag.Tag, error) {
	root, err := tx.RootTag(ctx, projectID)
	if err == nil {
		return root, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if _, err := tx.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	name, err = tag.ValidateName(name)
	if err != nil {
		return nil, storage.Invalid("name", "%v", err)
	}
	root = &tag.Tag{ProjectID: projectID, Name: name, Path: tag.RootPath, Depth: 1}
	if err := tx.InsertTag(ctx, root); err != nil {
		return nil, err
	}
	return root, nil
}

// AddChild appends a new tag as the last child of parentID.
func (t *Tree) AddChild(ctx context.Context, projectID, parentID int64, name string) (*tag.Tag, error) {
	name, err := tag.ValidateName(name)
	if err != nil {
		return nil, storage.Invalid("name", "%v", err)
	}

	var child *tag.Tag
	err = t.structural(ctx, projectID, func(tx *storage.Tx) error {
		parent, err := projectTag(ctx, tx, projectID, parentID)
		if err != nil {
			return err
		}
		last, err := tx.LastChildPath(ctx, projectID, parent.Path)
		if err != nil {
			return err
		}
		path, err := tag.ChildPath(parent.Path, last)
		if err != nil {
			return &storage.ConflictError{Row: -1, Message: fmt.Sprintf("adding under %q: %v", parent.Name, err)}
		}
		child = &tag.Tag{ProjectID: projectID, Name: name, Path: path, Depth: tag.Depth(path)}
		return tx.InsertTag(ctx, child)
	})
	if err != nil {
		return nil, err
	}
	log.WithFields(log.Fields{"project": projectID}).Debugf("added tag %q at %s", child.Name, child.Path)
	return child, nil
}

// projectTag loads a tag and rejects it unless it belongs to projectID.
func projectTag(ctx context.Context, tx *storage.Tx, projectID, tagID int64) (*tag.Tag, error) {
	tg, err := tx.GetTag(ctx, tagID)
	if err != nil {
		return nil, err
	}
	if tg.ProjectID != projectID {
		return nil, storage.Invalid("tag_id", "tag %d is not in project %d", tagID, projectID)
	}
	return tg, nil
}

// Descendants returns tagIDs together with every tag beneath them. Any id
// outside the project is an error.
func (t *Tree) Descendants(ctx context.Context, projectID int64, tagIDs []int64) (mapset.Set[int64], error) {
	return Descendants(ctx, &t.db.Conn, projectID, tagIDs)
}

// Descendants is Tree.Descendants over any connection, so callers already
// inside a transaction can use it.
func Descendants(ctx context.Context, c *storage.Conn, projectID int64, tagIDs []int64) (mapset.Set[int64], error) {
	if len(tagIDs) == 0 {
		return mapset.NewSet[int64](), nil
	}
	foreign, err := c.ForeignTags(ctx, projectID, tagIDs)
	if err != nil {
		return nil, err
	}
	if len(foreign) > 0 {
		return nil, storage.Invalid("tag_id", "tag %d is not in project %d", foreign[0], projectID)
	}
	ids, err := c.Descendants(ctx, tagIDs)
	if err != nil {
		return nil, err
	}
	return mapset.NewSet(ids...), nil
}

// Flattened lists the project's tags depth first with nested display names.
func (t *Tree) Flattened(ctx context.Context, projectID int64) ([]tag.Flattened, error) {
	tags, err := t.db.ProjectTags(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return tag.Flatten(tags), nil
}

// Tree returns the project's tags nested under their parents.
func (t *Tree) Tree(ctx context.Context, projectID int64) ([]*tag.Node, error) {
	tags, err := t.db.ProjectTags(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return tag.BuildTree(tags), nil
}

// Rename changes a tag's name. Paths are untouched.
func (t *Tree) Rename(ctx context.Context, projectID, tagID int64, name string) error {
	name, err := tag.ValidateName(name)
	if err != nil {
		return storage.Invalid("name", "%v", err)
	}
	return t.db.WithTx(ctx, func(tx *storage.Tx) error {
		if _, err := projectTag(ctx, tx, projectID, tagID); err != nil {
			return err
		}
		return tx.RenameTag(ctx, tagID, name)
	})
}

// DeleteSubtree deletes a tag, everything beneath it, and all their resolved
// and reviewer assignments. The root cannot be deleted.
func (t *Tree) DeleteSubtree(ctx context.Context, projectID, tagID int64) (int, error) {
	var deleted int
	err := t.structural(ctx, projectID, func(tx *storage.Tx) error {
		tg, err := projectTag(ctx, tx, projectID, tagID)
		if err != nil {
			return err
		}
		if tg.IsRoot() {
			return storage.Invalid("tag_id", "the root tag cannot be deleted")
		}
		ids, err := tx.Descendants(ctx, []int64{tagID})
		if err != nil {
			return err
		}
		deleted, err = tx.DeleteTags(ctx, ids)
		return err
	})
	return deleted, err
}

// CopyAll clones src's taxonomy below the root into dst. A dst that already
// has tags besides its root is only replaced when confirm is set; replacing
// drops dst's old tags and their assignments. Returns how many tags were
// copied.
func (t *Tree) CopyAll(ctx context.Context, src, dst int64, confirm bool) (int, error) {
	if src == dst {
		return 0, storage.Invalid("project", "cannot copy a taxonomy onto itself")
	}

	copied := 0
	err := t.structural(ctx, dst, func(tx *storage.Tx) error {
		srcTags, err := tx.ProjectTags(ctx, src)
		if err != nil {
			return err
		}
		if len(srcTags) == 0 {
			return storage.Invalid("project", "project %d has no taxonomy to copy", src)
		}
		dstProject, err := tx.GetProject(ctx, dst)
		if err != nil {
			return err
		}
		dstTags, err := tx.ProjectTags(ctx, dst)
		if err != nil {
			return err
		}

		var old []int64
		for _, tg := range dstTags {
			if !tg.IsRoot() {
				old = append(old, tg.ID)
			}
		}
		if len(old) > 0 {
			if !confirm {
				return &storage.ConflictError{Row: -1, Message: fmt.Sprintf("project %d already has %d tags; confirm to replace them", dst, len(old))}
			}
			if _, err := tx.DeleteTags(ctx, old); err != nil {
				return err
			}
		}

		if _, err := ensureRoot(ctx, tx, dst, dstProject.Name); err != nil {
			return err
		}
		for _, tg := range srcTags {
			if tg.IsRoot() {
				continue
			}
			clone := &tag.Tag{ProjectID: dst, Name: tg.Name, Path: tg.Path, Depth: tg.Depth}
			if err := tx.InsertTag(ctx, clone); err != nil {
				return err
			}
			copied++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	log.WithFields(log.Fields{"project": dst}).Infof("copied %d tags from project %d", copied, src)
	return copied, nil
}

// Check verifies the project's tree outside of any edit.
func (t *Tree) Check(ctx context.Context, projectID int64) error {
	tags, err := t.db.ProjectTags(ctx, projectID)
	if err != nil {
		return err
	}
	return Check(tags)
}
