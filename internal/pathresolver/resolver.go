// Package pathresolver derives the target path of every source entity in the
// remote tree. Paths depend only on the current hierarchy and the configured
// root directory, never on remote state.
package pathresolver

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/openmined/cardsync/internal/source"
)

const ReadmeName = "README.md"

var ErrHierarchyInconsistent = errors.New("pathresolver: folder hierarchy does not reach the home folder")

// Hierarchy is the read access the resolver needs into the content source.
type Hierarchy interface {
	Collection(id string) (*source.Collection, bool)
	Folder(id string) (*source.Folder, bool)
}

type Resolver struct {
	root      string
	hierarchy Hierarchy
}

func New(root string, hierarchy Hierarchy) *Resolver {
	return &Resolver{
		root:      strings.Trim(root, "/"),
		hierarchy: hierarchy,
	}
}

// CollectionPath is <root>/<collection name> with trailing whitespace trimmed.
func (r *Resolver) CollectionPath(c *source.Collection) string {
	if r.root == "" {
		return strings.TrimRight(c.Name, " \t\r\n")
	}
	return strings.TrimRight(r.root+"/"+c.Name, " \t\r\n")
}

// ReadmePath is the marker file that materializes a collection directory.
func (r *Resolver) ReadmePath(c *source.Collection) string {
	return r.CollectionPath(c) + "/" + ReadmeName
}

// FolderPath walks parent links up to the collection's home folder. The home
// folder itself resolves to the collection path.
func (r *Resolver) FolderPath(f *source.Folder) (string, error) {
	col, ok := r.hierarchy.Collection(f.CollectionID)
	if !ok {
		return "", fmt.Errorf("%w: folder %s references unknown collection %s", ErrHierarchyInconsistent, f.ID, f.CollectionID)
	}
	base := r.CollectionPath(col)
	if f.ID == col.HomeFolderID {
		return base, nil
	}

	titles := []string{strings.TrimSpace(f.Title)}
	visited := map[string]bool{f.ID: true}
	parentID := f.ParentID
	for parentID != col.HomeFolderID {
		if parentID == "" || visited[parentID] {
			return "", fmt.Errorf("%w: folder %s", ErrHierarchyInconsistent, f.ID)
		}
		parent, ok := r.hierarchy.Folder(parentID)
		if !ok || parent.CollectionID != f.CollectionID {
			return "", fmt.Errorf("%w: folder %s has unknown parent %s", ErrHierarchyInconsistent, f.ID, parentID)
		}
		visited[parentID] = true
		titles = append(titles, strings.TrimSpace(parent.Title))
		parentID = parent.ParentID
	}

	for i, j := 0, len(titles)-1; i < j; i, j = i+1, j-1 {
		titles[i], titles[j] = titles[j], titles[i]
	}
	return base + "/" + strings.Join(titles, "/"), nil
}

// CardPath places the card in its first folder, or directly in its
// collection when it has none.
func (r *Resolver) CardPath(c *source.Card) (string, error) {
	dir, err := r.cardDir(c)
	if err != nil {
		return "", err
	}
	return dir + "/" + Slugify(c.Title) + ".md", nil
}

func (r *Resolver) cardDir(c *source.Card) (string, error) {
	if folderID := c.PrimaryFolderID(); folderID != "" {
		folder, ok := r.hierarchy.Folder(folderID)
		if !ok {
			return "", fmt.Errorf("%w: card %s references unknown folder %s", ErrHierarchyInconsistent, c.ID, folderID)
		}
		return r.FolderPath(folder)
	}
	col, ok := r.hierarchy.Collection(c.CollectionID)
	if !ok {
		return "", fmt.Errorf("%w: card %s references unknown collection %s", ErrHierarchyInconsistent, c.ID, c.CollectionID)
	}
	return r.CollectionPath(col), nil
}

// Dir is path.Dir without the "." result for top-level names.
func Dir(p string) string {
	d := path.Dir(p)
	if d == "." {
		return ""
	}
	return d
}
