package reconcile

import (
	"fmt"
	"path"

	"github.com/openmined/cardsync/internal/pathresolver"
)

func createMessage(name string) string {
	return "Create " + name
}

func updateMessage(name string) string {
	return "Update " + name
}

func deleteMessage(name string) string {
	return "Delete " + name
}

func deleteCollectionMessage(name string) string {
	return fmt.Sprintf("Delete '%s' collection", name)
}

// renameMessage describes moving oldPath to newPath: a rename within one
// parent names both, a move names both parents, and a change of both
// spells out the full paths.
func renameMessage(oldPath, newPath string) string {
	oldName, newName := path.Base(oldPath), path.Base(newPath)
	oldParent, newParent := pathresolver.Dir(oldPath), pathresolver.Dir(newPath)
	nameChanged := oldName != newName
	parentChanged := oldParent != newParent

	switch {
	case nameChanged && parentChanged:
		return fmt.Sprintf("Rename %s to %s", oldPath, newPath)
	case nameChanged:
		return fmt.Sprintf("Rename %s to %s", oldName, newName)
	default:
		return fmt.Sprintf("Move %s from '%s' to '%s'", newName, baseName(oldParent), baseName(newParent))
	}
}

func baseName(p string) string {
	if p == "" {
		return ""
	}
	return path.Base(p)
}
