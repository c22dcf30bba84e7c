// Package source models the hierarchical content source: collections hold
// folders, folders nest, and cards live in folders or directly in their
// collection.
package source

import "fmt"

type Kind string

const (
	KindCollection Kind = "collection"
	KindFolder     Kind = "folder"
	KindCard       Kind = "card"
)

const defaultSiteURL = "https://app.getguru.com"

type Collection struct {
	ID           string `yaml:"id"`
	Name         string `yaml:"name"`
	Slug         string `yaml:"slug,omitempty"`
	Description  string `yaml:"description,omitempty"`
	URL          string `yaml:"url,omitempty"`
	HomeFolderID string `yaml:"home_folder_id,omitempty"`
}

// Link returns the collection's URL at the source, derived from its slug when
// none was given.
func (c *Collection) Link() string {
	if c.URL != "" {
		return c.URL
	}
	slug := c.Slug
	if slug == "" {
		slug = c.ID
	}
	return fmt.Sprintf("%s/collections/%s", defaultSiteURL, slug)
}

type Folder struct {
	ID           string `yaml:"id"`
	Title        string `yaml:"title"`
	CollectionID string `yaml:"collection_id"`
	ParentID     string `yaml:"parent_id,omitempty"`
}

type Card struct {
	ID           string   `yaml:"id"`
	Title        string   `yaml:"title"`
	CollectionID string   `yaml:"collection_id"`
	FolderIDs    []string `yaml:"folder_ids,omitempty"`
	// Content is the card body as HTML.
	Content  string `yaml:"content"`
	URL      string `yaml:"url,omitempty"`
	Verified bool   `yaml:"-"`
}

func (c *Card) Link() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf("%s/card/%s", defaultSiteURL, c.ID)
}

// PrimaryFolderID is the folder whose directory holds the card file. Only the
// first folder membership is mirrored.
func (c *Card) PrimaryFolderID() string {
	if len(c.FolderIDs) == 0 {
		return ""
	}
	return c.FolderIDs[0]
}

// CardChanges flags what changed about a card since it was last published.
type CardChanges struct {
	ContentChanged bool `yaml:"content_changed,omitempty"`
	FoldersAdded   bool `yaml:"folders_added,omitempty"`
	FoldersRemoved bool `yaml:"folders_removed,omitempty"`
}

// Any reports whether any change flag is set.
func (c CardChanges) Any() bool {
	return c.ContentChanged || c.FoldersAdded || c.FoldersRemoved
}

type EventType string

const (
	EventCreate EventType = "create"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
)

// Event is one entity notification from the content source. Create and update
// events carry the entity; delete events carry only the external id minted
// when the entity was first mirrored.
type Event struct {
	Type       EventType
	Kind       Kind
	Collection *Collection
	Folder     *Folder
	Card       *Card
	Changes    CardChanges
	ExternalID string
}

// SourceID returns the id of the entity carried by the event, or "" for
// delete events.
func (e *Event) SourceID() string {
	switch {
	case e.Collection != nil:
		return e.Collection.ID
	case e.Folder != nil:
		return e.Folder.ID
	case e.Card != nil:
		return e.Card.ID
	}
	return ""
}
