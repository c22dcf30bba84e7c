package source

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

var ErrInvalidSnapshot = errors.New("source: invalid snapshot")

// Snapshot is the complete source state for one publish pass.
type Snapshot struct {
	collections []*Collection
	folders     []*Folder
	cards       []*Card

	collectionByID map[string]*Collection
	folderByID     map[string]*Folder
	cardByID       map[string]*Card
}

type snapshotFile struct {
	Collections []*Collection `yaml:"collections"`
	Folders     []*Folder     `yaml:"folders"`
	Cards       []*cardFile   `yaml:"cards"`
}

// cardFile treats a missing `verified` key as verified.
type cardFile struct {
	Card     `yaml:",inline"`
	Verified *bool `yaml:"verified"`
}

func LoadSnapshotFile(path string) (*Snapshot, error) {
	fd, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer fd.Close()
	return LoadSnapshot(fd)
}

// LoadSnapshot parses a YAML snapshot document.
func LoadSnapshot(r io.Reader) (*Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var doc snapshotFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSnapshot, err)
	}

	cards := make([]*Card, 0, len(doc.Cards))
	for _, cf := range doc.Cards {
		if cf == nil {
			continue
		}
		card := cf.Card
		card.Verified = cf.Verified == nil || *cf.Verified
		cards = append(cards, &card)
	}

	return NewSnapshot(doc.Collections, doc.Folders, cards)
}

// NewSnapshot indexes the given entities. Ids must be unique across kinds and
// every folder and card must reference a known collection.
func NewSnapshot(collections []*Collection, folders []*Folder, cards []*Card) (*Snapshot, error) {
	s := &Snapshot{
		collectionByID: make(map[string]*Collection, len(collections)),
		folderByID:     make(map[string]*Folder, len(folders)),
		cardByID:       make(map[string]*Card, len(cards)),
	}
	seen := make(map[string]Kind)

	claim := func(id string, kind Kind) error {
		if id == "" {
			return fmt.Errorf("%w: %s without id", ErrInvalidSnapshot, kind)
		}
		if prev, ok := seen[id]; ok {
			return fmt.Errorf("%w: id %q used by %s and %s", ErrInvalidSnapshot, id, prev, kind)
		}
		seen[id] = kind
		return nil
	}

	for _, c := range collections {
		if err := claim(c.ID, KindCollection); err != nil {
			return nil, err
		}
		s.collectionByID[c.ID] = c
		s.collections = append(s.collections, c)
	}

	for _, f := range folders {
		if err := claim(f.ID, KindFolder); err != nil {
			return nil, err
		}
		if _, ok := s.collectionByID[f.CollectionID]; !ok {
			return nil, fmt.Errorf("%w: folder %q references unknown collection %q", ErrInvalidSnapshot, f.ID, f.CollectionID)
		}
		s.folderByID[f.ID] = f
	}

	for _, c := range cards {
		if err := claim(c.ID, KindCard); err != nil {
			return nil, err
		}
		if _, ok := s.collectionByID[c.CollectionID]; !ok {
			return nil, fmt.Errorf("%w: card %q references unknown collection %q", ErrInvalidSnapshot, c.ID, c.CollectionID)
		}
		s.cardByID[c.ID] = c
		s.cards = append(s.cards, c)
	}

	s.folders = orderFolders(folders, s.folderByID)
	return s, nil
}

// orderFolders sorts folders so that every folder comes after its ancestors.
// Folders on a cycle keep their input order at the end.
func orderFolders(folders []*Folder, byID map[string]*Folder) []*Folder {
	depth := make(map[string]int, len(folders))
	var depthOf func(f *Folder, visiting map[string]bool) int
	depthOf = func(f *Folder, visiting map[string]bool) int {
		if d, ok := depth[f.ID]; ok {
			return d
		}
		if visiting[f.ID] {
			return len(byID) + 1
		}
		visiting[f.ID] = true
		d := 0
		if parent, ok := byID[f.ParentID]; ok {
			d = depthOf(parent, visiting) + 1
		}
		depth[f.ID] = d
		return d
	}

	ordered := make([]*Folder, len(folders))
	copy(ordered, folders)
	for _, f := range ordered {
		depthOf(f, map[string]bool{})
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return depth[ordered[i].ID] < depth[ordered[j].ID]
	})
	return ordered
}

func (s *Snapshot) Collections() []*Collection { return s.collections }

// Folders returns folders with parents ahead of their children.
func (s *Snapshot) Folders() []*Folder { return s.folders }

func (s *Snapshot) Cards() []*Card { return s.cards }

func (s *Snapshot) Collection(id string) (*Collection, bool) {
	c, ok := s.collectionByID[id]
	return c, ok
}

func (s *Snapshot) Folder(id string) (*Folder, bool) {
	f, ok := s.folderByID[id]
	return f, ok
}

func (s *Snapshot) Card(id string) (*Card, bool) {
	c, ok := s.cardByID[id]
	return c, ok
}

// Parent returns the folder's parent folder. The home folder of a collection
// and top-level folders without a listed home folder have no parent.
func (s *Snapshot) Parent(f *Folder) (*Folder, bool) {
	return s.Folder(f.ParentID)
}

// Home returns the home folder of the folder's collection, when listed.
func (s *Snapshot) Home(f *Folder) (*Folder, bool) {
	c, ok := s.Collection(f.CollectionID)
	if !ok || c.HomeFolderID == "" {
		return nil, false
	}
	return s.Folder(c.HomeFolderID)
}

// IDs returns the id of every entity in the snapshot.
func (s *Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.collectionByID)+len(s.folderByID)+len(s.cardByID))
	for _, c := range s.collections {
		ids = append(ids, c.ID)
	}
	for _, f := range s.folders {
		ids = append(ids, f.ID)
	}
	for _, c := range s.cards {
		ids = append(ids, c.ID)
	}
	return ids
}
