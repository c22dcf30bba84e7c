package source

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const handbook = `
collections:
  - id: col-eng
    name: "Engineering "
    slug: engineering
    description: How we build things.
    home_folder_id: home-eng
folders:
  - id: f-deep
    title: Deep Dive
    collection_id: col-eng
    parent_id: f-onboarding
  - id: f-onboarding
    title: Onboarding
    collection_id: col-eng
    parent_id: home-eng
  - id: home-eng
    title: Engineering
    collection_id: col-eng
cards:
  - id: card-setup
    title: Setup Guide
    collection_id: col-eng
    folder_ids: [f-onboarding, f-deep]
    content: "<p>Install the tools.</p>"
  - id: card-draft
    title: Draft
    collection_id: col-eng
    verified: false
    content: "<p>wip</p>"
`

func TestLoadSnapshot(t *testing.T) {
	snap, err := LoadSnapshot(strings.NewReader(handbook))
	require.NoError(t, err)

	require.Len(t, snap.Collections(), 1)
	require.Len(t, snap.Folders(), 3)
	require.Len(t, snap.Cards(), 2)

	col, ok := snap.Collection("col-eng")
	require.True(t, ok)
	assert.Equal(t, "https://app.getguru.com/collections/engineering", col.Link())

	setup, ok := snap.Card("card-setup")
	require.True(t, ok)
	assert.True(t, setup.Verified)
	assert.Equal(t, "f-onboarding", setup.PrimaryFolderID())
	assert.Equal(t, "https://app.getguru.com/card/card-setup", setup.Link())

	draft, _ := snap.Card("card-draft")
	assert.False(t, draft.Verified)
	assert.Empty(t, draft.PrimaryFolderID())

	assert.ElementsMatch(t,
		[]string{"col-eng", "home-eng", "f-onboarding", "f-deep", "card-setup", "card-draft"},
		snap.IDs())
}

func TestSnapshot_FoldersParentsFirst(t *testing.T) {
	snap, err := LoadSnapshot(strings.NewReader(handbook))
	require.NoError(t, err)

	var order []string
	for _, f := range snap.Folders() {
		order = append(order, f.ID)
	}
	assert.Equal(t, []string{"home-eng", "f-onboarding", "f-deep"}, order)
}

func TestSnapshot_HierarchyAccessors(t *testing.T) {
	snap, err := LoadSnapshot(strings.NewReader(handbook))
	require.NoError(t, err)

	deep, _ := snap.Folder("f-deep")
	parent, ok := snap.Parent(deep)
	require.True(t, ok)
	assert.Equal(t, "f-onboarding", parent.ID)

	home, ok := snap.Home(deep)
	require.True(t, ok)
	assert.Equal(t, "home-eng", home.ID)

	_, ok = snap.Parent(home)
	assert.False(t, ok)
}

func TestNewSnapshot_Rejects(t *testing.T) {
	col := &Collection{ID: "c1", Name: "C"}

	_, err := NewSnapshot([]*Collection{col, {ID: "c1", Name: "dup"}}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = NewSnapshot([]*Collection{col}, []*Folder{{ID: "c1", CollectionID: "c1"}}, nil)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = NewSnapshot([]*Collection{col}, []*Folder{{ID: "f1", CollectionID: "nope"}}, nil)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = NewSnapshot([]*Collection{col}, nil, []*Card{{ID: "k1", CollectionID: "nope"}})
	assert.ErrorIs(t, err, ErrInvalidSnapshot)

	_, err = NewSnapshot([]*Collection{{Name: "no id"}}, nil, nil)
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestLoadSnapshot_BadYAML(t *testing.T) {
	_, err := LoadSnapshot(strings.NewReader("collections: [\n"))
	assert.ErrorIs(t, err, ErrInvalidSnapshot)
}

func TestSnapshot_CyclicFoldersDoNotHang(t *testing.T) {
	col := &Collection{ID: "c1", Name: "C"}
	a := &Folder{ID: "a", CollectionID: "c1", ParentID: "b"}
	b := &Folder{ID: "b", CollectionID: "c1", ParentID: "a"}
	top := &Folder{ID: "top", CollectionID: "c1"}

	snap, err := NewSnapshot([]*Collection{col}, []*Folder{a, b, top}, nil)
	require.NoError(t, err)
	assert.Len(t, snap.Folders(), 3)
	assert.Equal(t, "top", snap.Folders()[0].ID)
}

func TestEvent_SourceID(t *testing.T) {
	assert.Equal(t, "k1", (&Event{Card: &Card{ID: "k1"}}).SourceID())
	assert.Equal(t, "f1", (&Event{Folder: &Folder{ID: "f1"}}).SourceID())
	assert.Equal(t, "", (&Event{Type: EventDelete, ExternalID: "x"}).SourceID())
	assert.True(t, CardChanges{FoldersRemoved: true}.Any())
	assert.False(t, CardChanges{}.Any())
}
