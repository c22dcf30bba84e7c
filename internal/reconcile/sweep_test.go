package reconcile

import (
	"context"
	"net/http"
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/cardsync/internal/metastore"
	"github.com/openmined/cardsync/internal/remotetree"
	"github.com/openmined/cardsync/internal/remotetree/remotetreetest"
	"github.com/openmined/cardsync/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweep_RemovedCollection(t *testing.T) {
	f := newFixture(t, nil, Options{})
	h := newHandbook().withSales()
	f.publish(t, h)
	f.repo.ResetCalls()

	h = newHandbook()
	h.collections, h.folders, h.cards = nil, nil, nil
	h.withSales()
	report := f.publish(t, h)

	assert.Equal(t, []string{
		"delete: Delete setup-guide.md",
		"delete: Delete style-guide.md",
		"delete: Delete 'Engineering' collection",
	}, messages(f.repo.Mutations()))
	assert.Equal(t, 6, report.Count(ActionDeleted))
	assert.Equal(t, []string{"docs/Sales/README.md", "docs/Sales/pitch-deck.md"}, keys(f.repo.Files()))

	records, err := f.store.All()
	require.NoError(t, err)
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.SourceID)
	}
	assert.Equal(t, []string{"card-pitch", "col-sales"}, ids)
}

func TestSweep_OneDeletePerEntity(t *testing.T) {
	f := newFixture(t, nil, Options{})
	h := newHandbook()
	f.publish(t, h)
	f.repo.ResetCalls()

	h.dropCard("card-style")
	f.publish(t, h)
	f.publish(t, h)

	assert.Equal(t, []string{"delete: Delete style-guide.md"}, messages(f.repo.Mutations()))
	assert.Nil(t, f.record(t, "card-style"))
	assert.NotNil(t, f.record(t, "f-reference"))
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t, nil, Options{})
	h := newHandbook()
	f.publish(t, h)
	f.repo.ResetCalls()
	f.repo.FailNext(remotetreetest.OpDelete, http.StatusInternalServerError)

	h.dropCard("card-setup")
	h.dropCard("card-style")
	report, err := f.engine.Publish(context.Background(), h.snapshot(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, remotetree.ErrRemoteWriteFailed)

	var entityErr *EntityError
	require.ErrorAs(t, err, &entityErr)
	assert.Equal(t, "card-setup", entityErr.SourceID)
	assert.Equal(t, setupPath, entityErr.Path)
	assert.Equal(t, 1, report.Count(ActionDeleted))
	assert.Len(t, report.Failures, 1)

	assert.NotNil(t, f.record(t, "card-setup"))
	assert.Nil(t, f.record(t, "card-style"))
	assert.Contains(t, f.repo.Files(), setupPath)

	f.publish(t, h)
	assert.Nil(t, f.record(t, "card-setup"))
	assert.NotContains(t, f.repo.Files(), setupPath)
}

func TestSweep_AlreadyGoneIsNotAnError(t *testing.T) {
	f := newFixture(t, nil, Options{})
	h := newHandbook()
	f.publish(t, h)
	f.repo.Remove(stylePath)
	f.repo.ResetCalls()

	h.dropCard("card-style")
	report := f.publish(t, h)

	assert.Equal(t, 1, report.Count(ActionDeleted))
	assert.Empty(t, report.Errors)
	assert.Len(t, f.repo.CallsOf(remotetreetest.OpDelete), 1)
	assert.Nil(t, f.record(t, "card-style"))
}

func TestSweep_RecordsWithoutKind(t *testing.T) {
	f := newFixture(t, map[string]string{
		"docs/Legacy/README.md": "# Legacy",
		"docs/Legacy/old.md":    "old",
	}, Options{})
	for _, rec := range []*metastore.Record{
		{SourceID: "c1", ExternalID: "x1", ExternalName: "README.md", ExternalPath: "docs/Legacy/README.md", ExternalSHA: f.repo.SHA("docs/Legacy/README.md")},
		{SourceID: "f1", ExternalID: "x2", ExternalName: "Legacy", ExternalPath: "docs/Legacy"},
		{SourceID: "k1", ExternalID: "x3", ExternalName: "old.md", ExternalPath: "docs/Legacy/old.md", ExternalSHA: f.repo.SHA("docs/Legacy/old.md")},
	} {
		require.NoError(t, f.store.Set(rec))
	}

	report := f.engine.Sweep(context.Background(), mapset.NewSet[string]())
	require.NoError(t, report.Err())

	assert.Equal(t, []string{
		"delete: Delete old.md",
		"delete: Delete 'Legacy' collection",
	}, messages(f.repo.Mutations()))
	assert.Empty(t, f.repo.Files())
	assert.Equal(t, 3, report.Count(ActionDeleted))
}

func TestDeleteByExternalID(t *testing.T) {
	f := newFixture(t, nil, Options{})
	h := newHandbook()
	f.publish(t, h)
	f.repo.ResetCalls()
	ctx := context.Background()

	rec := f.record(t, "card-setup")
	out, err := f.engine.DeleteByExternalID(ctx, rec.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, out.Action)
	assert.Equal(t, "card-setup", out.SourceID)
	assert.Equal(t, source.KindCard, out.Kind)
	assert.Equal(t, setupPath, out.Path)
	assert.NotContains(t, f.repo.Files(), setupPath)

	out, err = f.engine.DeleteByExternalID(ctx, rec.ExternalID)
	require.NoError(t, err)
	assert.Equal(t, ActionNoop, out.Action)
	assert.Len(t, f.repo.Mutations(), 1)
}

func TestHandle(t *testing.T) {
	f := newFixture(t, nil, Options{})
	h := newHandbook()
	f.engine.SetHierarchy(h.snapshot(t))
	ctx := context.Background()

	out, err := f.engine.Handle(ctx, source.Event{Type: source.EventCreate, Kind: source.KindCollection, Collection: h.collections[0]})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, out.Action)
	assert.Equal(t, "ext-1", out.ExternalID)

	out, err = f.engine.Handle(ctx, source.Event{Type: source.EventCreate, Kind: source.KindCard, Card: h.card("card-setup")})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, out.Action)
	assert.Equal(t, setupPath, out.Path)
	cardExternalID := out.ExternalID

	out, err = f.engine.Handle(ctx, source.Event{Type: source.EventCreate, Kind: source.KindFolder, Folder: h.folder("f-onboarding")})
	require.NoError(t, err)
	assert.Equal(t, ActionAdopted, out.Action)

	f.repo.ResetCalls()
	out, err = f.engine.Handle(ctx, source.Event{Type: source.EventUpdate, Kind: source.KindCard, Card: h.card("card-setup")})
	require.NoError(t, err)
	assert.Equal(t, ActionNoop, out.Action)
	assert.Empty(t, f.repo.Calls())

	h.card("card-setup").Content = "<p>Run the installer.</p>"
	out, err = f.engine.Handle(ctx, source.Event{
		Type:    source.EventUpdate,
		Kind:    source.KindCard,
		Card:    h.card("card-setup"),
		Changes: source.CardChanges{ContentChanged: true},
	})
	require.NoError(t, err)
	assert.Equal(t, ActionUpdated, out.Action)
	assert.Contains(t, f.repo.Files()[setupPath], "Run the installer.")

	out, err = f.engine.Handle(ctx, source.Event{Type: source.EventDelete, Kind: source.KindCard, ExternalID: cardExternalID})
	require.NoError(t, err)
	assert.Equal(t, ActionDeleted, out.Action)
	assert.NotContains(t, f.repo.Files(), setupPath)

	_, err = f.engine.Handle(ctx, source.Event{Type: source.EventUpdate, Kind: source.KindCard})
	assert.Error(t, err)
	_, err = f.engine.Handle(ctx, source.Event{Type: "archive", Kind: source.KindCard})
	assert.Error(t, err)
}

func TestHandle_FreedPathIsNotACollision(t *testing.T) {
	f := newFixture(t, nil, Options{})
	h := newHandbook()
	f.engine.SetHierarchy(h.snapshot(t))
	ctx := context.Background()
	logs := captureLogs(t)

	_, err := f.engine.Handle(ctx, source.Event{Type: source.EventCreate, Kind: source.KindCard, Card: h.card("card-setup")})
	require.NoError(t, err)

	h.card("card-setup").Title = "Install Guide"
	out, err := f.engine.Handle(ctx, source.Event{Type: source.EventUpdate, Kind: source.KindCard, Card: h.card("card-setup")})
	require.NoError(t, err)
	assert.Equal(t, ActionRenamed, out.Action)

	newcomer := &source.Card{ID: "card-new", Title: "Setup Guide", CollectionID: "col-eng", FolderIDs: []string{"f-onboarding"}, Content: "<p>Fresh.</p>", Verified: true}
	out, err = f.engine.Handle(ctx, source.Event{Type: source.EventCreate, Kind: source.KindCard, Card: newcomer})
	require.NoError(t, err)
	assert.Equal(t, ActionCreated, out.Action)
	assert.Equal(t, setupPath, out.Path)

	assert.NotContains(t, logs.String(), "op=collision")
	assert.Nil(t, f.engine.claimed)
}

func TestRenameMessage(t *testing.T) {
	tests := []struct {
		old, new string
		want     string
	}{
		{"docs/Eng/Onboarding", "docs/Eng/Getting Started", "Rename Onboarding to Getting Started"},
		{"docs/Eng/a/setup.md", "docs/Eng/b/setup.md", "Move setup.md from 'a' to 'b'"},
		{"docs/Eng/a/setup.md", "docs/Eng/b/install.md", "Rename docs/Eng/a/setup.md to docs/Eng/b/install.md"},
		{"Eng", "Platform", "Rename Eng to Platform"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, renameMessage(tt.old, tt.new))
	}
}

func TestIgnoreList(t *testing.T) {
	assert.Nil(t, NewIgnoreList("docs", "", "  "))

	var none *IgnoreList
	assert.False(t, none.ShouldIgnore("docs/anything.md"))

	l := NewIgnoreList("/docs/", "drafts/", "*.tmp.md")
	require.NotNil(t, l)
	assert.True(t, l.ShouldIgnore("docs/drafts/plan.md"))
	assert.True(t, l.ShouldIgnore("docs/Eng/scratch.tmp.md"))
	assert.False(t, l.ShouldIgnore("docs/Eng/setup.md"))
}
