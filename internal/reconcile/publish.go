package reconcile

import (
	"context"
	"fmt"
	"log/slog"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/cardsync/internal/source"
)

// Publish reconciles a whole snapshot: collections, folders parents first,
// cards, a read-only pass adopting folders the cards just materialized, and
// finally a sweep of everything no longer in the snapshot.
//
// Entities whose collection or folder failed are skipped for this pass but
// still count as live, so a transient failure never triggers deletes.
func (e *Engine) Publish(ctx context.Context, snap *source.Snapshot) (*Report, error) {
	e.SetHierarchy(snap)
	e.claimed = make(map[string]string)
	defer func() { e.claimed = nil }()
	// reads are memoized per pass only
	e.remote.Purge()

	report := newReport()
	live := mapset.NewSet[string]()
	failed := mapset.NewSet[string]()

	skip := func(id string, kind source.Kind) {
		live.Add(id)
		failed.Add(id)
		report.add(&Outcome{SourceID: id, Kind: kind, Action: ActionSkipped}, nil)
	}
	record := func(id string, out *Outcome, err error) {
		// entities skipped on purpose drop out of the live set and get swept
		if err != nil || out == nil || out.Action != ActionSkipped {
			live.Add(id)
		}
		if err != nil {
			failed.Add(id)
		}
		report.add(out, err)
	}

	for _, c := range snap.Collections() {
		out, err := e.ReconcileCollection(ctx, c)
		record(c.ID, out, err)
	}

	for _, f := range snap.Folders() {
		if failed.Contains(f.CollectionID) || failed.Contains(f.ParentID) {
			skip(f.ID, source.KindFolder)
			continue
		}
		out, err := e.ReconcileFolder(ctx, f)
		record(f.ID, out, err)
	}

	for _, card := range snap.Cards() {
		if failed.Contains(card.CollectionID) || failed.Contains(card.PrimaryFolderID()) {
			skip(card.ID, source.KindCard)
			continue
		}
		out, err := e.ReconcileCard(ctx, card, source.CardChanges{ContentChanged: true})
		record(card.ID, out, err)
	}

	for _, f := range snap.Folders() {
		if failed.Contains(f.ID) || !live.Contains(f.ID) {
			continue
		}
		if rec, err := e.store.Get(f.ID); err != nil || rec != nil {
			continue
		}
		out, err := e.ReconcileFolder(ctx, f)
		if err != nil || out.Action == ActionAdopted {
			report.add(out, err)
		}
	}

	report.merge(e.Sweep(ctx, live))
	report.finish()

	slog.Info("publish",
		"created", report.Count(ActionCreated),
		"updated", report.Count(ActionUpdated),
		"renamed", report.Count(ActionRenamed),
		"adopted", report.Count(ActionAdopted),
		"deleted", report.Count(ActionDeleted),
		"skipped", report.Count(ActionSkipped),
		"errors", len(report.Errors),
		"duration", report.Duration,
	)
	return report, report.Err()
}

// Handle applies a single source event.
func (e *Engine) Handle(ctx context.Context, ev source.Event) (*Outcome, error) {
	if ev.Type == source.EventDelete {
		return e.DeleteByExternalID(ctx, ev.ExternalID)
	}
	if ev.Type != source.EventCreate && ev.Type != source.EventUpdate {
		return nil, fmt.Errorf("unsupported event type %q", ev.Type)
	}

	switch {
	case ev.Kind == source.KindCollection && ev.Collection != nil:
		return e.ReconcileCollection(ctx, ev.Collection)
	case ev.Kind == source.KindFolder && ev.Folder != nil:
		return e.ReconcileFolder(ctx, ev.Folder)
	case ev.Kind == source.KindCard && ev.Card != nil:
		changes := ev.Changes
		if ev.Type == source.EventCreate {
			changes.ContentChanged = true
		}
		return e.ReconcileCard(ctx, ev.Card, changes)
	}
	return nil, fmt.Errorf("%s event for %s without entity", ev.Type, ev.Kind)
}
