package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/openmined/cardsync/internal/metastore"
	"github.com/openmined/cardsync/internal/pathresolver"
	"github.com/openmined/cardsync/internal/remotetree"
	"github.com/openmined/cardsync/internal/source"
)

// recordKind falls back to the path shape for records written without a kind.
func recordKind(rec *metastore.Record) source.Kind {
	if rec.Kind != "" {
		return source.Kind(rec.Kind)
	}
	switch {
	case rec.ExternalName == pathresolver.ReadmeName:
		return source.KindCollection
	case strings.HasSuffix(rec.ExternalName, ".md"):
		return source.KindCard
	default:
		return source.KindFolder
	}
}

// DeleteByExternalID removes the entity that was mirrored under externalID.
// Unknown ids are not an error.
func (e *Engine) DeleteByExternalID(ctx context.Context, externalID string) (*Outcome, error) {
	rec, err := e.store.FindByExternalID(externalID)
	if err != nil {
		return nil, &EntityError{Path: externalID, Err: err}
	}
	if rec == nil {
		slog.Debug("sync", "op", "delete", "external_id", externalID, "reason", "untracked")
		return &Outcome{ExternalID: externalID, Action: ActionNoop}, nil
	}
	return e.remove(ctx, rec)
}

// remove deletes the remote object at the record's last known path and then
// drops the record. Paths are never re-derived: the entity is gone.
func (e *Engine) remove(ctx context.Context, rec *metastore.Record) (*Outcome, error) {
	kind := recordKind(rec)
	out := &Outcome{
		SourceID:   rec.SourceID,
		Kind:       kind,
		ExternalID: rec.ExternalID,
		Action:     ActionDeleted,
		Path:       rec.ExternalPath,
		Object:     objectOf(rec),
	}

	var err error
	switch kind {
	case source.KindFolder:
		// the directory disappears with its last file
	case source.KindCollection:
		err = e.remote.Delete(ctx, rec.ExternalPath, deleteCollectionMessage(baseName(pathresolver.Dir(rec.ExternalPath))), rec.ExternalSHA)
	default:
		err = e.remote.Delete(ctx, rec.ExternalPath, deleteMessage(rec.ExternalName), rec.ExternalSHA)
	}
	if errors.Is(err, remotetree.ErrNotFound) {
		slog.Info("sync", "op", "delete", "kind", kind, "id", rec.SourceID, "path", rec.ExternalPath, "reason", "already gone")
		err = nil
	}
	if err != nil {
		return nil, &EntityError{SourceID: rec.SourceID, Kind: kind, Path: rec.ExternalPath, Err: err}
	}

	if err := e.store.Delete(rec.SourceID); err != nil {
		return nil, &EntityError{SourceID: rec.SourceID, Kind: kind, Path: rec.ExternalPath, Err: err}
	}
	slog.Info("sync", "op", "delete", "kind", kind, "id", rec.SourceID, "path", rec.ExternalPath)
	return out, nil
}

// Sweep deletes every tracked entity whose id is not in live: cards first,
// then folders, then collections. A failed delete keeps its record and the
// sweep moves on; all failures are reported at the end.
func (e *Engine) Sweep(ctx context.Context, live mapset.Set[string]) *Report {
	report := newReport()
	defer report.finish()

	records, err := e.store.All()
	if err != nil {
		report.add(nil, err)
		return report
	}

	buckets := map[source.Kind][]*metastore.Record{}
	for _, rec := range records {
		if live.Contains(rec.SourceID) {
			continue
		}
		kind := recordKind(rec)
		buckets[kind] = append(buckets[kind], rec)
	}

	for _, kind := range []source.Kind{source.KindCard, source.KindFolder, source.KindCollection} {
		for _, rec := range buckets[kind] {
			report.add(e.remove(ctx, rec))
		}
	}
	return report
}
