// Package reconcile mirrors source entities into the remote tree. Each
// entity moves through unknown, absent, tracked and deleted states; the
// engine picks the single remote operation each transition needs and keeps
// the metadata store in step with what the remote confirmed.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/openmined/cardsync/internal/metastore"
	"github.com/openmined/cardsync/internal/pathresolver"
	"github.com/openmined/cardsync/internal/remotetree"
	"github.com/openmined/cardsync/internal/source"
)

// Remote is the remote tree capability the engine drives. Both the live
// client and the dry-run simulator implement it.
type Remote interface {
	ReadContent(ctx context.Context, path string) (*remotetree.Content, error)
	Upsert(ctx context.Context, path string, body []byte, message, knownSHA string) (*remotetree.UpsertResult, error)
	Delete(ctx context.Context, path, message, sha string) error
	RenameSubtree(ctx context.Context, oldPrefix, newPrefix, message string) (*remotetree.RenameResult, error)
	AwaitPath(ctx context.Context, path string) (*remotetree.Content, error)
	Purge()
}

type Options struct {
	RootDir           string
	PublishUnverified bool
	Ignore            *IgnoreList
}

// Engine is single threaded: every remote mutation completes before the
// next entity is looked at.
type Engine struct {
	remote   Remote
	store    metastore.Store
	renderer *source.Renderer
	opts     Options
	newID    func() string

	resolver *pathresolver.Resolver
	// claimed maps card paths written during the current Publish to their
	// card id. It is nil outside a pass.
	claimed map[string]string
}

func New(remote Remote, store metastore.Store, hierarchy pathresolver.Hierarchy, opts Options) *Engine {
	e := &Engine{
		remote:   remote,
		store:    store,
		renderer: source.NewRenderer(),
		opts:     opts,
		newID:    uuid.NewString,
	}
	e.SetHierarchy(hierarchy)
	return e
}

// SetHierarchy points path resolution at the current source state.
func (e *Engine) SetHierarchy(h pathresolver.Hierarchy) {
	e.resolver = pathresolver.New(e.opts.RootDir, h)
}

func applyObject(rec *metastore.Record, obj remotetree.Object) {
	rec.ExternalName = obj.Name
	rec.ExternalPath = obj.Path
	rec.ExternalSHA = obj.SHA
	rec.ExternalURL = obj.URL
}

func (e *Engine) save(rec *metastore.Record, obj remotetree.Object) error {
	applyObject(rec, obj)
	if err := e.store.Set(rec); err != nil {
		return fmt.Errorf("save metadata: %w", err)
	}
	return nil
}

// track creates the record of an entity that was just found or created
// remotely, minting its external id.
func (e *Engine) track(id string, kind source.Kind, collectionID string, obj remotetree.Object) (*metastore.Record, error) {
	rec := &metastore.Record{
		SourceID:     id,
		Kind:         string(kind),
		CollectionID: collectionID,
		ExternalID:   e.newID(),
	}
	if err := e.save(rec, obj); err != nil {
		return nil, err
	}
	return rec, nil
}

// adopt tracks an untracked entity whose target path already exists.
func (e *Engine) adopt(ctx context.Context, id string, kind source.Kind, collectionID, p string, wantDir bool) (*metastore.Record, error) {
	current, err := e.remote.ReadContent(ctx, p)
	if err != nil {
		return nil, err
	}
	if !current.Exists || current.IsDir() != wantDir {
		return nil, nil
	}
	rec, err := e.track(id, kind, collectionID, current.Object)
	if err != nil {
		return nil, err
	}
	slog.Info("sync", "op", "adopt", "kind", kind, "id", id, "path", p)
	return rec, nil
}

func withPrefix(p, oldPrefix, newPrefix string) string {
	if p == oldPrefix || strings.HasPrefix(p, oldPrefix+"/") {
		return newPrefix + strings.TrimPrefix(p, oldPrefix)
	}
	return p
}

// move relocates rec from oldPath to newPath with one subtree rename, then
// rewrites the stored path of every record under oldPath and refreshes rec
// from awaitPath once the rename is visible. staleFile names the file to
// remove when something already occupies newPath.
func (e *Engine) move(ctx context.Context, rec *metastore.Record, oldPath, newPath, awaitPath, staleFile string) (bool, error) {
	if oldPath == "" || oldPath == newPath {
		return false, nil
	}

	target, err := e.remote.ReadContent(ctx, newPath)
	if err != nil {
		return false, err
	}
	if target.Exists {
		return false, e.moveOnto(ctx, rec, oldPath, newPath, awaitPath, staleFile)
	}

	_, err = e.remote.RenameSubtree(ctx, oldPath, newPath, renameMessage(oldPath, newPath))
	if errors.Is(err, remotetree.ErrNotFound) {
		slog.Warn("sync", "op", "rename", "from", oldPath, "to", newPath, "error", "nothing left at old path")
		rec.ExternalPath = withPrefix(rec.ExternalPath, oldPath, newPath)
		rec.ExternalName = path.Base(rec.ExternalPath)
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if _, err := e.store.ReplacePathPrefix(oldPath, newPath); err != nil {
		return true, fmt.Errorf("rewrite metadata paths: %w", err)
	}
	rec.ExternalPath = withPrefix(rec.ExternalPath, oldPath, newPath)
	rec.ExternalName = path.Base(rec.ExternalPath)

	moved, err := e.remote.AwaitPath(ctx, awaitPath)
	if err != nil {
		return true, err
	}
	return true, e.save(rec, moved.Object)
}

// moveOnto handles a rename whose target already exists: the subtree rename
// is skipped and rec now points at the target.
func (e *Engine) moveOnto(ctx context.Context, rec *metastore.Record, oldPath, newPath, awaitPath, staleFile string) error {
	if staleFile != "" {
		stale, err := e.remote.ReadContent(ctx, staleFile)
		if err != nil {
			return err
		}
		if stale.Exists {
			err := e.remote.Delete(ctx, staleFile, deleteMessage(path.Base(staleFile)), stale.SHA)
			if err != nil && !errors.Is(err, remotetree.ErrNotFound) {
				return err
			}
		}
	} else if old, err := e.remote.ReadContent(ctx, oldPath); err == nil && old.Exists {
		slog.Warn("sync", "op", "rename", "from", oldPath, "to", newPath, "error", "target exists, old path left in place")
	}

	current, err := e.remote.ReadContent(ctx, awaitPath)
	if err != nil {
		return err
	}
	if current.Exists {
		return e.save(rec, current.Object)
	}
	rec.ExternalPath = awaitPath
	rec.ExternalName = path.Base(awaitPath)
	rec.ExternalSHA = ""
	rec.ExternalURL = ""
	return e.save(rec, remotetree.Object{Name: rec.ExternalName, Path: rec.ExternalPath})
}

func settle(current Action, moved bool, status remotetree.Status) Action {
	switch {
	case moved:
		return ActionRenamed
	case status == remotetree.StatusCreated:
		return ActionCreated
	case status == remotetree.StatusUpdated:
		return ActionUpdated
	case current != "":
		return current
	}
	return ActionNoop
}

// ReconcileCollection materializes a collection as <collection>/README.md.
func (e *Engine) ReconcileCollection(ctx context.Context, c *source.Collection) (*Outcome, error) {
	dir := e.resolver.CollectionPath(c)
	readme := e.resolver.ReadmePath(c)
	out := &Outcome{SourceID: c.ID, Kind: source.KindCollection, Path: readme}
	fail := func(err error) (*Outcome, error) {
		return nil, &EntityError{SourceID: c.ID, Kind: source.KindCollection, Path: readme, Err: err}
	}

	if e.opts.Ignore.ShouldIgnore(readme) {
		out.Action = ActionSkipped
		return out, nil
	}

	rec, err := e.store.Get(c.ID)
	if err != nil {
		return fail(err)
	}
	body := []byte(e.renderer.CollectionReadme(c))

	if rec == nil {
		if rec, err = e.adopt(ctx, c.ID, source.KindCollection, c.ID, readme, false); err != nil {
			return fail(err)
		}
		if rec == nil {
			res, err := e.remote.Upsert(ctx, readme, body, createMessage(c.Name), "")
			if err != nil {
				return fail(err)
			}
			if rec, err = e.track(c.ID, source.KindCollection, c.ID, res.Object); err != nil {
				return fail(err)
			}
			out.ExternalID = rec.ExternalID
			out.Action = settle("", false, res.Status)
			out.Object = res.Object
			return out, nil
		}
		out.ExternalID = rec.ExternalID
		out.Action = ActionAdopted
	}

	oldDir := pathresolver.Dir(rec.ExternalPath)
	moved, err := e.move(ctx, rec, oldDir, dir, readme, oldDir+"/"+pathresolver.ReadmeName)
	if err != nil {
		return fail(err)
	}

	res, err := e.remote.Upsert(ctx, readme, body, updateMessage(c.Name), "")
	if err != nil {
		return fail(err)
	}
	if err := e.save(rec, res.Object); err != nil {
		return fail(err)
	}
	out.Action = settle(out.Action, moved, res.Status)
	out.Object = res.Object
	return out, nil
}

// ReconcileFolder tracks the directory of a folder. Folders are never
// written: the remote cannot hold an empty directory, so a folder becomes
// tracked once its first card has created the directory.
func (e *Engine) ReconcileFolder(ctx context.Context, f *source.Folder) (*Outcome, error) {
	dir, err := e.resolver.FolderPath(f)
	fail := func(err error) (*Outcome, error) {
		return nil, &EntityError{SourceID: f.ID, Kind: source.KindFolder, Path: dir, Err: err}
	}
	if err != nil {
		return fail(err)
	}
	out := &Outcome{SourceID: f.ID, Kind: source.KindFolder, Path: dir, Action: ActionNoop}

	if e.opts.Ignore.ShouldIgnore(dir + "/") {
		out.Action = ActionSkipped
		return out, nil
	}

	rec, err := e.store.Get(f.ID)
	if err != nil {
		return fail(err)
	}

	if rec == nil {
		rec, err := e.adopt(ctx, f.ID, source.KindFolder, f.CollectionID, dir, true)
		if err != nil {
			return fail(err)
		}
		if rec != nil {
			out.ExternalID = rec.ExternalID
			out.Action = ActionAdopted
			out.Object = objectOf(rec)
		}
		return out, nil
	}

	if rec.ExternalPath != dir {
		moved, err := e.move(ctx, rec, rec.ExternalPath, dir, dir, "")
		if err != nil {
			return fail(err)
		}
		if !moved {
			// either adopted an existing directory or found nothing to move
			if err := e.store.Set(rec); err != nil {
				return fail(err)
			}
		} else {
			out.Action = ActionRenamed
		}
		out.Object = objectOf(rec)
		return out, nil
	}

	current, err := e.remote.ReadContent(ctx, dir)
	if err != nil {
		return fail(err)
	}
	// a parent rename keeps the directory sha but changes its url
	if current.Exists && (current.SHA != rec.ExternalSHA || current.URL != rec.ExternalURL) {
		if err := e.save(rec, current.Object); err != nil {
			return fail(err)
		}
	}
	out.Object = objectOf(rec)
	return out, nil
}

func objectOf(rec *metastore.Record) remotetree.Object {
	return remotetree.Object{Name: rec.ExternalName, Path: rec.ExternalPath, SHA: rec.ExternalSHA, URL: rec.ExternalURL}
}

// ReconcileCard writes the card document into its first folder. With no
// change flags set and an unchanged path, the card is left alone.
func (e *Engine) ReconcileCard(ctx context.Context, card *source.Card, changes source.CardChanges) (*Outcome, error) {
	if !card.Verified && !e.opts.PublishUnverified {
		slog.Debug("sync", "op", "skip", "kind", source.KindCard, "id", card.ID, "reason", "unverified")
		return &Outcome{SourceID: card.ID, Kind: source.KindCard, Action: ActionSkipped}, nil
	}

	p, err := e.resolver.CardPath(card)
	fail := func(err error) (*Outcome, error) {
		return nil, &EntityError{SourceID: card.ID, Kind: source.KindCard, Path: p, Err: err}
	}
	if err != nil {
		return fail(err)
	}
	out := &Outcome{SourceID: card.ID, Kind: source.KindCard, Path: p}

	if e.opts.Ignore.ShouldIgnore(p) {
		out.Action = ActionSkipped
		return out, nil
	}
	if e.claimed != nil {
		if other, ok := e.claimed[p]; ok && other != card.ID {
			slog.Warn("sync", "op", "collision", "path", p, "id", card.ID, "other", other)
		}
		e.claimed[p] = card.ID
	}
	if len(card.FolderIDs) > 1 {
		slog.Debug("sync", "op", "resolve", "id", card.ID, "path", p, "unmirrored_folders", card.FolderIDs[1:])
	}

	doc, err := e.renderer.CardDocument(card)
	if err != nil {
		return fail(err)
	}
	body := []byte(doc)
	name := path.Base(p)

	rec, err := e.store.Get(card.ID)
	if err != nil {
		return fail(err)
	}

	if rec == nil {
		if rec, err = e.adopt(ctx, card.ID, source.KindCard, card.CollectionID, p, false); err != nil {
			return fail(err)
		}
		if rec == nil {
			res, err := e.remote.Upsert(ctx, p, body, createMessage(name), "")
			if err != nil {
				return fail(err)
			}
			if rec, err = e.track(card.ID, source.KindCard, card.CollectionID, res.Object); err != nil {
				return fail(err)
			}
			out.ExternalID = rec.ExternalID
			out.Action = settle("", false, res.Status)
			out.Object = res.Object
			return out, nil
		}
		out.ExternalID = rec.ExternalID
		out.Action = ActionAdopted
		changes.ContentChanged = true
	}

	oldPath := rec.ExternalPath
	if oldPath == p && !changes.Any() {
		out.Action = settle(out.Action, false, remotetree.StatusNoop)
		out.Object = objectOf(rec)
		return out, nil
	}

	moved, err := e.move(ctx, rec, oldPath, p, p, oldPath)
	if err != nil {
		return fail(err)
	}

	res, err := e.remote.Upsert(ctx, p, body, updateMessage(name), "")
	if err != nil {
		return fail(err)
	}
	if err := e.save(rec, res.Object); err != nil {
		return fail(err)
	}
	out.Action = settle(out.Action, moved, res.Status)
	out.Object = res.Object
	return out, nil
}
