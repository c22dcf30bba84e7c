package watch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/rjeczalik/notify"
)

const (
	eventBufferSize        = 16
	defaultDebounceTimeout = 250 * time.Millisecond
)

// SnapshotWatcher reports changes to a single snapshot file. Editors that
// save through a temp file and a rename are covered by watching the parent
// directory and filtering on the file name.
type SnapshotWatcher struct {
	path      string
	rawEvents chan notify.EventInfo
	changes   chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	debounceMu      sync.Mutex
	debounceTimer   *time.Timer
	debounceTimeout time.Duration
}

func NewSnapshotWatcher(path string) *SnapshotWatcher {
	return &SnapshotWatcher{
		path:            path,
		done:            make(chan struct{}),
		debounceTimeout: defaultDebounceTimeout,
	}
}

// SetDebounceTimeout sets how long the file must stay quiet before a change
// is reported.
func (w *SnapshotWatcher) SetDebounceTimeout(timeout time.Duration) {
	w.debounceTimeout = timeout
}

func (w *SnapshotWatcher) Start(ctx context.Context) error {
	// notify reports resolved paths; /tmp on macos is a symlink
	if resolved, err := filepath.EvalSymlinks(w.path); err == nil {
		w.path = resolved
	}
	slog.Info("snapshot watcher start", "path", w.path)

	w.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	w.changes = make(chan struct{}, 1)

	if err := notify.Watch(filepath.Dir(w.path), w.rawEvents, notify.Write, notify.Create, notify.Rename); err != nil {
		return err
	}

	w.wg.Add(1)
	go w.filterEvents(ctx)
	return nil
}

func (w *SnapshotWatcher) Stop() {
	close(w.done)
	if w.rawEvents != nil {
		notify.Stop(w.rawEvents)
	}
	w.wg.Wait()

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceMu.Unlock()
	slog.Info("snapshot watcher stopped")
}

// Changes delivers one value per settled burst of writes. A pending value is
// never duplicated, so a slow reader sees at most one queued change.
func (w *SnapshotWatcher) Changes() <-chan struct{} {
	return w.changes
}

func (w *SnapshotWatcher) filterEvents(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.rawEvents:
			if !ok {
				return
			}
			if event.Path() != w.path {
				continue
			}
			slog.Debug("snapshot watcher", "event", event.Event(), "path", event.Path())
			w.debounce()
		}
	}
}

func (w *SnapshotWatcher) debounce() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.debounceTimeout, w.flush)
}

func (w *SnapshotWatcher) flush() {
	select {
	case w.changes <- struct{}{}:
	default:
	}
}
