// Package watch keeps a remote tree in step with a snapshot file by
// re-running the publish pass on file changes and on a fixed interval.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openmined/cardsync/internal/reconcile"
	"golang.org/x/sync/errgroup"
)

const DefaultInterval = 15 * time.Minute

// PublishFunc runs one publish pass.
type PublishFunc func(ctx context.Context) (*reconcile.Report, error)

type Options struct {
	// SnapshotPath is watched for changes when set.
	SnapshotPath string
	// Interval between passes when nothing changes; <= 0 disables the timer.
	Interval time.Duration
	// Listen is the status server address; empty disables it.
	Listen string
}

type Runner struct {
	publish PublishFunc
	opts    Options
	status  *Status
	watcher *SnapshotWatcher
	server  *StatusServer
}

func NewRunner(publish PublishFunc, opts Options) *Runner {
	r := &Runner{
		publish: publish,
		opts:    opts,
		status:  NewStatus(),
	}
	if opts.SnapshotPath != "" {
		r.watcher = NewSnapshotWatcher(opts.SnapshotPath)
	}
	if opts.Listen != "" {
		r.server = NewStatusServer(opts.Listen, r.status)
	}
	return r
}

func (r *Runner) Status() *Status {
	return r.status
}

// Run publishes once, then again on every snapshot change or tick, until ctx
// is cancelled. A failed pass is logged and recorded; it does not stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	slog.Info("watch start", "snapshot", r.opts.SnapshotPath, "interval", r.opts.Interval, "listen", r.opts.Listen)

	eg, egCtx := errgroup.WithContext(ctx)

	var changes <-chan struct{}
	if r.watcher != nil {
		if err := r.watcher.Start(egCtx); err != nil {
			return fmt.Errorf("watch snapshot: %w", err)
		}
		defer r.watcher.Stop()
		changes = r.watcher.Changes()
	}

	if r.server != nil {
		eg.Go(func() error {
			return r.server.Start(egCtx)
		})
		eg.Go(func() error {
			<-egCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return r.server.Stop(shutdownCtx)
		})
	}

	eg.Go(func() error {
		return r.loop(egCtx, changes)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("watch failure", "error", err)
		return err
	}
	slog.Info("watch stopped")
	return nil
}

func (r *Runner) loop(ctx context.Context, changes <-chan struct{}) error {
	var tick <-chan time.Time
	if r.opts.Interval > 0 {
		ticker := time.NewTicker(r.opts.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	r.runOnce(ctx, "start")
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changes:
			r.runOnce(ctx, "snapshot changed")
		case <-tick:
			r.runOnce(ctx, "interval")
		}
	}
}

func (r *Runner) runOnce(ctx context.Context, reason string) {
	slog.Info("watch", "op", "publish", "reason", reason)
	r.status.begin()
	report, err := r.publish(ctx)
	r.status.finish(report, err)
	if err != nil {
		slog.Error("watch", "op", "publish", "error", err)
	}
}
