package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openmined/cardsync/internal/config"
	"github.com/openmined/cardsync/internal/ghapi"
	"github.com/openmined/cardsync/internal/metastore"
	"github.com/openmined/cardsync/internal/reconcile"
	"github.com/openmined/cardsync/internal/remotetree"
	"github.com/openmined/cardsync/internal/source"
	"github.com/openmined/cardsync/internal/utils"
)

// publisher owns the long-lived pieces of a publish run: the metadata store
// and the remote tree client with its read cache.
type publisher struct {
	cfg   *config.Config
	store metastore.Store
	tree  *remotetree.Client
}

func newPublisher(cfg *config.Config) (*publisher, error) {
	store, err := metastore.Open(cfg.MetadataPath)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}

	api, err := ghapi.New(&ghapi.Config{
		BaseURL:     cfg.GitHub.APIURL,
		Repository:  cfg.GitHub.Repository,
		Token:       cfg.GitHub.Token,
		TreeRetries: cfg.Publish.TreeRetries,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	tree, err := remotetree.NewFromAPI(api, remotetree.Options{
		Branch:         cfg.GitHub.Branch,
		CacheSize:      cfg.Publish.CacheSize,
		SettleDelay:    cfg.Publish.SettleDelay,
		SettleAttempts: cfg.Publish.SettleAttempts,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	slog.Info("publisher",
		"repository", cfg.GitHub.Repository,
		"branch", cfg.GitHub.Branch,
		"root", cfg.Publish.RootDir,
		"metadata", cfg.MetadataPath,
		"token", utils.MaskSecret(cfg.GitHub.Token),
		"dry_run", cfg.Publish.DryRun,
	)
	return &publisher{cfg: cfg, store: store, tree: tree}, nil
}

// engine wires an engine for one pass. A dry run reads through to the live
// remote but writes only to a simulated overlay and a throwaway copy of the
// metadata.
func (p *publisher) engine(snap *source.Snapshot) (*reconcile.Engine, error) {
	var remote reconcile.Remote = p.tree
	store := p.store
	if p.cfg.Publish.DryRun {
		scratch, err := metastore.Snapshot(p.store)
		if err != nil {
			return nil, err
		}
		remote = remotetree.NewDryRun(p.tree)
		store = scratch
	}

	return reconcile.New(remote, store, snap, reconcile.Options{
		RootDir:           p.cfg.Publish.RootDir,
		PublishUnverified: p.cfg.Publish.PublishUnverified,
		Ignore:            reconcile.NewIgnoreList(p.cfg.Publish.RootDir, p.cfg.Publish.Ignore...),
	}), nil
}

// Publish loads the snapshot file and runs one full pass.
func (p *publisher) Publish(ctx context.Context) (*reconcile.Report, error) {
	snap, err := source.LoadSnapshotFile(p.cfg.SnapshotPath)
	if err != nil {
		return nil, err
	}
	engine, err := p.engine(snap)
	if err != nil {
		return nil, err
	}
	report, err := engine.Publish(ctx, snap)
	if report != nil {
		report.DryRun = p.cfg.Publish.DryRun
	}
	return report, err
}

func (p *publisher) Close() error {
	return p.store.Close()
}
