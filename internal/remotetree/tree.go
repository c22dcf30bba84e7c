// Package remotetree manipulates files in one branch of a GitHub repository:
// cached single-path reads, idempotent upserts, deletes, and whole-subtree
// renames committed as a single tree rewrite.
package remotetree

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/golang-lru/v2"
	"github.com/openmined/cardsync/internal/ghapi"
)

const (
	defaultCacheSize      = 1024
	defaultSettleDelay    = time.Second
	defaultSettleAttempts = 3
)

// ContentsService is the path-addressed file API.
type ContentsService interface {
	Get(ctx context.Context, path, ref string) (*ghapi.ContentObject, error)
	Put(ctx context.Context, path string, params *ghapi.PutContentParams) (*ghapi.ContentWriteResponse, error)
	Delete(ctx context.Context, path string, params *ghapi.DeleteContentParams) (*ghapi.ContentWriteResponse, error)
}

// GitService is the branch and git object API.
type GitService interface {
	GetBranch(ctx context.Context, branch string) (*ghapi.Branch, error)
	GetTree(ctx context.Context, sha string, recursive bool) (*ghapi.Tree, error)
	CreateTree(ctx context.Context, params *ghapi.CreateTreeParams) (*ghapi.Tree, error)
	CreateCommit(ctx context.Context, params *ghapi.CreateCommitParams) (*ghapi.Commit, error)
	UpdateRef(ctx context.Context, ref string, params *ghapi.UpdateRefParams) (*ghapi.Ref, error)
}

type Options struct {
	Branch         string
	CacheSize      int
	SettleDelay    time.Duration
	SettleAttempts int
}

// Client operates on a single branch. It is not safe for concurrent
// mutations; the branch history is linear and every rename rewrites it.
type Client struct {
	contents       ContentsService
	git            GitService
	branch         string
	cache          *lru.Cache[string, *Content]
	settleDelay    time.Duration
	settleAttempts int

	subMu       sync.RWMutex
	subscribers []func(Mutation)
}

func New(contents ContentsService, git GitService, opts Options) (*Client, error) {
	if opts.Branch == "" {
		return nil, errors.New("remotetree: branch missing")
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = defaultCacheSize
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = defaultSettleDelay
	}
	if opts.SettleAttempts <= 0 {
		opts.SettleAttempts = defaultSettleAttempts
	}

	cache, err := lru.New[string, *Content](opts.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("create read cache: %w", err)
	}

	c := &Client{
		contents:       contents,
		git:            git,
		branch:         opts.Branch,
		cache:          cache,
		settleDelay:    opts.SettleDelay,
		settleAttempts: opts.SettleAttempts,
	}
	// a rename can move any number of paths, so every mutation drops the whole cache
	c.OnMutation(func(Mutation) { c.cache.Purge() })
	return c, nil
}

// NewFromAPI wires a client to the REST transport.
func NewFromAPI(api *ghapi.Client, opts Options) (*Client, error) {
	return New(api.Contents, api.Git, opts)
}

// Purge forgets every cached read. Callers purge at the start of a pass so
// changes made to the branch by someone else are seen again.
func (c *Client) Purge() {
	c.cache.Purge()
}

// OnMutation registers fn to run after every successful mutating call.
func (c *Client) OnMutation(fn func(Mutation)) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers = append(c.subscribers, fn)
}

func (c *Client) emit(m Mutation) {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	for _, fn := range c.subscribers {
		fn(m)
	}
}

// ReadContent returns the file or directory at path. Results, including
// misses, are cached until the next mutation.
func (c *Client) ReadContent(ctx context.Context, path string) (*Content, error) {
	if cached, ok := c.cache.Get(path); ok {
		cp := *cached
		return &cp, nil
	}

	obj, err := c.contents.Get(ctx, path, c.branch)
	if errors.Is(err, ghapi.ErrNotFound) {
		content := missing(path)
		c.cache.Add(path, content)
		cp := *content
		return &cp, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", opRead, path, err)
	}

	content := &Content{Object: objectFrom(obj), Exists: true}
	if obj.Type != ghapi.ContentTypeDir {
		content.Body = obj.Content
	}
	c.cache.Add(path, content)

	cp := *content
	return &cp, nil
}

// Upsert writes body at path unless the remote file already holds exactly
// body, in which case nothing is written and the status is StatusNoop.
// A non-empty knownSHA must match the current remote sha.
func (c *Client) Upsert(ctx context.Context, path string, body []byte, message, knownSHA string) (*UpsertResult, error) {
	current, err := c.ReadContent(ctx, path)
	if err != nil {
		return nil, err
	}

	params := &ghapi.PutContentParams{
		Message: message,
		Content: ghapi.EncodeContent(body),
		Branch:  c.branch,
	}

	if current.Exists {
		if existing, err := current.Decode(); err == nil && bytes.Equal(existing, body) {
			slog.Debug("remote", "op", opUpsert, "path", path, "status", StatusNoop)
			return &UpsertResult{Status: StatusNoop, Object: current.Object}, nil
		}
		if knownSHA != "" && knownSHA != current.SHA {
			return nil, newRemoteError(opUpsert, path, ErrStaleReference,
				fmt.Sprintf("expected sha %s, remote has %s", knownSHA, current.SHA))
		}
		params.SHA = current.SHA
	}

	resp, err := c.contents.Put(ctx, path, params)
	if err != nil {
		return nil, writeError(opUpsert, path, err)
	}

	status := StatusUpdated
	if resp.Created {
		status = StatusCreated
	}
	result := &UpsertResult{Status: status, Object: objectFrom(resp.Content)}
	if resp.Commit != nil {
		result.CommitSHA = resp.Commit.SHA
	}

	c.emit(Mutation{Op: opUpsert, Paths: []string{path}})
	slog.Info("remote", "op", opUpsert, "path", path, "status", status, "size", humanize.Bytes(uint64(len(body))), "message", message)
	return result, nil
}

// Delete removes the file at path. An empty sha is looked up first.
func (c *Client) Delete(ctx context.Context, path, message, sha string) error {
	if sha == "" {
		current, err := c.ReadContent(ctx, path)
		if err != nil {
			return err
		}
		if !current.Exists {
			return newRemoteError(opDelete, path, ErrNotFound, "")
		}
		sha = current.SHA
	}

	_, err := c.contents.Delete(ctx, path, &ghapi.DeleteContentParams{
		Message: message,
		SHA:     sha,
		Branch:  c.branch,
	})
	if err != nil {
		return writeError(opDelete, path, err)
	}

	c.emit(Mutation{Op: opDelete, Paths: []string{path}})
	slog.Info("remote", "op", opDelete, "path", path, "message", message)
	return nil
}

// RenameSubtree moves every blob at oldPrefix or below it to the same place
// under newPrefix in one commit. Blob shas are reused; no content is uploaded.
func (c *Client) RenameSubtree(ctx context.Context, oldPrefix, newPrefix, message string) (*RenameResult, error) {
	oldPrefix = strings.Trim(oldPrefix, "/")
	newPrefix = strings.Trim(newPrefix, "/")
	if oldPrefix == "" || newPrefix == "" || oldPrefix == newPrefix {
		return nil, fmt.Errorf("%s: invalid prefixes %q -> %q", opRename, oldPrefix, newPrefix)
	}

	branch, err := c.git.GetBranch(ctx, c.branch)
	if err != nil {
		return nil, writeError(opRename, oldPrefix, err)
	}
	head := branch.Commit.SHA

	tree, err := c.git.GetTree(ctx, branch.Commit.Commit.Tree.SHA, true)
	if err != nil {
		return nil, writeError(opRename, oldPrefix, err)
	}
	if tree.Truncated {
		return nil, newRemoteError(opRename, oldPrefix, ErrRemoteWriteFailed, "recursive tree listing truncated")
	}

	entries, moved := rewriteEntries(tree.Entries, oldPrefix, newPrefix)
	if moved == 0 {
		return nil, newRemoteError(opRename, oldPrefix, ErrNotFound, "no entries under prefix")
	}

	newTree, err := c.git.CreateTree(ctx, &ghapi.CreateTreeParams{Entries: entries})
	if err != nil {
		return nil, writeError(opRename, oldPrefix, err)
	}

	commit, err := c.git.CreateCommit(ctx, &ghapi.CreateCommitParams{
		Message: message,
		Tree:    newTree.SHA,
		Parents: []string{head},
	})
	if err != nil {
		return nil, writeError(opRename, oldPrefix, err)
	}

	if _, err := c.git.UpdateRef(ctx, "heads/"+c.branch, &ghapi.UpdateRefParams{SHA: commit.SHA}); err != nil {
		return nil, writeError(opRename, oldPrefix, err)
	}

	c.emit(Mutation{Op: opRename, Paths: []string{oldPrefix, newPrefix}})
	slog.Info("remote", "op", opRename, "from", oldPrefix, "to", newPrefix, "moved", moved, "commit", commit.SHA, "message", message)

	return &RenameResult{
		OldPrefix: oldPrefix,
		NewPrefix: newPrefix,
		CommitSHA: commit.SHA,
		TreeSHA:   newTree.SHA,
		Moved:     moved,
	}, nil
}

// rewriteEntries builds the full entry list of the new tree. Tree entries are
// dropped since the API derives directories from blob paths; keeping them
// would resurrect the old directories.
func rewriteEntries(entries []*ghapi.TreeEntry, oldPrefix, newPrefix string) ([]*ghapi.TreeEntry, int) {
	out := make([]*ghapi.TreeEntry, 0, len(entries))
	moved := 0
	for _, e := range entries {
		if e.Type == ghapi.EntryTypeTree {
			continue
		}
		p := e.Path
		if p == oldPrefix || strings.HasPrefix(p, oldPrefix+"/") {
			p = newPrefix + strings.TrimPrefix(p, oldPrefix)
			moved++
		}
		out = append(out, &ghapi.TreeEntry{Path: p, Mode: e.Mode, Type: e.Type, SHA: e.SHA})
	}
	return out, moved
}

// AwaitPath re-reads path after the settle delay until it exists, giving up
// with ErrPropagationTimeout after the configured number of attempts.
func (c *Client) AwaitPath(ctx context.Context, path string) (*Content, error) {
	for attempt := 1; attempt <= c.settleAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.settleDelay):
		}

		c.cache.Remove(path)
		content, err := c.ReadContent(ctx, path)
		if err != nil {
			return nil, err
		}
		if content.Exists {
			return content, nil
		}
		slog.Debug("remote", "op", opAwait, "path", path, "attempt", attempt)
	}
	return nil, newRemoteError(opAwait, path, ErrPropagationTimeout,
		fmt.Sprintf("still missing after %d attempts", c.settleAttempts))
}
