package remotetree

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/openmined/cardsync/internal/ghapi"
)

type rename struct {
	from string
	to   string
}

// DryRun reads through a Client but keeps every write in memory. Later reads
// observe the simulated writes, so a whole publish pass can be planned
// without touching the branch.
type DryRun struct {
	inner *Client

	mu      sync.Mutex
	overlay map[string]*Content
	renames []rename
	planned []Mutation
}

func NewDryRun(inner *Client) *DryRun {
	return &DryRun{
		inner:   inner,
		overlay: make(map[string]*Content),
	}
}

// Purge drops the read cache of the live client. Simulated writes stay.
func (d *DryRun) Purge() {
	d.inner.Purge()
}

// Planned lists the mutations that would have been made.
func (d *DryRun) Planned() []Mutation {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Mutation, len(d.planned))
	copy(out, d.planned)
	return out
}

func under(p, prefix string) bool {
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

func swapPrefix(p, from, to string) string {
	return to + strings.TrimPrefix(p, from)
}

func blobSHA(body []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "blob %d\x00", len(body))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func (d *DryRun) ReadContent(ctx context.Context, p string) (*Content, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.read(ctx, p)
}

func (d *DryRun) read(ctx context.Context, p string) (*Content, error) {
	if c, ok := d.overlay[p]; ok {
		cp := *c
		return &cp, nil
	}
	for fp, c := range d.overlay {
		if c.Exists && strings.HasPrefix(fp, p+"/") {
			return &Content{Object: Object{Type: ghapi.ContentTypeDir, Name: path.Base(p), Path: p}, Exists: true}, nil
		}
	}

	// map the path back through simulated renames to where it lives remotely
	remote := p
	for i := len(d.renames) - 1; i >= 0; i-- {
		r := d.renames[i]
		switch {
		case under(remote, r.to):
			remote = swapPrefix(remote, r.to, r.from)
		case under(remote, r.from):
			return missing(p), nil
		}
	}

	c, err := d.inner.ReadContent(ctx, remote)
	if err != nil || !c.Exists || remote == p {
		return c, err
	}
	c.Path = p
	c.Name = path.Base(p)
	return c, nil
}

func (d *DryRun) plan(m Mutation, args ...any) {
	d.planned = append(d.planned, m)
	slog.Info("dry-run", append([]any{"op", m.Op, "path", strings.Join(m.Paths, " -> ")}, args...)...)
}

func (d *DryRun) Upsert(ctx context.Context, p string, body []byte, message, knownSHA string) (*UpsertResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.read(ctx, p)
	if err != nil {
		return nil, err
	}
	status := StatusCreated
	if current.Exists {
		if existing, err := current.Decode(); err == nil && bytes.Equal(existing, body) {
			return &UpsertResult{Status: StatusNoop, Object: current.Object}, nil
		}
		if knownSHA != "" && knownSHA != current.SHA {
			return nil, newRemoteError(opUpsert, p, ErrStaleReference,
				fmt.Sprintf("expected sha %s, remote has %s", knownSHA, current.SHA))
		}
		status = StatusUpdated
	}

	written := &Content{
		Object: Object{Type: ghapi.ContentTypeFile, Name: path.Base(p), Path: p, SHA: blobSHA(body), URL: current.URL},
		Exists: true,
		Body:   ghapi.EncodeContent(body),
	}
	d.overlay[p] = written
	d.plan(Mutation{Op: opUpsert, Paths: []string{p}}, "status", status, "size", humanize.Bytes(uint64(len(body))), "message", message)
	return &UpsertResult{Status: status, Object: written.Object}, nil
}

func (d *DryRun) Delete(ctx context.Context, p, message, sha string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	current, err := d.read(ctx, p)
	if err != nil {
		return err
	}
	if !current.Exists {
		return newRemoteError(opDelete, p, ErrNotFound, "")
	}
	if sha != "" && sha != current.SHA {
		return newRemoteError(opDelete, p, ErrStaleReference,
			fmt.Sprintf("expected sha %s, remote has %s", sha, current.SHA))
	}

	d.overlay[p] = missing(p)
	d.plan(Mutation{Op: opDelete, Paths: []string{p}}, "message", message)
	return nil
}

func (d *DryRun) RenameSubtree(ctx context.Context, oldPrefix, newPrefix, message string) (*RenameResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	oldPrefix = strings.Trim(oldPrefix, "/")
	newPrefix = strings.Trim(newPrefix, "/")
	if oldPrefix == "" || newPrefix == "" || oldPrefix == newPrefix {
		return nil, fmt.Errorf("%s: invalid prefixes %q -> %q", opRename, oldPrefix, newPrefix)
	}

	current, err := d.read(ctx, oldPrefix)
	if err != nil {
		return nil, err
	}
	if !current.Exists {
		return nil, newRemoteError(opRename, oldPrefix, ErrNotFound, "no entries under prefix")
	}

	var paths []string
	for fp := range d.overlay {
		if under(fp, oldPrefix) {
			paths = append(paths, fp)
		}
	}
	moving := make(map[string]*Content, len(paths))
	for _, fp := range paths {
		moving[swapPrefix(fp, oldPrefix, newPrefix)] = d.overlay[fp]
		delete(d.overlay, fp)
	}
	moved := 0
	for np, c := range moving {
		c.Path = np
		c.Name = path.Base(np)
		d.overlay[np] = c
		if c.Exists {
			moved++
		}
	}
	d.renames = append(d.renames, rename{from: oldPrefix, to: newPrefix})

	d.plan(Mutation{Op: opRename, Paths: []string{oldPrefix, newPrefix}}, "message", message)
	return &RenameResult{OldPrefix: oldPrefix, NewPrefix: newPrefix, Moved: moved}, nil
}

func (d *DryRun) AwaitPath(ctx context.Context, p string) (*Content, error) {
	c, err := d.ReadContent(ctx, p)
	if err != nil {
		return nil, err
	}
	if !c.Exists {
		return nil, newRemoteError(opAwait, p, ErrPropagationTimeout, "dry run")
	}
	return c, nil
}
