// Package remotetreetest provides an in-memory GitHub repository for tests.
package remotetreetest

import (
	"context"
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/openmined/cardsync/internal/ghapi"
)

const (
	OpGet          = "get"
	OpPut          = "put"
	OpDelete       = "delete"
	OpGetBranch    = "branch"
	OpGetTree      = "tree"
	OpCreateTree   = "create-tree"
	OpCreateCommit = "create-commit"
	OpUpdateRef    = "update-ref"

	fileMode = "100644"
)

// Call records one request made against the repository.
type Call struct {
	Op      string
	Path    string
	Message string
}

type entry struct {
	mode string
	typ  string
	sha  string
}

type commit struct {
	sha     string
	tree    string
	parent  string
	message string
}

// FakeRepo implements the contents and git services over one branch. Every
// write lands as a new commit on the branch.
type FakeRepo struct {
	mu sync.Mutex

	owner  string
	branch string

	blobs   map[string][]byte
	trees   map[string]map[string]entry
	commits map[string]*commit
	head    string

	calls    []Call
	failures map[string][]int
	readLag  int
	seq      int
}

// NewFakeRepo seeds the branch with files in a single initial commit.
func NewFakeRepo(branch string, files map[string]string) *FakeRepo {
	r := &FakeRepo{
		owner:    "acme/handbook",
		branch:   branch,
		blobs:    make(map[string][]byte),
		trees:    make(map[string]map[string]entry),
		commits:  make(map[string]*commit),
		failures: make(map[string][]int),
	}
	state := make(map[string]entry, len(files))
	for p, body := range files {
		state[p] = entry{mode: fileMode, typ: ghapi.EntryTypeBlob, sha: r.storeBlob([]byte(body))}
	}
	r.commitState(state, "", "Initial commit")
	return r
}

// FailNext makes the next calls of op fail with the given statuses, in order.
func (r *FakeRepo) FailNext(op string, statuses ...int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[op] = append(r.failures[op], statuses...)
}

// LagReads makes the next n content reads report 404, like a replica that
// has not yet seen the latest ref update.
func (r *FakeRepo) LagReads(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readLag = n
}

func (r *FakeRepo) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsOf returns the recorded calls of one op.
func (r *FakeRepo) CallsOf(op string) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Mutations returns every call that changed the branch.
func (r *FakeRepo) Mutations() []Call {
	var out []Call
	for _, c := range r.Calls() {
		switch c.Op {
		case OpPut, OpDelete, OpUpdateRef:
			out = append(out, c)
		}
	}
	return out
}

func (r *FakeRepo) ResetCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// Files returns the current branch contents.
func (r *FakeRepo) Files() map[string]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]string)
	for p, e := range r.state() {
		if e.typ == ghapi.EntryTypeBlob {
			out[p] = string(r.blobs[e.sha])
		}
	}
	return out
}

// SHA returns the blob sha at p, or "".
func (r *FakeRepo) SHA(p string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state()[p].sha
}

// Head returns the branch head commit and its message.
func (r *FakeRepo) Head() (string, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.head, r.commits[r.head].message
}

// Write changes a file out of band, without recording a call.
func (r *FakeRepo) Write(p, body string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.copyState()
	state[p] = entry{mode: fileMode, typ: ghapi.EntryTypeBlob, sha: r.storeBlob([]byte(body))}
	r.commitState(state, r.head, "Edit "+p)
}

// Remove deletes a file out of band, without recording a call.
func (r *FakeRepo) Remove(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state := r.copyState()
	delete(state, p)
	r.commitState(state, r.head, "Remove "+p)
}

func (r *FakeRepo) state() map[string]entry {
	return r.trees[r.commits[r.head].tree]
}

func (r *FakeRepo) copyState() map[string]entry {
	out := make(map[string]entry, len(r.state()))
	for p, e := range r.state() {
		out[p] = e
	}
	return out
}

func (r *FakeRepo) record(op, p, message string) error {
	r.calls = append(r.calls, Call{Op: op, Path: p, Message: message})
	if queue := r.failures[op]; len(queue) > 0 {
		r.failures[op] = queue[1:]
		return &ghapi.APIError{StatusCode: queue[0], Message: "injected failure"}
	}
	return nil
}

func hashOf(kind string, data []byte) string {
	h := sha1.New()
	fmt.Fprintf(h, "%s %d\x00", kind, len(data))
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

func (r *FakeRepo) storeBlob(body []byte) string {
	sha := hashOf("blob", body)
	r.blobs[sha] = append([]byte(nil), body...)
	return sha
}

func (r *FakeRepo) storeTree(state map[string]entry) string {
	paths := make([]string, 0, len(state))
	for p := range state {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		fmt.Fprintf(&b, "%s %s %s\n", state[p].mode, p, state[p].sha)
	}
	sha := hashOf("tree", []byte(b.String()))
	r.trees[sha] = state
	return sha
}

func (r *FakeRepo) newCommit(tree, parent, message string) *commit {
	r.seq++
	c := &commit{
		sha:     hashOf("commit", []byte(fmt.Sprintf("%s %s %s %d", tree, parent, message, r.seq))),
		tree:    tree,
		parent:  parent,
		message: message,
	}
	r.commits[c.sha] = c
	return c
}

func (r *FakeRepo) commitState(state map[string]entry, parent, message string) *commit {
	c := r.newCommit(r.storeTree(state), parent, message)
	r.head = c.sha
	return c
}

func (r *FakeRepo) htmlURL(kind, p string) string {
	return fmt.Sprintf("https://github.com/%s/%s/%s/%s", r.owner, kind, r.branch, p)
}

func (r *FakeRepo) fileObject(p string, e entry) *ghapi.ContentObject {
	return &ghapi.ContentObject{
		Type:     ghapi.ContentTypeFile,
		Name:     path.Base(p),
		Path:     p,
		SHA:      e.sha,
		Size:     int64(len(r.blobs[e.sha])),
		Encoding: "base64",
		Content:  wrap(base64.StdEncoding.EncodeToString(r.blobs[e.sha])),
		HTMLURL:  r.htmlURL("blob", p),
	}
}

// wrap breaks base64 text into 60 column lines the way the API does.
func wrap(s string) string {
	var b strings.Builder
	for len(s) > 60 {
		b.WriteString(s[:60])
		b.WriteByte('\n')
		s = s[60:]
	}
	b.WriteString(s)
	b.WriteByte('\n')
	return b.String()
}

func notFound() error {
	return &ghapi.APIError{StatusCode: http.StatusNotFound, Message: "Not Found"}
}

func (r *FakeRepo) commitResponse(c *commit) *ghapi.Commit {
	return &ghapi.Commit{
		SHA:     c.sha,
		Message: c.message,
		Tree:    ghapi.ObjectRef{SHA: c.tree},
		Parents: []ghapi.ObjectRef{{SHA: c.parent}},
	}
}

func (r *FakeRepo) Get(ctx context.Context, p, ref string) (*ghapi.ContentObject, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpGet, p, ""); err != nil {
		return nil, err
	}
	if ref != "" && ref != r.branch {
		return nil, notFound()
	}
	if r.readLag > 0 {
		r.readLag--
		return nil, notFound()
	}

	state := r.state()
	if e, ok := state[p]; ok {
		return r.fileObject(p, e), nil
	}

	dir := &ghapi.ContentObject{Type: ghapi.ContentTypeDir, Name: path.Base(p), Path: p, HTMLURL: r.htmlURL("tree", p)}
	var listing strings.Builder
	for fp, e := range state {
		if strings.HasPrefix(fp, p+"/") {
			dir.Entries = append(dir.Entries, r.fileObject(fp, e))
			// names relative to the directory, as git tree hashing does
			listing.WriteString(strings.TrimPrefix(fp, p+"/") + e.sha)
		}
	}
	if len(dir.Entries) == 0 {
		return nil, notFound()
	}
	sort.Slice(dir.Entries, func(i, j int) bool { return dir.Entries[i].Path < dir.Entries[j].Path })
	dir.SHA = hashOf("tree", []byte(listing.String()))
	return dir, nil
}

func (r *FakeRepo) Put(ctx context.Context, p string, params *ghapi.PutContentParams) (*ghapi.ContentWriteResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpPut, p, params.Message); err != nil {
		return nil, err
	}
	if params.Branch != "" && params.Branch != r.branch {
		return nil, notFound()
	}

	state := r.copyState()
	current, exists := state[p]
	switch {
	case exists && params.SHA == "":
		return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: `"sha" wasn't supplied.`}
	case exists && params.SHA != current.sha:
		return nil, &ghapi.APIError{StatusCode: http.StatusConflict, Message: fmt.Sprintf("%s does not match %s", p, params.SHA)}
	}

	body, err := base64.StdEncoding.DecodeString(params.Content)
	if err != nil {
		return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "content is not valid Base64"}
	}

	e := entry{mode: fileMode, typ: ghapi.EntryTypeBlob, sha: r.storeBlob(body)}
	state[p] = e
	c := r.commitState(state, r.head, params.Message)

	return &ghapi.ContentWriteResponse{
		Content: r.fileObject(p, e),
		Commit:  r.commitResponse(c),
		Created: !exists,
	}, nil
}

func (r *FakeRepo) Delete(ctx context.Context, p string, params *ghapi.DeleteContentParams) (*ghapi.ContentWriteResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpDelete, p, params.Message); err != nil {
		return nil, err
	}

	state := r.copyState()
	current, exists := state[p]
	if !exists {
		return nil, notFound()
	}
	if params.SHA != current.sha {
		return nil, &ghapi.APIError{StatusCode: http.StatusConflict, Message: fmt.Sprintf("%s does not match %s", p, params.SHA)}
	}

	delete(state, p)
	c := r.commitState(state, r.head, params.Message)
	return &ghapi.ContentWriteResponse{Commit: r.commitResponse(c)}, nil
}

func (r *FakeRepo) GetBranch(ctx context.Context, branch string) (*ghapi.Branch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpGetBranch, branch, ""); err != nil {
		return nil, err
	}
	if branch != r.branch {
		return nil, notFound()
	}

	b := &ghapi.Branch{Name: branch}
	b.Commit.SHA = r.head
	b.Commit.Commit.Tree.SHA = r.commits[r.head].tree
	return b, nil
}

// GetTree lists blobs and the directories implied by their paths.
func (r *FakeRepo) GetTree(ctx context.Context, sha string, recursive bool) (*ghapi.Tree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpGetTree, sha, ""); err != nil {
		return nil, err
	}
	state, ok := r.trees[sha]
	if !ok {
		return nil, notFound()
	}

	dirs := make(map[string]bool)
	tree := &ghapi.Tree{SHA: sha}
	for p, e := range state {
		if !recursive && strings.Contains(p, "/") {
			continue
		}
		tree.Entries = append(tree.Entries, &ghapi.TreeEntry{Path: p, Mode: e.mode, Type: e.typ, SHA: e.sha, Size: int64(len(r.blobs[e.sha]))})
		for d := path.Dir(p); recursive && d != "."; d = path.Dir(d) {
			dirs[d] = true
		}
	}
	for d := range dirs {
		tree.Entries = append(tree.Entries, &ghapi.TreeEntry{Path: d, Mode: "040000", Type: ghapi.EntryTypeTree, SHA: hashOf("tree", []byte(d))})
	}
	sort.Slice(tree.Entries, func(i, j int) bool { return tree.Entries[i].Path < tree.Entries[j].Path })
	return tree, nil
}

// CreateTree builds a tree from the full entry list. Tree entries are
// accepted only when they name a known directory hash, which is enough to
// catch stale directory entries being carried into a rewrite.
func (r *FakeRepo) CreateTree(ctx context.Context, params *ghapi.CreateTreeParams) (*ghapi.Tree, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpCreateTree, "", ""); err != nil {
		return nil, err
	}
	if params.BaseTree != "" {
		return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "base_tree not supported by fake"}
	}

	state := make(map[string]entry, len(params.Entries))
	for _, e := range params.Entries {
		switch e.Type {
		case ghapi.EntryTypeBlob:
			if _, ok := r.blobs[e.SHA]; !ok {
				return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "unknown blob " + e.SHA}
			}
		case ghapi.EntryTypeCommit:
		default:
			return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "unexpected entry type " + e.Type}
		}
		if _, dup := state[e.Path]; dup {
			return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "duplicate path " + e.Path}
		}
		state[e.Path] = entry{mode: e.Mode, typ: e.Type, sha: e.SHA}
	}

	return &ghapi.Tree{SHA: r.storeTree(state)}, nil
}

func (r *FakeRepo) CreateCommit(ctx context.Context, params *ghapi.CreateCommitParams) (*ghapi.Commit, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.record(OpCreateCommit, "", params.Message); err != nil {
		return nil, err
	}
	if _, ok := r.trees[params.Tree]; !ok {
		return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "unknown tree " + params.Tree}
	}
	if len(params.Parents) != 1 {
		return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "fake supports exactly one parent"}
	}
	if _, ok := r.commits[params.Parents[0]]; !ok {
		return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "unknown parent " + params.Parents[0]}
	}

	c := r.newCommit(params.Tree, params.Parents[0], params.Message)
	return r.commitResponse(c), nil
}

// UpdateRef only fast-forwards: the new commit's parent must be the head.
func (r *FakeRepo) UpdateRef(ctx context.Context, ref string, params *ghapi.UpdateRefParams) (*ghapi.Ref, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	message := ""
	if c, ok := r.commits[params.SHA]; ok {
		message = c.message
	}
	if err := r.record(OpUpdateRef, ref, message); err != nil {
		return nil, err
	}
	if ref != "heads/"+r.branch {
		return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "Reference does not exist"}
	}
	c, ok := r.commits[params.SHA]
	if !ok {
		return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "Object does not exist"}
	}
	if c.parent != r.head && !params.Force {
		return nil, &ghapi.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "Update is not a fast forward"}
	}

	r.head = c.sha
	return &ghapi.Ref{Ref: "refs/" + ref, Object: ghapi.ObjectRef{SHA: c.sha, Type: "commit"}}, nil
}
