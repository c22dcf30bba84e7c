package remotetree

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/openmined/cardsync/internal/remotetree/remotetreetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTree(t *testing.T, files map[string]string) (*Client, *remotetreetest.FakeRepo) {
	t.Helper()
	repo := remotetreetest.NewFakeRepo("main", files)
	c, err := New(repo, repo, Options{
		Branch:         "main",
		CacheSize:      64,
		SettleDelay:    time.Millisecond,
		SettleAttempts: 3,
	})
	require.NoError(t, err)
	return c, repo
}

func TestReadContent_CachesHitsAndMisses(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"docs/a.md": "hello"})
	ctx := context.Background()

	got, err := c.ReadContent(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.True(t, got.Exists)
	body, err := got.Decode()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))

	_, err = c.ReadContent(ctx, "docs/a.md")
	require.NoError(t, err)

	miss, err := c.ReadContent(ctx, "docs/missing.md")
	require.NoError(t, err)
	assert.False(t, miss.Exists)
	assert.Equal(t, "missing.md", miss.Name)
	_, err = c.ReadContent(ctx, "docs/missing.md")
	require.NoError(t, err)

	assert.Len(t, repo.CallsOf(remotetreetest.OpGet), 2)
}

func TestPurge_SeesOutOfBandEdits(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"docs/a.md": "hello"})
	ctx := context.Background()

	before, err := c.ReadContent(ctx, "docs/a.md")
	require.NoError(t, err)
	repo.Write("docs/a.md", "edited")

	cached, err := c.ReadContent(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, before.SHA, cached.SHA)

	c.Purge()
	fresh, err := c.ReadContent(ctx, "docs/a.md")
	require.NoError(t, err)
	assert.Equal(t, repo.SHA("docs/a.md"), fresh.SHA)
	assert.NotEqual(t, before.SHA, fresh.SHA)
}

func TestReadContent_Directory(t *testing.T) {
	c, _ := newTestTree(t, map[string]string{"docs/Engineering/README.md": "# Eng"})

	dir, err := c.ReadContent(context.Background(), "docs/Engineering")
	require.NoError(t, err)
	assert.True(t, dir.Exists)
	assert.True(t, dir.IsDir())
	assert.Empty(t, dir.Body)
	assert.NotEmpty(t, dir.SHA)
}

func TestReadContent_TransportErrorIsNotCached(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"docs/a.md": "hello"})
	repo.FailNext(remotetreetest.OpGet, http.StatusInternalServerError)

	_, err := c.ReadContent(context.Background(), "docs/a.md")
	require.Error(t, err)

	got, err := c.ReadContent(context.Background(), "docs/a.md")
	require.NoError(t, err)
	assert.True(t, got.Exists)
}

func TestUpsert_Idempotent(t *testing.T) {
	c, repo := newTestTree(t, nil)
	ctx := context.Background()

	first, err := c.Upsert(ctx, "docs/a.md", []byte("hello"), "Create a.md", "")
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, first.Status)
	assert.Equal(t, "docs/a.md", first.Object.Path)
	assert.Equal(t, repo.SHA("docs/a.md"), first.Object.SHA)
	assert.NotEmpty(t, first.CommitSHA)

	second, err := c.Upsert(ctx, "docs/a.md", []byte("hello"), "Update a.md", "")
	require.NoError(t, err)
	assert.Equal(t, StatusNoop, second.Status)
	assert.Equal(t, first.Object.SHA, second.Object.SHA)

	puts := repo.CallsOf(remotetreetest.OpPut)
	require.Len(t, puts, 1)
	assert.Equal(t, "Create a.md", puts[0].Message)
}

func TestUpsert_Update(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"docs/a.md": "old"})
	before := repo.SHA("docs/a.md")

	res, err := c.Upsert(context.Background(), "docs/a.md", []byte("new"), "Update a.md", before)
	require.NoError(t, err)
	assert.Equal(t, StatusUpdated, res.Status)
	assert.NotEqual(t, before, res.Object.SHA)
	assert.Equal(t, "new", repo.Files()["docs/a.md"])
}

func TestUpsert_KnownSHAMismatch(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"docs/a.md": "old"})

	_, err := c.Upsert(context.Background(), "docs/a.md", []byte("new"), "Update a.md", "not-the-sha")
	assert.ErrorIs(t, err, ErrStaleReference)
	assert.Empty(t, repo.CallsOf(remotetreetest.OpPut))
}

func TestUpsert_OutOfBandChange(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"docs/a.md": "old"})
	ctx := context.Background()

	_, err := c.ReadContent(ctx, "docs/a.md")
	require.NoError(t, err)
	repo.Write("docs/a.md", "edited elsewhere")

	_, err = c.Upsert(ctx, "docs/a.md", []byte("new"), "Update a.md", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStaleReference)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusConflict, re.Status)
	assert.Equal(t, "docs/a.md", re.Path)
}

func TestUpsert_WriteFailed(t *testing.T) {
	c, repo := newTestTree(t, nil)
	repo.FailNext(remotetreetest.OpPut, http.StatusInternalServerError)

	_, err := c.Upsert(context.Background(), "docs/a.md", []byte("x"), "Create a.md", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteWriteFailed)
	assert.NotErrorIs(t, err, ErrStaleReference)

	var re *RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusInternalServerError, re.Status)
	assert.Equal(t, "injected failure", re.Message)
	assert.Contains(t, err.Error(), "upsert docs/a.md")
}

func TestDelete(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"docs/a.md": "a", "docs/b.md": "b"})
	ctx := context.Background()

	require.NoError(t, c.Delete(ctx, "docs/a.md", "Delete a.md", repo.SHA("docs/a.md")))
	assert.NotContains(t, repo.Files(), "docs/a.md")

	err := c.Delete(ctx, "docs/a.md", "Delete a.md", "whatever")
	assert.ErrorIs(t, err, ErrNotFound)

	err = c.Delete(ctx, "docs/b.md", "Delete b.md", "stale")
	assert.ErrorIs(t, err, ErrStaleReference)

	require.NoError(t, c.Delete(ctx, "docs/b.md", "Delete b.md", ""))
	assert.Empty(t, repo.Files())
}

func TestRenameSubtree(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{
		"a/b/x.md":      "x",
		"a/b/deep/y.md": "y",
		"a/bc/z.md":     "z",
		"other/w.md":    "w",
	})
	ctx := context.Background()
	shaX, shaY := repo.SHA("a/b/x.md"), repo.SHA("a/b/deep/y.md")
	oldHead, _ := repo.Head()

	res, err := c.RenameSubtree(ctx, "a/b", "a/c", "Rename b to c")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Moved)

	assert.Equal(t, map[string]string{
		"a/c/x.md":      "x",
		"a/c/deep/y.md": "y",
		"a/bc/z.md":     "z",
		"other/w.md":    "w",
	}, repo.Files())
	assert.Equal(t, shaX, repo.SHA("a/c/x.md"))
	assert.Equal(t, shaY, repo.SHA("a/c/deep/y.md"))

	head, message := repo.Head()
	assert.Equal(t, res.CommitSHA, head)
	assert.NotEqual(t, oldHead, head)
	assert.Equal(t, "Rename b to c", message)

	refs := repo.CallsOf(remotetreetest.OpUpdateRef)
	require.Len(t, refs, 1)
	assert.Equal(t, "heads/main", refs[0].Path)
	assert.Len(t, repo.CallsOf(remotetreetest.OpCreateCommit), 1)
	assert.Empty(t, repo.CallsOf(remotetreetest.OpPut))
}

func TestRenameSubtree_SingleFile(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"docs/old-name.md": "body"})

	_, err := c.RenameSubtree(context.Background(), "docs/old-name.md", "docs/new-name.md", "Rename old-name.md to new-name.md")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"docs/new-name.md": "body"}, repo.Files())
}

func TestRenameSubtree_NothingToMove(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"a/bc/z.md": "z"})

	_, err := c.RenameSubtree(context.Background(), "a/b", "a/c", "Rename b to c")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, repo.CallsOf(remotetreetest.OpCreateTree))
}

func TestRenameSubtree_InvalidPrefixes(t *testing.T) {
	c, _ := newTestTree(t, nil)
	_, err := c.RenameSubtree(context.Background(), "a", "a", "noop")
	assert.Error(t, err)
	_, err = c.RenameSubtree(context.Background(), "", "a", "noop")
	assert.Error(t, err)
}

func TestRenameSubtree_FailureLeavesBranch(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"a/b/x.md": "x"})
	repo.FailNext(remotetreetest.OpCreateCommit, http.StatusInternalServerError)
	oldHead, _ := repo.Head()

	_, err := c.RenameSubtree(context.Background(), "a/b", "a/c", "Rename b to c")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRemoteWriteFailed)

	head, _ := repo.Head()
	assert.Equal(t, oldHead, head)
	assert.Empty(t, repo.CallsOf(remotetreetest.OpUpdateRef))
}

func TestRenameSubtree_InvalidatesCache(t *testing.T) {
	c, _ := newTestTree(t, map[string]string{"a/b/x.md": "x"})
	ctx := context.Background()

	before, err := c.ReadContent(ctx, "a/c/x.md")
	require.NoError(t, err)
	require.False(t, before.Exists)

	_, err = c.RenameSubtree(ctx, "a/b", "a/c", "Rename b to c")
	require.NoError(t, err)

	after, err := c.ReadContent(ctx, "a/c/x.md")
	require.NoError(t, err)
	assert.True(t, after.Exists)

	gone, err := c.ReadContent(ctx, "a/b/x.md")
	require.NoError(t, err)
	assert.False(t, gone.Exists)
}

func TestOnMutation(t *testing.T) {
	c, _ := newTestTree(t, nil)
	var seen []Mutation
	c.OnMutation(func(m Mutation) { seen = append(seen, m) })
	ctx := context.Background()

	_, err := c.Upsert(ctx, "a/b/x.md", []byte("x"), "Create x.md", "")
	require.NoError(t, err)
	_, err = c.Upsert(ctx, "a/b/x.md", []byte("x"), "Update x.md", "")
	require.NoError(t, err)
	_, err = c.RenameSubtree(ctx, "a/b", "a/c", "Rename b to c")
	require.NoError(t, err)
	require.NoError(t, c.Delete(ctx, "a/c/x.md", "Delete x.md", ""))

	require.Len(t, seen, 3)
	assert.Equal(t, opUpsert, seen[0].Op)
	assert.Equal(t, []string{"a/b", "a/c"}, seen[1].Paths)
	assert.Equal(t, opDelete, seen[2].Op)
}

func TestAwaitPath(t *testing.T) {
	c, repo := newTestTree(t, map[string]string{"a/b/x.md": "x"})
	ctx := context.Background()

	repo.LagReads(2)
	got, err := c.AwaitPath(ctx, "a/b/x.md")
	require.NoError(t, err)
	assert.True(t, got.Exists)
	assert.Len(t, repo.CallsOf(remotetreetest.OpGet), 3)

	repo.LagReads(10)
	_, err = c.AwaitPath(ctx, "a/b/x.md")
	assert.ErrorIs(t, err, ErrPropagationTimeout)
}

func TestAwaitPath_Cancelled(t *testing.T) {
	c, _ := newTestTree(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.AwaitPath(ctx, "a.md")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_RequiresBranch(t *testing.T) {
	repo := remotetreetest.NewFakeRepo("main", nil)
	_, err := New(repo, repo, Options{})
	assert.Error(t, err)
}
