package metastore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"file": func(t *testing.T) Store {
			s, err := OpenFileStore(filepath.Join(t.TempDir(), "metadata.json"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := OpenSqliteStore(filepath.Join(t.TempDir(), "metadata.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func card(id, path string) *Record {
	return &Record{
		SourceID:     id,
		Kind:         "card",
		CollectionID: "col-1",
		ExternalID:   "ext-" + id,
		ExternalName: filepath.Base(path),
		ExternalPath: path,
		ExternalSHA:  "sha-" + id,
		ExternalURL:  "https://github.com/acme/handbook/blob/main/" + path,
	}
}

func TestStore_CRUD(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)

			got, err := s.Get("missing")
			require.NoError(t, err)
			assert.Nil(t, got)

			rec := card("c1", "docs/Engineering/setup-guide.md")
			require.NoError(t, s.Set(rec))

			got, err = s.Get("c1")
			require.NoError(t, err)
			assert.Equal(t, rec, got)

			byExt, err := s.FindByExternalID("ext-c1")
			require.NoError(t, err)
			require.NotNil(t, byExt)
			assert.Equal(t, "c1", byExt.SourceID)

			rec.ExternalSHA = "sha-2"
			require.NoError(t, s.Set(rec))
			got, _ = s.Get("c1")
			assert.Equal(t, "sha-2", got.ExternalSHA)

			require.NoError(t, s.Delete("c1"))
			got, err = s.Get("c1")
			require.NoError(t, err)
			assert.Nil(t, got)

			byExt, err = s.FindByExternalID("ext-c1")
			require.NoError(t, err)
			assert.Nil(t, byExt)
		})
	}
}

func TestStore_RejectsInvalidRecord(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			assert.ErrorIs(t, s.Set(&Record{SourceID: "x"}), ErrInvalidRecord)
			assert.ErrorIs(t, s.Set(&Record{ExternalID: "x"}), ErrInvalidRecord)
		})
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			require.NoError(t, s.Set(card("c1", "docs/a.md")))

			got, _ := s.Get("c1")
			got.ExternalPath = "mutated"

			again, _ := s.Get("c1")
			assert.Equal(t, "docs/a.md", again.ExternalPath)
		})
	}
}

func TestStore_ReplacePathPrefix(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			require.NoError(t, s.Set(card("c1", "docs/Engineering/Onboarding/setup-guide.md")))
			require.NoError(t, s.Set(card("c2", "docs/Engineering/Onboarding/Deep/faq.md")))
			require.NoError(t, s.Set(card("c3", "docs/Engineering/Onboarding Extra/other.md")))
			require.NoError(t, s.Set(card("c4", "docs/Sales/Onboarding/pitch.md")))
			require.NoError(t, s.Set(&Record{SourceID: "f1", Kind: "folder", ExternalID: "ext-f1", ExternalPath: "docs/Engineering/Onboarding"}))

			changed, err := s.ReplacePathPrefix("docs/Engineering/Onboarding/", "docs/Engineering/Getting Started/")
			require.NoError(t, err)
			assert.Equal(t, 3, changed)

			all, err := s.All()
			require.NoError(t, err)
			paths := map[string]string{}
			for _, r := range all {
				paths[r.SourceID] = r.ExternalPath
			}
			assert.Equal(t, map[string]string{
				"c1": "docs/Engineering/Getting Started/setup-guide.md",
				"c2": "docs/Engineering/Getting Started/Deep/faq.md",
				"c3": "docs/Engineering/Onboarding Extra/other.md",
				"c4": "docs/Sales/Onboarding/pitch.md",
				"f1": "docs/Engineering/Getting Started",
			}, paths)

			changed, err = s.ReplacePathPrefix("", "x/")
			require.NoError(t, err)
			assert.Zero(t, changed)
		})
	}
}

func TestStore_AllSorted(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			s := open(t)
			for _, id := range []string{"b", "c", "a"} {
				require.NoError(t, s.Set(card(id, "docs/"+id+".md")))
			}
			all, err := s.All()
			require.NoError(t, err)
			require.Len(t, all, 3)
			assert.Equal(t, []string{"a", "b", "c"}, []string{all[0].SourceID, all[1].SourceID, all[2].SourceID})
		})
	}
}

func TestFileStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(card("c1", "docs/a.md")))
	require.NoError(t, s.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"c1"`)
	assert.Contains(t, string(data), `"external_path": "docs/a.md"`)

	reopened, err := OpenFileStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ext-c1", got.ExternalID)
}

func TestFileStore_Locked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")

	first, err := OpenFileStore(path)
	require.NoError(t, err)
	defer first.Close()

	_, err = OpenFileStore(path)
	assert.ErrorIs(t, err, ErrLocked)
}

func TestFileStore_LoadsLegacyLayout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.json")
	legacy := `{
  "card-1": {
    "external_id": "9b1f",
    "external_name": "setup-guide.md",
    "external_path": "docs/Engineering/setup-guide.md",
    "external_sha": "abc",
    "external_url": "https://github.com/acme/handbook/blob/main/docs/Engineering/setup-guide.md"
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	s, err := OpenFileStore(path)
	require.NoError(t, err)
	defer s.Close()

	rec, err := s.FindByExternalID("9b1f")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "card-1", rec.SourceID)
	assert.Equal(t, "setup-guide.md", rec.ExternalName)
}

func TestSqliteStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metadata.db")

	s, err := OpenSqliteStore(path)
	require.NoError(t, err)
	require.NoError(t, s.Set(card("c1", "docs/a.md")))
	require.NoError(t, s.Close())

	reopened, err := OpenSqliteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Get("c1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "docs/a.md", got.ExternalPath)
}

func TestOpen_SelectsBackend(t *testing.T) {
	tmp := t.TempDir()

	s, err := Open(filepath.Join(tmp, "metadata.json"))
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)
	require.NoError(t, s.Close())

	s, err = Open(filepath.Join(tmp, "metadata.db"))
	require.NoError(t, err)
	assert.IsType(t, &SqliteStore{}, s)
	require.NoError(t, s.Close())
}

func TestSnapshot_IsIndependent(t *testing.T) {
	base := NewMemoryStore(card("c1", "docs/a.md"))

	snap, err := Snapshot(base)
	require.NoError(t, err)
	require.NoError(t, snap.Delete("c1"))

	got, _ := base.Get("c1")
	assert.NotNil(t, got)
}
