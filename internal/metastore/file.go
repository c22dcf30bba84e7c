package metastore

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gofrs/flock"
	"github.com/openmined/cardsync/internal/utils"
)

// FileStore persists records as one JSON object keyed by source id. Every
// mutation rewrites the whole file atomically; a sibling lock file keeps a
// second process from writing concurrently.
type FileStore struct {
	path  string
	flock *flock.Flock
	mu    sync.Mutex
	mem   *MemoryStore
}

func OpenFileStore(path string) (*FileStore, error) {
	if err := utils.EnsureParent(path); err != nil {
		return nil, fmt.Errorf("ensure metadata directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock metadata file: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	records, err := loadFile(path)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	slog.Debug("metastore", "backend", "file", "path", path, "records", len(records))
	return &FileStore{
		path:  path,
		flock: lock,
		mem:   NewMemoryStore(records...),
	}, nil
}

func loadFile(path string) ([]*Record, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read metadata file: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var byID map[string]*Record
	if err := json.Unmarshal(data, &byID); err != nil {
		return nil, fmt.Errorf("parse metadata file %s: %w", path, err)
	}

	records := make([]*Record, 0, len(byID))
	for id, r := range byID {
		if r == nil {
			continue
		}
		r.SourceID = id
		records = append(records, r)
	}
	return records, nil
}

func (f *FileStore) save() error {
	records, _ := f.mem.All()
	byID := make(map[string]*Record, len(records))
	for _, r := range records {
		byID[r.SourceID] = r
	}

	data, err := json.MarshalIndent(byID, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := utils.WriteFileAtomic(f.path, data, 0o644); err != nil {
		return fmt.Errorf("write metadata file: %w", err)
	}
	return nil
}

func (f *FileStore) Get(sourceID string) (*Record, error) {
	return f.mem.Get(sourceID)
}

func (f *FileStore) FindByExternalID(externalID string) (*Record, error) {
	return f.mem.FindByExternalID(externalID)
}

func (f *FileStore) All() ([]*Record, error) {
	return f.mem.All()
}

func (f *FileStore) Set(rec *Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, _ := f.mem.Get(rec.SourceID)
	if err := f.mem.Set(rec); err != nil {
		return err
	}
	if err := f.save(); err != nil {
		f.restore(rec.SourceID, prev)
		return err
	}
	return nil
}

func (f *FileStore) Delete(sourceID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, _ := f.mem.Get(sourceID)
	if prev == nil {
		return nil
	}
	f.mem.Delete(sourceID)
	if err := f.save(); err != nil {
		f.restore(sourceID, prev)
		return err
	}
	return nil
}

func (f *FileStore) ReplacePathPrefix(oldPrefix, newPrefix string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	before, _ := f.mem.All()
	changed, _ := f.mem.ReplacePathPrefix(oldPrefix, newPrefix)
	if changed == 0 {
		return 0, nil
	}
	if err := f.save(); err != nil {
		f.mem = NewMemoryStore(before...)
		return 0, err
	}
	return changed, nil
}

// restore puts the in-memory view back in line with the file after a failed save.
func (f *FileStore) restore(sourceID string, prev *Record) {
	if prev == nil {
		f.mem.Delete(sourceID)
		return
	}
	f.mem.Set(prev)
}

func (f *FileStore) Close() error {
	if !f.flock.Locked() {
		return nil
	}
	if err := f.flock.Unlock(); err != nil {
		return fmt.Errorf("unlock metadata file: %w", err)
	}
	return os.Remove(f.flock.Path())
}

var _ Store = (*FileStore)(nil)
