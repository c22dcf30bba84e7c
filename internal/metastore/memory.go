package metastore

import "sync"

// MemoryStore keeps records in process memory only. It backs dry runs and
// tests, and is the in-memory half of FileStore.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewMemoryStore(records ...*Record) *MemoryStore {
	m := &MemoryStore{records: make(map[string]*Record, len(records))}
	for _, r := range records {
		if r.validate() == nil {
			m.records[r.SourceID] = r.clone()
		}
	}
	return m
}

func (m *MemoryStore) Get(sourceID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records[sourceID].clone(), nil
}

func (m *MemoryStore) FindByExternalID(externalID string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.ExternalID == externalID {
			return r.clone(), nil
		}
	}
	return nil, nil
}

func (m *MemoryStore) Set(rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.SourceID] = rec.clone()
	return nil
}

func (m *MemoryStore) Delete(sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, sourceID)
	return nil
}

func (m *MemoryStore) All() ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := make([]*Record, 0, len(m.records))
	for _, r := range m.records {
		records = append(records, r.clone())
	}
	sortRecords(records)
	return records, nil
}

func (m *MemoryStore) ReplacePathPrefix(oldPrefix, newPrefix string) (int, error) {
	oldPrefix, newPrefix = trimPrefixes(oldPrefix, newPrefix)
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for _, r := range m.records {
		if p, ok := replacePrefix(r.ExternalPath, oldPrefix, newPrefix); ok {
			r.ExternalPath = p
			changed++
		}
	}
	return changed, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

var _ Store = (*MemoryStore)(nil)
