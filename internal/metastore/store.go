// Package metastore persists the mapping from source entity ids to the
// remote object each entity was last materialized as.
//
// A record exists for an entity iff it has been written to (or adopted from)
// the remote store at least once. Callers mutate a record only after the
// corresponding remote call succeeded.
package metastore

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
)

var (
	ErrInvalidRecord = errors.New("metastore: record needs a source id and an external id")
	ErrLocked        = errors.New("metastore: metadata file locked by another process")
)

// Record is the last observed remote state of one source entity.
type Record struct {
	SourceID     string `json:"-" db:"source_id"`
	Kind         string `json:"kind,omitempty" db:"kind"`
	CollectionID string `json:"collection_id,omitempty" db:"collection_id"`
	ExternalID   string `json:"external_id" db:"external_id"`
	ExternalName string `json:"external_name" db:"external_name"`
	ExternalPath string `json:"external_path" db:"external_path"`
	ExternalSHA  string `json:"external_sha" db:"external_sha"`
	ExternalURL  string `json:"external_url" db:"external_url"`
}

func (r *Record) validate() error {
	if r == nil || r.SourceID == "" || r.ExternalID == "" {
		return ErrInvalidRecord
	}
	return nil
}

func (r *Record) clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	return &c
}

// Store is the capability the reconciliation engine needs from persistence.
// Get and FindByExternalID return (nil, nil) for untracked entities.
type Store interface {
	Get(sourceID string) (*Record, error)
	FindByExternalID(externalID string) (*Record, error)
	Set(rec *Record) error
	Delete(sourceID string) error
	// All returns every record ordered by source id.
	All() ([]*Record, error)
	// ReplacePathPrefix rewrites external_path of every record at oldPrefix or
	// below it (on a path segment boundary) and returns how many changed.
	ReplacePathPrefix(oldPrefix, newPrefix string) (int, error)
	Close() error
}

// Open picks the implementation from the file extension: `.json` selects the
// JSON file store, anything else the SQLite store.
func Open(path string) (Store, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return OpenFileStore(path)
	default:
		return OpenSqliteStore(path)
	}
}

// Snapshot copies every record of s into a new MemoryStore.
func Snapshot(s Store) (*MemoryStore, error) {
	records, err := s.All()
	if err != nil {
		return nil, fmt.Errorf("snapshot metadata: %w", err)
	}
	return NewMemoryStore(records...), nil
}

func trimPrefixes(oldPrefix, newPrefix string) (string, string) {
	return strings.TrimRight(oldPrefix, "/"), strings.TrimRight(newPrefix, "/")
}

// replacePrefix expects prefixes without a trailing slash.
func replacePrefix(path, oldPrefix, newPrefix string) (string, bool) {
	if oldPrefix == "" {
		return path, false
	}
	if path != oldPrefix && !strings.HasPrefix(path, oldPrefix+"/") {
		return path, false
	}
	return newPrefix + strings.TrimPrefix(path, oldPrefix), true
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].SourceID < records[j].SourceID
	})
}
