package metastore

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/openmined/cardsync/internal/db"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
    source_id     TEXT PRIMARY KEY,
    kind          TEXT NOT NULL DEFAULT '',
    collection_id TEXT NOT NULL DEFAULT '',
    external_id   TEXT NOT NULL,
    external_name TEXT NOT NULL DEFAULT '',
    external_path TEXT NOT NULL DEFAULT '',
    external_sha  TEXT NOT NULL DEFAULT '',
    external_url  TEXT NOT NULL DEFAULT ''
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_external_id ON records(external_id);
CREATE INDEX IF NOT EXISTS idx_records_external_path ON records(external_path);
`

const recordColumns = "source_id, kind, collection_id, external_id, external_name, external_path, external_sha, external_url"

// SqliteStore keeps records in a single SQLite file. Multi-row updates run
// in one transaction.
type SqliteStore struct {
	db *sqlx.DB
}

func OpenSqliteStore(path string) (*SqliteStore, error) {
	conn, err := db.NewSqliteDB(db.WithPath(path))
	if err != nil {
		return nil, fmt.Errorf("open metadata db: %w", err)
	}
	return newSqliteStore(conn)
}

func newSqliteStore(conn *sqlx.DB) (*SqliteStore, error) {
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize metadata schema: %w", err)
	}
	return &SqliteStore{db: conn}, nil
}

func (s *SqliteStore) get(query string, arg string) (*Record, error) {
	var rec Record
	if err := s.db.Get(&rec, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (s *SqliteStore) Get(sourceID string) (*Record, error) {
	rec, err := s.get("SELECT "+recordColumns+" FROM records WHERE source_id = ?", sourceID)
	if err != nil {
		return nil, fmt.Errorf("get record %s: %w", sourceID, err)
	}
	return rec, nil
}

func (s *SqliteStore) FindByExternalID(externalID string) (*Record, error) {
	rec, err := s.get("SELECT "+recordColumns+" FROM records WHERE external_id = ?", externalID)
	if err != nil {
		return nil, fmt.Errorf("find record by external id %s: %w", externalID, err)
	}
	return rec, nil
}

func (s *SqliteStore) Set(rec *Record) error {
	if err := rec.validate(); err != nil {
		return err
	}
	_, err := s.db.NamedExec(`INSERT OR REPLACE INTO records (`+recordColumns+`)
		VALUES (:source_id, :kind, :collection_id, :external_id, :external_name, :external_path, :external_sha, :external_url)`, rec)
	if err != nil {
		return fmt.Errorf("set record %s: %w", rec.SourceID, err)
	}
	return nil
}

func (s *SqliteStore) Delete(sourceID string) error {
	if _, err := s.db.Exec("DELETE FROM records WHERE source_id = ?", sourceID); err != nil {
		return fmt.Errorf("delete record %s: %w", sourceID, err)
	}
	return nil
}

func (s *SqliteStore) All() ([]*Record, error) {
	var records []*Record
	if err := s.db.Select(&records, "SELECT "+recordColumns+" FROM records ORDER BY source_id"); err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	return records, nil
}

func (s *SqliteStore) ReplacePathPrefix(oldPrefix, newPrefix string) (changed int, err error) {
	oldPrefix, newPrefix = trimPrefixes(oldPrefix, newPrefix)
	if oldPrefix == "" {
		return 0, nil
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return 0, fmt.Errorf("begin prefix rewrite: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var rows []struct {
		SourceID     string `db:"source_id"`
		ExternalPath string `db:"external_path"`
	}
	if err = tx.Select(&rows, "SELECT source_id, external_path FROM records WHERE external_path = ? OR instr(external_path, ?) = 1",
		oldPrefix, oldPrefix+"/"); err != nil {
		return 0, fmt.Errorf("select records under %s: %w", oldPrefix, err)
	}

	for _, row := range rows {
		newPath, ok := replacePrefix(row.ExternalPath, oldPrefix, newPrefix)
		if !ok {
			continue
		}
		if _, err = tx.Exec("UPDATE records SET external_path = ? WHERE source_id = ?", newPath, row.SourceID); err != nil {
			return 0, fmt.Errorf("rewrite path of %s: %w", row.SourceID, err)
		}
		changed++
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prefix rewrite: %w", err)
	}
	return changed, nil
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}

var _ Store = (*SqliteStore)(nil)
