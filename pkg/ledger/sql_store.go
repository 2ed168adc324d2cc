package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/ADIITJ/Chronicle-Ops/pkg/canonical"
)

// Dialect selects placeholder syntax. Schema DDL is shared.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	run_id TEXT NOT NULL,
	sequence BIGINT NOT NULL,
	entry_type TEXT NOT NULL,
	entry TEXT NOT NULL,
	PRIMARY KEY (run_id, sequence)
);
`

// SQLStore persists entries through database/sql. Idempotency rides on the
// (run_id, sequence) primary key: conflicting inserts are dropped.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps an open database handle.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Init creates the schema if missing.
func (s *SQLStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, auditSchema)
	return err
}

// Close releases the underlying handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// InsertIfAbsent writes one entry; an existing (run_id, sequence) row wins.
func (s *SQLStore) InsertIfAbsent(ctx context.Context, runID string, sequence int, entry Entry) error {
	payload, err := canonical.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry %d for run %s: %w", sequence, runID, err)
	}

	query := fmt.Sprintf(`
		INSERT INTO audit_entries (run_id, sequence, entry_type, entry)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT (run_id, sequence) DO NOTHING
	`, s.ph(1), s.ph(2), s.ph(3), s.ph(4))

	_, err = s.db.ExecContext(ctx, query, runID, sequence, entry.EntryType, string(payload))
	if err != nil {
		return fmt.Errorf("inserting entry %d for run %s: %w", sequence, runID, err)
	}
	return nil
}

// LoadEntries reads a run's entries in sequence order.
func (s *SQLStore) LoadEntries(ctx context.Context, runID string) ([]Entry, error) {
	query := fmt.Sprintf(`
		SELECT entry FROM audit_entries WHERE run_id = %s ORDER BY sequence
	`, s.ph(1))

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying entries for run %s: %w", runID, err)
	}
	defer func() { _ = rows.Close() }()

	result := make([]Entry, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var entry Entry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			return nil, fmt.Errorf("decoding entry for run %s: %w", runID, err)
		}
		result = append(result, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *SQLStore) ph(i int) string {
	if s.dialect == DialectPostgres {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}
