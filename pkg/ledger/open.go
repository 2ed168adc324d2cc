package ledger

import (
	"database/sql"
	"fmt"

	// SQL drivers registered for the two supported backing stores.
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// OpenSQLite opens (or creates) a SQLite-backed store at path.
// Use ":memory:" for an ephemeral database.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite store at %s: %w", path, err)
	}
	return NewSQLStore(db, DialectSQLite), nil
}

// OpenPostgres connects to a Postgres-backed store.
func OpenPostgres(dsn string) (*SQLStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres store: %w", err)
	}
	return NewSQLStore(db, DialectPostgres), nil
}
