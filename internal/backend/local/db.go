// Package local is a fully in-process backend over SQLite: record store,
// change feed, broadcast hub, filesystem blobs, and a static session. It
// backs development runs and the test suite.
package local

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the SQLite connection and the change feed fed by its writes.
type DB struct {
	*sql.DB
	feed *feed
}

// OpenDB opens the database with WAL mode and the usual pragmas.
func OpenDB(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{DB: db, feed: newFeed()}, nil
}
