package local

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pigeon-im/pigeon/internal/backend"
)

// New assembles the full local backend rooted at dir, running pending
// migrations. The returned DB must be closed by the caller.
func New(dir, selfID string) (*backend.Backend, *DB, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create data dir: %w", err)
	}
	db, err := OpenDB(filepath.Join(dir, "pigeon.db"))
	if err != nil {
		return nil, nil, err
	}
	if _, err := db.Migrate(); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	be := &backend.Backend{
		Messages:  db,
		Profiles:  db,
		Blobs:     NewBlobDir(filepath.Join(dir, "blobs")),
		Stream:    db,
		Broadcast: NewHub(),
		Session:   NewStaticSession(db, selfID),
	}
	return be, db, nil
}
