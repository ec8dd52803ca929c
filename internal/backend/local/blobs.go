package local

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// BlobDir stores attachment payloads on the local filesystem and hands
// back file-scheme URLs.
type BlobDir struct {
	root string
}

// NewBlobDir creates a blob store rooted at dir.
func NewBlobDir(root string) *BlobDir {
	return &BlobDir{root: root}
}

// Put implements backend.BlobStore.
func (b *BlobDir) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	path := filepath.Join(b.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write blob: %w", err)
	}
	return "file://" + path, nil
}
