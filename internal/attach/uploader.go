// Package attach uploads message attachments to blob storage and hands
// back stable references.
package attach

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pigeon-im/pigeon/internal/backend"
	"github.com/pigeon-im/pigeon/internal/chat"
	"go.uber.org/zap"
)

// File is a binary payload selected for upload.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Uploader writes attachment payloads under keys scoped to the uploading
// user. Upload failure is an expected outcome, not an exceptional one:
// the caller decides whether to degrade or abandon the send.
type Uploader struct {
	blobs  backend.BlobStore
	userID string
	logger *zap.Logger
	now    func() time.Time
}

// NewUploader creates an uploader for the given user identity.
func NewUploader(blobs backend.BlobStore, userID string, logger *zap.Logger) *Uploader {
	return &Uploader{blobs: blobs, userID: userID, logger: logger, now: time.Now}
}

// Upload stores the payload and returns its reference.
func (u *Uploader) Upload(ctx context.Context, f File) (*chat.Attachment, error) {
	key := u.key(f.Name)
	url, err := u.blobs.Put(ctx, key, f.MediaType, f.Data)
	if err != nil {
		u.logger.Warn("attachment upload failed",
			zap.String("key", key),
			zap.Error(err))
		return nil, fmt.Errorf("upload %s: %w", f.Name, err)
	}
	return &chat.Attachment{URL: url, Name: f.Name, MediaType: f.MediaType}, nil
}

// key derives a collision-resistant storage key from the uploader's
// identity, a time-based suffix, and the original extension.
func (u *Uploader) key(name string) string {
	return fmt.Sprintf("%s/%d%s", u.userID, u.now().UnixNano(), filepath.Ext(name))
}
