package attach

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

// fakeBlobs records puts and returns a configurable error.
type fakeBlobs struct {
	keys  []string
	types []string
	err   error
}

func (f *fakeBlobs) Put(_ context.Context, key, mediaType string, _ []byte) (string, error) {
	f.keys = append(f.keys, key)
	f.types = append(f.types, mediaType)
	if f.err != nil {
		return "", f.err
	}
	return "https://blobs.example/" + key, nil
}

func TestUploadKeyShape(t *testing.T) {
	blobs := &fakeBlobs{}
	u := NewUploader(blobs, "user-1", zap.NewNop())
	u.now = func() time.Time { return time.Unix(0, 12345) }

	att, err := u.Upload(context.Background(), File{Name: "photo.png", MediaType: "image/png", Data: []byte{1}})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	if want := "user-1/12345.png"; blobs.keys[0] != want {
		t.Errorf("key = %q, want %q", blobs.keys[0], want)
	}
	if att.URL != "https://blobs.example/user-1/12345.png" {
		t.Errorf("url = %q", att.URL)
	}
	if att.Name != "photo.png" || att.MediaType != "image/png" {
		t.Errorf("attachment = %+v", att)
	}
}

func TestUploadNoExtension(t *testing.T) {
	blobs := &fakeBlobs{}
	u := NewUploader(blobs, "user-1", zap.NewNop())

	if _, err := u.Upload(context.Background(), File{Name: "notes", MediaType: "text/plain"}); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if strings.Contains(blobs.keys[0], ".") {
		t.Errorf("key = %q, want no extension", blobs.keys[0])
	}
}

func TestUploadFailure(t *testing.T) {
	blobs := &fakeBlobs{err: errors.New("bucket unavailable")}
	u := NewUploader(blobs, "user-1", zap.NewNop())

	att, err := u.Upload(context.Background(), File{Name: "photo.png"})
	if err == nil {
		t.Fatal("Upload() expected error")
	}
	if att != nil {
		t.Errorf("attachment = %+v, want nil on failure", att)
	}
}
