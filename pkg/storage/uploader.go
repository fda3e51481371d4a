package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxPresignExpiry is the longest lifetime S3 accepts for a presigned URL.
const MaxPresignExpiry = 7 * 24 * time.Hour

// Attachment describes an uploaded file ready to be referenced by a chat message.
type Attachment struct {
	URL  string
	Type string
	Key  string
}

// Uploader stores chat attachments and hands back a shareable URL.
type Uploader struct {
	store  ObjectStore
	expiry time.Duration
	now    func() time.Time
}

func NewUploader(store ObjectStore, expiry time.Duration) *Uploader {
	if expiry <= 0 || expiry > MaxPresignExpiry {
		expiry = MaxPresignExpiry
	}
	return &Uploader{store: store, expiry: expiry, now: time.Now}
}

// Upload writes r under attachments/<yyyy>/<mm>/<id>-<name> and presigns a GET URL.
// The object is removed again when presigning fails.
func (u *Uploader) Upload(ctx context.Context, name string, r io.Reader, size int64, contentType string) (Attachment, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := u.objectKey(name)
	if err := u.store.Put(ctx, key, r, size, contentType); err != nil {
		return Attachment{}, err
	}
	url, err := u.store.PresignGet(ctx, key, u.expiry)
	if err != nil {
		if delErr := u.store.Delete(ctx, key); delErr != nil {
			slog.Warn("attachment cleanup failed", "key", key, "err", delErr)
		}
		return Attachment{}, err
	}
	return Attachment{URL: url, Type: AttachmentType(contentType), Key: key}, nil
}

func (u *Uploader) objectKey(name string) string {
	now := u.now().UTC()
	return fmt.Sprintf("attachments/%04d/%02d/%s-%s", now.Year(), int(now.Month()), uuid.NewString(), safeFilename(name))
}

// AttachmentType maps a MIME type onto the coarse kind stored with a message.
func AttachmentType(contentType string) string {
	major, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(contentType)), "/")
	switch major {
	case "image", "video", "audio":
		return major
	default:
		return "file"
	}
}

func safeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, name)
	name = strings.Trim(name, ".")
	if name == "" {
		return "file"
	}
	return name
}
