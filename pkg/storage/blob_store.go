package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

// ErrBlobNotFound indicates the handle does not reference a stored blob.
var ErrBlobNotFound = errors.New("blob not found")

// BlobStore stores opaque binary objects addressed by handle.
// Delete of a missing handle is not an error.
type BlobStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	Delete(ctx context.Context, key string) error
}

// NewKey builds a unique handle under prefix that keeps a sanitized form of
// the original filename as its last segment.
func NewKey(prefix, filename string) string {
	name := SanitizeFilename(path.Base(strings.ReplaceAll(filename, `\`, "/")))
	if name == "" || name == "." {
		name = "file"
	}
	return path.Join(prefix, uuid.NewString(), name)
}

// SanitizeFilename keeps ASCII letters, digits, '.', '-' and '_' and
// collapses everything else into single underscores.
func SanitizeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		if r <= 0x7f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
				b.WriteRune(r)
				lastUnderscore = false
				continue
			}
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}
	return strings.Trim(b.String(), "_")
}
