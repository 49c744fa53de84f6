// Package fileid derives document IDs for uploads and watched files.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"time"
)

const (
	prefix = "file:"
	idLen  = 16
)

// FileDocID returns a stable document ID for the given absolute path, so
// re-indexing the same file replaces its previous chunks.
func FileDocID(absolutePath string) string {
	return prefix + shortHash(filepath.Clean(absolutePath))
}

// IsFileDocID reports whether id was produced by FileDocID.
func IsFileDocID(id string) bool {
	return len(id) == len(prefix)+idLen && id[:len(prefix)] == prefix
}

// UploadDocID returns the ID of an upload: the first 16 hex characters of
// SHA-256(filename + upload time), so re-uploading a file creates a new document.
func UploadDocID(filename string, uploadedAt time.Time) string {
	return shortHash(filename + uploadedAt.UTC().Format(time.RFC3339Nano))
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:idLen]
}
