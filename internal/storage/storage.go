// Package storage provides the key/value persistence backends the module
// registry writes its JSON documents to.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrInvalidKey is returned for keys that are empty or escape the backend root.
var ErrInvalidKey = errors.New("invalid storage key")

// Backend stores string documents under slash-separated keys.
type Backend interface {
	// Read returns the document stored under key.
	// ok is false when nothing is stored there; that is not an error.
	Read(ctx context.Context, key string) (data string, ok bool, err error)

	// Write stores data under key. The parent directory must exist.
	Write(ctx context.Context, key string, data string) error

	// CreateDir creates a directory (and its parents).
	CreateDir(ctx context.Context, dir string) error

	// Exists reports whether a document or directory exists at p.
	Exists(ctx context.Context, p string) (bool, error)
}

// CleanKey normalizes a key and rejects keys that would leave the root.
func CleanKey(key string) (string, error) {
	key = strings.ReplaceAll(strings.TrimSpace(key), "\\", "/")
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned == "." {
		return "", ErrInvalidKey
	}
	for _, part := range strings.Split(key, "/") {
		if part == ".." {
			return "", ErrInvalidKey
		}
	}
	return cleaned, nil
}
