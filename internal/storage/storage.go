// Package storage publishes rendered canvases. Every implementation makes
// an output visible only once it has been written completely.
package storage

import (
	"context"
	"errors"
	"path"
	"strings"
)

// ErrInvalidKey is returned for destination keys that escape the namespace.
var ErrInvalidKey = errors.New("invalid storage key")

// Storage writes finished outputs into a hierarchical namespace.
type Storage interface {
	// WriteOutput publishes data under key and returns the final location.
	WriteOutput(ctx context.Context, data []byte, key, contentType string) (string, error)
	// Exists reports whether key has been published.
	Exists(ctx context.Context, key string) (bool, error)
	Delete(ctx context.Context, key string) error
	// URL returns the address clients fetch key from.
	URL(key string) string
}

// CleanKey normalizes key to a relative slash separated path.
func CleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", ErrInvalidKey
	}
	return k, nil
}
