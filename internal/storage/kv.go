// Package storage provides the flat key-value backends that hold
// annotations and other small client state.
package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by operations on a closed store
var ErrClosed = errors.New("storage: store is closed")

// KV is a flat string-keyed store of opaque values
type KV interface {
	// Get returns the value of key. A missing key is not an error.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Backend names accepted by Open
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Open creates the backend named kind at path
func Open(ctx context.Context, kind, path string) (KV, error) {
	switch kind {
	case BackendFile, "":
		return NewFileKV(path)
	case BackendSQLite:
		return NewSQLiteKV(ctx, path)
	}
	return nil, errors.New("storage: unknown backend " + kind)
}
