// Package storage provides the key-value stores that hold the persisted user
// recipe list and favorites. Values are opaque JSON documents.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Get when a key has never been written.
var ErrNotFound = errors.New("key not found")

// KV is a minimal persistent key-value store.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Watcher is implemented by stores that can report writes made by other
// processes or other store handles. Watch blocks until ctx is done and calls
// onChange with the affected key. Delivery is best-effort.
type Watcher interface {
	Watch(ctx context.Context, onChange func(key string)) error
}

// Open returns the store for the named driver: "memory", "file", "sqlite" or
// "postgres". dsn is a directory for "file", a database path for "sqlite" and
// a connection string for "postgres".
func Open(driver, dsn string) (KV, error) {
	switch driver {
	case "", "memory":
		return NewMemoryKV(), nil
	case "file":
		return NewFileKV(dsn)
	case "sqlite":
		return NewSQLiteKV(dsn)
	case "postgres":
		return NewPostgresKV(dsn)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}
