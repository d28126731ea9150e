package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrDisabled = errors.New("storage disabled")
)

// Store is the minimal KV API used by the sign-in state.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Config selects and configures a driver.
//
// Driver values:
//   - "memory": process-local map, lost on restart
//   - "file": JSON snapshot + append-only journal (default)
//   - "sqlite": SQLite database file (modernc, no cgo)
//   - "redis": Redis server, keys prefixed with KeyPrefix
//   - "postgres": PostgreSQL table "kv"
type Config struct {
	Driver      string
	Path        string        // file, sqlite
	BusyTimeout time.Duration // sqlite only; 0 means default
	URL         string        // redis, postgres connection URL
	KeyPrefix   string        // redis only
}
