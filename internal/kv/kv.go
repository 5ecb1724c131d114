// Package kv is the durable record layer: every persisted table (users,
// sessions, one-time codes) is a flat keyed set of JSON documents behind
// Table, and the engine holding them is chosen by configuration.
//
// Contract shared by all engines:
//   - Get returns (nil, nil) for an absent key.
//   - Delete of an absent key is not an error.
//   - An absent or empty table is the initial state, never an error.
//   - Apply runs a batch of puts and deletes as one step; readers see
//     either none or all of it.
package kv

import (
	"context"
	"fmt"
	"path/filepath"
)

// Table is a keyed set of values.
type Table interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
	Apply(ctx context.Context, ops ...Op) error
}

// Store hands out named tables of a single engine.
type Store interface {
	Table(name string) Table
	Close() error
}

// Op is one mutation inside an Apply batch.
type Op struct {
	Key    string
	Value  []byte
	Delete bool
}

// Put builds a set operation.
func Put(key string, value []byte) Op { return Op{Key: key, Value: value} }

// Del builds a delete operation.
func Del(key string) Op { return Op{Key: key, Delete: true} }

// Options selects and configures an engine.
type Options struct {
	// Driver is one of "file", "memory", "sqlite", "postgres", "redis".
	Driver string
	// DSN is the engine connection string. For "file" it is the directory
	// holding <table>.json files; for "sqlite" an empty DSN means
	// <DataDir>/db/formbot.db.
	DSN     string
	DataDir string
}

// Open creates the engine described by opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "file":
		dir := opts.DSN
		if dir == "" {
			dir = filepath.Join(opts.DataDir, "db")
		}
		return NewFileStore(dir)
	case "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		dsn := opts.DSN
		if dsn == "" {
			dsn = filepath.Join(opts.DataDir, "db", "formbot.db")
		}
		return OpenSQLite(ctx, dsn)
	case "postgres":
		return OpenPostgres(ctx, opts.DSN)
	case "redis":
		return OpenRedis(ctx, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown kv driver %q", opts.Driver)
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
