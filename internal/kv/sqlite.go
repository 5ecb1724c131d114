package kv

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/dmitrijs2005/formbot/internal/filex"
)

// OpenSQLite opens (creating if needed) an embedded sqlite database and
// applies migrations.
func OpenSQLite(ctx context.Context, dsn string) (*SQLStore, error) {
	if !strings.HasPrefix(dsn, ":memory:") && !strings.HasPrefix(dsn, "file:") {
		if _, err := filex.EnsureDir(filepath.Dir(dsn)); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one connection: writes are serialized and :memory: stays one database
	db.SetMaxOpenConns(1)

	s := &SQLStore{db: db, d: sqliteDialect}
	if err := s.RunMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}
