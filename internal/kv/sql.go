package kv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/pressly/goose/v3"

	"github.com/dmitrijs2005/formbot/internal/dbx"
	"github.com/dmitrijs2005/formbot/internal/kv/migrations"
)

// goose keeps global state; these are seams for tests.
var (
	gooseSetDialect = goose.SetDialect
	gooseUpContext  = goose.UpContext
)

// dialect carries the engine-specific SQL. All tables share kv_records,
// partitioned by the tbl column.
type dialect struct {
	goose  string
	dir    string
	get    string
	upsert string
	del    string
	list   string
	clear  string
}

var sqliteDialect = dialect{
	goose: "sqlite3",
	dir:   "sqlite",
	get:   `SELECT record_value FROM kv_records WHERE tbl = ? AND record_key = ?`,
	upsert: `
		INSERT INTO kv_records (tbl, record_key, record_value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(tbl, record_key) DO UPDATE SET record_value = excluded.record_value, updated_at = excluded.updated_at
	`,
	del:   `DELETE FROM kv_records WHERE tbl = ? AND record_key = ?`,
	list:  `SELECT record_key, record_value FROM kv_records WHERE tbl = ?`,
	clear: `DELETE FROM kv_records WHERE tbl = ?`,
}

var postgresDialect = dialect{
	goose: "pgx",
	dir:   "postgres",
	get:   `SELECT record_value FROM kv_records WHERE tbl = $1 AND record_key = $2`,
	upsert: `
		INSERT INTO kv_records (tbl, record_key, record_value, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (tbl, record_key) DO UPDATE SET record_value = EXCLUDED.record_value, updated_at = EXCLUDED.updated_at
	`,
	del:   `DELETE FROM kv_records WHERE tbl = $1 AND record_key = $2`,
	list:  `SELECT record_key, record_value FROM kv_records WHERE tbl = $1`,
	clear: `DELETE FROM kv_records WHERE tbl = $1`,
}

// SQLStore is the database/sql engine shared by sqlite and postgres.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func (s *SQLStore) Table(name string) Table {
	return &SQLTable{db: s.db, name: name, d: s.d}
}

func (s *SQLStore) Close() error { return s.db.Close() }

// RunMigrations applies the embedded goose migrations for the store dialect.
func (s *SQLStore) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.FS)
	if err := gooseSetDialect(s.d.goose); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := gooseUpContext(ctx, s.db, s.d.dir); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

type SQLTable struct {
	db   *sql.DB
	name string
	d    dialect
}

func (t *SQLTable) Get(ctx context.Context, key string) ([]byte, error) {
	return t.get(ctx, t.db, key)
}

func (t *SQLTable) get(ctx context.Context, q dbx.DBTX, key string) ([]byte, error) {
	var value []byte
	err := q.QueryRowContext(ctx, t.d.get, t.name, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s[%s]: %w", t.name, key, err)
	}
	return value, nil
}

func (t *SQLTable) Set(ctx context.Context, key string, value []byte) error {
	return t.set(ctx, t.db, key, value)
}

func (t *SQLTable) set(ctx context.Context, q dbx.DBTX, key string, value []byte) error {
	if _, err := q.ExecContext(ctx, t.d.upsert, t.name, key, value); err != nil {
		return fmt.Errorf("failed to set %s[%s]: %w", t.name, key, err)
	}
	return nil
}

func (t *SQLTable) Delete(ctx context.Context, key string) error {
	return t.delete(ctx, t.db, key)
}

func (t *SQLTable) delete(ctx context.Context, q dbx.DBTX, key string) error {
	if _, err := q.ExecContext(ctx, t.d.del, t.name, key); err != nil {
		return fmt.Errorf("failed to delete %s[%s]: %w", t.name, key, err)
	}
	return nil
}

func (t *SQLTable) List(ctx context.Context) (map[string][]byte, error) {
	rows, err := t.db.QueryContext(ctx, t.d.list, t.name)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", t.name, err)
	}
	defer rows.Close()

	result := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t.name, err)
		}
		result[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s rows: %w", t.name, err)
	}
	return result, nil
}

func (t *SQLTable) Clear(ctx context.Context) error {
	if _, err := t.db.ExecContext(ctx, t.d.clear, t.name); err != nil {
		return fmt.Errorf("failed to clear %s: %w", t.name, err)
	}
	return nil
}

func (t *SQLTable) Apply(ctx context.Context, ops ...Op) error {
	return dbx.WithTx(ctx, t.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		for _, op := range ops {
			var err error
			if op.Delete {
				err = t.delete(ctx, tx, op.Key)
			} else {
				err = t.set(ctx, tx, op.Key, op.Value)
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
}
