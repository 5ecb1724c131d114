package kv

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresTable_Get(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(`SELECT record_value FROM kv_records WHERE tbl = \$1 AND record_key = \$2`).
		WithArgs("users", "alice").
		WillReturnRows(sqlmock.NewRows([]string{"record_value"}).AddRow([]byte(`{"verified":true}`)))

	v, err := s.Table("users").Get(ctx, "alice")
	require.NoError(t, err)
	assert.JSONEq(t, `{"verified":true}`, string(v))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTable_GetAbsent(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT record_value FROM kv_records`).
		WithArgs("users", "ghost").
		WillReturnRows(sqlmock.NewRows([]string{"record_value"}))

	v, err := s.Table("users").Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestPostgresTable_GetError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT record_value FROM kv_records`).WillReturnError(errors.New("conn reset"))

	_, err := s.Table("users").Get(context.Background(), "alice")
	require.ErrorContains(t, err, "failed to get users[alice]")
}

func TestPostgresTable_SetDeleteClear(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	tbl := s.Table("codes")

	mock.ExpectExec(`INSERT INTO kv_records .* ON CONFLICT \(tbl, record_key\) DO UPDATE`).
		WithArgs("codes", "42", []byte(`{}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM kv_records WHERE tbl = \$1 AND record_key = \$2`).
		WithArgs("codes", "42").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM kv_records WHERE tbl = \$1$`).
		WithArgs("codes").
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, tbl.Set(ctx, "42", []byte(`{}`)))
	require.NoError(t, tbl.Delete(ctx, "42"))
	require.NoError(t, tbl.Clear(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTable_List(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(`SELECT record_key, record_value FROM kv_records WHERE tbl = \$1`).
		WithArgs("sessions").
		WillReturnRows(sqlmock.NewRows([]string{"record_key", "record_value"}).
			AddRow("1", []byte(`{"username":"alice"}`)).
			AddRow("2", []byte(`{"username":"bob"}`)))

	m, err := s.Table("sessions").List(context.Background())
	require.NoError(t, err)
	assert.Len(t, m, 2)
	assert.JSONEq(t, `{"username":"bob"}`, string(m["2"]))
}

func TestPostgresTable_ApplyCommits(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM kv_records`).WithArgs("sessions", "1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO kv_records`).WithArgs("sessions", "2", []byte(`{"username":"alice"}`)).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.Table("sessions").Apply(context.Background(), Del("1"), Put("2", []byte(`{"username":"alice"}`)))
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresTable_ApplyRollsBack(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec(`DELETE FROM kv_records`).WithArgs("sessions", "1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO kv_records`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.Table("sessions").Apply(context.Background(), Del("1"), Put("2", []byte(`{}`)))
	require.ErrorContains(t, err, "failed to set sessions[2]")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunMigrations_Postgres(t *testing.T) {
	s, _ := newMock(t)

	origDialect, origUp := gooseSetDialect, gooseUpContext
	defer func() { gooseSetDialect, gooseUpContext = origDialect, origUp }()

	var gotDialect, gotDir string
	gooseSetDialect = func(d string) error { gotDialect = d; return nil }
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, s.RunMigrations(context.Background()))
	assert.Equal(t, "pgx", gotDialect)
	assert.Equal(t, "postgres", gotDir)
}

func TestRunMigrations_Errors(t *testing.T) {
	s, _ := newMock(t)

	origDialect, origUp := gooseSetDialect, gooseUpContext
	defer func() { gooseSetDialect, gooseUpContext = origDialect, origUp }()

	gooseSetDialect = func(string) error { return errors.New("bad dialect") }
	require.ErrorContains(t, s.RunMigrations(context.Background()), "goose dialect")

	gooseSetDialect = func(string) error { return nil }
	gooseUpContext = func(context.Context, *sql.DB, string, ...goose.OptionsFunc) error { return errors.New("boom") }
	require.ErrorContains(t, s.RunMigrations(context.Background()), "migrate: boom")
}
