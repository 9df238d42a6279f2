package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockSQLStore(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS client_state").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store, err := NewSQLStore(context.Background(), db)
	require.NoError(t, err)
	return store, mock
}

func TestSQLStore_Get(t *testing.T) {
	store, mock := newMockSQLStore(t)

	mock.ExpectQuery("SELECT value FROM client_state WHERE key").
		WithArgs("user_data").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"id":"u1"}`)))

	got, err := store.Get(context.Background(), "user_data")
	require.NoError(t, err)
	assert.Equal(t, `{"id":"u1"}`, string(got))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_GetMissing(t *testing.T) {
	store, mock := newMockSQLStore(t)

	mock.ExpectQuery("SELECT value FROM client_state WHERE key").
		WithArgs("user_data").
		WillReturnRows(sqlmock.NewRows([]string{"value"}))

	_, err := store.Get(context.Background(), "user_data")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSQLStore_SetUpserts(t *testing.T) {
	store, mock := newMockSQLStore(t)

	mock.ExpectExec("INSERT INTO client_state").
		WithArgs("user_data", []byte("v"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Set(context.Background(), "user_data", []byte("v")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStore_DeleteError(t *testing.T) {
	store, mock := newMockSQLStore(t)

	mock.ExpectExec("DELETE FROM client_state").
		WithArgs("user_data").
		WillReturnError(errors.New("database is locked"))

	err := store.Delete(context.Background(), "user_data")
	assert.ErrorContains(t, err, "database is locked")
}

func TestSQLStore_SchemaFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("readonly"))

	_, err = NewSQLStore(context.Background(), db)
	assert.Error(t, err)
}

func TestOpenSQLite(t *testing.T) {
	store, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	defer store.Close()

	exerciseKV(t, store)
}
