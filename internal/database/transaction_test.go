package database

import (
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errInsertFailed = errors.New("insert failed")

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return sqlx.NewDb(db, "postgres"), mock
}

func TestWithTransaction_CommitsOnSuccess(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pipelines").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := WithTransaction(db, func(tx *sqlx.Tx) error {
		_, err := tx.Exec("INSERT INTO pipelines (id) VALUES ($1)", "p1")
		return err
	})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO pipelines").WillReturnError(errInsertFailed)
	mock.ExpectRollback()

	err := WithTransaction(db, func(tx *sqlx.Tx) error {
		_, err := tx.Exec("INSERT INTO pipelines (id) VALUES ($1)", "p1")
		return err
	})

	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
