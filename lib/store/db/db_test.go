package db

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarancss/rpcbalancer/lib/store/postgres"
)

func TestUnknown(t *testing.T) {
	_, err := New("sqlite", "file::memory:")
	assert.ErrorIs(t, err, ErrUnknownDB)
	assert.ErrorIs(t, Close("sqlite", nil), ErrUnknownDB)
}

func TestClosePostgres(t *testing.T) {
	sdb, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectClose()

	require.NoError(t, Close(POSTGRES, postgres.NewWithDB(sdb)))
	assert.NoError(t, mock.ExpectationsWereMet())
}
