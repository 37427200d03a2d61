package db

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/impactledger/ethworker/txm"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	return &Storage{db: sqlx.NewDb(mockDB, "postgres")}, mock
}

func TestMarkResubmitted(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	oldHash := common.HexToHash("0x01")
	newHash := common.HexToHash("0x02")

	t.Run("replacement row already written by the dispatcher", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT EXISTS").WithArgs(newHash.Hex()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectExec("DELETE FROM eth_transaction").WithArgs(oldHash.Hex()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.MarkResubmitted(ctx, oldHash, newHash))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("re-keys the row when no replacement exists", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT EXISTS").WithArgs(newHash.Hex()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("UPDATE eth_transaction SET transaction_hash").WithArgs(newHash.Hex(), oldHash.Hex()).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		require.NoError(t, s.MarkResubmitted(ctx, oldHash, newHash))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown old hash", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT EXISTS").WithArgs(newHash.Hex()).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectExec("UPDATE eth_transaction SET transaction_hash").WithArgs(newHash.Hex(), oldHash.Hex()).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		require.ErrorContains(t, s.MarkResubmitted(ctx, oldHash, newHash), "not found")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestMarkStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	hash := common.HexToHash("0x01")

	t.Run("allowed transition updates the row", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("UPDATE eth_transaction SET transaction_status").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.MarkStatus(ctx, hash, txm.StatusConfirmed))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("blocked transition affects no row", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("UPDATE eth_transaction SET transaction_status").
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.ErrorContains(t, s.MarkStatus(ctx, hash, txm.StatusSent), "cannot transition")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpsertRecordGuard(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	rec := txm.Record{
		Hash:   common.HexToHash("0x01"),
		Status: txm.StatusSent,
		To:     common.HexToAddress("0xa1"),
	}

	t.Run("insert or refresh", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("INSERT INTO eth_transaction").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.UpsertRecord(ctx, rec))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("conflicting row in a terminal status is left alone", func(t *testing.T) {
		s, mock := newMockStorage(t)
		mock.ExpectExec("INSERT INTO eth_transaction").
			WillReturnResult(sqlmock.NewResult(0, 0))

		require.ErrorContains(t, s.UpsertRecord(ctx, rec), "cannot transition")
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestStatusNames(t *testing.T) {
	t.Parallel()

	require.ElementsMatch(t, []string{"SENT", "PENDING"}, statusNames(txm.StatusSent))
	require.ElementsMatch(t, []string{"CONFIRMED", "SENT"}, statusNames(txm.StatusConfirmed))
	require.ElementsMatch(t, []string{"FAILED", "PENDING", "SENT"}, statusNames(txm.StatusFailed))
}
