package db

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/impactledger/ethworker/txm"
)

var _ txm.RecordStore = &Storage{}

type Storage struct {
	db *sqlx.DB
}

func NewStorage(driver, dsn string) (*Storage, error) {
	if driver == "postgres" && !strings.Contains(dsn, "sslmode") {
		dsn = fmt.Sprintf("%s sslmode=disable", dsn)
	}
	db, err := sqlx.Connect(driver, dsn)
	return &Storage{db: db}, err
}

func (s *Storage) ExecuteMigrations(ctx context.Context) error {
	return s.executeMigrations(ctx, s.db)
}

type recordRow struct {
	TransactionHash   string    `db:"transaction_hash"`
	TransactionStatus string    `db:"transaction_status"`
	ToAddress         string    `db:"to_address"`
	Input             []byte    `db:"input"`
	Value             string    `db:"value"`
	GasLimit          int64     `db:"gas_limit"`
	ProjectID         int64     `db:"project_id"`
	MilestoneID       int64     `db:"milestone_id"`
	ActivityID        int64     `db:"activity_id"`
	UpdatedAt         time.Time `db:"updated_at"`
}

func (r recordRow) toRecord() (txm.Record, error) {
	status, err := txm.ParseTxStatus(r.TransactionStatus)
	if err != nil {
		return txm.Record{}, errors.Wrapf(err, "bad status on row %s", r.TransactionHash)
	}
	value, ok := new(big.Int).SetString(r.Value, 10)
	if !ok {
		return txm.Record{}, errors.Errorf("bad value on row %s: %q", r.TransactionHash, r.Value)
	}
	return txm.Record{
		Hash:      common.HexToHash(r.TransactionHash),
		Status:    status,
		UpdatedAt: r.UpdatedAt,
		To:        common.HexToAddress(r.ToAddress),
		Data:      r.Input,
		Value:     value,
		GasLimit:  uint64(r.GasLimit),
		Tags: txm.DomainTags{
			ProjectID:   r.ProjectID,
			MilestoneID: r.MilestoneID,
			ActivityID:  r.ActivityID,
		},
	}, nil
}

func rowFromRecord(rec txm.Record) recordRow {
	value := "0"
	if rec.Value != nil {
		value = rec.Value.String()
	}
	return recordRow{
		TransactionHash:   rec.Hash.Hex(),
		TransactionStatus: rec.Status.String(),
		ToAddress:         rec.To.Hex(),
		Input:             rec.Data,
		Value:             value,
		GasLimit:          int64(rec.GasLimit),
		ProjectID:         rec.Tags.ProjectID,
		MilestoneID:       rec.Tags.MilestoneID,
		ActivityID:        rec.Tags.ActivityID,
		UpdatedAt:         rec.UpdatedAt,
	}
}

func (s *Storage) GetUnconfirmed(ctx context.Context) ([]txm.Record, error) {
	var rows []recordRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM eth_transaction WHERE transaction_status IN ('PENDING', 'SENT')`); err != nil {
		return nil, errors.Wrap(err, "failed to select unconfirmed transactions")
	}

	records := make([]txm.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *Storage) UpsertRecord(ctx context.Context, rec txm.Record) error {
	row := rowFromRecord(rec)
	query, args, err := sqlx.In(`INSERT INTO eth_transaction
    (transaction_hash, transaction_status, to_address, input, value, gas_limit, project_id, milestone_id, activity_id, updated_at)
    VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, now())
    ON CONFLICT (transaction_hash) DO UPDATE SET transaction_status = EXCLUDED.transaction_status, updated_at = now()
    WHERE eth_transaction.transaction_status IN (?)`,
		row.TransactionHash, row.TransactionStatus, row.ToAddress, row.Input, row.Value,
		row.GasLimit, row.ProjectID, row.MilestoneID, row.ActivityID, statusNames(rec.Status))
	if err != nil {
		return errors.Wrap(err, "failed to build upsert query")
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return errors.Wrapf(err, "failed to upsert record %s", row.TransactionHash)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Errorf("record (%s) cannot transition to %s", row.TransactionHash, rec.Status)
	}
	return nil
}

func (s *Storage) MarkStatus(ctx context.Context, hash common.Hash, status txm.TxStatus) error {
	query, args, err := sqlx.In(
		`UPDATE eth_transaction SET transaction_status = ?, updated_at = now()
     WHERE transaction_hash = ? AND transaction_status IN (?)`,
		status.String(), hash.Hex(), statusNames(status))
	if err != nil {
		return errors.Wrap(err, "failed to build status query")
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return errors.Wrapf(err, "failed to mark record %s as %s", hash.Hex(), status)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Errorf("record (%s) not found or cannot transition to %s", hash.Hex(), status)
	}
	return nil
}

// MarkResubmitted retires the old row after a successful resend. The
// dispatcher has usually already upserted a row under the new hash, in which
// case the old row is deleted; otherwise the row is re-keyed in place.
func (s *Storage) MarkResubmitted(ctx context.Context, oldHash, newHash common.Hash) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}

	defer func() {
		tx.Rollback()
	}()

	var replaced bool
	if err := tx.GetContext(ctx, &replaced, s.db.Rebind(
		`SELECT EXISTS (SELECT 1 FROM eth_transaction WHERE transaction_hash = ?)`), newHash.Hex()); err != nil {
		return errors.Wrapf(err, "failed to look up replacement record %s", newHash.Hex())
	}

	var res sql.Result
	if replaced {
		res, err = tx.ExecContext(ctx, s.db.Rebind(
			`DELETE FROM eth_transaction WHERE transaction_hash = ?`), oldHash.Hex())
	} else {
		res, err = tx.ExecContext(ctx, s.db.Rebind(
			`UPDATE eth_transaction SET transaction_hash = ?, updated_at = now() WHERE transaction_hash = ?`),
			newHash.Hex(), oldHash.Hex())
	}
	if err != nil {
		return errors.Wrapf(err, "failed to mark record %s as resubmitted", oldHash.Hex())
	}
	if err := requireRowsAffected(res, oldHash.Hex()); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "failed to commit resubmission")
}

// statusNames lists target plus every status allowed to transition to it, for
// the SQL transition guards.
func statusNames(target txm.TxStatus) []string {
	names := []string{target.String()}
	for _, src := range txm.TransitionSources(target) {
		if src == txm.StatusUnknown {
			continue
		}
		names = append(names, src.String())
	}
	return names
}

func requireRowsAffected(res sql.Result, hash string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errors.Errorf("record (%s) not found", hash)
	}
	return nil
}
