package txm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// RecordStore is the persisted transaction record collaborator. The dispatcher
// writes rows on submission; the mempool monitor reads unconfirmed rows and
// refreshes them on resubmission. The external chain listener transitions rows
// to CONFIRMED out of band.
type RecordStore interface {
	// GetUnconfirmed returns every record not yet CONFIRMED or FAILED.
	GetUnconfirmed(ctx context.Context) ([]Record, error)
	// UpsertRecord inserts the record or refreshes its status and UpdatedAt.
	UpsertRecord(ctx context.Context, rec Record) error
	// MarkStatus transitions a record's status and refreshes UpdatedAt.
	MarkStatus(ctx context.Context, hash common.Hash, status TxStatus) error
	// MarkResubmitted swaps a record's hash after a successful resend and
	// refreshes UpdatedAt. Status is unchanged.
	MarkResubmitted(ctx context.Context, oldHash, newHash common.Hash) error
}
