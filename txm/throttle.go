package txm

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// NonceReader is the slice of the node client the throttle needs: the
// confirmed transaction count (nonce at latest block) and the pending count
// (nonce including the mempool).
type NonceReader interface {
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// AccountThrottle answers how many more transactions an account may safely
// have in flight. The node-observed inflight count is pending minus confirmed;
// local reservations cover the window between the check and the send, so the
// ceiling holds without extra RPC round-trips.
type AccountThrottle struct {
	node        NonceReader
	accounts    *AccountStore
	maxInflight int
}

func NewAccountThrottle(node NonceReader, accounts *AccountStore, maxInflight int) *AccountThrottle {
	return &AccountThrottle{
		node:        node,
		accounts:    accounts,
		maxInflight: maxInflight,
	}
}

// AllowedCount may return zero or a negative value; both mean "not eligible
// now". Node query errors propagate unmasked. Two concurrent calls can observe
// different values as the mempool moves; dispatch paths must claim slots with
// TryReserve instead of acting on this probe.
func (t *AccountThrottle) AllowedCount(ctx context.Context, account common.Address) (int, error) {
	inflight, err := t.nodeInflight(ctx, account)
	if err != nil {
		return 0, err
	}
	return t.maxInflight - inflight - t.accounts.GetTxStore(account).Reserved(), nil
}

// TryReserve atomically claims up to want dispatch slots for the account. The
// node-observed in-flight count is read first, then the claim is checked
// against outstanding reservations under the account store's lock, so two
// concurrent dispatches cannot claim the same slot. Claimed slots must be
// released by the caller.
func (t *AccountThrottle) TryReserve(ctx context.Context, account common.Address, want int) (int, error) {
	inflight, err := t.nodeInflight(ctx, account)
	if err != nil {
		return 0, err
	}
	return t.accounts.GetTxStore(account).TryReserve(t.maxInflight-inflight, want), nil
}

func (t *AccountThrottle) nodeInflight(ctx context.Context, account common.Address) (int, error) {
	confirmed, err := t.node.NonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to get confirmed tx count for %s: %w", account.Hex(), err)
	}
	pending, err := t.node.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending tx count for %s: %w", account.Hex(), err)
	}

	if pending > confirmed {
		return int(pending - confirmed), nil
	}
	return 0, nil
}
