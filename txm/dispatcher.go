package txm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"

	"github.com/impactledger/ethworker/client"
	"github.com/impactledger/ethworker/keystore"
)

// ErrNoEligibleAccount is returned when no pool account had headroom within
// the configured dispatch deadline.
var ErrNoEligibleAccount = errors.New("no eligible account in pool")

// Txm submits contract-call transactions from a pool of sender accounts,
// choosing a sender that currently has headroom under the per-account
// in-flight ceiling. Lack of headroom is retried with exponential back-off up
// to the dispatch deadline; node-level send failures are not retried.
type Txm struct {
	lggr     logger.Logger
	cfg      Config
	client   client.NodeClient
	ks       keystore.Keystore
	selector Selector
	throttle *AccountThrottle
	accounts *AccountStore
	records  RecordStore

	chainMu sync.Mutex
	chainID *big.Int
}

var _ Dispatcher = &Txm{}

func New(lggr logger.Logger, cfg Config, nodeClient client.NodeClient, ks keystore.Keystore, selector Selector, records RecordStore) (*Txm, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if selector == nil {
		return nil, errors.New("selector is required")
	}

	accounts := NewAccountStore()
	return &Txm{
		lggr:     logger.Named(lggr, "EthTxm"),
		cfg:      cfg,
		client:   nodeClient,
		ks:       ks,
		selector: selector,
		throttle: NewAccountThrottle(nodeClient, accounts, cfg.MaxInflightPerAccount),
		accounts: accounts,
		records:  records,
	}, nil
}

// Throttle exposes the eligibility check for callers that want to probe
// headroom without dispatching.
func (t *Txm) Throttle() *AccountThrottle {
	return t.throttle
}

// AccountStore exposes local dispatch state for introspection.
func (t *Txm) AccountStore() *AccountStore {
	return t.accounts
}

// InflightCount reports broadcast-but-unconfirmed transactions across the pool.
func (t *Txm) InflightCount() int {
	return t.accounts.GetTotalInflightCount()
}

// PushTransaction submits a single request and returns the transaction hash.
// The error wraps ErrNoEligibleAccount when the pool stayed saturated past the
// dispatch deadline.
func (t *Txm) PushTransaction(ctx context.Context, req Request) (common.Hash, error) {
	t.normalize(&req)

	from, _, err := t.reserveEligible(ctx, 1)
	if err != nil {
		return common.Hash{}, err
	}

	store := t.accounts.GetTxStore(from)
	defer store.Release()

	store.sendMu.Lock()
	defer store.sendMu.Unlock()

	nonce, err := t.client.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get nonce for %s: %w", from.Hex(), err)
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get gas price: %w", err)
	}

	signed, err := t.buildAndSign(ctx, from, req, nonce, gasPrice)
	if err != nil {
		return common.Hash{}, err
	}

	if err := t.client.SendTransaction(ctx, signed); err != nil {
		t.lggr.Errorw("failed to submit transaction", "account", from.Hex(), "to", req.To.Hex(), "id", req.ID, "err", err)
		return common.Hash{}, fmt.Errorf("failed to submit transaction from %s: %w", from.Hex(), err)
	}

	t.afterSubmit(ctx, from, signed.Hash(), req)
	return signed.Hash(), nil
}

// SubmitAll drains the batch through one wire-level batch request per eligible
// account, up to that account's headroom, and recurses on the remainder.
// Best-effort: on error the already-submitted hashes are returned alongside an
// error naming how many requests were left undispatched.
func (t *Txm) SubmitAll(ctx context.Context, reqs []Request) ([]common.Hash, error) {
	hashes := make([]common.Hash, 0, len(reqs))
	remaining := reqs

	for len(remaining) > 0 {
		from, n, err := t.reserveEligible(ctx, len(remaining))
		if err != nil {
			return hashes, fmt.Errorf("%d of %d requests left undispatched: %w", len(remaining), len(reqs), err)
		}
		batch := remaining[:n]

		store := t.accounts.GetTxStore(from)
		store.sendMu.Lock()
		submitted, err := t.sendBatch(ctx, from, batch)
		store.sendMu.Unlock()
		for range batch {
			store.Release()
		}
		hashes = append(hashes, submitted...)
		if err != nil {
			t.lggr.Errorw("batch submission failed", "account", from.Hex(), "batchSize", n, "err", err)
			return hashes, fmt.Errorf("%d of %d requests left undispatched: %w", len(reqs)-len(hashes), len(reqs), err)
		}

		remaining = remaining[n:]
	}

	return hashes, nil
}

// PushTransfer funds an address with a plain value transfer through the same
// dispatch path. Used when a brand-new platform account is created.
func (t *Txm) PushTransfer(ctx context.Context, to common.Address, value *big.Int) (common.Hash, error) {
	return t.PushTransaction(ctx, Request{To: to, Value: value, GasLimit: 21_000})
}

// Confirm transitions a broadcast transaction to confirmed. Called by the
// external chain-event listener once the hash is mined.
func (t *Txm) Confirm(ctx context.Context, hash common.Hash) error {
	if from, ok := t.accounts.ConfirmHash(hash); ok {
		promInflight.WithLabelValues(from.Hex()).Set(float64(t.accounts.GetTxStore(from).InflightCount()))
	}
	if t.records == nil {
		return nil
	}
	return t.records.MarkStatus(ctx, hash, StatusConfirmed)
}

func (t *Txm) normalize(req *Request) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.GasLimit == 0 {
		req.GasLimit = t.cfg.GasLimit
	}
}

// reserveEligible picks an account and atomically claims up to want dispatch
// slots against its headroom, backing off exponentially while the whole pool
// is saturated. Node query errors propagate immediately; only lack of headroom
// is retried. Claimed slots must be released by the caller.
func (t *Txm) reserveEligible(ctx context.Context, want int) (common.Address, int, error) {
	var chosen common.Address
	var claimed int

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.cfg.RetryInitialBackoff
	bo.MaxElapsedTime = t.cfg.DispatchDeadline

	op := func() error {
		account := t.selector.Pick()
		n, err := t.throttle.TryReserve(ctx, account, want)
		if err != nil {
			return backoff.Permanent(err)
		}
		if n == 0 {
			promDispatchRetries.Inc()
			t.lggr.Debugw("account has no headroom", "account", account.Hex())
			return ErrNoEligibleAccount
		}
		chosen, claimed = account, n
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		if errors.Is(err, ErrNoEligibleAccount) {
			err = fmt.Errorf("dispatch deadline %s exceeded: %w", t.cfg.DispatchDeadline, err)
		}
		return common.Address{}, 0, err
	}
	return chosen, claimed, nil
}

func (t *Txm) sendBatch(ctx context.Context, from common.Address, batch []Request) ([]common.Hash, error) {
	// Copy before normalizing so the caller's requests are never mutated.
	reqs := make([]Request, len(batch))
	copy(reqs, batch)

	nonce, err := t.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, fmt.Errorf("failed to get nonce for %s: %w", from.Hex(), err)
	}
	gasPrice, err := t.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	signed := make([]*types.Transaction, len(reqs))
	for i := range reqs {
		t.normalize(&reqs[i])
		tx, err := t.buildAndSign(ctx, from, reqs[i], nonce+uint64(i), gasPrice)
		if err != nil {
			return nil, err
		}
		signed[i] = tx
	}

	if err := t.client.BatchSendTransactions(ctx, signed); err != nil {
		return nil, err
	}

	hashes := make([]common.Hash, len(signed))
	for i, tx := range signed {
		hashes[i] = tx.Hash()
		t.afterSubmit(ctx, from, tx.Hash(), reqs[i])
	}
	return hashes, nil
}

func (t *Txm) buildAndSign(ctx context.Context, from common.Address, req Request, nonce uint64, gasPrice *big.Int) (*types.Transaction, error) {
	chainID, err := t.getChainID(ctx)
	if err != nil {
		return nil, err
	}

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	to := req.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      req.GasLimit,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signed, err := t.ks.SignTx(ctx, from, tx, chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction from %s: %w", from.Hex(), err)
	}
	return signed, nil
}

func (t *Txm) afterSubmit(ctx context.Context, from common.Address, hash common.Hash, req Request) {
	t.lggr.Infow("transaction submitted", "account", from.Hex(), "to", req.To.Hex(), "txHash", hash.Hex(), "id", req.ID, "gasLimit", req.GasLimit)

	store := t.accounts.GetTxStore(from)
	rec := Record{
		Hash:      hash,
		Status:    StatusSent,
		UpdatedAt: time.Now(),
		To:        req.To,
		Data:      req.Data,
		Value:     req.Value,
		GasLimit:  req.GasLimit,
		Tags:      req.Tags,
	}
	if err := store.AddUnconfirmed(hash, rec); err != nil {
		t.lggr.Errorw("could not track unconfirmed transaction", "txHash", hash.Hex(), "err", err)
	}

	promTxSubmitted.WithLabelValues(from.Hex()).Inc()
	promInflight.WithLabelValues(from.Hex()).Set(float64(store.InflightCount()))

	if t.records != nil {
		if err := t.records.UpsertRecord(ctx, rec); err != nil {
			t.lggr.Errorw("failed to persist transaction record", "txHash", hash.Hex(), "err", err)
		}
	}
}

func (t *Txm) getChainID(ctx context.Context) (*big.Int, error) {
	t.chainMu.Lock()
	defer t.chainMu.Unlock()
	if t.chainID != nil {
		return t.chainID, nil
	}
	id, err := t.client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	t.chainID = id
	return id, nil
}
