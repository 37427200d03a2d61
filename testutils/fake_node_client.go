package testutils

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/impactledger/ethworker/client"
)

var _ client.NodeClient = &FakeNodeClient{}

// FakeNodeClient is an in-memory stand-in for the node RPC surface. Nonces are
// configured per account; successful sends bump the sender's pending nonce so
// throttling behaves like a real mempool.
type FakeNodeClient struct {
	mu sync.Mutex

	chainID   *big.Int
	confirmed map[common.Address]uint64
	pending   map[common.Address]uint64
	balances  map[common.Address]*big.Int
	sent      []*types.Transaction

	NonceErr error
	SendErr  error
	BatchErr error

	// AutoMine makes accepted transactions count as mined immediately, so an
	// account's headroom never shrinks.
	AutoMine bool
}

func NewFakeNodeClient(chainID int64) *FakeNodeClient {
	return &FakeNodeClient{
		chainID:   big.NewInt(chainID),
		confirmed: map[common.Address]uint64{},
		pending:   map[common.Address]uint64{},
		balances:  map[common.Address]*big.Int{},
	}
}

func (c *FakeNodeClient) SetNonces(account common.Address, confirmed, pending uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed[account] = confirmed
	c.pending[account] = pending
}

func (c *FakeNodeClient) SetBalance(account common.Address, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[account] = wei
}

func (c *FakeNodeClient) Sent() []*types.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*types.Transaction, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *FakeNodeClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.chainID, nil
}

func (c *FakeNodeClient) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NonceErr != nil {
		return 0, c.NonceErr
	}
	return c.confirmed[account], nil
}

func (c *FakeNodeClient) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.NonceErr != nil {
		return 0, c.NonceErr
	}
	return c.pending[account], nil
}

func (c *FakeNodeClient) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (c *FakeNodeClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	c.accept(tx)
	return nil
}

func (c *FakeNodeClient) BatchSendTransactions(ctx context.Context, txs []*types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.BatchErr != nil {
		return c.BatchErr
	}
	for _, tx := range txs {
		c.accept(tx)
	}
	return nil
}

func (c *FakeNodeClient) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if bal, ok := c.balances[account]; ok {
		return bal, nil
	}
	return new(big.Int), nil
}

func (c *FakeNodeClient) accept(tx *types.Transaction) {
	c.sent = append(c.sent, tx)
	from, err := types.Sender(types.LatestSignerForChainID(c.chainID), tx)
	if err != nil {
		return
	}
	c.pending[from]++
	if c.AutoMine {
		c.confirmed[from] = c.pending[from]
	}
}
