package client

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
)

// NodeClient is the node RPC surface the worker consumes: transaction counts
// at latest and pending, single and batched submission, and balance reads for
// the pool monitor.
type NodeClient interface {
	ChainID(ctx context.Context) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	BatchSendTransactions(ctx context.Context, txs []*types.Transaction) error
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

var _ NodeClient = &Client{}

// Client wraps go-ethereum's ethclient for the standard calls and keeps the
// underlying rpc.Client for wire-level batching.
type Client struct {
	eth *ethclient.Client
	rpc *rpc.Client
}

func Dial(ctx context.Context, rawurl string) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, rawurl)
	if err != nil {
		return nil, fmt.Errorf("failed to dial node at %s: %w", rawurl, err)
	}
	return NewClient(rpcClient), nil
}

func NewClient(rpcClient *rpc.Client) *Client {
	return &Client{
		eth: ethclient.NewClient(rpcClient),
		rpc: rpcClient,
	}
}

func (c *Client) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// NonceAt returns the confirmed transaction count, i.e. the nonce at the
// latest block.
func (c *Client) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.NonceAt(ctx, account, nil)
}

// PendingNonceAt returns the transaction count including the mempool.
func (c *Client) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

// BatchSendTransactions submits all signed transactions in a single wire-level
// batch request. Per-transaction rejections are collected; an error means at
// least one transaction was not accepted, the rest may still be in the pool.
func (c *Client) BatchSendTransactions(ctx context.Context, txs []*types.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	elems := make([]rpc.BatchElem, len(txs))
	for i, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return fmt.Errorf("failed to encode tx %s: %w", tx.Hash().Hex(), err)
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_sendRawTransaction",
			Args:   []interface{}{hexutil.Encode(raw)},
			Result: new(common.Hash),
		}
	}

	if err := c.rpc.BatchCallContext(ctx, elems); err != nil {
		return fmt.Errorf("batch submission failed: %w", err)
	}

	var errs error
	for i, elem := range elems {
		if elem.Error != nil {
			errs = errors.Join(errs, fmt.Errorf("tx %s rejected: %w", txs[i].Hash().Hex(), elem.Error))
		}
	}
	return errs
}

func (c *Client) BalanceAt(ctx context.Context, account common.Address) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, account, nil)
}

func (c *Client) Close() {
	c.rpc.Close()
}
