package keystore

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Keystore signs transactions for the pool accounts. Key storage, rotation
// and unlocking policy live outside the worker; this is only the surface the
// dispatcher needs.
type Keystore interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

var _ Keystore = &MemoryKeystore{}

// MemoryKeystore holds raw ECDSA keys in memory. Suitable for tests and for
// daemons that load keys from the environment at startup.
type MemoryKeystore struct {
	lock sync.RWMutex
	keys map[common.Address]*ecdsa.PrivateKey
}

func NewMemoryKeystore() *MemoryKeystore {
	return &MemoryKeystore{keys: map[common.Address]*ecdsa.PrivateKey{}}
}

func (ks *MemoryKeystore) Add(key *ecdsa.PrivateKey) common.Address {
	addr := crypto.PubkeyToAddress(key.PublicKey)
	ks.lock.Lock()
	defer ks.lock.Unlock()
	ks.keys[addr] = key
	return addr
}

// AddHex imports a hex-encoded private key, with or without the 0x prefix.
func (ks *MemoryKeystore) AddHex(hexKey string) (common.Address, error) {
	if len(hexKey) >= 2 && hexKey[:2] == "0x" {
		hexKey = hexKey[2:]
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid private key: %w", err)
	}
	return ks.Add(key), nil
}

func (ks *MemoryKeystore) Accounts(ctx context.Context) ([]common.Address, error) {
	ks.lock.RLock()
	defer ks.lock.RUnlock()
	accounts := make([]common.Address, 0, len(ks.keys))
	for addr := range ks.keys {
		accounts = append(accounts, addr)
	}
	return accounts, nil
}

func (ks *MemoryKeystore) SignTx(ctx context.Context, from common.Address, tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	ks.lock.RLock()
	key, ok := ks.keys[from]
	ks.lock.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no key for account %s", from.Hex())
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), key)
}
