package txm

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/exp/maps"
)

// TxStore tracks one account's local dispatch state: reservations taken
// between the eligibility check and the send, and hashes broadcast but not yet
// confirmed by the chain listener.
type TxStore struct {
	lock sync.RWMutex

	// sendMu serializes nonce assignment and submission for the account.
	sendMu sync.Mutex

	reserved    int
	unconfirmed map[common.Hash]Record
}

func NewTxStore() *TxStore {
	return &TxStore{
		unconfirmed: map[common.Hash]Record{},
	}
}

// Reserve claims one slot of headroom ahead of a send so that concurrent
// dispatches cannot overshoot the per-account ceiling.
func (s *TxStore) Reserve() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.reserved++
}

// TryReserve claims up to want slots of the account's gross headroom,
// re-checking outstanding reservations under the same lock that records the
// claim. Returns the number of slots claimed, zero when saturated.
func (s *TxStore) TryReserve(headroom, want int) int {
	s.lock.Lock()
	defer s.lock.Unlock()
	avail := headroom - s.reserved
	if avail <= 0 {
		return 0
	}
	if want < avail {
		avail = want
	}
	s.reserved += avail
	return avail
}

func (s *TxStore) Release() {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.reserved > 0 {
		s.reserved--
	}
}

func (s *TxStore) Reserved() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return s.reserved
}

func (s *TxStore) AddUnconfirmed(hash common.Hash, rec Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, exists := s.unconfirmed[hash]; exists {
		return fmt.Errorf("hash already exists: %s", hash.Hex())
	}
	s.unconfirmed[hash] = rec
	return nil
}

func (s *TxStore) Confirm(hash common.Hash) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, exists := s.unconfirmed[hash]; !exists {
		return fmt.Errorf("no such unconfirmed hash: %s", hash.Hex())
	}
	delete(s.unconfirmed, hash)
	return nil
}

func (s *TxStore) GetUnconfirmed() []Record {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return maps.Values(s.unconfirmed)
}

func (s *TxStore) InflightCount() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.unconfirmed)
}

// AccountStore maps sender addresses to their TxStore.
type AccountStore struct {
	store map[common.Address]*TxStore
	lock  sync.RWMutex
}

func NewAccountStore() *AccountStore {
	return &AccountStore{
		store: map[common.Address]*TxStore{},
	}
}

func (c *AccountStore) GetTxStore(from common.Address) *TxStore {
	c.lock.Lock()
	defer c.lock.Unlock()
	store, ok := c.store[from]
	if !ok {
		store = NewTxStore()
		c.store[from] = store
	}
	return store
}

func (c *AccountStore) GetTotalInflightCount() int {
	c.lock.RLock()
	defer c.lock.RUnlock()

	count := 0
	for _, store := range c.store {
		count += store.InflightCount()
	}
	return count
}

// ConfirmHash removes the hash from whichever account's unconfirmed set holds
// it, reporting the owning account.
func (c *AccountStore) ConfirmHash(hash common.Hash) (common.Address, bool) {
	c.lock.RLock()
	defer c.lock.RUnlock()

	for from, store := range c.store {
		if err := store.Confirm(hash); err == nil {
			return from, true
		}
	}
	return common.Address{}, false
}

func (c *AccountStore) GetAllUnconfirmed() map[common.Address][]Record {
	c.lock.RLock()
	defer c.lock.RUnlock()

	allUnconfirmed := map[common.Address][]Record{}
	for from, store := range c.store {
		allUnconfirmed[from] = store.GetUnconfirmed()
	}
	return allUnconfirmed
}
