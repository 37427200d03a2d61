package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/impactledger/ethworker/txm"
)

var _ txm.RecordStore = &Storage{}

// Storage is an in-memory record store. Used in tests and for single-process
// deployments that can tolerate losing resubmission state on restart.
type Storage struct {
	lock  sync.RWMutex
	store map[common.Hash]txm.Record
}

func NewStorage() *Storage {
	return &Storage{
		store: make(map[common.Hash]txm.Record),
	}
}

func (s *Storage) GetUnconfirmed(ctx context.Context) ([]txm.Record, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	var unconfirmed []txm.Record
	for _, rec := range s.store {
		if rec.Status == txm.StatusPending || rec.Status == txm.StatusSent {
			unconfirmed = append(unconfirmed, rec)
		}
	}
	return unconfirmed, nil
}

func (s *Storage) UpsertRecord(ctx context.Context, rec txm.Record) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if existing, ok := s.store[rec.Hash]; ok {
		if existing.Status != rec.Status && !existing.Status.CanTransitionTo(rec.Status) {
			return fmt.Errorf("record (%s) cannot transition from %s to %s", rec.Hash.Hex(), existing.Status, rec.Status)
		}
	}
	rec.UpdatedAt = time.Now()
	s.store[rec.Hash] = rec
	return nil
}

func (s *Storage) MarkStatus(ctx context.Context, hash common.Hash, status txm.TxStatus) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	rec, ok := s.store[hash]
	if !ok {
		return fmt.Errorf("record (%s) not found in storage", hash.Hex())
	}
	if rec.Status != status && !rec.Status.CanTransitionTo(status) {
		return fmt.Errorf("record (%s) cannot transition from %s to %s", hash.Hex(), rec.Status, status)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	s.store[hash] = rec
	return nil
}

func (s *Storage) MarkResubmitted(ctx context.Context, oldHash, newHash common.Hash) error {
	s.lock.Lock()
	defer s.lock.Unlock()

	rec, ok := s.store[oldHash]
	if !ok {
		return fmt.Errorf("record (%s) not found in storage", oldHash.Hex())
	}
	delete(s.store, oldHash)
	if _, ok := s.store[newHash]; ok {
		// the dispatcher already wrote the replacement row
		return nil
	}
	rec.Hash = newHash
	rec.UpdatedAt = time.Now()
	s.store[newHash] = rec
	return nil
}

// GetRecord is a test convenience.
func (s *Storage) GetRecord(hash common.Hash) (txm.Record, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	rec, ok := s.store[hash]
	return rec, ok
}

// Seed inserts a record verbatim, preserving its UpdatedAt. Test convenience.
func (s *Storage) Seed(rec txm.Record) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.store[rec.Hash] = rec
}
