package txm

import (
	"errors"
	"math/rand/v2"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
)

var ErrEmptyPool = errors.New("account pool is empty")

// Selector picks the next candidate sender from the configured pool. The pool
// is static; selectors never fail once constructed.
type Selector interface {
	Pick() common.Address
	Pool() []common.Address
}

// RandomSelector spreads load uniformly across the pool without any
// sticky-session state.
type RandomSelector struct {
	pool []common.Address
}

func NewRandomSelector(pool []common.Address) (*RandomSelector, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	return &RandomSelector{pool: pool}, nil
}

func (s *RandomSelector) Pick() common.Address {
	return s.pool[rand.IntN(len(s.pool))]
}

func (s *RandomSelector) Pool() []common.Address {
	return s.pool
}

// RoundRobinSelector cycles through the pool in order. Drop-in alternative to
// RandomSelector under the same contract.
type RoundRobinSelector struct {
	pool []common.Address
	next atomic.Uint64
}

func NewRoundRobinSelector(pool []common.Address) (*RoundRobinSelector, error) {
	if len(pool) == 0 {
		return nil, ErrEmptyPool
	}
	return &RoundRobinSelector{pool: pool}, nil
}

func (s *RoundRobinSelector) Pick() common.Address {
	n := s.next.Add(1) - 1
	return s.pool[n%uint64(len(s.pool))]
}

func (s *RoundRobinSelector) Pool() []common.Address {
	return s.pool
}
