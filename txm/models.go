package txm

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type TxStatus int

const (
	StatusUnknown TxStatus = iota
	StatusPending
	StatusSent
	StatusConfirmed
	StatusFailed
)

func (s TxStatus) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusSent:
		return "SENT"
	case StatusConfirmed:
		return "CONFIRMED"
	case StatusFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("TxStatus(%d)", s)
	}
}

// ParseTxStatus is the inverse of TxStatus.String, used by persistent stores.
func ParseTxStatus(s string) (TxStatus, error) {
	switch s {
	case "PENDING":
		return StatusPending, nil
	case "SENT":
		return StatusSent, nil
	case "CONFIRMED":
		return StatusConfirmed, nil
	case "FAILED":
		return StatusFailed, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown tx status: %q", s)
	}
}

var statusTransitions = map[TxStatus][]TxStatus{
	StatusUnknown: {StatusPending, StatusSent},
	StatusPending: {StatusSent, StatusFailed},
	StatusSent:    {StatusConfirmed, StatusFailed},
}

func (s TxStatus) CanTransitionTo(t TxStatus) bool {
	for _, allowed := range statusTransitions[s] {
		if t == allowed {
			return true
		}
	}
	return false
}

// TransitionSources lists every status allowed to transition to t. Used by
// persistent stores to guard status updates.
func TransitionSources(t TxStatus) []TxStatus {
	var sources []TxStatus
	for s, allowed := range statusTransitions {
		for _, a := range allowed {
			if a == t {
				sources = append(sources, s)
			}
		}
	}
	return sources
}

// DomainTags link a transaction to the platform entity it mirrors on chain.
// They are opaque to the dispatcher and carried through for the callback layer.
type DomainTags struct {
	ProjectID   int64
	MilestoneID int64
	ActivityID  int64
}

// Request is one unit of work: a contract call (or plain value transfer when
// Data is empty) to be submitted from whichever pool account has headroom.
type Request struct {
	ID       string
	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	Tags     DomainTags
}

// Record is a persisted transaction row as seen by the record store and the
// mempool monitor. It carries enough of the original request to resubmit.
type Record struct {
	Hash      common.Hash
	Status    TxStatus
	UpdatedAt time.Time

	To       common.Address
	Data     []byte
	Value    *big.Int
	GasLimit uint64
	Tags     DomainTags
}

// AsRequest rebuilds the submittable request from a persisted record.
func (r Record) AsRequest() Request {
	return Request{
		To:       r.To,
		Data:     r.Data,
		Value:    r.Value,
		GasLimit: r.GasLimit,
		Tags:     r.Tags,
	}
}
