package txm

import (
	"errors"
	"time"
)

const (
	DefaultMaxInflightPerAccount = 4
	DefaultStaleAge              = 750 * time.Second
	DefaultSweepInterval         = 60 * time.Second
	DefaultDispatchDeadline      = 30 * time.Second
	DefaultRetryInitialBackoff   = 250 * time.Millisecond
	DefaultGasLimit              = uint64(4_000_000)
)

// Config is read once at construction and shared by the dispatcher and the
// mempool monitor. All accounts share the same in-flight ceiling.
type Config struct {
	// MaxInflightPerAccount caps pending-minus-confirmed (plus local
	// reservations) per sender account.
	MaxInflightPerAccount int
	// SweepInterval is the mempool monitor's recurring sweep period.
	SweepInterval time.Duration
	// StaleAge is how long a record may stay unconfirmed before resubmission.
	StaleAge time.Duration
	// DispatchDeadline bounds the back-off loop looking for an eligible
	// account before giving up with ErrNoEligibleAccount.
	DispatchDeadline time.Duration
	// RetryInitialBackoff seeds the exponential back-off between account
	// eligibility attempts.
	RetryInitialBackoff time.Duration
	// GasLimit is applied to requests that do not set their own.
	GasLimit uint64
}

func (c *Config) applyDefaults() {
	if c.MaxInflightPerAccount == 0 {
		c.MaxInflightPerAccount = DefaultMaxInflightPerAccount
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.StaleAge == 0 {
		c.StaleAge = DefaultStaleAge
	}
	if c.DispatchDeadline == 0 {
		c.DispatchDeadline = DefaultDispatchDeadline
	}
	if c.RetryInitialBackoff == 0 {
		c.RetryInitialBackoff = DefaultRetryInitialBackoff
	}
	if c.GasLimit == 0 {
		c.GasLimit = DefaultGasLimit
	}
}

func (c Config) Validate() error {
	var err error
	if c.MaxInflightPerAccount < 1 {
		err = errors.Join(err, errors.New("MaxInflightPerAccount must be >= 1"))
	}
	if c.SweepInterval <= 0 {
		err = errors.Join(err, errors.New("SweepInterval must be positive"))
	}
	if c.StaleAge <= 0 {
		err = errors.Join(err, errors.New("StaleAge must be positive"))
	}
	if c.DispatchDeadline <= 0 {
		err = errors.Join(err, errors.New("DispatchDeadline must be positive"))
	}
	if c.RetryInitialBackoff <= 0 {
		err = errors.Join(err, errors.New("RetryInitialBackoff must be positive"))
	}
	return err
}
