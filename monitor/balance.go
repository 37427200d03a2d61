package monitor

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
	"github.com/smartcontractkit/chainlink-common/pkg/utils"
)

// Config defines the monitor configuration.
type Config interface {
	BalancePollPeriod() time.Duration
}

// Keystore provides the addresses to be monitored.
type Keystore interface {
	Accounts(ctx context.Context) ([]common.Address, error)
}

type BalanceClient interface {
	BalanceAt(ctx context.Context, account common.Address) (*big.Int, error)
}

// NewBalanceMonitor returns a balance monitoring services.Service which reports
// the ETH balance of every pool account to prometheus. The pool must stay
// funded for dispatch to work; this is the operational guard for that
// invariant.
func NewBalanceMonitor(chainID string, cfg Config, lggr logger.Logger, ks Keystore, newReader func() (BalanceClient, error)) services.Service {
	return newBalanceMonitor(chainID, cfg, lggr, ks, newReader)
}

func newBalanceMonitor(chainID string, cfg Config, lggr logger.Logger, ks Keystore, newReader func() (BalanceClient, error)) *balanceMonitor {
	b := balanceMonitor{
		chainID:   chainID,
		cfg:       cfg,
		lggr:      logger.Named(lggr, "BalanceMonitor"),
		ks:        ks,
		newReader: newReader,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	b.updateFn = b.updateProm
	return &b
}

type balanceMonitor struct {
	services.StateMachine
	chainID   string
	cfg       Config
	lggr      logger.Logger
	ks        Keystore
	newReader func() (BalanceClient, error)
	updateFn  func(acc common.Address, wei *big.Int) // overridable for testing

	reader BalanceClient

	stop services.StopChan
	done chan struct{}
}

func (b *balanceMonitor) Name() string {
	return b.lggr.Name()
}

func (b *balanceMonitor) Start(context.Context) error {
	return b.StartOnce("EthBalanceMonitor", func() error {
		go b.monitor()
		return nil
	})
}

func (b *balanceMonitor) Close() error {
	return b.StopOnce("EthBalanceMonitor", func() error {
		close(b.stop)
		<-b.done
		return nil
	})
}

func (b *balanceMonitor) HealthReport() map[string]error {
	return map[string]error{b.Name(): b.Healthy()}
}

func (b *balanceMonitor) monitor() {
	defer close(b.done)
	ctx, cancel := b.stop.NewCtx()
	defer cancel()

	tick := time.After(utils.WithJitter(b.cfg.BalancePollPeriod()))
	for {
		select {
		case <-b.stop:
			return
		case <-tick:
			b.updateBalances(ctx)
			tick = time.After(utils.WithJitter(b.cfg.BalancePollPeriod()))
		}
	}
}

func (b *balanceMonitor) getReader() (BalanceClient, error) {
	if b.reader == nil {
		var err error
		b.reader, err = b.newReader()
		if err != nil {
			return nil, err
		}
	}
	return b.reader, nil
}

func (b *balanceMonitor) updateBalances(ctx context.Context) {
	keys, err := b.ks.Accounts(ctx)
	if err != nil {
		b.lggr.Errorw("Failed to get keys", "err", err)
		return
	}
	if len(keys) == 0 {
		return
	}
	reader, err := b.getReader()
	if err != nil {
		b.lggr.Errorw("Failed to get client", "err", err)
		return
	}
	var gotSomeBals bool
	for _, acc := range keys {
		// Check for shutdown signal, since BalanceAt blocks and may be slow.
		select {
		case <-b.stop:
			return
		default:
		}
		wei, err := reader.BalanceAt(ctx, acc)
		if err != nil {
			b.lggr.Errorw("Failed to get balance", "account", acc.Hex(), "err", err)
			continue
		}
		gotSomeBals = true
		b.updateFn(acc, wei)
	}
	if !gotSomeBals {
		// Try a new client next time.
		b.reader = nil
	}
}
