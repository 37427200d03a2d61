package txm

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
	"github.com/smartcontractkit/chainlink-common/pkg/utils"
)

// Dispatcher is the slice of the transaction manager the monitor needs for
// resubmission.
type Dispatcher interface {
	PushTransaction(ctx context.Context, req Request) (common.Hash, error)
}

var _ services.Service = &MempoolMonitor{}

// MempoolMonitor periodically sweeps the record store for transactions that
// have sat unconfirmed longer than the staleness threshold and pushes them
// back through the dispatcher. It is constructed and owned by the process
// composition root; its lifecycle is explicit Start/Close. Sweep errors never
// propagate outward.
type MempoolMonitor struct {
	services.StateMachine
	lggr       logger.Logger
	cfg        Config
	records    RecordStore
	dispatcher Dispatcher

	chStop services.StopChan
	done   chan struct{}
}

func NewMempoolMonitor(lggr logger.Logger, cfg Config, records RecordStore, dispatcher Dispatcher) *MempoolMonitor {
	cfg.applyDefaults()
	return &MempoolMonitor{
		lggr:       logger.Named(lggr, "MempoolMonitor"),
		cfg:        cfg,
		records:    records,
		dispatcher: dispatcher,
		chStop:     make(services.StopChan),
		done:       make(chan struct{}),
	}
}

func (m *MempoolMonitor) Name() string {
	return m.lggr.Name()
}

func (m *MempoolMonitor) Start(context.Context) error {
	return m.StartOnce("MempoolMonitor", func() error {
		go m.runLoop()
		return nil
	})
}

func (m *MempoolMonitor) Close() error {
	return m.StopOnce("MempoolMonitor", func() error {
		close(m.chStop)
		<-m.done
		return nil
	})
}

func (m *MempoolMonitor) HealthReport() map[string]error {
	return map[string]error{m.Name(): m.Healthy()}
}

func (m *MempoolMonitor) runLoop() {
	defer close(m.done)
	ctx, cancel := m.chStop.NewCtx()
	defer cancel()

	m.lggr.Debugw("sweep loop started", "interval", m.cfg.SweepInterval, "staleAge", m.cfg.StaleAge)

	// First sweep runs immediately at startup.
	m.Sweep(ctx)

	tick := time.After(utils.WithJitter(m.cfg.SweepInterval))
	for {
		select {
		case <-m.chStop:
			m.lggr.Debugw("sweep loop stopped")
			return
		case <-tick:
			m.Sweep(ctx)
			tick = time.After(utils.WithJitter(m.cfg.SweepInterval))
		}
	}
}

// Sweep fetches unconfirmed records and resubmits every record at least
// StaleAge old. Records are processed concurrently and joined before
// returning; one record's failure never affects another. A store fetch
// failure skips the cycle.
func (m *MempoolMonitor) Sweep(ctx context.Context) {
	records, err := m.records.GetUnconfirmed(ctx)
	if err != nil {
		promSweepFailures.Inc()
		m.lggr.Errorw("failed to fetch unconfirmed transactions, skipping sweep", "err", err)
		return
	}

	now := time.Now()
	var wg sync.WaitGroup
	for _, rec := range records {
		age := now.Sub(rec.UpdatedAt)
		if age < m.cfg.StaleAge {
			continue
		}
		wg.Add(1)
		go func(rec Record, age time.Duration) {
			defer wg.Done()
			m.resubmit(ctx, rec, age)
		}(rec, age)
	}
	wg.Wait()
}

func (m *MempoolMonitor) resubmit(ctx context.Context, rec Record, age time.Duration) {
	m.lggr.Infow("resubmitting stale transaction", "txHash", rec.Hash.Hex(), "ageSecs", int(age.Seconds()), "projectId", rec.Tags.ProjectID)

	newHash, err := m.dispatcher.PushTransaction(ctx, rec.AsRequest())
	if err != nil {
		promResubmitFailures.Inc()
		m.lggr.Errorw("failed to resubmit stale transaction", "txHash", rec.Hash.Hex(), "err", err)
		return
	}

	if err := m.records.MarkResubmitted(ctx, rec.Hash, newHash); err != nil {
		m.lggr.Errorw("failed to update resubmitted record", "txHash", rec.Hash.Hex(), "newTxHash", newHash.Hex(), "err", err)
		return
	}

	promTxResubmitted.Inc()
	m.lggr.Infow("stale transaction resubmitted", "txHash", rec.Hash.Hex(), "newTxHash", newHash.Hex())
}
