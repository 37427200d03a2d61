package txm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	promTxSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{Name: "eth_worker_txs_submitted_total", Help: "Transactions submitted per sender account"},
		[]string{"account"},
	)
	promTxResubmitted = promauto.NewCounter(
		prometheus.CounterOpts{Name: "eth_worker_txs_resubmitted_total", Help: "Stale transactions resubmitted by the mempool monitor"},
	)
	promDispatchRetries = promauto.NewCounter(
		prometheus.CounterOpts{Name: "eth_worker_dispatch_retries_total", Help: "Eligibility attempts that found no account headroom"},
	)
	promSweepFailures = promauto.NewCounter(
		prometheus.CounterOpts{Name: "eth_worker_sweep_failures_total", Help: "Sweep cycles skipped due to record store errors"},
	)
	promResubmitFailures = promauto.NewCounter(
		prometheus.CounterOpts{Name: "eth_worker_resubmit_failures_total", Help: "Stale transaction resubmissions that failed"},
	)
	promInflight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Name: "eth_worker_inflight", Help: "Broadcast but unconfirmed transactions per sender account"},
		[]string{"account"},
	)
)
