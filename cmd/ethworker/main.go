package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smartcontractkit/chainlink-common/pkg/logger"
	"github.com/smartcontractkit/chainlink-common/pkg/services"
	"github.com/urfave/cli/v2"
	"github.com/xo/dburl"

	"github.com/impactledger/ethworker/client"
	"github.com/impactledger/ethworker/config"
	"github.com/impactledger/ethworker/keystore"
	"github.com/impactledger/ethworker/monitor"
	dbstorage "github.com/impactledger/ethworker/storage/db"
	"github.com/impactledger/ethworker/txm"
)

func main() {
	app := &cli.App{
		Name:  "ethworker",
		Usage: "transaction dispatch worker for an Ethereum-compatible chain",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "ethworker.toml",
				Usage:   "path to the TOML configuration file",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	lggr, err := logger.New()
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	lggr = logger.Named(lggr, "EthWorker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nodeClient, err := client.Dial(ctx, cfg.NodeURL)
	if err != nil {
		return err
	}
	defer nodeClient.Close()

	parsedURL, err := dburl.Parse(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to parse database url: %w", err)
	}
	records, err := dbstorage.NewStorage(parsedURL.Driver, parsedURL.DSN)
	if err != nil {
		return fmt.Errorf("failed to open record store: %w", err)
	}
	if err := records.ExecuteMigrations(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	ks, pool, err := loadKeystore(cfg)
	if err != nil {
		return err
	}

	selector, err := newSelector(cfg.Selection, pool)
	if err != nil {
		return err
	}

	worker, err := txm.New(lggr, cfg.TxmConfig(), nodeClient, ks, selector, records)
	if err != nil {
		return err
	}

	mempoolMonitor := txm.NewMempoolMonitor(lggr, cfg.TxmConfig(), records, worker)
	balanceMonitor := monitor.NewBalanceMonitor(cfg.ChainName, balanceCfg{cfg.GetBalancePollPeriod()}, lggr, ks,
		func() (monitor.BalanceClient, error) { return nodeClient, nil })

	svcs := []services.Service{mempoolMonitor, balanceMonitor}
	for _, svc := range svcs {
		if err := svc.Start(ctx); err != nil {
			return fmt.Errorf("failed to start %s: %w", svc.Name(), err)
		}
	}

	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lggr.Errorw("metrics server failed", "err", err)
		}
	}()

	lggr.Infow("worker started", "accounts", len(pool), "node", cfg.NodeURL)
	<-ctx.Done()
	lggr.Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	for i := len(svcs) - 1; i >= 0; i-- {
		if err := svcs[i].Close(); err != nil {
			lggr.Errorw("failed to close service", "service", svcs[i].Name(), "err", err)
		}
	}
	return nil
}

// loadKeystore imports the pool keys from ETH_PRIVATE_KEYS (comma-separated
// hex) and checks they cover the configured account pool.
func loadKeystore(cfg config.Config) (*keystore.MemoryKeystore, []common.Address, error) {
	rawKeys := os.Getenv("ETH_PRIVATE_KEYS")
	if rawKeys == "" {
		return nil, nil, fmt.Errorf("ETH_PRIVATE_KEYS is not set")
	}

	ks := keystore.NewMemoryKeystore()
	available := map[common.Address]bool{}
	for _, hexKey := range strings.Split(rawKeys, ",") {
		addr, err := ks.AddHex(strings.TrimSpace(hexKey))
		if err != nil {
			return nil, nil, err
		}
		available[addr] = true
	}

	pool := make([]common.Address, 0, len(cfg.Accounts))
	for _, raw := range cfg.Accounts {
		addr := common.HexToAddress(raw)
		if !available[addr] {
			return nil, nil, fmt.Errorf("no private key for pool account %s", addr.Hex())
		}
		pool = append(pool, addr)
	}
	return ks, pool, nil
}

func newSelector(mode string, pool []common.Address) (txm.Selector, error) {
	switch mode {
	case "round-robin":
		return txm.NewRoundRobinSelector(pool)
	default:
		return txm.NewRandomSelector(pool)
	}
}

type balanceCfg struct {
	period time.Duration
}

func (c balanceCfg) BalancePollPeriod() time.Duration {
	return c.period
}
