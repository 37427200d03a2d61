package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	commonconfig "github.com/smartcontractkit/chainlink-common/pkg/config"

	"github.com/impactledger/ethworker/txm"
)

const (
	defaultBalancePollPeriod = 30 * time.Second
	defaultMetricsAddr       = ":9090"
)

// Config is the worker daemon's configuration: a TOML file with environment
// overrides for the secrets-adjacent values. Read once at startup.
type Config struct {
	NodeURL     string `toml:"NodeURL" validate:"required,url"`
	DatabaseURL string `toml:"DatabaseURL" validate:"required"`
	MetricsAddr string `toml:"MetricsAddr"`
	ChainName   string `toml:"ChainName"`

	// Accounts is the static pool of pre-funded sender addresses.
	Accounts []string `toml:"Accounts" validate:"required,min=1,dive,eth_addr"`
	// Selection picks the account selector implementation.
	Selection string `toml:"Selection" validate:"omitempty,oneof=random round-robin"`

	MaxInflightPerAccount int                    `toml:"MaxInflightPerAccount" validate:"omitempty,gte=1"`
	SweepInterval         *commonconfig.Duration `toml:"SweepInterval"`
	StaleAge              *commonconfig.Duration `toml:"StaleAge"`
	DispatchDeadline      *commonconfig.Duration `toml:"DispatchDeadline"`
	BalancePollPeriod     *commonconfig.Duration `toml:"BalancePollPeriod"`
	GasLimit              uint64                 `toml:"GasLimit"`
}

// Load reads the TOML file at path, loads a .env file when present, and
// applies environment overrides. A missing .env file is not an error.
func Load(path string) (Config, error) {
	var cfg Config

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	_ = godotenv.Load()

	if v := os.Getenv("ETH_NODE_URL"); v != "" {
		cfg.NodeURL = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ETH_ACCOUNTS"); v != "" {
		cfg.Accounts = strings.Split(v, ",")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MetricsAddr == "" {
		c.MetricsAddr = defaultMetricsAddr
	}
	if c.ChainName == "" {
		c.ChainName = "ethereum"
	}
	if c.Selection == "" {
		c.Selection = "random"
	}
}

func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// TxmConfig maps the daemon configuration onto the transaction manager's.
// Zero values fall back to the txm defaults.
func (c Config) TxmConfig() txm.Config {
	out := txm.Config{
		MaxInflightPerAccount: c.MaxInflightPerAccount,
		GasLimit:              c.GasLimit,
	}
	if c.SweepInterval != nil {
		out.SweepInterval = c.SweepInterval.Duration()
	}
	if c.StaleAge != nil {
		out.StaleAge = c.StaleAge.Duration()
	}
	if c.DispatchDeadline != nil {
		out.DispatchDeadline = c.DispatchDeadline.Duration()
	}
	return out
}

// BalancePollPeriod satisfies the balance monitor's Config interface.
func (c Config) GetBalancePollPeriod() time.Duration {
	if c.BalancePollPeriod != nil {
		return c.BalancePollPeriod.Duration()
	}
	return defaultBalancePollPeriod
}
