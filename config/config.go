// Package config assembles runtime configuration from an optional yaml file,
// command line flags and environment variables. API credentials only ever
// come from the environment (optionally loaded from a .env file).
package config

import (
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultBaseURL         = "https://testnet.binance.vision"
	defaultQuoteAsset      = "USDT"
	defaultHistoryPath     = "data/portfolio_history.json"
	defaultJournalDir      = "data/journal"
	defaultDashboardAddr   = ":8080"
	defaultSnapshotRefresh = 5 * time.Minute
)

// Config holds everything the binary needs to run.
type Config struct {
	APIKey    string
	APISecret string

	BaseURL         string        `yaml:"base_url"`
	QuoteAsset      string        `yaml:"quote_asset"`
	HistoryPath     string        `yaml:"history_path"`
	JournalDir      string        `yaml:"journal_dir"`
	DashboardAddr   string        `yaml:"dashboard_addr"`
	SnapshotRefresh time.Duration `yaml:"snapshot_refresh"`

	TLSDomains  []string `yaml:"tls_domains"`
	TLSCacheDir string   `yaml:"tls_cache_dir"`

	// Liquidate makes the binary run a single liquidation and exit instead
	// of serving the dashboard.
	Liquidate bool
}

// Get parses flags, the optional yaml config and the environment.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	liquidate := flag.Bool("liquidate", false, "liquidate the portfolio once and exit")
	addr := flag.String("addr", "", "dashboard listen address (overrides yaml)")
	flag.Parse()

	// a missing .env is fine, the variables may be set directly
	_ = godotenv.Load()

	cfg := Config{
		BaseURL:         defaultBaseURL,
		QuoteAsset:      defaultQuoteAsset,
		HistoryPath:     defaultHistoryPath,
		JournalDir:      defaultJournalDir,
		DashboardAddr:   defaultDashboardAddr,
		SnapshotRefresh: defaultSnapshotRefresh,
	}

	if *configPath != "" {
		if err := fromYaml(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.Liquidate = *liquidate
	if *addr != "" {
		cfg.DashboardAddr = *addr
	}

	cfg.APIKey = os.Getenv("APIKEY")
	cfg.APISecret = os.Getenv("SECRETKEY")
	if cfg.APIKey == "" || cfg.APISecret == "" {
		return Config{}, errors.New("APIKEY and SECRETKEY envs must be set")
	}

	if cfg.SnapshotRefresh <= 0 {
		return Config{}, errors.Errorf("snapshot_refresh must be positive, got %s", cfg.SnapshotRefresh)
	}

	return cfg, nil
}

func fromYaml(path string, cfg *Config) error {
	f, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read config %s", path)
	}
	if err := yaml.Unmarshal(f, cfg); err != nil {
		return errors.Wrapf(err, "failed to parse config %s", path)
	}
	return nil
}
