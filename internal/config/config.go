// Package config loads the YAML configuration describing venue hosts,
// pairs, signal windows, thresholds, fees, and funding parameters (spec
// §6 "Environment"). Every knob has a built-in default; venue hosts, depth
// levels, the ingestion and admin URLs, the DB path, the HTTP address, the
// Redis address, and the metrics toggle also have an environment-variable
// override. The shape follows original_source/arb/config.py's env-var
// fallbacks and the teacher's providers.go struct-tag style.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// MarketConfig is one leg of a configured pair.
type MarketConfig struct {
	Venue    string `yaml:"venue"`
	Symbol   string `yaml:"symbol"`
	MarketID *int   `yaml:"market_id"`
}

// PairConfig is one monitored pair (spec §3 Pair).
type PairConfig struct {
	Name string       `yaml:"name"`
	A    MarketConfig `yaml:"a"`
	B    MarketConfig `yaml:"b"`
}

// FeeConfig is a fallback maker/taker fee pair used when a venue adapter
// cannot report fees itself.
type FeeConfig struct {
	Maker *float64 `yaml:"maker"`
	Taker *float64 `yaml:"taker"`
}

// FundingConfig holds the funding-cycle approximation and PnL-hint
// notional (spec §6).
type FundingConfig struct {
	CycleHours  map[string]int `yaml:"cycle_hours"`
	NotionalUsd float64        `yaml:"notional_usd"`
}

// BucketConfig is one (venue, endpoint-class) rate-limit bucket.
type BucketConfig struct {
	Capacity int     `yaml:"capacity"`
	Refill   float64 `yaml:"refill"`
}

// Config is the full process configuration (spec §6 "Environment").
type Config struct {
	VenueHosts map[string]string `yaml:"venue_hosts"`
	// VenueKinds maps a venue tag to the concrete adapter family that
	// implements it: "lighterlike" or "asterlike" (spec §9 "Pair
	// configuration refers to venues by tag; the composition root maps
	// tag -> adapter instance").
	VenueKinds map[string]string `yaml:"venue_kinds"`

	DepthLevels int          `yaml:"depth_levels"`
	Pairs       []PairConfig `yaml:"pairs"`

	Lookback int     `yaml:"lookback"`
	EMAWindow int    `yaml:"ema_window"`
	EnterZ   float64 `yaml:"enter_z"`
	ExitZ    float64 `yaml:"exit_z"`
	PollMs   int     `yaml:"poll_ms"`

	StaleMsThreshold int `yaml:"stale_ms_threshold"`
	SkewMsThreshold  int `yaml:"skew_ms_threshold"`

	Fees    map[string]FeeConfig `yaml:"fees"`
	Funding FundingConfig        `yaml:"funding"`

	RateLimits map[string]map[string]BucketConfig `yaml:"rate_limits"`

	DBPath string `yaml:"db_path"`

	IngestionURL string `yaml:"ingestion_url"`
	AdminFetchURL string `yaml:"admin_fetch_url"`

	HTTPAddr string `yaml:"http_addr"`

	RedisAddr      string `yaml:"redis_addr"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Default returns the built-in configuration, matching
// original_source/arb/config.py's hardcoded defaults.
func Default() Config {
	return Config{
		VenueHosts: map[string]string{
			"lighter": "https://mainnet.zklighter.elliot.ai",
			"aster":   "https://fapi.asterdex.com",
		},
		VenueKinds: map[string]string{
			"lighter": "lighterlike",
			"aster":   "asterlike",
		},
		DepthLevels: 5,
		Pairs: []PairConfig{
			{
				Name: "BTCUSDT",
				A:    MarketConfig{Venue: "lighter", Symbol: "BTC"},
				B:    MarketConfig{Venue: "aster", Symbol: "BTCUSDT"},
			},
		},
		Lookback:         60,
		EMAWindow:        30,
		EnterZ:           2.0,
		ExitZ:            0.5,
		PollMs:           1000,
		StaleMsThreshold: 3000,
		SkewMsThreshold:  500,
		Fees: map[string]FeeConfig{
			"aster":   {},
			"lighter": {},
		},
		Funding: FundingConfig{
			CycleHours:  map[string]int{"aster": 8, "lighter": 8},
			NotionalUsd: 1000.0,
		},
		DBPath:         "./spreadwatch.db",
		HTTPAddr:       ":8000",
		MetricsEnabled: true,
	}
}

// Load reads path (if non-empty and present) over the defaults, then
// applies environment-variable overrides for the knobs that have one.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LIGHTER_HOST"); v != "" {
		cfg.VenueHosts["lighter"] = v
	}
	if v := os.Getenv("ASTER_HOST"); v != "" {
		cfg.VenueHosts["aster"] = v
	}
	if v := os.Getenv("DEPTH_LEVELS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DepthLevels = n
		}
	}
	if v := os.Getenv("PANEL_INGEST_URL"); v != "" {
		cfg.IngestionURL = v
	}
	if v := os.Getenv("PANEL_ADMIN_URL"); v != "" {
		cfg.AdminFetchURL = v
	}
	if v := os.Getenv("DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("METRICS_ENABLED"); v != "" {
		cfg.MetricsEnabled = v != "0" && v != "false"
	}
}
