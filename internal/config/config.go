// Package config loads the configuration enumerated in spec §6 via
// spf13/viper, grounded on this tree's original config.go: mapstructure-
// tagged struct; the config file overrides defaults and WAIVER_-prefixed
// environment variables override both.
package config

import (
	"fmt"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the enumerated configuration spec §6 lists:
// { workers_n, inbox_capacity_per_symbol, wal_queue_capacity,
// snapshot_interval_ticks, price_band_bps_per_symbol, self_match_policy,
// cross_symbol_event_order, reservation_ttl_ticks }, plus the
// operator-surface and persistence-location settings SPEC_FULL.md adds.
type Config struct {
	Workers struct {
		N int `mapstructure:"n"`
	} `mapstructure:"workers"`

	Router struct {
		InboxCapacityPerSymbol uint64 `mapstructure:"inbox_capacity_per_symbol"`
	} `mapstructure:"router"`

	Persistence struct {
		WALDir               string `mapstructure:"wal_dir"`
		SnapshotDir          string `mapstructure:"snapshot_dir"`
		WALQueueCapacity     int    `mapstructure:"wal_queue_capacity"`
		SnapshotIntervalTick uint64 `mapstructure:"snapshot_interval_ticks"`
	} `mapstructure:"persistence"`

	Engine struct {
		PriceBandBpsDefault int64  `mapstructure:"price_band_bps_default"`
		SelfMatchPolicy     string `mapstructure:"self_match_policy"` // "Reject" | "CancelOldest"
		ReservationTTLTicks uint64 `mapstructure:"reservation_ttl_ticks"`
	} `mapstructure:"engine"`

	CrossSymbolEventOrder string `mapstructure:"cross_symbol_event_order"` // "AscendingSymbolId"

	AccountService struct {
		BaseURL string `mapstructure:"base_url"`
	} `mapstructure:"account_service"`

	MarketData struct {
		NATSURL string `mapstructure:"nats_url"` // empty => in-memory broadcaster
	} `mapstructure:"market_data"`

	Operator struct {
		Addr        string `mapstructure:"addr"`
		BearerToken string `mapstructure:"bearer_token"`
		RateLimit   string `mapstructure:"rate_limit"` // ulule/limiter formatted rate, e.g. "100-M"
	} `mapstructure:"operator"`

	Metrics struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"metrics"`

	LogLevel string `mapstructure:"log_level"`
}

// Load reads configuration from configPath (a directory containing
// config.yaml), environment variables prefixed WAIVER_, and finally
// hard-coded defaults, in viper's usual override order.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()
	v.SetEnvPrefix("WAIVER")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("workers.n", 4)
	v.SetDefault("router.inbox_capacity_per_symbol", 4096)
	v.SetDefault("persistence.wal_dir", "./data/wal")
	v.SetDefault("persistence.snapshot_dir", "./data/snapshots")
	v.SetDefault("persistence.wal_queue_capacity", 16384)
	v.SetDefault("persistence.snapshot_interval_ticks", 1000)
	v.SetDefault("engine.price_band_bps_default", 3000)
	v.SetDefault("engine.self_match_policy", "Reject")
	v.SetDefault("engine.reservation_ttl_ticks", 600)
	v.SetDefault("cross_symbol_event_order", "AscendingSymbolId")
	v.SetDefault("account_service.base_url", "http://localhost:9100")
	v.SetDefault("operator.addr", ":7070")
	v.SetDefault("operator.rate_limit", "100-M")
	v.SetDefault("metrics.addr", ":9090")
	v.SetDefault("log_level", "info")
}

// NewLogger builds a zap.Logger per LogLevel.
func NewLogger(logLevel string) (*zap.Logger, error) {
	if logLevel == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
