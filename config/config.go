package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
)

// FeedConfig describes an upstream price feed consulted by the oracle
// aggregator.
type FeedConfig struct {
	Name     string `toml:"Name"`
	Endpoint string `toml:"Endpoint"`
	APIKey   string `toml:"APIKey"`
}

// LogConfig controls structured log output.
type LogConfig struct {
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// TelemetryConfig controls the OpenTelemetry exporters.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Headers  string `toml:"Headers"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// RPCConfig controls the JSON-RPC surface.
type RPCConfig struct {
	BearerToken        string  `toml:"BearerToken"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst"`
}

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	Environment   string `toml:"Environment"`

	// QuoteAsset denominates all valuation math.
	QuoteAsset string `toml:"QuoteAsset"`
	// MinCollateralRatioBps is the liquidation threshold in basis points.
	MinCollateralRatioBps uint64 `toml:"MinCollateralRatioBps"`
	MaxSlippageBps        uint64 `toml:"MaxSlippageBps"`
	SwapFeeBps            uint64 `toml:"SwapFeeBps"`
	// ValuationHaircutBps selects the oracle floor valuation strategy when
	// positive.
	ValuationHaircutBps uint64 `toml:"ValuationHaircutBps"`
	DepositTTLSeconds   uint64 `toml:"DepositTTLSeconds"`
	OracleMaxAgeSeconds int64  `toml:"OracleMaxAgeSeconds"`

	// Verifying keys exported by the circuit trusted setup, in the JSON
	// format the proving toolchain emits.
	VaultVerifyingKeyFile string `toml:"VaultVerifyingKeyFile"`
	LoanVerifyingKeyFile  string `toml:"LoanVerifyingKeyFile"`

	AdminAddress  string `toml:"AdminAddress"`
	OracleAddress string `toml:"OracleAddress"`

	// PausedModules lists module names whose entrypoints reject calls.
	PausedModules []string `toml:"PausedModules"`

	OraclePriority []string     `toml:"OraclePriority"`
	OracleFeeds    []FeedConfig `toml:"OracleFeeds"`

	RPC       RPCConfig       `toml:"rpc"`
	Log       LogConfig       `toml:"log"`
	Telemetry TelemetryConfig `toml:"telemetry"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ListenAddress:         ":8545",
		DataDir:               "./data",
		Environment:           "dev",
		QuoteAsset:            "USDC",
		MinCollateralRatioBps: 15_000,
		MaxSlippageBps:        100,
		SwapFeeBps:            30,
		DepositTTLSeconds:     31_536_000,
		OracleMaxAgeSeconds:   120,
		OraclePriority:        []string{"manual"},
		RPC: RPCConfig{
			RateLimitPerSecond: 50,
			RateLimitBurst:     100,
		},
		Log: LogConfig{
			MaxSizeMB:  128,
			MaxBackups: 4,
			MaxAgeDays: 28,
		},
	}
}

// Load reads the configuration from the given path, applying defaults for
// missing fields. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the node cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddress) == "" {
		return fmt.Errorf("config: ListenAddress required")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir required")
	}
	if strings.TrimSpace(c.QuoteAsset) == "" {
		return fmt.Errorf("config: QuoteAsset required")
	}
	if c.MinCollateralRatioBps < 10_000 {
		return fmt.Errorf("config: MinCollateralRatioBps %d below 10000 permits undercollateralized loans", c.MinCollateralRatioBps)
	}
	if c.MaxSlippageBps >= 10_000 {
		return fmt.Errorf("config: MaxSlippageBps %d must be below 10000", c.MaxSlippageBps)
	}
	if c.SwapFeeBps >= 10_000 {
		return fmt.Errorf("config: SwapFeeBps %d must be below 10000", c.SwapFeeBps)
	}
	if c.ValuationHaircutBps >= 10_000 {
		return fmt.Errorf("config: ValuationHaircutBps %d must be below 10000", c.ValuationHaircutBps)
	}
	for _, feed := range c.OracleFeeds {
		if strings.TrimSpace(feed.Name) == "" {
			return fmt.Errorf("config: oracle feed missing Name")
		}
		if strings.TrimSpace(feed.Endpoint) == "" {
			return fmt.Errorf("config: oracle feed %s missing Endpoint", feed.Name)
		}
	}
	return nil
}

// IsPaused reports whether the named module is listed as paused.
func (c *Config) IsPaused(module string) bool {
	for _, name := range c.PausedModules {
		if strings.EqualFold(strings.TrimSpace(name), module) {
			return true
		}
	}
	return false
}
