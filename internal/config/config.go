// Package config loads the pool engine's runtime settings from YAML, with
// environment overrides for deployment secrets and endpoints.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"github.com/zlp/pool-engine/internal/fixed"
	"github.com/zlp/pool-engine/internal/period"
	"github.com/zlp/pool-engine/internal/pricing"
)

// Config captures the runtime settings for the pool server.
type Config struct {
	Port        string        `yaml:"port"`
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	Log         LogConfig     `yaml:"log"`
	Chain       ChainConfig   `yaml:"chain"`
	Pool        PoolConfig    `yaml:"pool"`
}

// LogConfig selects the log destination. An empty File logs to stdout.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// ChainConfig selects the block-height source. Without an RPC URL the
// server runs a manual clock starting at StartHeight.
type ChainConfig struct {
	RPCURL      string `yaml:"rpc_url"`
	StartHeight uint64 `yaml:"start_height"`
	// DevTools exposes the mint and block-advance endpoints.
	DevTools bool `yaml:"dev_tools"`
}

// TokenConfig describes an in-memory token collaborator.
type TokenConfig struct {
	Symbol   string `yaml:"symbol"`
	Decimals uint8  `yaml:"decimals"`
}

// PoolConfig is the deployment of a single pool. Boundaries are given either
// explicitly or as a start height plus phase durations. Amounts are base-10
// integer strings.
type PoolConfig struct {
	Address string `yaml:"address"`
	Owner   string `yaml:"owner"`

	LPEnd         uint64 `yaml:"lp_end"`
	AMMEnd        uint64 `yaml:"amm_end"`
	SettlementEnd uint64 `yaml:"settlement_end"`

	Start              uint64 `yaml:"start"`
	LPDuration         uint64 `yaml:"lp_duration"`
	AMMDuration        uint64 `yaml:"amm_duration"`
	SettlementDuration uint64 `yaml:"settlement_duration"`

	Collateral TokenConfig `yaml:"collateral"`
	Borrow     TokenConfig `yaml:"borrow"`

	CollateralEqFactor string `yaml:"collateral_eq_factor"`
	BorrowEqFactor     string `yaml:"borrow_eq_factor"`
	CalcDecimals       string `yaml:"calc_decimals"`

	Alpha                        string `yaml:"alpha"`
	CollateralPrice              string `yaml:"collateral_price"`
	CollateralPriceAnnualizedVol string `yaml:"collateral_price_annualized_vol"`
	BlocksPerYear                uint64 `yaml:"blocks_per_year"`
}

// PoolAmounts are the parsed numeric settings of a PoolConfig.
type PoolAmounts struct {
	CollateralEqFactor *uint256.Int
	BorrowEqFactor     *uint256.Int
	CalcDecimals       *uint256.Int
	Pricing            pricing.Params
}

// Default returns a development configuration: in-memory store, manual
// clock, WETH/USDC at 2000, and phases of 100 blocks each.
func Default() Config {
	return Config{
		Port:     "8080",
		CacheTTL: 30 * time.Second,
		Log:      LogConfig{Level: "info"},
		Chain: ChainConfig{
			StartHeight: 13268710,
			DevTools:    true,
		},
		Pool: PoolConfig{
			Address:                      "0x00000000000000000000000000000000000a11ce",
			Owner:                        "0xa36085F69e2889c224210F603D836748e7dC0088",
			LPEnd:                        13268810,
			AMMEnd:                       13268910,
			SettlementEnd:                13269010,
			Collateral:                   TokenConfig{Symbol: "WETH", Decimals: 18},
			Borrow:                       TokenConfig{Symbol: "USDC", Decimals: 6},
			CollateralEqFactor:           "1000000000000000000",
			BorrowEqFactor:               "2000000000",
			CalcDecimals:                 "1000000000000",
			Alpha:                        "400000000000",
			CollateralPrice:              "2000000000",
			CollateralPriceAnnualizedVol: "1200000000000",
			BlocksPerYear:                2102400,
		},
	}
}

// Load reads the YAML configuration from disk on top of Default, applies
// environment overrides and validates the result. An empty path skips the
// file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}

	cfg.applyEnv(os.Getenv)
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) applyEnv(getenv func(string) string) {
	if v := getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := getenv("ETH_RPC_URL"); v != "" {
		cfg.Chain.RPCURL = v
	}
	if v := getenv("LOG_FILE"); v != "" {
		cfg.Log.File = v
	}
}

func (cfg *Config) normalize() {
	cfg.Port = strings.TrimSpace(cfg.Port)
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	cfg.Log.File = strings.TrimSpace(cfg.Log.File)
	cfg.Chain.RPCURL = strings.TrimSpace(cfg.Chain.RPCURL)
	cfg.Pool.normalize()
}

func (cfg *Config) validate() error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log: unknown level %q", cfg.Log.Level)
	}
	if cfg.RedisURL != "" && cfg.DatabaseURL == "" {
		return fmt.Errorf("redis_url requires database_url")
	}
	if err := cfg.Pool.validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	return nil
}

func (cfg *PoolConfig) normalize() {
	cfg.Address = strings.TrimSpace(cfg.Address)
	cfg.Owner = strings.TrimSpace(cfg.Owner)
	cfg.Collateral.Symbol = strings.TrimSpace(cfg.Collateral.Symbol)
	cfg.Borrow.Symbol = strings.TrimSpace(cfg.Borrow.Symbol)
	if cfg.LPDuration > 0 && cfg.AMMDuration > 0 && cfg.SettlementDuration > 0 {
		b := period.FromDurations(cfg.Start, cfg.LPDuration, cfg.AMMDuration, cfg.SettlementDuration)
		cfg.LPEnd, cfg.AMMEnd, cfg.SettlementEnd = b.LPEnd, b.AMMEnd, b.SettlementEnd
	}
}

func (cfg PoolConfig) validate() error {
	if err := cfg.Boundaries().Validate(); err != nil {
		return err
	}
	for name, addr := range map[string]string{"address": cfg.Address, "owner": cfg.Owner} {
		if !common.IsHexAddress(addr) {
			return fmt.Errorf("%s: invalid hex address %q", name, addr)
		}
	}
	if cfg.Collateral.Symbol == "" || cfg.Borrow.Symbol == "" {
		return fmt.Errorf("token symbols are required")
	}
	if strings.EqualFold(cfg.Collateral.Symbol, cfg.Borrow.Symbol) {
		return fmt.Errorf("collateral and borrow tokens must differ")
	}
	amounts, err := cfg.Amounts()
	if err != nil {
		return err
	}
	if amounts.CollateralEqFactor.IsZero() || amounts.BorrowEqFactor.IsZero() || amounts.CalcDecimals.IsZero() {
		return fmt.Errorf("eq factors and calc_decimals must be positive")
	}
	return amounts.Pricing.Validate()
}

// Boundaries returns the configured phase boundaries.
func (cfg PoolConfig) Boundaries() period.Boundaries {
	return period.Boundaries{LPEnd: cfg.LPEnd, AMMEnd: cfg.AMMEnd, SettlementEnd: cfg.SettlementEnd}
}

// PoolAddress returns the pool account.
func (cfg PoolConfig) PoolAddress() common.Address { return common.HexToAddress(cfg.Address) }

// OwnerAddress returns the owner account.
func (cfg PoolConfig) OwnerAddress() common.Address { return common.HexToAddress(cfg.Owner) }

// Amounts parses the numeric settings.
func (cfg PoolConfig) Amounts() (PoolAmounts, error) {
	var out PoolAmounts
	var err error
	if out.CollateralEqFactor, err = parseField("collateral_eq_factor", cfg.CollateralEqFactor); err != nil {
		return PoolAmounts{}, err
	}
	if out.BorrowEqFactor, err = parseField("borrow_eq_factor", cfg.BorrowEqFactor); err != nil {
		return PoolAmounts{}, err
	}
	if out.CalcDecimals, err = parseField("calc_decimals", cfg.CalcDecimals); err != nil {
		return PoolAmounts{}, err
	}
	if out.Pricing.Alpha, err = parseField("alpha", cfg.Alpha); err != nil {
		return PoolAmounts{}, err
	}
	if out.Pricing.CollateralPrice, err = parseField("collateral_price", cfg.CollateralPrice); err != nil {
		return PoolAmounts{}, err
	}
	if out.Pricing.CollateralPriceAnnualizedVol, err = parseField("collateral_price_annualized_vol", cfg.CollateralPriceAnnualizedVol); err != nil {
		return PoolAmounts{}, err
	}
	out.Pricing.BlocksPerYear = cfg.BlocksPerYear
	return out, nil
}

func parseField(name, raw string) (*uint256.Int, error) {
	v, err := fixed.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return v, nil
}
