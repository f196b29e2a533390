package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the pool daemon.
type Config struct {
	ListenAddress string          `yaml:"listen"`
	Environment   string          `yaml:"env"`
	DataDir       string          `yaml:"data_dir"`
	Identities    IdentityConfig  `yaml:"identities"`
	Fees          FeeConfig       `yaml:"fees"`
	BridgeAsset   string          `yaml:"bridge_asset"`
	FeeAsset      string          `yaml:"fee_asset"`
	Reserves      []ReserveConfig `yaml:"reserves"`
}

// IdentityConfig names the privileged accounts wired into the engine.
type IdentityConfig struct {
	Configurator string `yaml:"configurator"`
	OrderBook    string `yaml:"order_book"`
	Treasury     string `yaml:"treasury"`
	Custody      string `yaml:"custody"`
}

// FeeConfig carries the owner-settable fees in basis points.
type FeeConfig struct {
	BorrowBps   uint64 `yaml:"borrow_bps"`
	WithdrawBps uint64 `yaml:"withdraw_bps"`
}

// ReserveConfig describes one listed asset.
type ReserveConfig struct {
	Asset                string `yaml:"asset"`
	Decimals             uint8  `yaml:"decimals"`
	LTV                  uint64 `yaml:"ltv"`
	LiquidationThreshold uint64 `yaml:"liquidation_threshold"`
	LiquidationBonus     uint64 `yaml:"liquidation_bonus"`
	BorrowingEnabled     bool   `yaml:"borrowing_enabled"`
	CollateralEnabled    bool   `yaml:"collateral_enabled"`
	// Price seeds the static oracle, in reference units per whole token.
	Price string `yaml:"price"`
}

const (
	defaultListen  = ":8644"
	defaultDataDir = "./poold-data"
	maxFeeBps      = 100
)

// Load reads the YAML configuration from disk and validates the result.
func Load(path string) (Config, error) {
	cfg := Config{
		ListenAddress: defaultListen,
		DataDir:       defaultDataDir,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = defaultListen
	}
	cfg.Environment = strings.TrimSpace(cfg.Environment)
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.BridgeAsset = strings.TrimSpace(cfg.BridgeAsset)
	cfg.FeeAsset = strings.TrimSpace(cfg.FeeAsset)
	cfg.Identities.normalize()
	for i := range cfg.Reserves {
		cfg.Reserves[i].Asset = strings.TrimSpace(cfg.Reserves[i].Asset)
		cfg.Reserves[i].Price = strings.TrimSpace(cfg.Reserves[i].Price)
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if err := cfg.Identities.validate(); err != nil {
		return fmt.Errorf("identities: %w", err)
	}
	if err := cfg.Fees.validate(); err != nil {
		return fmt.Errorf("fees: %w", err)
	}
	if cfg.BridgeAsset != "" && !common.IsHexAddress(cfg.BridgeAsset) {
		return fmt.Errorf("bridge_asset: invalid address %q", cfg.BridgeAsset)
	}
	if cfg.FeeAsset != "" && !common.IsHexAddress(cfg.FeeAsset) {
		return fmt.Errorf("fee_asset: invalid address %q", cfg.FeeAsset)
	}
	seen := make(map[string]struct{}, len(cfg.Reserves))
	for i, reserve := range cfg.Reserves {
		if err := reserve.validate(); err != nil {
			return fmt.Errorf("reserves[%d]: %w", i, err)
		}
		key := strings.ToLower(reserve.Asset)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("reserves[%d]: duplicate asset %s", i, reserve.Asset)
		}
		seen[key] = struct{}{}
	}
	return nil
}

func (cfg *IdentityConfig) normalize() {
	if cfg == nil {
		return
	}
	cfg.Configurator = strings.TrimSpace(cfg.Configurator)
	cfg.OrderBook = strings.TrimSpace(cfg.OrderBook)
	cfg.Treasury = strings.TrimSpace(cfg.Treasury)
	cfg.Custody = strings.TrimSpace(cfg.Custody)
}

func (cfg IdentityConfig) validate() error {
	for name, value := range map[string]string{
		"configurator": cfg.Configurator,
		"order_book":   cfg.OrderBook,
		"treasury":     cfg.Treasury,
		"custody":      cfg.Custody,
	} {
		if value == "" {
			return fmt.Errorf("%s is required", name)
		}
		if !common.IsHexAddress(value) {
			return fmt.Errorf("%s: invalid address %q", name, value)
		}
	}
	return nil
}

func (cfg FeeConfig) validate() error {
	if cfg.BorrowBps > maxFeeBps {
		return fmt.Errorf("borrow_bps must not exceed %d", maxFeeBps)
	}
	if cfg.WithdrawBps > maxFeeBps {
		return fmt.Errorf("withdraw_bps must not exceed %d", maxFeeBps)
	}
	return nil
}

func (cfg ReserveConfig) validate() error {
	if cfg.Asset == "" {
		return fmt.Errorf("asset is required")
	}
	if !common.IsHexAddress(cfg.Asset) {
		return fmt.Errorf("asset: invalid address %q", cfg.Asset)
	}
	if cfg.Decimals > 36 {
		return fmt.Errorf("decimals must not exceed 36")
	}
	if cfg.LTV > 10_000 {
		return fmt.Errorf("ltv must not exceed 10000 basis points")
	}
	if cfg.LiquidationThreshold > 10_000 {
		return fmt.Errorf("liquidation_threshold must not exceed 10000 basis points")
	}
	if cfg.LiquidationThreshold < cfg.LTV {
		return fmt.Errorf("liquidation_threshold must be at least ltv")
	}
	if cfg.LiquidationBonus > 10_000 {
		return fmt.Errorf("liquidation_bonus must not exceed 10000 basis points")
	}
	return nil
}
