package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"github.com/defistate/lending-monitor-go/chains/hyperevm"
	"github.com/defistate/lending-monitor-go/protocols/morphoblue"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"gopkg.in/yaml.v3"
)

// DefaultPeriodsPerYear treats the IRM rate as per-second.
const DefaultPeriodsPerYear = 31_536_000

// MonitorConfig is the YAML configuration of the monitor command.
type MonitorConfig struct {
	RPCURL      string        `yaml:"rpc_url"`
	ChainID     uint64        `yaml:"chain_id"`
	Market      string        `yaml:"market"`
	MarketID    string        `yaml:"market_id"`
	User        string        `yaml:"user"`
	Pinned      PinnedConfig  `yaml:"pinned"`
	BorrowRate  BorrowRate    `yaml:"borrow_rate"`
	CallTimeout time.Duration `yaml:"call_timeout"`
	Metrics     Metrics       `yaml:"metrics"`
	Title       string        `yaml:"title"`
}

// PinnedConfig lists the market parameters the operator expects. A
// difference is reported, not rejected.
type PinnedConfig struct {
	LoanToken       string `yaml:"loan_token"`
	CollateralToken string `yaml:"collateral_token"`
	Oracle          string `yaml:"oracle"`
	Irm             string `yaml:"irm"`
}

// BorrowRate sets how the IRM rate is annualized.
type BorrowRate struct {
	PeriodsPerYear uint64 `yaml:"periods_per_year"`
}

// Metrics configures the optional node-exporter textfile.
type Metrics struct {
	Textfile string `yaml:"textfile"`
}

// LoadConfig reads the YAML configuration at path, fills defaults and validates it.
func LoadConfig(path string) (*MonitorConfig, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	cfg := &MonitorConfig{}
	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *MonitorConfig) normalize() {
	cfg.RPCURL = strings.TrimSpace(cfg.RPCURL)
	if cfg.RPCURL == "" {
		cfg.RPCURL = hyperevm.DefaultURL
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = hyperevm.ChainID
	}
	cfg.Market = strings.TrimSpace(cfg.Market)
	cfg.MarketID = strings.TrimSpace(cfg.MarketID)
	cfg.User = strings.TrimSpace(cfg.User)
	cfg.Pinned.LoanToken = strings.TrimSpace(cfg.Pinned.LoanToken)
	cfg.Pinned.CollateralToken = strings.TrimSpace(cfg.Pinned.CollateralToken)
	cfg.Pinned.Oracle = strings.TrimSpace(cfg.Pinned.Oracle)
	cfg.Pinned.Irm = strings.TrimSpace(cfg.Pinned.Irm)
	if cfg.BorrowRate.PeriodsPerYear == 0 {
		cfg.BorrowRate.PeriodsPerYear = DefaultPeriodsPerYear
	}
	cfg.Metrics.Textfile = strings.TrimSpace(cfg.Metrics.Textfile)
	cfg.Title = strings.TrimSpace(cfg.Title)
}

func (cfg *MonitorConfig) validate() error {
	if cfg.ChainID != hyperevm.ChainID {
		return fmt.Errorf("config: chain_id %d is not supported", cfg.ChainID)
	}
	if cfg.CallTimeout < 0 {
		return fmt.Errorf("config: call_timeout must not be negative")
	}
	addresses := []struct{ name, value string }{
		{"market", cfg.Market},
		{"user", cfg.User},
		{"pinned.loan_token", cfg.Pinned.LoanToken},
		{"pinned.collateral_token", cfg.Pinned.CollateralToken},
		{"pinned.oracle", cfg.Pinned.Oracle},
		{"pinned.irm", cfg.Pinned.Irm},
	}
	for _, a := range addresses {
		if !common.IsHexAddress(a.value) {
			return fmt.Errorf("config: %s %q is not a hex address", a.name, a.value)
		}
	}
	if !isHash(cfg.MarketID) {
		return fmt.Errorf("config: market_id %q is not a 32-byte hex value", cfg.MarketID)
	}
	return nil
}

// isHash reports whether s is a 0x-prefixed 32-byte hex value.
func isHash(s string) bool {
	b, err := hexutil.Decode(s)
	return err == nil && len(b) == common.HashLength
}

func (cfg *MonitorConfig) MarketAddress() common.Address {
	return common.HexToAddress(cfg.Market)
}

func (cfg *MonitorConfig) MarketIDHash() morphoblue.MarketID {
	return common.HexToHash(cfg.MarketID)
}

func (cfg *MonitorConfig) UserAddress() common.Address {
	return common.HexToAddress(cfg.User)
}

func (cfg *MonitorConfig) PinnedParams() morphoblue.PinnedConfig {
	return morphoblue.PinnedConfig{
		LoanToken:       common.HexToAddress(cfg.Pinned.LoanToken),
		CollateralToken: common.HexToAddress(cfg.Pinned.CollateralToken),
		Oracle:          common.HexToAddress(cfg.Pinned.Oracle),
		Irm:             common.HexToAddress(cfg.Pinned.Irm),
	}
}

// RatePeriodsPerYear returns the configured rate convention as a big.Int.
func (cfg *MonitorConfig) RatePeriodsPerYear() *big.Int {
	return new(big.Int).SetUint64(cfg.BorrowRate.PeriodsPerYear)
}
