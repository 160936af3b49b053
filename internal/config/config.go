// Package config loads process configuration from the environment and an
// optional YAML file describing which TrueFi contracts to watch and which
// price oracles to use.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("config: invalid value")

// Config is the full process configuration.
type Config struct {
	Port         string
	DatabaseURL  string
	RedisURL     string
	CacheTTL     time.Duration
	RPCURL       string
	Network      string
	StartBlock   uint64
	BatchSize    uint64
	PollInterval time.Duration
	ConfigFile   string

	Protocol Protocol
}

// Protocol is the YAML part of the configuration.
type Protocol struct {
	// Contracts whose events create markets.
	PoolFactories      []string `yaml:"pool_factories"`
	PortfolioFactories []string `yaml:"portfolio_factories"`
	// Markets known before the start block.
	Pools      []string `yaml:"pools"`
	Portfolios []string `yaml:"portfolios"`
	// Loan, liquidation and staking contracts.
	Lenders     []string `yaml:"lenders"`
	Liquidators []string `yaml:"liquidators"`
	Staking     []string `yaml:"staking"`
	Farms       []string `yaml:"farms"`

	// Stablecoin token -> tokenToUsd oracle.
	StablecoinOracles map[string]string `yaml:"stablecoin_oracles"`
	// TRU/USD oracle (truToUsd, 18 decimals).
	TruOracle string `yaml:"tru_oracle"`
	// Token -> Chainlink aggregator (latestAnswer, 8 decimals) for everything else.
	PriceFeeds map[string]string `yaml:"price_feeds"`

	// Track Synthetix system settings and global debt on the periodic block hook.
	Synthetix bool `yaml:"synthetix"`
}

// Load reads the environment and, if CONFIG_FILE is set, the YAML file it
// points to. Environment variables inside the YAML are expanded.
func Load() (*Config, error) {
	cfg := &Config{
		Port:         getenv("PORT", "8080"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		RedisURL:     os.Getenv("REDIS_URL"),
		RPCURL:       os.Getenv("RPC_URL"),
		Network:      getenv("NETWORK", "mainnet"),
		ConfigFile:   os.Getenv("CONFIG_FILE"),
		CacheTTL:     30 * time.Second,
		BatchSize:    2000,
		PollInterval: 12 * time.Second,
	}

	var err error
	if cfg.StartBlock, err = uintEnv("START_BLOCK", 0); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = uintEnv("BATCH_SIZE", cfg.BatchSize); err != nil {
		return nil, err
	}
	if cfg.BatchSize == 0 {
		return nil, fmt.Errorf("%w: BATCH_SIZE must be positive", ErrInvalid)
	}
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL", cfg.CacheTTL); err != nil {
		return nil, err
	}

	if cfg.ConfigFile != "" {
		p, err := LoadProtocol(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		cfg.Protocol = *p
	}
	return cfg, nil
}

// IngestEnabled reports whether a chain endpoint is configured.
func (c *Config) IngestEnabled() bool { return c.RPCURL != "" }

// LoadProtocol parses the YAML protocol file at path.
func LoadProtocol(path string) (*Protocol, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return ParseProtocol(data)
}

// ParseProtocol parses YAML protocol configuration and validates every
// address in it.
func ParseProtocol(data []byte) (*Protocol, error) {
	var p Protocol
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &p); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Protocol) validate() error {
	lists := map[string][]string{
		"pool_factories":      p.PoolFactories,
		"portfolio_factories": p.PortfolioFactories,
		"pools":               p.Pools,
		"portfolios":          p.Portfolios,
		"lenders":             p.Lenders,
		"liquidators":         p.Liquidators,
		"staking":             p.Staking,
		"farms":               p.Farms,
	}
	for field, addrs := range lists {
		for _, a := range addrs {
			if !common.IsHexAddress(a) {
				return fmt.Errorf("%w: %s: %q is not an address", ErrInvalid, field, a)
			}
		}
	}
	for token, oracle := range p.StablecoinOracles {
		if !common.IsHexAddress(token) || !common.IsHexAddress(oracle) {
			return fmt.Errorf("%w: stablecoin_oracles: %s -> %s", ErrInvalid, token, oracle)
		}
	}
	for token, feed := range p.PriceFeeds {
		if !common.IsHexAddress(token) || !common.IsHexAddress(feed) {
			return fmt.Errorf("%w: price_feeds: %s -> %s", ErrInvalid, token, feed)
		}
	}
	if p.TruOracle != "" && !common.IsHexAddress(p.TruOracle) {
		return fmt.Errorf("%w: tru_oracle: %q", ErrInvalid, p.TruOracle)
	}
	return nil
}

// AddressMap converts a token->contract map into typed addresses.
func AddressMap(m map[string]string) map[common.Address]common.Address {
	out := make(map[common.Address]common.Address, len(m))
	for k, v := range m {
		out[common.HexToAddress(k)] = common.HexToAddress(v)
	}
	return out
}

// Addresses converts a list of hex strings into typed addresses.
func Addresses(list []string) []common.Address {
	out := make([]common.Address, 0, len(list))
	for _, a := range list {
		out = append(out, common.HexToAddress(a))
	}
	return out
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func uintEnv(key string, def uint64) (uint64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: %s=%q", ErrInvalid, key, v)
	}
	return d, nil
}
