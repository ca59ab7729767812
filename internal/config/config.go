// Package config provides configuration management for the delta roller.
package config

import (
	"fmt"
	"os"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied when the rules section leaves a knob unset.
const (
	// defaultMinDelta is the absolute delta at which a long option rolls.
	defaultMinDelta = 0.8
	// defaultShortCloseAsk is the per-share ask at or below which a short
	// option is considered cheap enough to cover.
	defaultShortCloseAsk = 0.05
	// defaultStrikeCount bounds the chain lookup around the money.
	defaultStrikeCount = 20
	// defaultMinOpenInterest is the liquidity floor below which a roll
	// candidate draws a warning.
	defaultMinOpenInterest = 5
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Rules       RulesConfig       `yaml:"rules"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	ClientID     string `yaml:"client_id"`
	AccountID    string `yaml:"account_id"`
	RefreshToken string `yaml:"refresh_token"`
	APIEndpoint  string `yaml:"api_endpoint"`
	// SubmitOrders gates live submission. When false the run prints the
	// orders it would have placed and stops there.
	SubmitOrders bool `yaml:"submit_orders"`
}

// RulesConfig defines the decision thresholds.
type RulesConfig struct {
	MinDelta        float64 `yaml:"min_delta"`
	ShortCloseAsk   float64 `yaml:"short_close_ask"`
	StrikeCount     int     `yaml:"strike_count"`
	MinOpenInterest int64   `yaml:"min_open_interest"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Rules.MinDelta == 0 {
		c.Rules.MinDelta = defaultMinDelta
	}
	if c.Rules.ShortCloseAsk == 0 {
		c.Rules.ShortCloseAsk = defaultShortCloseAsk
	}
	if c.Rules.StrikeCount == 0 {
		c.Rules.StrikeCount = defaultStrikeCount
	}
	if c.Rules.MinOpenInterest == 0 {
		c.Rules.MinOpenInterest = defaultMinOpenInterest
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	// Environment validation
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	// Broker validation
	if c.Broker.ClientID == "" {
		return fmt.Errorf("broker.client_id is required")
	}
	if c.Broker.AccountID == "" {
		return fmt.Errorf("broker.account_id is required")
	}
	if c.Broker.RefreshToken == "" {
		return fmt.Errorf("broker.refresh_token is required")
	}
	if c.Environment.Mode == "paper" && c.Broker.SubmitOrders {
		return fmt.Errorf("broker.submit_orders requires environment.mode 'live'")
	}

	// Rules validation
	if c.Rules.MinDelta <= 0 || c.Rules.MinDelta > 1.0 {
		return fmt.Errorf("rules.min_delta must be between 0 and 1.0")
	}
	if c.Rules.ShortCloseAsk <= 0 {
		return fmt.Errorf("rules.short_close_ask must be > 0")
	}
	if c.Rules.StrikeCount < 0 {
		return fmt.Errorf("rules.strike_count must be >= 0")
	}
	if c.Rules.MinOpenInterest < 0 {
		return fmt.Errorf("rules.min_open_interest must be >= 0")
	}

	return nil
}

// IsLive reports whether the configuration targets live trading.
func (c *Config) IsLive() bool {
	return c.Environment.Mode == "live"
}

// GetLogLevel returns the configured log level or "info" when unset.
func (c *Config) GetLogLevel() string {
	if c.Environment.LogLevel == "" {
		return "info"
	}
	return c.Environment.LogLevel
}
