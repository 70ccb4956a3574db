// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App       AppConfig       `yaml:"app"`
	Exchange  ExchangeConfig  `yaml:"exchange"`
	Risk      RiskConfig      `yaml:"risk"`
	Trailing  TrailingConfig  `yaml:"trailing"`
	Signal    SignalConfig    `yaml:"signal"`
	System    SystemConfig    `yaml:"system"`
	Server    ServerConfig    `yaml:"server"`
	Alert     AlertConfig     `yaml:"alert"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Symbols         []string `yaml:"symbols"`
	Interval        string   `yaml:"interval"`         // trading timeframe, e.g. 1m
	ConfirmInterval string   `yaml:"confirm_interval"` // higher timeframe for the trend veto
	PollEnabled     bool     `yaml:"poll_enabled"`
	QuoteAsset      string   `yaml:"quote_asset"`
	MaxWorkers      int      `yaml:"max_workers"`
}

// ExchangeConfig contains exchange connectivity settings
type ExchangeConfig struct {
	APIKey        string `yaml:"api_key"`
	SecretKey     string `yaml:"secret_key"`
	BaseURL       string `yaml:"base_url"` // optional override, also used for testnet
	CallTimeoutMS int    `yaml:"call_timeout_ms"`
	RateLimit     int    `yaml:"rate_limit"` // requests per second
	RateBurst     int    `yaml:"rate_burst"`
}

// RiskConfig contains the sizing and exit-derivation parameters
type RiskConfig struct {
	MaxMarginFraction   float64 `yaml:"max_margin_fraction"`
	RiskPctFloor        float64 `yaml:"risk_pct_floor"`
	RiskPctCeil         float64 `yaml:"risk_pct_ceil"`
	LeverageFloor       int     `yaml:"leverage_floor"`
	LeverageCeil        int     `yaml:"leverage_ceil"`
	BalanceFloor        float64 `yaml:"balance_floor"` // balance at/below which floors apply
	BalanceCeil         float64 `yaml:"balance_ceil"`  // balance at/above which ceilings apply
	StopATRMultiplier   float64 `yaml:"stop_atr_multiplier"`
	RewardATRMultiplier float64 `yaml:"reward_atr_multiplier"`
	MinProfitMargin     float64 `yaml:"min_profit_margin"`
	RefreshExits        bool    `yaml:"refresh_exits"` // re-plan exits on repeated aligned signals
}

// TrailingConfig controls the optional trailing-stop leg
type TrailingConfig struct {
	Enabled          bool    `yaml:"enabled"`
	CallbackRate     float64 `yaml:"callback_rate"`     // percent, e.g. 1.0
	ActivationOffset float64 `yaml:"activation_offset"` // fraction of entry, e.g. 0.01
}

// SignalConfig parameterizes the built-in kline signal source
type SignalConfig struct {
	Lookback  int `yaml:"lookback"`
	ATRWindow int `yaml:"atr_window"`
	FastEMA   int `yaml:"fast_ema"`
	SlowEMA   int `yaml:"slow_ema"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port int `yaml:"port"`
}

// AlertConfig contains notification channel settings
type AlertConfig struct {
	TelegramBotToken string `yaml:"telegram_bot_token"`
	TelegramChatID   string `yaml:"telegram_chat_id"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	EnableMetrics bool `yaml:"enable_metrics"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable expansion
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := os.ExpandEnv(string(data))

	var config Config
	if err := yaml.Unmarshal([]byte(expandedData), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.App.Interval == "" {
		c.App.Interval = "1m"
	}
	if c.App.ConfirmInterval == "" {
		c.App.ConfirmInterval = "15m"
	}
	if c.App.QuoteAsset == "" {
		c.App.QuoteAsset = "USDT"
	}
	if c.App.MaxWorkers <= 0 {
		c.App.MaxWorkers = len(c.App.Symbols)
	}
	if c.Exchange.CallTimeoutMS <= 0 {
		c.Exchange.CallTimeoutMS = 5000
	}
	if c.Exchange.RateLimit <= 0 {
		c.Exchange.RateLimit = 10
	}
	if c.Exchange.RateBurst <= 0 {
		c.Exchange.RateBurst = 20
	}
	if c.Risk.MaxMarginFraction <= 0 {
		c.Risk.MaxMarginFraction = 0.8
	}
	if c.Risk.StopATRMultiplier <= 0 {
		c.Risk.StopATRMultiplier = 1.5
	}
	if c.Risk.RewardATRMultiplier <= 0 {
		c.Risk.RewardATRMultiplier = 2.5
	}
	if c.Risk.RiskPctFloor <= 0 {
		c.Risk.RiskPctFloor = 0.005
	}
	if c.Risk.RiskPctCeil <= 0 {
		c.Risk.RiskPctCeil = 0.02
	}
	if c.Risk.LeverageFloor <= 0 {
		c.Risk.LeverageFloor = 1
	}
	if c.Risk.LeverageCeil <= 0 {
		c.Risk.LeverageCeil = 20
	}
	if c.Risk.BalanceFloor <= 0 {
		c.Risk.BalanceFloor = 50
	}
	if c.Risk.BalanceCeil <= 0 {
		c.Risk.BalanceCeil = 1000
	}
	if c.Signal.Lookback <= 0 {
		c.Signal.Lookback = 100
	}
	if c.Signal.ATRWindow <= 0 {
		c.Signal.ATRWindow = 14
	}
	if c.Signal.FastEMA <= 0 {
		c.Signal.FastEMA = 20
	}
	if c.Signal.SlowEMA <= 0 {
		c.Signal.SlowEMA = 50
	}
	if c.System.LogLevel == "" {
		c.System.LogLevel = "INFO"
	}
	if c.Server.Port <= 0 {
		c.Server.Port = 8080
	}
	if c.Trailing.Enabled && c.Trailing.CallbackRate <= 0 {
		c.Trailing.CallbackRate = 1.0
	}
	if c.Trailing.Enabled && c.Trailing.ActivationOffset <= 0 {
		c.Trailing.ActivationOffset = 0.01
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string

	if err := c.validateApp(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateExchange(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateRisk(); err != nil {
		errs = append(errs, err.Error())
	}
	if err := c.validateSystem(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

var validIntervals = []string{"1m", "3m", "5m", "15m", "30m", "1h", "2h", "4h", "6h", "8h", "12h", "1d"}

func (c *Config) validateApp() error {
	if len(c.App.Symbols) == 0 {
		return ValidationError{
			Field:   "app.symbols",
			Message: "at least one symbol is required",
		}
	}
	for _, s := range c.App.Symbols {
		if s == "" || s != strings.ToUpper(s) {
			return ValidationError{
				Field:   "app.symbols",
				Value:   s,
				Message: "symbols must be non-empty and upper case",
			}
		}
	}
	if !contains(validIntervals, c.App.Interval) {
		return ValidationError{
			Field:   "app.interval",
			Value:   c.App.Interval,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validIntervals, ", ")),
		}
	}
	if !contains(validIntervals, c.App.ConfirmInterval) {
		return ValidationError{
			Field:   "app.confirm_interval",
			Value:   c.App.ConfirmInterval,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validIntervals, ", ")),
		}
	}
	if IntervalDuration(c.App.ConfirmInterval) <= IntervalDuration(c.App.Interval) {
		return ValidationError{
			Field:   "app.confirm_interval",
			Value:   c.App.ConfirmInterval,
			Message: "confirm interval must be longer than the trading interval",
		}
	}
	return nil
}

func (c *Config) validateExchange() error {
	if c.Exchange.APIKey == "" {
		return ValidationError{
			Field:   "exchange.api_key",
			Message: "API key is required",
		}
	}
	if c.Exchange.SecretKey == "" {
		return ValidationError{
			Field:   "exchange.secret_key",
			Message: "secret key is required",
		}
	}
	return nil
}

func (c *Config) validateRisk() error {
	if c.Risk.MaxMarginFraction <= 0 || c.Risk.MaxMarginFraction > 1 {
		return ValidationError{
			Field:   "risk.max_margin_fraction",
			Value:   c.Risk.MaxMarginFraction,
			Message: "must be within (0, 1]",
		}
	}
	if c.Risk.RiskPctFloor > c.Risk.RiskPctCeil {
		return ValidationError{
			Field:   "risk.risk_pct_floor",
			Value:   c.Risk.RiskPctFloor,
			Message: "must not exceed risk_pct_ceil",
		}
	}
	if c.Risk.RiskPctCeil > 1 {
		return ValidationError{
			Field:   "risk.risk_pct_ceil",
			Value:   c.Risk.RiskPctCeil,
			Message: "must be within (0, 1]",
		}
	}
	if c.Risk.LeverageFloor > c.Risk.LeverageCeil {
		return ValidationError{
			Field:   "risk.leverage_floor",
			Value:   c.Risk.LeverageFloor,
			Message: "must not exceed leverage_ceil",
		}
	}
	if c.Risk.BalanceFloor >= c.Risk.BalanceCeil {
		return ValidationError{
			Field:   "risk.balance_floor",
			Value:   c.Risk.BalanceFloor,
			Message: "must be below balance_ceil",
		}
	}
	if c.Trailing.Enabled && (c.Trailing.CallbackRate < 0.1 || c.Trailing.CallbackRate > 10) {
		return ValidationError{
			Field:   "trailing.callback_rate",
			Value:   c.Trailing.CallbackRate,
			Message: "must be within [0.1, 10] percent",
		}
	}
	return nil
}

func (c *Config) validateSystem() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// CallTimeout returns the bounded per-call gateway timeout.
func (c *ExchangeConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutMS) * time.Millisecond
}

// IntervalDuration converts an exchange interval string to a duration.
// Unknown intervals return zero.
func IntervalDuration(interval string) time.Duration {
	switch interval {
	case "1m":
		return time.Minute
	case "3m":
		return 3 * time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "30m":
		return 30 * time.Minute
	case "1h":
		return time.Hour
	case "2h":
		return 2 * time.Hour
	case "4h":
		return 4 * time.Hour
	case "6h":
		return 6 * time.Hour
	case "8h":
		return 8 * time.Hour
	case "12h":
		return 12 * time.Hour
	case "1d":
		return 24 * time.Hour
	}
	return 0
}

// String returns a string representation of the configuration with secrets masked
func (c *Config) String() string {
	configCopy := *c
	configCopy.Exchange.APIKey = maskString(c.Exchange.APIKey)
	configCopy.Exchange.SecretKey = maskString(c.Exchange.SecretKey)
	configCopy.Alert.TelegramBotToken = maskString(c.Alert.TelegramBotToken)

	data, _ := yaml.Marshal(configCopy)
	return string(data)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// DefaultConfig returns a default configuration for testing
func DefaultConfig() *Config {
	cfg := &Config{
		App: AppConfig{
			Symbols:         []string{"BTCUSDT"},
			Interval:        "1m",
			ConfirmInterval: "15m",
			PollEnabled:     true,
			QuoteAsset:      "USDT",
		},
		Exchange: ExchangeConfig{
			APIKey:    "test_api_key",
			SecretKey: "test_secret_key",
		},
		Trailing: TrailingConfig{
			Enabled:          true,
			CallbackRate:     1.0,
			ActivationOffset: 0.01,
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
	}
	cfg.applyDefaults()
	return cfg
}
