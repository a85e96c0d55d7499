// config/config.go
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// BreakerConfig holds the thresholds and timing of the trading circuit breaker.
// All percentages are fractions (0.05 == 5%).
type BreakerConfig struct {
	DailyLossLimitPct      float64 `yaml:"daily_loss_limit_pct"`
	MaxDrawdownPct         float64 `yaml:"max_drawdown_pct"`
	ConsecutiveLossLimit   int     `yaml:"consecutive_loss_limit"`
	MaxAPIErrors           int     `yaml:"max_api_errors"`
	APIErrorWindowMinutes  float64 `yaml:"api_error_window_minutes"`
	CooldownMinutes        float64 `yaml:"cooldown_minutes"`
	AutoResetAfterHours    float64 `yaml:"auto_reset_after_hours"`
	RecoveryTradesRequired int     `yaml:"recovery_trades_required"`
}

// ExecutorConfig holds tunables for the smart order executor.
type ExecutorConfig struct {
	PollIntervalMS        int     `yaml:"poll_interval_ms"`
	DefaultTimeoutSeconds int     `yaml:"default_timeout_seconds"`
	ChaseOffset           float64 `yaml:"chase_offset"`
	MaxChasePct           float64 `yaml:"max_chase_pct"`
}

// RiskConfig holds parameters for the pre-trade gate checks that sit behind
// the circuit breaker.
type RiskConfig struct {
	LiquidationBuffer float64 `yaml:"liquidation_buffer"`
	MaxSafeLeverage   float64 `yaml:"max_safe_leverage"`
}

// LogConfig holds the configuration for logging.
type LogConfig struct {
	LogLevel   string `yaml:"log_level"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// NormalConfig holds all general, non-strategy-specific configuration.
type NormalConfig struct {
	HTTPTimeoutSeconds int    `yaml:"http_timeout_seconds"`
	MonitorListenAddr  string `yaml:"monitor_listen_addr"`
	LogDirectory       string `yaml:"log_directory"`
	StateDirectory     string `yaml:"state_directory"`
	TickerWSURL        string `yaml:"ticker_ws_url"`
}

// Config is the top-level configuration structure.
type Config struct {
	Symbol             string  `yaml:"symbol"`
	UseSimulation      bool    `yaml:"use_simulation"`
	SessionBalanceUSDT float64 `yaml:"session_balance_usdt"`

	Breaker  *BreakerConfig  `yaml:"breaker"`
	Executor *ExecutorConfig `yaml:"executor"`
	Risk     *RiskConfig     `yaml:"risk"`
	Normal   *NormalConfig   `yaml:"normal_config"`
	Logs     *LogConfig      `yaml:"logs"`
}

// NewConfig creates a new Config struct with essential allocations but no magic numbers.
// All critical parameters MUST be provided in the config.yaml file.
func NewConfig() *Config {
	return &Config{
		UseSimulation: false,
		// Allocate memory for nested structs, but their fields will be zero-valued.
		// Validation will ensure they are populated from the YAML file.
		Breaker:  &BreakerConfig{},
		Executor: &ExecutorConfig{},
		Risk:     &RiskConfig{},
		Normal:   &NormalConfig{},
		Logs:     &LogConfig{},
	}
}

// LoadConfig loads configuration from a given path and validates it.
func LoadConfig(path string) (*Config, error) {
	cfg := NewConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("Error: Config file config.yaml not found at %s. Program cannot run without a config file", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the logical consistency and completeness of the entire configuration.
func (c *Config) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("Critical config missing: 'symbol' must be explicitly specified in config.yaml")
	}
	if c.SessionBalanceUSDT <= 0 {
		return fmt.Errorf("Critical config missing: 'session_balance_usdt' must be explicitly specified in config.yaml and be positive")
	}

	if c.Breaker == nil {
		return fmt.Errorf("Critical config missing: 'breaker' configuration block must be provided in config.yaml")
	}
	if c.Breaker.DailyLossLimitPct <= 0 || c.Breaker.DailyLossLimitPct >= 1 {
		return fmt.Errorf("Critical config missing: 'breaker.daily_loss_limit_pct' must be specified in config.yaml as a fraction in (0, 1)")
	}
	if c.Breaker.MaxDrawdownPct <= 0 || c.Breaker.MaxDrawdownPct >= 1 {
		return fmt.Errorf("Critical config missing: 'breaker.max_drawdown_pct' must be specified in config.yaml as a fraction in (0, 1)")
	}
	if c.Breaker.ConsecutiveLossLimit <= 0 {
		return fmt.Errorf("Critical config missing: 'breaker.consecutive_loss_limit' must be explicitly specified in config.yaml and be positive")
	}
	if c.Breaker.MaxAPIErrors <= 0 {
		return fmt.Errorf("Critical config missing: 'breaker.max_api_errors' must be explicitly specified in config.yaml and be positive")
	}
	if c.Breaker.APIErrorWindowMinutes <= 0 {
		return fmt.Errorf("Critical config missing: 'breaker.api_error_window_minutes' must be explicitly specified in config.yaml and be positive")
	}
	if c.Breaker.CooldownMinutes <= 0 {
		return fmt.Errorf("Critical config missing: 'breaker.cooldown_minutes' must be explicitly specified in config.yaml and be positive")
	}
	if c.Breaker.AutoResetAfterHours <= 0 {
		return fmt.Errorf("Critical config missing: 'breaker.auto_reset_after_hours' must be explicitly specified in config.yaml and be positive")
	}
	if c.Breaker.RecoveryTradesRequired <= 0 {
		return fmt.Errorf("Critical config missing: 'breaker.recovery_trades_required' must be explicitly specified in config.yaml and be positive")
	}

	if c.Executor == nil {
		return fmt.Errorf("Critical config missing: 'executor' configuration block must be provided in config.yaml")
	}
	if c.Executor.PollIntervalMS <= 0 {
		return fmt.Errorf("Critical config missing: 'executor.poll_interval_ms' must be explicitly specified in config.yaml and be positive")
	}
	if c.Executor.DefaultTimeoutSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'executor.default_timeout_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if c.Executor.ChaseOffset < 0 {
		return fmt.Errorf("Config error: executor.chase_offset cannot be negative")
	}
	if c.Executor.MaxChasePct <= 0 {
		return fmt.Errorf("Critical config missing: 'executor.max_chase_pct' must be explicitly specified in config.yaml and be positive")
	}

	if c.Risk == nil {
		return fmt.Errorf("Critical config missing: 'risk' configuration block must be provided in config.yaml")
	}
	if c.Risk.LiquidationBuffer <= 0 || c.Risk.LiquidationBuffer >= 1 {
		return fmt.Errorf("Critical config missing: 'risk.liquidation_buffer' must be specified in config.yaml as a fraction in (0, 1)")
	}
	if c.Risk.MaxSafeLeverage < 1 {
		return fmt.Errorf("Critical config missing: 'risk.max_safe_leverage' must be explicitly specified in config.yaml and be >= 1")
	}

	if c.Normal == nil {
		return fmt.Errorf("Critical config missing: 'normal_config' configuration block must be provided in config.yaml")
	}
	if c.Normal.HTTPTimeoutSeconds <= 0 {
		return fmt.Errorf("Critical config missing: 'normal_config.http_timeout_seconds' must be explicitly specified in config.yaml and be positive")
	}
	if c.Normal.MonitorListenAddr == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.monitor_listen_addr' must be explicitly specified in config.yaml (e.g., ':8900')")
	}
	if c.Normal.LogDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.log_directory' must be explicitly specified in config.yaml (e.g., 'logs')")
	}
	if c.Normal.StateDirectory == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.state_directory' must be explicitly specified in config.yaml (e.g., 'state')")
	}
	if !c.UseSimulation && c.Normal.TickerWSURL == "" {
		return fmt.Errorf("Critical config missing: 'normal_config.ticker_ws_url' must be explicitly specified in config.yaml when use_simulation is false")
	}

	if c.Logs == nil {
		return fmt.Errorf("Critical config missing: 'logs' configuration block must be provided in config.yaml")
	}
	if c.Logs.LogLevel == "" {
		return fmt.Errorf("Critical config missing: 'logs.log_level' must be explicitly specified in config.yaml (e.g., 'info', 'debug', 'warn', 'error')")
	}
	if c.Logs.MaxSizeMB <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_size_mb' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxBackups <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_backups' must be explicitly specified in config.yaml and be positive")
	}
	if c.Logs.MaxAgeDays <= 0 {
		return fmt.Errorf("Critical config missing: 'logs.max_age_days' must be explicitly specified in config.yaml and be positive")
	}

	return nil
}

// EnvConfig carries secrets loaded from the environment (.env or real env vars).
type EnvConfig struct {
	ApiKey    string
	ApiSecret string
	BaseURL   string
}

func LoadEnvConfig() *EnvConfig {
	return &EnvConfig{
		ApiKey:    os.Getenv("EXCHANGE_API_KEY"),
		ApiSecret: os.Getenv("EXCHANGE_SECRET_KEY"),
		BaseURL:   os.Getenv("EXCHANGE_BASE_URL"),
	}
}
