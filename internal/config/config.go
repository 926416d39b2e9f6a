package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Tinkoff   TinkoffConfig   `yaml:"tinkoff"`
	LLM       LLMConfig       `yaml:"llm"`
	News      NewsConfig      `yaml:"news"`
	Market    MarketConfig    `yaml:"market"`
	Strategy  StrategyConfig  `yaml:"strategy"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Storage   StorageConfig   `yaml:"storage"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Web       WebConfig       `yaml:"web"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type TinkoffConfig struct {
	Token          string `yaml:"token"`
	Sandbox        bool   `yaml:"sandbox"`
	AccountID      string `yaml:"account_id"`
	AppName        string `yaml:"app_name"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

type LLMConfig struct {
	APIKey            string  `yaml:"api_key"`
	BaseURL           string  `yaml:"base_url"`
	Model             string  `yaml:"model"`
	TimeoutSeconds    int     `yaml:"timeout_seconds"`
	Temperature       float32 `yaml:"temperature"`
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	Burst             int     `yaml:"burst"`
}

type NewsConfig struct {
	Enabled        bool   `yaml:"enabled"`
	BaseURL        string `yaml:"base_url"`
	LookbackHours  int    `yaml:"lookback_hours"`
	MaxPages       int    `yaml:"max_pages"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	RetryCount     int    `yaml:"retry_count"`
	MaxHeadlines   int    `yaml:"max_headlines"`
}

// MarketConfig selects the snapshot provider: "broker" (Tinkoff candles and order book) or "yahoo".
type MarketConfig struct {
	Provider       string `yaml:"provider"`
	LookbackDays   int    `yaml:"lookback_days"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SymbolSuffix   string `yaml:"symbol_suffix"`
}

type StrategyConfig struct {
	Instruments          []string `yaml:"instruments"`
	UniverseTop          int      `yaml:"universe_top"`
	MinPrice             float64  `yaml:"min_price"`
	MinAvgVolume         float64  `yaml:"min_avg_volume"`
	MaxSpreadRatio       float64  `yaml:"max_spread_ratio"`
	EarningsBlackoutDays int      `yaml:"earnings_blackout_days"`
	RequireEarningsDate  bool     `yaml:"require_earnings_date"`
	LiquidityFraction    float64  `yaml:"liquidity_fraction"`
	HypeLongThreshold    float64  `yaml:"hype_long_threshold"`
	HypeShortThreshold   float64  `yaml:"hype_short_threshold"`
	MinConfidence        float64  `yaml:"min_confidence"`
}

type RiskConfig struct {
	RiskPerPositionPct    float64 `yaml:"risk_per_position_pct"`
	RewardRiskMultiple    float64 `yaml:"reward_risk_multiple"`
	MaxPositions          int     `yaml:"max_positions"`
	MaxPositionPct        float64 `yaml:"max_position_pct"`
	DrawdownKillSwitchPct float64 `yaml:"drawdown_kill_switch_pct"`
}

type ExecutionConfig struct {
	MaxRetries        int    `yaml:"max_retries"`
	InstrumentRetries int    `yaml:"instrument_retries"`
	RetryDelay        string `yaml:"retry_delay"`
	DryRun            bool   `yaml:"dry_run"`
}

type SchedulerConfig struct {
	Interval        string `yaml:"interval"`
	MarketHoursOnly bool   `yaml:"market_hours_only"`
	Timezone        string `yaml:"timezone"`
	SessionOpen     string `yaml:"session_open"`
	SessionClose    string `yaml:"session_close"`
	Concurrency     int    `yaml:"concurrency"`
	BackoffBase     string `yaml:"backoff_base"`
	BackoffMax      string `yaml:"backoff_max"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   int64  `yaml:"chat_id"`
}

type WebConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// secrets are read from the environment and override the file.
type secrets struct {
	TinkoffToken  string `envconfig:"TINKOFF_TOKEN"`
	LLMAPIKey     string `envconfig:"LLM_API_KEY"`
	TelegramToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	StorageDSN    string `envconfig:"STORAGE_DSN"`
}

const defaultInstrumentRetries = 2

// Load reads, defaults and validates the config file.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Read is Load without validation; `config validate` uses it to report every problem.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// instrument_retries: 0 turns stage retries off, so its default is set before decoding.
	cfg := &Config{Execution: ExecutionConfig{InstrumentRetries: defaultInstrumentRetries}}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	setDefaults(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var s secrets
	if err := envconfig.Process("", &s); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}
	if s.TinkoffToken != "" {
		cfg.Tinkoff.Token = s.TinkoffToken
	}
	if s.LLMAPIKey != "" {
		cfg.LLM.APIKey = s.LLMAPIKey
	}
	if s.TelegramToken != "" {
		cfg.Telegram.BotToken = s.TelegramToken
	}
	if s.StorageDSN != "" {
		cfg.Storage.DSN = s.StorageDSN
	}
	return nil
}

func setDefaults(cfg *Config) {
	if cfg.Tinkoff.AppName == "" {
		cfg.Tinkoff.AppName = "hype-trader"
	}
	if cfg.Tinkoff.TimeoutSeconds == 0 {
		cfg.Tinkoff.TimeoutSeconds = 15
	}

	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "https://api.deepseek.com/v1"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "deepseek-chat"
	}
	if cfg.LLM.TimeoutSeconds == 0 {
		cfg.LLM.TimeoutSeconds = 60
	}
	if cfg.LLM.RequestsPerMinute == 0 {
		cfg.LLM.RequestsPerMinute = 30
	}
	if cfg.LLM.Burst == 0 {
		cfg.LLM.Burst = 1
	}

	if cfg.News.BaseURL == "" {
		cfg.News.BaseURL = "https://iss.moex.com"
	}
	if cfg.News.LookbackHours == 0 {
		cfg.News.LookbackHours = 24
	}
	if cfg.News.MaxPages == 0 {
		cfg.News.MaxPages = 4
	}
	if cfg.News.TimeoutSeconds == 0 {
		cfg.News.TimeoutSeconds = 30
	}
	if cfg.News.RetryCount == 0 {
		cfg.News.RetryCount = 3
	}
	if cfg.News.MaxHeadlines == 0 {
		cfg.News.MaxHeadlines = 10
	}

	if cfg.Market.Provider == "" {
		cfg.Market.Provider = "broker"
	}
	if cfg.Market.LookbackDays == 0 {
		cfg.Market.LookbackDays = 45
	}
	if cfg.Market.TimeoutSeconds == 0 {
		cfg.Market.TimeoutSeconds = 20
	}

	if cfg.Strategy.MinPrice == 0 {
		cfg.Strategy.MinPrice = 5.0
	}
	if cfg.Strategy.MinAvgVolume == 0 {
		cfg.Strategy.MinAvgVolume = 1_000_000
	}
	if cfg.Strategy.MaxSpreadRatio == 0 {
		cfg.Strategy.MaxSpreadRatio = 0.01
	}
	if cfg.Strategy.EarningsBlackoutDays == 0 {
		cfg.Strategy.EarningsBlackoutDays = 2
	}
	if cfg.Strategy.LiquidityFraction == 0 {
		cfg.Strategy.LiquidityFraction = 0.01
	}
	if cfg.Strategy.HypeLongThreshold == 0 {
		cfg.Strategy.HypeLongThreshold = 0.70
	}
	if cfg.Strategy.HypeShortThreshold == 0 {
		cfg.Strategy.HypeShortThreshold = 0.30
	}
	if cfg.Strategy.MinConfidence == 0 {
		cfg.Strategy.MinConfidence = 0.65
	}

	if cfg.Risk.RiskPerPositionPct == 0 {
		cfg.Risk.RiskPerPositionPct = 0.75
	}
	if cfg.Risk.RewardRiskMultiple == 0 {
		cfg.Risk.RewardRiskMultiple = 2.0
	}
	if cfg.Risk.MaxPositions == 0 {
		cfg.Risk.MaxPositions = 6
	}
	if cfg.Risk.MaxPositionPct == 0 {
		cfg.Risk.MaxPositionPct = 10
	}
	if cfg.Risk.DrawdownKillSwitchPct == 0 {
		cfg.Risk.DrawdownKillSwitchPct = 6.0
	}

	if cfg.Execution.MaxRetries == 0 {
		cfg.Execution.MaxRetries = 5
	}
	if cfg.Execution.RetryDelay == "" {
		cfg.Execution.RetryDelay = "2s"
	}

	if cfg.Scheduler.Interval == "" {
		cfg.Scheduler.Interval = "5m"
	}
	if cfg.Scheduler.Timezone == "" {
		cfg.Scheduler.Timezone = "Europe/Moscow"
	}
	if cfg.Scheduler.SessionOpen == "" {
		cfg.Scheduler.SessionOpen = "10:00"
	}
	if cfg.Scheduler.SessionClose == "" {
		cfg.Scheduler.SessionClose = "18:50"
	}
	if cfg.Scheduler.Concurrency == 0 {
		cfg.Scheduler.Concurrency = 4
	}
	if cfg.Scheduler.BackoffBase == "" {
		cfg.Scheduler.BackoffBase = "30s"
	}
	if cfg.Scheduler.BackoffMax == "" {
		cfg.Scheduler.BackoffMax = "16m"
	}

	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.DSN == "" && cfg.Storage.Driver == "sqlite" {
		cfg.Storage.DSN = "data/hype-trader.db"
	}

	if cfg.Web.Port == 0 {
		cfg.Web.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}

	for i, s := range cfg.Strategy.Instruments {
		cfg.Strategy.Instruments[i] = strings.ToUpper(strings.TrimSpace(s))
	}
}

// Validate reports every problem in the config at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Tinkoff.Token == "" {
		add("tinkoff.token is required")
	}
	if c.LLM.APIKey == "" {
		add("llm.api_key is required")
	}
	if len(c.Strategy.Instruments) == 0 && c.Strategy.UniverseTop <= 0 {
		add("strategy.instruments or strategy.universe_top is required")
	}
	for _, s := range c.Strategy.Instruments {
		if s == "" {
			add("strategy.instruments contains an empty symbol")
		}
	}

	switch c.Market.Provider {
	case "broker", "yahoo":
	default:
		add("market.provider must be broker or yahoo, got %q", c.Market.Provider)
	}

	st := c.Strategy
	if st.MinPrice < 0 || st.MinAvgVolume < 0 {
		add("strategy floors must be non-negative")
	}
	if st.MaxSpreadRatio <= 0 || st.MaxSpreadRatio >= 1 {
		add("strategy.max_spread_ratio must be in (0,1), got %v", st.MaxSpreadRatio)
	}
	if st.EarningsBlackoutDays < 0 {
		add("strategy.earnings_blackout_days must be non-negative")
	}
	if st.LiquidityFraction <= 0 || st.LiquidityFraction > 1 {
		add("strategy.liquidity_fraction must be in (0,1], got %v", st.LiquidityFraction)
	}
	if !inUnit(st.HypeLongThreshold) || !inUnit(st.HypeShortThreshold) {
		add("strategy hype thresholds must be in [0,1]")
	}
	if st.HypeShortThreshold >= st.HypeLongThreshold {
		add("strategy.hype_short_threshold must be below hype_long_threshold")
	}
	if !inUnit(st.MinConfidence) {
		add("strategy.min_confidence must be in [0,1], got %v", st.MinConfidence)
	}

	r := c.Risk
	if r.RiskPerPositionPct <= 0 || r.RiskPerPositionPct > 5 {
		add("risk.risk_per_position_pct must be in (0,5], got %v", r.RiskPerPositionPct)
	}
	if r.RewardRiskMultiple < 1.5 || r.RewardRiskMultiple > 2.0 {
		add("risk.reward_risk_multiple must be in [1.5,2.0], got %v", r.RewardRiskMultiple)
	}
	if r.MaxPositions < 1 {
		add("risk.max_positions must be at least 1")
	}
	if r.MaxPositionPct <= 0 || r.MaxPositionPct > 100 {
		add("risk.max_position_pct must be in (0,100], got %v", r.MaxPositionPct)
	}
	if r.DrawdownKillSwitchPct <= 0 || r.DrawdownKillSwitchPct >= 100 {
		add("risk.drawdown_kill_switch_pct must be in (0,100), got %v", r.DrawdownKillSwitchPct)
	}

	if c.Execution.MaxRetries < 1 {
		add("execution.max_retries must be at least 1")
	}
	if c.Execution.InstrumentRetries < 0 {
		add("execution.instrument_retries must be non-negative")
	}

	for name, v := range map[string]string{
		"execution.retry_delay":  c.Execution.RetryDelay,
		"scheduler.interval":     c.Scheduler.Interval,
		"scheduler.backoff_base": c.Scheduler.BackoffBase,
		"scheduler.backoff_max":  c.Scheduler.BackoffMax,
	} {
		if d, err := time.ParseDuration(v); err != nil {
			add("invalid %s %q: %w", name, v, err)
		} else if d <= 0 {
			add("%s must be positive", name)
		}
	}
	if c.Interval() > 0 && c.Interval() < time.Minute {
		add("scheduler.interval must be at least 1m")
	}
	if c.BackoffMax() < c.BackoffBase() {
		add("scheduler.backoff_max must not be below backoff_base")
	}
	if c.Scheduler.Concurrency < 1 {
		add("scheduler.concurrency must be at least 1")
	}
	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		add("invalid scheduler.timezone %q: %w", c.Scheduler.Timezone, err)
	}
	open, errOpen := ParseClock(c.Scheduler.SessionOpen)
	closeAt, errClose := ParseClock(c.Scheduler.SessionClose)
	if errOpen != nil {
		add("invalid scheduler.session_open: %w", errOpen)
	}
	if errClose != nil {
		add("invalid scheduler.session_close: %w", errClose)
	}
	if errOpen == nil && errClose == nil && closeAt <= open {
		add("scheduler.session_close must be after session_open")
	}

	switch c.Storage.Driver {
	case "sqlite", "postgres":
		if c.Storage.DSN == "" {
			add("storage.dsn is required")
		}
	default:
		add("storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}

	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			add("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == 0 {
			add("telegram.chat_id is required when telegram is enabled")
		}
	}

	return errors.Join(errs...)
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// ParseClock parses "HH:MM" into minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("parse %q as HH:MM: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func (c *Config) IsSandbox() bool {
	return c.Tinkoff.Sandbox
}

func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		loc = time.FixedZone("MSK", 3*60*60)
	}
	return loc
}

func (c *Config) Interval() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.Interval)
	return d
}

func (c *Config) BackoffBase() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.BackoffBase)
	return d
}

func (c *Config) BackoffMax() time.Duration {
	d, _ := time.ParseDuration(c.Scheduler.BackoffMax)
	return d
}

func (c *Config) RetryDelay() time.Duration {
	d, _ := time.ParseDuration(c.Execution.RetryDelay)
	return d
}

func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLM.TimeoutSeconds) * time.Second
}

func (c *Config) BrokerTimeout() time.Duration {
	return time.Duration(c.Tinkoff.TimeoutSeconds) * time.Second
}

func (c *Config) MarketTimeout() time.Duration {
	return time.Duration(c.Market.TimeoutSeconds) * time.Second
}

func (c *Config) NewsTimeout() time.Duration {
	return time.Duration(c.News.TimeoutSeconds) * time.Second
}

func (c *Config) NewsLookback() time.Duration {
	return time.Duration(c.News.LookbackHours) * time.Hour
}
