package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/adamoates/Trade-Engine-sub001/feed"
	"github.com/adamoates/Trade-Engine-sub001/infrastructure/logger"
	"github.com/adamoates/Trade-Engine-sub001/risk"
)

// AppConfig holds the main runtime configuration.
type AppConfig struct {
	Env         string                  `yaml:"env"`
	MetricsAddr string                  `yaml:"metricsAddr"`
	Logging     logger.Config           `yaml:"logging"`
	Feed        FeedConfig              `yaml:"feed"`
	Risk        RiskConfig              `yaml:"risk"`
	Bus         BusConfig               `yaml:"bus"`
	Symbols     map[string]SymbolConfig `yaml:"symbols"`
}

type FeedConfig struct {
	WSEndpoint           string `yaml:"wsEndpoint"`
	SnapshotURL          string `yaml:"snapshotURL"`
	SnapshotLimit        int    `yaml:"snapshotLimit"`
	HeartbeatIntervalMs  int    `yaml:"heartbeatIntervalMs"`
	HeartbeatTimeoutMs   int    `yaml:"heartbeatTimeoutMs"`
	StalenessMs          int    `yaml:"stalenessMs"`
	MaxReconnectAttempts int    `yaml:"maxReconnectAttempts"`
	BackoffBaseMs        int    `yaml:"backoffBaseMs"`
	QueueSize            int    `yaml:"queueSize"`
}

// RiskConfig 中的金额/比例字段用字符串承载，转换时走精确十进制。
type RiskConfig struct {
	DailyLossLimit    string `yaml:"dailyLossLimit"` // 负数，例如 "-500"
	MaxDrawdown       string `yaml:"maxDrawdown"`    // 比例，例如 "0.1"
	MaxTradesPerDay   int    `yaml:"maxTradesPerDay"`
	TradingHoursStart string `yaml:"tradingHoursStart"` // "HH:MM" UTC
	TradingHoursEnd   string `yaml:"tradingHoursEnd"`
	RolloverMinuteUTC int    `yaml:"rolloverMinuteUTC"`
	KillSwitchFile    string `yaml:"killSwitchFile"`
}

type BusConfig struct {
	URL             string `yaml:"url"`
	SignalSubject   string `yaml:"signalSubject"`
	DecisionSubject string `yaml:"decisionSubject"`
}

// SymbolConfig 保存交易对层级的深度与风控限制。
type SymbolConfig struct {
	Depth                  int    `yaml:"depth"`
	MaxPositionNotional    string `yaml:"maxPositionNotional"`
	ExposureFraction       string `yaml:"exposureFraction"`
	LongImbalanceThreshold string `yaml:"longImbalanceThreshold"`
	BaseNotional           string `yaml:"baseNotional"`
}

// Load reads YAML config from path and applies basic validation.
func Load(path string) (AppConfig, error) {
	var cfg AppConfig
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadWithEnvOverrides loads config then overrides deployment fields from env vars if present.
func LoadWithEnvOverrides(path string) (AppConfig, error) {
	cfg, err := Load(path)
	if err != nil {
		return cfg, err
	}
	if v := os.Getenv("TE_BUS_URL"); v != "" {
		cfg.Bus.URL = v
	}
	if v := os.Getenv("TE_FEED_WS_ENDPOINT"); v != "" {
		cfg.Feed.WSEndpoint = v
	}
	if v := os.Getenv("TE_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	return cfg, Validate(cfg)
}

// Validate ensures required fields are present and decimal fields parse.
func Validate(cfg AppConfig) error {
	if cfg.Env == "" {
		return errors.New("env is required")
	}
	if cfg.Feed.WSEndpoint == "" {
		return errors.New("feed.wsEndpoint is required")
	}
	if cfg.Feed.SnapshotURL == "" {
		return errors.New("feed.snapshotURL is required")
	}
	if _, err := cfg.Risk.PortfolioLimits(); err != nil {
		return err
	}
	if len(cfg.Symbols) == 0 {
		return errors.New("symbols config is required")
	}
	for sym, sc := range cfg.Symbols {
		if sc.Depth < 0 {
			return fmt.Errorf("symbol %s depth must be >= 0", sym)
		}
		if _, err := sc.InstrumentLimits(); err != nil {
			return fmt.Errorf("symbol %s: %w", sym, err)
		}
		if sc.LongImbalanceThreshold != "" {
			d, err := decimal.NewFromString(sc.LongImbalanceThreshold)
			if err != nil {
				return fmt.Errorf("symbol %s longImbalanceThreshold: %w", sym, err)
			}
			if d.LessThanOrEqual(decimal.NewFromInt(1)) {
				return fmt.Errorf("symbol %s longImbalanceThreshold must be > 1", sym)
			}
		}
		if sc.BaseNotional != "" {
			if _, err := decimal.NewFromString(sc.BaseNotional); err != nil {
				return fmt.Errorf("symbol %s baseNotional: %w", sym, err)
			}
		}
	}
	return nil
}

// PortfolioLimits 转换为风控组合限制。
func (c RiskConfig) PortfolioLimits() (risk.PortfolioLimits, error) {
	var out risk.PortfolioLimits
	if c.DailyLossLimit != "" {
		d, err := decimal.NewFromString(c.DailyLossLimit)
		if err != nil {
			return out, fmt.Errorf("risk.dailyLossLimit: %w", err)
		}
		if d.Sign() > 0 {
			return out, errors.New("risk.dailyLossLimit must be negative or zero")
		}
		out.DailyLossLimit = d
	}
	if c.MaxDrawdown != "" {
		d, err := decimal.NewFromString(c.MaxDrawdown)
		if err != nil {
			return out, fmt.Errorf("risk.maxDrawdown: %w", err)
		}
		if d.Sign() < 0 || d.GreaterThan(decimal.NewFromInt(1)) {
			return out, errors.New("risk.maxDrawdown must be within [0, 1]")
		}
		out.MaxDrawdown = d
	}
	if c.MaxTradesPerDay < 0 {
		return out, errors.New("risk.maxTradesPerDay must be >= 0")
	}
	out.MaxTradesPerDay = c.MaxTradesPerDay
	if c.TradingHoursStart != "" || c.TradingHoursEnd != "" {
		hours, err := risk.ParseTradingHours(c.TradingHoursStart, c.TradingHoursEnd)
		if err != nil {
			return out, fmt.Errorf("risk trading hours: %w", err)
		}
		out.Hours = hours
	}
	if c.RolloverMinuteUTC < 0 || c.RolloverMinuteUTC >= 24*60 {
		return out, errors.New("risk.rolloverMinuteUTC must be within [0, 1439]")
	}
	out.RolloverMinuteUTC = c.RolloverMinuteUTC
	return out, nil
}

// InstrumentLimits 转换为风控交易对限制。
func (c SymbolConfig) InstrumentLimits() (risk.InstrumentLimits, error) {
	var out risk.InstrumentLimits
	if c.MaxPositionNotional != "" {
		d, err := decimal.NewFromString(c.MaxPositionNotional)
		if err != nil {
			return out, fmt.Errorf("maxPositionNotional: %w", err)
		}
		if d.Sign() < 0 {
			return out, errors.New("maxPositionNotional must be >= 0")
		}
		out.MaxPositionNotional = d
	}
	if c.ExposureFraction != "" {
		d, err := decimal.NewFromString(c.ExposureFraction)
		if err != nil {
			return out, fmt.Errorf("exposureFraction: %w", err)
		}
		if d.Sign() < 0 || d.GreaterThan(decimal.NewFromInt(1)) {
			return out, errors.New("exposureFraction must be within [0, 1]")
		}
		out.ExposureFraction = d
	}
	return out, nil
}

// InstrumentLimitsMap 汇总所有交易对的限制，Validate 通过后不会出错。
func (cfg AppConfig) InstrumentLimitsMap() (map[string]risk.InstrumentLimits, error) {
	out := make(map[string]risk.InstrumentLimits, len(cfg.Symbols))
	for sym, sc := range cfg.Symbols {
		lim, err := sc.InstrumentLimits()
		if err != nil {
			return nil, fmt.Errorf("symbol %s: %w", sym, err)
		}
		out[sym] = lim
	}
	return out, nil
}

// SessionConfig 生成某交易对的行情会话配置，零值字段交由会话默认值兜底。
func (c FeedConfig) SessionConfig(symbol string) feed.Config {
	return feed.Config{
		Symbol:               symbol,
		SnapshotLimit:        c.SnapshotLimit,
		HeartbeatInterval:    time.Duration(c.HeartbeatIntervalMs) * time.Millisecond,
		HeartbeatTimeout:     time.Duration(c.HeartbeatTimeoutMs) * time.Millisecond,
		Staleness:            time.Duration(c.StalenessMs) * time.Millisecond,
		MaxReconnectAttempts: c.MaxReconnectAttempts,
		BackoffBase:          time.Duration(c.BackoffBaseMs) * time.Millisecond,
		QueueSize:            c.QueueSize,
	}
}
