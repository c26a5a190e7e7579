package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func ttime(t *testing.T, hour, minute int) time.Time {
	t.Helper()
	return time.Date(2024, 3, 15, hour, minute, 0, 0, time.UTC)
}

const validYAML = `
env: dev
metricsAddr: ":9100"
logging:
  level: info
  outputs: [stdout]
  format: json
feed:
  wsEndpoint: wss://stream.test/ws
  snapshotURL: https://api.test
  snapshotLimit: 100
  heartbeatIntervalMs: 30000
  heartbeatTimeoutMs: 5000
  stalenessMs: 30000
  maxReconnectAttempts: 5
  backoffBaseMs: 500
  queueSize: 1024
risk:
  dailyLossLimit: "-500"
  maxDrawdown: "0.1"
  maxTradesPerDay: 100
  tradingHoursStart: "22:00"
  tradingHoursEnd: "02:00"
  rolloverMinuteUTC: 0
  killSwitchFile: /tmp/killswitch
bus:
  url: nats://127.0.0.1:4222
  signalSubject: trade.signals
  decisionSubject: trade.decisions
symbols:
  BTCUSDT:
    depth: 10
    maxPositionNotional: "100000"
    exposureFraction: "0.25"
    longImbalanceThreshold: "1.5"
    baseNotional: "100"
`

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "cfg.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoad(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Env != "dev" || cfg.Feed.WSEndpoint != "wss://stream.test/ws" {
		t.Fatalf("unexpected cfg values: %+v", cfg)
	}
	if cfg.Symbols["BTCUSDT"].Depth != 10 {
		t.Fatalf("symbol depth not parsed: %+v", cfg.Symbols)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, validYAML)
	t.Setenv("TE_BUS_URL", "nats://override:4222")
	t.Setenv("TE_METRICS_ADDR", ":9999")
	cfg, err := LoadWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.URL != "nats://override:4222" || cfg.MetricsAddr != ":9999" {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
}

func TestValidateEmpty(t *testing.T) {
	if err := Validate(AppConfig{}); err == nil {
		t.Fatalf("expected error for empty config")
	}
}

func TestPortfolioLimitsConversion(t *testing.T) {
	rc := RiskConfig{
		DailyLossLimit:    "-500.25",
		MaxDrawdown:       "0.1",
		MaxTradesPerDay:   3,
		TradingHoursStart: "09:00",
		TradingHoursEnd:   "17:00",
		RolloverMinuteUTC: 5,
	}
	lim, err := rc.PortfolioLimits()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !lim.DailyLossLimit.Equal(decimal.RequireFromString("-500.25")) {
		t.Fatalf("dailyLossLimit = %s", lim.DailyLossLimit)
	}
	if !lim.Hours.Contains(ttime(t, 10, 0)) {
		t.Fatalf("trading hours not converted")
	}
}

func TestPortfolioLimitsRejectsPositiveLossLimit(t *testing.T) {
	rc := RiskConfig{DailyLossLimit: "500"}
	if _, err := rc.PortfolioLimits(); err == nil {
		t.Fatalf("expected error for positive loss limit")
	}
}

func TestInstrumentLimitsRejectsBadFraction(t *testing.T) {
	sc := SymbolConfig{ExposureFraction: "1.5"}
	if _, err := sc.InstrumentLimits(); err == nil {
		t.Fatalf("expected error for fraction > 1")
	}
}

func TestValidateRejectsThresholdBelowOne(t *testing.T) {
	cfg, err := Load(writeTempConfig(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sc := cfg.Symbols["BTCUSDT"]
	sc.LongImbalanceThreshold = "0.9"
	cfg.Symbols["BTCUSDT"] = sc
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for threshold <= 1")
	}
}

func TestSessionConfigConversion(t *testing.T) {
	fc := FeedConfig{HeartbeatIntervalMs: 1500, QueueSize: 64}
	sc := fc.SessionConfig("BTCUSDT")
	if sc.Symbol != "BTCUSDT" || sc.HeartbeatInterval.Milliseconds() != 1500 || sc.QueueSize != 64 {
		t.Fatalf("unexpected session config: %+v", sc)
	}
}
