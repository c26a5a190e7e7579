package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/shopspring/decimal"

	"github.com/adamoates/Trade-Engine-sub001/bus"
	"github.com/adamoates/Trade-Engine-sub001/config"
	"github.com/adamoates/Trade-Engine-sub001/feed"
	"github.com/adamoates/Trade-Engine-sub001/gateway"
	"github.com/adamoates/Trade-Engine-sub001/infrastructure/logger"
	"github.com/adamoates/Trade-Engine-sub001/internal/engine"
	"github.com/adamoates/Trade-Engine-sub001/inventory"
	"github.com/adamoates/Trade-Engine-sub001/market"
	"github.com/adamoates/Trade-Engine-sub001/metrics"
	"github.com/adamoates/Trade-Engine-sub001/risk"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	symbolFlag := flag.String("symbol", "", "只跑单个交易对，留空则跑配置中全部")
	metricsAddr := flag.String("metricsAddr", "", "Prometheus metrics 监听地址，覆盖配置")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	logg, err := logger.New(cfg.Logging)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logg.Close()

	if cfg.MetricsAddr != "" {
		metrics.StartMetricsServer(cfg.MetricsAddr)
	}

	symbols := selectSymbols(cfg, *symbolFlag)
	if len(symbols) == 0 {
		log.Fatalf("symbol %s not found in config", *symbolFlag)
	}

	portfolio, err := cfg.Risk.PortfolioLimits()
	if err != nil {
		log.Fatalf("风控配置无效: %v", err)
	}
	instrument, err := cfg.InstrumentLimitsMap()
	if err != nil {
		log.Fatalf("风控配置无效: %v", err)
	}

	tracker := inventory.NewTracker()

	var killSource risk.KillSwitchSource
	if cfg.Risk.KillSwitchFile != "" {
		killSource = risk.FileSentinel{Path: cfg.Risk.KillSwitchFile}
	}
	gate := risk.NewGate(portfolio, instrument, risk.GateDeps{
		KillSwitch: killSource,
		Equity:     tracker,
		Exposure:   tracker,
		Logger:     logg,
	})

	var sink engine.EventSink
	var publisher *bus.Publisher
	if cfg.Bus.URL != "" {
		publisher, err = bus.Connect(bus.Config{
			URL:             cfg.Bus.URL,
			SignalSubject:   cfg.Bus.SignalSubject,
			DecisionSubject: cfg.Bus.DecisionSubject,
		}, logg)
		if err != nil {
			log.Fatalf("连接消息总线失败: %v", err)
		}
		defer publisher.Close()
		sink = publisher
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	snapshots := &gateway.SnapshotClient{
		BaseURL:    cfg.Feed.SnapshotURL,
		HTTPClient: gateway.NewDefaultHTTPClient(),
	}

	var sessions []*feed.Session
	var engines []*engine.Engine
	for _, sym := range symbols {
		book := market.NewOrderBook(sym)
		ws := gateway.NewWSClient(cfg.Feed.WSEndpoint)
		session := feed.NewSession(cfg.Feed.SessionConfig(sym), ws, snapshots, book, logg)
		if err := session.Subscribe(sym, "depth@100ms"); err != nil {
			log.Fatalf("订阅 %s 失败: %v", sym, err)
		}
		if err := session.Connect(ctx); err != nil {
			log.Fatalf("连接行情失败 %s: %v", sym, err)
		}
		sessions = append(sessions, session)

		sc := cfg.Symbols[sym]
		eng, err := engine.New(engine.Config{
			Symbol:                 sym,
			Depth:                  sc.Depth,
			Staleness:              time.Duration(cfg.Feed.StalenessMs) * time.Millisecond,
			LongImbalanceThreshold: parseOrZero(sc.LongImbalanceThreshold),
			BaseNotional:           parseOrZero(sc.BaseNotional),
		}, engine.Components{Book: book, Gate: gate, Sink: sink, Logger: logg})
		if err != nil {
			log.Fatalf("初始化引擎失败 %s: %v", sym, err)
		}
		if err := eng.Start(ctx); err != nil {
			log.Fatalf("启动引擎失败 %s: %v", sym, err)
		}
		engines = append(engines, eng)
	}

	// 限额热更新：只替换风控配置，行情连接不动。
	watcher, err := config.NewWatcher(*cfgPath, config.DefaultWatchConfig(), logg)
	if err != nil {
		log.Fatalf("初始化配置监听失败: %v", err)
	}
	if err := watcher.Start(ctx, func(next config.AppConfig) {
		p, perr := next.Risk.PortfolioLimits()
		if perr != nil {
			logg.LogError(perr, map[string]interface{}{"event": "limits_reload"})
			return
		}
		inst, ierr := next.InstrumentLimitsMap()
		if ierr != nil {
			logg.LogError(ierr, map[string]interface{}{"event": "limits_reload"})
			return
		}
		gate.UpdateLimits(p, inst)
	}); err != nil {
		log.Fatalf("启动配置监听失败: %v", err)
	}
	defer watcher.Stop()

	// systemd 就绪通知与看门狗
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	if interval, werr := daemon.SdWatchdogEnabled(false); werr == nil && interval > 0 {
		go watchdogLoop(ctx, interval/2)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logg.LogFeed("shutdown_signal", map[string]interface{}{"signal": s.String()})

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	cancel()
	for _, eng := range engines {
		eng.Stop()
	}
	for _, session := range sessions {
		session.Disconnect()
	}
	if publisher != nil {
		_ = publisher.Flush()
	}
}

func selectSymbols(cfg config.AppConfig, only string) []string {
	var out []string
	if only != "" {
		sym := strings.ToUpper(only)
		if _, ok := cfg.Symbols[sym]; ok {
			out = append(out, sym)
		}
		return out
	}
	for sym := range cfg.Symbols {
		out = append(out, sym)
	}
	return out
}

func parseOrZero(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func watchdogLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
