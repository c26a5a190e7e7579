package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/adamoates/Trade-Engine-sub001/infrastructure/logger"
)

func TestWatcherTriggersOnChange(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	w, err := NewWatcher(path, WatchConfig{Enabled: true, CooldownTime: 0}, logger.Nop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := make(chan AppConfig, 1)
	if err := w.Start(ctx, func(cfg AppConfig) {
		select {
		case ch <- cfg:
		default:
		}
	}); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	// 给 watcher 一点时间注册目录
	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte(validYAML), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-ch:
		if cfg.Env != "dev" {
			t.Fatalf("unexpected reloaded config: %+v", cfg)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected update callback")
	}
}

func TestWatcherIgnoresBrokenFile(t *testing.T) {
	path := writeTempConfig(t, validYAML)

	w, err := NewWatcher(path, WatchConfig{Enabled: true, CooldownTime: 0}, logger.Nop())
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	defer w.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	called := make(chan struct{}, 1)
	if err := w.Start(ctx, func(AppConfig) {
		select {
		case called <- struct{}{}:
		default:
		}
	}); err != nil {
		t.Fatalf("start watcher: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if err := os.WriteFile(path, []byte("env: ["), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case <-called:
		t.Fatalf("callback fired for broken config")
	case <-time.After(300 * time.Millisecond):
	}
	if !w.LastReloadTime().IsZero() {
		t.Fatalf("broken config counted as reload")
	}
}

func TestWatcherDisabled(t *testing.T) {
	w, err := NewWatcher("noop.yaml", WatchConfig{Enabled: false}, nil)
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	if err := w.Start(context.Background(), nil); err != nil {
		t.Fatalf("disabled start: %v", err)
	}
	if err := w.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
