package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/adamoates/Trade-Engine-sub001/infrastructure/logger"
)

// WatchConfig 热更新配置
type WatchConfig struct {
	Enabled      bool          // 是否启用热更新
	CooldownTime time.Duration // 冷却时间，避免编辑器连续写入触发多次重载
}

// DefaultWatchConfig 默认热更新配置
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Enabled:      true,
		CooldownTime: 2 * time.Second,
	}
}

// Watcher 监听配置文件变化并在成功加载后回调。
// 只用于风控限额热更新，行情与总线配置需要重启进程才生效。
type Watcher struct {
	config     WatchConfig
	configPath string
	watcher    *fsnotify.Watcher
	log        *logger.Logger

	mu         sync.Mutex
	lastReload time.Time
	onUpdate   func(AppConfig)

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher 创建热更新监听器。
func NewWatcher(configPath string, cfg WatchConfig, log *logger.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Watcher{
		config:     cfg,
		configPath: configPath,
		watcher:    fw,
		log:        log,
		stopChan:   make(chan struct{}),
		doneChan:   make(chan struct{}),
	}, nil
}

// Start 启动监听。编辑器保存多为原子替换，监听目录而非文件本身。
func (w *Watcher) Start(ctx context.Context, onUpdate func(AppConfig)) error {
	if !w.config.Enabled {
		close(w.doneChan)
		return nil
	}
	w.mu.Lock()
	w.onUpdate = onUpdate
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.configPath)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	go w.watch(ctx)
	return nil
}

// Stop 停止监听并关闭底层 watcher。
func (w *Watcher) Stop() error {
	select {
	case <-w.stopChan:
	default:
		close(w.stopChan)
	}
	select {
	case <-w.doneChan:
	case <-time.After(1 * time.Second):
	}
	return w.watcher.Close()
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.doneChan)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopChan:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.configPath) {
				continue
			}
			if event.Op&fsnotify.Write == fsnotify.Write ||
				event.Op&fsnotify.Create == fsnotify.Create {
				w.handleChange()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.LogError(err, map[string]interface{}{"event": "config_watch"})
		}
	}
}

func (w *Watcher) handleChange() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if time.Since(w.lastReload) < w.config.CooldownTime {
		return
	}

	cfg, err := LoadWithEnvOverrides(w.configPath)
	if err != nil {
		// 保留旧配置，坏文件不触发回调
		w.log.LogError(err, map[string]interface{}{"event": "config_reload", "path": w.configPath})
		return
	}
	w.lastReload = time.Now()
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
	w.log.LogFeed("config_reloaded", map[string]interface{}{"path": w.configPath})
}

// LastReloadTime 返回最后一次成功重载时间。
func (w *Watcher) LastReloadTime() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastReload
}
