package risk

import (
	"os"
	"sync"
)

// KillSwitchSource 是外部急停信号源。检查位置/机制由构造时注入，
// 网关绝不读取任何隐含的全局路径。
type KillSwitchSource interface {
	Engaged() bool
}

// FileSentinel 以配置路径上是否存在哨兵文件作为急停信号。
type FileSentinel struct {
	Path string
}

func (f FileSentinel) Engaged() bool {
	if f.Path == "" {
		return false
	}
	_, err := os.Stat(f.Path)
	return err == nil
}

// ManualSwitch 是可编程触发的急停信号，供运维指令或测试使用。
type ManualSwitch struct {
	mu      sync.RWMutex
	engaged bool
}

func (m *ManualSwitch) Engaged() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engaged
}

func (m *ManualSwitch) Set(engaged bool) {
	m.mu.Lock()
	m.engaged = engaged
	m.mu.Unlock()
}
