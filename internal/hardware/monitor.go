package hardware

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wfunc/ps2000-control/internal/logger"
	"go.uber.org/zap"
)

// Commander Monitor 依赖的分发器能力
type Commander interface {
	Dispatch(cmd Command) Result
	Reset() Result
}

// MonitorStats 轮询统计
type MonitorStats struct {
	Polls    uint64 `json:"polls"`
	Failures uint64 `json:"failures"`
	Resets   uint64 `json:"resets"`
}

// Monitor 周期性查询电源状态并推送；查询失败时复位连接
type Monitor struct {
	cmd      Commander
	interval time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	listeners []Listener

	polls    atomic.Uint64
	failures atomic.Uint64
	resets   atomic.Uint64
}

// NewMonitor 创建监控循环
func NewMonitor(cmd Commander, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 6 * time.Second
	}
	return &Monitor{
		cmd:      cmd,
		interval: interval,
		logger:   logger.WithModule("monitor"),
	}
}

// AddListener 注册推送接收者
func (m *Monitor) AddListener(l Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listeners = append(m.listeners, l)
}

// Run 阻塞运行直到 ctx 取消。立即执行一次，之后每个周期执行一次
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info("状态监控启动", zap.Duration("interval", m.interval))
	defer m.logger.Info("状态监控停止")

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		m.PollOnce()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// PollOnce 执行一次查询、推送，失败时复位
func (m *Monitor) PollOnce() {
	m.polls.Add(1)

	res := m.cmd.Dispatch(QueryCommand())
	if res.Success {
		m.notify(SignalNewState, true, res.State)
		return
	}

	m.failures.Add(1)
	m.logger.Warn("状态查询失败，复位连接", zap.String("error", res.Message))
	m.notify(SignalNewState, false, map[string]interface{}{})

	m.resets.Add(1)
	if reset := m.cmd.Reset(); !reset.Success {
		m.logger.Error("复位失败", zap.String("error", reset.Message))
	}
}

func (m *Monitor) notify(signal Signal, success bool, msg interface{}) {
	m.mu.RLock()
	listeners := make([]Listener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.RUnlock()

	for _, l := range listeners {
		l.Notify(signal, success, msg)
	}
}

// Stats 统计快照
func (m *Monitor) Stats() MonitorStats {
	return MonitorStats{
		Polls:    m.polls.Load(),
		Failures: m.failures.Load(),
		Resets:   m.resets.Load(),
	}
}
