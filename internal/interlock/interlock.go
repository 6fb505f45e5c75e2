// Package interlock 夜间联锁：到达截止时间时关闭电源输出，提前发出警告，可由用户延期。
package interlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wfunc/ps2000-control/internal/config"
	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/hardware"
	"github.com/wfunc/ps2000-control/internal/logger"
	"go.uber.org/zap"
)

// Dispatcher 联锁触发时用于关闭输出
type Dispatcher interface {
	Dispatch(cmd hardware.Command) hardware.Result
}

// State 联锁状态快照
type State struct {
	Enabled  bool      `json:"interlock"`
	Deadline time.Time `json:"deadline,omitempty"`
	Warned   bool      `json:"warned"`
}

// Interlock 联锁定时器
type Interlock struct {
	mu       sync.Mutex
	enabled  bool
	deadline time.Time
	warned   bool

	tripHour   int
	tripMinute int
	warnBefore time.Duration
	extend     time.Duration

	cmd       Dispatcher
	listeners []hardware.Listener
	wake      chan struct{}
	now       func() time.Time
	logger    *zap.Logger
}

// New 创建联锁定时器
func New(cfg config.InterlockConfig, cmd Dispatcher) (*Interlock, error) {
	at, err := time.Parse("15:04", cfg.TripAt)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrConfigValidate, "interlock.trip_at=%q", cfg.TripAt)
	}
	if cfg.Extend <= 0 {
		return nil, errors.Newf(errors.ErrConfigValidate, "interlock.extend 必须大于0: %v", cfg.Extend)
	}

	il := &Interlock{
		tripHour:   at.Hour(),
		tripMinute: at.Minute(),
		warnBefore: cfg.WarnBefore,
		extend:     cfg.Extend,
		cmd:        cmd,
		wake:       make(chan struct{}, 1),
		now:        time.Now,
		logger:     logger.WithModule("interlock"),
	}
	if cfg.Enabled {
		il.Toggle(true)
	}
	return il, nil
}

// AddListener 注册推送接收者
func (il *Interlock) AddListener(l hardware.Listener) {
	il.mu.Lock()
	defer il.mu.Unlock()
	il.listeners = append(il.listeners, l)
}

// Toggle 开启/关闭联锁；开启时截止时间为下一个 trip_at
func (il *Interlock) Toggle(enable bool) State {
	il.mu.Lock()
	il.enabled = enable
	il.warned = false
	il.deadline = time.Time{}
	if enable {
		il.deadline = il.nextTrip(il.now())
	}
	st := il.state()
	il.mu.Unlock()

	il.logger.Info("联锁状态变更", zap.Bool("enabled", enable), zap.Time("deadline", st.Deadline))
	il.kick()
	return st
}

// Reset 延期：截止时间改为 now + extend
func (il *Interlock) Reset() (State, error) {
	il.mu.Lock()
	if !il.enabled {
		il.mu.Unlock()
		return State{}, errors.New(errors.ErrInvalidState, "联锁未开启")
	}
	il.deadline = il.now().Add(il.extend)
	il.warned = false
	st := il.state()
	il.mu.Unlock()

	il.logger.Info("联锁已延期", zap.Time("deadline", st.Deadline))
	il.kick()
	return st, nil
}

// State 状态快照
func (il *Interlock) State() State {
	il.mu.Lock()
	defer il.mu.Unlock()
	return il.state()
}

func (il *Interlock) state() State {
	return State{Enabled: il.enabled, Deadline: il.deadline, Warned: il.warned}
}

// Run 阻塞运行直到 ctx 取消
func (il *Interlock) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		wait, ok := il.Check()
		if !ok {
			wait = time.Hour
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-il.wake:
		case <-timer.C:
		}
	}
}

// Check 处理到期的警告/触发，返回距下一个事件的时长；未开启时 ok 为 false
func (il *Interlock) Check() (time.Duration, bool) {
	il.mu.Lock()
	if !il.enabled {
		il.mu.Unlock()
		return 0, false
	}

	now := il.now()
	warnAt := il.deadline.Add(-il.warnBefore)

	if !now.Before(il.deadline) {
		tripped := il.deadline
		il.deadline = il.nextTrip(now)
		il.warned = false
		next := il.deadline.Sub(now)
		il.mu.Unlock()

		il.trip(tripped)
		return next, true
	}

	if !il.warned && !now.Before(warnAt) {
		il.warned = true
		remaining := il.deadline.Sub(now)
		il.mu.Unlock()

		il.logger.Warn("联锁即将触发", zap.Duration("remaining", remaining))
		il.notify(true, fmt.Sprintf("Interlock trips in %d minutes", int(remaining.Round(time.Minute).Minutes())))
		return remaining, true
	}

	next := il.deadline.Sub(now)
	if !il.warned {
		next = warnAt.Sub(now)
	}
	il.mu.Unlock()
	return next, true
}

func (il *Interlock) trip(deadline time.Time) {
	res := il.cmd.Dispatch(hardware.SetPowerCommand(false))
	if res.Success {
		il.logger.Warn("联锁触发，已关闭电源输出", zap.Time("deadline", deadline))
		il.notify(false, "Interlock tripped, output disabled")
		return
	}
	il.logger.Error("联锁触发但关闭输出失败", zap.String("error", res.Message))
	il.notify(false, "Interlock tripped, output off failed: "+res.Message)
}

func (il *Interlock) notify(success bool, msg string) {
	il.mu.Lock()
	listeners := append([]hardware.Listener(nil), il.listeners...)
	il.mu.Unlock()

	for _, l := range listeners {
		l.Notify(hardware.SignalInterlock, success, msg)
	}
}

// nextTrip 严格晚于 now 的下一个 trip_at
func (il *Interlock) nextTrip(now time.Time) time.Time {
	t := time.Date(now.Year(), now.Month(), now.Day(), il.tripHour, il.tripMinute, 0, 0, now.Location())
	if !t.After(now) {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func (il *Interlock) kick() {
	select {
	case il.wake <- struct{}{}:
	default:
	}
}
