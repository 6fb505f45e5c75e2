package hardware

import (
	"fmt"
	"sync"

	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/logger"
	"go.uber.org/zap"
)

// Dispatcher 串行化对电源的所有访问
//
// 同一把锁覆盖 进入远程模式 → 命令 → 退出远程模式，任何两次调用的三元组不会交错。
// Dispatcher 独占 PowerSupply，不对外暴露。
type Dispatcher struct {
	mu     sync.Mutex
	ps     *PowerSupply
	logger *zap.Logger
}

// NewDispatcher 创建命令分发器
func NewDispatcher(ps *PowerSupply) *Dispatcher {
	return &Dispatcher{
		ps:     ps,
		logger: logger.WithModule("serial").With(zap.String("component", "dispatcher")),
	}
}

// Dispatch 执行一条命令，错误全部转换为失败的 Result
func (d *Dispatcher) Dispatch(cmd Command) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	res := d.dispatch(cmd)
	if !res.Success {
		d.logger.Warn("命令执行失败",
			zap.Stringer("command", cmd.Kind),
			zap.Int("code", int(errors.GetCode(res.Err))),
			zap.Error(res.Err))
	} else {
		d.logger.Debug("命令执行成功", zap.Stringer("command", cmd.Kind))
	}
	return res
}

func (d *Dispatcher) dispatch(cmd Command) Result {
	if err := cmd.Validate(d.ps.Limits()); err != nil {
		return failResult(err)
	}

	switch cmd.Kind {
	case CmdConnect:
		msg, err := d.ps.Connect()
		if err != nil {
			return failResult(err)
		}
		return okResult(msg)
	case CmdDisconnect:
		if err := d.ps.Disconnect(true); err != nil {
			return failResult(err)
		}
		return okResult("Disconnected from device")
	}

	if !d.ps.Connected() {
		return failResult(errors.New(errors.ErrNotConnected, d.ps.Port()))
	}

	if err := d.ps.Remote(true); err != nil {
		d.exitRemote()
		return failResult(err)
	}
	defer d.exitRemote()

	return d.execute(cmd)
}

// exitRemote 退出远程模式；失败只记录日志，不覆盖命令结果
func (d *Dispatcher) exitRemote() {
	if err := d.ps.Remote(false); err != nil {
		d.logger.Warn("退出远程模式失败", zap.Error(err))
	}
}

func (d *Dispatcher) execute(cmd Command) Result {
	var err error
	var msg string

	switch cmd.Kind {
	case CmdSetRemote:
		// 已处于远程模式；执行后无论参数如何都会退出
		msg = fmt.Sprintf("Remote mode %s", onOff(cmd.Enable))
	case CmdSetPower:
		err = d.ps.Power(cmd.Enable)
		msg = fmt.Sprintf("Output %s", onOff(cmd.Enable))
	case CmdSetVoltage:
		err = d.ps.SetVoltage(cmd.Value)
		msg = fmt.Sprintf("Voltage set to %.2f V", cmd.Value)
	case CmdSetCurrent:
		err = d.ps.SetCurrent(cmd.Value)
		msg = fmt.Sprintf("Current set to %.2f A", cmd.Value)
	case CmdQuery:
		state, qerr := d.ps.Get()
		if qerr != nil {
			return failResult(qerr)
		}
		return Result{Success: true, State: state}
	}

	if err != nil {
		return failResult(err)
	}
	return okResult(msg)
}

// Reset 在锁内复位电源连接
func (d *Dispatcher) Reset() Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	msg, err := d.ps.Reset()
	if err != nil {
		d.logger.Error("电源复位失败", zap.Error(err))
		return failResult(err)
	}
	return okResult(msg)
}

// Connected 连接状态
func (d *Dispatcher) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ps.Connected()
}

// Limits 设定范围
func (d *Dispatcher) Limits() Limits {
	return d.ps.Limits()
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
