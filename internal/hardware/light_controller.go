package hardware

import (
	"fmt"

	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/logger"
	"go.uber.org/zap"
)

// 指示灯命令
const (
	ledCmdOn     = "led on"
	ledCmdOff    = "led off"
	ledCmdPulsed = "led pulsed %d %d"
)

// Light LED指示灯控制器
//
// 只有一个调用方，不自带锁。切换操作无论写入是否成功都会翻转本地状态。
type Light struct {
	mode      PortMode
	opener    Opener
	channel   *SerialChannel
	connected bool
	on        bool
	pulsed    bool
	shape     PulseShape
	logger    *zap.Logger
}

// NewLight 创建指示灯控制器（不会打开串口）
func NewLight(port string, mode PortMode, opener Opener, shape PulseShape) (*Light, error) {
	channel, err := NewSerialChannel(port, mode, opener)
	if err != nil {
		return nil, err
	}
	if shape.OnMs < 0 || shape.OffMs < 0 {
		return nil, errors.Newf(errors.ErrConfigValidate, "脉冲时长不能为负: %d/%d", shape.OnMs, shape.OffMs)
	}
	if shape == (PulseShape{}) {
		shape = PulseShape{OnMs: 500, OffMs: 500}
	}
	return &Light{
		mode:    mode,
		opener:  opener,
		channel: channel,
		shape:   shape,
		logger:  logger.WithModule("serial").With(zap.String("device", "led")),
	}, nil
}

// Connected 是否已连接
func (l *Light) Connected() bool {
	return l.connected
}

// Connect 打开串口；已连接时直接返回成功
func (l *Light) Connect() (string, error) {
	if l.connected {
		return msgAlreadyConnected, nil
	}
	if err := l.channel.Open(); err != nil && !errors.Is(err, errors.ErrAlreadyConnected) {
		l.connected = false
		return "", err
	}
	l.connected = true
	l.logger.Info("指示灯已连接", zap.String("port", l.channel.Name()))
	return msgConnected, nil
}

// Disconnect 关闭串口
func (l *Light) Disconnect() error {
	err := l.channel.Close()
	l.connected = false
	return err
}

// Reset 关闭并重建串口通道后重新连接
func (l *Light) Reset() (string, error) {
	port := l.channel.Name()
	_ = l.channel.Close()
	l.connected = false

	channel, err := NewSerialChannel(port, l.mode, l.opener)
	if err != nil {
		return "", err
	}
	l.channel = channel
	return l.Connect()
}

// TogglePower 开/关指示灯
func (l *Light) TogglePower() error {
	cmd := ledCmdOn
	if l.on {
		cmd = ledCmdOff
	}
	err := l.send(cmd)
	l.on = !l.on
	return err
}

// TogglePulse 切换常亮/闪烁；灯关闭时只翻转标志
func (l *Light) TogglePulse() error {
	var err error
	if l.on {
		if l.pulsed {
			err = l.send(ledCmdOn)
		} else {
			err = l.send(fmt.Sprintf(ledCmdPulsed, l.shape.OnMs, l.shape.OffMs))
		}
	}
	l.pulsed = !l.pulsed
	return err
}

// SetPulseShape 设置脉冲形状，下次进入闪烁时生效
func (l *Light) SetPulseShape(onMs, offMs int) error {
	if onMs < 0 || offMs < 0 {
		return errors.Newf(errors.ErrInvalidParam, "脉冲时长不能为负: %d/%d", onMs, offMs)
	}
	l.shape = PulseShape{OnMs: onMs, OffMs: offMs}
	return nil
}

// State 状态快照
func (l *Light) State() LightState {
	return LightState{
		On:        onOff(l.on),
		Pulsed:    l.pulsed,
		Shape:     [2]int{l.shape.OnMs, l.shape.OffMs},
		Connected: l.connected,
	}
}

func (l *Light) send(cmd string) error {
	if err := l.channel.Write([]byte(cmd)); err != nil {
		l.logger.Warn("指示灯命令发送失败", zap.String("command", cmd), zap.Error(err))
		return err
	}
	return nil
}
