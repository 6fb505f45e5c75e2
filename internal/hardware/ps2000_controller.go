package hardware

import (
	"fmt"
	"time"

	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/logger"
	"go.uber.org/zap"
)

const (
	msgConnected        = "Successfully connected to device"
	msgAlreadyConnected = "Already connected to device"
)

// PowerSupplyConfig 电源控制器配置
type PowerSupplyConfig struct {
	Port           string
	Mode           PortMode
	NominalVoltage float64
	NominalCurrent float64
	Opener         Opener
	Finder         PortFinder // 可选，复位时重新定位串口
}

// PowerSupply PS2000系列电源控制器
//
// 不自带锁：所有调用都必须经过 Dispatcher。connected 为真时串口一定处于打开状态。
type PowerSupply struct {
	cfg       PowerSupplyConfig
	channel   *SerialChannel
	connected bool
	remote    bool
	logger    *zap.Logger
}

// NewPowerSupply 创建电源控制器（不会打开串口）
func NewPowerSupply(cfg PowerSupplyConfig) (*PowerSupply, error) {
	if cfg.NominalVoltage <= 0 || cfg.NominalCurrent <= 0 {
		return nil, errors.Newf(errors.ErrConfigValidate, "额定值无效: U=%v I=%v", cfg.NominalVoltage, cfg.NominalCurrent)
	}
	channel, err := NewSerialChannel(cfg.Port, cfg.Mode, cfg.Opener)
	if err != nil {
		return nil, err
	}
	return &PowerSupply{
		cfg:     cfg,
		channel: channel,
		logger:  logger.WithModule("serial").With(zap.String("device", "ps2000")),
	}, nil
}

// Limits 设定范围
func (p *PowerSupply) Limits() Limits {
	return Limits{MaxVoltage: p.cfg.NominalVoltage, MaxCurrent: p.cfg.NominalCurrent}
}

// Connected 是否已连接
func (p *PowerSupply) Connected() bool {
	return p.connected
}

// RemoteMode 远程模式标志
func (p *PowerSupply) RemoteMode() bool {
	return p.remote
}

// Port 当前串口名
func (p *PowerSupply) Port() string {
	return p.channel.Name()
}

// Connect 打开串口；已连接时直接返回成功
func (p *PowerSupply) Connect() (string, error) {
	if p.connected {
		return msgAlreadyConnected, nil
	}

	if err := p.channel.Open(); err != nil && !errors.Is(err, errors.ErrAlreadyConnected) {
		p.connected = false
		return "", err
	}

	p.connected = true
	p.remote = false
	p.logger.Info("电源已连接", zap.String("port", p.channel.Name()))
	return msgConnected, nil
}

// Disconnect 断开连接；disableRemote 时先尽力退出远程模式（忽略其错误）
func (p *PowerSupply) Disconnect(disableRemote bool) error {
	if disableRemote && p.channel.IsOpen() {
		if err := p.Remote(false); err != nil {
			p.logger.Warn("断开前退出远程模式失败", zap.Error(err))
		}
	}

	err := p.channel.Close()
	p.connected = false
	p.remote = false
	p.logger.Info("电源已断开", zap.String("port", p.channel.Name()))
	return err
}

// Reset 关闭并按相同配置重建串口通道，然后重新连接
//
// 失败时 connected 保持为 false，错误通过返回值给出。
func (p *PowerSupply) Reset() (string, error) {
	port := p.channel.Name()
	_ = p.channel.Close()
	p.connected = false
	p.remote = false

	channel, err := NewSerialChannel(port, p.cfg.Mode, p.cfg.Opener)
	if err != nil {
		return "", err
	}
	if p.cfg.Finder != nil {
		if resolved, err := p.cfg.Finder.Resolve(port); err != nil {
			p.logger.Warn("重新定位串口失败，沿用原端口", zap.String("port", port), zap.Error(err))
		} else if err := channel.Reconfigure(resolved); err != nil {
			return "", err
		}
	}
	p.channel = channel

	p.logger.Info("电源连接复位", zap.String("port", channel.Name()))
	return p.Connect()
}

// Remote 进入/退出远程模式
func (p *PowerSupply) Remote(enable bool) error {
	value := byte(0)
	if enable {
		value = CtrlRemote
	}
	if err := p.send(NewSend(ObjControl, CtrlRemote, value)); err != nil {
		return errors.Wrapf(err, errors.ErrCommandFailed, "remote=%v", enable)
	}
	p.remote = enable
	return nil
}

// Power 打开/关闭输出
func (p *PowerSupply) Power(on bool) error {
	value := byte(0)
	if on {
		value = CtrlOutput
	}
	return p.send(NewSend(ObjControl, CtrlOutput, value))
}

// SetVoltage 设置输出电压，超出 [0, 额定电压] 时不发送
func (p *PowerSupply) SetVoltage(v float64) error {
	if err := ValidateVoltage(v, p.Limits()); err != nil {
		return err
	}
	data, err := EncodeValue(v, p.cfg.NominalVoltage)
	if err != nil {
		return err
	}
	return p.send(NewSend(ObjSetVoltage, data...))
}

// SetCurrent 设置输出电流，超出 [0, 额定电流] 时不发送
func (p *PowerSupply) SetCurrent(i float64) error {
	if err := ValidateCurrent(i, p.Limits()); err != nil {
		return err
	}
	data, err := EncodeValue(i, p.cfg.NominalCurrent)
	if err != nil {
		return err
	}
	return p.send(NewSend(ObjSetCurrent, data...))
}

// Get 查询设定值、实际值与输出状态
func (p *PowerSupply) Get() (*DeviceState, error) {
	status, err := p.query(ObjStatus, 6)
	if err != nil {
		return nil, err
	}
	setU, err := p.query(ObjSetVoltage, 2)
	if err != nil {
		return nil, err
	}
	setI, err := p.query(ObjSetCurrent, 2)
	if err != nil {
		return nil, err
	}

	return &DeviceState{
		SetVoltage:    DecodeValue(setU, p.cfg.NominalVoltage),
		ActualVoltage: DecodeValue(status[2:4], p.cfg.NominalVoltage),
		SetCurrent:    DecodeValue(setI, p.cfg.NominalCurrent),
		ActualCurrent: DecodeValue(status[4:6], p.cfg.NominalCurrent),
		Output:        status[1]&StatusOutputOn != 0,
	}, nil
}

// send 发送设置电报并检查设备应答
func (p *PowerSupply) send(t *Telegram) error {
	reply, err := p.transact(t)
	if err != nil {
		return err
	}
	if !reply.IsError() {
		return errors.Newf(errors.ErrInvalidResponse, "对象 %d 的应答不是确认电报 (obj=%d)", t.Obj, reply.Obj)
	}
	if code := reply.ErrorCode(); code != 0 {
		return errors.Newf(errors.ErrCommandFailed, "对象 %d: 设备错误码 0x%02X", t.Obj, code)
	}
	return nil
}

// query 查询对象，返回长度为 n 的数据
func (p *PowerSupply) query(obj byte, n int) ([]byte, error) {
	reply, err := p.transact(NewQuery(obj, n))
	if err != nil {
		return nil, err
	}
	if reply.IsError() {
		return nil, errors.Newf(errors.ErrCommandFailed, "查询对象 %d: 设备错误码 0x%02X", obj, reply.ErrorCode())
	}
	if reply.Obj != obj || len(reply.Data) != n {
		return nil, errors.Newf(errors.ErrInvalidResponse, "查询对象 %d: 应答 obj=%d len=%d", obj, reply.Obj, len(reply.Data))
	}
	return reply.Data, nil
}

// transact 写入一帧电报并读取一帧应答
func (p *PowerSupply) transact(t *Telegram) (*Telegram, error) {
	if !p.channel.IsOpen() {
		return nil, errors.New(errors.ErrSerialPortClosed, p.channel.Name())
	}
	if err := p.channel.Flush(); err != nil {
		p.logger.Debug("清空输入缓冲失败", zap.Error(err))
	}
	if err := p.channel.Write(t.Encode()); err != nil {
		return nil, err
	}

	head, err := p.readExactly(3)
	if err != nil {
		return nil, err
	}
	rest, err := p.readExactly(TelegramLen(head[0]) - len(head))
	if err != nil {
		return nil, err
	}
	return DecodeTelegram(append(head, rest...))
}

// readExactly 读取 n 个字节；在整个读超时窗口内没有数据则返回超时错误
func (p *PowerSupply) readExactly(n int) ([]byte, error) {
	buf := make([]byte, n)
	timeout := p.cfg.Mode.ReadTimeout
	if timeout <= 0 {
		timeout = DefaultPortMode().ReadTimeout
	}
	deadline := time.Now().Add(timeout)

	read := 0
	for read < n {
		m, err := p.channel.Read(buf[read:])
		if err != nil {
			return nil, err
		}
		read += m
		if m == 0 {
			if time.Now().After(deadline) {
				return nil, errors.New(errors.ErrSerialTimeout, fmt.Sprintf("%s: 已读 %d/%d 字节", p.channel.Name(), read, n))
			}
			time.Sleep(time.Millisecond)
		}
	}
	return buf, nil
}

// ValidateVoltage 校验电压设定值
func ValidateVoltage(v float64, l Limits) error {
	if v < 0 || v > l.MaxVoltage || v != v {
		return errors.Newf(errors.ErrInvalidParam, "电压 %v 超出范围 [0, %v]", v, l.MaxVoltage)
	}
	return nil
}

// ValidateCurrent 校验电流设定值
func ValidateCurrent(i float64, l Limits) error {
	if i < 0 || i > l.MaxCurrent || i != i {
		return errors.Newf(errors.ErrInvalidParam, "电流 %v 超出范围 [0, %v]", i, l.MaxCurrent)
	}
	return nil
}
