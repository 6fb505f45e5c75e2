package hardware

import (
	"sync"

	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/logger"
	"go.uber.org/zap"
)

// SerialChannel 单个串口的配置与打开状态
//
// 线路参数构造后不可变；端口名只能在关闭状态下通过 Reconfigure 重新绑定。
// IsOpen 始终反映底层句柄的真实状态。
type SerialChannel struct {
	mu     sync.Mutex
	name   string
	mode   PortMode
	opener Opener
	handle Port
	logger *zap.Logger
}

// NewSerialChannel 创建串口通道（不会打开串口）
func NewSerialChannel(name string, mode PortMode, opener Opener) (*SerialChannel, error) {
	if name == "" {
		return nil, errors.New(errors.ErrConfigMissing, "串口名称为空")
	}
	if mode.BaudRate <= 0 {
		return nil, errors.Newf(errors.ErrConfigValidate, "无效的波特率: %d", mode.BaudRate)
	}
	if opener == nil {
		opener = OpenSerialPort
	}
	return &SerialChannel{
		name:   name,
		mode:   mode,
		opener: opener,
		logger: logger.WithModule("serial"),
	}, nil
}

// Name 当前绑定的端口名
func (c *SerialChannel) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Mode 线路参数
func (c *SerialChannel) Mode() PortMode {
	return c.mode
}

// IsOpen 串口是否已打开
func (c *SerialChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle != nil
}

// Open 打开串口；已打开时返回 ErrAlreadyConnected 而不是重新打开
func (c *SerialChannel) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		return errors.New(errors.ErrAlreadyConnected, c.name)
	}

	port, err := c.opener(c.name, c.mode)
	if err != nil {
		c.logger.Error("打开串口失败",
			zap.String("port", c.name),
			zap.Error(err))
		return errors.Wrap(err, errors.ErrSerialPortOpen, c.name)
	}

	c.handle = port
	c.logger.Info("串口已打开",
		zap.String("port", c.name),
		zap.Int("baud_rate", c.mode.BaudRate),
		zap.Stringer("parity", c.mode.Parity))
	return nil
}

// Close 关闭串口；未打开时为空操作。无论底层关闭是否出错，返回后通道都处于关闭状态
func (c *SerialChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return nil
	}

	err := c.handle.Close()
	c.handle = nil
	if err != nil {
		c.logger.Warn("关闭串口出错", zap.String("port", c.name), zap.Error(err))
		return errors.Wrap(err, errors.ErrSerialPortClosed, c.name)
	}
	c.logger.Info("串口已关闭", zap.String("port", c.name))
	return nil
}

// Write 发送数据，不等待响应
func (c *SerialChannel) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return errors.New(errors.ErrSerialPortClosed, c.name)
	}

	n, err := c.handle.Write(data)
	logger.LogSerialCommand(c.logger, c.name, data, err)
	if err != nil {
		return errors.Wrap(err, errors.ErrSerialPortWrite, c.name)
	}
	if n != len(data) {
		return errors.Newf(errors.ErrSerialPortWrite, "%s: short write %d/%d", c.name, n, len(data))
	}
	return nil
}

// Read 读取数据，受线路读超时约束；超时返回 0, nil
func (c *SerialChannel) Read(buf []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return 0, errors.New(errors.ErrSerialPortClosed, c.name)
	}

	n, err := c.handle.Read(buf)
	if err != nil && n == 0 && !isTimeout(err) {
		return 0, errors.Wrap(err, errors.ErrSerialPortRead, c.name)
	}
	return n, nil
}

// Flush 丢弃未读的输入
func (c *SerialChannel) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle == nil {
		return errors.New(errors.ErrSerialPortClosed, c.name)
	}
	if err := c.handle.Flush(); err != nil {
		return errors.Wrap(err, errors.ErrSerialPortRead, c.name)
	}
	return nil
}

// Reconfigure 重新绑定端口名，只能在关闭状态下进行
func (c *SerialChannel) Reconfigure(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		return errors.Newf(errors.ErrInvalidState, "串口 %s 打开时不能重新绑定", c.name)
	}
	if name == "" {
		return errors.New(errors.ErrInvalidParam, "串口名称为空")
	}
	if name != c.name {
		c.logger.Info("串口重新绑定", zap.String("from", c.name), zap.String("to", name))
	}
	c.name = name
	return nil
}
