package hardware

import (
	stderrors "errors"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tarm/serial"
)

// Port 串口句柄接口（*serial.Port 满足该接口，测试使用模拟实现）
type Port interface {
	io.ReadWriteCloser
	Flush() error
}

// Parity 校验位
type Parity int

const (
	ParityNone Parity = iota
	ParityOdd
	ParityEven
)

// ParseParity 解析配置中的校验位字符串
func ParseParity(s string) Parity {
	switch strings.ToLower(s) {
	case "o", "odd":
		return ParityOdd
	case "e", "even":
		return ParityEven
	default:
		return ParityNone
	}
}

func (p Parity) String() string {
	switch p {
	case ParityOdd:
		return "odd"
	case ParityEven:
		return "even"
	default:
		return "none"
	}
}

// PortMode 串口线路参数，构造后不可变
type PortMode struct {
	BaudRate    int
	DataBits    int
	Parity      Parity
	StopBits    int
	ReadTimeout time.Duration
}

// DefaultPortMode 电源与指示灯的默认线路参数: 9600 8O1, 100ms
func DefaultPortMode() PortMode {
	return PortMode{
		BaudRate:    9600,
		DataBits:    8,
		Parity:      ParityOdd,
		StopBits:    1,
		ReadTimeout: 100 * time.Millisecond,
	}
}

// Opener 打开串口的函数类型，便于注入模拟设备
type Opener func(name string, mode PortMode) (Port, error)

// OpenSerialPort 使用 tarm/serial 打开真实串口
func OpenSerialPort(name string, mode PortMode) (Port, error) {
	parity := serial.ParityNone
	switch mode.Parity {
	case ParityOdd:
		parity = serial.ParityOdd
	case ParityEven:
		parity = serial.ParityEven
	}

	stopBits := serial.Stop1
	if mode.StopBits == 2 {
		stopBits = serial.Stop2
	}

	port, err := serial.OpenPort(&serial.Config{
		Name:        name,
		Baud:        mode.BaudRate,
		Size:        byte(mode.DataBits),
		Parity:      parity,
		StopBits:    stopBits,
		ReadTimeout: mode.ReadTimeout,
	})
	if err != nil {
		return nil, err
	}
	return port, nil
}

// isTimeout 读超时：tarm/serial 在超时后返回 io.EOF
func isTimeout(err error) bool {
	return stderrors.Is(err, io.EOF) || os.IsTimeout(err)
}
