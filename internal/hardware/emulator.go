package hardware

import (
	"bytes"
	"errors"
	"io"
	"sync"
)

// 模拟器返回的设备错误码
const (
	EmuErrNone      byte = 0x00
	EmuErrBadObject byte = 0x03
	EmuErrNotRemote byte = 0x07
)

// PS2000Emulator 内存中的PS2000电源（mock_mode 与测试使用）
//
// 只接受远程模式下的设定；输出打开时实际值等于设定值。
type PS2000Emulator struct {
	mu sync.Mutex

	open       bool
	responding bool
	openErr    error
	writeErr   error
	rx         bytes.Buffer
	telegrams  []Telegram
	reject     map[byte]byte // 对象 -> 设备错误码

	remote bool
	output bool
	setU   uint16
	setI   uint16
}

// NewPS2000Emulator 创建电源模拟器
func NewPS2000Emulator() *PS2000Emulator {
	return &PS2000Emulator{responding: true}
}

// Opener 返回打开该模拟器的 Opener
func (e *PS2000Emulator) Opener() Opener {
	return func(name string, mode PortMode) (Port, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.openErr != nil {
			return nil, e.openErr
		}
		e.open = true
		e.rx.Reset()
		return e, nil
	}
}

// SetOpenError 之后的打开操作返回 err（nil 恢复）
func (e *PS2000Emulator) SetOpenError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

// SetWriteError 之后的写入返回 err（nil 恢复）
func (e *PS2000Emulator) SetWriteError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeErr = err
}

// SetResponding false 时接收电报但不应答
func (e *PS2000Emulator) SetResponding(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.responding = on
}

// Reject 之后对 obj 的设定一律以设备错误码 code 拒绝（code 为 0 恢复）
func (e *PS2000Emulator) Reject(obj, code byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if code == EmuErrNone {
		delete(e.reject, obj)
		return
	}
	if e.reject == nil {
		e.reject = map[byte]byte{}
	}
	e.reject[obj] = code
}

// Telegrams 已接收的电报
func (e *PS2000Emulator) Telegrams() []Telegram {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Telegram(nil), e.telegrams...)
}

// ClearTelegrams 清空接收记录
func (e *PS2000Emulator) ClearTelegrams() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.telegrams = nil
}

// Remote 当前远程模式
func (e *PS2000Emulator) Remote() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

// Output 当前输出状态
func (e *PS2000Emulator) Output() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.output
}

// IsOpen 是否被打开
func (e *PS2000Emulator) IsOpen() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.open
}

func (e *PS2000Emulator) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return 0, io.ErrClosedPipe
	}
	if e.writeErr != nil {
		return 0, e.writeErr
	}

	t, err := DecodeTelegram(p)
	if err != nil {
		return len(p), nil
	}
	e.telegrams = append(e.telegrams, *t)
	if e.responding {
		e.rx.Write(e.handle(t).Encode())
	}
	return len(p), nil
}

// Read 无数据时返回 io.EOF，与 tarm/serial 读超时一致
func (e *PS2000Emulator) Read(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.open {
		return 0, io.ErrClosedPipe
	}
	if e.rx.Len() == 0 {
		return 0, io.EOF
	}
	return e.rx.Read(p)
}

func (e *PS2000Emulator) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rx.Reset()
	return nil
}

func (e *PS2000Emulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
	e.rx.Reset()
	return nil
}

func (e *PS2000Emulator) handle(t *Telegram) *Telegram {
	if t.IsQuery() {
		return e.query(t.Obj)
	}
	if code, ok := e.reject[t.Obj]; ok {
		return NewReply(ObjError, code)
	}

	switch t.Obj {
	case ObjControl:
		if len(t.Data) != 2 {
			return NewReply(ObjError, EmuErrBadObject)
		}
		mask, value := t.Data[0], t.Data[1]
		if mask&CtrlRemote != 0 {
			e.remote = value&CtrlRemote != 0
		}
		if mask&CtrlOutput != 0 {
			if !e.remote {
				return NewReply(ObjError, EmuErrNotRemote)
			}
			e.output = value&CtrlOutput != 0
		}
	case ObjSetVoltage, ObjSetCurrent:
		if len(t.Data) != 2 {
			return NewReply(ObjError, EmuErrBadObject)
		}
		if !e.remote {
			return NewReply(ObjError, EmuErrNotRemote)
		}
		raw := uint16(t.Data[0])<<8 | uint16(t.Data[1])
		if t.Obj == ObjSetVoltage {
			e.setU = raw
		} else {
			e.setI = raw
		}
	default:
		return NewReply(ObjError, EmuErrBadObject)
	}
	return NewReply(ObjError, EmuErrNone)
}

func (e *PS2000Emulator) query(obj byte) *Telegram {
	switch obj {
	case ObjStatus:
		var remote, flags byte
		var actU, actI uint16
		if e.remote {
			remote = StatusRemote
		}
		if e.output {
			flags = StatusOutputOn
			actU, actI = e.setU, e.setI
		}
		return NewReply(ObjStatus, remote, flags,
			byte(actU>>8), byte(actU), byte(actI>>8), byte(actI))
	case ObjSetVoltage:
		return NewReply(obj, byte(e.setU>>8), byte(e.setU))
	case ObjSetCurrent:
		return NewReply(obj, byte(e.setI>>8), byte(e.setI))
	default:
		return NewReply(ObjError, EmuErrBadObject)
	}
}

// LightEmulator 内存中的LED指示灯，记录收到的命令
type LightEmulator struct {
	mu       sync.Mutex
	open     bool
	openErr  error
	writeErr error
	commands []string
}

// NewLightEmulator 创建指示灯模拟器
func NewLightEmulator() *LightEmulator {
	return &LightEmulator{}
}

// Opener 返回打开该模拟器的 Opener
func (e *LightEmulator) Opener() Opener {
	return func(name string, mode PortMode) (Port, error) {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.openErr != nil {
			return nil, e.openErr
		}
		e.open = true
		return e, nil
	}
}

// SetOpenError 之后的打开操作返回 err（nil 恢复）
func (e *LightEmulator) SetOpenError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.openErr = err
}

// SetWriteError 之后的写入返回 err（nil 恢复）
func (e *LightEmulator) SetWriteError(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.writeErr = err
}

// Commands 已接收的命令
func (e *LightEmulator) Commands() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.commands...)
}

func (e *LightEmulator) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.open {
		return 0, io.ErrClosedPipe
	}
	if e.writeErr != nil {
		return 0, e.writeErr
	}
	e.commands = append(e.commands, string(p))
	return len(p), nil
}

func (e *LightEmulator) Read(p []byte) (int, error) {
	return 0, io.EOF
}

func (e *LightEmulator) Flush() error {
	return nil
}

func (e *LightEmulator) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
	return nil
}

// ErrEmulatorUnplugged 模拟设备被拔出
var ErrEmulatorUnplugged = errors.New("emulator unplugged")
