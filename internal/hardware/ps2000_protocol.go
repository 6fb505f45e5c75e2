package hardware

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wfunc/ps2000-control/internal/errors"
)

// PS2000 电报格式: SD DN OBJ DATA... CS_hi CS_lo
//
// SD 位定义:
//
//	7-6 传输类型 01=查询 11=发送
//	5   广播 (固定为1)
//	4   方向 1=发往设备
//	3-0 数据长度-1（查询电报中为期望的应答长度-1）
//
// CS 为前面所有字节之和（16位，大端）。
const (
	sdQuery    byte = 0x40
	sdSend     byte = 0xC0
	sdCast     byte = 0x20
	sdToDevice byte = 0x10
	sdLenMask  byte = 0x0F

	telegramOverhead = 5 // SD + DN + OBJ + CS(2)
)

// 对象编号
const (
	ObjSetVoltage byte = 50
	ObjSetCurrent byte = 51
	ObjControl    byte = 54
	ObjStatus     byte = 71
	ObjError      byte = 0xFF // 应答/错误电报
)

// 控制对象(54)的掩码
const (
	CtrlOutput byte = 0x01
	CtrlRemote byte = 0x10
)

// 状态字节
const (
	StatusRemote   byte = 0x01 // 状态应答 byte0
	StatusOutputOn byte = 0x01 // 状态应答 byte1
)

// 设定值以额定值的百分比编码，满量程为 25600
const fullScale = 25600

// Telegram 一帧PS2000电报
type Telegram struct {
	SD   byte
	DN   byte
	Obj  byte
	Data []byte
}

// IsQuery 是否为查询电报
func (t *Telegram) IsQuery() bool {
	return t.SD&0xC0 == sdQuery
}

// IsError 是否为应答/错误电报
func (t *Telegram) IsError() bool {
	return t.Obj == ObjError
}

// ErrorCode 应答电报中的错误码，0表示成功
func (t *Telegram) ErrorCode() byte {
	if !t.IsError() || len(t.Data) == 0 {
		return 0
	}
	return t.Data[0]
}

// Encode 编码为字节序列（附加校验和）
func (t *Telegram) Encode() []byte {
	frame := make([]byte, 0, len(t.Data)+telegramOverhead)
	frame = append(frame, t.SD, t.DN, t.Obj)
	frame = append(frame, t.Data...)
	return binary.BigEndian.AppendUint16(frame, checksum(frame))
}

// NewQuery 构建查询电报，replyLen 为期望的应答数据长度
func NewQuery(obj byte, replyLen int) *Telegram {
	return &Telegram{
		SD:  sdQuery | sdCast | sdToDevice | byte(replyLen-1)&sdLenMask,
		Obj: obj,
	}
}

// NewSend 构建发送电报
func NewSend(obj byte, data ...byte) *Telegram {
	return &Telegram{
		SD:   sdSend | sdCast | sdToDevice | byte(len(data)-1)&sdLenMask,
		Obj:  obj,
		Data: data,
	}
}

// NewReply 构建设备侧应答电报（用于模拟器）
func NewReply(obj byte, data ...byte) *Telegram {
	return &Telegram{
		SD:   sdSend | sdCast | byte(len(data)-1)&sdLenMask,
		Obj:  obj,
		Data: data,
	}
}

// TelegramLen 根据SD字节计算整帧长度
func TelegramLen(sd byte) int {
	return int(sd&sdLenMask) + 1 + telegramOverhead
}

// DecodeTelegram 解析一帧电报
//
// 查询电报不带数据；其余电报的数据长度由SD低4位给出。
func DecodeTelegram(frame []byte) (*Telegram, error) {
	if len(frame) < telegramOverhead {
		return nil, errors.Newf(errors.ErrInvalidResponse, "电报过短: %d 字节", len(frame))
	}

	sd := frame[0]
	dataLen := int(sd&sdLenMask) + 1
	if sd&0xC0 == sdQuery {
		dataLen = 0
	}
	if len(frame) != dataLen+telegramOverhead {
		return nil, errors.Newf(errors.ErrInvalidResponse, "电报长度不符: 期望 %d, 实际 %d",
			dataLen+telegramOverhead, len(frame))
	}

	body := frame[:len(frame)-2]
	want := binary.BigEndian.Uint16(frame[len(frame)-2:])
	if got := checksum(body); got != want {
		return nil, errors.Newf(errors.ErrInvalidResponse, "校验和错误: 期望 %04X, 实际 %04X", want, got)
	}

	t := &Telegram{SD: sd, DN: frame[1], Obj: frame[2]}
	if dataLen > 0 {
		t.Data = append([]byte(nil), frame[3:3+dataLen]...)
	}
	return t, nil
}

func checksum(b []byte) uint16 {
	var sum uint16
	for _, v := range b {
		sum += uint16(v)
	}
	return sum
}

// EncodeValue 把物理量编码为额定值百分比
func EncodeValue(value, nominal float64) ([]byte, error) {
	if nominal <= 0 {
		return nil, fmt.Errorf("invalid nominal value %v", nominal)
	}
	raw := math.Round(value / nominal * fullScale)
	if raw < 0 || raw > math.MaxUint16 {
		return nil, errors.Newf(errors.ErrInvalidParam, "%v 超出编码范围", value)
	}
	return binary.BigEndian.AppendUint16(nil, uint16(raw)), nil
}

// DecodeValue 把百分比编码还原为物理量
func DecodeValue(b []byte, nominal float64) float64 {
	raw := binary.BigEndian.Uint16(b)
	return float64(raw) * nominal / fullScale
}
