package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/ps2000-control/internal/errors"
)

func TestTelegramEncode(t *testing.T) {
	tests := []struct {
		name     string
		telegram *Telegram
		want     []byte
	}{
		{
			name:     "远程模式开",
			telegram: NewSend(ObjControl, CtrlRemote, CtrlRemote),
			want:     []byte{0xF1, 0x00, 0x36, 0x10, 0x10, 0x01, 0x47},
		},
		{
			name:     "输出关",
			telegram: NewSend(ObjControl, CtrlOutput, 0x00),
			want:     []byte{0xF1, 0x00, 0x36, 0x01, 0x00, 0x01, 0x28},
		},
		{
			name:     "查询状态",
			telegram: NewQuery(ObjStatus, 6),
			want:     []byte{0x75, 0x00, 0x47, 0x00, 0xBC},
		},
		{
			name:     "确认应答",
			telegram: NewReply(ObjError, 0x00),
			want:     []byte{0xE0, 0x00, 0xFF, 0x00, 0x01, 0xDF},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.telegram.Encode())
		})
	}
}

func TestDecodeTelegramRoundTrip(t *testing.T) {
	orig := NewReply(ObjStatus, StatusRemote, StatusOutputOn, 0x32, 0x00, 0x0A, 0x00)
	frame := orig.Encode()
	assert.Len(t, frame, TelegramLen(frame[0]))

	got, err := DecodeTelegram(frame)
	require.NoError(t, err)
	assert.Equal(t, orig.SD, got.SD)
	assert.Equal(t, ObjStatus, got.Obj)
	assert.Equal(t, orig.Data, got.Data)
	assert.False(t, got.IsQuery())
	assert.False(t, got.IsError())

	q, err := DecodeTelegram(NewQuery(ObjSetVoltage, 2).Encode())
	require.NoError(t, err)
	assert.True(t, q.IsQuery())
	assert.Empty(t, q.Data)
}

func TestDecodeTelegramErrors(t *testing.T) {
	good := NewReply(ObjError, 0x00).Encode()

	badSum := append([]byte(nil), good...)
	badSum[len(badSum)-1] ^= 0xFF

	tests := []struct {
		name  string
		frame []byte
	}{
		{"过短", []byte{0xE0, 0x00}},
		{"长度不符", good[:len(good)-1]},
		{"校验和错误", badSum},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeTelegram(tt.frame)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.ErrInvalidResponse))
			assert.Equal(t, errors.KindProtocol, errors.KindOf(err))
		})
	}
}

func TestErrorReply(t *testing.T) {
	ack := NewReply(ObjError, 0x00)
	assert.True(t, ack.IsError())
	assert.Equal(t, byte(0), ack.ErrorCode())

	nack := NewReply(ObjError, EmuErrNotRemote)
	assert.Equal(t, EmuErrNotRemote, nack.ErrorCode())

	assert.Equal(t, byte(0), NewReply(ObjStatus, 1, 2).ErrorCode())
}

func TestEncodeDecodeValue(t *testing.T) {
	b, err := EncodeValue(21, 42)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x32, 0x00}, b)
	assert.InDelta(t, 21.0, DecodeValue(b, 42), 1e-9)

	b, err = EncodeValue(42, 42)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x64, 0x00}, b)

	b, err = EncodeValue(0, 10)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x00}, b)

	b, err = EncodeValue(2.5, 10)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, DecodeValue(b, 10), 10.0/fullScale)

	_, err = EncodeValue(-1, 42)
	assert.True(t, errors.Is(err, errors.ErrInvalidParam))

	_, err = EncodeValue(1, 0)
	assert.Error(t, err)
}
