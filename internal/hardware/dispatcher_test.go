package hardware

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/ps2000-control/internal/errors"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *PS2000Emulator) {
	t.Helper()
	emu := NewPS2000Emulator()
	d := NewDispatcher(newTestPowerSupply(emu))
	res := d.Dispatch(ConnectCommand())
	require.True(t, res.Success, res.Message)
	return d, emu
}

func isRemoteTelegram(tg Telegram, enable bool) bool {
	if tg.IsQuery() || tg.Obj != ObjControl || len(tg.Data) != 2 || tg.Data[0] != CtrlRemote {
		return false
	}
	return (tg.Data[1] == CtrlRemote) == enable
}

func TestDispatchNotConnected(t *testing.T) {
	emu := NewPS2000Emulator()
	d := NewDispatcher(newTestPowerSupply(emu))

	res := d.Dispatch(SetPowerCommand(true))
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, errors.ErrNotConnected))
	assert.Equal(t, errors.KindNotConnected, errors.KindOf(res.Err))
	assert.Empty(t, emu.Telegrams())
	assert.False(t, d.Connected())
}

func TestDispatchConnectUnwrapped(t *testing.T) {
	d, emu := newTestDispatcher(t)
	assert.True(t, d.Connected())
	assert.Empty(t, emu.Telegrams())

	res := d.Dispatch(ConnectCommand())
	assert.True(t, res.Success)
	assert.Equal(t, "Already connected to device", res.Message)
}

func TestDispatchWrapsInRemote(t *testing.T) {
	d, emu := newTestDispatcher(t)

	res := d.Dispatch(SetVoltageCommand(12))
	require.True(t, res.Success, res.Message)

	tgs := emu.Telegrams()
	require.Len(t, tgs, 3)
	assert.True(t, isRemoteTelegram(tgs[0], true))
	assert.Equal(t, ObjSetVoltage, tgs[1].Obj)
	assert.True(t, isRemoteTelegram(tgs[2], false))
	assert.False(t, emu.Remote())
}

func TestDispatchRemoteAlwaysExits(t *testing.T) {
	d, emu := newTestDispatcher(t)

	commands := []Command{
		SetRemoteCommand(true),
		SetRemoteCommand(false),
		SetPowerCommand(true),
		SetVoltageCommand(5),
		SetCurrentCommand(1),
		QueryCommand(),
		SetPowerCommand(false),
	}
	for _, cmd := range commands {
		res := d.Dispatch(cmd)
		require.True(t, res.Success, "%s: %s", cmd.Kind, res.Message)
		assert.False(t, emu.Remote(), "remote left on after %s", cmd.Kind)
	}
}

// 命令被设备拒绝时仍然退出远程模式
func TestDispatchRejectedCommandExitsRemote(t *testing.T) {
	d, emu := newTestDispatcher(t)
	emu.Reject(ObjSetVoltage, EmuErrNotRemote)

	res := d.Dispatch(SetVoltageCommand(12))
	assert.False(t, res.Success)
	assert.True(t, errors.Is(res.Err, errors.ErrCommandFailed))
	assert.Contains(t, res.Message, "0x07")

	tgs := emu.Telegrams()
	require.Len(t, tgs, 3)
	assert.True(t, isRemoteTelegram(tgs[0], true))
	assert.Equal(t, ObjSetVoltage, tgs[1].Obj)
	assert.True(t, isRemoteTelegram(tgs[2], false))
	assert.False(t, emu.Remote())
	assert.False(t, d.ps.RemoteMode())

	emu.Reject(ObjSetVoltage, EmuErrNone)
	emu.ClearTelegrams()
	assert.True(t, d.Dispatch(SetVoltageCommand(12)).Success)
	assert.Len(t, emu.Telegrams(), 3)
}

func TestDispatchValidationSendsNothing(t *testing.T) {
	d, emu := newTestDispatcher(t)

	res := d.Dispatch(SetVoltageCommand(50))
	assert.False(t, res.Success)
	assert.Equal(t, errors.KindValidation, errors.KindOf(res.Err))
	assert.Contains(t, res.Message, "50")

	res = d.Dispatch(SetCurrentCommand(-1))
	assert.False(t, res.Success)
	assert.Equal(t, errors.KindValidation, errors.KindOf(res.Err))

	for _, tg := range emu.Telegrams() {
		assert.False(t, isRemoteTelegram(tg, true))
	}
	assert.Empty(t, emu.Telegrams())
}

func TestDispatchQuery(t *testing.T) {
	d, _ := newTestDispatcher(t)

	require.True(t, d.Dispatch(SetVoltageCommand(21)).Success)
	require.True(t, d.Dispatch(SetPowerCommand(true)).Success)

	res := d.Dispatch(QueryCommand())
	require.True(t, res.Success, res.Message)
	require.NotNil(t, res.State)
	assert.InDelta(t, 21.0, res.State.SetVoltage, 1e-9)
	assert.InDelta(t, 21.0, res.State.ActualVoltage, 1e-9)
	assert.True(t, res.State.Output)
	assert.Equal(t, res.State, res.Payload())
}

// 并发调用时电报流必须由完整的 (远程开, 命令, 远程关) 三元组组成
func TestDispatchConcurrentTriples(t *testing.T) {
	d, emu := newTestDispatcher(t)

	const workers = 8
	const perWorker = 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				var cmd Command
				switch (w + i) % 3 {
				case 0:
					cmd = SetVoltageCommand(float64(i))
				case 1:
					cmd = SetCurrentCommand(float64(i) / 10)
				default:
					cmd = SetPowerCommand(i%2 == 0)
				}
				res := d.Dispatch(cmd)
				assert.True(t, res.Success, res.Message)
			}
		}(w)
	}
	wg.Wait()

	tgs := emu.Telegrams()
	require.Len(t, tgs, workers*perWorker*3)
	for i := 0; i < len(tgs); i += 3 {
		assert.True(t, isRemoteTelegram(tgs[i], true), "telegram %d", i)
		assert.False(t, isRemoteTelegram(tgs[i+1], true) || isRemoteTelegram(tgs[i+1], false), "telegram %d", i+1)
		assert.True(t, isRemoteTelegram(tgs[i+2], false), "telegram %d", i+2)
	}
	assert.False(t, emu.Remote())
}

func TestDispatchIOFailure(t *testing.T) {
	d, emu := newTestDispatcher(t)
	emu.SetResponding(false)

	res := d.Dispatch(QueryCommand())
	assert.False(t, res.Success)
	assert.Equal(t, errors.KindIO, errors.KindOf(res.Err))
	assert.Equal(t, res.Message, res.Payload())
}

func TestDispatcherReset(t *testing.T) {
	d, emu := newTestDispatcher(t)

	emu.SetOpenError(ErrEmulatorUnplugged)
	res := d.Reset()
	assert.False(t, res.Success)
	assert.False(t, d.Connected())

	res = d.Dispatch(QueryCommand())
	assert.True(t, errors.Is(res.Err, errors.ErrNotConnected))

	emu.SetOpenError(nil)
	res = d.Reset()
	assert.True(t, res.Success, res.Message)
	assert.True(t, d.Connected())
	assert.True(t, d.Dispatch(QueryCommand()).Success)
}

func TestDispatchDisconnect(t *testing.T) {
	d, emu := newTestDispatcher(t)

	res := d.Dispatch(DisconnectCommand())
	assert.True(t, res.Success, res.Message)
	assert.False(t, d.Connected())
	assert.False(t, emu.IsOpen())
}
