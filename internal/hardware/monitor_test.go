package hardware

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/ps2000-control/internal/errors"
)

type mockCommander struct {
	mock.Mock
}

func (m *mockCommander) Dispatch(cmd Command) Result {
	return m.Called(cmd).Get(0).(Result)
}

func (m *mockCommander) Reset() Result {
	return m.Called().Get(0).(Result)
}

type notification struct {
	signal  Signal
	success bool
	msg     interface{}
}

type recordingListener struct {
	mu  sync.Mutex
	got []notification
}

func (r *recordingListener) Notify(signal Signal, success bool, msg interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, notification{signal, success, msg})
}

func (r *recordingListener) all() []notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notification(nil), r.got...)
}

func TestMonitorPollSuccess(t *testing.T) {
	state := &DeviceState{SetVoltage: 12, ActualVoltage: 11.9, Output: true}
	cmd := &mockCommander{}
	cmd.On("Dispatch", QueryCommand()).Return(Result{Success: true, State: state}).Once()

	m := NewMonitor(cmd, time.Second)
	l := &recordingListener{}
	m.AddListener(l)

	m.PollOnce()

	got := l.all()
	require.Len(t, got, 1)
	assert.Equal(t, SignalNewState, got[0].signal)
	assert.True(t, got[0].success)
	assert.Equal(t, state, got[0].msg)
	cmd.AssertNotCalled(t, "Reset")
	cmd.AssertExpectations(t)
}

func TestMonitorFailureResets(t *testing.T) {
	failure := failResult(errors.New(errors.ErrSerialTimeout))
	cmd := &mockCommander{}
	cmd.On("Dispatch", QueryCommand()).Return(failure).Twice()
	cmd.On("Reset").Return(failResult(errors.New(errors.ErrSerialPortOpen))).Twice()

	m := NewMonitor(cmd, time.Second)
	l1, l2 := &recordingListener{}, &recordingListener{}
	m.AddListener(l1)
	m.AddListener(ListenerFunc(l2.Notify))

	m.PollOnce()
	m.PollOnce()

	for _, l := range []*recordingListener{l1, l2} {
		got := l.all()
		require.Len(t, got, 2)
		for _, n := range got {
			assert.Equal(t, SignalNewState, n.signal)
			assert.False(t, n.success)
			assert.Empty(t, n.msg)
		}
	}

	cmd.AssertNumberOfCalls(t, "Reset", 2)
	assert.Equal(t, MonitorStats{Polls: 2, Failures: 2, Resets: 2}, m.Stats())
}

func TestMonitorRunStopsOnCancel(t *testing.T) {
	cmd := &mockCommander{}
	cmd.On("Dispatch", QueryCommand()).Return(failResult(errors.New(errors.ErrSerialTimeout)))
	cmd.On("Reset").Return(okResult(msgConnected))

	m := NewMonitor(cmd, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Stats().Polls >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor did not stop after cancel")
	}

	stats := m.Stats()
	assert.Equal(t, stats.Polls, stats.Resets)
}

func TestMonitorRecoversWithDispatcher(t *testing.T) {
	d, emu := newTestDispatcher(t)
	m := NewMonitor(d, time.Second)
	l := &recordingListener{}
	m.AddListener(l)

	emu.SetResponding(false)
	m.PollOnce()
	emu.SetResponding(true)
	m.PollOnce()

	got := l.all()
	require.Len(t, got, 2)
	assert.False(t, got[0].success)
	assert.True(t, got[1].success)
	assert.IsType(t, &DeviceState{}, got[1].msg)
	assert.True(t, d.Connected())
}
