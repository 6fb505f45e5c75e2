package interlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/ps2000-control/internal/config"
	"github.com/wfunc/ps2000-control/internal/errors"
	"github.com/wfunc/ps2000-control/internal/hardware"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(cmd hardware.Command) hardware.Result {
	return m.Called(cmd).Get(0).(hardware.Result)
}

type event struct {
	success bool
	msg     string
}

type recorder struct {
	mu     sync.Mutex
	events []event
}

func (r *recorder) Notify(signal hardware.Signal, success bool, msg interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if signal == hardware.SignalInterlock {
		r.events = append(r.events, event{success, msg.(string)})
	}
}

func (r *recorder) all() []event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]event(nil), r.events...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func testConfig() config.InterlockConfig {
	return config.InterlockConfig{TripAt: "22:00", WarnBefore: 10 * time.Minute, Extend: 30 * time.Minute}
}

func newTestInterlock(t *testing.T, start time.Time) (*Interlock, *mockDispatcher, *recorder, *fakeClock) {
	t.Helper()
	cmd := &mockDispatcher{}
	il, err := New(testConfig(), cmd)
	require.NoError(t, err)

	clock := &fakeClock{t: start}
	il.now = clock.now
	rec := &recorder{}
	il.AddListener(rec)
	return il, cmd, rec, clock
}

func at(hour, min int) time.Time {
	return time.Date(2026, 3, 14, hour, min, 0, 0, time.Local)
}

func TestNewRejectsBadConfig(t *testing.T) {
	cfg := testConfig()
	cfg.TripAt = "late"
	_, err := New(cfg, &mockDispatcher{})
	assert.True(t, errors.Is(err, errors.ErrConfigValidate))

	cfg = testConfig()
	cfg.Extend = 0
	_, err = New(cfg, &mockDispatcher{})
	assert.True(t, errors.Is(err, errors.ErrConfigValidate))
}

func TestToggleSchedulesNextTrip(t *testing.T) {
	il, _, _, clock := newTestInterlock(t, at(20, 0))

	st := il.Toggle(true)
	assert.True(t, st.Enabled)
	assert.Equal(t, at(22, 0), st.Deadline)

	// 22:00 之后开启，截止时间为次日
	clock.set(at(22, 30))
	st = il.Toggle(true)
	assert.Equal(t, at(22, 0).AddDate(0, 0, 1), st.Deadline)

	st = il.Toggle(false)
	assert.False(t, st.Enabled)
	assert.True(t, st.Deadline.IsZero())

	_, ok := il.Check()
	assert.False(t, ok)
}

func TestWarnThenTrip(t *testing.T) {
	il, cmd, rec, clock := newTestInterlock(t, at(21, 0))
	cmd.On("Dispatch", hardware.SetPowerCommand(false)).Return(hardware.Result{Success: true}).Once()
	il.Toggle(true)

	wait, ok := il.Check()
	require.True(t, ok)
	assert.Equal(t, 50*time.Minute, wait)
	assert.Empty(t, rec.all())

	clock.set(at(21, 50))
	wait, _ = il.Check()
	assert.Equal(t, 10*time.Minute, wait)
	require.Len(t, rec.all(), 1)
	assert.True(t, rec.all()[0].success)
	assert.Contains(t, rec.all()[0].msg, "10 minutes")

	// 警告只发一次
	clock.set(at(21, 55))
	il.Check()
	assert.Len(t, rec.all(), 1)

	clock.set(at(22, 0))
	wait, _ = il.Check()
	events := rec.all()
	require.Len(t, events, 2)
	assert.False(t, events[1].success)
	assert.Equal(t, 24*time.Hour, wait)
	assert.True(t, il.State().Enabled)
	cmd.AssertExpectations(t)
}

func TestResetExtendsDeadline(t *testing.T) {
	il, cmd, rec, clock := newTestInterlock(t, at(21, 0))

	_, err := il.Reset()
	assert.True(t, errors.Is(err, errors.ErrInvalidState))

	il.Toggle(true)
	clock.set(at(21, 52))
	il.Check()
	require.Len(t, rec.all(), 1)

	st, err := il.Reset()
	require.NoError(t, err)
	assert.Equal(t, at(22, 22), st.Deadline)
	assert.False(t, st.Warned)

	clock.set(at(22, 5))
	il.Check()
	assert.Len(t, rec.all(), 1)
	cmd.AssertNotCalled(t, "Dispatch", mock.Anything)

	clock.set(at(22, 12))
	il.Check()
	assert.Len(t, rec.all(), 2)
}

func TestTripReportsPowerOffFailure(t *testing.T) {
	il, cmd, rec, clock := newTestInterlock(t, at(21, 59))
	cmd.On("Dispatch", hardware.SetPowerCommand(false)).
		Return(hardware.Result{Success: false, Message: "[3004] 设备未连接"})
	il.Toggle(true)

	clock.set(at(22, 1))
	il.Check()

	events := rec.all()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.False(t, last.success)
	assert.Contains(t, last.msg, "3004")
}

func TestRunTripsAndStops(t *testing.T) {
	il, cmd, rec, clock := newTestInterlock(t, at(21, 0))
	cmd.On("Dispatch", hardware.SetPowerCommand(false)).Return(hardware.Result{Success: true})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		il.Run(ctx)
		close(done)
	}()

	// 开启时截止时间已过去，Run 被唤醒后立即处理
	clock.set(at(21, 59))
	il.Toggle(true)
	clock.set(at(22, 0))
	_, err := il.Reset()
	require.NoError(t, err)
	clock.set(at(22, 31))
	il.kick()

	assert.Eventually(t, func() bool {
		for _, e := range rec.all() {
			if !e.success {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("interlock did not stop")
	}
}
