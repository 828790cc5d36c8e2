package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-daq/control"
	"github.com/arloliu/go-daq/daq"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/sim"
)

type mockDevice struct {
	mock.Mock
}

var _ Device = (*mockDevice)(nil)

func (m *mockDevice) ReadConfiguration() daq.Config {
	return m.Called().Get(0).(daq.Config)
}

func (m *mockDevice) SetSequenced(sequenced bool) { m.Called(sequenced) }

func (m *mockDevice) State() (control.State, error) {
	args := m.Called()
	return args.Get(0).(control.State), args.Error(1)
}

func (m *mockDevice) Stop() error   { return m.Called().Error(0) }
func (m *mockDevice) Pause() error  { return m.Called().Error(0) }
func (m *mockDevice) Resume() error { return m.Called().Error(0) }

func (m *mockDevice) Wait(timeout time.Duration) error {
	return m.Called(timeout).Error(0)
}

func newTestAdapter(dev Device) *Adapter {
	return NewAdapter(dev, logger.NewMockLogger().AllowAll())
}

func TestAdapterRunMessages(t *testing.T) {
	require := require.New(t)

	dev := new(mockDevice)
	dev.On("SetSequenced", true).Return().Once()
	dev.On("SetSequenced", false).Return().Twice()

	a := newTestAdapter(dev)
	require.NoError(a.Consume(Message{Command: OpenRun}))
	require.NoError(a.Consume(Message{Command: CloseRun, Args: map[string]any{"exit_status": "success"}}))
	require.NoError(a.Consume(Message{Command: "set"}))
	require.NoError(a.Close())

	dev.AssertExpectations(t)
	require.Equal(int64(1), a.MessageCount(OpenRun))
	require.Equal(int64(1), a.MessageCount("set"))
	require.Zero(a.MessageCount(Save))
}

func TestAdapterCreate(t *testing.T) {
	t.Run("running", func(t *testing.T) {
		require := require.New(t)

		dev := new(mockDevice)
		dev.On("ReadConfiguration").Return(daq.Config{})
		dev.On("State").Return(control.Running, nil)
		stop := dev.On("Stop").Return(nil).Once()
		dev.On("Resume").Return(nil).Once().NotBefore(stop)

		require.NoError(newTestAdapter(dev).Consume(Message{Command: Create}))
		dev.AssertExpectations(t)
	})

	t.Run("open", func(t *testing.T) {
		require := require.New(t)

		dev := new(mockDevice)
		dev.On("ReadConfiguration").Return(daq.Config{})
		dev.On("State").Return(control.Open, nil)
		dev.On("Resume").Return(nil).Once()

		require.NoError(newTestAdapter(dev).Consume(Message{Command: Create}))
		dev.AssertExpectations(t)
		dev.AssertNotCalled(t, "Stop")
	})

	t.Run("errors", func(t *testing.T) {
		require := require.New(t)

		dev := new(mockDevice)
		dev.On("ReadConfiguration").Return(daq.Config{})
		dev.On("State").Return(control.Open, nil)
		dev.On("Resume").Return(daq.ErrNotConnected)

		err := newTestAdapter(dev).Consume(Message{Command: Create})
		require.ErrorIs(err, daq.ErrNotConnected)
		require.ErrorContains(err, "create")
	})
}

func TestAdapterSave(t *testing.T) {
	t.Run("bounded acquisition", func(t *testing.T) {
		require := require.New(t)

		n := 5
		dev := new(mockDevice)
		dev.On("ReadConfiguration").Return(daq.Config{Events: &n})
		dev.On("Wait", time.Duration(0)).Return(nil).Once()

		require.NoError(newTestAdapter(dev).Consume(Message{Command: Save}))
		dev.AssertExpectations(t)
		dev.AssertNotCalled(t, "Pause")
	})

	t.Run("unbounded acquisition", func(t *testing.T) {
		require := require.New(t)

		zero := 0
		dev := new(mockDevice)
		dev.On("ReadConfiguration").Return(daq.Config{Events: &zero})
		dev.On("Pause").Return(nil).Once()

		require.NoError(newTestAdapter(dev).Consume(Message{Command: Save}))
		dev.AssertExpectations(t)
		dev.AssertNotCalled(t, "Wait", mock.Anything)
	})

	t.Run("errors", func(t *testing.T) {
		require := require.New(t)

		dev := new(mockDevice)
		dev.On("ReadConfiguration").Return(daq.Config{})
		dev.On("Pause").Return(errors.New("link down"))

		require.ErrorContains(newTestAdapter(dev).Consume(Message{Command: Save}), "save: link down")
	})
}

func TestAdapterAlwaysOn(t *testing.T) {
	require := require.New(t)

	dev := new(mockDevice)
	dev.On("ReadConfiguration").Return(daq.Config{AlwaysOn: true})

	a := newTestAdapter(dev)
	require.NoError(a.Consume(Message{Command: Create}))
	require.NoError(a.Consume(Message{Command: Save}))

	dev.AssertNumberOfCalls(t, "ReadConfiguration", 2)
	dev.AssertNotCalled(t, "State")
	dev.AssertNotCalled(t, "Resume")
	dev.AssertNotCalled(t, "Pause")
}

// countingDevice counts the calls the adapter makes into a real controller.
type countingDevice struct {
	*daq.Controller
	states, stops, pauses, resumes, waits atomic.Int32
}

func (d *countingDevice) State() (control.State, error) {
	d.states.Add(1)
	return d.Controller.State()
}

func (d *countingDevice) Stop() error {
	d.stops.Add(1)
	return d.Controller.Stop()
}

func (d *countingDevice) Pause() error {
	d.pauses.Add(1)
	return d.Controller.Pause()
}

func (d *countingDevice) Resume() error {
	d.resumes.Add(1)
	return d.Controller.Resume()
}

func (d *countingDevice) Wait(timeout time.Duration) error {
	d.waits.Add(1)
	return d.Controller.Wait(timeout)
}

func newSimDevice(t *testing.T) (*countingDevice, *sim.Link) {
	t.Helper()

	lnk := sim.NewLink(sim.WithLogger(logger.NewMockLogger().AllowAll()), sim.WithEventRate(50))
	ctrl, err := daq.New(context.Background(), lnk.Factory(),
		daq.WithLogger(logger.NewMockLogger().AllowAll()),
		daq.WithPollInterval(5*time.Millisecond),
		daq.WithBeginTimeout(time.Second))
	require.NoError(t, err)
	t.Cleanup(func() { _ = ctrl.Close() })

	return &countingDevice{Controller: ctrl}, lnk
}

func lastBegin(t *testing.T, lnk *sim.Link) control.BeginArgs {
	t.Helper()

	calls := lnk.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if args, ok := calls[i].Args.(control.BeginArgs); ok {
			return args
		}
	}
	require.FailNow(t, "no begin command issued")

	return control.BeginArgs{}
}

func TestAdapterScenario(t *testing.T) {
	t.Run("step scan", func(t *testing.T) {
		require := require.New(t)

		dev, lnk := newSimDevice(t)
		a := newTestAdapter(dev)

		_, _, err := dev.Configure(daq.WithEvents(5))
		require.NoError(err)

		require.NoError(a.Consume(Message{Command: OpenRun}))
		require.True(dev.Sequenced())

		// the kickoff opens the run with a single event
		require.NoError(dev.Kickoff().Wait(time.Second))
		one := 1
		require.Equal(control.BeginArgs{Events: &one}, lastBegin(t, lnk))
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(lnk.WaitState(ctx, control.Open))

		require.NoError(a.Consume(Message{Command: Create}))
		state, err := dev.State()
		require.NoError(err)
		require.Equal(control.Running, state)
		five := 5
		require.Equal(control.BeginArgs{Events: &five}, lastBegin(t, lnk))
		require.True(dev.Sequenced())

		require.NoError(a.Consume(Message{Command: Save}))
		state, err = dev.State()
		require.NoError(err)
		require.Equal(control.Open, state)
		require.True(dev.Sequenced())

		require.NoError(a.Consume(Message{Command: CloseRun}))
		require.False(dev.Sequenced())
		require.NoError(dev.Complete().Wait(time.Second))

		require.Equal(int32(1), dev.resumes.Load())
		require.Equal(int32(1), dev.waits.Load())
		require.Zero(dev.pauses.Load())
		require.Zero(dev.stops.Load())
		require.Equal(2, lnk.CallCount("Begin"))
	})

	t.Run("always on", func(t *testing.T) {
		require := require.New(t)

		dev, lnk := newSimDevice(t)
		a := newTestAdapter(dev)

		_, _, err := dev.Configure(daq.WithAlwaysOn(true))
		require.NoError(err)

		require.NoError(a.Consume(Message{Command: OpenRun}))
		require.NoError(dev.Begin(false))

		for range 3 {
			require.NoError(a.Consume(Message{Command: Create}))
			require.NoError(a.Consume(Message{Command: Save}))
		}

		state, err := dev.State()
		require.NoError(err)
		require.Equal(control.Running, state)

		require.NoError(a.Consume(Message{Command: CloseRun}))
		require.NoError(dev.Complete().Wait(time.Second))

		require.Equal(int32(1), dev.states.Load())
		require.Zero(dev.resumes.Load())
		require.Zero(dev.waits.Load())
		require.Zero(dev.pauses.Load())
		require.Equal(1, lnk.CallCount("Begin"))
		require.Equal(int64(3), a.MessageCount(Create))
	})
}
