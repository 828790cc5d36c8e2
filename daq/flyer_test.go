package daq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-daq/control"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/sim"
	"github.com/arloliu/go-daq/status"
)

func TestKickoff(t *testing.T) {
	t.Run("disconnected resolves failed", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, []sim.Option{sim.WithUnreachable()})

		start := time.Now()
		st := c.Kickoff()
		require.True(st.IsDone())

		err := st.Wait(time.Second)
		require.ErrorIs(err, ErrOperationFailed)
		require.ErrorIs(err, ErrNotConnected)
		require.Less(time.Since(start), 500*time.Millisecond)
		require.Zero(lnk.CallCount("Begin"))
		require.Equal(uint64(1), c.Metrics().KickoffErrCount.Load())
	})

	t.Run("auto configures with the defaults", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, nil)

		require.NoError(c.Kickoff(RunEvents(0)).Wait(time.Second))
		require.True(c.Configured())
		require.Equal(DefaultConfig(), c.ReadConfiguration())
		require.Equal(1, lnk.CallCount("Configure"))
		requireState(t, c, control.Running)
		require.Equal(uint64(1), c.Metrics().BeginCount.Load())
	})

	t.Run("waits for readiness", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, []sim.Option{sim.WithSettleDelay(50 * time.Millisecond)})
		_, _, err := c.Configure(WithEvents(10))
		require.NoError(err)
		requireState(t, c, control.Connected)

		st := c.Kickoff()
		require.False(st.IsDone())

		require.NoError(st.Wait(time.Second))
		require.Equal(control.BeginArgs{Events: intPtr(10)}, lastBegin(t, lnk))
	})

	t.Run("not ready within the begin timeout", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, []sim.Option{sim.WithSettleDelay(time.Hour)},
			WithBeginTimeout(60*time.Millisecond))

		start := time.Now()
		err := c.Kickoff().Wait(time.Second)
		require.ErrorIs(err, ErrOperationFailed)
		require.ErrorIs(err, ErrNotReady)
		require.WithinDuration(start.Add(60*time.Millisecond), time.Now(), 200*time.Millisecond)
		require.Zero(lnk.CallCount("Begin"))
	})

	t.Run("short duration", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, nil)

		err := c.Kickoff(RunDuration(500 * time.Millisecond)).Wait(time.Second)
		require.ErrorIs(err, ErrInvalidArgument)
		require.Zero(lnk.CallCount("Connect"))

		require.NoError(c.Kickoff(RunDuration(time.Second)).Wait(time.Second))
		require.Equal(control.BeginArgs{Duration: &control.RunDuration{Seconds: 1}}, lastBegin(t, lnk))
	})

	t.Run("does not block the caller", func(t *testing.T) {
		require := require.New(t)

		c, _ := newSimController(t, []sim.Option{sim.WithSettleDelay(200 * time.Millisecond)})
		require.NoError(c.Connect())

		start := time.Now()
		st := c.Kickoff()
		require.Less(time.Since(start), 100*time.Millisecond)
		require.Len(c.PendingOperations(), 1)
		require.Equal(int64(1), c.Metrics().InflightOps.Load())

		require.NoError(st.Wait(time.Second))
		require.Empty(c.PendingOperations())
		require.Zero(c.Metrics().InflightOps.Load())
	})
}

func TestBegin(t *testing.T) {
	t.Run("wait for the acquisition", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, []sim.Option{
			sim.WithSettleDelay(50 * time.Millisecond),
			sim.WithEventRate(100),
		})

		_, _, err := c.Configure(WithEvents(10), WithRecord(false))
		require.NoError(err)

		require.NoError(c.Begin(true))
		requireState(t, c, control.Open)
		require.Equal(control.BeginArgs{Events: intPtr(10)}, lastBegin(t, lnk))
	})

	t.Run("running then not running", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, []sim.Option{
			sim.WithSettleDelay(50 * time.Millisecond),
			sim.WithEventRate(100),
		})

		_, _, err := c.Configure(WithEvents(10), WithRecord(false))
		require.NoError(err)

		require.NoError(c.Begin(false))
		requireState(t, c, control.Running)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(lnk.WaitState(ctx, control.Open))
		requireState(t, c, control.Open)
	})

	t.Run("kickoff failure", func(t *testing.T) {
		require := require.New(t)

		c, _ := newSimController(t, []sim.Option{sim.WithUnreachable()})

		err := c.Begin(true)
		require.ErrorIs(err, ErrOperationFailed)
		require.ErrorIs(err, ErrNotConnected)
	})
}

func TestComplete(t *testing.T) {
	t.Run("ends the run", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, nil)
		require.NoError(c.Begin(false, RunEvents(0)))

		st := c.Complete()
		require.NoError(st.Wait(time.Second))
		requireState(t, c, control.Configured)
		require.Equal(1, lnk.CallCount("End"))
	})

	t.Run("twice on an ended run", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, nil)
		_, _, err := c.Configure()
		require.NoError(err)

		first := c.Complete()
		require.NoError(first.Wait(time.Second))
		second := c.Complete()
		require.NoError(second.Wait(time.Second))

		require.NotEqual(first.ID(), second.ID())
		require.Equal(2, lnk.CallCount("End"))
		require.Zero(c.Metrics().EndRunCount.Load())
	})

	t.Run("not connected", func(t *testing.T) {
		require := require.New(t)

		c, _ := newSimController(t, []sim.Option{sim.WithUnreachable()})

		err := c.Complete().Wait(time.Second)
		require.ErrorIs(err, ErrNotConnected)
	})

	t.Run("callback after resolution", func(t *testing.T) {
		require := require.New(t)

		c, _ := newSimController(t, nil)
		require.NoError(c.Begin(false, RunEvents(0)))

		calls := make(chan bool, 2)
		st := c.Complete()
		st.AddCallback(func(s *status.Status) { calls <- s.Success() })
		require.NoError(st.Wait(time.Second))
		st.AddCallback(func(s *status.Status) { calls <- s.Success() })

		require.True(<-calls)
		require.True(<-calls)
		require.Empty(calls)
	})
}

func TestCollect(t *testing.T) {
	t.Run("ends a running acquisition", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, nil)
		require.NoError(c.Begin(false, RunEvents(0)))
		requireState(t, c, control.Running)

		n := 0
		for range c.Collect() {
			n++
		}
		require.Zero(n)
		require.Equal(1, lnk.CallCount("End"))
		requireState(t, c, control.Configured)
		require.Equal(uint64(1), c.Metrics().EndRunCount.Load())
	})

	t.Run("lazy until iterated", func(t *testing.T) {
		require := require.New(t)

		c, lnk := newSimController(t, nil)
		require.NoError(c.Begin(false, RunEvents(0)))

		events := c.Collect()
		require.Zero(lnk.CallCount("End"))
		requireState(t, c, control.Running)

		events(func(Event) bool { return true })
		require.Equal(1, lnk.CallCount("End"))
	})

	t.Run("end failure is logged", func(t *testing.T) {
		require := require.New(t)

		mockLogger := logger.NewMockLogger().AllowAll()
		c, lnk := newSimController(t, []sim.Option{sim.WithUnreachable()}, WithLogger(mockLogger))

		for range c.Collect() {
			require.Fail("no events expected")
		}
		require.Zero(lnk.CallCount("End"))
		mockLogger.AssertCalled(t, "Error", "failed to end the run on collect", mock.Anything)
	})
}
