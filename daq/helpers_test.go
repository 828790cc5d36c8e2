package daq

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/go-daq/control"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/sim"
)

type motor struct{ pos float64 }

func (m motor) Position() (float64, error) { return m.pos, nil }

type sensor struct{ val float64 }

func (s sensor) Value() (float64, error) { return s.val, nil }

// stage reports both a position and a value.
type stage struct{}

func (stage) Position() (float64, error) { return 1, nil }
func (stage) Value() (float64, error)    { return 2, nil }

type brokenSensor struct{}

func (brokenSensor) Value() (float64, error) { return 0, errors.New("sensor offline") }

// mockLink is a testify mock implementing control.Link.
type mockLink struct {
	mock.Mock
}

var _ control.Link = (*mockLink)(nil)

func (m *mockLink) Connect() error    { return m.Called().Error(0) }
func (m *mockLink) Disconnect() error { return m.Called().Error(0) }
func (m *mockLink) Stop() error       { return m.Called().Error(0) }
func (m *mockLink) End() error        { return m.Called().Error(0) }

func (m *mockLink) State() (int, error) {
	args := m.Called()
	return args.Int(0), args.Error(1)
}

func (m *mockLink) Configure(args control.ConfigureArgs) error {
	return m.Called(args).Error(0)
}

func (m *mockLink) Begin(args control.BeginArgs) error {
	return m.Called(args).Error(0)
}

func (m *mockLink) factory() control.Factory {
	return func(string, int) (control.Link, error) { return m, nil }
}

func testOptions(opts ...Option) []Option {
	return append([]Option{
		WithLogger(logger.NewMockLogger().AllowAll()),
		WithHost("daq-test"),
		WithPollInterval(5 * time.Millisecond),
		WithBeginTimeout(500 * time.Millisecond),
		WithCloseTimeout(time.Second),
	}, opts...)
}

func newTestController(t *testing.T, factory control.Factory, opts ...Option) *Controller {
	t.Helper()

	c, err := New(context.Background(), factory, testOptions(opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func newSimController(t *testing.T, simOpts []sim.Option, opts ...Option) (*Controller, *sim.Link) {
	t.Helper()

	simOpts = append([]sim.Option{sim.WithLogger(logger.NewMockLogger().AllowAll())}, simOpts...)
	lnk := sim.NewLink(simOpts...)

	return newTestController(t, lnk.Factory(), opts...), lnk
}

func requireState(t *testing.T, c *Controller, expected control.State) {
	t.Helper()

	state, err := c.State()
	require.NoError(t, err)
	require.Equal(t, expected, state)
}

func lastBegin(t *testing.T, lnk *sim.Link) control.BeginArgs {
	t.Helper()

	calls := lnk.Calls()
	for i := len(calls) - 1; i >= 0; i-- {
		if calls[i].Method == "Begin" {
			args, ok := calls[i].Args.(control.BeginArgs)
			require.True(t, ok)

			return args
		}
	}
	require.FailNow(t, "no begin command issued")

	return control.BeginArgs{}
}

func intPtr(n int) *int { return &n }
