// Package sim provides a simulated DAQ control process implementing control.Link.
//
// The simulation follows the state machine of the real process:
//
//	Connect:   Disconnected -> Connected
//	Configure: Connected|Configured -> Configured (after the settle delay)
//	Begin:     Configured|Open -> Running
//	Stop:      Running -> Open
//	End:       Open|Running -> Configured
//
// An acquisition started with an event count ends after count/rate seconds, one started with a
// duration ends after that duration, and one with zero events runs until stopped. The daq then
// returns to Open.
//
// It is used by tests and by the daqctl command to exercise the controller without hardware.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/arloliu/go-daq/control"
	"github.com/arloliu/go-daq/logger"
)

var (
	// ErrUnreachable is returned by Connect when the simulated process is unreachable.
	ErrUnreachable = errors.New("sim: daq is not reachable")

	// ErrNotConnected is returned by commands issued before Connect.
	ErrNotConnected = errors.New("sim: not connected")

	// ErrInvalidTransition is returned by commands not allowed from the current state.
	ErrInvalidTransition = errors.New("sim: invalid state transition")

	// ErrConfigureRejected is the default error of a configure failure injected by
	// WithConfigureFailure.
	ErrConfigureRejected = errors.New("sim: configuration rejected")
)

// DefaultEventRate is the simulated event rate in events per second.
const DefaultEventRate = 120

// Call is one command received by the simulated process.
type Call struct {
	Method string
	// Args is a control.ConfigureArgs for Configure, a control.BeginArgs for Begin, and nil
	// otherwise.
	Args any
}

type options struct {
	settleDelay  time.Duration
	eventRate    int
	unreachable  bool
	configureErr error
	logger       logger.Logger
	handlers     []StateChangeHandler
}

// Option configures a simulated Link.
type Option func(*options)

// WithSettleDelay delays the visibility of a configuration by d, as the real process does
// while it allocates its resources.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) { o.settleDelay = d }
}

// WithEventRate sets the event rate used to time acquisitions limited by an event count.
func WithEventRate(rate int) Option {
	return func(o *options) {
		if rate > 0 {
			o.eventRate = rate
		}
	}
}

// WithUnreachable makes every Connect fail with ErrUnreachable.
func WithUnreachable() Option {
	return func(o *options) { o.unreachable = true }
}

// WithConfigureFailure makes every Configure fail with err, ErrConfigureRejected if err is nil.
func WithConfigureFailure(err error) Option {
	return func(o *options) {
		if err == nil {
			err = ErrConfigureRejected
		}
		o.configureErr = err
	}
}

// WithLogger sets the logger of the simulated process.
func WithLogger(l logger.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStateChangeHandler registers handlers invoked on every state change.
func WithStateChangeHandler(handlers ...StateChangeHandler) Option {
	return func(o *options) { o.handlers = append(o.handlers, handlers...) }
}

// Link is a simulated control process. It is safe for concurrent use; commands are executed
// one at a time as the real process does.
type Link struct {
	opts   options
	logger logger.Logger
	states *stateMgr

	mu        sync.Mutex
	connected bool
	host      string
	platform  int
	acqTimer  *time.Timer
	acqGen    uint64
	calls     []Call
}

var _ control.Link = (*Link)(nil)

// NewLink creates a disconnected simulated process.
func NewLink(opts ...Option) *Link {
	o := options{eventRate: DefaultEventRate}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logger.GetLogger()
	}

	l := o.logger.With("component", "sim")

	return &Link{
		opts:   o,
		logger: l,
		states: newStateMgr(l, o.handlers...),
	}
}

// Factory returns a control.Factory that hands out this link for any host and platform.
func (l *Link) Factory() control.Factory {
	return func(host string, platform int) (control.Link, error) {
		l.mu.Lock()
		l.host, l.platform = host, platform
		l.mu.Unlock()

		return l, nil
	}
}

// Allocation returns the host and platform of the last Factory call.
func (l *Link) Allocation() (host string, platform int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.host, l.platform
}

// Connect implements control.Link.
func (l *Link) Connect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record("Connect", nil)
	if l.opts.unreachable {
		return ErrUnreachable
	}

	l.connected = true
	if l.states.State() == control.Disconnected {
		l.states.to(control.Connected)
	}

	return nil
}

// Disconnect implements control.Link. The current acquisition is dropped.
func (l *Link) Disconnect() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record("Disconnect", nil)
	l.cancelAcquisition()
	l.connected = false
	l.states.to(control.Disconnected)

	return nil
}

// State implements control.Link.
func (l *Link) State() (int, error) {
	return l.states.State().Code(), nil
}

// Configure implements control.Link.
func (l *Link) Configure(args control.ConfigureArgs) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record("Configure", args)
	if err := l.check("Configure", control.Connected, control.Configured); err != nil {
		return err
	}
	if l.opts.configureErr != nil {
		return l.opts.configureErr
	}

	if l.opts.settleDelay <= 0 {
		l.states.to(control.Configured)
		return nil
	}

	time.AfterFunc(l.opts.settleDelay, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.connected && l.states.State() == control.Connected {
			l.states.to(control.Configured)
		}
	})

	return nil
}

// Begin implements control.Link.
func (l *Link) Begin(args control.BeginArgs) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record("Begin", args)
	if err := l.check("Begin", control.Configured, control.Open); err != nil {
		return err
	}

	l.cancelAcquisition()
	l.states.to(control.Running)

	length := l.acquisitionLength(args)
	if length <= 0 {
		l.logger.Debug("acquisition runs until stopped")
		return nil
	}

	gen := l.acqGen
	l.acqTimer = time.AfterFunc(length, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if gen == l.acqGen && l.states.State() == control.Running {
			l.logger.Debug("acquisition finished", "length", length)
			l.states.to(control.Open)
		}
	})

	return nil
}

// Stop implements control.Link. It is a no-op unless Running.
func (l *Link) Stop() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record("Stop", nil)
	if !l.connected {
		return ErrNotConnected
	}

	if l.states.State() == control.Running {
		l.cancelAcquisition()
		l.states.to(control.Open)
	}

	return nil
}

// End implements control.Link. It returns control.ErrNotRunning when no run is open.
func (l *Link) End() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.record("End", nil)
	if !l.connected {
		return ErrNotConnected
	}
	if !l.states.State().HasOpenRun() {
		return control.ErrNotRunning
	}

	l.cancelAcquisition()
	l.states.to(control.Configured)

	return nil
}

// WaitState blocks until the simulated daq reaches state or ctx is done.
func (l *Link) WaitState(ctx context.Context, state control.State) error {
	return l.states.waitState(ctx, state)
}

// AddStateChangeHandler registers handlers invoked on every state change.
func (l *Link) AddStateChangeHandler(handlers ...StateChangeHandler) {
	l.states.addHandler(handlers...)
}

// Calls returns a copy of the commands received so far, in order. Commands rejected with an
// error are included.
func (l *Link) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()

	return slices.Clone(l.calls)
}

// CallCount returns how many times method was called, rejected calls included.
func (l *Link) CallCount(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, c := range l.calls {
		if c.Method == method {
			n++
		}
	}

	return n
}

func (l *Link) record(method string, args any) {
	l.calls = append(l.calls, Call{Method: method, Args: args})
	l.logger.Debug("sim command", "method", method, "state", l.states.State())
}

// check returns an error unless connected and in one of allowed.
func (l *Link) check(method string, allowed ...control.State) error {
	if !l.connected {
		return ErrNotConnected
	}

	cur := l.states.State()
	if !slices.Contains(allowed, cur) {
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, method, cur)
	}

	return nil
}

// cancelAcquisition invalidates the timer of the current acquisition.
func (l *Link) cancelAcquisition() {
	l.acqGen++
	if l.acqTimer != nil {
		l.acqTimer.Stop()
		l.acqTimer = nil
	}
}

func (l *Link) acquisitionLength(args control.BeginArgs) time.Duration {
	events := 0
	switch {
	case args.Events != nil:
		events = *args.Events
	case args.L3TEvents != nil:
		events = *args.L3TEvents
	case args.Duration != nil:
		return time.Duration(args.Duration.Seconds)*time.Second + time.Duration(args.Duration.Nanoseconds)
	}

	if events <= 0 {
		return 0
	}

	return time.Duration(events) * time.Second / time.Duration(l.opts.eventRate)
}
