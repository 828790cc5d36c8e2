// Package daq drives an external DAQ control process as an asynchronous flyer.
//
// A Controller owns the connection to the control process, the staged configuration and the
// state machine built on top of the control.Link command API:
//
//	Disconnected -> Connected -> Configured -> Open -> Running
//
// The daq state is never cached: every decision reads it from the live link. Interactive calls
// (Configure, Kickoff, Begin, Stop, Wait, EndRun, Complete) connect automatically when needed.
// Pause and Resume are driven by lifecycle messages and require an existing connection.
//
// Kickoff, Complete and Wait run on background goroutines and report their outcome through a
// status.Status. Kickoff never blocks the caller.
//
// Example Usage:
//
//	ctrl, err := daq.New(ctx, factory, daq.WithPlatform(1))
//	if err != nil {
//	    // ...
//	}
//	defer ctrl.Close()
//
//	_, _, err = ctrl.Configure(daq.WithEvents(120), daq.WithRecord(true))
//	if err != nil {
//	    // ...
//	}
//
//	st := ctrl.Kickoff()
//	if err := st.Wait(5 * time.Second); err != nil {
//	    // ...
//	}
//	err = ctrl.Complete().Wait(0)
package daq

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-daq/control"
	"github.com/arloliu/go-daq/internal/task"
	"github.com/arloliu/go-daq/logger"
	"github.com/arloliu/go-daq/status"
)

// Controller controls one DAQ instance through a control.Link.
//
// All methods are safe for concurrent use. The controller never holds a lock across a link
// call, so concurrent configures may interleave at the control process; callers needing
// stronger atomicity must serialize externally. Overlapping kickoffs are not queued.
type Controller struct {
	cfg     *controllerConfig
	factory control.Factory
	logger  logger.Logger
	taskMgr *task.Manager
	opState atomicOpState
	metrics Metrics

	connMu sync.Mutex // serializes Connect and Disconnect

	mu      sync.Mutex // protects the fields below
	handle  linkHandle
	config  *Config // nil until the first successful Configure
	lastRun runParams

	sequenced atomic.Bool
	pending   *xsync.MapOf[string, *status.Status]
}

// New creates a disconnected Controller. factory is called on each connect to obtain a fresh
// link for the configured host and platform.
//
// Background operations are canceled when ctx is done or the controller is closed.
func New(ctx context.Context, factory control.Factory, opts ...Option) (*Controller, error) {
	if factory == nil {
		return nil, fmt.Errorf("%w: link factory must not be nil", ErrInvalidArgument)
	}

	cfg, err := newControllerConfig(opts...)
	if err != nil {
		return nil, err
	}

	l := cfg.logger.With("host", cfg.host, "platform", cfg.platform)
	c := &Controller{
		cfg:     cfg,
		factory: factory,
		logger:  l,
		taskMgr: task.NewManager(ctx, l),
		handle:  disconnected{},
		pending: xsync.NewMapOf[string, *status.Status](),
	}

	return c, nil
}

// Host returns the host the control process is allocated to.
func (c *Controller) Host() string { return c.cfg.host }

// Platform returns the DAQ platform number.
func (c *Controller) Platform() int { return c.cfg.platform }

// Metrics returns the counters of the controller.
func (c *Controller) Metrics() *Metrics { return &c.metrics }

// Connect takes control of the daq. It is a no-op, logged as a warning, when already connected.
//
// A failure is logged and returned wrapped in ErrConnectFailed; the controller stays
// disconnected. Callers may ignore the error and check Connected instead.
func (c *Controller) Connect() error {
	if !c.opState.isOpened() {
		c.logger.Debug("connect rejected", "method", "Connect", "op_state", c.opState.String())
		return ErrControllerClosed
	}

	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.Connected() {
		c.logger.Warn("connect requested, but the daq is already connected", "method", "Connect")
		return nil
	}

	c.logger.Debug("connect to daq", "method", "Connect")

	lnk, err := c.factory(c.cfg.host, c.cfg.platform)
	if err == nil {
		err = lnk.Connect()
	}
	if err != nil {
		c.metrics.incConnectErrCount()
		c.logger.Error("failed to connect, check that the daq is up and allocated to this host",
			"method", "Connect", "error", err)

		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	c.mu.Lock()
	c.handle = liveLink{link: lnk}
	c.mu.Unlock()

	c.metrics.incConnectCount()
	c.logger.Info("connected to daq", "method", "Connect")

	return nil
}

// Disconnect gives control of the daq back and discards the staged configuration.
// The controller is disconnected afterwards even if the link reports an error.
func (c *Controller) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	c.mu.Lock()
	h := c.handle
	c.handle = disconnected{}
	c.config = nil
	c.mu.Unlock()

	lnk, ok := h.live()
	if !ok {
		c.logger.Debug("disconnect requested, but the daq is not connected", "method", "Disconnect")
		return nil
	}

	if err := lnk.Disconnect(); err != nil {
		c.logger.Warn("daq link reported an error on disconnect", "method", "Disconnect", "error", err)
		return fmt.Errorf("disconnect: %w", err)
	}
	c.logger.Info("disconnected from daq", "method", "Disconnect")

	return nil
}

// Connected reports whether the controller holds a live link.
func (c *Controller) Connected() bool {
	_, ok := c.liveLink()
	return ok
}

// Configured reports whether a configuration has been accepted since the last connect.
func (c *Controller) Configured() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.config != nil
}

// State reads the current daq state from the control process. It is Disconnected without a
// live link.
func (c *Controller) State() (control.State, error) {
	lnk, ok := c.liveLink()
	if !ok {
		return control.Disconnected, nil
	}

	return readState(lnk)
}

// Sequenced reports whether the controller is driven by a sequencer run.
func (c *Controller) Sequenced() bool { return c.sequenced.Load() }

// SetSequenced marks whether the controller is driven by a sequencer run.
func (c *Controller) SetSequenced(sequenced bool) {
	if c.sequenced.Swap(sequenced) != sequenced {
		c.logger.Debug("sequenced flag changed", "sequenced", sequenced)
	}
}

// Configure stages a new configuration. Fields not set by opts take their DefaultConfig value.
//
// It is only allowed from Connected or Configured and returns ErrInvalidState otherwise. A
// duration below MinDuration or a control that is not a device returns ErrInvalidArgument. In
// these cases the stored configuration is unchanged and both snapshots equal it.
//
// When the control process rejects the configuration, the stored configuration is reset to
// the defaults and the error wraps ErrConfigureFailed; newCfg is then DefaultConfig().
func (c *Controller) Configure(opts ...ConfigOption) (oldCfg, newCfg Config, err error) {
	next := DefaultConfig()
	for _, opt := range opts {
		opt(&next)
	}

	c.logger.Debug("configure daq", "method", "Configure",
		"events", optional(next.Events), "duration", optional(next.Duration), "use_l3t", next.UseL3T,
		"record", next.Record, "controls", len(next.Controls), "always_on", next.AlwaysOn)

	oldCfg = c.ReadConfiguration()

	lnk, err := c.link(true)
	if err != nil {
		return oldCfg, oldCfg, fmt.Errorf("%w: cannot configure from state %s: %w",
			ErrInvalidState, control.Disconnected, err)
	}

	state, err := readState(lnk)
	if err != nil {
		return oldCfg, oldCfg, err
	}
	if !state.IsConfigurable() {
		return oldCfg, oldCfg, fmt.Errorf("%w: cannot configure from state %s", ErrInvalidState, state)
	}

	if err := checkDuration(next.Duration); err != nil {
		return oldCfg, oldCfg, err
	}
	if err := checkControls(next.Controls); err != nil {
		return oldCfg, oldCfg, err
	}

	args, err := c.configArgs(next.Record, next.UseL3T, next.Controls)
	if err != nil {
		return oldCfg, oldCfg, err
	}

	if err := lnk.Configure(args); err != nil {
		c.mu.Lock()
		c.config = nil
		c.mu.Unlock()

		c.metrics.incConfigureErrCount()
		c.logger.Error("daq rejected the configuration, configuration reset to defaults",
			"method", "Configure", "error", err)

		return oldCfg, DefaultConfig(), fmt.Errorf("%w: %w", ErrConfigureFailed, err)
	}

	stored := next.clone()
	c.mu.Lock()
	c.config = &stored
	c.mu.Unlock()

	c.metrics.incConfigureCount()
	c.logger.Info("daq configured", "method", "Configure")

	return oldCfg, next.clone(), nil
}

// ReadConfiguration returns a copy of the stored configuration, or DefaultConfig when the
// controller is not configured.
func (c *Controller) ReadConfiguration() Config {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.config == nil {
		return DefaultConfig()
	}

	return c.config.clone()
}

// DescribeConfiguration describes each field returned by ReadConfiguration.
func (c *Controller) DescribeConfiguration() map[string]FieldDescription {
	return describeConfig(c.ReadConfiguration())
}

// Stop halts the current acquisition and leaves the run open. It is a no-op unless Running.
func (c *Controller) Stop() error {
	c.logger.Debug("stop", "method", "Stop")

	lnk, err := c.link(true)
	if err != nil {
		return err
	}

	return c.stopLink(lnk)
}

// Pause stops the acquisition if the daq is Running, and does nothing otherwise.
// It does not connect automatically and returns ErrNotConnected without a live link.
func (c *Controller) Pause() error {
	c.logger.Debug("pause", "method", "Pause")

	lnk, err := c.link(false)
	if err != nil {
		return err
	}

	state, err := readState(lnk)
	if err != nil {
		return err
	}
	if state != control.Running {
		c.logger.Debug("pause ignored", "method", "Pause", "state", state)
		return nil
	}

	return c.stopLink(lnk)
}

// Resume starts a new acquisition with the arguments of the last kickoff if the daq is Open,
// and does nothing otherwise. It does not connect automatically and returns ErrNotConnected
// without a live link.
func (c *Controller) Resume() error {
	c.logger.Debug("resume", "method", "Resume")

	lnk, err := c.link(false)
	if err != nil {
		return err
	}

	state, err := readState(lnk)
	if err != nil {
		return err
	}
	if state != control.Open {
		c.logger.Debug("resume ignored", "method", "Resume", "state", state)
		return nil
	}

	c.mu.Lock()
	last := c.lastRun
	c.mu.Unlock()

	return c.Begin(false, last.options()...)
}

// Wait blocks until the current acquisition ends. It returns immediately unless the daq is
// Running. A timeout <= 0 waits forever; on expiry the error wraps ErrOperationTimedOut and the
// acquisition continues. The background poll stops with the wait.
func (c *Controller) Wait(timeout time.Duration) error {
	c.logger.Debug("wait for end of acquisition", "method", "Wait", "timeout", timeout)

	lnk, err := c.link(true)
	if err != nil {
		return err
	}

	state, err := readState(lnk)
	if err != nil {
		return err
	}
	if state != control.Running {
		return nil
	}

	st := c.newStatus("wait")
	c.goStatus(st, func(ctx context.Context) error {
		var readErr error
		ended := task.Poll(ctx, c.cfg.pollInterval, timeout, func() bool {
			state, err := readState(lnk)
			if err != nil {
				readErr = err
				return true
			}

			return state != control.Running
		})
		if !ended {
			if ctx.Err() != nil {
				return ErrControllerClosed
			}

			return fmt.Errorf("acquisition still running after %v: %w", timeout, ErrOperationTimedOut)
		}

		return readErr
	})

	// the poll is bounded by timeout and resolves st
	err = st.Wait(0)
	if cause := st.Err(); errors.Is(cause, ErrOperationTimedOut) {
		return cause
	}

	return err
}

// EndRun stops the acquisition and closes the open run. Ending when no run is open succeeds.
func (c *Controller) EndRun() error {
	c.logger.Debug("end run", "method", "EndRun")

	lnk, err := c.link(true)
	if err != nil {
		return err
	}

	if err := c.stopLink(lnk); err != nil {
		return err
	}

	return c.endLink(lnk)
}

// PendingOperations lists the unresolved asynchronous operations as "name id", sorted.
func (c *Controller) PendingOperations() []string {
	ops := make([]string, 0, c.pending.Size())
	c.pending.Range(func(id string, st *status.Status) bool {
		ops = append(ops, st.Name()+" "+id)
		return true
	})
	slices.Sort(ops)

	return ops
}

// Close tears the controller down. Background operations are canceled and awaited for at most
// the close timeout, an open run is ended, and the daq is disconnected.
//
// Close is idempotent. The controller cannot be connected again afterwards.
func (c *Controller) Close() error {
	if !c.opState.toClosing() {
		return nil
	}
	defer c.opState.toClosed()

	c.logger.Debug("close controller", "method", "Close", "pending", c.PendingOperations())

	var errs []error

	c.taskMgr.Stop()
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.closeTimeout)
	defer cancel()
	if err := c.taskMgr.Wait(ctx); err != nil {
		c.logger.Warn("background operations did not finish in time",
			"method", "Close", "pending", c.PendingOperations(), "error", err)
		errs = append(errs, err)
	}

	if lnk, ok := c.liveLink(); ok {
		state, err := readState(lnk)
		switch {
		case err != nil:
			errs = append(errs, err)
		case state.HasOpenRun():
			c.logger.Info("end the open run before disconnecting", "method", "Close", "state", state)
			if err := c.stopLink(lnk); err != nil {
				errs = append(errs, err)
			} else if err := c.endLink(lnk); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if err := c.Disconnect(); err != nil {
		errs = append(errs, err)
	}

	c.logger.Info("controller closed", "method", "Close")

	return errors.Join(errs...)
}

// link returns the live link. Without one, it connects first when autoConnect is set, and
// returns ErrNotConnected otherwise or when connecting fails.
func (c *Controller) link(autoConnect bool) (control.Link, error) {
	if lnk, ok := c.liveLink(); ok {
		return lnk, nil
	}
	if !autoConnect {
		return nil, ErrNotConnected
	}

	if err := c.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotConnected, err)
	}
	if lnk, ok := c.liveLink(); ok {
		return lnk, nil
	}

	// disconnected concurrently
	return nil, ErrNotConnected
}

func (c *Controller) liveLink() (control.Link, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.handle.live()
}

func (c *Controller) stopLink(lnk control.Link) error {
	if err := lnk.Stop(); err != nil {
		c.logger.Error("failed to stop the daq", "method", "Stop", "error", err)
		return fmt.Errorf("stop: %w", err)
	}
	c.metrics.incStopCount()
	c.logger.Info("daq stopped", "method", "Stop")

	return nil
}

// endLink closes the open run. control.ErrNotRunning means the run already ended.
func (c *Controller) endLink(lnk control.Link) error {
	if err := lnk.End(); err != nil {
		if errors.Is(err, control.ErrNotRunning) {
			c.logger.Debug("run already ended", "method", "EndRun")
			return nil
		}
		c.logger.Error("failed to end the run", "method", "EndRun", "error", err)

		return fmt.Errorf("end run: %w", err)
	}
	c.metrics.incEndRunCount()
	c.logger.Info("run ended", "method", "EndRun")

	return nil
}

// newStatus creates a status tracked in the pending registry until it resolves.
func (c *Controller) newStatus(name string) *status.Status {
	st := status.New(name)
	c.pending.Store(st.ID(), st)
	c.metrics.incInflightOps()
	st.AddCallback(func(s *status.Status) {
		c.pending.Delete(s.ID())
		c.metrics.decInflightOps()
	})

	return st
}

// goStatus runs fn in the background. The task owns st and resolves it with the result of fn.
func (c *Controller) goStatus(st *status.Status, fn task.Func) {
	log := c.logger.With("op", st.Name(), "op_id", st.ID())
	onDone := func(err error) {
		if err != nil {
			log.Error("operation failed", "error", err)
			st.Fail(err)

			return
		}
		log.Debug("operation succeeded")
		st.Succeed()
	}

	if err := c.taskMgr.Go(st.Name(), fn, onDone); err != nil {
		onDone(fmt.Errorf("%w: %w", ErrControllerClosed, err))
	}
}

// readState reads and decodes the state of the control process.
func readState(lnk control.Link) (control.State, error) {
	code, err := lnk.State()
	if err != nil {
		return control.Disconnected, fmt.Errorf("read daq state: %w", err)
	}

	return control.ParseState(code)
}
