package daq

import (
	"context"
	"fmt"
	"iter"

	"github.com/arloliu/go-daq/internal/task"
	"github.com/arloliu/go-daq/status"
)

// Event is one collected data item. The daq writes its data through its own pipeline, so
// Collect never yields any.
type Event map[string]any

// Kickoff starts an acquisition in the background and returns its status immediately.
//
// It connects and configures with the defaults when needed, then polls the daq state every
// poll interval until it is Configured or Open. The status succeeds once the begin command has
// been issued with the arguments built from opts and the stored configuration. It fails with
// ErrNotReady, without issuing begin, when the daq is not ready within the begin timeout.
//
// Precondition failures, e.g. ErrNotConnected or ErrInvalidArgument, return an already failed
// status.
func (c *Controller) Kickoff(opts ...RunOption) *status.Status {
	p := newRunParams(opts)

	c.metrics.incKickoffCount()
	st := c.newStatus("kickoff")
	st.AddCallback(func(s *status.Status) {
		if !s.Success() {
			c.metrics.incKickoffErrCount()
		}
	})

	log := c.logger.With("method", "Kickoff", "op_id", st.ID())
	log.Debug("kickoff requested",
		"events", optional(p.events), "duration", optional(p.duration), "use_l3t", optional(p.useL3T))

	if err := p.validate(); err != nil {
		log.Error("invalid kickoff arguments", "error", err)
		st.Fail(err)

		return st
	}

	lnk, err := c.link(true)
	if err != nil {
		log.Error("cannot kickoff without a connection", "error", err)
		st.Fail(err)

		return st
	}

	if !c.Configured() {
		log.Info("daq is not configured, configure with the defaults")
		if _, _, err := c.Configure(); err != nil {
			log.Error("failed to configure with the defaults", "error", err)
		}
	}

	c.mu.Lock()
	c.lastRun = p
	c.mu.Unlock()

	c.goStatus(st, func(ctx context.Context) error {
		ready := task.Poll(ctx, c.cfg.pollInterval, c.cfg.beginTimeout, func() bool {
			state, err := readState(lnk)
			return err == nil && state.IsReadyForBegin()
		})
		if !ready {
			if ctx.Err() != nil {
				return ErrControllerClosed
			}

			return fmt.Errorf("%w within %v", ErrNotReady, c.cfg.beginTimeout)
		}

		state, err := readState(lnk)
		if err != nil {
			return err
		}

		args, err := c.beginArgs(p, state)
		if err != nil {
			return err
		}

		if err := lnk.Begin(args); err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		c.metrics.incBeginCount()
		log.Info("daq began acquisition", "state", state)

		return nil
	})

	return st
}

// Begin starts an acquisition and waits up to the begin timeout for the begin command to be
// issued. When wait is set, it then blocks until the acquisition ends.
func (c *Controller) Begin(wait bool, opts ...RunOption) error {
	c.logger.Debug("begin", "method", "Begin", "wait", wait)

	if err := c.Kickoff(opts...).Wait(c.cfg.beginTimeout); err != nil {
		return err
	}
	if wait {
		return c.Wait(0)
	}

	return nil
}

// Complete stops the acquisition and returns a status that succeeds once the run has been
// ended. Ending a run that is not open succeeds, so completing twice is safe.
func (c *Controller) Complete() *status.Status {
	st := c.newStatus("complete")
	c.logger.Debug("complete requested", "method", "Complete", "op_id", st.ID())

	lnk, err := c.link(true)
	if err != nil {
		st.Fail(err)
		return st
	}

	if err := c.stopLink(lnk); err != nil {
		st.Fail(err)
		return st
	}

	c.goStatus(st, func(context.Context) error {
		return c.endLink(lnk)
	})

	return st
}

// Collect returns the collected events, always an empty sequence. Iterating it ends the run
// like EndRun; an error is logged since the sequence cannot report it.
func (c *Controller) Collect() iter.Seq[Event] {
	return func(func(Event) bool) {
		c.logger.Debug("collect", "method", "Collect")
		if err := c.EndRun(); err != nil {
			c.logger.Error("failed to end the run on collect", "method", "Collect", "error", err)
		}
	}
}

// DescribeCollect describes the collected events, always an empty mapping.
func (c *Controller) DescribeCollect() map[string]FieldDescription {
	return map[string]FieldDescription{}
}
