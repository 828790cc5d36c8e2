package daq

import (
	"fmt"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/arloliu/go-daq/control"
)

// RunOption overrides the stored configuration for a single kickoff or begin.
type RunOption func(*runParams)

// runParams holds per-call overrides. A nil field falls back to the stored configuration.
type runParams struct {
	events   *int
	duration *time.Duration
	useL3T   *bool
	controls map[string]any
}

func newRunParams(opts []RunOption) runParams {
	var p runParams
	for _, opt := range opts {
		opt(&p)
	}

	return p
}

// RunEvents acquires n events. Zero runs until stopped.
func RunEvents(n int) RunOption {
	return func(p *runParams) { p.events = &n }
}

// RunDuration acquires for d. Durations below MinDuration are rejected.
func RunDuration(d time.Duration) RunOption {
	return func(p *runParams) { p.duration = &d }
}

// RunL3T overrides level 3 trigger event counting.
func RunL3T(enabled bool) RunOption {
	return func(p *runParams) { p.useL3T = &enabled }
}

// RunControls records the given devices instead of the configured controls.
func RunControls(controls map[string]any) RunOption {
	return func(p *runParams) { p.controls = controls }
}

func (p runParams) validate() error {
	if err := checkDuration(p.duration); err != nil {
		return err
	}

	return checkControls(p.controls)
}

// options rebuilds the RunOption list equivalent to p.
func (p runParams) options() []RunOption {
	var opts []RunOption
	if p.events != nil {
		opts = append(opts, RunEvents(*p.events))
	}
	if p.duration != nil {
		opts = append(opts, RunDuration(*p.duration))
	}
	if p.useL3T != nil {
		opts = append(opts, RunL3T(*p.useL3T))
	}
	if p.controls != nil {
		opts = append(opts, RunControls(p.controls))
	}

	return opts
}

// configArgs translates configure arguments into the keyword set of control.Link.Configure.
//
// The event count is always sent as zero, under the level 3 trigger key when useL3T is set.
// Controls are sent only when given.
func (c *Controller) configArgs(record bool, useL3T bool, controls map[string]any) (control.ConfigureArgs, error) {
	c.logger.Debug("build configure args", "record", record, "use_l3t", useL3T, "controls", len(controls))

	args := control.ConfigureArgs{Record: record}
	zero := 0
	if useL3T {
		args.L3TEvents = &zero
	} else {
		args.Events = &zero
	}

	if controls != nil {
		values, err := readControls(controls)
		if err != nil {
			return args, err
		}
		args.Controls = values
	}

	return args, nil
}

// beginArgs translates per-call overrides into the keyword set of control.Link.Begin, given the
// current daq state.
func (c *Controller) beginArgs(p runParams, state control.State) (control.BeginArgs, error) {
	c.logger.Debug("build begin args",
		"events", optional(p.events), "duration", optional(p.duration), "use_l3t", optional(p.useL3T), "state", state)

	cfg := c.ReadConfiguration()
	events, duration, useL3T := p.events, p.duration, p.useL3T

	if c.Sequenced() && !cfg.AlwaysOn && state != control.Open {
		// open a run without starting the counted or timed acquisition yet
		one, off := 1, false
		events, duration, useL3T = &one, nil, &off
	}

	if events == nil && duration == nil {
		events, duration = cfg.Events, cfg.Duration
	}

	var args control.BeginArgs
	switch {
	case events != nil:
		l3t := false
		if useL3T != nil {
			l3t = *useL3T
		} else if c.Configured() {
			l3t = cfg.UseL3T
		}
		n := *events
		if l3t {
			args.L3TEvents = &n
		} else {
			args.Events = &n
		}

	case duration != nil:
		if err := checkDuration(duration); err != nil {
			return args, err
		}
		args.Duration = splitDuration(*duration)

	default:
		zero := 0 // run until stopped
		args.Events = &zero
	}

	controls := p.controls
	if controls == nil {
		controls = cfg.Controls
	}
	if controls != nil {
		values, err := readControls(controls)
		if err != nil {
			return args, err
		}
		args.Controls = values
	}

	return args, nil
}

// splitDuration splits d into whole seconds and the nanosecond remainder.
func splitDuration(d time.Duration) *control.RunDuration {
	return &control.RunDuration{
		Seconds:     int64(d / time.Second),
		Nanoseconds: int64(d % time.Second),
	}
}

// readControls reads every control device concurrently and returns the readings sorted by label.
func readControls(controls map[string]any) ([]control.ControlValue, error) {
	names := make([]string, 0, len(controls))
	for name := range controls {
		names = append(names, name)
	}
	slices.Sort(names)

	values := make([]control.ControlValue, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			val, ok, err := control.ReadDevice(controls[name])
			if !ok {
				return fmt.Errorf("%w: control %q (%T) has neither a position nor a value",
					ErrInvalidArgument, name, controls[name])
			}
			if err != nil {
				return fmt.Errorf("read control %q: %w", name, err)
			}
			values[i] = control.ControlValue{Name: name, Value: val}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return values, nil
}

// optional dereferences p for logging, nil stays nil.
func optional[T any](p *T) any {
	if p == nil {
		return nil
	}

	return *p
}
