// Package lifecycle drives a daq from the lifecycle messages of an experiment sequencer.
//
// The sequencer emits an ordered stream of messages while executing a plan. An Adapter consumes
// that stream and records only during the measurement windows of the plan:
//
//	open_run   the daq is driven by the sequencer from now on
//	create     a measurement window opens: restart the acquisition
//	save       the window closes: let a bounded acquisition finish, else pause
//	close_run  the daq is no longer driven by the sequencer
//
// With an always-on configuration, create and save are ignored and the daq records from the
// beginning to the end of the run.
package lifecycle

import (
	"fmt"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/arloliu/go-daq/control"
	"github.com/arloliu/go-daq/daq"
	"github.com/arloliu/go-daq/logger"
)

// Command is the kind of a lifecycle message.
type Command string

// Lifecycle commands handled by the Adapter. Any other command is ignored.
const (
	OpenRun  Command = "open_run"
	CloseRun Command = "close_run"
	Create   Command = "create"
	Save     Command = "save"
)

// Message is one lifecycle message. Only Command is inspected.
type Message struct {
	Command Command        `json:"command"`
	Args    map[string]any `json:"args,omitempty"`
}

// Consumer consumes lifecycle messages in the order the sequencer emits them.
type Consumer interface {
	Consume(msg Message) error
}

// Device is the part of a daq.Controller driven by lifecycle messages.
type Device interface {
	ReadConfiguration() daq.Config
	SetSequenced(sequenced bool)
	State() (control.State, error)
	Stop() error
	Pause() error
	Resume() error
	Wait(timeout time.Duration) error
}

var _ Device = (*daq.Controller)(nil)

// Adapter translates lifecycle messages into Device calls.
//
// Messages must be delivered sequentially; the adapter does not reorder or queue them.
type Adapter struct {
	dev    Device
	logger logger.Logger
	counts *xsync.MapOf[Command, int64]
}

var _ Consumer = (*Adapter)(nil)

// NewAdapter creates an Adapter driving dev. A nil logger uses the default logger.
func NewAdapter(dev Device, l logger.Logger) *Adapter {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Adapter{
		dev:    dev,
		logger: l.With("component", "lifecycle"),
		counts: xsync.NewMapOf[Command, int64](),
	}
}

// Consume applies msg to the device.
func (a *Adapter) Consume(msg Message) error {
	a.counts.Compute(msg.Command, func(n int64, _ bool) (int64, bool) {
		return n + 1, false
	})

	switch msg.Command {
	case OpenRun:
		a.logger.Debug("run opened, daq is sequenced")
		a.dev.SetSequenced(true)

		return nil

	case CloseRun:
		a.logger.Debug("run closed, daq is not sequenced")
		a.dev.SetSequenced(false)

		return nil

	case Create, Save:
		cfg := a.dev.ReadConfiguration()
		if cfg.AlwaysOn {
			return nil
		}
		if msg.Command == Create {
			return a.create()
		}

		return a.save(cfg)

	default:
		return nil
	}
}

// create restarts the acquisition so that it is aligned with the new measurement window.
func (a *Adapter) create() error {
	state, err := a.dev.State()
	if err != nil {
		return fmt.Errorf("create: %w", err)
	}

	if state == control.Running {
		a.logger.Debug("restart the acquisition on create")
		if err := a.dev.Stop(); err != nil {
			return fmt.Errorf("create: %w", err)
		}
	}

	if err := a.dev.Resume(); err != nil {
		return fmt.Errorf("create: %w", err)
	}

	return nil
}

// save ends the acquisition of the measurement window. A bounded acquisition is allowed to
// finish, an unbounded one is paused.
func (a *Adapter) save(cfg daq.Config) error {
	if cfg.HasLimit() {
		a.logger.Debug("wait for the acquisition on save")
		if err := a.dev.Wait(0); err != nil {
			return fmt.Errorf("save: %w", err)
		}

		return nil
	}

	a.logger.Debug("pause the acquisition on save")
	if err := a.dev.Pause(); err != nil {
		return fmt.Errorf("save: %w", err)
	}

	return nil
}

// MessageCount returns how many messages with command have been consumed, ignored ones
// included.
func (a *Adapter) MessageCount(command Command) int64 {
	n, _ := a.counts.Load(command)
	return n
}

// Close disengages the adapter: the device is no longer sequenced.
func (a *Adapter) Close() error {
	a.dev.SetSequenced(false)
	return nil
}
