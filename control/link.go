// Package control defines the contract between go-daq and the external DAQ control process.
//
// The control process is stateful and only reachable through a blocking, synchronous command
// API. A Link is the client side handle of that API: it is created by a Factory for a host and
// platform, connected once, and then driven with Configure, Begin, Stop and End. Its wire
// protocol is owned by the control process and is opaque to go-daq.
//
// State codes returned by Link.State are decoded with ParseState. A code outside the known range
// is reported as ErrUnknownState instead of being trusted.
package control

import "errors"

var (
	// ErrNotRunning is returned by Link.End when no run is open. Callers ending a run treat it
	// as "already ended".
	ErrNotRunning = errors.New("control: no run is open")

	// ErrUnknownState indicates that the control process reported a state code outside the
	// known range.
	ErrUnknownState = errors.New("control: unknown state code")
)

// Link is a handle to the external DAQ control process. Every method blocks until the control
// process answers.
//
// Implementations are not required to be safe for concurrent use beyond what the control
// process itself allows; go-daq never holds a lock across a Link call.
type Link interface {
	// Connect takes control of the DAQ instance.
	Connect() error
	// Disconnect gives control of the DAQ instance back to its operator GUI.
	Disconnect() error
	// State returns the raw state code of the control process, see ParseState.
	State() (int, error)
	// Configure stages the configuration used by the next run.
	Configure(args ConfigureArgs) error
	// Begin starts an acquisition, opening a run first if none is open.
	Begin(args BeginArgs) error
	// Stop halts the current acquisition, leaving the run open.
	Stop() error
	// End closes the open run. It returns ErrNotRunning if no run is open.
	End() error
}

// Factory creates an unconnected Link for the control process serving host and platform.
type Factory func(host string, platform int) (Link, error)

// ControlValue is a labelled scalar recorded into the DAQ data stream alongside the events.
type ControlValue struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// RunDuration is the wall-clock length of an acquisition, split as the control process expects.
type RunDuration struct {
	Seconds     int64 `json:"seconds"`
	Nanoseconds int64 `json:"nanoseconds"`
}

// ConfigureArgs is the keyword set accepted by Link.Configure.
//
// Exactly one of Events and L3TEvents is set by go-daq. A nil Controls slice means the controls
// keyword is not sent at all.
type ConfigureArgs struct {
	Record    bool           `json:"record"`
	Events    *int           `json:"events,omitempty"`
	L3TEvents *int           `json:"l3t_events,omitempty"`
	Controls  []ControlValue `json:"controls,omitempty"`
}

// BeginArgs is the keyword set accepted by Link.Begin.
//
// At most one of Events, L3TEvents and Duration is set. An event count of zero means
// "run until stopped". A nil Controls slice means the controls keyword is not sent at all.
type BeginArgs struct {
	Events    *int           `json:"events,omitempty"`
	L3TEvents *int           `json:"l3t_events,omitempty"`
	Duration  *RunDuration   `json:"duration,omitempty"`
	Controls  []ControlValue `json:"controls,omitempty"`
}

// Positioner is a device reporting a position, e.g. a motor.
type Positioner interface {
	Position() (float64, error)
}

// Valuer is a device reporting a plain value, e.g. a sensor.
type Valuer interface {
	Value() (float64, error)
}

// ReadDevice returns the current scalar reading of a control device, preferring Position over
// Value. ok is false when dev implements neither interface.
func ReadDevice(dev any) (val float64, ok bool, err error) {
	switch d := dev.(type) {
	case Positioner:
		val, err = d.Position()
		return val, true, err
	case Valuer:
		val, err = d.Value()
		return val, true, err
	default:
		return 0, false, nil
	}
}

// IsDevice reports whether dev can be read by ReadDevice.
func IsDevice(dev any) bool {
	switch dev.(type) {
	case Positioner, Valuer:
		return true
	default:
		return false
	}
}
