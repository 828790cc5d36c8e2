package control

import "fmt"

// State is the decoded state of the DAQ control process.
type State uint32

// DAQ states, in the order of the codes reported by the control process.
const (
	// Disconnected indicates that no control link is held.
	Disconnected State = iota
	// Connected indicates a live link without a staged configuration.
	Connected
	// Configured indicates a staged configuration and no open run.
	Configured
	// Open indicates an open run window that is not acquiring.
	Open
	// Running indicates an open run that is actively acquiring.
	Running
)

// ParseState decodes a raw state code reported by Link.State.
func ParseState(code int) (State, error) {
	if code < int(Disconnected) || code > int(Running) {
		return Disconnected, fmt.Errorf("%w: %d", ErrUnknownState, code)
	}

	return State(code), nil
}

// Code returns the raw state code of s.
func (s State) Code() int { return int(s) }

// String returns the state name as shown by the control process GUI.
func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connected:
		return "Connected"
	case Configured:
		return "Configured"
	case Open:
		return "Open"
	case Running:
		return "Running"
	default:
		return "Unknown"
	}
}

// IsReadyForBegin reports whether a begin command is accepted in state s.
func (s State) IsReadyForBegin() bool { return s == Configured || s == Open }

// IsConfigurable reports whether a configure command is accepted in state s.
func (s State) IsConfigurable() bool { return s == Connected || s == Configured }

// HasOpenRun reports whether a run window is open in state s.
func (s State) HasOpenRun() bool { return s == Open || s == Running }
