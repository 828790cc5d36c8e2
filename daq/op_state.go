package daq

import "sync/atomic"

// opState is the lifecycle state of a Controller itself, independent of the daq state.
type opState uint32

const (
	openedState opState = iota
	closingState
	closedState
)

type atomicOpState struct {
	state atomic.Uint32
}

func (st *atomicOpState) String() string {
	switch st.get() {
	case openedState:
		return "Opened"
	case closingState:
		return "Closing"
	case closedState:
		return "Closed"
	default:
		return "Unknown"
	}
}

func (st *atomicOpState) get() opState {
	return opState(st.state.Load())
}

func (st *atomicOpState) isOpened() bool {
	return st.get() == openedState
}

func (st *atomicOpState) isClosed() bool {
	return st.get() == closedState
}

// toClosing moves an opened controller to closing. Only one caller wins.
func (st *atomicOpState) toClosing() bool {
	return st.state.CompareAndSwap(uint32(openedState), uint32(closingState))
}

func (st *atomicOpState) toClosed() bool {
	if st.isClosed() {
		return true
	}

	return st.state.CompareAndSwap(uint32(closingState), uint32(closedState))
}
