package daq

import (
	"errors"

	"github.com/arloliu/go-daq/status"
)

var (
	// ErrNotConnected indicates that an operation required a live connection that is absent,
	// and the automatic connect attempt, if any, failed.
	ErrNotConnected = errors.New("daq: not connected")

	// ErrInvalidState indicates that an operation was attempted from a state that forbids it,
	// e.g. configure while Running.
	ErrInvalidState = errors.New("daq: invalid state")

	// ErrInvalidArgument indicates a rejected argument, e.g. a duration shorter than one second.
	ErrInvalidArgument = errors.New("daq: invalid argument")
)

var (
	// ErrConnectFailed indicates that the control link could not be created or connected.
	ErrConnectFailed = errors.New("daq: failed to connect, check that the daq is up and allocated")

	// ErrConfigureFailed indicates that the control process rejected a configuration.
	// The staged configuration has been reset to the defaults.
	ErrConfigureFailed = errors.New("daq: failed to configure")

	// ErrNotReady indicates that the daq did not become ready for a begin command within the
	// begin timeout. No begin command was issued.
	ErrNotReady = errors.New("daq: not ready for begin")

	// ErrControllerClosed indicates that the controller has been closed.
	ErrControllerClosed = errors.New("daq: controller closed")
)

// Status errors re-exported for callers that only import daq.
var (
	// ErrOperationFailed indicates that an asynchronous operation resolved unsuccessfully.
	ErrOperationFailed = status.ErrOperationFailed

	// ErrOperationTimedOut indicates that a wait exceeded its timeout before resolution.
	ErrOperationTimedOut = status.ErrOperationTimedOut
)
