package pkg

import (
	"context"
	"errors"
)

// Transfer and bus errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrNAK indicates a NAK response.
	ErrNAK = errors.New("NAK received")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverrun indicates a data overrun condition.
	ErrOverrun = errors.New("data overrun")

	// ErrUnderrun indicates a data underrun condition.
	ErrUnderrun = errors.New("data underrun")

	// ErrProtocol indicates a wire protocol violation.
	ErrProtocol = errors.New("protocol error")

	// ErrReset indicates a bus reset was received.
	ErrReset = errors.New("bus reset")
)

// Device stack errors.
var (
	ErrNotConfigured          = errors.New("device not configured")
	ErrInvalidEndpoint        = errors.New("invalid endpoint")
	ErrInvalidState           = errors.New("invalid device state")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrBufferTooSmall         = errors.New("buffer too small")
	ErrNotSupported           = errors.New("not supported")
	ErrBusy                   = errors.New("resource busy")
	ErrNoMemory               = errors.New("insufficient memory")
	ErrDescriptorTooShort     = errors.New("descriptor too short")
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")
	ErrSetupPacketTooShort    = errors.New("setup packet too short")
	ErrAlreadyRunning         = errors.New("already running")
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrNoResources            = errors.New("no resources available")
)

// Hub class errors.
var (
	// ErrMalformed indicates a request that is not a well-formed hub class
	// request (wrong type, recipient, request code or scope).
	ErrMalformed = errors.New("malformed hub request")

	// ErrOutOfRange indicates a port number or feature selector outside the
	// hub's configured range.
	ErrOutOfRange = errors.New("port or feature out of range")

	// ErrDescriptorMismatch indicates that the descriptors presented to the
	// hub at open do not describe a hub interface.
	ErrDescriptorMismatch = errors.New("hub descriptor mismatch")
)

// TransferStatus represents the completion status of a transfer.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess TransferStatus = iota
	TransferStatusError
	TransferStatusStall
	TransferStatusNAK
	TransferStatusTimeout
	TransferStatusCancelled
	TransferStatusOverrun
	TransferStatusUnderrun
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusStall:
		return "stall"
	case TransferStatusNAK:
		return "nak"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusOverrun:
		return "overrun"
	case TransferStatusUnderrun:
		return "underrun"
	default:
		return "unknown"
	}
}

// Error returns the sentinel error matching the status, or nil on success.
func (s TransferStatus) Error() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusStall:
		return ErrStall
	case TransferStatusNAK:
		return ErrNAK
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusCancelled:
		return ErrCancelled
	case TransferStatusOverrun:
		return ErrOverrun
	case TransferStatusUnderrun:
		return ErrUnderrun
	default:
		return ErrProtocol
	}
}

// StatusOf maps an error to the closest transfer status.
func StatusOf(err error) TransferStatus {
	switch {
	case err == nil:
		return TransferStatusSuccess
	case errors.Is(err, ErrStall):
		return TransferStatusStall
	case errors.Is(err, ErrNAK):
		return TransferStatusNAK
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return TransferStatusTimeout
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return TransferStatusCancelled
	case errors.Is(err, ErrOverrun):
		return TransferStatusOverrun
	case errors.Is(err, ErrUnderrun):
		return TransferStatusUnderrun
	default:
		return TransferStatusError
	}
}
