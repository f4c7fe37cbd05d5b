package pkg

import "errors"

// Transfer errors.
var (
	// ErrStall indicates an endpoint stall condition.
	ErrStall = errors.New("endpoint stalled")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrOverflow indicates the device sent more data than requested.
	ErrOverflow = errors.New("data overflow")

	// ErrNoDevice indicates the device is no longer present.
	ErrNoDevice = errors.New("device not present")

	// ErrProtocol indicates a low-level protocol or bus error.
	ErrProtocol = errors.New("protocol error")

	// ErrBusy indicates an operation is already in flight.
	ErrBusy = errors.New("transfer in flight")

	// ErrInvalidRequest indicates an operation invalid for the transfer's
	// type or direction.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidEndpoint indicates an invalid endpoint address.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrNoResources indicates the native layer could not allocate a
	// transfer descriptor.
	ErrNoResources = errors.New("no resources available")

	// ErrClosed indicates the transfer or device has been closed.
	ErrClosed = errors.New("closed")
)

// TransferStatus is the native layer's completion status space. Backends
// report one status per settled operation; the engine maps it to a typed
// error with Err and never exposes the raw value to completion callbacks.
type TransferStatus int

// Transfer status values.
const (
	TransferStatusSuccess   TransferStatus = iota // Transfer completed successfully
	TransferStatusError                           // Transfer failed with a bus/protocol error
	TransferStatusTimeout                         // Transfer timed out
	TransferStatusCancelled                       // Transfer was cancelled
	TransferStatusStall                           // Endpoint stalled
	TransferStatusNoDevice                        // Device was disconnected
	TransferStatusOverflow                        // Device sent more data than requested
)

// String returns a string representation of the transfer status.
func (s TransferStatus) String() string {
	switch s {
	case TransferStatusSuccess:
		return "success"
	case TransferStatusError:
		return "error"
	case TransferStatusTimeout:
		return "timeout"
	case TransferStatusCancelled:
		return "cancelled"
	case TransferStatusStall:
		return "stall"
	case TransferStatusNoDevice:
		return "no device"
	case TransferStatusOverflow:
		return "overflow"
	default:
		return "unknown"
	}
}

// Err returns the corresponding error for the transfer status.
// A successful status maps to nil.
func (s TransferStatus) Err() error {
	switch s {
	case TransferStatusSuccess:
		return nil
	case TransferStatusTimeout:
		return ErrTimeout
	case TransferStatusCancelled:
		return ErrCancelled
	case TransferStatusStall:
		return ErrStall
	case TransferStatusNoDevice:
		return ErrNoDevice
	case TransferStatusOverflow:
		return ErrOverflow
	default:
		return ErrProtocol
	}
}
