package native

import (
	"time"

	"github.com/mathisloge/usb-asio/pkg"
)

// Type indicates the type of a transfer.
type Type uint8

// Transfer type constants.
const (
	TypeControl     Type = iota // Control transfer (setup header + payload)
	TypeIsochronous             // Isochronous transfer (packetized, best effort)
	TypeBulk                    // Bulk transfer
	TypeInterrupt               // Interrupt transfer
	TypeBulkStream              // Bulk transfer with a stream identifier
)

// String returns a human-readable transfer type name.
func (t Type) String() string {
	switch t {
	case TypeControl:
		return "control"
	case TypeIsochronous:
		return "isochronous"
	case TypeBulk:
		return "bulk"
	case TypeInterrupt:
		return "interrupt"
	case TypeBulkStream:
		return "bulk-stream"
	default:
		return "unknown"
	}
}

// SetupPacket represents the device-defined SETUP header of a control
// transfer.
type SetupPacket struct {
	RequestType uint8  // Request characteristics (direction, kind, recipient)
	Request     uint8  // Specific request
	Value       uint16 // Request-specific value
	Index       uint16 // Request-specific index
	Length      uint16 // Number of bytes in the data phase
}

// SetupSize is the size of a SETUP packet in bytes.
const SetupSize = 8

// ParseSetupPacket parses raw bytes into a SetupPacket.
// Returns false if data is too short.
func ParseSetupPacket(data []byte, out *SetupPacket) bool {
	if len(data) < SetupSize {
		return false
	}
	out.RequestType = data[0]
	out.Request = data[1]
	out.Value = uint16(data[2]) | uint16(data[3])<<8
	out.Index = uint16(data[4]) | uint16(data[5])<<8
	out.Length = uint16(data[6]) | uint16(data[7])<<8
	return true
}

// MarshalTo writes the setup packet to buf.
// Returns the number of bytes written (8), or 0 if buf is too small.
func (s *SetupPacket) MarshalTo(buf []byte) int {
	if len(buf) < SetupSize {
		return 0
	}
	buf[0] = s.RequestType
	buf[1] = s.Request
	buf[2] = byte(s.Value)
	buf[3] = byte(s.Value >> 8)
	buf[4] = byte(s.Index)
	buf[5] = byte(s.Index >> 8)
	buf[6] = byte(s.Length)
	buf[7] = byte(s.Length >> 8)
	return SetupSize
}

// IsoPacket is one per-packet sub-descriptor of an isochronous transfer.
// Length is armed by the engine before submission; ActualLength and Status
// are filled by the backend when the transfer settles.
type IsoPacket struct {
	Length       uint32             // Requested packet length
	ActualLength uint32             // Bytes actually transferred
	Status       pkg.TransferStatus // Per-packet completion status
}

// Transfer is one armed transfer descriptor, exclusively owned by a single
// engine instance. The backend holds a non-owning reference to it only
// between Submit and the completion callback.
type Transfer struct {
	Type     Type          // Transfer shape, fixed at allocation
	Endpoint uint8         // Endpoint address including direction bit
	StreamID uint32        // Stream identifier (bulk-stream only)
	Timeout  time.Duration // Zero means no timeout

	// Buffer is armed before each submission. For control transfers it
	// holds the SETUP header immediately followed by the payload.
	Buffer []byte

	// Completion results, valid once the callback runs.
	ActualLength int
	Status       pkg.TransferStatus

	// IsoPackets has one entry per packet for isochronous transfers and
	// is nil otherwise. Allocated once by Device.Alloc.
	IsoPackets []IsoPacket

	// Callback is invoked exactly once per submission, on a goroutine
	// owned by the backend.
	Callback func(*Transfer)

	// Priv is reserved for the backend that allocated the descriptor.
	Priv any
}

// IsIn reports whether the transfer moves data from device to caller.
// Control transfers encode direction in the SETUP header instead.
func (t *Transfer) IsIn() bool {
	return t.Endpoint&0x80 != 0
}

// Device is an opened bus device capable of accepting prepared transfer
// descriptors. Implementations must deliver exactly one callback per
// accepted submission, and never on the submitter's goroutine.
type Device interface {
	// Alloc allocates a transfer descriptor with the given number of
	// isochronous packet slots (zero for all other shapes). Fails with
	// pkg.ErrNoResources when the driver cannot provide one.
	Alloc(isoPackets int) (*Transfer, error)

	// Submit hands an armed descriptor to the driver. A nil return means
	// the completion callback will be invoked exactly once; an error
	// means it never will be.
	Submit(t *Transfer) error

	// Cancel requests cancellation of an in-flight descriptor. The
	// eventual outcome still arrives through the completion callback.
	// Cancelling a descriptor that is not in flight is a no-op.
	Cancel(t *Transfer) error

	// Free releases a descriptor. The descriptor must not be in flight.
	Free(t *Transfer)
}

// Valid reports whether the status value is within the defined status space.
func Valid(s pkg.TransferStatus) bool {
	return s >= pkg.TransferStatusSuccess && s <= pkg.TransferStatusOverflow
}
