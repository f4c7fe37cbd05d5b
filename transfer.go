package usbasio

import (
	"sync/atomic"
	"time"

	"github.com/mathisloge/usb-asio/native"
	"github.com/mathisloge/usb-asio/pkg"
)

// NoTimeout disables the native layer's timeout enforcement.
const NoTimeout time.Duration = 0

// Direction indicates the direction of a transfer.
type Direction uint8

// Transfer directions. The values are the endpoint-address direction bit,
// so a direction ORs directly into an endpoint address or a control
// request-type field.
const (
	DirOut Direction = 0x00 // Caller to device
	DirIn  Direction = 0x80 // Device to caller
)

// Recipient addresses a control request (USB bmRequestType bits 0-4).
type Recipient uint8

// Control request recipients.
const (
	RecipientDevice    Recipient = 0x00
	RecipientInterface Recipient = 0x01
	RecipientEndpoint  Recipient = 0x02
	RecipientOther     Recipient = 0x03
)

// RequestKind classifies a control request (USB bmRequestType bits 5-6).
type RequestKind uint8

// Control request kinds.
const (
	RequestStandard RequestKind = 0x00
	RequestClass    RequestKind = 0x20
	RequestVendor   RequestKind = 0x40
)

// IsoPacketResult is the outcome of one isochronous packet.
type IsoPacketResult struct {
	Transferred int   // Bytes transferred in this packet
	Err         error // Per-packet status; nil on success
}

// Result is the payload of a completion. Transferred carries the byte
// count for all shapes except isochronous; Packets carries exactly one
// entry per armed packet for isochronous transfers and is nil otherwise.
// Per-packet errors can be present even when the completion's top-level
// error is nil.
type Result struct {
	Transferred int
	Packets     []IsoPacketResult
}

// Callback receives the single terminal outcome of a submitted operation.
// It always runs inside the transfer's bound executor.
type Callback func(err error, res Result)

// Transfer drives one submission/completion cycle at a time against a
// native transfer descriptor. It is bound at construction to an executor,
// a device, and a fixed shape.
//
// A Transfer may be reused for sequential operations once the previous
// completion has been delivered. Submitting while an operation is in
// flight fails with pkg.ErrBusy. It must not be closed, and its executor
// must not be torn down, while an operation is in flight.
type Transfer struct {
	exec Executor
	dev  native.Device
	nx   *native.Transfer
	dir  Direction

	inFlight atomic.Bool
	closed   atomic.Bool

	// Completion state for the current operation. Written by the submit
	// path before handing the descriptor to the backend; consumed by the
	// trampoline.
	cb      Callback
	release func()

	// Result storage for isochronous transfers, pre-sized at
	// construction and rewritten in place on every completion.
	isoResults []IsoPacketResult
}

// NewControl creates a control transfer bound to endpoint zero. The
// direction is fixed here and encoded into the setup header by Control.
func NewControl(exec Executor, dev native.Device, dir Direction, timeout time.Duration) (*Transfer, error) {
	return newTransfer(exec, dev, native.TypeControl, uint8(dir), 0, nil, dir, timeout)
}

// NewIsochronous creates an isochronous transfer with one sub-descriptor
// per entry of packetSizes. The completion's Packets table always has
// exactly len(packetSizes) entries, in sub-descriptor order.
func NewIsochronous(exec Executor, dev native.Device, endpoint uint8, packetSizes []uint32, timeout time.Duration) (*Transfer, error) {
	if len(packetSizes) == 0 {
		return nil, pkg.ErrInvalidRequest
	}
	return newTransfer(exec, dev, native.TypeIsochronous, endpoint, 0, packetSizes, directionOf(endpoint), timeout)
}

// NewBulk creates a bulk transfer on the given endpoint. The direction
// derives from the endpoint address.
func NewBulk(exec Executor, dev native.Device, endpoint uint8, timeout time.Duration) (*Transfer, error) {
	return newTransfer(exec, dev, native.TypeBulk, endpoint, 0, nil, directionOf(endpoint), timeout)
}

// NewInterrupt creates an interrupt transfer on the given endpoint.
func NewInterrupt(exec Executor, dev native.Device, endpoint uint8, timeout time.Duration) (*Transfer, error) {
	return newTransfer(exec, dev, native.TypeInterrupt, endpoint, 0, nil, directionOf(endpoint), timeout)
}

// NewBulkStream creates a bulk transfer carrying a USB 3 stream identifier
// for multiplexed streaming endpoints.
func NewBulkStream(exec Executor, dev native.Device, endpoint uint8, streamID uint32, timeout time.Duration) (*Transfer, error) {
	return newTransfer(exec, dev, native.TypeBulkStream, endpoint, streamID, nil, directionOf(endpoint), timeout)
}

// newTransfer is the shared construction path behind the five shapes.
func newTransfer(exec Executor, dev native.Device, typ native.Type, endpoint uint8, streamID uint32, packetSizes []uint32, dir Direction, timeout time.Duration) (*Transfer, error) {
	if typ != native.TypeControl && endpoint&0x0F == 0 {
		return nil, pkg.ErrInvalidEndpoint
	}

	nx, err := dev.Alloc(len(packetSizes))
	if err != nil {
		return nil, err
	}
	nx.Type = typ
	nx.Endpoint = endpoint
	nx.StreamID = streamID
	nx.Timeout = timeout

	t := &Transfer{
		exec: exec,
		dev:  dev,
		nx:   nx,
		dir:  dir,
	}
	nx.Callback = t.complete

	if len(packetSizes) > 0 {
		for i, size := range packetSizes {
			nx.IsoPackets[i].Length = size
		}
		t.isoResults = make([]IsoPacketResult, len(packetSizes))
	}
	return t, nil
}

// ReadSome arms the transfer with a caller-owned buffer and submits it for
// input. Valid only for non-control transfers on an IN endpoint; misuse is
// rejected synchronously and never reaches the callback.
func (t *Transfer) ReadSome(buf []byte, cb Callback) error {
	if t.nx.Type == native.TypeControl || t.dir != DirIn {
		return pkg.ErrInvalidRequest
	}
	return t.submit(buf, cb)
}

// WriteSome arms the transfer with a caller-owned buffer and submits it
// for output. Valid only for non-control transfers on an OUT endpoint.
func (t *Transfer) WriteSome(buf []byte, cb Callback) error {
	if t.nx.Type == native.TypeControl || t.dir != DirOut {
		return pkg.ErrInvalidRequest
	}
	return t.submit(buf, cb)
}

// Control writes the setup header into the bytes immediately preceding
// buf's payload, combining recipient, kind, and the transfer's direction
// into the request-type field, then submits header and payload as one
// contiguous native buffer. Valid only for control transfers.
//
// The engine borrows buf until the completion is delivered.
func (t *Transfer) Control(recipient Recipient, kind RequestKind, request uint8, value, index uint16, buf *ControlBuffer, cb Callback) error {
	if t.nx.Type != native.TypeControl {
		return pkg.ErrInvalidRequest
	}
	// The setup header's length field is 16 bits.
	if buf.Size() > 0xFFFF {
		return pkg.ErrInvalidRequest
	}

	setup := native.SetupPacket{
		RequestType: uint8(recipient) | uint8(kind) | uint8(t.dir),
		Request:     request,
		Value:       value,
		Index:       index,
		Length:      uint16(buf.Size()),
	}
	setup.MarshalTo(buf.raw())

	return t.submit(buf.raw()[:native.SetupSize+buf.Size()], cb)
}

// Cancel requests cancellation of the in-flight operation from the native
// layer. It does not wait for, nor deliver, the completion: the terminal
// outcome (which may still be success if the device settled first) arrives
// through the normal callback. Cancelling when nothing is in flight, or
// after the operation settled but before the callback ran, is a benign
// no-op. The returned error reports only the cancellation request itself.
func (t *Transfer) Cancel() error {
	if !t.inFlight.Load() {
		return nil
	}
	return t.dev.Cancel(t.nx)
}

// Handle exposes the underlying native descriptor for advanced or interop
// use. Mutating it while an operation is in flight is a caller error.
func (t *Transfer) Handle() *native.Transfer { return t.nx }

// Close releases the native descriptor. The transfer must not be in
// flight; wait for the completion callback (cancelling first if needed)
// before closing.
func (t *Transfer) Close() error {
	if t.inFlight.Load() {
		return pkg.ErrBusy
	}
	if t.closed.Swap(true) {
		return nil
	}
	t.dev.Free(t.nx)
	return nil
}

// submit installs the keep-alive guard and the callback, arms the buffer,
// then hands the descriptor to the backend. The descriptor is only touched
// after the in-flight claim succeeds, so a rejected resubmission cannot
// disturb an operation the backend still owns. A synchronous submission
// failure is folded into the single completion delivery so the callback
// remains the only failure channel.
func (t *Transfer) submit(buf []byte, cb Callback) error {
	if cb == nil {
		return pkg.ErrInvalidRequest
	}
	if t.closed.Load() {
		return pkg.ErrClosed
	}
	if !t.inFlight.CompareAndSwap(false, true) {
		return pkg.ErrBusy
	}

	t.nx.Buffer = buf
	t.cb = cb
	t.release = t.exec.Guard()

	pkg.LogDebug(pkg.ComponentTransfer, "submit",
		"type", t.nx.Type.String(), "endpoint", t.nx.Endpoint, "length", len(t.nx.Buffer))

	if err := t.dev.Submit(t.nx); err != nil {
		pkg.LogDebug(pkg.ComponentTransfer, "synchronous submit failure", "err", err)
		t.post(err, Result{})
	}
	return nil
}

// complete is the native completion trampoline. It runs on the backend's
// goroutine and does no caller-visible work beyond building the typed
// result and posting the callback into the executor.
func (t *Transfer) complete(nx *native.Transfer) {
	err := nx.Status.Err()

	var res Result
	if nx.Type == native.TypeIsochronous {
		for i := range nx.IsoPackets {
			p := &nx.IsoPackets[i]
			t.isoResults[i] = IsoPacketResult{
				Transferred: int(p.ActualLength),
				Err:         p.Status.Err(),
			}
		}
		res.Packets = t.isoResults
	} else {
		res.Transferred = nx.ActualLength
	}

	pkg.LogDebug(pkg.ComponentTransfer, "complete",
		"type", nx.Type.String(), "status", nx.Status.String(), "transferred", res.Transferred)

	t.post(err, res)
}

// post delivers the one completion for the current operation: the callback
// is enqueued first, the keep-alive guard released only after, so the
// executor cannot shut down with the completion still undelivered. The
// in-flight flag clears before the callback runs, allowing resubmission
// from inside it.
func (t *Transfer) post(err error, res Result) {
	cb, release := t.cb, t.release
	t.cb, t.release = nil, nil
	t.inFlight.Store(false)

	t.exec.Post(func() { cb(err, res) })
	release()
}

// directionOf extracts the direction from an endpoint address.
func directionOf(endpoint uint8) Direction {
	return Direction(endpoint & 0x80)
}
