//go:build linux

package usbfs

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/mathisloge/usb-asio/pkg"
)

// =============================================================================
// URB (USB Request Block) Structures
// =============================================================================

// urb represents a USB Request Block for async I/O.
// This must match the kernel's struct usbdevfs_urb layout.
type urb struct {
	typ          uint8   // URB type (control, bulk, interrupt, iso)
	endpoint     uint8   // Endpoint address
	status       int32   // URB status after completion (negative errno)
	flags        uint32  // URB flags
	buffer       uintptr // Pointer to data buffer
	bufferLength int32   // Length of data buffer
	actualLength int32   // Actual bytes transferred
	startFrame   int32   // Start frame for ISO transfers
	muxed        int32   // Union: number_of_packets (ISO) / stream_id (bulk)
	errorCount   int32   // Error count for ISO transfers
	signr        uint32  // Signal number for async notification
	userContext  uintptr // User context pointer
	// Followed in memory by muxed isoPacketDesc entries for ISO URBs.
}

// isoPacketDesc describes an isochronous packet.
// This must match the kernel's struct usbdevfs_iso_packet_desc layout.
type isoPacketDesc struct {
	length       uint32 // Expected length
	actualLength uint32 // Actual length
	status       int32  // Per-packet status (negative errno)
}

// streamsReq is the fixed head of the kernel's struct usbdevfs_streams;
// the endpoint list follows it in memory.
type streamsReq struct {
	numStreams uint32 // Streams to allocate per endpoint
	numEps     uint32 // Number of endpoints in the trailing list
}

// isoDesc returns the i-th trailing packet descriptor of an ISO URB.
func (u *urb) isoDesc(i int) *isoPacketDesc {
	offset := unsafe.Sizeof(urb{}) + uintptr(i)*unsafe.Sizeof(isoPacketDesc{})
	return (*isoPacketDesc)(unsafe.Add(unsafe.Pointer(u), offset))
}

// =============================================================================
// ioctl Wrappers
// =============================================================================

// ioctlPtr performs an ioctl with a pointer argument.
func ioctlPtr(fd int, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

// submitURB submits a URB for asynchronous processing.
func submitURB(fd int, u *urb) error {
	return ioctlPtr(fd, ioctlSubmitURB, unsafe.Pointer(u))
}

// discardURB cancels a pending URB. ENODATA/EINVAL mean the URB has
// already settled, which callers treat as a no-op.
func discardURB(fd int, u *urb) error {
	return ioctlPtr(fd, ioctlDiscardURB, unsafe.Pointer(u))
}

// reapURBNDelay retrieves a completed URB without blocking.
// Returns EAGAIN if no URB is available.
func reapURBNDelay(fd int) (*urb, error) {
	var urbPtr *urb
	if err := ioctlPtr(fd, ioctlReapNDelay, unsafe.Pointer(&urbPtr)); err != nil {
		return nil, err
	}
	return urbPtr, nil
}

// streamsArg builds the variable-length usbdevfs_streams argument.
func streamsArg(numStreams uint32, endpoints []uint8) []byte {
	buf := make([]byte, unsafe.Sizeof(streamsReq{})+uintptr(len(endpoints)))
	req := (*streamsReq)(unsafe.Pointer(&buf[0]))
	req.numStreams = numStreams
	req.numEps = uint32(len(endpoints))
	copy(buf[unsafe.Sizeof(streamsReq{}):], endpoints)
	return buf
}

// allocStreams allocates bulk streams on the given endpoints.
func allocStreams(fd int, numStreams uint32, endpoints []uint8) error {
	buf := streamsArg(numStreams, endpoints)
	return ioctlPtr(fd, ioctlAllocStreams, unsafe.Pointer(&buf[0]))
}

// freeStreams releases bulk streams on the given endpoints.
func freeStreams(fd int, endpoints []uint8) error {
	buf := streamsArg(0, endpoints)
	return ioctlPtr(fd, ioctlFreeStreams, unsafe.Pointer(&buf[0]))
}

// =============================================================================
// Status Mapping
// =============================================================================

// statusOf maps a URB status (negative errno) into the engine's status
// space. timedOut distinguishes a timeout-driven discard from a caller
// cancellation, since both surface as an unlinked URB.
func statusOf(status int32, timedOut bool) pkg.TransferStatus {
	switch -status {
	case 0:
		return pkg.TransferStatusSuccess
	case errnoECONNRESET, errnoENOENT:
		if timedOut {
			return pkg.TransferStatusTimeout
		}
		return pkg.TransferStatusCancelled
	case errnoEPIPE:
		return pkg.TransferStatusStall
	case errnoENODEV, errnoESHUTDOWN:
		return pkg.TransferStatusNoDevice
	case errnoEOVERFLOW:
		return pkg.TransferStatusOverflow
	case errnoETIME, errnoETIMEDOUT:
		return pkg.TransferStatusTimeout
	default:
		return pkg.TransferStatusError
	}
}

// isAgain returns true if the error indicates try again (EAGAIN).
func isAgain(err error) bool {
	return err == unix.EAGAIN
}

// isNoDevice returns true if the error indicates the device was
// disconnected.
func isNoDevice(err error) bool {
	return err == unix.ENODEV
}

// isSettled returns true if a discard failed because the URB has already
// completed or was never submitted.
func isSettled(err error) bool {
	return err == unix.EINVAL || err == unix.ENODATA || err == unix.ENOENT
}
