//go:build linux

package usbfs

import "unsafe"

// =============================================================================
// URB Type Constants
// =============================================================================

// URB transfer types for USBDEVFS_SUBMITURB.
const (
	urbTypeISO       = 0 // Isochronous
	urbTypeInterrupt = 1 // Interrupt
	urbTypeControl   = 2 // Control
	urbTypeBulk      = 3 // Bulk (also bulk-stream, with the stream id set)
)

// URB flags.
const (
	urbShortNotOK = 0x01 // Short read is an error
	urbISOAsap    = 0x02 // Schedule ISO transfer ASAP
	urbZeroPacket = 0x40 // Send zero-length packet at end
)

// URB status errno values (urb.status carries a negative errno).
const (
	errnoENOENT     = 2
	errnoEAGAIN     = 11
	errnoENODEV     = 19
	errnoEPIPE      = 32
	errnoETIME      = 62
	errnoETIMEDOUT  = 110
	errnoECONNRESET = 104
	errnoESHUTDOWN  = 108
	errnoEOVERFLOW  = 75
	errnoEPROTO     = 71
	errnoEILSEQ     = 84
)

// =============================================================================
// ioctl Number Construction
// =============================================================================

// The ioctl number encoding uses the following bit layout:
//
//	bits 0-7:   command number (nr)
//	bits 8-15:  ioctl type (type)
//	bits 16-29: argument size (size)
//	bits 30-31: direction (dir)

const (
	iocWrite = 1
	iocRead  = 2
)

const (
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

// ioc constructs an ioctl number from direction, type, number, and size.
func ioc(dir, typ, nr, size uintptr) uintptr {
	return (dir << iocDirShift) | (typ << iocTypeShift) | (nr << iocNRShift) | (size << iocSizeShift)
}

// ior constructs a read ioctl number.
func ior(typ, nr, size uintptr) uintptr {
	return ioc(iocRead, typ, nr, size)
}

// iow constructs a write ioctl number.
func iow(typ, nr, size uintptr) uintptr {
	return ioc(iocWrite, typ, nr, size)
}

// usbdevfs ioctl type character.
const usbdevfsType = 'U'

// usbdevfs ioctl command numbers.
const (
	nrSubmitURB    = 10
	nrDiscardURB   = 11
	nrReapURB      = 12
	nrReapNDelay   = 13
	nrAllocStreams = 28
	nrFreeStreams  = 29
)

// Usbdevfs ioctl numbers, computed with the _IOC macros and the native
// struct sizes so they come out right on every architecture.
var (
	ioctlSubmitURB    = ior(usbdevfsType, nrSubmitURB, unsafe.Sizeof(urb{}))
	ioctlDiscardURB   = ioc(0, usbdevfsType, nrDiscardURB, 0)
	ioctlReapURB      = iow(usbdevfsType, nrReapURB, unsafe.Sizeof(uintptr(0)))
	ioctlReapNDelay   = iow(usbdevfsType, nrReapNDelay, unsafe.Sizeof(uintptr(0)))
	ioctlAllocStreams = ior(usbdevfsType, nrAllocStreams, unsafe.Sizeof(streamsReq{}))
	ioctlFreeStreams  = ior(usbdevfsType, nrFreeStreams, unsafe.Sizeof(streamsReq{}))
)

// maxEpollEvents is the maximum events to retrieve per epoll_wait call.
const maxEpollEvents = 8
