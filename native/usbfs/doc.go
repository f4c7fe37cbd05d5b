// Package usbfs implements the native transfer backend for Linux usbfs.
//
// A [Device] wraps an already-open /dev/bus/usb file descriptor — opening,
// permission setup, and interface claiming stay with the caller — and
// submits URBs (USB Request Blocks) through the usbdevfs submit/discard
// ioctls. A reaper goroutine watches the descriptor with epoll and drains
// completed URBs with REAPURBNDELAY; it is the backend's internal
// completion thread, and transfer callbacks run on it.
//
// usbfs URBs carry no timeout of their own, so the backend enforces
// per-submission timeouts in userspace: a timer discards the URB on expiry
// and the reaper reports a timeout status instead of a cancellation.
//
// The package is only built on Linux.
package usbfs
