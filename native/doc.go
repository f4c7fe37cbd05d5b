// Package native defines the boundary between the transfer engine and the
// device driver layer.
//
// A [Transfer] is one armed transfer descriptor: the engine fills its
// buffer, length, and shape fields, installs a completion [Transfer.Callback],
// and hands it to a [Device] for submission. The backend settles the
// descriptor later and invokes the callback exactly once on a goroutine of
// its own choosing; the engine's callback never performs caller-visible work
// on that goroutine.
//
// Backends implement [Device]. Two implementations ship with this module:
//
//   - [github.com/mathisloge/usb-asio/native/loopback] — in-process,
//     scriptable, used by tests and examples
//   - [github.com/mathisloge/usb-asio/native/usbfs] — Linux usbfs (URB
//     submit/reap ioctls over an open device file descriptor)
//
// The package also defines the 8-byte SETUP packet layout shared by control
// transfers across all backends.
package native
