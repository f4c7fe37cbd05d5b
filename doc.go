// Package usbasio implements an asynchronous transfer-completion engine for
// bus-level USB I/O.
//
// A [Transfer] binds a native transfer descriptor to a device and a fixed
// shape (control, bulk, interrupt, isochronous, or bulk-stream), and drives
// one submission/completion cycle at a time: the caller arms it with a
// buffer and a completion callback, the native backend settles it on an
// internal goroutine, and the engine delivers exactly one completion into
// the caller's [Executor] — never on the backend's goroutine.
//
// # Architecture
//
// The engine sits between two collaborators:
//
//   - A [native.Device] supplies descriptor allocation, submission, and
//     cancellation; backends live under native/.
//   - An [Executor] is the caller's scheduling domain; [Loop] is a
//     single-goroutine serial executor, [Pool] a fixed worker pool.
//
// # Transfer Shapes
//
// Each shape has its own constructor; the shape is fixed for the lifetime
// of the transfer:
//
//   - [NewControl]: setup header + payload through endpoint zero
//   - [NewBulk], [NewInterrupt]: single endpoint, direction from the
//     endpoint address bit
//   - [NewBulkStream]: bulk with a USB 3 stream identifier
//   - [NewIsochronous]: packetized, with a per-packet result table
//
// # Completion Model
//
// Exactly one callback fires per submitted operation, including when native
// submission fails synchronously. The callback runs inside the bound
// executor, strictly after the executor's keep-alive guard is installed and
// strictly before it is released, so a [Loop] does not run out of work
// while an operation is in flight.
//
// Cancel only requests cancellation; the terminal outcome still arrives
// through the callback. A transfer may be reused for sequential operations
// once its callback has been delivered; submitting while one is in flight
// fails with [pkg.ErrBusy].
//
// # Example
//
//	loop := usbasio.NewLoop()
//	xfer, err := usbasio.NewBulk(loop, dev, 0x81, usbasio.NoTimeout)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer xfer.Close()
//
//	buf := make([]byte, 64)
//	xfer.ReadSome(buf, func(err error, res usbasio.Result) {
//	    fmt.Println(res.Transferred, err)
//	})
//	loop.Run() // returns once the completion has been delivered
package usbasio
