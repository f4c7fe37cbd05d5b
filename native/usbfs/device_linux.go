//go:build linux

package usbfs

import (
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/mathisloge/usb-asio/native"
	"github.com/mathisloge/usb-asio/pkg"
)

// box ties a native transfer descriptor to its kernel URB. The URB lives
// inside raw together with any trailing ISO packet descriptors, so the
// whole allocation stays reachable while the kernel owns the URB.
type box struct {
	raw []byte
	u   *urb
	nx  *native.Transfer

	// Userspace timeout enforcement.
	timer    *time.Timer
	timedOut atomic.Bool
}

// Device implements [native.Device] over an already-open usbfs file
// descriptor. The caller keeps ownership of the descriptor's lifetime
// concerns up to Close: opening the device node, privileges, and interface
// claiming all happen outside this package.
type Device struct {
	fd int

	mu      sync.Mutex
	pending map[uintptr]*box // keyed by URB address, while kernel-owned
	closed  bool

	reaper *reaper
	wg     sync.WaitGroup
}

// NewDevice wraps an open usbfs file descriptor and starts the completion
// reaper. The descriptor must stay open until Close returns.
func NewDevice(fd int) (*Device, error) {
	d := &Device{
		fd:      fd,
		pending: make(map[uintptr]*box),
	}

	r, err := newReaper(fd)
	if err != nil {
		return nil, err
	}
	d.reaper = r

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.reaper.run(d)
	}()
	return d, nil
}

// Close discards all pending URBs, waits for their completions to be
// delivered, and stops the reaper. It does not close the wrapped file
// descriptor.
func (d *Device) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	for _, b := range d.pending {
		discardURB(d.fd, b.u)
	}
	d.mu.Unlock()

	d.reaper.stop()
	d.wg.Wait()

	// Anything the reaper did not get to settles as cancelled.
	d.mu.Lock()
	orphans := make([]*box, 0, len(d.pending))
	for k, b := range d.pending {
		delete(d.pending, k)
		orphans = append(orphans, b)
	}
	d.mu.Unlock()
	for _, b := range orphans {
		b.settle(pkg.TransferStatusCancelled)
	}
	return nil
}

// Alloc implements [native.Device].
func (d *Device) Alloc(isoPackets int) (*native.Transfer, error) {
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return nil, pkg.ErrClosed
	}

	size := unsafe.Sizeof(urb{}) + uintptr(isoPackets)*unsafe.Sizeof(isoPacketDesc{})
	b := &box{raw: make([]byte, size)}
	b.u = (*urb)(unsafe.Pointer(&b.raw[0]))

	nx := &native.Transfer{Priv: b}
	if isoPackets > 0 {
		nx.IsoPackets = make([]native.IsoPacket, isoPackets)
	}
	b.nx = nx
	return nx, nil
}

// Submit implements [native.Device]. It arms the URB from the descriptor,
// registers it as pending, and hands it to the kernel. The timeout timer
// is armed before submission and disarmed again if the kernel rejects the
// URB.
func (d *Device) Submit(nx *native.Transfer) error {
	b, ok := nx.Priv.(*box)
	if !ok {
		return pkg.ErrInvalidRequest
	}
	if err := armURB(b, nx); err != nil {
		return err
	}

	// The timer must be armed before the URB is published in the pending
	// map: the reaper reads b.timer in settle, and the map mutex is the
	// only ordering between that read and this write. Arming after
	// submitURB would let a fast completion race the assignment and leave
	// an orphaned timer to discard a later submission.
	if nx.Timeout > 0 {
		b.timedOut.Store(false)
		b.timer = time.AfterFunc(nx.Timeout, func() {
			b.timedOut.Store(true)
			// Settles through the reaper with an unlinked status.
			discardURB(d.fd, b.u)
		})
	}

	key := uintptr(unsafe.Pointer(b.u))

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		b.stopTimer()
		return pkg.ErrClosed
	}
	d.pending[key] = b
	d.mu.Unlock()

	if err := submitURB(d.fd, b.u); err != nil {
		d.mu.Lock()
		delete(d.pending, key)
		d.mu.Unlock()
		b.stopTimer()
		pkg.LogWarn(pkg.ComponentNative, "URB submit failed",
			"endpoint", nx.Endpoint, "err", err)
		if isNoDevice(err) {
			return pkg.ErrNoDevice
		}
		return err
	}

	pkg.LogDebug(pkg.ComponentNative, "URB submitted",
		"type", nx.Type.String(), "endpoint", nx.Endpoint, "length", len(nx.Buffer))
	return nil
}

// Cancel implements [native.Device]. Discarding a URB that has already
// settled is a benign no-op.
func (d *Device) Cancel(nx *native.Transfer) error {
	b, ok := nx.Priv.(*box)
	if !ok {
		return pkg.ErrInvalidRequest
	}
	if err := discardURB(d.fd, b.u); err != nil && !isSettled(err) {
		return err
	}
	return nil
}

// Free implements [native.Device].
func (d *Device) Free(nx *native.Transfer) {
	b, ok := nx.Priv.(*box)
	if !ok {
		return
	}
	d.mu.Lock()
	delete(d.pending, uintptr(unsafe.Pointer(b.u)))
	d.mu.Unlock()
	nx.Priv = nil
	b.nx = nil
}

// AllocStreams allocates numStreams bulk streams on each of the given
// endpoints, as required before submitting bulk-stream transfers.
func (d *Device) AllocStreams(numStreams uint32, endpoints []uint8) error {
	return allocStreams(d.fd, numStreams, endpoints)
}

// FreeStreams releases previously allocated bulk streams.
func (d *Device) FreeStreams(endpoints []uint8) error {
	return freeStreams(d.fd, endpoints)
}

// take removes and returns the pending box for a reaped URB.
func (d *Device) take(u *urb) *box {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := uintptr(unsafe.Pointer(u))
	b := d.pending[key]
	delete(d.pending, key)
	return b
}

// failAll settles every pending transfer with the given status. Used when
// the device drops off the bus.
func (d *Device) failAll(status pkg.TransferStatus) {
	d.mu.Lock()
	boxes := make([]*box, 0, len(d.pending))
	for k, b := range d.pending {
		delete(d.pending, k)
		boxes = append(boxes, b)
	}
	d.mu.Unlock()

	for _, b := range boxes {
		b.settle(status)
	}
}

// armURB fills the kernel URB from the native descriptor.
func armURB(b *box, nx *native.Transfer) error {
	u := b.u
	u.status = 0
	u.flags = 0
	u.endpoint = nx.Endpoint
	u.actualLength = 0
	u.startFrame = 0
	u.muxed = 0
	u.errorCount = 0

	switch nx.Type {
	case native.TypeControl:
		u.typ = urbTypeControl
		u.endpoint = 0
	case native.TypeIsochronous:
		u.typ = urbTypeISO
		u.flags = urbISOAsap
		u.muxed = int32(len(nx.IsoPackets))
		for i := range nx.IsoPackets {
			desc := u.isoDesc(i)
			desc.length = nx.IsoPackets[i].Length
			desc.actualLength = 0
			desc.status = 0
		}
	case native.TypeBulk:
		u.typ = urbTypeBulk
	case native.TypeInterrupt:
		u.typ = urbTypeInterrupt
	case native.TypeBulkStream:
		u.typ = urbTypeBulk
		u.muxed = int32(nx.StreamID)
	default:
		return pkg.ErrInvalidRequest
	}

	u.bufferLength = int32(len(nx.Buffer))
	if len(nx.Buffer) > 0 {
		u.buffer = uintptr(unsafe.Pointer(&nx.Buffer[0]))
	} else {
		u.buffer = 0
	}
	return nil
}

// stopTimer stops and clears the timeout timer, if armed.
func (b *box) stopTimer() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// settle finalizes the native descriptor and runs its completion callback.
// Runs on the reaper goroutine, ordered against Submit's timer write by
// the pending-map mutex.
func (b *box) settle(status pkg.TransferStatus) {
	b.stopTimer()

	nx := b.nx
	nx.Status = status
	nx.ActualLength = int(b.u.actualLength)

	if nx.Type == native.TypeIsochronous {
		for i := range nx.IsoPackets {
			desc := b.u.isoDesc(i)
			nx.IsoPackets[i].ActualLength = desc.actualLength
			nx.IsoPackets[i].Status = statusOf(desc.status, false)
		}
	}

	if nx.Callback != nil {
		nx.Callback(nx)
	}
}
