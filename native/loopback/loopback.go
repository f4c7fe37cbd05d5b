package loopback

import (
	"sync"

	"github.com/mathisloge/usb-asio/native"
	"github.com/mathisloge/usb-asio/pkg"
)

// Device is a scriptable in-memory implementation of [native.Device].
// Submitted transfers stay pending until the test settles them with
// Complete, CompleteIso, or Fail. The zero value is not usable; call New.
type Device struct {
	mu         sync.Mutex
	pending    []*native.Transfer
	submitErr  error
	cancelErr  error
	autoCancel bool
	closed     bool
}

// New creates a loopback device with no scripted behavior.
func New() *Device {
	return &Device{}
}

// FailSubmit makes every subsequent Submit fail synchronously with err.
// Pass nil to restore normal queueing.
func (d *Device) FailSubmit(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.submitErr = err
}

// FailCancel makes every subsequent Cancel return err.
func (d *Device) FailCancel(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelErr = err
}

// AutoCancel makes Cancel settle the cancelled transfer by itself with a
// cancelled status, instead of leaving it pending for the test to settle.
func (d *Device) AutoCancel(enable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoCancel = enable
}

// Pending returns the number of submitted, unsettled transfers.
func (d *Device) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Close fails all pending transfers with a no-device status.
func (d *Device) Close() error {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.closed = true
	d.mu.Unlock()

	for _, t := range pending {
		settle(t, pkg.TransferStatusNoDevice, 0)
	}
	return nil
}

// Alloc implements [native.Device].
func (d *Device) Alloc(isoPackets int) (*native.Transfer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, pkg.ErrClosed
	}

	t := &native.Transfer{}
	if isoPackets > 0 {
		t.IsoPackets = make([]native.IsoPacket, isoPackets)
	}
	return t, nil
}

// Submit implements [native.Device]. The transfer stays pending until the
// test settles it.
func (d *Device) Submit(t *native.Transfer) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return pkg.ErrClosed
	}
	if d.submitErr != nil {
		return d.submitErr
	}

	d.pending = append(d.pending, t)
	pkg.LogDebug(pkg.ComponentNative, "loopback submit",
		"type", t.Type.String(), "endpoint", t.Endpoint, "pending", len(d.pending))
	return nil
}

// Cancel implements [native.Device]. With AutoCancel enabled the transfer
// settles immediately with a cancelled status; otherwise it stays pending.
func (d *Device) Cancel(t *native.Transfer) error {
	d.mu.Lock()
	if d.cancelErr != nil {
		err := d.cancelErr
		d.mu.Unlock()
		return err
	}
	if !d.autoCancel {
		d.mu.Unlock()
		return nil
	}
	removed := d.removeLocked(t)
	d.mu.Unlock()

	if removed {
		settle(t, pkg.TransferStatusCancelled, 0)
	}
	return nil
}

// Free implements [native.Device].
func (d *Device) Free(t *native.Transfer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(t)
}

// Complete settles the oldest pending transfer with the given status and
// actual length. It panics if nothing is pending or the status is outside
// the defined status space, since both indicate a broken test script.
func (d *Device) Complete(status pkg.TransferStatus, actualLength int) {
	if !native.Valid(status) {
		panic("loopback: status outside the native status space")
	}
	t := d.take()
	settle(t, status, actualLength)
}

// CompleteIso settles the oldest pending transfer as an isochronous
// completion, copying one result per armed packet. The overall status is
// success; per-packet failures live in the packet table.
func (d *Device) CompleteIso(packets []native.IsoPacket) {
	t := d.take()
	if len(packets) != len(t.IsoPackets) {
		panic("loopback: packet count does not match armed transfer")
	}
	total := 0
	for i, p := range packets {
		t.IsoPackets[i].ActualLength = p.ActualLength
		t.IsoPackets[i].Status = p.Status
		total += int(p.ActualLength)
	}
	settle(t, pkg.TransferStatusSuccess, total)
}

// take removes and returns the oldest pending transfer.
func (d *Device) take() *native.Transfer {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) == 0 {
		panic("loopback: no pending transfer to settle")
	}
	t := d.pending[0]
	d.pending = d.pending[1:]
	return t
}

func (d *Device) removeLocked(t *native.Transfer) bool {
	for i, p := range d.pending {
		if p == t {
			d.pending = append(d.pending[:i], d.pending[i+1:]...)
			return true
		}
	}
	return false
}

// settle invokes the completion callback on a fresh goroutine, standing in
// for the driver's internal completion thread.
func settle(t *native.Transfer, status pkg.TransferStatus, actualLength int) {
	t.Status = status
	t.ActualLength = actualLength
	if t.Callback != nil {
		go t.Callback(t)
	}
}
