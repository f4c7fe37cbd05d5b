package usbasio

import (
	"errors"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mathisloge/usb-asio/native"
	"github.com/mathisloge/usb-asio/native/loopback"
	"github.com/mathisloge/usb-asio/pkg"
)

// goroutineID parses the current goroutine's id from its stack header.
func goroutineID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	fields := strings.Fields(string(buf[:n]))
	id, _ := strconv.ParseUint(fields[1], 10, 64)
	return id
}

func TestBulkRead_Success(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	xfer, err := NewBulk(loop, dev, 0x81, NoTimeout)
	if err != nil {
		t.Fatalf("NewBulk: %v", err)
	}
	defer xfer.Close()

	calls := 0
	var gotErr error
	var gotRes Result
	buf := make([]byte, 64)
	if err := xfer.ReadSome(buf, func(err error, res Result) {
		calls++
		gotErr = err
		gotRes = res
	}); err != nil {
		t.Fatalf("ReadSome: %v", err)
	}

	dev.Complete(pkg.TransferStatusSuccess, 64)
	loop.Run()

	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	if gotErr != nil {
		t.Errorf("callback err = %v, want nil", gotErr)
	}
	if gotRes.Transferred != 64 {
		t.Errorf("Transferred = %d, want 64", gotRes.Transferred)
	}
	if gotRes.Packets != nil {
		t.Errorf("Packets = %v, want nil for bulk", gotRes.Packets)
	}
}

func TestCallbackRunsOnExecutorGoroutine(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	xfer, err := NewInterrupt(loop, dev, 0x83, NoTimeout)
	if err != nil {
		t.Fatalf("NewInterrupt: %v", err)
	}
	defer xfer.Close()

	var cbGID uint64
	called := make(chan struct{})
	xfer.ReadSome(make([]byte, 8), func(error, Result) {
		cbGID = goroutineID()
		close(called)
	})

	dev.Complete(pkg.TransferStatusSuccess, 8)

	// The completion is posted, never invoked from the backend's
	// goroutine: it must not run before the executor does.
	select {
	case <-called:
		t.Fatal("callback ran before the executor was pumped")
	case <-time.After(20 * time.Millisecond):
	}

	runGID := goroutineID()
	loop.Run()
	<-called

	if cbGID != runGID {
		t.Errorf("callback ran on goroutine %d, want executor goroutine %d", cbGID, runGID)
	}
}

func TestSubmitFailure_FoldedIntoCallback(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()
	boom := errors.New("boom")
	dev.FailSubmit(boom)

	xfer, err := NewBulk(loop, dev, 0x02, NoTimeout)
	if err != nil {
		t.Fatalf("NewBulk: %v", err)
	}
	defer xfer.Close()

	calls := 0
	var gotErr error
	var gotRes Result
	if err := xfer.WriteSome(make([]byte, 16), func(err error, res Result) {
		calls++
		gotErr = err
		gotRes = res
	}); err != nil {
		t.Fatalf("WriteSome returned %v, want nil (failure folded into callback)", err)
	}

	loop.Run()

	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	if !errors.Is(gotErr, boom) {
		t.Errorf("callback err = %v, want %v", gotErr, boom)
	}
	if gotRes.Transferred != 0 || gotRes.Packets != nil {
		t.Errorf("result = %+v, want zero value", gotRes)
	}
}

func TestCancel_ThenCancelledCompletion(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	xfer, err := NewBulk(loop, dev, 0x81, NoTimeout)
	if err != nil {
		t.Fatalf("NewBulk: %v", err)
	}
	defer xfer.Close()

	calls := 0
	var gotErr error
	var gotRes Result
	xfer.ReadSome(make([]byte, 32), func(err error, res Result) {
		calls++
		gotErr = err
		gotRes = res
	})

	// Cancel only requests cancellation; its own success says nothing
	// about the eventual completion status.
	if err := xfer.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	dev.Complete(pkg.TransferStatusCancelled, 0)
	loop.Run()

	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	if !errors.Is(gotErr, pkg.ErrCancelled) {
		t.Errorf("callback err = %v, want %v", gotErr, pkg.ErrCancelled)
	}
	if gotRes.Transferred != 0 {
		t.Errorf("Transferred = %d, want 0", gotRes.Transferred)
	}
}

func TestTimeoutCompletion(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	xfer, err := NewBulk(loop, dev, 0x81, 50*time.Millisecond)
	if err != nil {
		t.Fatalf("NewBulk: %v", err)
	}
	defer xfer.Close()

	calls := 0
	var gotErr error
	var gotRes Result
	xfer.ReadSome(make([]byte, 8), func(err error, res Result) {
		calls++
		gotErr = err
		gotRes = res
	})

	dev.Complete(pkg.TransferStatusTimeout, 0)
	loop.Run()

	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	if !errors.Is(gotErr, pkg.ErrTimeout) {
		t.Errorf("callback err = %v, want %v", gotErr, pkg.ErrTimeout)
	}
	if gotRes.Transferred != 0 {
		t.Errorf("Transferred = %d, want 0", gotRes.Transferred)
	}
}

func TestCancel_Idle(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	xfer, err := NewBulk(loop, dev, 0x81, NoTimeout)
	if err != nil {
		t.Fatalf("NewBulk: %v", err)
	}
	defer xfer.Close()

	// Nothing in flight: benign no-op.
	if err := xfer.Cancel(); err != nil {
		t.Errorf("Cancel on idle transfer = %v, want nil", err)
	}
}

func TestCancel_RequestFailure(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()
	reqErr := errors.New("cancel rejected")
	dev.FailCancel(reqErr)

	xfer, err := NewBulk(loop, dev, 0x81, NoTimeout)
	if err != nil {
		t.Fatalf("NewBulk: %v", err)
	}
	defer xfer.Close()

	calls := 0
	xfer.ReadSome(make([]byte, 8), func(error, Result) { calls++ })

	if err := xfer.Cancel(); !errors.Is(err, reqErr) {
		t.Errorf("Cancel = %v, want %v", err, reqErr)
	}

	// A failed cancellation request never substitutes for the
	// completion: the operation still settles normally.
	dev.Complete(pkg.TransferStatusSuccess, 8)
	loop.Run()
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}

func TestCancel_AutoCancelBackend(t *testing.T) {
	dev := loopback.New()
	dev.AutoCancel(true)
	loop := NewLoop()

	xfer, err := NewBulkStream(loop, dev, 0x81, 7, NoTimeout)
	if err != nil {
		t.Fatalf("NewBulkStream: %v", err)
	}
	defer xfer.Close()

	var gotErr error
	xfer.ReadSome(make([]byte, 8), func(err error, _ Result) { gotErr = err })

	if err := xfer.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	loop.Run()

	if !errors.Is(gotErr, pkg.ErrCancelled) {
		t.Errorf("callback err = %v, want %v", gotErr, pkg.ErrCancelled)
	}
}

func TestIsochronous_PerPacketResults(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	xfer, err := NewIsochronous(loop, dev, 0x81, []uint32{8, 16, 8}, NoTimeout)
	if err != nil {
		t.Fatalf("NewIsochronous: %v", err)
	}
	defer xfer.Close()

	calls := 0
	var gotErr error
	var gotRes Result
	xfer.ReadSome(make([]byte, 32), func(err error, res Result) {
		calls++
		gotErr = err
		gotRes = res
	})

	dev.CompleteIso([]native.IsoPacket{
		{ActualLength: 8, Status: pkg.TransferStatusSuccess},
		{ActualLength: 0, Status: pkg.TransferStatusStall},
		{ActualLength: 8, Status: pkg.TransferStatusSuccess},
	})
	loop.Run()

	if calls != 1 {
		t.Fatalf("callback ran %d times, want 1", calls)
	}
	// Per-packet failures are visible even though the overall status
	// is success.
	if gotErr != nil {
		t.Errorf("callback err = %v, want nil", gotErr)
	}
	want := []IsoPacketResult{
		{Transferred: 8, Err: nil},
		{Transferred: 0, Err: pkg.ErrStall},
		{Transferred: 8, Err: nil},
	}
	if len(gotRes.Packets) != len(want) {
		t.Fatalf("len(Packets) = %d, want %d", len(gotRes.Packets), len(want))
	}
	for i, w := range want {
		got := gotRes.Packets[i]
		if got.Transferred != w.Transferred {
			t.Errorf("packet %d Transferred = %d, want %d", i, got.Transferred, w.Transferred)
		}
		if !errors.Is(got.Err, w.Err) {
			t.Errorf("packet %d Err = %v, want %v", i, got.Err, w.Err)
		}
	}
}

func TestControl_HeaderRoundTrip(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	xfer, err := NewControl(loop, dev, DirIn, NoTimeout)
	if err != nil {
		t.Fatalf("NewControl: %v", err)
	}
	defer xfer.Close()

	buf := NewControlBuffer(4)
	payload := buf.Payload()
	for i := range payload {
		payload[i] = byte(0xA0 + i)
	}

	xfer.Control(RecipientInterface, RequestVendor, 0x42, 0x1234, 0x5678, buf,
		func(error, Result) {})

	armed := xfer.Handle().Buffer
	if len(armed) != native.SetupSize+4 {
		t.Fatalf("armed length = %d, want %d", len(armed), native.SetupSize+4)
	}

	var setup native.SetupPacket
	if !native.ParseSetupPacket(armed, &setup) {
		t.Fatal("ParseSetupPacket failed")
	}
	wantType := uint8(RecipientInterface) | uint8(RequestVendor) | uint8(DirIn)
	if setup.RequestType != wantType {
		t.Errorf("RequestType = %#x, want %#x", setup.RequestType, wantType)
	}
	if setup.Request != 0x42 {
		t.Errorf("Request = %#x, want 0x42", setup.Request)
	}
	if setup.Value != 0x1234 {
		t.Errorf("Value = %#x, want 0x1234", setup.Value)
	}
	if setup.Index != 0x5678 {
		t.Errorf("Index = %#x, want 0x5678", setup.Index)
	}
	if setup.Length != 4 {
		t.Errorf("Length = %d, want 4", setup.Length)
	}

	// The header write must not leak into the payload view.
	for i, b := range buf.Payload() {
		if b != byte(0xA0+i) {
			t.Errorf("payload byte %d = %#x, want %#x", i, b, byte(0xA0+i))
		}
	}

	dev.Complete(pkg.TransferStatusSuccess, 4)
	loop.Run()
}

func TestSubmit_RejectedWhileInFlight(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	xfer, err := NewBulk(loop, dev, 0x81, NoTimeout)
	if err != nil {
		t.Fatalf("NewBulk: %v", err)
	}
	defer xfer.Close()

	calls := 0
	xfer.ReadSome(make([]byte, 8), func(error, Result) { calls++ })

	if err := xfer.ReadSome(make([]byte, 8), func(error, Result) { calls++ }); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("second submit = %v, want %v", err, pkg.ErrBusy)
	}

	dev.Complete(pkg.TransferStatusSuccess, 8)
	loop.Run()
	if calls != 1 {
		t.Errorf("callback ran %d times, want 1", calls)
	}
}

func TestSequentialReuse(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	xfer, err := NewBulk(loop, dev, 0x81, NoTimeout)
	if err != nil {
		t.Fatalf("NewBulk: %v", err)
	}
	defer xfer.Close()

	calls := 0
	cb := func(error, Result) { calls++ }

	for i := 0; i < 3; i++ {
		if err := xfer.ReadSome(make([]byte, 8), cb); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
		dev.Complete(pkg.TransferStatusSuccess, 8)
		loop.Run()
	}

	if calls != 3 {
		t.Errorf("callback ran %d times, want 3", calls)
	}
}

func TestShapeMisuse(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()
	cb := func(error, Result) {}

	bulkIn, _ := NewBulk(loop, dev, 0x81, NoTimeout)
	bulkOut, _ := NewBulk(loop, dev, 0x02, NoTimeout)
	ctrl, _ := NewControl(loop, dev, DirOut, NoTimeout)

	tests := []struct {
		name string
		call func() error
	}{
		{"write on IN endpoint", func() error { return bulkIn.WriteSome(nil, cb) }},
		{"read on OUT endpoint", func() error { return bulkOut.ReadSome(nil, cb) }},
		{"read on control", func() error { return ctrl.ReadSome(nil, cb) }},
		{"write on control", func() error { return ctrl.WriteSome(nil, cb) }},
		{"control on bulk", func() error {
			return bulkIn.Control(RecipientDevice, RequestStandard, 0, 0, 0, NewControlBuffer(0), cb)
		}},
		{"control payload over 16-bit length", func() error {
			return ctrl.Control(RecipientDevice, RequestStandard, 0, 0, 0, NewControlBuffer(0x10000), cb)
		}},
		{"nil callback", func() error { return bulkIn.ReadSome(make([]byte, 8), nil) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, pkg.ErrInvalidRequest) {
				t.Errorf("got %v, want %v", err, pkg.ErrInvalidRequest)
			}
		})
	}

	if dev.Pending() != 0 {
		t.Errorf("misuse reached the backend: %d pending", dev.Pending())
	}
}

func TestConstructorValidation(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	if _, err := NewBulk(loop, dev, 0x80, NoTimeout); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("NewBulk(endpoint 0) = %v, want %v", err, pkg.ErrInvalidEndpoint)
	}
	if _, err := NewIsochronous(loop, dev, 0x81, nil, NoTimeout); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("NewIsochronous(no packets) = %v, want %v", err, pkg.ErrInvalidRequest)
	}
}

func TestConstructionFailure(t *testing.T) {
	dev := loopback.New()
	dev.Close()
	loop := NewLoop()

	if _, err := NewBulk(loop, dev, 0x81, NoTimeout); !errors.Is(err, pkg.ErrClosed) {
		t.Errorf("NewBulk on closed device = %v, want %v", err, pkg.ErrClosed)
	}
}

func TestClose(t *testing.T) {
	dev := loopback.New()
	loop := NewLoop()

	xfer, err := NewBulk(loop, dev, 0x81, NoTimeout)
	if err != nil {
		t.Fatalf("NewBulk: %v", err)
	}

	xfer.ReadSome(make([]byte, 8), func(error, Result) {})
	if err := xfer.Close(); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("Close while in flight = %v, want %v", err, pkg.ErrBusy)
	}

	dev.Complete(pkg.TransferStatusSuccess, 8)
	loop.Run()

	if err := xfer.Close(); err != nil {
		t.Errorf("Close after completion = %v, want nil", err)
	}
	if err := xfer.ReadSome(make([]byte, 8), func(error, Result) {}); !errors.Is(err, pkg.ErrClosed) {
		t.Errorf("submit after Close = %v, want %v", err, pkg.ErrClosed)
	}
}

func TestPoolExecutorDelivery(t *testing.T) {
	dev := loopback.New()
	pool := NewPool(2)
	pool.Start()

	xfer, err := NewBulk(pool, dev, 0x81, NoTimeout)
	if err != nil {
		t.Fatalf("NewBulk: %v", err)
	}
	defer xfer.Close()

	var wg sync.WaitGroup
	wg.Add(1)
	var gotErr error
	var gotN int
	xfer.ReadSome(make([]byte, 64), func(err error, res Result) {
		gotErr = err
		gotN = res.Transferred
		wg.Done()
	})

	dev.Complete(pkg.TransferStatusSuccess, 64)
	wg.Wait()
	pool.Stop()

	if gotErr != nil {
		t.Errorf("callback err = %v, want nil", gotErr)
	}
	if gotN != 64 {
		t.Errorf("Transferred = %d, want 64", gotN)
	}
}
