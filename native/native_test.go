package native

import (
	"bytes"
	"testing"

	"github.com/mathisloge/usb-asio/pkg"
)

func TestSetupPacketMarshal(t *testing.T) {
	s := SetupPacket{
		RequestType: 0xC1,
		Request:     0x42,
		Value:       0x1234,
		Index:       0x5678,
		Length:      0x0400,
	}

	var buf [SetupSize]byte
	if n := s.MarshalTo(buf[:]); n != SetupSize {
		t.Fatalf("MarshalTo = %d, want %d", n, SetupSize)
	}

	want := []byte{0xC1, 0x42, 0x34, 0x12, 0x78, 0x56, 0x00, 0x04}
	if !bytes.Equal(buf[:], want) {
		t.Errorf("marshalled = % x, want % x", buf, want)
	}

	var back SetupPacket
	if !ParseSetupPacket(buf[:], &back) {
		t.Fatal("ParseSetupPacket failed")
	}
	if back != s {
		t.Errorf("round trip = %+v, want %+v", back, s)
	}
}

func TestSetupPacketShortBuffers(t *testing.T) {
	short := make([]byte, SetupSize-1)

	var s SetupPacket
	if ParseSetupPacket(short, &s) {
		t.Error("ParseSetupPacket accepted a short buffer")
	}
	if n := s.MarshalTo(short); n != 0 {
		t.Errorf("MarshalTo into short buffer = %d, want 0", n)
	}
}

func TestTransferIsIn(t *testing.T) {
	in := &Transfer{Type: TypeBulk, Endpoint: 0x81}
	out := &Transfer{Type: TypeBulk, Endpoint: 0x02}

	if !in.IsIn() {
		t.Error("endpoint 0x81 not reported as IN")
	}
	if out.IsIn() {
		t.Error("endpoint 0x02 reported as IN")
	}
}

func TestTypeString(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{TypeControl, "control"},
		{TypeIsochronous, "isochronous"},
		{TypeBulk, "bulk"},
		{TypeInterrupt, "interrupt"},
		{TypeBulkStream, "bulk-stream"},
		{Type(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("Type(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestValid(t *testing.T) {
	for s := pkg.TransferStatusSuccess; s <= pkg.TransferStatusOverflow; s++ {
		if !Valid(s) {
			t.Errorf("Valid(%v) = false, want true", s)
		}
	}
	if Valid(pkg.TransferStatusOverflow + 1) {
		t.Error("Valid accepted a status outside the defined space")
	}
}
