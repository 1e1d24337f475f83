package mux

import (
	"bytes"
	"encoding/binary"
	"testing"
)

func TestRoundTrip(t *testing.T) {
	for p := 0; p < 8; p++ {
		payload := []byte{byte(p), 0xaa, 0xbb}
		frame := Encode(p, payload)

		var got []byte
		var gotPort = -1
		h := &Handlers{}
		h.Port[p] = func(b []byte) {
			got = append([]byte(nil), b...)
			gotPort = p
		}
		Decode(frame, h)
		if gotPort != p {
			t.Fatalf("port %d: handler not invoked", p)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("port %d: got %x, want %x", p, got, payload)
		}
	}
}

func TestLogFrame(t *testing.T) {
	addr := uint32(0x00512340)
	payload := []byte("opaque")
	frame := make([]byte, 0, 5+len(payload))
	frame = append(frame, 0x01) // type != PORT
	addrBuf := make([]byte, 4)
	binary.LittleEndian.PutUint32(addrBuf, addr)
	frame = append(frame, addrBuf...)
	frame = append(frame, payload...)

	var gotTarget int
	var gotAddr uint32
	var gotPayload []byte
	h := &Handlers{Log: func(target int, a uint32, p []byte) {
		gotTarget, gotAddr, gotPayload = target, a, append([]byte(nil), p...)
	}}
	Decode(frame, h)
	wantTarget := int((addr >> TargetShift) & 0xf)
	if gotTarget != wantTarget {
		t.Fatalf("target = %d, want %d", gotTarget, wantTarget)
	}
	if gotAddr != addr {
		t.Fatalf("addr = %x, want %x", gotAddr, addr)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload = %q, want %q", gotPayload, payload)
	}
}

func TestShortLogFrameIsError(t *testing.T) {
	frame := []byte{0x01, 0x02, 0x03} // type != PORT, only 2 trailing bytes
	var errFrame []byte
	h := &Handlers{Error: func(f []byte) { errFrame = f }}
	Decode(frame, h)
	if !bytes.Equal(errFrame, frame) {
		t.Fatalf("expected the error handler to receive the raw frame")
	}
}

func TestEmptyFrameIgnored(t *testing.T) {
	called := false
	h := &Handlers{Error: func([]byte) { called = true }}
	for p := range h.Port {
		h.Port[p] = func([]byte) { called = true }
	}
	Decode(nil, h)
	if called {
		t.Fatal("empty frame must not invoke any handler")
	}
}
