package cobs

import (
	"bytes"
	"testing"
)

func hexOrPanic(t *testing.T, s string) []byte {
	t.Helper()
	b := make([]byte, 0, len(s)/2)
	for i := 0; i < len(s); i += 2 {
		var hi, lo byte
		hi = fromHexNibble(t, s[i])
		lo = fromHexNibble(t, s[i+1])
		b = append(b, hi<<4|lo)
	}
	return b
}

func fromHexNibble(t *testing.T, c byte) byte {
	t.Helper()
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	}
	t.Fatalf("invalid hex digit %c", c)
	return 0
}

func rangeBytes(lo, hi int) []byte {
	b := make([]byte, 0, hi-lo)
	for i := lo; i < hi; i++ {
		b = append(b, byte(i))
	}
	return b
}

func TestEncodeDecode(t *testing.T) {
	cases := []struct {
		name string
		v    []byte
		enc  []byte
	}{
		{"paper example", hexOrPanic(t, "4500002C4C79000040064F37"), hexOrPanic(t, "024501042C4C79010540064F37")},
		{"empty", nil, []byte{0x01}},
		{"single null", []byte{0x00}, []byte{0x01, 0x01}},
		{"ends with null", []byte("123\x00"), append([]byte{0x04}, append([]byte("123"), 0x01)...)},
		{"no null", []byte("123"), append([]byte{0x04}, []byte("123")...)},
		{"length 1 no null", []byte("1"), []byte{0x02, '1'}},
		{"null in middle", []byte("123\x00456"), append(append([]byte{0x04}, []byte("123")...), append([]byte{0x04}, []byte("456")...)...)},
		{"254 boundary no nulls", rangeBytes(1, 254), append([]byte{0xfe}, rangeBytes(1, 254)...)},
		{"255 boundary no nulls", rangeBytes(1, 255), append([]byte{0xff}, rangeBytes(1, 255)...)},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := Encode(c.v)
			if !bytes.Equal(got, c.enc) {
				t.Fatalf("Encode(%x) = %x, want %x", c.v, got, c.enc)
			}
			dec, err := Decode(c.enc)
			if err != nil {
				t.Fatalf("Decode(%x): %v", c.enc, err)
			}
			if !bytes.Equal(dec, c.v) && !(len(dec) == 0 && len(c.v) == 0) {
				t.Fatalf("Decode(%x) = %x, want %x", c.enc, dec, c.v)
			}
		})
	}
}

func TestRoundTripAllLengths(t *testing.T) {
	for _, n := range []int{0, 1, 2, 253, 254, 255, 256, 512, 1024} {
		data := make([]byte, n)
		for i := range data {
			data[i] = byte(i % 7) // includes embedded zeros every 7th byte
		}
		enc := Encode(data)
		for _, b := range enc {
			if b == 0 {
				t.Fatalf("length %d: encoded output contains a zero byte", n)
			}
		}
		dec, err := Decode(enc)
		if err != nil {
			t.Fatalf("length %d: Decode: %v", n, err)
		}
		if !bytes.Equal(dec, data) {
			t.Fatalf("length %d: round trip mismatch", n)
		}
	}
}

func TestDecodeInvalid(t *testing.T) {
	if _, err := Decode([]byte{0x00}); err == nil {
		t.Fatal("expected error decoding a frame containing a literal zero code")
	}
	if _, err := Decode([]byte{0x05, 'a', 'b'}); err == nil {
		t.Fatal("expected error decoding a frame with a code pointing past the end")
	}
}

func TestDeframerTolerance(t *testing.T) {
	var got [][]byte
	d := &Deframer{OnFrame: func(f []byte) {
		cp := append([]byte(nil), f...)
		got = append(got, cp)
	}}
	frame1 := Frame([]byte("hello"))
	frame2 := Frame([]byte("world"))
	garbage := []byte{0x01, 0x02, 0x03, 0x04}
	// Leading zero bytes, trailing garbage bytes, and a split write.
	stream := append([]byte{0x00, 0x00}, frame1...)
	stream = append(stream, frame2...)
	stream = append(stream, garbage...)
	mid := len(stream) / 2
	d.Write(stream[:mid])
	d.Write(stream[mid:])
	if len(got) != 2 {
		t.Fatalf("got %d frames, want 2", len(got))
	}
	if string(got[0]) != "hello" || string(got[1]) != "world" {
		t.Fatalf("got %q, %q", got[0], got[1])
	}
}
