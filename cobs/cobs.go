// Package cobs implements Consistent Overhead Byte Stuffing, as described
// in Cheshire and Baker's "Consistent Overhead Byte Stuffing" (IEEE/ACM
// Transactions on Networking, 1999). COBS removes every zero byte from a
// payload so that a single zero byte can delimit frames unambiguously on
// a serial link.
package cobs

import "errors"

// ErrInvalidFrame is returned by Decode when the encoded data does not
// form a well-formed COBS frame (a zero byte, or a code pointing past
// the end of the data).
var ErrInvalidFrame = errors.New("cobs: invalid frame")

// maxBlock is the largest run of non-zero bytes a single code byte can
// describe before a forced 0xff code is emitted.
const maxBlock = 254

// Encode returns the COBS encoding of data. The result never contains a
// zero byte and can be safely delimited by one.
func Encode(data []byte) []byte {
	out := make([]byte, 0, len(data)+len(data)/maxBlock+2)
	// codeIdx is the index in out of the code byte for the block
	// currently being written.
	codeIdx := len(out)
	out = append(out, 0)
	block := byte(1)
	flushMax := func() {
		out[codeIdx] = 0xff
		codeIdx = len(out)
		out = append(out, 0)
		block = 1
	}
	for idx, b := range data {
		if b == 0 {
			out[codeIdx] = block
			codeIdx = len(out)
			out = append(out, 0)
			block = 1
			continue
		}
		out = append(out, b)
		block++
		if block == 0xff && idx < len(data)-1 {
			flushMax()
		}
	}
	out[codeIdx] = block
	return out
}

// Decode reverses Encode. It returns ErrInvalidFrame if data is not a
// valid COBS-encoded frame.
func Decode(data []byte) ([]byte, error) {
	out := make([]byte, 0, len(data))
	i := 0
	for i < len(data) {
		code := int(data[i])
		if code == 0 {
			return nil, ErrInvalidFrame
		}
		i++
		end := i + code - 1
		if end > len(data) {
			return nil, ErrInvalidFrame
		}
		out = append(out, data[i:end]...)
		i = end
		if code < 0xff && i < len(data) {
			out = append(out, 0)
		}
	}
	return out, nil
}

// Deframer splits an inbound byte stream on zero delimiters and decodes
// each non-empty frame. It tolerates partial frames across Write calls
// and silently skips frames that fail to decode, per the wire-tolerance
// requirements of the transport this package feeds.
type Deframer struct {
	buf []byte
	// OnFrame is invoked with each successfully decoded frame. It must
	// not retain the passed slice beyond the call.
	OnFrame func([]byte)
}

// Write appends data to the deframer's accumulator and delivers any
// complete frames found within it.
func (d *Deframer) Write(data []byte) {
	d.buf = append(d.buf, data...)
	for {
		i := indexZero(d.buf)
		if i < 0 {
			return
		}
		frame := d.buf[:i]
		d.buf = d.buf[i+1:]
		if len(frame) == 0 {
			continue
		}
		dec, err := Decode(frame)
		if err != nil {
			continue
		}
		if d.OnFrame != nil {
			d.OnFrame(dec)
		}
	}
}

func indexZero(b []byte) int {
	for i, c := range b {
		if c == 0 {
			return i
		}
	}
	return -1
}

// Frame wraps an encoded payload in the leading and trailing zero bytes
// the transport expects, so a frame is unambiguously bounded and a
// partially-connected link can resynchronize on the next zero.
func Frame(data []byte) []byte {
	enc := Encode(data)
	out := make([]byte, 0, len(enc)+2)
	out = append(out, 0)
	out = append(out, enc...)
	out = append(out, 0)
	return out
}
