// Package mux implements the single-byte tag framing multiplexed over
// one serial link, as used by the p1150 transport: each deframed COBS
// frame starts with a tag byte classifying it as either a port-stream
// frame or a log frame.
package mux

import "encoding/binary"

// Type is the low two bits of a tag byte.
type Type byte

// Port is the only Type value used by the multiplexed port stream;
// any other value marks a log frame.
const Port Type = 3

// MaxPort is the largest port index representable in a tag byte (6 bits).
const MaxPort = 63

// Tag returns the tag byte for port p carrying a PORT-type frame.
func Tag(p int) byte {
	return byte(p<<2) | byte(Port)
}

// Split decodes a tag byte into its port and type fields.
func Split(tag byte) (port int, typ Type) {
	return int(tag >> 2), Type(tag & 0x3)
}

// Handlers dispatches deframed frames by tag. Port handlers receive the
// frame with the tag byte stripped. Log receives (target, address,
// payload) for any non-PORT tag with at least 4 trailing bytes. Error
// receives frames that are log-tagged but too short to carry an
// address. Empty frames are passed to no handler.
type Handlers struct {
	Port  [MaxPort + 1]func([]byte)
	Log   func(target int, addr uint32, payload []byte)
	Error func([]byte)
}

// TargetShift is the bit position of the 4-bit target nibble within a
// log frame's little-endian address prefix.
const TargetShift = 20

// Decode classifies a single deframed frame and invokes the matching
// handler in h. Empty frames are ignored, matching the wire tolerance
// requirement that empty COBS frames carry no information.
func Decode(frame []byte, h *Handlers) {
	if len(frame) == 0 {
		return
	}
	port, typ := Split(frame[0])
	rest := frame[1:]
	if typ == Port {
		if port >= 0 && port < len(h.Port) && h.Port[port] != nil {
			h.Port[port](rest)
		}
		return
	}
	if len(rest) < 4 {
		if h.Error != nil {
			h.Error(frame)
		}
		return
	}
	addr := binary.LittleEndian.Uint32(rest[:4])
	target := int((addr >> TargetShift) & 0xf)
	if h.Log != nil {
		h.Log(target, addr, rest[4:])
	}
}

// Encode prefixes payload with the PORT tag for port p.
func Encode(port int, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+1)
	out = append(out, Tag(port))
	out = append(out, payload...)
	return out
}
