package p1150

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode and decMode use a deterministic encoder (so identical
// payloads always produce identical bytes, which keeps command frames
// diffable in captures) and a decoder that treats an unknown field in
// the response schema as informational, never fatal: the device is
// free to add fields.
var encMode cbor.EncMode
var decMode cbor.DecMode

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	encMode = em
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(err)
	}
	decMode = dm
}

// Payload is an outbound command's CBOR map. It always carries "f", the
// correlation key the matcher keys responses by.
type Payload map[string]any

func encodePayload(p Payload) ([]byte, error) {
	return encMode.Marshal(map[string]any(p))
}

// Response is a decoded port-0 command response. Fields holds every
// key present on the wire, including "f" and "s", so pass-through
// consumers can inspect command-specific fields without the driver
// needing a type for every command.
type Response struct {
	F      string
	S      bool
	Fields map[string]any
}

// errMissingF is returned by decodeResponse when a port-0 frame has no
// "f" field: every command response must echo the correlation key it
// was sent with.
var errMissingF = fmt.Errorf("p1150: response frame missing required field %q", "f")

func decodeResponse(data []byte) (Response, error) {
	var fields map[string]any
	if err := decMode.Unmarshal(data, &fields); err != nil {
		return Response{}, fmt.Errorf("p1150: decode response: %w", err)
	}
	fv, ok := fields["f"]
	if !ok {
		return Response{}, errMissingF
	}
	f, _ := fv.(string)
	s, _ := fields["s"].(bool)
	return Response{F: f, S: s, Fields: fields}, nil
}
