package p1150

import (
	"errors"
	"sync"

	"ampcorder.dev/p1150/cobs"
	"ampcorder.dev/p1150/mux"
)

var errSimClosed = errors.New("p1150: simulator closed")

// Simulator is an in-memory stand-in for the device, implementing
// io.ReadWriteCloser over the same COBS/mux/CBOR stack the real
// transport speaks. It lets Controller be exercised end to end,
// including the trigger engine and command matcher, without a serial
// port, using a pair of request/result channels to serialize access to
// the pending-bytes buffer.
type Simulator struct {
	in      chan ioReq
	out     chan ioRes
	push    chan []byte
	closeCh chan struct{}
	once    sync.Once

	deframer cobs.Deframer
	pending  []byte

	handlers map[string]func(Payload) Payload
}

type ioReq struct {
	write bool
	data  []byte
}

type ioRes struct {
	n   int
	err error
}

// simTimeout reports Timeout() true so ioWorker's readLoop treats a
// Read with nothing pending exactly like a real USB-CDC port's
// deadline expiry, rather than as a disconnect.
type simTimeout struct{}

func (simTimeout) Error() string { return "p1150: simulator read timeout" }
func (simTimeout) Timeout() bool { return true }

// NewSimulator returns a running Simulator with no command handlers
// registered; call Handle to answer specific commands.
func NewSimulator() *Simulator {
	s := &Simulator{
		in:       make(chan ioReq),
		out:      make(chan ioRes),
		push:     make(chan []byte),
		closeCh:  make(chan struct{}),
		handlers: make(map[string]func(Payload) Payload),
	}
	s.deframer.OnFrame = s.onFrame
	go s.run()
	return s
}

// Handle registers a responder for a port-0 command, keyed by the
// canonical "f" string the device would dispatch on (e.g.
// "cmd_status"). The responder returns the fields to merge into the
// response payload alongside "f" and a default "s": true; returning
// {"s": false} overrides it.
func (s *Simulator) Handle(cmd string, fn func(Payload) Payload) {
	s.handlers[cmd] = fn
}

// PushRawADCFrame encodes raw as a port-3 frame and queues it for the
// next Read, as if it had just arrived from the device's ADC stream.
func (s *Simulator) PushRawADCFrame(raw rawADCPacket) error {
	data, err := encMode.Marshal(raw)
	if err != nil {
		return err
	}
	frame := cobs.Frame(mux.Encode(3, data))
	select {
	case s.push <- frame:
		return nil
	case <-s.closeCh:
		return errSimClosed
	}
}

func (s *Simulator) enqueue(frame []byte) {
	s.pending = append(s.pending, frame...)
}

func (s *Simulator) onFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}
	port, typ := mux.Split(frame[0])
	if typ != mux.Port || port != 0 {
		return
	}
	var fields map[string]any
	if err := decMode.Unmarshal(frame[1:], &fields); err != nil {
		return
	}
	f, _ := fields["f"].(string)

	resp := Payload{"f": f, "s": true}
	if h, ok := s.handlers[f]; ok {
		for k, v := range h(Payload(fields)) {
			resp[k] = v
		}
	}
	data, err := encodePayload(resp)
	if err != nil {
		return
	}
	s.enqueue(cobs.Frame(mux.Encode(0, data)))
}

func (s *Simulator) run() {
	for {
		select {
		case <-s.closeCh:
			return
		case frame := <-s.push:
			s.enqueue(frame)
		case r := <-s.in:
			if r.write {
				s.deframer.Write(r.data)
				s.out <- ioRes{len(r.data), nil}
				continue
			}
			n := copy(r.data, s.pending)
			s.pending = s.pending[n:]
			var err error
			if n == 0 {
				err = simTimeout{}
			}
			s.out <- ioRes{n, err}
		}
	}
}

func (s *Simulator) Read(data []byte) (int, error) {
	select {
	case s.in <- ioReq{false, data}:
	case <-s.closeCh:
		return 0, simTimeout{}
	}
	r := <-s.out
	return r.n, r.err
}

func (s *Simulator) Write(data []byte) (int, error) {
	select {
	case s.in <- ioReq{true, data}:
	case <-s.closeCh:
		return 0, errSimClosed
	}
	r := <-s.out
	return r.n, r.err
}

func (s *Simulator) Close() error {
	s.once.Do(func() { close(s.closeCh) })
	return nil
}
