package p1150

import (
	"errors"
	"io"
	"time"

	"github.com/tarm/serial"
)

// baudRate is the USB-CDC virtual baud rate. The device ignores the
// actual value but tarm/serial requires one.
const baudRate = 115200

// readTimeout bounds a single blocking read on the reader goroutine so
// it can observe shutdown in bounded time even with no traffic.
const readTimeout = 20 * time.Millisecond

// Open opens the serial device named by dev. An empty dev is rejected;
// p1150 does not guess a platform-default path, since USB-CDC
// instruments enumerate dynamically and COM-port scanning is left to
// the caller.
func Open(dev string) (io.ReadWriteCloser, error) {
	if dev == "" {
		return nil, errors.New("p1150: no device specified")
	}
	c := &serial.Config{
		Name:        dev,
		Baud:        baudRate,
		ReadTimeout: readTimeout,
	}
	return serial.OpenPort(c)
}
