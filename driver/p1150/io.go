package p1150

import (
	"io"
	"sync"
	"sync/atomic"

	"ampcorder.dev/p1150/cobs"
)

// readChunk is the size of a single read from the serial port. The
// device streams at most a few hundred bytes per scheduling tick at
// 125 kSa/s, so small reads keep reader-to-consumer latency low
// without the reader ever doing CBOR work itself.
const readChunk = 512

// writeQueueDepth bounds the outbound queue. Controller serializes
// commands to at most one in flight, so a small depth is enough.
const writeQueueDepth = 8

// frameQueueDepth bounds the queue of COBS-decoded frames handed from
// the reader goroutine to the mux dispatcher. It is sized generously
// since a port-3 ADC frame arrives roughly every 400 microseconds and
// the dispatcher must never fall permanently behind.
const frameQueueDepth = 256

// ioWorker owns the serial port. A reader goroutine reads available
// bytes and feeds them to a COBS deframer; a writer goroutine drains an
// outbound queue. The reader only deframes: it hands decoded frames to
// a bounded channel rather than decoding CBOR itself, so a slow
// consumer never stalls the physical read.
type ioWorker struct {
	dev io.ReadWriteCloser

	out    chan []byte
	frames chan []byte
	done   chan struct{}
	wg     sync.WaitGroup

	running atomic.Bool

	deframer cobs.Deframer

	logger Logger
}

func newIOWorker(dev io.ReadWriteCloser, logger Logger) *ioWorker {
	w := &ioWorker{
		dev:    dev,
		out:    make(chan []byte, writeQueueDepth),
		frames: make(chan []byte, frameQueueDepth),
		done:   make(chan struct{}),
		logger: logger,
	}
	w.deframer.OnFrame = func(f []byte) {
		cp := make([]byte, len(f))
		copy(cp, f)
		select {
		case w.frames <- cp:
		case <-w.done:
		default:
			if w.logger != nil {
				w.logger.Printf("p1150: frame queue full, dropping frame")
			}
		}
	}
	return w
}

// start launches the reader and writer goroutines.
func (w *ioWorker) start() {
	w.running.Store(true)
	w.wg.Add(2)
	go w.readLoop()
	go w.writeLoop()
}

func (w *ioWorker) isRunning() bool {
	return w.running.Load()
}

// write enqueues an already-framed block for the writer goroutine. It
// does not block unless the queue is full.
func (w *ioWorker) write(block []byte) {
	select {
	case w.out <- block:
	case <-w.done:
	}
}

// shutdown requests an orderly stop, waits for both goroutines to exit
// and then closes frames, so a dispatcher ranging over it returns. It
// is idempotent, including after the reader has already stopped on a
// read failure.
func (w *ioWorker) shutdown() {
	select {
	case <-w.done:
		w.wg.Wait()
		return
	default:
	}
	w.running.Store(false)
	close(w.done)
	w.dev.Close()
	w.wg.Wait()
	close(w.frames)
}

func (w *ioWorker) readLoop() {
	defer w.wg.Done()
	buf := make([]byte, readChunk)
	for {
		select {
		case <-w.done:
			return
		default:
		}
		n, err := w.dev.Read(buf)
		if n > 0 {
			w.deframer.Write(buf[:n])
		}
		if err != nil {
			select {
			case <-w.done:
				return
			default:
			}
			if isTimeout(err) {
				continue
			}
			if w.logger != nil {
				w.logger.Printf("p1150: serial read failed, disconnecting: %v", err)
			}
			w.running.Store(false)
			return
		}
	}
}

func (w *ioWorker) writeLoop() {
	defer w.wg.Done()
	for {
		select {
		case block := <-w.out:
			w.writeBlock(block)
		case <-w.done:
			return
		}
	}
}

// padMultiple is the USB-CDC DMA alignment requirement: outbound writes
// must be a multiple of 4 bytes. Padding happens here, at the serial
// boundary, not in the codecs above.
const padMultiple = 4

func (w *ioWorker) writeBlock(block []byte) {
	if rem := len(block) % padMultiple; rem != 0 {
		pad := make([]byte, padMultiple-rem)
		block = append(block, pad...)
	}
	if _, err := w.dev.Write(block); err != nil {
		select {
		case <-w.done:
			return
		default:
		}
		if w.logger != nil {
			w.logger.Printf("p1150: serial write failed: %v", err)
		}
	}
}

// timeouter is satisfied by the errors tarm/serial (and most
// net.Error-shaped transports) return for a read that simply hit its
// deadline without data.
type timeouter interface {
	Timeout() bool
}

func isTimeout(err error) bool {
	t, ok := err.(timeouter)
	return ok && t.Timeout()
}

// Logger is the minimal structured-logging seam the driver writes
// diagnostics through. *log.Logger satisfies it.
type Logger interface {
	Printf(format string, args ...any)
}
