package p1150

// overflowCapacity bounds the per-channel back-pressure buffer the
// trigger engine fills while a completed window is waiting on its
// consumer. It is sized for 100ms of streaming at SampleRate, the
// original driver's margin for a slow GUI frame.
const overflowCapacity = 12500

// overflowWarnFraction is the fill level past which the engine logs a
// back-pressure warning.
const overflowWarnFraction = 0.8

// TriggerConfig describes the trigger engine's arming condition.
type TriggerConfig struct {
	Source   TriggerSource
	Slope    TriggerSlope
	Position TriggerPosition
	Level    float64 // mA or raw aux counts; ignored for digital sources
}

// Window is a complete, time-stamped acquisition window delivered to a
// consumer once the trigger engine fires.
type Window struct {
	T          []float64
	I          []float64
	Isnk       []float64
	A0         []float64
	D0         []float64
	D1         []float64
	TriggerIdx int
}

// sampleBatch is an ordered run of same-length per-channel sample
// slices: either a decoded ADCPacket or the drained contents of the
// overflow buffer.
type sampleBatch struct {
	i, isnk, a0, d0, d1 []float64
}

func (b sampleBatch) len() int { return len(b.i) }

// overflow accumulates samples that arrive while a completed window is
// awaiting delivery. Capacity is bounded; once full it drops new
// samples rather than growing unbounded.
type overflow struct {
	i, isnk, a0, d0, d1 []float64
	logger              Logger
}

func (o *overflow) len() int { return len(o.i) }

func (o *overflow) append(b sampleBatch) {
	if o.len()+b.len() > overflowCapacity {
		if o.logger != nil {
			o.logger.Printf("p1150: trigger overflow buffer full, dropping %d samples", b.len())
		}
		return
	}
	o.i = append(o.i, b.i...)
	o.isnk = append(o.isnk, b.isnk...)
	o.a0 = append(o.a0, b.a0...)
	o.d0 = append(o.d0, b.d0...)
	o.d1 = append(o.d1, b.d1...)
	if o.logger != nil && float64(o.len())/overflowCapacity >= overflowWarnFraction {
		o.logger.Printf("p1150: trigger overflow buffer at %.0f%% (consumer falling behind)", 100*float64(o.len())/overflowCapacity)
	}
}

func (o *overflow) drain() sampleBatch {
	b := sampleBatch{i: o.i, isnk: o.isnk, a0: o.a0, d0: o.d0, d1: o.d1}
	o.i, o.isnk, o.a0, o.d0, o.d1 = nil, nil, nil, nil, nil
	return b
}

// triggerEngine implements the sliding-window oscilloscope trigger.
// Geometry (N, position) and the arming condition (source, slope,
// level) are fixed for the lifetime of a window; Controller holds the
// stream lock across both every call to onPacket and every call that
// changes geometry or arming condition, so triggerEngine itself does
// no locking.
type triggerEngine struct {
	logger Logger

	mode AcquireMode
	tb   Timebase
	n    int

	cfg TriggerConfig

	i, isnk, a0, d0, d1 *ring

	triggered bool
	dataReady bool
	precond   bool

	triggerIdx int

	overflow overflow

	// running is false once Single mode has delivered its one window,
	// until the caller explicitly starts a new acquisition.
	running bool

	// OnWindow is invoked with the completed window once dataReady is
	// set. In Run and Logger modes the engine resets the window as soon
	// as OnWindow returns; in Single mode it stays stopped until start
	// is called again.
	OnWindow func(Window)
}

func newTriggerEngine(logger Logger) *triggerEngine {
	e := &triggerEngine{logger: logger}
	e.overflow.logger = logger
	e.configure(Span100ms, TriggerConfig{Source: TrigNone, Position: PosCenter})
	return e
}

// configure sets the window geometry and arming condition and resets
// the engine. Controller calls this under the stream lock whenever the
// timebase or trigger configuration changes.
func (e *triggerEngine) configure(tb Timebase, cfg TriggerConfig) {
	e.tb = tb
	e.n = tb.N()
	e.cfg = cfg
	e.triggerIdx = triggerIndex(e.n, cfg.Position)
	e.reset()
}

// start (re)arms the engine for a new acquisition. Mode is latched so
// Single can tell whether it has already fired.
func (e *triggerEngine) start(mode AcquireMode) {
	e.mode = mode
	e.running = true
	e.reset()
}

func (e *triggerEngine) stop() {
	e.running = false
}

// reset clears the live window and precondition state. It does not
// touch the overflow buffer: buffered samples are drained into the
// next window as it refills, matching the original driver's
// back-pressure recovery behavior.
func (e *triggerEngine) reset() {
	e.i = newRing(e.n)
	e.isnk = newRing(e.n)
	e.a0 = newRing(e.n)
	e.d0 = newRing(e.n)
	e.d1 = newRing(e.n)
	e.triggered = false
	e.dataReady = false
	e.precond = false
}

// triggerIndex computes where within an N-sample window the trigger
// sample sits.
func triggerIndex(n int, pos TriggerPosition) int {
	switch pos {
	case PosLeft:
		return n / 4
	case PosRight:
		return n - n/4
	default:
		return n / 2
	}
}

// onPacket feeds one decoded ADC packet through the back-pressure,
// fill and trigger-detection pipeline described by the original
// driver's stream-in handler.
func (e *triggerEngine) onPacket(pkt ADCPacket) {
	if !e.running {
		return
	}
	if e.dataReady {
		e.overflow.append(sampleBatch{pkt.I, pkt.Isnk, pkt.A0, pkt.D0, pkt.D1})
		return
	}

	batch := sampleBatch{pkt.I, pkt.Isnk, pkt.A0, pkt.D0, pkt.D1}
	if e.overflow.len() > 0 {
		drained := e.overflow.drain()
		batch = sampleBatch{
			i:    append(drained.i, batch.i...),
			isnk: append(drained.isnk, batch.isnk...),
			a0:   append(drained.a0, batch.a0...),
			d0:   append(drained.d0, batch.d0...),
			d1:   append(drained.d1, batch.d1...),
		}
	}
	e.consume(batch)
}

// autoFire reports whether the current mode/source combination arms
// purely on the window filling, with no per-sample slope evaluation:
// Logger mode ignores the trigger condition entirely, and RUN/SINGLE
// with TrigNone behave the same way.
func (e *triggerEngine) autoFire() bool {
	return e.mode == Logger || e.cfg.Source == TrigNone
}

func (e *triggerEngine) consume(b sampleBatch) {
	n := b.len()
	fired := false
	k := 0
	var effectiveSlope TriggerSlope
	if !e.autoFire() {
		effectiveSlope = e.resolveSlope()
	}
	for ; k < n; k++ {
		wasFull := e.i.full()
		e.push(b, k)

		if e.autoFire() {
			if e.i.full() && !e.triggered {
				e.triggered = true
			}
			continue
		}
		if !wasFull {
			// This sample only completed the initial fill; the
			// original driver does not trigger-check it.
			continue
		}
		if e.checkSample(effectiveSlope) {
			e.triggered = true
			fired = true
			k++
			break
		}
	}

	if fired && k < n {
		e.overflow.append(sampleBatch{
			i:    b.i[k:],
			isnk: b.isnk[k:],
			a0:   b.a0[k:],
			d0:   b.d0[k:],
			d1:   b.d1[k:],
		})
	}

	if !e.i.full() {
		return
	}
	if e.triggered && !e.dataReady {
		e.arm()
	}
}

func (e *triggerEngine) push(b sampleBatch, idx int) {
	e.i.push(b.i[idx])
	e.isnk.push(b.isnk[idx])
	e.a0.push(b.a0[idx])
	e.d0.push(b.d0[idx])
	e.d1.push(b.d1[idx])
}

// resolveSlope inspects the current value at trigger_idx before this
// packet's samples are pushed, and for SlopeEither resolves to RISE or
// FALL for the duration of this packet, per the original driver.
func (e *triggerEngine) resolveSlope() TriggerSlope {
	if e.cfg.Slope != SlopeEither {
		return e.cfg.Slope
	}
	if e.value(e.cfg.Source, e.triggerIdx) < e.triggerLevel() {
		return SlopeRise
	}
	return SlopeFall
}

func (e *triggerEngine) triggerLevel() float64 {
	if e.cfg.Source.digital() {
		switch e.cfg.Source {
		case TrigD0:
			return D0VHigh / 2
		case TrigD1:
			return D1VHigh / 2
		}
	}
	return e.cfg.Level
}

func (e *triggerEngine) value(src TriggerSource, idx int) float64 {
	switch src {
	case TrigD0:
		return e.d0.get(idx)
	case TrigD1:
		return e.d1.get(idx)
	case TrigAux:
		return e.a0.get(idx)
	default:
		return e.i.get(idx)
	}
}

// checkSample evaluates the rise/fall precondition state machine
// against the sample just pushed to trigger_idx.
func (e *triggerEngine) checkSample(slope TriggerSlope) bool {
	level := e.triggerLevel()
	v := e.value(e.cfg.Source, e.triggerIdx)
	switch slope {
	case SlopeFall:
		if !e.precond {
			if v > level {
				e.precond = true
			}
			return false
		}
		return v < level
	default: // SlopeRise
		if !e.precond {
			if v < level {
				e.precond = true
			}
			return false
		}
		return v > level
	}
}

// arm finalizes a fired window: it computes the time axis, marks the
// window ready for delivery and invokes OnWindow. Single mode stops
// after delivering its one window.
func (e *triggerEngine) arm() {
	e.dataReady = true
	e.precond = false

	w := Window{
		T:          e.timeAxis(),
		I:          e.i.snapshot(),
		Isnk:       e.isnk.snapshot(),
		A0:         e.a0.snapshot(),
		D0:         e.d0.snapshot(),
		D1:         e.d1.snapshot(),
		TriggerIdx: e.triggerIdx,
	}

	if e.mode == Single {
		e.running = false
	}
	if e.OnWindow != nil {
		e.OnWindow(w)
	}
	if e.mode != Single {
		// Run and Logger re-arm immediately; any samples buffered by
		// onPacket's own back-pressure check during this call are
		// picked up as the next window's overflow drain.
		e.reset()
	}
}

// timeAxis returns the per-sample timestamps, in seconds, relative to
// the trigger sample: negative before it, zero at it.
func (e *triggerEngine) timeAxis() []float64 {
	t := make([]float64, e.n)
	dt := 1.0 / SampleRate
	for k := range t {
		t[k] = float64(k-e.triggerIdx) * dt
	}
	return t
}
