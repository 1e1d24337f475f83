// Package p1150 implements a host-side driver for a USB-CDC-attached
// precision current measurement instrument. It maintains the framed,
// multiplexed serial transport, decodes the streamed ADC packets, runs
// an oscilloscope-style trigger engine over them, and exposes a
// synchronous command API for configuration, calibration and firmware
// loading.
package p1150

import "fmt"

// AcquireMode selects the trigger engine's acquisition behavior.
type AcquireMode int

const (
	// Run re-arms the trigger engine after every delivered window.
	Run AcquireMode = iota
	// Single fires once per acquisition start.
	Single
	// Logger treats every full window as a trigger, for continuous
	// streaming to disk. Level and slope are ignored.
	Logger
)

func (m AcquireMode) String() string {
	switch m {
	case Run:
		return "run"
	case Single:
		return "single"
	case Logger:
		return "logger"
	default:
		return fmt.Sprintf("AcquireMode(%d)", int(m))
	}
}

// TriggerSource selects the channel the trigger engine evaluates.
type TriggerSource int

const (
	TrigNone TriggerSource = iota
	TrigCurrent
	TrigD0
	TrigD1
	TrigAux
)

func (s TriggerSource) String() string {
	switch s {
	case TrigNone:
		return "none"
	case TrigCurrent:
		return "i"
	case TrigD0:
		return "d0"
	case TrigD1:
		return "d1"
	case TrigAux:
		return "a0"
	default:
		return fmt.Sprintf("TriggerSource(%d)", int(s))
	}
}

// digital reports whether s is one of the two digital-line sources,
// which force the trigger level to VHIGH/2 rather than honoring a
// caller-supplied level.
func (s TriggerSource) digital() bool {
	return s == TrigD0 || s == TrigD1
}

// TriggerPosition selects where within the window the trigger sample
// falls, and so the time axis origin of the delivered window.
type TriggerPosition int

const (
	PosCenter TriggerPosition = iota
	PosLeft
	PosRight
)

func (p TriggerPosition) String() string {
	switch p {
	case PosCenter:
		return "center"
	case PosLeft:
		return "left"
	case PosRight:
		return "right"
	default:
		return fmt.Sprintf("TriggerPosition(%d)", int(p))
	}
}

// TriggerSlope selects the edge direction that arms/fires the trigger.
type TriggerSlope int

const (
	SlopeRise TriggerSlope = iota
	SlopeFall
	SlopeEither
)

func (s TriggerSlope) String() string {
	switch s {
	case SlopeRise:
		return "rise"
	case SlopeFall:
		return "fall"
	case SlopeEither:
		return "either"
	default:
		return fmt.Sprintf("TriggerSlope(%d)", int(s))
	}
}

// Timebase selects the wall-clock span of a full acquisition window.
// The sample rate is fixed, so a Timebase fully determines the window
// length N.
type Timebase int

const (
	Span10ms Timebase = iota
	Span20ms
	Span50ms
	Span100ms
	Span200ms
	Span500ms
	Span1s
	Span2s
	Span5s
	Span10s
)

// SampleRate is the device's fixed streaming rate in samples/second.
const SampleRate = 125000.0

// spanSeconds maps each Timebase to its wall-clock span.
var spanSeconds = [...]float64{
	Span10ms:  0.010,
	Span20ms:  0.020,
	Span50ms:  0.050,
	Span100ms: 0.100,
	Span200ms: 0.200,
	Span500ms: 0.500,
	Span1s:    1.0,
	Span2s:    2.0,
	Span5s:    5.0,
	Span10s:   10.0,
}

// Seconds returns the wall-clock span of t.
func (t Timebase) Seconds() float64 {
	return spanSeconds[t]
}

// N returns the window length, in samples, for t.
func (t Timebase) N() int {
	return int(SampleRate*t.Seconds() + 0.5)
}

func (t Timebase) String() string {
	switch t {
	case Span10ms:
		return "10ms"
	case Span20ms:
		return "20ms"
	case Span50ms:
		return "50ms"
	case Span100ms:
		return "100ms"
	case Span200ms:
		return "200ms"
	case Span500ms:
		return "500ms"
	case Span1s:
		return "1s"
	case Span2s:
		return "2s"
	case Span5s:
		return "5s"
	case Span10s:
		return "10s"
	default:
		return fmt.Sprintf("Timebase(%d)", int(t))
	}
}

// CalLoad names a calibration load resistor the device can switch in.
type CalLoad int

const (
	CalLoad2M CalLoad = iota
	CalLoad200K
	CalLoad20K
	CalLoad2K
)

// calLoadBit mirrors the original driver's bit assignment for the
// calibration load mask sent with cmd_iload.
var calLoadBit = map[CalLoad]uint32{
	CalLoad2M:   0x80,
	CalLoad200K: 0x40,
	CalLoad20K:  0x20,
	CalLoad2K:   0x10,
}

// LoadMask ORs together the bits for loads.
func LoadMask(loads []CalLoad) uint32 {
	var mask uint32
	for _, l := range loads {
		mask |= calLoadBit[l]
	}
	return mask
}

// ErrorFlags is the device error bitfield surfaced verbatim by
// cmd_status's "err" field. The driver never interprets these bits; it
// only renders them for diagnostics.
type ErrorFlags uint32

const (
	ErrI2C ErrorFlags = 1 << iota
	ErrHAL
	ErrInit
	ErrInitTemp
	ErrInitVMain
	ErrInitADC
	ErrInitUSBPD
	_ // reserved
	ErrTemperature
	ErrVoutFailure
	ErrCal
	ErrProbeCon
	ErrSrcCurrent
	ErrSnkCurrent
)

var errorFlagNames = []struct {
	bit  ErrorFlags
	name string
}{
	{ErrI2C, "I2C"},
	{ErrHAL, "HAL"},
	{ErrInit, "INIT"},
	{ErrInitTemp, "INIT_TMP"},
	{ErrInitVMain, "INIT_VMAIN"},
	{ErrInitADC, "INIT_ADC"},
	{ErrInitUSBPD, "INIT_USBPD"},
	{ErrTemperature, "TEMPERATURE"},
	{ErrVoutFailure, "VOUT_FAILURE"},
	{ErrCal, "CAL"},
	{ErrProbeCon, "PROBE_CON"},
	{ErrSrcCurrent, "SRC_CURRENT"},
	{ErrSnkCurrent, "SNK_CURRENT"},
}

func (f ErrorFlags) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	for _, e := range errorFlagNames {
		if f&e.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += e.name
		}
	}
	if s == "" {
		return fmt.Sprintf("ErrorFlags(%#x)", uint32(f))
	}
	return s
}

// ErrorAction is the device's bitfield of error-response actions,
// surfaced opaquely alongside ErrorFlags.
type ErrorAction uint32

const (
	ActionDisconnect ErrorAction = 1 << iota
	ActionReset
	ActionLockout
	ActionSendLog
)
