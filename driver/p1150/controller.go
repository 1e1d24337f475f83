package p1150

import (
	"fmt"
	"io"
	"math"
	"sync"

	"ampcorder.dev/p1150/mux"
)

// Controller is the driver's public entry point: one Controller owns
// one open device connection and serializes every command against the
// ADC stream running concurrently underneath it.
//
// Lock ordering is main -> response: every command method takes mu for
// its whole duration, including the blocking wait on the matcher's
// response channel. The trigger engine's stream lock (streamMu) is
// independent and is never held while mu is held, so an in-flight
// command never blocks ADC streaming and vice versa.
type Controller struct {
	mu sync.Mutex

	logger Logger

	io     *ioWorker
	match  *matcher
	adc    *adcDecoder
	engine *triggerEngine

	streamMu sync.Mutex

	timebase Timebase
	trigger  TriggerConfig

	hwver string

	// OnWindow is invoked once per delivered acquisition window, from
	// the dispatcher goroutine. It must not call back into Controller.
	OnWindow func(Window)

	// OnLog is invoked for every non-command, non-ADC mux frame (the
	// device's own log stream), with the originating target nibble and
	// 32-bit source address.
	OnLog func(target int, addr uint32, payload []byte)
}

// New constructs a Controller that has not yet opened a device. logger
// may be nil to discard diagnostics.
func New(logger Logger) *Controller {
	c := &Controller{logger: logger}
	c.match = newMatcher(logger)
	c.adc = newADCDecoder(logger)
	c.engine = newTriggerEngine(logger)
	c.adc.OnPacket = func(pkt ADCPacket) {
		c.streamMu.Lock()
		c.engine.onPacket(pkt)
		c.streamMu.Unlock()
	}
	c.engine.OnWindow = func(w Window) {
		if c.OnWindow != nil {
			c.OnWindow(w)
		}
	}
	return c
}

// Connect opens dev and starts the transport, dispatcher and stream
// pipeline. It does not start acquisition; call StartAcquire for that.
func (c *Controller) Connect(dev string) error {
	port, err := Open(dev)
	if err != nil {
		return err
	}
	return c.ConnectTransport(port)
}

// ConnectTransport wires the pipeline over an already-open transport.
// Tests use this with a Simulator in place of a real serial port.
func (c *Controller) ConnectTransport(port io.ReadWriteCloser) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.io = newIOWorker(port, c.logger)
	c.io.start()
	go c.dispatch()
	return nil
}

// Close stops the dispatcher and closes the transport. It is safe to
// call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.io == nil {
		return nil
	}
	c.io.shutdown()
	return nil
}

// dispatch drains COBS-decoded frames and routes them by mux tag. It
// runs on its own goroutine so a slow command caller never stalls ADC
// streaming, and so the serial reader (in ioWorker) never itself does
// CBOR work.
func (c *Controller) dispatch() {
	handlers := &mux.Handlers{
		Log: func(target int, addr uint32, payload []byte) {
			if c.OnLog != nil {
				c.OnLog(target, addr, payload)
			}
		},
		Error: func(frame []byte) {
			if c.logger != nil {
				c.logger.Printf("p1150: malformed mux frame, %d bytes", len(frame))
			}
		},
	}
	handlers.Port[0] = c.match.onFrame
	handlers.Port[3] = c.adc.onFrame

	for frame := range c.io.frames {
		mux.Decode(frame, handlers)
	}
}

// call sends a port-0 command and blocks for its response. cmd is the
// canonical "f" string the device dispatches on (e.g. "cmd_status");
// fields carries any additional command arguments. Two calls for the
// same cmd can never be in flight at once, since call holds mu for its
// entire duration, so the matcher's per-"f" correlation never has to
// distinguish concurrent callers of the same command.
func (c *Controller) call(cmd string, fields map[string]any) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.io == nil {
		return Response{}, fmt.Errorf("p1150: not connected")
	}

	payload := Payload{"f": cmd}
	for k, v := range fields {
		payload[k] = v
	}

	ok, resps, err := c.match.sendAndWait(payload, func(data []byte) error {
		c.io.write(mux.Encode(0, data))
		return nil
	})
	if err != nil {
		return Response{}, err
	}
	if !ok || len(resps) == 0 {
		return Response{}, fmt.Errorf("p1150: %s: no response", cmd)
	}
	return resps[len(resps)-1], nil
}

// Status is the decoded cmd_status response.
type Status struct {
	Err            ErrorFlags
	Action         ErrorAction
	TempC          float64
	Acquiring      bool
	VoutMv         int
	CalDone        bool
	ProbeConnected bool
	OverCurrentMa  int
}

// Status queries device health.
func (c *Controller) Status() (Status, error) {
	resp, err := c.call("cmd_status", nil)
	if err != nil {
		return Status{}, err
	}
	var st Status
	if v, ok := uintField(resp.Fields, "err"); ok {
		st.Err = ErrorFlags(v)
	}
	if v, ok := uintField(resp.Fields, "err_act"); ok {
		st.Action = ErrorAction(v)
	}
	if v, ok := numberField(resp.Fields, "t_degc"); ok {
		st.TempC = v
	}
	if v, ok := resp.Fields["acquiring"].(bool); ok {
		st.Acquiring = v
	}
	if v, ok := uintField(resp.Fields, "vout"); ok {
		st.VoutMv = int(v)
	}
	if v, ok := resp.Fields["cal_done"].(bool); ok {
		st.CalDone = v
	}
	if v, ok := resp.Fields["probe"].(bool); ok {
		st.ProbeConnected = v
	}
	if v, ok := uintField(resp.Fields, "ovc_ma"); ok {
		st.OverCurrentMa = int(v)
	}
	return st, nil
}

// ClearError acknowledges the device's latched error flags.
func (c *Controller) ClearError() error {
	_, err := c.call("cmd_error_clear", nil)
	return err
}

// SetVout sets the output voltage in volts.
func (c *Controller) SetVout(volts float64) error {
	_, err := c.call("cmd_vout", map[string]any{"mv": int64(math.Round(volts * 1000))})
	return err
}

// VoutMetrics is the decoded cmd_vout_metrics response: the output
// stage's hardware capability limits, in millivolts.
type VoutMetrics struct {
	MaxMv  int
	MinMv  int
	StepMv int
}

// VoutMetrics queries the output stage's voltage capability.
func (c *Controller) VoutMetrics() (VoutMetrics, error) {
	resp, err := c.call("cmd_vout_metrics", nil)
	if err != nil {
		return VoutMetrics{}, err
	}
	var m VoutMetrics
	if v, ok := uintField(resp.Fields, "max"); ok {
		m.MaxMv = int(v)
	}
	if v, ok := uintField(resp.Fields, "min"); ok {
		m.MinMv = int(v)
	}
	if v, ok := uintField(resp.Fields, "step"); ok {
		m.StepMv = int(v)
	}
	return m, nil
}

// SetVoutRemoteSense toggles 4-wire remote voltage sensing.
func (c *Controller) SetVoutRemoteSense(enabled bool) error {
	_, err := c.call("cmd_vout_rs", map[string]any{"en": enabled})
	return err
}

// SetOverCurrent sets the output stage's current limit in amps.
func (c *Controller) SetOverCurrent(amps float64) error {
	_, err := c.call("cmd_ovrcur", map[string]any{"ma": int64(math.Round(amps * 1000))})
	return err
}

// Probe engages or disengages the current-sense probe. hardConnect
// bypasses the soft-start ramp; rsComp enables source-resistance VOUT
// compensation.
func (c *Controller) Probe(connect, hardConnect, rsComp bool) error {
	_, err := c.call("cmd_probe", map[string]any{"v": connect, "hard": hardConnect, "comp": rsComp})
	return err
}

// Calibrate kicks off the device's self-calibration routine. Poll
// CalStatus to track progress; force re-runs calibration even if the
// device reports it already complete.
func (c *Controller) Calibrate(force bool) error {
	_, err := c.call("cmd_cal", map[string]any{"force": force})
	return err
}

// CalStatus is the decoded cmd_cal_status response.
type CalStatus struct {
	Done      bool
	Progress  int
	VoutSetMv int
	VoutMv    int
	DaccRaw   int
	Err       ErrorFlags
	Action    ErrorAction
}

// CalStatus polls calibration progress.
func (c *Controller) CalStatus() (CalStatus, error) {
	resp, err := c.call("cmd_cal_status", nil)
	if err != nil {
		return CalStatus{}, err
	}
	var st CalStatus
	if v, ok := resp.Fields["cal_done"].(bool); ok {
		st.Done = v
	}
	if v, ok := uintField(resp.Fields, "progress"); ok {
		st.Progress = int(v)
	}
	if v, ok := uintField(resp.Fields, "vout_set"); ok {
		st.VoutSetMv = int(v)
	}
	if v, ok := uintField(resp.Fields, "vout"); ok {
		st.VoutMv = int(v)
	}
	if v, ok := uintField(resp.Fields, "dacc"); ok {
		st.DaccRaw = int(v)
	}
	if v, ok := uintField(resp.Fields, "err"); ok {
		st.Err = ErrorFlags(v)
	}
	if v, ok := uintField(resp.Fields, "err_act"); ok {
		st.Action = ErrorAction(v)
	}
	return st, nil
}

// SetCalLoad switches in the given calibration load resistors; more
// than one can be specified, in which case the resultant loads are in
// parallel.
func (c *Controller) SetCalLoad(loads []CalLoad) error {
	_, err := c.call("cmd_iload", map[string]any{"set": LoadMask(loads)})
	return err
}

// SetCalSweep enables or disables the device's calibration load sweep.
func (c *Controller) SetCalSweep(enabled bool) error {
	_, err := c.call("cmd_iload_sweep", map[string]any{"en": enabled})
	return err
}

// Blink flashes the device's identification LED, for multi-unit setups.
func (c *Controller) Blink() error {
	_, err := c.call("cmd_led_blink", nil)
	return err
}

// TriggerTemperatureUpdate asks the device to refresh its temperature
// reading immediately rather than waiting for its regular poll.
func (c *Controller) TriggerTemperatureUpdate() error {
	_, err := c.call("cmd_temp102_trigger", nil)
	return err
}

// SetTimebase changes the acquisition window span. This is a
// geometry-changing call: it takes the stream lock and resets the
// trigger engine, discarding any partially filled window.
func (c *Controller) SetTimebase(tb Timebase) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	c.timebase = tb
	c.engine.configure(tb, c.trigger)
}

// SetTrigger changes the arming condition and, since trigger position
// also determines window geometry, resets the trigger engine.
func (c *Controller) SetTrigger(cfg TriggerConfig) {
	c.streamMu.Lock()
	defer c.streamMu.Unlock()
	c.trigger = cfg
	c.engine.configure(c.timebase, cfg)
}

// StartAcquire arms the trigger engine in the given mode and tells the
// device to start streaming on port 3. The filter applied to i/isnk
// depends on the device's reported hardware revision, latched by Ping.
func (c *Controller) StartAcquire(mode AcquireMode) error {
	c.streamMu.Lock()
	c.engine.start(mode)
	c.streamMu.Unlock()
	return c.SetAcquisitionEnabled(true)
}

// StopAcquire disarms the trigger engine, discarding in-flight samples
// rather than buffering them, and tells the device to stop streaming.
func (c *Controller) StopAcquire() error {
	c.streamMu.Lock()
	c.engine.stop()
	c.streamMu.Unlock()
	return c.SetAcquisitionEnabled(false)
}

// SetAcquisitionEnabled sends cmd_adc directly, enabling or disabling
// port-3 streaming without touching the local trigger engine's armed
// state. StartAcquire/StopAcquire call this as part of arming/disarming;
// it is also exposed standalone since the device treats an enable while
// already acquiring as a no-op rather than an error.
func (c *Controller) SetAcquisitionEnabled(en bool) error {
	_, err := c.call("cmd_adc", map[string]any{"en": en})
	return err
}

// uintField reads an unsigned integer response field, accepting either
// a CBOR unsigned or (for values the encoder happened to sign) signed
// integer representation.
func uintField(fields map[string]any, key string) (uint64, bool) {
	switch v := fields[key].(type) {
	case uint64:
		return v, true
	case int64:
		return uint64(v), true
	}
	return 0, false
}

// numberField reads a response field that may arrive as either a CBOR
// float or integer.
func numberField(fields map[string]any, key string) (float64, bool) {
	switch v := fields[key].(type) {
	case float64:
		return v, true
	case uint64:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
