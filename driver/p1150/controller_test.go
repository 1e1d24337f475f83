package p1150

import (
	"testing"
	"time"
)

func TestControllerStatusRoundTrip(t *testing.T) {
	sim := NewSimulator()
	sim.Handle("cmd_status", func(Payload) Payload {
		return Payload{"err": uint64(ErrTemperature), "err_act": uint64(ActionSendLog), "t_degc": 42.5}
	})

	c := New(nil)
	if err := c.ConnectTransport(sim); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	st, err := c.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.Err != ErrTemperature {
		t.Errorf("got err flags %v, want %v", st.Err, ErrTemperature)
	}
	if st.TempC != 42.5 {
		t.Errorf("got temp %v, want 42.5", st.TempC)
	}
}

func TestControllerPingLatchesFilter(t *testing.T) {
	sim := NewSimulator()
	sim.Handle("cmd_ping", func(Payload) Payload {
		return Payload{"hwver": filterHardwareRevision, "id0": uint64(1), "id1": uint64(2), "id2": uint64(3)}
	})

	c := New(nil)
	if err := c.ConnectTransport(sim); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	info, err := c.Ping()
	if err != nil {
		t.Fatal(err)
	}
	if info.HWVer != filterHardwareRevision {
		t.Errorf("got hwver %q", info.HWVer)
	}
	if info.Serial == "" {
		t.Error("expected a non-empty serial")
	}
	if !c.adc.filterEnabled {
		t.Error("expected the compensation filter to be enabled for this hardware revision")
	}
}

func TestControllerStreamsADCIntoWindow(t *testing.T) {
	sim := NewSimulator()
	c := New(nil)
	if err := c.ConnectTransport(sim); err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	c.SetTimebase(Span10ms)
	c.SetTrigger(TriggerConfig{Source: TrigNone})

	done := make(chan Window, 1)
	c.OnWindow = func(w Window) { done <- w }
	if err := c.StartAcquire(Run); err != nil {
		t.Fatal(err)
	}

	n := Span10ms.N()
	packets := n / samplesPerPacket
	for i := 0; i < packets; i++ {
		raw := rawADCPacket{
			C:    uint64(i),
			I:    encodeF32LE(makeConstF32(samplesPerPacket, 0)...),
			Isnk: encodeF32LE(makeConstF32(samplesPerPacket, 0)...),
			A0:   encodeUint16LEBytes(makeConstU16(samplesPerPacket, 0)...),
			D01:  make([]byte, samplesPerPacket),
		}
		if err := sim.PushRawADCFrame(raw); err != nil {
			t.Fatal(err)
		}
	}

	select {
	case w := <-done:
		if len(w.I) != n {
			t.Errorf("got window length %d, want %d", len(w.I), n)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a delivered window")
	}
}

func makeConstF32(n int, v float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func makeConstU16(n int, v uint16) []uint16 {
	out := make([]uint16, n)
	for i := range out {
		out[i] = v
	}
	return out
}
