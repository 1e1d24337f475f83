package p1150

import (
	"encoding/binary"
	"math"
	"testing"
)

func encodeF32LE(vals ...float32) []byte {
	out := make([]byte, 4*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(v))
	}
	return out
}

func TestDecodeFloat32LEScalesAndRounds(t *testing.T) {
	raw := encodeF32LE(1_500_000, -2_000_000)
	got := decodeFloat32LE(raw, 1e-6)
	want := []float64{1.5, -2.0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestDecodeDigitalFakeVoltage(t *testing.T) {
	// bit0=1 (d0 high), bit1=0 (d1 low); bit0=0, bit1=1.
	raw := []byte{0b01, 0b10}
	d0, d1 := decodeDigital(raw)
	if d0[0] != D0VLow+D0VHigh || d1[0] != D1VLow {
		t.Errorf("sample 0: got d0=%v d1=%v", d0[0], d1[0])
	}
	if d0[1] != D0VLow || d1[1] != D1VLow+D1VHigh {
		t.Errorf("sample 1: got d0=%v d1=%v", d0[1], d1[1])
	}
}

func TestAdcDecoderCounterGapLogged(t *testing.T) {
	var msgs []string
	logger := loggerFunc(func(format string, args ...any) { msgs = append(msgs, format) })
	d := newADCDecoder(logger)

	first := rawADCPacket{C: 0, I: encodeF32LE(0), Isnk: encodeF32LE(0), A0: encodeUint16LEBytes(0), D01: []byte{0}}
	data, err := encMode.Marshal(first)
	if err != nil {
		t.Fatal(err)
	}
	d.onFrame(data)

	skip := rawADCPacket{C: 5, I: encodeF32LE(0), Isnk: encodeF32LE(0), A0: encodeUint16LEBytes(0), D01: []byte{0}}
	data, err = encMode.Marshal(skip)
	if err != nil {
		t.Fatal(err)
	}
	d.onFrame(data)

	found := false
	for _, m := range msgs {
		if m == "p1150: ADC frame counter gap: got %d, want %d" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a counter gap log message, got %v", msgs)
	}
}

func TestFilterPassesConstantSignalUnchanged(t *testing.T) {
	d := newADCDecoder(nil)
	var cache [2]float64
	var seeded bool
	x := make([]float64, 10)
	for i := range x {
		x[i] = 3.0
	}
	out := d.filter(x, &cache, &seeded)
	for i, v := range out {
		if math.Abs(v-3.0) > 1e-9 {
			t.Errorf("sample %d: got %v, want 3.0 (weights sum to 1)", i, v)
		}
	}
}

func TestFilterContinuityAcrossPackets(t *testing.T) {
	d := newADCDecoder(nil)
	var cache [2]float64
	var seeded bool
	first := []float64{1, 2, 3, 4, 5}
	second := []float64{6, 7, 8, 9, 10}

	d.filter(first, &cache, &seeded)
	out2 := d.filter(second, &cache, &seeded)

	// The first sample of the second packet's filtered output must
	// blend with the tail of the first packet, not with zeros.
	want := round6(first[3]*filterWeights[0] + first[4]*filterWeights[1] + second[0]*filterWeights[2])
	if out2[0] != want {
		t.Errorf("got %v, want %v", out2[0], want)
	}
}

// TestFilterSeedsEachChannelIndependently guards against a shared
// seeded flag across channels: onFrame runs i's filter before isnk's,
// and isnk's cache must still seed from its own first samples rather
// than being skipped because i's filter already flipped a shared flag.
func TestFilterSeedsEachChannelIndependently(t *testing.T) {
	d := newADCDecoder(nil)
	d.filterEnabled = true

	const c = 7.0
	// raw.I/raw.Isnk are scaled by 1e-6 in onFrame, so encode c/1e-6.
	rawVals := make([]float64, 10)
	for k := range rawVals {
		rawVals[k] = c / 1e-6
	}
	raw := rawADCPacket{
		C:    0,
		I:    encodeF32LE(f32All(rawVals)...),
		Isnk: encodeF32LE(f32All(rawVals)...),
		A0:   encodeUint16LEBytes(make([]uint16, 10)...),
		D01:  make([]byte, 10),
	}
	data, err := encMode.Marshal(raw)
	if err != nil {
		t.Fatal(err)
	}
	var got ADCPacket
	d.OnPacket = func(pkt ADCPacket) { got = pkt }
	d.onFrame(data)

	for k, v := range got.Isnk {
		if math.Abs(v-c) > 1e-6 {
			t.Errorf("isnk sample %d: got %v, want %v (first isnk packet must be seeded from its own samples)", k, v, c)
		}
	}
}

func f32All(x []float64) []float32 {
	out := make([]float32, len(x))
	for i, v := range x {
		out[i] = float32(v)
	}
	return out
}

func encodeUint16LEBytes(vals ...uint16) []byte {
	out := make([]byte, 2*len(vals))
	for i, v := range vals {
		binary.LittleEndian.PutUint16(out[i*2:], v)
	}
	return out
}

type loggerFunc func(format string, args ...any)

func (f loggerFunc) Printf(format string, args ...any) { f(format, args...) }
