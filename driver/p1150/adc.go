package p1150

import (
	"encoding/binary"
	"math"
)

// samplesPerPacket is the number of samples per channel carried by one
// ADC stream frame.
const samplesPerPacket = 50

// Fake-voltage presentation constants for the digital lines. These are
// plotting conveniences, not electrical quantities.
const (
	D0VLow  = 20.0
	D1VLow  = 40.0
	D0VHigh = 1000.0
	D1VHigh = 1100.0
)

// filterHardwareRevision is the hwver reported by ping whose INA/OPA
// stage peaking requires the 3-tap compensation filter.
const filterHardwareRevision = "A0431100"

// rawADCPacket is the CBOR shape of a port-3 frame.
type rawADCPacket struct {
	C    uint64 `cbor:"c"`
	A    uint64 `cbor:"a"`
	I    []byte `cbor:"i"`
	Isnk []byte `cbor:"isnk"`
	A0   []byte `cbor:"a0"`
	D01  []byte `cbor:"d01"`
}

// ADCPacket is a decoded port-3 sample packet: samplesPerPacket values
// per channel.
type ADCPacket struct {
	Counter    uint64
	Aggregate  uint64
	I          []float64 // mA
	Isnk       []float64 // mA
	A0         []float64 // raw ADC counts
	D0         []float64 // fake voltage
	D1         []float64 // fake voltage
}

// adcDecoder turns port-3 CBOR frames into ADCPacket, optionally
// applying the 3-tap low-pass filter, and forwards the result to
// OnPacket.
type adcDecoder struct {
	logger Logger

	prevCounter   uint64
	haveCounter   bool
	filterEnabled bool
	iCache        [2]float64
	iCacheInit    bool
	isnkCache     [2]float64
	isnkCacheInit bool

	OnPacket func(ADCPacket)
}

func newADCDecoder(logger Logger) *adcDecoder {
	return &adcDecoder{logger: logger}
}

// setFilterEnabled is called after ping decodes hwver.
func (d *adcDecoder) setFilterEnabled(en bool) {
	d.filterEnabled = en
}

// onFrame is the port-3 mux handler.
func (d *adcDecoder) onFrame(data []byte) {
	var raw rawADCPacket
	if err := decMode.Unmarshal(data, &raw); err != nil {
		if d.logger != nil {
			d.logger.Printf("p1150: decode ADC packet: %v", err)
		}
		return
	}
	i := decodeFloat32LE(raw.I, 1e-6)
	isnk := decodeFloat32LE(raw.Isnk, 1e-6)
	a0 := decodeUint16LE(raw.A0)
	d0, d1 := decodeDigital(raw.D01)

	if d.haveCounter && raw.C != d.prevCounter+1 {
		if d.logger != nil {
			d.logger.Printf("p1150: ADC frame counter gap: got %d, want %d", raw.C, d.prevCounter+1)
		}
	}
	d.prevCounter = raw.C
	d.haveCounter = true

	switch {
	case raw.A > 32768:
		if d.logger != nil {
			d.logger.Printf("p1150: ADC aggregate diagnostic %d exceeds error threshold", raw.A)
		}
	case raw.A > 4096:
		if d.logger != nil {
			d.logger.Printf("p1150: ADC aggregate diagnostic %d exceeds warn threshold", raw.A)
		}
	}

	if d.filterEnabled {
		i = d.filter(i, &d.iCache, &d.iCacheInit)
		isnk = d.filter(isnk, &d.isnkCache, &d.isnkCacheInit)
	}

	pkt := ADCPacket{
		Counter:   raw.C,
		Aggregate: raw.A,
		I:         i,
		Isnk:      isnk,
		A0:        a0,
		D0:        d0,
		D1:        d1,
	}
	if d.OnPacket != nil {
		d.OnPacket(pkt)
	}
}

// filterWeights are the 3-tap weighted moving average coefficients.
// They sum to 1.0, so a constant input passes through unchanged.
var filterWeights = [3]float64{0.11, 0.78, 0.11}

// filter applies the 3-tap filter to x, prepending cache (the last two
// samples carried over from the previous packet) so the convolution is
// continuous across packet boundaries. cache and its seeded flag are
// updated in place for the next call; each channel owns its own cache
// and flag, so seeding one channel's cache never affects the other's.
func (d *adcDecoder) filter(x []float64, cache *[2]float64, seeded *bool) []float64 {
	if len(x) == 0 {
		return x
	}
	if !*seeded {
		cache[0] = x[0]
		if len(x) > 1 {
			cache[1] = x[1]
		} else {
			cache[1] = x[0]
		}
		*seeded = true
	}
	t := make([]float64, 0, len(cache)+len(x))
	t = append(t, cache[0], cache[1])
	t = append(t, x...)

	out := make([]float64, len(x))
	for k := range out {
		v := t[k]*filterWeights[0] + t[k+1]*filterWeights[1] + t[k+2]*filterWeights[2]
		out[k] = round6(v)
	}
	if len(x) >= 2 {
		cache[0], cache[1] = x[len(x)-2], x[len(x)-1]
	} else {
		cache[0], cache[1] = cache[1], x[0]
	}
	return out
}

func round6(v float64) float64 {
	const scale = 1e6
	return math.Round(v*scale) / scale
}

func decodeFloat32LE(raw []byte, scale float64) []float64 {
	n := len(raw) / 4
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		bits := binary.LittleEndian.Uint32(raw[k*4:])
		f := math.Float32frombits(bits)
		out[k] = round6(float64(f) * scale)
	}
	return out
}

func decodeUint16LE(raw []byte) []float64 {
	n := len(raw) / 2
	out := make([]float64, n)
	for k := 0; k < n; k++ {
		out[k] = float64(binary.LittleEndian.Uint16(raw[k*2:]))
	}
	return out
}

func decodeDigital(raw []byte) (d0, d1 []float64) {
	d0 = make([]float64, len(raw))
	d1 = make([]float64, len(raw))
	for k, b := range raw {
		d0[k] = float64(b&1)*D0VHigh + D0VLow
		d1[k] = float64((b>>1)&1)*D1VHigh + D1VLow
	}
	return d0, d1
}
