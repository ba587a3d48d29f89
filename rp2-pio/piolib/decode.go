package piolib

import (
	pio "github.com/tinygo-org/pioledstrip/rp2-pio"
)

// Pulse is one high phase on the data line and the low phase following it.
type Pulse struct {
	// Start is the cycle of the rising edge.
	Start uint64
	High  int
	// Low is zero for the last pulse of a trace.
	Low int
}

// MeasurePulses converts the edges of a single pin into pulses.
func MeasurePulses(edges []pio.Edge) []Pulse {
	var pulses []Pulse
	var fall uint64
	open := false
	for _, e := range edges {
		if e.Level {
			if n := len(pulses); n > 0 && !open {
				pulses[n-1].Low = int(e.Cycle - fall)
			}
			pulses = append(pulses, Pulse{Start: e.Cycle})
			open = true
			continue
		}
		if open {
			pulses[len(pulses)-1].High = int(e.Cycle - pulses[len(pulses)-1].Start)
			fall = e.Cycle
			open = false
		}
	}
	if open {
		// Trace ended while high.
		pulses = pulses[:len(pulses)-1]
	}
	return pulses
}

// DecodeBits classifies each pulse as a zero or one bit by comparing its
// high time against the midpoint of T0H and T1H.
func DecodeBits(pulses []Pulse, ts TimingSet) []bool {
	threshold := (ts.T0H + ts.T1H) / 2
	long := ts.T1H > ts.T0H
	bits := make([]bool, len(pulses))
	for i, p := range pulses {
		bits[i] = (p.High > threshold) == long
	}
	return bits
}

// DecodeWords groups decoded bits into pixel words laid out like RGBOrder.Pack.
// Trailing bits that do not fill a pixel are dropped.
func DecodeWords(bits []bool, mode PixelMode) []uint32 {
	n := mode.BitCount()
	words := make([]uint32, 0, len(bits)/n)
	for len(bits) >= n {
		var w uint32
		for _, b := range bits[:n] {
			w <<= 1
			if b {
				w |= 1
			}
		}
		words = append(words, w<<(32-n))
		bits = bits[n:]
	}
	return words
}
