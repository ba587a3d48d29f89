package piolib

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// PIOFrequency is the state machine clock of the LED strip program in Hz.
	PIOFrequency = 57_500_000
	// CyclesPerMicrosecond is the number of PIO cycles in one microsecond.
	CyclesPerMicrosecond = PIOFrequency / 1e6
)

var (
	ErrUnknownChipset = errors.New("piolib: unknown chipset")
	ErrZeroTiming     = errors.New("piolib: timing must be at least one cycle")
	ErrBadTiming      = errors.New("piolib: invalid timing")
	ErrMissingUnit    = errors.New("piolib: timing must have a us suffix")
	ErrTimingTooLong  = errors.New("piolib: timing needs more than 3 filler instructions")
)

// TimingSet holds the PIO cycle counts of the high and low phase of a
// zero bit (T0H, T0L) and a one bit (T1H, T1L).
type TimingSet struct {
	T0H, T0L, T1H, T1L int
}

// Balanced reports whether zero and one bits take the same number of cycles.
func (ts TimingSet) Balanced() bool {
	return ts.T0H+ts.T0L == ts.T1H+ts.T1L
}

// Validate checks every phase can be planned.
func (ts TimingSet) Validate() error {
	for _, f := range ts.fields() {
		if _, err := PlanDelay(f.cycles); err != nil {
			return &TimingError{Field: f.name, Value: strconv.Itoa(f.cycles) + " cycles", Err: err}
		}
	}
	return nil
}

func (ts TimingSet) String() string {
	return fmt.Sprintf("T0H=%d T0L=%d T1H=%d T1L=%d", ts.T0H, ts.T0L, ts.T1H, ts.T1L)
}

type timingField struct {
	name   string
	cycles int
}

func (ts TimingSet) fields() [4]timingField {
	return [4]timingField{
		{"bit0_high", ts.T0H},
		{"bit0_low", ts.T0L},
		{"bit1_high", ts.T1H},
		{"bit1_low", ts.T1L},
	}
}

// TimingError reports which timing parameter was rejected.
type TimingError struct {
	Field string
	Value string
	Err   error
}

func (e *TimingError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Field, e.Value, e.Err)
}

func (e *TimingError) Unwrap() error { return e.Err }

// Chipset is a LED driver chip with known bit timings.
type Chipset uint8

const (
	ChipsetWS2812 Chipset = iota
	ChipsetWS2812B
	ChipsetSK6812
	ChipsetAPA106
	ChipsetSM16703
)

// Chipsets returns all known chipsets.
func Chipsets() []Chipset {
	return []Chipset{ChipsetWS2812, ChipsetWS2812B, ChipsetSK6812, ChipsetAPA106, ChipsetSM16703}
}

func (c Chipset) String() string {
	switch c {
	case ChipsetWS2812:
		return "WS2812"
	case ChipsetWS2812B:
		return "WS2812B"
	case ChipsetSK6812:
		return "SK6812"
	case ChipsetAPA106:
		return "APA106"
	case ChipsetSM16703:
		return "SM16703"
	}
	return "Chipset(" + strconv.Itoa(int(c)) + ")"
}

// Timing returns the preset cycle counts of the chipset at PIOFrequency.
func (c Chipset) Timing() TimingSet {
	switch c {
	case ChipsetWS2812:
		// 0.40/0.85us, 0.80/0.45us
		return TimingSet{T0H: 23, T0L: 49, T1H: 46, T1L: 26}
	case ChipsetWS2812B:
		return TimingSet{T0H: 23, T0L: 46, T1H: 46, T1L: 23}
	case ChipsetSK6812:
		// 0.30/0.90us, 0.54/0.54us
		return TimingSet{T0H: 17, T0L: 52, T1H: 31, T1L: 31}
	case ChipsetAPA106:
		return TimingSet{T0H: 20, T0L: 78, T1H: 78, T1L: 20}
	case ChipsetSM16703:
		return TimingSet{T0H: 17, T0L: 52, T1H: 52, T1L: 17}
	}
	panic("piolib: invalid chipset " + c.String())
}

// ParseChipset looks up a chipset by name, ignoring case.
func ParseChipset(name string) (Chipset, error) {
	for _, c := range Chipsets() {
		if strings.EqualFold(name, c.String()) {
			return c, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownChipset, name)
}

// ParseDuration parses a duration in microseconds such as "0.4us".
func ParseDuration(s string) (float64, error) {
	s = strings.TrimSpace(s)
	var num string
	switch {
	case strings.HasSuffix(s, "us"):
		num = strings.TrimSuffix(s, "us")
	case strings.HasSuffix(s, "µs"):
		num = strings.TrimSuffix(s, "µs")
	default:
		return 0, fmt.Errorf("%w: %q", ErrMissingUnit, s)
	}
	us, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadTiming, s)
	}
	if math.IsNaN(us) || math.IsInf(us, 0) || us < 0 {
		return 0, fmt.Errorf("%w: %q", ErrBadTiming, s)
	}
	return us, nil
}

// CyclesFromMicroseconds converts a duration to PIO cycles, rounding half
// away from zero. Durations that round to zero cycles are rejected.
func CyclesFromMicroseconds(us float64) (int, error) {
	if math.IsNaN(us) || math.IsInf(us, 0) || us < 0 {
		return 0, ErrBadTiming
	}
	cycles := math.Round(us * CyclesPerMicrosecond)
	if cycles == 0 {
		return 0, ErrZeroTiming
	}
	if cycles > math.MaxInt32 {
		return 0, ErrTimingTooLong
	}
	return int(cycles), nil
}

// ValidateTiming checks that a duration string converts to a cycle count
// PlanDelay accepts and returns that count. It has no side effects.
func ValidateTiming(s string) (int, error) {
	us, err := ParseDuration(s)
	if err != nil {
		return 0, err
	}
	cycles, err := CyclesFromMicroseconds(us)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", err, s)
	}
	if fillers := fillerCount(cycles); fillers > MaxFillers {
		return 0, fmt.Errorf("%w: %s is %d cycles, at most %d fit (%.3fus)",
			ErrTimingTooLong, s, cycles, MaxCycles, MaxCycles/CyclesPerMicrosecond)
	}
	return cycles, nil
}

// CustomTiming builds a TimingSet from four microsecond durations.
func CustomTiming(bit0High, bit0Low, bit1High, bit1Low string) (TimingSet, error) {
	var ts TimingSet
	for _, f := range []struct {
		name string
		s    string
		dst  *int
	}{
		{"bit0_high", bit0High, &ts.T0H},
		{"bit0_low", bit0Low, &ts.T0L},
		{"bit1_high", bit1High, &ts.T1H},
		{"bit1_low", bit1Low, &ts.T1L},
	} {
		cycles, err := ValidateTiming(f.s)
		if err != nil {
			return TimingSet{}, &TimingError{Field: f.name, Value: f.s, Err: err}
		}
		*f.dst = cycles
	}
	return ts, nil
}
