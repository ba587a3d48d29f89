package piolib

import (
	"errors"
	"fmt"
	"testing"
)

func TestChipsetTiming(t *testing.T) {
	for _, tc := range []struct {
		name string
		want TimingSet
	}{
		{"WS2812", TimingSet{23, 49, 46, 26}},
		{"ws2812b", TimingSet{23, 46, 46, 23}},
		{"SK6812", TimingSet{17, 52, 31, 31}},
		{"APA106", TimingSet{20, 78, 78, 20}},
		{"Sm16703", TimingSet{17, 52, 52, 17}},
	} {
		c, err := ParseChipset(tc.name)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if got := c.Timing(); got != tc.want {
			t.Errorf("%s: got %v, want %v", tc.name, got, tc.want)
		}
		if err := c.Timing().Validate(); err != nil {
			t.Errorf("%s: preset does not validate: %v", tc.name, err)
		}
	}
	if _, err := ParseChipset("WS2811"); !errors.Is(err, ErrUnknownChipset) {
		t.Errorf("unknown chipset: got %v", err)
	}
}

func TestChipsetBalanced(t *testing.T) {
	for _, c := range Chipsets() {
		if c == ChipsetSK6812 {
			// Datasheet values, 69 cycles for a zero and 62 for a one.
			if c.Timing().Balanced() {
				t.Error("SK6812 unexpectedly balanced")
			}
			continue
		}
		if !c.Timing().Balanced() {
			t.Errorf("%s not balanced: %v", c, c.Timing())
		}
	}
}

func TestCyclesFromMicroseconds(t *testing.T) {
	for _, tc := range []struct {
		s       string
		want    int
		wantErr error
	}{
		{"1.0us", 58, nil},
		{"0.4us", 23, nil},
		{"0.85us", 49, nil},
		{" 0.8 us ", 46, nil},
		{"0.8µs", 46, nil},
		{"2.2us", 127, nil},
		{"0us", 0, ErrZeroTiming},
		{"0.008us", 0, ErrZeroTiming},
		{"0.4", 0, ErrMissingUnit},
		{"400ns", 0, ErrMissingUnit},
		{"fastus", 0, ErrBadTiming},
		{"-1us", 0, ErrBadTiming},
		{"NaNus", 0, ErrBadTiming},
		{"2.3us", 0, ErrTimingTooLong},
	} {
		got, err := ValidateTiming(tc.s)
		if !errors.Is(err, tc.wantErr) {
			t.Errorf("ValidateTiming(%q) error %v, want %v", tc.s, err, tc.wantErr)
			continue
		}
		if got != tc.want {
			t.Errorf("ValidateTiming(%q) = %d, want %d", tc.s, got, tc.want)
		}
	}
}

func TestRoundingHalfAwayFromZero(t *testing.T) {
	// 57.5 cycles sits exactly between 57 and 58.
	if got, _ := CyclesFromMicroseconds(1); got != 58 {
		t.Errorf("1us = %d cycles, want 58", got)
	}
	// 172.5 would round to 172 under round-half-to-even.
	if got, _ := CyclesFromMicroseconds(3); got != 173 {
		t.Errorf("3us = %d cycles, want 173", got)
	}
}

func TestValidatorAgreesWithPlanner(t *testing.T) {
	for n := 1; n <= 200; n++ {
		s := fmt.Sprintf("%.6fus", float64(n)/CyclesPerMicrosecond)
		cycles, verr := ValidateTiming(s)
		_, perr := PlanDelay(n)
		if (verr == nil) != (perr == nil) {
			t.Fatalf("n=%d: validator error %v, planner error %v", n, verr, perr)
		}
		if verr == nil && cycles != n {
			t.Fatalf("n=%d: %s converted to %d cycles", n, s, cycles)
		}
		if (verr == nil) != (n <= MaxCycles) {
			t.Fatalf("n=%d: accepted=%v", n, verr == nil)
		}
	}
}

func TestCustomTiming(t *testing.T) {
	ts, err := CustomTiming("0.4us", "0.85us", "0.8us", "0.45us")
	if err != nil {
		t.Fatal(err)
	}
	if ts != ChipsetWS2812.Timing() {
		t.Errorf("got %v, want WS2812 preset %v", ts, ChipsetWS2812.Timing())
	}

	_, err = CustomTiming("0.4us", "0.85us", "3us", "0.45us")
	var terr *TimingError
	if !errors.As(err, &terr) {
		t.Fatalf("got %v, want *TimingError", err)
	}
	if terr.Field != "bit1_high" || terr.Value != "3us" || !errors.Is(err, ErrTimingTooLong) {
		t.Errorf("unexpected error %#v", terr)
	}
}

func TestTimingSetValidate(t *testing.T) {
	for _, tc := range []struct {
		ts    TimingSet
		field string
	}{
		{TimingSet{0, 1, 1, 1}, "bit0_high"},
		{TimingSet{1, 129, 1, 1}, "bit0_low"},
		{TimingSet{1, 1, -3, 1}, "bit1_high"},
		{TimingSet{1, 1, 1, 200}, "bit1_low"},
	} {
		err := tc.ts.Validate()
		var terr *TimingError
		if !errors.As(err, &terr) || terr.Field != tc.field {
			t.Errorf("%v: got %v, want error on %s", tc.ts, err, tc.field)
		}
	}
}
