package piolib

import (
	"errors"
	"image/color"
	"strings"
	"testing"

	pio "github.com/tinygo-org/pioledstrip/rp2-pio"
)

func TestGenerateBitCounter(t *testing.T) {
	for _, tc := range []struct {
		mode PixelMode
		want string
	}{
		{PixelModeRGB, "set y, 23"},
		{PixelModeRGBW, "set y, 31"},
	} {
		text, err := Generate(0, ChipsetWS2812.Timing(), tc.mode, DefaultClock)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(text.Source, tc.want) {
			t.Errorf("%v: source lacks %q:\n%s", tc.mode, tc.want, text.Source)
		}
		shift := "sm_config_set_out_shift(&c, false, false, " + map[PixelMode]string{PixelModeRGB: "24", PixelModeRGBW: "32"}[tc.mode]
		if !strings.Contains(text.Source, shift) {
			t.Errorf("%v: source lacks %q", tc.mode, shift)
		}
	}
}

func TestGenerateSource(t *testing.T) {
	text, err := Generate(1, ChipsetWS2812.Timing(), PixelModeRGB, DefaultClock)
	if err != nil {
		t.Fatal(err)
	}
	if text.Name != "rp2040_pio_led_strip_driver_1" || text.Engine != 1 {
		t.Errorf("name %q engine %d", text.Name, text.Engine)
	}
	for _, want := range []string{
		".program rp2040_pio_led_strip_driver_1",
		"writeone:\n    set pins, 1 [31]\n    nop [13]\n    set pins, 0 [25]\n    jmp y--, mainloop\n    jmp awaiting_data\n",
		"writezero:\n    set pins, 1 [22]\n    set pins, 0 [31]\n    nop [16]\n    jmp y--, mainloop\n.wrap\n",
		"static inline void rp2040_pio_led_strip_driver_1_program_init(PIO pio, uint sm, uint offset, uint pin) {",
		"sm_config_set_clkdiv_int_frac(&c, 2, 80);",
		"sm_config_set_fifo_join(&c, PIO_FIFO_JOIN_TX);",
	} {
		if !strings.Contains(text.Source, want) {
			t.Errorf("source lacks %q:\n%s", want, text.Source)
		}
	}
	prog, err := text.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Instructions) != text.Instructions {
		t.Errorf("assembled %d instructions, generator counted %d", len(prog.Instructions), text.Instructions)
	}
}

func TestGenerateErrors(t *testing.T) {
	if _, err := Generate(2, ChipsetWS2812.Timing(), PixelModeRGB, DefaultClock); !errors.Is(err, ErrBadEngine) {
		t.Errorf("engine 2: got %v", err)
	}
	if _, err := Generate(0, TimingSet{23, 0, 46, 26}, PixelModeRGB, DefaultClock); !errors.Is(err, ErrZeroTiming) {
		t.Errorf("zero T0L: got %v", err)
	}
	if _, err := Generate(0, TimingSet{23, 49, 129, 26}, PixelModeRGB, DefaultClock); !errors.Is(err, ErrTimingTooLong) {
		t.Errorf("129 cycle T1H: got %v", err)
	}
	if _, err := Generate(0, ChipsetWS2812.Timing(), PixelModeRGB, 1_000_000); err == nil {
		t.Error("system clock below PIO clock accepted")
	}
}

func TestGenerateLongestProgramFits(t *testing.T) {
	text, err := Generate(0, TimingSet{MaxCycles, MaxCycles, MaxCycles, MaxCycles}, PixelModeRGBW, DefaultClock)
	if err != nil {
		t.Fatal(err)
	}
	prog, err := text.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	if len(prog.Instructions) > pio.InstructionMemorySize {
		t.Errorf("%d instructions", len(prog.Instructions))
	}
}

const testPin = 2

// emulate runs the program generated for ts on an emulated PIO and
// returns the pulses seen on the data pin after displaying pixels.
func emulate(t *testing.T, ts TimingSet, mode PixelMode, order RGBOrder, pixels []color.RGBA, white []uint8) []Pulse {
	t.Helper()
	text, err := Generate(0, ts, mode, DefaultClock)
	if err != nil {
		t.Fatal(err)
	}
	prog, err := text.Assemble()
	if err != nil {
		t.Fatal(err)
	}
	block := pio.NewPIO(0)
	sm, err := block.ClaimStateMachine()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Load(sm, prog, testPin, mode, DefaultClock); err != nil {
		t.Fatal(err)
	}
	strip := NewStrip(sm, len(pixels), order, mode)
	strip.SetWait(block.Tick)
	for i, c := range pixels {
		strip.SetPixel(int16(i), 0, c)
		if white != nil {
			strip.SetWhite(int16(i), white[i])
		}
	}
	if err := strip.Display(); err != nil {
		t.Fatal(err)
	}
	if _, err := sm.RunUntilStall(1 << 20); err != nil {
		t.Fatal(err)
	}
	if !sm.IsStalled() {
		t.Fatal("state machine did not drain the FIFO")
	}
	return MeasurePulses(block.PinEdges(testPin))
}

func TestWaveformTiming(t *testing.T) {
	pixels := []color.RGBA{
		{R: 0xff, G: 0x00, B: 0xa5},
		{R: 0x12, G: 0x34, B: 0x56},
		{R: 0x00, G: 0xff, B: 0x0f},
	}
	for _, c := range Chipsets() {
		t.Run(c.String(), func(t *testing.T) {
			ts := c.Timing()
			pulses := emulate(t, ts, PixelModeRGB, OrderGRB, pixels, nil)
			const bits = 24
			if len(pulses) != bits*len(pixels) {
				t.Fatalf("got %d pulses, want %d", len(pulses), bits*len(pixels))
			}
			decoded := DecodeBits(pulses, ts)
			for i, p := range pulses {
				wantHigh, wantLow := ts.T0H, ts.T0L
				if decoded[i] {
					wantHigh, wantLow = ts.T1H, ts.T1L
				}
				if p.High != wantHigh {
					t.Errorf("pulse %d high %d cycles, want %d", i, p.High, wantHigh)
				}
				switch {
				case i == len(pulses)-1:
				case i%bits == bits-1:
					// Pulling the next pixel adds a few cycles between words.
					if p.Low < wantLow+3 || p.Low > wantLow+6 {
						t.Errorf("pulse %d low %d cycles between pixels, want %d..%d", i, p.Low, wantLow+3, wantLow+6)
					}
				default:
					if p.Low != wantLow+3 {
						t.Errorf("pulse %d low %d cycles, want %d", i, p.Low, wantLow+3)
					}
				}
			}
			words := DecodeWords(decoded, PixelModeRGB)
			for i, px := range pixels {
				want := OrderGRB.Pack(px.R, px.G, px.B, 0, PixelModeRGB)
				if words[i] != want {
					t.Errorf("pixel %d decoded %#08x, want %#08x", i, words[i], want)
				}
			}
		})
	}
}

func TestWaveformBalancedPeriod(t *testing.T) {
	pixels := []color.RGBA{{R: 0xf0, G: 0x0f, B: 0x55}}
	for _, c := range Chipsets() {
		ts := c.Timing()
		if !ts.Balanced() {
			continue
		}
		pulses := emulate(t, ts, PixelModeRGB, OrderRGB, pixels, nil)
		want := ts.T0H + ts.T0L + 3
		for i, p := range pulses[:len(pulses)-1] {
			if p.High+p.Low != want {
				t.Errorf("%s: bit %d period %d, want %d", c, i, p.High+p.Low, want)
			}
		}
	}
}

func TestWaveformRGBW(t *testing.T) {
	ts := ChipsetSK6812.Timing()
	pixels := []color.RGBA{{R: 1, G: 2, B: 3}, {R: 0x80, G: 0x40, B: 0x20}}
	white := []uint8{0xaa, 0x01}
	pulses := emulate(t, ts, PixelModeRGBW, OrderGRB, pixels, white)
	if len(pulses) != 32*len(pixels) {
		t.Fatalf("got %d pulses, want %d", len(pulses), 32*len(pixels))
	}
	words := DecodeWords(DecodeBits(pulses, ts), PixelModeRGBW)
	for i, px := range pixels {
		want := OrderGRB.Pack(px.R, px.G, px.B, white[i], PixelModeRGBW)
		if words[i] != want {
			t.Errorf("pixel %d decoded %#08x, want %#08x", i, words[i], want)
		}
	}
}

func TestWaveformCustomTiming(t *testing.T) {
	// Phases long enough to need every filler.
	ts, err := CustomTiming("2.2us", "0.1us", "1.0us", "1.3us")
	if err != nil {
		t.Fatal(err)
	}
	pulses := emulate(t, ts, PixelModeRGB, OrderRGB, []color.RGBA{{R: 0x5a}}, nil)
	for i, bit := range DecodeBits(pulses, ts) {
		want := ts.T0H
		if bit {
			want = ts.T1H
		}
		if pulses[i].High != want {
			t.Errorf("bit %d high %d, want %d", i, pulses[i].High, want)
		}
	}
}

func TestClockPIOClock(t *testing.T) {
	hz, err := DefaultClock.PIOClock()
	if err != nil {
		t.Fatal(err)
	}
	// 133 MHz / (2 + 80/256)
	if want := 256 * 133e6 / 592; hz != want {
		t.Errorf("got %f Hz, want %f", hz, want)
	}
	if d := hz - PIOFrequency; d < 0 || d > 20_000 {
		t.Errorf("%f Hz is %f Hz off the nominal PIO frequency", hz, d)
	}
	if _, err := Clock(1_000_000).PIOClock(); err == nil {
		t.Error("1 MHz system clock accepted")
	}
}
