package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinygo-org/pioledstrip/internal/build"
	"github.com/tinygo-org/pioledstrip/rp2-pio/piolib"
)

func TestParseColors(t *testing.T) {
	pixels, white, err := parseColors("ff8000, #01020304")
	if err != nil {
		t.Fatal(err)
	}
	if len(pixels) != 2 || pixels[0].R != 0xff || pixels[0].G != 0x80 || pixels[1].B != 3 {
		t.Errorf("pixels %v", pixels)
	}
	if white[0] != 0 || white[1] != 4 {
		t.Errorf("white %v", white)
	}
	for _, bad := range []string{"", "ff80", "gg0000", "ff8000,"} {
		if _, _, err := parseColors(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}

func TestTimingFlags(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want piolib.TimingSet
		ok   bool
	}{
		{[]string{"-chipset", "ws2812b"}, piolib.ChipsetWS2812B.Timing(), true},
		{[]string{"-t0h", "0.4us", "-t0l", "0.8us", "-t1h", "0.8us", "-t1l", "0.4us"}, piolib.TimingSet{T0H: 23, T0L: 46, T1H: 46, T1L: 23}, true},
		{[]string{"-chipset", "WS2812", "-t0h", "0.4us"}, piolib.TimingSet{}, false},
		{[]string{"-t0h", "0.4us"}, piolib.TimingSet{}, false},
		{nil, piolib.TimingSet{}, false},
	} {
		flags := flag.NewFlagSet("test", flag.ContinueOnError)
		tf := newTimingFlags(flags)
		if err := flags.Parse(tc.args); err != nil {
			t.Fatal(err)
		}
		ts, err := tf.timing()
		if (err == nil) != tc.ok {
			t.Errorf("%v: error %v", tc.args, err)
			continue
		}
		if ts != tc.want {
			t.Errorf("%v: got %v, want %v", tc.args, ts, tc.want)
		}
	}
}

func TestCompileExampleConfig(t *testing.T) {
	out := t.TempDir()
	*compileConfig = filepath.Join("testdata", "strip.yaml")
	*outDir = out
	if err := compile(context.Background()); err != nil {
		t.Fatal(err)
	}
	for _, engine := range []piolib.Engine{0, 1} {
		bc := build.Context{OutputDir: out, Engine: engine}
		for _, path := range []string{bc.SourcePath(), bc.OutputPath(build.FormatCSDK)} {
			if _, err := os.Stat(path); err != nil {
				t.Error(err)
			}
		}
	}
	m, err := build.LoadManifest(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Programs) != 2 {
		t.Errorf("manifest has %d programs", len(m.Programs))
	}
}

const goodStrip = `
strips:
  - id: good
    pin: 2
    num_leds: 8
    rgb_order: GRB
    pio: 0
    chipset: WS2812
`

const slowStrip = `
  - id: slow
    pin: 3
    num_leds: 8
    rgb_order: GRB
    pio: 1
    bit0_high: 0.4us
    bit0_low: 0.85us
    bit1_high: 3us
    bit1_low: 0.45us
`

func TestCompileRejectsBeforeWriting(t *testing.T) {
	t.Cleanup(func() { *format = "" })
	dir := t.TempDir()
	for _, tc := range []struct {
		name   string
		config string
		format string
	}{
		{"timing", goodStrip + slowStrip, ""},
		{"format", goodStrip, "bogus"},
	} {
		path := filepath.Join(dir, tc.name+".yaml")
		if err := os.WriteFile(path, []byte(tc.config), 0o644); err != nil {
			t.Fatal(err)
		}
		out := filepath.Join(dir, tc.name+"-out")
		*compileConfig, *outDir, *format = path, out, tc.format
		if err := compile(context.Background()); err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
		if _, err := os.Stat(out); !errors.Is(err, fs.ErrNotExist) {
			t.Errorf("%s: output directory touched: %v", tc.name, err)
		}
	}
}

func TestCheck(t *testing.T) {
	for _, tc := range []struct {
		config string
		want   []string
		ok     bool
	}{
		{goodStrip, []string{"pio clock 57513514 Hz", "good: pio 0 pin 2 8 leds RGB T0H=23 T0L=49 T1H=46 T1L=26"}, true},
		{goodStrip + slowStrip, nil, false},
	} {
		path := filepath.Join(t.TempDir(), "strip.yaml")
		if err := os.WriteFile(path, []byte(tc.config), 0o644); err != nil {
			t.Fatal(err)
		}
		*checkConfig = path
		var out bytes.Buffer
		err := check(&out)
		if (err == nil) != tc.ok {
			t.Errorf("error %v", err)
			continue
		}
		for _, want := range tc.want {
			if !strings.Contains(out.String(), want) {
				t.Errorf("output lacks %q:\n%s", want, out.String())
			}
		}
	}
}

func TestPlan(t *testing.T) {
	for _, tc := range []struct {
		args []string
		want []string
		ok   bool
	}{
		{[]string{"-chipset", "WS2812"}, []string{"bit0_high  23 cycles", "balanced: true"}, true},
		{[]string{"-chipset", "SK6812"}, []string{"bit1_low   31 cycles", "balanced: false"}, true},
		{[]string{"-t0h", "0.4us", "-t0l", "0.85us", "-t1h", "3us", "-t1l", "0.45us"}, nil, false},
	} {
		flags := flag.NewFlagSet("plan", flag.ContinueOnError)
		planTiming = newTimingFlags(flags)
		if err := flags.Parse(tc.args); err != nil {
			t.Fatal(err)
		}
		var out bytes.Buffer
		err := plan(&out)
		if (err == nil) != tc.ok {
			t.Errorf("%v: error %v", tc.args, err)
			continue
		}
		for _, want := range tc.want {
			if !strings.Contains(out.String(), want) {
				t.Errorf("%v: output lacks %q:\n%s", tc.args, want, out.String())
			}
		}
	}
}

func TestSimulate(t *testing.T) {
	t.Cleanup(func() { *simRGBW, *simOrder, *simColors = false, "GRB", "ff8000" })
	for _, tc := range []struct {
		chipset string
		rgbw    bool
		order   string
		colors  string
		want    []string
		ok      bool
	}{
		{"WS2812", false, "GRB", "ff8000", []string{"pixel 0: 80ff0000"}, true},
		{"SK6812", true, "GRB", "ff800040,000001", []string{"pixel 0: 80ff0040", "pixel 1: 00000100"}, true},
		{"WS2812", false, "GRB", "ff80", nil, false},
		{"WS2812", false, "XYZ", "ff8000", nil, false},
	} {
		flags := flag.NewFlagSet("simulate", flag.ContinueOnError)
		simTiming = newTimingFlags(flags)
		if err := flags.Parse([]string{"-chipset", tc.chipset}); err != nil {
			t.Fatal(err)
		}
		*simRGBW, *simOrder, *simColors = tc.rgbw, tc.order, tc.colors
		var out bytes.Buffer
		err := simulate(&out)
		if (err == nil) != tc.ok {
			t.Errorf("%s %s: error %v", tc.chipset, tc.colors, err)
			continue
		}
		for _, want := range tc.want {
			if !strings.Contains(out.String(), want) {
				t.Errorf("%s %s: output lacks %q:\n%s", tc.chipset, tc.colors, want, out.String())
			}
		}
	}
}
