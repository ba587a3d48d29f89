// Command pioledgen generates RP2040 PIO programs that drive addressable LED
// strips with chipset specific bit timings.
//
// Subcommand compile writes and assembles one program per configured strip,
// check validates a configuration, plan prints how each timing is split into
// instruction delays and simulate runs a program on the PIO emulator.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"image/color"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/tinygo-org/pioledstrip/internal/build"
	"github.com/tinygo-org/pioledstrip/internal/config"
	pio "github.com/tinygo-org/pioledstrip/rp2-pio"
	"github.com/tinygo-org/pioledstrip/rp2-pio/piolib"
)

var (
	compileCmd  = flag.NewFlagSet("compile", flag.ExitOnError)
	checkCmd    = flag.NewFlagSet("check", flag.ExitOnError)
	planCmd     = flag.NewFlagSet("plan", flag.ExitOnError)
	simulateCmd = flag.NewFlagSet("simulate", flag.ExitOnError)

	compileConfig = compileCmd.String("config", "strip.yaml", "configuration file")
	outDir        = compileCmd.String("out", "", "output directory (overrides output_dir)")
	pioasmCmd     = compileCmd.String("pioasm", "", "external pioasm command line (overrides pioasm)")
	format        = compileCmd.String("format", "", "built-in assembler output, 'c-sdk' or 'go' (overrides format)")
	pkgName       = compileCmd.String("pkg", build.DefaultPackage, "package name of go output")
	verbose       = compileCmd.Bool("v", false, "log delay plans and skipped programs")

	checkConfig = checkCmd.String("config", "strip.yaml", "configuration file")

	planTiming = newTimingFlags(planCmd)

	simTiming = newTimingFlags(simulateCmd)
	simRGBW   = simulateCmd.Bool("rgbw", false, "32 bit pixels with a white channel")
	simOrder  = simulateCmd.String("order", "GRB", "channel order")
	simColors = simulateCmd.String("color", "ff8000", "comma separated pixels, RRGGBB or RRGGBBWW")
)

func main() {
	if len(os.Args) <= 1 {
		fmt.Fprintf(os.Stderr, "pioledgen: specify 'compile', 'check', 'plan' or 'simulate' command\n")
		os.Exit(2)
	}
	args := os.Args[2:]
	var err error
	switch cmd := os.Args[1]; cmd {
	case "compile":
		if err := compileCmd.Parse(args); err != nil {
			compileCmd.Usage()
		}
		err = compile(context.Background())
	case "check":
		if err := checkCmd.Parse(args); err != nil {
			checkCmd.Usage()
		}
		err = check(os.Stdout)
	case "plan":
		if err := planCmd.Parse(args); err != nil {
			planCmd.Usage()
		}
		err = plan(os.Stdout)
	case "simulate":
		if err := simulateCmd.Parse(args); err != nil {
			simulateCmd.Usage()
		}
		err = simulate(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "pioledgen: unknown command: %q\n", cmd)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pioledgen: %v\n", err)
		os.Exit(1)
	}
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// compile generates and assembles the program of every configured strip.
func compile(ctx context.Context) error {
	log, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load(*compileConfig)
	if err != nil {
		return err
	}
	if *outDir != "" {
		cfg.OutputDir = *outDir
	}
	if *pioasmCmd != "" {
		cfg.Pioasm = *pioasmCmd
	}
	if *format != "" {
		cfg.Format = *format
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	var asm build.Assembler = build.BuiltinAssembler{OutputFormat: cfg.Format, Package: *pkgName}
	if cfg.Pioasm != "" {
		asm = build.ExternalAssembler{Command: cfg.Pioasm, OutputFormat: cfg.Format}
	}
	// Generate everything before touching the output directory.
	texts := make([]piolib.ProgramText, len(cfg.Strips))
	for i := range cfg.Strips {
		s := &cfg.Strips[i]
		ts, err := s.Timing()
		if err != nil {
			return fmt.Errorf("%s: %w", s.ID, err)
		}
		sl := log.With(zap.String("strip", s.ID))
		if !ts.Balanced() {
			sl.Warn("zero and one bits differ in length", zap.Stringer("timing", ts))
		}
		for _, ph := range phases(ts) {
			if p, err := piolib.PlanDelay(ph.cycles); err == nil {
				sl.Debug("delay plan", zap.String("phase", ph.name), zap.Int("cycles", ph.cycles), zap.Stringer("delays", p))
			}
		}
		texts[i], err = piolib.Generate(s.Engine(), ts, s.Mode(), piolib.Clock(cfg.SystemClockHz))
		if err != nil {
			return fmt.Errorf("%s: %w", s.ID, err)
		}
	}
	for i, text := range texts {
		s := &cfg.Strips[i]
		bc := build.Context{OutputDir: cfg.OutputDir, Engine: s.Engine()}
		sl := log.With(zap.String("strip", s.ID))
		art, err := build.Compile(ctx, bc, text, asm, sl)
		if err != nil {
			return fmt.Errorf("%s: %w", s.ID, err)
		}
		if art.Skipped {
			sl.Debug("unchanged", zap.String("output", art.Output))
		}
	}
	return nil
}

// check validates a configuration and prints the resulting cycle counts.
func check(w io.Writer) error {
	cfg, err := config.Load(*checkConfig)
	if err != nil {
		return err
	}
	hz, err := piolib.Clock(cfg.SystemClockHz).PIOClock()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "system clock %d Hz, pio clock %.0f Hz\n", cfg.SystemClockHz, hz)
	for i := range cfg.Strips {
		s := &cfg.Strips[i]
		ts, err := s.Timing()
		if err != nil {
			return err
		}
		text, err := piolib.Generate(s.Engine(), ts, s.Mode(), piolib.Clock(cfg.SystemClockHz))
		if err != nil {
			return fmt.Errorf("%s: %w", s.ID, err)
		}
		fmt.Fprintf(w, "%s: pio %d pin %d %d leds %s %s, %d instructions\n",
			s.ID, s.PIO, s.Pin, s.NumLEDs, s.Mode(), ts, text.Instructions)
		if !ts.Balanced() {
			fmt.Fprintf(w, "%s: warning: zero bits take %d cycles, one bits %d\n", s.ID, ts.T0H+ts.T0L, ts.T1H+ts.T1L)
		}
	}
	return nil
}

// plan prints the delay decomposition of each phase.
func plan(w io.Writer) error {
	ts, err := planTiming.timing()
	if err != nil {
		return err
	}
	for _, ph := range phases(ts) {
		p, err := piolib.PlanDelay(ph.cycles)
		if err != nil {
			return fmt.Errorf("%s: %w", ph.name, err)
		}
		fmt.Fprintf(w, "%-9s %3d cycles %6.3fus %v\n", ph.name, ph.cycles, float64(ph.cycles)/piolib.CyclesPerMicrosecond, p)
	}
	text, err := piolib.Generate(0, ts, piolib.PixelModeRGB, piolib.DefaultClock)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%d instructions, balanced: %t\n", text.Instructions, ts.Balanced())
	return nil
}

// simulate runs the program on an emulated PIO block and prints the
// measured pulses and the words they decode to.
func simulate(w io.Writer) error {
	ts, err := simTiming.timing()
	if err != nil {
		return err
	}
	mode := piolib.PixelModeRGB
	if *simRGBW {
		mode = piolib.PixelModeRGBW
	}
	order, err := piolib.ParseRGBOrder(*simOrder)
	if err != nil {
		return err
	}
	pixels, white, err := parseColors(*simColors)
	if err != nil {
		return err
	}
	text, err := piolib.Generate(0, ts, mode, piolib.DefaultClock)
	if err != nil {
		return err
	}
	prog, err := text.Assemble()
	if err != nil {
		return err
	}
	block := pio.NewPIO(0)
	sm, err := block.ClaimStateMachine()
	if err != nil {
		return err
	}
	const pin = 0
	if _, err := piolib.Load(sm, prog, pin, mode, piolib.DefaultClock); err != nil {
		return err
	}
	strip := piolib.NewStrip(sm, len(pixels), order, mode)
	strip.SetWait(block.Tick)
	for i, c := range pixels {
		strip.SetPixel(int16(i), 0, c)
		strip.SetWhite(int16(i), white[i])
	}
	if err := strip.Display(); err != nil {
		return err
	}
	if _, err := sm.RunUntilStall(1 << 24); err != nil {
		return err
	}
	pulses := piolib.MeasurePulses(block.PinEdges(pin))
	for i, p := range pulses {
		fmt.Fprintf(w, "%4d @%-7d high %3d low %3d\n", i, p.Start, p.High, p.Low)
	}
	for i, word := range piolib.DecodeWords(piolib.DecodeBits(pulses, ts), mode) {
		fmt.Fprintf(w, "pixel %d: %08x\n", i, word)
	}
	return nil
}

func parseColors(s string) ([]color.RGBA, []uint8, error) {
	var pixels []color.RGBA
	var white []uint8
	for _, f := range strings.Split(s, ",") {
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(f), "#"))
		if err != nil || (len(b) != 3 && len(b) != 4) {
			return nil, nil, fmt.Errorf("color %q: want RRGGBB or RRGGBBWW", f)
		}
		pixels = append(pixels, color.RGBA{R: b[0], G: b[1], B: b[2], A: 0xff})
		var w uint8
		if len(b) == 4 {
			w = b[3]
		}
		white = append(white, w)
	}
	return pixels, white, nil
}

type phase struct {
	name   string
	cycles int
}

func phases(ts piolib.TimingSet) []phase {
	return []phase{{"bit0_high", ts.T0H}, {"bit0_low", ts.T0L}, {"bit1_high", ts.T1H}, {"bit1_low", ts.T1L}}
}

type timingFlags struct {
	chipset            *string
	t0h, t0l, t1h, t1l *string
}

func newTimingFlags(fs *flag.FlagSet) *timingFlags {
	return &timingFlags{
		chipset: fs.String("chipset", "", "chipset preset ("+chipsetNames()+")"),
		t0h:     fs.String("t0h", "", "high time of a zero bit, e.g. 0.4us"),
		t0l:     fs.String("t0l", "", "low time of a zero bit"),
		t1h:     fs.String("t1h", "", "high time of a one bit"),
		t1l:     fs.String("t1l", "", "low time of a one bit"),
	}
}

func (f *timingFlags) timing() (piolib.TimingSet, error) {
	custom := *f.t0h != "" || *f.t0l != "" || *f.t1h != "" || *f.t1l != ""
	switch {
	case *f.chipset != "" && custom:
		return piolib.TimingSet{}, errors.New("specify -chipset or custom timings, not both")
	case *f.chipset != "":
		c, err := piolib.ParseChipset(*f.chipset)
		if err != nil {
			return piolib.TimingSet{}, err
		}
		return c.Timing(), nil
	case !custom:
		return piolib.TimingSet{}, errors.New("specify -chipset or -t0h, -t0l, -t1h and -t1l")
	}
	return piolib.CustomTiming(*f.t0h, *f.t0l, *f.t1h, *f.t1l)
}

func chipsetNames() string {
	var names []string
	for _, c := range piolib.Chipsets() {
		names = append(names, c.String())
	}
	return strings.Join(names, ", ")
}
