package piolib

import (
	"errors"
	"fmt"
	"strings"

	pio "github.com/tinygo-org/pioledstrip/rp2-pio"
)

var (
	ErrProgramTooLarge = errors.New("piolib: LED strip program does not fit in instruction memory")
	ErrBadEngine       = errors.New("piolib: PIO engine must be 0 or 1")
)

// Engine selects the PIO block a program is generated for.
type Engine uint8

// Valid reports whether the engine names a PIO block of the RP2040.
func (e Engine) Valid() bool { return e < pio.NumPIO }

// PixelMode selects 3 or 4 color channels per pixel.
type PixelMode uint8

const (
	PixelModeRGB PixelMode = iota
	PixelModeRGBW
)

// BitCount returns the number of bits sent per pixel.
func (m PixelMode) BitCount() int {
	if m == PixelModeRGBW {
		return 32
	}
	return 24
}

func (m PixelMode) String() string {
	if m == PixelModeRGBW {
		return "RGBW"
	}
	return "RGB"
}

// Clock is the RP2040 system clock frequency in Hz.
type Clock uint32

// DefaultClock is the RP2040 system clock after boot.
const DefaultClock Clock = 133_000_000

// ClkDiv returns the state machine clock divider that runs the program at PIOFrequency.
func (c Clock) ClkDiv() (whole uint16, frac uint8, err error) {
	return pio.ClkDivFromFrequency(PIOFrequency, uint32(c))
}

// PIOClock returns the state machine frequency in Hz the divider of
// ClkDiv actually achieves.
func (c Clock) PIOClock() (float64, error) {
	whole, frac, err := c.ClkDiv()
	if err != nil {
		return 0, err
	}
	return pio.ClkDivFrequency(whole, frac, uint32(c)), nil
}

// ProgramText is the pioasm source of a LED strip driver program.
type ProgramText struct {
	Engine Engine
	Name   string
	Source string
	// Instructions is the number of instructions the program assembles to.
	Instructions int
}

// ProgramName returns the name of the program generated for engine.
func ProgramName(engine Engine) string {
	return fmt.Sprintf("rp2040_pio_led_strip_driver_%d", engine)
}

// Generate returns the pioasm source of a program that shifts out pixels
// with the given timings. Each word pulled from the TX FIFO carries one
// pixel, MSB first. The high phase of a bit lasts exactly T0H or T1H
// cycles. The low phase lasts T0L or T1L cycles plus the 3 cycles spent
// counting and dispatching the next bit.
func Generate(engine Engine, ts TimingSet, mode PixelMode, clk Clock) (ProgramText, error) {
	if !engine.Valid() {
		return ProgramText{}, fmt.Errorf("%w: %d", ErrBadEngine, engine)
	}
	var plans [4]DelayPlan
	for i, f := range ts.fields() {
		p, err := PlanDelay(f.cycles)
		if err != nil {
			return ProgramText{}, &TimingError{Field: f.name, Value: fmt.Sprintf("%d cycles", f.cycles), Err: err}
		}
		plans[i] = p
	}
	t0h, t0l, t1h, t1l := plans[0], plans[1], plans[2], plans[3]
	whole, frac, err := clk.ClkDiv()
	if err != nil {
		return ProgramText{}, err
	}
	// pull, set, out, jmp, both branches with their jumps back.
	n := 4 + (t1h.Len() + t1l.Len() + 2) + (t0h.Len() + t0l.Len() + 1)
	if n > pio.InstructionMemorySize {
		return ProgramText{}, fmt.Errorf("%w: %d instructions", ErrProgramTooLarge, n)
	}

	name := ProgramName(engine)
	var b strings.Builder
	fmt.Fprintf(&b, "; %s at %d Hz, %s\n", ts, PIOFrequency, mode)
	fmt.Fprintf(&b, ".program %s\n\n", name)
	b.WriteString(".wrap_target\n")
	b.WriteString("awaiting_data:\n")
	b.WriteString("    pull block\n")
	fmt.Fprintf(&b, "    set y, %d\n", mode.BitCount()-1)
	b.WriteString("mainloop:\n")
	b.WriteString("    out x, 1\n")
	b.WriteString("    jmp !x, writezero\n")
	b.WriteString("writeone:\n")
	writePhase(&b, 1, t1h)
	writePhase(&b, 0, t1l)
	b.WriteString("    jmp y--, mainloop\n")
	b.WriteString("    jmp awaiting_data\n")
	b.WriteString("writezero:\n")
	writePhase(&b, 1, t0h)
	writePhase(&b, 0, t0l)
	b.WriteString("    jmp y--, mainloop\n")
	b.WriteString(".wrap\n\n")

	b.WriteString("% c-sdk {\n")
	b.WriteString("#include \"hardware/clocks.h\"\n\n")
	fmt.Fprintf(&b, "static inline void %s_program_init(PIO pio, uint sm, uint offset, uint pin) {\n", name)
	b.WriteString("    pio_gpio_init(pio, pin);\n")
	b.WriteString("    pio_sm_set_consecutive_pindirs(pio, sm, pin, 1, true);\n\n")
	fmt.Fprintf(&b, "    pio_sm_config c = %s_program_get_default_config(offset);\n", name)
	b.WriteString("    sm_config_set_set_pins(&c, pin, 1);\n")
	fmt.Fprintf(&b, "    sm_config_set_out_shift(&c, false, false, %d);\n", mode.BitCount())
	b.WriteString("    sm_config_set_fifo_join(&c, PIO_FIFO_JOIN_TX);\n")
	fmt.Fprintf(&b, "    sm_config_set_clkdiv_int_frac(&c, %d, %d);\n\n", whole, frac)
	b.WriteString("    pio_sm_init(pio, sm, offset, &c);\n")
	b.WriteString("    pio_sm_set_enabled(pio, sm, true);\n")
	b.WriteString("}\n")
	b.WriteString("%}\n\n")

	b.WriteString("% go {\n")
	fmt.Fprintf(&b, "func %sInit(sm pio.StateMachine, offset, pin uint8) {\n", name)
	b.WriteString("\tsm.SetPindirsConsecutive(pin, 1, true)\n")
	fmt.Fprintf(&b, "\tcfg := %sProgramDefaultConfig(offset)\n", name)
	b.WriteString("\tcfg.SetSetPins(pin, 1)\n")
	fmt.Fprintf(&b, "\tcfg.SetOutShift(false, false, %d)\n", mode.BitCount())
	b.WriteString("\tcfg.SetFIFOJoin(pio.FifoJoinTx)\n")
	fmt.Fprintf(&b, "\tcfg.SetClkDivIntFrac(%d, %d)\n", whole, frac)
	b.WriteString("\tsm.Init(offset, cfg)\n")
	b.WriteString("\tsm.SetEnabled(true)\n")
	b.WriteString("}\n")
	b.WriteString("%}\n")

	return ProgramText{Engine: engine, Name: name, Source: b.String(), Instructions: n}, nil
}

// writePhase drives the pin to level and pads with nops until the plan is spent.
func writePhase(b *strings.Builder, level int, plan DelayPlan) {
	fmt.Fprintf(b, "    set pins, %d [%d]\n", level, plan.First())
	for _, d := range plan.Fillers() {
		fmt.Fprintf(b, "    nop [%d]\n", d)
	}
}

// Assemble assembles the program with the built-in assembler.
func (pt ProgramText) Assemble() (*pio.Program, error) {
	progs, err := pio.Assemble(pt.Source)
	if err != nil {
		return nil, err
	}
	return progs[0], nil
}

// Load adds prog to the state machine's PIO block and starts it driving pin.
func Load(sm pio.StateMachine, prog *pio.Program, pin uint8, mode PixelMode, clk Clock) (offset uint8, err error) {
	sm.TryClaim() // SM should be claimed beforehand, we just guarantee it's claimed.
	whole, frac, err := clk.ClkDiv()
	if err != nil {
		return 0, err
	}
	// We add the program to PIO memory and store it's offset.
	Pio := sm.PIO()
	offset, err = Pio.AddProgram(prog.Instructions, prog.Origin)
	if err != nil {
		return 0, err
	}
	sm.SetPindirsConsecutive(pin, 1, true)
	cfg := prog.DefaultConfig(offset)
	cfg.SetSetPins(pin, 1)
	cfg.SetOutShift(false, false, uint16(mode.BitCount()))
	// We only use Tx FIFO, so we set the join to Tx.
	cfg.SetFIFOJoin(pio.FifoJoinTx)
	cfg.SetClkDivIntFrac(whole, frac)
	sm.Init(offset, cfg)
	sm.SetEnabled(true)
	return offset, nil
}
