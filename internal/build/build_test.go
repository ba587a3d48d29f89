package build

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/tinygo-org/pioledstrip/rp2-pio/piolib"
)

func generate(t *testing.T, engine piolib.Engine, c piolib.Chipset) piolib.ProgramText {
	t.Helper()
	text, err := piolib.Generate(engine, c.Timing(), piolib.PixelModeRGB, piolib.DefaultClock)
	if err != nil {
		t.Fatal(err)
	}
	return text
}

func TestCompileBuiltin(t *testing.T) {
	ctx := context.Background()
	bc := Context{OutputDir: filepath.Join(t.TempDir(), "out"), Engine: 1}
	text := generate(t, 1, piolib.ChipsetWS2812)

	art, err := Compile(ctx, bc, text, BuiltinAssembler{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if art.Skipped {
		t.Error("first build skipped")
	}
	if filepath.Base(art.Source) != "rp2040_pio_led_strip_driver_1.pio" {
		t.Errorf("source %s", art.Source)
	}
	src, err := os.ReadFile(art.Source)
	if err != nil {
		t.Fatal(err)
	}
	if string(src) != text.Source {
		t.Error("source file differs from generated program")
	}
	header, err := os.ReadFile(art.Output)
	if err != nil {
		t.Fatal(err)
	}
	h := string(header)
	for _, want := range []string{
		"#ifndef RP2040_PIO_LED_STRIP_DRIVER_1_PIO_H",
		"static const uint16_t rp2040_pio_led_strip_driver_1_program_instructions[]",
		"rp2040_pio_led_strip_driver_1_program_init",
		"sm_config_set_out_shift(&c, false, false, 24);",
	} {
		if !strings.Contains(h, want) {
			t.Errorf("header lacks %q", want)
		}
	}
	if !strings.HasSuffix(h, "#endif // RP2040_PIO_LED_STRIP_DRIVER_1_PIO_H\n") {
		t.Error("header does not end with the include guard")
	}

	m, err := LoadManifest(bc.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if e, ok := m.Programs[1]; !ok || e.Output != filepath.Base(art.Output) {
		t.Errorf("manifest %+v", m.Programs)
	}

	again, err := Compile(ctx, bc, text, BuiltinAssembler{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Skipped {
		t.Error("unchanged program was reassembled")
	}

	changed, err := Compile(ctx, bc, generate(t, 1, piolib.ChipsetSK6812), BuiltinAssembler{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if changed.Skipped {
		t.Error("changed program was skipped")
	}

	if err := os.Remove(art.Output); err != nil {
		t.Fatal(err)
	}
	rebuilt, err := Compile(ctx, bc, generate(t, 1, piolib.ChipsetSK6812), BuiltinAssembler{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if rebuilt.Skipped {
		t.Error("missing output was not rebuilt")
	}
}

func TestCompileGo(t *testing.T) {
	bc := Context{OutputDir: t.TempDir(), Engine: 0}
	art, err := Compile(context.Background(), bc, generate(t, 0, piolib.ChipsetWS2812B), BuiltinAssembler{OutputFormat: FormatGo}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(art.Output) != "rp2040_pio_led_strip_driver_0_pio.go" {
		t.Errorf("output %s", art.Output)
	}
	out, err := os.ReadFile(art.Output)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"package ledstrip", "func rp2040_pio_led_strip_driver_0Init("} {
		if !strings.Contains(string(out), want) {
			t.Errorf("output lacks %q", want)
		}
	}
	if strings.Contains(string(out), "#ifndef") {
		t.Error("include guard added to Go output")
	}
}

func TestCompileGoPackageChange(t *testing.T) {
	ctx := context.Background()
	bc := Context{OutputDir: t.TempDir(), Engine: 0}
	text := generate(t, 0, piolib.ChipsetWS2812)
	if _, err := Compile(ctx, bc, text, BuiltinAssembler{OutputFormat: FormatGo, Package: "first"}, nil); err != nil {
		t.Fatal(err)
	}
	art, err := Compile(ctx, bc, text, BuiltinAssembler{OutputFormat: FormatGo, Package: "second"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if art.Skipped {
		t.Error("package change was not rebuilt")
	}
	out, err := os.ReadFile(art.Output)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), "package second") {
		t.Errorf("output does not declare package second:\n%s", out)
	}
}

// brokenAssembler writes partial output and fails.
type brokenAssembler struct{}

func (brokenAssembler) Assemble(ctx context.Context, src, out string) error {
	if err := os.WriteFile(out, []byte("partial"), 0o644); err != nil {
		return err
	}
	return errors.New("assembler crashed")
}

func (brokenAssembler) Format() string { return FormatCSDK }
func (brokenAssembler) String() string { return "broken" }

func TestCompileFailureKeepsPreviousBuild(t *testing.T) {
	ctx := context.Background()
	bc := Context{OutputDir: t.TempDir(), Engine: 0}
	ws2812 := generate(t, 0, piolib.ChipsetWS2812)
	art, err := Compile(ctx, bc, ws2812, BuiltinAssembler{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	header, err := os.ReadFile(art.Output)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Compile(ctx, bc, generate(t, 0, piolib.ChipsetSK6812), brokenAssembler{}, nil); err == nil {
		t.Fatal("failing assembler reported success")
	}
	src, err := os.ReadFile(art.Source)
	if err != nil {
		t.Fatal(err)
	}
	if string(src) != ws2812.Source {
		t.Error("failed build replaced the program source")
	}
	if out, err := os.ReadFile(art.Output); err != nil || string(out) != string(header) {
		t.Errorf("failed build replaced the output: %v", err)
	}
	entries, err := os.ReadDir(bc.OutputDir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			t.Errorf("temporary file %s left behind", e.Name())
		}
	}

	again, err := Compile(ctx, bc, ws2812, BuiltinAssembler{}, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !again.Skipped {
		t.Error("previous build is no longer up to date")
	}
}

func TestCompileLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	ctx := context.Background()
	bc := Context{OutputDir: t.TempDir(), Engine: 1}
	text := generate(t, 1, piolib.ChipsetWS2812)
	for i := 0; i < 2; i++ {
		if _, err := Compile(ctx, bc, text, BuiltinAssembler{}, log); err != nil {
			t.Fatal(err)
		}
	}
	for _, tc := range []struct {
		msg   string
		level zapcore.Level
	}{
		{"assembled", zapcore.InfoLevel},
		{"up to date", zapcore.DebugLevel},
	} {
		entries := logs.FilterMessage(tc.msg).All()
		if len(entries) != 1 {
			t.Errorf("%q logged %d times", tc.msg, len(entries))
			continue
		}
		e := entries[0]
		if e.Level != tc.level {
			t.Errorf("%q at level %v", tc.msg, e.Level)
		}
		fields := e.ContextMap()
		if fields["engine"] != uint8(1) || fields["program"] != text.Name {
			t.Errorf("%q fields %v", tc.msg, fields)
		}
	}
}

func TestCompileErrors(t *testing.T) {
	ctx := context.Background()
	text := generate(t, 0, piolib.ChipsetWS2812)
	if _, err := Compile(ctx, Context{OutputDir: t.TempDir(), Engine: 1}, text, BuiltinAssembler{}, nil); !errors.Is(err, ErrEngineMismatch) {
		t.Errorf("engine mismatch: %v", err)
	}
	if _, err := Compile(ctx, Context{OutputDir: t.TempDir()}, text, BuiltinAssembler{OutputFormat: "hex"}, nil); !errors.Is(err, ErrBadFormat) {
		t.Errorf("bad format: %v", err)
	}
	if _, err := Compile(ctx, Context{OutputDir: t.TempDir()}, text, ExternalAssembler{Command: "  "}, nil); !errors.Is(err, ErrNoCommand) {
		t.Errorf("empty command: %v", err)
	}
	if _, err := Compile(ctx, Context{OutputDir: t.TempDir()}, text, ExternalAssembler{Command: `"unterminated`}, nil); err == nil {
		t.Error("unterminated quote accepted")
	}
}

func TestExternalAssembler(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no shell")
	}
	ctx := context.Background()
	// Arguments after the script are: -o c-sdk src out.
	asm := ExternalAssembler{Command: `sh -c 'test "$2" = c-sdk && cp "$3" "$4"' sh`}
	bc := Context{OutputDir: t.TempDir(), Engine: 0}
	text := generate(t, 0, piolib.ChipsetAPA106)
	art, err := Compile(ctx, bc, text, asm, nil)
	if err != nil {
		t.Fatal(err)
	}
	out, err := os.ReadFile(art.Output)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), text.Source) || !strings.HasPrefix(string(out), "#ifndef") {
		t.Errorf("unexpected output:\n%s", out)
	}

	failing := ExternalAssembler{Command: `sh -c 'echo "bad instruction" >&2; exit 3' sh`}
	_, err = Compile(ctx, Context{OutputDir: t.TempDir()}, text, failing, nil)
	if err == nil || !strings.Contains(err.Error(), "bad instruction") {
		t.Errorf("got %v, want stderr in error", err)
	}
}
