// Package build turns generated LED strip programs into assembled artifacts
// in an output directory.
package build

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/shlex"
	"go.uber.org/zap"

	pio "github.com/tinygo-org/pioledstrip/rp2-pio"
	"github.com/tinygo-org/pioledstrip/rp2-pio/piolib"
)

const (
	FormatCSDK = "c-sdk"
	FormatGo   = "go"

	// DefaultPackage is the package name of Go output.
	DefaultPackage = "ledstrip"
)

var (
	ErrNoCommand      = errors.New("build: empty assembler command")
	ErrBadFormat      = errors.New("build: unknown output format")
	ErrEngineMismatch = errors.New("build: program targets another engine")
)

// Context carries the location of one engine's build products.
type Context struct {
	OutputDir string
	Engine    piolib.Engine
}

// SourcePath is where the program source is written.
func (c Context) SourcePath() string {
	return filepath.Join(c.OutputDir, piolib.ProgramName(c.Engine)+".pio")
}

// OutputPath is where the assembled program for format is written.
func (c Context) OutputPath(format string) string {
	name := piolib.ProgramName(c.Engine)
	if format == FormatGo {
		return filepath.Join(c.OutputDir, name+"_pio.go")
	}
	return filepath.Join(c.OutputDir, name+".pio.h")
}

// Assembler turns a .pio source file into an output file.
type Assembler interface {
	Assemble(ctx context.Context, src, out string) error
	// Format is the output format, FormatCSDK or FormatGo.
	Format() string
	// String identifies the assembler in the manifest. Changing it forces
	// a rebuild.
	String() string
}

// ExternalAssembler runs a pioasm compatible command line.
type ExternalAssembler struct {
	// Command is split like a shell would, e.g. `"/opt/pico sdk/pioasm" -v 0`.
	Command string
	// OutputFormat defaults to FormatCSDK.
	OutputFormat string
}

func (a ExternalAssembler) Format() string {
	if a.OutputFormat == "" {
		return FormatCSDK
	}
	return a.OutputFormat
}

func (a ExternalAssembler) String() string { return "external " + a.Command }

func (a ExternalAssembler) Assemble(ctx context.Context, src, out string) error {
	args, err := shlex.Split(a.Command)
	if err != nil {
		return fmt.Errorf("build: assembler command %q: %w", a.Command, err)
	}
	if len(args) == 0 {
		return ErrNoCommand
	}
	cmd := exec.CommandContext(ctx, args[0], append(args[1:], "-o", a.Format(), src, out)...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("build: %s: %w\n%s", args[0], err, msg)
		}
		return fmt.Errorf("build: %s: %w", args[0], err)
	}
	return nil
}

// BuiltinAssembler assembles with the rp2-pio package.
type BuiltinAssembler struct {
	// OutputFormat defaults to FormatCSDK.
	OutputFormat string
	// Package is the package name of Go output, DefaultPackage if empty.
	Package string
}

func (a BuiltinAssembler) Format() string {
	if a.OutputFormat == "" {
		return FormatCSDK
	}
	return a.OutputFormat
}

func (a BuiltinAssembler) String() string {
	if a.Format() == FormatGo {
		return "builtin go " + a.pkg()
	}
	return "builtin " + a.Format()
}

func (a BuiltinAssembler) pkg() string {
	if a.Package == "" {
		return DefaultPackage
	}
	return a.Package
}

func (a BuiltinAssembler) Assemble(ctx context.Context, src, out string) error {
	source, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	progs, err := pio.Assemble(string(source))
	if err != nil {
		return fmt.Errorf("build: %s: %w", src, err)
	}
	var buf bytes.Buffer
	switch a.Format() {
	case FormatCSDK:
		err = pio.WriteCSDK(&buf, progs...)
	case FormatGo:
		err = pio.WriteGo(&buf, a.pkg(), progs...)
	default:
		return fmt.Errorf("%w: %q", ErrBadFormat, a.Format())
	}
	if err != nil {
		return err
	}
	return os.WriteFile(out, buf.Bytes(), 0o644)
}

// Artifact describes the files produced for one engine.
type Artifact struct {
	Engine piolib.Engine
	Source string
	Output string
	// Skipped is set when the output was already up to date.
	Skipped bool
}

// Compile writes the program source into the build directory and assembles
// it. Programs whose source and assembler match the manifest entry of a
// previous build are not reassembled. Source and output are assembled under
// temporary names and only replace the previous files once assembly
// succeeded.
func Compile(ctx context.Context, bc Context, text piolib.ProgramText, asm Assembler, log *zap.Logger) (Artifact, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if text.Engine != bc.Engine {
		return Artifact{}, fmt.Errorf("%w: %s is for pio %d, not %d", ErrEngineMismatch, text.Name, text.Engine, bc.Engine)
	}
	if f := asm.Format(); f != FormatCSDK && f != FormatGo {
		return Artifact{}, fmt.Errorf("%w: %q", ErrBadFormat, f)
	}
	art := Artifact{Engine: bc.Engine, Source: bc.SourcePath(), Output: bc.OutputPath(asm.Format())}
	log = log.With(zap.Uint8("engine", uint8(bc.Engine)), zap.String("program", text.Name))

	if err := os.MkdirAll(bc.OutputDir, 0o755); err != nil {
		return Artifact{}, err
	}
	m, err := loadManifest(bc.OutputDir)
	if err != nil {
		return Artifact{}, err
	}
	entry := Entry{
		Source:    sha256.Sum256([]byte(text.Source)),
		Assembler: asm.String(),
		Output:    filepath.Base(art.Output),
	}
	if old, ok := m.Programs[uint8(bc.Engine)]; ok && old == entry && exists(art.Output) && exists(art.Source) {
		log.Debug("up to date", zap.String("output", art.Output))
		art.Skipped = true
		return art, nil
	}

	tmpSource, err := tempFile(bc.OutputDir, filepath.Base(art.Source), []byte(text.Source))
	if err != nil {
		return Artifact{}, err
	}
	defer os.Remove(tmpSource)
	tmpOutput, err := tempFile(bc.OutputDir, filepath.Base(art.Output), nil)
	if err != nil {
		return Artifact{}, err
	}
	defer os.Remove(tmpOutput)
	if err := asm.Assemble(ctx, tmpSource, tmpOutput); err != nil {
		return Artifact{}, err
	}
	if asm.Format() == FormatCSDK {
		if err := addIncludeGuard(tmpOutput, text.Name); err != nil {
			return Artifact{}, err
		}
	}
	// A build interrupted while replacing files must not look up to date.
	if _, ok := m.Programs[uint8(bc.Engine)]; ok {
		delete(m.Programs, uint8(bc.Engine))
		if err := m.save(bc.OutputDir); err != nil {
			return Artifact{}, err
		}
	}
	if err := os.Rename(tmpOutput, art.Output); err != nil {
		return Artifact{}, err
	}
	if err := os.Rename(tmpSource, art.Source); err != nil {
		return Artifact{}, err
	}
	m.Programs[uint8(bc.Engine)] = entry
	if err := m.save(bc.OutputDir); err != nil {
		return Artifact{}, err
	}
	log.Info("assembled",
		zap.String("output", art.Output),
		zap.Int("instructions", text.Instructions),
		zap.Stringer("assembler", asm))
	return art, nil
}

// tempFile creates a file next to the final one holding data.
func tempFile(dir, name string, data []byte) (string, error) {
	f, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", err
	}
	err = f.Chmod(0o644)
	if err == nil {
		_, err = f.Write(data)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// IncludeGuard returns the macro guarding the header of the named program.
func IncludeGuard(name string) string {
	return strings.ToUpper(name) + "_PIO_H"
}

func addIncludeGuard(path, name string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	guard := IncludeGuard(name)
	var b bytes.Buffer
	fmt.Fprintf(&b, "#ifndef %s\n#define %s\n\n", guard, guard)
	b.Write(data)
	if len(data) > 0 && data[len(data)-1] != '\n' {
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "\n#endif // %s\n", guard)
	return os.WriteFile(path, b.Bytes(), 0o644)
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
