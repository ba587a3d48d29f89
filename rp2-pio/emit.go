package pio

import (
	"bufio"
	"fmt"
	"go/format"
	"io"
	"strings"
)

// ImportPath is the import path generated Go programs use for this package.
const ImportPath = "github.com/tinygo-org/pioledstrip/rp2-pio"

// WriteCSDK writes programs in the layout of pioasm's c-sdk output format.
func WriteCSDK(w io.Writer, progs ...*Program) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("// -------------------------------------------------- //\n")
	bw.WriteString("// This file is autogenerated by pioasm; do not edit! //\n")
	bw.WriteString("// -------------------------------------------------- //\n\n")
	bw.WriteString("#pragma once\n\n")
	bw.WriteString("#if !PICO_NO_HARDWARE\n#include \"hardware/pio.h\"\n#endif\n")
	for _, p := range progs {
		bar := strings.Repeat("-", len(p.Name))
		fmt.Fprintf(bw, "\n// %s //\n// %s //\n// %s //\n\n", bar, p.Name, bar)
		fmt.Fprintf(bw, "#define %s_wrap_target %d\n", p.Name, p.WrapTarget)
		fmt.Fprintf(bw, "#define %s_wrap %d\n\n", p.Name, p.Wrap)
		fmt.Fprintf(bw, "static const uint16_t %s_program_instructions[] = {\n", p.Name)
		p.writeListing(bw, "    ", "            ")
		bw.WriteString("};\n\n")
		bw.WriteString("#if !PICO_NO_HARDWARE\n")
		fmt.Fprintf(bw, "static const struct pio_program %s_program = {\n", p.Name)
		fmt.Fprintf(bw, "    .instructions = %s_program_instructions,\n", p.Name)
		fmt.Fprintf(bw, "    .length = %d,\n", len(p.Instructions))
		fmt.Fprintf(bw, "    .origin = %d,\n};\n\n", p.Origin)
		fmt.Fprintf(bw, "static inline pio_sm_config %s_program_get_default_config(uint offset) {\n", p.Name)
		bw.WriteString("    pio_sm_config c = pio_get_default_sm_config();\n")
		fmt.Fprintf(bw, "    sm_config_set_wrap(&c, offset + %s_wrap_target, offset + %s_wrap);\n", p.Name, p.Name)
		if p.SidesetBits > 0 || p.SidesetOpt {
			fmt.Fprintf(bw, "    sm_config_set_sideset(&c, %d, %t, %t);\n", p.sidesetTotal(), p.SidesetOpt, p.SidesetPindirs)
		}
		bw.WriteString("    return c;\n}\n")
		if code := p.Passthrough["c-sdk"]; code != "" {
			bw.WriteString("\n")
			bw.WriteString(code)
		}
		bw.WriteString("#endif\n")
	}
	return bw.Flush()
}

// WriteGo writes programs in the layout of pioasm's go output format as
// a source file of package pkg.
func WriteGo(w io.Writer, pkg string, progs ...*Program) error {
	var sb strings.Builder
	sb.WriteString("// Code generated by pioasm; DO NOT EDIT.\n\n")
	fmt.Fprintf(&sb, "package %s\n\n", pkg)
	fmt.Fprintf(&sb, "import (\n\tpio %q\n)\n", ImportPath)
	for _, p := range progs {
		fmt.Fprintf(&sb, "\n// %s\n\n", p.Name)
		fmt.Fprintf(&sb, "const %sWrapTarget = %d\n", p.Name, p.WrapTarget)
		fmt.Fprintf(&sb, "const %sWrap = %d\n\n", p.Name, p.Wrap)
		fmt.Fprintf(&sb, "var %sInstructions = []uint16{\n", p.Name)
		p.writeListing(&sb, "\t", "\t")
		sb.WriteString("}\n\n")
		fmt.Fprintf(&sb, "const %sOrigin = %d\n\n", p.Name, p.Origin)
		fmt.Fprintf(&sb, "func %sProgramDefaultConfig(offset uint8) pio.StateMachineConfig {\n", p.Name)
		sb.WriteString("\tcfg := pio.DefaultStateMachineConfig()\n")
		fmt.Fprintf(&sb, "\tcfg.SetWrap(offset+%sWrapTarget, offset+%sWrap)\n", p.Name, p.Name)
		if p.SidesetBits > 0 || p.SidesetOpt {
			fmt.Fprintf(&sb, "\tcfg.SetSidesetParams(%d, %t, %t)\n", p.sidesetTotal(), p.SidesetOpt, p.SidesetPindirs)
		}
		sb.WriteString("\treturn cfg\n}\n")
		if code := p.Passthrough["go"]; code != "" {
			sb.WriteString("\n")
			sb.WriteString(code)
		}
	}
	src, err := format.Source([]byte(sb.String()))
	if err != nil {
		return fmt.Errorf("pio: formatting generated Go: %w", err)
	}
	_, err = w.Write(src)
	return err
}

type stringWriter interface {
	WriteString(string) (int, error)
}

func (p *Program) writeListing(w stringWriter, indent, markerIndent string) {
	for i, instr := range p.Instructions {
		if uint8(i) == p.WrapTarget {
			w.WriteString(markerIndent + "//     .wrap_target\n")
		}
		w.WriteString(fmt.Sprintf("%s0x%04x, // %2d: %s\n", indent, instr, i, Disassemble(instr, p.SidesetBits, p.SidesetOpt)))
		if uint8(i) == p.Wrap {
			w.WriteString(markerIndent + "//     .wrap\n")
		}
	}
}
