package pio

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// ErrSyntax is returned by Assemble for malformed source.
var ErrSyntax = errors.New("pio: syntax error")

// Program is an assembled PIO program together with the metadata
// pioasm emits alongside the instructions.
type Program struct {
	Name         string
	Instructions []uint16
	// Origin is the fixed load offset, or -1 if the program is relocatable.
	Origin     int8
	WrapTarget uint8
	Wrap       uint8
	// SidesetBits is the side-set value width, excluding the enable bit.
	SidesetBits    uint8
	SidesetOpt     bool
	SidesetPindirs bool
	// Labels maps lower case label names to addresses.
	Labels map[string]uint8
	// Passthrough holds `% lang {` ... `%}` blocks by language.
	Passthrough map[string]string
}

// Assembler returns the instruction encoder matching the program's side-set.
func (p *Program) Assembler() AssemblerV0 {
	return AssemblerV0{SidesetBits: p.sidesetTotal()}
}

func (p *Program) sidesetTotal() uint8 {
	return p.SidesetBits + boolAsU8(p.SidesetOpt)
}

// DefaultConfig returns the state machine configuration pioasm generates
// for the program when loaded at offset.
func (p *Program) DefaultConfig(offset uint8) StateMachineConfig {
	cfg := DefaultStateMachineConfig()
	cfg.SetWrap(offset+p.WrapTarget, offset+p.Wrap)
	if p.SidesetBits > 0 || p.SidesetOpt {
		cfg.SetSidesetParams(p.sidesetTotal(), p.SidesetOpt, p.SidesetPindirs)
	}
	return cfg
}

// Disassemble returns a pioasm style listing of the program.
func (p *Program) Disassemble() []string {
	labels := make(map[uint8][]string)
	for label, addr := range p.Labels {
		labels[addr] = append(labels[addr], label)
	}
	listing := make([]string, 0, len(p.Instructions))
	for i, instr := range p.Instructions {
		names := labels[uint8(i)]
		sort.Strings(names)
		for _, name := range names {
			listing = append(listing, name+":")
		}
		listing = append(listing, "\t"+Disassemble(instr, p.SidesetBits, p.SidesetOpt))
	}
	return listing
}

type sourceLine struct {
	num  int
	text string
}

type pendingProgram struct {
	prog   *Program
	instrs []sourceLine
	wrap   int
	target int
}

var (
	delayRe   = regexp.MustCompile(`\[\s*([^\]]+?)\s*\]`)
	tokenSep  = regexp.MustCompile(`[,\s]+`)
	commentRe = regexp.MustCompile(`(;|//).*$`)
)

// Assemble assembles pioasm source into programs. The supported dialect
// covers the RP2040 instruction set, labels, `.program`, `.wrap_target`,
// `.wrap`, `.origin`, `.side_set`, `.define` and passthrough code blocks.
func Assemble(source string) ([]*Program, error) {
	var (
		progs   []*pendingProgram
		cur     *pendingProgram
		block   string
		blockSB strings.Builder
		defines = map[string]int{}
	)
	for i, raw := range strings.Split(source, "\n") {
		num := i + 1
		if block != "" {
			if strings.TrimSpace(raw) == "%}" {
				if cur == nil {
					return nil, fmt.Errorf("line %d: code block outside program: %w", num, ErrSyntax)
				}
				cur.prog.Passthrough[block] += blockSB.String()
				block = ""
				blockSB.Reset()
				continue
			}
			blockSB.WriteString(raw)
			blockSB.WriteByte('\n')
			continue
		}
		line := strings.TrimSpace(commentRe.ReplaceAllString(raw, ""))
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "%") {
			f := strings.Fields(strings.TrimPrefix(line, "%"))
			if len(f) != 2 || f[1] != "{" {
				return nil, fmt.Errorf("line %d: bad code block %q: %w", num, line, ErrSyntax)
			}
			block = f[0]
			continue
		}
		if strings.HasPrefix(line, ".") {
			f := strings.Fields(line)
			switch f[0] {
			case ".program":
				if len(f) != 2 {
					return nil, fmt.Errorf("line %d: .program needs a name: %w", num, ErrSyntax)
				}
				cur = &pendingProgram{
					prog: &Program{
						Name:        f[1],
						Origin:      -1,
						Labels:      map[string]uint8{},
						Passthrough: map[string]string{},
					},
					wrap:   -1,
					target: 0,
				}
				progs = append(progs, cur)
				continue
			case ".define":
				if len(f) < 3 {
					return nil, fmt.Errorf("line %d: .define needs a name and value: %w", num, ErrSyntax)
				}
				name := strings.ToLower(f[len(f)-2])
				v, err := parseValue(f[len(f)-1], defines)
				if err != nil {
					return nil, fmt.Errorf("line %d: %w", num, err)
				}
				defines[name] = v
				continue
			}
			if cur == nil {
				return nil, fmt.Errorf("line %d: directive %s before .program: %w", num, f[0], ErrSyntax)
			}
			if err := cur.directive(f, defines); err != nil {
				return nil, fmt.Errorf("line %d: %w", num, err)
			}
			continue
		}
		if cur == nil {
			return nil, fmt.Errorf("line %d: instruction before .program: %w", num, ErrSyntax)
		}
		// Labels, optionally followed by an instruction on the same line.
		line = strings.TrimPrefix(line, "public ")
		if idx := strings.Index(line, ":"); idx > 0 && !strings.ContainsAny(line[:idx], " \t,[") {
			label := strings.ToLower(line[:idx])
			if _, dup := cur.prog.Labels[label]; dup {
				return nil, fmt.Errorf("line %d: duplicate label %q: %w", num, label, ErrSyntax)
			}
			cur.prog.Labels[label] = uint8(len(cur.instrs))
			line = strings.TrimSpace(line[idx+1:])
			if line == "" {
				continue
			}
		}
		cur.instrs = append(cur.instrs, sourceLine{num: num, text: line})
	}
	if block != "" {
		return nil, fmt.Errorf("unterminated %% %s { block: %w", block, ErrSyntax)
	}
	if len(progs) == 0 {
		return nil, fmt.Errorf("no .program: %w", ErrSyntax)
	}

	out := make([]*Program, 0, len(progs))
	for _, pp := range progs {
		prog := pp.prog
		if len(pp.instrs) == 0 {
			return nil, fmt.Errorf("program %s: no instructions: %w", prog.Name, ErrSyntax)
		}
		if len(pp.instrs) > InstructionMemorySize {
			return nil, fmt.Errorf("program %s: %d instructions: %w", prog.Name, len(pp.instrs), ErrOutOfProgramSpace)
		}
		for _, sl := range pp.instrs {
			instr, err := prog.assembleLine(sl.text, defines)
			if err != nil {
				return nil, fmt.Errorf("program %s line %d: %w", prog.Name, sl.num, err)
			}
			prog.Instructions = append(prog.Instructions, instr)
		}
		prog.WrapTarget = uint8(pp.target)
		if pp.wrap < 0 {
			prog.Wrap = uint8(len(prog.Instructions) - 1)
		} else {
			prog.Wrap = uint8(pp.wrap)
		}
		out = append(out, prog)
	}
	return out, nil
}

func (pp *pendingProgram) directive(f []string, defines map[string]int) error {
	switch f[0] {
	case ".wrap_target":
		pp.target = len(pp.instrs)
	case ".wrap":
		if len(pp.instrs) == 0 {
			return fmt.Errorf(".wrap before first instruction: %w", ErrSyntax)
		}
		pp.wrap = len(pp.instrs) - 1
	case ".origin":
		if len(f) != 2 {
			return fmt.Errorf(".origin needs an offset: %w", ErrSyntax)
		}
		v, err := parseValue(f[1], defines)
		if err != nil || v < 0 || v >= InstructionMemorySize {
			return fmt.Errorf(".origin %s: %w", f[1], ErrSyntax)
		}
		pp.prog.Origin = int8(v)
	case ".side_set":
		if len(f) < 2 {
			return fmt.Errorf(".side_set needs a count: %w", ErrSyntax)
		}
		v, err := parseValue(f[1], defines)
		if err != nil || v < 0 || v > 5 {
			return fmt.Errorf(".side_set %s: %w", f[1], ErrSyntax)
		}
		pp.prog.SidesetBits = uint8(v)
		for _, opt := range f[2:] {
			switch opt {
			case "opt":
				pp.prog.SidesetOpt = true
			case "pindirs":
				pp.prog.SidesetPindirs = true
			default:
				return fmt.Errorf(".side_set option %q: %w", opt, ErrSyntax)
			}
		}
		if pp.prog.sidesetTotal() > 5 {
			return fmt.Errorf(".side_set too wide: %w", ErrSyntax)
		}
	case ".lang_opt", ".fifo", ".clock_div", ".in", ".out", ".set", ".pio_version":
		// Accepted for compatibility; they do not affect encoding.
	default:
		return fmt.Errorf("unknown directive %s: %w", f[0], ErrSyntax)
	}
	return nil
}

func (p *Program) assembleLine(line string, defines map[string]int) (uint16, error) {
	var delay int
	if m := delayRe.FindStringSubmatchIndex(line); m != nil {
		v, err := p.value(line[m[2]:m[3]], defines)
		if err != nil {
			return 0, err
		}
		max := int(MaxDelay(p.sidesetTotal()))
		if v < 0 || v > max {
			return 0, fmt.Errorf("delay %d out of range 0..%d: %w", v, max, ErrSyntax)
		}
		delay = v
		line = line[:m[0]] + line[m[1]:]
	}
	tokens := splitTokens(line)
	side := -1
	for i, tok := range tokens {
		if tok == "side" || tok == "sideset" {
			if i+1 >= len(tokens) {
				return 0, fmt.Errorf("side without value: %w", ErrSyntax)
			}
			v, err := p.value(tokens[i+1], defines)
			if err != nil {
				return 0, err
			}
			if v < 0 || v >= 1<<p.SidesetBits {
				return 0, fmt.Errorf("side value %d out of range: %w", v, ErrSyntax)
			}
			side = v
			tokens = append(tokens[:i:i], tokens[i+2:]...)
			break
		}
	}
	instr, err := p.encode(tokens, defines)
	if err != nil {
		return 0, err
	}
	switch {
	case side >= 0 && p.SidesetBits == 0:
		return 0, fmt.Errorf("side-set on program without .side_set: %w", ErrSyntax)
	case side >= 0 && p.SidesetOpt:
		instr = instr.Side(uint8(side) | 1<<p.SidesetBits)
	case side >= 0:
		instr = instr.Side(uint8(side))
	case p.SidesetBits > 0 && !p.SidesetOpt:
		return 0, fmt.Errorf("side-set required on every instruction: %w", ErrSyntax)
	}
	return instr.Delay(uint8(delay)).Encode(), nil
}

func splitTokens(line string) []string {
	var tokens []string
	for _, tok := range tokenSep.Split(strings.TrimSpace(line), -1) {
		if tok != "" {
			tokens = append(tokens, strings.ToLower(tok))
		}
	}
	return tokens
}

var jmpConds = map[string]JmpCond{
	"!x": JmpXZero, "x--": JmpXNZeroDec, "!y": JmpYZero, "y--": JmpYNZeroDec,
	"x!=y": JmpXNotEqualY, "pin": JmpPinInput, "!osre": JmpOSRNotEmpty,
}

var (
	inSrcs = map[string]InSrc{
		"pins": InSrcPins, "x": InSrcX, "y": InSrcY, "null": InSrcNull, "isr": InSrcISR, "osr": InSrcOSR,
	}
	outDests = map[string]OutDest{
		"pins": OutDestPins, "x": OutDestX, "y": OutDestY, "null": OutDestNull,
		"pindirs": OutDestPindirs, "pc": OutDestPC, "isr": OutDestISR, "exec": OutDestExec,
	}
	movDests = map[string]MovDest{
		"pins": MovDestPins, "x": MovDestX, "y": MovDestY, "exec": MovDestExec,
		"pc": MovDestPC, "isr": MovDestISR, "osr": MovDestOSR,
	}
	movSrcs = map[string]MovSrc{
		"pins": MovSrcPins, "x": MovSrcX, "y": MovSrcY, "null": MovSrcNull,
		"status": MovSrcStatus, "isr": MovSrcISR, "osr": MovSrcOSR,
	}
	setDests = map[string]SetDest{
		"pins": SetDestPins, "x": SetDestX, "y": SetDestY, "pindirs": SetDestPindirs,
	}
)

func (p *Program) encode(tok []string, defines map[string]int) (instructionV0, error) {
	asm := p.Assembler()
	bad := func(what string) (instructionV0, error) {
		return instructionV0{}, fmt.Errorf("%s %q: %w", what, strings.Join(tok, " "), ErrSyntax)
	}
	if len(tok) == 0 {
		return bad("empty instruction")
	}
	args := tok[1:]
	switch tok[0] {
	case "nop":
		if len(args) != 0 {
			return bad("nop takes no operands")
		}
		return asm.Nop(), nil

	case "jmp":
		cond := JmpAlways
		if len(args) == 2 {
			c, ok := jmpConds[args[0]]
			if !ok {
				return bad("unknown jmp condition")
			}
			cond = c
			args = args[1:]
		}
		if len(args) != 1 {
			return bad("jmp needs a target")
		}
		addr, ok := p.Labels[args[0]]
		if !ok {
			v, err := p.value(args[0], defines)
			if err != nil || v < 0 || v >= InstructionMemorySize {
				return bad("bad jmp target")
			}
			addr = uint8(v)
		}
		return asm.Jmp(addr, cond), nil

	case "wait":
		if len(args) != 3 {
			return bad("wait needs polarity, source and index")
		}
		pol, err := p.value(args[0], defines)
		if err != nil || pol > 1 || pol < 0 {
			return bad("bad wait polarity")
		}
		idx, err := p.value(args[2], defines)
		if err != nil || idx < 0 || idx > 31 {
			return bad("bad wait index")
		}
		switch args[1] {
		case "gpio":
			return asm.WaitGPIO(pol == 1, uint8(idx)), nil
		case "pin":
			return asm.WaitPin(pol == 1, uint8(idx)), nil
		case "irq":
			return asm.WaitIRQ(pol == 1, false, uint8(idx)), nil
		}
		return bad("bad wait source")

	case "in", "out":
		if len(args) != 2 {
			return bad(tok[0] + " needs a register and bit count")
		}
		n, err := p.value(args[1], defines)
		if err != nil || n < 1 || n > 32 {
			return bad("bad bit count")
		}
		if tok[0] == "in" {
			src, ok := inSrcs[args[0]]
			if !ok {
				return bad("bad in source")
			}
			return asm.In(src, uint8(n)), nil
		}
		dest, ok := outDests[args[0]]
		if !ok {
			return bad("bad out destination")
		}
		return asm.Out(dest, uint8(n)), nil

	case "push", "pull":
		cond, block := false, true
		for _, a := range args {
			switch {
			case a == "block":
				block = true
			case a == "noblock":
				block = false
			case a == "iffull" && tok[0] == "push", a == "ifempty" && tok[0] == "pull":
				cond = true
			default:
				return bad("bad " + tok[0] + " option")
			}
		}
		if tok[0] == "push" {
			return asm.Push(cond, block), nil
		}
		return asm.Pull(cond, block), nil

	case "mov":
		if len(args) != 2 {
			return bad("mov needs a destination and source")
		}
		dest, ok := movDests[args[0]]
		if !ok {
			return bad("bad mov destination")
		}
		src := args[1]
		op := 0
		switch {
		case strings.HasPrefix(src, "!"), strings.HasPrefix(src, "~"):
			op, src = 1, src[1:]
		case strings.HasPrefix(src, "::"):
			op, src = 2, src[2:]
		}
		s, ok := movSrcs[src]
		if !ok {
			return bad("bad mov source")
		}
		switch op {
		case 1:
			return asm.MovInvert(dest, s), nil
		case 2:
			return asm.MovReverse(dest, s), nil
		}
		return asm.Mov(dest, s), nil

	case "irq":
		clear, wait, rel := false, false, false
		var idx = -1
		for _, a := range args {
			switch a {
			case "set", "nowait":
			case "wait":
				wait = true
			case "clear":
				clear = true
			case "rel":
				rel = true
			default:
				v, err := p.value(a, defines)
				if err != nil || v < 0 || v > 7 {
					return bad("bad irq index")
				}
				idx = v
			}
		}
		if idx < 0 {
			return bad("irq needs an index")
		}
		if clear {
			return asm.IRQClear(rel, uint8(idx)), nil
		}
		instr := asm.IRQSet(rel, uint8(idx))
		if wait {
			instr.instr |= 1 << 5
		}
		return instr, nil

	case "set":
		if len(args) != 2 {
			return bad("set needs a destination and value")
		}
		dest, ok := setDests[args[0]]
		if !ok {
			return bad("bad set destination")
		}
		v, err := p.value(args[1], defines)
		if err != nil || v < 0 || v > 31 {
			return bad("bad set value")
		}
		return asm.Set(dest, uint8(v)), nil
	}
	return bad("unknown instruction")
}

func (p *Program) value(s string, defines map[string]int) (int, error) {
	return parseValue(s, defines)
}

func parseValue(s string, defines map[string]int) (int, error) {
	if v, ok := defines[strings.ToLower(s)]; ok {
		return v, nil
	}
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("bad value %q: %w", s, ErrSyntax)
	}
	return int(v), nil
}

var (
	disJmpConds  = [8]string{"", "!x, ", "x--, ", "!y, ", "y--, ", "x!=y, ", "pin, ", "!osre, "}
	disInSrcs    = [8]string{"pins", "x", "y", "null", "", "", "isr", "osr"}
	disOutDests  = [8]string{"pins", "x", "y", "null", "pindirs", "pc", "isr", "exec"}
	disMovDests  = [8]string{"pins", "x", "y", "", "exec", "pc", "isr", "osr"}
	disMovSrcs   = [8]string{"pins", "x", "y", "null", "", "status", "isr", "osr"}
	disSetDests  = [8]string{"pins", "x", "y", "", "pindirs", "", "", ""}
	disMovOps    = [4]string{"", "!", "::", ""}
	disWaitSrcs  = [4]string{"gpio", "pin", "irq", ""}
	disBlockFlag = [2]string{"noblock", "block"}
)

// Disassemble returns the pioasm text of a single instruction.
func Disassemble(instr uint16, sidesetBits uint8, sidesetOpt bool) string {
	arg1 := uint8(instr>>5) & 0b111
	arg2 := uint8(instr) & 0x1f
	var op, args string
	switch DecodeKind(instr) {
	case InstrJMP:
		op, args = "jmp", fmt.Sprintf("%s%d", disJmpConds[arg1], arg2)
	case InstrWAIT:
		op, args = "wait", fmt.Sprintf("%d %s, %d", arg1>>2, disWaitSrcs[arg1&0b11], arg2)
	case InstrIN:
		op, args = "in", fmt.Sprintf("%s, %d", disInSrcs[arg1], bitCount(arg2))
	case InstrOUT:
		op, args = "out", fmt.Sprintf("%s, %d", disOutDests[arg1], bitCount(arg2))
	case InstrPUSH:
		op = "push"
		if arg1&0b010 != 0 {
			args = "iffull "
		}
		args += disBlockFlag[arg1&1]
	case InstrPULL:
		op = "pull"
		if arg1&0b010 != 0 {
			args = "ifempty "
		}
		args += disBlockFlag[arg1&1]
	case InstrMOV:
		if instr&0xff == 0x42 {
			op = "nop"
			break
		}
		op, args = "mov", fmt.Sprintf("%s, %s%s", disMovDests[arg1], disMovOps[(arg2>>3)&0b11], disMovSrcs[arg2&0b111])
	case InstrIRQ:
		op = "irq"
		switch {
		case arg1&0b010 != 0:
			args = "clear "
		case arg1&0b001 != 0:
			args = "wait "
		default:
			args = "nowait "
		}
		args += strconv.Itoa(int(arg2 & 0b111))
		if arg2&0x10 != 0 {
			args += " rel"
		}
	case InstrSET:
		op, args = "set", fmt.Sprintf("%s, %d", disSetDests[arg1], arg2)
	}
	text := strings.TrimSpace(fmt.Sprintf("%-6s %s", op, args))
	total := sidesetBits + boolAsU8(sidesetOpt)
	field := uint8(instr>>8) & 0x1f
	if sidesetBits > 0 {
		enabled := !sidesetOpt || field&0x10 != 0
		if enabled {
			side := (field >> (maxDelaySideBits - total)) & (1<<sidesetBits - 1)
			text += fmt.Sprintf(" side %d", side)
		}
	}
	if d := field & MaxDelay(total); d != 0 {
		text += fmt.Sprintf(" [%d]", d)
	}
	return text
}
