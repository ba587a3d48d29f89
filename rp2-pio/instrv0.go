package pio

// AssemblerV0 provides a fluent API for programming PIO
// within the Go language for PIO version 0 (RP2040).
//
//	asm := AssemblerV0{SidesetBits: 1}
//	instr := asm.Out(OutDestPins, 1).Side(0).Delay(2).Encode()
type AssemblerV0 struct {
	// SidesetBits is the number of bits of the delay/side-set field
	// reserved for side-set values, including the optional enable bit.
	SidesetBits uint8
}

type instructionV0 struct {
	instr uint16
	asm   AssemblerV0
}

// InSrc is the source of an IN instruction.
type InSrc uint8

const (
	InSrcPins InSrc = 0b000
	InSrcX    InSrc = 0b001
	InSrcY    InSrc = 0b010
	InSrcNull InSrc = 0b011
	InSrcISR  InSrc = 0b110
	InSrcOSR  InSrc = 0b111
)

// OutDest is the destination of an OUT instruction.
type OutDest uint8

const (
	OutDestPins    OutDest = 0b000
	OutDestX       OutDest = 0b001
	OutDestY       OutDest = 0b010
	OutDestNull    OutDest = 0b011
	OutDestPindirs OutDest = 0b100
	OutDestPC      OutDest = 0b101
	OutDestISR     OutDest = 0b110
	OutDestExec    OutDest = 0b111
)

// MovDest is the destination of a MOV instruction.
type MovDest uint8

const (
	MovDestPins MovDest = 0b000
	MovDestX    MovDest = 0b001
	MovDestY    MovDest = 0b010
	MovDestExec MovDest = 0b100
	MovDestPC   MovDest = 0b101
	MovDestISR  MovDest = 0b110
	MovDestOSR  MovDest = 0b111
)

// MovSrc is the source of a MOV instruction.
type MovSrc uint8

const (
	MovSrcPins   MovSrc = 0b000
	MovSrcX      MovSrc = 0b001
	MovSrcY      MovSrc = 0b010
	MovSrcNull   MovSrc = 0b011
	MovSrcStatus MovSrc = 0b101
	MovSrcISR    MovSrc = 0b110
	MovSrcOSR    MovSrc = 0b111
)

// SetDest is the destination of a SET instruction.
type SetDest uint8

const (
	SetDestPins    SetDest = 0b000
	SetDestX       SetDest = 0b001
	SetDestY       SetDest = 0b010
	SetDestPindirs SetDest = 0b100
)

// Encode returns the 16-bit instruction word.
func (instr instructionV0) Encode() uint16 { return instr.instr }

// Side sets the side-set value of the instruction. The value occupies
// the most significant SidesetBits of the delay/side-set field.
func (instr instructionV0) Side(value uint8) instructionV0 {
	bits := instr.asm.SidesetBits
	if bits == 0 {
		panic("pio: side-set on program without side-set bits")
	}
	mask := uint16(1)<<bits - 1
	instr.instr |= (uint16(value) & mask) << (13 - bits)
	return instr
}

// Delay sets the number of idle cycles executed after the instruction.
// The delay is truncated to the bits not reserved for side-set.
func (instr instructionV0) Delay(cycles uint8) instructionV0 {
	instr.instr |= uint16(cycles&MaxDelay(instr.asm.SidesetBits)) << 8
	return instr
}

func (asm AssemblerV0) instr(instr uint16) instructionV0 {
	return instructionV0{instr: instr, asm: asm}
}

func (asm AssemblerV0) instrArgs(instr uint16, arg1, arg2 uint8) instructionV0 {
	return asm.instr(encodeInstrAndArgs(instr, arg1, arg2))
}

// Jmp jumps to addr if cond is true.
func (asm AssemblerV0) Jmp(addr uint8, cond JmpCond) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_JMP, uint8(cond&0b111), addr)
}

// WaitGPIO stalls until the absolute GPIO pin has the given polarity.
func (asm AssemblerV0) WaitGPIO(polarity bool, pin uint8) instructionV0 {
	flag := boolAsU8(polarity) << 2
	return asm.instrArgs(_INSTR_BITS_WAIT, 0|flag, pin)
}

// WaitPin stalls until the IN-mapped pin has the given polarity.
func (asm AssemblerV0) WaitPin(polarity bool, pin uint8) instructionV0 {
	flag := boolAsU8(polarity) << 2
	return asm.instrArgs(_INSTR_BITS_WAIT, 1|flag, pin)
}

// WaitIRQ stalls until the IRQ flag has the given polarity.
func (asm AssemblerV0) WaitIRQ(polarity bool, relative bool, irqindex uint8) instructionV0 {
	flag := boolAsU8(polarity) << 2
	return asm.instrArgs(_INSTR_BITS_WAIT, 2|flag, boolAsU8(relative)<<4|irqindex&0b111)
}

// In shifts bitCount bits from src into the ISR. A bitCount of 32 is encoded as 0.
func (asm AssemblerV0) In(src InSrc, bitCount uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_IN, uint8(src)&0b111, bitCount)
}

// Out shifts bitCount bits out of the OSR to dest. A bitCount of 32 is encoded as 0.
func (asm AssemblerV0) Out(dest OutDest, bitCount uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_OUT, uint8(dest)&0b111, bitCount)
}

// Push pushes the ISR into the RX FIFO.
func (asm AssemblerV0) Push(ifFull bool, block bool) instructionV0 {
	arg := boolAsU8(ifFull)<<1 | boolAsU8(block)
	return asm.instrArgs(_INSTR_BITS_PUSH, arg, 0)
}

// Pull loads a word from the TX FIFO into the OSR.
func (asm AssemblerV0) Pull(ifEmpty bool, block bool) instructionV0 {
	arg := boolAsU8(ifEmpty)<<1 | boolAsU8(block)
	return asm.instrArgs(_INSTR_BITS_PULL, arg, 0)
}

// Mov copies src into dest.
func (asm AssemblerV0) Mov(dest MovDest, src MovSrc) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_MOV, uint8(dest)&0b111, uint8(src)&0b111)
}

// MovInvert copies the bitwise complement of src into dest.
func (asm AssemblerV0) MovInvert(dest MovDest, src MovSrc) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_MOV, uint8(dest)&0b111, (1<<3)|uint8(src)&0b111)
}

// MovReverse copies the bit-reversed src into dest.
func (asm AssemblerV0) MovReverse(dest MovDest, src MovSrc) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_MOV, uint8(dest)&0b111, (2<<3)|uint8(src)&0b111)
}

// IRQSet sets the IRQ flag irqIndex without waiting.
func (asm AssemblerV0) IRQSet(relative bool, irqIndex uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_IRQ, 0, boolAsU8(relative)<<4|irqIndex&0b111)
}

// IRQClear clears the IRQ flag irqIndex.
func (asm AssemblerV0) IRQClear(relative bool, irqIndex uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_IRQ, 0b010, boolAsU8(relative)<<4|irqIndex&0b111)
}

// Set writes the 5-bit immediate value to dest.
func (asm AssemblerV0) Set(dest SetDest, value uint8) instructionV0 {
	return asm.instrArgs(_INSTR_BITS_SET, uint8(dest)&0b111, value)
}

// Nop is assembled as `mov y, y`.
func (asm AssemblerV0) Nop() instructionV0 {
	return asm.Mov(MovDestY, MovSrcY)
}
