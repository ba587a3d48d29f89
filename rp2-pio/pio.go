package pio

import (
	"errors"
	"fmt"
)

// PIO errors.
var (
	ErrOutOfProgramSpace   = errors.New("pio: out of program space")
	ErrNoSpaceAtOffset     = errors.New("pio: program space unavailable at offset")
	ErrUnsupportedInstr    = errors.New("pio: instruction not supported by emulator")
	errStateMachineClaimed = errors.New("pio: state machine already claimed")
)

const (
	badStateMachineIndex = "invalid state machine index"
	badPIO               = "invalid PIO"
	badProgramBounds     = "invalid program bounds"
)

// NumPIO is the number of PIO blocks on the RP2040.
const NumPIO = 2

// PIO is a cycle-stepped model of one of the two PIO blocks in the RP2040.
// It holds the shared 32 slot instruction memory, the GPIO levels driven
// by the block and four state machines.
type PIO struct {
	index uint8
	// Instruction memory. Each PIO has 32 slots for instructions.
	instrMem [InstructionMemorySize]uint16
	// Bitmask of used instruction space.
	usedSpaceMask uint32
	// Bitmask of used state machines. Each PIO has 4 state machines.
	claimedSMMask uint8
	enabledMask   uint8
	sm            [4]smState

	pins    uint32
	pindirs uint32
	cycle   uint64
	edges   []Edge
	nc      noCopy
}

// Edge is a level change of a GPIO driven by the PIO block.
type Edge struct {
	Cycle uint64
	Pin   uint8
	Level bool
}

// NewPIO returns an idle PIO block with empty instruction memory.
// index is 0 for PIO0 and 1 for PIO1.
func NewPIO(index uint8) *PIO {
	if index >= NumPIO {
		panic(badPIO)
	}
	pio := &PIO{index: index}
	for i := range pio.sm {
		pio.sm[i].cfg = DefaultStateMachineConfig()
	}
	return pio
}

// BlockIndex returns 0 or 1 depending on whether the block models PIO0 or PIO1.
func (pio *PIO) BlockIndex() uint8 { return pio.index }

// StateMachine returns a state machine by index.
func (pio *PIO) StateMachine(index uint8) StateMachine {
	if index > 3 {
		panic(badStateMachineIndex)
	}
	return StateMachine{
		pio:   pio,
		index: index,
	}
}

// ClaimStateMachine returns an unused state machine
// or an error if all state machines on this PIO are claimed.
func (pio *PIO) ClaimStateMachine() (sm StateMachine, err error) {
	for i := uint8(0); i < 4; i++ {
		sm = pio.StateMachine(i)
		if sm.TryClaim() {
			return sm, nil
		}
	}
	return StateMachine{}, errStateMachineClaimed
}

// AddProgram loads a PIO program into PIO memory and returns the offset where it was loaded.
// This function will try to find the next available slot of memory for the program
// and will return an error if there is not enough memory to add the program.
//
// The instructions argument holds program binary code in 16-bit words.
// origin indicates where in the PIO execution memory the program must be loaded,
// or -1 if the code is position independent.
func (pio *PIO) AddProgram(instructions []uint16, origin int8) (offset uint8, _ error) {
	maybeOffset := pio.findOffsetForProgram(instructions, origin)
	if maybeOffset < 0 {
		return 0, ErrOutOfProgramSpace
	}
	offset = uint8(maybeOffset)
	return offset, pio.AddProgramAtOffset(instructions, origin, offset)
}

// AddProgramAtOffset loads a PIO program into PIO memory at a specific offset
// and returns a non-nil error if there is not enough space.
func (pio *PIO) AddProgramAtOffset(instructions []uint16, origin int8, offset uint8) error {
	if !pio.CanAddProgramAtOffset(instructions, origin, offset) {
		return ErrNoSpaceAtOffset
	}

	programLen := uint8(len(instructions))
	for i := uint8(0); i < programLen; i++ {
		instr := instructions[i]

		// Patch jump instructions with relative offset
		if _INSTR_BITS_JMP == majorInstrBits(instr) {
			pio.instrMem[offset+i] = instr + uint16(offset)
		} else {
			pio.instrMem[offset+i] = instr
		}
	}

	// Mark the instruction space as in-use
	pio.usedSpaceMask |= programMask(len(instructions)) << uint32(offset)
	return nil
}

// CanAddProgramAtOffset returns true if there is enough space for program at given offset.
func (pio *PIO) CanAddProgramAtOffset(instructions []uint16, origin int8, offset uint8) bool {
	// Non-relocatable programs must be added at offset
	if origin >= 0 && origin != int8(offset) {
		return false
	}
	if len(instructions) == 0 || int(offset)+len(instructions) > InstructionMemorySize {
		return false
	}
	return pio.usedSpaceMask&(programMask(len(instructions))<<offset) == 0
}

func programMask(n int) uint32 {
	if n >= 32 {
		return 0xffff_ffff
	}
	return uint32(1)<<n - 1
}

func (pio *PIO) findOffsetForProgram(instructions []uint16, origin int8) int8 {
	programLen := uint32(len(instructions))
	if programLen == 0 || programLen > InstructionMemorySize {
		return -1
	}
	mask := programMask(len(instructions))

	// Program has fixed offset (not relocatable)
	if origin >= 0 {
		if uint32(origin) > 32-programLen {
			return -1
		}

		if (pio.usedSpaceMask & (mask << origin)) != 0 {
			return -1
		}

		return origin
	}

	// work down from the top always
	for i := int8(32 - programLen); i >= 0; i-- {
		if pio.usedSpaceMask&(mask<<uint32(i)) == 0 {
			return i
		}
	}

	return -1
}

// ClearProgramSection clears a contiguous section of the PIO's program memory.
// To clear all program memory use ClearProgramSection(0, 32).
func (pio *PIO) ClearProgramSection(offset, len uint8) {
	if int(offset)+int(len) > InstructionMemorySize {
		panic(badProgramBounds)
	}
	for i := offset; i < offset+len; i++ {
		// We encode trap instructions to prevent undefined behaviour if
		// a state machine is currently using the program memory.
		pio.instrMem[i] = AssemblerV0{}.Jmp(offset, JmpAlways).Encode()
	}
	pio.usedSpaceMask &^= programMask(int(len)) << offset
}

// InstructionAt returns the word stored in instruction memory at addr.
func (pio *PIO) InstructionAt(addr uint8) uint16 {
	return pio.instrMem[addr%InstructionMemorySize]
}

// UsedSpace returns the bitmask of occupied instruction slots.
func (pio *PIO) UsedSpace() uint32 { return pio.usedSpaceMask }

// Cycle returns the number of clock cycles the block has been ticked.
func (pio *PIO) Cycle() uint64 { return pio.cycle }

// GPIOStates returns the current PIO-commanded state for output GPIOs.
func (pio *PIO) GPIOStates() uint32 { return pio.pins }

// GPIODirections returns the current PIO-commanded pin directions (Output Enable).
func (pio *PIO) GPIODirections() uint32 { return pio.pindirs }

// Edges returns the recorded GPIO level changes in cycle order.
func (pio *PIO) Edges() []Edge { return pio.edges }

// PinEdges returns the recorded level changes of a single GPIO.
func (pio *PIO) PinEdges(pin uint8) []Edge {
	var edges []Edge
	for _, e := range pio.edges {
		if e.Pin == pin {
			edges = append(edges, e)
		}
	}
	return edges
}

// ResetTrace discards the recorded edges.
func (pio *PIO) ResetTrace() { pio.edges = pio.edges[:0] }

// Tick advances every enabled state machine by one clock cycle.
func (pio *PIO) Tick() error {
	for i := uint8(0); i < 4; i++ {
		if pio.enabledMask&(1<<i) == 0 {
			continue
		}
		if err := pio.StateMachine(i).clock(); err != nil {
			return fmt.Errorf("pio%d sm%d: %w", pio.index, i, err)
		}
	}
	pio.cycle++
	return nil
}

// Run ticks the block n times.
func (pio *PIO) Run(n uint64) error {
	for i := uint64(0); i < n; i++ {
		if err := pio.Tick(); err != nil {
			return err
		}
	}
	return nil
}

func (pio *PIO) writePins(base, count uint8, value uint32) {
	for i := uint8(0); i < count; i++ {
		pin := (base + i) % 32
		pio.setPin(pin, value&(1<<i) != 0)
	}
}

func (pio *PIO) writePindirs(base, count uint8, value uint32) {
	for i := uint8(0); i < count; i++ {
		pin := (base + i) % 32
		if value&(1<<i) != 0 {
			pio.pindirs |= 1 << pin
		} else {
			pio.pindirs &^= 1 << pin
		}
	}
}

func (pio *PIO) setPin(pin uint8, level bool) {
	old := pio.pins&(1<<pin) != 0
	if old == level {
		return
	}
	if level {
		pio.pins |= 1 << pin
	} else {
		pio.pins &^= 1 << pin
	}
	pio.edges = append(pio.edges, Edge{Cycle: pio.cycle, Pin: pin, Level: level})
}

// noCopy may be embedded into structs which must not be copied
// after the first use.
//
// See https://golang.org/issues/8005#issuecomment-190753527
// for details.
type noCopy struct{}

// Lock is a no-op used by -copylocks checker from `go vet`.
func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
