package pio

import (
	"errors"
	"math"
)

// InstrKind is a enum for the PIO instruction type. It only represents the kind of
// instruction. It cannot store the arguments.
type InstrKind uint8

const (
	InstrJMP InstrKind = iota
	InstrWAIT
	InstrIN
	InstrOUT
	InstrPUSH // PUSH and PULL share major opcode 0b100.
	InstrMOV
	InstrIRQ
	InstrSET
	InstrPULL
)

// This file contains the primitives for creating instructions dynamically
const (
	_INSTR_BITS_JMP  = 0x0000
	_INSTR_BITS_WAIT = 0x2000
	_INSTR_BITS_IN   = 0x4000
	_INSTR_BITS_OUT  = 0x6000
	_INSTR_BITS_PUSH = 0x8000
	_INSTR_BITS_PULL = 0x8080
	_INSTR_BITS_MOV  = 0xa000
	_INSTR_BITS_IRQ  = 0xc000
	_INSTR_BITS_SET  = 0xe000

	// Bit mask for instruction code
	_INSTR_BITS_Msk = 0xe000
)

const (
	// InstructionMemorySize is the number of 16-bit instruction slots in a PIO block.
	InstructionMemorySize = 32
	// maxDelaySideBits is the width of the shared delay/side-set field.
	maxDelaySideBits = 5
)

// JmpCond is the condition field of a JMP instruction.
type JmpCond uint8

const (
	// No condition, always jumps.
	JmpAlways JmpCond = iota
	// Jump if X is zero.
	JmpXZero
	// Jump if X is not zero, prior to decrement of X.
	JmpXNZeroDec
	// Jump if Y is zero.
	JmpYZero
	// Jump if Y is not zero, prior to decrement of Y.
	JmpYNZeroDec
	// Jump if X is not equal to Y.
	JmpXNotEqualY
	// Jump if EXECCTRL_JMP_PIN (state machine configured) is high.
	JmpPinInput
	// Compares the bits shifted out since last pull with the shift count theshold
	// (configured by SHIFTCTRL_PULL_THRESH) and jumps if there are remaining bits to shift.
	JmpOSRNotEmpty
)

// DecodeKind returns the kind of an encoded instruction.
func DecodeKind(instr uint16) InstrKind {
	switch majorInstrBits(instr) {
	case _INSTR_BITS_JMP:
		return InstrJMP
	case _INSTR_BITS_WAIT:
		return InstrWAIT
	case _INSTR_BITS_IN:
		return InstrIN
	case _INSTR_BITS_OUT:
		return InstrOUT
	case _INSTR_BITS_PUSH:
		if instr&0x0080 != 0 {
			return InstrPULL
		}
		return InstrPUSH
	case _INSTR_BITS_MOV:
		return InstrMOV
	case _INSTR_BITS_IRQ:
		return InstrIRQ
	default:
		return InstrSET
	}
}

// MaxDelay returns the largest delay encodable in an instruction when
// sidesetBits bits of the delay/side-set field are taken by side-set.
func MaxDelay(sidesetBits uint8) uint8 {
	if sidesetBits >= maxDelaySideBits {
		return 0
	}
	return 1<<(maxDelaySideBits-sidesetBits) - 1
}

func majorInstrBits(instr uint16) uint16 {
	return instr & _INSTR_BITS_Msk
}

func encodeInstrAndArgs(instr uint16, arg1 uint8, arg2 uint8) uint16 {
	return instr | (uint16(arg1) << 5) | uint16(arg2&0x1f)
}

// delayField extracts the delay cycles of an encoded instruction.
func delayField(instr uint16, sidesetBits uint8) uint8 {
	return uint8(instr>>8) & MaxDelay(sidesetBits)
}

// ClkDivFromPeriod calculates the CLKDIV register values
// to reach a given StateMachine cycle period given the RP2040 CPU frequency.
// period is expected to be in nanoseconds. freq is expected to be in Hz.
//
// Prefer using ClkDivFromFrequency if possible for speed and accuracy.
func ClkDivFromPeriod(period, cpuFreq uint32) (whole uint16, frac uint8, err error) {
	//  freq = 256*clockfreq / (256*whole + frac)
	// where period = 1e9/freq => freq = 1e9/period, so:
	//  1e9/period = 256*clockfreq / (256*whole + frac) =>
	//  256*whole + frac = 256*clockfreq*period/1e9
	return splitClkdiv(256 * uint64(period) * uint64(cpuFreq) / uint64(1e9))
}

// ClkDivFromFrequency calculates the CLKDIV register values
// to reach a given StateMachine cycle frequency. freq and cpuFreq are expected to be in Hz.
//
// Use powers of two for freq to avoid slow divisions and rounding errors.
func ClkDivFromFrequency(freq, cpuFreq uint32) (whole uint16, frac uint8, err error) {
	if freq == 0 {
		return 0, 0, errors.New("ClkDiv: zero frequency")
	}
	//  freq = 256*clockfreq / (256*whole + frac)
	//  256*whole + frac = 256*clockfreq / freq
	return splitClkdiv(256 * uint64(cpuFreq) / uint64(freq))
}

// ClkDivFrequency returns the state machine frequency in Hz obtained
// from cpuFreq with the given divider.
func ClkDivFrequency(whole uint16, frac uint8, cpuFreq uint32) float64 {
	return 256 * float64(cpuFreq) / (256*float64(whole) + float64(frac))
}

func splitClkdiv(clkdiv uint64) (whole uint16, frac uint8, err error) {
	if clkdiv > 256*math.MaxUint16 {
		return 0, 0, errors.New("ClkDiv: too large period or CPU frequency")
	} else if clkdiv < 256 {
		return 0, 0, errors.New("ClkDiv: too small period or CPU frequency")
	}
	whole = uint16(clkdiv / 256)
	frac = uint8(clkdiv % 256)
	return whole, frac, nil
}

func boolAsU8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
