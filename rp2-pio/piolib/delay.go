package piolib

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	// MaxDelay is the largest inline delay of an instruction without side-set.
	MaxDelay = 31
	// CyclesPerInstr is the number of cycles of an instruction with MaxDelay.
	CyclesPerInstr = MaxDelay + 1
	// MaxFillers is the number of nop instructions a phase may be padded with.
	MaxFillers = 3
	// MaxCycles is the longest phase that can be planned.
	MaxCycles = CyclesPerInstr * (1 + MaxFillers)
)

// DelayPlan is the sequence of inline delays that together hold a pin for
// a number of cycles. The first delay belongs to the instruction that
// drives the pin, the rest to filler nops. A DelayPlan is a value and
// cannot be modified after PlanDelay returns it.
type DelayPlan struct {
	delays [1 + MaxFillers]uint8
	n      uint8
}

// PlanDelay splits cycles into inline delays of at most MaxDelay.
func PlanDelay(cycles int) (DelayPlan, error) {
	var p DelayPlan
	if cycles <= 0 {
		return p, ErrZeroTiming
	}
	if fillerCount(cycles) > MaxFillers {
		return p, fmt.Errorf("%w: %d cycles, at most %d", ErrTimingTooLong, cycles, MaxCycles)
	}
	if cycles < CyclesPerInstr {
		p.push(cycles - 1)
		return p, nil
	}
	p.push(MaxDelay)
	remaining := cycles - CyclesPerInstr
	for remaining > 0 {
		if remaining >= CyclesPerInstr {
			p.push(MaxDelay)
			remaining -= CyclesPerInstr
		} else {
			p.push(remaining - 1)
			remaining = 0
		}
	}
	return p, nil
}

// fillerCount returns the number of filler instructions PlanDelay needs
// for cycles. ValidateTiming relies on it to reject timings up front.
func fillerCount(cycles int) int {
	if cycles <= CyclesPerInstr {
		return 0
	}
	return (cycles - 1) / CyclesPerInstr
}

func (p *DelayPlan) push(delay int) {
	p.delays[p.n] = uint8(delay)
	p.n++
}

// First returns the delay of the pin driving instruction.
func (p DelayPlan) First() int { return int(p.delays[0]) }

// Fillers returns the delays of the filler nops.
func (p DelayPlan) Fillers() []int {
	if p.n <= 1 {
		return nil
	}
	fillers := make([]int, 0, p.n-1)
	for _, d := range p.delays[1:p.n] {
		fillers = append(fillers, int(d))
	}
	return fillers
}

// Len returns the number of instructions in the plan.
func (p DelayPlan) Len() int { return int(p.n) }

// At returns the i'th delay.
func (p DelayPlan) At(i int) int {
	if i < 0 || i >= int(p.n) {
		panic("piolib: DelayPlan index out of range")
	}
	return int(p.delays[i])
}

// Cycles returns the number of cycles the plan takes.
func (p DelayPlan) Cycles() int {
	total := 0
	for _, d := range p.delays[:p.n] {
		total += int(d) + 1
	}
	return total
}

func (p DelayPlan) String() string {
	parts := make([]string, p.n)
	for i, d := range p.delays[:p.n] {
		parts[i] = strconv.Itoa(int(d))
	}
	return "[" + strings.Join(parts, " ") + "]"
}
