package pio

import (
	"fmt"
	"math/bits"
)

// clock advances the state machine by one cycle: either a pending delay
// cycle is consumed or the instruction at the program counter is executed.
func (sm StateMachine) clock() error {
	st := sm.state()
	if st.delay > 0 {
		st.delay--
		return nil
	}
	instr := sm.pio.instrMem[st.pc]
	sm.applySideSet(instr)
	jumped, err := sm.execute(instr)
	if err == errStall {
		// Stalled instructions are retried on the next cycle and do
		// not start their delay.
		st.stalled = true
		return nil
	} else if err != nil {
		return fmt.Errorf("pc=%d instr=%#04x: %w", st.pc, instr, err)
	}
	st.stalled = false
	if !jumped {
		sm.advancePC()
	}
	st.delay = delayField(instr, st.cfg.SidesetBits())
	return nil
}

func (sm StateMachine) advancePC() {
	st := sm.state()
	wrapTarget, wrap := st.cfg.Wrap()
	if st.pc == wrap {
		st.pc = wrapTarget
		return
	}
	st.pc = (st.pc + 1) % InstructionMemorySize
}

func (sm StateMachine) applySideSet(instr uint16) {
	st := sm.state()
	n := st.cfg.SidesetBits()
	if n == 0 {
		return
	}
	field := (instr >> 8) & 0x1f
	valueBits := n
	if st.cfg.ExecCtrl&smEXECCTRL_SIDE_EN_Msk != 0 {
		if field&0x10 == 0 {
			return
		}
		valueBits--
	}
	value := uint32(field>>(maxDelaySideBits-n)) & (1<<valueBits - 1)
	base := uint8((st.cfg.PinCtrl & smPINCTRL_SIDESET_BASE_Msk) >> smPINCTRL_SIDESET_BASE_Pos)
	if st.cfg.ExecCtrl&smEXECCTRL_SIDE_PINDIR_Msk != 0 {
		sm.pio.writePindirs(base, valueBits, value)
	} else {
		sm.pio.writePins(base, valueBits, value)
	}
}

// execute runs a single instruction. It returns true if the instruction
// wrote the program counter and errStall if it must be retried.
func (sm StateMachine) execute(instr uint16) (jumped bool, err error) {
	st := sm.state()
	arg1 := uint8(instr>>5) & 0b111
	arg2 := uint8(instr) & 0x1f
	switch DecodeKind(instr) {
	case InstrJMP:
		if sm.jmpCondition(JmpCond(arg1)) {
			st.pc = arg2
			return true, nil
		}

	case InstrWAIT:
		polarity := arg1&0b100 != 0
		var level bool
		switch arg1 & 0b11 {
		case 0b00:
			level = sm.pio.pins&(1<<arg2) != 0
		case 0b01:
			inBase := uint8((st.cfg.PinCtrl & smPINCTRL_IN_BASE_Msk) >> smPINCTRL_IN_BASE_Pos)
			level = sm.pio.pins&(1<<((inBase+arg2)%32)) != 0
		default:
			return false, ErrUnsupportedInstr
		}
		if level != polarity {
			return false, errStall
		}

	case InstrIN:
		n := bitCount(arg2)
		var data uint32
		switch InSrc(arg1) {
		case InSrcPins:
			data = sm.inPins()
		case InSrcX:
			data = st.x
		case InSrcY:
			data = st.y
		case InSrcNull:
		case InSrcISR:
			data = st.isr
		case InSrcOSR:
			data = st.osr
		default:
			return false, ErrUnsupportedInstr
		}
		data &= mask(n)
		if st.cfg.ShiftCtrl&smSHIFTCTRL_IN_SHIFTDIR_Msk != 0 {
			st.isr = st.isr>>n | data<<(32-n)
		} else {
			st.isr = st.isr<<n | data
		}
		st.isrCount = min(32, st.isrCount+n)

	case InstrOUT:
		n := bitCount(arg2)
		var data uint32
		if st.cfg.OutShiftRight() {
			data = st.osr & mask(n)
			st.osr >>= n
		} else {
			data = st.osr >> (32 - n)
			st.osr <<= n
		}
		st.osrCount = min(32, st.osrCount+n)
		switch OutDest(arg1) {
		case OutDestPins:
			base, count := st.cfg.OutPins()
			sm.pio.writePins(base, count, data)
		case OutDestX:
			st.x = data
		case OutDestY:
			st.y = data
		case OutDestNull:
		case OutDestPindirs:
			base, count := st.cfg.OutPins()
			sm.pio.writePindirs(base, count, data)
		case OutDestPC:
			st.pc = uint8(data) % InstructionMemorySize
			return true, nil
		case OutDestISR:
			st.isr = data
			st.isrCount = n
		default:
			return false, ErrUnsupportedInstr
		}

	case InstrPUSH:
		ifFull := arg1&0b010 != 0
		block := arg1&0b001 != 0
		if ifFull && st.isrCount < pushThreshold(st.cfg) {
			return false, nil
		}
		if len(st.rx) >= sm.rxDepth() {
			if block {
				return false, errStall
			}
		} else {
			st.rx = append(st.rx, st.isr)
		}
		st.isr = 0
		st.isrCount = 0

	case InstrPULL:
		ifEmpty := arg1&0b010 != 0
		block := arg1&0b001 != 0
		if ifEmpty && st.osrCount < st.cfg.PullThreshold() {
			return false, nil
		}
		if len(st.tx) == 0 {
			if block {
				return false, errStall
			}
			st.osr = st.x
		} else {
			st.osr = st.tx[0]
			st.tx = st.tx[1:]
		}
		st.osrCount = 0

	case InstrMOV:
		var data uint32
		switch MovSrc(arg2 & 0b111) {
		case MovSrcPins:
			data = sm.inPins()
		case MovSrcX:
			data = st.x
		case MovSrcY:
			data = st.y
		case MovSrcNull:
		case MovSrcStatus:
			n := (st.cfg.ExecCtrl & smEXECCTRL_STATUS_N_Msk) >> smEXECCTRL_STATUS_N_Pos
			level := uint32(len(st.tx))
			if st.cfg.ExecCtrl&smEXECCTRL_STATUS_SEL_Msk != 0 {
				level = uint32(len(st.rx))
			}
			if level < n {
				data = 0xffff_ffff
			}
		case MovSrcISR:
			data = st.isr
		case MovSrcOSR:
			data = st.osr
		default:
			return false, ErrUnsupportedInstr
		}
		switch (arg2 >> 3) & 0b11 {
		case 0b01:
			data = ^data
		case 0b10:
			data = bits.Reverse32(data)
		}
		switch MovDest(arg1) {
		case MovDestPins:
			base, count := st.cfg.OutPins()
			sm.pio.writePins(base, count, data)
		case MovDestX:
			st.x = data
		case MovDestY:
			st.y = data
		case MovDestPC:
			st.pc = uint8(data) % InstructionMemorySize
			return true, nil
		case MovDestISR:
			st.isr = data
			st.isrCount = 0
		case MovDestOSR:
			st.osr = data
			st.osrCount = 0
		default:
			return false, ErrUnsupportedInstr
		}

	case InstrSET:
		data := uint32(arg2)
		switch SetDest(arg1) {
		case SetDestPins:
			base, count := st.cfg.SetPins()
			sm.pio.writePins(base, count, data)
		case SetDestX:
			st.x = data
		case SetDestY:
			st.y = data
		case SetDestPindirs:
			base, count := st.cfg.SetPins()
			sm.pio.writePindirs(base, count, data)
		default:
			return false, ErrUnsupportedInstr
		}

	default:
		return false, ErrUnsupportedInstr
	}
	return false, nil
}

func (sm StateMachine) jmpCondition(cond JmpCond) bool {
	st := sm.state()
	switch cond {
	case JmpAlways:
		return true
	case JmpXZero:
		return st.x == 0
	case JmpXNZeroDec:
		ok := st.x != 0
		st.x--
		return ok
	case JmpYZero:
		return st.y == 0
	case JmpYNZeroDec:
		ok := st.y != 0
		st.y--
		return ok
	case JmpXNotEqualY:
		return st.x != st.y
	case JmpPinInput:
		pin := uint8((st.cfg.ExecCtrl & smEXECCTRL_JMP_PIN_Msk) >> smEXECCTRL_JMP_PIN_Pos)
		return sm.pio.pins&(1<<pin) != 0
	default: // JmpOSRNotEmpty
		return st.osrCount < st.cfg.PullThreshold()
	}
}

// inPins returns the GPIO levels rotated so the IN base pin is bit 0.
func (sm StateMachine) inPins() uint32 {
	inBase := int((sm.state().cfg.PinCtrl & smPINCTRL_IN_BASE_Msk) >> smPINCTRL_IN_BASE_Pos)
	return bits.RotateLeft32(sm.pio.pins, -inBase)
}

func pushThreshold(cfg StateMachineConfig) uint8 {
	n := uint8((cfg.ShiftCtrl & smSHIFTCTRL_PUSH_THRESH_Msk) >> smSHIFTCTRL_PUSH_THRESH_Pos)
	if n == 0 {
		return 32
	}
	return n
}

// bitCount decodes the 5-bit IN/OUT bit count where 0 means 32.
func bitCount(arg uint8) uint8 {
	if arg == 0 {
		return 32
	}
	return arg
}

func mask(n uint8) uint32 {
	return uint32(1)<<n - 1
}
