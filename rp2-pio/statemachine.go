package pio

import (
	"errors"
	"math/bits"
)

// StateMachine represents one of the four state machines in a PIO
type StateMachine struct {
	// The pio containing this state machine
	pio *PIO

	// index of this state machine
	index uint8
}

var errStall = errors.New("pio: state machine stalled")

// smState is the internal state of a state machine. Fields mirror the
// registers and hidden counters of the hardware.
type smState struct {
	cfg StateMachineConfig

	pc       uint8
	x, y     uint32
	isr, osr uint32
	// Bits shifted into the ISR / out of the OSR since the last push / pull.
	isrCount, osrCount uint8
	// Remaining delay cycles of the current instruction.
	delay   uint8
	stalled bool

	tx, rx []uint32
	txOver bool
}

const fifoDepth = 4

// IsClaimed returns true if the state machine is claimed by other code and should not be used.
func (sm StateMachine) IsClaimed() bool { return sm.pio.claimedSMMask&(1<<sm.index) != 0 }

// Unclaim releases the state machine for use by other code.
func (sm StateMachine) Unclaim() { sm.pio.claimedSMMask &^= (1 << sm.index) }

// TryClaim attempts to claim the state machine for use by the caller and returns
// true if successful, or false if StateMachine already claimed. Regardless of result
// the state machine is guaranteed to be claimed after the call ends.
func (sm StateMachine) TryClaim() bool {
	if sm.IsClaimed() {
		return false
	}
	sm.pio.claimedSMMask |= 1 << sm.index
	return true
}

// PIO returns the PIO that this state machine is part of.
func (sm StateMachine) PIO() *PIO { return sm.pio }

// StateMachineIndex returns the index of the state machine within the PIO.
func (sm StateMachine) StateMachineIndex() uint8 { return sm.index }

// IsValid returns true if state machine is a valid instance.
func (sm StateMachine) IsValid() bool {
	return sm.pio != nil && sm.index <= 3
}

func (sm StateMachine) state() *smState { return &sm.pio.sm[sm.index] }

// Init initializes the state machine
//
// initialPC is the initial program counter
// cfg is optional.  If the zero value of StateMachineConfig is used
// then the default configuration is used.
func (sm StateMachine) Init(initialPC uint8, cfg StateMachineConfig) {
	if sm.index > 3 {
		panic(badStateMachineIndex)
	}

	// Halt the state machine to set sensible defaults
	sm.SetEnabled(false)

	if cfg == (StateMachineConfig{}) {
		cfg = DefaultStateMachineConfig()
	}
	sm.SetConfig(cfg)
	sm.ClearFIFOs()
	sm.Restart()
	sm.Jmp(initialPC, JmpAlways)
}

// SetEnabled controls whether the state machine is running.
func (sm StateMachine) SetEnabled(enabled bool) {
	if enabled {
		sm.pio.enabledMask |= 1 << sm.index
	} else {
		sm.pio.enabledMask &^= 1 << sm.index
	}
}

// IsEnabled returns true if the state machine is running.
func (sm StateMachine) IsEnabled() bool {
	return sm.pio.enabledMask&(1<<sm.index) != 0
}

// Restart clears internal StateMachine state which may otherwise be difficult to access, e.g. shift counters.
func (sm StateMachine) Restart() {
	st := sm.state()
	st.isrCount = 0
	// An empty OSR reads as fully shifted out.
	st.osrCount = 32
	st.delay = 0
	st.stalled = false
}

// SetConfig applies state machine configuration to a state machine
func (sm StateMachine) SetConfig(cfg StateMachineConfig) {
	sm.state().cfg = cfg
}

// Config returns the active state machine configuration.
func (sm StateMachine) Config() StateMachineConfig { return sm.state().cfg }

// SetClkDiv sets the clock divider for the state machine from a whole and fractional part where:
//
//	Frequency = clock freq / (CLKDIV_INT + CLKDIV_FRAC / 256)
func (sm StateMachine) SetClkDiv(whole uint16, frac uint8) {
	sm.state().cfg.SetClkDivIntFrac(whole, frac)
}

func (sm StateMachine) txDepth() int {
	switch sm.state().cfg.FIFOJoin() {
	case FifoJoinTx:
		return 2 * fifoDepth
	case FifoJoinRx:
		return 0
	}
	return fifoDepth
}

func (sm StateMachine) rxDepth() int {
	switch sm.state().cfg.FIFOJoin() {
	case FifoJoinRx:
		return 2 * fifoDepth
	case FifoJoinTx:
		return 0
	}
	return fifoDepth
}

// TxPut puts a value into the state machine's TX FIFO.
//
// This function does not check for fullness. If the FIFO is full the FIFO
// contents are not affected and the sticky TXOVER flag is set.
func (sm StateMachine) TxPut(data uint32) {
	st := sm.state()
	if len(st.tx) >= sm.txDepth() {
		st.txOver = true
		return
	}
	st.tx = append(st.tx, data)
}

// RxGet reads a word of data from a state machine's RX FIFO.
// It returns zero if the FIFO is empty.
func (sm StateMachine) RxGet() uint32 {
	st := sm.state()
	if len(st.rx) == 0 {
		return 0
	}
	v := st.rx[0]
	st.rx = st.rx[1:]
	return v
}

// TxOverflowed reports and clears the sticky TX overflow flag.
func (sm StateMachine) TxOverflowed() bool {
	st := sm.state()
	over := st.txOver
	st.txOver = false
	return over
}

// RxFIFOLevel returns the number of elements currently in a state machine's RX FIFO.
func (sm StateMachine) RxFIFOLevel() uint32 { return uint32(len(sm.state().rx)) }

// TxFIFOLevel returns the number of elements currently in a state machine's TX FIFO.
func (sm StateMachine) TxFIFOLevel() uint32 { return uint32(len(sm.state().tx)) }

// IsTxFIFOEmpty returns true if state machine's TX FIFO is empty.
func (sm StateMachine) IsTxFIFOEmpty() bool { return len(sm.state().tx) == 0 }

// IsTxFIFOFull returns true if state machine's TX FIFO is full.
func (sm StateMachine) IsTxFIFOFull() bool { return len(sm.state().tx) >= sm.txDepth() }

// IsRxFIFOEmpty returns true if state machine's RX FIFO is empty.
func (sm StateMachine) IsRxFIFOEmpty() bool { return len(sm.state().rx) == 0 }

// IsRxFIFOFull returns true if state machine's RX FIFO is full.
func (sm StateMachine) IsRxFIFOFull() bool { return len(sm.state().rx) >= sm.rxDepth() }

// ClearFIFOs clears the TX and RX FIFOs of a state machine.
func (sm StateMachine) ClearFIFOs() {
	st := sm.state()
	st.tx = st.tx[:0]
	st.rx = st.rx[:0]
}

// IsStalled reports whether the last executed instruction stalled,
// for example a blocking PULL on an empty TX FIFO.
func (sm StateMachine) IsStalled() bool { return sm.state().stalled }

// PC returns the current program counter.
func (sm StateMachine) PC() uint8 { return sm.state().pc }

// Exec will immediately execute an instruction on the state machine.
// Instructions that would stall are discarded.
func (sm StateMachine) Exec(instr uint16) error {
	_, err := sm.execute(instr)
	if err == errStall {
		return nil
	}
	return err
}

// RunUntilStall ticks the parent PIO block until the state machine stalls
// with an empty TX FIFO or maxCycles elapse. It returns the number of cycles run.
func (sm StateMachine) RunUntilStall(maxCycles uint64) (uint64, error) {
	var n uint64
	for n < maxCycles {
		if err := sm.pio.Tick(); err != nil {
			return n, err
		}
		n++
		st := sm.state()
		if st.stalled && len(st.tx) == 0 {
			break
		}
	}
	return n, nil
}

// SetPindirsConsecutive sets a range of pins to either 'in' or 'out'. This must be done
// for all used pins before the state machine is started, including SET, IN, OUT and SIDESET pins.
func (sm StateMachine) SetPindirsConsecutive(pin uint8, count uint8, isOut bool) {
	checkPinBaseAndCount(pin, count)
	sm.SetPindirsMasked(makePinmask(pin, count, uint8(boolToBit(isOut))))
}

// SetPinsConsecutive sets a range of pins initial starting values.
func (sm StateMachine) SetPinsConsecutive(pin uint8, count uint8, level bool) {
	checkPinBaseAndCount(pin, count)
	sm.SetPinsMasked(makePinmask(pin, count, uint8(boolToBit(level))))
}

func makePinmask(base, count, bit uint8) (valMask, pinMask uint32) {
	start := uint8(base)
	end := start + count
	for shift := start; shift < end; shift++ {
		valMask |= uint32(bit) << shift
		pinMask |= 1 << shift
	}
	return valMask, pinMask
}

// SetPinsMasked sets a value on multiple pins for the PIO instance.
// Use this method as convenience to set initial pin states BEFORE running state machine.
func (sm StateMachine) SetPinsMasked(valueMask, pinMask uint32) {
	sm.setPinExec(SetDestPins, valueMask, pinMask)
}

// SetPindirsMasked sets the pin directions (input/output) on multiple pins for
// the PIO instance.
// Use this method as convenience to set initial pin states BEFORE running state machine.
func (sm StateMachine) SetPindirsMasked(dirMask, pinMask uint32) {
	sm.setPinExec(SetDestPindirs, dirMask, pinMask)
}

func (sm StateMachine) setPinExec(dest SetDest, valueMask, pinMask uint32) {
	st := sm.state()
	saved := st.cfg
	for pinMask != 0 {
		base := uint8(bits.TrailingZeros32(pinMask))
		st.cfg.SetSetPins(base, 1)
		value := 0x1 & uint8(valueMask>>base)
		sm.Exec(AssemblerV0{}.Set(dest, value).Encode())
		pinMask &= pinMask - 1
	}
	st.cfg = saved
}

// SetWrap sets the current wrap configuration for a state machine.
func (sm StateMachine) SetWrap(target, wrap uint8) {
	if wrap >= 32 || target >= 32 {
		panic("pio:bad wrap")
	}
	sm.state().cfg.SetWrap(target, wrap)
}

// SetX sets the X register of a state machine. The state machine should be halted beforehand.
func (sm StateMachine) SetX(value uint32) { sm.state().x = value }

// SetY sets the Y register of a state machine. The state machine should be halted beforehand.
func (sm StateMachine) SetY(value uint32) { sm.state().y = value }

// GetX gets the X register of a state machine.
func (sm StateMachine) GetX() uint32 { return sm.state().x }

// GetY gets the Y register of a state machine.
func (sm StateMachine) GetY() uint32 { return sm.state().y }

// Jmp sets the program counter of a state machine to a PIO program address given a condition.
// The state machine should be halted beforehand.
func (sm StateMachine) Jmp(toAddr uint8, cond JmpCond) {
	sm.Exec(AssemblerV0{}.Jmp(toAddr, cond).Encode())
}
