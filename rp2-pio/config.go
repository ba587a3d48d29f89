package pio

// Register field positions of the RP2040 PIO state machine registers.
const (
	smCLKDIV_FRAC_Pos = 8
	smCLKDIV_INT_Pos  = 16

	smEXECCTRL_STATUS_N_Pos    = 0
	smEXECCTRL_STATUS_N_Msk    = 0xf << smEXECCTRL_STATUS_N_Pos
	smEXECCTRL_STATUS_SEL_Pos  = 4
	smEXECCTRL_STATUS_SEL_Msk  = 0x1 << smEXECCTRL_STATUS_SEL_Pos
	smEXECCTRL_WRAP_BOTTOM_Pos = 7
	smEXECCTRL_WRAP_BOTTOM_Msk = 0x1f << smEXECCTRL_WRAP_BOTTOM_Pos
	smEXECCTRL_WRAP_TOP_Pos    = 12
	smEXECCTRL_WRAP_TOP_Msk    = 0x1f << smEXECCTRL_WRAP_TOP_Pos
	smEXECCTRL_JMP_PIN_Pos     = 24
	smEXECCTRL_JMP_PIN_Msk     = 0x1f << smEXECCTRL_JMP_PIN_Pos
	smEXECCTRL_SIDE_PINDIR_Pos = 29
	smEXECCTRL_SIDE_PINDIR_Msk = 0x1 << smEXECCTRL_SIDE_PINDIR_Pos
	smEXECCTRL_SIDE_EN_Pos     = 30
	smEXECCTRL_SIDE_EN_Msk     = 0x1 << smEXECCTRL_SIDE_EN_Pos

	smSHIFTCTRL_AUTOPUSH_Pos     = 16
	smSHIFTCTRL_AUTOPUSH_Msk     = 0x1 << smSHIFTCTRL_AUTOPUSH_Pos
	smSHIFTCTRL_AUTOPULL_Pos     = 17
	smSHIFTCTRL_AUTOPULL_Msk     = 0x1 << smSHIFTCTRL_AUTOPULL_Pos
	smSHIFTCTRL_IN_SHIFTDIR_Pos  = 18
	smSHIFTCTRL_IN_SHIFTDIR_Msk  = 0x1 << smSHIFTCTRL_IN_SHIFTDIR_Pos
	smSHIFTCTRL_OUT_SHIFTDIR_Pos = 19
	smSHIFTCTRL_OUT_SHIFTDIR_Msk = 0x1 << smSHIFTCTRL_OUT_SHIFTDIR_Pos
	smSHIFTCTRL_PUSH_THRESH_Pos  = 20
	smSHIFTCTRL_PUSH_THRESH_Msk  = 0x1f << smSHIFTCTRL_PUSH_THRESH_Pos
	smSHIFTCTRL_PULL_THRESH_Pos  = 25
	smSHIFTCTRL_PULL_THRESH_Msk  = 0x1f << smSHIFTCTRL_PULL_THRESH_Pos
	smSHIFTCTRL_FJOIN_TX_Pos     = 30
	smSHIFTCTRL_FJOIN_TX_Msk     = 0x1 << smSHIFTCTRL_FJOIN_TX_Pos
	smSHIFTCTRL_FJOIN_RX_Pos     = 31
	smSHIFTCTRL_FJOIN_RX_Msk     = 0x1 << smSHIFTCTRL_FJOIN_RX_Pos

	smPINCTRL_OUT_BASE_Pos      = 0
	smPINCTRL_OUT_BASE_Msk      = 0x1f << smPINCTRL_OUT_BASE_Pos
	smPINCTRL_SET_BASE_Pos      = 5
	smPINCTRL_SET_BASE_Msk      = 0x1f << smPINCTRL_SET_BASE_Pos
	smPINCTRL_SIDESET_BASE_Pos  = 10
	smPINCTRL_SIDESET_BASE_Msk  = 0x1f << smPINCTRL_SIDESET_BASE_Pos
	smPINCTRL_IN_BASE_Pos       = 15
	smPINCTRL_IN_BASE_Msk       = 0x1f << smPINCTRL_IN_BASE_Pos
	smPINCTRL_OUT_COUNT_Pos     = 20
	smPINCTRL_OUT_COUNT_Msk     = 0x3f << smPINCTRL_OUT_COUNT_Pos
	smPINCTRL_SET_COUNT_Pos     = 26
	smPINCTRL_SET_COUNT_Msk     = 0x7 << smPINCTRL_SET_COUNT_Pos
	smPINCTRL_SIDESET_COUNT_Pos = 29
	smPINCTRL_SIDESET_COUNT_Msk = 0x7 << smPINCTRL_SIDESET_COUNT_Pos
)

// DefaultStateMachineConfig returns the default configuration
// for a PIO state machine.
//
// The default configuration here, mirrors the state from
// pio_get_default_sm_config in the c-sdk.
func DefaultStateMachineConfig() StateMachineConfig {
	cfg := StateMachineConfig{}
	cfg.SetClkDivIntFrac(1, 0)
	cfg.SetWrap(0, 31)
	cfg.SetInShift(true, false, 32)
	cfg.SetOutShift(true, false, 32)
	return cfg
}

// StateMachineConfig holds the register values of a PIO state
// machine configuration.
type StateMachineConfig struct {
	// Clock divisor register for state machine N
	//  Frequency = clock freq / (CLKDIV_INT + CLKDIV_FRAC / 256)
	ClkDiv uint32
	// Execution/behavioural settings for state machine N
	ExecCtrl uint32
	// Control behaviour of the input/output shift registers for state machine N.
	ShiftCtrl uint32
	// State machine pin control.
	PinCtrl uint32
}

// SetClkDivIntFrac sets the clock divider for the state
// machine from a whole and fractional part.
//
//	Frequency = clock freq / (CLKDIV_INT + CLKDIV_FRAC / 256)
func (cfg *StateMachineConfig) SetClkDivIntFrac(whole uint16, frac uint8) {
	cfg.ClkDiv = clkDiv(whole, frac)
}

// ClkDivIntFrac returns the whole and fractional clock divider.
func (cfg StateMachineConfig) ClkDivIntFrac() (whole uint16, frac uint8) {
	return uint16(cfg.ClkDiv >> smCLKDIV_INT_Pos), uint8(cfg.ClkDiv >> smCLKDIV_FRAC_Pos)
}

func clkDiv(whole uint16, frac uint8) uint32 {
	return (uint32(frac) << smCLKDIV_FRAC_Pos) |
		(uint32(whole) << smCLKDIV_INT_Pos)
}

// SetWrap sets the wrapping configuration for the state machine
func (cfg *StateMachineConfig) SetWrap(wrapTarget uint8, wrap uint8) {
	cfg.ExecCtrl =
		(cfg.ExecCtrl & ^uint32(smEXECCTRL_WRAP_TOP_Msk|smEXECCTRL_WRAP_BOTTOM_Msk)) |
			(uint32(wrapTarget&0x1f) << smEXECCTRL_WRAP_BOTTOM_Pos) |
			(uint32(wrap&0x1f) << smEXECCTRL_WRAP_TOP_Pos)
}

// Wrap returns the wrap target and wrap source addresses.
func (cfg StateMachineConfig) Wrap() (wrapTarget, wrap uint8) {
	wrapTarget = uint8((cfg.ExecCtrl & smEXECCTRL_WRAP_BOTTOM_Msk) >> smEXECCTRL_WRAP_BOTTOM_Pos)
	wrap = uint8((cfg.ExecCtrl & smEXECCTRL_WRAP_TOP_Msk) >> smEXECCTRL_WRAP_TOP_Pos)
	return wrapTarget, wrap
}

// SetInShift sets the 'in' shifting parameters in a state machine configuration
//   - shiftRight is true if ISR shift direction is right, false if left.
//   - autoPush enables automatic ISR refilling after all of the ISR bits have been consumed.
//   - pushThreshold is threshold in bits to shift in before auto/conditional re-pushing of the ISR.
func (cfg *StateMachineConfig) SetInShift(shiftRight bool, autoPush bool, pushThreshold uint16) {
	cfg.ShiftCtrl = cfg.ShiftCtrl &
		^uint32(smSHIFTCTRL_IN_SHIFTDIR_Msk|
			smSHIFTCTRL_AUTOPUSH_Msk|
			smSHIFTCTRL_PUSH_THRESH_Msk) |
		(boolToBit(shiftRight) << smSHIFTCTRL_IN_SHIFTDIR_Pos) |
		(boolToBit(autoPush) << smSHIFTCTRL_AUTOPUSH_Pos) |
		(uint32(pushThreshold&0x1f) << smSHIFTCTRL_PUSH_THRESH_Pos)
}

// SetOutShift sets the 'out' shifting parameters in a state machine configuration
//   - shiftRight is true if OSR shift direction is right, false if left.
//   - autoPull enables automatic OSR refilling after all of the OSR bits have been consumed.
//   - pullThreshold is threshold in bits to shift out before auto/conditional re-pulling of the OSR.
func (cfg *StateMachineConfig) SetOutShift(shiftRight bool, autoPull bool, pullThreshold uint16) {
	cfg.ShiftCtrl = cfg.ShiftCtrl &
		^uint32(smSHIFTCTRL_OUT_SHIFTDIR_Msk|
			smSHIFTCTRL_AUTOPULL_Msk|
			smSHIFTCTRL_PULL_THRESH_Msk) |
		(boolToBit(shiftRight) << smSHIFTCTRL_OUT_SHIFTDIR_Pos) |
		(boolToBit(autoPull) << smSHIFTCTRL_AUTOPULL_Pos) |
		(uint32(pullThreshold&0x1f) << smSHIFTCTRL_PULL_THRESH_Pos)
}

// OutShiftRight reports whether the OSR shifts to the right.
func (cfg StateMachineConfig) OutShiftRight() bool {
	return cfg.ShiftCtrl&smSHIFTCTRL_OUT_SHIFTDIR_Msk != 0
}

// PullThreshold returns the OSR pull threshold in bits (1..32).
func (cfg StateMachineConfig) PullThreshold() uint8 {
	n := uint8((cfg.ShiftCtrl & smSHIFTCTRL_PULL_THRESH_Msk) >> smSHIFTCTRL_PULL_THRESH_Pos)
	if n == 0 {
		return 32
	}
	return n
}

// SetSidesetParams sets the side-set parameters in a state machine configuration.
//   - bitcount is number of bits to steal from delay field in the instruction for use of side set (max 5).
//   - optional is true if the topmost side set bit is used as a flag for whether to apply side set on that instruction.
//   - pindirs is true if the side-set affects pin directions rather than values.
func (cfg *StateMachineConfig) SetSidesetParams(bitCount uint8, optional bool, pindirs bool) {
	if bitCount > 5 {
		panic("SetSideSet: bitCount")
	}
	cfg.PinCtrl = (cfg.PinCtrl & ^uint32(smPINCTRL_SIDESET_COUNT_Msk)) |
		(uint32(bitCount) << uint32(smPINCTRL_SIDESET_COUNT_Pos))

	cfg.ExecCtrl = (cfg.ExecCtrl & ^uint32(smEXECCTRL_SIDE_EN_Msk|smEXECCTRL_SIDE_PINDIR_Msk)) |
		(boolToBit(optional) << smEXECCTRL_SIDE_EN_Pos) |
		(boolToBit(pindirs) << smEXECCTRL_SIDE_PINDIR_Pos)
}

// SidesetBits returns the number of delay field bits used for side-set.
func (cfg StateMachineConfig) SidesetBits() uint8 {
	return uint8((cfg.PinCtrl & smPINCTRL_SIDESET_COUNT_Msk) >> smPINCTRL_SIDESET_COUNT_Pos)
}

// SetSidesetPins sets the lowest-numbered pin that will be affected by a side-set
// operation.
func (cfg *StateMachineConfig) SetSidesetPins(firstPin uint8) {
	checkPinBaseAndCount(firstPin, 1)
	cfg.PinCtrl = (cfg.PinCtrl & ^uint32(smPINCTRL_SIDESET_BASE_Msk)) |
		(uint32(firstPin) << smPINCTRL_SIDESET_BASE_Pos)
}

// SetOutPins sets the pins a PIO 'out' instruction modifies. Can overlap with pins in IN, SET and SIDESET.
//   - Base defines the lowest-numbered pin that will be affected by an OUT PINS,
//     OUT PINDIRS or MOV PINS instruction. The data written to this pin will always be
//     the least-significant bit of the OUT or MOV data.
//   - Count defines the number of pins that will be affected by an OUT PINS, 0..32 inclusive.
func (cfg *StateMachineConfig) SetOutPins(base uint8, count uint8) {
	checkPinBaseAndCount(base, count)
	cfg.PinCtrl = (cfg.PinCtrl & ^uint32(smPINCTRL_OUT_BASE_Msk|smPINCTRL_OUT_COUNT_Msk)) |
		(uint32(base) << smPINCTRL_OUT_BASE_Pos) |
		(uint32(count) << smPINCTRL_OUT_COUNT_Pos)
}

// SetSetPins sets the pins a PIO 'set' instruction modifies.
// Can overlap with pins in IN, OUT and SIDESET.
// Set pins are best suited to assert control signals such as clock/chip-selects.
func (cfg *StateMachineConfig) SetSetPins(base uint8, count uint8) {
	checkPinBaseAndCount(base, count)
	if count > 5 {
		panic("pio:set count too large")
	}
	cfg.PinCtrl = (cfg.PinCtrl & ^uint32(smPINCTRL_SET_BASE_Msk|smPINCTRL_SET_COUNT_Msk)) |
		(uint32(base) << smPINCTRL_SET_BASE_Pos) |
		(uint32(count) << smPINCTRL_SET_COUNT_Pos)
}

// SetPins returns the SET pin base and count.
func (cfg StateMachineConfig) SetPins() (base, count uint8) {
	base = uint8((cfg.PinCtrl & smPINCTRL_SET_BASE_Msk) >> smPINCTRL_SET_BASE_Pos)
	count = uint8((cfg.PinCtrl & smPINCTRL_SET_COUNT_Msk) >> smPINCTRL_SET_COUNT_Pos)
	return base, count
}

// OutPins returns the OUT pin base and count.
func (cfg StateMachineConfig) OutPins() (base, count uint8) {
	base = uint8((cfg.PinCtrl & smPINCTRL_OUT_BASE_Msk) >> smPINCTRL_OUT_BASE_Pos)
	count = uint8((cfg.PinCtrl & smPINCTRL_OUT_COUNT_Msk) >> smPINCTRL_OUT_COUNT_Pos)
	return base, count
}

// SetInPins in a state machine configuration. Can overlap with OUT, SET and SIDESET pins.
func (cfg *StateMachineConfig) SetInPins(base uint8) {
	checkPinBaseAndCount(base, 1)
	cfg.PinCtrl = (cfg.PinCtrl & ^uint32(smPINCTRL_IN_BASE_Msk)) | (uint32(base) << smPINCTRL_IN_BASE_Pos)
}

// SetJmpPin sets the gpio pin to use as the source for a `jmp pin` instruction.
func (cfg *StateMachineConfig) SetJmpPin(pin uint8) {
	checkPinBaseAndCount(pin, 1)
	cfg.ExecCtrl = (cfg.ExecCtrl & ^uint32(smEXECCTRL_JMP_PIN_Msk)) | (uint32(pin) << smEXECCTRL_JMP_PIN_Pos)
}

// SetMovStatus sets source for 'mov status' in a state machine configuration.
//   - statusSel is the status operation selector.
//   - statusN parameter for the mov status operation (currently a bit count).
func (cfg *StateMachineConfig) SetMovStatus(statusSel MovStatus, statusN uint32) {
	cfg.ExecCtrl = (cfg.ExecCtrl &
		^uint32(smEXECCTRL_STATUS_SEL_Msk|smEXECCTRL_STATUS_N_Msk)) |
		((uint32(statusSel) << smEXECCTRL_STATUS_SEL_Pos) & smEXECCTRL_STATUS_SEL_Msk) |
		((statusN << smEXECCTRL_STATUS_N_Pos) & smEXECCTRL_STATUS_N_Msk)
}

func checkPinBaseAndCount(base uint8, count uint8) {
	if base >= 32 {
		panic("pio:bad pin")
	} else if count > 32 {
		panic("pio:count too large")
	}
}

type FifoJoin uint8

const (
	// FifoJoinNone is the default FIFO joining configuration. The RX and TX FIFOs are separate and of length 4 each.
	FifoJoinNone FifoJoin = iota
	// FifoJoinTx joins the RX and TX FIFOs into a single TX FIFO of depth 8.
	FifoJoinTx
	// FifoJoinRx joins the RX and TX FIFOs into a single RX FIFO of depth 8.
	FifoJoinRx
)

// MOV status types.
type MovStatus uint8

const (
	MovStatusTxLessthan MovStatus = iota
	MovStatusRxLessthan
)

// SetFIFOJoin Setup the FIFO joining in a state machine configuration.
func (cfg *StateMachineConfig) SetFIFOJoin(join FifoJoin) {
	if join > FifoJoinRx {
		panic("SetFIFOJoin: join")
	}
	cfg.ShiftCtrl = (cfg.ShiftCtrl & ^uint32(smSHIFTCTRL_FJOIN_TX_Msk|smSHIFTCTRL_FJOIN_RX_Msk)) |
		(uint32(join) << smSHIFTCTRL_FJOIN_TX_Pos)
}

// FIFOJoin returns the FIFO joining configuration.
func (cfg StateMachineConfig) FIFOJoin() FifoJoin {
	return FifoJoin((cfg.ShiftCtrl & (smSHIFTCTRL_FJOIN_TX_Msk | smSHIFTCTRL_FJOIN_RX_Msk)) >> smSHIFTCTRL_FJOIN_TX_Pos)
}

func boolToBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
