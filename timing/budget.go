package timing

import (
	"fmt"
	"math"
	"time"
)

// Measured SX1262 operation durations (microseconds) for a 48-byte frame at
// SF7/125kHz, plus the safety factor applied on top of their sum. These are the
// compiled-in defaults; a Budget can carry different measurements.
const (
	DefaultTxPrepareMicros    = 850   // writeBuffer + setTx
	DefaultTxOnAirMicros      = 98000 // theoretical air time
	DefaultTxCallbackMicros   = 100   // TX-done callback processing
	DefaultTxGuardMicros      = 5000  // channel clear safety
	DefaultTxModeSwitchMicros = 500   // TX -> sleep -> RX

	DefaultSafetyFactor = 1.20
)

// Default slot geometry (microseconds).
const (
	DefaultSlotMicros       = 500000
	DefaultSlotCount        = 13
	DefaultProcessingMicros = 500000
	DefaultPreTxDelayMicros = 5000
	DefaultPreRxDelayMicros = 2000
)

// Budget holds the measured per-operation durations the slot geometry must
// accommodate. All values are microseconds.
type Budget struct {
	TxPrepare    int64
	TxOnAir      int64
	TxCallback   int64
	TxGuard      int64
	TxModeSwitch int64
	SafetyFactor float64
}

// DefaultBudget returns the measured defaults for the reference hardware.
func DefaultBudget() Budget {
	return Budget{
		TxPrepare:    DefaultTxPrepareMicros,
		TxOnAir:      DefaultTxOnAirMicros,
		TxCallback:   DefaultTxCallbackMicros,
		TxGuard:      DefaultTxGuardMicros,
		TxModeSwitch: DefaultTxModeSwitchMicros,
		SafetyFactor: DefaultSafetyFactor,
	}
}

// EffectiveAirtime returns the measured transmit budget inflated by the safety
// factor, rounded to the nearest microsecond.
func (b Budget) EffectiveAirtime() int64 {
	sum := b.TxPrepare + b.TxOnAir + b.TxCallback + b.TxGuard + b.TxModeSwitch
	return int64(math.Round(float64(sum) * b.SafetyFactor))
}

// Timeline is the process-wide slot geometry, computed once at startup and
// immutable thereafter. All durations are microseconds.
type Timeline struct {
	SlotDuration       int64
	SlotCount          int
	EffectiveAirtime   int64
	PreTxDelay         int64
	PreRxDelay         int64
	GuardBand          int64
	CycleDuration      int64
	ProcessingDuration int64
}

// NewTimeline validates the slot geometry against the measured budget.
// A negative guard band means the configured slot cannot fit the radio
// operation plus the pre-TX/pre-RX delays; that is a fatal configuration
// error and the schedule must not run.
func NewTimeline(b Budget, slotMicros int64, slotCount int, processingMicros, preTxMicros, preRxMicros int64) (*Timeline, error) {
	if slotCount < 2 {
		return nil, fmt.Errorf("timing: slot count must be at least 2, got %d", slotCount)
	}
	if slotMicros <= 0 {
		return nil, fmt.Errorf("timing: slot duration must be positive, got %dus", slotMicros)
	}

	airtime := b.EffectiveAirtime()
	guard := slotMicros - airtime - preTxMicros - preRxMicros
	if guard < 0 {
		return nil, fmt.Errorf("timing: infeasible slot budget: %dus slot < %dus airtime + %dus pre-TX + %dus pre-RX (short by %dus)",
			slotMicros, airtime, preTxMicros, preRxMicros, -guard)
	}

	return &Timeline{
		SlotDuration:       slotMicros,
		SlotCount:          slotCount,
		EffectiveAirtime:   airtime,
		PreTxDelay:         preTxMicros,
		PreRxDelay:         preRxMicros,
		GuardBand:          guard,
		CycleDuration:      int64(slotCount) * slotMicros,
		ProcessingDuration: processingMicros,
	}, nil
}

// DefaultTimeline builds the timeline from the compiled-in defaults.
func DefaultTimeline() (*Timeline, error) {
	return NewTimeline(DefaultBudget(), DefaultSlotMicros, DefaultSlotCount,
		DefaultProcessingMicros, DefaultPreTxDelayMicros, DefaultPreRxDelayMicros)
}

// SlotStart returns the offset of a slot from the cycle origin.
func (t *Timeline) SlotStart(slot int) int64 {
	return int64(slot) * t.SlotDuration
}

// Durations as time.Duration for code that sleeps or arms timeouts.

func (t *Timeline) Slot() time.Duration  { return time.Duration(t.SlotDuration) * time.Microsecond }
func (t *Timeline) Cycle() time.Duration { return time.Duration(t.CycleDuration) * time.Microsecond }
func (t *Timeline) PreTx() time.Duration { return time.Duration(t.PreTxDelay) * time.Microsecond }
func (t *Timeline) PreRx() time.Duration { return time.Duration(t.PreRxDelay) * time.Microsecond }
func (t *Timeline) Guard() time.Duration { return time.Duration(t.GuardBand) * time.Microsecond }
func (t *Timeline) Processing() time.Duration {
	return time.Duration(t.ProcessingDuration) * time.Microsecond
}
