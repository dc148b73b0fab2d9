package timing

import (
	"strings"
	"testing"
)

func TestEffectiveAirtime(t *testing.T) {
	b := DefaultBudget()

	// 850 + 98000 + 100 + 5000 + 500 = 104450; x1.20 = 125340.
	if got := b.EffectiveAirtime(); got != 125340 {
		t.Errorf("EffectiveAirtime = %dus, want 125340", got)
	}
}

func TestDefaultTimeline(t *testing.T) {
	tl, err := DefaultTimeline()
	if err != nil {
		t.Fatalf("DefaultTimeline failed: %v", err)
	}

	if tl.SlotCount != 13 {
		t.Errorf("SlotCount = %d, want 13", tl.SlotCount)
	}
	if tl.CycleDuration != 13*500000 {
		t.Errorf("CycleDuration = %dus, want %d", tl.CycleDuration, 13*500000)
	}

	// guardBand = 500000 - 125340 - 5000 - 2000
	if tl.GuardBand != 367660 {
		t.Errorf("GuardBand = %dus, want 367660", tl.GuardBand)
	}
	if tl.GuardBand < 0 {
		t.Fatalf("default timeline has negative guard band")
	}
}

func TestInfeasibleBudgetRejected(t *testing.T) {
	b := DefaultBudget()

	// A 100ms slot cannot fit 125.34ms of effective airtime.
	_, err := NewTimeline(b, 100000, 13, DefaultProcessingMicros,
		DefaultPreTxDelayMicros, DefaultPreRxDelayMicros)
	if err == nil {
		t.Fatal("expected error for infeasible slot budget, got nil")
	}
	if !strings.Contains(err.Error(), "infeasible") {
		t.Errorf("error %q does not name the infeasible budget", err)
	}
}

func TestBoundaryBudgetAccepted(t *testing.T) {
	b := DefaultBudget()

	// Exactly airtime + delays leaves a zero guard band, which is still legal.
	slot := b.EffectiveAirtime() + DefaultPreTxDelayMicros + DefaultPreRxDelayMicros
	tl, err := NewTimeline(b, slot, 13, DefaultProcessingMicros,
		DefaultPreTxDelayMicros, DefaultPreRxDelayMicros)
	if err != nil {
		t.Fatalf("zero guard band rejected: %v", err)
	}
	if tl.GuardBand != 0 {
		t.Errorf("GuardBand = %d, want 0", tl.GuardBand)
	}
}

func TestTimelineRejectsBadGeometry(t *testing.T) {
	b := DefaultBudget()
	if _, err := NewTimeline(b, 500000, 1, 500000, 5000, 2000); err == nil {
		t.Error("expected error for single-slot cycle")
	}
	if _, err := NewTimeline(b, 0, 13, 500000, 5000, 2000); err == nil {
		t.Error("expected error for zero slot duration")
	}
}
