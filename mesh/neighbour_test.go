package mesh

import (
	"testing"

	"github.com/user/loramesh/wire"
)

func newTestTable(self wire.NodeID) *Table {
	return NewTable(self, MaxNeighbours, DefaultSeqModulus, -100, "TEST")
}

func packetFrom(id wire.NodeID, seq uint8) *wire.Packet {
	return &wire.Packet{
		Command:    wire.CmdIDAndPos,
		Sender:     id,
		SenderSlot: uint8(id % 13),
		Hop:        1,
		Stratum:    uint8(StratumDirect),
		CycleSeq:   seq,
	}
}

func TestObserveInsertsAndRefreshes(t *testing.T) {
	tb := newTestTable(1)

	nb := tb.Observe(packetFrom(2, 0), -80, 8)
	if nb == nil {
		t.Fatal("Observe returned nil for a fresh table")
	}
	if tb.Len() != 1 {
		t.Fatalf("Len = %d, want 1", tb.Len())
	}
	if nb.RSSI != -80 || nb.SNR != 8 {
		t.Errorf("signal quality not stored: rssi %d snr %d", nb.RSSI, nb.SNR)
	}

	p := packetFrom(2, 1)
	p.PosX, p.PosY, p.PosZ = 1, 2, 3
	nb2 := tb.Observe(p, -75, 9)
	if nb2 != nb {
		t.Error("second Observe created a new entry")
	}
	if tb.Len() != 1 {
		t.Errorf("Len = %d after refresh, want 1", tb.Len())
	}
	if nb.PosX != 1 || nb.PosY != 2 || nb.PosZ != 3 {
		t.Errorf("position not overwritten: %v %v %v", nb.PosX, nb.PosY, nb.PosZ)
	}
	if nb.Inactive != 0 {
		t.Errorf("Inactive = %d after refresh, want 0", nb.Inactive)
	}
}

func TestSequentialHistory(t *testing.T) {
	cases := []struct {
		name string
		seqs []uint8
		want bool
	}{
		{"consecutive", []uint8{5, 6, 7}, true},
		{"gap", []uint8{5, 7, 8}, false},
		{"wraparound", []uint8{7, 0, 1}, true},
		{"too short", []uint8{5, 6}, false},
	}

	for _, c := range cases {
		tb := newTestTable(1)
		var nb *Neighbour
		for _, seq := range c.seqs {
			nb = tb.Observe(packetFrom(2, seq), -80, 8)
		}
		if nb.Sequential != c.want {
			t.Errorf("%s: Sequential = %v, want %v", c.name, nb.Sequential, c.want)
		}
	}
}

func TestSequentialRecoversAfterGap(t *testing.T) {
	tb := newTestTable(1)
	for _, seq := range []uint8{5, 7, 0, 1, 2} {
		tb.Observe(packetFrom(2, seq), -80, 8)
	}
	// History is now [0,1,2]: the gap at 5->7 has rolled out.
	if !tb.Get(2).Sequential {
		t.Error("Sequential = false after history recovered")
	}
}

func TestBidirectionalConfirmation(t *testing.T) {
	tb := newTestTable(1)

	nb := tb.Observe(packetFrom(2, 0), -80, 8)
	if nb.Bidirectional {
		t.Fatal("bidirectional before the neighbour ever listed us")
	}

	p := packetFrom(2, 1)
	p.Digest = []wire.DigestEntry{{ID: 9}, {ID: 1, Slot: 0, Hop: 2}}
	tb.Observe(p, -80, 8)
	if !nb.Bidirectional || !nb.ListsUs {
		t.Fatal("digest listing us did not confirm the link")
	}

	// The flag is sticky until eviction, even when a later digest omits us.
	tb.Observe(packetFrom(2, 2), -80, 8)
	if !nb.Bidirectional {
		t.Error("bidirectional flag dropped when a digest omitted us")
	}
	if nb.ListsUs {
		t.Error("ListsUs still set for a digest that omitted us")
	}
}

func TestSecondHopsMirrorDigest(t *testing.T) {
	tb := newTestTable(1)
	p := packetFrom(2, 0)
	p.Digest = []wire.DigestEntry{
		{ID: 4, Slot: 3, Hop: 2, Localized: true},
		{ID: 5, Slot: 4, Hop: wire.HopUnknown},
	}
	nb := tb.Observe(p, -80, 8)
	if len(nb.SecondHops) != 2 {
		t.Fatalf("SecondHops = %d entries, want 2", len(nb.SecondHops))
	}
	if nb.SecondHops[0].ID != 4 || !nb.SecondHops[0].Localized {
		t.Errorf("SecondHops[0] = %+v", nb.SecondHops[0])
	}
}

func TestAgingAndEviction(t *testing.T) {
	tb := newTestTable(1)
	tb.Observe(packetFrom(2, 0), -80, 8)

	// Exactly one point per silent cycle.
	tb.Age() // heard this cycle: no point
	if tb.Get(2).Inactive != 0 {
		t.Fatalf("Inactive = %d after the heard cycle, want 0", tb.Get(2).Inactive)
	}
	for i := 0; i < MaxInactiveCycles; i++ {
		tb.Age()
	}
	if tb.Get(2) == nil {
		t.Fatal("evicted at exactly the limit; must survive MaxInactiveCycles")
	}
	if got := tb.Get(2).Inactive; got != MaxInactiveCycles {
		t.Fatalf("Inactive = %d, want %d", got, MaxInactiveCycles)
	}

	evicted := tb.Age()
	if tb.Get(2) != nil {
		t.Fatal("entry survived past the inactivity limit")
	}
	if len(evicted) != 1 || evicted[0] != 2 {
		t.Errorf("evicted = %v, want [2]", evicted)
	}
}

func TestRefreshResetsInactivity(t *testing.T) {
	tb := newTestTable(1)
	tb.Observe(packetFrom(2, 0), -80, 8)
	for i := 0; i < 5; i++ {
		tb.Age()
	}
	tb.Observe(packetFrom(2, 1), -80, 8)
	if got := tb.Get(2).Inactive; got != 0 {
		t.Errorf("Inactive = %d after refresh, want 0", got)
	}
}

func TestCapacityPressure(t *testing.T) {
	tb := newTestTable(1)
	for i := 2; i < 2+MaxNeighbours; i++ {
		tb.Observe(packetFrom(wire.NodeID(i), 0), -90, 5)
	}
	if tb.Len() != MaxNeighbours {
		t.Fatalf("Len = %d, want %d", tb.Len(), MaxNeighbours)
	}

	// A weaker newcomer is rejected.
	if nb := tb.Observe(packetFrom(99, 0), -110, 2); nb != nil {
		t.Error("weaker newcomer accepted into a full table")
	}
	if tb.RejectedFull != 1 {
		t.Errorf("RejectedFull = %d, want 1", tb.RejectedFull)
	}

	// A stronger newcomer displaces the weakest non-bidirectional entry.
	if nb := tb.Observe(packetFrom(100, 0), -60, 9); nb == nil {
		t.Fatal("stronger newcomer rejected")
	}
	if tb.Len() != MaxNeighbours {
		t.Errorf("Len = %d after pressure eviction, want %d", tb.Len(), MaxNeighbours)
	}
	if tb.Get(100) == nil {
		t.Error("newcomer missing after pressure eviction")
	}
}

func TestCapacityPressureSparesBidirectional(t *testing.T) {
	tb := newTestTable(1)
	for i := 2; i < 2+MaxNeighbours; i++ {
		p := packetFrom(wire.NodeID(i), 0)
		p.Digest = []wire.DigestEntry{{ID: 1}} // all confirmed bidirectional
		tb.Observe(p, -120, 1)
	}

	if nb := tb.Observe(packetFrom(50, 0), -40, 10); nb != nil {
		t.Error("bidirectional entry sacrificed for an unknown newcomer")
	}
}

func TestDigestPrefersBidirectionalThenQuality(t *testing.T) {
	tb := newTestTable(1)

	weak := packetFrom(2, 0)
	tb.Observe(weak, -120, 1)

	good := packetFrom(3, 0)
	tb.Observe(good, -70, 9)

	bidir := packetFrom(4, 0)
	bidir.Digest = []wire.DigestEntry{{ID: 1}}
	tb.Observe(bidir, -110, 3)

	digest := tb.Digest(2)
	if len(digest) != 2 {
		t.Fatalf("digest length = %d, want 2", len(digest))
	}
	if digest[0].ID != 4 {
		t.Errorf("digest[0] = %d, want the bidirectional neighbour 4", digest[0].ID)
	}
	if digest[1].ID != 3 {
		t.Errorf("digest[1] = %d, want the good-RSSI neighbour 3", digest[1].ID)
	}
}

func TestResetDropsEverything(t *testing.T) {
	tb := newTestTable(1)
	tb.Observe(packetFrom(2, 0), -80, 8)
	tb.Observe(packetFrom(3, 0), -80, 8)
	tb.Reset()
	if tb.Len() != 0 {
		t.Errorf("Len = %d after reset, want 0", tb.Len())
	}
}
