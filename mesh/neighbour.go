package mesh

import (
	"sort"

	"github.com/user/loramesh/logger"
	"github.com/user/loramesh/timing"
	"github.com/user/loramesh/wire"
)

const (
	// MaxNeighbours bounds the table; no allocation grows past it.
	MaxNeighbours = 10

	// MaxInactiveCycles is how many consecutive unheard cycles an entry
	// survives before eviction.
	MaxInactiveCycles = 20

	// cycleHistoryLen is the depth of the per-neighbour cycle-number history
	// used for the sequential-reception check.
	cycleHistoryLen = 3
)

// SecondHop is one entry of a neighbour's last reported digest: a node we can
// reach through that neighbour.
type SecondHop struct {
	ID        wire.NodeID
	Slot      uint8
	Hop       wire.HopDistance
	Localized bool
}

// Neighbour is everything we know about one directly heard peer.
type Neighbour struct {
	ID        wire.NodeID
	Slot      uint8
	Localized bool
	Hop       wire.HopDistance
	CycleSeq  uint8
	Stratum   Stratum

	PosX, PosY, PosZ float32

	// Cyclic history of the last heard cycle-sequence numbers, oldest first.
	// Sequential is true only when the history is full and pairwise
	// consecutive modulo the cycle-sequence length; a break means we missed
	// frames from this neighbour recently.
	history    [cycleHistoryLen]uint8
	historyLen int
	Sequential bool

	// SecondHops mirrors the neighbour's last digest. ListsUs records whether
	// our own id appeared in it, which is the only bidirectional confirmation
	// the protocol has.
	SecondHops    []SecondHop
	ListsUs       bool
	Bidirectional bool

	RSSI             int16
	SNR              int8
	DistanceMeasured bool

	// Inactive counts completed cycles since the last accepted packet.
	Inactive       int
	heardThisCycle bool
}

// Table is the bounded link-state table, keyed by node id. Not safe for
// concurrent use: all access happens in the scheduler's cooperative loop.
type Table struct {
	self       wire.NodeID
	capacity   int
	seqModulus int
	rssiGood   int16
	prefix     string

	neighbours map[wire.NodeID]*Neighbour

	// Pressure counters, exposed through the status snapshot.
	RejectedFull int
	EvictedWeak  int
}

// NewTable creates an empty table. seqModulus is the wrap length of the
// cycle-sequence counter; rssiGood is the "good link" threshold used for
// digest ranking.
func NewTable(self wire.NodeID, capacity, seqModulus int, rssiGood int16, prefix string) *Table {
	if capacity <= 0 {
		capacity = MaxNeighbours
	}
	return &Table{
		self:       self,
		capacity:   capacity,
		seqModulus: seqModulus,
		rssiGood:   rssiGood,
		prefix:     prefix,
		neighbours: make(map[wire.NodeID]*Neighbour, capacity),
	}
}

func (t *Table) Len() int { return len(t.neighbours) }

// Get returns the entry for id, or nil.
func (t *Table) Get(id wire.NodeID) *Neighbour { return t.neighbours[id] }

// BidirectionalCount returns how many entries have a confirmed two-way link.
func (t *Table) BidirectionalCount() int {
	n := 0
	for _, nb := range t.neighbours {
		if nb.Bidirectional {
			n++
		}
	}
	return n
}

// Reset drops every entry. Used by the protocol disable/enable reset.
func (t *Table) Reset() {
	t.neighbours = make(map[wire.NodeID]*Neighbour, t.capacity)
}

// Observe folds one accepted packet into the table: insert or refresh the
// sender's entry, overwrite the volatile fields, push the cycle-sequence
// history and recompute Sequential, and confirm bidirectionality from the
// embedded digest. Returns the entry, or nil when the table is full and the
// newcomer lost the pressure decision.
func (t *Table) Observe(p *wire.Packet, rssi int16, snr int8) *Neighbour {
	nb, ok := t.neighbours[p.Sender]
	if !ok {
		if len(t.neighbours) >= t.capacity {
			if !t.evictWeakerThan(rssi) {
				t.RejectedFull++
				logger.Debug(t.prefix, "table full, rejecting new neighbour %d (rssi %d)", p.Sender, rssi)
				return nil
			}
		}
		nb = &Neighbour{ID: p.Sender, Hop: wire.HopUnknown}
		t.neighbours[p.Sender] = nb
		logger.Info(t.prefix, "new neighbour %d (slot %d, rssi %d)", p.Sender, p.SenderSlot, rssi)
	}

	nb.Slot = p.SenderSlot
	nb.Localized = p.Localized
	nb.Hop = p.Hop
	nb.Stratum = Stratum(p.Stratum)
	nb.PosX, nb.PosY, nb.PosZ = p.PosX, p.PosY, p.PosZ
	nb.RSSI = rssi
	nb.SNR = snr
	nb.Inactive = 0
	nb.heardThisCycle = true

	nb.CycleSeq = p.CycleSeq
	nb.pushCycle(p.CycleSeq, t.seqModulus)

	nb.SecondHops = nb.SecondHops[:0]
	for _, e := range p.Digest {
		nb.SecondHops = append(nb.SecondHops, SecondHop{
			ID: e.ID, Slot: e.Slot, Hop: e.Hop, Localized: e.Localized,
		})
	}
	nb.ListsUs = p.DigestLists(t.self)
	if nb.ListsUs && !nb.Bidirectional {
		nb.Bidirectional = true
		logger.Info(t.prefix, "bidirectional link confirmed with %d", nb.ID)
	}

	return nb
}

func (n *Neighbour) pushCycle(seq uint8, modulus int) {
	if n.historyLen < cycleHistoryLen {
		n.history[n.historyLen] = seq
		n.historyLen++
	} else {
		copy(n.history[:], n.history[1:])
		n.history[cycleHistoryLen-1] = seq
	}

	if n.historyLen < cycleHistoryLen {
		n.Sequential = false
		return
	}
	n.Sequential = true
	for i := 1; i < cycleHistoryLen; i++ {
		delta := timing.FlooredMod(int(n.history[i])-int(n.history[i-1]), modulus)
		if delta != 1 {
			n.Sequential = false
			return
		}
	}
}

// evictWeakerThan makes room for a newcomer with the given RSSI by removing
// the weakest non-bidirectional entry, but only if that entry is also weaker
// than the newcomer. Confirmed two-way links are never sacrificed for an
// unknown.
func (t *Table) evictWeakerThan(rssi int16) bool {
	var victim *Neighbour
	for _, nb := range t.neighbours {
		if nb.Bidirectional {
			continue
		}
		if victim == nil || nb.RSSI < victim.RSSI {
			victim = nb
		}
	}
	if victim == nil || victim.RSSI >= rssi {
		return false
	}
	delete(t.neighbours, victim.ID)
	t.EvictedWeak++
	logger.Info(t.prefix, "evicting weakest neighbour %d (rssi %d) under pressure", victim.ID, victim.RSSI)
	return true
}

// Age runs once per cycle during the processing phase: entries not refreshed
// this cycle gain exactly one inactivity point, and entries past the limit
// are evicted. Returns the evicted ids.
func (t *Table) Age() []wire.NodeID {
	var evicted []wire.NodeID
	for id, nb := range t.neighbours {
		if nb.heardThisCycle {
			nb.heardThisCycle = false
			continue
		}
		nb.Inactive++
		if nb.Inactive > MaxInactiveCycles {
			delete(t.neighbours, id)
			evicted = append(evicted, id)
			logger.Info(t.prefix, "neighbour %d inactive for %d cycles, evicted", id, nb.Inactive)
		}
	}
	return evicted
}

// Digest selects up to max entries for the outgoing packet. Bidirectional
// neighbours come first, then good-RSSI links, then the most recently heard;
// id breaks ties so the order is stable.
func (t *Table) Digest(max int) []wire.DigestEntry {
	all := make([]*Neighbour, 0, len(t.neighbours))
	for _, nb := range t.neighbours {
		all = append(all, nb)
	}
	sort.Slice(all, func(i, j int) bool {
		a, b := all[i], all[j]
		if a.Bidirectional != b.Bidirectional {
			return a.Bidirectional
		}
		ag, bg := a.RSSI >= t.rssiGood, b.RSSI >= t.rssiGood
		if ag != bg {
			return ag
		}
		if a.Inactive != b.Inactive {
			return a.Inactive < b.Inactive
		}
		return a.ID < b.ID
	})

	if len(all) > max {
		all = all[:max]
	}
	digest := make([]wire.DigestEntry, 0, len(all))
	for _, nb := range all {
		digest = append(digest, wire.DigestEntry{
			ID: nb.ID, Slot: nb.Slot, Hop: nb.Hop, Localized: nb.Localized,
		})
	}
	return digest
}
