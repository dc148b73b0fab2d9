package mesh

import (
	"github.com/user/loramesh/logger"
	"github.com/user/loramesh/wire"
)

// SyncEngine tracks this node's place in the sync hierarchy: its stratum, the
// neighbour it derives time from, and a validity countdown that forces
// degradation when the source goes quiet. The reference node permanently
// holds StratumGateway and ignores all offers.
type SyncEngine struct {
	reference bool
	prefix    string

	stratum       Stratum
	source        wire.NodeID
	cyclesLeft    int
	gatewaySynced bool
}

// NewSyncEngine starts from Local, or permanently at Gateway for the
// reference node.
func NewSyncEngine(reference bool, prefix string) *SyncEngine {
	e := &SyncEngine{reference: reference, prefix: prefix}
	e.Reset()
	return e
}

// Reset clears all derived sync state. Used at startup and on protocol
// disable/enable.
func (e *SyncEngine) Reset() {
	e.source = 0
	e.cyclesLeft = 0
	if e.reference {
		e.stratum = StratumGateway
		e.gatewaySynced = true
	} else {
		e.stratum = StratumLocal
		e.gatewaySynced = false
	}
}

func (e *SyncEngine) Stratum() Stratum    { return e.stratum }
func (e *SyncEngine) Source() wire.NodeID { return e.source }
func (e *SyncEngine) CyclesLeft() int     { return e.cyclesLeft }
func (e *SyncEngine) GatewaySynced() bool { return e.gatewaySynced }

// Synced reports whether the node currently holds a better-than-Local rank.
func (e *SyncEngine) Synced() bool { return e.stratum < StratumLocal }

// unsynced means there is nothing to lose by taking any candidate at all.
func (e *SyncEngine) unsynced() bool { return e.stratum == StratumLocal && e.source == 0 }

// Offer presents a sync-bearing packet from a neighbour reporting the given
// stratum. Returns true when the offer was adopted (or refreshed the current
// source), which also resets the validity countdown.
//
// A neighbour with a broken cycle-sequence history is a poor time source; its
// offers are ignored unless this node has no sync at all.
func (e *SyncEngine) Offer(from wire.NodeID, s Stratum, sequential, senderGatewaySynced bool) bool {
	if e.reference {
		return false
	}
	if !sequential && !e.unsynced() {
		return false
	}

	candidate := s.offered()
	if candidate >= StratumLocal {
		// Syncing to an unsynced node buys nothing.
		return false
	}

	switch {
	case candidate < e.stratum:
		// Strictly better rank wins.
	case e.cyclesLeft == 0:
		// Forced resynchronization: current sync has expired.
	case candidate == e.stratum && from == e.source:
		// Refresh from the source we already follow.
	default:
		// Equal-ranked stranger: keep the existing source. Switching between
		// equally good neighbours would oscillate every cycle.
		return false
	}

	if e.source != from || e.stratum != candidate {
		logger.Debug(e.prefix, "sync source %d stratum %s (was %d/%s)",
			from, candidate, e.source, e.stratum)
	}

	e.stratum = candidate
	e.source = from
	e.cyclesLeft = SyncValidCycles
	e.gatewaySynced = senderGatewaySynced
	return true
}

// EndOfCycle runs once per completed cycle, in the processing phase. When the
// countdown reaches zero the node degrades to Local and forgets its source;
// losing contact must degrade, never freeze at the last known-good stratum.
func (e *SyncEngine) EndOfCycle() {
	if e.reference || e.cyclesLeft == 0 {
		return
	}
	e.cyclesLeft--
	if e.cyclesLeft == 0 {
		logger.Info(e.prefix, "sync expired, degrading %s -> LOCAL (source %d lost)",
			e.stratum, e.source)
		e.stratum = StratumLocal
		e.source = 0
		e.gatewaySynced = false
	}
}
