package mesh

import "github.com/user/loramesh/wire"

// DefaultSeqModulus is the wrap length of the cycle-sequence counter carried
// in every frame and checked by the neighbour history.
const DefaultSeqModulus = 8

// NodeInfo is this node's own identity and state as embedded in outgoing
// frames. Owned by the scheduler; mutated only in its cooperative loop.
type NodeInfo struct {
	ID        wire.NodeID
	Slot      uint8
	Reference bool
	Localized bool
	Hop       wire.HopDistance
	CycleSeq  uint8

	PosX, PosY, PosZ float32
}

// Config is the immutable per-cycle configuration the scheduler runs with.
// Values come from the persisted configuration at startup; the scheduler never
// writes them back.
type Config struct {
	ID        wire.NodeID
	Slot      int
	Reference bool

	RSSIMin  int16 // frames below this are dropped outright
	RSSIGood int16 // "good link" threshold for digest/sync ranking

	SeqModulus int // 0 means DefaultSeqModulus

	PosX, PosY, PosZ float32
}
