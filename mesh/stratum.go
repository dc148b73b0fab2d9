package mesh

// Stratum is the hierarchical sync rank. 0 is the authoritative time source;
// each hop away from it adds one. Anything at Local keeps its own time.
type Stratum uint8

const (
	StratumGateway  Stratum = 0 // reference node, never re-derived
	StratumDirect   Stratum = 1 // heard the gateway
	StratumIndirect Stratum = 2 // heard a direct node
	StratumLocal    Stratum = 3 // unsynced, local timing only
)

// SyncValidCycles is how many completed cycles a sync adoption stays valid
// without being refreshed before the node degrades back to Local.
const SyncValidCycles = 10

func (s Stratum) String() string {
	switch s {
	case StratumGateway:
		return "GATEWAY"
	case StratumDirect:
		return "DIRECT"
	case StratumIndirect:
		return "INDIRECT"
	case StratumLocal:
		return "LOCAL"
	default:
		return "UNKNOWN"
	}
}

// offered returns the stratum a listener would hold after syncing to a node
// at s. Saturates at Local: more than two hops from the gateway is unsynced
// by definition.
func (s Stratum) offered() Stratum {
	if s >= StratumLocal-1 {
		return StratumLocal
	}
	return s + 1
}
