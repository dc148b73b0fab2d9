package mesh

// Counters are the scheduler's monotonic event counts. Dropped or malformed
// receptions are counted, never surfaced as errors.
type Counters struct {
	TxFrames    uint64 // frames transmitted
	RxFrames    uint64 // frames accepted
	RxMalformed uint64 // undersized or unrecognized frames
	RxIgnored   uint64 // below RSSI threshold, own echo, or foreign unicast
	RxTimeouts  uint64 // receive windows that elapsed silent
	Cycles      uint64 // completed cycles
}

// Status is the administrative snapshot of one node.
type Status struct {
	ID             uint16
	Slot           int
	Enabled        bool
	Stratum        Stratum
	SyncSource     uint16
	SyncCyclesLeft int
	GatewaySynced  bool
	HopDistance    uint8
	CycleSeq       uint8
	Neighbours     int
	Bidirectional  int
	Counters       Counters
}
