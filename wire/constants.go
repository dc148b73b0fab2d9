package wire

// NodeID identifies a node on the mesh. IDs are 1-65535; 0 is reserved for
// broadcast.
type NodeID uint16

// Broadcast is the reserved destination meaning "all nodes".
const Broadcast NodeID = 0x0000

// Command selects the frame kind. Offsets are identical for all commands.
type Command byte

const (
	CmdIDAndPos     Command = 0x00 // identity + position + neighbour digest
	CmdMessage      Command = 0x01 // sensor data, own or forwarded
	CmdSyncRequest  Command = 0x02 // unsynced node asking for a time source
	CmdSyncResponse Command = 0x03 // synced node answering a request
)

func (c Command) String() string {
	switch c {
	case CmdIDAndPos:
		return "ID_AND_POS"
	case CmdMessage:
		return "MESSAGE"
	case CmdSyncRequest:
		return "SYNC_REQUEST"
	case CmdSyncResponse:
		return "SYNC_RESPONSE"
	default:
		return "UNKNOWN"
	}
}

// Frame geometry.
const (
	FrameLength      = 48 // every frame is exactly this long
	MaxDigestEntries = 4  // neighbour summaries per frame
	MaxTrackingHops  = 3  // forwarded-data provenance depth
	SensorDataLength = 6  // payload bytes for CmdMessage
)

// Flag bits (offset 6).
const (
	FlagHasData       = 0x01
	FlagIsForward     = 0x02
	FlagLocalized     = 0x04
	FlagGatewaySynced = 0x08
)

// SlotUnused pads unused provenance bytes.
const SlotUnused = 0xFF

// HopDistance counts hops from the reference node. The sentinel HopUnknown
// both marks nodes that have not learned their distance yet and pads unused
// digest entries on the wire.
type HopDistance uint8

const HopUnknown HopDistance = 0x7F

// Known reports whether the distance has actually been measured.
func (h HopDistance) Known() bool { return h != HopUnknown }

// Saturating increment: forwarding a distance one hop further never wraps
// and never exceeds the sentinel.
func (h HopDistance) Next() HopDistance {
	if !h.Known() || h+1 >= HopUnknown {
		return HopUnknown
	}
	return h + 1
}
