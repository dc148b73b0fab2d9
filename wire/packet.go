package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Fixed frame layout, little-endian throughout. Stable across all commands:
//
//	off len field
//	  0   2 destination id
//	  2   1 command
//	  3   2 sender id
//	  5   1 sender slot
//	  6   1 flags (has-data, is-forward, localized, gateway-synced)
//	  7   1 hop distance (0x7F = unknown)
//	  8   1 stratum (0-3)
//	  9   1 cycle sequence number
//	 10  12 position X,Y,Z (3 x float32)
//	 22   6 sensor data (CmdMessage; zero otherwise)
//	 28   1 provenance hop count
//	 29   3 provenance slot indexes (0xFF = unused)
//	 32  16 neighbour digest, 4 x {id(2), slot(1), hop|localized<<7 (1)}
//
// Unused digest entries carry id 0 and hop 0x7F so decoders can tell real
// entries from padding.
const (
	offDest      = 0
	offCommand   = 2
	offSender    = 3
	offSlot      = 5
	offFlags     = 6
	offHop       = 7
	offStratum   = 8
	offCycleSeq  = 9
	offPosition  = 10
	offSensor    = 22
	offProvCount = 28
	offProvSlots = 29
	offDigest    = 32

	digestEntryLen = 4
)

var (
	ErrFrameLength    = fmt.Errorf("wire: frame is not %d bytes", FrameLength)
	ErrUnknownCommand = fmt.Errorf("wire: unknown command byte")
)

// DigestEntry is one neighbour summary embedded in an outgoing frame.
type DigestEntry struct {
	ID        NodeID
	Slot      uint8
	Hop       HopDistance
	Localized bool
}

// Packet is the decoded form of one 48-byte frame. One instance exists per
// transmit or receive event; nothing retains it past the handling call.
type Packet struct {
	Destination NodeID
	Command     Command

	Sender     NodeID
	SenderSlot uint8

	HasData       bool
	IsForward     bool
	Localized     bool
	GatewaySynced bool

	Hop      HopDistance
	Stratum  uint8
	CycleSeq uint8

	PosX, PosY, PosZ float32

	SensorData [SensorDataLength]byte

	// Provenance records the slot index of each node that forwarded this
	// data, oldest first. Slot indexes are unique within a cycle, which keeps
	// the chain to one byte per hop.
	Provenance []uint8

	Digest []DigestEntry
}

// Encode serializes the packet into a fresh 48-byte frame. Digest entries and
// provenance hops beyond the wire capacity are dropped silently; the frame
// format is the contract, not the caller's slice length.
func (p *Packet) Encode() []byte {
	buf := make([]byte, FrameLength)

	binary.LittleEndian.PutUint16(buf[offDest:], uint16(p.Destination))
	buf[offCommand] = byte(p.Command)
	binary.LittleEndian.PutUint16(buf[offSender:], uint16(p.Sender))
	buf[offSlot] = p.SenderSlot

	var flags byte
	if p.HasData {
		flags |= FlagHasData
	}
	if p.IsForward {
		flags |= FlagIsForward
	}
	if p.Localized {
		flags |= FlagLocalized
	}
	if p.GatewaySynced {
		flags |= FlagGatewaySynced
	}
	buf[offFlags] = flags

	buf[offHop] = byte(p.Hop)
	buf[offStratum] = p.Stratum
	buf[offCycleSeq] = p.CycleSeq

	putFloat32(buf[offPosition:], p.PosX)
	putFloat32(buf[offPosition+4:], p.PosY)
	putFloat32(buf[offPosition+8:], p.PosZ)

	copy(buf[offSensor:offSensor+SensorDataLength], p.SensorData[:])

	hops := p.Provenance
	if len(hops) > MaxTrackingHops {
		hops = hops[:MaxTrackingHops]
	}
	buf[offProvCount] = byte(len(hops))
	for i := 0; i < MaxTrackingHops; i++ {
		if i < len(hops) {
			buf[offProvSlots+i] = hops[i]
		} else {
			buf[offProvSlots+i] = SlotUnused
		}
	}

	digest := p.Digest
	if len(digest) > MaxDigestEntries {
		digest = digest[:MaxDigestEntries]
	}
	for i := 0; i < MaxDigestEntries; i++ {
		off := offDigest + i*digestEntryLen
		if i < len(digest) {
			e := digest[i]
			binary.LittleEndian.PutUint16(buf[off:], uint16(e.ID))
			buf[off+2] = e.Slot
			packed := byte(e.Hop) & 0x7F
			if e.Localized {
				packed |= 0x80
			}
			buf[off+3] = packed
		} else {
			// Padding: sentinel id and unknown hop.
			binary.LittleEndian.PutUint16(buf[off:], uint16(Broadcast))
			buf[off+2] = 0
			buf[off+3] = byte(HopUnknown)
		}
	}

	return buf
}

// Decode parses one received frame. Undersized, oversized, or unrecognized
// frames yield an error; callers drop and count them, they are never fatal.
func Decode(data []byte) (*Packet, error) {
	if len(data) != FrameLength {
		return nil, ErrFrameLength
	}

	cmd := Command(data[offCommand])
	switch cmd {
	case CmdIDAndPos, CmdMessage, CmdSyncRequest, CmdSyncResponse:
	default:
		return nil, ErrUnknownCommand
	}

	flags := data[offFlags]

	p := &Packet{
		Destination:   NodeID(binary.LittleEndian.Uint16(data[offDest:])),
		Command:       cmd,
		Sender:        NodeID(binary.LittleEndian.Uint16(data[offSender:])),
		SenderSlot:    data[offSlot],
		HasData:       flags&FlagHasData != 0,
		IsForward:     flags&FlagIsForward != 0,
		Localized:     flags&FlagLocalized != 0,
		GatewaySynced: flags&FlagGatewaySynced != 0,
		Hop:           HopDistance(data[offHop] & 0x7F),
		Stratum:       data[offStratum],
		CycleSeq:      data[offCycleSeq],
		PosX:          getFloat32(data[offPosition:]),
		PosY:          getFloat32(data[offPosition+4:]),
		PosZ:          getFloat32(data[offPosition+8:]),
	}

	// Stratum is a saturating two-bit rank; anything above Local means a
	// peer we do not fully understand, treated as the weakest rank.
	if p.Stratum > 3 {
		p.Stratum = 3
	}

	copy(p.SensorData[:], data[offSensor:offSensor+SensorDataLength])

	provCount := int(data[offProvCount])
	if provCount > MaxTrackingHops {
		provCount = MaxTrackingHops
	}
	for i := 0; i < provCount; i++ {
		if s := data[offProvSlots+i]; s != SlotUnused {
			p.Provenance = append(p.Provenance, s)
		}
	}

	for i := 0; i < MaxDigestEntries; i++ {
		off := offDigest + i*digestEntryLen
		id := NodeID(binary.LittleEndian.Uint16(data[off:]))
		if id == Broadcast {
			continue // padding
		}
		p.Digest = append(p.Digest, DigestEntry{
			ID:        id,
			Slot:      data[off+2],
			Hop:       HopDistance(data[off+3] & 0x7F),
			Localized: data[off+3]&0x80 != 0,
		})
	}

	return p, nil
}

// DigestLists reports whether the packet's embedded digest names the given id.
// Hearing our own id in a neighbour's digest is the only bidirectional-link
// confirmation the protocol has.
func (p *Packet) DigestLists(id NodeID) bool {
	for _, e := range p.Digest {
		if e.ID == id {
			return true
		}
	}
	return false
}

// Floats cross the wire as explicit little-endian IEEE-754 bytes, never as
// native memory, so the format holds on any host.
func putFloat32(buf []byte, f float32) {
	binary.LittleEndian.PutUint32(buf, math.Float32bits(f))
}

func getFloat32(buf []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf))
}
