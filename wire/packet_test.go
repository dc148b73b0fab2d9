package wire

import (
	"bytes"
	"testing"
)

func TestEncodeFixedLength(t *testing.T) {
	p := &Packet{Command: CmdIDAndPos, Sender: 7}
	frame := p.Encode()
	if len(frame) != FrameLength {
		t.Fatalf("frame length = %d, want %d", len(frame), FrameLength)
	}
}

func TestEncodeHeaderBytes(t *testing.T) {
	p := &Packet{
		Destination: Broadcast,
		Command:     CmdSyncResponse,
		Sender:      0x0302,
		SenderSlot:  5,
		Localized:   true,
		Hop:         1,
		Stratum:     1,
		CycleSeq:    9,
	}
	frame := p.Encode()

	want := []byte{
		0x00, 0x00, // broadcast destination
		0x03,       // CMD_SYNC_RESPONSE
		0x02, 0x03, // sender 0x0302 little-endian
		0x05, // slot
		0x04, // flags: localized only
		0x01, // hop
		0x01, // stratum
		0x09, // cycle seq
	}
	if !bytes.Equal(frame[:10], want) {
		t.Errorf("header = %v, want %v", frame[:10], want)
	}
}

func TestRoundTrip(t *testing.T) {
	p := &Packet{
		Destination:   0x0010,
		Command:       CmdIDAndPos,
		Sender:        42,
		SenderSlot:    3,
		Localized:     true,
		GatewaySynced: true,
		Hop:           2,
		Stratum:       2,
		CycleSeq:      7,
		PosX:          1.5,
		PosY:          -2.25,
		PosZ:          1000.125,
		Digest: []DigestEntry{
			{ID: 1, Slot: 0, Hop: 0, Localized: true},
			{ID: 9, Slot: 4, Hop: HopUnknown, Localized: false},
		},
	}

	got, err := Decode(p.Encode())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.Destination != p.Destination || got.Command != p.Command ||
		got.Sender != p.Sender || got.SenderSlot != p.SenderSlot {
		t.Errorf("header mismatch: %+v", got)
	}
	if !got.Localized || !got.GatewaySynced || got.HasData || got.IsForward {
		t.Errorf("flags mismatch: %+v", got)
	}
	if got.Hop != 2 || got.Stratum != 2 || got.CycleSeq != 7 {
		t.Errorf("sync fields mismatch: %+v", got)
	}
	if got.PosX != 1.5 || got.PosY != -2.25 || got.PosZ != 1000.125 {
		t.Errorf("position mismatch: %v %v %v", got.PosX, got.PosY, got.PosZ)
	}

	if len(got.Digest) != 2 {
		t.Fatalf("digest length = %d, want 2", len(got.Digest))
	}
	for i := range got.Digest {
		if got.Digest[i] != p.Digest[i] {
			t.Errorf("digest[%d] = %+v, want %+v", i, got.Digest[i], p.Digest[i])
		}
	}
}

func TestDigestPadding(t *testing.T) {
	p := &Packet{Command: CmdIDAndPos, Sender: 1, Digest: []DigestEntry{{ID: 77, Slot: 2, Hop: 1}}}
	frame := p.Encode()

	// Entries 1-3 must carry sentinel id 0 and hop 0x7F.
	for i := 1; i < MaxDigestEntries; i++ {
		off := offDigest + i*digestEntryLen
		if frame[off] != 0 || frame[off+1] != 0 {
			t.Errorf("padding entry %d has non-zero id bytes %v", i, frame[off:off+2])
		}
		if frame[off+3] != byte(HopUnknown) {
			t.Errorf("padding entry %d hop byte = 0x%02x, want 0x7F", i, frame[off+3])
		}
	}

	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got.Digest) != 1 {
		t.Fatalf("decoded %d digest entries from padded frame, want 1", len(got.Digest))
	}
}

func TestDigestOverflowTruncated(t *testing.T) {
	p := &Packet{Command: CmdIDAndPos, Sender: 1}
	for i := 0; i < MaxDigestEntries+3; i++ {
		p.Digest = append(p.Digest, DigestEntry{ID: NodeID(i + 1), Slot: uint8(i)})
	}
	got, err := Decode(p.Encode())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got.Digest) != MaxDigestEntries {
		t.Errorf("digest entries = %d, want %d", len(got.Digest), MaxDigestEntries)
	}
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	if _, err := Decode(make([]byte, FrameLength-1)); err != ErrFrameLength {
		t.Errorf("short frame error = %v, want ErrFrameLength", err)
	}
	if _, err := Decode(make([]byte, FrameLength+1)); err != ErrFrameLength {
		t.Errorf("long frame error = %v, want ErrFrameLength", err)
	}

	frame := (&Packet{Command: CmdIDAndPos, Sender: 1}).Encode()
	frame[offCommand] = 0x77
	if _, err := Decode(frame); err != ErrUnknownCommand {
		t.Errorf("unknown command error = %v, want ErrUnknownCommand", err)
	}
}

func TestDecodeClampsStratum(t *testing.T) {
	frame := (&Packet{Command: CmdIDAndPos, Sender: 1, Stratum: 3}).Encode()
	frame[offStratum] = 0xEE
	got, err := Decode(frame)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got.Stratum != 3 {
		t.Errorf("Stratum = %d, want clamp to 3", got.Stratum)
	}
}

func TestProvenanceRoundTrip(t *testing.T) {
	p := &Packet{
		Command:    CmdMessage,
		Sender:     5,
		HasData:    true,
		IsForward:  true,
		Provenance: []uint8{0, 4, 9},
		SensorData: [SensorDataLength]byte{1, 2, 3, 4, 5, 6},
	}
	got, err := Decode(p.Encode())
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(got.Provenance) != 3 {
		t.Fatalf("provenance length = %d, want 3", len(got.Provenance))
	}
	for i, s := range p.Provenance {
		if got.Provenance[i] != s {
			t.Errorf("provenance[%d] = %d, want %d", i, got.Provenance[i], s)
		}
	}
	if got.SensorData != p.SensorData {
		t.Errorf("sensor data = %v, want %v", got.SensorData, p.SensorData)
	}
}

func TestDigestLists(t *testing.T) {
	p := &Packet{Digest: []DigestEntry{{ID: 3}, {ID: 8}}}
	if !p.DigestLists(8) {
		t.Error("DigestLists(8) = false, want true")
	}
	if p.DigestLists(2) {
		t.Error("DigestLists(2) = true, want false")
	}
}

func TestHopDistance(t *testing.T) {
	if HopUnknown.Known() {
		t.Error("HopUnknown.Known() = true")
	}
	if got := HopDistance(0).Next(); got != 1 {
		t.Errorf("Next(0) = %d, want 1", got)
	}
	if got := HopUnknown.Next(); got != HopUnknown {
		t.Errorf("Next(unknown) = %d, want unknown", got)
	}
	if got := HopDistance(0x7E).Next(); got != HopUnknown {
		t.Errorf("Next(0x7E) = %d, want saturation at unknown", got)
	}
}
