package mesh

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/loramesh/logger"
	"github.com/user/loramesh/radio"
	"github.com/user/loramesh/timing"
	"github.com/user/loramesh/wire"
)

// State is the scheduler's position in the per-slot state machine.
type State int

const (
	StateIdle State = iota
	StatePreTx
	StateTransmitting
	StateGuard
	StateListening
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePreTx:
		return "PRE_TX"
	case StateTransmitting:
		return "TRANSMITTING"
	case StateGuard:
		return "GUARD"
	case StateListening:
		return "LISTENING"
	case StateProcessing:
		return "PROCESSING"
	default:
		return "UNKNOWN"
	}
}

type ctrlKind int

const (
	ctrlEnable ctrlKind = iota
	ctrlDisable
)

// Scheduler drives the TDMA cycle: transmit in the own slot, listen in every
// other, and run the processing phase once per cycle. It owns the timeline,
// the node info, the neighbour table and the sync engine; nothing here is a
// package global. All protocol state is touched only from the run goroutine.
type Scheduler struct {
	timeline *timing.Timeline
	cfg      Config
	drv      radio.Driver
	prefix   string

	self  NodeInfo
	table *Table
	sync  *SyncEngine

	state        State
	enabled      bool
	cycleOrigin  int64 // microseconds, start of the current cycle
	heardSyncReq bool
	seqModulus   int
	counters     Counters

	ctrl chan ctrlKind
	stop chan struct{}
	done chan struct{}

	statusMu sync.RWMutex
	status   Status

	// nowFn exists so tests can pin the clock.
	nowFn func() int64
}

// NewScheduler validates the configuration against the timeline. Only the
// fixed-slot path exists: a slot outside the cycle is a configuration error,
// and auto-assignment is a separate future extension, not a fallback.
func NewScheduler(tl *timing.Timeline, cfg Config, drv radio.Driver) (*Scheduler, error) {
	if cfg.ID == wire.Broadcast {
		return nil, fmt.Errorf("mesh: node id 0 is reserved for broadcast")
	}
	if cfg.Slot < 0 || cfg.Slot >= tl.SlotCount {
		return nil, fmt.Errorf("mesh: slot %d outside cycle of %d slots", cfg.Slot, tl.SlotCount)
	}
	if cfg.SeqModulus == 0 {
		cfg.SeqModulus = DefaultSeqModulus
	}

	prefix := fmt.Sprintf("N%03d TDMA", cfg.ID)

	hop := wire.HopUnknown
	if cfg.Reference {
		hop = 0
	}

	s := &Scheduler{
		timeline: tl,
		cfg:      cfg,
		drv:      drv,
		prefix:   prefix,
		self: NodeInfo{
			ID:        cfg.ID,
			Slot:      uint8(cfg.Slot),
			Reference: cfg.Reference,
			Localized: cfg.Reference,
			Hop:       hop,
			PosX:      cfg.PosX,
			PosY:      cfg.PosY,
			PosZ:      cfg.PosZ,
		},
		table:      NewTable(cfg.ID, MaxNeighbours, cfg.SeqModulus, cfg.RSSIGood, prefix),
		sync:       NewSyncEngine(cfg.Reference, prefix),
		enabled:    true,
		seqModulus: cfg.SeqModulus,
		ctrl:       make(chan ctrlKind, 4),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		nowFn:      func() int64 { return time.Now().UnixMicro() },
	}
	s.updateStatus()
	return s, nil
}

// Start launches the cooperative loop.
func (s *Scheduler) Start() {
	go s.run()
}

// Stop halts the loop. Safe to call once.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

// Enable requests a protocol restart. Honored at the cycle boundary, never
// mid-slot.
func (s *Scheduler) Enable() { s.request(ctrlEnable) }

// Disable requests a full protocol reset: neighbour table and sync state are
// cleared, and the node goes quiet. Honored at the cycle boundary.
func (s *Scheduler) Disable() { s.request(ctrlDisable) }

func (s *Scheduler) request(k ctrlKind) {
	select {
	case s.ctrl <- k:
	default:
		logger.Warn(s.prefix, "control queue full, dropping request")
	}
}

// Status returns the latest snapshot. Snapshots refresh at every processing
// phase and on enable/disable.
func (s *Scheduler) Status() Status {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	return s.status
}

func (s *Scheduler) run() {
	defer close(s.done)

	s.cycleOrigin = s.now()
	logger.Info(s.prefix, "starting: slot %d/%d, reference=%v, stratum %s",
		s.cfg.Slot, s.timeline.SlotCount, s.cfg.Reference, s.sync.Stratum())

	for {
		select {
		case <-s.stop:
			return
		case k := <-s.ctrl:
			s.applyControl(k)
		default:
		}

		if !s.enabled {
			// Quiet until re-enabled. No listening, no transmitting.
			select {
			case <-s.stop:
				return
			case k := <-s.ctrl:
				s.applyControl(k)
			}
			continue
		}

		if !s.runCycle() {
			return
		}
	}
}

// runCycle walks every slot once, then the processing phase. Returns false
// when stopping.
func (s *Scheduler) runCycle() bool {
	// Catch up if the origin fell behind (long disable, debugger, suspend).
	if now := s.now(); s.cycleOrigin < now-s.timeline.CycleDuration {
		s.cycleOrigin = now
	}

	for slot := 0; slot < s.timeline.SlotCount; slot++ {
		if slot == s.cfg.Slot {
			if !s.transmitSlot(slot) {
				return false
			}
		} else if !s.listenSlot(slot) {
			return false
		}
	}
	return s.processing()
}

func (s *Scheduler) transmitSlot(slot int) bool {
	start := s.cycleOrigin + s.timeline.SlotStart(slot)
	if !s.sleepUntil(start) {
		return false
	}

	s.setState(StatePreTx)
	if !s.sleepUntil(start + s.timeline.PreTxDelay) {
		return false
	}

	p := s.buildPacket()
	s.setState(StateTransmitting)
	if err := s.drv.Transmit(p.Encode()); err != nil {
		logger.Error(s.prefix, "transmit failed: %v", err)
	} else {
		s.counters.TxFrames++
		logger.Trace(s.prefix, "tx %s seq=%d stratum=%s digest=%d",
			p.Command, p.CycleSeq, s.sync.Stratum(), len(p.Digest))
		if !s.awaitTxDone() {
			return false
		}
	}

	// Guard absorbs on-air completion jitter before the receiver rearms.
	s.setState(StateGuard)
	return s.sleepUntil(s.cycleOrigin + s.timeline.SlotStart(slot+1))
}

// awaitTxDone waits for the completion event, bounded by one slot so a lost
// interrupt cannot stall the schedule.
func (s *Scheduler) awaitTxDone() bool {
	limit := time.After(s.timeline.Slot())
	for {
		select {
		case <-s.stop:
			return false
		case ev := <-s.drv.Events():
			if ev.Kind == radio.EventTxDone {
				return true
			}
			// Stale receive completion from the previous window; drop it.
		case <-limit:
			logger.Warn(s.prefix, "no TX completion within one slot")
			return true
		}
	}
}

func (s *Scheduler) listenSlot(slot int) bool {
	s.setState(StateListening)
	for {
		// Recompute from the origin each pass: an accepted sync offer may
		// have realigned it mid-slot.
		slotEnd := s.cycleOrigin + s.timeline.SlotStart(slot+1)
		tmoMs := s.timeline.ClampTimeout(slotEnd - s.now())
		if tmoMs == 0 {
			return true
		}
		tmo := time.Duration(tmoMs) * time.Millisecond
		s.drv.ArmReceive(tmo)

		select {
		case <-s.stop:
			return false
		case ev := <-s.drv.Events():
			switch ev.Kind {
			case radio.EventRxDone:
				s.handleFrame(ev.Data, ev.RSSI, ev.SNR, ev.At.UnixMicro())
			case radio.EventRxTimeout:
				s.counters.RxTimeouts++
			case radio.EventTxDone:
				// Late completion of our own transmission; nothing to do.
			}
		case <-time.After(tmo + tmo/2 + 20*time.Millisecond):
			// Driver never answered the window. Rearm on the next pass.
			logger.Warn(s.prefix, "receive window never completed, rearming")
		}
	}
}

// handleFrame runs the codec, the table update and the sync offer for one
// received buffer. Malformed or unwanted frames are counted and dropped; a
// drop is indistinguishable from a silent slot.
func (s *Scheduler) handleFrame(data []byte, rssi int16, snr int8, atMicros int64) {
	p, err := wire.Decode(data)
	if err != nil {
		s.counters.RxMalformed++
		logger.Trace(s.prefix, "dropping malformed frame: %v", err)
		return
	}
	if p.Sender == s.self.ID || p.Sender == wire.Broadcast {
		s.counters.RxIgnored++
		return
	}
	if rssi < s.cfg.RSSIMin {
		s.counters.RxIgnored++
		logger.Trace(s.prefix, "dropping frame from %d below rssi floor (%d < %d)",
			p.Sender, rssi, s.cfg.RSSIMin)
		return
	}
	if p.Destination != wire.Broadcast && p.Destination != s.self.ID {
		s.counters.RxIgnored++
		return
	}
	s.counters.RxFrames++

	nb := s.table.Observe(p, rssi, snr)
	if p.Command == wire.CmdSyncRequest {
		s.heardSyncReq = true
	}

	sequential := nb != nil && nb.Sequential
	senderGW := p.Stratum == uint8(StratumGateway) || p.GatewaySynced
	if s.sync.Offer(p.Sender, Stratum(p.Stratum), sequential, senderGW) {
		s.self.Hop = p.Hop.Next()
		s.realign(p.SenderSlot, atMicros)
	}
}

// realign snaps the cycle origin so the sync source's slot lands where its
// packet actually arrived. The shortest signed correction modulo one cycle is
// applied, so a source one slot "behind" pulls us back rather than a whole
// cycle forward.
func (s *Scheduler) realign(senderSlot uint8, atMicros int64) {
	if int(senderSlot) >= s.timeline.SlotCount {
		return
	}
	expected := s.cycleOrigin + s.timeline.SlotStart(int(senderSlot)) + s.timeline.PreTxDelay
	cycle := s.timeline.CycleDuration

	drift := int64(timing.FlooredMod(int(atMicros-expected), int(cycle)))
	if drift > cycle/2 {
		drift -= cycle
	}
	if drift != 0 {
		logger.Trace(s.prefix, "realigning cycle origin by %dus to sync source slot %d", drift, senderSlot)
		s.cycleOrigin += drift
	}
}

// buildPacket assembles this slot's outgoing frame. Unsynced non-reference
// nodes ask for time; a synced node that heard a request last cycle answers;
// everything else is the ordinary identity broadcast.
func (s *Scheduler) buildPacket() *wire.Packet {
	cmd := wire.CmdIDAndPos
	if !s.cfg.Reference && !s.sync.Synced() {
		cmd = wire.CmdSyncRequest
	} else if s.heardSyncReq {
		cmd = wire.CmdSyncResponse
		s.heardSyncReq = false
	}

	return &wire.Packet{
		Destination:   wire.Broadcast,
		Command:       cmd,
		Sender:        s.self.ID,
		SenderSlot:    s.self.Slot,
		Localized:     s.self.Localized,
		GatewaySynced: s.sync.GatewaySynced(),
		Hop:           s.self.Hop,
		Stratum:       uint8(s.sync.Stratum()),
		CycleSeq:      s.self.CycleSeq,
		PosX:          s.self.PosX,
		PosY:          s.self.PosY,
		PosZ:          s.self.PosZ,
		Digest:        s.table.Digest(wire.MaxDigestEntries),
	}
}

// finishCycle is the once-per-cycle bookkeeping: neighbour aging and
// eviction, the sync validity countdown, and the cycle-sequence step. This is
// the only place variable-cost work happens, so slot timing never pays for it.
func (s *Scheduler) finishCycle() {
	evicted := s.table.Age()
	if len(evicted) > 0 {
		logger.Debug(s.prefix, "evicted %d inactive neighbours: %v", len(evicted), evicted)
	}

	s.sync.EndOfCycle()
	if !s.cfg.Reference && !s.sync.Synced() {
		s.self.Hop = wire.HopUnknown
	}

	s.self.CycleSeq = uint8((int(s.self.CycleSeq) + 1) % s.seqModulus)
	s.counters.Cycles++
	s.updateStatus()
}

func (s *Scheduler) processing() bool {
	s.setState(StateProcessing)
	start := s.now()

	s.finishCycle()
	s.drainControl()

	if !s.sleepUntil(start + s.timeline.ProcessingDuration) {
		return false
	}

	s.cycleOrigin += s.timeline.CycleDuration + s.timeline.ProcessingDuration
	s.setState(StateIdle)
	return true
}

func (s *Scheduler) drainControl() {
	for {
		select {
		case k := <-s.ctrl:
			s.applyControl(k)
		default:
			return
		}
	}
}

func (s *Scheduler) applyControl(k ctrlKind) {
	switch k {
	case ctrlEnable:
		if !s.enabled {
			s.resetProtocol()
			s.enabled = true
			s.cycleOrigin = s.now()
			logger.Info(s.prefix, "protocol enabled, fresh convergence from %s", s.sync.Stratum())
		}
	case ctrlDisable:
		if s.enabled {
			s.enabled = false
			s.resetProtocol()
			logger.Info(s.prefix, "protocol disabled, neighbour and sync state cleared")
		}
	}
	s.updateStatus()
	logger.DebugJSON(s.prefix, "status after control", s.Status())
}

// resetProtocol clears everything derived from the air: disabling is a full
// reset, not a pause.
func (s *Scheduler) resetProtocol() {
	s.table.Reset()
	s.sync.Reset()
	s.heardSyncReq = false
	s.self.CycleSeq = 0
	if s.cfg.Reference {
		s.self.Hop = 0
	} else {
		s.self.Hop = wire.HopUnknown
	}
}

func (s *Scheduler) updateStatus() {
	st := Status{
		ID:             uint16(s.self.ID),
		Slot:           s.cfg.Slot,
		Enabled:        s.enabled,
		Stratum:        s.sync.Stratum(),
		SyncSource:     uint16(s.sync.Source()),
		SyncCyclesLeft: s.sync.CyclesLeft(),
		GatewaySynced:  s.sync.GatewaySynced(),
		HopDistance:    uint8(s.self.Hop),
		CycleSeq:       s.self.CycleSeq,
		Neighbours:     s.table.Len(),
		Bidirectional:  s.table.BidirectionalCount(),
		Counters:       s.counters,
	}
	s.statusMu.Lock()
	s.status = st
	s.statusMu.Unlock()
}

func (s *Scheduler) setState(st State) {
	s.state = st
	logger.Trace(s.prefix, "state %s", st)
}

func (s *Scheduler) now() int64 { return s.nowFn() }

// sleepUntil blocks until the deadline (microseconds) or a stop request.
func (s *Scheduler) sleepUntil(deadlineMicros int64) bool {
	remaining := deadlineMicros - s.now()
	if remaining <= 0 {
		return true
	}
	select {
	case <-s.stop:
		return false
	case <-time.After(time.Duration(remaining) * time.Microsecond):
		return true
	}
}

// SlotDelay returns the microseconds from "now" until the next start of the
// given slot, assuming pure cycling from the origin. Deltas go negative
// across the cycle wrap, which is exactly what FlooredMod is for.
func SlotDelay(nowMicros, originMicros, slotStartMicros, cycleMicros int64) int64 {
	elapsed := (nowMicros - originMicros) % cycleMicros
	return int64(timing.FlooredMod(int(slotStartMicros-elapsed), int(cycleMicros)))
}
