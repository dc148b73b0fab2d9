package radio

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/loramesh/logger"
)

// AirConfig controls the realism of the simulated radio medium.
type AirConfig struct {
	// Packet loss applied independently per receiver.
	LossRate float64 // Default: 0.015

	// One-way propagation plus modem latency before a frame lands.
	PropagationDelay time.Duration // Default: 2ms

	// RSSI model: base at 1m, free-space falloff with distance, plus variance.
	BaseRSSI     int16 // Default: -50 dBm
	RSSIVariance int   // Default: 10 dBm

	// Deterministic mode for reproducible tests.
	Deterministic bool
	Seed          int64
}

// DefaultAirConfig returns realistic LoRa link parameters.
func DefaultAirConfig() *AirConfig {
	return &AirConfig{
		LossRate:         0.015,
		PropagationDelay: 2 * time.Millisecond,
		BaseRSSI:         -50,
		RSSIVariance:     10,
	}
}

// PerfectAirConfig returns a 100% reliable, deterministic medium for tests.
func PerfectAirConfig() *AirConfig {
	return &AirConfig{
		LossRate:         0,
		PropagationDelay: 0,
		BaseRSSI:         -50,
		RSSIVariance:     0,
		Deterministic:    true,
	}
}

// Air is an in-process radio medium joining any number of SimRadios. A
// transmitted frame is offered to every other radio whose receive window is
// open, subject to loss and a distance-based RSSI.
type Air struct {
	mu     sync.Mutex
	cfg    *AirConfig
	rng    *rand.Rand
	radios map[string]*SimRadio
}

// NewAir creates an empty medium.
func NewAir(cfg *AirConfig) *Air {
	if cfg == nil {
		cfg = DefaultAirConfig()
	}
	seed := cfg.Seed
	if !cfg.Deterministic {
		seed = time.Now().UnixNano()
	}
	return &Air{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		radios: make(map[string]*SimRadio),
	}
}

// NewRadio joins a radio to the medium at the given position (meters).
func (a *Air) NewRadio(x, y, z float64) *SimRadio {
	r := &SimRadio{
		id:     uuid.New().String(),
		air:    a,
		pos:    [3]float64{x, y, z},
		events: make(chan Event, eventQueueDepth),
	}
	a.mu.Lock()
	a.radios[r.id] = r
	a.mu.Unlock()
	return r
}

func (a *Air) lossy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.rng.Float64() < a.cfg.LossRate
}

// rssiAt models free-space path loss from the configured 1m base, with
// variance, clamped to the usable LoRa range.
func (a *Air) rssiAt(distance float64) (int16, int8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if distance < 1 {
		distance = 1
	}
	rssi := float64(a.cfg.BaseRSSI) - 20*math.Log10(distance)
	if a.cfg.RSSIVariance > 0 {
		rssi += float64(a.rng.Intn(a.cfg.RSSIVariance*2) - a.cfg.RSSIVariance)
	}
	if rssi < -130 {
		rssi = -130
	} else if rssi > -20 {
		rssi = -20
	}

	// SNR degrades roughly with signal strength; good enough for ranking.
	snr := int8(10)
	if rssi < -100 {
		snr = int8((rssi + 120) / 2)
	}
	return int16(rssi), snr
}

const eventQueueDepth = 8

// SimRadio is one endpoint on the Air. It implements Driver.
type SimRadio struct {
	id  string
	air *Air
	pos [3]float64

	mu       sync.Mutex
	armed    bool
	armGen   int
	armTimer *time.Timer
	closed   bool

	events chan Event

	// DroppedEvents counts completions lost to a full queue.
	DroppedEvents int
}

var _ Driver = (*SimRadio)(nil)

// ID returns the radio's hardware identifier.
func (r *SimRadio) ID() string { return r.id }

// SetPosition moves the radio on the medium.
func (r *SimRadio) SetPosition(x, y, z float64) {
	r.air.mu.Lock()
	r.pos = [3]float64{x, y, z}
	r.air.mu.Unlock()
}

// Transmit broadcasts one frame to every armed radio on the medium and posts
// EventTxDone to the sender once the propagation delay has passed.
func (r *SimRadio) Transmit(frame []byte) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return fmt.Errorf("radio %s: transmit on closed radio", r.id[:8])
	}
	r.mu.Unlock()

	buf := make([]byte, len(frame))
	copy(buf, frame)

	go func() {
		if d := r.air.cfg.PropagationDelay; d > 0 {
			time.Sleep(d)
		}

		type hop struct {
			radio *SimRadio
			dist  float64
		}
		r.air.mu.Lock()
		peers := make([]hop, 0, len(r.air.radios))
		for _, p := range r.air.radios {
			if p != r {
				peers = append(peers, hop{p, distance(r.pos, p.pos)})
			}
		}
		r.air.mu.Unlock()

		for _, h := range peers {
			if r.air.lossy() {
				logger.Trace("AIR", "frame from %s lost on the way to %s", r.id[:8], h.radio.id[:8])
				continue
			}
			rssi, snr := r.air.rssiAt(h.dist)
			h.radio.deliver(buf, rssi, snr)
		}

		r.post(Event{Kind: EventTxDone, At: time.Now()})
	}()

	return nil
}

// ArmReceive opens a single receive window. It replaces any window already
// open; the replaced window never fires.
func (r *SimRadio) ArmReceive(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	if r.armTimer != nil {
		r.armTimer.Stop()
	}
	r.armed = true
	r.armGen++
	gen := r.armGen

	r.armTimer = time.AfterFunc(timeout, func() {
		r.mu.Lock()
		expired := r.armed && r.armGen == gen
		if expired {
			r.armed = false
		}
		r.mu.Unlock()
		if expired {
			r.post(Event{Kind: EventRxTimeout, At: time.Now()})
		}
	})
}

// deliver hands a frame to this radio if its window is open. One frame closes
// the window, like single-shot RX mode on the real transceiver.
func (r *SimRadio) deliver(frame []byte, rssi int16, snr int8) {
	r.mu.Lock()
	if !r.armed || r.closed {
		r.mu.Unlock()
		return
	}
	r.armed = false
	if r.armTimer != nil {
		r.armTimer.Stop()
	}
	r.mu.Unlock()

	buf := make([]byte, len(frame))
	copy(buf, frame)
	r.post(Event{Kind: EventRxDone, Data: buf, RSSI: rssi, SNR: snr, At: time.Now()})
}

// post never blocks: a full queue drops the event and counts it.
func (r *SimRadio) post(ev Event) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	select {
	case r.events <- ev:
	default:
		r.mu.Lock()
		r.DroppedEvents++
		r.mu.Unlock()
		logger.Warn("AIR", "radio %s event queue full, dropping %s", r.id[:8], ev.Kind)
	}
}

// Events returns the completion channel.
func (r *SimRadio) Events() <-chan Event { return r.events }

// Close detaches the radio from the medium.
func (r *SimRadio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.armTimer != nil {
		r.armTimer.Stop()
	}
	r.mu.Unlock()

	r.air.mu.Lock()
	delete(r.air.radios, r.id)
	r.air.mu.Unlock()
	return nil
}

func distance(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
