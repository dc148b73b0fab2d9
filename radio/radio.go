// Package radio defines the boundary to the LoRa transceiver. The protocol
// core only ever hands the driver fixed-length buffers and timeouts; modem
// configuration, SPI and interrupt handling live behind this interface.
//
// Completion notifications arrive as events on a bounded channel. The driver
// side only copies a buffer and posts; all protocol logic runs in the
// consumer's cooperative loop.
package radio

import "time"

// EventKind tags a completion event.
type EventKind int

const (
	EventTxDone    EventKind = iota // transmit completed
	EventRxDone                     // frame received while armed
	EventRxTimeout                  // receive window elapsed with nothing heard
)

func (k EventKind) String() string {
	switch k {
	case EventTxDone:
		return "TX_DONE"
	case EventRxDone:
		return "RX_DONE"
	case EventRxTimeout:
		return "RX_TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// Event is one completion notification. Data is the driver's own copy of the
// received frame and is only set for EventRxDone.
type Event struct {
	Kind EventKind
	Data []byte
	RSSI int16
	SNR  int8
	At   time.Time
}

// Driver is the transceiver contract consumed by the scheduler.
//
// Transmit starts sending one frame and later posts EventTxDone.
// ArmReceive opens a single receive window; exactly one of EventRxDone or
// EventRxTimeout follows. Arming while a window is open replaces it.
type Driver interface {
	Transmit(frame []byte) error
	ArmReceive(timeout time.Duration)
	Events() <-chan Event
	Close() error
}
