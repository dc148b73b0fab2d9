// Package admin implements the line-oriented maintenance console. It speaks
// a terse uppercase command set over any reader/writer pair, typically a
// serial port or a TCP session, and never touches protocol state directly:
// everything goes through the NodeControl interface.
package admin

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/user/loramesh/config"
	"github.com/user/loramesh/logger"
	"github.com/user/loramesh/mesh"
)

// NodeControl is the slice of the scheduler the console is allowed to drive.
type NodeControl interface {
	Enable()
	Disable()
	Status() mesh.Status
}

// Processor executes admin commands against a running node. Configuration
// edits are applied to the in-memory copy and persisted through save; the
// radio-facing values take effect on the next cycle.
type Processor struct {
	node NodeControl
	cfg  *config.File
	save func(config.File) error
}

func NewProcessor(node NodeControl, cfg *config.File, save func(config.File) error) *Processor {
	if save == nil {
		save = func(config.File) error { return nil }
	}
	return &Processor{node: node, cfg: cfg, save: save}
}

// Execute runs one command line and returns the response text. Responses
// start with "OK" or "ERR"; multi-line output follows the first line.
func (p *Processor) Execute(line string) string {
	fields := strings.Fields(strings.TrimSpace(line))
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "TDMA_ON":
		p.node.Enable()
		return "OK TDMA enabled"
	case "TDMA_OFF":
		p.node.Disable()
		return "OK TDMA disabled"
	case "TDMA_STATUS":
		return p.status()
	case "SHOW":
		return p.show()
	case "SET_RSSI_MIN":
		return p.setRadio(args, "rssi_min", -130, -50, func(v int) { p.cfg.Radio.RSSIMin = int16(v) })
	case "SET_RSSI_GOOD":
		return p.setRadio(args, "rssi_good", -120, -40, func(v int) { p.cfg.Radio.RSSIGood = int16(v) })
	case "SET_TX_POWER":
		return p.setRadio(args, "tx_power", -9, 22, func(v int) { p.cfg.Radio.TxPower = int8(v) })
	case "RESET_CONFIG":
		return p.resetConfig()
	case "HELP":
		return helpText
	default:
		return fmt.Sprintf("ERR unknown command %q, try HELP", cmd)
	}
}

func (p *Processor) status() string {
	st := p.node.Status()
	mode := "OFF"
	if st.Enabled {
		mode = "ON"
	}
	return fmt.Sprintf("OK TDMA %s stratum=%s source=%d hop=%d cycles=%d",
		mode, st.Stratum, st.SyncSource, st.HopDistance, st.Counters.Cycles)
}

func (p *Processor) show() string {
	st := p.node.Status()
	var b strings.Builder
	fmt.Fprintf(&b, "OK node %d slot %d\n", st.ID, st.Slot)
	fmt.Fprintf(&b, "  sync:   stratum=%s source=%d valid=%d gateway=%v\n",
		st.Stratum, st.SyncSource, st.SyncCyclesLeft, st.GatewaySynced)
	fmt.Fprintf(&b, "  radio:  rssi_min=%d rssi_good=%d tx_power=%d\n",
		p.cfg.Radio.RSSIMin, p.cfg.Radio.RSSIGood, p.cfg.Radio.TxPower)
	fmt.Fprintf(&b, "  table:  neighbours=%d bidirectional=%d\n",
		st.Neighbours, st.Bidirectional)
	fmt.Fprintf(&b, "  counts: tx=%d rx=%d malformed=%d ignored=%d timeouts=%d cycles=%d",
		st.Counters.TxFrames, st.Counters.RxFrames, st.Counters.RxMalformed,
		st.Counters.RxIgnored, st.Counters.RxTimeouts, st.Counters.Cycles)
	return b.String()
}

func (p *Processor) setRadio(args []string, name string, min, max int, apply func(int)) string {
	if len(args) != 1 {
		return fmt.Sprintf("ERR usage: SET_%s <dBm>", strings.ToUpper(name))
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Sprintf("ERR %s: not a number: %q", name, args[0])
	}
	if v < min || v > max {
		return fmt.Sprintf("ERR %s: %d outside %d..%d dBm", name, v, min, max)
	}
	apply(v)
	if err := p.save(*p.cfg); err != nil {
		return fmt.Sprintf("ERR %s set but not persisted: %v", name, err)
	}
	return fmt.Sprintf("OK %s=%d", name, v)
}

func (p *Processor) resetConfig() string {
	// Node identity survives a reset; only tunables revert.
	def := config.Defaults()
	p.cfg.Radio = def.Radio
	p.cfg.Timing = def.Timing
	p.cfg.DebugMode = def.DebugMode
	if err := p.save(*p.cfg); err != nil {
		return fmt.Sprintf("ERR reset but not persisted: %v", err)
	}
	return "OK config reset to defaults"
}

const helpText = `OK commands:
  TDMA_ON            start slot scheduling
  TDMA_OFF           stop slot scheduling
  TDMA_STATUS        one-line protocol status
  SHOW               full node status
  SET_RSSI_MIN <dBm>   acceptance threshold (-130..-50)
  SET_RSSI_GOOD <dBm>  quality threshold (-120..-40)
  SET_TX_POWER <dBm>   transmit power (-9..22)
  RESET_CONFIG       revert tunables to defaults
  HELP               this text`

// Serve reads command lines until EOF, writing one response per line. It is
// meant to run on its own goroutine per console session.
func (p *Processor) Serve(r io.Reader, w io.Writer) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		resp := p.Execute(sc.Text())
		if resp == "" {
			continue
		}
		if _, err := fmt.Fprintln(w, resp); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		logger.Warn("ADMIN", "console read: %v", err)
		return err
	}
	return nil
}
