// meshsim runs a whole TDMA mesh in one process over the simulated radio
// medium. Node 1 is the gateway reference; everyone else starts unsynced and
// has to converge on its timing. The slot geometry is scaled down from the
// real 500ms slots so a full convergence run fits in seconds.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/user/loramesh/config"
	"github.com/user/loramesh/logger"
	"github.com/user/loramesh/mesh"
	"github.com/user/loramesh/radio"
	"github.com/user/loramesh/timing"
	"github.com/user/loramesh/wire"
)

func main() {
	nodes := flag.Int("nodes", 5, "number of nodes (node 1 is the gateway)")
	slotMs := flag.Int64("slot-ms", 50, "slot duration in milliseconds")
	slots := flag.Int("slots", timing.DefaultSlotCount, "slots per cycle")
	duration := flag.Duration("duration", 30*time.Second, "how long to run")
	loss := flag.Float64("loss", 0.015, "per-receiver packet loss rate")
	seed := flag.Int64("seed", 0, "deterministic RNG seed (0 = wall clock)")
	spacing := flag.Float64("spacing", 80, "distance between adjacent nodes in meters")
	logLevel := flag.String("log-level", "info", "trace|debug|info|warn|error")
	flag.Parse()

	logger.SetLevel(logger.ParseLevel(*logLevel))

	if *nodes < 2 || *nodes > *slots {
		fmt.Fprintf(os.Stderr, "-nodes must be in 2..%d (one slot each)\n", *slots)
		os.Exit(2)
	}

	tl, err := scaledTimeline(*slotMs, *slots)
	if err != nil {
		fmt.Fprintf(os.Stderr, "slot geometry: %v\n", err)
		os.Exit(2)
	}
	logger.Info("SIM", "%d nodes, %d x %dms slots, guard band %dus, loss %.1f%%",
		*nodes, tl.SlotCount, tl.SlotDuration/1000, tl.GuardBand, *loss*100)

	airCfg := radio.DefaultAirConfig()
	airCfg.LossRate = *loss
	if *seed != 0 {
		airCfg.Deterministic = true
		airCfg.Seed = *seed
	}
	air := radio.NewAir(airCfg)

	scheds := make([]*mesh.Scheduler, 0, *nodes)
	for i := 0; i < *nodes; i++ {
		drv := air.NewRadio(float64(i)**spacing, 0, 0)
		cfg := mesh.Config{
			ID:        wire.NodeID(i + 1),
			Slot:      i,
			Reference: i == 0,
			RSSIMin:   config.DefaultRSSIMin,
			RSSIGood:  config.DefaultRSSIGood,
			PosX:      float32(float64(i) * *spacing),
		}
		s, err := mesh.NewScheduler(tl, cfg, drv)
		if err != nil {
			fmt.Fprintf(os.Stderr, "node %d: %v\n", i+1, err)
			os.Exit(1)
		}
		scheds = append(scheds, s)
	}

	for _, s := range scheds {
		s.Start()
	}

	done := time.After(*duration)
	tick := time.NewTicker(5 * tl.Cycle())
	defer tick.Stop()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

run:
	for {
		select {
		case <-done:
			break run
		case <-sig:
			logger.Info("SIM", "interrupted")
			break run
		case <-tick.C:
			printTable(scheds)
		}
	}

	for _, s := range scheds {
		s.Stop()
	}
	printTable(scheds)
}

// scaledTimeline shrinks the measured radio budget in proportion to the slot,
// keeping the same slot fractions as the real 500ms geometry.
func scaledTimeline(slotMs int64, slots int) (*timing.Timeline, error) {
	slotMicros := slotMs * 1000
	scale := float64(slotMicros) / float64(timing.DefaultSlotMicros)

	b := timing.DefaultBudget()
	b.TxPrepare = scaleMicros(b.TxPrepare, scale)
	b.TxOnAir = scaleMicros(b.TxOnAir, scale)
	b.TxCallback = scaleMicros(b.TxCallback, scale)
	b.TxGuard = scaleMicros(b.TxGuard, scale)
	b.TxModeSwitch = scaleMicros(b.TxModeSwitch, scale)

	return timing.NewTimeline(b, slotMicros, slots,
		slotMicros, // processing phase, one slot like the real geometry
		scaleMicros(timing.DefaultPreTxDelayMicros, scale),
		scaleMicros(timing.DefaultPreRxDelayMicros, scale))
}

func scaleMicros(v int64, scale float64) int64 {
	scaled := int64(float64(v) * scale)
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

func printTable(scheds []*mesh.Scheduler) {
	var b strings.Builder
	b.WriteString("node slot stratum  src hop nbr bidi    tx    rx  cycles\n")
	for _, s := range scheds {
		st := s.Status()
		b.WriteString(fmt.Sprintf("%4d %4d %-8s %3d %3d %3d %4d %5d %5d %7d\n",
			st.ID, st.Slot, st.Stratum, st.SyncSource, st.HopDistance,
			st.Neighbours, st.Bidirectional,
			st.Counters.TxFrames, st.Counters.RxFrames, st.Counters.Cycles))
	}
	fmt.Print(b.String())
}
