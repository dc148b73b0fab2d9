package config

import "fmt"

// Validate checks structural correctness. It performs declarative validation
// only and MUST NOT mutate configuration; clamping belongs to Normalize.
func Validate(cfg *File) error {
	if cfg.Node.ID == 0 {
		return fmt.Errorf("config: node id 0 is reserved for broadcast")
	}

	if !cfg.Node.FixedSlot {
		// Auto-assignment is an unimplemented extension, not a silent mode.
		return fmt.Errorf("config: only fixed_slot operation is supported")
	}

	slotCount := cfg.Timing.SlotCount
	if slotCount == 0 {
		slotCount = defaultSlotCount
	}
	if cfg.Node.Slot < 0 || cfg.Node.Slot >= slotCount {
		return fmt.Errorf("config: slot %d outside cycle of %d slots", cfg.Node.Slot, slotCount)
	}

	if cfg.Timing.SlotCount < 0 || cfg.Timing.SlotMs < 0 || cfg.Timing.ProcessingMs < 0 {
		return fmt.Errorf("config: timing overrides must be non-negative")
	}

	return nil
}
