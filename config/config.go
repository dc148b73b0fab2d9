package config

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/user/loramesh/logger"
)

// Compiled-in defaults. Anything missing or out of range in the persisted
// file falls back to these; configuration problems are never fatal.
const (
	DefaultRSSIMin  = -115 // minimum threshold to accept packets (dBm)
	DefaultRSSIGood = -100 // "good quality" threshold for ranking (dBm)
	DefaultTxPower  = -9   // SX1262 range: -9 to +22 dBm
)

type File struct {
	Node      NodeConfig   `yaml:"node"`
	Radio     RadioConfig  `yaml:"radio"`
	Timing    TimingConfig `yaml:"timing"`
	DebugMode int          `yaml:"debug_mode"` // 0 quiet, 1 protocol, 2 verbose
}

type NodeConfig struct {
	ID        uint16 `yaml:"id"`
	Reference bool   `yaml:"reference"`
	FixedSlot bool   `yaml:"fixed_slot"`
	Slot      int    `yaml:"slot"`
}

type RadioConfig struct {
	RSSIMin  int16 `yaml:"rssi_min"`
	RSSIGood int16 `yaml:"rssi_good"`
	TxPower  int8  `yaml:"tx_power"`
}

// TimingConfig overrides the slot geometry. Zero values mean "use the
// compiled-in defaults".
type TimingConfig struct {
	SlotMs       int64 `yaml:"slot_ms"`
	SlotCount    int   `yaml:"slot_count"`
	ProcessingMs int64 `yaml:"processing_ms"`
}

// Defaults returns the compiled-in configuration.
func Defaults() File {
	return File{
		Node: NodeConfig{ID: 1, FixedSlot: true, Slot: 0},
		Radio: RadioConfig{
			RSSIMin:  DefaultRSSIMin,
			RSSIGood: DefaultRSSIGood,
			TxPower:  DefaultTxPower,
		},
	}
}

// Load reads the configuration file. A missing file, unreadable yaml, or a
// structurally invalid configuration yields the defaults with a warning.
// Out-of-range values are clamped by Normalize, not trusted verbatim.
func Load(path string) File {
	data, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("CONFIG", "no config at %s, using defaults: %v", path, err)
		return Defaults()
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		logger.Warn("CONFIG", "unparseable config at %s, using defaults: %v", path, err)
		return Defaults()
	}

	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		logger.Warn("CONFIG", "invalid config at %s, using defaults: %v", path, err)
		return Defaults()
	}
	return cfg
}

// Save writes the configuration atomically.
func Save(path string, cfg File) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
