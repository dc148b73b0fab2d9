package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "node.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if cfg != Defaults() {
		t.Errorf("missing file: got %+v, want defaults", cfg)
	}
}

func TestLoadGarbageFallsBack(t *testing.T) {
	path := writeConfig(t, "::: not yaml {{{")
	cfg := Load(path)
	if cfg != Defaults() {
		t.Errorf("garbage file: got %+v, want defaults", cfg)
	}
}

func TestLoadValidFile(t *testing.T) {
	path := writeConfig(t, `
node:
  id: 7
  reference: true
  fixed_slot: true
  slot: 3
radio:
  rssi_min: -110
  rssi_good: -95
  tx_power: 14
debug_mode: 1
`)
	cfg := Load(path)

	if cfg.Node.ID != 7 || !cfg.Node.Reference || cfg.Node.Slot != 3 {
		t.Errorf("node config = %+v", cfg.Node)
	}
	if cfg.Radio.RSSIMin != -110 || cfg.Radio.RSSIGood != -95 || cfg.Radio.TxPower != 14 {
		t.Errorf("radio config = %+v", cfg.Radio)
	}
	if cfg.DebugMode != 1 {
		t.Errorf("DebugMode = %d, want 1", cfg.DebugMode)
	}
}

func TestNormalizeClampsOutOfRange(t *testing.T) {
	cfg := Defaults()
	cfg.Radio.RSSIMin = -10 // implausibly strong
	cfg.Radio.RSSIGood = 5
	cfg.Radio.TxPower = 30
	cfg.DebugMode = 9

	Normalize(&cfg)

	if cfg.Radio.RSSIMin != DefaultRSSIMin {
		t.Errorf("RSSIMin = %d, want %d", cfg.Radio.RSSIMin, DefaultRSSIMin)
	}
	if cfg.Radio.RSSIGood != DefaultRSSIGood {
		t.Errorf("RSSIGood = %d, want %d", cfg.Radio.RSSIGood, DefaultRSSIGood)
	}
	if cfg.Radio.TxPower != DefaultTxPower {
		t.Errorf("TxPower = %d, want %d", cfg.Radio.TxPower, DefaultTxPower)
	}
	if cfg.DebugMode != 0 {
		t.Errorf("DebugMode = %d, want 0", cfg.DebugMode)
	}
}

func TestValidateRejectsStructuralErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Node.ID = 0
	if err := Validate(&cfg); err == nil {
		t.Error("id 0 accepted")
	}

	cfg = Defaults()
	cfg.Node.FixedSlot = false
	if err := Validate(&cfg); err == nil {
		t.Error("auto-slot mode accepted")
	}

	cfg = Defaults()
	cfg.Node.Slot = 13
	if err := Validate(&cfg); err == nil {
		t.Error("out-of-range slot accepted")
	}
}

func TestLoadStructurallyInvalidFallsBack(t *testing.T) {
	path := writeConfig(t, `
node:
  id: 0
  fixed_slot: true
  slot: 0
`)
	cfg := Load(path)
	if cfg != Defaults() {
		t.Errorf("invalid file: got %+v, want defaults", cfg)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	cfg := Defaults()
	cfg.Node.ID = 12
	cfg.Radio.TxPower = 10

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got := Load(path)
	if got != cfg {
		t.Errorf("round trip: got %+v, want %+v", got, cfg)
	}
}
