package config

import "github.com/user/loramesh/logger"

const defaultSlotCount = 13

// Normalize clamps out-of-range values back to the compiled-in defaults. It
// is allowed to mutate configuration and runs before Validate, so persisted
// garbage degrades to defaults instead of failing startup.
func Normalize(cfg *File) {
	if cfg == nil {
		return
	}

	if cfg.Radio.RSSIMin < -130 || cfg.Radio.RSSIMin > -50 || cfg.Radio.RSSIMin == 0 {
		logger.Warn("CONFIG", "rssi_min %d out of range, using %d", cfg.Radio.RSSIMin, DefaultRSSIMin)
		cfg.Radio.RSSIMin = DefaultRSSIMin
	}
	if cfg.Radio.RSSIGood < -120 || cfg.Radio.RSSIGood > -40 || cfg.Radio.RSSIGood == 0 {
		logger.Warn("CONFIG", "rssi_good %d out of range, using %d", cfg.Radio.RSSIGood, DefaultRSSIGood)
		cfg.Radio.RSSIGood = DefaultRSSIGood
	}
	if cfg.Radio.TxPower < -9 || cfg.Radio.TxPower > 22 {
		logger.Warn("CONFIG", "tx_power %d out of range, using %d", cfg.Radio.TxPower, DefaultTxPower)
		cfg.Radio.TxPower = DefaultTxPower
	}
	if cfg.DebugMode < 0 || cfg.DebugMode > 2 {
		cfg.DebugMode = 0
	}
}

// LogLevel maps the persisted debug mode onto the logger's levels.
func (f File) LogLevel() logger.LogLevel {
	switch f.DebugMode {
	case 2:
		return logger.TRACE
	case 1:
		return logger.DEBUG
	default:
		return logger.INFO
	}
}
