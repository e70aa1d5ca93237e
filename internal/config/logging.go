package config

// LoggingConfig is the logging section of the YAML config. The
// categorized file logger in internal/logging does not read it; that
// package loads its own settings from <workspace>/.orchestra/config.json.
type LoggingConfig struct {
	Level      string          `yaml:"level"`      // debug, info, warn, error
	Format     string          `yaml:"format"`     // json or text
	DebugMode  bool            `yaml:"debug_mode"` // master toggle; when false IsCategoryEnabled reports false for every category
	Categories map[string]bool `yaml:"categories"` // per-category toggles, defaulting to enabled
}

// DefaultLoggingConfig returns text-format, info-level logging with
// debug mode off.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{Level: "info", Format: "text", DebugMode: false}
}

// IsCategoryEnabled reports whether logging is enabled for category,
// returning false outright when DebugMode is off and defaulting an
// unlisted category to enabled otherwise.
func (c *LoggingConfig) IsCategoryEnabled(category string) bool {
	if !c.DebugMode {
		return false
	}
	if c.Categories == nil {
		return true
	}
	enabled, exists := c.Categories[category]
	if !exists {
		return true
	}
	return enabled
}
