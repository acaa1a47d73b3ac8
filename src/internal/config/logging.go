// FILE: src/internal/config/logging.go
package config

import (
	"fmt"
	"slices"
)

// LogConfig is the daemon's operational log. Per-exchange outcomes go to
// the [audit] trail instead; this log carries listener, reload and failure
// diagnostics.
type LogConfig struct {
	// "file", "stdout", "stderr", "both" or "none"
	Output string `toml:"output"`
	// "debug", "info", "warn" or "error"
	Level string `toml:"level"`

	File    *LogFileConfig    `toml:"file"`
	Console *LogConsoleConfig `toml:"console"`
}

// LogFileConfig controls rotation of the log directory.
type LogFileConfig struct {
	Directory      string  `toml:"directory"`
	Name           string  `toml:"name"`
	MaxSizeMB      int64   `toml:"max_size_mb"`
	MaxTotalSizeMB int64   `toml:"max_total_size_mb"`
	RetentionHours float64 `toml:"retention_hours"` // 0 keeps files until the size cap
}

// LogConsoleConfig selects the console stream. "split" sends debug and info
// to stdout, warn and error to stderr.
type LogConsoleConfig struct {
	Target string `toml:"target"`
	Format string `toml:"format"` // "txt" or "json"
}

var (
	logOutputs        = []string{"file", "stdout", "stderr", "both", "none"}
	logLevels         = []string{"debug", "info", "warn", "error"}
	logConsoleTargets = []string{"stdout", "stderr", "split"}
	logConsoleFormats = []string{"", "txt", "json"}
)

// DefaultLogConfig logs info and above to stderr, with a week of rotated
// files kept when file output is switched on.
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Output: "stderr",
		Level:  "info",
		File: &LogFileConfig{
			Directory:      "./log",
			Name:           "saslwisp",
			MaxSizeMB:      100,
			MaxTotalSizeMB: 1000,
			RetentionHours: 7 * 24,
		},
		Console: &LogConsoleConfig{
			Target: "stderr",
			Format: "txt",
		},
	}
}

// WritesFile reports whether the output mode includes the log directory.
func (c *LogConfig) WritesFile() bool {
	return c.Output == "file" || c.Output == "both"
}

func validateLogConfig(cfg *LogConfig) error {
	if cfg == nil {
		return fmt.Errorf("logging section missing")
	}
	if !slices.Contains(logOutputs, cfg.Output) {
		return fmt.Errorf("invalid log output mode: %s", cfg.Output)
	}
	if !slices.Contains(logLevels, cfg.Level) {
		return fmt.Errorf("invalid log level: %s", cfg.Level)
	}

	if cfg.WritesFile() {
		if cfg.File == nil || cfg.File.Directory == "" || cfg.File.Name == "" {
			return fmt.Errorf("output %q needs logging.file directory and name", cfg.Output)
		}
		if cfg.File.MaxSizeMB < 1 || cfg.File.MaxTotalSizeMB < cfg.File.MaxSizeMB {
			return fmt.Errorf("log file sizes invalid: max_size_mb=%d max_total_size_mb=%d",
				cfg.File.MaxSizeMB, cfg.File.MaxTotalSizeMB)
		}
		if cfg.File.RetentionHours < 0 {
			return fmt.Errorf("retention_hours cannot be negative")
		}
	}

	if cfg.Console != nil {
		if !slices.Contains(logConsoleTargets, cfg.Console.Target) {
			return fmt.Errorf("invalid console target: %s", cfg.Console.Target)
		}
		if !slices.Contains(logConsoleFormats, cfg.Console.Format) {
			return fmt.Errorf("invalid console format: %s", cfg.Console.Format)
		}
	}
	return nil
}
