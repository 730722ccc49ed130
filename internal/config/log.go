package config

import "fmt"

// Logger narrates discovery progress the way the teacher's device
// package narrates DMG offset detection: bracketed-prefix lines over
// fmt.Printf, gated by verbosity rather than routed through a
// structured logging framework.
type Logger struct {
	verbose bool
	quiet   bool
}

// NewLogger builds a Logger from the resolved Config.
func NewLogger(cfg *Config) *Logger {
	return &Logger{verbose: cfg.Verbose, quiet: cfg.Quiet}
}

// Debugf prints a [SCAN]-prefixed line only when verbose narration is
// enabled, for per-candidate detail (scan positions, rejected trees,
// scoring) that would otherwise flood ordinary runs.
func (l *Logger) Debugf(format string, args ...interface{}) {
	if !l.verbose || l.quiet {
		return
	}
	fmt.Printf("[SCAN] "+format+"\n", args...)
}

// Infof prints a [QTRC]-prefixed line unless quiet is set, for the
// milestones worth surfacing on every run (table found, tree found,
// blobs found, extraction complete).
func (l *Logger) Infof(format string, args ...interface{}) {
	if l.quiet {
		return
	}
	fmt.Printf("[QTRC] "+format+"\n", args...)
}

// Errorf always prints, prefixed [QTRC] ✗, regardless of quiet.
func (l *Logger) Errorf(format string, args ...interface{}) {
	fmt.Printf("[QTRC] ✗ "+format+"\n", args...)
}
