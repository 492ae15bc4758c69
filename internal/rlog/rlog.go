// Package rlog is this repository's logging façade. It keeps the calling
// convention of the teacher's hand-rolled pkg/logger (level methods plus a
// start-up Banner/Section flourish) but is backed by go.uber.org/zap so
// every WARN-level packet drop the protocol spec mandates carries
// structured fields instead of an interpolated string.
package rlog

import (
	"fmt"

	"go.uber.org/zap"
)

// Level selects one of the four minimum logging levels below.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// Logger wraps a *zap.SugaredLogger with DEBUG/INFO/WARN/ERROR level
// methods. There is no separate IO level; per-datagram traffic is not
// logged at a level of its own.
type Logger struct {
	z *zap.SugaredLogger
}

var std *Logger

func init() {
	std = New(LevelInfo)
}

// New builds a Logger at the given minimum level, writing to stderr.
func New(min Level) *Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = toZapLevel(min)
	cfg.Encoding = "console"
	cfg.EncoderConfig.TimeKey = "ts"
	z, err := cfg.Build()
	if err != nil {
		// Falls back to a no-op core rather than panicking; logging
		// must never be fatal to the protocol engine.
		z = zap.NewNop()
	}
	return &Logger{z: z.Sugar()}
}

func toZapLevel(l Level) zap.AtomicLevel {
	switch l {
	case LevelDebug:
		return zap.NewAtomicLevelAt(-1)
	case LevelWarn:
		return zap.NewAtomicLevelAt(1)
	case LevelError:
		return zap.NewAtomicLevelAt(2)
	default:
		return zap.NewAtomicLevelAt(0)
	}
}

// Default returns the package-level logger, matching teacher call sites
// like logger.Info(...).
func Default() *Logger { return std }

// SetDefault replaces the package-level logger, e.g. to raise verbosity
// from a CLI flag.
func SetDefault(l *Logger) { std = l }

func (l *Logger) Debugw(msg string, kv ...any) { l.z.Debugw(msg, kv...) }
func (l *Logger) Infow(msg string, kv ...any)   { l.z.Infow(msg, kv...) }
func (l *Logger) Warnw(msg string, kv ...any)   { l.z.Warnw(msg, kv...) }
func (l *Logger) Errorw(msg string, kv ...any)  { l.z.Errorw(msg, kv...) }

func (l *Logger) Sync() { _ = l.z.Sync() }

// Banner prints the start-up banner a sample binary shows once, the way
// the teacher's logger.Banner did. It intentionally bypasses zap's
// structured output: it's decoration, not a log line.
func Banner(title, version string) {
	fmt.Printf("\n== %s (%s) ==\n\n", title, version)
}

// Section prints a section header, mirroring logger.Section.
func Section(title string) {
	fmt.Printf("\n--- %s ---\n\n", title)
}
