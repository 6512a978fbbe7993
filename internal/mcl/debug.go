package mcl

import (
	"io"
	"log"
	"sync"

	"github.com/banshee-data/overlap-mcl/internal/mcl/localiser"
	"github.com/banshee-data/overlap-mcl/internal/mcl/publish"
	"github.com/banshee-data/overlap-mcl/internal/mcl/report"
	"github.com/banshee-data/overlap-mcl/internal/mcl/scorer"
	"github.com/banshee-data/overlap-mcl/internal/mcl/sensor"
	"github.com/banshee-data/overlap-mcl/internal/mcl/volume"
)

// LogWriters holds the io.Writers for each logging stream.
type LogWriters struct {
	Ops   io.Writer
	Diag  io.Writer
	Trace io.Writer
}

var (
	mu          sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures all three logging streams for this package and
// every localisation subpackage. Pass nil for any writer to disable that
// stream.
func SetLogWriters(w LogWriters) {
	mu.Lock()
	opsLogger = newLogger("[mcl] ", w.Ops)
	diagLogger = newLogger("[mcl] ", w.Diag)
	traceLogger = newLogger("[mcl] ", w.Trace)
	mu.Unlock()

	volume.SetLogWriters(w.Ops, w.Diag, w.Trace)
	scorer.SetLogWriters(w.Ops, w.Diag, w.Trace)
	sensor.SetLogWriters(w.Ops, w.Diag, w.Trace)
	localiser.SetLogWriters(w.Ops, w.Diag, w.Trace)
	report.SetLogWriters(w.Ops, w.Diag, w.Trace)
	publish.SetLogWriters(w.Ops, w.Diag, w.Trace)
}

// newLogger creates a *log.Logger for a given writer, or returns nil if w is nil.
func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// Opsf logs to the ops stream (actionable warnings, errors, lifecycle events).
func Opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Diagf logs to the diag stream (day-to-day diagnostics, tuning context).
func Diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// Tracef logs to the trace stream (per-frame telemetry).
func Tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
