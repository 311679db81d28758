// Package debug is the leveled logger shared by every package. Levels are
// read atomically so pulse tasks may log while the level is changed.
package debug

import (
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
)

// Debug levels
const (
	LevelOff     = 0 // No output
	LevelInfo    = 1 // Important info (startup, mount state changes)
	LevelLive    = 2 // Live info (positions, rates applied)
	LevelVerbose = 3 // Verbose (conversion details, periods)
	LevelTrace   = 4 // Trace (GPIO, very low level)
)

const prefix = "[MountGo] "

var (
	level  atomic.Int32
	logger atomic.Pointer[log.Logger]

	outMu  sync.Mutex
	output io.Writer = os.Stdout
)

// Init initializes the debug system with a level (0-4).
// 0 = no output
// 1 = important info (startup, tracking on/off, warnings)
// 2 = live info (axis positions, composed rates)
// 3 = verbose (frequency to period conversion, settings)
// 4 = trace (GPIO, very low level)
func Init(debugLevel int) {
	outMu.Lock()
	defer outMu.Unlock()
	level.Store(int32(debugLevel))
	if debugLevel > LevelOff {
		logger.Store(log.New(output, prefix, log.LstdFlags|log.Lmicroseconds))
	} else {
		logger.Store(nil)
	}
}

// SetOutput redirects debug output. Takes effect immediately.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	output = w
	if l := logger.Load(); l != nil {
		l.SetOutput(w)
	}
}

// IsEnabled returns true if debug level is >= the requested level.
func IsEnabled(minLevel int) bool {
	return int(level.Load()) >= minLevel
}

// at returns the logger when output at minLevel is enabled, nil otherwise.
func at(minLevel int) *log.Logger {
	if !IsEnabled(minLevel) {
		return nil
	}
	return logger.Load()
}

// --- Level 1 functions (Info): important info ---

// Info prints a level 1 message (important info).
func Info(format string, args ...interface{}) {
	if l := at(LevelInfo); l != nil {
		l.Printf("[INFO] "+format, args...)
	}
}

// Warn prints a level 1 warning.
func Warn(format string, args ...interface{}) {
	if l := at(LevelInfo); l != nil {
		l.Printf("[WARN] "+format, args...)
	}
}

// Summary prints an important summary (level 1).
func Summary(title string) {
	if l := at(LevelInfo); l != nil {
		l.Printf("═══════════════════════════════════════")
		l.Printf("  %s", title)
		l.Printf("═══════════════════════════════════════")
	}
}

// Value prints a named value in formatted form (level 1).
func Value(name string, value interface{}) {
	if l := at(LevelInfo); l != nil {
		l.Printf("[INFO]   %s = %v", name, value)
	}
}

// Error prints a debug error (level 1+).
func Error(err error) {
	if l := at(LevelInfo); l != nil {
		l.Printf("[ERROR] %v", err)
	}
}

// --- Level 2 functions (Live): real-time info ---

// Live prints a level 2 message (live info).
func Live(format string, args ...interface{}) {
	if l := at(LevelLive); l != nil {
		l.Printf("[LIVE] "+format, args...)
	}
}

// Axis prints an axis position report in degrees.
func Axis(name string, instrumentDeg, targetDeg, freqDeg float64) {
	if l := at(LevelLive); l != nil {
		l.Printf("[LIVE] %s: at %.5f° target %.5f° rate %.6f°/s", name, instrumentDeg, targetDeg, freqDeg)
	}
}

// Rates prints the composed per-axis rates in sidereal multiples.
func Rates(axis1, axis2 float64) {
	if l := at(LevelLive); l != nil {
		l.Printf("[LIVE] Rates: axis1=%.5fx axis2=%.5fx sidereal", axis1, axis2)
	}
}

// --- Level 3 functions (Verbose) ---

// Verbose prints a level 3 message.
func Verbose(format string, args ...interface{}) {
	if l := at(LevelVerbose); l != nil {
		l.Printf("[VERBOSE] "+format, args...)
	}
}

// PrintStruct prints a struct in formatted form (level 3).
func PrintStruct(name string, v interface{}) {
	if l := at(LevelVerbose); l != nil {
		l.Printf("[VERBOSE] %s: %+v", name, v)
	}
}

// Section prints a section separator (level 3).
func Section(name string) {
	if l := at(LevelVerbose); l != nil {
		l.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
		l.Printf("  %s", name)
		l.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	}
}

// Step prints a numbered step (level 3).
func Step(num int, description string) {
	if l := at(LevelVerbose); l != nil {
		l.Printf("[VERBOSE] Step %d: %s", num, description)
	}
}

// --- Level 4 functions (Trace) ---

// Trace prints a level 4 message.
func Trace(format string, args ...interface{}) {
	if l := at(LevelTrace); l != nil {
		l.Printf("[TRACE] "+format, args...)
	}
}

// GPIO prints a GPIO operation (level 4).
func GPIO(operation string, pin int, value interface{}) {
	if l := at(LevelTrace); l != nil {
		l.Printf("[GPIO] %s pin=%d value=%v", operation, pin, value)
	}
}
