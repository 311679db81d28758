// Package axis implements one stepper-driven mount axis: its coordinate frames,
// target and backlash bookkeeping, step rate and the step/direction pulse
// generator run by the periodic scheduler.
//
// Positions are kept in steps. The instrument frame is motor+index, the motor
// frame as reported to callers is motor+backlash. The triple (motor, target,
// backlash) is shared with the pulse generator and only touched with its
// interrupt line disabled.
package axis

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/cjeanneret/MountGo/internal/debug"
	"github.com/cjeanneret/MountGo/internal/hw/gpio"
	"github.com/cjeanneret/MountGo/internal/hw/irq"
	"github.com/cjeanneret/MountGo/internal/hw/tasks"
)

// Scheduler is the periodic task collaborator driving the pulse generator.
type Scheduler interface {
	Add(name string, fn func()) tasks.Handle
	RequestHardwareTimer(h tasks.Handle, timer, priority int) bool
	SetPeriodSubMicros(h tasks.Handle, period uint32)
}

// Clock reports the master sidereal period in sub-microseconds.
type Clock interface {
	PeriodSubMicros() float64
}

// Pins is the static wiring of an axis driver.
type Pins struct {
	Step         int
	Dir          int
	Enable       int // 0 = not used
	InvertStep   bool
	InvertDir    bool
	InvertEnable bool // true: driver enabled by a HIGH level
}

// Settings are the per-axis calibration values applied by Init.
type Settings struct {
	StepsPerMeasure  float64 // steps per radian
	StepsPerStepGoto int     // steps per step while slewing in goto microstep mode
	Reverse          bool    // swap the meaning of the direction line
	Min              float64 // radians
	Max              float64 // radians
}

// MicrostepMode tells upstream driver-mode logic what the axis is doing.
type MicrostepMode int32

const (
	MicrostepTracking MicrostepMode = iota
	MicrostepSlewingReady
	MicrostepSlewing
)

func (m MicrostepMode) String() string {
	switch m {
	case MicrostepTracking:
		return "tracking"
	case MicrostepSlewingReady:
		return "slewing-ready"
	case MicrostepSlewing:
		return "slewing"
	default:
		return fmt.Sprintf("MicrostepMode(%d)", int32(m))
	}
}

// Axis is one motion axis. Create it with New, then call Init once.
type Axis struct {
	name   string
	number int
	pins   Pins

	gpio   gpio.Driver
	sched  Scheduler
	clock  Clock
	line   *irq.Line
	handle tasks.Handle

	// Fixed after Init.
	spm      float64
	step     int64
	stepGoto int
	minSteps int64
	maxSteps int64

	// Guarded by line.
	motorSteps          int64
	targetSteps         int64
	backlashSteps       int64
	backlashAmountSteps int64
	indexSteps          int64
	tracking            bool
	trackingStep        int64
	dirReverse          bool
	takeStep            bool

	// Control side only. Lock order: mu, then line.
	mu              sync.Mutex
	target          float64 // fractional target in motor steps, instrument frame
	originSteps     int64
	maxFreq         float64 // steps per second
	minPeriodMicros float64
	maxPeriodMicros float64

	lastPeriod  atomic.Uint32 // sub-µs half period, 0 = stopped
	reverseRate atomic.Bool
	enabled     atomic.Bool
	microstep   atomic.Int32
}

// New binds an axis to its pins and collaborators. The axis does nothing
// until Init registers its pulse generator.
func New(pins Pins, driver gpio.Driver, sched Scheduler, clk Clock) *Axis {
	a := &Axis{
		pins:            pins,
		gpio:            driver,
		sched:           sched,
		clock:           clk,
		step:            1,
		stepGoto:        1,
		maxPeriodMicros: DefaultMaxPeriodMicros,
	}
	a.line = irq.NewLine(a.move)
	return a
}

// Init applies calibration, parks the pins at their idle levels, disables the
// driver and registers the pulse generator with the scheduler. Axes 1 and 2
// ask for a hardware timer and fall back to the software period without one.
func (a *Axis) Init(axisNumber int, s Settings) {
	debug.Verbose("Axis.Init, axis %d", axisNumber)

	a.number = axisNumber
	a.name = fmt.Sprintf("Axis%d", axisNumber)
	a.spm = s.StepsPerMeasure
	if s.StepsPerStepGoto > 0 {
		a.stepGoto = s.StepsPerStepGoto
	}
	if s.Reverse {
		a.pins.InvertDir = !a.pins.InvertDir
	}
	a.minSteps = int64(s.Min * a.spm)
	a.maxSteps = int64(s.Max * a.spm)

	_ = a.gpio.SetupPin(a.pins.Step, gpio.Output)
	_ = a.gpio.WritePin(a.pins.Step, a.stepIdle())
	_ = a.gpio.SetupPin(a.pins.Dir, gpio.Output)
	_ = a.gpio.WritePin(a.pins.Dir, a.dirForward())
	if a.pins.Enable > 0 {
		_ = a.gpio.SetupPin(a.pins.Enable, gpio.Output)
	}
	a.Enable(false)

	a.handle = a.sched.Add(a.name, a.line.Service)
	if axisNumber == 1 || axisNumber == 2 {
		if !a.sched.RequestHardwareTimer(a.handle, axisNumber, 0) {
			debug.Warn("didn't get h/w timer for %s (using s/w timer)", a.name)
		}
	}
	debug.PrintStruct(a.name+" settings", s)
}

// Name returns "AxisN" once initialized.
func (a *Axis) Name() string { return a.name }

// Number returns the axis number given to Init.
func (a *Axis) Number() int { return a.number }

// StepsPerMeasure returns the steps per radian.
func (a *Axis) StepsPerMeasure() float64 { return a.spm }

// StepsPerStepGoto returns how many steps each pulse covers once the axis is
// in MicrostepSlewing mode.
func (a *Axis) StepsPerStepGoto() int { return a.stepGoto }

// Enable drives the enable line. Without an enable pin this is a no-op and
// the logical state is left unchanged.
func (a *Axis) Enable(value bool) {
	if a.pins.Enable <= 0 {
		return
	}
	lvl := gpio.Level(!a.pins.InvertEnable)
	if value {
		lvl = gpio.Level(a.pins.InvertEnable)
	}
	_ = a.gpio.WritePin(a.pins.Enable, lvl)
	a.enabled.Store(value)
}

// IsEnabled returns the logical enable state.
func (a *Axis) IsEnabled() bool {
	return a.enabled.Load()
}

// SetInstrumentCoordinate declares the current position to be value radians in
// the instrument frame. The motor does not move.
func (a *Axis) SetInstrumentCoordinate(value float64) {
	steps := int64(math.Round(value * a.spm))
	a.line.Disable()
	a.indexSteps = steps - a.motorSteps
	a.line.Restore()
}

// InstrumentCoordinateSteps returns motor+index.
func (a *Axis) InstrumentCoordinateSteps() int64 {
	a.line.Disable()
	steps := a.motorSteps + a.indexSteps
	a.line.Restore()
	return steps
}

// InstrumentCoordinate returns the instrument-frame position in radians.
func (a *Axis) InstrumentCoordinate() float64 {
	return float64(a.InstrumentCoordinateSteps()) / a.spm
}

// IndexSteps returns the instrument-to-motor offset.
func (a *Axis) IndexSteps() int64 {
	a.line.Disable()
	steps := a.indexSteps
	a.line.Restore()
	return steps
}

// SetMotorCoordinate resynchronizes the axis to value radians in the motor frame.
// See SetMotorCoordinateSteps.
func (a *Axis) SetMotorCoordinate(value float64) {
	a.SetMotorCoordinateSteps(int64(math.Round(value * a.spm)))
}

// SetMotorCoordinateSteps resynchronizes the axis and cancels any in-flight
// motion: motor and target both become value, backlash take-up and the
// instrument index are cleared.
func (a *Axis) SetMotorCoordinateSteps(value int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.target = float64(value)
	a.line.Disable()
	a.indexSteps = 0
	a.motorSteps = value
	a.targetSteps = value
	a.backlashSteps = 0
	a.line.Restore()
}

// MotorCoordinateSteps returns motor+backlash.
func (a *Axis) MotorCoordinateSteps() int64 {
	a.line.Disable()
	steps := a.motorSteps + a.backlashSteps
	a.line.Restore()
	return steps
}

// MotorCoordinate returns motor+backlash in radians.
func (a *Axis) MotorCoordinate() float64 {
	return float64(a.MotorCoordinateSteps()) / a.spm
}

// MarkOriginCoordinate records the current instrument position as the origin.
func (a *Axis) MarkOriginCoordinate() {
	steps := a.InstrumentCoordinateSteps()
	a.mu.Lock()
	a.originSteps = steps
	a.mu.Unlock()
}

// OriginCoordinateSteps returns the last marked origin.
func (a *Axis) OriginCoordinateSteps() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.originSteps
}

// SetTargetCoordinate sets an absolute instrument-frame target in radians.
func (a *Axis) SetTargetCoordinate(value float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.target = value * a.spm
	a.applyTarget()
}

// MoveTargetCoordinate shifts the target by delta radians. Sub-step fractions
// accumulate across calls.
func (a *Axis) MoveTargetCoordinate(delta float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.target += delta * a.spm
	a.applyTarget()
}

// applyTarget must be called with a.mu held.
func (a *Axis) applyTarget() {
	steps := int64(math.Round(a.target))
	a.line.Disable()
	a.targetSteps = steps - a.indexSteps
	a.line.Restore()
}

// TargetCoordinateSteps returns the target in the instrument frame.
func (a *Axis) TargetCoordinateSteps() int64 {
	a.line.Disable()
	steps := a.targetSteps + a.indexSteps
	a.line.Restore()
	return steps
}

// TargetCoordinate returns the instrument-frame target in radians.
func (a *Axis) TargetCoordinate() float64 {
	return float64(a.TargetCoordinateSteps()) / a.spm
}

// NearTarget reports whether motor+backlash is within two steps of the target.
func (a *Axis) NearTarget() bool {
	a.line.Disable()
	d := a.motorSteps + a.backlashSteps - a.targetSteps
	a.line.Restore()
	if d < 0 {
		d = -d
	}
	return d <= a.step*2
}

// SetTracking turns per-step target advancement on or off.
func (a *Axis) SetTracking(value bool) {
	a.line.Disable()
	a.tracking = value
	a.line.Restore()
}

// Tracking reports whether the pulse generator advances the target by itself.
func (a *Axis) Tracking() bool {
	a.line.Disable()
	v := a.tracking
	a.line.Restore()
	return v
}

// SetBacklash sets the backlash compensation distance in radians. A take-up
// in progress larger than the new amount is folded into the motor position so
// the motor coordinate does not jump.
func (a *Axis) SetBacklash(value float64) {
	steps := int64(math.Round(value * a.spm))
	if steps < 0 {
		steps = 0
	}
	a.line.Disable()
	a.backlashAmountSteps = steps
	if a.backlashSteps > steps {
		a.motorSteps += a.backlashSteps - steps
		a.backlashSteps = steps
	}
	a.line.Restore()
}

// Backlash returns the configured backlash distance in radians.
func (a *Axis) Backlash() float64 {
	return float64(a.BacklashAmountSteps()) / a.spm
}

// BacklashAmountSteps returns the configured backlash distance in steps.
func (a *Axis) BacklashAmountSteps() int64 {
	a.line.Disable()
	steps := a.backlashAmountSteps
	a.line.Restore()
	return steps
}

// BacklashSteps returns the backlash currently taken up.
func (a *Axis) BacklashSteps() int64 {
	a.line.Disable()
	steps := a.backlashSteps
	a.line.Restore()
	return steps
}

// MinCoordinate returns the lower travel limit in radians.
func (a *Axis) MinCoordinate() float64 { return float64(a.minSteps) / a.spm }

// MaxCoordinate returns the upper travel limit in radians.
func (a *Axis) MaxCoordinate() float64 { return float64(a.maxSteps) / a.spm }

// WithinLimits reports whether value radians lies inside the travel limits.
// The axis itself never enforces them.
func (a *Axis) WithinLimits(value float64) bool {
	steps := value * a.spm
	return steps >= float64(a.minSteps) && steps <= float64(a.maxSteps)
}

// SetMicrostepMode is used by driver-mode logic, typically to arm
// MicrostepSlewingReady before a goto.
func (a *Axis) SetMicrostepMode(m MicrostepMode) {
	a.microstep.Store(int32(m))
}

// MicrostepMode returns the current microstep mode.
func (a *Axis) MicrostepMode() MicrostepMode {
	return MicrostepMode(a.microstep.Load())
}

// Status is a consistent copy of the step counters.
type Status struct {
	Motor     int64
	Target    int64 // motor frame
	Backlash  int64
	Index     int64
	Coalesced uint64 // timer ticks lost while the line was masked
}

// Snapshot reads all counters in one critical section.
func (a *Axis) Snapshot() Status {
	a.line.Disable()
	s := Status{
		Motor:    a.motorSteps,
		Target:   a.targetSteps,
		Backlash: a.backlashSteps,
		Index:    a.indexSteps,
	}
	a.line.Restore()
	s.Coalesced = a.line.Coalesced()
	return s
}

// CoalescedTicks returns how many pulse ticks were merged into a pending one
// while a critical section held the line. On a tracking axis each lost step
// tick is a lost target advance.
func (a *Axis) CoalescedTicks() uint64 {
	return a.line.Coalesced()
}
