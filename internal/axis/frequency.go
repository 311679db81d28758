package axis

import (
	"math"

	"github.com/cjeanneret/MountGo/internal/debug"
	"github.com/cjeanneret/MountGo/internal/hw/clock"
	"github.com/cjeanneret/MountGo/internal/hw/tasks"
)

// DefaultMaxPeriodMicros is the longest half period, in microseconds, that
// still fits a 32-bit sub-microsecond timer register. Longer periods stop the axis.
const DefaultMaxPeriodMicros = 134000000.0

// SetMaxPeriodMicros overrides the longest programmable half period for
// platforms with a different timer width.
func (a *Axis) SetMaxPeriodMicros(micros float64) {
	a.mu.Lock()
	a.maxPeriodMicros = micros
	a.mu.Unlock()
}

// SetFrequencyMax sets the fastest allowed rate in radians per second.
// Zero removes the clamp.
func (a *Axis) SetFrequencyMax(frequency float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.maxFreq = frequency * a.spm
	if frequency != 0 {
		a.minPeriodMicros = 1000000.0 / a.maxFreq
	} else {
		a.minPeriodMicros = 0
	}
}

// FrequencyMax returns the fastest allowed rate in radians per second.
func (a *Axis) FrequencyMax() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.maxFreq / a.spm
}

// SetFrequency programs the step rate for frequency radians per second. The
// sign selects the tracking direction. The timer fires twice per step, so the
// programmed period is half the step period, scaled by the master clock's
// drift. Zero, NaN or rates too slow for the timer stop the axis.
func (a *Axis) SetFrequency(frequency float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	dir := int64(1)
	if frequency < 0 {
		dir = -1
		frequency = -frequency
	}

	// microseconds per step
	d := 1000000.0 / (frequency * a.spm)
	if d < a.minPeriodMicros {
		d = a.minPeriodMicros
	}
	d /= 2.0

	var last, period uint32
	if !math.IsNaN(d) && math.Abs(d) <= a.maxPeriodMicros {
		d *= tasks.SubMicrosPerMicro
		last = clampPeriod(d)
		if a.clock != nil {
			d *= a.clock.PeriodSubMicros() / clock.SiderealPeriod
		}
		period = clampPeriod(d)
	}
	a.lastPeriod.Store(last)
	a.reverseRate.Store(dir < 0)

	a.line.Disable()
	a.trackingStep = dir * a.step
	a.line.Restore()

	debug.Verbose("%s: %.9f rad/s -> half period %d sub-µs (programmed %d)", a.name, frequency*float64(dir), last, period)
	a.sched.SetPeriodSubMicros(a.handle, period)
}

// clampPeriod rounds a positive sub-microsecond period into the timer range,
// never rounding a running period down to the stopped value.
func clampPeriod(d float64) uint32 {
	r := math.Round(d)
	switch {
	case r < 1:
		return 1
	case r > math.MaxUint32:
		return math.MaxUint32
	}
	return uint32(r)
}

// Frequency returns the achieved rate in radians per second, signed by direction.
func (a *Axis) Frequency() float64 {
	return a.FrequencySteps() / a.spm
}

// FrequencySteps returns the achieved rate in steps per second, signed by direction.
func (a *Axis) FrequencySteps() float64 {
	last := a.lastPeriod.Load()
	if last == 0 {
		return 0
	}
	f := tasks.SubMicrosPerMicro * 1000000.0 / (float64(last) * 2)
	if a.reverseRate.Load() {
		return -f
	}
	return f
}

// PeriodSubMicros returns the last computed half period before clock correction.
func (a *Axis) PeriodSubMicros() uint32 {
	return a.lastPeriod.Load()
}
