package clock

import (
	"math"
	"sync/atomic"

	"github.com/cjeanneret/MountGo/internal/debug"
)

const (
	// SiderealRateHz is the sidereal tracking rate expressed on the 60 Hz synchronous-motor scale.
	SiderealRateHz = 60.16427456104770

	// subMicrosPerMinute converts a rate in Hz on the 60 Hz scale to a period in sub-microseconds.
	subMicrosPerMinute = 16.0 * 1000000.0 * 60.0

	// SiderealPeriod is the nominal master period in sub-microseconds.
	SiderealPeriod = subMicrosPerMinute / SiderealRateHz

	// AdjustHz is the step used by Faster and Slower.
	AdjustHz = 0.02
)

// HzToSubMicros converts a rate on the 60 Hz scale into a period in sub-microseconds.
func HzToSubMicros(hz float64) float64 {
	return subMicrosPerMinute / hz
}

// SubMicrosToHz is the inverse of HzToSubMicros.
func SubMicrosToHz(period float64) float64 {
	return subMicrosPerMinute / period
}

// Clock holds the master sidereal period. A period shorter than SiderealPeriod
// means the mount runs fast; axes scale their step periods by the same ratio.
type Clock struct {
	bits atomic.Uint64
}

// New returns a clock at the nominal sidereal period.
func New() *Clock {
	c := &Clock{}
	c.Reset()
	return c
}

// PeriodSubMicros returns the current master period.
func (c *Clock) PeriodSubMicros() float64 {
	return math.Float64frombits(c.bits.Load())
}

// SetPeriodSubMicros sets the master period. Non-positive or non-finite values are ignored.
func (c *Clock) SetPeriodSubMicros(period float64) {
	if math.IsNaN(period) || math.IsInf(period, 0) || period <= 0 {
		debug.Warn("clock: ignoring invalid period %v", period)
		return
	}
	c.bits.Store(math.Float64bits(period))
	debug.Verbose("clock: master period %.3f sub-µs (%.5f Hz)", period, SubMicrosToHz(period))
}

// Faster speeds the master clock up by AdjustHz.
func (c *Clock) Faster() {
	c.SetPeriodSubMicros(HzToSubMicros(SubMicrosToHz(c.PeriodSubMicros()) + AdjustHz))
}

// Slower slows the master clock down by AdjustHz.
func (c *Clock) Slower() {
	c.SetPeriodSubMicros(HzToSubMicros(SubMicrosToHz(c.PeriodSubMicros()) - AdjustHz))
}

// Reset restores the nominal sidereal period.
func (c *Clock) Reset() {
	c.bits.Store(math.Float64bits(SiderealPeriod))
}
