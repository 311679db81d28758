package motion

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/cjeanneret/MountGo/internal/axis"
	"github.com/cjeanneret/MountGo/internal/debug"
	"github.com/cjeanneret/MountGo/internal/hw/clock"
	"github.com/cjeanneret/MountGo/internal/logic/geometry"
)

var (
	ErrOutsideLimits = errors.New("target outside axis limits")
	ErrMountInMotion = errors.New("mount in motion")
	ErrNotSupported  = errors.New("not supported on this mount type")
	ErrParamRange    = errors.New("parameter out of range")
)

// Tracking rate presets in Hz of the 60 Hz-equivalent sidereal clock.
const (
	RateSiderealHz = clock.SiderealRateHz
	RateSolarHz    = 60.0
	RateLunarHz    = 57.9
	RateKingHz     = 60.136

	// MaxBacklashArcsec bounds the backlash setting per axis.
	MaxBacklashArcsec = 3600
)

// DefaultSlewRate is the goto rate in radians per second for an axis
// without a configured maximum (1°/s).
const DefaultSlewRate = math.Pi / 180

// Axis is what the controller needs from a mount axis.
type Axis interface {
	Name() string
	Enable(value bool)
	IsEnabled() bool
	SetTracking(value bool)
	SetFrequency(frequency float64)
	Frequency() float64
	SetInstrumentCoordinate(value float64)
	InstrumentCoordinate() float64
	SetTargetCoordinate(value float64)
	TargetCoordinate() float64
	WithinLimits(value float64) bool
	NearTarget() bool
	SetBacklash(value float64)
	Backlash() float64
	FrequencyMax() float64
	StepsPerStepGoto() int
	SetMicrostepMode(m axis.MicrostepMode)
	CoalescedTicks() uint64
}

// MasterClock is the adjustable sidereal clock.
type MasterClock interface {
	Faster()
	Slower()
	Reset()
	PeriodSubMicros() float64
}

// Controller owns the two mount axes and keeps their step rates in line with
// the tracking state. Every state change recomputes both rates from scratch.
//
// A goto takes its axis out of the composed rates until it settles on the
// target; Run or WaitNearTarget notice that and hand the axis back.
type Controller struct {
	mu      sync.Mutex
	axes    [2]Axis
	clock   MasterClock
	in      RateInputs
	slewing [2]bool
}

// NewController binds the primary and secondary axes. Tracking starts off.
func NewController(mount MountType, axis1, axis2 Axis, clk MasterClock) *Controller {
	return &Controller{
		axes:  [2]Axis{axis1, axis2},
		clock: clk,
		in: RateInputs{
			Mount: mount,
			Base:  geometry.HzToSidereal(RateSiderealHz),
		},
	}
}

// Start declares the home position, enables both axes and starts sidereal
// tracking.
func (c *Controller) Start(home1, home2 float64) {
	debug.Info("Mount start, type %s", c.in.Mount)
	c.axes[0].SetInstrumentCoordinate(home1)
	c.axes[1].SetInstrumentCoordinate(home2)

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, a := range c.axes {
		a.Enable(true)
		a.SetTracking(true)
	}
	c.in.Tracking = true
	c.in.Base = geometry.HzToSidereal(RateSiderealHz)
	c.update()
}

// Stop halts both axes and drops their enable lines. A goto in progress is
// abandoned where the axis stands.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, a := range c.axes {
		if c.slewing[i] {
			a.SetTargetCoordinate(a.InstrumentCoordinate())
			c.endSlew(i)
		}
	}
	c.in.Tracking = false
	c.in.Guide = [2]float64{}
	c.in.Delta = [2]float64{}
	c.update()
	for _, a := range c.axes {
		a.Enable(false)
	}
	debug.Info("Mount stopped")
}

// update must be called with c.mu held. Slewing axes keep their goto rate.
func (c *Controller) update() {
	rates := Compose(c.in)
	debug.Rates(rates[0], rates[1])
	for i, a := range c.axes {
		if !c.slewing[i] {
			a.SetFrequency(geometry.SiderealToRad(rates[i]))
		}
	}
}

func (c *Controller) axis(n int) (int, error) {
	if n < 1 || n > len(c.axes) {
		return 0, fmt.Errorf("axis %d: %w", n, ErrParamRange)
	}
	return n - 1, nil
}

// EnableTracking starts tracking at the current rate and enables the axes.
func (c *Controller) EnableTracking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enableTracking()
	c.update()
}

func (c *Controller) enableTracking() {
	if c.in.Tracking {
		return
	}
	c.in.Tracking = true
	for _, a := range c.axes {
		a.Enable(true)
	}
}

// DisableTracking stops tracking. It is refused while guiding or during a goto.
func (c *Controller) DisableTracking() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.guiding() {
		return fmt.Errorf("disable tracking: guiding: %w", ErrMountInMotion)
	}
	for i, a := range c.axes {
		if c.slewing[i] {
			return fmt.Errorf("disable tracking: %s slewing: %w", a.Name(), ErrMountInMotion)
		}
	}
	c.in.Tracking = false
	c.update()
	return nil
}

// Tracking reports whether tracking is on.
func (c *Controller) Tracking() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.Tracking
}

// SetTrackingRateHz sets the base rate in Hz of the 60 Hz-equivalent clock.
// Values in [30, 90) start tracking at that rate, values below 0.1 in
// magnitude stop it.
func (c *Controller) SetTrackingRateHz(hz float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case math.Abs(hz) < 0.1:
		c.in.Tracking = false
	case hz >= 30 && hz < 90:
		c.enableTracking()
		c.in.Base = geometry.HzToSidereal(hz)
	default:
		return fmt.Errorf("tracking rate %.3f Hz: %w", hz, ErrParamRange)
	}
	c.update()
	return nil
}

// TrackingRateHz returns the base rate in Hz, or 0 when not tracking.
func (c *Controller) TrackingRateHz() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.in.Tracking {
		return 0
	}
	return geometry.SiderealToHz(c.in.Base)
}

// SetSiderealRate selects the sidereal rate, keeping the compensation mode.
func (c *Controller) SetSiderealRate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Base = geometry.HzToSidereal(RateSiderealHz)
	c.update()
}

// SetSolarRate, SetLunarRate and SetKingRate select a preset and turn
// compensation off.
func (c *Controller) SetSolarRate() { c.setPreset(RateSolarHz) }
func (c *Controller) SetLunarRate() { c.setPreset(RateLunarHz) }
func (c *Controller) SetKingRate()  { c.setPreset(RateKingHz) }

func (c *Controller) setPreset(hz float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Compensation = CompensationNone
	c.in.Base = geometry.HzToSidereal(hz)
	c.update()
}

// SetCompensation selects the compensation mode and returns the base rate to
// sidereal. Equatorial mounts only.
func (c *Controller) SetCompensation(mode Compensation) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.in.Mount.Equatorial() {
		return fmt.Errorf("compensation %s: %w", mode, ErrNotSupported)
	}
	if mode < CompensationNone || mode > CompensationFullDual {
		return fmt.Errorf("compensation %d: %w", int(mode), ErrParamRange)
	}
	c.in.Compensation = mode
	c.in.Base = geometry.HzToSidereal(RateSiderealHz)
	c.update()
	return nil
}

// SetDualAxis moves the active compensation onto both axes or back to the
// primary only. Equatorial mounts only.
func (c *Controller) SetDualAxis(dual bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.in.Mount.Equatorial() {
		return fmt.Errorf("dual axis tracking: %w", ErrNotSupported)
	}
	c.in.Compensation = c.in.Compensation.WithDual(dual)
	c.update()
	return nil
}

// Compensation returns the active compensation mode.
func (c *Controller) Compensation() Compensation {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.in.Compensation
}

// SetCorrection supplies the per-axis correction, in sidereal multiples, from
// the refraction or pointing model.
func (c *Controller) SetCorrection(axis1, axis2 float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Correction = [2]float64{axis1, axis2}
	c.update()
}

// Guide offsets axis n by rate sidereal multiples until StopGuide.
func (c *Controller) Guide(n int, rate float64) error {
	i, err := c.axis(n)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Guide[i] = rate
	c.update()
	return nil
}

// StopGuide clears the guide offsets on both axes.
func (c *Controller) StopGuide() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Guide = [2]float64{}
	c.update()
}

// Guiding reports whether a guide offset is active.
func (c *Controller) Guiding() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.guiding()
}

func (c *Controller) guiding() bool {
	return c.in.Guide[0] != 0 || c.in.Guide[1] != 0
}

// SetDeltaRate sets the fine calibration offset of axis n in sidereal multiples.
func (c *Controller) SetDeltaRate(n int, rate float64) error {
	i, err := c.axis(n)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.in.Delta[i] = rate
	c.update()
	return nil
}

// ClockFaster, ClockSlower and ClockReset adjust the master sidereal clock
// and reprogram both axes.
func (c *Controller) ClockFaster() { c.adjustClock(c.clock.Faster) }
func (c *Controller) ClockSlower() { c.adjustClock(c.clock.Slower) }
func (c *Controller) ClockReset()  { c.adjustClock(c.clock.Reset) }

func (c *Controller) adjustClock(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn()
	debug.Verbose("master clock %.5f Hz", clock.SubMicrosToHz(c.clock.PeriodSubMicros()))
	c.update()
}

// SetBacklashArcsec sets the backlash of axis n in arc-seconds.
func (c *Controller) SetBacklashArcsec(n, arcsec int) error {
	i, err := c.axis(n)
	if err != nil {
		return err
	}
	if arcsec < 0 || arcsec > MaxBacklashArcsec {
		return fmt.Errorf("backlash %d arcsec: %w", arcsec, ErrParamRange)
	}
	c.axes[i].SetBacklash(geometry.ArcsecToRad(float64(arcsec)))
	return nil
}

// BacklashArcsec returns the backlash of axis n in arc-seconds.
func (c *Controller) BacklashArcsec(n int) (int, error) {
	i, err := c.axis(n)
	if err != nil {
		return 0, err
	}
	v := int(math.Round(geometry.RadToArcsec(c.axes[i].Backlash())))
	return min(max(v, 0), MaxBacklashArcsec), nil
}

// SetTarget starts a goto of axis n to value radians in the instrument frame.
// The axis stops tracking and steps at its maximum rate until it is near the
// target, then resumes the composed rate from there.
func (c *Controller) SetTarget(n int, value float64) error {
	i, err := c.axis(n)
	if err != nil {
		return err
	}
	a := c.axes[i]
	if !a.WithinLimits(value) {
		return fmt.Errorf("%s to %.4f°: %w", a.Name(), geometry.RadToDeg(value), ErrOutsideLimits)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.slewing[i] = true
	a.SetTracking(false)
	a.SetMicrostepMode(axis.MicrostepSlewingReady)
	a.SetTargetCoordinate(value)
	a.Enable(true)
	a.SetFrequency(slewRate(a))
	debug.Live("%s goto %.4f°", a.Name(), geometry.RadToDeg(value))
	return nil
}

// slewRate keeps the angular goto rate at the axis maximum when each pulse
// covers several steps.
func slewRate(a Axis) float64 {
	rate := a.FrequencyMax()
	if rate <= 0 {
		rate = DefaultSlewRate
	}
	if n := a.StepsPerStepGoto(); n > 1 {
		rate /= float64(n)
	}
	return rate
}

// endSlew must be called with c.mu held.
func (c *Controller) endSlew(i int) {
	a := c.axes[i]
	c.slewing[i] = false
	a.SetMicrostepMode(axis.MicrostepTracking)
	a.SetTracking(true)
}

// settle finishes every goto whose axis has arrived and reports whether
// both axes are near their targets with no goto left.
func (c *Controller) settle() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	done := false
	for i, a := range c.axes {
		if c.slewing[i] && a.NearTarget() {
			c.endSlew(i)
			done = true
			debug.Live("%s goto done at %.4f°", a.Name(), geometry.RadToDeg(a.InstrumentCoordinate()))
		}
	}
	if done {
		c.update()
	}
	return !c.slewing[0] && !c.slewing[1] && c.axes[0].NearTarget() && c.axes[1].NearTarget()
}

// Slewing reports whether a goto is in progress on either axis.
func (c *Controller) Slewing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.slewing[0] || c.slewing[1]
}

// Run watches gotos every poll interval and hands settled axes back to
// tracking until ctx is done.
func (c *Controller) Run(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.settle()
		}
	}
}

// WaitNearTarget polls until both gotos are finished and both axes are near
// their targets.
func (c *Controller) WaitNearTarget(ctx context.Context, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if c.settle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// AxisStatus is a reporting view of one axis.
type AxisStatus struct {
	Name           string
	Enabled        bool
	Instrument     float64 // radians
	Target         float64 // radians
	Frequency      float64 // radians per second
	NearTarget     bool
	Slewing        bool
	CoalescedTicks uint64 // pulse ticks lost to critical sections
}

// Status is a reporting view of the mount.
type Status struct {
	Mount        MountType
	Tracking     bool
	Guiding      bool
	RateHz       float64
	Compensation Compensation
	ClockHz      float64
	Axes         [2]AxisStatus
}

// Status returns the current state for logging and reporting.
func (c *Controller) Status() Status {
	c.mu.Lock()
	s := Status{
		Mount:        c.in.Mount,
		Tracking:     c.in.Tracking,
		Guiding:      c.guiding(),
		Compensation: c.in.Compensation,
		ClockHz:      clock.SubMicrosToHz(c.clock.PeriodSubMicros()),
	}
	if c.in.Tracking {
		s.RateHz = geometry.SiderealToHz(c.in.Base)
	}
	slewing := c.slewing
	c.mu.Unlock()

	for i, a := range c.axes {
		s.Axes[i] = AxisStatus{
			Name:           a.Name(),
			Enabled:        a.IsEnabled(),
			Instrument:     a.InstrumentCoordinate(),
			Target:         a.TargetCoordinate(),
			Frequency:      a.Frequency(),
			NearTarget:     a.NearTarget(),
			Slewing:        slewing[i],
			CoalescedTicks: a.CoalescedTicks(),
		}
	}
	return s
}
