package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/cjeanneret/MountGo/internal/axis"
	"github.com/cjeanneret/MountGo/internal/config"
	"github.com/cjeanneret/MountGo/internal/debug"
	"github.com/cjeanneret/MountGo/internal/hw/clock"
	"github.com/cjeanneret/MountGo/internal/hw/gpio"
	"github.com/cjeanneret/MountGo/internal/hw/tasks"
	"github.com/cjeanneret/MountGo/internal/logic/geometry"
	"github.com/cjeanneret/MountGo/internal/logic/motion"
	"github.com/cjeanneret/MountGo/internal/web"
)

// gotoPoll is how often settled gotos are handed back to tracking.
const gotoPoll = 50 * time.Millisecond

// overrides are CLI values replacing config entries. Zero values mean "use config".
type overrides struct {
	RateHz       float64
	Compensation string
	GPIODriver   string
	DebugLevel   int // -1 = use config
}

func main() {
	// CLI flags
	webPort := &webPortFlag{defaultPort: 8080}
	flag.Var(webPort, "web", "serve the monitoring API on port; -web= for default 8080, -web 8980 for custom port")
	cfgPath := flag.String("config", filepath.Join("configs", "default.yaml"), "path to config file")
	rateHz := flag.Float64("rate_hz", 0, "override tracking rate in Hz of the 60 Hz scale (30-90)")
	compensation := flag.String("compensation", "", "override rate compensation (none, refraction-single, refraction-dual, full-single, full-dual)")
	gpioDriver := flag.String("gpio", "", "override GPIO driver (mock, rpio, cdev)")
	debugLevel := flag.Int("debug", -1, "override debug level (0-4)")
	duration := flag.Duration("duration", 0, "stop after this long; 0 runs until interrupted")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	if err := config.ValidateConfigPath(*cfgPath); err != nil {
		log.Fatalf("invalid config path: %v", err)
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}

	ov := overrides{
		RateHz:       *rateHz,
		Compensation: *compensation,
		GPIODriver:   *gpioDriver,
		DebugLevel:   *debugLevel,
	}
	if err := validateCLIOverrides(ov); err != nil {
		log.Fatalf("invalid CLI override: %v", err)
	}
	applyOverrides(cfg, ov)

	debug.Init(cfg.Defaults.DebugLevel)
	debug.Section("Initialization")
	debug.Value("Config path", *cfgPath)
	debug.Value("Debug level", cfg.Defaults.DebugLevel)

	if err := run(ctx, cfg, webPort.port()); err != nil {
		log.Fatalf("mount: %v", err)
	}
}

// run wires the hardware from cfg and tracks until ctx is done. A non-zero
// webPort also serves the monitoring API.
func run(ctx context.Context, cfg *config.Config, webPort int) error {
	mountType, err := motion.ParseMountType(cfg.Mount.Type)
	if err != nil {
		return err
	}
	comp, err := motion.ParseCompensation(cfg.Mount.Compensation)
	if err != nil {
		return err
	}

	debug.Step(1, "Initializing GPIO driver")
	debug.Value("GPIO driver", cfg.Defaults.GPIODriver)
	gpioDriver, err := gpio.NewDriver(cfg.Defaults.GPIODriver, cfg.Defaults.GPIOChip)
	if err != nil {
		return fmt.Errorf("init GPIO: %w", err)
	}
	defer func() {
		if err := gpioDriver.Close(); err != nil {
			debug.Error(fmt.Errorf("closing GPIO driver: %w", err))
		}
	}()

	debug.Step(2, "Initializing axes")
	sched := tasks.New()
	clk := clock.New()
	axis1 := newAxis(1, cfg.Axis1, gpioDriver, sched, clk, cfg.Defaults.MaxPeriodMicros)
	axis2 := newAxis(2, cfg.Axis2, gpioDriver, sched, clk, cfg.Defaults.MaxPeriodMicros)

	debug.Step(3, "Starting tracking")
	ctrl := motion.NewController(mountType, axis1, axis2, clk)
	if err := ctrl.SetBacklashArcsec(1, cfg.Axis1.BacklashArcsec); err != nil {
		return err
	}
	if err := ctrl.SetBacklashArcsec(2, cfg.Axis2.BacklashArcsec); err != nil {
		return err
	}
	ctrl.Start(cfg.Axis1.HomeRad(), cfg.Axis2.HomeRad())
	defer ctrl.Stop()

	if comp != motion.CompensationNone {
		if err := ctrl.SetCompensation(comp); err != nil {
			return err
		}
	}
	// Compensation resets the base rate, so the configured rate goes last.
	if err := ctrl.SetTrackingRateHz(cfg.Mount.TrackingRateHz); err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := sched.Run(ctx); err != nil {
			debug.Error(fmt.Errorf("scheduler: %w", err))
		}
	}()
	go func() {
		defer wg.Done()
		if err := ctrl.Run(ctx, gotoPoll); err != nil {
			debug.Error(fmt.Errorf("goto monitor: %w", err))
		}
	}()

	var hub *web.Hub
	if webPort > 0 {
		hub = web.NewHub()
		debug.SetOutput(io.MultiWriter(os.Stdout, web.LogWriter(hub)))
		defer debug.SetOutput(os.Stdout)
		srv := web.NewServer(fmt.Sprintf(":%d", webPort), hub, ctrl)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				debug.Error(err)
			}
		}()
	}

	debug.Summary(fmt.Sprintf("Tracking at %.5f Hz on a %s mount", ctrl.TrackingRateHz(), mountType))
	ticker := time.NewTicker(cfg.StatusInterval())
	defer ticker.Stop()
	var lost [2]uint64
	for {
		select {
		case <-ctx.Done():
			wg.Wait()
			logStatus(ctrl.Status(), &lost)
			debug.Section("Stopped")
			return nil
		case <-ticker.C:
			s := ctrl.Status()
			logStatus(s, &lost)
			if hub != nil {
				hub.PublishStatus(web.NewStatusView(s))
			}
		}
	}
}

// newAxis builds and initializes one axis from its configuration.
func newAxis(n int, c config.AxisConfig, g gpio.Driver, sched *tasks.Scheduler, clk *clock.Clock, maxPeriodMicros float64) *axis.Axis {
	a := axis.New(axis.Pins{
		Step:         c.StepPin,
		Dir:          c.DirPin,
		Enable:       c.EnablePin,
		InvertStep:   c.InvertStep,
		InvertDir:    c.InvertDir,
		InvertEnable: c.InvertEnable,
	}, g, sched, clk)
	a.Init(n, axisSettings(c))
	if maxPeriodMicros > 0 {
		a.SetMaxPeriodMicros(maxPeriodMicros)
	}
	a.SetFrequencyMax(c.MaxRate())
	debug.PrintStruct(a.Name()+" config", c)
	return a
}

func axisSettings(c config.AxisConfig) axis.Settings {
	return axis.Settings{
		StepsPerMeasure:  c.StepsPerRadian(),
		StepsPerStepGoto: c.StepsPerStepGoto,
		Reverse:          c.Reverse,
		Min:              c.MinRad(),
		Max:              c.MaxRad(),
	}
}

// logStatus reports s and warns about pulse ticks lost since the counts in lost.
func logStatus(s motion.Status, lost *[2]uint64) {
	debug.Info("tracking=%v rate=%.5f Hz clock=%.5f Hz compensation=%s guiding=%v",
		s.Tracking, s.RateHz, s.ClockHz, s.Compensation, s.Guiding)
	for i, a := range s.Axes {
		if n := a.CoalescedTicks - lost[i]; n > 0 {
			debug.Warn("%s: %d pulse ticks lost to critical sections", a.Name, n)
		}
		lost[i] = a.CoalescedTicks
		if debug.IsEnabled(debug.LevelLive) {
			debug.Axis(a.Name, geometry.RadToDeg(a.Instrument), geometry.RadToDeg(a.Target), geometry.RadToDeg(a.Frequency))
		}
	}
}

// validateCLIOverrides checks that set CLI overrides are within valid ranges.
func validateCLIOverrides(ov overrides) error {
	if ov.RateHz != 0 {
		if math.IsNaN(ov.RateHz) || math.IsInf(ov.RateHz, 0) || ov.RateHz < 30 || ov.RateHz >= 90 {
			return fmt.Errorf("rate_hz must be between 30 and 90, got %g", ov.RateHz)
		}
	}
	if ov.Compensation != "" {
		if _, err := motion.ParseCompensation(ov.Compensation); err != nil {
			return err
		}
	}
	switch ov.GPIODriver {
	case "", gpio.KindMock, gpio.KindRPi, gpio.KindCdev:
	default:
		return fmt.Errorf("gpio must be mock, rpio or cdev, got %q", ov.GPIODriver)
	}
	if ov.DebugLevel < -1 || ov.DebugLevel > 4 {
		return fmt.Errorf("debug must be between 0 and 4, got %d", ov.DebugLevel)
	}
	return nil
}

// applyOverrides mutates cfg with the set overrides.
func applyOverrides(cfg *config.Config, ov overrides) {
	if ov.RateHz != 0 {
		cfg.Mount.TrackingRateHz = ov.RateHz
	}
	if ov.Compensation != "" {
		cfg.Mount.Compensation = ov.Compensation
	}
	if ov.GPIODriver != "" {
		cfg.Defaults.GPIODriver = ov.GPIODriver
		if ov.GPIODriver == gpio.KindCdev && cfg.Defaults.GPIOChip == "" {
			cfg.Defaults.GPIOChip = gpio.DefaultChip
		}
	}
	if ov.DebugLevel >= 0 {
		cfg.Defaults.DebugLevel = ov.DebugLevel
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }
