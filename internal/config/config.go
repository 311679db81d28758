package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/MountGo/internal/hw/clock"
	"github.com/cjeanneret/MountGo/internal/hw/gpio"
	"github.com/cjeanneret/MountGo/internal/logic/geometry"
)

// MaxConfigFileBytes bounds the size of a configuration file.
const MaxConfigFileBytes = 1 << 20

// AxisConfig holds the wiring and calibration of one mount axis.
type AxisConfig struct {
	StepPin      int  `yaml:"step_pin"`
	DirPin       int  `yaml:"dir_pin"`
	EnablePin    int  `yaml:"enable_pin"` // 0 = not used
	InvertStep   bool `yaml:"invert_step"`
	InvertDir    bool `yaml:"invert_dir"`
	InvertEnable bool `yaml:"invert_enable"` // true: driver enabled by HIGH (default: active LOW)
	Reverse      bool `yaml:"reverse"`

	StepsPerRev      int     `yaml:"steps_per_rev"`
	Microstepping    int     `yaml:"microstepping"`
	GearRatio        float64 `yaml:"gear_ratio"` // motor turns per axis turn
	StepsPerStepGoto int     `yaml:"steps_per_step_goto"`

	MinDeg         float64 `yaml:"min_deg"`
	MaxDeg         float64 `yaml:"max_deg"`
	HomeDeg        float64 `yaml:"home_deg"`        // instrument coordinate at power-up
	BacklashArcsec int     `yaml:"backlash_arcsec"` // 0-3600
	MaxRateDegS    float64 `yaml:"max_rate_deg_s"`  // slew rate clamp
}

// MountConfig describes the mount and its initial tracking state.
type MountConfig struct {
	Type             string  `yaml:"type"`             // gem, fork or altaz
	TrackingRateHz   float64 `yaml:"tracking_rate_hz"` // 60 Hz scale, default sidereal
	Compensation     string  `yaml:"compensation"`     // none, refraction-single, ...
	StatusIntervalMs int     `yaml:"status_interval_ms"`
}

// DefaultsConfig contains process-wide parameters.
type DefaultsConfig struct {
	DebugLevel      int     `yaml:"debug_level"`       // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
	GPIODriver      string  `yaml:"gpio_driver"`       // mock, rpio or cdev
	GPIOChip        string  `yaml:"gpio_chip"`         // cdev only
	MaxPeriodMicros float64 `yaml:"max_period_micros"` // longest timer half period, 0 = platform default
}

// Config aggregates all application configuration.
type Config struct {
	Mount    MountConfig    `yaml:"mount"`
	Axis1    AxisConfig     `yaml:"axis1"`
	Axis2    AxisConfig     `yaml:"axis2"`
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file directly inside a
// configs/ directory and does not climb out of it.
func ValidateConfigPath(path string) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain '..'", path)
		}
	}
	clean := filepath.Clean(path)
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have a .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// Load reads a YAML file, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file is %d bytes, limit is %d", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Mount.Type == "" {
		c.Mount.Type = "gem"
	}
	if c.Mount.Compensation == "" {
		c.Mount.Compensation = "none"
	}
	if c.Mount.TrackingRateHz == 0 {
		c.Mount.TrackingRateHz = clock.SiderealRateHz
	}
	if c.Mount.StatusIntervalMs <= 0 {
		c.Mount.StatusIntervalMs = 5000
	}
	if c.Defaults.GPIODriver == "" {
		c.Defaults.GPIODriver = gpio.KindMock
	}
	if c.Defaults.GPIODriver == gpio.KindCdev && c.Defaults.GPIOChip == "" {
		c.Defaults.GPIOChip = gpio.DefaultChip
	}
	for _, a := range []*AxisConfig{&c.Axis1, &c.Axis2} {
		if a.Microstepping <= 0 {
			a.Microstepping = 1
		}
		if a.GearRatio <= 0 {
			a.GearRatio = 1
		}
		if a.StepsPerStepGoto <= 0 {
			a.StepsPerStepGoto = 1
		}
		if a.MaxRateDegS <= 0 {
			a.MaxRateDegS = 4
		}
		if a.MinDeg == 0 && a.MaxDeg == 0 {
			a.MinDeg, a.MaxDeg = -180, 180
		}
	}
}

// Validate reports every problem found, not just the first.
func (c *Config) Validate() error {
	var err error
	switch c.Defaults.GPIODriver {
	case gpio.KindMock, gpio.KindRPi, gpio.KindCdev:
	default:
		err = multierr.Append(err, fmt.Errorf("defaults.gpio_driver %q: want mock, rpio or cdev", c.Defaults.GPIODriver))
	}
	if c.Defaults.DebugLevel < 0 || c.Defaults.DebugLevel > 4 {
		err = multierr.Append(err, fmt.Errorf("defaults.debug_level must be 0-4, got %d", c.Defaults.DebugLevel))
	}
	if c.Defaults.MaxPeriodMicros < 0 {
		err = multierr.Append(err, fmt.Errorf("defaults.max_period_micros must be >= 0, got %.0f", c.Defaults.MaxPeriodMicros))
	}
	if f := c.Mount.TrackingRateHz; f < 30 || f >= 90 {
		err = multierr.Append(err, fmt.Errorf("mount.tracking_rate_hz must be in [30, 90), got %.5f", f))
	}
	err = multierr.Append(err, c.Axis1.validate("axis1"))
	err = multierr.Append(err, c.Axis2.validate("axis2"))
	return err
}

func (a *AxisConfig) validate(name string) error {
	var err error
	if a.StepPin <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.step_pin is required", name))
	}
	if a.DirPin <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.dir_pin is required", name))
	}
	if a.StepPin > 0 && (a.StepPin == a.DirPin || a.StepPin == a.EnablePin) {
		err = multierr.Append(err, fmt.Errorf("%s: step pin %d is used twice", name, a.StepPin))
	}
	if a.DirPin > 0 && a.DirPin == a.EnablePin {
		err = multierr.Append(err, fmt.Errorf("%s: dir pin %d is used twice", name, a.DirPin))
	}
	if a.StepsPerRev <= 0 {
		err = multierr.Append(err, fmt.Errorf("%s.steps_per_rev must be > 0", name))
	}
	if a.MinDeg >= a.MaxDeg {
		err = multierr.Append(err, fmt.Errorf("%s: min_deg %.2f must be below max_deg %.2f", name, a.MinDeg, a.MaxDeg))
	}
	if a.HomeDeg < a.MinDeg || a.HomeDeg > a.MaxDeg {
		err = multierr.Append(err, fmt.Errorf("%s: home_deg %.2f outside limits", name, a.HomeDeg))
	}
	if a.BacklashArcsec < 0 || a.BacklashArcsec > 3600 {
		err = multierr.Append(err, fmt.Errorf("%s.backlash_arcsec must be 0-3600, got %d", name, a.BacklashArcsec))
	}
	return err
}

// StepsPerRadian returns the axis resolution in microsteps per radian.
func (a *AxisConfig) StepsPerRadian() float64 {
	return geometry.StepsPerRadian(a.StepsPerRev, a.Microstepping, a.GearRatio)
}

// MinRad, MaxRad and HomeRad return the travel limits and home in radians.
func (a *AxisConfig) MinRad() float64  { return geometry.DegToRad(a.MinDeg) }
func (a *AxisConfig) MaxRad() float64  { return geometry.DegToRad(a.MaxDeg) }
func (a *AxisConfig) HomeRad() float64 { return geometry.DegToRad(a.HomeDeg) }

// MaxRate returns the slew rate clamp in radians per second.
func (a *AxisConfig) MaxRate() float64 {
	return geometry.DegToRad(a.MaxRateDegS)
}

// StatusInterval returns the period of the status log line.
func (c *Config) StatusInterval() time.Duration {
	return time.Duration(c.Mount.StatusIntervalMs) * time.Millisecond
}
