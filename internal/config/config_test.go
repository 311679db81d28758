package config

import (
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/multierr"

	"github.com/cjeanneret/MountGo/internal/hw/clock"
)

// ---------- ValidateConfigPath ----------

func TestValidateConfigPath_Valid(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"default.yaml", "con fig.yaml", "café.yaml"} {
		if err := ValidateConfigPath(filepath.Join(cfgDir, name)); err != nil {
			t.Errorf("expected %q to be valid, got error: %v", name, err)
		}
	}
}

func TestValidateConfigPath_Invalid(t *testing.T) {
	cases := []struct {
		name string
		path string
	}{
		{"empty", ""},
		{"traversal", "../../etc/passwd"},
		{"traversal_inside", "configs/../../../etc/shadow"},
		{"climb_back", "configs/../configs/mount.yaml"},
		{"json", "configs/default.json"},
		{"yml", "configs/default.yml"},
		{"no_extension", "configs/default"},
		{"other_dir", "other/default.yaml"},
		{"bare_file", "default.yaml"},
		{"absolute_outside", "/tmp/default.yaml"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if err := ValidateConfigPath(tc.path); err == nil {
				t.Errorf("expected error for %q, got nil", tc.path)
			}
		})
	}
}

func TestValidateConfigPath_VeryLongPath(t *testing.T) {
	long := "configs/" + strings.Repeat("a", 1000) + ".yaml"
	// Must not panic; the result is OS-dependent.
	_ = ValidateConfigPath(long)
}

// ---------- Load ----------

// writeConfig creates a temporary configs/ dir with the given YAML content and returns the path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "configs")
	if err := os.Mkdir(cfgDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(cfgDir, "test.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const validYAML = `
mount:
  type: fork
  tracking_rate_hz: 60.0
  compensation: refraction-single
  status_interval_ms: 1000
axis1:
  step_pin: 17
  dir_pin: 27
  enable_pin: 5
  invert_dir: true
  steps_per_rev: 200
  microstepping: 16
  gear_ratio: 144
  min_deg: -180
  max_deg: 180
  home_deg: 90
  backlash_arcsec: 120
  max_rate_deg_s: 2
axis2:
  step_pin: 22
  dir_pin: 23
  enable_pin: 6
  reverse: true
  steps_per_rev: 400
  microstepping: 8
  gear_ratio: 100
  min_deg: -90
  max_deg: 90
defaults:
  debug_level: 2
  gpio_driver: cdev
`

func TestLoad_ValidFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mount.Type != "fork" {
		t.Errorf("mount.type = %q, want fork", cfg.Mount.Type)
	}
	if cfg.Mount.TrackingRateHz != 60.0 {
		t.Errorf("mount.tracking_rate_hz = %v, want 60", cfg.Mount.TrackingRateHz)
	}
	if cfg.Mount.Compensation != "refraction-single" {
		t.Errorf("mount.compensation = %q", cfg.Mount.Compensation)
	}
	if cfg.StatusInterval() != time.Second {
		t.Errorf("StatusInterval() = %v, want 1s", cfg.StatusInterval())
	}
	if !cfg.Axis1.InvertDir || cfg.Axis1.BacklashArcsec != 120 || cfg.Axis1.HomeDeg != 90 {
		t.Errorf("axis1 = %+v", cfg.Axis1)
	}
	if !cfg.Axis2.Reverse || cfg.Axis2.StepsPerRev != 400 {
		t.Errorf("axis2 = %+v", cfg.Axis2)
	}
	if cfg.Defaults.GPIOChip != "gpiochip0" {
		t.Errorf("gpio_chip default for cdev = %q, want gpiochip0", cfg.Defaults.GPIOChip)
	}
}

const minimalYAML = `
axis1:
  step_pin: 17
  dir_pin: 27
  steps_per_rev: 200
axis2:
  step_pin: 22
  dir_pin: 23
  steps_per_rev: 200
`

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Mount.Type != "gem" {
		t.Errorf("mount.type default = %q, want gem", cfg.Mount.Type)
	}
	if cfg.Mount.Compensation != "none" {
		t.Errorf("mount.compensation default = %q, want none", cfg.Mount.Compensation)
	}
	if cfg.Mount.TrackingRateHz != clock.SiderealRateHz {
		t.Errorf("tracking_rate_hz default = %v, want sidereal", cfg.Mount.TrackingRateHz)
	}
	if cfg.StatusInterval() != 5*time.Second {
		t.Errorf("status interval default = %v, want 5s", cfg.StatusInterval())
	}
	if cfg.Defaults.GPIODriver != "mock" {
		t.Errorf("gpio_driver default = %q, want mock", cfg.Defaults.GPIODriver)
	}
	if cfg.Defaults.GPIOChip != "" {
		t.Errorf("gpio_chip should stay empty for mock, got %q", cfg.Defaults.GPIOChip)
	}
	a := cfg.Axis1
	if a.Microstepping != 1 || a.GearRatio != 1 || a.StepsPerStepGoto != 1 {
		t.Errorf("axis1 calibration defaults = %+v", a)
	}
	if a.MaxRateDegS != 4 {
		t.Errorf("max_rate_deg_s default = %v, want 4", a.MaxRateDegS)
	}
	if a.MinDeg != -180 || a.MaxDeg != 180 {
		t.Errorf("limit defaults = [%v, %v], want [-180, 180]", a.MinDeg, a.MaxDeg)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	cases := []struct {
		name  string
		yaml  string
		match string
	}{
		{"missing_pins", "axis2: {step_pin: 22, dir_pin: 23, steps_per_rev: 200}", "axis1.step_pin"},
		{"missing_steps", "axis1: {step_pin: 17, dir_pin: 27}\naxis2: {step_pin: 22, dir_pin: 23, steps_per_rev: 200}", "axis1.steps_per_rev"},
		{"shared_pin", "axis1: {step_pin: 17, dir_pin: 17, steps_per_rev: 200}\naxis2: {step_pin: 22, dir_pin: 23, steps_per_rev: 200}", "used twice"},
		{"bad_limits", minimalYAML + "\n  min_deg: 10\n  max_deg: -10", "min_deg"},
		{"backlash_range", minimalYAML + "\n  backlash_arcsec: 4000", "backlash_arcsec"},
		{"rate_range", minimalYAML + "mount:\n  tracking_rate_hz: 95", "tracking_rate_hz"},
		{"driver", minimalYAML + "defaults:\n  gpio_driver: spi", "gpio_driver"},
		{"debug_level", minimalYAML + "defaults:\n  debug_level: 7", "debug_level"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tc.match) {
				t.Errorf("error %q does not mention %q", err, tc.match)
			}
		})
	}
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Defaults.GPIODriver = "spi"

	errs := multierr.Errors(cfg.Validate())
	// driver, then step_pin, dir_pin and steps_per_rev on both axes
	if len(errs) != 7 {
		t.Errorf("got %d errors, want 7: %v", len(errs), errs)
	}
}

func TestLoad_FileTooLarge(t *testing.T) {
	path := writeConfig(t, strings.Repeat("#", MaxConfigFileBytes+1))
	if _, err := Load(path); err == nil {
		t.Error("expected error for oversized config file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	if _, err := Load(writeConfig(t, "{{{{invalid yaml!!!!")); err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EmptyFile(t *testing.T) {
	if _, err := Load(writeConfig(t, "")); err == nil {
		t.Error("expected error for empty config (pins missing), got nil")
	}
}

func TestLoad_UnknownFields(t *testing.T) {
	yaml := minimalYAML + "unknown_section:\n  foo: bar\n"
	if _, err := Load(writeConfig(t, yaml)); err != nil {
		t.Errorf("unknown fields should be ignored, got error: %v", err)
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "nonexistent.yaml")
	if _, err := Load(path); err == nil {
		t.Error("expected error for nonexistent file, got nil")
	}
}

// ---------- Helper methods ----------

func TestAxisConfig_Conversions(t *testing.T) {
	a := &AxisConfig{
		StepsPerRev:   200,
		Microstepping: 16,
		GearRatio:     144,
		MinDeg:        -90,
		MaxDeg:        90,
		HomeDeg:       45,
		MaxRateDegS:   4,
	}
	if got, want := a.StepsPerRadian(), 460800/(2*math.Pi); math.Abs(got-want) > 1e-9 {
		t.Errorf("StepsPerRadian() = %v, want %v", got, want)
	}
	if got := a.MinRad(); math.Abs(got+math.Pi/2) > 1e-12 {
		t.Errorf("MinRad() = %v", got)
	}
	if got := a.MaxRad(); math.Abs(got-math.Pi/2) > 1e-12 {
		t.Errorf("MaxRad() = %v", got)
	}
	if got := a.HomeRad(); math.Abs(got-math.Pi/4) > 1e-12 {
		t.Errorf("HomeRad() = %v", got)
	}
	if got := a.MaxRate(); math.Abs(got-4*math.Pi/180) > 1e-12 {
		t.Errorf("MaxRate() = %v", got)
	}
}
