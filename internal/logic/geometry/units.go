package geometry

import (
	"math"

	"github.com/cjeanneret/MountGo/internal/hw/clock"
)

// SiderealDaySeconds is the length of one sidereal day in SI seconds.
const SiderealDaySeconds = 86164.0905

// DegToRad converts degrees to radians.
func DegToRad(deg float64) float64 { return deg * math.Pi / 180.0 }

// RadToDeg converts radians to degrees.
func RadToDeg(rad float64) float64 { return rad * 180.0 / math.Pi }

// ArcsecToRad converts arc-seconds to radians.
func ArcsecToRad(arcsec float64) float64 { return DegToRad(arcsec / 3600.0) }

// RadToArcsec converts radians to arc-seconds.
func RadToArcsec(rad float64) float64 { return RadToDeg(rad) * 3600.0 }

// SiderealToRad converts a rate in sidereal multiples to radians per second.
// 1x sidereal is one full turn per sidereal day.
func SiderealToRad(x float64) float64 { return x * 2 * math.Pi / SiderealDaySeconds }

// RadToSidereal is the inverse of SiderealToRad.
func RadToSidereal(rad float64) float64 { return rad * SiderealDaySeconds / (2 * math.Pi) }

// HzToSidereal converts a rate on the 60 Hz synchronous-motor scale to sidereal multiples.
func HzToSidereal(hz float64) float64 { return hz / clock.SiderealRateHz }

// SiderealToHz is the inverse of HzToSidereal.
func SiderealToHz(x float64) float64 { return x * clock.SiderealRateHz }

// StepsPerRadian computes an axis's steps per measure from its drivetrain:
// motor full steps per revolution, driver microstepping and the reduction
// between motor and axis (worm teeth, belt ratio...).
func StepsPerRadian(stepsPerRev, microstepping int, gearRatio float64) float64 {
	if microstepping <= 0 {
		microstepping = 1
	}
	if gearRatio <= 0 {
		gearRatio = 1
	}
	return float64(stepsPerRev*microstepping) * gearRatio / (2 * math.Pi)
}
