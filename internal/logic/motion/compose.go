package motion

import (
	"fmt"
	"strings"
)

// MountType is the mechanical configuration of the mount.
type MountType int

const (
	GEM MountType = iota
	Fork
	AltAz
)

func (m MountType) String() string {
	switch m {
	case GEM:
		return "gem"
	case Fork:
		return "fork"
	case AltAz:
		return "altaz"
	default:
		return fmt.Sprintf("MountType(%d)", int(m))
	}
}

// Equatorial reports whether the primary axis alone follows the sky.
func (m MountType) Equatorial() bool { return m != AltAz }

// ParseMountType accepts the names used in configuration files.
func ParseMountType(s string) (MountType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gem", "":
		return GEM, nil
	case "fork":
		return Fork, nil
	case "altaz", "alt-az", "altazm":
		return AltAz, nil
	}
	return GEM, fmt.Errorf("unknown mount type %q (want gem, fork or altaz)", s)
}

// Compensation selects how the rate correction is applied.
type Compensation int

const (
	CompensationNone Compensation = iota
	CompensationRefractionSingle
	CompensationRefractionDual
	CompensationFullSingle
	CompensationFullDual
)

func (c Compensation) String() string {
	switch c {
	case CompensationNone:
		return "none"
	case CompensationRefractionSingle:
		return "refraction-single"
	case CompensationRefractionDual:
		return "refraction-dual"
	case CompensationFullSingle:
		return "full-single"
	case CompensationFullDual:
		return "full-dual"
	default:
		return fmt.Sprintf("Compensation(%d)", int(c))
	}
}

// Dual reports whether the correction also drives the secondary axis.
func (c Compensation) Dual() bool {
	return c == CompensationRefractionDual || c == CompensationFullDual
}

// WithDual returns the same kind of compensation on one or both axes.
// CompensationNone is returned unchanged.
func (c Compensation) WithDual(dual bool) Compensation {
	switch c {
	case CompensationRefractionSingle, CompensationRefractionDual:
		if dual {
			return CompensationRefractionDual
		}
		return CompensationRefractionSingle
	case CompensationFullSingle, CompensationFullDual:
		if dual {
			return CompensationFullDual
		}
		return CompensationFullSingle
	}
	return c
}

// ParseCompensation accepts the names returned by Compensation.String.
func ParseCompensation(s string) (Compensation, error) {
	for c := CompensationNone; c <= CompensationFullDual; c++ {
		if strings.EqualFold(strings.TrimSpace(s), c.String()) {
			return c, nil
		}
	}
	if strings.TrimSpace(s) == "" {
		return CompensationNone, nil
	}
	return CompensationNone, fmt.Errorf("unknown compensation %q", s)
}

// RateInputs holds every term of the tracking rate, in sidereal multiples.
// Index 0 is the primary axis (RA/azimuth), index 1 the secondary.
type RateInputs struct {
	Mount        MountType
	Tracking     bool
	Base         float64
	Compensation Compensation
	Correction   [2]float64
	Guide        [2]float64
	Delta        [2]float64
}

// Compose returns the commanded rate per axis in sidereal multiples.
//
// On equatorial mounts the primary axis runs at the base rate plus its
// correction, and the secondary axis only carries a correction in the dual
// compensation modes. On alt-az mounts the corrections are the complete
// per-axis tracking rates. Guide and delta offsets are added last and survive
// tracking being off.
func Compose(in RateInputs) [2]float64 {
	var track [2]float64
	if in.Mount.Equatorial() {
		track[0] = in.Base
		if in.Compensation != CompensationNone {
			track[0] += in.Correction[0]
		}
		if in.Compensation.Dual() {
			track[1] = in.Correction[1]
		}
	} else {
		track = in.Correction
	}
	if !in.Tracking {
		track = [2]float64{}
	}

	var out [2]float64
	for i := range out {
		out[i] = track[i] + in.Guide[i] + in.Delta[i]
	}
	return out
}
