package axis

import "github.com/cjeanneret/MountGo/internal/hw/gpio"

func (a *Axis) stepIdle() gpio.Level   { return gpio.Level(a.pins.InvertStep) }
func (a *Axis) stepActive() gpio.Level { return gpio.Level(!a.pins.InvertStep) }
func (a *Axis) dirForward() gpio.Level { return gpio.Level(a.pins.InvertDir) }
func (a *Axis) dirReversed() gpio.Level {
	return gpio.Level(!a.pins.InvertDir)
}

// move is the pulse generator, run by the interrupt line on every timer tick.
// Even ticks settle the direction line and drop the step line, odd ticks take
// the step, so the direction is stable for a full half period before each edge.
//
// Backlash is taken up before the motor position changes: moving up it fills
// to backlashAmountSteps, moving down it drains to zero.
//
// The direction tick compares against the target the following step tick
// will see, after its tracking advance, not the current one.
//
// In MicrostepSlewing mode each pulse covers stepGoto steps, never more than
// the remaining distance; the part not absorbed by backlash moves the motor.
func (a *Axis) move() {
	if a.takeStep {
		if a.tracking {
			a.targetSteps += a.trackingStep
		}
		stride := a.step
		if MicrostepMode(a.microstep.Load()) == MicrostepSlewing {
			stride = int64(a.stepGoto)
		}
		pos := a.motorSteps + a.backlashSteps
		if pos > a.targetSteps {
			d := min(stride, pos-a.targetSteps)
			b := min(d, a.backlashSteps)
			a.backlashSteps -= b
			a.motorSteps -= d - b
			_ = a.gpio.WritePin(a.pins.Step, a.stepActive())
		} else if pos < a.targetSteps {
			d := min(stride, a.targetSteps-pos)
			b := min(d, a.backlashAmountSteps-a.backlashSteps)
			a.backlashSteps += b
			a.motorSteps += d - b
			_ = a.gpio.WritePin(a.pins.Step, a.stepActive())
		}
	} else {
		next := a.targetSteps
		if a.tracking {
			next += a.trackingStep
		}
		pos := a.motorSteps + a.backlashSteps
		moving := true
		if pos > next {
			if !a.dirReverse {
				a.dirReverse = true
				_ = a.gpio.WritePin(a.pins.Dir, a.dirReversed())
			}
		} else if pos < next {
			if a.dirReverse {
				a.dirReverse = false
				_ = a.gpio.WritePin(a.pins.Dir, a.dirForward())
			}
		} else {
			moving = false
		}
		if moving {
			a.microstep.CompareAndSwap(int32(MicrostepSlewingReady), int32(MicrostepSlewing))
		}
		_ = a.gpio.WritePin(a.pins.Step, a.stepIdle())
	}
	a.takeStep = !a.takeStep
}
