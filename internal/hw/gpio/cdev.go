package gpio

import (
	"fmt"

	"github.com/cjeanneret/MountGo/internal/debug"
	"github.com/warthog618/go-gpiocdev"
	"go.uber.org/multierr"
)

// DefaultChip is the character device used when none is configured.
const DefaultChip = "gpiochip0"

// CdevDriver drives pins through the Linux GPIO character device.
// Works on any board exposing /dev/gpiochipN, offsets are line numbers on that chip.
// Requested lines live in a copy-on-write table, so writes take no lock.
type CdevDriver struct {
	chip  string
	lines pinTable[*gpiocdev.Line]
}

// NewCdevDriver opens lines lazily on the given chip.
func NewCdevDriver(chip string) (*CdevDriver, error) {
	if chip == "" {
		chip = DefaultChip
	}
	debug.Info("Initializing GPIO character device driver on %s", chip)
	return &CdevDriver{chip: chip}, nil
}

func (c *CdevDriver) SetupPin(pin int, mode PinMode) error {
	debug.GPIO("SetupPin", pin, mode)

	var (
		req gpiocdev.LineReqOption
		cfg gpiocdev.LineConfigOption
	)
	switch mode {
	case Input:
		req, cfg = gpiocdev.AsInput, gpiocdev.AsInput
	case Output:
		req, cfg = gpiocdev.AsOutput(0), gpiocdev.AsOutput(0)
	default:
		return fmt.Errorf("unknown pin mode: %d", mode)
	}

	return c.lines.update(func(m map[int]*gpiocdev.Line) error {
		if l, ok := m[pin]; ok {
			if err := l.Reconfigure(cfg); err != nil {
				return fmt.Errorf("reconfigure %s line %d: %w", c.chip, pin, err)
			}
			return nil
		}
		l, err := gpiocdev.RequestLine(c.chip, pin, req, gpiocdev.WithConsumer("mountgo"))
		if err != nil {
			return fmt.Errorf("request %s line %d: %w", c.chip, pin, err)
		}
		m[pin] = l
		return nil
	})
}

// line returns a requested line, requesting it in mode on first use.
func (c *CdevDriver) line(pin int, mode PinMode) (*gpiocdev.Line, error) {
	if l, ok := c.lines.get(pin); ok {
		return l, nil
	}
	if err := c.SetupPin(pin, mode); err != nil {
		return nil, err
	}
	l, _ := c.lines.get(pin)
	return l, nil
}

func (c *CdevDriver) WritePin(pin int, level Level) error {
	debug.GPIO("WritePin", pin, level)

	l, err := c.line(pin, Output)
	if err != nil {
		return err
	}
	v := 0
	if level == High {
		v = 1
	}
	return l.SetValue(v)
}

func (c *CdevDriver) ReadPin(pin int) (Level, error) {
	debug.GPIO("ReadPin", pin, nil)

	l, err := c.line(pin, Input)
	if err != nil {
		return Low, err
	}
	v, err := l.Value()
	if err != nil {
		return Low, fmt.Errorf("read %s line %d: %w", c.chip, pin, err)
	}
	return Level(v != 0), nil
}

func (c *CdevDriver) Close() error {
	debug.Trace("GPIO Close (cdev driver)")

	var errs error
	for pin, l := range c.lines.drain() {
		// Release as input so the lines float in a safe state.
		_ = l.Reconfigure(gpiocdev.AsInput)
		if err := l.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("close %s line %d: %w", c.chip, pin, err))
		}
	}
	return errs
}
