// Package gpio binds the gate's drive lines and sensor inputs to the Linux
// GPIO character device. Lines are addressed by their offset on a chip.
package gpio

import (
	"sync"

	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/pkg/errors"
	gpiod "github.com/warthog618/go-gpiocdev"
)

// Output is a drive line.
type Output interface {
	Set(high bool) error
}

// Input is a sensor line.
type Input interface {
	Get() (bool, error)
}

// Chip owns the lines requested from one GPIO chip.
type Chip struct {
	log   logging.Logger
	mu    sync.Mutex
	chip  *gpiod.Chip
	lines []*gpiod.Line
}

// Open opens the named chip, e.g. "gpiochip0".
func Open(log logging.Logger, name string) (*Chip, error) {
	c, err := gpiod.NewChip(name)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open chip %s", name)
	}
	return &Chip{log: log.WithField("chip", name), chip: c}, nil
}

// Output requests offset as an output, initially driven low.
func (c *Chip) Output(offset int) (Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.chip.RequestLine(offset, gpiod.AsOutput(0))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to request output line %d", offset)
	}
	c.lines = append(c.lines, l)
	return &line{log: c.log, offset: offset, l: l}, nil
}

// Input requests offset as an input with the internal pull-down enabled, so
// a floating sensor reads as false.
func (c *Chip) Input(offset int) (Input, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, err := c.chip.RequestLine(offset, gpiod.AsInput, gpiod.WithPullDown)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to request input line %d", offset)
	}
	c.lines = append(c.lines, l)
	return &line{log: c.log, offset: offset, l: l}, nil
}

// Close releases every requested line and the chip.
func (c *Chip) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, l := range c.lines {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.lines = nil
	if c.chip != nil {
		if err := c.chip.Close(); err != nil {
			errs = append(errs, err)
		}
		c.chip = nil
	}
	if len(errs) > 0 {
		return errors.Errorf("errors during close: %v", errs)
	}
	return nil
}

type line struct {
	log    logging.Logger
	offset int
	l      *gpiod.Line
}

func (l *line) Set(high bool) error {
	v := 0
	if high {
		v = 1
	}
	if logging.Debuggable {
		l.log.WithField("offset", l.offset).WithField("value", v).Debug("set line")
	}
	return errors.Wrapf(l.l.SetValue(v), "unable to set line %d", l.offset)
}

func (l *line) Get() (bool, error) {
	v, err := l.l.Value()
	if err != nil {
		return false, errors.Wrapf(err, "unable to read line %d", l.offset)
	}
	return v != 0, nil
}
