// Package gate drives the gate controller's three command lines.
package gate

import (
	"github.com/MartiMan79/gatewatch/pkg/gpio"
	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/MartiMan79/gatewatch/pkg/marker"
	"github.com/pkg/errors"
)

// Lines are the drive outputs wired to the gate controller.
type Lines struct {
	Open  gpio.Output
	Close gpio.Output
	Stop  gpio.Output
}

// Actuator is the only writer of the drive lines.
type Actuator struct {
	log   logging.Logger
	lines Lines
}

func NewActuator(log logging.Logger, lines Lines) (*Actuator, error) {
	if lines.Open == nil || lines.Close == nil || lines.Stop == nil {
		return nil, errors.New("all three drive lines must be provided")
	}
	return &Actuator{log: log, lines: lines}, nil
}

type drive struct {
	action marker.Action
	line   gpio.Output
}

func (a *Actuator) drives() []drive {
	return []drive{
		{marker.ActionOpen, a.lines.Open},
		{marker.ActionClose, a.lines.Close},
		{marker.ActionStop, a.lines.Stop},
	}
}

// Apply asserts the line for action and de-asserts the others. Every other
// line is released before the target is asserted, so opposing directions are
// never driven together, not even for the span of one write.
//
// On a failed write the remaining lines are released as far as possible and
// the cycle is reported as Idle along with the error; the caller retries on
// its next tick.
func (a *Actuator) Apply(action marker.Action) (marker.Action, error) {
	var target gpio.Output
	for _, d := range a.drives() {
		if d.action == action {
			target = d.line
			continue
		}
		if err := d.line.Set(false); err != nil {
			return marker.ActionIdle, a.fail(errors.Wrapf(err, "unable to release %s", d.action))
		}
	}
	if target == nil {
		return marker.ActionIdle, nil
	}
	if err := target.Set(true); err != nil {
		return marker.ActionIdle, a.fail(errors.Wrapf(err, "unable to assert %s", action))
	}
	return action, nil
}

// Release de-asserts every line.
func (a *Actuator) Release() error {
	var first error
	for _, d := range a.drives() {
		if err := d.line.Set(false); err != nil && first == nil {
			first = errors.Wrapf(err, "unable to release %s", d.action)
		}
	}
	return first
}

func (a *Actuator) fail(err error) error {
	if rerr := a.Release(); rerr != nil {
		a.log.WithError(rerr).Warn("unable to release all lines after failed write")
	}
	return err
}
