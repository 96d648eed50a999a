package gate

import (
	"testing"

	"github.com/MartiMan79/gatewatch/pkg/gpio"
	"github.com/MartiMan79/gatewatch/pkg/internal/testoutput"
	"github.com/MartiMan79/gatewatch/pkg/marker"
	"github.com/pkg/errors"

	"gotest.tools/v3/assert"
)

// recorder captures the order of writes across all three lines.
type recorder struct {
	name  string
	pin   *gpio.MemPin
	trace *[]string
}

func (r *recorder) Set(high bool) error {
	if err := r.pin.Set(high); err != nil {
		return err
	}
	*r.trace = append(*r.trace, r.name+"="+marker.FormatBool(high))
	return nil
}

func testActuator(t *testing.T) (*Actuator, map[string]*gpio.MemPin, *[]string) {
	trace := &[]string{}
	pins := map[string]*gpio.MemPin{"open": {}, "close": {}, "stop": {}}
	a, err := NewActuator(testoutput.Logger(t, "gate"), Lines{
		Open:  &recorder{"open", pins["open"], trace},
		Close: &recorder{"close", pins["close"], trace},
		Stop:  &recorder{"stop", pins["stop"], trace},
	})
	assert.NilError(t, err)
	return a, pins, trace
}

func levels(t *testing.T, pins map[string]*gpio.MemPin) [3]bool {
	var out [3]bool
	for i, name := range []string{"open", "close", "stop"} {
		v, err := pins[name].Get()
		assert.NilError(t, err)
		out[i] = v
	}
	return out
}

func TestApplyDrivesExactlyOne(t *testing.T) {
	cases := []struct {
		action   marker.Action
		expected [3]bool
	}{
		{marker.ActionOpen, [3]bool{true, false, false}},
		{marker.ActionClose, [3]bool{false, true, false}},
		{marker.ActionStop, [3]bool{false, false, true}},
		{marker.ActionIdle, [3]bool{false, false, false}},
	}
	for _, tc := range cases {
		t.Run(tc.action.String(), func(t *testing.T) {
			a, pins, _ := testActuator(t)
			applied, err := a.Apply(tc.action)
			assert.NilError(t, err)
			assert.Equal(t, applied, tc.action)
			assert.Equal(t, levels(t, pins), tc.expected)
		})
	}
}

func TestApplyReleasesBeforeAsserting(t *testing.T) {
	a, pins, trace := testActuator(t)
	_, err := a.Apply(marker.ActionOpen)
	assert.NilError(t, err)
	*trace = nil

	_, err = a.Apply(marker.ActionClose)
	assert.NilError(t, err)
	assert.DeepEqual(t, *trace, []string{"open=0", "stop=0", "close=1"})
	assert.Equal(t, levels(t, pins), [3]bool{false, true, false})
}

func TestApplyFailureDefaultsToIdle(t *testing.T) {
	a, pins, _ := testActuator(t)
	_, err := a.Apply(marker.ActionStop)
	assert.NilError(t, err)

	pins["open"].Fail(errors.New("bus error"))
	applied, err := a.Apply(marker.ActionOpen)
	assert.ErrorContains(t, err, "bus error")
	assert.Equal(t, applied, marker.ActionIdle)

	v, _ := pins["stop"].Get()
	assert.Check(t, !v, "stop should be released after a failed write")
}

func TestNewActuatorRequiresLines(t *testing.T) {
	_, err := NewActuator(testoutput.Logger(t, "gate"), Lines{Open: &gpio.MemPin{}})
	assert.ErrorContains(t, err, "drive lines")
}
