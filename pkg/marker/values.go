package marker

import (
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Action is the single output the arbiter drives for a cycle. Exactly one of
// the three drive lines is asserted for Open, Close and Stop; none for Idle.
type Action int

const (
	ActionIdle Action = iota
	ActionOpen
	ActionClose
	ActionStop
)

func (a Action) String() string {
	switch a {
	case ActionIdle:
		return "idle"
	case ActionOpen:
		return "open"
	case ActionClose:
		return "close"
	case ActionStop:
		return "stop"
	}
	return "unknown(" + strconv.Itoa(int(a)) + ")"
}

// Payload is the wire representation of a boolean on command and status
// topics.
type Payload = string

const (
	PayloadTrue  Payload = "1"
	PayloadFalse Payload = "0"

	// InfoConnected is published on the Info topic once the session is
	// active.
	InfoConnected = "Connected"
)

// FormatBool renders b as a command/status payload.
func FormatBool(b bool) Payload {
	if b {
		return PayloadTrue
	}
	return PayloadFalse
}

// ParseBool reads a command payload. Any integer is accepted, non-zero being
// true, so "1", "01" and " 1\n" all request the command.
func ParseBool(p []byte) (bool, error) {
	s := strings.TrimSpace(string(p))
	n, err := strconv.Atoi(s)
	if err != nil {
		return false, errors.Errorf("payload %q is not an integer", s)
	}
	return n != 0, nil
}

// QoS is the MQTT delivery guarantee used for every publication and
// subscription unless configured otherwise: at least once.
const QoS byte = 1

// BuildVersion is the agent's build version, set at link time.
var BuildVersion = "0.0.0-dev"
