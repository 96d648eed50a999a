package intent

import (
	"fmt"

	"github.com/MartiMan79/gatewatch/pkg/marker"
)

// Intent is the operator's latest requested command bits. Each bit is set
// independently by its own command topic; the arbiter decides what they mean
// together.
type Intent struct {
	Open  bool
	Close bool
	Stop  bool
}

// Resolve applies the arbitration rule in strict priority order: stopping
// always wins, open and close are mutually exclusive, and anything else
// leaves the gate idle.
func Resolve(in Intent) marker.Action {
	switch {
	case in.Stop:
		return marker.ActionStop
	case in.Open && !in.Close:
		return marker.ActionOpen
	case in.Close && !in.Open:
		return marker.ActionClose
	default:
		return marker.ActionIdle
	}
}

// Resolved returns the intent matching an action. This is what the device
// echoes back to the operator: the command it acted on, not the raw request.
func Resolved(action marker.Action) Intent {
	return Intent{
		Open:  action == marker.ActionOpen,
		Close: action == marker.ActionClose,
		Stop:  action == marker.ActionStop,
	}
}

// With returns a copy of the intent with the bit for key set to v.
func (i Intent) With(key marker.Key, v bool) Intent {
	switch key {
	case marker.CommandOpenKey:
		i.Open = v
	case marker.CommandCloseKey:
		i.Close = v
	case marker.CommandStopKey:
		i.Stop = v
	}
	return i
}

// Payloads returns the intent as command payloads in publication order:
// open, close, stop.
func (i Intent) Payloads() []marker.Payload {
	return []marker.Payload{
		marker.FormatBool(i.Open),
		marker.FormatBool(i.Close),
		marker.FormatBool(i.Stop),
	}
}

// DisplayString renders the intent compactly for logs.
func (i Intent) DisplayString() string {
	return fmt.Sprintf("open=%s,close=%s,stop=%s", marker.FormatBool(i.Open),
		marker.FormatBool(i.Close), marker.FormatBool(i.Stop))
}
