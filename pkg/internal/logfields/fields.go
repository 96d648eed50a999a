package logfields

import (
	"github.com/MartiMan79/gatewatch/pkg/intent"
	"github.com/MartiMan79/gatewatch/pkg/marker"

	"github.com/sirupsen/logrus"
)

// Cycle describes one control loop resolution.
func Cycle(in intent.Intent, action marker.Action) logrus.Fields {
	return logrus.Fields{
		"intent": in.DisplayString(),
		"action": action.String(),
	}
}

// Update describes an update run moving between versions.
func Update(run string, from, to uint32) logrus.Fields {
	return logrus.Fields{
		"run":  run,
		"from": from,
		"to":   to,
	}
}
