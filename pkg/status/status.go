// Package status reports the gate's sensors. Reporting is edge-triggered: a
// channel is published once per change of value, not on every sample.
package status

import (
	"github.com/MartiMan79/gatewatch/pkg/gpio"
	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/MartiMan79/gatewatch/pkg/marker"
)

// Channel is one sensor and the value last published for it.
type Channel struct {
	Name  string
	Topic string
	Input gpio.Input
	// Last is nil until the first successful publication.
	Last *bool
}

// Snapshot holds the sensor channels in their publication order. It lives
// for the process lifetime; nothing is persisted.
type Snapshot struct {
	Channels []*Channel
}

// Sensors are the gate's three inputs.
type Sensors struct {
	GateOpen   gpio.Input
	GateClosed gpio.Input
	Object     gpio.Input
}

// NewSnapshot lays out the gate-open, gate-closed and object-detected
// channels under topics.
func NewSnapshot(topics marker.Topics, sensors Sensors) *Snapshot {
	return &Snapshot{Channels: []*Channel{
		{Name: "gate_open", Topic: topics.Status(marker.StatusOpenKey), Input: sensors.GateOpen},
		{Name: "gate_closed", Topic: topics.Status(marker.StatusClosedKey), Input: sensors.GateClosed},
		{Name: "object_detected", Topic: topics.Status(marker.StatusObjectKey), Input: sensors.Object},
	}}
}

// Publication is a status message the caller should send. Once sent, the
// caller confirms it with Snapshot.Commit.
type Publication struct {
	Topic   string
	Payload marker.Payload

	channel *Channel
	value   bool
}

// Commit records a sent publication as the channel's last published value.
// An unsent publication is simply not committed and comes up again next
// cycle.
func (s *Snapshot) Commit(p Publication) {
	if p.channel == nil {
		return
	}
	v := p.value
	p.channel.Last = &v
}

// Reporter samples the sensors.
type Reporter struct {
	log logging.Logger
}

func NewReporter(log logging.Logger) *Reporter {
	return &Reporter{log: log}
}

// SampleAndReport reads every channel and returns a publication for each one
// whose value differs from the last published value, or that was never
// published. A channel that fails to read is skipped for this cycle.
func (r *Reporter) SampleAndReport(snap *Snapshot) []Publication {
	var pubs []Publication
	for _, ch := range snap.Channels {
		v, err := ch.Input.Get()
		if err != nil {
			r.log.WithError(err).WithField("sensor", ch.Name).Warn("unable to read sensor")
			continue
		}
		if ch.Last != nil && *ch.Last == v {
			continue
		}
		pubs = append(pubs, Publication{
			Topic:   ch.Topic,
			Payload: marker.FormatBool(v),
			channel: ch,
			value:   v,
		})
	}
	return pubs
}
