package agent

import (
	"context"
	"time"

	"github.com/MartiMan79/gatewatch/pkg/intent"
	"github.com/MartiMan79/gatewatch/pkg/internal/logfields"
	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/coreos/go-systemd/v22/daemon"
)

func (a *Agent) controlLoop(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	for {
		a.cycle(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// cycle runs one pass of the control loop.
func (a *Agent) cycle(ctx context.Context) {
	a.notify(daemon.SdNotifyWatchdog)
	if !a.coordinator.Ensure(ctx) {
		return
	}

	in := a.mailbox.Snapshot()
	wanted := intent.Resolve(in)
	action, err := a.actuator.Apply(wanted)
	log := a.log.WithFields(logfields.Cycle(in, action))
	switch {
	case err != nil:
		log.WithError(err).Warn("unable to drive gate, idle until next cycle")
	case action != a.lastAction:
		log.Info("gate action changed")
	case logging.Debuggable:
		log.Debug("cycle")
	}
	a.lastAction = action

	a.echo(ctx, intent.Resolved(wanted))
	a.report(ctx)
}

// echo republishes the resolved commands in open, close, stop order.
func (a *Agent) echo(ctx context.Context, resolved intent.Intent) {
	payloads := resolved.Payloads()
	for i, topic := range a.cfg.Topics.Commands() {
		if err := a.port.Publish(ctx, topic, payloads[i], a.cfg.QoS); err != nil {
			a.log.WithError(err).WithField("topic", topic).Warn("unable to echo command")
			return
		}
	}
}

// report publishes changed sensors. A sensor whose publication fails stays
// changed and is tried again next cycle.
func (a *Agent) report(ctx context.Context) {
	for _, pub := range a.reporter.SampleAndReport(a.snapshot) {
		if err := a.port.Publish(ctx, pub.Topic, pub.Payload, a.cfg.QoS); err != nil {
			a.log.WithError(err).WithField("topic", pub.Topic).Warn("unable to report status")
			continue
		}
		a.snapshot.Commit(pub)
		a.log.WithField("topic", pub.Topic).WithField("value", pub.Payload).Info("reported status")
	}
}
