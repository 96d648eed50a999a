package agent

import (
	"context"
	"time"

	"github.com/MartiMan79/gatewatch/pkg/gate"
	"github.com/MartiMan79/gatewatch/pkg/gpio"
	"github.com/MartiMan79/gatewatch/pkg/intent"
	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/MartiMan79/gatewatch/pkg/marker"
	"github.com/MartiMan79/gatewatch/pkg/session"
	"github.com/MartiMan79/gatewatch/pkg/status"
	"github.com/MartiMan79/gatewatch/pkg/transport"
	"github.com/MartiMan79/gatewatch/pkg/updater"
	"github.com/MartiMan79/gatewatch/pkg/workgroup"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"
)

const (
	defaultInterval       = time.Second
	defaultUpdateDelay    = time.Minute
	defaultUpdateInterval = 24 * time.Hour
)

// Config sets the agent's topics and timing.
type Config struct {
	Topics marker.Topics
	QoS    byte
	// Interval is the control loop cadence.
	Interval time.Duration
	// UpdateDelay is the wait before the first update check after start.
	UpdateDelay time.Duration
	// UpdateInterval is the wait between later update checks.
	UpdateInterval time.Duration
}

// Hardware is the agent's GPIO wiring.
type Hardware struct {
	Lines   gate.Lines
	Sensors status.Sensors
	// Heartbeat, if set, is toggled at the control loop cadence.
	Heartbeat gpio.Output
}

// Dialer builds the transport, delivering its events to handler.
type Dialer func(handler transport.Handler) (transport.Port, error)

// Updater is the part of the update manager the agent schedules.
type Updater interface {
	Run(ctx context.Context) (updater.Result, error)
}

type Agent struct {
	log logging.Logger
	cfg Config

	port        transport.Port
	coordinator *session.Coordinator
	mailbox     *intent.Mailbox
	actuator    *gate.Actuator
	reporter    *status.Reporter
	snapshot    *status.Snapshot
	heartbeat   gpio.Output
	updater     Updater

	// lastAction is only touched by the control loop.
	lastAction marker.Action

	notify func(state string)
}

// New wires the agent. up may be nil to disable updates.
func New(log logging.Logger, cfg Config, hw Hardware, dial Dialer, up Updater) (*Agent, error) {
	if cfg.Topics.Root() == "" {
		return nil, errors.New("client id must be provided for topics")
	}
	if dial == nil {
		return nil, errors.New("transport dialer must be provided")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.UpdateDelay <= 0 {
		cfg.UpdateDelay = defaultUpdateDelay
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = defaultUpdateInterval
	}

	actuator, err := gate.NewActuator(log.WithField(logging.SubComponentField, "actuator"), hw.Lines)
	if err != nil {
		return nil, err
	}
	if hw.Sensors.GateOpen == nil || hw.Sensors.GateClosed == nil || hw.Sensors.Object == nil {
		return nil, errors.New("all three sensor inputs must be provided")
	}

	a := &Agent{
		log:        log,
		cfg:        cfg,
		mailbox:    intent.NewMailbox(),
		actuator:   actuator,
		reporter:   status.NewReporter(log.WithField(logging.SubComponentField, "reporter")),
		snapshot:   status.NewSnapshot(cfg.Topics, hw.Sensors),
		heartbeat:  hw.Heartbeat,
		updater:    up,
		lastAction: marker.ActionIdle,
		notify:     sdNotifier(log),
	}

	a.port, err = dial(a.handler())
	if err != nil {
		return nil, errors.WithMessage(err, "unable to set up transport")
	}
	a.coordinator = session.NewCoordinator(log.WithField(logging.SubComponentField, "session"), a.port, cfg.Topics, cfg.QoS)
	return a, nil
}

// Run connects the transport and runs the agent's workers until ctx is
// cancelled or a worker fails. The drive lines are released on the way out.
func (a *Agent) Run(ctx context.Context) error {
	a.log.Debug("starting")
	defer a.log.Debug("finished")

	if err := a.port.Connect(ctx); err != nil {
		return errors.WithMessage(err, "unable to start transport")
	}
	defer a.port.Disconnect()

	group := workgroup.WithContext(ctx, a.log)
	group.Work("control", a.controlLoop)
	if a.updater != nil {
		group.Work("updater", a.periodicUpdateChecker)
	}
	if a.heartbeat != nil {
		group.Work("heartbeat", a.blink)
	}
	a.notify(daemon.SdNotifyReady)

	err := group.Wait()
	a.notify(daemon.SdNotifyStopping)
	a.log.Info("releasing drive lines")
	if rerr := a.actuator.Release(); rerr != nil {
		a.log.WithError(rerr).Error("unable to release drive lines")
	}
	return err
}

func (a *Agent) handler() transport.Handler {
	return &transport.HandlerFuncs{
		OnConnectFunc: func() {
			a.coordinator.Connected()
		},
		OnConnectionLostFunc: func(error) {
			a.coordinator.Lost()
		},
		OnMessageFunc: a.handleMessage,
	}
}

// handleMessage stores one command bit. It runs on the transport's
// goroutine; the control loop picks the bit up on its next cycle.
func (a *Agent) handleMessage(topic string, payload []byte) {
	key, ok := a.cfg.Topics.CommandKey(topic)
	if !ok {
		a.log.WithField("topic", topic).Debug("ignoring message on unknown topic")
		return
	}
	v, err := marker.ParseBool(payload)
	if err != nil {
		a.log.WithError(err).WithField("topic", topic).Warn("ignoring malformed command")
		return
	}
	a.mailbox.Post(key, v)
}

func (a *Agent) periodicUpdateChecker(ctx context.Context) error {
	timer := time.NewTimer(a.cfg.UpdateDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}
		res, err := a.updater.Run(ctx)
		switch {
		case err != nil:
			a.log.WithError(err).Warn("update check failed, retrying at next interval")
		case res.Updated:
			// The restarter is taking the process down.
			a.log.WithField("version", res.To).Info("update installed")
		}
		timer.Reset(a.cfg.UpdateInterval)
	}
}

func (a *Agent) blink(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.Interval)
	defer ticker.Stop()
	on := false
	for {
		select {
		case <-ctx.Done():
			if err := a.heartbeat.Set(false); err != nil {
				a.log.WithError(err).Debug("unable to clear heartbeat")
			}
			return nil
		case <-ticker.C:
		}
		on = !on
		if err := a.heartbeat.Set(on); err != nil {
			a.log.WithError(err).Debug("unable to toggle heartbeat")
		}
	}
}

func sdNotifier(log logging.Logger) func(string) {
	return func(state string) {
		sent, err := daemon.SdNotify(false, state)
		if err != nil {
			log.WithError(err).Debug("unable to notify service manager")
			return
		}
		if sent && state != daemon.SdNotifyWatchdog {
			log.WithField("state", state).Debug("notified service manager")
		}
	}
}
