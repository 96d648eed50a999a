package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/MartiMan79/gatewatch/pkg/agent"
	"github.com/MartiMan79/gatewatch/pkg/clock"
	"github.com/MartiMan79/gatewatch/pkg/config"
	"github.com/MartiMan79/gatewatch/pkg/gate"
	"github.com/MartiMan79/gatewatch/pkg/gpio"
	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/MartiMan79/gatewatch/pkg/marker"
	"github.com/MartiMan79/gatewatch/pkg/platform"
	"github.com/MartiMan79/gatewatch/pkg/platform/httpfetch"
	"github.com/MartiMan79/gatewatch/pkg/platform/systemd"
	"github.com/MartiMan79/gatewatch/pkg/sigcontext"
	"github.com/MartiMan79/gatewatch/pkg/status"
	"github.com/MartiMan79/gatewatch/pkg/transport"
	"github.com/MartiMan79/gatewatch/pkg/updater"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:    "gatewatch",
		Usage:   "drive a gate controller over MQTT and keep its firmware current",
		Version: marker.BuildVersion,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   config.DefaultPath,
				Usage:   "path to the TOML configuration",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "log at debug level regardless of configuration",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the gate control loop and the update worker",
				Action: runAgent,
			},
			{
				Name:   "update",
				Usage:  "check for and install an update once, then exit",
				Action: runUpdate,
			},
			{
				Name:   "version",
				Usage:  "print the build version and the installed release",
				Action: printVersion,
			},
		},
		Action: runAgent,
	}

	if err := app.Run(os.Args); err != nil {
		logging.New("main").WithError(err).Fatal("stopped")
	}
}

// setup loads the configuration and configures the root logger from it.
func setup(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}

	level := cfg.Log.Level
	if c.Bool("debug") {
		level = "debug"
	}
	logging.Set(logging.Level(level))
	logging.Set(logging.SplitConsole())

	if cfg.Log.File != "" {
		sink, err := logging.NewFileSink(cfg.Log.File, cfg.Log.MaxSize)
		if err != nil {
			// The console still works; carry on without the file.
			logging.New("main").WithError(err).Warn("log file unavailable")
		} else {
			logging.Set(logging.Hook(sink))
		}
	}

	log := logging.New("main")
	// "debuggable" builds log every inbound message and control loop cycle.
	if logging.Debuggable {
		log.Info("low-level logging.Debuggable is enabled in this build")
		log.Warn("logging.Debuggable produces large volumes of logs")
		delay := 3 * time.Second
		log.WithField("delay", delay).Warn("delaying start due to logging.Debuggable build")
		time.Sleep(delay)
	}
	return cfg, nil
}

func runAgent(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	log := logging.New("main")
	log.WithField("version", marker.BuildVersion).WithField("client", cfg.ClientID).Info("starting")

	ctx, cancel := sigcontext.WithSignalCancel(context.Background(), log, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	checker := clock.NewChecker(logging.New("clock"), cfg.Clock.NTPServer, cfg.Clock.MaxSkewDuration)
	// Only reported; an unsynchronised clock does not stop the gate.
	_, _ = checker.Check(ctx)

	hw, closeHW, err := openHardware(cfg.GPIO)
	if err != nil {
		return err
	}
	defer closeHW()

	var up agent.Updater
	if cfg.Update.Enabled {
		mgr, err := newUpdater(cfg)
		if err != nil {
			return err
		}
		up = mgr
	} else {
		log.Info("updates disabled")
	}

	topics := marker.NewTopics(cfg.ClientID)
	dial := func(h transport.Handler) (transport.Port, error) {
		return transport.NewMQTT(logging.New("transport"), transport.MQTTConfig{
			Broker:    cfg.MQTT.Broker,
			ClientID:  cfg.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			KeepAlive: cfg.MQTT.KeepAliveDuration,
			WillTopic: topics.Info(),
		}, h)
	}

	a, err := agent.New(logging.New("agent"), agent.Config{
		Topics:         topics,
		QoS:            byte(cfg.MQTT.QoS),
		Interval:       cfg.Control.IntervalDuration,
		UpdateDelay:    cfg.Update.InitialDelayDuration,
		UpdateInterval: cfg.Update.IntervalDuration,
	}, hw, dial, up)
	if err != nil {
		return errors.WithMessage(err, "initialization error")
	}
	return errors.WithMessage(a.Run(ctx), "run error")
}

func runUpdate(c *cli.Context) error {
	cfg, err := setup(c)
	if err != nil {
		return err
	}
	if !cfg.Update.Enabled {
		return errors.New("updates are disabled in the configuration")
	}
	log := logging.New("main")
	ctx, cancel := sigcontext.WithSignalCancel(context.Background(), log, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	mgr, err := newUpdater(cfg)
	if err != nil {
		return err
	}
	res, err := mgr.Run(ctx)
	if err != nil {
		return err
	}
	if !res.Updated {
		fmt.Fprintf(c.App.Writer, "up to date at version %d\n", res.From)
	}
	return nil
}

func printVersion(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "gatewatch %s\n", marker.BuildVersion)
	if !cfg.Update.Enabled {
		return nil
	}
	mgr, err := newUpdater(cfg)
	if err != nil {
		return err
	}
	local, err := mgr.LocalVersion()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "installed release %d\n", local.Version)
	return nil
}

func newUpdater(cfg *config.Config) (*updater.Manager, error) {
	fetcher, err := httpfetch.New(logging.New("fetch"), cfg.Update.RepoURL)
	if err != nil {
		return nil, err
	}

	var restarter platform.Restarter
	switch cfg.Update.Restart {
	case config.RestartExit:
		restarter = &platform.ProcessExit{Log: logging.New("restart")}
	default:
		restarter = systemd.New(logging.New("restart"), cfg.Update.SystemdSocket)
	}

	mgr, err := updater.New(logging.New("updater"), updater.Config{
		Root:          cfg.Update.Root,
		Files:         updater.FileSet(cfg.Update.Files),
		StagingPrefix: cfg.Update.StagingPrefix,
		BackupPrefix:  cfg.Update.BackupPrefix,
	}, fetcher, restarter)
	return mgr, errors.WithMessage(err, "could not set up update manager")
}

// openHardware requests the configured GPIO lines. Without a chip the agent
// runs against in-memory lines, which is useful off the device.
func openHardware(cfg config.GPIO) (agent.Hardware, func(), error) {
	log := logging.New("gpio")
	if cfg.Chip == "" {
		log.Warn("no gpio chip configured, using simulated lines")
		return agent.Hardware{
			Lines:   gate.Lines{Open: &gpio.MemPin{}, Close: &gpio.MemPin{}, Stop: &gpio.MemPin{}},
			Sensors: status.Sensors{GateOpen: &gpio.MemPin{}, GateClosed: &gpio.MemPin{}, Object: &gpio.MemPin{}},
		}, func() {}, nil
	}

	chip, err := gpio.Open(log, cfg.Chip)
	if err != nil {
		return agent.Hardware{}, nil, err
	}
	closer := func() {
		if err := chip.Close(); err != nil {
			log.WithError(err).Warn("unable to close gpio chip")
		}
	}

	var hw agent.Hardware
	outputs := []struct {
		offset int
		dst    *gpio.Output
	}{
		{cfg.OpenOutput, &hw.Lines.Open},
		{cfg.CloseOutput, &hw.Lines.Close},
		{cfg.StopOutput, &hw.Lines.Stop},
	}
	for _, o := range outputs {
		if *o.dst, err = chip.Output(o.offset); err != nil {
			closer()
			return agent.Hardware{}, nil, err
		}
	}
	inputs := []struct {
		offset int
		dst    *gpio.Input
	}{
		{cfg.GateOpenInput, &hw.Sensors.GateOpen},
		{cfg.GateClosedInput, &hw.Sensors.GateClosed},
		{cfg.ObjectInput, &hw.Sensors.Object},
	}
	for _, i := range inputs {
		if *i.dst, err = chip.Input(i.offset); err != nil {
			closer()
			return agent.Hardware{}, nil, err
		}
	}
	if cfg.HeartbeatOutput >= 0 {
		if hw.Heartbeat, err = chip.Output(cfg.HeartbeatOutput); err != nil {
			closer()
			return agent.Hardware{}, nil, err
		}
	}
	return hw, closer, nil
}
