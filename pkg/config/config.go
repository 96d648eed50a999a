// Package config loads the agent's TOML configuration.
package config

import (
	"io/ioutil"
	"net/url"
	"os"
	"time"

	"github.com/MartiMan79/gatewatch/pkg/marker"
	"github.com/MartiMan79/gatewatch/pkg/platform/httpfetch"
	"github.com/MartiMan79/gatewatch/pkg/updater"
	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultPath     = "/etc/gatewatch/gatewatch.toml"
	DefaultClientID = "pico_w_gate_control"

	RestartSystemd = "systemd"
	RestartExit    = "exit"
)

// Config is the parsed and validated configuration.
type Config struct {
	ClientID string  `toml:"client_id"`
	MQTT     MQTT    `toml:"mqtt"`
	GPIO     GPIO    `toml:"gpio"`
	Control  Control `toml:"control"`
	Update   Update  `toml:"update"`
	Log      Log     `toml:"log"`
	Clock    Clock   `toml:"clock"`
}

type MQTT struct {
	Broker    string `toml:"broker"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	QoS       int    `toml:"qos"`
	KeepAlive string `toml:"keep_alive"`

	KeepAliveDuration time.Duration `toml:"-"`
}

// GPIO names the chip and line offsets. An empty chip runs the agent against
// simulated lines.
type GPIO struct {
	Chip            string `toml:"chip"`
	OpenOutput      int    `toml:"open_output"`
	CloseOutput     int    `toml:"close_output"`
	StopOutput      int    `toml:"stop_output"`
	GateOpenInput   int    `toml:"gate_open_input"`
	GateClosedInput int    `toml:"gate_closed_input"`
	ObjectInput     int    `toml:"object_input"`
	// HeartbeatOutput is an optional LED; negative disables it.
	HeartbeatOutput int `toml:"heartbeat_output"`
}

type Control struct {
	Interval string `toml:"interval"`

	IntervalDuration time.Duration `toml:"-"`
}

type Update struct {
	Enabled       bool     `toml:"enabled"`
	RepoURL       string   `toml:"repo_url"`
	Files         []string `toml:"files"`
	Root          string   `toml:"root"`
	StagingPrefix string   `toml:"staging_prefix"`
	BackupPrefix  string   `toml:"backup_prefix"`
	InitialDelay  string   `toml:"initial_delay"`
	Interval      string   `toml:"interval"`
	Restart       string   `toml:"restart"`
	SystemdSocket string   `toml:"systemd_socket"`

	InitialDelayDuration time.Duration `toml:"-"`
	IntervalDuration     time.Duration `toml:"-"`
}

type Log struct {
	Level   string `toml:"level"`
	File    string `toml:"file"`
	MaxSize int64  `toml:"max_size"`
}

type Clock struct {
	NTPServer string `toml:"ntp_server"`
	MaxSkew   string `toml:"max_skew"`

	MaxSkewDuration time.Duration `toml:"-"`
}

// Default returns the configuration used for anything a file leaves out.
func Default() Config {
	return Config{
		ClientID: DefaultClientID,
		MQTT: MQTT{
			Broker:    "tcp://localhost:1883",
			QoS:       int(marker.QoS),
			KeepAlive: "60s",
		},
		GPIO: GPIO{
			Chip:            "gpiochip0",
			OpenOutput:      19,
			CloseOutput:     20,
			StopOutput:      21,
			GateOpenInput:   16,
			GateClosedInput: 17,
			ObjectInput:     18,
			HeartbeatOutput: -1,
		},
		Control: Control{Interval: "1s"},
		Update: Update{
			Enabled:       true,
			Root:          "/var/lib/gatewatch",
			StagingPrefix: updater.DefaultStagingPrefix,
			BackupPrefix:  updater.DefaultBackupPrefix,
			InitialDelay:  "1m",
			Interval:      "24h",
			Restart:       RestartSystemd,
		},
		Log: Log{
			Level:   logrus.InfoLevel.String(),
			File:    "/var/log/gatewatch/log.txt",
			MaxSize: 200000,
		},
		Clock: Clock{
			NTPServer: "pool.ntp.org",
			MaxSkew:   "2s",
		},
	}
}

// Load reads the file at path over the defaults. A missing file at the
// default path is not an error; a missing file anywhere else is.
func Load(path string) (*Config, error) {
	cfg := Default()
	raw, err := ioutil.ReadFile(path)
	switch {
	case os.IsNotExist(err) && path == DefaultPath:
	case err != nil:
		return nil, errors.Wrap(err, "unable to read config")
	default:
		if err := toml.Unmarshal(raw, &cfg); err != nil {
			return nil, errors.Wrapf(err, "unable to parse %s", path)
		}
	}
	if err := cfg.finish(); err != nil {
		return nil, errors.WithMessagef(err, "invalid config %s", path)
	}
	return &cfg, nil
}

// Parse reads configuration from raw TOML over the defaults.
func Parse(raw []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return nil, errors.Wrap(err, "unable to parse config")
	}
	if err := cfg.finish(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// finish parses durations, normalises the repository and validates.
func (c *Config) finish() error {
	var err error
	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"mqtt.keep_alive", c.MQTT.KeepAlive, &c.MQTT.KeepAliveDuration},
		{"control.interval", c.Control.Interval, &c.Control.IntervalDuration},
		{"update.initial_delay", c.Update.InitialDelay, &c.Update.InitialDelayDuration},
		{"update.interval", c.Update.Interval, &c.Update.IntervalDuration},
		{"clock.max_skew", c.Clock.MaxSkew, &c.Clock.MaxSkewDuration},
	}
	for _, d := range durations {
		*d.dst, err = time.ParseDuration(d.raw)
		if err != nil {
			return errors.Wrapf(err, "%s", d.name)
		}
		if *d.dst < 0 {
			return errors.Errorf("%s must not be negative", d.name)
		}
	}
	if c.Control.IntervalDuration == 0 {
		return errors.New("control.interval must be positive")
	}

	switch {
	case c.ClientID == "":
		return errors.New("client_id must be provided")
	case c.MQTT.Broker == "":
		return errors.New("mqtt.broker must be provided")
	case c.MQTT.QoS < 0 || c.MQTT.QoS > 2:
		return errors.Errorf("mqtt.qos %d out of range", c.MQTT.QoS)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		return errors.Wrap(err, "log.level")
	}
	if err := c.GPIO.validate(); err != nil {
		return err
	}
	return c.Update.validate()
}

func (g GPIO) validate() error {
	lines := map[string]int{
		"open_output":       g.OpenOutput,
		"close_output":      g.CloseOutput,
		"stop_output":       g.StopOutput,
		"gate_open_input":   g.GateOpenInput,
		"gate_closed_input": g.GateClosedInput,
		"object_input":      g.ObjectInput,
	}
	if g.HeartbeatOutput >= 0 {
		lines["heartbeat_output"] = g.HeartbeatOutput
	}
	used := map[int]string{}
	for name, offset := range lines {
		if offset < 0 {
			return errors.Errorf("gpio.%s must not be negative", name)
		}
		if other, dup := used[offset]; dup {
			return errors.Errorf("gpio.%s and gpio.%s share offset %d", name, other, offset)
		}
		used[offset] = name
	}
	return nil
}

func (u *Update) validate() error {
	if !u.Enabled {
		return nil
	}
	if u.RepoURL == "" {
		return errors.New("update.repo_url must be provided when updates are enabled")
	}
	u.RepoURL = httpfetch.RepositoryURL(u.RepoURL)
	parsed, err := url.Parse(u.RepoURL)
	if err != nil {
		return errors.Wrap(err, "update.repo_url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return errors.Errorf("update.repo_url scheme %q not supported", parsed.Scheme)
	}
	if u.Root == "" {
		return errors.New("update.root must be provided")
	}
	if u.StagingPrefix == u.BackupPrefix {
		return errors.New("update.staging_prefix and update.backup_prefix must differ")
	}
	if err := updater.FileSet(u.Files).Validate(u.StagingPrefix, u.BackupPrefix); err != nil {
		return errors.WithMessage(err, "update.files")
	}
	if u.IntervalDuration == 0 {
		return errors.New("update.interval must be positive")
	}
	switch u.Restart {
	case RestartSystemd, RestartExit:
	default:
		return errors.Errorf("update.restart %q must be %q or %q", u.Restart, RestartSystemd, RestartExit)
	}
	return nil
}
