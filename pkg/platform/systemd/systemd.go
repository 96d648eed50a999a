// Package systemd restarts the device through the host's systemd.
package systemd

import (
	"context"
	"os"
	"strconv"

	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/MartiMan79/gatewatch/pkg/platform"
	sd "github.com/coreos/go-systemd/v22/dbus"
	dbus "github.com/godbus/dbus/v5"
	"github.com/pkg/errors"
)

const (
	// DefaultSocket is systemd's private bus socket.
	DefaultSocket = "/run/systemd/private"

	rebootTarget = "reboot.target"
	// replace-irreversibly keeps a queued reboot from being cancelled by
	// later jobs.
	rebootMode = "replace-irreversibly"
)

// Restarter reboots the device by starting reboot.target.
type Restarter struct {
	log    logging.Logger
	socket string
}

var _ platform.Restarter = (*Restarter)(nil)

func New(log logging.Logger, socket string) *Restarter {
	if socket == "" {
		socket = DefaultSocket
	}
	return &Restarter{log: log, socket: socket}
}

// Restart queues the reboot job and waits for systemd to accept it.
func (r *Restarter) Restart(ctx context.Context) error {
	if err := r.runEnvironment(); err != nil {
		return err
	}
	conn, err := r.connect(ctx)
	if err != nil {
		return errors.Wrap(err, "unable to connect to systemd")
	}
	defer conn.Close()

	r.log.WithField("unit", rebootTarget).Warn("rebooting device")
	done := make(chan string, 1)
	if _, err := conn.StartUnitContext(ctx, rebootTarget, rebootMode, done); err != nil {
		return errors.Wrapf(err, "unable to start %s", rebootTarget)
	}
	select {
	case result := <-done:
		if result != "done" {
			return errors.Errorf("%s job finished with %q", rebootTarget, result)
		}
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

func (r *Restarter) runEnvironment() error {
	stat, err := os.Stat(r.socket)
	if err != nil {
		return errors.Wrapf(err, "requires systemd socket at %s", r.socket)
	}
	if stat.Mode()&os.ModeSocket != os.ModeSocket {
		return errors.Errorf("%s is not a unix socket", r.socket)
	}
	return nil
}

func (r *Restarter) connect(ctx context.Context) (*sd.Conn, error) {
	dialer := func() (*dbus.Conn, error) {
		conn, err := dbus.Dial("unix:path="+r.socket, dbus.WithContext(ctx))
		if err != nil {
			return nil, errors.Wrap(err, "unable to connect to systemd socket")
		}
		// Authenticate with the user's authority.
		methods := []dbus.Auth{dbus.AuthExternal(strconv.Itoa(os.Getuid()))}
		if err := conn.Auth(methods); err != nil {
			conn.Close()
			return nil, errors.Wrap(err, "unable to authenticate with systemd")
		}
		return conn, nil
	}
	return sd.NewConnection(dialer)
}
