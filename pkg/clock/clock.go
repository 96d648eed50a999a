// Package clock checks the local clock against an NTP server. The log file
// and update runs are timestamped, so a device that booted without network
// time should say so.
package clock

import (
	"context"
	"time"

	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/beevik/ntp"
	"github.com/pkg/errors"
)

const (
	DefaultServer  = "pool.ntp.org"
	DefaultMaxSkew = 2 * time.Second

	queryTimeout = 5 * time.Second
)

// Phase classifies the outcome of a check.
type Phase uint8

const (
	Unchecked Phase = iota
	Synced
	Skewed
	Unreachable
)

func (p Phase) String() string {
	switch p {
	case Unchecked:
		return "unchecked"
	case Synced:
		return "synced"
	case Skewed:
		return "skewed"
	case Unreachable:
		return "unreachable"
	}
	return "unknown"
}

// Status is the result of a check.
type Status struct {
	Phase  Phase
	Offset time.Duration
}

type Checker struct {
	log     logging.Logger
	server  string
	maxSkew time.Duration

	// query is replaced in tests.
	query func(server string) (time.Duration, error)
}

func NewChecker(log logging.Logger, server string, maxSkew time.Duration) *Checker {
	if server == "" {
		server = DefaultServer
	}
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Checker{
		log:     log,
		server:  server,
		maxSkew: maxSkew,
		query:   queryOffset,
	}
}

func queryOffset(server string) (time.Duration, error) {
	resp, err := ntp.QueryWithOptions(server, ntp.QueryOptions{Timeout: queryTimeout})
	if err != nil {
		return 0, err
	}
	if err := resp.Validate(); err != nil {
		return 0, err
	}
	return resp.ClockOffset, nil
}

// Check queries the server once and logs the result. A skewed clock is only
// reported; the system's time service owns correcting it.
func (c *Checker) Check(ctx context.Context) (Status, error) {
	if err := ctx.Err(); err != nil {
		return Status{Phase: Unchecked}, err
	}
	log := c.log.WithField("server", c.server)
	offset, err := c.query(c.server)
	if err != nil {
		log.WithError(err).Warn("unable to query time server")
		return Status{Phase: Unreachable}, errors.Wrapf(err, "query %s", c.server)
	}

	st := Status{Phase: Synced, Offset: offset}
	if offset.Abs() > c.maxSkew {
		st.Phase = Skewed
		log.WithField("offset", offset.String()).Warn("local clock is off, timestamps may be wrong")
	} else {
		log.WithField("offset", offset.String()).Debug("local clock in sync")
	}
	return st, nil
}
