// Package session keeps the device's transport session usable. The broker
// session is clean, so every reconnect starts with no subscriptions; the
// Coordinator re-establishes them before the control loop may run again.
package session

import (
	"context"
	"sync"

	"github.com/MartiMan79/gatewatch/pkg/logging"
	"github.com/MartiMan79/gatewatch/pkg/marker"
	"github.com/MartiMan79/gatewatch/pkg/transport"
	"github.com/pkg/errors"
)

// State is the session's position in its lifecycle.
type State int

const (
	// Disconnected has no transport connection.
	Disconnected State = iota
	// Connecting has a transport connection and pending subscriptions.
	Connecting
	// Subscribed has every command subscription in place.
	Subscribed
	// Active lets the control loop run.
	Active
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Active:
		return "active"
	}
	return "unknown"
}

// Coordinator tracks the session state. Transport events may arrive on any
// goroutine; subscribing only happens in Ensure, on the caller's goroutine.
type Coordinator struct {
	log    logging.Logger
	port   transport.Port
	topics marker.Topics
	qos    byte

	mu    sync.Mutex
	state State
	// generation changes on every transport event, invalidating an Ensure
	// pass that started before it.
	generation uint64
}

func NewCoordinator(log logging.Logger, port transport.Port, topics marker.Topics, qos byte) *Coordinator {
	return &Coordinator{
		log:    log,
		port:   port,
		topics: topics,
		qos:    qos,
		state:  Disconnected,
	}
}

// State returns the current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected records a (re)connection: all prior subscriptions are gone.
func (c *Coordinator) Connected() {
	c.transition(Connecting)
}

// Lost records a dropped connection.
func (c *Coordinator) Lost() {
	c.transition(Disconnected)
}

func (c *Coordinator) transition(to State) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.generation++
	c.mu.Unlock()
	if from != to {
		c.log.WithField("from", from.String()).WithField("to", to.String()).Info("session state changed")
	}
}

// Ensure brings the session to Active if it can and reports whether the
// control loop may run a cycle. A failed subscription leaves the session
// Connecting; the next call tries again.
func (c *Coordinator) Ensure(ctx context.Context) bool {
	c.mu.Lock()
	state, gen := c.state, c.generation
	c.mu.Unlock()

	switch state {
	case Active:
		return true
	case Disconnected:
		return false
	}

	if state == Connecting {
		if err := c.subscribe(ctx); err != nil {
			c.log.WithError(err).Warn("unable to establish command subscriptions")
			return false
		}
		if !c.advance(gen, Connecting, Subscribed) {
			return false
		}
	}

	// Subscribed: announce ourselves, then let the loop run.
	if err := c.port.Publish(ctx, c.topics.Info(), marker.InfoConnected, c.qos); err != nil {
		c.log.WithError(err).Warn("unable to publish connection info")
	}
	return c.advance(gen, Subscribed, Active)
}

func (c *Coordinator) subscribe(ctx context.Context) error {
	for _, topic := range c.topics.Commands() {
		if err := c.port.Subscribe(ctx, topic, c.qos); err != nil {
			return errors.WithMessage(err, "subscription failed")
		}
		c.log.WithField("topic", topic).Debug("subscribed")
	}
	return nil
}

// advance moves from one state to the next unless a transport event
// happened since gen was read.
func (c *Coordinator) advance(gen uint64, from, to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen || c.state != from {
		c.log.Debug("session changed while establishing, starting over")
		return false
	}
	c.state = to
	c.log.WithField("from", from.String()).WithField("to", to.String()).Info("session state changed")
	return true
}
