// Package transport provides the message transport the gate agent talks to
// its operators over. The core only depends on Port; reconnection and
// backoff belong to the implementation.
package transport

import (
	"context"

	"github.com/pkg/errors"
)

// ErrNotConnected is returned for operations attempted without a live
// connection.
var ErrNotConnected = errors.New("transport not connected")

// Port is the publish/subscribe capability consumed by the agent.
type Port interface {
	// Connect starts the connection. Events are delivered to the Handler
	// registered when the Port was created.
	Connect(ctx context.Context) error
	// Subscribe subscribes to topic; inbound messages go to the Handler.
	Subscribe(ctx context.Context, topic string, qos byte) error
	// Publish sends payload on topic.
	Publish(ctx context.Context, topic string, payload string, qos byte) error
	// Disconnect closes the connection and stops reconnecting.
	Disconnect()
}
