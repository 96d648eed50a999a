package transport

import (
	"testing"

	"github.com/pkg/errors"
	"gotest.tools/v3/assert"
)

func TestHandlerFuncs(t *testing.T) {
	var (
		connected int
		lost      error
		topic     string
		payload   string
	)
	h := &HandlerFuncs{
		OnConnectFunc:        func() { connected++ },
		OnConnectionLostFunc: func(err error) { lost = err },
		OnMessageFunc: func(tp string, p []byte) {
			topic, payload = tp, string(p)
		},
	}
	h.OnConnect()
	h.OnConnectionLost(errors.New("eof"))
	h.OnMessage("gate/Command/open", []byte("1"))

	assert.Equal(t, connected, 1)
	assert.ErrorContains(t, lost, "eof")
	assert.Equal(t, topic, "gate/Command/open")
	assert.Equal(t, payload, "1")

	// A zero value handler ignores everything.
	var empty HandlerFuncs
	empty.OnConnect()
	empty.OnConnectionLost(nil)
	empty.OnMessage("x", nil)
}

func TestNewMQTTValidates(t *testing.T) {
	_, err := NewMQTT(nil, MQTTConfig{}, &HandlerFuncs{})
	assert.ErrorContains(t, err, "broker")

	_, err = NewMQTT(nil, MQTTConfig{Broker: "tcp://localhost:1883"}, nil)
	assert.ErrorContains(t, err, "handler")
}
