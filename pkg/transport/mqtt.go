package transport

import (
	"context"
	"time"

	"github.com/MartiMan79/gatewatch/pkg/logging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	disconnectQuiesce  = 250 // milliseconds
	defaultKeepAlive   = 60 * time.Second
	maxReconnectWait   = 2 * time.Minute
	defaultWaitTimeout = 30 * time.Second
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	// WillTopic, when set, receives "0" from the broker if the device drops
	// off without disconnecting.
	WillTopic string
}

// MQTT implements Port with a clean session: the broker forgets every
// subscription when the connection drops and nothing published to the
// command topics during an outage is replayed.
type MQTT struct {
	log     logging.Logger
	client  mqtt.Client
	handler Handler
}

var _ Port = (*MQTT)(nil)

func NewMQTT(log logging.Logger, cfg MQTTConfig, handler Handler) (*MQTT, error) {
	if cfg.Broker == "" {
		return nil, errors.New("broker must be provided")
	}
	if handler == nil {
		return nil, errors.New("handler must be provided")
	}
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}

	m := &MQTT{log: log, handler: handler}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetKeepAlive(keepAlive)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetMaxReconnectInterval(maxReconnectWait)
	if cfg.WillTopic != "" {
		opts.SetWill(cfg.WillTopic, "0", 1, false)
	}
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		if logging.Debuggable {
			m.log.WithFields(logrus.Fields{
				"topic":   msg.Topic(),
				"payload": string(msg.Payload()),
			}).Debug("inbound message")
		}
		m.handler.OnMessage(msg.Topic(), msg.Payload())
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		m.log.WithField("broker", cfg.Broker).Info("connected")
		m.handler.OnConnect()
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		m.log.WithError(err).Warn("connection lost")
		m.handler.OnConnectionLost(err)
	})
	opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		m.log.Debug("reconnecting")
	})

	m.client = mqtt.NewClient(opts)
	return m, nil
}

// Connect starts connecting in the background and returns immediately. With
// connect-retry enabled the client keeps trying until it succeeds or
// Disconnect is called; progress is reported through the Handler.
func (m *MQTT) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	token := m.client.Connect()
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			m.log.WithError(err).Error("connection attempts abandoned")
		}
	}()
	return nil
}

func (m *MQTT) Subscribe(ctx context.Context, topic string, qos byte) error {
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	// A nil callback routes messages to the default publish handler.
	if err := wait(ctx, m.client.Subscribe(topic, qos, nil)); err != nil {
		return errors.Wrapf(err, "unable to subscribe to %s", topic)
	}
	return nil
}

func (m *MQTT) Publish(ctx context.Context, topic string, payload string, qos byte) error {
	if !m.client.IsConnectionOpen() {
		return ErrNotConnected
	}
	if err := wait(ctx, m.client.Publish(topic, qos, false, payload)); err != nil {
		return errors.Wrapf(err, "unable to publish to %s", topic)
	}
	return nil
}

func (m *MQTT) Disconnect() {
	m.client.Disconnect(disconnectQuiesce)
}

// wait blocks on the token until it completes, the context ends or the
// default timeout passes.
func wait(ctx context.Context, token mqtt.Token) error {
	timer := time.NewTimer(defaultWaitTimeout)
	defer timer.Stop()
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return errors.New("timed out waiting for broker")
	}
}
