// Package porttest provides an in-memory transport.Port for tests.
package porttest

import (
	"context"
	"sync"

	"github.com/MartiMan79/gatewatch/pkg/transport"
)

// Publication is a recorded Publish call.
type Publication struct {
	Topic   string
	Payload string
}

// Port records every call and can be told to fail.
type Port struct {
	mu            sync.Mutex
	Handler       transport.Handler
	Connects      int
	Subscriptions []string
	Published     []Publication

	// SubscribeFn and PublishFn, when set, decide the result of a call
	// before it is recorded. A non-nil error means nothing is recorded.
	SubscribeFn func(topic string) error
	PublishFn   func(topic, payload string) error
}

var _ transport.Port = (*Port)(nil)

func (p *Port) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.Connects++
	p.mu.Unlock()
	return nil
}

func (p *Port) Subscribe(ctx context.Context, topic string, qos byte) error {
	if p.SubscribeFn != nil {
		if err := p.SubscribeFn(topic); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.Subscriptions = append(p.Subscriptions, topic)
	p.mu.Unlock()
	return nil
}

func (p *Port) Publish(ctx context.Context, topic string, payload string, qos byte) error {
	if p.PublishFn != nil {
		if err := p.PublishFn(topic, payload); err != nil {
			return err
		}
	}
	p.mu.Lock()
	p.Published = append(p.Published, Publication{topic, payload})
	p.mu.Unlock()
	return nil
}

func (p *Port) Disconnect() {}

// Deliver simulates an inbound message.
func (p *Port) Deliver(topic, payload string) {
	p.Handler.OnMessage(topic, []byte(payload))
}

// Take returns and clears the recorded publications.
func (p *Port) Take() []Publication {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.Published
	p.Published = nil
	return out
}

// On returns the payloads recorded for topic, without clearing.
func (p *Port) On(topic string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []string
	for _, pub := range p.Published {
		if pub.Topic == topic {
			out = append(out, pub.Payload)
		}
	}
	return out
}
