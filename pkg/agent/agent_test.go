package agent

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/MartiMan79/gatewatch/pkg/gate"
	"github.com/MartiMan79/gatewatch/pkg/gpio"
	"github.com/MartiMan79/gatewatch/pkg/internal/porttest"
	"github.com/MartiMan79/gatewatch/pkg/internal/testoutput"
	"github.com/MartiMan79/gatewatch/pkg/intent"
	"github.com/MartiMan79/gatewatch/pkg/marker"
	"github.com/MartiMan79/gatewatch/pkg/session"
	"github.com/MartiMan79/gatewatch/pkg/status"
	"github.com/MartiMan79/gatewatch/pkg/transport"
	"github.com/MartiMan79/gatewatch/pkg/updater"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/pkg/errors"

	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
	"gotest.tools/v3/poll"
)

var topics = marker.NewTopics("gate")

type testHooks struct {
	port *porttest.Port

	open, close, stop            *gpio.MemPin
	gateOpen, gateClosed, object *gpio.MemPin
	heartbeat                    *gpio.MemPin

	mu       sync.Mutex
	notified []string
}

func (h *testHooks) notify(state string) {
	h.mu.Lock()
	h.notified = append(h.notified, state)
	h.mu.Unlock()
}

func (h *testHooks) states() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.notified...)
}

func (h *testHooks) levels(t *testing.T) [3]bool {
	var out [3]bool
	for i, pin := range []*gpio.MemPin{h.open, h.close, h.stop} {
		v, err := pin.Get()
		assert.NilError(t, err)
		out[i] = v
	}
	return out
}

func testAgent(t *testing.T, up Updater) (*Agent, *testHooks) {
	hooks := &testHooks{
		port:       &porttest.Port{},
		open:       &gpio.MemPin{},
		close:      &gpio.MemPin{},
		stop:       &gpio.MemPin{},
		gateOpen:   &gpio.MemPin{},
		gateClosed: &gpio.MemPin{},
		object:     &gpio.MemPin{},
		heartbeat:  &gpio.MemPin{},
	}
	cfg := Config{
		Topics:         topics,
		QoS:            marker.QoS,
		Interval:       10 * time.Millisecond,
		UpdateDelay:    10 * time.Millisecond,
		UpdateInterval: time.Hour,
	}
	hw := Hardware{
		Lines:     gate.Lines{Open: hooks.open, Close: hooks.close, Stop: hooks.stop},
		Sensors:   status.Sensors{GateOpen: hooks.gateOpen, GateClosed: hooks.gateClosed, Object: hooks.object},
		Heartbeat: hooks.heartbeat,
	}
	dial := func(h transport.Handler) (transport.Port, error) {
		hooks.port.Handler = h
		return hooks.port, nil
	}
	a, err := New(testoutput.Logger(t, "agent"), cfg, hw, dial, up)
	assert.NilError(t, err)
	a.notify = hooks.notify
	return a, hooks
}

// activate connects the fake transport and brings the session up, dropping
// the resulting Info publication.
func activate(t *testing.T, a *Agent, hooks *testHooks) {
	hooks.port.Handler.OnConnect()
	assert.Assert(t, a.coordinator.Ensure(context.Background()))
	assert.Equal(t, a.coordinator.State(), session.Active)
	hooks.port.Take()
}

func publications(pairs ...string) []porttest.Publication {
	var out []porttest.Publication
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, porttest.Publication{Topic: pairs[i], Payload: pairs[i+1]})
	}
	return out
}

func TestNewValidates(t *testing.T) {
	log := testoutput.Logger(t, "agent")
	pins := Hardware{
		Lines:   gate.Lines{Open: &gpio.MemPin{}, Close: &gpio.MemPin{}, Stop: &gpio.MemPin{}},
		Sensors: status.Sensors{GateOpen: &gpio.MemPin{}, GateClosed: &gpio.MemPin{}, Object: &gpio.MemPin{}},
	}
	dial := func(h transport.Handler) (transport.Port, error) { return &porttest.Port{Handler: h}, nil }

	_, err := New(log, Config{}, pins, dial, nil)
	assert.ErrorContains(t, err, "client id")

	_, err = New(log, Config{Topics: topics}, pins, nil, nil)
	assert.ErrorContains(t, err, "dialer")

	missing := pins
	missing.Sensors.Object = nil
	_, err = New(log, Config{Topics: topics}, missing, dial, nil)
	assert.ErrorContains(t, err, "sensor")

	_, err = New(log, Config{Topics: topics}, pins, func(transport.Handler) (transport.Port, error) {
		return nil, errors.New("bad broker")
	}, nil)
	assert.ErrorContains(t, err, "bad broker")
}

func TestCycleWaitsForSession(t *testing.T) {
	a, hooks := testAgent(t, nil)
	hooks.port.Deliver(topics.Command(marker.CommandOpenKey), "1")

	// disconnected
	a.cycle(context.Background())
	assert.Equal(t, len(hooks.port.Take()), 0)
	assert.Equal(t, len(hooks.open.History()), 0)

	// connected, but subscriptions fail
	hooks.port.Handler.OnConnect()
	hooks.port.SubscribeFn = func(string) error { return transport.ErrNotConnected }
	a.cycle(context.Background())
	assert.Equal(t, a.coordinator.State(), session.Connecting)
	assert.Equal(t, len(hooks.port.Take()), 0)
	assert.Equal(t, len(hooks.open.History()), 0)

	hooks.port.SubscribeFn = nil
	a.cycle(context.Background())
	assert.Equal(t, a.coordinator.State(), session.Active)
	assert.DeepEqual(t, hooks.port.Subscriptions, topics.Commands())
	assert.DeepEqual(t, hooks.port.On(topics.Info()), []string{marker.InfoConnected})
	assert.Equal(t, hooks.levels(t), [3]bool{true, false, false})

	// a dropped connection stops the loop again
	hooks.port.Handler.OnConnectionLost(errors.New("eof"))
	hooks.port.Take()
	a.cycle(context.Background())
	assert.Equal(t, len(hooks.port.Take()), 0)
}

func TestScenarioOpen(t *testing.T) {
	a, hooks := testAgent(t, nil)
	activate(t, a, hooks)

	hooks.port.Deliver(topics.Command(marker.CommandOpenKey), "1")
	hooks.port.Deliver(topics.Command(marker.CommandCloseKey), "0")
	hooks.port.Deliver(topics.Command(marker.CommandStopKey), "0")
	a.cycle(context.Background())

	assert.Equal(t, hooks.levels(t), [3]bool{true, false, false})
	assert.Equal(t, a.lastAction, marker.ActionOpen)
	assert.DeepEqual(t, hooks.port.Take(), publications(
		"gate/Command/open", "1",
		"gate/Command/close", "0",
		"gate/Command/stop", "0",
		"gate/Status/open", "0",
		"gate/Status/close", "0",
		"gate/Status/objDTC", "0",
	))
}

func TestScenarioConflictIdles(t *testing.T) {
	a, hooks := testAgent(t, nil)
	activate(t, a, hooks)

	hooks.port.Deliver(topics.Command(marker.CommandOpenKey), "1")
	hooks.port.Deliver(topics.Command(marker.CommandCloseKey), "1")
	hooks.port.Deliver(topics.Command(marker.CommandStopKey), "0")
	a.cycle(context.Background())

	assert.Equal(t, hooks.levels(t), [3]bool{false, false, false})
	assert.Equal(t, a.lastAction, marker.ActionIdle)
	for _, topic := range topics.Commands() {
		assert.DeepEqual(t, hooks.port.On(topic), []string{"0"})
	}
}

func TestScenarioSensorEdge(t *testing.T) {
	a, hooks := testAgent(t, nil)
	activate(t, a, hooks)

	// first sample publishes every channel once
	a.cycle(context.Background())
	hooks.port.Take()

	statusOpen := topics.Status(marker.StatusOpenKey)
	for _, level := range []bool{false, true, true} {
		hooks.gateOpen.Drive(level)
		a.cycle(context.Background())
	}
	assert.DeepEqual(t, hooks.port.On(statusOpen), []string{"1"})
	assert.Equal(t, len(hooks.port.On(topics.Status(marker.StatusClosedKey))), 0)
	assert.Equal(t, len(hooks.port.On(topics.Status(marker.StatusObjectKey))), 0)
}

func TestEchoEveryCycle(t *testing.T) {
	a, hooks := testAgent(t, nil)
	activate(t, a, hooks)
	hooks.port.Deliver(topics.Command(marker.CommandStopKey), "1")
	hooks.port.Deliver(topics.Command(marker.CommandOpenKey), "1")
	for i := 0; i < 3; i++ {
		a.cycle(context.Background())
	}
	assert.DeepEqual(t, hooks.port.On(topics.Command(marker.CommandStopKey)), []string{"1", "1", "1"})
	assert.DeepEqual(t, hooks.port.On(topics.Command(marker.CommandOpenKey)), []string{"0", "0", "0"})
	assert.Equal(t, hooks.levels(t), [3]bool{false, false, true})
}

func TestEchoLoopbackConverges(t *testing.T) {
	a, hooks := testAgent(t, nil)
	activate(t, a, hooks)
	hooks.port.Deliver(topics.Command(marker.CommandOpenKey), "1")
	hooks.port.Deliver(topics.Command(marker.CommandCloseKey), "1")
	a.cycle(context.Background())

	// the broker hands the echo back to the device
	for _, pub := range hooks.port.Take() {
		hooks.port.Deliver(pub.Topic, pub.Payload)
	}
	assert.Equal(t, a.mailbox.Snapshot(), intent.Intent{})
}

func TestMalformedCommandIgnored(t *testing.T) {
	a, hooks := testAgent(t, nil)
	hooks.port.Deliver(topics.Command(marker.CommandOpenKey), "1")
	hooks.port.Deliver(topics.Command(marker.CommandOpenKey), "yes")
	hooks.port.Deliver(topics.Command(marker.CommandOpenKey), "")
	hooks.port.Deliver("gate/Command/reboot", "1")
	hooks.port.Deliver("other/Command/stop", "1")
	assert.Equal(t, a.mailbox.Snapshot(), intent.Intent{Open: true})

	hooks.port.Deliver(topics.Command(marker.CommandOpenKey), " 0\n")
	assert.Equal(t, a.mailbox.Snapshot(), intent.Intent{})
}

func TestFailedStatusPublishRetries(t *testing.T) {
	a, hooks := testAgent(t, nil)
	activate(t, a, hooks)
	statusObject := topics.Status(marker.StatusObjectKey)

	hooks.object.Drive(true)
	hooks.port.PublishFn = func(topic, _ string) error {
		if topic == statusObject {
			return transport.ErrNotConnected
		}
		return nil
	}
	a.cycle(context.Background())
	assert.Equal(t, len(hooks.port.On(statusObject)), 0)

	hooks.port.PublishFn = nil
	a.cycle(context.Background())
	a.cycle(context.Background())
	assert.DeepEqual(t, hooks.port.On(statusObject), []string{"1"})
}

func TestOutputFailureIdles(t *testing.T) {
	a, hooks := testAgent(t, nil)
	activate(t, a, hooks)
	hooks.port.Deliver(topics.Command(marker.CommandCloseKey), "1")
	hooks.close.Fail(errors.New("line busy"))

	a.cycle(context.Background())
	assert.Equal(t, a.lastAction, marker.ActionIdle)
	for _, pin := range []*gpio.MemPin{hooks.open, hooks.stop} {
		high, err := pin.Get()
		assert.NilError(t, err)
		assert.Check(t, !high)
	}
	// the operator still sees what was asked for
	assert.DeepEqual(t, hooks.port.On(topics.Command(marker.CommandCloseKey)), []string{"1"})

	hooks.close.Fail(nil)
	a.cycle(context.Background())
	assert.Equal(t, a.lastAction, marker.ActionClose)
	assert.Equal(t, hooks.levels(t), [3]bool{false, true, false})
}

type testUpdater struct {
	mu   sync.Mutex
	runs int
	err  error
}

func (u *testUpdater) Run(context.Context) (updater.Result, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.runs++
	return updater.Result{From: 1, To: 1}, u.err
}

func (u *testUpdater) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.runs
}

func TestRun(t *testing.T) {
	up := &testUpdater{err: updater.ErrManifestUnavailable}
	a, hooks := testAgent(t, up)
	hooks.port.Handler.OnConnect()
	hooks.port.Deliver(topics.Command(marker.CommandOpenKey), "1")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	poll.WaitOn(t, func(poll.LogT) poll.Result {
		if len(hooks.port.On(topics.Command(marker.CommandOpenKey))) == 0 || up.count() == 0 {
			return poll.Continue("waiting for a cycle and an update check")
		}
		return poll.Success()
	}, poll.WithTimeout(5*time.Second), poll.WithDelay(5*time.Millisecond))

	cancel()
	select {
	case err := <-done:
		assert.NilError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not stop")
	}

	assert.Equal(t, hooks.port.Connects, 1)
	assert.Equal(t, up.count(), 1)
	assert.Equal(t, hooks.levels(t), [3]bool{false, false, false})
	assert.Check(t, is.Contains(hooks.open.History(), true))

	states := hooks.states()
	assert.Equal(t, states[len(states)-1], daemon.SdNotifyStopping)
	ready := false
	for _, s := range states {
		ready = ready || s == daemon.SdNotifyReady
	}
	assert.Check(t, ready)

	beats := hooks.heartbeat.History()
	assert.Assert(t, len(beats) > 0)
	assert.Equal(t, beats[len(beats)-1], false)
}
