package marker

import "strings"

type Key = string

const (
	// CommandBranch holds the operator's command topics. The device
	// subscribes to them and echoes its resolved command back on them.
	CommandBranch Key = "Command"
	// StatusBranch holds the edge-triggered sensor topics.
	StatusBranch Key = "Status"
	// InfoKey carries free text liveness information.
	InfoKey Key = "Info"

	// CommandOpenKey requests the gate to open.
	CommandOpenKey Key = "open"
	// CommandCloseKey requests the gate to close.
	CommandCloseKey Key = "close"
	// CommandStopKey requests the gate to stop. Stop always wins.
	CommandStopKey Key = "stop"

	// StatusOpenKey reports the gate-open limit sensor.
	StatusOpenKey Key = "open"
	// StatusClosedKey reports the gate-closed limit sensor.
	StatusClosedKey Key = "close"
	// StatusObjectKey reports the object detection sensor.
	StatusObjectKey Key = "objDTC"
)

// Topics addresses everything the device publishes or subscribes to, rooted
// at the configured client identifier.
type Topics struct {
	root string
}

// NewTopics roots the topic layout at the client identifier cid.
func NewTopics(cid string) Topics {
	return Topics{root: strings.TrimRight(cid, "/")}
}

// Root returns the client identifier the topics are rooted at.
func (t Topics) Root() string {
	return t.root
}

func (t Topics) join(parts ...string) string {
	return t.root + "/" + strings.Join(parts, "/")
}

// Command returns the command topic for key, e.g. CID/Command/open.
func (t Topics) Command(key Key) string {
	return t.join(CommandBranch, key)
}

// Status returns the sensor status topic for key, e.g. CID/Status/objDTC.
func (t Topics) Status(key Key) string {
	return t.join(StatusBranch, key)
}

// Info returns the liveness topic.
func (t Topics) Info() string {
	return t.join(InfoKey)
}

// Commands lists the command topics in their fixed publication order: open,
// close, stop.
func (t Topics) Commands() []string {
	return []string{
		t.Command(CommandOpenKey),
		t.Command(CommandCloseKey),
		t.Command(CommandStopKey),
	}
}

// CommandKey reports which command a topic addresses, if any.
func (t Topics) CommandKey(topic string) (Key, bool) {
	prefix := t.join(CommandBranch) + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	switch key := strings.TrimPrefix(topic, prefix); key {
	case CommandOpenKey, CommandCloseKey, CommandStopKey:
		return key, true
	}
	return "", false
}
