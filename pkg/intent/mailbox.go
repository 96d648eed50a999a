package intent

import (
	"sync"

	"github.com/MartiMan79/gatewatch/pkg/marker"
)

// Mailbox is the single-slot handoff between the transport's message handler
// and the control loop. The handler overwrites individual bits as messages
// arrive; the loop takes one consistent copy per cycle. A message arriving
// mid-cycle lands in the next cycle's snapshot, never half-way through a
// resolution.
type Mailbox struct {
	mu      sync.Mutex
	current Intent
}

func NewMailbox() *Mailbox {
	return &Mailbox{}
}

// Post records a single command bit.
func (m *Mailbox) Post(key marker.Key, v bool) {
	m.mu.Lock()
	m.current = m.current.With(key, v)
	m.mu.Unlock()
}

// Snapshot copies all three bits at once.
func (m *Mailbox) Snapshot() Intent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}
