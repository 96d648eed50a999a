package gpio

import "sync"

// MemPin is an in-memory line. It backs simulated runs on hosts without a
// GPIO chip and stands in for hardware in tests.
type MemPin struct {
	mu      sync.Mutex
	high    bool
	history []bool
	err     error
}

var (
	_ Output = (*MemPin)(nil)
	_ Input  = (*MemPin)(nil)
)

func (p *MemPin) Set(high bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.high = high
	p.history = append(p.history, high)
	return nil
}

func (p *MemPin) Get() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return false, p.err
	}
	return p.high, nil
}

// Drive sets the level seen by readers, as an external sensor would.
func (p *MemPin) Drive(high bool) {
	p.mu.Lock()
	p.high = high
	p.mu.Unlock()
}

// Fail makes every following Set and Get return err; nil clears it.
func (p *MemPin) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// History returns every level written with Set, oldest first.
func (p *MemPin) History() []bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]bool(nil), p.history...)
}
