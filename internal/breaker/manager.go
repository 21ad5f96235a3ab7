package breaker

import "sync"

// Operation classes. Each gets its own breaker so a failure storm in one
// dependency cannot false-trip another.
const (
	ClassStock    = "stock"
	ClassPayment  = "payment"
	ClassOrder    = "order"
	ClassDatabase = "database"
)

// Manager owns all breakers for a process. It is constructed once at startup
// and passed to the components that need it.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

func NewManager() *Manager {
	return &Manager{breakers: make(map[string]*Breaker)}
}

func (m *Manager) Register(name string, cfg Config) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := New(name, cfg)
	m.breakers[name] = b
	return b
}

// Get returns the named breaker, or nil if it was never registered. A nil
// breaker executes operations unguarded, so callers need no nil check.
func (m *Manager) Get(name string) *Breaker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.breakers[name]
}

func (m *Manager) Statuses() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Status()
	}
	return out
}
