package cable

import "sync"

// Manager tracks every live connection for cross-connection lookup by
// identity and for health aggregation. Connections register on open and
// deregister on teardown.
type Manager struct {
	mux   sync.RWMutex
	conns map[*Connection]struct{}
}

func NewManager() *Manager {
	return &Manager{conns: make(map[*Connection]struct{})}
}

func (m *Manager) add(c *Connection) {
	m.mux.Lock()
	defer m.mux.Unlock()
	m.conns[c] = struct{}{}
	incr("connections", 1)
}

func (m *Manager) remove(c *Connection) {
	m.mux.Lock()
	defer m.mux.Unlock()
	if _, ok := m.conns[c]; !ok {
		return
	}
	delete(m.conns, c)
	decr("connections", 1)
}

// Count returns the number of live connections.
func (m *Manager) Count() int {
	m.mux.RLock()
	defer m.mux.RUnlock()
	return len(m.conns)
}

// ConnectionsFor returns every connection whose identity has value under
// key.
func (m *Manager) ConnectionsFor(key, value string) []*Connection {
	m.mux.RLock()
	defer m.mux.RUnlock()
	var matched []*Connection
	for c := range m.conns {
		if c.identity[key] == value {
			matched = append(matched, c)
		}
	}
	return matched
}

// Statistics snapshots every live connection's health record.
func (m *Manager) Statistics() []ConnectionStats {
	m.mux.RLock()
	conns := make([]*Connection, 0, len(m.conns))
	for c := range m.conns {
		conns = append(conns, c)
	}
	m.mux.RUnlock()

	stats := make([]ConnectionStats, 0, len(conns))
	for _, c := range conns {
		stats = append(stats, c.Statistics())
	}
	return stats
}
