package connection

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/smukkama/trace-server/internal/source"
)

// ClientInfo holds information about a connected device
type ClientInfo struct {
	ConnectionID  string
	TraceID       string
	Device        string
	ConnectedAt   time.Time
	LastHeardFrom time.Time
	Conn          net.Conn

	// Throttle applies the update-interval policy to this device's fixes
	Throttle *source.Throttle
	// Gate tracks the device's location permission
	Gate *source.Gate

	mu sync.RWMutex
}

// UpdateLastHeardFrom updates the last activity timestamp
func (c *ClientInfo) UpdateLastHeardFrom() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.LastHeardFrom = time.Now()
}

// GetLastHeardFrom returns the last activity timestamp
func (c *ClientInfo) GetLastHeardFrom() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.LastHeardFrom
}

// Manager manages all active device connections. A trace is fed by at most
// one connection at a time.
type Manager struct {
	clients  map[string]*ClientInfo // key: connection_id
	byTrace  map[string]string      // key: trace_id, value: connection_id
	mu       sync.RWMutex
	maxConns int
	policy   source.Policy
}

// NewManager creates a new connection manager. Every registered client gets
// a throttle built from policy.
func NewManager(maxConnections int, policy source.Policy) *Manager {
	return &Manager{
		clients:  make(map[string]*ClientInfo),
		byTrace:  make(map[string]string),
		maxConns: maxConnections,
		policy:   policy,
	}
}

// Register adds a new device connection feeding traceID
func (m *Manager) Register(connectionID, traceID, device string, conn net.Conn) (*ClientInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check max connections
	if len(m.clients) >= m.maxConns {
		return nil, ErrMaxConnectionsReached
	}

	// Check if connection ID already exists
	if _, exists := m.clients[connectionID]; exists {
		return nil, fmt.Errorf("connection ID %s already registered", connectionID)
	}

	if _, exists := m.byTrace[traceID]; exists {
		return nil, ErrTraceAlreadyConnected
	}

	now := time.Now()
	clientInfo := &ClientInfo{
		ConnectionID:  connectionID,
		TraceID:       traceID,
		Device:        device,
		ConnectedAt:   now,
		LastHeardFrom: now,
		Conn:          conn,
		Throttle:      source.NewThrottle(m.policy),
		Gate:          source.NewGate(),
	}

	m.clients[connectionID] = clientInfo
	m.byTrace[traceID] = connectionID

	return clientInfo, nil
}

// Unregister removes a device connection
func (m *Manager) Unregister(connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	client, exists := m.clients[connectionID]
	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	if m.byTrace[client.TraceID] == connectionID {
		delete(m.byTrace, client.TraceID)
	}
	delete(m.clients, connectionID)

	return nil
}

// Get retrieves client information by connection ID
func (m *Manager) Get(connectionID string) (*ClientInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[connectionID]
	return client, exists
}

// GetByTrace returns the connection currently feeding a trace
func (m *Manager) GetByTrace(traceID string) (*ClientInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connID, ok := m.byTrace[traceID]
	if !ok {
		return nil, false
	}
	return m.clients[connID], true
}

// UpdateActivity updates the last heard from timestamp for a connection
func (m *Manager) UpdateActivity(connectionID string) error {
	m.mu.RLock()
	client, exists := m.clients[connectionID]
	m.mu.RUnlock()

	if !exists {
		return fmt.Errorf("connection ID %s not found", connectionID)
	}

	client.UpdateLastHeardFrom()
	return nil
}

// GetInactiveConnections returns connection IDs that haven't been heard from in the given duration
func (m *Manager) GetInactiveConnections(timeout time.Duration) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	var inactive []string

	for connID, client := range m.clients {
		if now.Sub(client.GetLastHeardFrom()) > timeout {
			inactive = append(inactive, connID)
		}
	}

	return inactive
}

// Count returns the total number of active connections
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// GetAllConnections returns all connection IDs
func (m *Manager) GetAllConnections() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	connIDs := make([]string, 0, len(m.clients))
	for connID := range m.clients {
		connIDs = append(connIDs, connID)
	}
	return connIDs
}

// Stats returns statistics about the connection manager
func (m *Manager) Stats() ManagerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paused := 0
	for _, client := range m.clients {
		if client.Gate.Status() == source.StatusDenied {
			paused++
		}
	}

	return ManagerStats{
		TotalConnections: len(m.clients),
		ActiveTraces:     len(m.byTrace),
		PausedTraces:     paused,
		MaxConnections:   m.maxConns,
	}
}

// ManagerStats contains statistics about the connection manager
type ManagerStats struct {
	TotalConnections int
	ActiveTraces     int
	PausedTraces     int
	MaxConnections   int
}

var (
	ErrMaxConnectionsReached = &ConnectionError{"maximum connections reached"}
	ErrTraceAlreadyConnected = &ConnectionError{"trace already has a connected device"}
)

// ConnectionError represents a connection error
type ConnectionError struct {
	msg string
}

func (e *ConnectionError) Error() string {
	return e.msg
}
