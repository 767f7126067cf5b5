package connection

import (
	"net"
	"testing"
	"time"

	"github.com/smukkama/trace-server/internal/location"
	"github.com/smukkama/trace-server/internal/source"
)

type mockAddr struct{}

func (m *mockAddr) Network() string { return "tcp" }
func (m *mockAddr) String() string  { return "127.0.0.1:0" }

type mockConn struct{}

func (m *mockConn) Read(b []byte) (n int, err error)   { return 0, nil }
func (m *mockConn) Write(b []byte) (n int, err error)  { return len(b), nil }
func (m *mockConn) Close() error                       { return nil }
func (m *mockConn) LocalAddr() net.Addr                { return &mockAddr{} }
func (m *mockConn) RemoteAddr() net.Addr               { return &mockAddr{} }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func TestManager_Register(t *testing.T) {
	m := NewManager(10, source.DefaultPolicy)
	conn := &mockConn{}

	client, err := m.Register("conn1", "trace-a", "pixel-7", conn)
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if client.Throttle == nil || client.Gate == nil {
		t.Fatal("Expected throttle and gate to be initialized")
	}

	if m.Count() != 1 {
		t.Errorf("Expected 1 connection, got %d", m.Count())
	}

	got, exists := m.Get("conn1")
	if !exists {
		t.Fatal("Client not found")
	}
	if got.TraceID != "trace-a" || got.Device != "pixel-7" {
		t.Errorf("Unexpected client: %+v", got)
	}
}

func TestManager_RegisterMaxConnections(t *testing.T) {
	m := NewManager(2, source.DefaultPolicy)
	conn := &mockConn{}

	m.Register("conn1", "trace-a", "pixel-7", conn)
	m.Register("conn2", "trace-b", "pixel-8", conn)

	// Third connection should fail
	_, err := m.Register("conn3", "trace-c", "pixel-9", conn)
	if err != ErrMaxConnectionsReached {
		t.Errorf("Expected ErrMaxConnectionsReached, got %v", err)
	}
}

func TestManager_OneConnectionPerTrace(t *testing.T) {
	m := NewManager(10, source.DefaultPolicy)
	conn := &mockConn{}

	m.Register("conn1", "trace-a", "pixel-7", conn)
	_, err := m.Register("conn2", "trace-a", "pixel-7", conn)
	if err != ErrTraceAlreadyConnected {
		t.Fatalf("Expected ErrTraceAlreadyConnected, got %v", err)
	}

	// Reconnecting after the first connection is gone works
	m.Unregister("conn1")
	if _, err := m.Register("conn2", "trace-a", "pixel-7", conn); err != nil {
		t.Fatalf("Expected reconnect to succeed, got %v", err)
	}
}

func TestManager_Unregister(t *testing.T) {
	m := NewManager(10, source.DefaultPolicy)
	conn := &mockConn{}

	m.Register("conn1", "trace-a", "pixel-7", conn)
	m.Register("conn2", "trace-b", "pixel-8", conn)

	err := m.Unregister("conn1")
	if err != nil {
		t.Fatalf("Unregister failed: %v", err)
	}

	if m.Count() != 1 {
		t.Errorf("Expected 1 connection, got %d", m.Count())
	}
	if _, ok := m.GetByTrace("trace-a"); ok {
		t.Error("Expected trace-a to be released")
	}
	if client, ok := m.GetByTrace("trace-b"); !ok || client.ConnectionID != "conn2" {
		t.Error("Expected trace-b to stay connected")
	}

	if err := m.Unregister("conn1"); err == nil {
		t.Error("Expected error unregistering twice")
	}
}

func TestManager_ClientThrottle(t *testing.T) {
	m := NewManager(10, source.Policy{MinInterval: time.Minute, MinDistance: 1000})
	client, _ := m.Register("conn1", "trace-a", "pixel-7", &mockConn{})

	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	if !client.Throttle.Allow(location.Fix{Latitude: 1, Longitude: 1, CapturedAt: now}) {
		t.Fatal("Expected first fix to pass")
	}
	if client.Throttle.Allow(location.Fix{Latitude: 1, Longitude: 1, CapturedAt: now.Add(time.Second)}) {
		t.Fatal("Expected the manager's policy to apply")
	}
}

func TestManager_UpdateActivity(t *testing.T) {
	m := NewManager(10, source.DefaultPolicy)
	conn := &mockConn{}

	m.Register("conn1", "trace-a", "pixel-7", conn)

	client, _ := m.Get("conn1")
	firstHeard := client.GetLastHeardFrom()

	time.Sleep(10 * time.Millisecond)

	err := m.UpdateActivity("conn1")
	if err != nil {
		t.Fatalf("UpdateActivity failed: %v", err)
	}

	client, _ = m.Get("conn1")
	secondHeard := client.GetLastHeardFrom()

	if !secondHeard.After(firstHeard) {
		t.Error("LastHeardFrom was not updated")
	}
}

func TestManager_GetInactiveConnections(t *testing.T) {
	m := NewManager(10, source.DefaultPolicy)
	conn := &mockConn{}

	m.Register("conn1", "trace-a", "pixel-7", conn)
	m.Register("conn2", "trace-b", "pixel-8", conn)

	// Make conn1 inactive by manually setting its timestamp
	client1, _ := m.Get("conn1")
	client1.mu.Lock()
	client1.LastHeardFrom = time.Now().Add(-5 * time.Minute)
	client1.mu.Unlock()

	inactive := m.GetInactiveConnections(2 * time.Minute)
	if len(inactive) != 1 {
		t.Fatalf("Expected 1 inactive connection, got %d", len(inactive))
	}

	if inactive[0] != "conn1" {
		t.Errorf("Expected conn1 to be inactive, got %s", inactive[0])
	}
}

func TestManager_Stats(t *testing.T) {
	m := NewManager(100, source.DefaultPolicy)
	conn := &mockConn{}

	m.Register("conn1", "trace-a", "pixel-7", conn)
	m.Register("conn2", "trace-b", "pixel-8", conn)
	client, _ := m.Register("conn3", "trace-c", "pixel-9", conn)
	client.Gate.Set(source.StatusDenied)

	stats := m.Stats()
	if stats.TotalConnections != 3 {
		t.Errorf("Expected 3 connections, got %d", stats.TotalConnections)
	}
	if stats.ActiveTraces != 3 {
		t.Errorf("Expected 3 active traces, got %d", stats.ActiveTraces)
	}
	if stats.PausedTraces != 1 {
		t.Errorf("Expected 1 paused trace, got %d", stats.PausedTraces)
	}
	if stats.MaxConnections != 100 {
		t.Errorf("Expected max 100, got %d", stats.MaxConnections)
	}
}
