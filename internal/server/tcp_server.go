package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/smukkama/trace-server/internal/connection"
	"github.com/smukkama/trace-server/internal/location"
	"github.com/smukkama/trace-server/internal/protocol"
	"github.com/smukkama/trace-server/internal/queue"
	"github.com/smukkama/trace-server/internal/source"
	"github.com/smukkama/trace-server/internal/timer"
	"github.com/smukkama/trace-server/pkg/config"
)

// FixPublisher forwards encoded fix events, keyed by trace id
type FixPublisher interface {
	Publish(ctx context.Context, key string, value []byte) error
}

// TCPServer accepts device connections and forwards their fixes
type TCPServer struct {
	config      *config.TCPServerConfig
	connManager *connection.Manager
	scheduler   *timer.Scheduler
	publisher   FixPublisher
	listener    net.Listener

	// Partitions is the fix topic's partition count, shown when a device identifies
	Partitions int

	wg          sync.WaitGroup
	stopCh      chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewTCPServer creates a new TCP server
func NewTCPServer(cfg *config.TCPServerConfig, connManager *connection.Manager, scheduler *timer.Scheduler, publisher FixPublisher) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		config:      cfg,
		connManager: connManager,
		scheduler:   scheduler,
		publisher:   publisher,
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the TCP server
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}

	s.listener = listener
	fmt.Printf("TCP server listening on %s\n", listener.Addr())

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Addr returns the listener address once started
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the TCP server gracefully
func (s *TCPServer) Stop() {
	close(s.stopCh)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	// Unblock connection readers
	for _, connID := range s.connManager.GetAllConnections() {
		if client, ok := s.connManager.Get(connID); ok {
			client.Conn.Close()
		}
	}

	s.wg.Wait()
	fmt.Println("TCP server stopped")
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				fmt.Printf("Failed to accept connection: %v\n", err)
				continue
			}
		}

		// Check max connections
		if s.connManager.Count() >= s.config.MaxConnections {
			fmt.Println("Maximum connections reached, rejecting connection")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	connectionID := uuid.New().String()
	fmt.Printf("New connection: %s from %s\n", connectionID, conn.RemoteAddr())

	// Set identify timeout
	conn.SetReadDeadline(time.Now().Add(s.config.IdentifyTimeout))

	reader := bufio.NewReader(conn)
	line, err := reader.ReadString('\n')
	if err != nil {
		fmt.Printf("Failed to read identify message: %v\n", err)
		return
	}

	msg, err := protocol.ParseMessage([]byte(line))
	if err != nil {
		fmt.Printf("Failed to parse identify message: %v\n", err)
		s.sendError(conn, err)
		return
	}

	identifyMsg, ok := msg.(*protocol.IdentifyMessage)
	if !ok {
		fmt.Printf("Expected identify message, got %T\n", msg)
		s.sendError(conn, fmt.Errorf("expected identify message"))
		return
	}

	// A device without a trace starts a new one
	traceID := identifyMsg.TraceID
	if traceID == "" {
		traceID = uuid.New().String()
	}

	client, err := s.connManager.Register(connectionID, traceID, identifyMsg.Device, conn)
	if err != nil {
		fmt.Printf("Failed to register client: %v\n", err)
		s.sendError(conn, err)
		return
	}
	defer s.connManager.Unregister(connectionID)

	fmt.Printf("Device identified: %s (trace=%s, device=%s, partition=%d)\n",
		connectionID, traceID, identifyMsg.Device, queue.GetPartitionForTrace(traceID, s.Partitions))

	ack := protocol.NewAckMessage(protocol.AckStatusIdentified)
	ack.TraceID = traceID
	if err := s.sendMessage(conn, ack); err != nil {
		fmt.Printf("Failed to send ack: %v\n", err)
		return
	}

	s.scheduleInactivityTimer(connectionID)
	defer s.scheduler.Cancel(inactivityTimerID(connectionID))

	// Clear read deadline for normal operation
	conn.SetReadDeadline(time.Time{})

	for {
		select {
		case <-s.stopCh:
			return
		default:
		}

		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Printf("Connection %s closed: %v\n", connectionID, err)
			return
		}

		msg, err := protocol.ParseMessage([]byte(line))
		if err != nil {
			fmt.Printf("Failed to parse message from %s: %v\n", connectionID, err)
			s.sendError(conn, err)
			continue
		}

		if err := s.handleMessage(client, msg); err != nil {
			fmt.Printf("Failed to handle message from %s: %v\n", connectionID, err)
		}

		s.connManager.UpdateActivity(connectionID)
		s.scheduleInactivityTimer(connectionID)
	}
}

func (s *TCPServer) handleMessage(client *connection.ClientInfo, msg interface{}) error {
	switch m := msg.(type) {
	case *protocol.FixMessage:
		return s.handleFix(client, m)

	case *protocol.ProviderMessage:
		return s.handleProvider(client, m)

	case *protocol.KeepaliveMessage:
		return s.sendMessage(client.Conn, protocol.NewAckMessage(protocol.AckStatusAlive))

	default:
		return fmt.Errorf("unexpected message type: %T", msg)
	}
}

func (s *TCPServer) handleFix(client *connection.ClientInfo, msg *protocol.FixMessage) error {
	fix, err := msg.Data.Parse()
	if err != nil {
		s.sendError(client.Conn, err)
		return err
	}

	// No sampling while the device reports denied access
	if err := client.Gate.Check(); err != nil {
		ack := protocol.NewAckMessage(protocol.AckStatusPaused)
		ack.Error = err.Error()
		return s.sendMessage(client.Conn, ack)
	}

	if !client.Throttle.Allow(fix) {
		return s.sendMessage(client.Conn, protocol.NewAckMessage(protocol.AckStatusThrottled))
	}

	if err := s.forward(client, fix); err != nil {
		s.sendError(client.Conn, errors.New("fix not accepted, retry later"))
		return err
	}

	return s.sendMessage(client.Conn, protocol.NewAckMessage(protocol.AckStatusAccepted))
}

func (s *TCPServer) forward(client *connection.ClientInfo, fix location.Fix) error {
	event := protocol.NewFixEvent(client.ConnectionID, client.TraceID, client.Device, fix)
	data, err := protocol.EncodeFixEvent(event)
	if err != nil {
		return fmt.Errorf("failed to encode fix: %w", err)
	}

	// Key is the trace id so one trace stays on one partition
	if err := s.publisher.Publish(s.ctx, client.TraceID, data); err != nil {
		return fmt.Errorf("failed to publish fix: %w", err)
	}
	return nil
}

func (s *TCPServer) handleProvider(client *connection.ClientInfo, msg *protocol.ProviderMessage) error {
	status, err := source.ParseStatus(msg.Status)
	if err != nil {
		return err
	}

	client.Gate.Set(status)
	if status == source.StatusGranted {
		client.Throttle.Reset()
	}
	fmt.Printf("Provider status for trace %s: %s\n", client.TraceID, status)

	ack := protocol.NewAckMessage(protocol.AckStatusAlive)
	if status == source.StatusDenied {
		ack.Status = protocol.AckStatusPaused
	}
	return s.sendMessage(client.Conn, ack)
}

func (s *TCPServer) sendMessage(conn net.Conn, msg interface{}) error {
	data, err := protocol.EncodeMessage(msg)
	if err != nil {
		return err
	}

	_, err = conn.Write(append(data, '\n'))
	return err
}

func (s *TCPServer) sendError(conn net.Conn, err error) {
	s.sendMessage(conn, protocol.NewErrorAck(err))
}

func inactivityTimerID(connectionID string) string {
	return fmt.Sprintf("inactivity-%s", connectionID)
}

func (s *TCPServer) scheduleInactivityTimer(connectionID string) {
	expiryAt := time.Now().Add(s.config.InactivityTimeout)

	callback := func() {
		fmt.Printf("Inactivity timeout for connection %s\n", connectionID)

		client, exists := s.connManager.Get(connectionID)
		if !exists {
			return
		}

		// Unregister happens in the connection's deferred cleanup
		client.Conn.Close()
	}

	s.scheduler.Schedule(inactivityTimerID(connectionID), expiryAt, callback)
}
