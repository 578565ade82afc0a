package transport

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"skyhub/internal/app/channels"
	"skyhub/internal/app/clients"
	"skyhub/internal/app/errors"
	"skyhub/internal/app/hub"
	"skyhub/internal/app/model"
	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

// ChannelTypeTCP is the id of the newline-delimited JSON TCP transport
const ChannelTypeTCP = "tcp"

// TCPServer accepts operator clients over TCP. Every frame is one envelope
// terminated by a newline; writes are serialized per connection.
type TCPServer struct {
	cfg      *config.Config
	hub      *hub.Hub
	clients  *clients.Registry
	types    *channels.Registry
	log      logger.Logger
	listener net.Listener
	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu    sync.Mutex
	conns map[string]*tcpChannel
}

// NewTCPServer creates a TCP transport server
func NewTCPServer(cfg *config.Config, h *hub.Hub, clientRegistry *clients.Registry, types *channels.Registry, log logger.Logger) *TCPServer {
	return &TCPServer{
		cfg:     cfg,
		hub:     h,
		clients: clientRegistry,
		types:   types,
		log:     log.WithComponent("TCP"),
		conns:   make(map[string]*tcpChannel),
	}
}

// Start registers the channel type and begins accepting connections
func (s *TCPServer) Start(ctx context.Context) error {
	if err := s.types.Add(model.ChannelTypeDescriptor{
		ID:          ChannelTypeTCP,
		Factory:     func() model.CommunicationChannel { return newTCPChannel() },
		Broadcaster: s.broadcast,
	}); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.cfg.Server.TCPAddr)
	if err != nil {
		return err
	}

	s.listener = listener
	s.running.Store(true)
	s.log.Info().Msgf("Listening on %s", listener.Addr())

	serverCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.acceptConnections(serverCtx)
	}()

	return nil
}

// Stop stops accepting and closes every connection
func (s *TCPServer) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)

	if s.cancel != nil {
		s.cancel()
	}

	if s.listener != nil {
		s.listener.Close()
	}

	s.mu.Lock()
	for _, channel := range s.conns {
		channel.closeConn()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.types.Remove(ChannelTypeTCP)
	s.log.Info().Msg("Server stopped")

	return nil
}

// Addr returns the bound listen address
func (s *TCPServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

func (s *TCPServer) acceptConnections(ctx context.Context) {
	for s.running.Load() {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.running.Load() {
				s.log.Error().Err(err).Msg("Failed to accept connection")
			}

			continue
		}

		s.wg.Add(1)

		go func(c net.Conn) {
			defer s.wg.Done()

			s.handleConnection(ctx, c)
		}(conn)
	}
}

// handleConnection binds one accepted socket to a fresh client and pumps
// inbound frames into the hub until the peer goes away
func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	clientID := uuid.NewString()

	client, err := s.clients.Add(clientID, ChannelTypeTCP)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to register client")

		return
	}

	channel := client.Channel().(*tcpChannel)
	channel.bind(conn)

	s.mu.Lock()
	s.conns[clientID] = channel
	s.mu.Unlock()

	s.log.Debug().Str("client", clientID).Msgf("Client connected from %s", conn.RemoteAddr())

	defer func() {
		s.mu.Lock()
		delete(s.conns, clientID)
		s.mu.Unlock()

		s.clients.Remove(clientID)
		s.log.Debug().Str("client", clientID).Msg("Client disconnected")
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		raw := make([]byte, len(line))
		copy(raw, line)

		s.hub.HandleIncoming(ctx, raw, client)
	}
}

// broadcast encodes the message once and writes it to every connection
func (s *TCPServer) broadcast(msg *model.Message) {
	data, err := msg.Encode()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode broadcast")

		return
	}

	data = append(data, '\n')

	s.mu.Lock()
	targets := make([]*tcpChannel, 0, len(s.conns))
	for _, channel := range s.conns {
		targets = append(targets, channel)
	}
	s.mu.Unlock()

	for _, channel := range targets {
		channel.writeRaw(data)
	}
}

// tcpChannel is the CommunicationChannel of one TCP client. A per-channel
// lock guarantees atomic frame emission.
type tcpChannel struct {
	mu     sync.Mutex
	conn   net.Conn
	closed bool
}

func newTCPChannel() *tcpChannel {
	return &tcpChannel{}
}

func (c *tcpChannel) bind(conn net.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
}

// Send writes one newline-terminated envelope frame
func (c *tcpChannel) Send(ctx context.Context, msg *model.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	return c.writeRaw(append(data, '\n'))
}

func (c *tcpChannel) writeRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.conn == nil {
		return errors.ErrChannelClosed
	}

	if _, err := c.conn.Write(data); err != nil {
		return err
	}

	return nil
}

// Close shuts the underlying socket down
func (c *tcpChannel) Close(ctx context.Context) error {
	return c.closeConn()
}

func (c *tcpChannel) closeConn() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true

	if c.conn != nil {
		return c.conn.Close()
	}

	return nil
}
