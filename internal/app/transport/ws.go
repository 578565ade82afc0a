package transport

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"skyhub/internal/app/channels"
	"skyhub/internal/app/clients"
	"skyhub/internal/app/errors"
	"skyhub/internal/app/hub"
	"skyhub/internal/app/model"
	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

// ChannelTypeWS is the id of the WebSocket transport
const ChannelTypeWS = "ws"

const (
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 30 * time.Second
)

// WSServer accepts operator clients over WebSocket. Every text frame
// carries one envelope; outbound messages drain through a buffered send
// channel per client, closing the connection on overflow.
type WSServer struct {
	cfg      *config.Config
	hub      *hub.Hub
	clients  *clients.Registry
	types    *channels.Registry
	log      logger.Logger
	server   *http.Server
	listener net.Listener
	running  atomic.Bool
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[string]*wsChannel
}

// NewWSServer creates a WebSocket transport server
func NewWSServer(cfg *config.Config, h *hub.Hub, clientRegistry *clients.Registry, types *channels.Registry, log logger.Logger) *WSServer {
	return &WSServer{
		cfg:     cfg,
		hub:     h,
		clients: clientRegistry,
		types:   types,
		log:     log.WithComponent("WS"),
		conns:   make(map[string]*wsChannel),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start registers the channel type and begins serving the endpoint
func (s *WSServer) Start(ctx context.Context) error {
	if err := s.types.Add(model.ChannelTypeDescriptor{
		ID:          ChannelTypeWS,
		Factory:     func() model.CommunicationChannel { return newWSChannel(s.cfg.Queue.ClientBuffer) },
		Broadcaster: s.broadcast,
		SSDPLocation: func(peer string) string {
			return "ws://" + peer + s.cfg.Server.WSPath
		},
	}); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.cfg.Server.WSAddr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Server.WSPath, func(w http.ResponseWriter, r *http.Request) {
		s.handleUpgrade(ctx, w, r)
	})

	s.listener = listener
	s.server = &http.Server{Handler: mux}
	s.running.Store(true)
	s.log.Info().Msgf("Listening on %s", listener.Addr())

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("Server failed")
		}
	}()

	return nil
}

// Stop shuts the endpoint down and closes every connection
func (s *WSServer) Stop() error {
	if !s.running.Load() {
		return nil
	}

	s.running.Store(false)

	s.mu.Lock()
	for _, channel := range s.conns {
		channel.close()
	}
	s.mu.Unlock()

	s.types.Remove(ChannelTypeWS)

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownGracePeriod)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Addr returns the bound listen address
func (s *WSServer) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// handleUpgrade turns one HTTP request into a client connection
func (s *WSServer) handleUpgrade(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("Upgrade failed")

		return
	}

	clientID := uuid.NewString()

	client, err := s.clients.Add(clientID, ChannelTypeWS)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to register client")
		conn.Close()

		return
	}

	channel := client.Channel().(*wsChannel)
	channel.bind(conn)

	s.mu.Lock()
	s.conns[clientID] = channel
	s.mu.Unlock()

	s.log.Debug().Str("client", clientID).Msgf("Client connected from %s", conn.RemoteAddr())

	go channel.writePump(s.log)

	defer func() {
		s.mu.Lock()
		delete(s.conns, clientID)
		s.mu.Unlock()

		channel.close()
		s.clients.Remove(clientID)
		s.log.Debug().Str("client", clientID).Msg("Client disconnected")
	}()

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		if ctx.Err() != nil {
			return
		}

		s.hub.HandleIncoming(ctx, raw, client)
	}
}

// broadcast encodes the message once and fans it out over the per-client
// send buffers
func (s *WSServer) broadcast(msg *model.Message) {
	data, err := msg.Encode()
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode broadcast")

		return
	}

	s.mu.Lock()
	targets := make([]*wsChannel, 0, len(s.conns))
	for _, channel := range s.conns {
		targets = append(targets, channel)
	}
	s.mu.Unlock()

	for _, channel := range targets {
		channel.enqueue(data)
	}
}

// wsChannel is the CommunicationChannel of one WebSocket client
type wsChannel struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	send   chan []byte
	closed bool
}

func newWSChannel(buffer int) *wsChannel {
	return &wsChannel{
		send: make(chan []byte, buffer),
	}
}

func (c *wsChannel) bind(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.conn = conn
}

// Send enqueues one envelope on the client's send buffer
func (c *wsChannel) Send(ctx context.Context, msg *model.Message) error {
	data, err := msg.Encode()
	if err != nil {
		return err
	}

	return c.enqueue(data)
}

// enqueue never blocks; a client that cannot keep up loses its connection
func (c *wsChannel) enqueue(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrChannelClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked()

		return errors.ErrChannelClosed
	}
}

// writePump drains the send buffer onto the socket and keeps the
// connection alive with pings
func (c *wsChannel) writePump(log logger.Logger) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case data, ok := <-c.send:
			if !ok {
				return
			}

			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("Write failed, closing channel")
				c.close()

				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()

				return
			}
		}
	}
}

// Close shuts the channel down
func (c *wsChannel) Close(ctx context.Context) error {
	c.close()

	return nil
}

func (c *wsChannel) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closeLocked()
}

func (c *wsChannel) closeLocked() {
	if c.closed {
		return
	}

	c.closed = true
	close(c.send)

	if c.conn != nil {
		c.conn.Close()
	}
}
