package server

import (
	"context"

	"skyhub/internal/app/clients"
	"skyhub/internal/app/clocks"
	"skyhub/internal/app/commands"
	"skyhub/internal/app/conns"
	"skyhub/internal/app/devices"
	"skyhub/internal/app/dispatch"
	"skyhub/internal/app/hub"
	"skyhub/internal/app/model"
	"skyhub/internal/app/objects"
	"skyhub/internal/app/ratelimit"
	"skyhub/internal/app/sysinfo"
	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

// Rate limiter tags owned by the server
const (
	tagUAVInf = model.TypeUAVInf
	tagConn   = model.TypeConnInf
	tagSysMsg = model.TypeSysMsg
	tagObjDel = model.TypeObjDel
)

// Server glues the message plane together: it owns the rate limiters,
// installs the core message handlers on the hub and forwards the component
// signals into notifications.
type Server struct {
	cfg        *config.Config
	hub        *hub.Hub
	clients    *clients.Registry
	objects    *objects.Registry
	tree       *devices.Tree
	conns      *conns.Registry
	commands   *commands.Manager
	limits     *ratelimit.Registry
	dispatcher *dispatch.Dispatcher
	clocks     *clocks.Registry
	sysinfo    sysinfo.Provider
	log        logger.Logger

	disposers []func()
}

// Params collects the server dependencies
type Params struct {
	Cfg        *config.Config
	Hub        *hub.Hub
	Clients    *clients.Registry
	Objects    *objects.Registry
	Tree       *devices.Tree
	Conns      *conns.Registry
	Commands   *commands.Manager
	Limits     *ratelimit.Registry
	Dispatcher *dispatch.Dispatcher
	Clocks     *clocks.Registry
	SysInfo    sysinfo.Provider
	Log        logger.Logger
}

// NewServer creates the server composite
func NewServer(p Params) *Server {
	return &Server{
		cfg:        p.Cfg,
		hub:        p.Hub,
		clients:    p.Clients,
		objects:    p.Objects,
		tree:       p.Tree,
		conns:      p.Conns,
		commands:   p.Commands,
		limits:     p.Limits,
		dispatcher: p.Dispatcher,
		clocks:     p.Clocks,
		sysinfo:    p.SysInfo,
		log:        p.Log.WithComponent("SERVER"),
	}
}

// Start registers limiters, handlers and signal plumbing
func (s *Server) Start(ctx context.Context) error {
	if err := s.registerLimiters(); err != nil {
		return err
	}

	if err := s.clocks.Add(clocks.NewSystemClock()); err != nil {
		return err
	}

	s.registerHandlers()
	s.connectSignals()

	return nil
}

// Stop disconnects the signal plumbing
func (s *Server) Stop() {
	for _, dispose := range s.disposers {
		dispose()
	}

	s.disposers = nil
}

// RunLimiters drives the rate limiter registry; dispatched messages enter
// the hub as broadcasts
func (s *Server) RunLimiters(ctx context.Context) {
	s.limits.Run(ctx, s.hub.EnqueueBroadcast)
}

// NotifyUAVUpdated requests a UAV-INF broadcast for the given object ids;
// bursts within the batch delay coalesce into one notification
func (s *Server) NotifyUAVUpdated(ids ...string) {
	_ = s.limits.Request(tagUAVInf, ids)
}

// registerLimiters installs the batching and connection-status limiters
func (s *Server) registerLimiters() error {
	delay := s.cfg.RateLimits.BatchDelay

	if err := s.limits.Register(tagUAVInf, ratelimit.NewBatchingLimiter(delay, s.buildUAVInf)); err != nil {
		return err
	}

	if err := s.limits.Register(tagSysMsg, ratelimit.NewBatchingLimiter(delay, s.buildSysMsg)); err != nil {
		return err
	}

	if err := s.limits.Register(tagObjDel, ratelimit.NewBatchingLimiter(delay, s.buildObjDel)); err != nil {
		return err
	}

	limiter := ratelimit.NewConnStatusLimiter(
		s.cfg.RateLimits.SettleDelay,
		s.cfg.RateLimits.StableStateAge,
		s.buildConnInf,
	)

	return s.limits.Register(tagConn, limiter)
}

// buildUAVInf builds one UAV-INF notification for a bundle of object ids
func (s *Server) buildUAVInf(ids []string) *model.Message {
	status := make(map[string]interface{})

	for _, id := range ids {
		if uav, ok := s.objects.FindUAV(id); ok {
			status[id] = uav.Status()
		}
	}

	if len(status) == 0 {
		return nil
	}

	return s.hub.Builder().CreateNotification(model.Body{
		"type":   model.TypeUAVInf,
		"status": status,
	})
}

// buildSysMsg builds one SYS-MSG notification for a bundle of log entries
func (s *Server) buildSysMsg(items []string) *model.Message {
	return s.hub.Builder().CreateNotification(model.Body{
		"type":  model.TypeSysMsg,
		"items": items,
	})
}

// buildObjDel builds one OBJ-DEL notification for a bundle of removed ids
func (s *Server) buildObjDel(ids []string) *model.Message {
	return s.hub.Builder().CreateNotification(model.Body{
		"type": model.TypeObjDel,
		"ids":  ids,
	})
}

// buildConnInf builds one CONN-INF notification for a single connection
func (s *Server) buildConnInf(connectionID string) *model.Message {
	entry, ok := s.conns.Find(connectionID)
	if !ok {
		return nil
	}

	return s.hub.Builder().CreateNotification(model.Body{
		"type":   model.TypeConnInf,
		"status": map[string]interface{}{connectionID: entry.Info()},
	})
}

// connectSignals forwards component signals into client notifications
func (s *Server) connectSignals() {
	s.disposers = append(s.disposers,
		s.clients.Removed.Connect(func(client *model.Client) {
			s.tree.RemoveClient(client.ID())
			s.commands.DiscardClient(client.ID())
		}),

		s.objects.Removed.Connect(func(object model.Object) {
			s.tree.RemoveObject(object.ID())
			_ = s.limits.Request(tagObjDel, object.ID())
		}),

		s.conns.ConnectionStateChanged.Connect(func(change conns.StateChange) {
			_ = s.limits.Request(tagConn, ratelimit.StatusRequest{
				ID:       change.ID,
				OldState: change.OldState,
				NewState: change.NewState,
			})
		}),

		s.tree.Updated.Connect(func(n devices.Notification) {
			client, ok := s.clients.Find(n.ClientID)
			if !ok {
				return
			}

			msg := s.hub.Builder().CreateNotification(model.Body{
				"type":   model.TypeDevInf,
				"values": n.Values,
			})

			s.hub.Enqueue(msg, client)
		}),

		s.commands.Finished.Connect(func(receipt *commands.Receipt) {
			s.notifyReceiptClients(receipt, receipt.ResponseBody())
		}),

		s.commands.Cancelled.Connect(func(receipt *commands.Receipt) {
			s.notifyReceiptClients(receipt, receipt.ResponseBody())
		}),

		s.commands.StatusUpdated.Connect(func(receipt *commands.Receipt) {
			s.notifyReceiptClients(receipt, receipt.StatusBody())
		}),

		s.commands.Expired.Connect(func(receipts []*commands.Receipt) {
			s.notifyExpired(receipts)
		}),

		s.clocks.Changed.Connect(func(clock clocks.Clock) {
			msg := s.hub.Builder().CreateNotification(model.Body{
				"type":   model.TypeClkInf,
				"status": map[string]interface{}{clock.ID(): clocks.Info(clock)},
			})

			s.hub.EnqueueBroadcast(msg)
		}),
	)
}

// notifyReceiptClients sends one notification per client awaiting the
// receipt; disconnected clients are dropped silently
func (s *Server) notifyReceiptClients(receipt *commands.Receipt, body model.Body) {
	for _, clientID := range receipt.ClientsToNotify() {
		client, ok := s.clients.Find(clientID)
		if !ok {
			continue
		}

		s.hub.Enqueue(s.hub.Builder().CreateNotification(body), client)
	}
}

// notifyExpired groups timed-out receipt ids per client and sends one
// ASYNC-TIMEOUT each
func (s *Server) notifyExpired(receipts []*commands.Receipt) {
	perClient := make(map[string][]string)

	for _, receipt := range receipts {
		for _, clientID := range receipt.ClientsToNotify() {
			perClient[clientID] = append(perClient[clientID], receipt.ID())
		}
	}

	for clientID, ids := range perClient {
		client, ok := s.clients.Find(clientID)
		if !ok {
			continue
		}

		msg := s.hub.Builder().CreateNotification(model.Body{
			"type": model.TypeAsyncTimeout,
			"ids":  ids,
		})

		s.hub.Enqueue(msg, client)
	}
}
