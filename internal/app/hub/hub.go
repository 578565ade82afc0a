package hub

import (
	"context"
	"fmt"
	"sync"

	"skyhub/internal/app/channels"
	"skyhub/internal/app/clients"
	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

// Handler processes one inbound message. The second return value reports
// whether the handler claimed the message; a non-nil result is enqueued as a
// response to the sender.
type Handler func(ctx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool)

// Validator checks an inbound body against the message schema. Concrete
// schema validation is an external collaborator.
type Validator interface {
	Validate(body model.Body) error
}

// basicValidator only requires a type token; experimental messages bypass it
type basicValidator struct{}

func (basicValidator) Validate(body model.Body) error {
	if body.Type() == "" {
		return fmt.Errorf("%w: missing message type", errors.ErrInvalidMessage)
	}

	return nil
}

type outbound struct {
	msg          *model.Message
	to           *model.Client
	inResponseTo *model.Message
	broadcast    bool
	then         func()
}

// Hub is the center of the message plane: it builds envelopes, dispatches
// inbound messages through the middleware and handler chains, and drains a
// bounded outbound queue towards clients and broadcast fan-outs.
type Hub struct {
	builder      *model.MessageBuilder
	validator    Validator
	clients      *clients.Registry
	channelTypes *channels.Registry
	queue        chan outbound
	log          logger.Logger

	mu              sync.RWMutex
	nextHandlerID   int
	handlers        map[string][]registeredHandler
	genericHandlers []registeredHandler
	requestMw       []RequestMiddleware
	responseMw      []ResponseMiddleware

	fanoutMu    sync.Mutex
	fanoutDirty bool
	fanout      []model.ChannelTypeDescriptor
}

// NewHub creates a message hub over the given registries
func NewHub(cfg *config.Config, clientRegistry *clients.Registry, channelTypes *channels.Registry, log logger.Logger) *Hub {
	h := &Hub{
		builder:      model.NewMessageBuilder(config.ProtocolVersion),
		validator:    basicValidator{},
		clients:      clientRegistry,
		channelTypes: channelTypes,
		queue:        make(chan outbound, cfg.Queue.Outbound),
		log:          log.WithComponent("HUB"),
		handlers:     make(map[string][]registeredHandler),
		fanoutDirty:  true,
	}

	channelTypes.OnChanged(func() { h.invalidateFanout() })
	clientRegistry.Added.Connect(func(*model.Client) { h.invalidateFanout() })
	clientRegistry.Removed.Connect(func(*model.Client) { h.invalidateFanout() })

	return h
}

// SetValidator replaces the schema validator
func (h *Hub) SetValidator(v Validator) {
	h.validator = v
}

// Builder returns the envelope builder of the hub
func (h *Hub) Builder() *model.MessageBuilder {
	return h.builder
}

type registeredHandler struct {
	id int
	fn Handler
}

// RegisterHandler installs a handler for one message type and returns a
// disposer
func (h *Hub) RegisterHandler(messageType string, handler Handler) func() {
	h.mu.Lock()
	id := h.nextHandlerID
	h.nextHandlerID++
	h.handlers[messageType] = append(h.handlers[messageType], registeredHandler{id: id, fn: handler})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		chain := h.handlers[messageType]
		for i, entry := range chain {
			if entry.id == id {
				h.handlers[messageType] = append(chain[:i], chain[i+1:]...)
				break
			}
		}
	}
}

// RegisterGenericHandler installs a handler invoked for every message type
// after the type-specific chain
func (h *Hub) RegisterGenericHandler(handler Handler) func() {
	h.mu.Lock()
	id := h.nextHandlerID
	h.nextHandlerID++
	h.genericHandlers = append(h.genericHandlers, registeredHandler{id: id, fn: handler})
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		for i, entry := range h.genericHandlers {
			if entry.id == id {
				h.genericHandlers = append(h.genericHandlers[:i], h.genericHandlers[i+1:]...)
				break
			}
		}
	}
}

// UseMessageHandler installs the handler for several message types at once
// and returns a single disposer removing all of them
func (h *Hub) UseMessageHandler(handler Handler, types ...string) func() {
	disposers := make([]func(), 0, len(types))
	for _, messageType := range types {
		disposers = append(disposers, h.RegisterHandler(messageType, handler))
	}

	return func() {
		for _, dispose := range disposers {
			dispose()
		}
	}
}

// HandleIncoming decodes and dispatches one raw inbound frame. It returns
// true when a handler claimed the message, when validation failed (a NAK is
// sent) or when request middleware dropped it; it returns false when the
// frame does not decode or when no handler claimed it (a NAK is still sent).
func (h *Hub) HandleIncoming(ctx context.Context, raw []byte, sender *model.Client) bool {
	msg, err := model.DecodeMessage(raw)
	if err != nil {
		h.log.Warn().Err(err).Str("client", sender.ID()).Msg("Dropping undecodable message")

		return false
	}

	if !msg.Body.IsExperimental() {
		if err := h.validator.Validate(msg.Body); err != nil {
			h.enqueueResponse(h.builder.CreateNak(msg, err.Error()), sender, msg, nil)

			return true
		}
	}

	msg = h.applyRequestMiddleware(msg, sender)
	if msg == nil {
		return true
	}

	if h.dispatchToHandlers(ctx, msg, sender) {
		return true
	}

	h.enqueueResponse(h.builder.CreateNak(msg, "No handler managed to parse this message"), sender, msg, nil)

	return false
}

// dispatchToHandlers walks the type-specific chain and then the generic one
// until a handler claims the message
func (h *Hub) dispatchToHandlers(ctx context.Context, msg *model.Message, sender *model.Client) bool {
	h.mu.RLock()
	chain := make([]registeredHandler, 0, len(h.handlers[msg.Type()])+len(h.genericHandlers))
	chain = append(chain, h.handlers[msg.Type()]...)
	chain = append(chain, h.genericHandlers...)
	h.mu.RUnlock()

	for _, entry := range chain {
		result, handled := h.invokeHandler(ctx, entry.fn, msg, sender)
		if !handled {
			continue
		}

		switch typed := result.(type) {
		case nil:
		case model.Body:
			h.enqueueResponse(h.builder.CreateResponseTo(msg, typed), sender, msg, nil)
		case *model.Message:
			h.enqueueResponse(typed, sender, msg, nil)
		default:
			h.log.Warn().Str("type", msg.Type()).Msgf("Ignoring unexpected handler result %T", result)
		}

		return true
	}

	return false
}

// invokeHandler shields the hub from panicking handlers; the next handler
// in the chain still runs
func (h *Hub) invokeHandler(ctx context.Context, handler Handler, msg *model.Message, sender *model.Client) (result interface{}, handled bool) {
	defer func() {
		if r := recover(); r != nil {
			h.log.Error().Str("type", msg.Type()).Msgf("Handler panicked: %v", r)
			result, handled = nil, false
		}
	}()

	return handler(ctx, msg, sender)
}

// SendMessage enqueues a direct message, blocking while the queue is full
func (h *Hub) SendMessage(ctx context.Context, msg *model.Message, to *model.Client) error {
	return h.send(ctx, outbound{msg: msg, to: to})
}

// SendMessageTo resolves a client id and enqueues a direct message
func (h *Hub) SendMessageTo(ctx context.Context, msg *model.Message, clientID string) error {
	client, err := h.clients.FindOrError(clientID)
	if err != nil {
		return err
	}

	return h.SendMessage(ctx, msg, client)
}

// SendResponse builds a response to the given request and enqueues it to
// the sender. The then callback runs after the response left the queue.
func (h *Hub) SendResponse(ctx context.Context, req *model.Message, sender *model.Client, body model.Body, then func()) (*model.Message, error) {
	response := h.builder.CreateResponseTo(req, body)

	if err := h.send(ctx, outbound{msg: response, to: sender, inResponseTo: req, then: then}); err != nil {
		return nil, err
	}

	return response, nil
}

// Acknowledge sends an ACK-ACK, or an ACK-NAK when a reason is given
func (h *Hub) Acknowledge(ctx context.Context, req *model.Message, sender *model.Client, reason string) error {
	var msg *model.Message
	if reason == "" {
		msg = h.builder.CreateAck(req)
	} else {
		msg = h.builder.CreateNak(req, reason)
	}

	return h.send(ctx, outbound{msg: msg, to: sender, inResponseTo: req})
}

// BroadcastMessage enqueues a broadcast, blocking while the queue is full
func (h *Hub) BroadcastMessage(ctx context.Context, msg *model.Message) error {
	return h.send(ctx, outbound{msg: msg, broadcast: true})
}

// Enqueue enqueues a direct message without blocking; over capacity the
// message is dropped silently
func (h *Hub) Enqueue(msg *model.Message, to *model.Client) {
	h.enqueueResponse(msg, to, nil, nil)
}

// EnqueueBroadcast enqueues a broadcast without blocking; over capacity the
// message is dropped silently
func (h *Hub) EnqueueBroadcast(msg *model.Message) {
	select {
	case h.queue <- outbound{msg: msg, broadcast: true}:
	default:
		h.log.Debug().Str("type", msg.Type()).Msg("Outbound queue full, dropping broadcast")
	}
}

func (h *Hub) send(ctx context.Context, item outbound) error {
	select {
	case h.queue <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) enqueueResponse(msg *model.Message, to *model.Client, inResponseTo *model.Message, then func()) {
	select {
	case h.queue <- outbound{msg: msg, to: to, inResponseTo: inResponseTo, then: then}:
	default:
		h.log.Warn().Str("type", msg.Type()).Msg("Outbound queue full, dropping response")
	}
}

// Run drains the outbound queue until the context is cancelled
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item := <-h.queue:
			h.deliver(ctx, item)

			if item.then != nil {
				item.then()
			}
		}
	}
}

func (h *Hub) deliver(ctx context.Context, item outbound) {
	msg := h.applyResponseMiddleware(item.msg, item.to, item.inResponseTo)
	if msg == nil {
		return
	}

	if item.broadcast {
		h.broadcast(ctx, msg)

		return
	}

	if err := item.to.Channel().Send(ctx, msg); err != nil {
		// a vanished client is not an error worth surfacing
		h.log.Warn().Err(err).Str("client", item.to.ID()).Msg("Client gone, dropping message")
	}
}

// broadcast iterates the cached fan-out: channel types with a broadcaster
// get the message once when they have at least one subscriber, all other
// clients get individual sends
func (h *Hub) broadcast(ctx context.Context, msg *model.Message) {
	for _, descriptor := range h.fanoutSnapshot() {
		if descriptor.Broadcaster != nil {
			if h.clients.HasClientsForChannelType(descriptor.ID) {
				descriptor.Broadcaster(msg)
			}

			continue
		}

		for _, clientID := range h.clients.ClientIDsForChannelType(descriptor.ID) {
			client, ok := h.clients.Find(clientID)
			if !ok {
				continue
			}

			if err := client.Channel().Send(ctx, msg); err != nil {
				h.log.Debug().Err(err).Str("client", clientID).Msg("Client gone during broadcast")
			}
		}
	}
}

func (h *Hub) invalidateFanout() {
	h.fanoutMu.Lock()
	h.fanoutDirty = true
	h.fanoutMu.Unlock()
}

func (h *Hub) fanoutSnapshot() []model.ChannelTypeDescriptor {
	h.fanoutMu.Lock()
	defer h.fanoutMu.Unlock()

	if h.fanoutDirty {
		h.fanout = h.channelTypes.Descriptors()
		h.fanoutDirty = false
	}

	return h.fanout
}
