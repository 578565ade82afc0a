package hub

import (
	"skyhub/internal/app/model"
)

// RequestMiddleware inspects or rewrites an inbound message before handler
// dispatch. Returning nil drops the message.
type RequestMiddleware func(msg *model.Message, sender *model.Client) *model.Message

// ResponseMiddleware inspects or rewrites an outbound message before it is
// sent. The client and the request being responded to may be nil for
// broadcasts. Returning nil drops the message.
type ResponseMiddleware func(msg *model.Message, to *model.Client, inResponseTo *model.Message) *model.Message

// RegisterRequestMiddleware appends request middleware; with atFront it is
// prepended instead
func (h *Hub) RegisterRequestMiddleware(mw RequestMiddleware, atFront bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if atFront {
		h.requestMw = append([]RequestMiddleware{mw}, h.requestMw...)
	} else {
		h.requestMw = append(h.requestMw, mw)
	}
}

// RegisterResponseMiddleware appends response middleware; with atFront it
// is prepended instead
func (h *Hub) RegisterResponseMiddleware(mw ResponseMiddleware, atFront bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if atFront {
		h.responseMw = append([]ResponseMiddleware{mw}, h.responseMw...)
	} else {
		h.responseMw = append(h.responseMw, mw)
	}
}

func (h *Hub) applyRequestMiddleware(msg *model.Message, sender *model.Client) *model.Message {
	h.mu.RLock()
	chain := make([]RequestMiddleware, len(h.requestMw))
	copy(chain, h.requestMw)
	h.mu.RUnlock()

	for _, mw := range chain {
		msg = mw(msg, sender)
		if msg == nil {
			return nil
		}
	}

	return msg
}

func (h *Hub) applyResponseMiddleware(msg *model.Message, to *model.Client, inResponseTo *model.Message) *model.Message {
	h.mu.RLock()
	chain := make([]ResponseMiddleware, len(h.responseMw))
	copy(chain, h.responseMw)
	h.mu.RUnlock()

	for _, mw := range chain {
		msg = mw(msg, to, inResponseTo)
		if msg == nil {
			return nil
		}
	}

	return msg
}
