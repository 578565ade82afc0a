package hub

import (
	"context"

	"skyhub/internal/app/model"
)

// Inbound is one message pulled through Iterate together with a responder
// that enqueues a reply to the sender
type Inbound struct {
	Body    model.Body
	Sender  *model.Client
	Respond func(body model.Body)
}

// Iterate exposes a pull-style consumer for the given message types. The
// handler is removed and the channel closed when the context is cancelled.
func (h *Hub) Iterate(ctx context.Context, types ...string) <-chan Inbound {
	out := make(chan Inbound, 16)

	dispose := h.UseMessageHandler(func(handlerCtx context.Context, msg *model.Message, sender *model.Client) (interface{}, bool) {
		item := Inbound{
			Body:   msg.Body,
			Sender: sender,
			Respond: func(body model.Body) {
				h.enqueueResponse(h.builder.CreateResponseTo(msg, body), sender, msg, nil)
			},
		}

		select {
		case out <- item:
			return nil, true
		case <-ctx.Done():
			return nil, false
		}
	}, types...)

	go func() {
		<-ctx.Done()
		dispose()
		close(out)
	}()

	return out
}
