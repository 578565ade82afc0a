package commands

import (
	"context"
	"sync"
	"time"

	"skyhub/internal/app/model"
)

// Receipt tracks one asynchronous command on the server. Clients reference
// it by id in ASYNC-* messages.
type Receipt struct {
	id        string
	createdAt time.Time

	mu              sync.Mutex
	sent            bool
	clientNotified  bool
	finished        bool
	cancelled       bool
	cancelledByUser bool
	timedOut        bool
	suspended       bool
	progress        *model.Progress
	result          interface{}
	errText         string

	clientsToNotify map[string]struct{}
	cancel          context.CancelFunc
	resume          chan interface{}
	terminalSent    bool
}

func newReceipt(id string) *Receipt {
	return &Receipt{
		id:              id,
		createdAt:       time.Now(),
		clientsToNotify: make(map[string]struct{}),
		resume:          make(chan interface{}, 1),
	}
}

// ID returns the receipt identifier
func (r *Receipt) ID() string {
	return r.id
}

// CreatedAt returns the creation time of the receipt
func (r *Receipt) CreatedAt() time.Time {
	return r.createdAt
}

// Sent reports whether the receipt id was handed to the caller
func (r *Receipt) Sent() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.sent
}

// Finished reports whether the command reached a terminal result
func (r *Receipt) Finished() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.finished
}

// Cancelled reports whether the command was cancelled or timed out
func (r *Receipt) Cancelled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancelled
}

// CancelledByUser reports whether the cancellation was client-initiated
func (r *Receipt) CancelledByUser() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.cancelledByUser
}

// TimedOut reports whether the command aged out
func (r *Receipt) TimedOut() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.timedOut
}

// Suspended reports whether the command is parked waiting for ASYNC-RESUME
func (r *Receipt) Suspended() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.suspended
}

// Progress returns the last reported progress, or nil
func (r *Receipt) Progress() *model.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.progress
}

// Result returns the terminal result value
func (r *Receipt) Result() interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.result
}

// Err returns the terminal error text, or an empty string
func (r *Receipt) Err() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.errText
}

// ClientsToNotify returns the ids of clients awaiting the terminal
// notification
func (r *Receipt) ClientsToNotify() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.clientsToNotify))
	for id := range r.clientsToNotify {
		ids = append(ids, id)
	}

	return ids
}

// DiscardClient drops a disconnected client from the notification set
func (r *Receipt) DiscardClient(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clientsToNotify, clientID)
}

// ResponseBody builds the terminal ASYNC-RESP body for the receipt
func (r *Receipt) ResponseBody() model.Body {
	r.mu.Lock()
	defer r.mu.Unlock()

	body := model.Body{"type": model.TypeAsyncResp, "id": r.id}

	switch {
	case r.cancelledByUser:
		body["cancelled"] = true
	case r.errText != "":
		body["error"] = r.errText
	default:
		body["result"] = r.result
	}

	return body
}

// StatusBody builds the ASYNC-ST body carrying progress and the suspended
// flag
func (r *Receipt) StatusBody() model.Body {
	r.mu.Lock()
	defer r.mu.Unlock()

	body := model.Body{"type": model.TypeAsyncStatus, "id": r.id}

	if r.progress != nil {
		body["progress"] = *r.progress
	}

	if r.suspended {
		body["suspended"] = true
	}

	return body
}
