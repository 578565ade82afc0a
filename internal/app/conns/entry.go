package conns

import (
	"context"
	"fmt"

	"github.com/looplab/fsm"

	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
	"skyhub/internal/app/registry"
)

// FSM events driving the connection state machine
const (
	eventConnect    = "connect"
	eventConnected  = "connected"
	eventDisconnect = "disconnect"
	eventDropped    = "dropped"
)

// StateChange is the payload of the state_changed signal of an entry
type StateChange struct {
	ID       string
	OldState string
	NewState string
}

// Entry owns one supervised connection together with its state machine.
// State transitions follow the cycle disconnected → connecting →
// connected → disconnecting → disconnected; a connecting entry may also go
// straight to disconnecting (a failed open). Any other jump is refused.
type Entry struct {
	id          string
	purpose     string
	description string
	conn        model.Connection
	machine     *fsm.FSM

	StateChanged registry.Signal[StateChange]
}

// NewEntry creates a registry entry for a connection
func NewEntry(id, purpose, description string, conn model.Connection) *Entry {
	entry := &Entry{
		id:          id,
		purpose:     purpose,
		description: description,
		conn:        conn,
	}

	entry.machine = fsm.NewFSM(
		model.ConnStateDisconnected,
		fsm.Events{
			{Name: eventConnect, Src: []string{model.ConnStateDisconnected}, Dst: model.ConnStateConnecting},
			{Name: eventConnected, Src: []string{model.ConnStateConnecting}, Dst: model.ConnStateConnected},
			{Name: eventDisconnect, Src: []string{model.ConnStateConnected, model.ConnStateConnecting}, Dst: model.ConnStateDisconnecting},
			{Name: eventDropped, Src: []string{model.ConnStateDisconnecting}, Dst: model.ConnStateDisconnected},
		},
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				entry.StateChanged.Emit(StateChange{
					ID:       entry.id,
					OldState: e.Src,
					NewState: e.Dst,
				})
			},
		},
	)

	return entry
}

// ID returns the entry identifier
func (e *Entry) ID() string {
	return e.id
}

// Purpose returns what the connection is used for
func (e *Entry) Purpose() string {
	return e.purpose
}

// Description returns the human-readable description of the connection
func (e *Entry) Description() string {
	return e.description
}

// Connection returns the supervised connection
func (e *Entry) Connection() model.Connection {
	return e.conn
}

// State returns the current connection state
func (e *Entry) State() string {
	return e.machine.Current()
}

// Info returns the wire representation used in CONN-INF bodies
func (e *Entry) Info() model.Body {
	return model.Body{
		"id":          e.id,
		"purpose":     e.purpose,
		"description": e.description,
		"status":      e.State(),
	}
}

func (e *Entry) transition(ctx context.Context, event string) error {
	if err := e.machine.Event(ctx, event); err != nil {
		return fmt.Errorf("%w: %w", errors.ErrInvalidTransition, err)
	}

	return nil
}
