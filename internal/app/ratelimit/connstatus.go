package ratelimit

import (
	"context"
	"time"

	"skyhub/internal/app/model"
)

// StatusRequest is one observed connection state transition
type StatusRequest struct {
	ID       string
	OldState string
	NewState string
}

// ConnStatusLimiter smooths connection state traffic: stable states
// dispatch immediately, transitional states wait for the connection to
// settle. A settle back into a recent stable state is suppressed.
type ConnStatusLimiter struct {
	settleDelay time.Duration
	stableAge   time.Duration
	factory     func(connectionID string) *model.Message

	requests chan StatusRequest
	fired    chan string
	states   map[string]*connState
}

type connState struct {
	current      string
	pending      bool
	lastStable   string
	lastStableAt time.Time
}

// NewConnStatusLimiter creates a connection status limiter. The factory
// builds the CONN-INF notification for one connection at dispatch time.
func NewConnStatusLimiter(settleDelay, stableAge time.Duration, factory func(connectionID string) *model.Message) *ConnStatusLimiter {
	return &ConnStatusLimiter{
		settleDelay: settleDelay,
		stableAge:   stableAge,
		factory:     factory,
		requests:    make(chan StatusRequest, 64),
		fired:       make(chan string, 64),
		states:      make(map[string]*connState),
	}
}

// AddRequest records a state transition of one connection
func (l *ConnStatusLimiter) AddRequest(request interface{}) {
	typed, ok := request.(StatusRequest)
	if !ok {
		return
	}

	select {
	case l.requests <- typed:
	default:
	}
}

// Run processes transitions until the context is cancelled
func (l *ConnStatusLimiter) Run(ctx context.Context, dispatch Dispatcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case request := <-l.requests:
			l.handleRequest(ctx, request, dispatch)
		case id := <-l.fired:
			l.handleSettled(id, dispatch)
		}
	}
}

func (l *ConnStatusLimiter) handleRequest(ctx context.Context, request StatusRequest, dispatch Dispatcher) {
	state, ok := l.states[request.ID]
	if !ok {
		state = &connState{}
		l.states[request.ID] = state
	}

	state.current = request.NewState

	if model.IsStableConnState(request.NewState) {
		if !state.pending {
			l.dispatchState(request.ID, state, dispatch)
		}

		return
	}

	if !state.pending {
		state.pending = true

		id := request.ID

		time.AfterFunc(l.settleDelay, func() {
			select {
			case l.fired <- id:
			case <-ctx.Done():
			}
		})
	}
}

// handleSettled decides what to report once the settle window of a
// connection elapsed
func (l *ConnStatusLimiter) handleSettled(id string, dispatch Dispatcher) {
	state, ok := l.states[id]
	if !ok || !state.pending {
		return
	}

	state.pending = false

	suppress := model.IsStableConnState(state.current) &&
		state.current == state.lastStable &&
		time.Since(state.lastStableAt) < l.stableAge

	if suppress {
		return
	}

	l.dispatchState(id, state, dispatch)
}

func (l *ConnStatusLimiter) dispatchState(id string, state *connState, dispatch Dispatcher) {
	if msg := l.factory(id); msg != nil {
		dispatch(msg)
	}

	if model.IsStableConnState(state.current) {
		state.lastStable = state.current
		state.lastStableAt = time.Now()
	}
}
