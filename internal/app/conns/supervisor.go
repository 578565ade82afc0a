package conns

import (
	"context"
	"sync"
	"time"

	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

// BackoffPolicy controls how a supervised connection is retried after a
// failure. A zero MaxAttempts retries forever.
type BackoffPolicy struct {
	Delay       time.Duration
	MaxAttempts int
}

// Supervisor keeps every registered connection alive: it runs one task per
// entry, walking the state machine and retrying failed opens with the
// configured backoff. Cancelling the supervisor context is terminal.
type Supervisor struct {
	registry *Registry
	policy   BackoffPolicy
	log      logger.Logger

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	wg      sync.WaitGroup
}

// NewSupervisor creates a supervisor over the given registry
func NewSupervisor(cfg *config.Config, reg *Registry, log logger.Logger) *Supervisor {
	return &Supervisor{
		registry: reg,
		policy: BackoffPolicy{
			Delay:       cfg.Connections.RetryBackoff,
			MaxAttempts: cfg.Connections.RetryAttempts,
		},
		log:     log.WithComponent("SUPERVISOR"),
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run supervises entries until the context is cancelled. Entries added
// while running are picked up through the registry's added signal.
func (s *Supervisor) Run(ctx context.Context) {
	disposeAdded := s.registry.Added.Connect(func(entry *Entry) {
		s.start(ctx, entry)
	})
	defer disposeAdded()

	disposeRemoved := s.registry.Removed.Connect(func(entry *Entry) {
		s.stop(entry.ID())
	})
	defer disposeRemoved()

	for _, entry := range s.registry.Entries() {
		s.start(ctx, entry)
	}

	<-ctx.Done()

	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Supervisor) start(ctx context.Context, entry *Entry) {
	entryCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()

	if _, exists := s.cancels[entry.ID()]; exists {
		s.mu.Unlock()
		cancel()

		return
	}

	s.cancels[entry.ID()] = cancel
	s.mu.Unlock()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()
		defer s.stop(entry.ID())

		s.supervise(entryCtx, entry)
	}()
}

func (s *Supervisor) stop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cancel, exists := s.cancels[id]; exists {
		cancel()
		delete(s.cancels, id)
	}
}

// supervise walks one entry through its lifecycle until the context is done
// or the retry budget is spent
func (s *Supervisor) supervise(ctx context.Context, entry *Entry) {
	attempts := 0

	for {
		if ctx.Err() != nil {
			return
		}

		err := s.runOnce(ctx, entry)
		if ctx.Err() != nil {
			s.teardown(entry)

			return
		}

		if err != nil {
			s.log.Warn().Err(err).Str("connection", entry.ID()).Msg("Connection attempt failed")
		} else {
			s.log.Info().Str("connection", entry.ID()).Msg("Connection dropped, reconnecting")
			attempts = 0
		}

		attempts++

		if s.policy.MaxAttempts > 0 && attempts >= s.policy.MaxAttempts {
			s.log.Error().Err(errors.ErrMaxRetriesReached).Str("connection", entry.ID()).Msg("Giving up on connection")

			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.policy.Delay):
		}
	}
}

// runOnce performs one connect-run-disconnect cycle. A nil return means the
// connection was established and later dropped; an error means the open
// failed.
func (s *Supervisor) runOnce(ctx context.Context, entry *Entry) error {
	if err := entry.transition(ctx, eventConnect); err != nil {
		return err
	}

	if err := entry.Connection().Open(ctx); err != nil {
		_ = entry.transition(ctx, eventDisconnect)
		_ = entry.transition(ctx, eventDropped)

		return err
	}

	if err := entry.transition(ctx, eventConnected); err != nil {
		return err
	}

	runErr := entry.Connection().Run(ctx)

	_ = entry.transition(ctx, eventDisconnect)

	closeCtx, cancel := context.WithTimeout(context.Background(), config.ShutdownGracePeriod)
	defer cancel()

	if err := entry.Connection().Close(closeCtx); err != nil {
		s.log.Warn().Err(err).Str("connection", entry.ID()).Msg("Close failed")
	}

	_ = entry.transition(ctx, eventDropped)

	if runErr != nil && ctx.Err() == nil {
		s.log.Debug().Err(runErr).Str("connection", entry.ID()).Msg("Connection run loop ended")
	}

	return nil
}

// teardown closes the connection when the supervisor is cancelled while the
// link is up
func (s *Supervisor) teardown(entry *Entry) {
	state := entry.State()
	if state == model.ConnStateDisconnected {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), config.ShutdownGracePeriod)
	defer cancel()

	if state == model.ConnStateConnected || state == model.ConnStateConnecting {
		_ = entry.transition(ctx, eventDisconnect)
	}

	_ = entry.Connection().Close(ctx)
	_ = entry.transition(ctx, eventDropped)
}
