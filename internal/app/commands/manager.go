package commands

import (
	"context"
	"fmt"
	"time"

	"skyhub/internal/app/errors"
	"skyhub/internal/app/model"
	"skyhub/internal/app/registry"
	"skyhub/internal/config"
	"skyhub/internal/config/logger"
)

// executionQueueSize bounds the number of enqueued but not yet started
// commands
const executionQueueSize = 256

type execution struct {
	value   interface{}
	receipt *Receipt
}

// Manager creates and tracks command receipts. Commands whose outcome is a
// model.Future run under a child task with a deadline; everything else
// finishes synchronously. The Finished signal is gated on the client having
// received the receipt first.
type Manager struct {
	timeout       time.Duration
	cleanupPeriod time.Duration
	receipts      *registry.Registry[*Receipt]
	queue         chan execution
	log           logger.Logger

	// Finished fires once per receipt, after both the terminal result and
	// the client notification mark are in
	Finished registry.Signal[*Receipt]

	// Cancelled fires on user-initiated cancellation
	Cancelled registry.Signal[*Receipt]

	// Expired fires with the receipts that timed out, collectively per sweep,
	// or with a single receipt when a running command hits its deadline
	Expired registry.Signal[[]*Receipt]

	// StatusUpdated fires on progress reports and suspend state changes
	StatusUpdated registry.Signal[*Receipt]
}

// NewManager creates a command execution manager with the configured
// timeout and cleanup period
func NewManager(cfg *config.Config, log logger.Logger) *Manager {
	return &Manager{
		timeout:       cfg.Commands.Timeout,
		cleanupPeriod: cfg.Commands.CleanupPeriod,
		receipts:      registry.New[*Receipt](),
		queue:         make(chan execution, executionQueueSize),
		log:           log.WithComponent("COMMANDS"),
	}
}

// New creates a receipt for the given outcome and enqueues it for
// execution. The receipt is marked sent immediately so its id can be
// embedded in the response before the command completes.
func (m *Manager) New(value interface{}, clientToNotify string) (*Receipt, error) {
	receipt := newReceipt(model.NewID())

	receipt.mu.Lock()
	receipt.sent = true

	if clientToNotify != "" {
		receipt.clientsToNotify[clientToNotify] = struct{}{}
	}

	receipt.mu.Unlock()

	if err := m.receipts.Add(receipt.id, receipt); err != nil {
		return nil, err
	}

	m.queue <- execution{value: value, receipt: receipt}

	return receipt, nil
}

// IsValidReceiptID reports whether the id references a live receipt
func (m *Manager) IsValidReceiptID(id string) bool {
	return m.receipts.Contains(id)
}

// FindByID returns a live receipt by id
func (m *Manager) FindByID(id string) (*Receipt, bool) {
	return m.receipts.Find(id)
}

// MarkClientsNotified records that the response carrying the receipt id
// reached the client; combined with the terminal result this releases the
// Finished signal
func (m *Manager) MarkClientsNotified(id string) error {
	receipt, ok := m.receipts.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchReceipt, id)
	}

	receipt.mu.Lock()
	receipt.clientNotified = true
	receipt.mu.Unlock()

	m.sendFinishedSignalIfNeeded(receipt)

	return nil
}

// Cancel cancels an in-flight command on behalf of the user
func (m *Manager) Cancel(id string) error {
	receipt, ok := m.receipts.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchReceipt, id)
	}

	receipt.mu.Lock()

	if receipt.finished {
		receipt.mu.Unlock()

		return fmt.Errorf("%w: %s", errors.ErrReceiptFinished, id)
	}

	receipt.cancelledByUser = true
	cancel := receipt.cancel
	receipt.mu.Unlock()

	if cancel != nil {
		cancel()
	} else {
		m.cancelledByUser(receipt)
	}

	return nil
}

// Resume delivers a value to a suspended command
func (m *Manager) Resume(id string, value interface{}) error {
	receipt, ok := m.receipts.Find(id)
	if !ok {
		return fmt.Errorf("%w: %s", errors.ErrNoSuchReceipt, id)
	}

	receipt.mu.Lock()
	suspended := receipt.suspended
	receipt.mu.Unlock()

	if !suspended {
		return fmt.Errorf("%w: %s", errors.ErrReceiptNotSuspended, id)
	}

	select {
	case receipt.resume <- value:
		return nil
	default:
		return fmt.Errorf("%w: %s", errors.ErrReceiptNotSuspended, id)
	}
}

// DiscardClient drops a disconnected client from the notification set of
// every live receipt
func (m *Manager) DiscardClient(clientID string) {
	for _, receipt := range m.receipts.Values() {
		receipt.DiscardClient(clientID)
	}
}

// Run executes enqueued commands and sweeps expired receipts until the
// context is cancelled
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cleanupPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.cleanup()
		case exec := <-m.queue:
			if future, ok := exec.value.(model.Future); ok {
				go m.execute(ctx, future, exec.receipt)
			} else {
				m.finish(exec.receipt, exec.value, nil)
			}
		}
	}
}

// execute runs one future under a cancel scope whose deadline is the
// receipt creation time plus the manager timeout
func (m *Manager) execute(ctx context.Context, future model.Future, receipt *Receipt) {
	execCtx, cancel := context.WithDeadline(ctx, receipt.createdAt.Add(m.timeout))
	defer cancel()

	receipt.mu.Lock()

	alreadyCancelled := receipt.cancelledByUser
	if !alreadyCancelled {
		receipt.cancel = cancel
	}

	receipt.mu.Unlock()

	if alreadyCancelled {
		m.cancelledByUser(receipt)

		return
	}

	result, err := m.runFuture(execCtx, future, receipt)

	switch {
	case receipt.CancelledByUser():
		m.cancelledByUser(receipt)
	case execCtx.Err() == context.DeadlineExceeded:
		m.timeoutReceipt(receipt)
	case err != nil:
		m.finish(receipt, nil, err)
	default:
		m.finish(receipt, result, nil)
	}
}

// runFuture invokes the future, turning panics into error results so one
// misbehaving handler cannot take the manager down
func (m *Manager) runFuture(ctx context.Context, future model.Future, receipt *Receipt) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error().Str("receipt", receipt.ID()).Msgf("Command handler panicked: %v", r)
			err = fmt.Errorf("internal error: %v", r)
		}
	}()

	return future(ctx, &handle{manager: m, receipt: receipt})
}

// finish stores the terminal result and releases the Finished signal when
// the client was already notified
func (m *Manager) finish(receipt *Receipt, result interface{}, err error) {
	receipt.mu.Lock()

	if receipt.finished || receipt.cancelled {
		receipt.mu.Unlock()

		return
	}

	receipt.finished = true
	receipt.suspended = false
	receipt.result = result

	if err != nil {
		receipt.errText = err.Error()
	}

	receipt.mu.Unlock()

	m.sendFinishedSignalIfNeeded(receipt)
}

func (m *Manager) sendFinishedSignalIfNeeded(receipt *Receipt) {
	receipt.mu.Lock()

	ready := receipt.finished && receipt.clientNotified && !receipt.terminalSent
	if ready {
		receipt.terminalSent = true
	}

	receipt.mu.Unlock()

	if ready {
		m.Finished.Emit(receipt)
	}
}

// cancelledByUser marks a user-initiated cancellation; the terminal
// notification carries an explicit cancel notice instead of a result
func (m *Manager) cancelledByUser(receipt *Receipt) {
	receipt.mu.Lock()

	if receipt.cancelled {
		receipt.mu.Unlock()

		return
	}

	receipt.cancelled = true
	receipt.suspended = false
	receipt.mu.Unlock()

	m.Cancelled.Emit(receipt)
}

// timeoutReceipt marks a command that hit its deadline and fires Expired
func (m *Manager) timeoutReceipt(receipt *Receipt) {
	receipt.mu.Lock()

	if receipt.cancelled || receipt.finished {
		receipt.mu.Unlock()

		return
	}

	receipt.cancelled = true
	receipt.timedOut = true
	receipt.suspended = false
	receipt.mu.Unlock()

	m.Expired.Emit([]*Receipt{receipt})
}

// cleanup purges terminal receipts and expires the ones that never finished
// within the timeout
func (m *Manager) cleanup() {
	cutoff := time.Now().Add(-m.timeout)
	expired := make([]*Receipt, 0)

	for _, id := range m.receipts.IDs() {
		receipt, ok := m.receipts.Find(id)
		if !ok {
			continue
		}

		receipt.mu.Lock()
		terminal := receipt.finished || receipt.cancelled
		aged := !receipt.finished && receipt.createdAt.Before(cutoff)

		if aged && !receipt.cancelled {
			receipt.cancelled = true
			receipt.timedOut = true
			expired = append(expired, receipt)
		}

		receipt.mu.Unlock()

		if terminal || aged {
			m.receipts.Remove(id)
		}
	}

	if len(expired) > 0 {
		m.Expired.Emit(expired)
	}
}

// handle implements model.CommandContext for one receipt
type handle struct {
	manager *Manager
	receipt *Receipt
}

// Report publishes an intermediate progress update
func (h *handle) Report(progress model.Progress) {
	h.receipt.mu.Lock()
	h.receipt.progress = &progress
	h.receipt.mu.Unlock()

	h.manager.StatusUpdated.Emit(h.receipt)
}

// Suspend parks the command until the client resumes it with a value. An
// optional progress payload rides in the same status notification.
func (h *handle) Suspend(ctx context.Context, progress *model.Progress) (interface{}, error) {
	h.receipt.mu.Lock()
	h.receipt.suspended = true

	if progress != nil {
		h.receipt.progress = progress
	}

	h.receipt.mu.Unlock()

	h.manager.StatusUpdated.Emit(h.receipt)

	select {
	case value := <-h.receipt.resume:
		h.receipt.mu.Lock()
		h.receipt.suspended = false
		h.receipt.mu.Unlock()

		h.manager.StatusUpdated.Emit(h.receipt)

		return value, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
