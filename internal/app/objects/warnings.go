package objects

import (
	"sync"

	"skyhub/internal/config/logger"
)

// fullWarningLimit is the number of registry-full warnings logged per source
// before further ones are suppressed
const fullWarningLimit = 5

// FullWarnings rate-limits registry-full log noise: drivers report every
// refused add here and the warning is logged at most fullWarningLimit times
// per source.
type FullWarnings struct {
	log logger.Logger

	mu     sync.Mutex
	counts map[string]int
}

// NewFullWarnings creates a registry-full warning suppressor
func NewFullWarnings(log logger.Logger) *FullWarnings {
	return &FullWarnings{
		log:    log.WithComponent("OBJECTS"),
		counts: make(map[string]int),
	}
}

// Warn logs a refused add on behalf of a source. It returns false once the
// source exhausted its warning budget.
func (w *FullWarnings) Warn(source string, err error) bool {
	w.mu.Lock()
	w.counts[source]++
	count := w.counts[source]
	w.mu.Unlock()

	if count > fullWarningLimit {
		return false
	}

	event := w.log.Warn().Err(err).Str("source", source)

	if count == fullWarningLimit {
		event.Msg("Object registry full, suppressing further warnings from this source")
	} else {
		event.Msg("Object registry full")
	}

	return true
}

// Reset clears the warning budget of a source, typically after an add
// succeeded again
func (w *FullWarnings) Reset(source string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	delete(w.counts, source)
}
