package errors

import (
	"errors"
)

var (
	ErrFailedToReadConfig  = errors.New("failed to read config file")
	ErrFailedToParseConfig = errors.New("failed to parse config file")

	ErrInvalidQueueSize      = errors.New("queue size must be greater than 0")
	ErrInvalidSizeLimit      = errors.New("object registry size limit must be greater than 0")
	ErrInvalidCommandTimeout = errors.New("command timeout must be greater than 0")
	ErrInvalidCleanupPeriod  = errors.New("command cleanup period must be greater than 0")
	ErrInvalidRateLimitDelay = errors.New("rate limit delays must not be negative")
	ErrInvalidRetryBackoff   = errors.New("retry backoff must not be negative")
	ErrInvalidRetryAttempts  = errors.New("retry attempts must not be negative")

	ErrIDConflict    = errors.New("id already taken in registry")
	ErrRegistryFull  = errors.New("registry is full")
	ErrNoSuchEntry   = errors.New("no such entry")
	ErrNoSuchClient  = errors.New("no such client")
	ErrNoSuchObject  = errors.New("no such object")
	ErrNoSuchChannel = errors.New("no such channel type")
	ErrNoSuchConn    = errors.New("no such connection")
	ErrNoSuchClock   = errors.New("no such clock")
	ErrNoSuchPath    = errors.New("no such device tree path")
	ErrNoSuchReceipt = errors.New("no such receipt")

	ErrClientAlreadyAuthenticated = errors.New("client is already authenticated")
	ErrChannelClosed              = errors.New("communication channel is closed")
	ErrQueueFull                  = errors.New("outbound queue is full")

	ErrReceiptNotSuspended = errors.New("receipt is not suspended")
	ErrReceiptFinished     = errors.New("receipt has already finished")

	ErrLimiterRunning    = errors.New("rate limiter registry is already running")
	ErrNoSuchLimiter     = errors.New("no such rate limiter tag")
	ErrNotSubscribed     = errors.New("client is not subscribed to path")
	ErrInvalidPathFilter = errors.New("invalid path filter pattern")

	ErrNotSupported   = errors.New("operation not supported")
	ErrNotImplemented = errors.New("operation not implemented")

	ErrInvalidTransition = errors.New("invalid connection state transition")
	ErrMaxRetriesReached = errors.New("max connection retry attempts exceeded")

	ErrInvalidMessage = errors.New("invalid message")
)
