package config

import "time"

// Version is the server version reported in SYS-VER responses
const Version = "1.3.0"

// ServerName is the product name reported in SYS-VER responses
const ServerName = "skyhub"

// ProtocolVersion is the envelope protocol version stamped on every message
const ProtocolVersion = "1.0"

// Default configuration values
const (
	LogLevel  = "info"
	LogFormat = "console"

	TCPListenAddr = ":5001"
	WSListenAddr  = ":5000"
	WSPath        = "/ws"

	OutboundQueueSize  = 4096
	ClientBufferSize   = 64
	ObjectRegistrySize = 1000

	CommandTimeout       = 30 * time.Second
	CommandCleanupPeriod = 1 * time.Second

	StatusBatchDelay   = 100 * time.Millisecond
	ConnSettleDelay    = 100 * time.Millisecond
	ConnStableStateAge = 200 * time.Millisecond

	RetryBackoff        = 1 * time.Second
	RetryAttempts       = 0 // 0 means retry forever
	ShutdownGracePeriod = 3 * time.Second

	WatchDebounce = 500 * time.Millisecond
)

// ConfigFileName is the default configuration file read from the working directory
const ConfigFileName = "skyhub.yaml"

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "SKYHUB"
