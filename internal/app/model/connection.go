package model

import (
	"context"
)

//go:generate mockgen -source=connection.go -destination=connection_mock.go -package=model

// Connection state names. Transitions follow
// disconnected → connecting → connected → disconnecting → disconnected,
// with connecting → disconnecting as the only shortcut.
const (
	ConnStateDisconnected  = "disconnected"
	ConnStateConnecting    = "connecting"
	ConnStateConnected     = "connected"
	ConnStateDisconnecting = "disconnecting"
)

// IsStableConnState reports whether the state is a resting state rather than
// a transition
func IsStableConnState(state string) bool {
	return state == ConnStateConnected || state == ConnStateDisconnected
}

// Connection is a transport link to a vehicle or ground hardware. Open
// blocks until the link is established; Run blocks while the link is healthy
// and returns when it drops. Both honor context cancellation.
type Connection interface {
	Open(ctx context.Context) error
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}
