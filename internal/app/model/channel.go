package model

import (
	"context"
)

//go:generate mockgen -source=channel.go -destination=channel_mock.go -package=model

// CommunicationChannel is the server-side endpoint of one client connection.
// Implementations must serialize concurrent Send calls.
type CommunicationChannel interface {
	Send(ctx context.Context, msg *Message) error
	Close(ctx context.Context) error
}

// Broadcaster sends one already encoded message to every connected client of
// a channel type in a single pass
type Broadcaster func(msg *Message)

// ChannelTypeDescriptor describes one transport kind known to the server.
// Descriptors are immutable once registered.
type ChannelTypeDescriptor struct {
	ID      string
	Factory func() CommunicationChannel

	// Broadcaster, when set, replaces per-client sends during fan-out
	Broadcaster Broadcaster

	// SSDPLocation maps a peer address to the service URI announced over
	// SSDP discovery, when the transport supports it
	SSDPLocation func(peer string) string
}
