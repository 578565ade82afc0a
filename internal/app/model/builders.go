package model

import (
	"crypto/rand"
)

// idAlphabet is the URL-safe base64 alphabet used for identifiers
const idAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// idLength is 10 characters of 6 bits each, 60 bits of entropy
const idLength = 10

// NewID generates a random URL-safe base64 identifier carrying 60 bits of
// entropy, matching the wire format of message ids
func NewID() string {
	buf := make([]byte, idLength)
	_, _ = rand.Read(buf)

	for i, b := range buf {
		buf[i] = idAlphabet[b&0x3f]
	}

	return string(buf)
}

// MessageBuilder creates envelopes stamped with the protocol version
type MessageBuilder struct {
	version string
	nextID  func() string
}

// NewMessageBuilder creates a builder for the given protocol version
func NewMessageBuilder(version string) *MessageBuilder {
	return &MessageBuilder{
		version: version,
		nextID:  NewID,
	}
}

// CreateMessage creates a new message with the given body
func (b *MessageBuilder) CreateMessage(body Body) *Message {
	return &Message{
		Version: b.version,
		ID:      b.nextID(),
		Body:    body,
	}
}

// CreateNotification creates a new notification with the given body; a
// notification never references a request
func (b *MessageBuilder) CreateNotification(body Body) *Message {
	return b.CreateMessage(body)
}

// CreateResponseTo creates a response to the given message. When the body
// lacks a type, the type of the request is copied over.
func (b *MessageBuilder) CreateResponseTo(msg *Message, body Body) *Message {
	if body == nil {
		body = Body{}
	}

	if _, ok := body["type"]; !ok {
		body["type"] = msg.Type()
	}

	response := b.CreateMessage(body)
	response.RefID = msg.ID

	return response
}

// CreateAck creates a positive acknowledgement of the given message
func (b *MessageBuilder) CreateAck(msg *Message) *Message {
	return b.CreateResponseTo(msg, Body{"type": TypeAckAck})
}

// CreateNak creates a negative acknowledgement with a reason
func (b *MessageBuilder) CreateNak(msg *Message, reason string) *Message {
	body := Body{"type": TypeAckNak}
	if reason != "" {
		body["reason"] = reason
	}

	return b.CreateResponseTo(msg, body)
}
