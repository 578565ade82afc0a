package model

import (
	"context"
)

//go:generate mockgen -source=driver.go -destination=driver_mock.go -package=model

// CommandHandler executes one command on a single target. The returned value
// may be a plain result or a Future for asynchronous completion.
type CommandHandler func(ctx context.Context, uav UAV, body Body) (interface{}, error)

// MultiCommandHandler executes one command on a whole group of targets owned
// by the same driver. A map[string]interface{} result assigns outcomes per
// target id; any other result is broadcast to every target in the group.
type MultiCommandHandler func(ctx context.Context, uavs []UAV, body Body) (interface{}, error)

// CommandMap holds the registered command handlers of a driver: exact-token
// handlers plus two fallback slots, looked up in the order multi(token),
// single(token), generic multi, generic.
type CommandMap struct {
	single       map[string]CommandHandler
	multi        map[string]MultiCommandHandler
	generic      CommandHandler
	genericMulti MultiCommandHandler
}

// NewCommandMap creates an empty command map
func NewCommandMap() *CommandMap {
	return &CommandMap{
		single: make(map[string]CommandHandler),
		multi:  make(map[string]MultiCommandHandler),
	}
}

// Register adds a single-target handler for a command token
func (m *CommandMap) Register(token string, handler CommandHandler) *CommandMap {
	m.single[token] = handler
	return m
}

// RegisterMulti adds a group handler for a command token
func (m *CommandMap) RegisterMulti(token string, handler MultiCommandHandler) *CommandMap {
	m.multi[token] = handler
	return m
}

// RegisterGeneric sets the fallback handler for unknown tokens
func (m *CommandMap) RegisterGeneric(handler CommandHandler) *CommandMap {
	m.generic = handler
	return m
}

// RegisterGenericMulti sets the group fallback handler for unknown tokens
func (m *CommandMap) RegisterGenericMulti(handler MultiCommandHandler) *CommandMap {
	m.genericMulti = handler
	return m
}

// Single returns the exact single-target handler for a token
func (m *CommandMap) Single(token string) (CommandHandler, bool) {
	h, ok := m.single[token]
	return h, ok
}

// Multi returns the exact group handler for a token
func (m *CommandMap) Multi(token string) (MultiCommandHandler, bool) {
	h, ok := m.multi[token]
	return h, ok
}

// Generic returns the fallback single-target handler
func (m *CommandMap) Generic() (CommandHandler, bool) {
	return m.generic, m.generic != nil
}

// GenericMulti returns the fallback group handler
func (m *CommandMap) GenericMulti() (MultiCommandHandler, bool) {
	return m.genericMulti, m.genericMulti != nil
}

// Driver is the interface the dispatch layer sees of a vehicle driver.
// Concrete drivers live outside the core.
type Driver interface {
	ID() string
	Commands() *CommandMap
}
