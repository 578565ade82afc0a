package model

import (
	"context"
)

// Progress is an intermediate progress report of an asynchronous command
type Progress struct {
	Percentage *int   `json:"percentage,omitempty"`
	Message    string `json:"message,omitempty"`
}

// NewProgress creates a progress report with a percentage and message
func NewProgress(percentage int, message string) Progress {
	return Progress{Percentage: &percentage, Message: message}
}

// CommandContext is handed to a Future while it runs. Report publishes an
// intermediate progress update; Suspend parks the command until the client
// resumes it with a value.
type CommandContext interface {
	Report(progress Progress)
	Suspend(ctx context.Context, progress *Progress) (interface{}, error)
}

// Future is a deferred command outcome executed by the command manager under
// a receipt with a deadline
type Future func(ctx context.Context, cc CommandContext) (interface{}, error)
