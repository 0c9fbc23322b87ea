// Package notify delivers account notifications such as password-reset codes.
//
// Delivery is best-effort: callers treat any error from Send as a failed side
// channel, never as a failure of the operation that produced the message.
package notify

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned by senders that have no outbound transport.
var ErrNotConfigured = errors.New("no notification transport configured")

// Message is a rendered outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers a rendered message. Implementations must honor ctx
// cancellation.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(ctx context.Context, msg Message) error

func (f SenderFunc) Send(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// Disabled is a Sender for deployments without outbound mail.
type Disabled struct{}

func (Disabled) Send(context.Context, Message) error {
	return ErrNotConfigured
}
