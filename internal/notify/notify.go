// Package notify delivers operator notifications. Every implementation is
// best-effort: a delivery failure is logged by the caller, never fatal.
package notify

import (
	"context"

	"go.uber.org/zap"
)

// Multi fans one message out to several notifiers. Individual failures are
// logged and swallowed so one broken channel cannot silence the others.
type Multi struct {
	notifiers []Notifier
	logger    *zap.Logger
}

// Notifier is re-declared locally to keep the package self-contained; it is
// satisfied by the same implementations as collector.Notifier.
type Notifier interface {
	Send(ctx context.Context, message string) error
}

// NewMulti builds a fan-out notifier.
func NewMulti(logger *zap.Logger, notifiers ...Notifier) *Multi {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Multi{
		notifiers: notifiers,
		logger:    logger,
	}
}

// Send delivers the message to every notifier and always reports success.
func (m *Multi) Send(ctx context.Context, message string) error {
	for _, n := range m.notifiers {
		if err := n.Send(ctx, message); err != nil {
			m.logger.Error("notification failed", zap.Error(err))
		}
	}
	return nil
}

// Nop discards every message.
type Nop struct{}

// Send implements Notifier.
func (Nop) Send(context.Context, string) error {
	return nil
}
