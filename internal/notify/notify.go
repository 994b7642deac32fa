// Package notify delivers outage alerts. Delivery is best effort: callers log failures
// and never let them affect persisted state.
package notify

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotConfigured = errors.New("notifier credentials are not configured")
	ErrQueueFull     = errors.New("notification queue is full")
)

type Kind string

const (
	KindOffline   Kind = "offline"
	KindRecovered Kind = "recovered"
)

type Message struct {
	Kind     Kind
	HostID   string
	HostName string
	Text     string
}

type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Error is a failed delivery: the destination was unreachable or answered with a
// non-success status.
type Error struct {
	StatusCode  int
	Description string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("notify: %v", e.Err)
	}
	if e.Description != "" {
		return fmt.Sprintf("notify: status %d: %s", e.StatusCode, e.Description)
	}
	return fmt.Sprintf("notify: status %d", e.StatusCode)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Func adapts a function into a Notifier.
type Func func(ctx context.Context, msg Message) error

func (f Func) Notify(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}
