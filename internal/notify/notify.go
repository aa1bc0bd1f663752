// Package notify defines the notification sink boundary. Delivery is
// fire-and-forget: sinks receive requests after the owning transaction has
// committed, and a failed delivery is logged, never rolled back into ledger
// state.
package notify

import (
	"context"
	"log/slog"
)

// Notification is one user-facing message.
type Notification struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// Sink delivers notifications to an external channel (push, chat, queue).
type Sink interface {
	Send(ctx context.Context, userID string, n Notification) error
	SendMany(ctx context.Context, userIDs []string, n Notification) error
}

// Ensure SlogSink implements Sink
var _ Sink = (*SlogSink)(nil)

// SlogSink logs notifications instead of delivering them. Default sink for
// local development and tests.
type SlogSink struct{}

// Send logs a single notification.
func (SlogSink) Send(ctx context.Context, userID string, n Notification) error {
	slog.Info("notification", "user_id", userID, "title", n.Title, "body", n.Body)
	return nil
}

// SendMany logs a fan-out notification.
func (SlogSink) SendMany(ctx context.Context, userIDs []string, n Notification) error {
	slog.Info("notification fan-out", "recipients", len(userIDs), "title", n.Title, "body", n.Body)
	return nil
}
