// Package notify delivers user-facing messages: reset and deadline
// reminders, challenge announcements. Delivery is best effort and never
// blocks or fails the caller.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Message is one notification addressed to a user.
type Message struct {
	UserID int64
	Title  string
	Body   string
}

// HubNotifier publishes notifications through a Hub so connected clients
// receive them live, and logs each one.
type HubNotifier struct {
	hub *Hub
	log *zap.Logger
}

// NewHubNotifier creates a notifier backed by the given hub.
func NewHubNotifier(hub *Hub, logger *zap.Logger) *HubNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HubNotifier{hub: hub, log: logger}
}

// Notify publishes a message to the user's stream.
func (n *HubNotifier) Notify(ctx context.Context, userID int64, title, body string) {
	n.hub.Publish(userID, Message{UserID: userID, Title: title, Body: body})
	n.log.Info("notification sent",
		zap.Int64("user", userID),
		zap.String("title", title),
		zap.String("body", body))
}

// ResetReminderBody renders the nudge sent ahead of a user's daily reset.
func ResetReminderBody(kind, title string, hoursLeft int) string {
	return fmt.Sprintf("%s %q is still open, about %d hours until your day resets", kind, title, hoursLeft)
}
