package notify

import (
	"context"
	"time"
)

//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks github.com/mattjoyce/velox/internal/handler/notify Notifier

// Notification is one system notification request.
type Notification struct {
	AppName string
	Title   string
	Body    string
	// Timeout is the display duration. Zero lets the notification server decide.
	Timeout time.Duration
}

// Notifier delivers notifications to the host's notification service.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
