package notification

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/models"
)

// Notifier delivers a stored notification over one channel.
type Notifier interface {
	Notify(ctx context.Context, notification models.Notification) error
}

// UnreadWatcher is implemented by notifiers that also track unread counts.
type UnreadWatcher interface {
	UnreadChanged(ctx context.Context, tenantID string) error
}

func notifierChannelName(n Notifier) string {
	type named interface {
		String() string
	}
	if v, ok := n.(named); ok {
		return v.String()
	}
	return fmt.Sprintf("%T", n)
}

func logNotifyError(logger zerolog.Logger, err error, channel string, notif models.Notification) {
	if err == nil {
		return
	}
	logger.Warn().
		Err(err).
		Str("notification_id", notif.ID).
		Str("event_type", string(notif.EventType)).
		Str("channel", channel).
		Msg("failed to deliver notification")
}
