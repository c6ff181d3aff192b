package notification

import (
	"context"
	"strings"

	"github.com/stanstork/autorun-api/internal/models"
)

// StreamPublisher sends a named event to a tenant's live streams.
type StreamPublisher interface {
	Publish(tenantID, event string, payload interface{}) error
}

// UnreadCounter reports a tenant's unread notification count.
type UnreadCounter interface {
	CountUnread(ctx context.Context, tenantID string) (int, error)
}

// StreamNotifier pushes notifications and unread counts onto the live
// update stream.
type StreamNotifier struct {
	stream StreamPublisher
	counts UnreadCounter
}

func NewStreamNotifier(stream StreamPublisher, counts UnreadCounter) *StreamNotifier {
	return &StreamNotifier{stream: stream, counts: counts}
}

func (n *StreamNotifier) Notify(ctx context.Context, notif models.Notification) error {
	if notif.TenantID == nil || strings.TrimSpace(*notif.TenantID) == "" {
		return nil
	}
	tenantID := *notif.TenantID
	if err := n.stream.Publish(tenantID, models.StreamEventNotification, notif); err != nil {
		return err
	}
	return n.UnreadChanged(ctx, tenantID)
}

func (n *StreamNotifier) UnreadChanged(ctx context.Context, tenantID string) error {
	if n.counts == nil {
		return nil
	}
	count, err := n.counts.CountUnread(ctx, tenantID)
	if err != nil {
		return err
	}
	return n.stream.Publish(tenantID, models.StreamEventUnreadCount, models.UnreadCount{Count: count})
}

func (n *StreamNotifier) String() string {
	return "StreamNotifier"
}
