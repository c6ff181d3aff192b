package notification

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stanstork/autorun-api/internal/repository"
)

type Event struct {
	TenantID string
	Event    models.NotificationEvent
	Severity models.NotificationSeverity
	Title    string
	Message  string
	Metadata map[string]interface{}
}

type Service interface {
	Publish(ctx context.Context, evt Event) (models.Notification, error)
	ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error)
	UnreadCount(ctx context.Context, tenantID string) (int, error)
}

type service struct {
	repo      repository.NotificationRepository
	logger    zerolog.Logger
	notifiers []Notifier
}

func NewService(repo repository.NotificationRepository, logger zerolog.Logger, notifiers ...Notifier) Service {
	active := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			active = append(active, notifier)
		}
	}
	return &service{
		repo:      repo,
		logger:    logger.With().Str("component", "notification_service").Logger(),
		notifiers: active,
	}
}

// Publish stores the notification and fans it out. Delivery failures are
// logged per channel and do not fail the call.
func (s *service) Publish(ctx context.Context, evt Event) (models.Notification, error) {
	if evt.Event == "" {
		return models.Notification{}, errors.New("event type is required")
	}
	if evt.Severity == "" {
		evt.Severity = models.NotificationSeverityInfo
	}
	title := strings.TrimSpace(evt.Title)
	if title == "" {
		title = string(evt.Event)
	}

	notif, err := s.repo.Create(ctx, repository.CreateNotificationParams{
		TenantID: strings.TrimSpace(evt.TenantID),
		Event:    evt.Event,
		Severity: evt.Severity,
		Title:    title,
		Message:  strings.TrimSpace(evt.Message),
		Metadata: evt.Metadata,
	})
	if err != nil {
		s.logger.Error().Err(err).Str("event_type", string(evt.Event)).Msg("failed to persist notification")
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if err := notifier.Notify(ctx, notif); err != nil {
			logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
		}
	}
	return notif, nil
}

func (s *service) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Notification, error) {
	return s.repo.ListRecent(ctx, tenantID, limit)
}

func (s *service) MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error) {
	notif, err := s.repo.MarkRead(ctx, tenantID, notificationID)
	if err != nil {
		return models.Notification{}, err
	}
	for _, notifier := range s.notifiers {
		if w, ok := notifier.(UnreadWatcher); ok {
			if err := w.UnreadChanged(ctx, tenantID); err != nil {
				logNotifyError(s.logger, err, notifierChannelName(notifier), notif)
			}
		}
	}
	return notif, nil
}

func (s *service) UnreadCount(ctx context.Context, tenantID string) (int, error) {
	return s.repo.CountUnread(ctx, tenantID)
}
