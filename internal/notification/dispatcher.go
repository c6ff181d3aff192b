package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/automation"
	"github.com/stanstork/autorun-api/internal/models"
)

// Dispatcher consumes run lifecycle events. Every transition is pushed to
// the tenant's live stream as an automation_update; completions are also
// stored as notifications.
type Dispatcher struct {
	service Service
	stream  StreamPublisher
	logger  zerolog.Logger
}

var _ automation.Notifier = (*Dispatcher)(nil)

func NewDispatcher(service Service, stream StreamPublisher, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		service: service,
		stream:  stream,
		logger:  logger.With().Str("component", "run_dispatcher").Logger(),
	}
}

func (d *Dispatcher) Notify(ctx context.Context, e automation.Event) error {
	tenantID := e.Run.TenantID
	if tenantID == "" {
		tenantID = e.Automation.TenantID
	}

	var firstErr error
	if d.stream != nil {
		update := models.UpdateFromRun(e.Run, e.Automation.Title)
		if err := d.stream.Publish(tenantID, models.StreamEventAutomationUpdate, update); err != nil {
			firstErr = err
		}
	}

	if e.Type != automation.EventRunCompleted || d.service == nil {
		return firstErr
	}

	if _, err := d.service.Publish(ctx, completionEvent(tenantID, e)); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func completionEvent(tenantID string, e automation.Event) Event {
	name := fallbackName(e.Automation.Title, e.Automation.ID)
	metadata := map[string]interface{}{
		"automation_id": e.Automation.ID,
		"run_id":        e.Run.ID,
		"status":        e.Run.Status,
	}
	if e.Run.DurationMS != nil {
		metadata["duration_ms"] = *e.Run.DurationMS
	}

	switch e.Run.Status {
	case models.RunStatusFailed:
		reason := "Unknown error"
		if e.Run.ErrorMessage != nil && strings.TrimSpace(*e.Run.ErrorMessage) != "" {
			reason = strings.TrimSpace(*e.Run.ErrorMessage)
		}
		metadata["reason"] = reason
		return Event{
			TenantID: tenantID,
			Event:    models.NotificationEventRunFailed,
			Severity: models.NotificationSeverityError,
			Title:    fmt.Sprintf("Automation failed: %s", name),
			Message:  fmt.Sprintf("Run %s of %s failed: %s", e.Run.ID, name, reason),
			Metadata: metadata,
		}
	case models.RunStatusCancelled:
		return Event{
			TenantID: tenantID,
			Event:    models.NotificationEventRunCancelled,
			Severity: models.NotificationSeverityWarning,
			Title:    fmt.Sprintf("Automation cancelled: %s", name),
			Message:  fmt.Sprintf("Run %s of %s was cancelled.", e.Run.ID, name),
			Metadata: metadata,
		}
	default:
		return Event{
			TenantID: tenantID,
			Event:    models.NotificationEventRunSucceeded,
			Severity: models.NotificationSeverityInfo,
			Title:    fmt.Sprintf("Automation succeeded: %s", name),
			Message:  fmt.Sprintf("Run %s of %s completed successfully.", e.Run.ID, name),
			Metadata: metadata,
		}
	}
}

func fallbackName(name, fallback string) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return fallback
}
