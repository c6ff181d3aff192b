package handlers

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stanstork/autorun-api/internal/notification"
	"github.com/stanstork/autorun-api/internal/repository"
)

type NotificationHandler struct {
	service notification.Service
	logger  zerolog.Logger
}

func NewNotificationHandler(service notification.Service, logger zerolog.Logger) *NotificationHandler {
	return &NotificationHandler{
		service: service,
		logger:  logger.With().Str("handler", "notification").Logger(),
	}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 25)
	if limit == 0 {
		limit = 25
	}

	notifications, err := h.service.ListRecent(r.Context(), tenantID, limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to list notifications")
		writeError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}
	if notifications == nil {
		notifications = []models.Notification{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
	})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}

	notifID := strings.TrimSpace(mux.Vars(r)["notificationID"])
	if notifID == "" {
		writeError(w, http.StatusBadRequest, "Notification ID is required")
		return
	}

	notif, err := h.service.MarkRead(r.Context(), tenantID, notifID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Notification not found")
			return
		}
		h.logger.Error().Err(err).Str("notification_id", notifID).Msg("failed to mark notification as read")
		writeError(w, http.StatusInternalServerError, "Failed to update notification")
		return
	}

	writeJSON(w, http.StatusOK, notif)
}

func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	count, err := h.service.UnreadCount(r.Context(), tenantID)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to count unread notifications")
		writeError(w, http.StatusInternalServerError, "Failed to count notifications")
		return
	}
	writeJSON(w, http.StatusOK, models.UnreadCount{Count: count})
}
