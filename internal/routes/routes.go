package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/stanstork/autorun-api/internal/handlers"
)

type Handlers struct {
	Health        http.HandlerFunc
	Webhook       *handlers.WebhookHandler
	Tenants       *handlers.TenantHandler
	Automations   *handlers.AutomationHandler
	Notifications *handlers.NotificationHandler
	Realtime      *handlers.RealtimeHandler
}

// NewRouter sets up the API routes. Webhook routes are authenticated by
// signature, everything under /api by the auth middleware.
func NewRouter(h Handlers, auth func(http.Handler) http.Handler) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// Executor callbacks
	router.HandleFunc("/automation/webhook", h.Webhook.Receive).Methods(http.MethodPost)
	router.HandleFunc("/automation/webhook/{id}", h.Webhook.Receive).Methods(http.MethodPost)
	router.HandleFunc("/automation/webhook", h.Webhook.Usage).Methods(http.MethodGet)
	router.HandleFunc("/automation/webhook/{id}", h.Webhook.Metadata).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.Use(auth)

	api.HandleFunc("/tenant", h.Tenants.Current).Methods(http.MethodGet)

	api.HandleFunc("/automations", h.Automations.Create).Methods(http.MethodPost)
	api.HandleFunc("/automations", h.Automations.List).Methods(http.MethodGet)
	api.HandleFunc("/automations/{id}", h.Automations.Get).Methods(http.MethodGet)
	api.HandleFunc("/automations/{id}/schedule", h.Automations.UpdateSchedule).Methods(http.MethodPut)
	api.HandleFunc("/automations/{id}/runs", h.Automations.ListRuns).Methods(http.MethodGet)
	api.HandleFunc("/runs/{runID}/logs", h.Automations.ListLogs).Methods(http.MethodGet)

	api.HandleFunc("/notifications", h.Notifications.List).Methods(http.MethodGet)
	api.HandleFunc("/notifications/unread-count", h.Notifications.UnreadCount).Methods(http.MethodGet)
	api.HandleFunc("/notifications/{notificationID}/read", h.Notifications.MarkRead).Methods(http.MethodPost)

	api.HandleFunc("/realtime/stream", h.Realtime.Stream).Methods(http.MethodGet)
	api.HandleFunc("/realtime/changes", h.Realtime.Changes).Methods(http.MethodGet)

	return router
}
