package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/automation"
	"github.com/stanstork/autorun-api/internal/models"
)

type AutomationHandler struct {
	service *automation.Service
	history *automation.History
	logger  zerolog.Logger
}

func NewAutomationHandler(service *automation.Service, history *automation.History, logger zerolog.Logger) *AutomationHandler {
	return &AutomationHandler{
		service: service,
		history: history,
		logger:  logger.With().Str("handler", "automation").Logger(),
	}
}

// createdAutomation exposes the webhook secret. It is only returned once,
// in the response to the create call.
type createdAutomation struct {
	models.Automation
	WebhookSecret string `json:"webhook_secret"`
}

func (h *AutomationHandler) Create(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var in automation.CreateInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}

	a, err := h.service.Create(r.Context(), tenantID, in)
	if err != nil {
		h.fail(w, err, "failed to create automation")
		return
	}
	writeJSON(w, http.StatusCreated, createdAutomation{Automation: a, WebhookSecret: a.WebhookSecret})
}

func (h *AutomationHandler) List(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	list, err := h.service.List(r.Context(), tenantID)
	if err != nil {
		h.fail(w, err, "failed to list automations")
		return
	}
	if list == nil {
		list = []models.Automation{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"automations": list})
}

func (h *AutomationHandler) Get(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	a, err := h.service.Get(r.Context(), tenantID, mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err, "failed to load automation")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// UpdateSchedule replaces the schedule. A body of {"schedule": null}
// clears it.
func (h *AutomationHandler) UpdateSchedule(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	var payload struct {
		Schedule *models.Schedule `json:"schedule"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request payload")
		return
	}
	a, err := h.service.UpdateSchedule(r.Context(), tenantID, mux.Vars(r)["id"], payload.Schedule)
	if err != nil {
		h.fail(w, err, "failed to update schedule")
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *AutomationHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	runs, err := h.history.Runs(r.Context(), tenantID, mux.Vars(r)["id"], limit, offset)
	if err != nil {
		h.fail(w, err, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []models.AutomationRun{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"runs": runs})
}

func (h *AutomationHandler) ListLogs(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := requireTenant(w, r)
	if !ok {
		return
	}
	runID := strings.TrimSpace(mux.Vars(r)["runID"])
	logs, err := h.history.Logs(r.Context(), tenantID, runID)
	if err != nil {
		h.fail(w, err, "failed to list logs")
		return
	}
	if logs == nil {
		logs = []models.AutomationLog{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"logs": logs})
}

func (h *AutomationHandler) fail(w http.ResponseWriter, err error, msg string) {
	status := automation.StatusCode(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Msg(msg)
	}
	writeError(w, status, automation.PublicMessage(err))
}
