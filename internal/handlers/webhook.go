package handlers

import (
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/automation"
)

// WebhookHandler is the endpoint automation executors report runs to.
type WebhookHandler struct {
	controller  *automation.Controller
	automations *automation.Service
	maxBody     int64
	baseURL     string
	logger      zerolog.Logger
}

func NewWebhookHandler(controller *automation.Controller, automations *automation.Service, baseURL string, maxBody int64, logger zerolog.Logger) *WebhookHandler {
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &WebhookHandler{
		controller:  controller,
		automations: automations,
		maxBody:     maxBody,
		baseURL:     strings.TrimRight(baseURL, "/"),
		logger:      logger.With().Str("handler", "webhook").Logger(),
	}
}

// Receive handles start, log and complete calls. The body is passed on
// untouched so the signature is checked against the exact bytes sent.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	pathID := strings.TrimSpace(mux.Vars(r)["id"])

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	result, err := h.controller.Handle(r.Context(), body, r.Header.Get(h.controller.SignatureHeader()), pathID)
	if err != nil {
		status := automation.StatusCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("path_id", pathID).Msg("webhook failed")
		} else {
			h.logger.Debug().Err(err).Int("status", status).Msg("webhook rejected")
		}
		writeError(w, status, automation.PublicMessage(err))
		return
	}

	resp := map[string]interface{}{"success": true}
	if result.RunID != "" {
		resp["run_id"] = result.RunID
	}
	if result.Message != "" {
		resp["message"] = result.Message
	}
	writeJSON(w, http.StatusOK, resp)
}

// Metadata returns what an executor may read back about its automation.
func (h *WebhookHandler) Metadata(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(mux.Vars(r)["id"])
	summary, err := h.automations.Summary(r.Context(), id)
	if err != nil {
		status := automation.StatusCode(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("automation_id", id).Msg("failed to load automation metadata")
		}
		writeError(w, status, automation.PublicMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// Usage documents the webhook actions.
func (h *WebhookHandler) Usage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"endpoint":         h.baseURL + "/automation/webhook/{automation_id}",
		"method":           http.MethodPost,
		"signature_header": h.controller.SignatureHeader(),
		"signature":        "hex encoded HMAC-SHA256 of the raw request body, keyed with the automation's webhook secret",
		"actions": map[string]interface{}{
			"start": map[string]interface{}{
				"description": "Create a run in the running state",
				"fields":      []string{"system_id", "trigger_type", "input_data"},
				"returns":     "run_id",
			},
			"log": map[string]interface{}{
				"description": "Append a log entry to a run",
				"required":    []string{"system_id", "run_id"},
				"fields":      []string{"level", "message", "step_name", "step_index", "log_data"},
			},
			"complete": map[string]interface{}{
				"description": "Move a run to success, failed or cancelled",
				"required":    []string{"system_id", "run_id"},
				"fields":      []string{"status", "output_data", "error_message", "error_details"},
			},
		},
	})
}
