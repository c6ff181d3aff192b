// Package automation implements the run lifecycle driven by executor webhooks.
package automation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stanstork/autorun-api/internal/repository"
	"github.com/stanstork/autorun-api/internal/webhook"
)

type Action string

const (
	ActionStart    Action = "start"
	ActionLog      Action = "log"
	ActionComplete Action = "complete"
)

const msgAlreadyCompleted = "run already completed"

// A failed run always carries an error message.
const defaultFailureMessage = "Unknown error"

// Request is the webhook body sent by an automation executor.
type Request struct {
	SystemID     string           `json:"system_id"`
	Action       Action           `json:"action"`
	RunID        string           `json:"run_id,omitempty"`
	TriggerType  string           `json:"trigger_type,omitempty"`
	InputData    json.RawMessage  `json:"input_data,omitempty"`
	Level        string           `json:"level,omitempty"`
	Message      string           `json:"message,omitempty"`
	StepName     *string          `json:"step_name,omitempty"`
	StepIndex    *int             `json:"step_index,omitempty"`
	LogData      json.RawMessage  `json:"log_data,omitempty"`
	Status       models.RunStatus `json:"status,omitempty"`
	OutputData   json.RawMessage  `json:"output_data,omitempty"`
	ErrorMessage *string          `json:"error_message,omitempty"`
	ErrorDetails json.RawMessage  `json:"error_details,omitempty"`
}

// Result is what a successful webhook call reports back. Event is set when
// the call changed run state.
type Result struct {
	RunID   string `json:"run_id,omitempty"`
	Message string `json:"message,omitempty"`
	Event   *Event `json:"-"`
}

type Controller struct {
	automations repository.AutomationRepository
	runs        repository.RunRepository
	notifier    Notifier
	policy      webhook.Policy
	guard       bool
	now         func() time.Time
	newID       func() string
	logger      zerolog.Logger
}

type Option func(*Controller)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithIDGenerator replaces the run id source.
func WithIDGenerator(newID func() string) Option {
	return func(c *Controller) { c.newID = newID }
}

func WithNotifier(n Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

func WithSignaturePolicy(p webhook.Policy) Option {
	return func(c *Controller) { c.policy = p }
}

// WithCompletionGuard controls whether complete only transitions runs that
// are still running. With the guard off the last complete call wins.
func WithCompletionGuard(enabled bool) Option {
	return func(c *Controller) { c.guard = enabled }
}

func NewController(automations repository.AutomationRepository, runs repository.RunRepository, logger zerolog.Logger, opts ...Option) *Controller {
	c := &Controller{
		automations: automations,
		runs:        runs,
		guard:       true,
		now:         time.Now,
		newID:       uuid.NewString,
		logger:      logger.With().Str("component", "lifecycle").Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SignatureHeader is the request header the controller reads signatures from.
func (c *Controller) SignatureHeader() string {
	return c.policy.HeaderName()
}

// Handle processes one webhook call. body must be the exact bytes received,
// since the signature covers them. pathID, when set, is the automation id
// taken from the callback URL.
func (c *Controller) Handle(ctx context.Context, body []byte, signature, pathID string) (Result, error) {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return Result{}, badRequest("invalid JSON body")
	}

	systemID := strings.TrimSpace(req.SystemID)
	switch {
	case systemID == "" && pathID == "":
		return Result{}, badRequest("system_id is required")
	case systemID == "":
		systemID = pathID
	case pathID != "" && systemID != pathID:
		return Result{}, badRequest("system_id does not match webhook url")
	}

	automation, err := c.automations.Get(ctx, systemID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{}, notFound("automation not found")
		}
		return Result{}, storageFailure("failed to load automation", err)
	}

	if !c.policy.Check(body, signature, automation.WebhookSecret, automation.SignatureRequired) {
		c.logger.Warn().Str("automation_id", automation.ID).Msg("rejected webhook with invalid signature")
		return Result{}, &Error{Kind: ErrUnauthorized, Message: "invalid signature"}
	}

	var res Result
	switch req.Action {
	case ActionStart:
		res, err = c.start(ctx, automation, req)
	case ActionLog:
		res, err = c.log(ctx, automation, req)
	case ActionComplete:
		res, err = c.complete(ctx, automation, req)
	case "":
		return Result{}, badRequest("action is required")
	default:
		return Result{}, badRequest("unknown action " + string(req.Action))
	}
	if err != nil {
		return Result{}, err
	}

	if res.Event != nil && c.notifier != nil {
		if nerr := c.notifier.Notify(ctx, *res.Event); nerr != nil {
			c.logger.Warn().Err(nerr).Str("run_id", res.Event.Run.ID).Msg("failed to dispatch run event")
		}
	}
	return res, nil
}

func (c *Controller) start(ctx context.Context, automation models.Automation, req Request) (Result, error) {
	trigger := models.TriggerType(strings.TrimSpace(req.TriggerType))
	if trigger == "" {
		trigger = models.TriggerWebhook
	}
	if !trigger.IsValid() {
		return Result{}, badRequest("unknown trigger_type " + string(trigger))
	}

	run := models.AutomationRun{
		ID:           c.newID(),
		AutomationID: automation.ID,
		TenantID:     automation.TenantID,
		Status:       models.RunStatusRunning,
		TriggerType:  trigger,
		InputData:    req.InputData,
		StartedAt:    c.now().UTC(),
	}
	if err := c.runs.CreateRun(ctx, run); err != nil {
		return Result{}, storageFailure("failed to create run", err)
	}

	c.appendLog(ctx, run, models.LogLevelInfo, "Automation run started", map[string]interface{}{
		"trigger_type": trigger,
		"input_data":   rawOrNil(req.InputData),
	})

	c.logger.Info().Str("automation_id", automation.ID).Str("run_id", run.ID).Msg("run started")
	return Result{
		RunID: run.ID,
		Event: &Event{Type: EventRunStarted, Automation: automation, Run: run},
	}, nil
}

func (c *Controller) log(ctx context.Context, automation models.Automation, req Request) (Result, error) {
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		return Result{}, badRequest("run_id is required")
	}

	_, err := c.runs.AppendLog(ctx, models.AutomationLog{
		RunID:        runID,
		AutomationID: automation.ID,
		Level:        models.ParseLogLevel(strings.ToLower(strings.TrimSpace(req.Level))),
		Message:      req.Message,
		Data:         req.LogData,
		StepName:     req.StepName,
		StepIndex:    req.StepIndex,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{}, notFound("run not found")
		}
		return Result{}, storageFailure("failed to append log", err)
	}
	return Result{RunID: runID, Message: "log recorded"}, nil
}

func (c *Controller) complete(ctx context.Context, automation models.Automation, req Request) (Result, error) {
	runID := strings.TrimSpace(req.RunID)
	if runID == "" {
		return Result{}, badRequest("run_id is required")
	}

	status := req.Status
	if status == "" {
		status = models.RunStatusSuccess
	}
	if !status.IsTerminal() {
		return Result{}, badRequest("status must be success, failed or cancelled")
	}

	run, err := c.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return Result{}, notFound("run not found")
		}
		return Result{}, storageFailure("failed to load run", err)
	}
	if run.AutomationID != automation.ID {
		return Result{}, notFound("run not found")
	}
	if c.guard && run.Status.IsTerminal() {
		return c.alreadyCompleted(run), nil
	}

	completedAt := c.now().UTC()
	var duration int64
	if !run.StartedAt.IsZero() {
		duration = completedAt.Sub(run.StartedAt).Milliseconds()
		if duration < 0 {
			duration = 0
		}
	}

	params := repository.CompleteRunParams{
		RunID:         run.ID,
		Status:        status,
		OutputData:    req.OutputData,
		CompletedAt:   completedAt,
		DurationMS:    duration,
		OnlyIfRunning: c.guard,
	}
	if status == models.RunStatusFailed {
		reason := defaultFailureMessage
		if req.ErrorMessage != nil && strings.TrimSpace(*req.ErrorMessage) != "" {
			reason = *req.ErrorMessage
		}
		params.ErrorMessage = &reason
		params.ErrorDetails = req.ErrorDetails
	}

	updated, err := c.runs.CompleteRun(ctx, params)
	if err != nil {
		if c.guard && errors.Is(err, repository.ErrNotFound) {
			return c.alreadyCompleted(run), nil
		}
		return Result{}, storageFailure("failed to complete run", err)
	}

	level := models.LogLevelInfo
	message := "Automation run completed"
	data := map[string]interface{}{
		"status":      status,
		"duration_ms": duration,
		"output_data": rawOrNil(req.OutputData),
	}
	if status == models.RunStatusFailed {
		level = models.LogLevelError
		message = "Automation run failed"
		data["error_message"] = *params.ErrorMessage
	}
	c.appendLog(ctx, updated, level, message, data)

	c.logger.Info().
		Str("automation_id", automation.ID).
		Str("run_id", run.ID).
		Str("status", string(status)).
		Int64("duration_ms", duration).
		Msg("run completed")

	return Result{
		RunID: updated.ID,
		Event: &Event{Type: EventRunCompleted, Automation: automation, Run: updated},
	}, nil
}

func (c *Controller) alreadyCompleted(run models.AutomationRun) Result {
	c.logger.Warn().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Msg("ignoring complete for a finished run")
	return Result{RunID: run.ID, Message: msgAlreadyCompleted}
}

// appendLog writes a controller-generated log line. Failures are logged and
// dropped so they never undo the transition that produced them.
func (c *Controller) appendLog(ctx context.Context, run models.AutomationRun, level models.LogLevel, message string, data map[string]interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		c.logger.Warn().Err(err).Str("run_id", run.ID).Msg("failed to encode log data")
		raw = nil
	}
	_, err = c.runs.AppendLog(ctx, models.AutomationLog{
		RunID:        run.ID,
		AutomationID: run.AutomationID,
		Level:        level,
		Message:      message,
		Data:         raw,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to append run log")
	}
}

func rawOrNil(raw json.RawMessage) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
