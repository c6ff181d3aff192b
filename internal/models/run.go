package models

import (
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSuccess   RunStatus = "success"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is expected from s.
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusSuccess, RunStatusFailed, RunStatusCancelled:
		return true
	}
	return false
}

// IsValid reports whether s is a known run status.
func (s RunStatus) IsValid() bool {
	return s == RunStatusRunning || s.IsTerminal()
}

// AutomationRun is one execution of an automation as reported by its executor.
// CompletedAt, DurationMS and the error fields stay nil while the run is running.
type AutomationRun struct {
	ID           string          `json:"id" db:"id"`
	AutomationID string          `json:"automation_id" db:"automation_id"`
	TenantID     string          `json:"tenant_id" db:"tenant_id"`
	Status       RunStatus       `json:"status" db:"status"`
	TriggerType  TriggerType     `json:"trigger_type" db:"trigger_type"`
	InputData    json.RawMessage `json:"input_data,omitempty" db:"input_data"`
	OutputData   json.RawMessage `json:"output_data,omitempty" db:"output_data"`
	StartedAt    time.Time       `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at" db:"completed_at"`
	DurationMS   *int64          `json:"duration_ms" db:"duration_ms"`
	ErrorMessage *string         `json:"error_message" db:"error_message"`
	ErrorDetails json.RawMessage `json:"error_details,omitempty" db:"error_details"`
}

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ParseLogLevel maps free-form input onto a known level, defaulting to info.
func ParseLogLevel(raw string) LogLevel {
	switch LogLevel(raw) {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return LogLevel(raw)
	case "warning":
		return LogLevelWarn
	}
	return LogLevelInfo
}

type AutomationLog struct {
	ID           string          `json:"id" db:"id"`
	RunID        string          `json:"run_id" db:"run_id"`
	AutomationID string          `json:"automation_id" db:"automation_id"`
	Level        LogLevel        `json:"level" db:"level"`
	Message      string          `json:"message" db:"message"`
	Data         json.RawMessage `json:"data,omitempty" db:"data"`
	StepName     *string         `json:"step_name,omitempty" db:"step_name"`
	StepIndex    *int            `json:"step_index,omitempty" db:"step_index"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}
