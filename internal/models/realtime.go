package models

import (
	"encoding/json"
	"time"
)

// Server-push stream event names.
const (
	StreamEventConnected        = "connected"
	StreamEventNotification     = "notification"
	StreamEventAutomationUpdate = "automation_update"
	StreamEventUnreadCount      = "unread_count"
	StreamEventKeepalive        = "keepalive"
)

// Change-feed tables.
const (
	TableAutomationRuns = "automation_runs"
	TableAgentTasks     = "agent_tasks"
	TableAIActionLogs   = "ai_action_logs"
	TableNotifications  = "notifications"
)

const (
	ChangeInsert = "INSERT"
	ChangeUpdate = "UPDATE"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
	ReviewEdited   ReviewStatus = "edited"
)

// AutomationUpdate is the normalized shape both realtime transports produce
// for a run state change.
type AutomationUpdate struct {
	RunID          string     `json:"run_id"`
	AutomationID   string     `json:"automation_id"`
	AutomationName string     `json:"automation_name,omitempty"`
	Status         RunStatus  `json:"status"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	DurationMS     *int64     `json:"duration_ms,omitempty"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
}

// UpdateFromRun converts a persisted run into its realtime shape.
func UpdateFromRun(run AutomationRun, automationName string) AutomationUpdate {
	return AutomationUpdate{
		RunID:          run.ID,
		AutomationID:   run.AutomationID,
		AutomationName: automationName,
		Status:         run.Status,
		StartedAt:      run.StartedAt,
		CompletedAt:    run.CompletedAt,
		DurationMS:     run.DurationMS,
		ErrorMessage:   run.ErrorMessage,
	}
}

// UnreadCount is the payload of the unread_count stream event.
type UnreadCount struct {
	Count int `json:"count"`
}

// ChangeEvent is one row-level change relayed from the database change feed.
type ChangeEvent struct {
	Table     string          `json:"table"`
	Type      string          `json:"type"`
	TenantID  string          `json:"tenant_id"`
	Record    json.RawMessage `json:"record"`
	OldRecord json.RawMessage `json:"old_record,omitempty"`
}

// ChangeBinding selects the changes a change-feed subscriber wants. Filter is
// either empty or of the form "column=eq.value".
type ChangeBinding struct {
	Table  string   `json:"table"`
	Events []string `json:"events"`
	Filter string   `json:"filter,omitempty"`
}

// SubscribeFrame is the first frame a change-feed client sends.
type SubscribeFrame struct {
	Type     string          `json:"type"`
	Channel  string          `json:"channel"`
	Bindings []ChangeBinding `json:"bindings"`
}

// ChangeChannel is the Postgres NOTIFY channel the realtime triggers
// publish row changes on.
const ChangeChannel = "realtime_changes"

// TenantChannel derives the change-feed channel name for a tenant.
func TenantChannel(tenantID string) string {
	return "tenant:" + tenantID
}
