package models

import (
	"encoding/json"
	"time"
)

type TriggerType string

const (
	TriggerWebhook   TriggerType = "webhook"
	TriggerScheduled TriggerType = "scheduled"
	TriggerManual    TriggerType = "manual"
	TriggerAPI       TriggerType = "api"
)

// IsValid reports whether t is one of the known trigger types.
func (t TriggerType) IsValid() bool {
	switch t {
	case TriggerWebhook, TriggerScheduled, TriggerManual, TriggerAPI:
		return true
	}
	return false
}

type ScheduleType string

const (
	ScheduleOnce    ScheduleType = "once"
	ScheduleDaily   ScheduleType = "daily"
	ScheduleWeekly  ScheduleType = "weekly"
	ScheduleMonthly ScheduleType = "monthly"
)

// Schedule holds the recurring trigger configuration of an automation.
// Days uses 0=Sunday..6=Saturday and only matters for weekly schedules.
type Schedule struct {
	Type     ScheduleType `json:"type" db:"schedule_type"`
	Time     string       `json:"time" db:"schedule_time"`
	Days     []int        `json:"days,omitempty" db:"schedule_days"`
	Timezone string       `json:"timezone,omitempty" db:"timezone"`
}

type Automation struct {
	ID                string          `json:"id" db:"id"`
	TenantID          string          `json:"tenant_id" db:"tenant_id"`
	Title             string          `json:"title" db:"title"`
	Description       string          `json:"description" db:"description"`
	Status            string          `json:"status" db:"status"` // enum: active, paused, archived
	TriggerType       TriggerType     `json:"trigger_type" db:"trigger_type"`
	Schedule          *Schedule       `json:"schedule,omitempty"`
	NextRunAt         *time.Time      `json:"next_run_at,omitempty" db:"next_run_at"`
	WebhookURL        string          `json:"webhook_url" db:"webhook_url"`
	WebhookSecret     string          `json:"-" db:"webhook_secret"`
	SignatureRequired bool            `json:"signature_required" db:"signature_required"`
	Config            json.RawMessage `json:"config,omitempty" db:"config"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// AutomationSummary is the read model served to executors that query an automation.
type AutomationSummary struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	WebhookURL string     `json:"webhook_url"`
	Status     string     `json:"status"`
	RunCount   int64      `json:"run_count"`
	LastRunAt  *time.Time `json:"last_run_at"`
}
