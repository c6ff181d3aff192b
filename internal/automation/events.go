package automation

import (
	"context"

	"github.com/stanstork/autorun-api/internal/models"
)

type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventRunCompleted EventType = "run_completed"
)

// Event is emitted by the controller for every run transition.
type Event struct {
	Type       EventType
	Automation models.Automation
	Run        models.AutomationRun
}

// Notifier consumes lifecycle events. Failures never affect the run.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event Event) error

func (f NotifierFunc) Notify(ctx context.Context, event Event) error { return f(ctx, event) }
