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
	"github.com/stanstork/autorun-api/internal/schedule"
	"github.com/stanstork/autorun-api/internal/webhook"
)

type CreateInput struct {
	Title             string             `json:"title"`
	Description       string             `json:"description"`
	TriggerType       models.TriggerType `json:"trigger_type"`
	Schedule          *models.Schedule   `json:"schedule,omitempty"`
	SignatureRequired bool               `json:"signature_required"`
	Config            json.RawMessage    `json:"config,omitempty"`
}

// Service manages the automation records executors report against.
type Service struct {
	repo      repository.AutomationRepository
	generator *webhook.Generator
	now       func() time.Time
	logger    zerolog.Logger
}

func NewService(repo repository.AutomationRepository, generator *webhook.Generator, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		generator: generator,
		now:       time.Now,
		logger:    logger.With().Str("component", "automation_service").Logger(),
	}
}

// Create stores a new automation with a freshly generated callback URL and
// secret. The secret is only ever readable from the returned value.
func (s *Service) Create(ctx context.Context, tenantID string, in CreateInput) (models.Automation, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return models.Automation{}, badRequest("title is required")
	}
	trigger := in.TriggerType
	if trigger == "" {
		trigger = models.TriggerWebhook
	}
	if !trigger.IsValid() {
		return models.Automation{}, badRequest("unknown trigger_type " + string(trigger))
	}

	id := uuid.NewString()
	hook, err := s.generator.Generate(id)
	if err != nil {
		return models.Automation{}, storageFailure("failed to generate webhook secret", err)
	}

	a := models.Automation{
		ID:                id,
		TenantID:          tenantID,
		Title:             title,
		Description:       strings.TrimSpace(in.Description),
		Status:            "active",
		TriggerType:       trigger,
		WebhookURL:        hook.URL,
		WebhookSecret:     hook.Secret,
		SignatureRequired: in.SignatureRequired,
		Config:            in.Config,
	}
	if in.Schedule != nil {
		next, err := s.nextRun(*in.Schedule)
		if err != nil {
			return models.Automation{}, err
		}
		a.Schedule = in.Schedule
		a.NextRunAt = next
	}

	created, err := s.repo.Create(ctx, a)
	if err != nil {
		return models.Automation{}, storageFailure("failed to create automation", err)
	}
	created.WebhookSecret = hook.Secret
	s.logger.Info().Str("automation_id", id).Str("tenant_id", tenantID).Msg("automation created")
	return created, nil
}

// UpdateSchedule replaces the schedule and recomputes next_run_at. A nil
// schedule clears both.
func (s *Service) UpdateSchedule(ctx context.Context, tenantID, id string, sched *models.Schedule) (models.Automation, error) {
	var next *time.Time
	if sched != nil {
		var err error
		if next, err = s.nextRun(*sched); err != nil {
			return models.Automation{}, err
		}
	}
	updated, err := s.repo.UpdateSchedule(ctx, tenantID, id, sched, next)
	if err != nil {
		return models.Automation{}, mapRepoErr(err, "automation not found", "failed to update schedule")
	}
	return updated, nil
}

func (s *Service) Get(ctx context.Context, tenantID, id string) (models.Automation, error) {
	a, err := s.repo.GetForTenant(ctx, tenantID, id)
	if err != nil {
		return models.Automation{}, mapRepoErr(err, "automation not found", "failed to load automation")
	}
	return a, nil
}

func (s *Service) List(ctx context.Context, tenantID string) ([]models.Automation, error) {
	list, err := s.repo.ListByTenant(ctx, tenantID)
	if err != nil {
		return nil, storageFailure("failed to list automations", err)
	}
	return list, nil
}

// Summary is the metadata an executor can read back for its automation.
func (s *Service) Summary(ctx context.Context, id string) (models.AutomationSummary, error) {
	summary, err := s.repo.Summary(ctx, id)
	if err != nil {
		return models.AutomationSummary{}, mapRepoErr(err, "automation not found", "failed to load automation")
	}
	return summary, nil
}

func (s *Service) nextRun(sched models.Schedule) (*time.Time, error) {
	if err := schedule.Validate(sched); err != nil {
		return nil, badRequest(err.Error())
	}
	next, err := schedule.NextRun(sched, s.now())
	if err != nil {
		return nil, badRequest(err.Error())
	}
	return next, nil
}

func mapRepoErr(err error, missing, failed string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return notFound(missing)
	}
	return storageFailure(failed, err)
}
