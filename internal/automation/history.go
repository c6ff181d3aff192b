package automation

import (
	"context"

	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stanstork/autorun-api/internal/repository"
)

// History reads past runs and their logs for the dashboard.
type History struct {
	automations repository.AutomationRepository
	runs        repository.RunRepository
}

func NewHistory(automations repository.AutomationRepository, runs repository.RunRepository) *History {
	return &History{automations: automations, runs: runs}
}

// Runs lists an automation's runs, newest first. The automation must belong
// to tenantID.
func (h *History) Runs(ctx context.Context, tenantID, automationID string, limit, offset int) ([]models.AutomationRun, error) {
	if _, err := h.automations.GetForTenant(ctx, tenantID, automationID); err != nil {
		return nil, mapRepoErr(err, "automation not found", "failed to load automation")
	}
	runs, err := h.runs.ListRuns(ctx, tenantID, automationID, limit, offset)
	if err != nil {
		return nil, storageFailure("failed to list runs", err)
	}
	return runs, nil
}

// Logs returns a run's log entries in the order they were written.
func (h *History) Logs(ctx context.Context, tenantID, runID string) ([]models.AutomationLog, error) {
	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, mapRepoErr(err, "run not found", "failed to load run")
	}
	if run.TenantID != tenantID {
		return nil, notFound("run not found")
	}
	logs, err := h.runs.ListLogs(ctx, tenantID, runID)
	if err != nil {
		return nil, storageFailure("failed to list logs", err)
	}
	return logs, nil
}
