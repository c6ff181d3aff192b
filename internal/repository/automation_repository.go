package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/stanstork/autorun-api/internal/models"
)

type AutomationRepository interface {
	Create(ctx context.Context, automation models.Automation) (models.Automation, error)
	// Get loads an automation by id without a tenant check. Webhook callers
	// are authenticated by signature, not by session.
	Get(ctx context.Context, id string) (models.Automation, error)
	GetForTenant(ctx context.Context, tenantID, id string) (models.Automation, error)
	ListByTenant(ctx context.Context, tenantID string) ([]models.Automation, error)
	UpdateSchedule(ctx context.Context, tenantID, id string, schedule *models.Schedule, nextRunAt *time.Time) (models.Automation, error)
	Summary(ctx context.Context, id string) (models.AutomationSummary, error)
}

type automationRepository struct {
	db *sql.DB
}

func NewAutomationRepository(db *sql.DB) AutomationRepository {
	return &automationRepository{db: db}
}

const automationColumns = `id, tenant_id, title, description, status, trigger_type,
	schedule_type, schedule_time, schedule_days, timezone, next_run_at,
	webhook_url, webhook_secret, signature_required, config, created_at, updated_at`

func (r *automationRepository) Create(ctx context.Context, a models.Automation) (models.Automation, error) {
	query := `
		INSERT INTO tenant.automations (id, tenant_id, title, description, status, trigger_type,
			schedule_type, schedule_time, schedule_days, timezone, next_run_at,
			webhook_url, webhook_secret, signature_required, config)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING ` + automationColumns

	schedType, schedTime, schedDays, tz := scheduleArgs(a.Schedule)
	status := a.Status
	if status == "" {
		status = "active"
	}

	created, err := scanAutomation(r.db.QueryRowContext(ctx, query,
		a.ID,
		a.TenantID,
		a.Title,
		a.Description,
		status,
		a.TriggerType,
		schedType,
		schedTime,
		schedDays,
		tz,
		a.NextRunAt,
		a.WebhookURL,
		a.WebhookSecret,
		a.SignatureRequired,
		nullableJSON(a.Config),
	))
	if err != nil {
		return models.Automation{}, errors.Wrapf(err, "insert automation %s", a.ID)
	}
	return created, nil
}

func (r *automationRepository) Get(ctx context.Context, id string) (models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM tenant.automations WHERE id = $1`
	a, err := scanAutomation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return models.Automation{}, notFoundOr(err, "automation "+id)
	}
	return a, nil
}

func (r *automationRepository) GetForTenant(ctx context.Context, tenantID, id string) (models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM tenant.automations WHERE id = $1 AND tenant_id = $2`
	a, err := scanAutomation(r.db.QueryRowContext(ctx, query, id, tenantID))
	if err != nil {
		return models.Automation{}, notFoundOr(err, "automation "+id)
	}
	return a, nil
}

func (r *automationRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Automation, error) {
	query := `SELECT ` + automationColumns + ` FROM tenant.automations WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "list automations")
	}
	defer rows.Close()

	var automations []models.Automation
	for rows.Next() {
		a, err := scanAutomation(rows)
		if err != nil {
			return nil, err
		}
		automations = append(automations, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return automations, nil
}

func (r *automationRepository) UpdateSchedule(ctx context.Context, tenantID, id string, schedule *models.Schedule, nextRunAt *time.Time) (models.Automation, error) {
	query := `
		UPDATE tenant.automations
		   SET schedule_type = $1,
		       schedule_time = $2,
		       schedule_days = $3,
		       timezone      = $4,
		       next_run_at   = $5,
		       updated_at    = NOW()
		 WHERE id = $6 AND tenant_id = $7
		RETURNING ` + automationColumns

	schedType, schedTime, schedDays, tz := scheduleArgs(schedule)
	a, err := scanAutomation(r.db.QueryRowContext(ctx, query,
		schedType, schedTime, schedDays, tz, nextRunAt, id, tenantID,
	))
	if err != nil {
		return models.Automation{}, notFoundOr(err, "automation "+id)
	}
	return a, nil
}

func (r *automationRepository) Summary(ctx context.Context, id string) (models.AutomationSummary, error) {
	const query = `
		SELECT a.id, a.title, a.webhook_url, a.status,
		       COUNT(r.id) AS run_count,
		       MAX(r.started_at) AS last_run_at
		FROM tenant.automations a
		LEFT JOIN tenant.automation_runs r ON r.automation_id = a.id
		WHERE a.id = $1
		GROUP BY a.id, a.title, a.webhook_url, a.status
	`
	var (
		summary models.AutomationSummary
		lastRun sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&summary.ID,
		&summary.Title,
		&summary.WebhookURL,
		&summary.Status,
		&summary.RunCount,
		&lastRun,
	)
	if err != nil {
		return models.AutomationSummary{}, notFoundOr(err, "automation "+id)
	}
	if lastRun.Valid {
		t := lastRun.Time
		summary.LastRunAt = &t
	}
	return summary, nil
}

func scheduleArgs(s *models.Schedule) (schedType, schedTime, days, tz interface{}) {
	if s == nil {
		return nil, nil, nil, nil
	}
	arr := make(pq.Int64Array, 0, len(s.Days))
	for _, d := range s.Days {
		arr = append(arr, int64(d))
	}
	days = arr
	if s.Timezone != "" {
		tz = s.Timezone
	}
	return string(s.Type), s.Time, days, tz
}

func scanAutomation(scanner rowScanner) (models.Automation, error) {
	var (
		a         models.Automation
		schedType sql.NullString
		schedTime sql.NullString
		days      pq.Int64Array
		tz        sql.NullString
		nextRun   sql.NullTime
		config    []byte
	)

	if err := scanner.Scan(
		&a.ID,
		&a.TenantID,
		&a.Title,
		&a.Description,
		&a.Status,
		&a.TriggerType,
		&schedType,
		&schedTime,
		&days,
		&tz,
		&nextRun,
		&a.WebhookURL,
		&a.WebhookSecret,
		&a.SignatureRequired,
		&config,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return models.Automation{}, err
	}

	if schedType.Valid {
		a.Schedule = &models.Schedule{
			Type:     models.ScheduleType(schedType.String),
			Time:     schedTime.String,
			Timezone: tz.String,
		}
		for _, d := range days {
			a.Schedule.Days = append(a.Schedule.Days, int(d))
		}
	}
	if nextRun.Valid {
		t := nextRun.Time
		a.NextRunAt = &t
	}
	if len(config) > 0 {
		a.Config = config
	}
	return a, nil
}
