package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/stanstork/autorun-api/internal/models"
)

// RunRepository persists automation runs and their step logs.
type RunRepository interface {
	CreateRun(ctx context.Context, run models.AutomationRun) error
	GetRun(ctx context.Context, runID string) (models.AutomationRun, error)
	CompleteRun(ctx context.Context, params CompleteRunParams) (models.AutomationRun, error)
	ListRuns(ctx context.Context, tenantID, automationID string, limit, offset int) ([]models.AutomationRun, error)

	AppendLog(ctx context.Context, entry models.AutomationLog) (models.AutomationLog, error)
	ListLogs(ctx context.Context, tenantID, runID string) ([]models.AutomationLog, error)
}

// CompleteRunParams describes the terminal write for a run. ErrorMessage and
// ErrorDetails are written as given, so callers clear them by passing nil.
type CompleteRunParams struct {
	RunID         string
	Status        models.RunStatus
	OutputData    json.RawMessage
	ErrorMessage  *string
	ErrorDetails  json.RawMessage
	CompletedAt   time.Time
	DurationMS    int64
	OnlyIfRunning bool
}

type runRepository struct {
	db *sql.DB
}

func NewRunRepository(db *sql.DB) RunRepository {
	return &runRepository{db: db}
}

const runColumns = `id, automation_id, tenant_id, status, trigger_type, input_data, output_data,
	started_at, completed_at, duration_ms, error_message, error_details`

func (r *runRepository) CreateRun(ctx context.Context, run models.AutomationRun) error {
	const query = `
		INSERT INTO tenant.automation_runs (id, automation_id, tenant_id, status, trigger_type, input_data, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.AutomationID,
		run.TenantID,
		run.Status,
		run.TriggerType,
		nullableJSON(run.InputData),
		run.StartedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "insert run %s", run.ID)
	}
	return nil
}

func (r *runRepository) GetRun(ctx context.Context, runID string) (models.AutomationRun, error) {
	query := `SELECT ` + runColumns + ` FROM tenant.automation_runs WHERE id = $1`
	run, err := scanRun(r.db.QueryRowContext(ctx, query, runID))
	if err != nil {
		return models.AutomationRun{}, notFoundOr(err, "run "+runID)
	}
	return run, nil
}

func (r *runRepository) CompleteRun(ctx context.Context, params CompleteRunParams) (models.AutomationRun, error) {
	query := `
		UPDATE tenant.automation_runs
		   SET status        = $1,
		       output_data   = $2,
		       error_message = $3,
		       error_details = $4,
		       completed_at  = $5,
		       duration_ms   = $6
		 WHERE id = $7`
	if params.OnlyIfRunning {
		query += ` AND status = 'running'`
	}
	query += ` RETURNING ` + runColumns

	var errMsg interface{}
	if params.ErrorMessage != nil {
		errMsg = *params.ErrorMessage
	}

	run, err := scanRun(r.db.QueryRowContext(ctx, query,
		params.Status,
		nullableJSON(params.OutputData),
		errMsg,
		nullableJSON(params.ErrorDetails),
		params.CompletedAt,
		params.DurationMS,
		params.RunID,
	))
	if err != nil {
		return models.AutomationRun{}, notFoundOr(err, "run "+params.RunID)
	}
	return run, nil
}

func (r *runRepository) ListRuns(ctx context.Context, tenantID, automationID string, limit, offset int) ([]models.AutomationRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	query := `
		SELECT ` + runColumns + `
		FROM tenant.automation_runs
		WHERE tenant_id = $1 AND automation_id = $2
		ORDER BY started_at DESC
		LIMIT $3
		OFFSET $4
	`
	rows, err := r.db.QueryContext(ctx, query, tenantID, automationID, limit, offset)
	if err != nil {
		return nil, errors.Wrap(err, "list runs")
	}
	defer rows.Close()

	runs := make([]models.AutomationRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

func (r *runRepository) AppendLog(ctx context.Context, entry models.AutomationLog) (models.AutomationLog, error) {
	const query = `
		INSERT INTO tenant.automation_logs (run_id, automation_id, level, message, data, step_name, step_index)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`
	var (
		stepName  interface{}
		stepIndex interface{}
	)
	if entry.StepName != nil {
		stepName = *entry.StepName
	}
	if entry.StepIndex != nil {
		stepIndex = *entry.StepIndex
	}

	err := r.db.QueryRowContext(ctx, query,
		entry.RunID,
		entry.AutomationID,
		entry.Level,
		entry.Message,
		nullableJSON(entry.Data),
		stepName,
		stepIndex,
	).Scan(&entry.ID, &entry.CreatedAt)
	if isForeignKeyViolation(err) {
		return entry, errors.Wrap(ErrNotFound, "run "+entry.RunID)
	}
	if err != nil {
		return entry, errors.Wrapf(err, "append log for run %s", entry.RunID)
	}
	return entry, nil
}

func (r *runRepository) ListLogs(ctx context.Context, tenantID, runID string) ([]models.AutomationLog, error) {
	const query = `
		SELECT l.id, l.run_id, l.automation_id, l.level, l.message, l.data, l.step_name, l.step_index, l.created_at
		FROM tenant.automation_logs l
		JOIN tenant.automation_runs r ON r.id = l.run_id
		WHERE l.run_id = $1 AND r.tenant_id = $2
		ORDER BY l.created_at ASC, l.id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, runID, tenantID)
	if err != nil {
		return nil, errors.Wrap(err, "list logs")
	}
	defer rows.Close()

	var logs []models.AutomationLog
	for rows.Next() {
		var (
			entry     models.AutomationLog
			data      []byte
			stepName  sql.NullString
			stepIndex sql.NullInt64
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.RunID,
			&entry.AutomationID,
			&entry.Level,
			&entry.Message,
			&data,
			&stepName,
			&stepIndex,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(data) > 0 {
			entry.Data = data
		}
		if stepName.Valid {
			name := stepName.String
			entry.StepName = &name
		}
		if stepIndex.Valid {
			idx := int(stepIndex.Int64)
			entry.StepIndex = &idx
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func scanRun(scanner rowScanner) (models.AutomationRun, error) {
	var (
		run          models.AutomationRun
		input        []byte
		output       []byte
		completedAt  sql.NullTime
		durationMS   sql.NullInt64
		errMsg       sql.NullString
		errorDetails []byte
	)

	if err := scanner.Scan(
		&run.ID,
		&run.AutomationID,
		&run.TenantID,
		&run.Status,
		&run.TriggerType,
		&input,
		&output,
		&run.StartedAt,
		&completedAt,
		&durationMS,
		&errMsg,
		&errorDetails,
	); err != nil {
		return models.AutomationRun{}, err
	}

	if len(input) > 0 {
		run.InputData = input
	}
	if len(output) > 0 {
		run.OutputData = output
	}
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	if durationMS.Valid {
		d := durationMS.Int64
		run.DurationMS = &d
	}
	if errMsg.Valid {
		msg := errMsg.String
		run.ErrorMessage = &msg
	}
	if len(errorDetails) > 0 {
		run.ErrorDetails = errorDetails
	}
	return run, nil
}
