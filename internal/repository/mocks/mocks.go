// Package mocks provides testify mocks of the repository interfaces.
package mocks

import (
	"context"
	"time"

	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stanstork/autorun-api/internal/repository"
	"github.com/stretchr/testify/mock"
)

type AutomationRepository struct {
	mock.Mock
}

var _ repository.AutomationRepository = (*AutomationRepository)(nil)

func (m *AutomationRepository) Create(ctx context.Context, a models.Automation) (models.Automation, error) {
	args := m.Called(ctx, a)
	return args.Get(0).(models.Automation), args.Error(1)
}

func (m *AutomationRepository) Get(ctx context.Context, id string) (models.Automation, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.Automation), args.Error(1)
}

func (m *AutomationRepository) GetForTenant(ctx context.Context, tenantID, id string) (models.Automation, error) {
	args := m.Called(ctx, tenantID, id)
	return args.Get(0).(models.Automation), args.Error(1)
}

func (m *AutomationRepository) ListByTenant(ctx context.Context, tenantID string) ([]models.Automation, error) {
	args := m.Called(ctx, tenantID)
	var result []models.Automation
	if value := args.Get(0); value != nil {
		result = value.([]models.Automation)
	}
	return result, args.Error(1)
}

func (m *AutomationRepository) UpdateSchedule(ctx context.Context, tenantID, id string, schedule *models.Schedule, nextRunAt *time.Time) (models.Automation, error) {
	args := m.Called(ctx, tenantID, id, schedule, nextRunAt)
	return args.Get(0).(models.Automation), args.Error(1)
}

func (m *AutomationRepository) Summary(ctx context.Context, id string) (models.AutomationSummary, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.AutomationSummary), args.Error(1)
}

type RunRepository struct {
	mock.Mock
}

var _ repository.RunRepository = (*RunRepository)(nil)

func (m *RunRepository) CreateRun(ctx context.Context, run models.AutomationRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

func (m *RunRepository) GetRun(ctx context.Context, runID string) (models.AutomationRun, error) {
	args := m.Called(ctx, runID)
	return args.Get(0).(models.AutomationRun), args.Error(1)
}

func (m *RunRepository) CompleteRun(ctx context.Context, params repository.CompleteRunParams) (models.AutomationRun, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(models.AutomationRun), args.Error(1)
}

func (m *RunRepository) ListRuns(ctx context.Context, tenantID, automationID string, limit, offset int) ([]models.AutomationRun, error) {
	args := m.Called(ctx, tenantID, automationID, limit, offset)
	var result []models.AutomationRun
	if value := args.Get(0); value != nil {
		result = value.([]models.AutomationRun)
	}
	return result, args.Error(1)
}

func (m *RunRepository) AppendLog(ctx context.Context, entry models.AutomationLog) (models.AutomationLog, error) {
	args := m.Called(ctx, entry)
	return args.Get(0).(models.AutomationLog), args.Error(1)
}

func (m *RunRepository) ListLogs(ctx context.Context, tenantID, runID string) ([]models.AutomationLog, error) {
	args := m.Called(ctx, tenantID, runID)
	var result []models.AutomationLog
	if value := args.Get(0); value != nil {
		result = value.([]models.AutomationLog)
	}
	return result, args.Error(1)
}

type NotificationRepository struct {
	mock.Mock
}

var _ repository.NotificationRepository = (*NotificationRepository)(nil)

func (m *NotificationRepository) Create(ctx context.Context, params repository.CreateNotificationParams) (models.Notification, error) {
	args := m.Called(ctx, params)
	return args.Get(0).(models.Notification), args.Error(1)
}

func (m *NotificationRepository) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.Notification, error) {
	args := m.Called(ctx, tenantID, limit)
	var result []models.Notification
	if value := args.Get(0); value != nil {
		result = value.([]models.Notification)
	}
	return result, args.Error(1)
}

func (m *NotificationRepository) MarkRead(ctx context.Context, tenantID, notificationID string) (models.Notification, error) {
	args := m.Called(ctx, tenantID, notificationID)
	return args.Get(0).(models.Notification), args.Error(1)
}

func (m *NotificationRepository) CountUnread(ctx context.Context, tenantID string) (int, error) {
	args := m.Called(ctx, tenantID)
	return args.Int(0), args.Error(1)
}
