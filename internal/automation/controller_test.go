package automation

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stanstork/autorun-api/internal/models"
	"github.com/stanstork/autorun-api/internal/repository"
	"github.com/stanstork/autorun-api/internal/repository/mocks"
	"github.com/stanstork/autorun-api/internal/webhook"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC)

type fixture struct {
	ctrl        *Controller
	automations *mocks.AutomationRepository
	runs        *mocks.RunRepository
	now         time.Time
	events      []Event
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		automations: &mocks.AutomationRepository{},
		runs:        &mocks.RunRepository{},
		now:         t0,
	}
	base := []Option{
		WithClock(func() time.Time { return f.now }),
		WithIDGenerator(func() string { return "run-1" }),
		WithNotifier(NotifierFunc(func(_ context.Context, e Event) error {
			f.events = append(f.events, e)
			return nil
		})),
	}
	f.ctrl = NewController(f.automations, f.runs, zerolog.Nop(), append(base, opts...)...)
	t.Cleanup(func() {
		f.automations.AssertExpectations(t)
		f.runs.AssertExpectations(t)
	})
	return f
}

func sys1() models.Automation {
	return models.Automation{ID: "sys1", TenantID: "tenant-1", Title: "Lead intake"}
}

func body(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

func TestStartCreatesRunningRun(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("CreateRun", mock.Anything, mock.MatchedBy(func(run models.AutomationRun) bool {
		return run.ID == "run-1" &&
			run.Status == models.RunStatusRunning &&
			run.TriggerType == models.TriggerManual &&
			run.TenantID == "tenant-1" &&
			run.StartedAt.Equal(t0) &&
			run.CompletedAt == nil &&
			run.DurationMS == nil &&
			run.ErrorMessage == nil &&
			string(run.InputData) == `{"x":1}`
	})).Return(nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.MatchedBy(func(entry models.AutomationLog) bool {
		return entry.Level == models.LogLevelInfo &&
			entry.Message == "Automation run started" &&
			string(entry.Data) == `{"input_data":{"x":1},"trigger_type":"manual"}`
	})).Return(models.AutomationLog{}, nil).Once()

	res, err := f.ctrl.Handle(context.Background(),
		[]byte(`{"system_id":"sys1","action":"start","trigger_type":"manual","input_data":{"x":1}}`), "", "")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	require.Len(t, f.events, 1)
	assert.Equal(t, EventRunStarted, f.events[0].Type)
	assert.Equal(t, "Lead intake", f.events[0].Automation.Title)
}

func TestStartDefaultsTriggerToWebhook(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("CreateRun", mock.Anything, mock.MatchedBy(func(run models.AutomationRun) bool {
		return run.TriggerType == models.TriggerWebhook
	})).Return(nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.Anything).Return(models.AutomationLog{}, nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"start"}`), "", "")
	require.NoError(t, err)
}

func TestStartSurvivesLogFailure(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("CreateRun", mock.Anything, mock.Anything).Return(nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.Anything).Return(models.AutomationLog{}, errors.New("disk full")).Once()

	res, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"start"}`), "", "")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
}

func TestStartStorageFailure(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("CreateRun", mock.Anything, mock.Anything).Return(errors.New("connection reset")).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"start"}`), "", "")
	require.Error(t, err)
	assert.Equal(t, http.StatusInternalServerError, StatusCode(err))
	assert.Equal(t, "failed to create run", PublicMessage(err))
	assert.Empty(t, f.events)
}

func TestUnknownAutomation(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "ghost").
		Return(models.Automation{}, errors.Wrap(repository.ErrNotFound, "automation ghost")).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"ghost","action":"start"}`), "", "")
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
	f.runs.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything)
}

func TestRequestValidation(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		pathID string
	}{
		{name: "invalid json", body: `{"system_id":`},
		{name: "missing system id", body: `{"action":"start"}`},
		{name: "path and body disagree", body: `{"system_id":"sys1","action":"start"}`, pathID: "sys2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.ctrl.Handle(context.Background(), []byte(tc.body), "", tc.pathID)
			assert.Equal(t, http.StatusBadRequest, StatusCode(err))
		})
	}
}

func TestUnknownAction(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"pause"}`), "", "")
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestPathIDFillsMissingSystemID(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("CreateRun", mock.Anything, mock.Anything).Return(nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.Anything).Return(models.AutomationLog{}, nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"action":"start"}`), "", "sys1")
	require.NoError(t, err)
}

func TestSignatureCheckedBeforeAnyAction(t *testing.T) {
	signed := sys1()
	signed.WebhookSecret = "topsecret"
	raw := []byte(`{"system_id":"sys1","action":"start"}`)

	t.Run("bad signature", func(t *testing.T) {
		f := newFixture(t)
		f.automations.On("Get", mock.Anything, "sys1").Return(signed, nil).Once()

		_, err := f.ctrl.Handle(context.Background(), raw, webhook.Sign(raw, "wrong"), "")
		assert.True(t, errors.Is(err, ErrUnauthorized))
		assert.Equal(t, http.StatusUnauthorized, StatusCode(err))
		f.runs.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything)
	})

	t.Run("missing signature", func(t *testing.T) {
		f := newFixture(t)
		f.automations.On("Get", mock.Anything, "sys1").Return(signed, nil).Once()

		_, err := f.ctrl.Handle(context.Background(), raw, "", "")
		assert.True(t, errors.Is(err, ErrUnauthorized))
	})

	t.Run("valid signature", func(t *testing.T) {
		f := newFixture(t)
		f.automations.On("Get", mock.Anything, "sys1").Return(signed, nil).Once()
		f.runs.On("CreateRun", mock.Anything, mock.Anything).Return(nil).Once()
		f.runs.On("AppendLog", mock.Anything, mock.Anything).Return(models.AutomationLog{}, nil).Once()

		_, err := f.ctrl.Handle(context.Background(), raw, webhook.Sign(raw, "topsecret"), "")
		require.NoError(t, err)
	})
}

func TestSignatureRequiredWithoutSecret(t *testing.T) {
	strict := sys1()
	strict.SignatureRequired = true

	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(strict, nil).Once()
	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"start"}`), "", "")
	assert.True(t, errors.Is(err, ErrUnauthorized))

	g := newFixture(t, WithSignaturePolicy(webhook.Policy{RequireSignature: true}))
	g.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	_, err = g.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"start"}`), "", "")
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestLogRequiresRunID(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"log","message":"hi"}`), "", "")
	assert.True(t, errors.Is(err, ErrBadRequest))
	assert.Equal(t, "run_id is required", PublicMessage(err))
}

func TestLogAppendsEntry(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.MatchedBy(func(entry models.AutomationLog) bool {
		return entry.RunID == "run-1" &&
			entry.AutomationID == "sys1" &&
			entry.Level == models.LogLevelWarn &&
			entry.Message == "slow upstream" &&
			entry.StepName != nil && *entry.StepName == "fetch" &&
			entry.StepIndex != nil && *entry.StepIndex == 2 &&
			string(entry.Data) == `{"ms":900}`
	})).Return(models.AutomationLog{ID: "7"}, nil).Once()

	res, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"log","run_id":"run-1",
		"level":"WARNING","message":"slow upstream","step_name":"fetch","step_index":2,"log_data":{"ms":900}}`), "", "")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	assert.Nil(t, res.Event)
	assert.Empty(t, f.events)
}

func TestLogUnknownRun(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.Anything).
		Return(models.AutomationLog{}, errors.Wrap(repository.ErrNotFound, "run ghost")).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"log","run_id":"ghost"}`), "", "")
	assert.Equal(t, http.StatusNotFound, StatusCode(err))
}

func TestCompleteRequiresRunID(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"complete"}`), "", "")
	assert.True(t, errors.Is(err, ErrBadRequest))
	f.runs.AssertNotCalled(t, "GetRun", mock.Anything, mock.Anything)
}

func TestCompleteRejectsNonTerminalStatus(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"complete","run_id":"run-1","status":"running"}`), "", "")
	assert.True(t, errors.Is(err, ErrBadRequest))
}

func TestCompleteUnknownRun(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("GetRun", mock.Anything, "ghost").
		Return(models.AutomationRun{}, errors.Wrap(repository.ErrNotFound, "run ghost")).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"complete","run_id":"ghost"}`), "", "")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestCompleteRunOfAnotherAutomation(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("GetRun", mock.Anything, "run-9").
		Return(models.AutomationRun{ID: "run-9", AutomationID: "sys2", Status: models.RunStatusRunning}, nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"complete","run_id":"run-9"}`), "", "")
	assert.True(t, errors.Is(err, ErrNotFound))
	f.runs.AssertNotCalled(t, "CompleteRun", mock.Anything, mock.Anything)
}

func runningRun() models.AutomationRun {
	return models.AutomationRun{
		ID:           "run-1",
		AutomationID: "sys1",
		TenantID:     "tenant-1",
		Status:       models.RunStatusRunning,
		StartedAt:    t0,
	}
}

func TestCompleteSuccessClearsErrorFields(t *testing.T) {
	f := newFixture(t)
	f.now = t0.Add(2 * time.Second)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("GetRun", mock.Anything, "run-1").Return(runningRun(), nil).Once()
	f.runs.On("CompleteRun", mock.Anything, mock.MatchedBy(func(p repository.CompleteRunParams) bool {
		return p.Status == models.RunStatusSuccess &&
			p.ErrorMessage == nil &&
			p.ErrorDetails == nil &&
			p.DurationMS == 2000 &&
			p.CompletedAt.Equal(t0.Add(2*time.Second)) &&
			p.OnlyIfRunning
	})).Return(models.AutomationRun{ID: "run-1", AutomationID: "sys1", Status: models.RunStatusSuccess}, nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.MatchedBy(func(entry models.AutomationLog) bool {
		return entry.Level == models.LogLevelInfo && entry.Message == "Automation run completed"
	})).Return(models.AutomationLog{}, nil).Once()

	res, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"complete","run_id":"run-1",
		"error_message":"stale","error_details":{"x":1}}`), "", "")
	require.NoError(t, err)
	assert.Equal(t, "run-1", res.RunID)
	require.Len(t, f.events, 1)
	assert.Equal(t, EventRunCompleted, f.events[0].Type)
}

func TestCompleteFailedRecordsError(t *testing.T) {
	f := newFixture(t)
	f.now = t0.Add(1500 * time.Millisecond)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("GetRun", mock.Anything, "run-1").Return(runningRun(), nil).Once()
	f.runs.On("CompleteRun", mock.Anything, mock.MatchedBy(func(p repository.CompleteRunParams) bool {
		return p.Status == models.RunStatusFailed &&
			p.ErrorMessage != nil && *p.ErrorMessage == "boom" &&
			string(p.ErrorDetails) == `{"code":500}` &&
			p.DurationMS == 1500
	})).Return(models.AutomationRun{ID: "run-1", AutomationID: "sys1", Status: models.RunStatusFailed}, nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.MatchedBy(func(entry models.AutomationLog) bool {
		return entry.Level == models.LogLevelError && entry.Message == "Automation run failed"
	})).Return(models.AutomationLog{}, nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"complete","run_id":"run-1",
		"status":"failed","error_message":"boom","error_details":{"code":500}}`), "", "")
	require.NoError(t, err)
}

func TestCompleteFailedWithoutMessageStoresDefault(t *testing.T) {
	for _, body := range []string{
		`{"system_id":"sys1","action":"complete","run_id":"run-1","status":"failed"}`,
		`{"system_id":"sys1","action":"complete","run_id":"run-1","status":"failed","error_message":"  "}`,
	} {
		f := newFixture(t)
		f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
		f.runs.On("GetRun", mock.Anything, "run-1").Return(runningRun(), nil).Once()
		f.runs.On("CompleteRun", mock.Anything, mock.MatchedBy(func(p repository.CompleteRunParams) bool {
			return p.Status == models.RunStatusFailed &&
				p.ErrorMessage != nil && *p.ErrorMessage == "Unknown error"
		})).Return(models.AutomationRun{ID: "run-1", AutomationID: "sys1", Status: models.RunStatusFailed}, nil).Once()
		f.runs.On("AppendLog", mock.Anything, mock.MatchedBy(func(entry models.AutomationLog) bool {
			return entry.Level == models.LogLevelError
		})).Return(models.AutomationLog{}, nil).Once()

		_, err := f.ctrl.Handle(context.Background(), []byte(body), "", "")
		require.NoError(t, err, body)
		f.runs.AssertExpectations(t)
	}
}

func TestCompleteWithoutStartTimeHasZeroDuration(t *testing.T) {
	f := newFixture(t)
	run := runningRun()
	run.StartedAt = time.Time{}
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("GetRun", mock.Anything, "run-1").Return(run, nil).Once()
	f.runs.On("CompleteRun", mock.Anything, mock.MatchedBy(func(p repository.CompleteRunParams) bool {
		return p.DurationMS == 0
	})).Return(models.AutomationRun{ID: "run-1", AutomationID: "sys1", Status: models.RunStatusSuccess}, nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.Anything).Return(models.AutomationLog{}, nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"complete","run_id":"run-1"}`), "", "")
	require.NoError(t, err)
}

func TestCompleteTwiceIsNoOpWithGuard(t *testing.T) {
	f := newFixture(t)
	done := runningRun()
	done.Status = models.RunStatusSuccess
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("GetRun", mock.Anything, "run-1").Return(done, nil).Once()

	res, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"complete","run_id":"run-1","status":"failed"}`), "", "")
	require.NoError(t, err)
	assert.Equal(t, msgAlreadyCompleted, res.Message)
	assert.Nil(t, res.Event)
	f.runs.AssertNotCalled(t, "CompleteRun", mock.Anything, mock.Anything)
}

func TestCompleteLosesRaceWithGuard(t *testing.T) {
	f := newFixture(t)
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("GetRun", mock.Anything, "run-1").Return(runningRun(), nil).Once()
	f.runs.On("CompleteRun", mock.Anything, mock.Anything).
		Return(models.AutomationRun{}, errors.Wrap(repository.ErrNotFound, "run run-1")).Once()

	res, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"complete","run_id":"run-1"}`), "", "")
	require.NoError(t, err)
	assert.Equal(t, msgAlreadyCompleted, res.Message)
}

func TestCompleteTwiceOverwritesWithoutGuard(t *testing.T) {
	f := newFixture(t, WithCompletionGuard(false))
	done := runningRun()
	done.Status = models.RunStatusSuccess
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("GetRun", mock.Anything, "run-1").Return(done, nil).Once()
	f.runs.On("CompleteRun", mock.Anything, mock.MatchedBy(func(p repository.CompleteRunParams) bool {
		return !p.OnlyIfRunning && p.Status == models.RunStatusFailed
	})).Return(models.AutomationRun{ID: "run-1", AutomationID: "sys1", Status: models.RunStatusFailed}, nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.Anything).Return(models.AutomationLog{}, nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"complete","run_id":"run-1","status":"failed"}`), "", "")
	require.NoError(t, err)
}

func TestNotifierFailureDoesNotFailRequest(t *testing.T) {
	f := newFixture(t, WithNotifier(NotifierFunc(func(context.Context, Event) error {
		return errors.New("broker down")
	})))
	f.automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil).Once()
	f.runs.On("CreateRun", mock.Anything, mock.Anything).Return(nil).Once()
	f.runs.On("AppendLog", mock.Anything, mock.Anything).Return(models.AutomationLog{}, nil).Once()

	_, err := f.ctrl.Handle(context.Background(), []byte(`{"system_id":"sys1","action":"start"}`), "", "")
	require.NoError(t, err)
}

// memRuns is an in-memory run store used to follow a run through its
// whole lifecycle.
type memRuns struct {
	mu   sync.Mutex
	runs map[string]models.AutomationRun
	logs []models.AutomationLog
}

func newMemRuns() *memRuns {
	return &memRuns{runs: map[string]models.AutomationRun{}}
}

func (m *memRuns) CreateRun(_ context.Context, run models.AutomationRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = run
	return nil
}

func (m *memRuns) GetRun(_ context.Context, runID string) (models.AutomationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return models.AutomationRun{}, repository.ErrNotFound
	}
	return run, nil
}

func (m *memRuns) CompleteRun(_ context.Context, p repository.CompleteRunParams) (models.AutomationRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[p.RunID]
	if !ok || (p.OnlyIfRunning && run.Status != models.RunStatusRunning) {
		return models.AutomationRun{}, repository.ErrNotFound
	}
	completed := p.CompletedAt
	duration := p.DurationMS
	run.Status = p.Status
	run.OutputData = p.OutputData
	run.ErrorMessage = p.ErrorMessage
	run.ErrorDetails = p.ErrorDetails
	run.CompletedAt = &completed
	run.DurationMS = &duration
	m.runs[p.RunID] = run
	return run, nil
}

func (m *memRuns) ListRuns(context.Context, string, string, int, int) ([]models.AutomationRun, error) {
	return nil, nil
}

func (m *memRuns) AppendLog(_ context.Context, entry models.AutomationLog) (models.AutomationLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, entry)
	return entry, nil
}

func (m *memRuns) ListLogs(context.Context, string, string) ([]models.AutomationLog, error) {
	return nil, nil
}

func TestStartThenCompleteFailed(t *testing.T) {
	automations := &mocks.AutomationRepository{}
	automations.On("Get", mock.Anything, "sys1").Return(sys1(), nil)
	runs := newMemRuns()

	now := t0
	ctrl := NewController(automations, runs, zerolog.Nop(), WithClock(func() time.Time { return now }))

	startBody := body(t, map[string]interface{}{
		"system_id":    "sys1",
		"action":       "start",
		"trigger_type": "manual",
		"input_data":   map[string]int{"x": 1},
	})
	res, err := ctrl.Handle(context.Background(), startBody, "", "")
	require.NoError(t, err)
	require.NotEmpty(t, res.RunID)

	started, err := runs.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusRunning, started.Status)
	assert.Nil(t, started.CompletedAt)
	assert.Equal(t, t0, started.StartedAt)

	now = t0.Add(250 * time.Millisecond)
	completeBody := body(t, map[string]interface{}{
		"system_id":     "sys1",
		"action":        "complete",
		"run_id":        res.RunID,
		"status":        "failed",
		"error_message": "boom",
	})
	_, err = ctrl.Handle(context.Background(), completeBody, "", "")
	require.NoError(t, err)

	stored, err := runs.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "boom", *stored.ErrorMessage)
	require.NotNil(t, stored.DurationMS)
	require.NotNil(t, stored.CompletedAt)
	assert.GreaterOrEqual(t, *stored.DurationMS, int64(0))
	assert.Equal(t, stored.CompletedAt.Sub(stored.StartedAt).Milliseconds(), *stored.DurationMS)

	require.Len(t, runs.logs, 2)
	assert.Equal(t, models.LogLevelInfo, runs.logs[0].Level)
	assert.Equal(t, models.LogLevelError, runs.logs[1].Level)

	// A second complete is ignored and leaves the stored run untouched.
	now = t0.Add(10 * time.Second)
	res2, err := ctrl.Handle(context.Background(), completeBody, "", "")
	require.NoError(t, err)
	assert.Equal(t, msgAlreadyCompleted, res2.Message)
	again, _ := runs.GetRun(context.Background(), res.RunID)
	assert.Equal(t, int64(250), *again.DurationMS)
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, http.StatusOK, StatusCode(nil))
	assert.Equal(t, http.StatusBadRequest, StatusCode(badRequest("x")))
	assert.Equal(t, http.StatusNotFound, StatusCode(notFound("x")))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(storageFailure("x", errors.New("y"))))
	assert.Equal(t, http.StatusInternalServerError, StatusCode(errors.New("plain")))
	assert.Equal(t, "internal server error", PublicMessage(errors.New("plain")))
}
