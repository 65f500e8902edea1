package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/errs"
	"github.com/JrMarcco/jremind/internal/pkg/registry"
	"github.com/JrMarcco/jremind/internal/service/job"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeEngine struct {
	job.Engine

	createReq job.CreateReq
	createErr error
	jobs      map[string]domain.Job
	mutateErr error
	events    []domain.JobEvent
}

func (f *fakeEngine) Create(_ context.Context, req job.CreateReq) (job.CreateResult, error) {
	f.createReq = req
	if f.createErr != nil {
		return job.CreateResult{}, f.createErr
	}
	return job.CreateResult{
		Job: domain.Job{Id: "job-1", OwnerId: req.OwnerId, Status: domain.JobStatusProcessing},
		Corrections: []job.ItemCorrection{
			{Index: 0, Raw: "551187654321", Canonical: "5511987654321", Corrections: []string{"added mobile ninth digit"}},
		},
	}, nil
}

func (f *fakeEngine) Status(_ context.Context, id string) (domain.Job, error) {
	j, ok := f.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: %s", errs.ErrJobNotFound, id)
	}
	return j, nil
}

func (f *fakeEngine) Pause(ctx context.Context, id string) (domain.Job, error) {
	return f.mutate(ctx, id, domain.JobStatusPaused)
}

func (f *fakeEngine) Resume(ctx context.Context, id string) (domain.Job, error) {
	return f.mutate(ctx, id, domain.JobStatusProcessing)
}

func (f *fakeEngine) Cancel(ctx context.Context, id string) (domain.Job, error) {
	return f.mutate(ctx, id, domain.JobStatusCancelled)
}

func (f *fakeEngine) mutate(ctx context.Context, id string, to domain.JobStatus) (domain.Job, error) {
	if f.mutateErr != nil {
		return domain.Job{}, f.mutateErr
	}
	j, err := f.Status(ctx, id)
	if err != nil {
		return domain.Job{}, err
	}
	j.Status = to
	return j, nil
}

func (f *fakeEngine) List(_ context.Context, ownerId string, _ int) ([]domain.Job, error) {
	if ownerId == "" {
		return nil, fmt.Errorf("%w: owner id should not be empty", errs.ErrInvalidParam)
	}
	res := make([]domain.Job, 0, len(f.jobs))
	for _, j := range f.jobs {
		if j.OwnerId == ownerId {
			res = append(res, j)
		}
	}
	return res, nil
}

func (f *fakeEngine) Events(_ int) []domain.JobEvent {
	return f.events
}

type fakeBreaker struct {
	snapshot  domain.CircuitSnapshot
	statusErr error
	report    domain.QueueReport
	reset     bool
	cleared   int64
}

func (f *fakeBreaker) Send(context.Context, domain.Message) (domain.DeliveryResult, error) {
	return domain.DeliveryResult{}, nil
}

func (f *fakeBreaker) Status(context.Context) (domain.CircuitSnapshot, error) {
	return f.snapshot, f.statusErr
}

func (f *fakeBreaker) Reset(context.Context) error {
	f.reset = true
	f.snapshot.State.Status = domain.CircuitClosed
	return nil
}

func (f *fakeBreaker) ProcessQueue(context.Context) (domain.QueueReport, error) {
	return f.report, nil
}

func (f *fakeBreaker) ClearQueue(context.Context) (int64, error) {
	f.cleared = f.snapshot.QueueLength
	f.snapshot.QueueLength = 0
	return f.cleared, nil
}

func (f *fakeBreaker) UpdateThresholds(context.Context, int, int) error {
	return nil
}

type fakeRegistry struct {
	registry.Registry
	instances []registry.ServiceInstance
}

func (f *fakeRegistry) ListService(_ context.Context, name string) ([]registry.ServiceInstance, error) {
	res := make([]registry.ServiceInstance, 0, len(f.instances))
	for _, si := range f.instances {
		if si.Name == name {
			res = append(res, si)
		}
	}
	return res, nil
}

type envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(engine *fakeEngine, brk *fakeBreaker) *gin.Engine {
	reg := &fakeRegistry{instances: []registry.ServiceInstance{
		{Name: "jremind", Addr: "10.0.0.1:8080"},
		{Name: "other", Addr: "10.0.0.2:8080"},
	}}
	h := NewHandler(engine, brk, reg, "jremind", zap.NewNop())
	return NewRouter(h, prometheus.NewRegistry(), zap.NewNop())
}

func doRequest(t *testing.T, r http.Handler, method string, target string, body string) (int, envelope) {
	t.Helper()

	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var env envelope
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec.Code, env
}

func TestHandler_CreateJob(t *testing.T) {
	t.Parallel()

	validBody := `{
		"owner_id": "owner-1",
		"notification_type": "billing",
		"cycle_key": "2026-10",
		"interval_seconds": 0.5,
		"items": [{"recipient_id": "r1", "address": "551187654321", "body": "hi"}]
	}`

	tcs := []struct {
		name      string
		body      string
		createErr error
		wantCode  int
		wantMsg   string
	}{
		{
			name:     "created",
			body:     validBody,
			wantCode: http.StatusCreated,
		}, {
			name:     "missing items",
			body:     `{"owner_id": "owner-1", "items": []}`,
			wantCode: http.StatusBadRequest,
		}, {
			name:     "missing owner",
			body:     `{"items": [{"recipient_id": "r1", "address": "5511987654321", "body": "hi"}]}`,
			wantCode: http.StatusBadRequest,
		}, {
			name:     "negative interval",
			body:     `{"owner_id": "owner-1", "interval_seconds": -1, "items": [{"recipient_id": "r1", "address": "5511987654321", "body": "hi"}]}`,
			wantCode: http.StatusBadRequest,
		}, {
			name:     "malformed json",
			body:     `{"owner_id":`,
			wantCode: http.StatusBadRequest,
		}, {
			name:      "conflict",
			body:      validBody,
			createErr: fmt.Errorf("%w: owner-1", errs.ErrJobConflict),
			wantCode:  http.StatusConflict,
			wantMsg:   errs.ErrJobConflict.Error(),
		}, {
			name:      "invalid item",
			body:      validBody,
			createErr: fmt.Errorf("%w: item[0]: %w", errs.ErrInvalidParam, errs.ErrInvalidAddress),
			wantCode:  http.StatusBadRequest,
		}, {
			name:      "store failure",
			body:      validBody,
			createErr: errors.New("db down"),
			wantCode:  http.StatusInternalServerError,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			engine := &fakeEngine{createErr: tc.createErr}
			code, env := doRequest(t, newTestRouter(engine, &fakeBreaker{}), http.MethodPost, "/api/v1/jobs", tc.body)
			assert.Equal(t, tc.wantCode, code)

			if tc.wantCode != http.StatusCreated {
				assert.Equal(t, statusError, env.Status)
				if tc.wantMsg != "" {
					assert.Contains(t, env.Message, tc.wantMsg)
				}
				return
			}

			assert.Equal(t, statusSuccess, env.Status)
			var resp createJobResp
			require.NoError(t, json.Unmarshal(env.Data, &resp))
			assert.Equal(t, "job-1", resp.JobId)
			require.Len(t, resp.Corrections, 1)
			assert.Equal(t, "5511987654321", resp.Corrections[0].Canonical)

			require.NotNil(t, engine.createReq.Interval)
			assert.Equal(t, 500*time.Millisecond, *engine.createReq.Interval)
			assert.Equal(t, "billing", engine.createReq.NotificationType)
			require.Len(t, engine.createReq.Items, 1)
			assert.Equal(t, "551187654321", engine.createReq.Items[0].Address)
		})
	}
}

func TestHandler_CreateJobDefaultInterval(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	code, _ := doRequest(t, newTestRouter(engine, &fakeBreaker{}), http.MethodPost, "/api/v1/jobs",
		`{"owner_id": "owner-1", "items": [{"recipient_id": "r1", "address": "5511987654321", "body": "hi"}]}`)
	assert.Equal(t, http.StatusCreated, code)
	assert.Nil(t, engine.createReq.Interval)
}

func TestHandler_JobLifecycle(t *testing.T) {
	t.Parallel()

	jobs := map[string]domain.Job{
		"job-1": {
			Id:           "job-1",
			OwnerId:      "owner-1",
			Status:       domain.JobStatusProcessing,
			Items:        make([]domain.JobItem, 10),
			Cursor:       4,
			SuccessCount: 3,
			ErrorCount:   1,
			Interval:     3 * time.Second,
		},
	}

	tcs := []struct {
		name       string
		method     string
		target     string
		mutateErr  error
		wantCode   int
		wantStatus string
	}{
		{
			name:       "get",
			method:     http.MethodGet,
			target:     "/api/v1/jobs/job-1",
			wantCode:   http.StatusOK,
			wantStatus: "processing",
		}, {
			name:     "get missing",
			method:   http.MethodGet,
			target:   "/api/v1/jobs/missing",
			wantCode: http.StatusNotFound,
		}, {
			name:       "pause",
			method:     http.MethodPost,
			target:     "/api/v1/jobs/job-1/pause",
			wantCode:   http.StatusOK,
			wantStatus: "paused",
		}, {
			name:       "resume",
			method:     http.MethodPost,
			target:     "/api/v1/jobs/job-1/resume",
			wantCode:   http.StatusOK,
			wantStatus: "processing",
		}, {
			name:       "cancel",
			method:     http.MethodPost,
			target:     "/api/v1/jobs/job-1/cancel",
			wantCode:   http.StatusOK,
			wantStatus: "cancelled",
		}, {
			name:      "pause terminated",
			method:    http.MethodPost,
			target:    "/api/v1/jobs/job-1/pause",
			mutateErr: fmt.Errorf("%w: job-1 is completed", errs.ErrJobTerminated),
			wantCode:  http.StatusConflict,
		}, {
			name:     "resume missing",
			method:   http.MethodPost,
			target:   "/api/v1/jobs/missing/resume",
			wantCode: http.StatusNotFound,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			engine := &fakeEngine{jobs: jobs, mutateErr: tc.mutateErr}
			code, env := doRequest(t, newTestRouter(engine, &fakeBreaker{}), tc.method, tc.target, "")
			assert.Equal(t, tc.wantCode, code)
			if tc.wantCode != http.StatusOK {
				return
			}

			var vo jobVO
			require.NoError(t, json.Unmarshal(env.Data, &vo))
			assert.Equal(t, tc.wantStatus, vo.Status)
			assert.Equal(t, 10, vo.Total)
			assert.Equal(t, 4, vo.Cursor)
			assert.Equal(t, vo.Cursor, vo.SuccessCount+vo.ErrorCount)
			assert.Equal(t, float64(3), vo.IntervalSeconds)
		})
	}
}

func TestHandler_ListJobs(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{jobs: map[string]domain.Job{
		"job-1": {Id: "job-1", OwnerId: "owner-1", Status: domain.JobStatusCompleted},
		"job-2": {Id: "job-2", OwnerId: "owner-2", Status: domain.JobStatusProcessing},
	}}
	r := newTestRouter(engine, &fakeBreaker{})

	code, env := doRequest(t, r, http.MethodGet, "/api/v1/jobs?owner_id=owner-1&limit=5", "")
	require.Equal(t, http.StatusOK, code)
	var vos []jobVO
	require.NoError(t, json.Unmarshal(env.Data, &vos))
	require.Len(t, vos, 1)
	assert.Equal(t, "job-1", vos[0].Id)

	code, _ = doRequest(t, r, http.MethodGet, "/api/v1/jobs?owner_id=owner-1&limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = doRequest(t, r, http.MethodGet, "/api/v1/jobs", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestHandler_ListEvents(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{events: []domain.JobEvent{
		{JobId: "job-1", Kind: domain.JobEventStarted},
		{JobId: "job-2", Kind: domain.JobEventStarted},
		{JobId: "job-1", Kind: domain.JobEventItemSuccess},
	}}
	r := newTestRouter(engine, &fakeBreaker{})

	code, env := doRequest(t, r, http.MethodGet, "/api/v1/events?job_id=job-1", "")
	require.Equal(t, http.StatusOK, code)
	var events []domain.JobEvent
	require.NoError(t, json.Unmarshal(env.Data, &events))
	require.Len(t, events, 2)
	assert.Equal(t, domain.JobEventItemSuccess, events[1].Kind)
}

func TestHandler_Breaker(t *testing.T) {
	t.Parallel()

	brk := &fakeBreaker{
		snapshot: domain.CircuitSnapshot{
			State:            domain.CircuitState{Name: "gateway", Status: domain.CircuitOpen, FailureCount: 5},
			QueueLength:      3,
			RetryAfterMillis: 30000,
		},
		report: domain.QueueReport{Delivered: 2, Skipped: 1},
	}
	r := newTestRouter(&fakeEngine{}, brk)

	code, env := doRequest(t, r, http.MethodGet, "/api/v1/breaker", "")
	require.Equal(t, http.StatusOK, code)
	var snapshot domain.CircuitSnapshot
	require.NoError(t, json.Unmarshal(env.Data, &snapshot))
	assert.Equal(t, domain.CircuitOpen, snapshot.State.Status)
	assert.Equal(t, int64(3), snapshot.QueueLength)

	code, env = doRequest(t, r, http.MethodPost, "/api/v1/breaker/queue/process", "")
	require.Equal(t, http.StatusOK, code)
	var report domain.QueueReport
	require.NoError(t, json.Unmarshal(env.Data, &report))
	assert.Equal(t, 2, report.Delivered)

	// 未确认时不清空
	code, _ = doRequest(t, r, http.MethodDelete, "/api/v1/breaker/queue", "")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, int64(3), brk.snapshot.QueueLength)

	code, _ = doRequest(t, r, http.MethodDelete, "/api/v1/breaker/queue?confirm=true", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, int64(3), brk.cleared)

	code, env = doRequest(t, r, http.MethodPost, "/api/v1/breaker/reset", "")
	require.Equal(t, http.StatusOK, code)
	assert.True(t, brk.reset)
	require.NoError(t, json.Unmarshal(env.Data, &snapshot))
	assert.Equal(t, domain.CircuitClosed, snapshot.State.Status)
}

func TestHandler_Ops(t *testing.T) {
	t.Parallel()

	brk := &fakeBreaker{}
	r := newTestRouter(&fakeEngine{}, brk)

	code, env := doRequest(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, statusSuccess, env.Status)

	code, env = doRequest(t, r, http.MethodGet, "/api/v1/instances", "")
	require.Equal(t, http.StatusOK, code)
	var instances []registry.ServiceInstance
	require.NoError(t, json.Unmarshal(env.Data, &instances))
	require.Len(t, instances, 1)
	assert.Equal(t, "10.0.0.1:8080", instances[0].Addr)

	code, _ = doRequest(t, r, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, code)

	brk.statusErr = errors.New("db down")
	code, env = doRequest(t, r, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, statusError, env.Status)
}

func TestStatusOf(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name string
		err  error
		want int
	}{
		{name: "invalid", err: errs.ErrInvalidParam, want: http.StatusBadRequest},
		{name: "invalid address", err: errs.ErrInvalidAddress, want: http.StatusBadRequest},
		{name: "not found", err: errs.ErrJobNotFound, want: http.StatusNotFound},
		{name: "conflict", err: errs.ErrJobConflict, want: http.StatusConflict},
		{name: "terminated", err: errs.ErrJobTerminated, want: http.StatusConflict},
		{name: "cursor moved", err: errs.ErrCursorMoved, want: http.StatusConflict},
		{name: "drain running", err: errs.ErrLocked, want: http.StatusConflict},
		{name: "breaker open", err: errs.ErrBreakerOpen, want: http.StatusServiceUnavailable},
		{name: "other", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, statusOf(fmt.Errorf("wrapped: %w", tc.err)))
		})
	}
}
