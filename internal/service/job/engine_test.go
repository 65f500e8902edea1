package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/JrMarcco/jremind/internal/domain"
	"github.com/JrMarcco/jremind/internal/errs"
	"github.com/JrMarcco/jremind/internal/pkg/backoff"
	"github.com/JrMarcco/jremind/internal/pkg/lock"
	"github.com/JrMarcco/jremind/internal/pkg/metrics"
	"github.com/JrMarcco/jremind/internal/repository"
	"github.com/JrMarcco/jremind/internal/repository/cache/local"
	"github.com/JrMarcco/jremind/internal/repository/dao"
	"github.com/JrMarcco/jremind/internal/service/breaker"
	"github.com/JrMarcco/jremind/internal/service/gateway"
	"github.com/glebarez/sqlite"
	gcache "github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// fakeGateway 以消息内容区分条目，内容包含 fail 时返回 500
type fakeGateway struct {
	mu       sync.Mutex
	accepted map[string]int
	calls    int
}

func (f *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	if strings.Contains(req.Body, "fail") {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	f.accepted[req.Body]++
	w.WriteHeader(http.StatusCreated)
	_, _ = fmt.Fprintf(w, `{"id":"ack-%d"}`, f.calls)
}

func (f *fakeGateway) acceptedCount(body string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accepted[body]
}

func (f *fakeGateway) totalAccepted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, cnt := range f.accepted {
		total += cnt
	}
	return total
}

type harness struct {
	db      *gorm.DB
	engine  *DefaultEngine
	jobRepo repository.JobRepo
	ledger  repository.LedgerRepo
	gateway *fakeGateway
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	require.NoError(t, dao.InitTables(db))
	return db
}

func testConfig() Config {
	return Config{
		DefaultInterval: 10 * time.Millisecond,
		StoreRetry:      backoff.Config{BaseDelay: time.Millisecond, MaxDelay: 100 * time.Millisecond, MaxAttempts: 2},
		Deferral:        backoff.Config{BaseDelay: time.Millisecond, MaxDelay: 100 * time.Millisecond},
	}
}

// newHarness brk 为 nil 时使用真实熔断器与网关客户端
func newHarness(t *testing.T, brk breaker.Breaker) *harness {
	t.Helper()

	db := newTestDB(t)
	m := metrics.NewMetrics(nil)
	locker := lock.NewLocalLocker()

	jobRepo := repository.NewDefaultJobRepo(dao.NewDefaultJobDAO(db))
	ledger := repository.NewDefaultLedgerRepo(
		dao.NewDefaultLedgerDAO(db),
		local.NewLedgerLocalCache(gcache.New(time.Minute, time.Minute)),
		local.NewLedgerLocalCache(gcache.New(time.Minute, time.Minute)),
		m, zap.NewNop(),
	)

	gw := &fakeGateway{accepted: make(map[string]int)}
	if brk == nil {
		server := httptest.NewServer(gw)
		t.Cleanup(server.Close)

		client, err := gateway.NewHttpClient(server.Client(), gateway.Config{
			Endpoint: server.URL,
			Instance: "test",
			ApiKey:   "key",
			Rate:     10000,
		}, m, zap.NewNop())
		require.NoError(t, err)

		circuitRepo := repository.NewDefaultCircuitRepo(dao.NewDefaultCircuitDAO(db), dao.NewDefaultQueueDAO(db))
		brk = breaker.NewDefaultBreaker(breaker.Config{}, client, circuitRepo, ledger, locker, m, zap.NewNop())
	}

	engine, err := NewDefaultEngine(testConfig(), jobRepo, ledger, brk, locker, m, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return &harness{db: db, engine: engine, jobRepo: jobRepo, ledger: ledger, gateway: gw}
}

func (h *harness) waitFor(t *testing.T, id string, cond func(job domain.Job) bool) domain.Job {
	t.Helper()

	var job domain.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = h.engine.Status(context.Background(), id)
		require.NoError(t, err)
		return cond(job)
	}, 5*time.Second, 10*time.Millisecond)
	return job
}

func (h *harness) ledgerCount(t *testing.T) int64 {
	t.Helper()

	var cnt int64
	require.NoError(t, h.db.Model(&dao.IdempotencyRecord{}).Count(&cnt).Error)
	return cnt
}

func isStatus(status domain.JobStatus) func(domain.Job) bool {
	return func(job domain.Job) bool {
		return job.Status == status
	}
}

func items(bodies ...string) []domain.JobItem {
	res := make([]domain.JobItem, 0, len(bodies))
	for i, body := range bodies {
		res = append(res, domain.JobItem{
			RecipientId: fmt.Sprintf("recipient-%d", i+1),
			Address:     fmt.Sprintf("55119876543%02d", i),
			Body:        body,
		})
	}
	return res
}

func bodies(n int) []string {
	res := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		res = append(res, fmt.Sprintf("item-%d", i))
	}
	return res
}

func interval(d time.Duration) *time.Duration {
	return &d
}

func createReq(owner string, d time.Duration, jobItems []domain.JobItem) CreateReq {
	return CreateReq{
		OwnerId:          owner,
		NotificationType: "billing",
		CycleKey:         "2026-10",
		Interval:         interval(d),
		Items:            jobItems,
	}
}

func TestEngine_CompletesWithPerItemFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	res, err := h.engine.Create(t.Context(), createReq("owner-1", 0, items("item-1", "item-2 fail", "item-3")))
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, res.Job.Status)

	job := h.waitFor(t, res.Job.Id, isStatus(domain.JobStatusCompleted))
	assert.Equal(t, 3, job.Cursor)
	assert.Equal(t, 2, job.SuccessCount)
	assert.Equal(t, 1, job.ErrorCount)
	assert.Contains(t, job.LastError, errs.ErrTransientDelivery.Error())

	assert.Equal(t, int64(2), h.ledgerCount(t))
	assert.Equal(t, 1, h.gateway.acceptedCount("item-1"))
	assert.Equal(t, 1, h.gateway.acceptedCount("item-3"))
}

func TestEngine_CreateConflict(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := t.Context()

	first, err := h.engine.Create(ctx, createReq("owner-1", time.Hour, items(bodies(3)...)))
	require.NoError(t, err)
	before := h.waitFor(t, first.Job.Id, func(job domain.Job) bool { return job.Cursor == 1 })

	_, err = h.engine.Create(ctx, createReq("owner-1", 0, items(bodies(2)...)))
	assert.ErrorIs(t, err, errs.ErrJobConflict)

	after, err := h.engine.Status(ctx, first.Job.Id)
	require.NoError(t, err)
	assert.Equal(t, before.Cursor, after.Cursor)
	assert.Equal(t, domain.JobStatusProcessing, after.Status)

	// 其他 owner 不受影响
	_, err = h.engine.Create(ctx, createReq("owner-2", 0, items(bodies(1)...)))
	require.NoError(t, err)

	// 终结后可以重新创建
	_, err = h.engine.Cancel(ctx, first.Job.Id)
	require.NoError(t, err)
	_, err = h.engine.Create(ctx, createReq("owner-1", 0, items(bodies(1)...)))
	require.NoError(t, err)
}

func TestEngine_RecoverContinuesAtCursor(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := t.Context()

	jobItems := items(bodies(10)...)
	for i := range jobItems {
		jobItems[i].NotificationType = "billing"
		jobItems[i].CycleKey = "2026-10"
	}

	// 模拟进程在处理完第 5 条后退出
	persisted := domain.Job{
		Id:           "job-restart",
		OwnerId:      "owner-1",
		Status:       domain.JobStatusProcessing,
		Items:        jobItems,
		Cursor:       5,
		SuccessCount: 5,
	}
	require.NoError(t, h.jobRepo.Create(ctx, persisted))
	for _, item := range jobItems[:5] {
		require.NoError(t, h.ledger.Record(ctx, item.IdempotencyKey("owner-1")))
	}

	recovered, err := h.engine.Recover(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	job := h.waitFor(t, persisted.Id, isStatus(domain.JobStatusCompleted))
	assert.Equal(t, 10, job.Cursor)
	assert.Equal(t, 10, job.SuccessCount)
	assert.Equal(t, 0, job.ErrorCount)

	for i := 1; i <= 5; i++ {
		assert.Equal(t, 0, h.gateway.acceptedCount(fmt.Sprintf("item-%d", i)))
	}
	for i := 6; i <= 10; i++ {
		assert.Equal(t, 1, h.gateway.acceptedCount(fmt.Sprintf("item-%d", i)))
	}
	assert.Equal(t, int64(10), h.ledgerCount(t))
}

func TestEngine_PauseResume(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := t.Context()

	res, err := h.engine.Create(ctx, createReq("owner-1", 30*time.Millisecond, items(bodies(12)...)))
	require.NoError(t, err)
	h.waitFor(t, res.Job.Id, func(job domain.Job) bool { return job.Cursor >= 2 })

	paused, err := h.engine.Pause(ctx, res.Job.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPaused, paused.Status)

	// 暂停是幂等的
	_, err = h.engine.Pause(ctx, res.Job.Id)
	require.NoError(t, err)

	// 进行中的条目允许完成，之后游标不再移动
	time.Sleep(200 * time.Millisecond)
	settled, err := h.engine.Status(ctx, res.Job.Id)
	require.NoError(t, err)
	assert.LessOrEqual(t, settled.Cursor, paused.Cursor+1)
	assert.Equal(t, settled.Cursor, settled.SuccessCount+settled.ErrorCount)

	time.Sleep(150 * time.Millisecond)
	still, err := h.engine.Status(ctx, res.Job.Id)
	require.NoError(t, err)
	assert.Equal(t, settled.Cursor, still.Cursor)
	assert.Equal(t, domain.JobStatusPaused, still.Status)

	resumed, err := h.engine.Resume(ctx, res.Job.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusProcessing, resumed.Status)

	job := h.waitFor(t, res.Job.Id, isStatus(domain.JobStatusCompleted))
	assert.Equal(t, 12, job.Cursor)
	assert.Equal(t, 12, job.SuccessCount)
	assert.Equal(t, 12, h.gateway.totalAccepted())
	for _, body := range bodies(12) {
		assert.Equal(t, 1, h.gateway.acceptedCount(body))
	}
}

func TestEngine_Terminated(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := t.Context()

	res, err := h.engine.Create(ctx, createReq("owner-1", time.Hour, items(bodies(3)...)))
	require.NoError(t, err)

	cancelled, err := h.engine.Cancel(ctx, res.Job.Id)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, cancelled.Status)

	// 重复取消无副作用
	_, err = h.engine.Cancel(ctx, res.Job.Id)
	require.NoError(t, err)

	_, err = h.engine.Pause(ctx, res.Job.Id)
	assert.ErrorIs(t, err, errs.ErrJobTerminated)
	_, err = h.engine.Resume(ctx, res.Job.Id)
	assert.ErrorIs(t, err, errs.ErrJobTerminated)

	_, err = h.engine.Status(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrJobNotFound)
	_, err = h.engine.Pause(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrJobNotFound)
}

func TestEngine_LedgerSuppressesDuplicates(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := t.Context()

	first, err := h.engine.Create(ctx, createReq("owner-1", 0, items("item-1", "item-2")))
	require.NoError(t, err)
	h.waitFor(t, first.Job.Id, isStatus(domain.JobStatusCompleted))

	// 同一周期再次触发，全部跳过
	second, err := h.engine.Create(ctx, createReq("owner-1", 0, items("item-1", "item-2")))
	require.NoError(t, err)
	job := h.waitFor(t, second.Job.Id, isStatus(domain.JobStatusCompleted))
	assert.Equal(t, 2, job.SuccessCount)

	assert.Equal(t, 1, h.gateway.acceptedCount("item-1"))
	assert.Equal(t, 1, h.gateway.acceptedCount("item-2"))
	assert.Equal(t, int64(2), h.ledgerCount(t))

	var skipped int
	for _, event := range h.engine.Events(0) {
		if event.JobId == second.Job.Id && event.Kind == domain.JobEventItemSkipped {
			skipped++
		}
	}
	assert.Equal(t, 2, skipped)
}

func TestEngine_CreateValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := t.Context()

	tcs := []struct {
		name    string
		req     CreateReq
		wantErr error
	}{
		{
			name:    "no items",
			req:     createReq("owner-1", 0, nil),
			wantErr: errs.ErrInvalidParam,
		}, {
			name:    "no owner",
			req:     createReq("", 0, items("item-1")),
			wantErr: errs.ErrInvalidParam,
		}, {
			name: "invalid address",
			req: createReq("owner-1", 0, []domain.JobItem{
				{RecipientId: "r1", Address: "123", Body: "hi"},
			}),
			wantErr: errs.ErrInvalidAddress,
		}, {
			name: "missing cycle key",
			req: CreateReq{
				OwnerId:          "owner-1",
				NotificationType: "billing",
				Items:            items("item-1"),
			},
			wantErr: errs.ErrInvalidParam,
		}, {
			name:    "negative interval",
			req:     createReq("owner-1", -time.Second, items("item-1")),
			wantErr: errs.ErrInvalidParam,
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.engine.Create(ctx, tc.req)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestEngine_CreateReturnsCorrections(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)

	res, err := h.engine.Create(t.Context(), createReq("owner-1", time.Hour, []domain.JobItem{
		{RecipientId: "r1", Address: "5511987654321", Body: "hi"},
		{RecipientId: "r2", Address: "551187654321", Body: "hi"},
	}))
	require.NoError(t, err)

	require.Len(t, res.Corrections, 1)
	assert.Equal(t, 1, res.Corrections[0].Index)
	assert.Equal(t, "551187654321", res.Corrections[0].Raw)
	assert.Equal(t, "5511987654321", res.Corrections[0].Canonical)
	assert.Equal(t, "5511987654321", res.Job.Items[1].Address)
	assert.Equal(t, time.Hour, res.Job.Interval)
}

// scriptedBreaker 按调用顺序返回预设结果
type scriptedBreaker struct {
	breaker.Breaker

	mu    sync.Mutex
	calls int
	send  func(call int, msg domain.Message) (domain.DeliveryResult, error)
}

func (s *scriptedBreaker) Send(_ context.Context, msg domain.Message) (domain.DeliveryResult, error) {
	s.mu.Lock()
	s.calls++
	call := s.calls
	s.mu.Unlock()
	return s.send(call, msg)
}

func (s *scriptedBreaker) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestEngine_BreakerOpenDefersItem(t *testing.T) {
	t.Parallel()

	brk := &scriptedBreaker{send: func(call int, msg domain.Message) (domain.DeliveryResult, error) {
		if call <= 2 {
			return domain.DeliveryResult{}, fmt.Errorf("%w: retry later", errs.ErrBreakerOpen)
		}
		return domain.DeliveryResult{MessageId: "ack"}, nil
	}}
	h := newHarness(t, brk)

	res, err := h.engine.Create(t.Context(), createReq("owner-1", 0, items("item-1", "item-2")))
	require.NoError(t, err)

	job := h.waitFor(t, res.Job.Id, isStatus(domain.JobStatusCompleted))
	// 熔断期间既不计成功也不计失败
	assert.Equal(t, 2, job.SuccessCount)
	assert.Equal(t, 0, job.ErrorCount)
	assert.Equal(t, 4, brk.callCount())

	var deferred int
	for _, event := range h.engine.Events(0) {
		if event.Kind == domain.JobEventBreakerOpen {
			deferred++
			assert.Equal(t, 0, event.Index)
		}
	}
	assert.Equal(t, 2, deferred)
}

func TestEngine_DeferralIsPerJob(t *testing.T) {
	t.Parallel()

	brk := &scriptedBreaker{send: func(_ int, msg domain.Message) (domain.DeliveryResult, error) {
		if msg.Payload == "deferred" {
			return domain.DeliveryResult{}, fmt.Errorf("%w: retry later", errs.ErrBreakerOpen)
		}
		return domain.DeliveryResult{MessageId: "ack"}, nil
	}}
	h := newHarness(t, brk)
	cfg := testConfig()

	newJob := func(id string, body string) *domain.Job {
		return &domain.Job{
			Id:      id,
			OwnerId: "owner-" + id,
			Status:  domain.JobStatusProcessing,
			Items: []domain.JobItem{{
				RecipientId:      "recipient-1",
				Address:          "5511987654321",
				Body:             body,
				NotificationType: "billing",
				CycleKey:         "2026-10",
			}},
		}
	}

	jobA, deferralA := newJob("a", "deferred"), backoff.NewManager(cfg.Deferral)
	jobB, deferralB := newJob("b", "sent"), backoff.NewManager(cfg.Deferral)

	outcome, err := h.engine.process(t.Context(), jobA, jobA.Items[0], deferralA)
	require.NoError(t, err)
	assert.Equal(t, outcomeDeferred, outcome)

	outcome, err = h.engine.process(t.Context(), jobB, jobB.Items[0], deferralB)
	require.NoError(t, err)
	assert.Equal(t, outcomeAdvanced, outcome)

	// 其他任务的成功不会重置本任务的等待退避
	assert.Equal(t, 1, deferralA.State().Attempt)
	assert.Equal(t, 1, deferralA.State().ConsecutiveFailures)
	assert.Equal(t, 0, deferralB.State().Attempt)
	assert.Equal(t, 0, jobA.Cursor)
	assert.Equal(t, 1, jobB.Cursor)
}

func TestEngine_FaultCancelsJob(t *testing.T) {
	t.Parallel()

	tcs := []struct {
		name string
		send func(call int, msg domain.Message) (domain.DeliveryResult, error)
	}{
		{
			name: "unexpected error",
			send: func(int, domain.Message) (domain.DeliveryResult, error) {
				return domain.DeliveryResult{}, errors.New("boom")
			},
		}, {
			name: "panic",
			send: func(int, domain.Message) (domain.DeliveryResult, error) {
				panic("boom")
			},
		},
	}

	for _, tc := range tcs {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, &scriptedBreaker{send: tc.send})

			res, err := h.engine.Create(t.Context(), createReq("owner-1", 0, items(bodies(3)...)))
			require.NoError(t, err)

			job := h.waitFor(t, res.Job.Id, isStatus(domain.JobStatusCancelled))
			assert.Contains(t, job.LastError, errs.ErrEngineFault.Error())
			assert.Equal(t, 0, job.Cursor)

			var faults int
			for _, event := range h.engine.Events(0) {
				if event.Kind == domain.JobEventFault {
					faults++
				}
			}
			assert.Equal(t, 1, faults)

			// 故障后 owner 可以重新创建任务
			_, err = h.engine.Create(t.Context(), createReq("owner-1", time.Hour, items(bodies(1)...)))
			require.NoError(t, err)
		})
	}
}

func TestEngine_List(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx := t.Context()

	first, err := h.engine.Create(ctx, createReq("owner-1", 0, items(bodies(1)...)))
	require.NoError(t, err)
	h.waitFor(t, first.Job.Id, isStatus(domain.JobStatusCompleted))

	_, err = h.engine.Create(ctx, createReq("owner-1", time.Hour, items(bodies(2)...)))
	require.NoError(t, err)

	jobs, err := h.engine.List(ctx, "owner-1", 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	_, err = h.engine.List(ctx, "", 10)
	assert.ErrorIs(t, err, errs.ErrInvalidParam)
}
