package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/storeledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/storeledger/internal/jobs"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
	_ "github.com/odyssey-erp/storeledger/testing"
)

type stubTenants struct {
	ids     []int64
	missing map[int64]bool
}

func (s stubTenants) ListTenantIDs(context.Context) ([]int64, error) { return s.ids, nil }

func (s stubTenants) GetTenant(_ context.Context, id int64) (tenancy.Tenant, error) {
	if s.missing[id] {
		return tenancy.Tenant{}, tenancy.ErrNotFound
	}
	return tenancy.Tenant{ID: id, IsActive: true}, nil
}

type stubLedger struct {
	mu         sync.Mutex
	checked    []int64
	seeded     []int64
	imbalances map[int64][]accounting.Imbalance
	failFor    int64
}

func (s *stubLedger) CheckIntegrity(_ context.Context, tenantID int64) ([]accounting.Imbalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if tenantID == s.failFor {
		return nil, errors.New("db down")
	}
	s.checked = append(s.checked, tenantID)
	return s.imbalances[tenantID], nil
}

func (s *stubLedger) EnsureDefaultAccounts(_ context.Context, tenant tenancy.Tenant) (map[string]accounting.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeded = append(s.seeded, tenant.ID)
	return map[string]accounting.Account{accounting.CodeCash: {Code: accounting.CodeCash}}, nil
}

func TestLedgerIntegrityScansAllTenants(t *testing.T) {
	ledger := &stubLedger{imbalances: map[int64][]accounting.Imbalance{
		2: {{TenantID: 2, EntryID: 9, Debit: decimal.NewFromInt(10), Credit: decimal.NewFromInt(7)}},
	}}
	job := NewLedgerIntegrityJob(stubTenants{ids: []int64{1, 2, 3}}, ledger, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	report, err := job.Scan(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 3, report.Tenants)
	require.Len(t, report.Imbalances, 1)
	require.EqualValues(t, 9, report.Imbalances[0].EntryID)
	require.ElementsMatch(t, []int64{1, 2, 3}, ledger.checked)
}

func TestLedgerIntegrityHandleUsesPayloadTenants(t *testing.T) {
	ledger := &stubLedger{}
	job := NewLedgerIntegrityJob(stubTenants{ids: []int64{1, 2, 3}}, ledger, nil, nil)

	task, err := NewLedgerIntegrityTask(LedgerIntegrityPayload{TenantIDs: []int64{3}})
	require.NoError(t, err)
	require.Equal(t, TaskLedgerIntegrity, task.Type())
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{3}, ledger.checked)
}

func TestLedgerIntegrityPropagatesFailures(t *testing.T) {
	ledger := &stubLedger{failFor: 2}
	job := NewLedgerIntegrityJob(stubTenants{ids: []int64{1, 2}}, ledger, nil, nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, nil))
	require.Error(t, err)
	require.Contains(t, err.Error(), "tenant 2")
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	job := NewLedgerIntegrityJob(stubTenants{}, &stubLedger{}, nil, nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerIntegrity, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	seed := NewSeedAccountsJob(stubTenants{}, &stubLedger{}, nil, nil)
	err = seed.Handle(context.Background(), asynq.NewTask(TaskSeedAccounts, []byte("nope")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSeedAccountsSkipsMissingTenants(t *testing.T) {
	ledger := &stubLedger{}
	job := NewSeedAccountsJob(stubTenants{ids: []int64{1, 2, 3}, missing: map[int64]bool{2: true}}, ledger, nil, nil)

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskSeedAccounts, nil)))
	require.Equal(t, []int64{1, 3}, ledger.seeded)

	task, err := NewSeedAccountsTask(SeedAccountsPayload{TenantID: 7})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, []int64{1, 3, 7}, ledger.seeded)
}

func TestHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	NewHandler(nil, nil).MountRoutes(r)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, QueueDefault, body["queue"])
}

type stubCleaner struct {
	retentions []time.Duration
}

func (s *stubCleaner) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.retentions = append(s.retentions, olderThan)
	return 4, nil
}

func TestIdempotencyCleanupRetention(t *testing.T) {
	cleaner := &stubCleaner{}
	job := NewIdempotencyCleanupJob(cleaner, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskIdempotencyCleanup, nil)))
	task, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{RetentionHours: 2})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, []time.Duration{7 * 24 * time.Hour, 2 * time.Hour}, cleaner.retentions)
}
