package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/storeledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/storeledger/internal/jobs"
)

// TenantLister enumerates active tenants.
type TenantLister interface {
	ListTenantIDs(ctx context.Context) ([]int64, error)
}

// IntegrityChecker reports unbalanced entries of one tenant.
type IntegrityChecker interface {
	CheckIntegrity(ctx context.Context, tenantID int64) ([]accounting.Imbalance, error)
}

// LedgerIntegrityJob verifies that every journal entry balances.
type LedgerIntegrityJob struct {
	Tenants     TenantLister
	Ledger      IntegrityChecker
	Logger      *slog.Logger
	Metrics     *jobmetrics.Metrics
	Concurrency int
}

// NewLedgerIntegrityJob initialises the integrity scan handler.
func NewLedgerIntegrityJob(tenants TenantLister, ledger IntegrityChecker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Tenants: tenants, Ledger: ledger, Logger: logger, Metrics: metrics, Concurrency: 4}
}

// IntegrityReport summarises one scan.
type IntegrityReport struct {
	Tenants    int
	Imbalances []accounting.Imbalance
}

// Handle executes the integrity scan.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Ledger == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskLedgerIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.logger()
	report, err := j.Scan(ctx, payload.TenantIDs)
	if err != nil {
		logger.Error("ledger integrity scan failed", slog.Any("error", err))
		return err
	}
	for _, imb := range report.Imbalances {
		logger.Warn("unbalanced journal entry",
			slog.Int64("tenant_id", imb.TenantID),
			slog.Int64("entry_id", imb.EntryID),
			slog.String("debit", imb.Debit.StringFixed(2)),
			slog.String("credit", imb.Credit.StringFixed(2)),
		)
	}
	logger.Info("completed ledger integrity scan",
		slog.Int("tenants", report.Tenants),
		slog.Int("imbalances", len(report.Imbalances)),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

// Scan checks each tenant concurrently. Empty tenantIDs scans all tenants.
func (j *LedgerIntegrityJob) Scan(ctx context.Context, tenantIDs []int64) (IntegrityReport, error) {
	if len(tenantIDs) == 0 {
		if j.Tenants == nil {
			return IntegrityReport{}, errors.New("ledger integrity: tenant lister not configured")
		}
		ids, err := j.Tenants.ListTenantIDs(ctx)
		if err != nil {
			return IntegrityReport{}, fmt.Errorf("ledger integrity: list tenants: %w", err)
		}
		tenantIDs = ids
	}

	var (
		mu     sync.Mutex
		report = IntegrityReport{Tenants: len(tenantIDs)}
	)
	g, gctx := errgroup.WithContext(ctx)
	limit := j.Concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for _, tenantID := range tenantIDs {
		g.Go(func() error {
			found, err := j.Ledger.CheckIntegrity(gctx, tenantID)
			if err != nil {
				return fmt.Errorf("ledger integrity: tenant %d: %w", tenantID, err)
			}
			j.Metrics.AddImbalances(tenantID, len(found))
			mu.Lock()
			report.Imbalances = append(report.Imbalances, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return IntegrityReport{}, err
	}
	return report, nil
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}
