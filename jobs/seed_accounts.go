package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/storeledger/internal/accounting"
	jobmetrics "github.com/odyssey-erp/storeledger/internal/jobs"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// TenantSource loads tenants for seeding.
type TenantSource interface {
	TenantLister
	GetTenant(ctx context.Context, id int64) (tenancy.Tenant, error)
}

// AccountSeeder creates missing system accounts.
type AccountSeeder interface {
	EnsureDefaultAccounts(ctx context.Context, tenant tenancy.Tenant) (map[string]accounting.Account, error)
}

// SeedAccountsJob makes sure every tenant owns the system chart of accounts.
type SeedAccountsJob struct {
	Tenants TenantSource
	Ledger  AccountSeeder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSeedAccountsJob initialises the seeding handler.
func NewSeedAccountsJob(tenants TenantSource, ledger AccountSeeder, logger *slog.Logger, metrics *jobmetrics.Metrics) *SeedAccountsJob {
	return &SeedAccountsJob{Tenants: tenants, Ledger: ledger, Logger: logger, Metrics: metrics}
}

// Handle seeds one tenant or all of them.
func (j *SeedAccountsJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Tenants == nil || j.Ledger == nil {
		return errors.New("seed accounts: handler not configured")
	}
	var payload SeedAccountsPayload
	if err := decodePayload(t, &payload); err != nil {
		return err
	}
	tracker := j.Metrics.Track(TaskSeedAccounts)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	ids := []int64{payload.TenantID}
	if payload.TenantID == 0 {
		var err error
		if ids, err = j.Tenants.ListTenantIDs(ctx); err != nil {
			return fmt.Errorf("seed accounts: list tenants: %w", err)
		}
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	for _, id := range ids {
		tenant, err := j.Tenants.GetTenant(ctx, id)
		if err != nil {
			if tenancy.IsNotFound(err) {
				logger.Warn("seed accounts: tenant missing", slog.Int64("tenant_id", id))
				continue
			}
			return err
		}
		accounts, err := j.Ledger.EnsureDefaultAccounts(ctx, tenant)
		if err != nil {
			return fmt.Errorf("seed accounts: tenant %d: %w", id, err)
		}
		logger.Info("seeded system accounts", slog.String("job", TaskSeedAccounts), slog.Int64("tenant_id", id), slog.Int("accounts", len(accounts)))
	}
	return nil
}
