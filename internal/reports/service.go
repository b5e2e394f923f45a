package reports

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/odyssey-erp/storeledger/internal/accounting"
)

// LedgerPort supplies uncached balances.
type LedgerPort interface {
	Balances(ctx context.Context, filter accounting.LineFilter) ([]accounting.AccountBalance, error)
}

// Service serves cached ledger reports.
type Service struct {
	ledger LedgerPort
	cache  *Cache
	logger *slog.Logger
}

// NewService wires the report service.
func NewService(ledger LedgerPort, cache *Cache, logger *slog.Logger) *Service {
	return &Service{ledger: ledger, cache: cache, logger: logger}
}

// AccountBalances returns per-account balances for filter, cached until the
// tenant's next posting.
func (s *Service) AccountBalances(ctx context.Context, filter accounting.LineFilter) ([]accounting.AccountBalance, error) {
	var balances []accounting.AccountBalance
	key, err := s.cache.BuildKey(ctx, filter.TenantID, "balances", idToken(filter.StoreID), idToken(filter.BranchID),
		dateToken(filter.From), dateToken(filter.To))
	if err == nil {
		err = s.cache.FetchJSON(ctx, key, &balances, func(ctx context.Context) (any, error) {
			return s.ledger.Balances(ctx, filter)
		})
	}
	if errors.Is(err, ErrUnavailable) {
		if s.logger != nil {
			s.logger.Warn("reports cache unavailable, reading uncached", slog.Int64("tenant_id", filter.TenantID), slog.Any("error", err))
		}
		balances, err = s.ledger.Balances(ctx, filter)
	}
	if err != nil {
		return nil, err
	}
	if balances == nil {
		balances = []accounting.AccountBalance{}
	}
	return balances, nil
}

// TrialBalance builds the grouped trial balance for filter.
func (s *Service) TrialBalance(ctx context.Context, filter accounting.LineFilter) (TrialBalance, error) {
	balances, err := s.AccountBalances(ctx, filter)
	if err != nil {
		return TrialBalance{}, err
	}
	return BuildTrialBalance(balances), nil
}

// Bump drops the tenant's cached reports.
func (s *Service) Bump(ctx context.Context, tenantID int64) error {
	return s.cache.Bump(ctx, tenantID)
}

// OnPosted invalidates the tenant's reports whenever an entry commits.
func (s *Service) OnPosted(ctx context.Context, entry accounting.JournalEntry) {
	if err := s.Bump(ctx, entry.TenantID); err != nil && s.logger != nil {
		s.logger.Warn("report cache bump failed", slog.Int64("tenant_id", entry.TenantID), slog.Any("error", err))
	}
}

func idToken(id *int64) string {
	if id == nil {
		return "all"
	}
	return strconv.FormatInt(*id, 10)
}

func dateToken(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("20060102")
}
