package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

const (
	defaultLimit     = 100
	maxLimit         = 500
	defaultDateRange = 7 * 24 * time.Hour
	maxDateRange     = 90 * 24 * time.Hour
)

// ErrRangeTooWide indicates a timeline window longer than 90 days.
var ErrRangeTooWide = fmt.Errorf("%w: audit: date range exceeds 90 days", shared.ErrValidation)

// Repository reads audit rows.
type Repository interface {
	Timeline(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error)
}

// Service serves the audit timeline.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds the audit timeline service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Timeline returns the newest matching rows first. Without a window it covers
// the last seven days; the limit defaults to 100 and is capped at 500.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) ([]TimelineRow, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	filters, err := s.normalise(filters)
	if err != nil {
		return nil, err
	}
	rows, err := s.repo.Timeline(ctx, filters)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []TimelineRow{}
	}
	return rows, nil
}

func (s *Service) normalise(f TimelineFilters) (TimelineFilters, error) {
	if f.TenantID == 0 {
		return f, tenancy.ErrTenantRequired
	}
	if f.To.IsZero() {
		f.To = s.now()
	}
	if f.From.IsZero() {
		f.From = f.To.Add(-defaultDateRange)
	}
	if f.To.Before(f.From) {
		return f, fmt.Errorf("%w: audit: range ends before it starts", shared.ErrValidation)
	}
	if f.To.Sub(f.From) > maxDateRange {
		return f, ErrRangeTooWide
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	return f, nil
}
