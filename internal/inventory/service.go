package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/odyssey-erp/storeledger/internal/platform/db"
	"github.com/odyssey-erp/storeledger/internal/platform/events"
	"github.com/odyssey-erp/storeledger/internal/shared"
	"github.com/odyssey-erp/storeledger/internal/tenancy"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	StockLevels(ctx context.Context, tenantID int64, scope Scope, ownerID int64, productIDs []int64) (map[int64]StockLevel, error)
	ListStock(ctx context.Context, tenantID int64, scope Scope, ownerID int64) ([]StockLevel, error)
	GetProducts(ctx context.Context, tenantID int64, ids []int64) (map[int64]Product, error)
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts stock adjustments by scope and outcome.
type MetricsPort interface {
	StockAdjusted(scope, result string)
}

// Service coordinates stock ledger operations.
type Service struct {
	repo      RepositoryPort
	audit     AuditPort
	metrics   MetricsPort
	publisher events.Publisher
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, metrics MetricsPort, publisher events.Publisher) *Service {
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{repo: repo, audit: audit, metrics: metrics, publisher: publisher, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Products loads tenant products keyed by id. Unknown ids yield ErrProductNotFound.
func (s *Service) Products(ctx context.Context, tenantID int64, ids []int64) (map[int64]Product, error) {
	if tenantID == 0 {
		return nil, tenancy.ErrTenantRequired
	}
	products, err := s.repo.GetProducts(ctx, tenantID, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := products[id]; !ok {
			return nil, fmt.Errorf("%w: %d", ErrProductNotFound, id)
		}
	}
	return products, nil
}

// SetStock overwrites the stock at loc with total units.
func (s *Service) SetStock(ctx context.Context, tenant tenancy.Tenant, loc Location, product Product, total int64) (StockLevel, error) {
	if err := checkTarget(tenant, loc, product); err != nil {
		return StockLevel{}, err
	}
	if total < 0 {
		return StockLevel{}, fmt.Errorf("%w: stock cannot be set below zero", ErrInvalidQuantity)
	}
	level := StockLevel{
		TenantID:  tenant.ID,
		Scope:     loc.Scope,
		OwnerID:   loc.OwnerID(tenant.ID),
		ProductID: product.ID,
		Quantity:  Decompose(total, product.Contain()),
	}
	var saved StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		saved, err = tx.UpsertStock(ctx, level)
		return err
	})
	if err != nil {
		return StockLevel{}, err
	}
	s.record(ctx, tenant.ID, nil, "stock.set", "stock", stockEntityID(saved), map[string]any{
		"scope": saved.Scope,
		"stock": saved.Total,
	})
	return saved, nil
}

// AdjustStock moves the stock at loc by delta under a row lock. A result below
// zero fails with ErrInsufficientStock and leaves the row unchanged.
func (s *Service) AdjustStock(ctx context.Context, tenant tenancy.Tenant, loc Location, product Product, delta int64) (StockLevel, error) {
	if err := checkTarget(tenant, loc, product); err != nil {
		return StockLevel{}, err
	}
	var level StockLevel
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		level, err = s.adjust(ctx, tx, tenant.ID, loc, product, delta)
		return err
	})
	if err != nil {
		return StockLevel{}, err
	}
	s.record(ctx, tenant.ID, nil, "stock.adjust", "stock", stockEntityID(level), map[string]any{
		"scope": level.Scope,
		"delta": delta,
		"stock": level.Total,
	})
	return level, nil
}

// AnnotateStock fills OnHand for each product from the rows at loc in one
// read. Products without a row report zero.
func (s *Service) AnnotateStock(ctx context.Context, tenant tenancy.Tenant, loc Location, products []Product) ([]Product, error) {
	if err := loc.Validate(tenant); err != nil {
		return nil, err
	}
	if len(products) == 0 {
		return products, nil
	}
	ids := make([]int64, 0, len(products))
	for _, p := range products {
		ids = append(ids, p.ID)
	}
	levels, err := s.repo.StockLevels(ctx, tenant.ID, loc.Scope, loc.OwnerID(tenant.ID), ids)
	if err != nil {
		return nil, err
	}
	out := make([]Product, len(products))
	for i, p := range products {
		p.OnHand = Quantity{}
		if level, ok := levels[p.ID]; ok {
			p.OnHand = level.Quantity
		}
		out[i] = p
	}
	return out, nil
}

// ListStock returns every stock row held at loc.
func (s *Service) ListStock(ctx context.Context, tenant tenancy.Tenant, loc Location) ([]StockLevel, error) {
	if err := loc.Validate(tenant); err != nil {
		return nil, err
	}
	return s.repo.ListStock(ctx, tenant.ID, loc.Scope, loc.OwnerID(tenant.ID))
}

// Receive adds packages and items at a location and writes one movement.
// Type defaults to purchase.
func (s *Service) Receive(ctx context.Context, input ReceiptInput) (Movement, error) {
	if input.Type == "" {
		input.Type = MovementPurchase
	}
	return s.move(ctx, input, 1)
}

// Issue removes packages and items at a location and writes one movement.
// Type defaults to sale.
func (s *Service) Issue(ctx context.Context, input IssueInput) (Movement, error) {
	if input.Type == "" {
		input.Type = MovementSale
	}
	return s.move(ctx, input, -1)
}

func (s *Service) move(ctx context.Context, input ReceiptInput, sign int64) (Movement, error) {
	if err := checkTarget(input.Tenant, input.Location, input.Product); err != nil {
		return Movement{}, err
	}
	total, err := input.Product.Units(input.PackageQty, input.ItemQty)
	if err != nil {
		return Movement{}, err
	}
	if total <= 0 {
		return Movement{}, fmt.Errorf("%w: total items must be positive", ErrInvalidQuantity)
	}
	if input.Type == MovementSaleReturn && input.Reference == "" {
		return Movement{}, fmt.Errorf("%w: sale return requires the invoice reference", shared.ErrValidation)
	}
	var movement Movement
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := s.adjust(ctx, tx, input.Tenant.ID, input.Location, input.Product, sign*total); err != nil {
			return err
		}
		rows, err := tx.InsertMovements(ctx, []Movement{{
			TenantID:   input.Tenant.ID,
			ProductID:  input.Product.ID,
			Scope:      input.Location.Scope,
			StoreID:    input.Location.StoreID(),
			BranchID:   input.Location.BranchID(),
			Type:       input.Type,
			PackageQty: input.PackageQty,
			ItemQty:    input.ItemQty,
			TotalItems: total,
			Reference:  input.Reference,
			Note:       input.Note,
			CreatedBy:  input.CreatedBy,
		}})
		if err != nil {
			return err
		}
		movement = rows[0]
		if input.Type == MovementSaleReturn {
			return checkReturnable(ctx, tx, input.Tenant.ID, input.Product.ID, input.Reference)
		}
		return nil
	})
	if err != nil {
		return Movement{}, err
	}
	return movement, nil
}

// checkReturnable fails when the units returned against reference, including
// the one just written, exceed the units it sold. The stock row lock taken by
// the return serialises concurrent returns of the same product.
func checkReturnable(ctx context.Context, tx TxRepository, tenantID, productID int64, reference string) error {
	sold, err := tx.SumMovements(ctx, tenantID, productID, reference, MovementSale)
	if err != nil {
		return err
	}
	returned, err := tx.SumMovements(ctx, tenantID, productID, reference, MovementSaleReturn)
	if err != nil {
		return err
	}
	if returned > sold {
		return fmt.Errorf("%w: %s sold %d of product %d, %d returned", ErrReturnExceedsSale, reference, sold, productID, returned)
	}
	return nil
}

const maxMovements = 500

// Movements lists the stock card at loc, newest first. Limit defaults to and
// is capped at 500 rows.
func (s *Service) Movements(ctx context.Context, tenant tenancy.Tenant, loc Location, filter MovementFilter) ([]Movement, error) {
	if err := loc.Validate(tenant); err != nil {
		return nil, err
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, fmt.Errorf("%w: movement range ends before it starts", shared.ErrValidation)
	}
	filter.TenantID = tenant.ID
	filter.Location = &loc
	if filter.Limit <= 0 || filter.Limit > maxMovements {
		filter.Limit = maxMovements
	}
	movements, err := s.repo.ListMovements(ctx, filter)
	if err != nil {
		return nil, err
	}
	if movements == nil {
		movements = []Movement{}
	}
	return movements, nil
}

// adjust locks the row, applies delta and persists the result inside tx.
func (s *Service) adjust(ctx context.Context, tx TxRepository, tenantID int64, loc Location, product Product, delta int64) (StockLevel, error) {
	current, err := tx.LockStock(ctx, tenantID, loc.Scope, loc.OwnerID(tenantID), product.ID)
	if err != nil {
		return StockLevel{}, err
	}
	next, err := applyDelta(current, delta, product.Contain())
	if errors.Is(err, ErrInsufficientStock) {
		s.count(loc.Scope, "insufficient")
		return StockLevel{}, fmt.Errorf("%w: %s %d has %d, requested %d", err, loc.Scope, current.OwnerID, current.Total, -delta)
	}
	if err != nil {
		return StockLevel{}, err
	}
	saved, err := tx.SaveStock(ctx, next)
	if err != nil {
		return StockLevel{}, err
	}
	db.AfterCommit(ctx, func(context.Context) {
		s.count(loc.Scope, "ok")
	})
	return saved, nil
}

func (s *Service) count(scope Scope, result string) {
	if s.metrics != nil {
		s.metrics.StockAdjusted(string(scope), result)
	}
}

// record writes an audit row after the outermost transaction commits.
func (s *Service) record(ctx context.Context, tenantID int64, actor *int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	db.AfterCommit(ctx, func(ctx context.Context) {
		_ = s.audit.Record(ctx, shared.AuditLog{
			TenantID: tenantID,
			ActorID:  actor,
			Action:   action,
			Entity:   entity,
			EntityID: entityID,
			Meta:     meta,
			At:       s.now(),
		})
	})
}

func (s *Service) publish(ctx context.Context, evt events.Event) {
	db.AfterCommit(ctx, func(ctx context.Context) {
		_ = s.publisher.Publish(ctx, evt)
	})
}

func checkTarget(tenant tenancy.Tenant, loc Location, product Product) error {
	if err := loc.Validate(tenant); err != nil {
		return err
	}
	if product.ID == 0 {
		return fmt.Errorf("%w: product required", shared.ErrValidation)
	}
	if product.TenantID != 0 && product.TenantID != tenant.ID {
		return fmt.Errorf("%w: %d", ErrProductNotFound, product.ID)
	}
	return nil
}

func stockEntityID(level StockLevel) string {
	return fmt.Sprintf("%s:%d:%d", level.Scope, level.OwnerID, level.ProductID)
}

// IsInsufficientStock reports whether err came from a stock shortfall.
func IsInsufficientStock(err error) bool {
	return errors.Is(err, ErrInsufficientStock)
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
