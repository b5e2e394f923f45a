package inventory

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/odyssey-erp/storeledger/internal/platform/events"
)

// EventTransferred is published once a transfer commits.
const EventTransferred = "inventory.transferred"

// Transfer debits the source and credits the destination in one transaction
// and writes the transfer header with its out and in movements.
func (s *Service) Transfer(ctx context.Context, input TransferInput) (Transfer, error) {
	if err := checkTarget(input.Tenant, input.From, input.Product); err != nil {
		return Transfer{}, err
	}
	if err := input.To.Validate(input.Tenant); err != nil {
		return Transfer{}, err
	}
	total, err := input.Product.Units(input.PackageQty, input.ItemQty)
	if err != nil {
		return Transfer{}, err
	}
	if total <= 0 {
		return Transfer{}, fmt.Errorf("%w: total items must be positive", ErrInvalidQuantity)
	}
	tenantID := input.Tenant.ID
	if input.From.same(input.To, tenantID) {
		return Transfer{}, ErrSameLocation
	}

	header := Transfer{
		TenantID:     tenantID,
		Code:         "TRF-" + uuid.NewString(),
		ProductID:    input.Product.ID,
		FromScope:    input.From.Scope,
		FromStoreID:  input.From.StoreID(),
		FromBranchID: input.From.BranchID(),
		ToScope:      input.To.Scope,
		ToStoreID:    input.To.StoreID(),
		ToBranchID:   input.To.BranchID(),
		PackageQty:   input.PackageQty,
		ItemQty:      input.ItemQty,
		TotalItems:   total,
		Note:         input.Note,
		CreatedBy:    input.CreatedBy,
	}
	var transfer Transfer
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := lockPair(ctx, tx, tenantID, input.From, input.To, input.Product.ID); err != nil {
			return err
		}
		if _, err := s.adjust(ctx, tx, tenantID, input.From, input.Product, -total); err != nil {
			return err
		}
		if _, err := s.adjust(ctx, tx, tenantID, input.To, input.Product, total); err != nil {
			return err
		}
		inserted, err := tx.InsertTransfer(ctx, header)
		if err != nil {
			return err
		}
		movements, err := tx.InsertMovements(ctx, []Movement{
			transferMovement(inserted, input.From, MovementTransferOut),
			transferMovement(inserted, input.To, MovementTransferIn),
		})
		if err != nil {
			return err
		}
		inserted.Movements = movements
		transfer = inserted
		return nil
	})
	if err != nil {
		return Transfer{}, err
	}

	s.record(ctx, tenantID, transfer.CreatedBy, "inventory.transfer", "inventory_transfer", idString(transfer.ID), map[string]any{
		"code":        transfer.Code,
		"product_id":  transfer.ProductID,
		"from_scope":  transfer.FromScope,
		"to_scope":    transfer.ToScope,
		"total_items": transfer.TotalItems,
	})
	s.publish(ctx, events.New(EventTransferred, tenantID, transfer))
	return transfer, nil
}

// lockPair locks both stock rows in a fixed order so opposite transfers
// between the same locations queue instead of deadlocking.
func lockPair(ctx context.Context, tx TxRepository, tenantID int64, a, b Location, productID int64) error {
	if lockBefore(b, a, tenantID) {
		a, b = b, a
	}
	for _, loc := range []Location{a, b} {
		if _, err := tx.LockStock(ctx, tenantID, loc.Scope, loc.OwnerID(tenantID), productID); err != nil {
			return err
		}
	}
	return nil
}

var scopeRank = map[Scope]int{ScopeTenant: 0, ScopeStore: 1, ScopeBranch: 2}

func lockBefore(a, b Location, tenantID int64) bool {
	if scopeRank[a.Scope] != scopeRank[b.Scope] {
		return scopeRank[a.Scope] < scopeRank[b.Scope]
	}
	return a.OwnerID(tenantID) < b.OwnerID(tenantID)
}

func transferMovement(t Transfer, loc Location, kind MovementType) Movement {
	id := t.ID
	return Movement{
		TenantID:   t.TenantID,
		ProductID:  t.ProductID,
		Scope:      loc.Scope,
		StoreID:    loc.StoreID(),
		BranchID:   loc.BranchID(),
		Type:       kind,
		PackageQty: t.PackageQty,
		ItemQty:    t.ItemQty,
		TotalItems: t.TotalItems,
		TransferID: &id,
		Note:       t.Note,
		CreatedBy:  t.CreatedBy,
	}
}
