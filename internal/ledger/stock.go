// Package ledger holds the pure bookkeeping rules for stock and customer
// debt. Functions here transform value snapshots supplied by the caller and
// never touch storage; the store layer is responsible for applying the
// results atomically.
package ledger

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"shopdesk/backend/internal/domain"
	"shopdesk/backend/internal/xid"
)

var (
	ErrInvalidMovement     = errors.New("invalid stock movement")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrInsufficientBalance = errors.New("insufficient balance")
)

// MovementMeta carries the optional fields of a stock movement.
type MovementMeta struct {
	Note        string
	BatchNumber string
}

// ApplyStockMovement converts quantity into a unit delta, applies it to the
// product's running total and returns the updated product together with the
// ledger entry to append. The movement's BalanceAfter snapshots the new
// total; QuantityChange is always unit-denominated regardless of the input
// granularity.
func ApplyStockMovement(product domain.Product, movementType, quantityType string, quantity int, actor string, meta MovementMeta, now time.Time) (domain.Product, domain.StockMovement, error) {
	if !validMovementType(movementType) {
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("%w: unknown type %q", ErrInvalidMovement, movementType)
	}
	if quantity == 0 {
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("%w: quantity must be non-zero", ErrInvalidMovement)
	}
	if product.UnitsPerCarton < 1 {
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("%w: units per carton must be at least 1", ErrInvalidMovement)
	}

	var deltaUnits int
	switch quantityType {
	case domain.QuantityCarton:
		deltaUnits = quantity * product.UnitsPerCarton
	case domain.QuantityUnit:
		deltaUnits = quantity
	default:
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("%w: unknown quantity type %q", ErrInvalidMovement, quantityType)
	}

	newTotal := product.TotalUnits + deltaUnits
	if newTotal < 0 {
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("%w: have %d units, movement needs %d", ErrInsufficientStock, product.TotalUnits, -deltaUnits)
	}

	product.TotalUnits = newTotal
	movement := domain.StockMovement{
		ID:             xid.New("mov"),
		ShopID:         product.ShopID,
		ProductID:      product.ID,
		Type:           movementType,
		Quantity:       quantity,
		QuantityType:   quantityType,
		QuantityChange: deltaUnits,
		BalanceAfter:   newTotal,
		UserID:         actor,
		Note:           meta.Note,
		BatchNumber:    meta.BatchNumber,
		CreatedAt:      now,
	}
	return product, movement, nil
}

// ApplyStockAudit resets the product to a counted level. The movement delta
// is the difference between the counted level and the current total, so an
// audit can lower stock below what a plain movement would allow, but never
// below zero.
func ApplyStockAudit(product domain.Product, countedUnits int, actor, note string, now time.Time) (domain.Product, domain.StockMovement, error) {
	if countedUnits < 0 {
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("%w: counted units must not be negative", ErrInvalidMovement)
	}
	delta := countedUnits - product.TotalUnits
	if delta == 0 {
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("%w: counted level equals current stock", ErrInvalidMovement)
	}

	product.TotalUnits = countedUnits
	movement := domain.StockMovement{
		ID:             xid.New("mov"),
		ShopID:         product.ShopID,
		ProductID:      product.ID,
		Type:           domain.MovementAudit,
		Quantity:       delta,
		QuantityType:   domain.QuantityUnit,
		QuantityChange: delta,
		BalanceAfter:   countedUnits,
		UserID:         actor,
		Note:           note,
		CreatedAt:      now,
	}
	return product, movement, nil
}

// IsLowStock is derived on every read and never cached.
func IsLowStock(product domain.Product) bool {
	return product.TotalUnits < product.MinStockLevel
}

// BuildStockHistory sorts movements newest first and splits each balance
// snapshot into cartons and remaining units for display.
func BuildStockHistory(product domain.Product, movements []domain.StockMovement) domain.StockHistoryResponse {
	sorted := slices.Clone(movements)
	slices.SortFunc(sorted, func(a, b domain.StockMovement) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	upc := product.UnitsPerCarton
	if upc < 1 {
		upc = 1
	}
	entries := make([]domain.MovementHistoryEntry, 0, len(sorted))
	for _, m := range sorted {
		entries = append(entries, domain.MovementHistoryEntry{
			StockMovement:    m,
			BalanceCartons:   m.BalanceAfter / upc,
			BalanceRemainder: m.BalanceAfter % upc,
		})
	}
	return domain.StockHistoryResponse{
		ProductID:      product.ID,
		UnitsPerCarton: product.UnitsPerCarton,
		Movements:      entries,
	}
}

func validMovementType(t string) bool {
	switch t {
	case domain.MovementRestock, domain.MovementSale, domain.MovementAdjustment, domain.MovementReturn, domain.MovementAudit:
		return true
	}
	return false
}
