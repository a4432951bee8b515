package postgres

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopdesk/backend/internal/domain"
)

func TestVoidSaleRestoresStock(t *testing.T) {
	databaseURL := os.Getenv("SHOPDESK_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SHOPDESK_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productID := fmt.Sprintf("prd-void-it-%d", stamp)
	saleID := fmt.Sprintf("sale-void-it-%d", stamp)
	idempotencyKey := fmt.Sprintf("idem-void-it-%d", stamp)
	shopID := "main-shop"

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sale_items WHERE sale_id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sales WHERE id = $1`, saleID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_movements WHERE product_id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	})

	if _, err := s.CreateProduct(ctx, domain.Product{
		ID:             productID,
		ShopID:         shopID,
		Name:           "Void IT Product",
		Category:       "test",
		Price:          decimal.NewFromInt(500),
		UnitsPerCarton: 12,
		TotalUnits:     10,
		MinStockLevel:  2,
		Active:         true,
	}); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	sale := domain.Sale{
		ID:             saleID,
		ShopID:         shopID,
		IdempotencyKey: idempotencyKey,
		PaymentMethod:  domain.PaymentCash,
		Subtotal:       decimal.NewFromInt(1500),
		Total:          decimal.NewFromInt(1500),
		CashReceived:   decimal.NewFromInt(2000),
		Change:         decimal.NewFromInt(500),
		Status:         domain.SaleStatusPaid,
		Items: []domain.SaleLine{{
			ProductID: productID,
			Name:      "Void IT Product",
			Qty:       3,
			UnitPrice: decimal.NewFromInt(500),
			LineTotal: decimal.NewFromInt(1500),
		}},
	}
	deduction := domain.StockMovement{
		ShopID:         shopID,
		ProductID:      productID,
		Type:           domain.MovementSale,
		Quantity:       3,
		QuantityType:   domain.QuantityUnit,
		QuantityChange: -3,
		UserID:         "tester",
	}
	if _, err := s.CreateSale(ctx, sale, []domain.StockMovement{deduction}); err != nil {
		t.Fatalf("create sale: %v", err)
	}

	product, err := s.GetProductByID(ctx, productID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.TotalUnits != 7 {
		t.Fatalf("expected 7 units after sale, got %d", product.TotalUnits)
	}

	restock := deduction
	restock.Type = domain.MovementReturn
	restock.QuantityChange = 3
	restock.Note = "void " + saleID
	voided, err := s.VoidSale(ctx, saleID, "integration test void", []domain.StockMovement{restock}, time.Now().UTC())
	if err != nil {
		t.Fatalf("void sale: %v", err)
	}
	if voided.Status != domain.SaleStatusVoided {
		t.Fatalf("expected voided status, got %s", voided.Status)
	}

	product, err = s.GetProductByID(ctx, productID)
	if err != nil {
		t.Fatalf("get product after void: %v", err)
	}
	if product.TotalUnits != 10 {
		t.Fatalf("expected stock restored to 10, got %d", product.TotalUnits)
	}

	if _, err := s.VoidSale(ctx, saleID, "second void", nil, time.Now().UTC()); err == nil {
		t.Fatalf("expected second void to be rejected")
	}
}
