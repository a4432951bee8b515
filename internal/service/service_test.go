package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopdesk/backend/internal/cache"
	"shopdesk/backend/internal/domain"
	"shopdesk/backend/internal/ledger"
	"shopdesk/backend/internal/store"
	"shopdesk/backend/internal/store/memory"
	"shopdesk/backend/internal/subscription"
)

func newTestService() *Service {
	repo := memory.NewSeeded()
	engine := subscription.NewEngine(subscription.Config{TrialDays: 7, TrialEnabled: true})
	return New(repo, engine, cache.NoopStatusCache{}, 5*time.Minute, "main-shop")
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: "admin"})
}

func cashierCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "kasir", Role: "cashier"})
}

func naira(n int64) decimal.Decimal { return decimal.NewFromInt(n) }

func productUnits(t *testing.T, svc *Service, productID string) int {
	t.Helper()
	products, err := svc.ListProducts(adminCtx(), "main-shop")
	if err != nil {
		t.Fatalf("list products failed: %v", err)
	}
	for _, p := range products {
		if p.ID == productID {
			return p.TotalUnits
		}
	}
	t.Fatalf("product %s not found", productID)
	return 0
}

func TestCheckoutCashComputesChangeAndDeductsStock(t *testing.T) {
	svc := newTestService()
	before := productUnits(t, svc, "prd-milk-170")

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-cash-1",
		PaymentMethod:  domain.PaymentCash,
		CashReceived:   naira(1000),
		CartItems:      []domain.CartItem{{ProductID: "prd-milk-170", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("checkout failed: %v", err)
	}
	if !resp.Total.Equal(naira(700)) {
		t.Fatalf("expected total 700, got %s", resp.Total)
	}
	if !resp.Change.Equal(naira(300)) {
		t.Fatalf("expected change 300, got %s", resp.Change)
	}

	after := productUnits(t, svc, "prd-milk-170")
	if after != before-2 {
		t.Fatalf("expected stock %d, got %d", before-2, after)
	}

	history, err := svc.StockHistory(cashierCtx(), "prd-milk-170", 10)
	if err != nil {
		t.Fatalf("stock history failed: %v", err)
	}
	latest := history.Movements[0]
	if latest.Type != domain.MovementSale || latest.QuantityChange != -2 {
		t.Fatalf("expected sale movement of -2, got %s %d", latest.Type, latest.QuantityChange)
	}
	if latest.BalanceAfter != after {
		t.Fatalf("movement balance %d does not match stock %d", latest.BalanceAfter, after)
	}
}

func TestCheckoutCashBelowTotalRejected(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-cash-short",
		PaymentMethod:  domain.PaymentCash,
		CashReceived:   naira(500),
		CartItems:      []domain.CartItem{{ProductID: "prd-milk-170", Qty: 2}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCheckoutIdempotencyReplaysOriginal(t *testing.T) {
	svc := newTestService()
	before := productUnits(t, svc, "prd-sugar-1kg")

	req := domain.CheckoutRequest{
		IdempotencyKey: "idem-replay",
		PaymentMethod:  domain.PaymentCash,
		CashReceived:   naira(5000),
		CartItems:      []domain.CartItem{{ProductID: "prd-sugar-1kg", Qty: 3}},
	}

	first, err := svc.Checkout(cashierCtx(), req)
	if err != nil {
		t.Fatalf("first checkout failed: %v", err)
	}
	second, err := svc.Checkout(cashierCtx(), req)
	if err != nil {
		t.Fatalf("replay checkout failed: %v", err)
	}

	if !second.Duplicate {
		t.Fatalf("expected replay to be flagged duplicate")
	}
	if second.SaleID != first.SaleID {
		t.Fatalf("expected same sale id, got %s and %s", first.SaleID, second.SaleID)
	}
	if got := productUnits(t, svc, "prd-sugar-1kg"); got != before-3 {
		t.Fatalf("expected stock deducted once to %d, got %d", before-3, got)
	}
}

func TestCheckoutInsufficientStockRejected(t *testing.T) {
	svc := newTestService()
	have := productUnits(t, svc, "prd-milk-170")

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-oversell",
		PaymentMethod:  domain.PaymentCash,
		CashReceived:   naira(100000),
		CartItems:      []domain.CartItem{{ProductID: "prd-milk-170", Qty: have + 1}},
	})
	if !errors.Is(err, ledger.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}
	if got := productUnits(t, svc, "prd-milk-170"); got != have {
		t.Fatalf("stock should be untouched, got %d", got)
	}
}

func TestCheckoutTransferRequiresReference(t *testing.T) {
	svc := newTestService()

	_, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-transfer",
		PaymentMethod:  domain.PaymentTransfer,
		CartItems:      []domain.CartItem{{ProductID: "prd-milk-170", Qty: 1}},
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestCheckoutCreditSaleRecordsDebt(t *testing.T) {
	svc := newTestService()

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-credit",
		PaymentMethod:  domain.PaymentCredit,
		CustomerID:     "cus-nkechi",
		CartItems:      []domain.CartItem{{ProductID: "prd-sugar-1kg", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("credit checkout failed: %v", err)
	}

	statement, err := svc.DebtStatement(cashierCtx(), "cus-nkechi")
	if err != nil {
		t.Fatalf("debt statement failed: %v", err)
	}
	if !statement.Balance.Equal(naira(2400)) {
		t.Fatalf("expected balance 2400, got %s", statement.Balance)
	}
	if statement.Divergent {
		t.Fatalf("balance should match the cached total")
	}
	if len(statement.Transactions) != 1 || statement.Transactions[0].SaleID != resp.SaleID {
		t.Fatalf("expected one transaction linked to sale %s", resp.SaleID)
	}
}

// debtFailRepo simulates a debt write outage after the sale committed.
type debtFailRepo struct {
	store.Repository
	err error
}

func (r debtFailRepo) ApplyDebtTransaction(ctx context.Context, tx domain.DebtTransaction) (*domain.Customer, error) {
	return nil, r.err
}

func TestCheckoutCreditSaleStandsWhenDebtWriteFails(t *testing.T) {
	repo := debtFailRepo{Repository: memory.NewSeeded(), err: errors.New("debt store unavailable")}
	engine := subscription.NewEngine(subscription.Config{TrialDays: 7, TrialEnabled: true})
	svc := New(repo, engine, cache.NoopStatusCache{}, 5*time.Minute, "main-shop")

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-credit-outage",
		PaymentMethod:  domain.PaymentCredit,
		CustomerID:     "cus-nkechi",
		CartItems:      []domain.CartItem{{ProductID: "prd-sugar-1kg", Qty: 1}},
	})
	if err != nil {
		t.Fatalf("checkout must not fail for a sale that committed: %v", err)
	}

	// The committed sale stays findable for reconciliation.
	replay, err := svc.LookupCheckoutByIdempotency(cashierCtx(), "main-shop", "idem-credit-outage")
	if err != nil {
		t.Fatalf("committed sale must be retrievable: %v", err)
	}
	if replay.SaleID != resp.SaleID {
		t.Fatalf("expected sale %s, got %s", resp.SaleID, replay.SaleID)
	}
}

func TestDebtPaymentCannotExceedBalance(t *testing.T) {
	svc := newTestService()

	if _, _, err := svc.RecordDebtCredit(cashierCtx(), "cus-tunde", domain.DebtCreditRequest{Amount: naira(1000), Note: "goods"}); err != nil {
		t.Fatalf("record credit failed: %v", err)
	}
	_, _, err := svc.RecordDebtPayment(cashierCtx(), "cus-tunde", domain.DebtPaymentRequest{Amount: naira(1500)})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	customer, _, err := svc.RecordDebtPayment(cashierCtx(), "cus-tunde", domain.DebtPaymentRequest{Amount: naira(1000)})
	if err != nil {
		t.Fatalf("exact payment failed: %v", err)
	}
	if !customer.TotalDebt.IsZero() {
		t.Fatalf("expected zero balance, got %s", customer.TotalDebt)
	}
}

func TestVoidSaleRestoresStockAndReversesDebt(t *testing.T) {
	svc := newTestService()
	before := productUnits(t, svc, "prd-milk-170")

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-void-credit",
		PaymentMethod:  domain.PaymentCredit,
		CustomerID:     "cus-nkechi",
		CartItems:      []domain.CartItem{{ProductID: "prd-milk-170", Qty: 4}},
	})
	if err != nil {
		t.Fatalf("credit checkout failed: %v", err)
	}

	void, err := svc.VoidSale(adminCtx(), resp.SaleID, "wrong order")
	if err != nil {
		t.Fatalf("void failed: %v", err)
	}
	if void.Status != domain.SaleStatusVoided {
		t.Fatalf("expected voided status, got %s", void.Status)
	}

	if got := productUnits(t, svc, "prd-milk-170"); got != before {
		t.Fatalf("expected stock restored to %d, got %d", before, got)
	}

	statement, err := svc.DebtStatement(cashierCtx(), "cus-nkechi")
	if err != nil {
		t.Fatalf("debt statement failed: %v", err)
	}
	if !statement.Balance.IsZero() {
		t.Fatalf("expected debt reversed to zero, got %s", statement.Balance)
	}

	if _, err := svc.VoidSale(adminCtx(), resp.SaleID, "again"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected second void to be rejected, got %v", err)
	}
}

func TestGiftCardCheckoutAndRefundOnVoid(t *testing.T) {
	svc := newTestService()

	card, err := svc.IssueGiftCard(adminCtx(), domain.GiftCardIssueRequest{Code: "gc-hamper", Amount: naira(5000)})
	if err != nil {
		t.Fatalf("issue gift card failed: %v", err)
	}

	resp, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-gift",
		PaymentMethod:  domain.PaymentGiftCard,
		GiftCardCode:   card.Code,
		CartItems:      []domain.CartItem{{ProductID: "prd-milk-170", Qty: 2}},
	})
	if err != nil {
		t.Fatalf("gift card checkout failed: %v", err)
	}

	after, err := svc.GetGiftCard(cashierCtx(), card.Code)
	if err != nil {
		t.Fatalf("get gift card failed: %v", err)
	}
	if !after.Balance.Equal(naira(4300)) {
		t.Fatalf("expected balance 4300, got %s", after.Balance)
	}

	if _, err := svc.VoidSale(adminCtx(), resp.SaleID, "customer returned"); err != nil {
		t.Fatalf("void failed: %v", err)
	}
	refunded, err := svc.GetGiftCard(cashierCtx(), card.Code)
	if err != nil {
		t.Fatalf("get gift card failed: %v", err)
	}
	if !refunded.Balance.Equal(naira(5000)) {
		t.Fatalf("expected refunded balance 5000, got %s", refunded.Balance)
	}
}

func TestGiftCardWithoutCoverRejected(t *testing.T) {
	svc := newTestService()
	before := productUnits(t, svc, "prd-sugar-1kg")

	card, err := svc.IssueGiftCard(adminCtx(), domain.GiftCardIssueRequest{Code: "gc-small", Amount: naira(500)})
	if err != nil {
		t.Fatalf("issue gift card failed: %v", err)
	}

	_, err = svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-gift-short",
		PaymentMethod:  domain.PaymentGiftCard,
		GiftCardCode:   card.Code,
		CartItems:      []domain.CartItem{{ProductID: "prd-sugar-1kg", Qty: 1}},
	})
	if !errors.Is(err, ledger.ErrInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if got := productUnits(t, svc, "prd-sugar-1kg"); got != before {
		t.Fatalf("stock should be untouched, got %d", got)
	}
}

func TestRecordStockMovementRejectsSaleType(t *testing.T) {
	svc := newTestService()

	_, _, err := svc.RecordStockMovement(cashierCtx(), domain.StockMovementRequest{
		ProductID:    "prd-milk-170",
		Type:         domain.MovementSale,
		QuantityType: domain.QuantityUnit,
		Quantity:     -2,
	})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRecordStockMovementCartonRestock(t *testing.T) {
	svc := newTestService()
	before := productUnits(t, svc, "prd-milk-170")

	product, movement, err := svc.RecordStockMovement(adminCtx(), domain.StockMovementRequest{
		ProductID:    "prd-milk-170",
		Type:         domain.MovementRestock,
		QuantityType: domain.QuantityCarton,
		Quantity:     3,
		BatchNumber:  "B-2024-091",
	})
	if err != nil {
		t.Fatalf("restock failed: %v", err)
	}
	if product.TotalUnits != before+36 {
		t.Fatalf("expected %d units after 3 cartons of 12, got %d", before+36, product.TotalUnits)
	}
	if movement.QuantityChange != 36 || movement.Quantity != 3 || movement.QuantityType != domain.QuantityCarton {
		t.Fatalf("expected carton input preserved with unit delta 36, got %+v", movement)
	}
}

func TestStockAuditRequiresAdminAndResetsLevel(t *testing.T) {
	svc := newTestService()

	if _, _, err := svc.StockAudit(cashierCtx(), domain.StockAuditRequest{ProductID: "prd-milk-170", CountedUnits: 100}); err == nil {
		t.Fatalf("expected cashier stock audit to be rejected")
	}

	product, movement, err := svc.StockAudit(adminCtx(), domain.StockAuditRequest{ProductID: "prd-milk-170", CountedUnits: 100, Note: "monthly count"})
	if err != nil {
		t.Fatalf("stock audit failed: %v", err)
	}
	if product.TotalUnits != 100 {
		t.Fatalf("expected level reset to 100, got %d", product.TotalUnits)
	}
	if movement.Type != domain.MovementAudit || movement.QuantityChange != -20 {
		t.Fatalf("expected audit movement of -20, got %s %d", movement.Type, movement.QuantityChange)
	}
}

func TestLowStockReportListsProductsBelowMinimum(t *testing.T) {
	svc := newTestService()

	if _, _, err := svc.StockAudit(adminCtx(), domain.StockAuditRequest{ProductID: "prd-milk-170", CountedUnits: 10}); err != nil {
		t.Fatalf("stock audit failed: %v", err)
	}

	report, err := svc.LowStockReport(adminCtx(), "main-shop")
	if err != nil {
		t.Fatalf("low stock report failed: %v", err)
	}
	if len(report.Items) != 1 || report.Items[0].ProductID != "prd-milk-170" {
		t.Fatalf("expected only the audited product low, got %+v", report.Items)
	}
}

func TestCreateProductSeedsOpeningStockThroughLedger(t *testing.T) {
	svc := newTestService()

	product, err := svc.CreateProduct(adminCtx(), domain.ProductCreateRequest{
		Name:           "Golden Penny Spaghetti",
		Category:       "grocery",
		Price:          naira(900),
		UnitsPerCarton: 20,
		MinStockLevel:  40,
		InitialUnits:   60,
	})
	if err != nil {
		t.Fatalf("create product failed: %v", err)
	}
	if product.TotalUnits != 60 {
		t.Fatalf("expected 60 opening units, got %d", product.TotalUnits)
	}

	history, err := svc.StockHistory(adminCtx(), product.ID, 10)
	if err != nil {
		t.Fatalf("stock history failed: %v", err)
	}
	if len(history.Movements) != 1 || history.Movements[0].Type != domain.MovementRestock {
		t.Fatalf("expected a single opening restock movement, got %+v", history.Movements)
	}
}

func TestSubscriptionStatusCreatesTrialLazily(t *testing.T) {
	svc := newTestService()

	status, err := svc.SubscriptionStatus(context.Background(), "main-shop")
	if err != nil {
		t.Fatalf("subscription status failed: %v", err)
	}
	if status.Status != domain.SubStatusTrial {
		t.Fatalf("expected fresh shop on trial, got %s", status.Status)
	}
	if status.DaysRemaining != 7 {
		t.Fatalf("expected 7 trial days, got %d", status.DaysRemaining)
	}
	if !status.IntegrityOK {
		t.Fatalf("fresh record should pass integrity")
	}
}

func TestSubscriptionStatusUnknownShopNeverMintsTrial(t *testing.T) {
	svc := newTestService()

	// Only the configured shop gets a lazy trial; any other shop name
	// reports not found instead of a fresh entitlement.
	if _, err := svc.SubscriptionStatus(context.Background(), "someone-elses-shop"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown shop, got %v", err)
	}
	if err := svc.EnsureActive(context.Background(), "someone-elses-shop"); err == nil {
		t.Fatalf("expected the gate to stay closed for an unknown shop")
	}
}

func TestEnsureActiveLocksUnpaidShopUntilPayment(t *testing.T) {
	repo := memory.NewSeeded()
	engine := subscription.NewEngine(subscription.Config{TrialDays: 7, TrialEnabled: false})
	svc := New(repo, engine, cache.NoopStatusCache{}, 5*time.Minute, "main-shop")

	err := svc.EnsureActive(context.Background(), "main-shop")
	if !errors.Is(err, store.ErrSubscriptionLocked) {
		t.Fatalf("expected locked shop, got %v", err)
	}

	status, err := svc.ConfirmSubscriptionPayment(adminCtx(), "main-shop", domain.ConfirmPaymentRequest{
		Plan:             domain.PlanMonthly,
		PaymentReference: "TRF-20240601-001",
		Amount:           naira(5000),
	})
	if err != nil {
		t.Fatalf("confirm payment failed: %v", err)
	}
	if status.Status != domain.SubStatusActive {
		t.Fatalf("expected active after payment, got %s", status.Status)
	}

	if err := svc.EnsureActive(context.Background(), "main-shop"); err != nil {
		t.Fatalf("expected paid shop to pass the gate, got %v", err)
	}
}

func TestConfirmSubscriptionPaymentRequiresAdmin(t *testing.T) {
	svc := newTestService()

	_, err := svc.ConfirmSubscriptionPayment(cashierCtx(), "main-shop", domain.ConfirmPaymentRequest{
		Plan:             domain.PlanMonthly,
		PaymentReference: "TRF-1",
		Amount:           naira(5000),
	})
	if err == nil {
		t.Fatalf("expected cashier payment confirmation to be rejected")
	}
}

func TestCancelSubscriptionIsTerminal(t *testing.T) {
	svc := newTestService()

	if _, err := svc.SubscriptionStatus(context.Background(), "main-shop"); err != nil {
		t.Fatalf("subscription status failed: %v", err)
	}
	if _, err := svc.CancelSubscription(adminCtx(), "main-shop"); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	if err := svc.EnsureActive(context.Background(), "main-shop"); !errors.Is(err, store.ErrSubscriptionLocked) {
		t.Fatalf("expected cancelled shop to stay locked, got %v", err)
	}

	_, err := svc.ConfirmSubscriptionPayment(adminCtx(), "main-shop", domain.ConfirmPaymentRequest{
		Plan:             domain.PlanMonthly,
		PaymentReference: "TRF-after-cancel",
		Amount:           naira(5000),
	})
	if !errors.Is(err, subscription.ErrCancelled) {
		t.Fatalf("expected cancelled error, got %v", err)
	}
}

func TestSyncOfflineDeduplicatesByClientSaleID(t *testing.T) {
	svc := newTestService()

	req := domain.OfflineSyncRequest{
		EnvelopeID: "env-1",
		Sales: []domain.OfflineSale{
			{
				ClientSaleID: "client-sale-1",
				Checkout: domain.CheckoutRequest{
					PaymentMethod: domain.PaymentCash,
					CashReceived:  naira(1000),
					CartItems:     []domain.CartItem{{ProductID: "prd-milk-170", Qty: 2}},
				},
			},
			{
				ClientSaleID: "client-sale-bad",
				Checkout: domain.CheckoutRequest{
					PaymentMethod: domain.PaymentCash,
					CashReceived:  naira(10),
					CartItems:     []domain.CartItem{{ProductID: "prd-milk-170", Qty: 2}},
				},
			},
		},
	}

	first, err := svc.SyncOffline(cashierCtx(), req)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if first.Statuses[0].Status != "accepted" {
		t.Fatalf("expected first sale accepted, got %+v", first.Statuses[0])
	}
	if first.Statuses[1].Status != "rejected" {
		t.Fatalf("expected underpaid sale rejected, got %+v", first.Statuses[1])
	}

	second, err := svc.SyncOffline(cashierCtx(), req)
	if err != nil {
		t.Fatalf("replay sync failed: %v", err)
	}
	if second.Statuses[0].Status != "duplicate" {
		t.Fatalf("expected replayed sale flagged duplicate, got %+v", second.Statuses[0])
	}
	if second.Statuses[0].SaleID != first.Statuses[0].SaleID {
		t.Fatalf("expected replay to return the original sale id")
	}
}

func TestDailyReportAggregatesByPayment(t *testing.T) {
	svc := newTestService()

	if _, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey: "idem-report-1",
		PaymentMethod:  domain.PaymentCash,
		CashReceived:   naira(1000),
		CartItems:      []domain.CartItem{{ProductID: "prd-milk-170", Qty: 2}},
	}); err != nil {
		t.Fatalf("cash checkout failed: %v", err)
	}
	if _, err := svc.Checkout(cashierCtx(), domain.CheckoutRequest{
		IdempotencyKey:   "idem-report-2",
		PaymentMethod:    domain.PaymentTransfer,
		PaymentReference: "TRF-009",
		CartItems:        []domain.CartItem{{ProductID: "prd-sugar-1kg", Qty: 1}},
	}); err != nil {
		t.Fatalf("transfer checkout failed: %v", err)
	}

	report, err := svc.DailyReport(adminCtx(), "main-shop", "")
	if err != nil {
		t.Fatalf("daily report failed: %v", err)
	}
	if report.Sales != 2 {
		t.Fatalf("expected 2 sales, got %d", report.Sales)
	}
	if !report.GrossSales.Equal(naira(1900)) {
		t.Fatalf("expected gross 1900, got %s", report.GrossSales)
	}
	if len(report.ByPayment) != 2 {
		t.Fatalf("expected two payment buckets, got %+v", report.ByPayment)
	}
}
