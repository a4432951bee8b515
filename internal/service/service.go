package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"shopdesk/backend/internal/cache"
	"shopdesk/backend/internal/domain"
	"shopdesk/backend/internal/ledger"
	"shopdesk/backend/internal/store"
	"shopdesk/backend/internal/subscription"
	"shopdesk/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo          store.Repository
	subs          *subscription.Engine
	statusCache   cache.StatusCache
	statusTTL     time.Duration
	defaultShopID string
}

func New(repo store.Repository, subs *subscription.Engine, statusCache cache.StatusCache, statusTTL time.Duration, defaultShopID string) *Service {
	if statusCache == nil {
		statusCache = cache.NoopStatusCache{}
	}
	if statusTTL <= 0 {
		statusTTL = 5 * time.Minute
	}
	if defaultShopID == "" {
		defaultShopID = "main-shop"
	}

	return &Service{
		repo:          repo,
		subs:          subs,
		statusCache:   statusCache,
		statusTTL:     statusTTL,
		defaultShopID: defaultShopID,
	}
}

func (s *Service) shopOrDefault(shopID string) string {
	if strings.TrimSpace(shopID) == "" {
		return s.defaultShopID
	}
	return strings.TrimSpace(shopID)
}

func (s *Service) ListProducts(ctx context.Context, shopID string) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx, s.shopOrDefault(shopID))
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name required", store.ErrInvalidInput)
	}
	if req.UnitsPerCarton < 1 {
		return domain.Product{}, fmt.Errorf("%w: units per carton must be at least 1", store.ErrInvalidInput)
	}
	if req.Price.IsNegative() {
		return domain.Product{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
	}
	if req.MinStockLevel < 0 {
		return domain.Product{}, fmt.Errorf("%w: minimum stock level must not be negative", store.ErrInvalidInput)
	}
	if req.InitialUnits < 0 {
		return domain.Product{}, fmt.Errorf("%w: initial units must not be negative", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateProduct(ctx, domain.Product{
		ShopID:         s.shopOrDefault(req.ShopID),
		Name:           name,
		Category:       strings.TrimSpace(req.Category),
		Price:          req.Price,
		UnitsPerCarton: req.UnitsPerCarton,
		MinStockLevel:  req.MinStockLevel,
		Active:         true,
	})
	if err != nil {
		return domain.Product{}, err
	}

	// Opening stock goes through the ledger so the first movement row
	// carries the balance snapshot like every later one.
	if req.InitialUnits > 0 {
		_, movement, err := ledger.ApplyStockMovement(*created, domain.MovementRestock, domain.QuantityUnit, req.InitialUnits, actor.Username, ledger.MovementMeta{Note: "opening stock"}, time.Now().UTC())
		if err != nil {
			return domain.Product{}, err
		}
		stocked, err := s.repo.ApplyStockMovement(ctx, movement)
		if err != nil {
			return domain.Product{}, err
		}
		created = stocked
	}

	s.logAudit(ctx, created.ShopID, "product_create", "product", created.ID, fmt.Sprintf("name=%s initial_units=%d", created.Name, req.InitialUnits))
	return *created, nil
}

func (s *Service) UpdateProduct(ctx context.Context, productID string, req domain.ProductUpdateRequest) (domain.Product, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, fmt.Errorf("admin role required")
	}

	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Product{}, fmt.Errorf("%w: product name required", store.ErrInvalidInput)
		}
		product.Name = name
	}
	if req.Category != nil {
		product.Category = strings.TrimSpace(*req.Category)
	}
	if req.Price != nil {
		if req.Price.IsNegative() {
			return domain.Product{}, fmt.Errorf("%w: price must not be negative", store.ErrInvalidInput)
		}
		product.Price = *req.Price
	}
	if req.UnitsPerCarton != nil {
		if *req.UnitsPerCarton < 1 {
			return domain.Product{}, fmt.Errorf("%w: units per carton must be at least 1", store.ErrInvalidInput)
		}
		product.UnitsPerCarton = *req.UnitsPerCarton
	}
	if req.MinStockLevel != nil {
		if *req.MinStockLevel < 0 {
			return domain.Product{}, fmt.Errorf("%w: minimum stock level must not be negative", store.ErrInvalidInput)
		}
		product.MinStockLevel = *req.MinStockLevel
	}
	if req.Active != nil {
		product.Active = *req.Active
	}

	updated, err := s.repo.UpdateProduct(ctx, *product)
	if err != nil {
		return domain.Product{}, err
	}

	s.logAudit(ctx, updated.ShopID, "product_update", "product", updated.ID, "")
	return *updated, nil
}

// RecordStockMovement handles manual restock, adjustment, and return entries.
// Sale and audit movements are rejected here; sales only enter through
// checkout and counts through StockAudit, so those types cannot be forged
// from the generic endpoint.
func (s *Service) RecordStockMovement(ctx context.Context, req domain.StockMovementRequest) (domain.Product, domain.StockMovement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("authenticated actor required")
	}

	switch req.Type {
	case domain.MovementSale:
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("%w: sale movements are recorded through checkout", store.ErrInvalidInput)
	case domain.MovementAudit:
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("%w: audit movements are recorded through stock audit", store.ErrInvalidInput)
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.Product{}, domain.StockMovement{}, err
	}

	_, movement, err := ledger.ApplyStockMovement(*product, req.Type, req.QuantityType, req.Quantity, actor.Username, ledger.MovementMeta{Note: req.Note, BatchNumber: req.BatchNumber}, time.Now().UTC())
	if err != nil {
		return domain.Product{}, domain.StockMovement{}, err
	}

	updated, err := s.repo.ApplyStockMovement(ctx, movement)
	if err != nil {
		return domain.Product{}, domain.StockMovement{}, err
	}

	movement.BalanceAfter = updated.TotalUnits
	s.logAudit(ctx, updated.ShopID, "stock_movement", "product", updated.ID, fmt.Sprintf("type=%s delta=%d balance=%d", movement.Type, movement.QuantityChange, movement.BalanceAfter))
	return *updated, movement, nil
}

// StockAudit resets a product to a physically counted level and records the
// difference as an audit movement.
func (s *Service) StockAudit(ctx context.Context, req domain.StockAuditRequest) (domain.Product, domain.StockMovement, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.Product{}, domain.StockMovement{}, fmt.Errorf("admin role required")
	}

	product, err := s.repo.GetProductByID(ctx, req.ProductID)
	if err != nil {
		return domain.Product{}, domain.StockMovement{}, err
	}

	_, movement, err := ledger.ApplyStockAudit(*product, req.CountedUnits, actor.Username, req.Note, time.Now().UTC())
	if err != nil {
		return domain.Product{}, domain.StockMovement{}, err
	}

	updated, err := s.repo.SetStockLevel(ctx, movement)
	if err != nil {
		return domain.Product{}, domain.StockMovement{}, err
	}

	movement.QuantityChange = updated.TotalUnits - product.TotalUnits
	movement.BalanceAfter = updated.TotalUnits
	s.logAudit(ctx, updated.ShopID, "stock_audit", "product", updated.ID, fmt.Sprintf("counted=%d delta=%d", req.CountedUnits, movement.QuantityChange))
	return *updated, movement, nil
}

func (s *Service) StockHistory(ctx context.Context, productID string, limit int) (domain.StockHistoryResponse, error) {
	product, err := s.repo.GetProductByID(ctx, productID)
	if err != nil {
		return domain.StockHistoryResponse{}, err
	}

	movements, err := s.repo.ListStockMovements(ctx, productID, limit)
	if err != nil {
		return domain.StockHistoryResponse{}, err
	}

	return ledger.BuildStockHistory(*product, movements), nil
}

func (s *Service) LowStockReport(ctx context.Context, shopID string) (domain.LowStockResponse, error) {
	shopID = s.shopOrDefault(shopID)
	products, err := s.repo.ListProducts(ctx, shopID)
	if err != nil {
		return domain.LowStockResponse{}, err
	}

	resp := domain.LowStockResponse{ShopID: shopID, Items: []domain.LowStockItem{}}
	for _, product := range products {
		if !product.Active || !ledger.IsLowStock(product) {
			continue
		}
		resp.Items = append(resp.Items, domain.LowStockItem{
			ProductID:     product.ID,
			Name:          product.Name,
			TotalUnits:    product.TotalUnits,
			MinStockLevel: product.MinStockLevel,
		})
	}
	return resp, nil
}

func (s *Service) ListCustomers(ctx context.Context, shopID string, includeArchived bool) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx, s.shopOrDefault(shopID), includeArchived)
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, fmt.Errorf("%w: customer name required", store.ErrInvalidInput)
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		ShopID:    s.shopOrDefault(req.ShopID),
		Name:      name,
		Phone:     strings.TrimSpace(req.Phone),
		TotalDebt: decimal.Zero,
	})
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, created.ShopID, "customer_create", "customer", created.ID, "name="+created.Name)
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, customerID string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	customer, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}

	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, fmt.Errorf("%w: customer name required", store.ErrInvalidInput)
		}
		customer.Name = name
	}
	if req.Phone != nil {
		customer.Phone = strings.TrimSpace(*req.Phone)
	}
	if req.Archived != nil {
		if *req.Archived && customer.TotalDebt.IsPositive() {
			return domain.Customer{}, fmt.Errorf("%w: customer still owes %s", store.ErrInvalidInput, customer.TotalDebt.String())
		}
		customer.Archived = *req.Archived
	}

	updated, err := s.repo.UpdateCustomer(ctx, *customer)
	if err != nil {
		return domain.Customer{}, err
	}

	s.logAudit(ctx, updated.ShopID, "customer_update", "customer", updated.ID, "")
	return *updated, nil
}

func (s *Service) RecordDebtCredit(ctx context.Context, customerID string, req domain.DebtCreditRequest) (domain.Customer, domain.DebtTransaction, error) {
	customer, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return domain.Customer{}, domain.DebtTransaction{}, err
	}
	if customer.Archived {
		return domain.Customer{}, domain.DebtTransaction{}, fmt.Errorf("%w: customer is archived", store.ErrInvalidInput)
	}

	_, tx, err := ledger.RecordCredit(*customer, req.Amount, req.SaleID, req.Note, time.Now().UTC())
	if err != nil {
		return domain.Customer{}, domain.DebtTransaction{}, err
	}

	updated, err := s.repo.ApplyDebtTransaction(ctx, tx)
	if err != nil {
		return domain.Customer{}, domain.DebtTransaction{}, err
	}

	s.logAudit(ctx, updated.ShopID, "debt_credit", "customer", updated.ID, fmt.Sprintf("amount=%s balance=%s", req.Amount.String(), updated.TotalDebt.String()))
	return *updated, tx, nil
}

func (s *Service) RecordDebtPayment(ctx context.Context, customerID string, req domain.DebtPaymentRequest) (domain.Customer, domain.DebtTransaction, error) {
	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = domain.PaymentCash
	}
	if method != domain.PaymentCash && method != domain.PaymentTransfer {
		return domain.Customer{}, domain.DebtTransaction{}, fmt.Errorf("%w: unknown payment method %q", store.ErrInvalidInput, method)
	}

	customer, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return domain.Customer{}, domain.DebtTransaction{}, err
	}

	_, tx, err := ledger.RecordPayment(*customer, req.Amount, method, req.Note, time.Now().UTC())
	if err != nil {
		return domain.Customer{}, domain.DebtTransaction{}, err
	}

	updated, err := s.repo.ApplyDebtTransaction(ctx, tx)
	if err != nil {
		return domain.Customer{}, domain.DebtTransaction{}, err
	}

	s.logAudit(ctx, updated.ShopID, "debt_payment", "customer", updated.ID, fmt.Sprintf("amount=%s balance=%s", req.Amount.String(), updated.TotalDebt.String()))
	return *updated, tx, nil
}

func (s *Service) DebtStatement(ctx context.Context, customerID string) (domain.DebtStatement, error) {
	customer, err := s.repo.GetCustomerByID(ctx, customerID)
	if err != nil {
		return domain.DebtStatement{}, err
	}

	transactions, err := s.repo.ListDebtTransactions(ctx, customerID, 0)
	if err != nil {
		return domain.DebtStatement{}, err
	}

	statement := ledger.BuildDebtStatement(*customer, transactions, time.Now().UTC())
	if statement.Divergent {
		log.Printf("[service] WARN: debt balance for customer %s diverges from log (cached=%s replayed=%s)", customer.ID, statement.CachedBalance.String(), statement.Balance.String())
	}
	return statement, nil
}

func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (domain.CheckoutResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.CheckoutResponse{}, fmt.Errorf("authenticated actor required")
	}

	shopID := s.shopOrDefault(req.ShopID)
	items, err := normalizeItems(req.CartItems)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		existing, err := s.repo.FindSaleByIdempotency(ctx, shopID, key)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutResponse{}, err
		}
		if existing != nil {
			resp := toCheckoutResponse(*existing)
			resp.Duplicate = true
			return resp, nil
		}
	}

	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	products, err := s.repo.GetProductsByIDs(ctx, ids)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	now := time.Now().UTC()
	subtotal := decimal.Zero
	lines := make([]domain.SaleLine, 0, len(items))
	movements := make([]domain.StockMovement, 0, len(items))
	for _, item := range items {
		product, found := products[item.ProductID]
		if !found {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: product %s", store.ErrNotFound, item.ProductID)
		}
		if !product.Active {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: product %s is inactive", store.ErrInvalidInput, product.ID)
		}

		_, movement, err := ledger.ApplyStockMovement(product, domain.MovementSale, domain.QuantityUnit, -item.Qty, actor.Username, ledger.MovementMeta{}, now)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		movements = append(movements, movement)

		lineTotal := product.Price.Mul(decimal.NewFromInt(int64(item.Qty)))
		lines = append(lines, domain.SaleLine{
			ProductID: product.ID,
			Name:      product.Name,
			Qty:       item.Qty,
			UnitPrice: product.Price,
			LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
	}

	discount := req.Discount
	if discount.IsNegative() {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: discount must not be negative", store.ErrInvalidInput)
	}
	if discount.GreaterThan(subtotal) {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: discount exceeds subtotal", store.ErrInvalidInput)
	}
	total := subtotal.Sub(discount)

	sale := domain.Sale{
		ID:               xid.New("sale"),
		ShopID:           shopID,
		IdempotencyKey:   strings.TrimSpace(req.IdempotencyKey),
		PaymentMethod:    req.PaymentMethod,
		PaymentReference: strings.TrimSpace(req.PaymentReference),
		Subtotal:         subtotal,
		Discount:         discount,
		Total:            total,
		Status:           domain.SaleStatusPaid,
		CreatedAt:        now,
		Items:            lines,
	}

	var creditCustomer *domain.Customer
	switch req.PaymentMethod {
	case domain.PaymentCash:
		if req.CashReceived.LessThan(total) {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: cash received %s is below total %s", store.ErrInvalidInput, req.CashReceived.String(), total.String())
		}
		sale.CashReceived = req.CashReceived
		sale.Change = req.CashReceived.Sub(total)
	case domain.PaymentTransfer:
		if sale.PaymentReference == "" {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: transfer reference required", store.ErrInvalidInput)
		}
	case domain.PaymentCredit:
		if strings.TrimSpace(req.CustomerID) == "" {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: credit sale requires a customer", store.ErrInvalidInput)
		}
		customer, err := s.repo.GetCustomerByID(ctx, req.CustomerID)
		if err != nil {
			return domain.CheckoutResponse{}, err
		}
		if customer.Archived {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: customer is archived", store.ErrInvalidInput)
		}
		creditCustomer = customer
		sale.CustomerID = customer.ID
	case domain.PaymentGiftCard:
		if strings.TrimSpace(req.GiftCardCode) == "" {
			return domain.CheckoutResponse{}, fmt.Errorf("%w: gift card code required", store.ErrInvalidInput)
		}
		sale.GiftCardCode = strings.ToUpper(strings.TrimSpace(req.GiftCardCode))
	default:
		return domain.CheckoutResponse{}, fmt.Errorf("%w: unknown payment method %q", store.ErrInvalidInput, req.PaymentMethod)
	}

	// Gift card redemption happens before the sale commits; a failed commit
	// refunds the card best-effort so the customer is never charged for a
	// sale that does not exist.
	if sale.PaymentMethod == domain.PaymentGiftCard {
		if _, err := s.repo.AdjustGiftCardBalance(ctx, sale.GiftCardCode, total.Neg()); err != nil {
			return domain.CheckoutResponse{}, err
		}
	}

	created, err := s.repo.CreateSale(ctx, sale, movements)
	if err != nil {
		if sale.PaymentMethod == domain.PaymentGiftCard {
			if _, refundErr := s.repo.AdjustGiftCardBalance(ctx, sale.GiftCardCode, total); refundErr != nil {
				log.Printf("[service] WARN: gift card %s refund failed after aborted sale: %v", sale.GiftCardCode, refundErr)
			}
		}
		return domain.CheckoutResponse{}, err
	}

	// The sale is already committed, so a failure here leaves the debt
	// unrecorded. Flag it for reconciliation instead of reporting a failed
	// checkout for a sale that stands.
	if creditCustomer != nil {
		_, tx, err := ledger.RecordCredit(*creditCustomer, total, created.ID, "credit sale", now)
		if err != nil {
			log.Printf("[service] WARN: recording debt for credit sale %s (customer %s, amount %s) failed, needs reconciliation: %v", created.ID, creditCustomer.ID, total.String(), err)
		} else if _, err := s.repo.ApplyDebtTransaction(ctx, tx); err != nil {
			log.Printf("[service] WARN: applying debt for credit sale %s (customer %s, amount %s) failed, needs reconciliation: %v", created.ID, creditCustomer.ID, total.String(), err)
		}
	}

	s.logAudit(ctx, shopID, "checkout", "sale", created.ID, fmt.Sprintf("method=%s total=%s items=%d", created.PaymentMethod, created.Total.String(), len(created.Items)))
	return toCheckoutResponse(*created), nil
}

func (s *Service) LookupCheckoutByIdempotency(ctx context.Context, shopID, key string) (domain.CheckoutResponse, error) {
	if strings.TrimSpace(key) == "" {
		return domain.CheckoutResponse{}, fmt.Errorf("%w: idempotency key required", store.ErrInvalidInput)
	}

	sale, err := s.repo.FindSaleByIdempotency(ctx, s.shopOrDefault(shopID), strings.TrimSpace(key))
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	resp := toCheckoutResponse(*sale)
	resp.Duplicate = true
	return resp, nil
}

// VoidSale reverses a paid sale: stock returns through the ledger, a credit
// sale's debt is paid back down, and a gift card sale is refunded to the
// card. The manager PIN gate lives in the HTTP layer.
func (s *Service) VoidSale(ctx context.Context, saleID, reason string) (domain.VoidSaleResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.VoidSaleResponse{}, fmt.Errorf("authenticated actor required")
	}
	if strings.TrimSpace(reason) == "" {
		return domain.VoidSaleResponse{}, fmt.Errorf("%w: void reason required", store.ErrInvalidInput)
	}

	sale, err := s.repo.FindSaleByID(ctx, saleID)
	if err != nil {
		return domain.VoidSaleResponse{}, err
	}
	if sale.Status != domain.SaleStatusPaid {
		return domain.VoidSaleResponse{}, fmt.Errorf("%w: sale is %s", store.ErrInvalidInput, sale.Status)
	}

	now := time.Now().UTC()
	movements := make([]domain.StockMovement, 0, len(sale.Items))
	for _, line := range sale.Items {
		product, err := s.repo.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return domain.VoidSaleResponse{}, err
		}
		_, movement, err := ledger.ApplyStockMovement(*product, domain.MovementReturn, domain.QuantityUnit, line.Qty, actor.Username, ledger.MovementMeta{Note: "void " + sale.ID}, now)
		if err != nil {
			return domain.VoidSaleResponse{}, err
		}
		movements = append(movements, movement)
	}

	voided, err := s.repo.VoidSale(ctx, sale.ID, strings.TrimSpace(reason), movements, now)
	if err != nil {
		return domain.VoidSaleResponse{}, err
	}

	if voided.PaymentMethod == domain.PaymentCredit && voided.CustomerID != "" {
		customer, err := s.repo.GetCustomerByID(ctx, voided.CustomerID)
		if err == nil {
			if _, tx, payErr := ledger.RecordPayment(*customer, voided.Total, domain.PaymentCash, "void "+voided.ID, now); payErr == nil {
				if _, applyErr := s.repo.ApplyDebtTransaction(ctx, tx); applyErr != nil {
					log.Printf("[service] WARN: debt reversal for voided sale %s failed: %v", voided.ID, applyErr)
				}
			} else {
				// The customer already paid part of the credit down; there is
				// nothing left to reverse automatically.
				log.Printf("[service] WARN: debt reversal for voided sale %s skipped: %v", voided.ID, payErr)
			}
		} else {
			log.Printf("[service] WARN: customer %s lookup failed while voiding sale %s: %v", voided.CustomerID, voided.ID, err)
		}
	}

	if voided.PaymentMethod == domain.PaymentGiftCard && voided.GiftCardCode != "" {
		if _, err := s.repo.AdjustGiftCardBalance(ctx, voided.GiftCardCode, voided.Total); err != nil {
			log.Printf("[service] WARN: gift card %s refund for voided sale %s failed: %v", voided.GiftCardCode, voided.ID, err)
		}
	}

	s.logAudit(ctx, voided.ShopID, "void_sale", "sale", voided.ID, "reason="+voided.VoidReason)
	return domain.VoidSaleResponse{
		SaleID:   voided.ID,
		Status:   voided.Status,
		VoidedAt: voided.VoidedAt.UTC().Format(time.RFC3339),
	}, nil
}

// SyncOffline replays sales captured while the client had no connectivity.
// The client sale ID doubles as the idempotency key, so an envelope can be
// retried whole without double-charging stock.
func (s *Service) SyncOffline(ctx context.Context, req domain.OfflineSyncRequest) (domain.OfflineSyncResponse, error) {
	if len(req.Sales) == 0 {
		return domain.OfflineSyncResponse{}, fmt.Errorf("%w: no sales to sync", store.ErrInvalidInput)
	}

	resp := domain.OfflineSyncResponse{EnvelopeID: req.EnvelopeID}
	for _, offline := range req.Sales {
		clientID := strings.TrimSpace(offline.ClientSaleID)
		if clientID == "" {
			resp.Statuses = append(resp.Statuses, domain.OfflineSyncStatus{
				Status: "rejected",
				Reason: "client sale id required",
			})
			continue
		}

		checkout := offline.Checkout
		if strings.TrimSpace(checkout.IdempotencyKey) == "" {
			checkout.IdempotencyKey = clientID
		}
		if strings.TrimSpace(checkout.ShopID) == "" {
			checkout.ShopID = s.shopOrDefault(req.ShopID)
		}

		result, err := s.Checkout(ctx, checkout)
		if err != nil {
			resp.Statuses = append(resp.Statuses, domain.OfflineSyncStatus{
				ClientSaleID: clientID,
				Status:       "rejected",
				Reason:       err.Error(),
			})
			continue
		}

		status := "accepted"
		if result.Duplicate {
			status = "duplicate"
		}
		resp.Statuses = append(resp.Statuses, domain.OfflineSyncStatus{
			ClientSaleID: clientID,
			Status:       status,
			SaleID:       result.SaleID,
		})
	}
	return resp, nil
}

func (s *Service) IssueGiftCard(ctx context.Context, req domain.GiftCardIssueRequest) (domain.GiftCard, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.GiftCard{}, fmt.Errorf("admin role required")
	}
	if !req.Amount.IsPositive() {
		return domain.GiftCard{}, fmt.Errorf("%w: gift card amount must be positive", store.ErrInvalidInput)
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		code = strings.ToUpper(xid.New("gc"))
	}

	created, err := s.repo.CreateGiftCard(ctx, domain.GiftCard{
		Code:     code,
		ShopID:   s.shopOrDefault(req.ShopID),
		Balance:  req.Amount,
		Active:   true,
		IssuedBy: actor.Username,
	})
	if err != nil {
		return domain.GiftCard{}, err
	}

	s.logAudit(ctx, created.ShopID, "gift_card_issue", "gift_card", created.Code, "amount="+created.Balance.String())
	return *created, nil
}

func (s *Service) GetGiftCard(ctx context.Context, code string) (domain.GiftCard, error) {
	card, err := s.repo.GetGiftCard(ctx, code)
	if err != nil {
		return domain.GiftCard{}, err
	}
	return *card, nil
}

func (s *Service) statusCacheKey(shopID string) string {
	return "shopdesk:substatus:" + shopID
}

// SubscriptionStatus returns the effective subscription state for a shop.
// The configured shop gets a fresh trial on first read; an unknown shop
// never mints one, it reports not found. The derived status is cached
// briefly; payments and cancellation invalidate the entry.
func (s *Service) SubscriptionStatus(ctx context.Context, shopID string) (domain.SubscriptionStatusResponse, error) {
	shopID = s.shopOrDefault(shopID)

	if cached, found, err := s.statusCache.Get(ctx, s.statusCacheKey(shopID)); err == nil && found {
		return *cached, nil
	} else if err != nil {
		log.Printf("[service] WARN: subscription status cache read failed: %v", err)
	}

	now := time.Now().UTC()
	sub, err := s.repo.GetSubscription(ctx, shopID)
	if errors.Is(err, store.ErrNotFound) && shopID == s.defaultShopID {
		fresh := s.subs.CreateTrial(shopID, now)
		sub, err = s.repo.SaveSubscription(ctx, fresh)
	}
	if err != nil {
		return domain.SubscriptionStatusResponse{}, err
	}

	effective := s.subs.CheckStatus(*sub, now)
	integrityOK := s.subs.VerifyIntegrity(*sub)

	// Persist a lapsed status so the stored record catches up with the
	// derived one. The checksum does not cover the status field, so this
	// write never invalidates the integrity signal.
	if integrityOK && effective != sub.Status {
		sub.Status = effective
		sub.LastVerifiedAt = now
		if saved, saveErr := s.repo.SaveSubscription(ctx, *sub); saveErr == nil {
			sub = saved
		} else {
			log.Printf("[service] WARN: persisting derived subscription status for shop %s failed: %v", shopID, saveErr)
		}
	}

	resp := domain.SubscriptionStatusResponse{
		ShopID:              shopID,
		Plan:                sub.Plan,
		Status:              effective,
		DaysRemaining:       s.subs.DaysRemaining(*sub, now),
		TrialEndDate:        sub.TrialEndDate,
		SubscriptionEndDate: sub.SubscriptionEndDate,
		IntegrityOK:         integrityOK,
	}

	if err := s.statusCache.Set(ctx, s.statusCacheKey(shopID), &resp, s.statusTTL); err != nil {
		log.Printf("[service] WARN: subscription status cache write failed: %v", err)
	}
	return resp, nil
}

// EnsureActive is the gate in front of business operations. Expired and
// cancelled shops are locked out; trial and active shops pass.
func (s *Service) EnsureActive(ctx context.Context, shopID string) error {
	status, err := s.SubscriptionStatus(ctx, shopID)
	if err != nil {
		return err
	}
	switch status.Status {
	case domain.SubStatusTrial, domain.SubStatusActive:
		return nil
	}
	return fmt.Errorf("%w: subscription is %s", store.ErrSubscriptionLocked, status.Status)
}

func (s *Service) ConfirmSubscriptionPayment(ctx context.Context, shopID string, req domain.ConfirmPaymentRequest) (domain.SubscriptionStatusResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.SubscriptionStatusResponse{}, fmt.Errorf("admin role required")
	}
	if strings.TrimSpace(req.PaymentReference) == "" {
		return domain.SubscriptionStatusResponse{}, fmt.Errorf("%w: payment reference required", store.ErrInvalidInput)
	}
	if !req.Amount.IsPositive() {
		return domain.SubscriptionStatusResponse{}, fmt.Errorf("%w: payment amount must be positive", store.ErrInvalidInput)
	}

	shopID = s.shopOrDefault(shopID)
	now := time.Now().UTC()

	sub, err := s.repo.GetSubscription(ctx, shopID)
	if errors.Is(err, store.ErrNotFound) && shopID == s.defaultShopID {
		fresh := s.subs.CreateTrial(shopID, now)
		sub, err = s.repo.SaveSubscription(ctx, fresh)
	}
	if err != nil {
		return domain.SubscriptionStatusResponse{}, err
	}

	extended, err := s.subs.Extend(*sub, req.Plan, strings.TrimSpace(req.PaymentReference), req.Amount, now)
	if err != nil {
		return domain.SubscriptionStatusResponse{}, err
	}

	saved, err := s.repo.SaveSubscription(ctx, extended)
	if err != nil {
		return domain.SubscriptionStatusResponse{}, err
	}

	if err := s.statusCache.Invalidate(ctx, s.statusCacheKey(shopID)); err != nil {
		log.Printf("[service] WARN: subscription status cache invalidation failed: %v", err)
	}

	s.logAudit(ctx, shopID, "subscription_payment", "subscription", saved.ID, fmt.Sprintf("plan=%s ref=%s amount=%s", saved.Plan, saved.PaymentReference, req.Amount.String()))
	return domain.SubscriptionStatusResponse{
		ShopID:              shopID,
		Plan:                saved.Plan,
		Status:              s.subs.CheckStatus(*saved, now),
		DaysRemaining:       s.subs.DaysRemaining(*saved, now),
		TrialEndDate:        saved.TrialEndDate,
		SubscriptionEndDate: saved.SubscriptionEndDate,
		IntegrityOK:         true,
	}, nil
}

func (s *Service) CancelSubscription(ctx context.Context, shopID string) (domain.SubscriptionStatusResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return domain.SubscriptionStatusResponse{}, fmt.Errorf("admin role required")
	}

	shopID = s.shopOrDefault(shopID)
	sub, err := s.repo.GetSubscription(ctx, shopID)
	if err != nil {
		return domain.SubscriptionStatusResponse{}, err
	}

	now := time.Now().UTC()
	cancelled := s.subs.Cancel(*sub, now)
	saved, err := s.repo.SaveSubscription(ctx, cancelled)
	if err != nil {
		return domain.SubscriptionStatusResponse{}, err
	}

	if err := s.statusCache.Invalidate(ctx, s.statusCacheKey(shopID)); err != nil {
		log.Printf("[service] WARN: subscription status cache invalidation failed: %v", err)
	}

	s.logAudit(ctx, shopID, "subscription_cancel", "subscription", saved.ID, "")
	return domain.SubscriptionStatusResponse{
		ShopID:              shopID,
		Plan:                saved.Plan,
		Status:              domain.SubStatusCancelled,
		DaysRemaining:       0,
		TrialEndDate:        saved.TrialEndDate,
		SubscriptionEndDate: saved.SubscriptionEndDate,
		IntegrityOK:         true,
	}, nil
}

func (s *Service) DailyReport(ctx context.Context, shopID, date string) (domain.DailyReport, error) {
	shopID = s.shopOrDefault(shopID)

	day := time.Now().UTC()
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return domain.DailyReport{}, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		day = parsed
	}
	from := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)

	report, err := s.repo.GetDailyReport(ctx, shopID, from, to)
	if err != nil {
		return domain.DailyReport{}, err
	}
	report.ShopID = shopID
	report.Date = from.Format("2006-01-02")
	return report, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, shopID, date string, limit int) ([]domain.AuditLog, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != "admin" {
		return nil, fmt.Errorf("admin role required")
	}

	shopID = s.shopOrDefault(shopID)
	var from, to time.Time
	if strings.TrimSpace(date) != "" {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(date))
		if err != nil {
			return nil, fmt.Errorf("%w: date must be YYYY-MM-DD", store.ErrInvalidInput)
		}
		from = time.Date(parsed.Year(), parsed.Month(), parsed.Day(), 0, 0, 0, 0, time.UTC)
		to = from.AddDate(0, 0, 1)
	}

	return s.repo.ListAuditLogs(ctx, shopID, from, to, limit)
}

func (s *Service) logAudit(ctx context.Context, shopID, action, entityType, entityID, detail string) {
	actor, _ := ActorFromContext(ctx)
	entry := domain.AuditLog{
		ShopID:        shopID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
	}
	if err := s.repo.CreateAuditLog(ctx, entry); err != nil {
		log.Printf("[audit] WARN: failed to record %s/%s: %v", action, entityID, err)
	}
}

func normalizeItems(items []domain.CartItem) ([]domain.CartItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", store.ErrInvalidInput)
	}

	merged := make([]domain.CartItem, 0, len(items))
	index := make(map[string]int, len(items))
	for _, item := range items {
		id := strings.TrimSpace(item.ProductID)
		if id == "" {
			return nil, fmt.Errorf("%w: cart item product id required", store.ErrInvalidInput)
		}
		if item.Qty <= 0 {
			return nil, fmt.Errorf("%w: cart item quantity must be positive", store.ErrInvalidInput)
		}
		if at, seen := index[id]; seen {
			merged[at].Qty += item.Qty
			continue
		}
		index[id] = len(merged)
		merged = append(merged, domain.CartItem{ProductID: id, Qty: item.Qty})
	}
	return merged, nil
}

func toCheckoutResponse(sale domain.Sale) domain.CheckoutResponse {
	itemCount := 0
	for _, line := range sale.Items {
		itemCount += line.Qty
	}
	return domain.CheckoutResponse{
		SaleID:        sale.ID,
		Status:        sale.Status,
		PaymentMethod: sale.PaymentMethod,
		Subtotal:      sale.Subtotal,
		Discount:      sale.Discount,
		Total:         sale.Total,
		CashReceived:  sale.CashReceived,
		Change:        sale.Change,
		ItemCount:     itemCount,
		Duplicate:     false,
		CreatedAt:     sale.CreatedAt.UTC().Format(time.RFC3339),
	}
}
