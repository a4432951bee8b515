package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"shopdesk/backend/internal/domain"
	"shopdesk/backend/internal/ledger"
	"shopdesk/backend/internal/store"
	"shopdesk/backend/internal/xid"
)

const seedShopID = "main-shop"

type Store struct {
	mu                 sync.RWMutex
	products           map[string]domain.Product
	movementsByProduct map[string][]domain.StockMovement
	customers          map[string]domain.Customer
	debtTxByCustomer   map[string][]domain.DebtTransaction
	salesByID          map[string]*domain.Sale
	salesByIdem        map[string]*domain.Sale
	giftCardsByCode    map[string]domain.GiftCard
	subsByShop         map[string]domain.Subscription
	auditLogs          []domain.AuditLog
	usersByUsername    map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These credentials
// are never used in production (the backend uses PostgreSQL when
// DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	price := func(n int64) decimal.Decimal { return decimal.NewFromInt(n) }
	products := []domain.Product{
		{ID: "prd-milk-170", Name: "Peak Milk 170g", Category: "dairy", Price: price(350), UnitsPerCarton: 12, MinStockLevel: 24, Active: true},
		{ID: "prd-indomie-70", Name: "Indomie Chicken 70g", Category: "grocery", Price: price(250), UnitsPerCarton: 40, MinStockLevel: 80, Active: true},
		{ID: "prd-sugar-1kg", Name: "Dangote Sugar 1kg", Category: "grocery", Price: price(1200), UnitsPerCarton: 10, MinStockLevel: 20, Active: true},
		{ID: "prd-semovita-2kg", Name: "Semovita 2kg", Category: "grocery", Price: price(2400), UnitsPerCarton: 6, MinStockLevel: 12, Active: true},
		{ID: "prd-coke-50cl", Name: "Coca-Cola 50cl", Category: "beverage", Price: price(300), UnitsPerCarton: 24, MinStockLevel: 48, Active: true},
		{ID: "prd-water-75cl", Name: "Eva Water 75cl", Category: "beverage", Price: price(250), UnitsPerCarton: 12, MinStockLevel: 36, Active: true},
		{ID: "prd-milo-400", Name: "Milo Tin 400g", Category: "beverage", Price: price(2800), UnitsPerCarton: 12, MinStockLevel: 12, Active: true},
		{ID: "prd-soap-bar", Name: "Premier Soap Bar", Category: "household", Price: price(450), UnitsPerCarton: 36, MinStockLevel: 36, Active: true},
		{ID: "prd-detergent-900", Name: "Sunlight Detergent 900g", Category: "household", Price: price(1500), UnitsPerCarton: 12, MinStockLevel: 12, Active: true},
		{ID: "prd-biscuit-pack", Name: "Cabin Biscuit Pack", Category: "snack", Price: price(200), UnitsPerCarton: 48, MinStockLevel: 96, Active: true},
	}

	now := time.Now().UTC()
	productMap := make(map[string]domain.Product, len(products))
	movements := make(map[string][]domain.StockMovement, len(products))
	for _, p := range products {
		p.ShopID = seedShopID
		p.TotalUnits = p.UnitsPerCarton * 10
		p.CreatedAt = now
		productMap[p.ID] = p
		movements[p.ID] = []domain.StockMovement{{
			ID:             xid.New("mov"),
			ShopID:         seedShopID,
			ProductID:      p.ID,
			Type:           domain.MovementRestock,
			Quantity:       10,
			QuantityType:   domain.QuantityCarton,
			QuantityChange: p.TotalUnits,
			BalanceAfter:   p.TotalUnits,
			UserID:         "admin",
			Note:           "opening stock",
			CreatedAt:      now,
		}}
	}

	customers := map[string]domain.Customer{
		"cus-nkechi": {ID: "cus-nkechi", ShopID: seedShopID, Name: "Mama Nkechi", Phone: "08031112233", TotalDebt: decimal.Zero, CreatedAt: now},
		"cus-tunde":  {ID: "cus-tunde", ShopID: seedShopID, Name: "Tunde Bakare", Phone: "08064455667", TotalDebt: decimal.Zero, CreatedAt: now},
	}

	return &Store{
		products:           productMap,
		movementsByProduct: movements,
		customers:          customers,
		debtTxByCustomer:   make(map[string][]domain.DebtTransaction),
		salesByID:          make(map[string]*domain.Sale),
		salesByIdem:        make(map[string]*domain.Sale),
		giftCardsByCode:    make(map[string]domain.GiftCard),
		subsByShop:         make(map[string]domain.Subscription),
		auditLogs:          make([]domain.AuditLog, 0, 128),
		usersByUsername:    seedUsers(),
	}
}

func (s *Store) ListProducts(_ context.Context, shopID string) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if shopID != "" && p.ShopID != shopID {
			continue
		}
		if !p.Active {
			continue
		}
		products = append(products, p)
	}

	slices.SortFunc(products, func(a, b domain.Product) int {
		if a.Category == b.Category {
			return cmpString(a.Name, b.Name)
		}
		return cmpString(a.Category, b.Category)
	})

	return products, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || product.ShopID == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if product.UnitsPerCarton < 1 || product.TotalUnits < 0 || product.MinStockLevel < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if _, exists := s.products[product.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	product.Active = true
	s.products[product.ID] = product
	created := product
	return &created, nil
}

func (s *Store) GetProductByID(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, exists := s.products[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if product.Name == "" || !product.Price.IsPositive() || product.UnitsPerCarton < 1 {
		return nil, store.ErrInvalidInput
	}
	current, exists := s.products[product.ID]
	if !exists {
		return nil, store.ErrNotFound
	}

	// TotalUnits only moves through the movement ledger.
	product.TotalUnits = current.TotalUnits
	product.ShopID = current.ShopID
	product.CreatedAt = current.CreatedAt
	s.products[product.ID] = product
	updated := product
	return &updated, nil
}

func (s *Store) GetProductsByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok && p.Active {
			result[id] = p
		}
	}
	return result, nil
}

// ApplyStockMovement applies the movement's unit delta under the write lock
// and fills BalanceAfter from the authoritative post-update total, so a
// stale snapshot on the caller's side cannot record a wrong balance.
func (s *Store) ApplyStockMovement(_ context.Context, movement domain.StockMovement) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[movement.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}

	newTotal := product.TotalUnits + movement.QuantityChange
	if newTotal < 0 {
		return nil, ledger.ErrInsufficientStock
	}

	product.TotalUnits = newTotal
	s.products[movement.ProductID] = product

	movement.BalanceAfter = newTotal
	s.appendMovementLocked(movement)

	copyProduct := product
	return &copyProduct, nil
}

// SetStockLevel resets the product to the counted level carried in the
// movement's BalanceAfter, recomputing the delta against the stored total.
func (s *Store) SetStockLevel(_ context.Context, movement domain.StockMovement) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, exists := s.products[movement.ProductID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if movement.BalanceAfter < 0 {
		return nil, store.ErrInvalidInput
	}

	delta := movement.BalanceAfter - product.TotalUnits
	product.TotalUnits = movement.BalanceAfter
	s.products[movement.ProductID] = product

	movement.Quantity = delta
	movement.QuantityChange = delta
	s.appendMovementLocked(movement)

	copyProduct := product
	return &copyProduct, nil
}

func (s *Store) ListStockMovements(_ context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	movements := s.movementsByProduct[productID]
	result := make([]domain.StockMovement, len(movements))
	copy(result, movements)
	slices.SortFunc(result, func(a, b domain.StockMovement) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListCustomers(_ context.Context, shopID string, includeArchived bool) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customers))
	for _, c := range s.customers {
		if shopID != "" && c.ShopID != shopID {
			continue
		}
		if c.Archived && !includeArchived {
			continue
		}
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return cmpString(a.Name, b.Name)
	})
	return customers, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(customer.Name) == "" || customer.ShopID == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New("cus")
	}
	if _, exists := s.customers[customer.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}
	customer.TotalDebt = decimal.Zero

	s.customers[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customers[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) UpdateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.customers[customer.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if strings.TrimSpace(customer.Name) == "" {
		return nil, store.ErrInvalidInput
	}

	// TotalDebt only moves through the debt ledger.
	customer.TotalDebt = current.TotalDebt
	customer.ShopID = current.ShopID
	customer.CreatedAt = current.CreatedAt
	s.customers[customer.ID] = customer
	updated := customer
	return &updated, nil
}

// ApplyDebtTransaction applies a credit or payment under the write lock,
// guarding against a payment driving the balance negative.
func (s *Store) ApplyDebtTransaction(_ context.Context, tx domain.DebtTransaction) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customers[tx.CustomerID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !tx.Amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	switch tx.Type {
	case domain.DebtTxCredit:
		customer.TotalDebt = customer.TotalDebt.Add(tx.Amount)
	case domain.DebtTxPayment:
		if tx.Amount.GreaterThan(customer.TotalDebt) {
			return nil, ledger.ErrInsufficientBalance
		}
		customer.TotalDebt = customer.TotalDebt.Sub(tx.Amount)
	default:
		return nil, store.ErrInvalidInput
	}

	s.customers[tx.CustomerID] = customer
	if tx.ID == "" {
		tx.ID = xid.New("dbt")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	s.debtTxByCustomer[tx.CustomerID] = append(s.debtTxByCustomer[tx.CustomerID], tx)

	copyCustomer := customer
	return &copyCustomer, nil
}

func (s *Store) ListDebtTransactions(_ context.Context, customerID string, limit int) ([]domain.DebtTransaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	transactions := s.debtTxByCustomer[customerID]
	result := make([]domain.DebtTransaction, len(transactions))
	copy(result, transactions)
	slices.SortFunc(result, func(a, b domain.DebtTransaction) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) FindSaleByIdempotency(_ context.Context, shopID, key string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByIdem[idemKey(shopID, key)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

func (s *Store) FindSaleByID(_ context.Context, id string) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSale(sale), nil
}

// CreateSale persists the sale and its stock deductions as one unit: either
// every movement passes its balance guard and the sale is stored, or nothing
// changes.
func (s *Store) CreateSale(_ context.Context, sale domain.Sale, movements []domain.StockMovement) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.IdempotencyKey == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}
	if existing, ok := s.salesByIdem[idemKey(sale.ShopID, sale.IdempotencyKey)]; ok {
		return cloneSale(existing), nil
	}

	// Guard every movement before applying any, so a partial failure cannot
	// leave stock half-deducted.
	for _, mov := range movements {
		product, exists := s.products[mov.ProductID]
		if !exists || !product.Active {
			return nil, store.ErrNotFound
		}
		if product.TotalUnits+mov.QuantityChange < 0 {
			return nil, ledger.ErrInsufficientStock
		}
	}

	for _, mov := range movements {
		product := s.products[mov.ProductID]
		product.TotalUnits += mov.QuantityChange
		s.products[mov.ProductID] = product
		mov.BalanceAfter = product.TotalUnits
		s.appendMovementLocked(mov)
	}

	if sale.ID == "" {
		sale.ID = xid.New("sale")
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	if sale.Status == "" {
		sale.Status = domain.SaleStatusPaid
	}

	saved := cloneSale(&sale)
	s.salesByID[sale.ID] = saved
	s.salesByIdem[idemKey(sale.ShopID, sale.IdempotencyKey)] = saved
	return cloneSale(saved), nil
}

func (s *Store) VoidSale(_ context.Context, id, reason string, movements []domain.StockMovement, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sale, ok := s.salesByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if sale.Status != domain.SaleStatusPaid {
		return nil, store.ErrInvalidInput
	}

	for _, mov := range movements {
		product, exists := s.products[mov.ProductID]
		if !exists {
			return nil, store.ErrNotFound
		}
		product.TotalUnits += mov.QuantityChange
		s.products[mov.ProductID] = product
		mov.BalanceAfter = product.TotalUnits
		s.appendMovementLocked(mov)
	}

	sale.Status = domain.SaleStatusVoided
	sale.VoidReason = reason
	sale.VoidedAt = &at
	return cloneSale(sale), nil
}

func (s *Store) CreateGiftCard(_ context.Context, card domain.GiftCard) (*domain.GiftCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card.Code = normalizeCardCode(card.Code)
	if card.Code == "" || card.ShopID == "" || !card.Balance.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if _, exists := s.giftCardsByCode[card.Code]; exists {
		return nil, store.ErrInvalidInput
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	card.Active = true

	s.giftCardsByCode[card.Code] = card
	created := card
	return &created, nil
}

func (s *Store) GetGiftCard(_ context.Context, code string) (*domain.GiftCard, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	card, exists := s.giftCardsByCode[normalizeCardCode(code)]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyCard := card
	return &copyCard, nil
}

func (s *Store) AdjustGiftCardBalance(_ context.Context, code string, delta decimal.Decimal) (*domain.GiftCard, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	card, exists := s.giftCardsByCode[normalizeCardCode(code)]
	if !exists {
		return nil, store.ErrNotFound
	}
	if !card.Active {
		return nil, store.ErrInvalidInput
	}

	next := card.Balance.Add(delta)
	if next.IsNegative() {
		return nil, ledger.ErrInsufficientBalance
	}
	card.Balance = next
	s.giftCardsByCode[card.Code] = card
	copyCard := card
	return &copyCard, nil
}

func (s *Store) GetSubscription(_ context.Context, shopID string) (*domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, exists := s.subsByShop[shopID]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySub := sub
	return &copySub, nil
}

func (s *Store) SaveSubscription(_ context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ShopID == "" {
		return nil, store.ErrInvalidInput
	}
	if sub.ID == "" {
		sub.ID = xid.New("sub")
	}
	s.subsByShop[sub.ShopID] = sub
	saved := sub
	return &saved, nil
}

func (s *Store) GetDailyReport(_ context.Context, shopID string, from, to time.Time) (domain.DailyReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	report := domain.DailyReport{
		ShopID:          shopID,
		GrossSales:      decimal.Zero,
		Discounts:       decimal.Zero,
		NetSales:        decimal.Zero,
		DebtOutstanding: decimal.Zero,
		ByPayment:       make([]domain.DailyReportPayment, 0, 4),
	}
	byPayment := map[string]*domain.DailyReportPayment{}

	for _, sale := range s.salesByID {
		if sale.ShopID != shopID {
			continue
		}
		if sale.CreatedAt.Before(from) || !sale.CreatedAt.Before(to) {
			continue
		}
		if sale.Status == domain.SaleStatusVoided {
			continue
		}

		report.Sales++
		report.GrossSales = report.GrossSales.Add(sale.Subtotal)
		report.Discounts = report.Discounts.Add(sale.Discount)
		report.NetSales = report.NetSales.Add(sale.Total)

		payment := byPayment[sale.PaymentMethod]
		if payment == nil {
			payment = &domain.DailyReportPayment{PaymentMethod: sale.PaymentMethod, Total: decimal.Zero}
			byPayment[sale.PaymentMethod] = payment
		}
		payment.Sales++
		payment.Total = payment.Total.Add(sale.Total)
	}

	for _, entry := range byPayment {
		report.ByPayment = append(report.ByPayment, *entry)
	}
	slices.SortFunc(report.ByPayment, func(a, b domain.DailyReportPayment) int {
		return cmpString(a.PaymentMethod, b.PaymentMethod)
	})

	for _, customer := range s.customers {
		if customer.ShopID != shopID {
			continue
		}
		report.DebtOutstanding = report.DebtOutstanding.Add(customer.TotalDebt)
	}

	return report, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, shopID string, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if shopID != "" && entry.ShopID != shopID {
			continue
		}
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpString(b.ID, a.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return cmpString(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) appendMovementLocked(movement domain.StockMovement) {
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}
	s.movementsByProduct[movement.ProductID] = append(s.movementsByProduct[movement.ProductID], movement)
}

func idemKey(shopID, key string) string {
	return shopID + "::" + key
}

func normalizeCardCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneSale(src *domain.Sale) *domain.Sale {
	if src == nil {
		return nil
	}
	dup := *src
	items := make([]domain.SaleLine, len(src.Items))
	copy(items, src.Items)
	dup.Items = items
	return &dup
}
