package postgres

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"shopdesk/backend/internal/domain"
	"shopdesk/backend/internal/ledger"
	"shopdesk/backend/internal/store"
	"shopdesk/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

const productColumns = `id, shop_id, name, category, price, units_per_carton, total_units, min_stock_level, active, created_at`

func scanProduct(row interface{ Scan(...any) error }) (*domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.ShopID, &p.Name, &p.Category, &p.Price, &p.UnitsPerCarton,
		&p.TotalUnits, &p.MinStockLevel, &p.Active, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context, shopID string) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE shop_id = $1 AND active = true
		ORDER BY category, name
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 128)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.Name == "" || product.ShopID == "" || !product.Price.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if product.UnitsPerCarton < 1 || product.TotalUnits < 0 || product.MinStockLevel < 0 {
		return nil, store.ErrInvalidInput
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	product.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, shop_id, name, category, price, units_per_carton, total_units, min_stock_level, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,now())
	`, product.ID, product.ShopID, product.Name, product.Category, product.Price,
		product.UnitsPerCarton, product.TotalUnits, product.MinStockLevel, product.Active, product.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := product
	return &created, nil
}

func (s *Store) GetProductByID(ctx context.Context, id string) (*domain.Product, error) {
	product, err := scanProduct(s.db.QueryRowContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return product, nil
}

func (s *Store) UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error) {
	if product.ID == "" || product.Name == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE products
		SET name = $2, category = $3, price = $4, units_per_carton = $5, min_stock_level = $6, active = $7, updated_at = now()
		WHERE id = $1
	`, product.ID, product.Name, product.Category, product.Price, product.UnitsPerCarton,
		product.MinStockLevel, product.Active)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetProductByID(ctx, product.ID)
}

func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE active = true AND id = ANY($1)
	`, uniqueIDs(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		result[p.ID] = *p
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ApplyStockMovement applies the signed unit delta and appends the movement
// in one transaction. The balance guard lives in the UPDATE itself so two
// concurrent sales cannot drive total_units below zero, and balance_after is
// always the post-update database total rather than the caller's snapshot.
func (s *Store) ApplyStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.Product, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	product, err := applyMovementTx(ctx, tx, movement)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return product, nil
}

func applyMovementTx(ctx context.Context, tx *sql.Tx, movement domain.StockMovement) (*domain.Product, error) {
	product, err := scanProduct(tx.QueryRowContext(ctx, `
		UPDATE products
		SET total_units = total_units + $2, updated_at = now()
		WHERE id = $1 AND total_units + $2 >= 0
		RETURNING `+productColumns+`
	`, movement.ProductID, movement.QuantityChange))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if scanErr := tx.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)
			`, movement.ProductID).Scan(&exists); scanErr != nil {
				return nil, scanErr
			}
			if !exists {
				return nil, store.ErrNotFound
			}
			return nil, ledger.ErrInsufficientStock
		}
		return nil, err
	}

	movement.BalanceAfter = product.TotalUnits
	if err := insertMovementTx(ctx, tx, movement); err != nil {
		return nil, err
	}
	return product, nil
}

func insertMovementTx(ctx context.Context, tx *sql.Tx, movement domain.StockMovement) error {
	if movement.ID == "" {
		movement.ID = xid.New("mov")
	}
	if movement.CreatedAt.IsZero() {
		movement.CreatedAt = time.Now().UTC()
	}

	_, err := tx.ExecContext(ctx, `
		INSERT INTO stock_movements (
			id, shop_id, product_id, type, quantity, quantity_type, quantity_change,
			balance_after, user_id, note, batch_number, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, movement.ID, movement.ShopID, movement.ProductID, movement.Type, movement.Quantity,
		movement.QuantityType, movement.QuantityChange, movement.BalanceAfter,
		movement.UserID, nullIfEmpty(movement.Note), nullIfEmpty(movement.BatchNumber), movement.CreatedAt)
	return err
}

// SetStockLevel resets the product to the counted level carried in the
// movement's BalanceAfter, recomputing the delta against the stored total.
func (s *Store) SetStockLevel(ctx context.Context, movement domain.StockMovement) (*domain.Product, error) {
	if movement.BalanceAfter < 0 {
		return nil, store.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var previous int
	err = tx.QueryRowContext(ctx, `
		SELECT total_units FROM products WHERE id = $1 FOR UPDATE
	`, movement.ProductID).Scan(&previous)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	product, err := scanProduct(tx.QueryRowContext(ctx, `
		UPDATE products
		SET total_units = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+productColumns+`
	`, movement.ProductID, movement.BalanceAfter))
	if err != nil {
		return nil, err
	}

	delta := movement.BalanceAfter - previous
	movement.Quantity = delta
	movement.QuantityChange = delta
	if err := insertMovementTx(ctx, tx, movement); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return product, nil
}

const movementColumns = `id, shop_id, product_id, type, quantity, quantity_type, quantity_change, balance_after, user_id, COALESCE(note,''), COALESCE(batch_number,''), created_at`

func (s *Store) ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error) {
	query := `
		SELECT ` + movementColumns + `
		FROM stock_movements
		WHERE product_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []any{productID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	movements := make([]domain.StockMovement, 0, 64)
	for rows.Next() {
		var m domain.StockMovement
		if err := rows.Scan(&m.ID, &m.ShopID, &m.ProductID, &m.Type, &m.Quantity, &m.QuantityType,
			&m.QuantityChange, &m.BalanceAfter, &m.UserID, &m.Note, &m.BatchNumber, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

const customerColumns = `id, shop_id, name, COALESCE(phone,''), total_debt, archived, created_at`

func scanCustomer(row interface{ Scan(...any) error }) (*domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.ShopID, &c.Name, &c.Phone, &c.TotalDebt, &c.Archived, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

func (s *Store) ListCustomers(ctx context.Context, shopID string, includeArchived bool) ([]domain.Customer, error) {
	query := `
		SELECT ` + customerColumns + `
		FROM customers
		WHERE shop_id = $1
	`
	if !includeArchived {
		query += ` AND archived = false`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" || customer.ShopID == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, shop_id, name, phone, total_debt, archived, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
	`, customer.ID, customer.ShopID, customer.Name, nullIfEmpty(customer.Phone),
		customer.TotalDebt, customer.Archived, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := customer
	return &created, nil
}

func (s *Store) GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error) {
	customer, err := scanCustomer(s.db.QueryRowContext(ctx, `
		SELECT `+customerColumns+`
		FROM customers
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return customer, nil
}

func (s *Store) UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	if customer.ID == "" || customer.Name == "" {
		return nil, store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE customers
		SET name = $2, phone = $3, archived = $4, updated_at = now()
		WHERE id = $1
	`, customer.ID, customer.Name, nullIfEmpty(customer.Phone), customer.Archived)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrNotFound
	}
	return s.GetCustomerByID(ctx, customer.ID)
}

// ApplyDebtTransaction moves the cached total_debt and appends the log entry
// atomically. A payment larger than the locked balance is rejected, so the
// cached total can never go negative even under concurrent payments.
func (s *Store) ApplyDebtTransaction(ctx context.Context, debtTx domain.DebtTransaction) (*domain.Customer, error) {
	if !debtTx.Amount.IsPositive() {
		return nil, ledger.ErrInvalidAmount
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var balance decimal.Decimal
	err = tx.QueryRowContext(ctx, `
		SELECT total_debt FROM customers WHERE id = $1 FOR UPDATE
	`, debtTx.CustomerID).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	switch debtTx.Type {
	case domain.DebtTxCredit:
		balance = balance.Add(debtTx.Amount)
	case domain.DebtTxPayment:
		if debtTx.Amount.GreaterThan(balance) {
			return nil, ledger.ErrInsufficientBalance
		}
		balance = balance.Sub(debtTx.Amount)
	default:
		return nil, store.ErrInvalidInput
	}

	customer, err := scanCustomer(tx.QueryRowContext(ctx, `
		UPDATE customers
		SET total_debt = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+customerColumns+`
	`, debtTx.CustomerID, balance))
	if err != nil {
		return nil, err
	}

	if debtTx.ID == "" {
		debtTx.ID = xid.New("dbt")
	}
	if debtTx.CreatedAt.IsZero() {
		debtTx.CreatedAt = time.Now().UTC()
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO debt_transactions (id, shop_id, customer_id, type, amount, sale_id, method, note, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, debtTx.ID, debtTx.ShopID, debtTx.CustomerID, debtTx.Type, debtTx.Amount,
		nullIfEmpty(debtTx.SaleID), nullIfEmpty(debtTx.Method), nullIfEmpty(debtTx.Note), debtTx.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *Store) ListDebtTransactions(ctx context.Context, customerID string, limit int) ([]domain.DebtTransaction, error) {
	query := `
		SELECT id, shop_id, customer_id, type, amount, COALESCE(sale_id,''), COALESCE(method,''), COALESCE(note,''), created_at
		FROM debt_transactions
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
	`
	args := []any{customerID}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	transactions := make([]domain.DebtTransaction, 0, 64)
	for rows.Next() {
		var t domain.DebtTransaction
		if err := rows.Scan(&t.ID, &t.ShopID, &t.CustomerID, &t.Type, &t.Amount,
			&t.SaleID, &t.Method, &t.Note, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.CreatedAt = t.CreatedAt.UTC()
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return transactions, nil
}

const saleColumns = `id, shop_id, COALESCE(idempotency_key,''), payment_method, COALESCE(payment_reference,''),
	COALESCE(customer_id,''), COALESCE(gift_card_code,''), subtotal, discount, total, cash_received, change,
	status, COALESCE(void_reason,''), voided_at, created_at`

func (s *Store) FindSaleByIdempotency(ctx context.Context, shopID, key string) (*domain.Sale, error) {
	return s.findSale(ctx, `shop_id = $1 AND idempotency_key = $2`, shopID, key)
}

func (s *Store) FindSaleByID(ctx context.Context, id string) (*domain.Sale, error) {
	return s.findSale(ctx, `id = $1`, id)
}

func (s *Store) findSale(ctx context.Context, where string, args ...any) (*domain.Sale, error) {
	var sale domain.Sale
	var voidedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE `+where, args...).Scan(
		&sale.ID, &sale.ShopID, &sale.IdempotencyKey, &sale.PaymentMethod, &sale.PaymentReference,
		&sale.CustomerID, &sale.GiftCardCode, &sale.Subtotal, &sale.Discount, &sale.Total,
		&sale.CashReceived, &sale.Change, &sale.Status, &sale.VoidReason, &voidedAt, &sale.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		sale.VoidedAt = &at
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT product_id, name, qty, unit_price, line_total
		FROM sale_items
		WHERE sale_id = $1
		ORDER BY product_id
	`, sale.ID)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var line domain.SaleLine
		if err := itemRows.Scan(&line.ProductID, &line.Name, &line.Qty, &line.UnitPrice, &line.LineTotal); err != nil {
			return nil, err
		}
		sale.Items = append(sale.Items, line)
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}
	return &sale, nil
}

// CreateSale persists the sale, its lines and its stock deductions in one
// serializable transaction. A duplicate idempotency key returns the stored
// sale instead of an error so replays are transparent to the caller.
func (s *Store) CreateSale(ctx context.Context, sale domain.Sale, movements []domain.StockMovement) (*domain.Sale, error) {
	if sale.IdempotencyKey == "" || len(sale.Items) == 0 {
		return nil, store.ErrInvalidInput
	}

	if existing, err := s.FindSaleByIdempotency(ctx, sale.ShopID, sale.IdempotencyKey); err == nil {
		return existing, nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	for _, mov := range movements {
		if _, err := applyMovementTx(ctx, tx, mov); err != nil {
			return nil, err
		}
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

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sales (
			id, shop_id, idempotency_key, payment_method, payment_reference,
			customer_id, gift_card_code, subtotal, discount, total,
			cash_received, change, status, void_reason, voided_at, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, sale.ID, sale.ShopID, sale.IdempotencyKey, sale.PaymentMethod, nullIfEmpty(sale.PaymentReference),
		nullIfEmpty(sale.CustomerID), nullIfEmpty(sale.GiftCardCode), sale.Subtotal, sale.Discount,
		sale.Total, sale.CashReceived, sale.Change, sale.Status, nullIfEmpty(sale.VoidReason),
		nullTime(sale.VoidedAt), sale.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			existing, lookupErr := s.FindSaleByIdempotency(ctx, sale.ShopID, sale.IdempotencyKey)
			if lookupErr == nil {
				return existing, nil
			}
		}
		return nil, err
	}

	for _, item := range sale.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO sale_items (sale_id, product_id, name, qty, unit_price, line_total)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, sale.ID, item.ProductID, item.Name, item.Qty, item.UnitPrice, item.LineTotal)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &sale, nil
}

func (s *Store) VoidSale(ctx context.Context, id, reason string, movements []domain.StockMovement, at time.Time) (*domain.Sale, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, `
		SELECT status FROM sales WHERE id = $1 FOR UPDATE
	`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if status != domain.SaleStatusPaid {
		return nil, store.ErrInvalidInput
	}

	for _, mov := range movements {
		if _, err := applyMovementTx(ctx, tx, mov); err != nil {
			return nil, err
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE sales
		SET status = $2, void_reason = $3, voided_at = $4
		WHERE id = $1 AND status = $5
	`, id, domain.SaleStatusVoided, reason, at, domain.SaleStatusPaid)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.FindSaleByID(ctx, id)
}

const giftCardColumns = `code, shop_id, balance, active, issued_by, created_at`

func scanGiftCard(row interface{ Scan(...any) error }) (*domain.GiftCard, error) {
	var card domain.GiftCard
	err := row.Scan(&card.Code, &card.ShopID, &card.Balance, &card.Active, &card.IssuedBy, &card.CreatedAt)
	if err != nil {
		return nil, err
	}
	card.CreatedAt = card.CreatedAt.UTC()
	return &card, nil
}

func (s *Store) CreateGiftCard(ctx context.Context, card domain.GiftCard) (*domain.GiftCard, error) {
	card.Code = normalizeCardCode(card.Code)
	if card.Code == "" || card.ShopID == "" || !card.Balance.IsPositive() {
		return nil, store.ErrInvalidInput
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now().UTC()
	}
	card.Active = true

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gift_cards (code, shop_id, balance, active, issued_by, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, card.Code, card.ShopID, card.Balance, card.Active, card.IssuedBy, card.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := card
	return &created, nil
}

func (s *Store) GetGiftCard(ctx context.Context, code string) (*domain.GiftCard, error) {
	card, err := scanGiftCard(s.db.QueryRowContext(ctx, `
		SELECT `+giftCardColumns+`
		FROM gift_cards
		WHERE code = $1
	`, normalizeCardCode(code)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return card, nil
}

// AdjustGiftCardBalance applies a signed delta with the non-negative guard in
// the UPDATE, mirroring the stock balance guard.
func (s *Store) AdjustGiftCardBalance(ctx context.Context, code string, delta decimal.Decimal) (*domain.GiftCard, error) {
	card, err := scanGiftCard(s.db.QueryRowContext(ctx, `
		UPDATE gift_cards
		SET balance = balance + $2, updated_at = now()
		WHERE code = $1 AND active = true AND balance + $2 >= 0
		RETURNING `+giftCardColumns+`
	`, normalizeCardCode(code), delta))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			var exists bool
			if scanErr := s.db.QueryRowContext(ctx, `
				SELECT EXISTS (SELECT 1 FROM gift_cards WHERE code = $1 AND active = true)
			`, normalizeCardCode(code)).Scan(&exists); scanErr != nil {
				return nil, scanErr
			}
			if !exists {
				return nil, store.ErrNotFound
			}
			return nil, ledger.ErrInsufficientBalance
		}
		return nil, err
	}
	return card, nil
}

func (s *Store) GetSubscription(ctx context.Context, shopID string) (*domain.Subscription, error) {
	var sub domain.Subscription
	var subStart, subEnd, lastPayment sql.NullTime
	err := s.db.QueryRowContext(ctx, `
		SELECT id, shop_id, plan, status, trial_start_date, trial_end_date,
			subscription_start_date, subscription_end_date, last_payment_date,
			last_payment_amount, COALESCE(payment_reference,''), last_verified_at, verification_checksum
		FROM subscriptions
		WHERE shop_id = $1
	`, shopID).Scan(&sub.ID, &sub.ShopID, &sub.Plan, &sub.Status, &sub.TrialStartDate, &sub.TrialEndDate,
		&subStart, &subEnd, &lastPayment, &sub.LastPaymentAmount, &sub.PaymentReference,
		&sub.LastVerifiedAt, &sub.VerificationChecksum)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	sub.TrialStartDate = sub.TrialStartDate.UTC()
	sub.TrialEndDate = sub.TrialEndDate.UTC()
	sub.LastVerifiedAt = sub.LastVerifiedAt.UTC()
	sub.SubscriptionStartDate = timePtr(subStart)
	sub.SubscriptionEndDate = timePtr(subEnd)
	sub.LastPaymentDate = timePtr(lastPayment)
	return &sub, nil
}

func (s *Store) SaveSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error) {
	if sub.ShopID == "" {
		return nil, store.ErrInvalidInput
	}
	if sub.ID == "" {
		sub.ID = xid.New("sub")
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (
			id, shop_id, plan, status, trial_start_date, trial_end_date,
			subscription_start_date, subscription_end_date, last_payment_date,
			last_payment_amount, payment_reference, last_verified_at, verification_checksum, updated_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		ON CONFLICT (shop_id)
		DO UPDATE SET plan = EXCLUDED.plan, status = EXCLUDED.status,
			trial_start_date = EXCLUDED.trial_start_date, trial_end_date = EXCLUDED.trial_end_date,
			subscription_start_date = EXCLUDED.subscription_start_date,
			subscription_end_date = EXCLUDED.subscription_end_date,
			last_payment_date = EXCLUDED.last_payment_date,
			last_payment_amount = EXCLUDED.last_payment_amount,
			payment_reference = EXCLUDED.payment_reference,
			last_verified_at = EXCLUDED.last_verified_at,
			verification_checksum = EXCLUDED.verification_checksum,
			updated_at = now()
	`, sub.ID, sub.ShopID, sub.Plan, sub.Status, sub.TrialStartDate, sub.TrialEndDate,
		nullTime(sub.SubscriptionStartDate), nullTime(sub.SubscriptionEndDate), nullTime(sub.LastPaymentDate),
		sub.LastPaymentAmount, nullIfEmpty(sub.PaymentReference), sub.LastVerifiedAt, sub.VerificationChecksum)
	if err != nil {
		return nil, err
	}

	return s.GetSubscription(ctx, sub.ShopID)
}

func (s *Store) GetDailyReport(ctx context.Context, shopID string, from, to time.Time) (domain.DailyReport, error) {
	report := domain.DailyReport{
		ShopID:    shopID,
		ByPayment: make([]domain.DailyReportPayment, 0, 4),
	}

	err := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*)::bigint,
			COALESCE(SUM(subtotal),0),
			COALESCE(SUM(discount),0),
			COALESCE(SUM(total),0)
		FROM sales
		WHERE shop_id = $1
			AND created_at >= $2
			AND created_at < $3
			AND status <> $4
	`, shopID, from, to, domain.SaleStatusVoided).Scan(
		&report.Sales,
		&report.GrossSales,
		&report.Discounts,
		&report.NetSales,
	)
	if err != nil {
		return report, err
	}

	paymentRows, err := s.db.QueryContext(ctx, `
		SELECT payment_method, COUNT(*)::bigint, COALESCE(SUM(total),0)
		FROM sales
		WHERE shop_id = $1
			AND created_at >= $2
			AND created_at < $3
			AND status <> $4
		GROUP BY payment_method
		ORDER BY payment_method
	`, shopID, from, to, domain.SaleStatusVoided)
	if err != nil {
		return report, err
	}
	for paymentRows.Next() {
		var row domain.DailyReportPayment
		if err := paymentRows.Scan(&row.PaymentMethod, &row.Sales, &row.Total); err != nil {
			_ = paymentRows.Close()
			return report, err
		}
		report.ByPayment = append(report.ByPayment, row)
	}
	if err := paymentRows.Err(); err != nil {
		_ = paymentRows.Close()
		return report, err
	}
	_ = paymentRows.Close()

	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(total_debt),0)
		FROM customers
		WHERE shop_id = $1 AND archived = false
	`, shopID).Scan(&report.DebtOutstanding)
	if err != nil {
		return report, err
	}

	return report, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.ShopID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, shopID string, from, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, shop_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE shop_id = $1
			AND created_at >= $2
			AND created_at < $3
		ORDER BY created_at DESC
		LIMIT $4
	`, shopID, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ShopID, &entry.ActorUsername, &entry.ActorRole,
			&entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = "cashier"
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func normalizeCardCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func uniqueIDs(ids []string) []string {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		set[id] = struct{}{}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullTime(val *time.Time) any {
	if val == nil {
		return nil
	}
	return *val
}

func timePtr(val sql.NullTime) *time.Time {
	if !val.Valid {
		return nil
	}
	t := val.Time.UTC()
	return &t
}
