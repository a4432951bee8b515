package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"shopdesk/backend/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrSubscriptionLocked = errors.New("subscription locked")
)

// Repository is the persistence contract shared by the postgres and memory
// implementations. Stock and debt mutations take a ledger-computed product
// or customer snapshot plus the movement/transaction to append, and must
// apply both atomically with a balance guard so concurrent writers cannot
// drive a total negative or lose a delta.
type Repository interface {
	ListProducts(ctx context.Context, shopID string) ([]domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductByID(ctx context.Context, id string) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) (map[string]domain.Product, error)

	ApplyStockMovement(ctx context.Context, movement domain.StockMovement) (*domain.Product, error)
	SetStockLevel(ctx context.Context, movement domain.StockMovement) (*domain.Product, error)
	ListStockMovements(ctx context.Context, productID string, limit int) ([]domain.StockMovement, error)

	ListCustomers(ctx context.Context, shopID string, includeArchived bool) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	GetCustomerByID(ctx context.Context, id string) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	ApplyDebtTransaction(ctx context.Context, tx domain.DebtTransaction) (*domain.Customer, error)
	ListDebtTransactions(ctx context.Context, customerID string, limit int) ([]domain.DebtTransaction, error)

	FindSaleByIdempotency(ctx context.Context, shopID, key string) (*domain.Sale, error)
	FindSaleByID(ctx context.Context, id string) (*domain.Sale, error)
	CreateSale(ctx context.Context, sale domain.Sale, movements []domain.StockMovement) (*domain.Sale, error)
	VoidSale(ctx context.Context, id, reason string, movements []domain.StockMovement, at time.Time) (*domain.Sale, error)

	CreateGiftCard(ctx context.Context, card domain.GiftCard) (*domain.GiftCard, error)
	GetGiftCard(ctx context.Context, code string) (*domain.GiftCard, error)
	AdjustGiftCardBalance(ctx context.Context, code string, delta decimal.Decimal) (*domain.GiftCard, error)

	GetSubscription(ctx context.Context, shopID string) (*domain.Subscription, error)
	SaveSubscription(ctx context.Context, sub domain.Subscription) (*domain.Subscription, error)

	GetDailyReport(ctx context.Context, shopID string, from, to time.Time) (domain.DailyReport, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, shopID string, from, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username, password string) error
}
