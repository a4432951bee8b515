package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the authoritative stock record for one sellable item.
// TotalUnits is always unit-denominated; carton input is converted
// before it reaches this struct.
type Product struct {
	ID             string          `json:"id"`
	ShopID         string          `json:"shop_id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	UnitsPerCarton int             `json:"units_per_carton"`
	TotalUnits     int             `json:"total_units"`
	MinStockLevel  int             `json:"min_stock_level"`
	Active         bool            `json:"active"`
	CreatedAt      time.Time       `json:"created_at"`
}

type ProductCreateRequest struct {
	ShopID         string          `json:"shop_id"`
	Name           string          `json:"name"`
	Category       string          `json:"category"`
	Price          decimal.Decimal `json:"price"`
	UnitsPerCarton int             `json:"units_per_carton"`
	MinStockLevel  int             `json:"min_stock_level"`
	InitialUnits   int             `json:"initial_units"`
}

type ProductUpdateRequest struct {
	Name           *string          `json:"name,omitempty"`
	Category       *string          `json:"category,omitempty"`
	Price          *decimal.Decimal `json:"price,omitempty"`
	UnitsPerCarton *int             `json:"units_per_carton,omitempty"`
	MinStockLevel  *int             `json:"min_stock_level,omitempty"`
	Active         *bool            `json:"active,omitempty"`
}

// StockMovement is an immutable ledger entry. QuantityChange is the signed
// unit delta after carton conversion; Quantity and QuantityType preserve the
// caller's input granularity. BalanceAfter snapshots TotalUnits immediately
// after the movement was applied.
type StockMovement struct {
	ID             string    `json:"id"`
	ShopID         string    `json:"shop_id"`
	ProductID      string    `json:"product_id"`
	Type           string    `json:"type"`
	Quantity       int       `json:"quantity"`
	QuantityType   string    `json:"quantity_type"`
	QuantityChange int       `json:"quantity_change"`
	BalanceAfter   int       `json:"balance_after"`
	UserID         string    `json:"user_id"`
	Note           string    `json:"note,omitempty"`
	BatchNumber    string    `json:"batch_number,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type StockMovementRequest struct {
	ProductID    string `json:"product_id"`
	Type         string `json:"type"`
	QuantityType string `json:"quantity_type"`
	Quantity     int    `json:"quantity"`
	Note         string `json:"note"`
	BatchNumber  string `json:"batch_number"`
}

type StockAuditRequest struct {
	ProductID    string `json:"product_id"`
	CountedUnits int    `json:"counted_units"`
	Note         string `json:"note"`
}

// MovementHistoryEntry decorates a movement with the carton/remainder split
// of its balance. The split is presentation only; TotalUnits stays canonical.
type MovementHistoryEntry struct {
	StockMovement
	BalanceCartons   int `json:"balance_cartons"`
	BalanceRemainder int `json:"balance_remainder"`
}

type StockHistoryResponse struct {
	ProductID      string                 `json:"product_id"`
	UnitsPerCarton int                    `json:"units_per_carton"`
	Movements      []MovementHistoryEntry `json:"movements"`
}

type LowStockItem struct {
	ProductID     string `json:"product_id"`
	Name          string `json:"name"`
	TotalUnits    int    `json:"total_units"`
	MinStockLevel int    `json:"min_stock_level"`
}

type LowStockResponse struct {
	ShopID string         `json:"shop_id"`
	Items  []LowStockItem `json:"items"`
}

// Customer carries the cached debt balance. The debt transaction log is the
// source of truth; TotalDebt is a projection kept in lockstep by the store.
type Customer struct {
	ID        string          `json:"id"`
	ShopID    string          `json:"shop_id"`
	Name      string          `json:"name"`
	Phone     string          `json:"phone"`
	TotalDebt decimal.Decimal `json:"total_debt"`
	Archived  bool            `json:"archived"`
	CreatedAt time.Time       `json:"created_at"`
}

type CustomerCreateRequest struct {
	ShopID string `json:"shop_id"`
	Name   string `json:"name"`
	Phone  string `json:"phone"`
}

type CustomerUpdateRequest struct {
	Name     *string `json:"name,omitempty"`
	Phone    *string `json:"phone,omitempty"`
	Archived *bool   `json:"archived,omitempty"`
}

type DebtTransaction struct {
	ID         string          `json:"id"`
	ShopID     string          `json:"shop_id"`
	CustomerID string          `json:"customer_id"`
	Type       string          `json:"type"`
	Amount     decimal.Decimal `json:"amount"`
	SaleID     string          `json:"sale_id,omitempty"`
	Method     string          `json:"method,omitempty"`
	Note       string          `json:"note,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type DebtCreditRequest struct {
	Amount decimal.Decimal `json:"amount"`
	SaleID string          `json:"sale_id,omitempty"`
	Note   string          `json:"note"`
}

type DebtPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Method string          `json:"method"`
	Note   string          `json:"note"`
}

// DebtStatement lists a customer's transactions newest first. Balance is
// recomputed from the log; Divergent reports disagreement with the cached
// TotalDebt field.
type DebtStatement struct {
	CustomerID    string            `json:"customer_id"`
	CustomerName  string            `json:"customer_name"`
	Transactions  []DebtTransaction `json:"transactions"`
	Balance       decimal.Decimal   `json:"balance"`
	CachedBalance decimal.Decimal   `json:"cached_balance"`
	Divergent     bool              `json:"divergent"`
	GeneratedAt   string            `json:"generated_at"`
}

type SaleLine struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	LineTotal decimal.Decimal `json:"line_total"`
}

type Sale struct {
	ID               string          `json:"id"`
	ShopID           string          `json:"shop_id"`
	IdempotencyKey   string          `json:"idempotency_key,omitempty"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CustomerID       string          `json:"customer_id,omitempty"`
	GiftCardCode     string          `json:"gift_card_code,omitempty"`
	Subtotal         decimal.Decimal `json:"subtotal"`
	Discount         decimal.Decimal `json:"discount"`
	Total            decimal.Decimal `json:"total"`
	CashReceived     decimal.Decimal `json:"cash_received"`
	Change           decimal.Decimal `json:"change"`
	Status           string          `json:"status"`
	VoidReason       string          `json:"void_reason,omitempty"`
	VoidedAt         *time.Time      `json:"voided_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	Items            []SaleLine      `json:"items"`
}

type CartItem struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
}

type CheckoutRequest struct {
	ShopID           string          `json:"shop_id"`
	IdempotencyKey   string          `json:"idempotency_key"`
	PaymentMethod    string          `json:"payment_method"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CustomerID       string          `json:"customer_id,omitempty"`
	GiftCardCode     string          `json:"gift_card_code,omitempty"`
	CashReceived     decimal.Decimal `json:"cash_received"`
	Discount         decimal.Decimal `json:"discount"`
	CartItems        []CartItem      `json:"cart_items"`
}

type CheckoutResponse struct {
	SaleID        string          `json:"sale_id"`
	Status        string          `json:"status"`
	PaymentMethod string          `json:"payment_method"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	Discount      decimal.Decimal `json:"discount"`
	Total         decimal.Decimal `json:"total"`
	CashReceived  decimal.Decimal `json:"cash_received"`
	Change        decimal.Decimal `json:"change"`
	ItemCount     int             `json:"item_count"`
	Duplicate     bool            `json:"duplicate"`
	CreatedAt     string          `json:"created_at"`
}

type VoidSaleRequest struct {
	Reason     string `json:"reason"`
	ManagerPIN string `json:"manager_pin"`
}

type VoidSaleResponse struct {
	SaleID   string `json:"sale_id"`
	Status   string `json:"status"`
	VoidedAt string `json:"voided_at"`
}

type GiftCard struct {
	Code      string          `json:"code"`
	ShopID    string          `json:"shop_id"`
	Balance   decimal.Decimal `json:"balance"`
	Active    bool            `json:"active"`
	IssuedBy  string          `json:"issued_by"`
	CreatedAt time.Time       `json:"created_at"`
}

type GiftCardIssueRequest struct {
	ShopID string          `json:"shop_id"`
	Code   string          `json:"code"`
	Amount decimal.Decimal `json:"amount"`
}

// Subscription is the stored account record. The Status field is advisory;
// the effective status is always recomputed from the date fields.
type Subscription struct {
	ID                    string          `json:"id"`
	ShopID                string          `json:"shop_id"`
	Plan                  string          `json:"plan"`
	Status                string          `json:"status"`
	TrialStartDate        time.Time       `json:"trial_start_date"`
	TrialEndDate          time.Time       `json:"trial_end_date"`
	SubscriptionStartDate *time.Time      `json:"subscription_start_date,omitempty"`
	SubscriptionEndDate   *time.Time      `json:"subscription_end_date,omitempty"`
	LastPaymentDate       *time.Time      `json:"last_payment_date,omitempty"`
	LastPaymentAmount     decimal.Decimal `json:"last_payment_amount"`
	PaymentReference      string          `json:"payment_reference,omitempty"`
	LastVerifiedAt        time.Time       `json:"last_verified_at"`
	VerificationChecksum  string          `json:"verification_checksum"`
}

type SubscriptionStatusResponse struct {
	ShopID              string     `json:"shop_id"`
	Plan                string     `json:"plan"`
	Status              string     `json:"status"`
	DaysRemaining       int        `json:"days_remaining"`
	TrialEndDate        time.Time  `json:"trial_end_date"`
	SubscriptionEndDate *time.Time `json:"subscription_end_date,omitempty"`
	IntegrityOK         bool       `json:"integrity_ok"`
}

type ConfirmPaymentRequest struct {
	Plan             string          `json:"plan"`
	PaymentReference string          `json:"payment_reference"`
	Amount           decimal.Decimal `json:"amount"`
}

type OfflineSale struct {
	ClientSaleID string          `json:"client_sale_id"`
	Checkout     CheckoutRequest `json:"checkout"`
}

type OfflineSyncRequest struct {
	ShopID     string        `json:"shop_id"`
	EnvelopeID string        `json:"envelope_id"`
	Sales      []OfflineSale `json:"sales"`
}

type OfflineSyncStatus struct {
	ClientSaleID string `json:"client_sale_id"`
	Status       string `json:"status"`
	Reason       string `json:"reason,omitempty"`
	SaleID       string `json:"sale_id,omitempty"`
}

type OfflineSyncResponse struct {
	EnvelopeID string              `json:"envelope_id"`
	Statuses   []OfflineSyncStatus `json:"statuses"`
}

type DailyReportPayment struct {
	PaymentMethod string          `json:"payment_method"`
	Sales         int64           `json:"sales"`
	Total         decimal.Decimal `json:"total"`
}

type DailyReport struct {
	ShopID          string               `json:"shop_id"`
	Date            string               `json:"date"`
	Sales           int64                `json:"sales"`
	GrossSales      decimal.Decimal      `json:"gross_sales"`
	Discounts       decimal.Decimal      `json:"discounts"`
	NetSales        decimal.Decimal      `json:"net_sales"`
	ByPayment       []DailyReportPayment `json:"by_payment"`
	DebtOutstanding decimal.Decimal      `json:"debt_outstanding"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ShopID        string    `json:"shop_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

// Actor is the authenticated principal attached to a request. ShopID is
// bound at login from server configuration; it is never taken from request
// input.
type Actor struct {
	Username string
	Role     string
	ShopID   string
}

type CashierCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type CashierUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	MovementRestock    = "restock"
	MovementSale       = "sale"
	MovementAdjustment = "adjustment"
	MovementReturn     = "return"
	MovementAudit      = "audit"
)

const (
	QuantityCarton = "carton"
	QuantityUnit   = "unit"
)

const (
	DebtTxCredit  = "credit"
	DebtTxPayment = "payment"
)

const (
	PaymentCash     = "cash"
	PaymentTransfer = "transfer"
	PaymentCredit   = "credit"
	PaymentGiftCard = "gift_card"
)

const (
	SaleStatusPaid   = "paid"
	SaleStatusVoided = "voided"
)

const (
	PlanMonthly = "monthly"
	PlanYearly  = "yearly"
)

const (
	SubStatusTrial     = "trial"
	SubStatusActive    = "active"
	SubStatusExpired   = "expired"
	SubStatusCancelled = "cancelled"
)
