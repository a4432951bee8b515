package ledger

import (
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"shopdesk/backend/internal/domain"
	"shopdesk/backend/internal/xid"
)

// RecordCredit extends credit to a customer and returns the updated customer
// together with the transaction to append. Amount must be positive.
func RecordCredit(customer domain.Customer, amount decimal.Decimal, saleID, note string, now time.Time) (domain.Customer, domain.DebtTransaction, error) {
	if !amount.IsPositive() {
		return domain.Customer{}, domain.DebtTransaction{}, fmt.Errorf("%w: credit amount must be positive", ErrInvalidAmount)
	}

	customer.TotalDebt = customer.TotalDebt.Add(amount)
	tx := domain.DebtTransaction{
		ID:         xid.New("dbt"),
		ShopID:     customer.ShopID,
		CustomerID: customer.ID,
		Type:       domain.DebtTxCredit,
		Amount:     amount,
		SaleID:     saleID,
		Note:       note,
		CreatedAt:  now,
	}
	return customer, tx, nil
}

// RecordPayment reduces a customer's debt. Paying more than the outstanding
// balance is rejected so the balance can never go negative.
func RecordPayment(customer domain.Customer, amount decimal.Decimal, method, note string, now time.Time) (domain.Customer, domain.DebtTransaction, error) {
	if !amount.IsPositive() {
		return domain.Customer{}, domain.DebtTransaction{}, fmt.Errorf("%w: payment amount must be positive", ErrInvalidAmount)
	}
	if amount.GreaterThan(customer.TotalDebt) {
		return domain.Customer{}, domain.DebtTransaction{}, fmt.Errorf("%w: payment %s exceeds debt %s", ErrInsufficientBalance, amount, customer.TotalDebt)
	}

	customer.TotalDebt = customer.TotalDebt.Sub(amount)
	tx := domain.DebtTransaction{
		ID:         xid.New("dbt"),
		ShopID:     customer.ShopID,
		CustomerID: customer.ID,
		Type:       domain.DebtTxPayment,
		Amount:     amount,
		Method:     method,
		Note:       note,
		CreatedAt:  now,
	}
	return customer, tx, nil
}

// BalanceFromLog replays a customer's transaction log from zero. The result
// is the source of truth; the cached TotalDebt field is only a projection.
func BalanceFromLog(transactions []domain.DebtTransaction) decimal.Decimal {
	balance := decimal.Zero
	for _, tx := range transactions {
		switch tx.Type {
		case domain.DebtTxCredit:
			balance = balance.Add(tx.Amount)
		case domain.DebtTxPayment:
			balance = balance.Sub(tx.Amount)
		}
	}
	return balance
}

// BuildDebtStatement lists a customer's transactions newest first with the
// recomputed balance. Divergent is set when the cached balance disagrees
// with the log.
func BuildDebtStatement(customer domain.Customer, transactions []domain.DebtTransaction, now time.Time) domain.DebtStatement {
	sorted := slices.Clone(transactions)
	slices.SortFunc(sorted, func(a, b domain.DebtTransaction) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	balance := BalanceFromLog(transactions)
	return domain.DebtStatement{
		CustomerID:    customer.ID,
		CustomerName:  customer.Name,
		Transactions:  sorted,
		Balance:       balance,
		CachedBalance: customer.TotalDebt,
		Divergent:     !balance.Equal(customer.TotalDebt),
		GeneratedAt:   now.UTC().Format(time.RFC3339),
	}
}
