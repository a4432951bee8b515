// Package subscription derives a shop's effective account status from its
// stored subscription record. The stored status field is advisory; every
// read recomputes the effective state from the date fields, and a
// non-cryptographic checksum flags records whose fields were edited outside
// this package. The checksum is a tamper signal, not a security control.
package subscription

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"shopdesk/backend/internal/domain"
	"shopdesk/backend/internal/xid"
)

var (
	ErrCancelled   = errors.New("subscription is cancelled")
	ErrInvalidPlan = errors.New("invalid subscription plan")
)

const maxTrialSpan = 365 * 24 * time.Hour

// Config is injected at construction. Trial behavior is never read from
// ambient or global state.
type Config struct {
	TrialDays    int
	TrialEnabled bool
}

type Engine struct {
	cfg Config
}

func NewEngine(cfg Config) *Engine {
	if cfg.TrialDays <= 0 {
		cfg.TrialDays = 7
	}
	return &Engine{cfg: cfg}
}

// CreateTrial produces a fresh subscription for a shop. With trials disabled
// the record is born expired with a zero-length trial span, which forces
// payment before the shop unlocks.
func (e *Engine) CreateTrial(shopID string, now time.Time) domain.Subscription {
	now = now.UTC()
	sub := domain.Subscription{
		ID:             xid.New("sub"),
		ShopID:         shopID,
		Plan:           domain.PlanMonthly,
		TrialStartDate: now,
		LastVerifiedAt: now,
	}
	if e.cfg.TrialEnabled {
		sub.Status = domain.SubStatusTrial
		sub.TrialEndDate = now.AddDate(0, 0, e.cfg.TrialDays)
	} else {
		sub.Status = domain.SubStatusExpired
		sub.TrialEndDate = now
	}
	sub.VerificationChecksum = Checksum(sub)
	return sub
}

// CheckStatus returns the effective status. Rules apply in strict priority
// order, first match wins:
//
//  1. stored cancelled is terminal, even for a tampered record,
//  2. a failed integrity check locks the account (expired),
//  3. a paid window still in force is active, even over a lapsed trial,
//  4. a paid window in the past is expired,
//  5. without a paid window, a stored trial inside its window is trial,
//  6. without a paid window, a lapsed trial window is expired,
//  7. otherwise the stored status stands.
func (e *Engine) CheckStatus(sub domain.Subscription, now time.Time) string {
	if sub.Status == domain.SubStatusCancelled {
		return domain.SubStatusCancelled
	}
	if !e.VerifyIntegrity(sub) {
		return domain.SubStatusExpired
	}
	if sub.SubscriptionEndDate != nil {
		if !now.After(*sub.SubscriptionEndDate) {
			return domain.SubStatusActive
		}
		return domain.SubStatusExpired
	}
	if !now.After(sub.TrialEndDate) && sub.Status == domain.SubStatusTrial {
		return domain.SubStatusTrial
	}
	if now.After(sub.TrialEndDate) {
		return domain.SubStatusExpired
	}
	return sub.Status
}

// Extend records a confirmed payment. When the current paid window is still
// in force the plan duration stacks onto its end date, so renewing early
// never loses remaining paid time. Month and year increments are calendar
// aware.
func (e *Engine) Extend(sub domain.Subscription, plan, paymentRef string, amount decimal.Decimal, now time.Time) (domain.Subscription, error) {
	if sub.Status == domain.SubStatusCancelled {
		return domain.Subscription{}, ErrCancelled
	}

	now = now.UTC()
	base := now
	if sub.SubscriptionEndDate != nil && !now.After(*sub.SubscriptionEndDate) {
		base = *sub.SubscriptionEndDate
	}

	var end time.Time
	switch plan {
	case domain.PlanMonthly:
		end = base.AddDate(0, 1, 0)
	case domain.PlanYearly:
		end = base.AddDate(1, 0, 0)
	default:
		return domain.Subscription{}, fmt.Errorf("%w: %q", ErrInvalidPlan, plan)
	}

	if sub.SubscriptionStartDate == nil {
		start := now
		sub.SubscriptionStartDate = &start
	}
	sub.Plan = plan
	sub.Status = domain.SubStatusActive
	sub.SubscriptionEndDate = &end
	sub.LastPaymentDate = &now
	sub.LastPaymentAmount = amount
	sub.PaymentReference = paymentRef
	sub.LastVerifiedAt = now
	sub.VerificationChecksum = Checksum(sub)
	return sub, nil
}

// Cancel marks the subscription cancelled. Cancellation is terminal; no
// transition leads out of it.
func (e *Engine) Cancel(sub domain.Subscription, now time.Time) domain.Subscription {
	sub.Status = domain.SubStatusCancelled
	sub.LastVerifiedAt = now.UTC()
	sub.VerificationChecksum = Checksum(sub)
	return sub
}

// DaysRemaining reports whole days left in the current trial or paid window,
// rounded up and floored at zero.
func (e *Engine) DaysRemaining(sub domain.Subscription, now time.Time) int {
	switch e.CheckStatus(sub, now) {
	case domain.SubStatusTrial:
		return daysUntil(sub.TrialEndDate, now)
	case domain.SubStatusActive:
		if sub.SubscriptionEndDate == nil {
			return 0
		}
		return daysUntil(*sub.SubscriptionEndDate, now)
	}
	return 0
}

// VerifyIntegrity recomputes the checksum and validates the trial span. A
// zero-length span is legitimate for a trial-disabled record, which is born
// expired and keeps its collapsed trial dates after a payment grants a paid
// window.
func (e *Engine) VerifyIntegrity(sub domain.Subscription) bool {
	if Checksum(sub) != sub.VerificationChecksum {
		return false
	}
	span := sub.TrialEndDate.Sub(sub.TrialStartDate)
	if span < 0 || span > maxTrialSpan {
		return false
	}
	if span == 0 && sub.SubscriptionEndDate == nil && sub.Status != domain.SubStatusExpired {
		return false
	}
	return true
}

// Checksum hashes the fields that define the account's entitlement window.
// FNV-1a is stable across platforms; any edit to these fields outside the
// engine leaves the stored checksum stale.
func Checksum(sub domain.Subscription) string {
	h := fnv.New32a()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{'|'})
	}
	write(sub.ShopID)
	write(sub.TrialStartDate.UTC().Format(time.RFC3339))
	write(sub.TrialEndDate.UTC().Format(time.RFC3339))
	if sub.SubscriptionEndDate != nil {
		write(sub.SubscriptionEndDate.UTC().Format(time.RFC3339))
	} else {
		write("")
	}
	write(sub.PaymentReference)
	return fmt.Sprintf("%08x", h.Sum32())
}

func daysUntil(end, now time.Time) int {
	d := end.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Hours() / 24))
}
