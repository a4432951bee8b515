package subscription

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"shopdesk/backend/internal/domain"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestEngine() *Engine {
	return NewEngine(Config{TrialDays: 7, TrialEnabled: true})
}

func TestCreateTrial(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow)
	if sub.Status != domain.SubStatusTrial {
		t.Fatalf("expected trial status, got %s", sub.Status)
	}
	if want := testNow.AddDate(0, 0, 7); !sub.TrialEndDate.Equal(want) {
		t.Fatalf("expected trial end %v, got %v", want, sub.TrialEndDate)
	}
	if !e.VerifyIntegrity(sub) {
		t.Fatalf("fresh trial must pass integrity check")
	}
	if got := e.CheckStatus(sub, testNow); got != domain.SubStatusTrial {
		t.Fatalf("expected effective trial, got %s", got)
	}
}

func TestCreateTrial_DisabledProducesZeroSpanExpired(t *testing.T) {
	e := NewEngine(Config{TrialDays: 7, TrialEnabled: false})

	sub := e.CreateTrial("shop-1", testNow)
	if sub.Status != domain.SubStatusExpired {
		t.Fatalf("expected expired status with trials disabled, got %s", sub.Status)
	}
	if !sub.TrialStartDate.Equal(sub.TrialEndDate) {
		t.Fatalf("expected zero-length trial span, got %v .. %v", sub.TrialStartDate, sub.TrialEndDate)
	}
	// The zero span is the legitimate trials-disabled shape, not tampering.
	if !e.VerifyIntegrity(sub) {
		t.Fatalf("trial-disabled record must pass integrity check")
	}
	if got := e.CheckStatus(sub, testNow); got != domain.SubStatusExpired {
		t.Fatalf("expected effective expired, got %s", got)
	}
}

func TestExtend_UnlocksTrialDisabledShop(t *testing.T) {
	e := NewEngine(Config{TrialDays: 7, TrialEnabled: false})

	sub := e.CreateTrial("shop-1", testNow)
	sub, err := e.Extend(sub, domain.PlanMonthly, "PAY-1", decimal.NewFromInt(5000), testNow)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}

	// The trial dates stay collapsed but the paid window makes the record
	// legitimate; payment must unlock the shop.
	if !e.VerifyIntegrity(sub) {
		t.Fatalf("paid trial-disabled record must pass integrity check")
	}
	if got := e.CheckStatus(sub, testNow.AddDate(0, 0, 1)); got != domain.SubStatusActive {
		t.Fatalf("expected active after payment, got %s", got)
	}
}

func TestCheckStatus_PaidWindowOverridesLapsedTrial(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow.AddDate(0, 0, -10))
	var err error
	sub, err = e.Extend(sub, domain.PlanMonthly, "PAY-1", decimal.NewFromInt(5000), testNow.AddDate(0, 0, -5))
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	// Trial ended 3 days ago, paid window runs for most of a month yet.
	if got := e.CheckStatus(sub, testNow); got != domain.SubStatusActive {
		t.Fatalf("expected active while paid window is in force, got %s", got)
	}
}

func TestCheckStatus_PaidWindowLapsed(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow.AddDate(0, -3, 0))
	var err error
	sub, err = e.Extend(sub, domain.PlanMonthly, "PAY-1", decimal.NewFromInt(5000), testNow.AddDate(0, -2, 0))
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if got := e.CheckStatus(sub, testNow); got != domain.SubStatusExpired {
		t.Fatalf("expected expired after paid window lapsed, got %s", got)
	}
}

func TestCheckStatus_TrialLapsesWithoutPayment(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow.AddDate(0, 0, -8))
	if got := e.CheckStatus(sub, testNow); got != domain.SubStatusExpired {
		t.Fatalf("expected expired one day past trial end, got %s", got)
	}
}

func TestCheckStatus_CancelledIsTerminal(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow)
	sub, err := e.Extend(sub, domain.PlanYearly, "PAY-1", decimal.NewFromInt(50000), testNow)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	sub = e.Cancel(sub, testNow)

	// Cancelled wins even though the paid window is still in force.
	if got := e.CheckStatus(sub, testNow.AddDate(0, 0, 1)); got != domain.SubStatusCancelled {
		t.Fatalf("expected cancelled, got %s", got)
	}
	if _, err := e.Extend(sub, domain.PlanMonthly, "PAY-2", decimal.NewFromInt(5000), testNow); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled on extending a cancelled subscription, got %v", err)
	}
}

func TestExtend_EarlyRenewalStacks(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow.AddDate(0, 0, -30))
	var err error
	sub, err = e.Extend(sub, domain.PlanMonthly, "PAY-1", decimal.NewFromInt(5000), testNow.AddDate(0, 0, -25))
	if err != nil {
		t.Fatalf("first extend: %v", err)
	}
	currentEnd := *sub.SubscriptionEndDate
	if currentEnd.Before(testNow) {
		t.Fatalf("test setup: paid window should still be in force")
	}

	sub, err = e.Extend(sub, domain.PlanMonthly, "PAY-2", decimal.NewFromInt(5000), testNow)
	if err != nil {
		t.Fatalf("second extend: %v", err)
	}
	if want := currentEnd.AddDate(0, 1, 0); !sub.SubscriptionEndDate.Equal(want) {
		t.Fatalf("expected stacked end %v, got %v", want, *sub.SubscriptionEndDate)
	}
}

func TestExtend_LapsedWindowStartsFromNow(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow.AddDate(0, -6, 0))
	var err error
	sub, err = e.Extend(sub, domain.PlanMonthly, "PAY-1", decimal.NewFromInt(5000), testNow.AddDate(0, -4, 0))
	if err != nil {
		t.Fatalf("first extend: %v", err)
	}

	sub, err = e.Extend(sub, domain.PlanYearly, "PAY-2", decimal.NewFromInt(50000), testNow)
	if err != nil {
		t.Fatalf("second extend: %v", err)
	}
	if want := testNow.AddDate(1, 0, 0); !sub.SubscriptionEndDate.Equal(want) {
		t.Fatalf("expected fresh window ending %v, got %v", want, *sub.SubscriptionEndDate)
	}
	if sub.PaymentReference != "PAY-2" {
		t.Fatalf("expected latest payment reference recorded, got %q", sub.PaymentReference)
	}
}

func TestExtend_RejectsUnknownPlan(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow)
	if _, err := e.Extend(sub, "weekly", "PAY-1", decimal.NewFromInt(1000), testNow); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
}

func TestVerifyIntegrity_DetectsTampering(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow)
	sub, err := e.Extend(sub, domain.PlanMonthly, "PAY-1", decimal.NewFromInt(5000), testNow)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}

	// Pushing the paid window out without going through Extend leaves the
	// stored checksum stale.
	moved := sub.SubscriptionEndDate.AddDate(1, 0, 0)
	sub.SubscriptionEndDate = &moved
	if e.VerifyIntegrity(sub) {
		t.Fatalf("expected integrity failure after direct end-date edit")
	}
	if got := e.CheckStatus(sub, testNow); got != domain.SubStatusExpired {
		t.Fatalf("expected tampered record to read as expired, got %s", got)
	}
}

func TestCheckStatus_CancelledWinsOverTampering(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow)
	sub, err := e.Extend(sub, domain.PlanMonthly, "PAY-1", decimal.NewFromInt(5000), testNow)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	sub = e.Cancel(sub, testNow)

	// Editing the record after cancellation breaks the checksum, but the
	// stored cancelled state is terminal and reports ahead of the
	// integrity downgrade.
	moved := sub.SubscriptionEndDate.AddDate(1, 0, 0)
	sub.SubscriptionEndDate = &moved
	if e.VerifyIntegrity(sub) {
		t.Fatalf("expected integrity failure after direct end-date edit")
	}
	if got := e.CheckStatus(sub, testNow); got != domain.SubStatusCancelled {
		t.Fatalf("expected cancelled to remain terminal, got %s", got)
	}
}

func TestVerifyIntegrity_RejectsBadTrialSpans(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow)
	sub.TrialEndDate = sub.TrialStartDate.AddDate(0, 0, -1)
	sub.VerificationChecksum = Checksum(sub)
	if e.VerifyIntegrity(sub) {
		t.Fatalf("expected failure for trial end before start")
	}

	sub = e.CreateTrial("shop-1", testNow)
	sub.TrialEndDate = sub.TrialStartDate.AddDate(0, 0, 400)
	sub.VerificationChecksum = Checksum(sub)
	if e.VerifyIntegrity(sub) {
		t.Fatalf("expected failure for trial span over a year")
	}

	sub = e.CreateTrial("shop-1", testNow)
	sub.TrialEndDate = sub.TrialStartDate
	sub.VerificationChecksum = Checksum(sub)
	if e.VerifyIntegrity(sub) {
		t.Fatalf("expected failure for zero span on a record still marked trial")
	}
}

func TestDaysRemaining(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow)
	if got := e.DaysRemaining(sub, testNow); got != 7 {
		t.Fatalf("expected 7 trial days remaining, got %d", got)
	}

	// Partial days round up.
	if got := e.DaysRemaining(sub, testNow.AddDate(0, 0, 6).Add(-time.Hour)); got != 2 {
		t.Fatalf("expected partial day to round up to 2, got %d", got)
	}

	// The boundary instant reports zero, never negative.
	if got := e.DaysRemaining(sub, sub.TrialEndDate); got != 0 {
		t.Fatalf("expected 0 at trial end instant, got %d", got)
	}
	if got := e.DaysRemaining(sub, sub.TrialEndDate.AddDate(0, 0, 5)); got != 0 {
		t.Fatalf("expected 0 past trial end, got %d", got)
	}

	sub, err := e.Extend(sub, domain.PlanMonthly, "PAY-1", decimal.NewFromInt(5000), testNow)
	if err != nil {
		t.Fatalf("extend: %v", err)
	}
	if got := e.DaysRemaining(sub, testNow); got != 31 {
		t.Fatalf("expected 31 days for a month from March 15, got %d", got)
	}
}

func TestChecksumIsStable(t *testing.T) {
	e := newTestEngine()

	sub := e.CreateTrial("shop-1", testNow)
	if Checksum(sub) != Checksum(sub) {
		t.Fatalf("checksum must be deterministic")
	}

	other := e.CreateTrial("shop-2", testNow)
	if Checksum(sub) == Checksum(other) {
		t.Fatalf("expected different shops to hash differently")
	}
}
