package loyalty

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domain "github.com/tableside/platform/internal/app/domain/loyalty"
	"github.com/tableside/platform/internal/app/storage/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	return New(store, store, nil, nil), store
}

func addRule(t *testing.T, store *memory.Store, rule domain.Rule) domain.Rule {
	t.Helper()
	created, err := store.CreateRule(context.Background(), rule)
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	return created
}

func TestCalculatePointsBronze(t *testing.T) {
	svc, store := newTestService(t)
	addRule(t, store, domain.Rule{
		Name: "base earn", Type: domain.RuleEarnPercentage, PointsPerDollar: 0.10, Active: true,
	})

	points, err := svc.CalculatePoints(context.Background(), "cust-1", "loc-1", 100)
	if err != nil {
		t.Fatalf("calculate points: %v", err)
	}
	if points != 10 {
		t.Fatalf("points = %d, want 10", points)
	}
}

func TestCalculatePointsAppliesTierMultiplier(t *testing.T) {
	svc, store := newTestService(t)
	addRule(t, store, domain.Rule{
		Name: "base earn", Type: domain.RuleEarnPercentage, PointsPerDollar: 0.10, Active: true,
	})

	// Lift the customer to silver (multiplier 1.25).
	if _, _, err := svc.Award(context.Background(), "cust-1", "order-0", 1000, ""); err != nil {
		t.Fatalf("award: %v", err)
	}

	points, err := svc.CalculatePoints(context.Background(), "cust-1", "loc-1", 100)
	if err != nil {
		t.Fatalf("calculate points: %v", err)
	}
	if points != 12 {
		t.Fatalf("points = %d, want floor(10*1.25) = 12", points)
	}
}

func TestCalculatePointsStacksQualifyingRules(t *testing.T) {
	svc, store := newTestService(t)
	addRule(t, store, domain.Rule{
		Name: "base earn", Type: domain.RuleEarnPercentage, PointsPerDollar: 0.10, Active: true,
	})
	addRule(t, store, domain.Rule{
		Name: "big spender", Type: domain.RuleEarnFixed, FixedPoints: 25,
		MinPurchaseAmount: 50, Active: true,
	})
	addRule(t, store, domain.Rule{
		Name: "whale bonus", Type: domain.RuleEarnFixed, FixedPoints: 100,
		MinPurchaseAmount: 500, Active: true,
	})

	points, err := svc.CalculatePoints(context.Background(), "cust-1", "loc-1", 100)
	if err != nil {
		t.Fatalf("calculate points: %v", err)
	}
	if points != 35 {
		t.Fatalf("points = %d, want 10+25 = 35", points)
	}
}

func TestCalculatePointsZeroSubtotal(t *testing.T) {
	svc, store := newTestService(t)
	addRule(t, store, domain.Rule{
		Name: "base earn", Type: domain.RuleEarnPercentage, PointsPerDollar: 0.10, Active: true,
	})

	points, err := svc.CalculatePoints(context.Background(), "cust-1", "loc-1", 0)
	if err != nil {
		t.Fatalf("calculate points: %v", err)
	}
	if points != 0 {
		t.Fatalf("points = %d, want 0", points)
	}

	// A fixed rule with no purchase minimum still earns on a free order.
	addRule(t, store, domain.Rule{
		Name: "visit bonus", Type: domain.RuleEarnFixed, FixedPoints: 25, Active: true,
	})

	points, err = svc.CalculatePoints(context.Background(), "cust-1", "loc-1", 0)
	if err != nil {
		t.Fatalf("calculate points: %v", err)
	}
	if points != 25 {
		t.Fatalf("points = %d, want 25", points)
	}
}

func TestCalculatePointsNegativeSubtotal(t *testing.T) {
	svc, store := newTestService(t)
	addRule(t, store, domain.Rule{
		Name: "visit bonus", Type: domain.RuleEarnFixed, FixedPoints: 25, Active: true,
	})

	points, err := svc.CalculatePoints(context.Background(), "cust-1", "loc-1", -5)
	if err != nil {
		t.Fatalf("calculate points: %v", err)
	}
	if points != 0 {
		t.Fatalf("points = %d, want 0", points)
	}
}

func TestAwardUpdatesBalanceAndTier(t *testing.T) {
	svc, _ := newTestService(t)

	entry, bal, err := svc.Award(context.Background(), "cust-1", "order-1", 10, "")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if entry.Type != domain.TransactionEarn || entry.Points != 10 || entry.BalanceAfter != 10 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if bal.TotalPoints != 10 || bal.LifetimeEarned != 10 || bal.Tier != domain.TierBronze {
		t.Fatalf("unexpected balance: %+v", bal)
	}

	_, bal, err = svc.Award(context.Background(), "cust-1", "order-2", 990, "")
	if err != nil {
		t.Fatalf("award: %v", err)
	}
	if bal.LifetimeEarned != 1000 || bal.Tier != domain.TierSilver {
		t.Fatalf("tier not re-evaluated: %+v", bal)
	}
}

func TestAwardRejectsNonPositivePoints(t *testing.T) {
	svc, _ := newTestService(t)

	if _, _, err := svc.Award(context.Background(), "cust-1", "order-1", 0, ""); err == nil {
		t.Fatalf("expected error for zero points")
	}
	if _, _, err := svc.Award(context.Background(), "cust-1", "order-1", -5, ""); err == nil {
		t.Fatalf("expected error for negative points")
	}
}

func TestRedeem(t *testing.T) {
	svc, store := newTestService(t)
	addRule(t, store, domain.Rule{
		Name: "cash back", Type: domain.RuleRedeemDiscount, RedemptionValue: 0.01, Active: true,
	})

	if _, _, err := svc.Award(context.Background(), "cust-1", "order-1", 12, ""); err != nil {
		t.Fatalf("award: %v", err)
	}

	discount, entry, bal, err := svc.Redeem(context.Background(), "cust-1", 12, "order-2")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if discount != 0.12 {
		t.Fatalf("discount = %v, want 0.12", discount)
	}
	if entry.Type != domain.TransactionRedeem || entry.Points != -12 || entry.BalanceAfter != 0 {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if bal.TotalPoints != 0 || bal.LifetimeRedeemed != 12 {
		t.Fatalf("unexpected balance: %+v", bal)
	}
}

func TestRedeemInsufficientPointsLeavesStateUnchanged(t *testing.T) {
	svc, store := newTestService(t)
	addRule(t, store, domain.Rule{
		Name: "cash back", Type: domain.RuleRedeemDiscount, RedemptionValue: 0.01, Active: true,
	})

	if _, _, err := svc.Award(context.Background(), "cust-1", "order-1", 10, ""); err != nil {
		t.Fatalf("award: %v", err)
	}

	_, _, _, err := svc.Redeem(context.Background(), "cust-1", 11, "order-2")
	if !errors.Is(err, ErrInsufficientPoints) {
		t.Fatalf("err = %v, want ErrInsufficientPoints", err)
	}

	bal, err := svc.GetBalance(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.TotalPoints != 10 || bal.LifetimeRedeemed != 0 {
		t.Fatalf("failed redeem changed state: %+v", bal)
	}
	history, err := svc.GetTransactions(context.Background(), "cust-1", 10, 0)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("failed redeem wrote a transaction: %d entries", len(history))
	}
}

func TestRedeemWithoutActiveRule(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, _, err := svc.Redeem(context.Background(), "cust-1", 10, "order-1")
	if !errors.Is(err, ErrNoActiveRedemptionRule) {
		t.Fatalf("err = %v, want ErrNoActiveRedemptionRule", err)
	}
}

func TestRedeemUsesNewestRule(t *testing.T) {
	svc, store := newTestService(t)
	addRule(t, store, domain.Rule{
		Name: "old rate", Type: domain.RuleRedeemDiscount, RedemptionValue: 0.01, Active: true,
	})
	addRule(t, store, domain.Rule{
		Name: "new rate", Type: domain.RuleRedeemDiscount, RedemptionValue: 0.02, Active: true,
	})

	if _, _, err := svc.Award(context.Background(), "cust-1", "order-1", 100, ""); err != nil {
		t.Fatalf("award: %v", err)
	}

	discount, _, _, err := svc.Redeem(context.Background(), "cust-1", 100, "order-2")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if discount != 2.00 {
		t.Fatalf("discount = %v, want 2.00 from newest rule", discount)
	}
}

func TestReverseClampsAtZero(t *testing.T) {
	svc, store := newTestService(t)
	addRule(t, store, domain.Rule{
		Name: "cash back", Type: domain.RuleRedeemDiscount, RedemptionValue: 0.01, Active: true,
	})

	if _, _, err := svc.Award(context.Background(), "cust-1", "order-1", 10, ""); err != nil {
		t.Fatalf("award: %v", err)
	}
	if _, _, _, err := svc.Redeem(context.Background(), "cust-1", 10, "order-2"); err != nil {
		t.Fatalf("redeem: %v", err)
	}

	// The earned points are already spent; reversing the order absorbs the
	// shortfall instead of going negative.
	if err := svc.Reverse(context.Background(), "cust-1", "order-1"); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	bal, err := svc.GetBalance(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.TotalPoints != 0 {
		t.Fatalf("balance = %d, want 0", bal.TotalPoints)
	}
	if bal.LifetimeEarned != 10 || bal.LifetimeRedeemed != 10 {
		t.Fatalf("lifetime counters changed by reversal: %+v", bal)
	}

	history, err := svc.GetTransactions(context.Background(), "cust-1", 1, 0)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("no adjustment recorded")
	}
	adj := history[0]
	if adj.Type != domain.TransactionAdjustment || adj.Points != -10 || adj.BalanceAfter != 0 {
		t.Fatalf("unexpected adjustment: %+v", adj)
	}
}

func TestReverseRestoresUnspentPoints(t *testing.T) {
	svc, _ := newTestService(t)

	if _, _, err := svc.Award(context.Background(), "cust-1", "order-1", 10, ""); err != nil {
		t.Fatalf("award: %v", err)
	}
	if _, _, err := svc.Award(context.Background(), "cust-1", "order-2", 5, ""); err != nil {
		t.Fatalf("award: %v", err)
	}

	if err := svc.Reverse(context.Background(), "cust-1", "order-1"); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	bal, err := svc.GetBalance(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.TotalPoints != 5 {
		t.Fatalf("balance = %d, want 5", bal.TotalPoints)
	}
}

func TestReverseWithoutEarnIsNoOp(t *testing.T) {
	svc, _ := newTestService(t)

	if err := svc.Reverse(context.Background(), "cust-1", "order-missing"); err != nil {
		t.Fatalf("reverse should be a no-op, got %v", err)
	}

	history, err := svc.GetTransactions(context.Background(), "cust-1", 10, 0)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("no-op reversal wrote %d transactions", len(history))
	}
}

func TestGetBalanceUnknownCustomer(t *testing.T) {
	svc, _ := newTestService(t)

	bal, err := svc.GetBalance(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if bal.TotalPoints != 0 || bal.Tier != domain.TierBronze {
		t.Fatalf("unexpected default balance: %+v", bal)
	}
}

func TestConcurrentAwardsSumExactly(t *testing.T) {
	svc, _ := newTestService(t)

	const (
		workers = 8
		perW    = 25
		points  = 3
	)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				orderID := fmt.Sprintf("order-%d-%d", w, i)
				if _, _, err := svc.Award(context.Background(), "cust-1", orderID, points, ""); err != nil {
					t.Errorf("award: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	bal, err := svc.GetBalance(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if want := int64(workers * perW * points); bal.TotalPoints != want {
		t.Fatalf("balance = %d, want %d", bal.TotalPoints, want)
	}

	newest, err := svc.GetTransactions(context.Background(), "cust-1", 1, 0)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}
	if len(newest) != 1 || newest[0].BalanceAfter != bal.TotalPoints {
		t.Fatalf("newest balance_after %d does not match balance %d", newest[0].BalanceAfter, bal.TotalPoints)
	}
}

func TestBalanceMatchesTransactionSum(t *testing.T) {
	svc, store := newTestService(t)
	addRule(t, store, domain.Rule{
		Name: "cash back", Type: domain.RuleRedeemDiscount, RedemptionValue: 0.01, Active: true,
	})

	if _, _, err := svc.Award(context.Background(), "cust-1", "order-1", 40, ""); err != nil {
		t.Fatalf("award: %v", err)
	}
	if _, _, err := svc.Award(context.Background(), "cust-1", "order-2", 60, ""); err != nil {
		t.Fatalf("award: %v", err)
	}
	if _, _, _, err := svc.Redeem(context.Background(), "cust-1", 30, "order-3"); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if err := svc.Reverse(context.Background(), "cust-1", "order-1"); err != nil {
		t.Fatalf("reverse: %v", err)
	}

	bal, err := svc.GetBalance(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	history, err := svc.GetTransactions(context.Background(), "cust-1", 100, 0)
	if err != nil {
		t.Fatalf("get transactions: %v", err)
	}

	var sum int64
	for _, tx := range history {
		sum += tx.Points
	}
	if sum != bal.TotalPoints {
		t.Fatalf("transaction sum %d != balance %d", sum, bal.TotalPoints)
	}
	if history[0].BalanceAfter != bal.TotalPoints {
		t.Fatalf("newest balance_after %d != balance %d", history[0].BalanceAfter, bal.TotalPoints)
	}
}

func TestCalculatePointsRespectsDateWindow(t *testing.T) {
	svc, store := newTestService(t)
	now := time.Now().UTC()
	addRule(t, store, domain.Rule{
		Name: "past promo", Type: domain.RuleEarnFixed, FixedPoints: 50,
		Active: true, StartDate: now.Add(-48 * time.Hour), EndDate: now.Add(-24 * time.Hour),
	})
	addRule(t, store, domain.Rule{
		Name: "current promo", Type: domain.RuleEarnFixed, FixedPoints: 5,
		Active: true, StartDate: now.Add(-time.Hour), EndDate: now.Add(time.Hour),
	})

	points, err := svc.CalculatePoints(context.Background(), "cust-1", "loc-1", 10)
	if err != nil {
		t.Fatalf("calculate points: %v", err)
	}
	if points != 5 {
		t.Fatalf("points = %d, want 5 from the current promo only", points)
	}
}
