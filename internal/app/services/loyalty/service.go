// Package loyalty implements the points engine: rule-based point calculation
// and the award, redeem and reverse ledger operations.
package loyalty

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tableside/platform/internal/app/cache"
	"github.com/tableside/platform/internal/app/domain/loyalty"
	"github.com/tableside/platform/internal/app/metrics"
	"github.com/tableside/platform/internal/app/storage"
	"github.com/tableside/platform/pkg/logger"
)

var (
	// ErrInsufficientPoints is returned when a redemption exceeds the
	// customer's spendable balance.
	ErrInsufficientPoints = errors.New("insufficient points")
	// ErrNoActiveRedemptionRule is returned when redemption is attempted with
	// no active redeem_discount rule configured.
	ErrNoActiveRedemptionRule = errors.New("no active redemption rule")
)

// Service composes the points calculator with the ledger. All balance state
// lives in the stores; the service owns no state of its own.
type Service struct {
	rules    storage.RuleStore
	ledger   storage.LedgerStore
	balances *cache.Balances
	log      *logger.Logger
	now      func() time.Time
}

// New constructs the engine. The balance cache may be nil.
func New(rules storage.RuleStore, ledger storage.LedgerStore, balances *cache.Balances, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("loyalty")
	}
	return &Service{
		rules:    rules,
		ledger:   ledger,
		balances: balances,
		log:      log,
		now:      time.Now,
	}
}

// CalculatePoints computes the points an order earns. Qualifying active rules
// accumulate additively in display order, each contribution floored for
// percentage rules; the sum is then floored again after the customer's tier
// multiplier. Returns 0 when no rule applies. A zero subtotal still earns
// fixed points from rules with no purchase minimum.
func (s *Service) CalculatePoints(ctx context.Context, customerID, locationID string, subtotal float64) (int64, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return 0, fmt.Errorf("customer_id is required")
	}
	if subtotal < 0 {
		return 0, nil
	}

	rules, err := s.rules.ListActiveEarnRules(ctx, locationID, s.now())
	if err != nil {
		return 0, fmt.Errorf("rule lookup failed: %w", err)
	}

	var base int64
	for _, rule := range rules {
		if subtotal < rule.MinPurchaseAmount {
			continue
		}
		switch rule.Type {
		case loyalty.RuleEarnPercentage:
			base += int64(math.Floor(subtotal * rule.PointsPerDollar))
		case loyalty.RuleEarnFixed:
			base += rule.FixedPoints
		}
	}
	if base == 0 {
		return 0, nil
	}

	bal, err := s.GetBalance(ctx, customerID)
	if err != nil {
		return 0, err
	}
	return int64(math.Floor(float64(base) * bal.Tier.Multiplier())), nil
}

// Award credits points earned by an order. The balance read, the earn entry
// and the balance update apply as one atomic unit; the tier is re-evaluated
// against the new lifetime total inside that unit.
func (s *Service) Award(ctx context.Context, customerID, orderID string, points int64, description string) (loyalty.Transaction, loyalty.Balance, error) {
	customerID = strings.TrimSpace(customerID)
	orderID = strings.TrimSpace(orderID)
	if customerID == "" {
		return loyalty.Transaction{}, loyalty.Balance{}, fmt.Errorf("customer_id is required")
	}
	if orderID == "" {
		return loyalty.Transaction{}, loyalty.Balance{}, fmt.Errorf("order_id is required")
	}
	if points <= 0 {
		return loyalty.Transaction{}, loyalty.Balance{}, fmt.Errorf("points must be positive")
	}
	if description == "" {
		description = fmt.Sprintf("Points earned for order %s", orderID)
	}

	var previousTier loyalty.Tier
	entry, updated, err := s.ledger.Mutate(ctx, customerID, func(current loyalty.Balance) (loyalty.Transaction, loyalty.Balance, error) {
		previousTier = current.Tier
		current.TotalPoints += points
		current.LifetimeEarned += points
		current.Tier = loyalty.TierFor(current.LifetimeEarned)
		return loyalty.Transaction{
			Type:         loyalty.TransactionEarn,
			OrderID:      orderID,
			Points:       points,
			BalanceAfter: current.TotalPoints,
			Description:  description,
		}, current, nil
	})
	if err != nil {
		return loyalty.Transaction{}, loyalty.Balance{}, err
	}

	s.balances.Invalidate(ctx, customerID)
	metrics.RecordLedgerEntry(string(loyalty.TransactionEarn), points)
	if updated.Tier != previousTier {
		metrics.RecordTierUpgrade(string(updated.Tier))
		s.log.WithField("customer_id", customerID).
			WithField("tier", string(updated.Tier)).
			Info("customer tier changed")
	}
	s.log.WithField("customer_id", customerID).
		WithField("order_id", orderID).
		WithField("points", points).
		Info("points awarded")
	return entry, updated, nil
}

// Redeem converts points into an order discount. The balance check runs
// inside the same atomic unit as the write, so a concurrent award or redeem
// can never make the check stale.
func (s *Service) Redeem(ctx context.Context, customerID string, points int64, orderID string) (float64, loyalty.Transaction, loyalty.Balance, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return 0, loyalty.Transaction{}, loyalty.Balance{}, fmt.Errorf("customer_id is required")
	}
	if points <= 0 {
		return 0, loyalty.Transaction{}, loyalty.Balance{}, fmt.Errorf("points must be positive")
	}

	rule, err := s.rules.ActiveRedemptionRule(ctx, s.now())
	if err != nil {
		if errors.Is(err, storage.ErrNoRedemptionRule) {
			return 0, loyalty.Transaction{}, loyalty.Balance{}, ErrNoActiveRedemptionRule
		}
		return 0, loyalty.Transaction{}, loyalty.Balance{}, fmt.Errorf("rule lookup failed: %w", err)
	}
	discount := float64(points) * rule.RedemptionValue

	entry, updated, err := s.ledger.Mutate(ctx, customerID, func(current loyalty.Balance) (loyalty.Transaction, loyalty.Balance, error) {
		if points > current.TotalPoints {
			return loyalty.Transaction{}, loyalty.Balance{}, ErrInsufficientPoints
		}
		current.TotalPoints -= points
		current.LifetimeRedeemed += points
		return loyalty.Transaction{
			Type:         loyalty.TransactionRedeem,
			OrderID:      orderID,
			Points:       -points,
			BalanceAfter: current.TotalPoints,
			Description:  fmt.Sprintf("Redeemed %d points for order %s", points, orderID),
		}, current, nil
	})
	if err != nil {
		return 0, loyalty.Transaction{}, loyalty.Balance{}, err
	}

	s.balances.Invalidate(ctx, customerID)
	metrics.RecordLedgerEntry(string(loyalty.TransactionRedeem), points)
	s.log.WithField("customer_id", customerID).
		WithField("order_id", orderID).
		WithField("points", points).
		WithField("discount", discount).
		Info("points redeemed")
	return discount, entry, updated, nil
}

// Reverse removes the points earned by a refunded order. A missing earn
// entry is a recorded no-op, not an error. The new balance is clamped at
// zero: points the customer has already spent are absorbed, and lifetime
// counters are left untouched so tier progression reflects historical volume.
func (s *Service) Reverse(ctx context.Context, customerID, orderID string) error {
	customerID = strings.TrimSpace(customerID)
	orderID = strings.TrimSpace(orderID)
	if customerID == "" {
		return fmt.Errorf("customer_id is required")
	}
	if orderID == "" {
		return fmt.Errorf("order_id is required")
	}

	// Earn entries are immutable, so the lookup does not need to run inside
	// the mutation's critical section.
	earned, err := s.ledger.FindEarnTransaction(ctx, customerID, orderID)
	if err != nil {
		if errors.Is(err, storage.ErrNoEarnTransaction) {
			s.log.WithField("customer_id", customerID).
				WithField("order_id", orderID).
				Info("no earn transaction to reverse")
			return nil
		}
		return err
	}

	_, _, err = s.ledger.Mutate(ctx, customerID, func(current loyalty.Balance) (loyalty.Transaction, loyalty.Balance, error) {
		newTotal := current.TotalPoints - earned.Points
		if newTotal < 0 {
			newTotal = 0
		}
		current.TotalPoints = newTotal
		return loyalty.Transaction{
			Type:         loyalty.TransactionAdjustment,
			OrderID:      orderID,
			Points:       -earned.Points,
			BalanceAfter: newTotal,
			Description:  fmt.Sprintf("Reversal of points for refunded order %s", orderID),
		}, current, nil
	})
	if err != nil {
		return err
	}

	s.balances.Invalidate(ctx, customerID)
	metrics.RecordLedgerEntry(string(loyalty.TransactionAdjustment), earned.Points)
	s.log.WithField("customer_id", customerID).
		WithField("order_id", orderID).
		WithField("points", earned.Points).
		Info("points reversed")
	return nil
}

// GetBalance returns the customer's balance, serving from the cache when one
// is configured. Unknown customers get the zero default at bronze.
func (s *Service) GetBalance(ctx context.Context, customerID string) (loyalty.Balance, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return loyalty.Balance{}, fmt.Errorf("customer_id is required")
	}

	if bal, ok := s.balances.Get(ctx, customerID); ok {
		return bal, nil
	}
	bal, err := s.ledger.GetBalance(ctx, customerID)
	if err != nil {
		return loyalty.Balance{}, err
	}
	s.balances.Set(ctx, bal)
	return bal, nil
}

// GetTransactions returns the customer's history newest first.
func (s *Service) GetTransactions(ctx context.Context, customerID string, limit, offset int) ([]loyalty.Transaction, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, fmt.Errorf("customer_id is required")
	}
	return s.ledger.ListTransactions(ctx, customerID, limit, offset)
}
