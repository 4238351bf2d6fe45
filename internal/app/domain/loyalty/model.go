// Package loyalty defines the core types of the points ledger: earning and
// redemption rules, per-customer balances and the append-only transaction
// history.
package loyalty

import "time"

// RuleType identifies how a rule participates in the engine.
type RuleType string

const (
	// RuleEarnPercentage grants floor(subtotal * PointsPerDollar) points.
	RuleEarnPercentage RuleType = "earn_percentage"
	// RuleEarnFixed grants FixedPoints per qualifying order.
	RuleEarnFixed RuleType = "earn_fixed"
	// RuleRedeemDiscount converts points to an order discount at
	// RedemptionValue currency units per point.
	RuleRedeemDiscount RuleType = "redeem_discount"
	// RuleRedeemItem reserves points-for-item redemptions. Stored and
	// administered but not interpreted by the engine.
	RuleRedeemItem RuleType = "redeem_item"
)

// TransactionType identifies a ledger entry.
type TransactionType string

const (
	TransactionEarn       TransactionType = "earn"
	TransactionRedeem     TransactionType = "redeem"
	TransactionAdjustment TransactionType = "adjustment"
	TransactionExpire     TransactionType = "expire"
)

// Rule configures earning or redemption behavior. A rule with an empty
// LocationID applies everywhere; zero StartDate/EndDate mean an open-ended
// window on that side.
type Rule struct {
	ID                string
	Name              string
	Type              RuleType
	LocationID        string
	PointsPerDollar   float64
	FixedPoints       int64
	MinPurchaseAmount float64
	RedemptionValue   float64
	DisplayOrder      int
	StartDate         time.Time
	EndDate           time.Time
	Active            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsEarnRule reports whether the rule contributes to point accrual.
func (r Rule) IsEarnRule() bool {
	return r.Type == RuleEarnPercentage || r.Type == RuleEarnFixed
}

// ActiveAt reports whether the rule is enabled and inside its date window at
// the given instant.
func (r Rule) ActiveAt(at time.Time) bool {
	if !r.Active {
		return false
	}
	if !r.StartDate.IsZero() && at.Before(r.StartDate) {
		return false
	}
	if !r.EndDate.IsZero() && at.After(r.EndDate) {
		return false
	}
	return true
}

// AppliesToLocation reports whether the rule covers the location. Global
// rules (empty LocationID) cover every location.
func (r Rule) AppliesToLocation(locationID string) bool {
	return r.LocationID == "" || r.LocationID == locationID
}

// Balance is a customer's current standing. TotalPoints is the spendable
// balance; LifetimeEarned drives tier placement and is never decremented.
type Balance struct {
	CustomerID       string
	TotalPoints      int64
	LifetimeEarned   int64
	LifetimeRedeemed int64
	Tier             Tier
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ZeroBalance is the balance reported for customers with no ledger activity.
func ZeroBalance(customerID string) Balance {
	return Balance{CustomerID: customerID, Tier: TierBronze}
}

// Transaction is one immutable ledger entry. Points is signed: positive for
// earn, negative for redeem and expire; adjustment carries the signed delta
// applied. BalanceAfter snapshots the spendable balance the entry produced.
type Transaction struct {
	ID           string
	CustomerID   string
	OrderID      string
	Type         TransactionType
	Points       int64
	BalanceAfter int64
	Description  string
	CreatedAt    time.Time
}
