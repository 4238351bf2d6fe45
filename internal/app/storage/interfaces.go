// Package storage defines the persistence contracts for the loyalty platform.
// Implementations live in the memory and postgres subpackages.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/tableside/platform/internal/app/domain/loyalty"
)

// Sentinel errors shared by all store implementations.
var (
	// ErrRuleNotFound is returned when a rule id does not exist.
	ErrRuleNotFound = errors.New("loyalty rule not found")
	// ErrNoRedemptionRule is returned when no active redeem_discount rule exists.
	ErrNoRedemptionRule = errors.New("no active redemption rule")
	// ErrNoEarnTransaction is returned when an order has no earn entry to reverse.
	ErrNoEarnTransaction = errors.New("no earn transaction for order")
)

// RuleStore persists loyalty rules. Writes come from the administration
// surface only; the engine reads active rules.
type RuleStore interface {
	CreateRule(ctx context.Context, rule loyalty.Rule) (loyalty.Rule, error)
	UpdateRule(ctx context.Context, rule loyalty.Rule) (loyalty.Rule, error)
	GetRule(ctx context.Context, id string) (loyalty.Rule, error)
	ListRules(ctx context.Context, locationID string) ([]loyalty.Rule, error)

	// ListActiveEarnRules returns active earning rules applying to the
	// location (global rules included) at the given instant, ordered by
	// display order.
	ListActiveEarnRules(ctx context.Context, locationID string, at time.Time) ([]loyalty.Rule, error)

	// ActiveRedemptionRule returns the most recently created active
	// redeem_discount rule, ties broken by highest id. The lookup is global;
	// redemption rules are not location-scoped.
	ActiveRedemptionRule(ctx context.Context, at time.Time) (loyalty.Rule, error)
}

// BalanceMutator computes a ledger entry from the current balance. It runs
// inside the store's per-customer critical section and must not block or
// perform I/O. Returning an error aborts the mutation with no effect.
//
// The returned transaction needs Type, Points, BalanceAfter, OrderID and
// Description populated; the store assigns ID, CustomerID and CreatedAt. The
// returned balance fully replaces the stored row (CustomerID and CreatedAt
// are preserved by the store).
type BalanceMutator func(current loyalty.Balance) (loyalty.Transaction, loyalty.Balance, error)

// LedgerStore persists customer balances and the append-only transaction
// history. Mutate is the only write path: the store serializes mutations per
// customer and persists the transaction and balance as one atomic unit, so
// two concurrent mutators never observe the same current balance. Mutations
// on different customers do not block each other.
type LedgerStore interface {
	// GetBalance returns the customer's balance, or the zero default when no
	// row exists. It never fails for an unknown customer.
	GetBalance(ctx context.Context, customerID string) (loyalty.Balance, error)

	// ListTransactions returns the customer's history newest first.
	ListTransactions(ctx context.Context, customerID string, limit, offset int) ([]loyalty.Transaction, error)

	// FindEarnTransaction returns the earn entry recorded for the order, or
	// ErrNoEarnTransaction.
	FindEarnTransaction(ctx context.Context, customerID, orderID string) (loyalty.Transaction, error)

	// ListInactiveBalances returns balances with spendable points whose most
	// recent transaction is older than the cutoff.
	ListInactiveBalances(ctx context.Context, cutoff time.Time, limit int) ([]loyalty.Balance, error)

	// Mutate applies fn to the current balance under the customer's lock and
	// persists the result. Either both the transaction and the balance are
	// persisted, or neither is.
	Mutate(ctx context.Context, customerID string, fn BalanceMutator) (loyalty.Transaction, loyalty.Balance, error)
}
