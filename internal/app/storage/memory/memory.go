// Package memory provides an in-memory implementation of the storage
// interfaces. It is safe for concurrent use and is primarily intended for
// tests and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tableside/platform/internal/app/domain/loyalty"
	"github.com/tableside/platform/internal/app/storage"
)

// Store keeps rules, balances and transactions in maps. Ledger mutations are
// serialized per customer through a dedicated lock map so concurrent Mutate
// calls for the same customer never observe the same current balance, while
// different customers proceed independently.
type Store struct {
	mu           sync.RWMutex
	nextID       int64
	rules        map[string]loyalty.Rule
	balances     map[string]loyalty.Balance
	transactions map[string][]loyalty.Transaction

	lockMu        sync.Mutex
	customerLocks map[string]*sync.Mutex
}

var _ storage.RuleStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		nextID:        1,
		rules:         make(map[string]loyalty.Rule),
		balances:      make(map[string]loyalty.Balance),
		transactions:  make(map[string][]loyalty.Transaction),
		customerLocks: make(map[string]*sync.Mutex),
	}
}

func (s *Store) nextIDLocked() string {
	id := s.nextID
	s.nextID++
	return fmt.Sprintf("%d", id)
}

func (s *Store) customerLock(customerID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()

	lock, ok := s.customerLocks[customerID]
	if !ok {
		lock = &sync.Mutex{}
		s.customerLocks[customerID] = lock
	}
	return lock
}

// RuleStore implementation ----------------------------------------------------

func (s *Store) CreateRule(_ context.Context, rule loyalty.Rule) (loyalty.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = s.nextIDLocked()
	} else if _, exists := s.rules[rule.ID]; exists {
		return loyalty.Rule{}, fmt.Errorf("rule %s already exists", rule.ID)
	}

	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *Store) UpdateRule(_ context.Context, rule loyalty.Rule) (loyalty.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.rules[rule.ID]
	if !ok {
		return loyalty.Rule{}, storage.ErrRuleNotFound
	}

	rule.CreatedAt = original.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	s.rules[rule.ID] = rule
	return rule, nil
}

func (s *Store) GetRule(_ context.Context, id string) (loyalty.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return loyalty.Rule{}, storage.ErrRuleNotFound
	}
	return rule, nil
}

func (s *Store) ListRules(_ context.Context, locationID string) ([]loyalty.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loyalty.Rule, 0)
	for _, rule := range s.rules {
		if locationID == "" || rule.AppliesToLocation(locationID) {
			result = append(result, rule)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayOrder != result[j].DisplayOrder {
			return result[i].DisplayOrder < result[j].DisplayOrder
		}
		return ruleIDLess(result[i].ID, result[j].ID)
	})
	return result, nil
}

func (s *Store) ListActiveEarnRules(_ context.Context, locationID string, at time.Time) ([]loyalty.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]loyalty.Rule, 0)
	for _, rule := range s.rules {
		if !rule.IsEarnRule() || !rule.ActiveAt(at) || !rule.AppliesToLocation(locationID) {
			continue
		}
		result = append(result, rule)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DisplayOrder != result[j].DisplayOrder {
			return result[i].DisplayOrder < result[j].DisplayOrder
		}
		return ruleIDLess(result[i].ID, result[j].ID)
	})
	return result, nil
}

func (s *Store) ActiveRedemptionRule(_ context.Context, at time.Time) (loyalty.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  loyalty.Rule
		found bool
	)
	for _, rule := range s.rules {
		if rule.Type != loyalty.RuleRedeemDiscount || !rule.ActiveAt(at) {
			continue
		}
		if !found || rule.CreatedAt.After(best.CreatedAt) ||
			(rule.CreatedAt.Equal(best.CreatedAt) && ruleIDLess(best.ID, rule.ID)) {
			best = rule
			found = true
		}
	}
	if !found {
		return loyalty.Rule{}, storage.ErrNoRedemptionRule
	}
	return best, nil
}

// ruleIDLess orders generated numeric ids numerically and falls back to
// lexicographic order for externally supplied ids.
func ruleIDLess(a, b string) bool {
	ai, aerr := strconv.ParseInt(a, 10, 64)
	bi, berr := strconv.ParseInt(b, 10, 64)
	if aerr == nil && berr == nil {
		return ai < bi
	}
	return a < b
}

// LedgerStore implementation --------------------------------------------------

func (s *Store) GetBalance(_ context.Context, customerID string) (loyalty.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if bal, ok := s.balances[customerID]; ok {
		return bal, nil
	}
	return loyalty.ZeroBalance(customerID), nil
}

func (s *Store) ListTransactions(_ context.Context, customerID string, limit, offset int) ([]loyalty.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.transactions[customerID]
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	result := make([]loyalty.Transaction, 0, limit)
	// History is stored in append order; walk backwards for newest first.
	for i := len(history) - 1 - offset; i >= 0 && len(result) < limit; i-- {
		result = append(result, history[i])
	}
	return result, nil
}

func (s *Store) FindEarnTransaction(_ context.Context, customerID, orderID string) (loyalty.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, tx := range s.transactions[customerID] {
		if tx.Type == loyalty.TransactionEarn && tx.OrderID == orderID {
			return tx, nil
		}
	}
	return loyalty.Transaction{}, storage.ErrNoEarnTransaction
}

func (s *Store) ListInactiveBalances(_ context.Context, cutoff time.Time, limit int) ([]loyalty.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 100
	}

	result := make([]loyalty.Balance, 0)
	for customerID, bal := range s.balances {
		if bal.TotalPoints <= 0 {
			continue
		}
		history := s.transactions[customerID]
		if len(history) == 0 {
			continue
		}
		if history[len(history)-1].CreatedAt.Before(cutoff) {
			result = append(result, bal)
		}
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (s *Store) Mutate(_ context.Context, customerID string, fn storage.BalanceMutator) (loyalty.Transaction, loyalty.Balance, error) {
	lock := s.customerLock(customerID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	current, ok := s.balances[customerID]
	s.mu.RUnlock()
	if !ok {
		current = loyalty.ZeroBalance(customerID)
	}

	tx, updated, err := fn(current)
	if err != nil {
		return loyalty.Transaction{}, loyalty.Balance{}, err
	}

	now := time.Now().UTC()
	updated.CustomerID = customerID
	if ok {
		updated.CreatedAt = current.CreatedAt
	} else {
		updated.CreatedAt = now
	}
	updated.UpdatedAt = now

	tx.CustomerID = customerID
	tx.CreatedAt = now

	s.mu.Lock()
	tx.ID = s.nextIDLocked()
	s.balances[customerID] = updated
	s.transactions[customerID] = append(s.transactions[customerID], tx)
	s.mu.Unlock()

	return tx, updated, nil
}
