package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tableside/platform/internal/app/domain/loyalty"
	"github.com/tableside/platform/internal/app/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.RuleStore = (*Store)(nil)
var _ storage.LedgerStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// --- RuleStore --------------------------------------------------------------

const ruleColumns = `id, name, rule_type, location_id, points_per_dollar, fixed_points,
		min_purchase_amount, redemption_value, display_order, start_date, end_date,
		active, created_at, updated_at`

func (s *Store) CreateRule(ctx context.Context, rule loyalty.Rule) (loyalty.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO loyalty_rules (id, name, rule_type, location_id, points_per_dollar, fixed_points,
			min_purchase_amount, redemption_value, display_order, start_date, end_date,
			active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, rule.ID, rule.Name, string(rule.Type), rule.LocationID, rule.PointsPerDollar, rule.FixedPoints,
		rule.MinPurchaseAmount, rule.RedemptionValue, rule.DisplayOrder,
		toNullTime(rule.StartDate), toNullTime(rule.EndDate),
		rule.Active, rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return loyalty.Rule{}, err
	}
	return rule, nil
}

func (s *Store) UpdateRule(ctx context.Context, rule loyalty.Rule) (loyalty.Rule, error) {
	existing, err := s.GetRule(ctx, rule.ID)
	if err != nil {
		return loyalty.Rule{}, err
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now().UTC()

	result, err := s.db.ExecContext(ctx, `
		UPDATE loyalty_rules
		SET name = $2, rule_type = $3, location_id = $4, points_per_dollar = $5, fixed_points = $6,
			min_purchase_amount = $7, redemption_value = $8, display_order = $9,
			start_date = $10, end_date = $11, active = $12, updated_at = $13
		WHERE id = $1
	`, rule.ID, rule.Name, string(rule.Type), rule.LocationID, rule.PointsPerDollar, rule.FixedPoints,
		rule.MinPurchaseAmount, rule.RedemptionValue, rule.DisplayOrder,
		toNullTime(rule.StartDate), toNullTime(rule.EndDate), rule.Active, rule.UpdatedAt)
	if err != nil {
		return loyalty.Rule{}, err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return loyalty.Rule{}, storage.ErrRuleNotFound
	}
	return rule, nil
}

func (s *Store) GetRule(ctx context.Context, id string) (loyalty.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM loyalty_rules
		WHERE id = $1
	`, id)

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.Rule{}, storage.ErrRuleNotFound
	}
	return rule, err
}

func (s *Store) ListRules(ctx context.Context, locationID string) ([]loyalty.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM loyalty_rules
		WHERE $1 = '' OR location_id = '' OR location_id = $1
		ORDER BY display_order, created_at
	`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRules(rows)
}

func (s *Store) ListActiveEarnRules(ctx context.Context, locationID string, at time.Time) ([]loyalty.Rule, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ruleColumns+`
		FROM loyalty_rules
		WHERE rule_type IN ('earn_percentage', 'earn_fixed')
		  AND active
		  AND (location_id = '' OR location_id = $1)
		  AND (start_date IS NULL OR start_date <= $2)
		  AND (end_date IS NULL OR end_date >= $2)
		ORDER BY display_order, created_at
	`, locationID, at.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectRules(rows)
}

func (s *Store) ActiveRedemptionRule(ctx context.Context, at time.Time) (loyalty.Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+ruleColumns+`
		FROM loyalty_rules
		WHERE rule_type = 'redeem_discount'
		  AND active
		  AND (start_date IS NULL OR start_date <= $1)
		  AND (end_date IS NULL OR end_date >= $1)
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, at.UTC())

	rule, err := scanRule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.Rule{}, storage.ErrNoRedemptionRule
	}
	return rule, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (loyalty.Rule, error) {
	var (
		rule      loyalty.Rule
		ruleType  string
		startDate sql.NullTime
		endDate   sql.NullTime
	)
	err := row.Scan(&rule.ID, &rule.Name, &ruleType, &rule.LocationID, &rule.PointsPerDollar,
		&rule.FixedPoints, &rule.MinPurchaseAmount, &rule.RedemptionValue, &rule.DisplayOrder,
		&startDate, &endDate, &rule.Active, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return loyalty.Rule{}, err
	}
	rule.Type = loyalty.RuleType(ruleType)
	if startDate.Valid {
		rule.StartDate = startDate.Time.UTC()
	}
	if endDate.Valid {
		rule.EndDate = endDate.Time.UTC()
	}
	return rule, nil
}

func collectRules(rows *sql.Rows) ([]loyalty.Rule, error) {
	var result []loyalty.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, rule)
	}
	return result, rows.Err()
}

// --- LedgerStore ------------------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, customerID string) (loyalty.Balance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT customer_id, total_points, lifetime_earned, lifetime_redeemed, tier, created_at, updated_at
		FROM customer_loyalty_balances
		WHERE customer_id = $1
	`, customerID)

	bal, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.ZeroBalance(customerID), nil
	}
	return bal, err
}

func (s *Store) ListTransactions(ctx context.Context, customerID string, limit, offset int) ([]loyalty.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, customer_id, order_id, tx_type, points, balance_after, description, created_at
		FROM loyalty_transactions
		WHERE customer_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, customerID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []loyalty.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, tx)
	}
	return result, rows.Err()
}

func (s *Store) FindEarnTransaction(ctx context.Context, customerID, orderID string) (loyalty.Transaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, customer_id, order_id, tx_type, points, balance_after, description, created_at
		FROM loyalty_transactions
		WHERE customer_id = $1 AND order_id = $2 AND tx_type = 'earn'
		ORDER BY created_at
		LIMIT 1
	`, customerID, orderID)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return loyalty.Transaction{}, storage.ErrNoEarnTransaction
	}
	return tx, err
}

func (s *Store) ListInactiveBalances(ctx context.Context, cutoff time.Time, limit int) ([]loyalty.Balance, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT b.customer_id, b.total_points, b.lifetime_earned, b.lifetime_redeemed, b.tier, b.created_at, b.updated_at
		FROM customer_loyalty_balances b
		WHERE b.total_points > 0
		  AND (SELECT MAX(t.created_at) FROM loyalty_transactions t WHERE t.customer_id = b.customer_id) < $1
		ORDER BY b.customer_id
		LIMIT $2
	`, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []loyalty.Balance
	for rows.Next() {
		bal, err := scanBalance(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, bal)
	}
	return result, rows.Err()
}

// Mutate serializes same-customer mutations through a row lock on the balance
// row and persists the ledger entry and updated balance in one transaction.
// Mutator errors roll back and are returned unwrapped so callers can match
// sentinel values.
func (s *Store) Mutate(ctx context.Context, customerID string, fn storage.BalanceMutator) (loyalty.Transaction, loyalty.Balance, error) {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return loyalty.Transaction{}, loyalty.Balance{}, fmt.Errorf("begin mutation: %w", err)
	}
	defer func() { _ = dbTx.Rollback() }()

	now := time.Now().UTC()

	// First-time customers have no row to lock, so seed a zero balance before
	// locking; concurrent first mutations then queue on the row instead of
	// both reading the zero default. A mutator error rolls the seed back too.
	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO customer_loyalty_balances (customer_id, total_points, lifetime_earned, lifetime_redeemed, tier, created_at, updated_at)
		VALUES ($1, 0, 0, 0, $2, $3, $3)
		ON CONFLICT (customer_id) DO NOTHING
	`, customerID, string(loyalty.TierBronze), now)
	if err != nil {
		return loyalty.Transaction{}, loyalty.Balance{}, err
	}

	row := dbTx.QueryRowContext(ctx, `
		SELECT customer_id, total_points, lifetime_earned, lifetime_redeemed, tier, created_at, updated_at
		FROM customer_loyalty_balances
		WHERE customer_id = $1
		FOR UPDATE
	`, customerID)

	current, err := scanBalance(row)
	if errors.Is(err, sql.ErrNoRows) {
		current = loyalty.ZeroBalance(customerID)
		current.CreatedAt = now
	} else if err != nil {
		return loyalty.Transaction{}, loyalty.Balance{}, err
	}

	entry, updated, err := fn(current)
	if err != nil {
		return loyalty.Transaction{}, loyalty.Balance{}, err
	}

	entry.ID = uuid.NewString()
	entry.CustomerID = customerID
	entry.CreatedAt = now

	updated.CustomerID = customerID
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = now

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO loyalty_transactions (id, customer_id, order_id, tx_type, points, balance_after, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.CustomerID, entry.OrderID, string(entry.Type), entry.Points, entry.BalanceAfter, entry.Description, entry.CreatedAt)
	if err != nil {
		return loyalty.Transaction{}, loyalty.Balance{}, err
	}

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO customer_loyalty_balances (customer_id, total_points, lifetime_earned, lifetime_redeemed, tier, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (customer_id) DO UPDATE
		SET total_points = EXCLUDED.total_points,
			lifetime_earned = EXCLUDED.lifetime_earned,
			lifetime_redeemed = EXCLUDED.lifetime_redeemed,
			tier = EXCLUDED.tier,
			updated_at = EXCLUDED.updated_at
	`, updated.CustomerID, updated.TotalPoints, updated.LifetimeEarned, updated.LifetimeRedeemed,
		string(updated.Tier), updated.CreatedAt, updated.UpdatedAt)
	if err != nil {
		return loyalty.Transaction{}, loyalty.Balance{}, err
	}

	if err := dbTx.Commit(); err != nil {
		return loyalty.Transaction{}, loyalty.Balance{}, fmt.Errorf("commit mutation: %w", err)
	}
	return entry, updated, nil
}

func scanBalance(row rowScanner) (loyalty.Balance, error) {
	var (
		bal  loyalty.Balance
		tier string
	)
	err := row.Scan(&bal.CustomerID, &bal.TotalPoints, &bal.LifetimeEarned, &bal.LifetimeRedeemed,
		&tier, &bal.CreatedAt, &bal.UpdatedAt)
	if err != nil {
		return loyalty.Balance{}, err
	}
	bal.Tier = loyalty.Tier(tier)
	return bal, nil
}

func scanTransaction(row rowScanner) (loyalty.Transaction, error) {
	var (
		tx     loyalty.Transaction
		txType string
	)
	err := row.Scan(&tx.ID, &tx.CustomerID, &tx.OrderID, &txType, &tx.Points, &tx.BalanceAfter,
		&tx.Description, &tx.CreatedAt)
	if err != nil {
		return loyalty.Transaction{}, err
	}
	tx.Type = loyalty.TransactionType(txType)
	return tx, nil
}

func toNullTime(t time.Time) sql.NullTime {
	if t.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
