package memory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tableside/platform/internal/app/domain/loyalty"
)

func TestListTransactionsPagination(t *testing.T) {
	store := New()
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		_, _, err := store.Mutate(ctx, "cust-1", func(current loyalty.Balance) (loyalty.Transaction, loyalty.Balance, error) {
			current.TotalPoints += 1
			current.LifetimeEarned += 1
			return loyalty.Transaction{
				Type:         loyalty.TransactionEarn,
				OrderID:      fmt.Sprintf("order-%d", i),
				Points:       1,
				BalanceAfter: current.TotalPoints,
			}, current, nil
		})
		require.NoError(t, err)
	}

	first, err := store.ListTransactions(ctx, "cust-1", 3, 0)
	require.NoError(t, err)
	require.Len(t, first, 3)
	assert.Equal(t, "order-6", first[0].OrderID)
	assert.Equal(t, "order-4", first[2].OrderID)

	second, err := store.ListTransactions(ctx, "cust-1", 3, 3)
	require.NoError(t, err)
	require.Len(t, second, 3)
	assert.Equal(t, "order-3", second[0].OrderID)

	last, err := store.ListTransactions(ctx, "cust-1", 3, 6)
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "order-0", last[0].OrderID)

	beyond, err := store.ListTransactions(ctx, "cust-1", 3, 10)
	require.NoError(t, err)
	assert.Empty(t, beyond)

	defaulted, err := store.ListTransactions(ctx, "cust-1", 0, 0)
	require.NoError(t, err)
	assert.Len(t, defaulted, 7, "zero limit falls back to the default page size")

	other, err := store.ListTransactions(ctx, "cust-2", 3, 0)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestListRulesScoping(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.CreateRule(ctx, loyalty.Rule{
		Name: "global", Type: loyalty.RuleEarnPercentage, PointsPerDollar: 0.10,
		DisplayOrder: 2, Active: true,
	})
	require.NoError(t, err)
	_, err = store.CreateRule(ctx, loyalty.Rule{
		Name: "downtown only", Type: loyalty.RuleEarnFixed, FixedPoints: 25,
		LocationID: "loc-downtown", DisplayOrder: 1, Active: true,
	})
	require.NoError(t, err)
	_, err = store.CreateRule(ctx, loyalty.Rule{
		Name: "airport only", Type: loyalty.RuleEarnFixed, FixedPoints: 10,
		LocationID: "loc-airport", DisplayOrder: 3, Active: true,
	})
	require.NoError(t, err)

	all, err := store.ListRules(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	downtown, err := store.ListRules(ctx, "loc-downtown")
	require.NoError(t, err)
	require.Len(t, downtown, 2)
	assert.Equal(t, "downtown only", downtown[0].Name, "rules come back in display order")
	assert.Equal(t, "global", downtown[1].Name)
}
