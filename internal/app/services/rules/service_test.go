package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/tableside/platform/internal/app/domain/loyalty"
	"github.com/tableside/platform/internal/app/storage"
	"github.com/tableside/platform/internal/app/storage/memory"
)

func TestCreateValidates(t *testing.T) {
	svc := New(memory.New(), nil)
	ctx := context.Background()

	cases := []struct {
		name string
		rule loyalty.Rule
	}{
		{"missing name", loyalty.Rule{Type: loyalty.RuleEarnFixed, FixedPoints: 10}},
		{"unknown type", loyalty.Rule{Name: "x", Type: "bogus"}},
		{"zero rate", loyalty.Rule{Name: "x", Type: loyalty.RuleEarnPercentage}},
		{"zero fixed", loyalty.Rule{Name: "x", Type: loyalty.RuleEarnFixed}},
		{"zero redemption", loyalty.Rule{Name: "x", Type: loyalty.RuleRedeemDiscount}},
		{"negative minimum", loyalty.Rule{Name: "x", Type: loyalty.RuleEarnFixed, FixedPoints: 10, MinPurchaseAmount: -1}},
	}
	for _, tc := range cases {
		if _, err := svc.Create(ctx, tc.rule); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestCreateAndGet(t *testing.T) {
	svc := New(memory.New(), nil)

	created, err := svc.Create(context.Background(), loyalty.Rule{
		Name: " base earn ", Type: loyalty.RuleEarnPercentage, PointsPerDollar: 0.10, Active: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Name != "base earn" {
		t.Fatalf("name not trimmed: %q", created.Name)
	}

	got, err := svc.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.PointsPerDollar != 0.10 {
		t.Fatalf("unexpected rule: %+v", got)
	}
}

func TestSetActive(t *testing.T) {
	svc := New(memory.New(), nil)

	created, err := svc.Create(context.Background(), loyalty.Rule{
		Name: "promo", Type: loyalty.RuleEarnFixed, FixedPoints: 25, Active: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	deactivated, err := svc.SetActive(context.Background(), created.ID, false)
	if err != nil {
		t.Fatalf("set active: %v", err)
	}
	if deactivated.Active {
		t.Fatalf("rule still active")
	}

	// Toggling to the current state is a no-op.
	again, err := svc.SetActive(context.Background(), created.ID, false)
	if err != nil {
		t.Fatalf("set active: %v", err)
	}
	if again.UpdatedAt != deactivated.UpdatedAt {
		t.Fatalf("no-op toggle rewrote the rule")
	}
}

func TestGetUnknownRule(t *testing.T) {
	svc := New(memory.New(), nil)

	if _, err := svc.Get(context.Background(), "missing"); !errors.Is(err, storage.ErrRuleNotFound) {
		t.Fatalf("err = %v, want ErrRuleNotFound", err)
	}
}
