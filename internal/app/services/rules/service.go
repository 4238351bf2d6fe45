// Package rules implements administration of loyalty rules. The engine only
// reads rules; all writes go through this service.
package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/tableside/platform/internal/app/domain/loyalty"
	"github.com/tableside/platform/internal/app/storage"
	"github.com/tableside/platform/pkg/logger"
)

// Service validates and persists rule changes.
type Service struct {
	store storage.RuleStore
	log   *logger.Logger
}

// New constructs a rule administration service.
func New(store storage.RuleStore, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("rules")
	}
	return &Service{store: store, log: log}
}

// Create validates and stores a new rule.
func (s *Service) Create(ctx context.Context, rule loyalty.Rule) (loyalty.Rule, error) {
	rule.Name = strings.TrimSpace(rule.Name)
	rule.LocationID = strings.TrimSpace(rule.LocationID)

	if err := validate(rule); err != nil {
		return loyalty.Rule{}, err
	}

	created, err := s.store.CreateRule(ctx, rule)
	if err != nil {
		return loyalty.Rule{}, err
	}
	s.log.WithField("rule_id", created.ID).
		WithField("rule_type", string(created.Type)).
		Info("loyalty rule created")
	return created, nil
}

// Update replaces the mutable fields of a rule.
func (s *Service) Update(ctx context.Context, rule loyalty.Rule) (loyalty.Rule, error) {
	rule.Name = strings.TrimSpace(rule.Name)
	rule.LocationID = strings.TrimSpace(rule.LocationID)

	if strings.TrimSpace(rule.ID) == "" {
		return loyalty.Rule{}, fmt.Errorf("rule id is required")
	}
	if err := validate(rule); err != nil {
		return loyalty.Rule{}, err
	}

	updated, err := s.store.UpdateRule(ctx, rule)
	if err != nil {
		return loyalty.Rule{}, err
	}
	s.log.WithField("rule_id", updated.ID).Info("loyalty rule updated")
	return updated, nil
}

// SetActive toggles a rule's active flag.
func (s *Service) SetActive(ctx context.Context, id string, active bool) (loyalty.Rule, error) {
	rule, err := s.store.GetRule(ctx, id)
	if err != nil {
		return loyalty.Rule{}, err
	}
	if rule.Active == active {
		return rule, nil
	}

	rule.Active = active
	rule, err = s.store.UpdateRule(ctx, rule)
	if err != nil {
		return loyalty.Rule{}, err
	}
	s.log.WithField("rule_id", rule.ID).
		WithField("active", active).
		Info("loyalty rule state changed")
	return rule, nil
}

// Get retrieves a single rule.
func (s *Service) Get(ctx context.Context, id string) (loyalty.Rule, error) {
	return s.store.GetRule(ctx, id)
}

// List returns rules, optionally narrowed to one location plus global rules.
func (s *Service) List(ctx context.Context, locationID string) ([]loyalty.Rule, error) {
	return s.store.ListRules(ctx, strings.TrimSpace(locationID))
}

func validate(rule loyalty.Rule) error {
	if rule.Name == "" {
		return fmt.Errorf("name is required")
	}

	switch rule.Type {
	case loyalty.RuleEarnPercentage:
		if rule.PointsPerDollar <= 0 {
			return fmt.Errorf("points_per_dollar must be positive")
		}
	case loyalty.RuleEarnFixed:
		if rule.FixedPoints <= 0 {
			return fmt.Errorf("fixed_points must be positive")
		}
	case loyalty.RuleRedeemDiscount, loyalty.RuleRedeemItem:
		if rule.RedemptionValue <= 0 {
			return fmt.Errorf("redemption_value must be positive")
		}
	default:
		return fmt.Errorf("unknown rule_type %q", rule.Type)
	}

	if rule.MinPurchaseAmount < 0 {
		return fmt.Errorf("min_purchase_amount cannot be negative")
	}
	if !rule.StartDate.IsZero() && !rule.EndDate.IsZero() && rule.EndDate.Before(rule.StartDate) {
		return fmt.Errorf("end_date precedes start_date")
	}
	return nil
}
