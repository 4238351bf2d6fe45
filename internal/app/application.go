package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tableside/platform/internal/app/cache"
	"github.com/tableside/platform/internal/app/services/expiry"
	loyaltysvc "github.com/tableside/platform/internal/app/services/loyalty"
	rulessvc "github.com/tableside/platform/internal/app/services/rules"
	"github.com/tableside/platform/internal/app/storage"
	"github.com/tableside/platform/internal/app/storage/memory"
	"github.com/tableside/platform/internal/app/system"
	"github.com/tableside/platform/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Rules  storage.RuleStore
	Ledger storage.LedgerStore
}

// Options carries optional collaborators and background service settings.
type Options struct {
	// BalanceCache fronts the balance read path; nil disables caching.
	BalanceCache *cache.Balances
	// ExpiryWindow enables the points expiry sweeper when positive.
	ExpiryWindow time.Duration
	// ExpiryInterval is how often the sweeper runs. Defaults to hourly.
	ExpiryInterval time.Duration
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Loyalty *loyaltysvc.Service
	Rules   *rulessvc.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, opts Options, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Rules == nil {
		stores.Rules = mem
	}
	if stores.Ledger == nil {
		stores.Ledger = mem
	}

	manager := system.NewManager()

	loyaltyService := loyaltysvc.New(stores.Rules, stores.Ledger, opts.BalanceCache, log)
	rulesService := rulessvc.New(stores.Rules, log)

	for _, name := range []string{"loyalty", "rules"} {
		if err := manager.Register(system.NoopService{ServiceName: name}); err != nil {
			return nil, fmt.Errorf("register %s service: %w", name, err)
		}
	}

	sweeper := expiry.NewSweeper(stores.Ledger, opts.ExpiryWindow, opts.ExpiryInterval, log)
	if err := manager.Register(sweeper); err != nil {
		return nil, fmt.Errorf("register %s: %w", sweeper.Name(), err)
	}

	return &Application{
		manager: manager,
		log:     log,
		Loyalty: loyaltyService,
		Rules:   rulesService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
