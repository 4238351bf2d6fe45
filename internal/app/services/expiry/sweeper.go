// Package expiry implements the points expiry sweeper: a background service
// that writes off the spendable balance of customers with no ledger activity
// inside the configured window.
package expiry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tableside/platform/internal/app/domain/loyalty"
	"github.com/tableside/platform/internal/app/metrics"
	"github.com/tableside/platform/internal/app/storage"
	"github.com/tableside/platform/internal/app/system"
	"github.com/tableside/platform/pkg/logger"
)

var _ system.Service = (*Sweeper)(nil)

// errNothingToExpire aborts a mutation whose balance was spent between the
// inactivity listing and the write.
var errNothingToExpire = errors.New("nothing to expire")

const defaultBatchSize = 100

// Sweeper periodically expires stale balances. A zero window disables it;
// expiry is opt-in and off by default.
type Sweeper struct {
	ledger   storage.LedgerStore
	window   time.Duration
	interval time.Duration
	batch    int
	log      *logger.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSweeper creates a lifecycle-managed expiry sweeper.
func NewSweeper(ledger storage.LedgerStore, window, interval time.Duration, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("loyalty-expiry")
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		ledger:   ledger,
		window:   window,
		interval: interval,
		batch:    defaultBatchSize,
		log:      log,
	}
}

func (s *Sweeper) Name() string { return "loyalty-expiry" }

func (s *Sweeper) Start(ctx context.Context) error {
	if s.window <= 0 {
		s.log.Info("points expiry disabled; no inactivity window configured")
		return nil
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.sweep(runCtx)
			}
		}
	}()

	s.log.WithField("window", s.window.String()).Info("points expiry sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.running = false
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("points expiry sweeper stopped")
	return nil
}

func (s *Sweeper) sweep(ctx context.Context) {
	ctx, cancelTimeout := context.WithTimeout(ctx, time.Minute)
	defer cancelTimeout()

	cutoff := time.Now().UTC().Add(-s.window)
	stale, err := s.ledger.ListInactiveBalances(ctx, cutoff, s.batch)
	if err != nil {
		s.log.WithError(err).Warn("expiry sweep listing failed")
		return
	}

	for _, bal := range stale {
		entry, _, err := s.ledger.Mutate(ctx, bal.CustomerID, func(current loyalty.Balance) (loyalty.Transaction, loyalty.Balance, error) {
			if current.TotalPoints <= 0 {
				return loyalty.Transaction{}, loyalty.Balance{}, errNothingToExpire
			}
			expired := current.TotalPoints
			current.TotalPoints = 0
			return loyalty.Transaction{
				Type:         loyalty.TransactionExpire,
				Points:       -expired,
				BalanceAfter: 0,
				Description:  fmt.Sprintf("Points expired after %s of inactivity", s.window),
			}, current, nil
		})
		if err != nil {
			if !errors.Is(err, errNothingToExpire) {
				s.log.WithError(err).
					WithField("customer_id", bal.CustomerID).
					Warn("points expiry failed")
			}
			continue
		}

		metrics.RecordLedgerEntry(string(loyalty.TransactionExpire), entry.Points)
		s.log.WithField("customer_id", bal.CustomerID).
			WithField("points", -entry.Points).
			Info("points expired")
	}
}
