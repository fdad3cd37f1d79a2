package app

import (
	"context"
	"log/slog"
	"time"

	"musicstream-payments/internal/core/domain"
	"musicstream-payments/internal/core/ports"
	"musicstream-payments/internal/observability"
)

const sweepBatchSize = 100

// ExpirySweeper periodically fails pending transactions whose payment
// window has closed. It races against webhooks through the same
// compare-and-set, so a transaction completed by a late-but-valid callback
// is never overridden.
type ExpirySweeper struct {
	repo     ports.TransactionRepository
	logger   *slog.Logger
	expiry   time.Duration
	interval time.Duration
	now      func() time.Time
}

func NewExpirySweeper(repo ports.TransactionRepository, logger *slog.Logger, expiry, interval time.Duration) *ExpirySweeper {
	return &ExpirySweeper{
		repo:     repo,
		logger:   logger,
		expiry:   expiry,
		interval: interval,
		now:      time.Now,
	}
}

// Run sweeps on a ticker until the context is cancelled.
func (s *ExpirySweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("expiry sweeper started", "interval", s.interval, "window", s.expiry)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("expiry sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many transactions it expired.
// Exposed so the admin surface can trigger a sweep on demand.
func (s *ExpirySweeper) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.expiry)

	ids, err := s.repo.ListExpiredPending(ctx, cutoff, sweepBatchSize)
	if err != nil {
		s.logger.Error("failed to list expired transactions", "error", err)
		return 0
	}

	expired := 0
	for _, id := range ids {
		won, err := s.repo.CompareAndSetStatus(ctx, id, domain.StatusPending, domain.StatusFailed)
		if err != nil {
			s.logger.Error("failed to expire transaction", "transaction_id", id, "error", err)
			continue
		}
		if won {
			expired++
			observability.TransactionsExpired.Inc()
			s.logger.Info("transaction expired", "transaction_id", id)
		}
	}
	return expired
}
