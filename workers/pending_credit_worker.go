package workers

import (
	"context"
	"log/slog"
	"time"
)

// PendingCreditRetrier finishes claims whose XP credit has not landed yet.
type PendingCreditRetrier interface {
	RetryPendingCredits(ctx context.Context, limit int) (int, error)
}

const (
	pendingCreditBatch     = 100
	defaultPendingInterval = 30 * time.Second
)

// PollPendingCredits sweeps claimed-but-uncredited challenge rewards every interval until ctx ends.
func PollPendingCredits(ctx context.Context, retrier PendingCreditRetrier, interval time.Duration, log *slog.Logger) {
	if interval <= 0 {
		interval = defaultPendingInterval
	}
	log = log.With("component", "pending_credit_worker")
	log.Info("starting pending credit sweeper", "interval", interval.String())

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("pending credit sweeper stopped")
			return
		case <-ticker.C:
			sweepPendingCredits(ctx, retrier, log)
		}
	}
}

func sweepPendingCredits(ctx context.Context, retrier PendingCreditRetrier, log *slog.Logger) int {
	n, err := retrier.RetryPendingCredits(ctx, pendingCreditBatch)
	if err != nil {
		log.Error("pending credit sweep failed", "error", err)
		return 0
	}
	if n > 0 {
		log.Info("pending credits applied", "count", n)
	}
	return n
}
