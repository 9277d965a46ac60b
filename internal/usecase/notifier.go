package usecase

import (
	"context"
	"time"

	"github.com/alfanzaky/zkqueue/internal/domain"
)

const defaultPollInterval = 500 * time.Millisecond

// pollingNotifier stands in when Redis is disabled. Wait sleeps for one
// poll interval and always reports a signal, so waiting consumers fall back
// to polling the store.
type pollingNotifier struct {
	interval time.Duration
}

var _ domain.Notifier = pollingNotifier{}

// NewPollingNotifier returns a notifier that never publishes and polls on Wait
func NewPollingNotifier(interval time.Duration) domain.Notifier {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return pollingNotifier{interval: interval}
}

func (pollingNotifier) Notify(context.Context, string) error {
	return nil
}

func (p pollingNotifier) Wait(ctx context.Context, _ string, timeout time.Duration) (bool, error) {
	if timeout <= 0 {
		return false, nil
	}
	sleep := min(timeout, p.interval)

	timer := time.NewTimer(sleep)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return true, nil
	}
}

func notifierOrPolling(n domain.Notifier) domain.Notifier {
	if n == nil {
		return NewPollingNotifier(defaultPollInterval)
	}
	return n
}

func queueStats(queue string, counts map[domain.Status]int64) *domain.QueueStats {
	stats := &domain.QueueStats{Queue: queue, Counts: make(map[domain.Status]int64, 4)}
	for _, status := range []domain.Status{domain.StatusQueued, domain.StatusLeased, domain.StatusCompleted, domain.StatusDiscarded} {
		stats.Counts[status] = counts[status]
	}
	return stats
}
