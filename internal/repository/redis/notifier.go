package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/logger"
	"github.com/alfanzaky/zkqueue/pkg/metrics"
)

const (
	SignalKeyPrefix = "zkqueue:signal:"

	// pending signals kept per queue; one is enough to wake a waiter
	maxPendingSignals = 64
)

type notifier struct {
	client *redis.Client
}

var _ domain.Notifier = (*notifier)(nil)

// NewNotifier creates a Redis backed wake-up notifier. Signals only shorten
// polling: the database remains the source of truth for every lease.
func NewNotifier(client *redis.Client) *notifier {
	return &notifier{client: client}
}

func signalKey(queue string) string {
	return SignalKeyPrefix + queue
}

// Notify pushes one wake-up signal for queue
func (n *notifier) Notify(ctx context.Context, queue string) error {
	key := signalKey(queue)

	_, err := n.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, time.Now().UnixMilli())
		pipe.LTrim(ctx, key, 0, maxPendingSignals-1)
		return nil
	})
	if err != nil {
		metrics.RecordRedisOperation("notify", "error")
		logger.Error("Failed to publish queue signal",
			logger.String("queue", queue),
			logger.ErrorField(err),
		)
		return fmt.Errorf("failed to publish queue signal: %w", err)
	}

	metrics.RecordRedisOperation("notify", "success")
	return nil
}

// Wait blocks until a signal for queue arrives or timeout passes. It reports
// whether a signal was consumed.
func (n *notifier) Wait(ctx context.Context, queue string, timeout time.Duration) (bool, error) {
	key := signalKey(queue)

	var err error
	if timeout < time.Second {
		// BRPOP treats zero as "block forever" and has second granularity
		err = n.client.RPop(ctx, key).Err()
	} else {
		err = n.client.BRPop(ctx, timeout, key).Err()
	}

	switch {
	case err == redis.Nil:
		metrics.RecordRedisOperation("wait", "timeout")
		return false, nil
	case err != nil:
		metrics.RecordRedisOperation("wait", "error")
		logger.Error("Failed to wait for queue signal",
			logger.String("queue", queue),
			logger.ErrorField(err),
		)
		return false, fmt.Errorf("failed to wait for queue signal: %w", err)
	}

	metrics.RecordRedisOperation("wait", "signalled")
	return true, nil
}

// Ping checks Redis connectivity
func (n *notifier) Ping(ctx context.Context) error {
	return n.client.Ping(ctx).Err()
}
