package redis

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignalKey(t *testing.T) {
	assert.Equal(t, "zkqueue:signal:prover_jobs", signalKey("prover_jobs"))
	assert.Equal(t, "zkqueue:signal:mempool", signalKey("mempool"))
}

func TestNotifier_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	n := NewNotifier(client)
	ctx := context.Background()

	require.Error(t, n.Notify(ctx, "prover_jobs"))

	signalled, err := n.Wait(ctx, "prover_jobs", 0)
	require.Error(t, err)
	assert.False(t, signalled)

	require.Error(t, n.Ping(ctx))
}
