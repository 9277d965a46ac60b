package sqldb

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("test")
	os.Exit(m.Run())
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *testClock) {
	t.Helper()
	clock := newTestClock()
	opts = append([]Option{WithNowFunc(clock.Now)}, opts...)
	store, err := OpenInMemory(context.Background(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "dsn")
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestMigrate_Idempotent(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Ping(context.Background()))
}

func TestConn_CommitOnPlainHandle(t *testing.T) {
	store, _ := newTestStore(t)

	conn := store.Access()
	assert.False(t, conn.InTransaction())

	err := conn.Commit()
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
	require.NoError(t, conn.Rollback())
}

func TestConn_RollbackAfterCommitIsNoop(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())

	err = tx.Commit()
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	_, err = tx.Mempool().Submit(ctx, newL2Tx(addrA, 0, "0x01"))
	require.ErrorIs(t, err, domain.ErrInvariantViolation)
}

func TestConn_ComposedTransactionRollsBack(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)

	_, err = tx.Mempool().Submit(ctx, newL2Tx(addrA, 0, "0x01"))
	require.NoError(t, err)
	_, err = tx.ProverJobs().Enqueue(ctx, 1, circuits("main"), domain.RoundBasicCircuits, 1)
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	_, err = store.Mempool().GetByHash(ctx, hashOf("0x01"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	jobs, err := store.ProverJobs().Query(ctx, domain.ProverJobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestConn_ComposedTransactionCommits(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	defer func() { _ = tx.Rollback() }()

	_, err = tx.Mempool().Submit(ctx, newL2Tx(addrA, 0, "0x01"))
	require.NoError(t, err)
	require.NoError(t, tx.Mempool().AttachToBlock(ctx, 7, []domain.ExecutedTransaction{{Hash: hashOf("0x01")}}))
	_, err = tx.ProverJobs().Enqueue(ctx, 7, circuits("main"), domain.RoundBasicCircuits, 1)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	got, err := store.Mempool().GetByHash(ctx, hashOf("0x01"))
	require.NoError(t, err)
	require.NotNil(t, got.BlockNumber)
	assert.Equal(t, uint64(7), *got.BlockNumber)

	counts, err := store.ProverJobs().CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StatusQueued])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		err          error
		connectivity bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, true},
		{"plain", errors.New("syntax error"), false},
		{"already classified", domain.ErrConnectivity, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classify(tt.err)
			if tt.err == nil {
				assert.NoError(t, got)
				return
			}
			assert.Equal(t, tt.connectivity, errors.Is(got, domain.ErrConnectivity))
		})
	}
}

func TestIsAbortSQLState(t *testing.T) {
	assert.True(t, isAbortSQLState("40001"))
	assert.True(t, isAbortSQLState("08006"))
	assert.True(t, isAbortSQLState("57P01"))
	assert.False(t, isAbortSQLState("23505"))
}
