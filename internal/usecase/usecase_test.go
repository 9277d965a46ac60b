package usecase

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alfanzaky/zkqueue/internal/domain"
	"github.com/alfanzaky/zkqueue/internal/repository/sqldb"
	"github.com/alfanzaky/zkqueue/pkg/logger"
)

func TestMain(m *testing.M) {
	logger.Init("test")
	os.Exit(m.Run())
}

var _ domain.Notifier = (*fakeNotifier)(nil)

type fakeNotifier struct {
	mu       sync.Mutex
	notified map[string]int
	waits    int
	onWait   func() bool
	err      error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{notified: make(map[string]int)}
}

func (f *fakeNotifier) Notify(_ context.Context, queue string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.notified[queue]++
	return nil
}

func (f *fakeNotifier) Wait(_ context.Context, _ string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	f.waits++
	onWait, err := f.onWait, f.err
	f.mu.Unlock()

	if err != nil {
		return false, err
	}
	if onWait != nil {
		return onWait(), nil
	}
	return false, nil
}

func (f *fakeNotifier) count(queue string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.notified[queue]
}

var errRedisDown = errors.New("redis down")

func newTestStore(t *testing.T) *sqldb.Store {
	t.Helper()
	store, err := sqldb.OpenInMemory(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}
