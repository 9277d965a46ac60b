package sqldb

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alfanzaky/zkqueue/internal/domain"
)

const (
	addrA = "0x000000000000000000000000000000000000000a"
	addrB = "0x000000000000000000000000000000000000000b"
	addrC = "0x000000000000000000000000000000000000000c"
)

func hashOf(seed string) string {
	seed = strings.TrimPrefix(seed, "0x")
	return "0x" + strings.Repeat("0", 64-len(seed)) + seed
}

func newL2Tx(initiator string, nonce uint64, seed string) *domain.Transaction {
	return &domain.Transaction{
		Hash:      hashOf(seed),
		Initiator: initiator,
		Nonce:     nonce,
		Origin:    domain.OriginL2,
		Payload:   []byte(seed),
		Fee:       domain.Fee{GasLimit: 21000, MaxFeePerGas: 100},
	}
}

func newL1Tx(priorityOpID uint64, seed string) *domain.Transaction {
	id := priorityOpID
	return &domain.Transaction{
		Hash:         hashOf(seed),
		Initiator:    addrC,
		Nonce:        priorityOpID,
		Origin:       domain.OriginL1,
		PriorityOpID: &id,
		Payload:      []byte(seed),
	}
}

func collect(t *testing.T, repo domain.MempoolRepository, filter domain.MempoolFilter) []*domain.Transaction {
	t.Helper()
	var txs []*domain.Transaction
	for tx, err := range repo.View(context.Background(), filter) {
		require.NoError(t, err)
		txs = append(txs, tx)
	}
	return txs
}

func hashes(txs []*domain.Transaction) []string {
	out := make([]string, 0, len(txs))
	for _, tx := range txs {
		out = append(out, tx.Hash)
	}
	return out
}

func TestMempool_SubmitReplacesSameKey(t *testing.T) {
	tests := []struct {
		name       string
		secondSeed string
	}{
		{"equal hash", "0x01"},
		{"different hash", "0x02"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store, clock := newTestStore(t)
			repo := store.Mempool()

			first := newL2Tx(addrA, 0, "0x01")
			result, err := repo.Submit(ctx, first)
			require.NoError(t, err)
			assert.Equal(t, domain.SubmissionAdded, result)
			assert.NotEmpty(t, first.ID)

			clock.Advance(time.Second)
			second := newL2Tx(addrA, 0, tt.secondSeed)
			second.Fee.MaxFeePerGas = 200
			result, err = repo.Submit(ctx, second)
			require.NoError(t, err)
			assert.Equal(t, domain.SubmissionReplaced, result)
			assert.Equal(t, first.ID, second.ID)

			live := collect(t, repo, domain.MempoolFilter{})
			require.Len(t, live, 1)
			assert.Equal(t, hashOf(tt.secondSeed), live[0].Hash)
			assert.Equal(t, uint64(200), live[0].Fee.MaxFeePerGas)
			assert.True(t, clock.Now().Equal(live[0].CreatedAt))
		})
	}
}

func TestMempool_SubmitAfterExecutionAddsNewEntry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	repo := store.Mempool()

	_, err := repo.Submit(ctx, newL2Tx(addrA, 0, "0x01"))
	require.NoError(t, err)
	require.NoError(t, repo.AttachToBlock(ctx, 1, []domain.ExecutedTransaction{{Hash: hashOf("0x01")}}))

	result, err := repo.Submit(ctx, newL2Tx(addrA, 0, "0x02"))
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionAdded, result)

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[domain.StatusQueued])
	assert.Equal(t, int64(1), counts[domain.StatusCompleted])
}

func TestMempool_ConcurrentSubmitsKeepOneLiveEntry(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	var g errgroup.Group
	for i := 0; i < 8; i++ {
		seed := string(rune('a' + i))
		g.Go(func() error {
			_, err := store.Mempool().Submit(ctx, newL2Tx(addrA, 5, seed))
			return err
		})
	}
	require.NoError(t, g.Wait())

	live := collect(t, store.Mempool(), domain.MempoolFilter{})
	require.Len(t, live, 1)
	assert.Equal(t, uint64(5), live[0].Nonce)
}

func TestMempool_SubmitL1Duplicate(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	repo := store.Mempool()

	result, err := repo.SubmitL1(ctx, newL1Tx(0, "0x10"))
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionAdded, result)

	result, err = repo.SubmitL1(ctx, newL1Tx(0, "0x11"))
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionDuplicate, result)

	_, err = repo.GetByHash(ctx, hashOf("0x11"))
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := repo.GetByHash(ctx, hashOf("0x10"))
	require.NoError(t, err)
	assert.True(t, got.IsL1())
	require.NotNil(t, got.PriorityOpID)
	assert.Equal(t, uint64(0), *got.PriorityOpID)
}

func TestMempool_SubmitRejectsWrongOrigin(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	_, err := store.Mempool().Submit(ctx, newL1Tx(1, "0x10"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = store.Mempool().SubmitL1(ctx, newL2Tx(addrA, 0, "0x01"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestMempool_SubmitRejectsHashLiveUnderAnotherKey(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	repo := store.Mempool()

	_, err := repo.Submit(ctx, newL2Tx(addrA, 0, "0x77"))
	require.NoError(t, err)

	_, err = repo.Submit(ctx, newL2Tx(addrB, 5, "0x77"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = repo.SubmitL1(ctx, newL1Tx(3, "0x77"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	// replacing under the other key may not take the hash either
	_, err = repo.Submit(ctx, newL2Tx(addrB, 5, "0x78"))
	require.NoError(t, err)
	_, err = repo.Submit(ctx, newL2Tx(addrB, 5, "0x77"))
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	live := collect(t, repo, domain.MempoolFilter{})
	assert.ElementsMatch(t, []string{hashOf("0x77"), hashOf("0x78")}, hashes(live))

	require.NoError(t, repo.AttachToBlock(ctx, 1, []domain.ExecutedTransaction{{Hash: hashOf("0x77")}}))

	// once executed the hash is free again
	result, err := repo.Submit(ctx, newL2Tx(addrC, 0, "0x77"))
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionAdded, result)
}

func TestMempool_PruneStuck(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	repo := store.Mempool()

	_, err := repo.SubmitL1(ctx, newL1Tx(0, "0x10"))
	require.NoError(t, err)
	_, err = repo.Submit(ctx, newL2Tx(addrA, 0, "0x01"))
	require.NoError(t, err)
	_, err = repo.Submit(ctx, newL2Tx(addrB, 0, "0x02"))
	require.NoError(t, err)

	clock.Advance(time.Hour)
	_, err = repo.Submit(ctx, newL2Tx(addrC, 0, "0x03"))
	require.NoError(t, err)
	require.Len(t, collect(t, repo, domain.MempoolFilter{}), 4)

	executed := []domain.ExecutedTransaction{{
		Hash:    hashOf("0x02"),
		Metrics: domain.ExecutionMetrics{GasUsed: 21000, Success: true},
	}}
	require.NoError(t, repo.AttachToBlock(ctx, 1, executed))
	require.Len(t, collect(t, repo, domain.MempoolFilter{}), 3)

	removed, err := repo.PruneStuck(ctx, 30*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	live := collect(t, repo, domain.MempoolFilter{})
	assert.ElementsMatch(t, []string{hashOf("0x10"), hashOf("0x03")}, hashes(live))

	got, err := repo.GetByHash(ctx, hashOf("0x02"))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	require.NotNil(t, got.BlockNumber)
	assert.Equal(t, uint64(1), *got.BlockNumber)
	require.NotNil(t, got.IndexInBlock)
	assert.Equal(t, 0, *got.IndexInBlock)
	require.NotNil(t, got.Execution)
	assert.Equal(t, uint64(21000), got.Execution.GasUsed)
	assert.NotNil(t, got.CompletedAt)

	_, err = repo.GetByHash(ctx, hashOf("0x01"))
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMempool_PruneStuckBoundary(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	repo := store.Mempool()

	_, err := repo.Submit(ctx, newL2Tx(addrA, 0, "0x01"))
	require.NoError(t, err)
	clock.Advance(time.Minute)

	removed, err := repo.PruneStuck(ctx, time.Minute)
	require.NoError(t, err)
	assert.Zero(t, removed)

	_, err = repo.PruneStuck(ctx, -time.Second)
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestMempool_AttachToBlockIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	repo := store.Mempool()

	_, err := repo.Submit(ctx, newL2Tx(addrA, 0, "0x01"))
	require.NoError(t, err)

	err = repo.AttachToBlock(ctx, 3, []domain.ExecutedTransaction{
		{Hash: hashOf("0x01")},
		{Hash: hashOf("0xff")},
	})
	require.ErrorIs(t, err, domain.ErrNotFound)

	got, err := repo.GetByHash(ctx, hashOf("0x01"))
	require.NoError(t, err)
	assert.True(t, got.IsLive())
	assert.Nil(t, got.BlockNumber)

	err = repo.AttachToBlock(ctx, 3, []domain.ExecutedTransaction{{Hash: hashOf("0x01")}})
	require.NoError(t, err)

	err = repo.AttachToBlock(ctx, 4, []domain.ExecutedTransaction{{Hash: hashOf("0x01")}})
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMempool_ViewPagesAndRestarts(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t, WithPageSize(2))
	repo := store.Mempool()

	var want []string
	for i := 0; i < 5; i++ {
		seed := string(rune('1' + i))
		_, err := repo.Submit(ctx, newL2Tx(addrA, uint64(i), seed))
		require.NoError(t, err)
		want = append(want, hashOf(seed))
		clock.Advance(time.Millisecond)
	}

	view := repo.View(ctx, domain.MempoolFilter{})
	var first []string
	for tx, err := range view {
		require.NoError(t, err)
		first = append(first, tx.Hash)
	}
	assert.Equal(t, want, first)

	var second []string
	for tx, err := range view {
		require.NoError(t, err)
		second = append(second, tx.Hash)
	}
	assert.Equal(t, want, second)

	limited := collect(t, repo, domain.MempoolFilter{Limit: 3})
	assert.Equal(t, want[:3], hashes(limited))

	var early []string
	for tx, err := range view {
		require.NoError(t, err)
		early = append(early, tx.Hash)
		if len(early) == 2 {
			break
		}
	}
	assert.Equal(t, want[:2], early)
}

func TestMempool_ViewFiltersAndOrders(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t, WithPageSize(1))
	repo := store.Mempool()

	cheap := newL2Tx(addrA, 0, "0x01")
	cheap.Fee.MaxFeePerGas = 10
	rich := newL2Tx(addrB, 0, "0x02")
	rich.Fee.MaxFeePerGas = 300
	mid := newL2Tx(addrA, 1, "0x03")
	mid.Fee.MaxFeePerGas = 150
	for _, tx := range []*domain.Transaction{cheap, rich, mid} {
		_, err := repo.Submit(ctx, tx)
		require.NoError(t, err)
	}
	_, err := repo.SubmitL1(ctx, newL1Tx(0, "0x10"))
	require.NoError(t, err)

	byFee := collect(t, repo, domain.MempoolFilter{Origin: domain.OriginL2, OrderBy: domain.OrderByFee, Desc: true})
	assert.Equal(t, []string{hashOf("0x02"), hashOf("0x03"), hashOf("0x01")}, hashes(byFee))

	byInitiator := collect(t, repo, domain.MempoolFilter{Initiator: addrA, OrderBy: domain.OrderByNonce})
	assert.Equal(t, []string{hashOf("0x01"), hashOf("0x03")}, hashes(byInitiator))

	minFee := collect(t, repo, domain.MempoolFilter{MinFeePerGas: 100, Origin: domain.OriginL2})
	assert.ElementsMatch(t, []string{hashOf("0x02"), hashOf("0x03")}, hashes(minFee))

	l1 := collect(t, repo, domain.MempoolFilter{Origin: domain.OriginL1})
	assert.Equal(t, []string{hashOf("0x10")}, hashes(l1))

	for _, err := range repo.View(ctx, domain.MempoolFilter{OrderBy: "size"}) {
		require.ErrorIs(t, err, domain.ErrInvalidArgument)
	}
}

func TestMempool_Query(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	repo := store.Mempool()

	for i, seed := range []string{"0x01", "0x02", "0x03"} {
		_, err := repo.Submit(ctx, newL2Tx(addrA, uint64(i), seed))
		require.NoError(t, err)
	}
	require.NoError(t, repo.AttachToBlock(ctx, 10, []domain.ExecutedTransaction{{Hash: hashOf("0x01")}}))
	require.NoError(t, repo.AttachToBlock(ctx, 20, []domain.ExecutedTransaction{{Hash: hashOf("0x02")}}))

	all, err := repo.Query(ctx, domain.QueryFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	completed, err := repo.Query(ctx, domain.QueryFilter{
		Statuses: []domain.Status{domain.StatusCompleted},
		OrderBy:  "block_number",
		Desc:     true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{hashOf("0x02"), hashOf("0x01")}, hashes(completed))

	ranged, err := repo.Query(ctx, domain.QueryFilter{Range: &domain.Range{Low: 10, High: 20}})
	require.NoError(t, err)
	assert.Equal(t, []string{hashOf("0x01")}, hashes(ranged))

	capped, err := repo.Query(ctx, domain.QueryFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, capped, 1)

	_, err = repo.Query(ctx, domain.QueryFilter{OrderBy: "payload"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	_, err = repo.Query(ctx, domain.QueryFilter{Range: &domain.Range{Low: 5, High: 1}})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)

	openEnded, err := repo.Query(ctx, domain.QueryFilter{Range: &domain.Range{Low: 15, High: math.MaxUint64}})
	require.NoError(t, err)
	assert.Equal(t, []string{hashOf("0x02")}, hashes(openEnded))

	_, err = repo.Query(ctx, domain.QueryFilter{Range: &domain.Range{Low: math.MaxInt64 + 1, High: math.MaxUint64}})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}
