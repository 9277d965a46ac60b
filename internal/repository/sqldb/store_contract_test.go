package sqldb

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/alfanzaky/zkqueue/internal/domain"
)

type storeFactory struct {
	name string
	new  func(t *testing.T) *Store
}

// contractStoreFactories always yields sqlite. Set ZKQUEUE_TEST_POSTGRES_DSN
// to also run against postgres, where leases go through SKIP LOCKED.
func contractStoreFactories() []storeFactory {
	out := []storeFactory{
		{
			name: "sqlite",
			new: func(t *testing.T) *Store {
				t.Helper()
				store, _ := newTestStore(t)
				return store
			},
		},
	}

	dsn := strings.TrimSpace(os.Getenv("ZKQUEUE_TEST_POSTGRES_DSN"))
	if dsn != "" {
		out = append(out, storeFactory{
			name: "postgres",
			new: func(t *testing.T) *Store {
				t.Helper()
				ctx := context.Background()
				store, err := Open(ctx, DriverPgx, dsn)
				require.NoError(t, err)
				t.Cleanup(func() { _ = store.Close() })

				store.DB().SetMaxOpenConns(8)
				require.NoError(t, store.Migrate(ctx))
				_, err = store.DB().ExecContext(ctx, "TRUNCATE mempool_entries, prover_jobs")
				require.NoError(t, err)
				return store
			},
		})
	}

	return out
}

func TestStoreContract_ConcurrentLeasesAreDistinct(t *testing.T) {
	for _, factory := range contractStoreFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.new(t)

			circuitTypes := make([]string, 0, 40)
			for i := 0; i < 40; i++ {
				circuitTypes = append(circuitTypes, string(rune('A'+i)))
			}
			_, err := store.ProverJobs().Enqueue(ctx, 1, circuits(circuitTypes...), domain.RoundBasicCircuits, 1)
			require.NoError(t, err)

			var (
				mu   sync.Mutex
				seen = make(map[string]int)
				g    errgroup.Group
			)
			for w := 0; w < 8; w++ {
				g.Go(func() error {
					for {
						job, err := store.ProverJobs().LeaseNext(ctx, []int32{1})
						if err != nil {
							return err
						}
						if job == nil {
							return nil
						}
						mu.Lock()
						seen[job.ID]++
						mu.Unlock()
					}
				})
			}
			require.NoError(t, g.Wait())

			assert.Len(t, seen, 40)
			for id, n := range seen {
				assert.Equal(t, 1, n, "job %s leased %d times", id, n)
			}
		})
	}
}

func TestStoreContract_ConcurrentSubmitsKeepHashUnique(t *testing.T) {
	for _, factory := range contractStoreFactories() {
		t.Run(factory.name, func(t *testing.T) {
			ctx := context.Background()
			store := factory.new(t)

			var (
				mu       sync.Mutex
				added    int
				rejected int
				g        errgroup.Group
			)
			for _, initiator := range []string{addrA, addrB, addrC} {
				for nonce := uint64(0); nonce < 3; nonce++ {
					g.Go(func() error {
						_, err := store.Mempool().Submit(ctx, newL2Tx(initiator, nonce, "0x99"))
						mu.Lock()
						defer mu.Unlock()
						switch {
						case err == nil:
							added++
						case errors.Is(err, domain.ErrInvalidArgument):
							rejected++
						default:
							return err
						}
						return nil
					})
				}
			}
			require.NoError(t, g.Wait())

			assert.Equal(t, 1, added)
			assert.Equal(t, 8, rejected)

			live := collect(t, store.Mempool(), domain.MempoolFilter{})
			require.Len(t, live, 1)
			require.NoError(t, store.Mempool().AttachToBlock(ctx, 1, []domain.ExecutedTransaction{{Hash: hashOf("0x99")}}))
		})
	}
}
