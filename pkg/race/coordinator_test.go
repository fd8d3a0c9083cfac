package race_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	errs "github.com/ctfer-io/race-manager/pkg/errors"
	"github.com/ctfer-io/race-manager/pkg/race"
	"github.com/ctfer-io/race-manager/pkg/store"
)

const testPrefix = "tab-race: "

func stores(t *testing.T) map[string]store.RaceStore {
	t.Helper()

	dir := t.TempDir()
	fsst, err := store.OpenFS(filepath.Join(dir, "fs"), testPrefix)
	require.NoError(t, err)
	boltst, err := store.OpenBolt(filepath.Join(dir, "bolt"), testPrefix, 10*time.Second)
	require.NoError(t, err)
	sqlitest, err := store.OpenSQLite(filepath.Join(dir, "sqlite"), testPrefix, 10*time.Second)
	require.NoError(t, err)

	return map[string]store.RaceStore{
		store.KindMemory: store.NewMemoryStore().WithPrefix(testPrefix),
		store.KindFS:     fsst,
		store.KindBolt:   boltst,
		store.KindSQLite: sqlitest,
	}
}

// stampede runs n concurrent racers on id and returns the number of winners.
func stampede(ctx context.Context, coord *race.Coordinator, id string, n int) (int, error) {
	var winners atomic.Int64
	eg, ctx := errgroup.WithContext(ctx)
	for range n {
		eg.Go(func() error {
			won, err := coord.Race(ctx, id)
			if err != nil {
				return err
			}
			if won {
				winners.Add(1)
			}
			return nil
		})
	}
	err := eg.Wait()
	return int(winners.Load()), err
}

func Test_F_OneWinner(t *testing.T) {
	t.Parallel()

	for kind, st := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()

			coord := race.NewCoordinator(st)

			// run 10 times to ensure consistency
			for i := 1; i <= 10; i++ {
				winners, err := stampede(t.Context(), coord, fmt.Sprintf("one-winner-%d", i), 20)
				require.NoError(t, err)
				assert.Equal(t, 1, winners, "there should be exactly one winner")
			}
		})
	}
}

func Test_F_EndRaceNewWinner(t *testing.T) {
	t.Parallel()

	for kind, st := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()

			coord := race.NewCoordinator(st)

			for i := 1; i <= 10; i++ {
				id := fmt.Sprintf("endrace-%d", i)

				won, err := coord.Race(t.Context(), id)
				require.NoError(t, err)
				require.True(t, won)
				require.NoError(t, coord.EndRace(t.Context(), id))

				winners, err := stampede(t.Context(), coord, id, 10)
				require.NoError(t, err)
				assert.Equal(t, 1, winners, "there should be exactly one winner")
			}
		})
	}
}

func Test_F_EndRaceAsyncTeardown(t *testing.T) {
	t.Parallel()

	for kind, st := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()

			for i := 1; i <= 10; i++ {
				id := fmt.Sprintf("teardown-%d", i)

				// The racer context is torn down right after firing the reset,
				// without ever awaiting it.
				ctx, cancel := context.WithCancel(t.Context())
				first := race.NewCoordinator(st)
				won, err := first.Race(ctx, id)
				require.NoError(t, err)
				require.True(t, won)
				_ = first.EndRaceAsync(ctx, id)
				cancel()
				require.NoError(t, first.Close(t.Context()))

				second := race.NewCoordinator(st)
				won, err = second.Race(t.Context(), id)
				require.NoError(t, err)
				assert.True(t, won, "race should have ended")
			}
		})
	}
}

func Test_F_EndRaceIdempotent(t *testing.T) {
	t.Parallel()

	for kind, st := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()

			coord := race.NewCoordinator(st)
			for range 3 {
				require.NoError(t, coord.EndRace(t.Context(), "never-raced"))
			}

			winners, err := stampede(t.Context(), coord, "never-raced", 5)
			require.NoError(t, err)
			assert.Equal(t, 1, winners)

			require.NoError(t, coord.EndRace(t.Context(), "never-raced"))
			require.NoError(t, coord.EndRace(t.Context(), "never-raced"))

			winners, err = stampede(t.Context(), coord, "never-raced", 5)
			require.NoError(t, err)
			assert.Equal(t, 1, winners)
		})
	}
}

func Test_F_AlreadyWon(t *testing.T) {
	t.Parallel()

	for kind, st := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()

			coord := race.NewCoordinator(st)
			won, err := coord.Race(t.Context(), "already-won")
			require.NoError(t, err)
			require.True(t, won)

			for range 5 {
				won, err := coord.Race(t.Context(), "already-won")
				require.NoError(t, err)
				assert.False(t, won, "marker is permanent until the race ends")
			}
		})
	}
}

func Test_F_Isolation(t *testing.T) {
	t.Parallel()

	for kind, st := range stores(t) {
		t.Run(kind, func(t *testing.T) {
			t.Parallel()

			coord := race.NewCoordinator(st)

			won, err := coord.Race(t.Context(), "A")
			require.NoError(t, err)
			assert.True(t, won)

			won, err = coord.Race(t.Context(), "B")
			require.NoError(t, err)
			assert.True(t, won, "winning A should not affect B")

			require.NoError(t, coord.EndRace(t.Context(), "A"))

			won, err = coord.Race(t.Context(), "B")
			require.NoError(t, err)
			assert.False(t, won, "ending A should not reset B")

			won, err = coord.Race(t.Context(), "A")
			require.NoError(t, err)
			assert.True(t, won)
		})
	}
}

func Test_F_Checkout(t *testing.T) {
	t.Parallel()

	coord := race.NewCoordinator(store.NewMemoryStore().WithPrefix(testPrefix))

	// R1..R20
	winners, err := stampede(t.Context(), coord, "checkout", 20)
	require.NoError(t, err)
	require.Equal(t, 1, winners)

	// The winner ends the race
	require.NoError(t, coord.EndRace(t.Context(), "checkout"))

	// R21..R30
	winners, err = stampede(t.Context(), coord, "checkout", 10)
	require.NoError(t, err)
	assert.Equal(t, 1, winners)
}

func Test_U_Validation(t *testing.T) {
	t.Parallel()

	coord := race.NewCoordinator(store.NewMemoryStore())

	_, err := coord.Race(t.Context(), "")
	var verr *errs.ErrValidationFailed
	assert.True(t, errors.As(err, &verr))

	err = coord.EndRace(t.Context(), "")
	assert.True(t, errors.As(err, &verr))
}

func Test_U_CloseThenAsync(t *testing.T) {
	t.Parallel()

	coord := race.NewCoordinator(store.NewMemoryStore())
	require.NoError(t, coord.Close(t.Context()))

	won, err := coord.Race(t.Context(), "closed")
	require.NoError(t, err)
	require.True(t, won)

	// Once closed, the reset is done before returning
	res := coord.EndRaceAsync(t.Context(), "closed")
	select {
	case err := <-res:
		require.NoError(t, err)
	default:
		t.Fatal("reset should have completed synchronously")
	}

	won, err = coord.Race(t.Context(), "closed")
	require.NoError(t, err)
	assert.True(t, won)
}
