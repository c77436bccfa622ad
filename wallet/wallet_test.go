package wallet

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	PersistentStore

	closed bool
}

func (f *fakeStore) Close() error {
	f.closed = true
	return nil
}

type fakeProvider struct {
	opened int
	err    error
	store  *fakeStore
}

func (p *fakeProvider) Open(context.Context) (PersistentStore, error) {
	if p.err != nil {
		return nil, p.err
	}
	p.opened++
	p.store = &fakeStore{}

	return p.store, nil
}

// TestLockExclusive checks that the guard excludes other holders until
// released.
func TestLockExclusive(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	inst := NewInstance(provider)

	g, err := inst.Lock(context.Background())
	require.NoError(t, err)
	require.NotNil(t, g.Store())

	ctx, cancel := context.WithTimeout(
		context.Background(), 50*time.Millisecond,
	)
	defer cancel()
	_, err = inst.Lock(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	g.Release()
	g.Release()

	g2, err := inst.Lock(context.Background())
	require.NoError(t, err)
	require.Same(t, g.Store(), g2.Store())
	g2.Release()

	require.Equal(t, 1, provider.opened)
}

// TestLockConcurrent runs many holders and checks they never overlap.
func TestLockConcurrent(t *testing.T) {
	t.Parallel()

	inst := NewInstance(&fakeProvider{})

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		maxSeen int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			err := WithWallet(context.Background(), inst,
				func(PersistentStore) error {
					mu.Lock()
					holders++
					if holders > maxSeen {
						maxSeen = holders
					}
					mu.Unlock()

					time.Sleep(time.Millisecond)

					mu.Lock()
					holders--
					mu.Unlock()

					return nil
				})
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	require.Equal(t, 1, maxSeen)
}

// TestLockProviderFailure checks that open failures surface and leave the
// lock free.
func TestLockProviderFailure(t *testing.T) {
	t.Parallel()

	errOpen := errors.New("bad password")
	provider := &fakeProvider{err: errOpen}
	inst := NewInstance(provider)

	_, err := inst.Lock(context.Background())
	require.ErrorIs(t, err, errOpen)

	provider.err = nil
	err = WithWallet(context.Background(), inst, func(PersistentStore) error {
		return nil
	})
	require.NoError(t, err)

	_, err = NewInstance(nil).Lock(context.Background())
	require.ErrorIs(t, err, ErrNoProvider)
}

// TestWithWalletReleases checks that the lock is released when f fails, and
// that Close reopens on the next use.
func TestWithWalletReleases(t *testing.T) {
	t.Parallel()

	provider := &fakeProvider{}
	inst := NewInstance(provider)

	errBoom := errors.New("boom")
	err := WithWallet(context.Background(), inst, func(PersistentStore) error {
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)

	first := provider.store
	require.NoError(t, inst.Close(context.Background()))
	require.True(t, first.closed)

	g, err := inst.Lock(context.Background())
	require.NoError(t, err)
	defer g.Release()
	require.Equal(t, 2, provider.opened)
}

// TestSummarize checks the balance buckets.
func TestSummarize(t *testing.T) {
	t.Parallel()

	sum := Summarize([]OutputData{
		{Value: 1, Status: Unconfirmed},
		{Value: 2, Status: Unspent},
		{Value: 4, Status: Unspent, LockHeight: 200, IsCoinbase: true},
		{Value: 8, Status: Locked},
		{Value: 16, Status: Spent},
		{Value: 32, Status: Reverted},
	}, 100)

	require.Equal(t, Summary{
		LastConfirmedHeight:  100,
		Total:                6,
		AwaitingConfirmation: 1,
		Immature:             4,
		Locked:               8,
		Spendable:            2,
	}, sum)
}
