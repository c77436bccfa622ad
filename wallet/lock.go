package wallet

import (
	"context"
	"fmt"
	"sync"
)

// Instance is a wallet whose store is opened on first use. All
// state-advancing operations run while holding its lock, obtained with
// Lock or WithWallet.
type Instance struct {
	provider LCProvider

	// sem is the wallet lock. Holding it grants exclusive use of store.
	sem chan struct{}

	store PersistentStore
}

// NewInstance returns a wallet instance opening its store through provider.
func NewInstance(provider LCProvider) *Instance {
	return &Instance{
		provider: provider,
		sem:      make(chan struct{}, 1),
	}
}

// Guard is proof of holding the wallet lock. It must be released once done,
// usually with defer g.Release().
type Guard struct {
	inst    *Instance
	store   PersistentStore
	release sync.Once
}

// Store returns the wallet store. It must not be used after Release.
func (g *Guard) Store() PersistentStore {
	return g.store
}

// Release gives the wallet lock back. Calling it more than once is a no-op.
func (g *Guard) Release() {
	g.release.Do(func() {
		<-g.inst.sem
	})
}

// Lock acquires the wallet lock, opening the store if needed. It fails if
// the context is done before the lock is acquired or if the store can't be
// opened.
func (i *Instance) Lock(ctx context.Context) (*Guard, error) {
	if i.provider == nil {
		return nil, ErrNoProvider
	}

	select {
	case i.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("unable to acquire wallet lock: %w",
			ctx.Err())
	}

	if i.store == nil {
		store, err := i.provider.Open(ctx)
		if err != nil {
			<-i.sem
			return nil, fmt.Errorf("unable to open wallet: %w", err)
		}

		log.Debugf("Opened wallet store")
		i.store = store
	}

	return &Guard{inst: i, store: i.store}, nil
}

// Close closes the store once the lock is available. The next Lock opens
// it again.
func (i *Instance) Close(ctx context.Context) error {
	g, err := i.lockOpen(ctx)
	if err != nil {
		return err
	}
	defer g.Release()

	if i.store == nil {
		return nil
	}

	err = i.store.Close()
	i.store = nil

	return err
}

// lockOpen acquires the lock without opening the store.
func (i *Instance) lockOpen(ctx context.Context) (*Guard, error) {
	select {
	case i.sem <- struct{}{}:
		return &Guard{inst: i, store: i.store}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("unable to acquire wallet lock: %w",
			ctx.Err())
	}
}

// WithWallet runs f while holding the wallet lock.
func WithWallet(ctx context.Context, inst *Instance,
	f func(PersistentStore) error) error {

	g, err := inst.Lock(ctx)
	if err != nil {
		return err
	}
	defer g.Release()

	return f(g.Store())
}
