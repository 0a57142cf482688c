package receipts

import "context"

// IssuanceLock serializes issuance for one (actor, package hash) key across
// processes. In-process callers are already collapsed by singleflight; the
// lock matters when several manager instances share a receipt store.
type IssuanceLock interface {
	// Acquire blocks until the key is held or ctx ends, returning a release
	// function that must be called exactly once.
	Acquire(ctx context.Context, key string) (release func(), err error)
}

// NopLock is the single-process default.
type NopLock struct{}

func (NopLock) Acquire(context.Context, string) (func(), error) {
	return func() {}, nil
}
