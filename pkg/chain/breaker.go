package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/veritas/pkg/tiers"
)

// ErrCircuitOpen reports a commit short-circuited because the target network
// has been failing. It is retryable: the circuit re-closes after the reset
// timeout, so backoff can ride it out.
var ErrCircuitOpen = errors.New("chain: circuit open")

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// BreakerAdapter wraps an Adapter with a circuit breaker so a failing
// network endpoint sheds load instead of absorbing every retry. Reads pass
// through untouched; a broken commit path must not block verification.
type BreakerAdapter struct {
	inner        Adapter
	threshold    int
	resetTimeout time.Duration

	mu           sync.Mutex
	state        breakerState
	failureCount int
	lastFailure  time.Time
}

// NewBreakerAdapter wraps inner, opening the circuit after threshold
// consecutive commit failures and probing again after resetTimeout.
func NewBreakerAdapter(inner Adapter, threshold int, resetTimeout time.Duration) *BreakerAdapter {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = 10 * time.Second
	}
	return &BreakerAdapter{
		inner:        inner,
		threshold:    threshold,
		resetTimeout: resetTimeout,
	}
}

func (b *BreakerAdapter) Network() tiers.NetworkID { return b.inner.Network() }

func (b *BreakerAdapter) Commit(ctx context.Context, payload CommitPayload) (*CommitReceipt, error) {
	if !b.allow() {
		return nil, &AdapterError{
			Network:   b.inner.Network(),
			Op:        "commit",
			Retryable: true,
			Err:       fmt.Errorf("%w: %s", ErrCircuitOpen, b.inner.Network()),
		}
	}

	receipt, err := b.inner.Commit(ctx, payload)
	if err != nil {
		b.failure()
		return nil, err
	}
	b.success()
	return receipt, nil
}

func (b *BreakerAdapter) Read(ctx context.Context, ref string) (*CommitPayload, error) {
	return b.inner.Read(ctx, ref)
}

func (b *BreakerAdapter) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateOpen {
		if time.Since(b.lastFailure) > b.resetTimeout {
			b.state = stateHalfOpen
			return true
		}
		return false
	}
	return true
}

func (b *BreakerAdapter) success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.failureCount = 0
}

func (b *BreakerAdapter) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount++
	b.lastFailure = time.Now()
	if b.failureCount >= b.threshold {
		b.state = stateOpen
	}
}

var _ Adapter = (*BreakerAdapter)(nil)
