package chain

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Mindburn-Labs/veritas/pkg/tiers"
)

// MemoryAdapter is an in-process Adapter used in tests and air-gapped dry
// runs. It supports scripted failures so retry and cancellation paths can be
// exercised deterministically.
type MemoryAdapter struct {
	network tiers.NetworkID

	mu       sync.Mutex
	entries  map[string]CommitPayload
	seq      uint64
	failures int
	failWith error
	latency  time.Duration
}

// NewMemoryAdapter creates an empty in-process adapter.
func NewMemoryAdapter(network tiers.NetworkID) *MemoryAdapter {
	return &MemoryAdapter{
		network: network,
		entries: make(map[string]CommitPayload),
	}
}

// FailNext makes the next n Commit calls fail with err.
func (a *MemoryAdapter) FailNext(n int, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = n
	a.failWith = err
}

// SetLatency delays every Commit by d, so cancellation can win the race.
func (a *MemoryAdapter) SetLatency(d time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.latency = d
}

func (a *MemoryAdapter) Network() tiers.NetworkID { return a.network }

func (a *MemoryAdapter) Commit(ctx context.Context, payload CommitPayload) (*CommitReceipt, error) {
	if _, err := payload.MarshalBinary(); err != nil {
		return nil, &AdapterError{Network: a.network, Op: "commit", Retryable: false, Err: err}
	}

	a.mu.Lock()
	latency := a.latency
	a.mu.Unlock()
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return nil, &AdapterError{Network: a.network, Op: "commit", Retryable: true, Err: ctx.Err()}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, &AdapterError{Network: a.network, Op: "commit", Retryable: true, Err: err}
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.failures > 0 {
		a.failures--
		return nil, &AdapterError{Network: a.network, Op: "commit", Retryable: true, Err: a.failWith}
	}

	a.seq++
	ref := fmt.Sprintf("%s-%06d", a.network, a.seq)
	a.entries[ref] = payload
	return &CommitReceipt{
		Network:     a.network,
		TxRef:       ref,
		BlockNumber: a.seq,
		CommittedAt: time.Now().UTC(),
	}, nil
}

func (a *MemoryAdapter) Read(_ context.Context, ref string) (*CommitPayload, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, ok := a.entries[ref]
	if !ok {
		return nil, ErrNotFound
	}
	out := p
	return &out, nil
}

// Len reports the number of committed entries.
func (a *MemoryAdapter) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.entries)
}
