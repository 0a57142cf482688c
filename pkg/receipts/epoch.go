package receipts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Mindburn-Labs/veritas/pkg/chain"
	"github.com/Mindburn-Labs/veritas/pkg/crypto"
	"github.com/Mindburn-Labs/veritas/pkg/merkle"
)

const (
	// DefaultEpochSize closes an epoch once this many digests are buffered.
	DefaultEpochSize = 32
	// DefaultEpochInterval closes a non-empty epoch after this long even when
	// the size threshold was never reached, bounding receipt latency.
	DefaultEpochInterval = 5 * time.Second
)

// ErrBatcherClosed reports an Anchor call after Close.
var ErrBatcherClosed = errors.New("receipts: epoch batcher closed")

// AnchorResult ties one package digest to the epoch it was anchored in: the
// epoch's Merkle root, the inclusion proof for the digest, and the chain
// commit that carries the root.
type AnchorResult struct {
	Root   crypto.Digest
	Proof  *merkle.Proof
	Commit *chain.CommitReceipt
}

type anchorWaiter struct {
	digest crypto.Digest
	ch     chan anchorOutcome
}

type anchorOutcome struct {
	result *AnchorResult
	err    error
}

// EpochBatcher amortizes chain commits for hash-only receipts: buffered
// digests are rolled into one Merkle tree per epoch and only the root goes
// on-chain. An epoch closes when it reaches maxSize digests or when interval
// elapses, whichever comes first. A single flush runs at a time, so the
// adapter sees epochs in order.
type EpochBatcher struct {
	adapter  chain.Adapter
	commit   func(ctx context.Context, payload chain.CommitPayload) (*chain.CommitReceipt, error)
	onFlush  func(ctx context.Context, size int)
	maxSize  int
	interval time.Duration

	mu      sync.Mutex
	pending []*anchorWaiter
	timer   *time.Timer
	closed  bool

	flushMu sync.Mutex
}

// NewEpochBatcher creates a batcher over the given adapter. Zero values for
// maxSize and interval select the defaults.
func NewEpochBatcher(adapter chain.Adapter, maxSize int, interval time.Duration) *EpochBatcher {
	if maxSize <= 0 {
		maxSize = DefaultEpochSize
	}
	if interval <= 0 {
		interval = DefaultEpochInterval
	}
	b := &EpochBatcher{
		adapter:  adapter,
		maxSize:  maxSize,
		interval: interval,
	}
	b.commit = func(ctx context.Context, payload chain.CommitPayload) (*chain.CommitReceipt, error) {
		return adapter.Commit(ctx, payload)
	}
	return b
}

// SetFlushObserver registers a callback invoked after every committed epoch
// with the number of digests it carried. Call it before the first Anchor.
func (b *EpochBatcher) SetFlushObserver(fn func(ctx context.Context, size int)) {
	b.onFlush = fn
}

// Anchor buffers the digest and blocks until its epoch is committed or ctx
// ends. On success every waiter of the epoch receives the same root and
// commit reference, each with its own inclusion proof.
func (b *EpochBatcher) Anchor(ctx context.Context, digest crypto.Digest) (*AnchorResult, error) {
	w := &anchorWaiter{digest: digest, ch: make(chan anchorOutcome, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBatcherClosed
	}
	b.pending = append(b.pending, w)
	full := len(b.pending) >= b.maxSize
	if full {
		b.stopTimerLocked()
	} else if len(b.pending) == 1 {
		b.timer = time.AfterFunc(b.interval, func() { b.flush(context.Background()) })
	}
	b.mu.Unlock()

	if full {
		go b.flush(context.Background())
	}

	select {
	case out := <-w.ch:
		return out.result, out.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close flushes any buffered digests and rejects further anchors.
func (b *EpochBatcher) Close(ctx context.Context) {
	b.mu.Lock()
	b.closed = true
	b.stopTimerLocked()
	b.mu.Unlock()
	b.flush(ctx)
}

func (b *EpochBatcher) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

func (b *EpochBatcher) flush(ctx context.Context) {
	// One epoch at a time; concurrent triggers queue behind the lock.
	b.flushMu.Lock()
	defer b.flushMu.Unlock()

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.stopTimerLocked()
	b.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	// Timer- and size-triggered flushes arrive with no deadline. Bound the
	// commit so a hung adapter cannot wedge later flushes and Close behind
	// flushMu.
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 4*b.interval)
		defer cancel()
	}

	leaves := make([]crypto.Digest, len(batch))
	for i, w := range batch {
		leaves[i] = w.digest
	}
	tree, err := merkle.Build(leaves)
	if err != nil {
		deliverError(batch, err)
		return
	}

	commit, err := b.commit(ctx, chain.HashOnly(tree.Root()))
	if err != nil {
		deliverError(batch, err)
		return
	}
	if b.onFlush != nil {
		b.onFlush(ctx, len(batch))
	}

	for _, w := range batch {
		proof, err := tree.Prove(w.digest)
		if err != nil {
			w.ch <- anchorOutcome{err: err}
			continue
		}
		w.ch <- anchorOutcome{result: &AnchorResult{
			Root:   tree.Root(),
			Proof:  proof,
			Commit: commit,
		}}
	}
}

func deliverError(batch []*anchorWaiter, err error) {
	for _, w := range batch {
		w.ch <- anchorOutcome{err: err}
	}
}
