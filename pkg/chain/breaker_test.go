package chain

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veritas/pkg/crypto"
)

func breakerPayload(t *testing.T) CommitPayload {
	t.Helper()
	hasher := crypto.NewDefaultHasher()
	return HashOnly(hasher.Hash([]byte("payload")))
}

func TestBreakerPassesThroughWhenHealthy(t *testing.T) {
	inner := NewMemoryAdapter("public-net")
	b := NewBreakerAdapter(inner, 3, time.Minute)
	ctx := context.Background()

	receipt, err := b.Commit(ctx, breakerPayload(t))
	require.NoError(t, err)
	assert.Equal(t, inner.Network(), b.Network())

	payload, err := b.Read(ctx, receipt.TxRef)
	require.NoError(t, err)
	assert.Equal(t, KindHashOnly, payload.Kind)
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	inner := NewMemoryAdapter("public-net")
	inner.FailNext(10, &AdapterError{Network: "public-net", Op: "commit", Retryable: true, Err: errors.New("rpc down")})
	b := NewBreakerAdapter(inner, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Commit(ctx, breakerPayload(t))
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrCircuitOpen)
	}

	// Threshold reached: commits short-circuit without touching the adapter.
	_, err := b.Commit(ctx, breakerPayload(t))
	require.ErrorIs(t, err, ErrCircuitOpen)
	assert.True(t, Retryable(err))
	assert.Equal(t, 0, inner.Len())
}

func TestBreakerHalfOpensAfterReset(t *testing.T) {
	inner := NewMemoryAdapter("public-net")
	inner.FailNext(3, &AdapterError{Network: "public-net", Op: "commit", Retryable: true, Err: errors.New("rpc down")})
	b := NewBreakerAdapter(inner, 3, 10*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = b.Commit(ctx, breakerPayload(t))
	}
	_, err := b.Commit(ctx, breakerPayload(t))
	require.ErrorIs(t, err, ErrCircuitOpen)

	time.Sleep(20 * time.Millisecond)

	// Probe succeeds and the circuit closes again.
	_, err = b.Commit(ctx, breakerPayload(t))
	require.NoError(t, err)
	_, err = b.Commit(ctx, breakerPayload(t))
	require.NoError(t, err)
}

func TestBreakerReadsBypassOpenCircuit(t *testing.T) {
	inner := NewMemoryAdapter("public-net")
	ctx := context.Background()

	receipt, err := inner.Commit(ctx, breakerPayload(t))
	require.NoError(t, err)

	inner.FailNext(3, &AdapterError{Network: "public-net", Op: "commit", Retryable: true, Err: errors.New("rpc down")})
	b := NewBreakerAdapter(inner, 3, time.Minute)
	for i := 0; i < 3; i++ {
		_, _ = b.Commit(ctx, breakerPayload(t))
	}

	_, err = b.Read(ctx, receipt.TxRef)
	require.NoError(t, err)
}
