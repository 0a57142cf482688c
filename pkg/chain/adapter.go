// Package chain defines the capability interface every blockchain target
// implements, plus the payload envelope committed on-chain. New networks are
// added by implementing Adapter; the receipt manager never changes.
package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/veritas/pkg/crypto"
	"github.com/Mindburn-Labs/veritas/pkg/tiers"
)

// PayloadKind discriminates what a commitment exposes.
type PayloadKind byte

const (
	// KindFullData embeds the canonical package bytes on-chain.
	KindFullData PayloadKind = 0x01
	// KindHashOnly embeds only an algorithm-tagged digest; the original
	// content is not recoverable from the chain.
	KindHashOnly PayloadKind = 0x02
)

// CommitPayload is the unit handed to an adapter: either full canonical data
// or a digest, per the tier's CommitmentStrategy.
type CommitPayload struct {
	Kind   PayloadKind
	Data   []byte
	Digest crypto.Digest
}

// FullData wraps canonical bytes and their digest for a full-exposure commit.
func FullData(data []byte, digest crypto.Digest) CommitPayload {
	return CommitPayload{Kind: KindFullData, Data: data, Digest: digest}
}

// HashOnly wraps a digest for a zero-exposure commit.
func HashOnly(digest crypto.Digest) CommitPayload {
	return CommitPayload{Kind: KindHashOnly, Digest: digest}
}

// MarshalBinary renders the on-wire envelope: a one-byte kind tag followed by
// the canonical bytes (full data) or the tagged digest string (hash only).
func (p CommitPayload) MarshalBinary() ([]byte, error) {
	switch p.Kind {
	case KindFullData:
		if len(p.Data) == 0 {
			return nil, errors.New("chain: full-data payload without data")
		}
		return append([]byte{byte(KindFullData)}, p.Data...), nil
	case KindHashOnly:
		if p.Digest.IsZero() {
			return nil, errors.New("chain: hash-only payload without digest")
		}
		return append([]byte{byte(KindHashOnly)}, []byte(p.Digest.String())...), nil
	default:
		return nil, fmt.Errorf("chain: unknown payload kind 0x%02x", byte(p.Kind))
	}
}

// DecodePayload parses an on-wire envelope back into a CommitPayload.
func DecodePayload(b []byte) (CommitPayload, error) {
	if len(b) < 2 {
		return CommitPayload{}, errors.New("chain: payload envelope too short")
	}
	switch PayloadKind(b[0]) {
	case KindFullData:
		return CommitPayload{Kind: KindFullData, Data: append([]byte(nil), b[1:]...)}, nil
	case KindHashOnly:
		d, err := crypto.ParseDigest(string(b[1:]))
		if err != nil {
			return CommitPayload{}, fmt.Errorf("chain: hash-only envelope: %w", err)
		}
		return CommitPayload{Kind: KindHashOnly, Digest: d}, nil
	default:
		return CommitPayload{}, fmt.Errorf("chain: unknown payload kind 0x%02x", b[0])
	}
}

// CommitReceipt is the durable result of a confirmed commit. Adapters must
// never return one for an unconfirmed transaction.
type CommitReceipt struct {
	Network     tiers.NetworkID
	TxRef       string
	BlockNumber uint64
	CommittedAt time.Time
}

// ErrNotFound reports a reference with no committed payload behind it.
var ErrNotFound = errors.New("chain: reference not found")

// AdapterError wraps a transport or network failure. Retryable errors are
// retried by the receipt manager within its bounded retry budget; the rest
// fail the receipt immediately.
type AdapterError struct {
	Network   tiers.NetworkID
	Op        string
	Retryable bool
	Err       error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("chain adapter %s: %s: %v", e.Network, e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Retryable reports whether err is an adapter error eligible for retry.
func Retryable(err error) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Retryable
}

// Adapter is the contract every network implementation satisfies. Commit
// blocks until the adapter's own confirmation policy is satisfied and the
// returned reference is durable, or fails. Both operations honor ctx
// cancellation and deadlines.
type Adapter interface {
	Network() tiers.NetworkID
	Commit(ctx context.Context, payload CommitPayload) (*CommitReceipt, error)
	Read(ctx context.Context, ref string) (*CommitPayload, error)
}
