// Package store persists receipts and agency assessments. Interfaces live
// here so the receipt manager and consensus engine depend on behavior, not on
// a concrete database.
package store

import (
	"context"
	"errors"

	"github.com/Mindburn-Labs/veritas/pkg/contracts"
)

var (
	// ErrNotFound reports a lookup with no matching row.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate reports an insert colliding with an existing primary key.
	ErrDuplicate = errors.New("store: duplicate")
	// ErrStaleVersion reports an assessment upsert whose version does not
	// exceed the stored one. The caller reports it as a rejected duplicate.
	ErrStaleVersion = errors.New("store: stale assessment version")
)

// ReceiptStore persists receipts through their lifecycle.
type ReceiptStore interface {
	Put(ctx context.Context, r *contracts.Receipt) error
	Update(ctx context.Context, r *contracts.Receipt) error
	Get(ctx context.Context, receiptID string) (*contracts.Receipt, error)
	// GetCommittedByActorAndHash finds the most recent COMMITTED receipt for
	// an (actor, package hash) pair, for idempotent issuance.
	GetCommittedByActorAndHash(ctx context.Context, actorID, packageHash string) (*contracts.Receipt, error)
	List(ctx context.Context, limit int) ([]*contracts.Receipt, error)
}

// AssessmentStore persists agency assessments with version monotonicity
// enforced at the storage boundary: Upsert succeeds only when the incoming
// version strictly exceeds the stored one for the same (receipt, agency).
type AssessmentStore interface {
	Upsert(ctx context.Context, a *contracts.AgencyAssessment) error
	ListByReceipt(ctx context.Context, receiptID string) ([]*contracts.AgencyAssessment, error)
}
