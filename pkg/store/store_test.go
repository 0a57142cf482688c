package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/veritas/pkg/contracts"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "veritas.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func receiptStores(t *testing.T) map[string]ReceiptStore {
	t.Helper()
	sqlite, err := NewSQLiteReceiptStore(openTestDB(t))
	require.NoError(t, err)
	return map[string]ReceiptStore{
		"sqlite": sqlite,
		"memory": NewMemoryReceiptStore(),
	}
}

func assessmentStores(t *testing.T) map[string]AssessmentStore {
	t.Helper()
	sqlite, err := NewSQLiteAssessmentStore(openTestDB(t))
	require.NoError(t, err)
	return map[string]AssessmentStore{
		"sqlite": sqlite,
		"memory": NewMemoryAssessmentStore(),
	}
}

func sampleReceipt(id string) *contracts.Receipt {
	return &contracts.Receipt{
		ReceiptID:         id,
		ActorID:           "analyst-7",
		PackageHash:       "sha256:6f1ed002ab5595859014ebf0951522d9a8b15b1a50e0b2d2b1b0e3b0bfa2a2aa",
		MerkleRoot:        "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		MerkleProof:       []contracts.ProofStep{{SiblingHash: "sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb", Position: "right"}},
		Signature:         "00",
		SignerPublicKeyID: "key-1",
		Network:           "agency-ledger",
		TxReference:       "ledger:1:ffff",
		CommittedAt:       time.Now().UTC().Truncate(time.Millisecond),
		Tier:              "TIER2_SBU",
		Status:            contracts.StatusCommitted,
	}
}

func TestReceiptPutGetRoundTrip(t *testing.T) {
	for name, s := range receiptStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			want := sampleReceipt("r-1")
			require.NoError(t, s.Put(ctx, want))

			got, err := s.Get(ctx, "r-1")
			require.NoError(t, err)
			assert.Equal(t, want.ActorID, got.ActorID)
			assert.Equal(t, want.PackageHash, got.PackageHash)
			assert.Equal(t, want.MerkleProof, got.MerkleProof)
			assert.Equal(t, want.Status, got.Status)
			assert.WithinDuration(t, want.CommittedAt, got.CommittedAt, time.Millisecond)
		})
	}
}

func TestReceiptPutRejectsDuplicateID(t *testing.T) {
	for name, s := range receiptStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Put(ctx, sampleReceipt("r-dup")))
			err := s.Put(ctx, sampleReceipt("r-dup"))
			require.ErrorIs(t, err, ErrDuplicate)
		})
	}
}

func TestReceiptGetUnknown(t *testing.T) {
	for name, s := range receiptStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(context.Background(), "nope")
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestReceiptUpdateTransitionsStatus(t *testing.T) {
	for name, s := range receiptStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			r := sampleReceipt("r-up")
			r.Status = contracts.StatusPending
			r.TxReference = ""
			r.CommittedAt = time.Time{}
			require.NoError(t, s.Put(ctx, r))

			r.Status = contracts.StatusCommitted
			r.TxReference = "ledger:9:cafe"
			r.CommittedAt = time.Now().UTC()
			require.NoError(t, s.Update(ctx, r))

			got, err := s.Get(ctx, "r-up")
			require.NoError(t, err)
			assert.Equal(t, contracts.StatusCommitted, got.Status)
			assert.Equal(t, "ledger:9:cafe", got.TxReference)

			require.ErrorIs(t, s.Update(ctx, sampleReceipt("ghost")), ErrNotFound)
		})
	}
}

func TestGetCommittedByActorAndHash(t *testing.T) {
	for name, s := range receiptStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			failed := sampleReceipt("r-failed")
			failed.Status = contracts.StatusFailed
			require.NoError(t, s.Put(ctx, failed))

			// A failed attempt must not satisfy idempotent lookup.
			_, err := s.GetCommittedByActorAndHash(ctx, failed.ActorID, failed.PackageHash)
			require.ErrorIs(t, err, ErrNotFound)

			committed := sampleReceipt("r-ok")
			require.NoError(t, s.Put(ctx, committed))

			got, err := s.GetCommittedByActorAndHash(ctx, committed.ActorID, committed.PackageHash)
			require.NoError(t, err)
			assert.Equal(t, "r-ok", got.ReceiptID)
		})
	}
}

func TestReceiptList(t *testing.T) {
	for name, s := range receiptStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				r := sampleReceipt(id)
				require.NoError(t, s.Put(ctx, r))
			}
			got, err := s.List(ctx, 2)
			require.NoError(t, err)
			assert.Len(t, got, 2)
		})
	}
}

func TestAssessmentUpsertVersionMonotonic(t *testing.T) {
	for name, s := range assessmentStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			a := &contracts.AgencyAssessment{
				AssessmentID: "as-1",
				ReceiptID:    "r-1",
				AgencyID:     "agency-alpha",
				Confidence:   0.80,
				Version:      1,
				SubmittedAt:  time.Now().UTC(),
			}
			require.NoError(t, s.Upsert(ctx, a))

			// Same version again is stale.
			require.ErrorIs(t, s.Upsert(ctx, a), ErrStaleVersion)

			// Lower version is stale.
			lower := *a
			lower.Version = 0
			require.ErrorIs(t, s.Upsert(ctx, &lower), ErrStaleVersion)

			// Strictly higher version replaces.
			revised := *a
			revised.AssessmentID = "as-2"
			revised.Confidence = 0.65
			revised.Version = 2
			require.NoError(t, s.Upsert(ctx, &revised))

			list, err := s.ListByReceipt(ctx, "r-1")
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, uint64(2), list[0].Version)
			assert.InDelta(t, 0.65, list[0].Confidence, 1e-9)
		})
	}
}

func TestAssessmentListOrderedByAgency(t *testing.T) {
	for name, s := range assessmentStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, agency := range []string{"charlie", "alpha", "bravo"} {
				require.NoError(t, s.Upsert(ctx, &contracts.AgencyAssessment{
					AssessmentID: "as-" + agency,
					ReceiptID:    "r-1",
					AgencyID:     agency,
					Confidence:   0.5,
					Version:      1,
					SubmittedAt:  time.Now().UTC(),
				}))
			}
			list, err := s.ListByReceipt(ctx, "r-1")
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "alpha", list[0].AgencyID)
			assert.Equal(t, "bravo", list[1].AgencyID)
			assert.Equal(t, "charlie", list[2].AgencyID)
		})
	}
}
