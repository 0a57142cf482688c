package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Mindburn-Labs/veritas/pkg/contracts"
)

// MemoryReceiptStore is an in-process ReceiptStore for tests and demos.
type MemoryReceiptStore struct {
	mu       sync.RWMutex
	receipts map[string]*contracts.Receipt
	order    []string
}

func NewMemoryReceiptStore() *MemoryReceiptStore {
	return &MemoryReceiptStore{receipts: make(map[string]*contracts.Receipt)}
}

func (s *MemoryReceiptStore) Put(_ context.Context, r *contracts.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.receipts[r.ReceiptID]; exists {
		return fmt.Errorf("%w: receipt %s", ErrDuplicate, r.ReceiptID)
	}
	cp := *r
	s.receipts[r.ReceiptID] = &cp
	s.order = append(s.order, r.ReceiptID)
	return nil
}

func (s *MemoryReceiptStore) Update(_ context.Context, r *contracts.Receipt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.receipts[r.ReceiptID]; !exists {
		return fmt.Errorf("%w: receipt %s", ErrNotFound, r.ReceiptID)
	}
	cp := *r
	s.receipts[r.ReceiptID] = &cp
	return nil
}

func (s *MemoryReceiptStore) Get(_ context.Context, receiptID string) (*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.receipts[receiptID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryReceiptStore) GetCommittedByActorAndHash(_ context.Context, actorID, packageHash string) (*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	// Newest first, matching insert order.
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.receipts[s.order[i]]
		if r.ActorID == actorID && r.PackageHash == packageHash && r.Status == contracts.StatusCommitted {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryReceiptStore) List(_ context.Context, limit int) ([]*contracts.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*contracts.Receipt
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *s.receipts[s.order[i]]
		out = append(out, &cp)
	}
	return out, nil
}

// MemoryAssessmentStore is an in-process AssessmentStore for tests and demos.
type MemoryAssessmentStore struct {
	mu          sync.RWMutex
	assessments map[string]map[string]*contracts.AgencyAssessment // receipt -> agency
}

func NewMemoryAssessmentStore() *MemoryAssessmentStore {
	return &MemoryAssessmentStore{
		assessments: make(map[string]map[string]*contracts.AgencyAssessment),
	}
}

func (s *MemoryAssessmentStore) Upsert(_ context.Context, a *contracts.AgencyAssessment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	byAgency, ok := s.assessments[a.ReceiptID]
	if !ok {
		byAgency = make(map[string]*contracts.AgencyAssessment)
		s.assessments[a.ReceiptID] = byAgency
	}
	if existing, ok := byAgency[a.AgencyID]; ok && a.Version <= existing.Version {
		return fmt.Errorf("%w: agency %s receipt %s version %d <= %d",
			ErrStaleVersion, a.AgencyID, a.ReceiptID, a.Version, existing.Version)
	}
	cp := *a
	cp.SubmittedAt = a.SubmittedAt.UTC().Truncate(time.Nanosecond)
	byAgency[a.AgencyID] = &cp
	return nil
}

func (s *MemoryAssessmentStore) ListByReceipt(_ context.Context, receiptID string) ([]*contracts.AgencyAssessment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byAgency := s.assessments[receiptID]
	out := make([]*contracts.AgencyAssessment, 0, len(byAgency))
	for _, a := range byAgency {
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgencyID < out[j].AgencyID })
	return out, nil
}

var (
	_ ReceiptStore    = (*MemoryReceiptStore)(nil)
	_ AssessmentStore = (*MemoryAssessmentStore)(nil)
)
