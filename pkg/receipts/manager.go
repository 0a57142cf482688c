// Package receipts issues and verifies blockchain-anchored verification
// receipts. The manager is the only writer of receipt state; verification is
// read-only and returns tagged results instead of errors.
package receipts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/Mindburn-Labs/veritas/pkg/audit"
	"github.com/Mindburn-Labs/veritas/pkg/canonicalize"
	"github.com/Mindburn-Labs/veritas/pkg/chain"
	"github.com/Mindburn-Labs/veritas/pkg/contracts"
	"github.com/Mindburn-Labs/veritas/pkg/crypto"
	"github.com/Mindburn-Labs/veritas/pkg/merkle"
	"github.com/Mindburn-Labs/veritas/pkg/store"
	"github.com/Mindburn-Labs/veritas/pkg/tiers"
)

const (
	defaultMaxRetries = 3
	defaultRetryBase  = 200 * time.Millisecond
)

// ErrUnknownNetwork reports an issuance against a network with no registered
// adapter.
var ErrUnknownNetwork = errors.New("receipts: no adapter for network")

// Config wires a Manager. Signer, Policy and Store are required.
type Config struct {
	Signer  crypto.Signer
	KeyRing *crypto.KeyRing
	Policy  *tiers.Policy
	Store   store.ReceiptStore
	Hasher  *crypto.Hasher
	Auditor audit.Logger
	Logger  *slog.Logger
	// Lock serializes issuance across processes. Defaults to NopLock.
	Lock IssuanceLock
	// MaxRetries bounds commit retries for retryable adapter failures.
	MaxRetries int
	RetryBase  time.Duration
}

// Manager issues receipts for intelligence packages and verifies presented
// receipts against recomputed evidence.
type Manager struct {
	signer     crypto.Signer
	keyring    *crypto.KeyRing
	policy     *tiers.Policy
	receipts   store.ReceiptStore
	hasher     *crypto.Hasher
	auditor    audit.Logger
	logger     *slog.Logger
	lock       IssuanceLock
	maxRetries int
	retryBase  time.Duration

	adapters map[tiers.NetworkID]chain.Adapter
	batchers map[tiers.NetworkID]*EpochBatcher

	group singleflight.Group
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.Signer == nil {
		return nil, errors.New("receipts: signer is required")
	}
	if cfg.Policy == nil {
		return nil, errors.New("receipts: tier policy is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("receipts: receipt store is required")
	}
	m := &Manager{
		signer:     cfg.Signer,
		keyring:    cfg.KeyRing,
		policy:     cfg.Policy,
		receipts:   cfg.Store,
		hasher:     cfg.Hasher,
		auditor:    cfg.Auditor,
		logger:     cfg.Logger,
		lock:       cfg.Lock,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryBase,
		adapters:   make(map[tiers.NetworkID]chain.Adapter),
		batchers:   make(map[tiers.NetworkID]*EpochBatcher),
	}
	if m.hasher == nil {
		m.hasher = crypto.NewDefaultHasher()
	}
	if m.auditor == nil {
		m.auditor = audit.Nop{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.lock == nil {
		m.lock = NopLock{}
	}
	if m.maxRetries <= 0 {
		m.maxRetries = defaultMaxRetries
	}
	if m.retryBase <= 0 {
		m.retryBase = defaultRetryBase
	}
	return m, nil
}

// RegisterAdapter makes a network available for issuance and verification.
func (m *Manager) RegisterAdapter(a chain.Adapter) {
	m.adapters[a.Network()] = a
}

// RegisterBatcher routes hash-only commits for a network through an epoch
// batcher instead of one transaction per receipt. The epoch commit carries
// every waiter in the batch, so it gets the same retry treatment as a direct
// commit.
func (m *Manager) RegisterBatcher(network tiers.NetworkID, b *EpochBatcher) {
	b.commit = func(ctx context.Context, payload chain.CommitPayload) (*chain.CommitReceipt, error) {
		return m.commitWithRetries(ctx, b.adapter, payload)
	}
	m.batchers[network] = b
}

// IssueReceipt canonicalizes and hashes the package, enforces the tier
// policy, anchors the hash (or full data) on the target network, and persists
// a signed receipt. The returned receipt is always terminal: COMMITTED on
// success, FAILED (alongside a non-nil error) when the commit could not be
// completed. Re-issuing the same package for the same actor returns the
// existing committed receipt.
func (m *Manager) IssueReceipt(ctx context.Context, pkg *contracts.IntelligencePackage, network tiers.NetworkID) (*contracts.Receipt, error) {
	if pkg == nil {
		return nil, errors.New("receipts: nil package")
	}
	if pkg.ActorID == "" {
		return nil, errors.New("receipts: package actor id is required")
	}

	canonical, err := canonicalize.Canonicalize(pkg)
	if err != nil {
		return nil, fmt.Errorf("receipts: canonicalize package: %w", err)
	}
	digest := m.hasher.Hash(canonical)
	tier := tiers.TierFor(pkg.Classification)

	// Policy gate before any network I/O.
	strategy, err := m.policy.StrategyFor(tier, network)
	if err != nil {
		m.record(ctx, audit.EventIssuance, pkg.ActorID, "issue_receipt_denied", digest.String(), map[string]interface{}{
			"tier":    string(tier),
			"network": string(network),
		})
		return nil, err
	}
	adapter, ok := m.adapters[network]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNetwork, network)
	}

	key := pkg.ActorID + "\x00" + digest.String()
	v, err, _ := m.group.Do(key, func() (interface{}, error) {
		if existing, err := m.receipts.GetCommittedByActorAndHash(ctx, pkg.ActorID, digest.String()); err == nil {
			return issueResult{receipt: existing}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		release, err := m.lock.Acquire(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("receipts: acquire issuance lock: %w", err)
		}
		defer release()

		// Another process may have issued while we waited for the lock.
		if existing, err := m.receipts.GetCommittedByActorAndHash(ctx, pkg.ActorID, digest.String()); err == nil {
			return issueResult{receipt: existing}, nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}

		r, issueErr := m.issue(ctx, pkg, canonical, digest, tier, strategy, adapter)
		if r == nil && issueErr != nil {
			return nil, issueErr
		}
		// A FAILED receipt travels alongside its error so callers can
		// persist and inspect the terminal record.
		return issueResult{receipt: r, err: issueErr}, nil
	})
	if err != nil {
		return nil, err
	}
	res := v.(issueResult)
	return res.receipt, res.err
}

type issueResult struct {
	receipt *contracts.Receipt
	err     error
}

type commitOutcome struct {
	txRef       string
	committedAt time.Time
	root        crypto.Digest
	proof       *merkle.Proof
	err         error
}

func (m *Manager) issue(ctx context.Context, pkg *contracts.IntelligencePackage, canonical []byte,
	digest crypto.Digest, tier tiers.SecurityTier, strategy *tiers.CommitmentStrategy,
	adapter chain.Adapter) (*contracts.Receipt, error) {

	signature, err := m.signer.Sign(digest)
	if err != nil {
		return nil, fmt.Errorf("receipts: sign package digest: %w", err)
	}

	r := &contracts.Receipt{
		ReceiptID:         uuid.New().String(),
		ActorID:           pkg.ActorID,
		PackageHash:       digest.String(),
		Signature:         signature,
		SignerPublicKeyID: m.signer.KeyID(),
		Network:           string(adapter.Network()),
		Tier:              string(tier),
		Status:            contracts.StatusPending,
	}

	// The commit runs to completion even if the caller gives up: an
	// in-flight transaction cannot be recalled, so its final outcome is
	// observed and audited either way.
	outcomeCh := make(chan commitOutcome, 1)
	go func() {
		outcomeCh <- m.commit(context.WithoutCancel(ctx), digest, canonical, strategy, adapter)
	}()

	select {
	case outcome := <-outcomeCh:
		return m.finalize(ctx, r, outcome)
	case <-ctx.Done():
		r.Status = contracts.StatusFailed
		if err := m.receipts.Put(context.WithoutCancel(ctx), r); err != nil {
			m.logger.Error("failed to persist abandoned receipt", "receipt_id", r.ReceiptID, "error", err)
		}
		go func() {
			outcome := <-outcomeCh
			meta := map[string]interface{}{"receipt_id": r.ReceiptID, "abandoned": true}
			if outcome.err != nil {
				meta["error"] = outcome.err.Error()
			} else {
				meta["tx_reference"] = outcome.txRef
			}
			m.record(context.Background(), audit.EventCommit, pkg.ActorID, "commit_after_cancel", digest.String(), meta)
		}()
		return r, ctx.Err()
	}
}

func (m *Manager) commit(ctx context.Context, digest crypto.Digest, canonical []byte,
	strategy *tiers.CommitmentStrategy, adapter chain.Adapter) commitOutcome {

	if strategy.CommitHashOnly {
		if b, ok := m.batchers[adapter.Network()]; ok {
			anchored, err := b.Anchor(ctx, digest)
			if err != nil {
				return commitOutcome{err: err}
			}
			return commitOutcome{
				txRef:       anchored.Commit.TxRef,
				committedAt: anchored.Commit.CommittedAt,
				root:        anchored.Root,
				proof:       anchored.Proof,
			}
		}
		rec, err := m.commitWithRetries(ctx, adapter, chain.HashOnly(digest))
		if err != nil {
			return commitOutcome{err: err}
		}
		return commitOutcome{txRef: rec.TxRef, committedAt: rec.CommittedAt}
	}

	rec, err := m.commitWithRetries(ctx, adapter, chain.FullData(canonical, digest))
	if err != nil {
		return commitOutcome{err: err}
	}
	return commitOutcome{txRef: rec.TxRef, committedAt: rec.CommittedAt}
}

func (m *Manager) commitWithRetries(ctx context.Context, adapter chain.Adapter, payload chain.CommitPayload) (*chain.CommitReceipt, error) {
	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := m.retryBase << (attempt - 1)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			m.logger.Warn("retrying chain commit",
				"network", adapter.Network(), "attempt", attempt, "error", lastErr)
		}
		rec, err := adapter.Commit(ctx, payload)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if !chain.Retryable(err) {
			break
		}
	}
	return nil, lastErr
}

func (m *Manager) finalize(ctx context.Context, r *contracts.Receipt, outcome commitOutcome) (*contracts.Receipt, error) {
	if outcome.err != nil {
		r.Status = contracts.StatusFailed
		if err := m.receipts.Put(ctx, r); err != nil {
			m.logger.Error("failed to persist failed receipt", "receipt_id", r.ReceiptID, "error", err)
		}
		m.record(ctx, audit.EventIssuance, r.ActorID, "issue_receipt_failed", r.PackageHash, map[string]interface{}{
			"receipt_id": r.ReceiptID,
			"network":    r.Network,
			"error":      outcome.err.Error(),
		})
		return r, outcome.err
	}

	r.Status = contracts.StatusCommitted
	r.TxReference = outcome.txRef
	r.CommittedAt = outcome.committedAt
	if !outcome.root.IsZero() {
		r.MerkleRoot = outcome.root.String()
		r.MerkleProof = proofToWire(outcome.proof)
	}
	if err := m.receipts.Put(ctx, r); err != nil {
		return nil, fmt.Errorf("receipts: persist receipt: %w", err)
	}
	m.record(ctx, audit.EventIssuance, r.ActorID, "issue_receipt", r.PackageHash, map[string]interface{}{
		"receipt_id":   r.ReceiptID,
		"network":      r.Network,
		"tier":         r.Tier,
		"tx_reference": r.TxReference,
	})
	return r, nil
}

// VerifyReceipt recomputes the package hash, checks the signature, replays
// the Merkle proof when present, and confirms the on-chain anchor. Every
// failure mode is a distinct result value; the audit trail records all of
// them.
func (m *Manager) VerifyReceipt(ctx context.Context, r *contracts.Receipt, pkg *contracts.IntelligencePackage) contracts.VerificationResult {
	result := m.verify(ctx, r, pkg)
	meta := map[string]interface{}{"result": string(result)}
	if r != nil {
		meta["receipt_id"] = r.ReceiptID
	}
	m.record(ctx, audit.EventVerification, actorOf(pkg), "verify_receipt", packageHashOf(r), meta)
	return result
}

func (m *Manager) verify(ctx context.Context, r *contracts.Receipt, pkg *contracts.IntelligencePackage) contracts.VerificationResult {
	if r == nil || pkg == nil {
		return contracts.VerificationHashMismatch
	}

	canonical, err := canonicalize.Canonicalize(pkg)
	if err != nil {
		return contracts.VerificationHashMismatch
	}
	claimed, err := crypto.ParseDigest(r.PackageHash)
	if err != nil {
		return contracts.VerificationHashMismatch
	}
	hasher, err := crypto.NewHasher(claimed.Algorithm)
	if err != nil {
		return contracts.VerificationHashMismatch
	}
	recomputed := hasher.Hash(canonical)
	if eq, err := recomputed.Equal(claimed); err != nil || !eq {
		return contracts.VerificationHashMismatch
	}

	if m.keyring == nil {
		return contracts.VerificationSignatureInvalid
	}
	if err := m.keyring.Verify(r.SignerPublicKeyID, claimed, r.Signature); err != nil {
		return contracts.VerificationSignatureInvalid
	}

	anchored := claimed
	if r.MerkleRoot != "" {
		root, err := crypto.ParseDigest(r.MerkleRoot)
		if err != nil {
			return contracts.VerificationProofInvalid
		}
		proof, err := proofFromWire(claimed, r.MerkleProof)
		if err != nil {
			return contracts.VerificationProofInvalid
		}
		if !merkle.VerifyProof(root, claimed, proof) {
			return contracts.VerificationProofInvalid
		}
		anchored = root
	}

	adapter, ok := m.adapters[tiers.NetworkID(r.Network)]
	if !ok || r.TxReference == "" {
		return contracts.VerificationRootUnavailable
	}
	payload, err := adapter.Read(ctx, r.TxReference)
	if err != nil {
		return contracts.VerificationRootUnavailable
	}

	switch payload.Kind {
	case chain.KindHashOnly:
		if eq, err := payload.Digest.Equal(anchored); err != nil || !eq {
			return contracts.VerificationProofInvalid
		}
	case chain.KindFullData:
		committed := hasher.Hash(payload.Data)
		if eq, err := committed.Equal(anchored); err != nil || !eq {
			return contracts.VerificationProofInvalid
		}
	default:
		return contracts.VerificationRootUnavailable
	}

	return contracts.VerificationValid
}

// Supersede issues a fresh receipt for the corrected package and links it to
// the receipt it replaces. Committed receipts are immutable; this is the only
// revocation mechanism. Issuance runs through the same idempotent path as
// IssueReceipt, so concurrent supersessions of one receipt converge on a
// single replacement.
func (m *Manager) Supersede(ctx context.Context, oldReceiptID string, pkg *contracts.IntelligencePackage, network tiers.NetworkID) (*contracts.Receipt, error) {
	old, err := m.receipts.Get(ctx, oldReceiptID)
	if err != nil {
		return nil, fmt.Errorf("receipts: load superseded receipt: %w", err)
	}

	r, err := m.IssueReceipt(ctx, pkg, network)
	if err != nil {
		return r, err
	}
	if r.ReceiptID == old.ReceiptID {
		return nil, fmt.Errorf("receipts: package behind %s is unchanged, nothing to supersede", oldReceiptID)
	}
	if r.Supersedes == old.ReceiptID {
		// A concurrent supersession already linked this replacement.
		return r, nil
	}
	// Callers sharing one issuance flight see the same receipt value, so the
	// link is written on a copy.
	linked := *r
	linked.Supersedes = old.ReceiptID
	if err := m.receipts.Update(ctx, &linked); err != nil {
		return nil, fmt.Errorf("receipts: link superseded receipt: %w", err)
	}
	return &linked, nil
}

func (m *Manager) record(ctx context.Context, t audit.EventType, actor, action, resource string, meta map[string]interface{}) {
	if err := m.auditor.Record(ctx, t, actor, action, resource, meta); err != nil {
		m.logger.Error("audit record failed", "action", action, "error", err)
	}
}

func proofToWire(p *merkle.Proof) []contracts.ProofStep {
	if p == nil {
		return nil
	}
	steps := make([]contracts.ProofStep, len(p.Steps))
	for i, s := range p.Steps {
		steps[i] = contracts.ProofStep{
			SiblingHash: s.Sibling.String(),
			Position:    string(s.Position),
		}
	}
	return steps
}

func proofFromWire(leaf crypto.Digest, steps []contracts.ProofStep) (*merkle.Proof, error) {
	p := &merkle.Proof{Leaf: leaf}
	for _, s := range steps {
		sibling, err := crypto.ParseDigest(s.SiblingHash)
		if err != nil {
			return nil, err
		}
		p.Steps = append(p.Steps, merkle.Step{
			Sibling:  sibling,
			Position: merkle.Position(s.Position),
		})
	}
	return p, nil
}

func actorOf(pkg *contracts.IntelligencePackage) string {
	if pkg == nil {
		return ""
	}
	return pkg.ActorID
}

func packageHashOf(r *contracts.Receipt) string {
	if r == nil {
		return ""
	}
	return r.PackageHash
}
