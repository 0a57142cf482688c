// Package consensus reconciles independent agency assessments of one receipt
// into a statistical consensus with outlier detection. Results are derived on
// demand from stored assessments and never persisted, so a recomputation can
// never disagree with a stored answer.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/veritas/pkg/audit"
	"github.com/Mindburn-Labs/veritas/pkg/canonicalize"
	"github.com/Mindburn-Labs/veritas/pkg/contracts"
	"github.com/Mindburn-Labs/veritas/pkg/crypto"
	"github.com/Mindburn-Labs/veritas/pkg/store"
)

// outlierZThreshold is the fixed z-score above which an assessment is
// flagged against its peer group.
const outlierZThreshold = 2.0

// minPeers is the smallest peer group that can anchor dispute detection.
// With fewer peers a deviation is indistinguishable from honest spread, the
// same reasoning that makes n=1 "insufficient data".
const minPeers = 3

const (
	RecommendationConsensus    = "consensus"
	RecommendationNoData       = "no assessments"
	RecommendationInsufficient = "insufficient data for dispute detection"
)

// ErrUnknownReceipt reports an assessment referencing a receipt the store has
// never seen.
var ErrUnknownReceipt = errors.New("consensus: unknown receipt")

// Engine ingests assessments and computes consensus. It is read-only with
// respect to receipts.
type Engine struct {
	assessments store.AssessmentStore
	receipts    store.ReceiptStore
	hasher      *crypto.Hasher
	auditor     audit.Logger
}

// NewEngine wires the engine. The receipt store is optional; when present,
// assessments referencing unknown receipts are rejected.
func NewEngine(assessments store.AssessmentStore, receipts store.ReceiptStore, auditor audit.Logger) (*Engine, error) {
	if assessments == nil {
		return nil, errors.New("consensus: assessment store is required")
	}
	if auditor == nil {
		auditor = audit.Nop{}
	}
	return &Engine{
		assessments: assessments,
		receipts:    receipts,
		hasher:      crypto.NewDefaultHasher(),
		auditor:     auditor,
	}, nil
}

// SubmitAssessment records one agency's confidence judgment. A resubmission
// for the same (receipt, agency) must carry a strictly higher version; an
// equal or lower version is reported as DUPLICATE_REJECTED, not an error, so
// the agency can retry with a bumped version.
func (e *Engine) SubmitAssessment(ctx context.Context, a *contracts.AgencyAssessment) (contracts.SubmissionOutcome, error) {
	if a == nil {
		return "", errors.New("consensus: nil assessment")
	}
	if a.ReceiptID == "" || a.AgencyID == "" {
		return "", errors.New("consensus: receipt id and agency id are required")
	}
	if a.Confidence < 0 || a.Confidence > 1 || math.IsNaN(a.Confidence) {
		return "", fmt.Errorf("consensus: confidence %v outside [0,1]", a.Confidence)
	}

	if e.receipts != nil {
		if _, err := e.receipts.Get(ctx, a.ReceiptID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return "", fmt.Errorf("%w: %s", ErrUnknownReceipt, a.ReceiptID)
			}
			return "", err
		}
	}

	if a.AssessmentID == "" {
		a.AssessmentID = uuid.New().String()
	}
	if a.SubmittedAt.IsZero() {
		a.SubmittedAt = time.Now().UTC()
	}
	if a.AssessmentHash == "" {
		canonical, err := canonicalize.Canonicalize(a)
		if err != nil {
			return "", fmt.Errorf("consensus: canonicalize assessment: %w", err)
		}
		a.AssessmentHash = e.hasher.Hash(canonical).String()
	}

	err := e.assessments.Upsert(ctx, a)
	if errors.Is(err, store.ErrStaleVersion) {
		e.record(ctx, a.AgencyID, "submit_assessment_rejected", a.ReceiptID, map[string]interface{}{
			"version": a.Version,
		})
		return contracts.SubmissionDuplicateRejected, nil
	}
	if err != nil {
		return "", err
	}

	e.record(ctx, a.AgencyID, "submit_assessment", a.ReceiptID, map[string]interface{}{
		"assessment_id": a.AssessmentID,
		"version":       a.Version,
	})
	return contracts.SubmissionAccepted, nil
}

// ComputeConsensus derives mean, population stddev, and outliers for every
// assessment of the receipt. Zero assessments is an explicit result, not an
// error.
func (e *Engine) ComputeConsensus(ctx context.Context, receiptID string) (*contracts.ConsensusResult, error) {
	list, err := e.assessments.ListByReceipt(ctx, receiptID)
	if err != nil {
		return nil, err
	}

	result := &contracts.ConsensusResult{ReceiptID: receiptID, N: len(list)}
	switch len(list) {
	case 0:
		result.Recommendation = RecommendationNoData
	case 1:
		result.Mean = list[0].Confidence
		result.Recommendation = RecommendationInsufficient
	default:
		mean, stddev := populationStats(list)
		result.Mean = mean
		result.StdDev = stddev
		result.Outliers = outliers(list)
		if len(result.Outliers) == 0 {
			result.Recommendation = RecommendationConsensus
		} else {
			result.Recommendation = "investigate methodology: " + strings.Join(result.Outliers, ", ")
		}
	}

	e.record(ctx, "", "compute_consensus", receiptID, map[string]interface{}{
		"n":              result.N,
		"recommendation": result.Recommendation,
	})
	return result, nil
}

// populationStats uses population formulas: all reporting agencies for a
// receipt are the full population under evaluation, not a sample.
func populationStats(list []*contracts.AgencyAssessment) (mean, stddev float64) {
	for _, a := range list {
		mean += a.Confidence
	}
	mean /= float64(len(list))

	var variance float64
	for _, a := range list {
		d := a.Confidence - mean
		variance += d * d
	}
	variance /= float64(len(list))
	return mean, math.Sqrt(variance)
}

// outliers flags each assessment against the statistics of its peers (all
// other assessments for the receipt). Testing against the full population
// would let an extreme value inflate the stddev enough to mask itself; the
// peer baseline keeps a single dissenter detectable.
func outliers(list []*contracts.AgencyAssessment) []string {
	if len(list) <= minPeers {
		return nil
	}
	var out []string
	peers := make([]*contracts.AgencyAssessment, 0, len(list)-1)
	for i, a := range list {
		peers = peers[:0]
		for j, p := range list {
			if j != i {
				peers = append(peers, p)
			}
		}
		peerMean, peerStdDev := populationStats(peers)
		dev := math.Abs(a.Confidence - peerMean)
		if peerStdDev > 0 {
			if dev/peerStdDev > outlierZThreshold {
				out = append(out, a.AgencyID)
			}
		} else if dev > 0 {
			// Unanimous peers: any deviation is a dispute.
			out = append(out, a.AgencyID)
		}
	}
	sort.Strings(out)
	return out
}

func (e *Engine) record(ctx context.Context, actor, action, resource string, meta map[string]interface{}) {
	_ = e.auditor.Record(ctx, audit.EventConsensus, actor, action, resource, meta)
}
