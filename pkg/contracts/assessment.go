package contracts

import "time"

// AgencyAssessment is one agency's confidence judgment of the intelligence
// package behind a receipt. An agency holds at most one live assessment per
// receipt; resubmission must carry a strictly higher Version or it is
// rejected as a duplicate.
type AgencyAssessment struct {
	AssessmentID   string    `json:"assessment_id"`
	ReceiptID      string    `json:"receipt_id"`
	AgencyID       string    `json:"agency_id"`
	Confidence     float64   `json:"confidence"` // [0,1]
	Version        uint64    `json:"version"`
	SubmittedAt    time.Time `json:"submitted_at"`
	AssessmentHash string    `json:"assessment_hash,omitempty"`
}

// SubmissionOutcome reports whether an assessment submission was accepted.
type SubmissionOutcome string

const (
	SubmissionAccepted          SubmissionOutcome = "ACCEPTED"
	SubmissionDuplicateRejected SubmissionOutcome = "DUPLICATE_REJECTED"
)

// ConsensusResult is the statistical reconciliation of all assessments
// referencing one receipt. It is derived on demand and never persisted as a
// source of truth, so stored and recomputed consensus cannot drift.
type ConsensusResult struct {
	ReceiptID      string   `json:"receipt_id"`
	Mean           float64  `json:"mean"`
	StdDev         float64  `json:"stddev"`
	N              int      `json:"n"`
	Outliers       []string `json:"outliers,omitempty"`
	Recommendation string   `json:"recommendation"`
}
