// Package contracts defines the shared data contracts of the VERITAS core:
// intelligence packages, receipts, assessments, and consensus results.
package contracts

import "time"

// IntelligencePackage is an opaque, already-compiled intelligence payload
// handed to the core by an upstream producer. The core never mutates it; it
// only reads and hashes it.
type IntelligencePackage struct {
	Payload        map[string]any `json:"payload"`
	Classification string         `json:"classification"`
	ActorID        string         `json:"actor_id"`
	CreatedAt      time.Time      `json:"created_at"`
}
