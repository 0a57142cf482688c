// Package tiers maps classification labels to security tiers and decides
// how much of a package may be exposed on which network. The policy object
// is immutable and injected once at process start; nothing here is a mutable
// global.
package tiers

import (
	"fmt"
	"sort"
	"strings"
)

// SecurityTier is the closed classification-derived exposure level. Raw
// classification strings are converted exactly once at the boundary; the
// rest of the pipeline branches only on this enum.
type SecurityTier string

const (
	Tier1Unclassified SecurityTier = "TIER1_UNCLASSIFIED"
	Tier2SBU          SecurityTier = "TIER2_SBU"
	Tier3Classified   SecurityTier = "TIER3_CLASSIFIED"
)

// TierFor derives the security tier from a free-text classification label.
// The mapping is total and fails closed: any unrecognized label maps to
// Tier3Classified, never to a less restrictive tier.
func TierFor(classification string) SecurityTier {
	switch strings.ToUpper(strings.TrimSpace(classification)) {
	case "UNCLASSIFIED", "PUBLIC", "U":
		return Tier1Unclassified
	case "SBU", "SENSITIVE BUT UNCLASSIFIED", "FOUO", "CUI":
		return Tier2SBU
	case "CLASSIFIED", "CONFIDENTIAL", "SECRET", "TOP SECRET", "TS":
		return Tier3Classified
	default:
		return Tier3Classified
	}
}

// NetworkID identifies a configured blockchain target.
type NetworkID string

// Network describes one commit target. Permissioned networks enforce access
// control on reads; public networks expose committed data to anyone.
type Network struct {
	ID           NetworkID `yaml:"id" json:"id"`
	Permissioned bool      `yaml:"permissioned" json:"permissioned"`
	Description  string    `yaml:"description,omitempty" json:"description,omitempty"`
}

// CommitmentStrategy is the exposure decision for one (tier, network) pair.
// It is a pure function of its inputs; validation happens here, before any
// network call is attempted.
type CommitmentStrategy struct {
	Tier            SecurityTier `json:"tier"`
	Network         NetworkID    `json:"network"`
	AllowedNetworks []NetworkID  `json:"allowed_networks"`
	CommitFullData  bool         `json:"commit_full_data"`
	CommitHashOnly  bool         `json:"commit_hash_only"`
	RequiresAuth    bool         `json:"requires_auth"`
}

// TierViolationError reports a (tier, network) combination the policy
// forbids. It is a caller error, surfaced synchronously and never retried.
type TierViolationError struct {
	Tier    SecurityTier
	Network NetworkID
	Reason  string
}

func (e *TierViolationError) Error() string {
	return fmt.Sprintf("tier violation: %s on %q: %s", e.Tier, e.Network, e.Reason)
}

// Policy is the immutable network registry plus the tier exposure table.
type Policy struct {
	networks map[NetworkID]Network
}

// NewPolicy builds a policy over the given networks. Duplicate ids are
// rejected so a misconfigured registry cannot shadow a permissioned network
// with a public one.
func NewPolicy(networks []Network) (*Policy, error) {
	if len(networks) == 0 {
		return nil, fmt.Errorf("tiers: policy requires at least one network")
	}
	m := make(map[NetworkID]Network, len(networks))
	for _, n := range networks {
		if n.ID == "" {
			return nil, fmt.Errorf("tiers: network with empty id")
		}
		if _, dup := m[n.ID]; dup {
			return nil, fmt.Errorf("tiers: duplicate network id %q", n.ID)
		}
		m[n.ID] = n
	}
	return &Policy{networks: m}, nil
}

// Network looks up a configured network.
func (p *Policy) Network(id NetworkID) (Network, bool) {
	n, ok := p.networks[id]
	return n, ok
}

// AllowedNetworks lists the network ids a tier may commit to, sorted for
// deterministic output.
func (p *Policy) AllowedNetworks(tier SecurityTier) []NetworkID {
	var out []NetworkID
	for id, n := range p.networks {
		if tierPermits(tier, n) {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// StrategyFor validates the (tier, network) pair and returns the exposure
// strategy. It must be consulted before any adapter call; a violation is a
// programming error in the caller, never silently downgraded.
//
// Exposure table:
//
//	Tier1: full package data, public chains, no auth
//	Tier2: full data, permissioned chains only, auth required
//	Tier3: hash only, any chain, auth required
func (p *Policy) StrategyFor(tier SecurityTier, network NetworkID) (*CommitmentStrategy, error) {
	net, ok := p.networks[network]
	if !ok {
		return nil, &TierViolationError{Tier: tier, Network: network, Reason: "network not in registry"}
	}

	s := &CommitmentStrategy{
		Tier:            tier,
		Network:         network,
		AllowedNetworks: p.AllowedNetworks(tier),
	}

	switch tier {
	case Tier1Unclassified:
		if net.Permissioned {
			return nil, &TierViolationError{Tier: tier, Network: network,
				Reason: "unclassified commits target public chains"}
		}
		s.CommitFullData = true
	case Tier2SBU:
		if !net.Permissioned {
			return nil, &TierViolationError{Tier: tier, Network: network,
				Reason: "SBU data may not reach a public chain"}
		}
		s.CommitFullData = true
		s.RequiresAuth = true
	default:
		// Tier3 and anything unknown: hash only, zero data exposure.
		s.CommitHashOnly = true
		s.RequiresAuth = true
	}
	return s, nil
}

func tierPermits(tier SecurityTier, n Network) bool {
	switch tier {
	case Tier1Unclassified:
		return !n.Permissioned
	case Tier2SBU:
		return n.Permissioned
	default:
		return true
	}
}
