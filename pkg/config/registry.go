package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/veritas/pkg/tiers"
)

// Registry is the on-disk network registry. Each entry declares one commit
// target and whether it is permissioned; the tier policy is derived from it
// once at startup and never mutated afterwards.
type Registry struct {
	Networks []tiers.Network `yaml:"networks" json:"networks"`
}

// LoadRegistry reads and parses a network registry YAML file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load registry %q: %w", path, err)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses registry YAML. An empty network list is rejected here
// rather than at first use so a misconfigured deployment fails at startup.
func ParseRegistry(data []byte) (*Registry, error) {
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	if len(reg.Networks) == 0 {
		return nil, fmt.Errorf("parse registry: no networks declared")
	}
	return &reg, nil
}

// Policy builds the tier policy over the registry's networks.
func (r *Registry) Policy() (*tiers.Policy, error) {
	return tiers.NewPolicy(r.Networks)
}
