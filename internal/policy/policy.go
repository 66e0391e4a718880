/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package policy holds the resource-tier table: per-tier replica ranges,
// CPU/memory requests and limits, and which platform features a tier is
// entitled to. The built-in defaults can be overridden with a YAML file
// supplied via the --tier-policy flag.
package policy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
	"k8s.io/apimachinery/pkg/api/resource"
)

// MinTier and MaxTier bound the valid tier range.
const (
	MinTier = 1
	MaxTier = 5
)

// FeatureTier is the lowest tier allowed to enable ingress, autoscaling,
// and disruption-budget toggles.
const FeatureTier = 2

// Tier describes the resource envelope for one tier.
type Tier struct {
	// DefaultReplicas is used when spec.replicas is unset.
	DefaultReplicas int32 `yaml:"defaultReplicas"`

	// MinReplicas and MaxReplicas bound spec.replicas and span the
	// autoscaler's range.
	MinReplicas int32 `yaml:"minReplicas"`
	MaxReplicas int32 `yaml:"maxReplicas"`

	// Resource requests and limits, as Kubernetes quantities.
	CPURequest    string `yaml:"cpuRequest"`
	MemoryRequest string `yaml:"memoryRequest"`
	CPULimit      string `yaml:"cpuLimit"`
	MemoryLimit   string `yaml:"memoryLimit"`
}

// Table maps tier number to its resource envelope.
type Table map[int32]Tier

// Defaults returns the built-in tier table.
func Defaults() Table {
	return Table{
		1: {DefaultReplicas: 1, MinReplicas: 1, MaxReplicas: 3, CPURequest: "100m", MemoryRequest: "128Mi", CPULimit: "500m", MemoryLimit: "512Mi"},
		2: {DefaultReplicas: 3, MinReplicas: 2, MaxReplicas: 9, CPURequest: "250m", MemoryRequest: "256Mi", CPULimit: "1", MemoryLimit: "1Gi"},
		3: {DefaultReplicas: 3, MinReplicas: 2, MaxReplicas: 9, CPURequest: "250m", MemoryRequest: "256Mi", CPULimit: "1", MemoryLimit: "1Gi"},
		4: {DefaultReplicas: 3, MinReplicas: 2, MaxReplicas: 9, CPURequest: "250m", MemoryRequest: "256Mi", CPULimit: "2", MemoryLimit: "2Gi"},
		5: {DefaultReplicas: 5, MinReplicas: 3, MaxReplicas: 15, CPURequest: "500m", MemoryRequest: "512Mi", CPULimit: "4", MemoryLimit: "4Gi"},
	}
}

// Load reads a YAML tier table from path and merges it over the built-in
// defaults. Tiers absent from the file keep their default envelope.
//
// File format:
//
//	tiers:
//	  2:
//	    defaultReplicas: 4
//	    minReplicas: 2
//	    maxReplicas: 12
//	    cpuRequest: 500m
//	    ...
func Load(path string) (Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading tier policy: %w", err)
	}

	var file struct {
		Tiers map[int32]Tier `yaml:"tiers"`
	}
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parsing tier policy: %w", err)
	}

	table := Defaults()
	for n, t := range file.Tiers {
		base := table[n]
		table[n] = merge(base, t)
	}

	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tier policy: %w", err)
	}
	return table, nil
}

// merge overlays the non-zero fields of override onto base.
func merge(base, override Tier) Tier {
	out := base
	if override.DefaultReplicas != 0 {
		out.DefaultReplicas = override.DefaultReplicas
	}
	if override.MinReplicas != 0 {
		out.MinReplicas = override.MinReplicas
	}
	if override.MaxReplicas != 0 {
		out.MaxReplicas = override.MaxReplicas
	}
	if override.CPURequest != "" {
		out.CPURequest = override.CPURequest
	}
	if override.MemoryRequest != "" {
		out.MemoryRequest = override.MemoryRequest
	}
	if override.CPULimit != "" {
		out.CPULimit = override.CPULimit
	}
	if override.MemoryLimit != "" {
		out.MemoryLimit = override.MemoryLimit
	}
	return out
}

// Validate checks every tier's replica ordering and resource quantities.
func (t Table) Validate() error {
	for n := int32(MinTier); n <= MaxTier; n++ {
		tier, ok := t[n]
		if !ok {
			return fmt.Errorf("tier %d: missing", n)
		}
		if tier.MinReplicas < 1 {
			return fmt.Errorf("tier %d: minReplicas must be at least 1", n)
		}
		if tier.MinReplicas > tier.DefaultReplicas || tier.DefaultReplicas > tier.MaxReplicas {
			return fmt.Errorf("tier %d: want minReplicas <= defaultReplicas <= maxReplicas, got %d/%d/%d",
				n, tier.MinReplicas, tier.DefaultReplicas, tier.MaxReplicas)
		}
		for _, q := range []string{tier.CPURequest, tier.MemoryRequest, tier.CPULimit, tier.MemoryLimit} {
			if _, err := resource.ParseQuantity(q); err != nil {
				return fmt.Errorf("tier %d: bad quantity %q: %w", n, q, err)
			}
		}
	}
	return nil
}

// Lookup returns the envelope for tier n, or false when n is out of range.
func (t Table) Lookup(n int32) (Tier, bool) {
	tier, ok := t[n]
	return tier, ok
}

// MinAvailable is the PodDisruptionBudget floor for this tier.
func (tier Tier) MinAvailable() int32 {
	if tier.MinReplicas <= 1 {
		return 1
	}
	return tier.MinReplicas - 1
}

// AllowsFeatures reports whether tier n may enable ingress, autoscaling,
// or disruption-budget toggles.
func AllowsFeatures(n int32) bool {
	return n >= FeatureTier
}
