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

package controller

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	appsv1alpha1 "github.com/platform-dev/microservice-operator/api/v1alpha1"
	"github.com/platform-dev/microservice-operator/internal/policy"
)

// =============================================================================
// Semantic spec validation.
//
// CRD markers catch structural problems (missing image, port out of range)
// at admission time. The checks here are the semantic ones that need the
// tier policy table: replica ranges, tier entitlements, and the config
// payload schema. A spec that fails these checks is terminal-until-edited,
// not a transient error - retrying on a timer would spin uselessly.
// =============================================================================

// configSchema constrains the free-form spec.config payload: keys must be
// valid environment-variable identifiers, values are bounded strings.
const configSchema = `{
	"type": "object",
	"propertyNames": {"pattern": "^[A-Z][A-Z0-9_]*$"},
	"additionalProperties": {"type": "string", "maxLength": 4096}
}`

// validateSpec checks the Microservice spec against the tier policy and the
// config schema. Returns the tier envelope on success, or a terminalError
// whose reason/message are surfaced as a Degraded condition.
func validateSpec(ms *appsv1alpha1.Microservice, table policy.Table) (policy.Tier, error) {
	tierNum := effectiveTier(ms)

	tier, ok := table.Lookup(tierNum)
	if !ok {
		return policy.Tier{}, terminal(ReasonInvalidSpec,
			"tier %d is outside the supported range %d-%d", tierNum, policy.MinTier, policy.MaxTier)
	}

	if ms.Spec.Image == "" {
		return policy.Tier{}, terminal(ReasonInvalidSpec, "spec.image must not be empty")
	}

	if ms.Spec.Replicas != nil {
		replicas := *ms.Spec.Replicas
		if replicas < tier.MinReplicas || replicas > tier.MaxReplicas {
			return policy.Tier{}, terminal(ReasonInvalidSpec,
				"replicas %d outside allowed range %d-%d for tier %d",
				replicas, tier.MinReplicas, tier.MaxReplicas, tierNum)
		}
	}

	if ms.Spec.Port < 0 || ms.Spec.Port > 65535 {
		return policy.Tier{}, terminal(ReasonInvalidSpec, "port %d is not a valid port number", ms.Spec.Port)
	}

	// Feature toggles are a tier entitlement
	if !policy.AllowsFeatures(tierNum) {
		switch {
		case ingressEnabled(ms):
			return policy.Tier{}, terminal(ReasonInvalidSpec,
				"ingress requires tier %d or above, got tier %d", policy.FeatureTier, tierNum)
		case autoscalingEnabled(ms):
			return policy.Tier{}, terminal(ReasonInvalidSpec,
				"autoscaling requires tier %d or above, got tier %d", policy.FeatureTier, tierNum)
		case disruptionBudgetEnabled(ms):
			return policy.Tier{}, terminal(ReasonInvalidSpec,
				"disruptionBudget requires tier %d or above, got tier %d", policy.FeatureTier, tierNum)
		}
	}

	// Autoscaling owns the replica field; a fixed replica count alongside
	// it is a contradiction we refuse rather than silently ignore.
	if autoscalingEnabled(ms) && ms.Spec.Replicas != nil {
		return policy.Tier{}, terminal(ReasonInvalidSpec,
			"replicas must not be set while autoscaling is enabled")
	}

	if err := validateConfig(ms.Spec.Config); err != nil {
		return policy.Tier{}, err
	}

	return tier, nil
}

// validateConfig checks the config payload against configSchema.
func validateConfig(config map[string]string) error {
	if len(config) == 0 {
		return nil
	}

	// gojsonschema wants a generic document
	doc := make(map[string]interface{}, len(config))
	for k, v := range config {
		doc[k] = v
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(configSchema),
		gojsonschema.NewGoLoader(doc),
	)
	if err != nil {
		// Schema is a compile-time constant; failure here is a programmer
		// error, surfaced as transient so it gets logged and retried
		// rather than wedging the resource.
		return fmt.Errorf("validating config: %w", err)
	}

	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return terminal(ReasonInvalidSpec, "config rejected: %s", strings.Join(details, "; "))
	}

	return nil
}
