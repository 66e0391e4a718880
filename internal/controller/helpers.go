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
	"crypto/sha256"
	"encoding/hex"
	"sort"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	appsv1alpha1 "github.com/platform-dev/microservice-operator/api/v1alpha1"
	"github.com/platform-dev/microservice-operator/internal/policy"
)

// =============================================================================
// Helper functions for the Microservice controller.
//
// These are utility functions that don't directly interact with the
// Kubernetes API but provide supporting logic for the reconciler.
// =============================================================================

// configChecksum generates a SHA256 hash of the rendered config.
//
// Why checksums?
// - Stamped on the pod template so a config edit rolls the pods
// - Avoids unnecessary Deployment updates when config hasn't changed
// - Keys are sorted for deterministic hashes regardless of map iteration order
func configChecksum(config map[string]string) string {
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte("="))
		h.Write([]byte(config[k]))
		h.Write([]byte("\n"))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// dependentLabels returns the labels stamped on every dependent resource.
// LabelName is also the pod selector, so it must be stable across updates.
func dependentLabels(ms *appsv1alpha1.Microservice) map[string]string {
	labels := map[string]string{
		LabelName:      ms.Name,
		LabelManagedBy: ManagedByValue,
	}
	if ms.Spec.Team != "" {
		labels[LabelTeam] = ms.Spec.Team
	}
	return labels
}

// selectorLabels returns the subset of labels used as the pod selector.
// Kept separate from dependentLabels because selectors are immutable on
// Deployments - adding a team later must not change the selector.
func selectorLabels(ms *appsv1alpha1.Microservice) map[string]string {
	return map[string]string{
		LabelName: ms.Name,
	}
}

// effectiveTier resolves the tier number, falling back to the lowest tier
// when the spec leaves it zero.
func effectiveTier(ms *appsv1alpha1.Microservice) int32 {
	if ms.Spec.Tier == 0 {
		return policy.MinTier
	}
	return ms.Spec.Tier
}

// ingressEnabled, autoscalingEnabled, and disruptionBudgetEnabled unpack
// the optional toggle pointers.
func ingressEnabled(ms *appsv1alpha1.Microservice) bool {
	return ms.Spec.Toggles != nil && ms.Spec.Toggles.Ingress != nil && *ms.Spec.Toggles.Ingress
}

func autoscalingEnabled(ms *appsv1alpha1.Microservice) bool {
	return ms.Spec.Toggles != nil && ms.Spec.Toggles.Autoscaling != nil && *ms.Spec.Toggles.Autoscaling
}

func disruptionBudgetEnabled(ms *appsv1alpha1.Microservice) bool {
	return ms.Spec.Toggles != nil && ms.Spec.Toggles.DisruptionBudget != nil && *ms.Spec.Toggles.DisruptionBudget
}

// setCondition updates or adds a condition to the Microservice status.
//
// This follows Kubernetes conventions:
// - Each condition type appears at most once
// - LastTransitionTime only updates when status changes
// - Reason and Message can update without changing transition time
func setCondition(ms *appsv1alpha1.Microservice, condType string, status metav1.ConditionStatus, reason, message string) {
	now := metav1.Now()
	condition := metav1.Condition{
		Type:               condType,
		Status:             status,
		ObservedGeneration: ms.Generation,
		LastTransitionTime: now,
		Reason:             reason,
		Message:            message,
	}

	// Find and update existing condition, or append new one
	for i, existing := range ms.Status.Conditions {
		if existing.Type == condType {
			if existing.Status != status {
				// Status changed - update everything including transition time
				ms.Status.Conditions[i] = condition
			} else {
				// Status unchanged - keep transition time, update reason/message
				ms.Status.Conditions[i].Reason = reason
				ms.Status.Conditions[i].Message = message
				ms.Status.Conditions[i].ObservedGeneration = ms.Generation
			}
			return
		}
	}

	// Condition doesn't exist, append it
	ms.Status.Conditions = append(ms.Status.Conditions, condition)
}

// findCondition returns the condition of the given type, or nil.
func findCondition(ms *appsv1alpha1.Microservice, condType string) *metav1.Condition {
	for i := range ms.Status.Conditions {
		if ms.Status.Conditions[i].Type == condType {
			return &ms.Status.Conditions[i]
		}
	}
	return nil
}
