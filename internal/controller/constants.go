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

import "time"

// =============================================================================
// Constants for the Microservice operator.
//
// These are used for:
// - Labels stamped on every dependent resource (selection, attribution)
// - Annotations for config rollout tracking
// - Status conditions (health reporting)
// - Reconciliation timing defaults
// =============================================================================

// =============================================================================
// Labels applied to every dependent resource. LabelName doubles as the
// pod selector for the Deployment, Service, and PodDisruptionBudget.
// =============================================================================
const (
	// LabelName records which Microservice the dependent belongs to
	LabelName = "apps.platform.dev/name"

	// LabelManagedBy identifies this resource is managed by our operator
	LabelManagedBy = "app.kubernetes.io/managed-by"

	// LabelTeam propagates spec.team for cost attribution
	LabelTeam = "apps.platform.dev/team"

	// ManagedByValue is the value for LabelManagedBy
	ManagedByValue = "microservice-operator"
)

// AnnotationConfigChecksum stores a SHA256 hash of the rendered config on
// the pod template, so that a config edit rolls the Deployment's pods.
const AnnotationConfigChecksum = "apps.platform.dev/config-checksum"

// =============================================================================
// Condition types for Microservice status.
// These follow Kubernetes conventions for reporting resource health.
// =============================================================================
const (
	// ConditionTypeReady indicates overall health
	// True = all dependents present and healthy
	ConditionTypeReady = "Ready"

	// ConditionTypeProgressing indicates dependents are still converging
	ConditionTypeProgressing = "Progressing"

	// ConditionTypeDegraded indicates a terminal problem: invalid spec,
	// ownership conflict, or a failing dependent
	ConditionTypeDegraded = "Degraded"
)

// =============================================================================
// Condition reasons. Reasons are machine-readable; the condition message
// carries the human-readable detail.
// =============================================================================
const (
	ReasonAllDependentsReady   = "AllDependentsReady"
	ReasonDependentsConverging = "DependentsConverging"
	ReasonInvalidSpec          = "InvalidSpec"
	ReasonOwnershipConflict    = "OwnershipConflict"
	ReasonReplicaFailure       = "ReplicaFailure"
	ReasonWaitingOnDependency  = "WaitingOnDependency"
)

// =============================================================================
// Reconciliation timing defaults. Overridable via flags in cmd/main.go.
// =============================================================================
const (
	// DefaultResyncInterval is how far in the future a successful pass
	// requeues itself to self-heal against missed events or drift.
	DefaultResyncInterval = 10 * time.Minute

	// DefaultReconcileTimeout bounds a single reconciliation pass.
	DefaultReconcileTimeout = 30 * time.Second

	// DefaultBackoffBase and DefaultBackoffCap bound the per-key
	// exponential failure backoff of the work queue.
	DefaultBackoffBase = 5 * time.Second
	DefaultBackoffCap  = 5 * time.Minute
)
