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

package v1alpha1

import (
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// =============================================================================
// MicroserviceSpec defines the desired state of Microservice.
//
// This is where teams declare WHAT they want to run:
//   - Image/Port: the container to run and the port it listens on
//   - Replicas: how many copies (bounded by the resource tier)
//   - Tier: the resource tier (1-5), which controls resource requests/limits
//     and which platform features (ingress, autoscaling) are available
//   - Config: runtime configuration rendered into a ConfigMap
//   - Toggles: optional platform features
//
// The controller realizes this intent by creating and owning a Deployment,
// a Service, a ConfigMap, and (depending on toggles and tier) an Ingress,
// a HorizontalPodAutoscaler, and a PodDisruptionBudget.
// =============================================================================
type MicroserviceSpec struct {
	// Image is the container image to deploy, including the tag.
	//
	// Example: registry.company.com/orders:1.4.2
	//
	// +required
	// +kubebuilder:validation:MinLength=1
	Image string `json:"image"`

	// Replicas is the desired number of pods. Must fall within the
	// allowed range for the resource tier. If unset, the tier's default
	// is used.
	//
	// When autoscaling is enabled the controller stops managing this
	// field on the Deployment - the autoscaler owns it from then on.
	//
	// +optional
	Replicas *int32 `json:"replicas,omitempty"`

	// Port is the container port the service listens on.
	//
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65535
	// +kubebuilder:default=8080
	// +optional
	Port int32 `json:"port,omitempty"`

	// Tier selects the resource tier (1 = smallest, 5 = largest).
	// The tier determines CPU/memory requests and limits, the allowed
	// replica range, and whether ingress/autoscaling/disruption-budget
	// toggles may be enabled (tier 2 and above).
	//
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=5
	// +kubebuilder:default=1
	// +optional
	Tier int32 `json:"tier,omitempty"`

	// Team is the owning team. Propagated as a label to every dependent
	// resource for cost attribution and on-call routing.
	//
	// +optional
	Team string `json:"team,omitempty"`

	// Config is free-form runtime configuration for the application.
	// Keys must be valid environment-variable identifiers. The data is
	// rendered into a ConfigMap mounted as env vars by the Deployment.
	//
	// +optional
	Config map[string]string `json:"config,omitempty"`

	// Toggles enables optional platform features.
	//
	// +optional
	Toggles *FeatureToggles `json:"toggles,omitempty"`
}

// =============================================================================
// FeatureToggles enables optional platform features for a Microservice.
// All toggles require tier 2 or above.
// =============================================================================
type FeatureToggles struct {
	// Ingress exposes the service externally at
	// <name>.<namespace>.<cluster ingress domain>.
	//
	// +optional
	Ingress *bool `json:"ingress,omitempty"`

	// Autoscaling creates a HorizontalPodAutoscaler spanning the tier's
	// replica range. While enabled, the controller no longer reconciles
	// the Deployment's replica count.
	//
	// +optional
	Autoscaling *bool `json:"autoscaling,omitempty"`

	// DisruptionBudget creates a PodDisruptionBudget keeping
	// max(1, tierMin-1) pods available during voluntary disruptions.
	//
	// +optional
	DisruptionBudget *bool `json:"disruptionBudget,omitempty"`
}

// DefaultPort is the container port assumed when the spec leaves
// Port unset.
const DefaultPort int32 = 8080

// MicroservicePhase summarizes the lifecycle of a Microservice.
// +kubebuilder:validation:Enum=Pending;Running;Degraded
type MicroservicePhase string

const (
	// PhasePending means dependents exist but have not all become ready yet.
	PhasePending MicroservicePhase = "Pending"

	// PhaseRunning means every dependent is present and healthy.
	PhaseRunning MicroservicePhase = "Running"

	// PhaseDegraded means the spec is invalid, a dependent conflicts with
	// a foreign object, or a dependent reports failure.
	PhaseDegraded MicroservicePhase = "Degraded"
)

// =============================================================================
// MicroserviceStatus defines the observed state of Microservice.
//
// Written only by the controller. Users observe it to learn whether their
// declared intent has been realized.
// =============================================================================
type MicroserviceStatus struct {
	// Phase is a coarse one-word summary of the resource's health.
	//
	// +optional
	Phase MicroservicePhase `json:"phase,omitempty"`

	// ReadyReplicas is the number of pods reporting ready, copied from
	// the owned Deployment.
	//
	// +optional
	ReadyReplicas int32 `json:"readyReplicas,omitempty"`

	// URL is the externally reachable address, populated when the
	// ingress toggle is enabled and the route has been created.
	//
	// +optional
	URL string `json:"url,omitempty"`

	// ObservedGeneration is the spec generation the controller acted on
	// most recently. Users can compare it against metadata.generation to
	// tell whether status reflects the latest edit.
	//
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// Conditions represent the detailed state of the Microservice.
	// Standard condition types:
	//   - "Ready": True when all dependents are present and healthy
	//   - "Progressing": True while dependents are converging
	//   - "Degraded": True on validation failure or ownership conflict
	//
	// +listType=map
	// +listMapKey=type
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:printcolumn:name="Phase",type=string,JSONPath=`.status.phase`
// +kubebuilder:printcolumn:name="Ready",type=integer,JSONPath=`.status.readyReplicas`
// +kubebuilder:printcolumn:name="Tier",type=integer,JSONPath=`.spec.tier`
// +kubebuilder:printcolumn:name="Age",type=date,JSONPath=`.metadata.creationTimestamp`

// Microservice is the Schema for the microservices API
type Microservice struct {
	metav1.TypeMeta `json:",inline"`

	// metadata is a standard object metadata
	// +optional
	metav1.ObjectMeta `json:"metadata,omitzero"`

	// spec defines the desired state of Microservice
	// +required
	Spec MicroserviceSpec `json:"spec"`

	// status defines the observed state of Microservice
	// +optional
	Status MicroserviceStatus `json:"status,omitzero"`
}

// +kubebuilder:object:root=true

// MicroserviceList contains a list of Microservice
type MicroserviceList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitzero"`
	Items           []Microservice `json:"items"`
}

func init() {
	SchemeBuilder.Register(&Microservice{}, &MicroserviceList{})
}
