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

	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	policyv1 "k8s.io/api/policy/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/controller-runtime/pkg/client"

	appsv1alpha1 "github.com/platform-dev/microservice-operator/api/v1alpha1"
	"github.com/platform-dev/microservice-operator/internal/policy"
)

// =============================================================================
// Desired-state builders.
//
// One handler per dependent kind. Each desired() is a pure function of the
// Microservice spec and its tier envelope; each needsUpdate()/rewrite() pair
// touches only the fields this controller manages, so server-side defaulting
// and fields adjusted by other actors never cause update churn.
// =============================================================================

const (
	// containerPortName is the named port the Service targets.
	containerPortName = "http"

	// servicePort is the stable port the Service exposes regardless of
	// the container port.
	servicePort = 80

	// autoscaleCPUTarget is the average CPU utilization the HPA holds.
	autoscaleCPUTarget = 80
)

// allHandlers assembles the fixed dependent list in apply order. The
// ConfigMap comes first so the Deployment's config checksum always refers
// to data that already exists.
func (r *MicroserviceReconciler) allHandlers() []dependentHandler {
	return []dependentHandler{
		configMapHandler{},
		deploymentHandler{},
		serviceHandler{},
		networkPolicyHandler{},
		autoscalerHandler{},
		budgetHandler{},
		routeHandler{domain: r.IngressDomain},
	}
}

// effectivePort resolves the container port, falling back to the API
// default when the spec leaves it zero.
func effectivePort(ms *appsv1alpha1.Microservice) int32 {
	if ms.Spec.Port != 0 {
		return ms.Spec.Port
	}
	return appsv1alpha1.DefaultPort
}

// serviceURL is the externally visible URL published in status when the
// ingress is enabled.
func serviceURL(ms *appsv1alpha1.Microservice, domain string) string {
	return fmt.Sprintf("http://%s.%s.%s", ms.Name, ms.Namespace, domain)
}

// dependentMeta is the shared ObjectMeta every builder starts from.
func dependentMeta(ms *appsv1alpha1.Microservice) metav1.ObjectMeta {
	return metav1.ObjectMeta{
		Name:      ms.Name,
		Namespace: ms.Namespace,
		Labels:    dependentLabels(ms),
	}
}

// =============================================================================
// ConfigMap
// =============================================================================

type configMapHandler struct{}

func (configMapHandler) name() string { return "ConfigMap" }

func (configMapHandler) enabled(*appsv1alpha1.Microservice) bool { return true }

func (configMapHandler) newObject() client.Object { return &corev1.ConfigMap{} }

func (configMapHandler) desired(ms *appsv1alpha1.Microservice, _ policy.Tier) (client.Object, error) {
	data := make(map[string]string, len(ms.Spec.Config))
	for k, v := range ms.Spec.Config {
		data[k] = v
	}
	return &corev1.ConfigMap{
		ObjectMeta: dependentMeta(ms),
		Data:       data,
	}, nil
}

func (configMapHandler) needsUpdate(current, desired client.Object) bool {
	c := current.(*corev1.ConfigMap)
	d := desired.(*corev1.ConfigMap)
	if len(c.Data) != len(d.Data) || !equality.Semantic.DeepEqual(c.Data, d.Data) {
		return true
	}
	return !labelsApplied(d.Labels, c.Labels)
}

func (configMapHandler) rewrite(current, desired client.Object) {
	c := current.(*corev1.ConfigMap)
	d := desired.(*corev1.ConfigMap)
	c.Data = d.Data
}

// =============================================================================
// Deployment
// =============================================================================

type deploymentHandler struct{}

func (deploymentHandler) name() string { return "Deployment" }

func (deploymentHandler) enabled(*appsv1alpha1.Microservice) bool { return true }

func (deploymentHandler) newObject() client.Object { return &appsv1.Deployment{} }

func (deploymentHandler) desired(ms *appsv1alpha1.Microservice, tier policy.Tier) (client.Object, error) {
	port := effectivePort(ms)

	// When autoscaling is on, replicas belong to the HPA. Leaving the
	// field nil in desired state tells needsUpdate/rewrite to ignore it.
	var replicas *int32
	if !autoscalingEnabled(ms) {
		if ms.Spec.Replicas != nil {
			replicas = ptr.To(*ms.Spec.Replicas)
		} else {
			replicas = ptr.To(tier.DefaultReplicas)
		}
	}

	container := corev1.Container{
		Name:  ms.Name,
		Image: ms.Spec.Image,
		Ports: []corev1.ContainerPort{{
			Name:          containerPortName,
			ContainerPort: port,
			Protocol:      corev1.ProtocolTCP,
		}},
		Resources: corev1.ResourceRequirements{
			Requests: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(tier.CPURequest),
				corev1.ResourceMemory: resource.MustParse(tier.MemoryRequest),
			},
			Limits: corev1.ResourceList{
				corev1.ResourceCPU:    resource.MustParse(tier.CPULimit),
				corev1.ResourceMemory: resource.MustParse(tier.MemoryLimit),
			},
		},
		EnvFrom: []corev1.EnvFromSource{{
			ConfigMapRef: &corev1.ConfigMapEnvSource{
				LocalObjectReference: corev1.LocalObjectReference{Name: ms.Name},
			},
		}},
	}

	return &appsv1.Deployment{
		ObjectMeta: dependentMeta(ms),
		Spec: appsv1.DeploymentSpec{
			Replicas: replicas,
			Selector: &metav1.LabelSelector{MatchLabels: selectorLabels(ms)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: dependentLabels(ms),
					Annotations: map[string]string{
						// Rolling the checksum into the pod template
						// forces a rollout whenever config data changes.
						AnnotationConfigChecksum: configChecksum(ms.Spec.Config),
					},
				},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{container},
				},
			},
		},
	}, nil
}

func (deploymentHandler) needsUpdate(current, desired client.Object) bool {
	c := current.(*appsv1.Deployment)
	d := desired.(*appsv1.Deployment)

	if d.Spec.Replicas != nil &&
		(c.Spec.Replicas == nil || *c.Spec.Replicas != *d.Spec.Replicas) {
		return true
	}
	if len(c.Spec.Template.Spec.Containers) != 1 {
		return true
	}
	cc := &c.Spec.Template.Spec.Containers[0]
	dc := &d.Spec.Template.Spec.Containers[0]
	if cc.Image != dc.Image || cc.Name != dc.Name {
		return true
	}
	if !equality.Semantic.DeepEqual(cc.Ports, dc.Ports) {
		return true
	}
	if !equality.Semantic.DeepEqual(cc.Resources.Requests, dc.Resources.Requests) ||
		!equality.Semantic.DeepEqual(cc.Resources.Limits, dc.Resources.Limits) {
		return true
	}
	if !equality.Semantic.DeepEqual(cc.EnvFrom, dc.EnvFrom) {
		return true
	}
	if c.Spec.Template.Annotations[AnnotationConfigChecksum] != d.Spec.Template.Annotations[AnnotationConfigChecksum] {
		return true
	}
	if !labelsApplied(d.Spec.Template.Labels, c.Spec.Template.Labels) {
		return true
	}
	return !labelsApplied(d.Labels, c.Labels)
}

func (deploymentHandler) rewrite(current, desired client.Object) {
	c := current.(*appsv1.Deployment)
	d := desired.(*appsv1.Deployment)

	if d.Spec.Replicas != nil {
		c.Spec.Replicas = ptr.To(*d.Spec.Replicas)
	}
	// The container set is fully managed; the selector is immutable and
	// never rewritten.
	c.Spec.Template.Spec.Containers = d.Spec.Template.Spec.Containers
	if c.Spec.Template.Labels == nil {
		c.Spec.Template.Labels = map[string]string{}
	}
	for k, v := range d.Spec.Template.Labels {
		c.Spec.Template.Labels[k] = v
	}
	if c.Spec.Template.Annotations == nil {
		c.Spec.Template.Annotations = map[string]string{}
	}
	c.Spec.Template.Annotations[AnnotationConfigChecksum] = d.Spec.Template.Annotations[AnnotationConfigChecksum]
}

// =============================================================================
// Service
// =============================================================================

type serviceHandler struct{}

func (serviceHandler) name() string { return "Service" }

func (serviceHandler) enabled(*appsv1alpha1.Microservice) bool { return true }

func (serviceHandler) newObject() client.Object { return &corev1.Service{} }

func (serviceHandler) desired(ms *appsv1alpha1.Microservice, _ policy.Tier) (client.Object, error) {
	return &corev1.Service{
		ObjectMeta: dependentMeta(ms),
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: selectorLabels(ms),
			Ports: []corev1.ServicePort{{
				Name:       containerPortName,
				Port:       servicePort,
				TargetPort: intstr.FromString(containerPortName),
				Protocol:   corev1.ProtocolTCP,
			}},
		},
	}, nil
}

func (serviceHandler) needsUpdate(current, desired client.Object) bool {
	c := current.(*corev1.Service)
	d := desired.(*corev1.Service)
	if !equality.Semantic.DeepEqual(c.Spec.Selector, d.Spec.Selector) {
		return true
	}
	if !equality.Semantic.DeepEqual(c.Spec.Ports, d.Spec.Ports) {
		return true
	}
	return !labelsApplied(d.Labels, c.Labels)
}

func (serviceHandler) rewrite(current, desired client.Object) {
	c := current.(*corev1.Service)
	d := desired.(*corev1.Service)
	// ClusterIP and other server-assigned fields stay untouched.
	c.Spec.Selector = d.Spec.Selector
	c.Spec.Ports = d.Spec.Ports
}

// =============================================================================
// NetworkPolicy
// =============================================================================

// networkPolicyHandler locks the app's pods down to their service traffic:
// ingress only on the container port, egress only to cluster DNS. Applied
// for every tier entitled to platform features, no toggle.
type networkPolicyHandler struct{}

func (networkPolicyHandler) name() string { return "NetworkPolicy" }

func (networkPolicyHandler) enabled(ms *appsv1alpha1.Microservice) bool {
	return policy.AllowsFeatures(effectiveTier(ms))
}

func (networkPolicyHandler) newObject() client.Object { return &networkingv1.NetworkPolicy{} }

func (networkPolicyHandler) desired(ms *appsv1alpha1.Microservice, _ policy.Tier) (client.Object, error) {
	tcp := corev1.ProtocolTCP
	udp := corev1.ProtocolUDP
	appPort := intstr.FromInt32(effectivePort(ms))
	dnsPort := intstr.FromInt32(53)

	return &networkingv1.NetworkPolicy{
		ObjectMeta: dependentMeta(ms),
		Spec: networkingv1.NetworkPolicySpec{
			PodSelector: metav1.LabelSelector{MatchLabels: selectorLabels(ms)},
			PolicyTypes: []networkingv1.PolicyType{
				networkingv1.PolicyTypeIngress,
				networkingv1.PolicyTypeEgress,
			},
			Ingress: []networkingv1.NetworkPolicyIngressRule{{
				Ports: []networkingv1.NetworkPolicyPort{{
					Protocol: &tcp,
					Port:     &appPort,
				}},
			}},
			Egress: []networkingv1.NetworkPolicyEgressRule{{
				To: []networkingv1.NetworkPolicyPeer{{
					NamespaceSelector: &metav1.LabelSelector{},
					PodSelector: &metav1.LabelSelector{
						MatchLabels: map[string]string{"k8s-app": "kube-dns"},
					},
				}},
				Ports: []networkingv1.NetworkPolicyPort{
					{Protocol: &udp, Port: &dnsPort},
					{Protocol: &tcp, Port: &dnsPort},
				},
			}},
		},
	}, nil
}

func (networkPolicyHandler) needsUpdate(current, desired client.Object) bool {
	c := current.(*networkingv1.NetworkPolicy)
	d := desired.(*networkingv1.NetworkPolicy)
	if !equality.Semantic.DeepEqual(c.Spec.PodSelector, d.Spec.PodSelector) {
		return true
	}
	if !equality.Semantic.DeepEqual(c.Spec.PolicyTypes, d.Spec.PolicyTypes) {
		return true
	}
	if !equality.Semantic.DeepEqual(c.Spec.Ingress, d.Spec.Ingress) ||
		!equality.Semantic.DeepEqual(c.Spec.Egress, d.Spec.Egress) {
		return true
	}
	return !labelsApplied(d.Labels, c.Labels)
}

func (networkPolicyHandler) rewrite(current, desired client.Object) {
	c := current.(*networkingv1.NetworkPolicy)
	d := desired.(*networkingv1.NetworkPolicy)
	c.Spec.PodSelector = d.Spec.PodSelector
	c.Spec.PolicyTypes = d.Spec.PolicyTypes
	c.Spec.Ingress = d.Spec.Ingress
	c.Spec.Egress = d.Spec.Egress
}

// =============================================================================
// HorizontalPodAutoscaler
// =============================================================================

type autoscalerHandler struct{}

func (autoscalerHandler) name() string { return "HorizontalPodAutoscaler" }

func (autoscalerHandler) enabled(ms *appsv1alpha1.Microservice) bool {
	return autoscalingEnabled(ms)
}

func (autoscalerHandler) newObject() client.Object {
	return &autoscalingv2.HorizontalPodAutoscaler{}
}

func (autoscalerHandler) desired(ms *appsv1alpha1.Microservice, tier policy.Tier) (client.Object, error) {
	return &autoscalingv2.HorizontalPodAutoscaler{
		ObjectMeta: dependentMeta(ms),
		Spec: autoscalingv2.HorizontalPodAutoscalerSpec{
			ScaleTargetRef: autoscalingv2.CrossVersionObjectReference{
				APIVersion: "apps/v1",
				Kind:       "Deployment",
				Name:       ms.Name,
			},
			MinReplicas: ptr.To(tier.MinReplicas),
			MaxReplicas: tier.MaxReplicas,
			Metrics: []autoscalingv2.MetricSpec{{
				Type: autoscalingv2.ResourceMetricSourceType,
				Resource: &autoscalingv2.ResourceMetricSource{
					Name: corev1.ResourceCPU,
					Target: autoscalingv2.MetricTarget{
						Type:               autoscalingv2.UtilizationMetricType,
						AverageUtilization: ptr.To(int32(autoscaleCPUTarget)),
					},
				},
			}},
		},
	}, nil
}

func (autoscalerHandler) needsUpdate(current, desired client.Object) bool {
	c := current.(*autoscalingv2.HorizontalPodAutoscaler)
	d := desired.(*autoscalingv2.HorizontalPodAutoscaler)
	if !equality.Semantic.DeepEqual(c.Spec.ScaleTargetRef, d.Spec.ScaleTargetRef) {
		return true
	}
	if !equality.Semantic.DeepEqual(c.Spec.MinReplicas, d.Spec.MinReplicas) ||
		c.Spec.MaxReplicas != d.Spec.MaxReplicas {
		return true
	}
	if !equality.Semantic.DeepEqual(c.Spec.Metrics, d.Spec.Metrics) {
		return true
	}
	return !labelsApplied(d.Labels, c.Labels)
}

func (autoscalerHandler) rewrite(current, desired client.Object) {
	c := current.(*autoscalingv2.HorizontalPodAutoscaler)
	d := desired.(*autoscalingv2.HorizontalPodAutoscaler)
	c.Spec.ScaleTargetRef = d.Spec.ScaleTargetRef
	c.Spec.MinReplicas = d.Spec.MinReplicas
	c.Spec.MaxReplicas = d.Spec.MaxReplicas
	c.Spec.Metrics = d.Spec.Metrics
}

// =============================================================================
// PodDisruptionBudget
// =============================================================================

type budgetHandler struct{}

func (budgetHandler) name() string { return "PodDisruptionBudget" }

func (budgetHandler) enabled(ms *appsv1alpha1.Microservice) bool {
	return disruptionBudgetEnabled(ms)
}

func (budgetHandler) newObject() client.Object { return &policyv1.PodDisruptionBudget{} }

func (budgetHandler) desired(ms *appsv1alpha1.Microservice, tier policy.Tier) (client.Object, error) {
	minAvailable := intstr.FromInt32(tier.MinAvailable())
	return &policyv1.PodDisruptionBudget{
		ObjectMeta: dependentMeta(ms),
		Spec: policyv1.PodDisruptionBudgetSpec{
			MinAvailable: &minAvailable,
			Selector:     &metav1.LabelSelector{MatchLabels: selectorLabels(ms)},
		},
	}, nil
}

func (budgetHandler) needsUpdate(current, desired client.Object) bool {
	c := current.(*policyv1.PodDisruptionBudget)
	d := desired.(*policyv1.PodDisruptionBudget)
	if !equality.Semantic.DeepEqual(c.Spec.MinAvailable, d.Spec.MinAvailable) {
		return true
	}
	if !equality.Semantic.DeepEqual(c.Spec.Selector, d.Spec.Selector) {
		return true
	}
	return !labelsApplied(d.Labels, c.Labels)
}

func (budgetHandler) rewrite(current, desired client.Object) {
	c := current.(*policyv1.PodDisruptionBudget)
	d := desired.(*policyv1.PodDisruptionBudget)
	c.Spec.MinAvailable = d.Spec.MinAvailable
	c.Spec.Selector = d.Spec.Selector
}

// =============================================================================
// Ingress
// =============================================================================

type routeHandler struct {
	domain string
}

func (routeHandler) name() string { return "Ingress" }

func (routeHandler) enabled(ms *appsv1alpha1.Microservice) bool {
	return ingressEnabled(ms)
}

func (routeHandler) newObject() client.Object { return &networkingv1.Ingress{} }

func (h routeHandler) desired(ms *appsv1alpha1.Microservice, _ policy.Tier) (client.Object, error) {
	if h.domain == "" {
		// Host generation needs the cluster ingress domain. Until the
		// operator is configured with one, the route has to wait.
		return nil, &dependencyError{Dependent: "Ingress", Detail: "cluster ingress domain is not configured"}
	}
	pathType := networkingv1.PathTypePrefix
	host := fmt.Sprintf("%s.%s.%s", ms.Name, ms.Namespace, h.domain)
	return &networkingv1.Ingress{
		ObjectMeta: dependentMeta(ms),
		Spec: networkingv1.IngressSpec{
			Rules: []networkingv1.IngressRule{{
				Host: host,
				IngressRuleValue: networkingv1.IngressRuleValue{
					HTTP: &networkingv1.HTTPIngressRuleValue{
						Paths: []networkingv1.HTTPIngressPath{{
							Path:     "/",
							PathType: &pathType,
							Backend: networkingv1.IngressBackend{
								Service: &networkingv1.IngressServiceBackend{
									Name: ms.Name,
									Port: networkingv1.ServiceBackendPort{Number: servicePort},
								},
							},
						}},
					},
				},
			}},
		},
	}, nil
}

func (routeHandler) needsUpdate(current, desired client.Object) bool {
	c := current.(*networkingv1.Ingress)
	d := desired.(*networkingv1.Ingress)
	if !equality.Semantic.DeepEqual(c.Spec.Rules, d.Spec.Rules) {
		return true
	}
	return !labelsApplied(d.Labels, c.Labels)
}

func (routeHandler) rewrite(current, desired client.Object) {
	c := current.(*networkingv1.Ingress)
	d := desired.(*networkingv1.Ingress)
	c.Spec.Rules = d.Spec.Rules
}
