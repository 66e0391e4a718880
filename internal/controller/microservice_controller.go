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
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"
	appsv1 "k8s.io/api/apps/v1"
	autoscalingv2 "k8s.io/api/autoscaling/v2"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	policyv1 "k8s.io/api/policy/v1"
	"k8s.io/apimachinery/pkg/api/equality"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	appsv1alpha1 "github.com/platform-dev/microservice-operator/api/v1alpha1"
	"github.com/platform-dev/microservice-operator/internal/policy"
)

// =============================================================================
// MicroserviceReconciler converges the cluster toward each Microservice's
// declared intent.
//
// One reconciliation pass:
//  1. Fetch the Microservice. Gone means done - dependents carry owner
//     references, so garbage collection cascades the deletion.
//  2. Validate the spec against the tier policy. Invalid specs go Degraded
//     and are NOT requeued; existing dependents are left running.
//  3. Walk the fixed dependent list: compute desired state, create what is
//     missing, diff and minimally update what drifted, delete what the
//     toggles disabled. Objects we do not own are never touched.
//  4. Aggregate phase, readyReplicas, URL, and conditions into status, and
//     write status only when it actually changed.
//
// Transient failures are returned to the runtime, which requeues the key
// with exponential backoff. A clean pass requeues at the resync interval
// to self-heal against missed events.
// =============================================================================

// MicroserviceReconciler reconciles a Microservice object.
type MicroserviceReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	// Tiers is the resource tier policy table.
	Tiers policy.Table

	// IngressDomain is the cluster suffix for generated ingress hosts.
	IngressDomain string

	// ResyncInterval is how far in the future a clean pass requeues itself.
	ResyncInterval time.Duration

	// ReconcileTimeout bounds a single reconciliation pass.
	ReconcileTimeout time.Duration

	// MaxConcurrentReconciles is the worker count. Distinct keys
	// reconcile in parallel; the queue still serializes per key.
	MaxConcurrentReconciles int
}

// +kubebuilder:rbac:groups=apps.platform.dev,resources=microservices,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=apps.platform.dev,resources=microservices/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=apps,resources=deployments,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=services;configmaps,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=autoscaling,resources=horizontalpodautoscalers,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=policy,resources=poddisruptionbudgets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=networking.k8s.io,resources=ingresses;networkpolicies,verbs=get;list;watch;create;update;patch;delete

// logWith returns the pass logger enriched with the object key.
func logWith(ctx context.Context, req ctrl.Request) logr.Logger {
	return logf.FromContext(ctx).WithValues("microservice", req.NamespacedName)
}

// Reconcile converges one Microservice toward its declared state.
func (r *MicroserviceReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	if r.ReconcileTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ReconcileTimeout)
		defer cancel()
	}
	log := logWith(ctx, req)

	ms := &appsv1alpha1.Microservice{}
	if err := r.Get(ctx, req.NamespacedName, ms); err != nil {
		if apierrors.IsNotFound(err) {
			// Deleted between enqueue and dequeue. Owner references
			// hand cleanup to the garbage collector.
			log.Info("Microservice not found, nothing to do")
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if !ms.DeletionTimestamp.IsZero() {
		// No finalizer: every dependent lives in the same namespace and
		// carries our owner reference, so GC cascades the delete.
		log.Info("Microservice is being deleted, leaving cleanup to garbage collection")
		return ctrl.Result{}, nil
	}

	// Snapshot status so the commit at the end can skip the write when
	// nothing changed. A steady-state pass performs zero writes.
	original := ms.DeepCopy()

	tier, err := validateSpec(ms, r.Tiers)
	if err != nil {
		te := asTerminal(err)
		if te == nil {
			return ctrl.Result{}, err
		}
		// Invalid-until-edited. Existing dependents keep running under
		// the last valid spec; the next spec edit triggers a new pass.
		log.Info("Spec rejected", "reason", te.Reason, "message", te.Message)
		r.markDegraded(ms, te.Reason, te.Message)
		if err := r.commitStatus(ctx, original, ms); err != nil {
			if isRetryableConflict(err) {
				log.Info("Status write conflicted, requeueing")
				return ctrl.Result{Requeue: true}, nil
			}
			return ctrl.Result{}, err
		}
		return ctrl.Result{}, nil
	}

	var (
		outcomes     []dependentOutcome
		waiting      *dependencyError
		transientErr error
	)
	for _, h := range r.allHandlers() {
		out, err := r.ensureDependent(ctx, ms, tier, h)
		if err != nil {
			if de := asDependency(err); de != nil {
				waiting = de
				continue
			}
			// First transient failure ends the pass; the requeue will
			// rerun the full list from the top.
			transientErr = err
			break
		}
		outcomes = append(outcomes, out)
	}

	r.aggregateStatus(ms, outcomes, waiting, transientErr)

	if err := r.commitStatus(ctx, original, ms); err != nil {
		if isRetryableConflict(err) {
			// The object moved under us. Re-read and recompute rather
			// than burn a backoff slot.
			log.Info("Status write conflicted, requeueing")
			return ctrl.Result{Requeue: true}, nil
		}
		return ctrl.Result{}, err
	}

	if transientErr != nil {
		return ctrl.Result{}, transientErr
	}
	if waiting != nil {
		return ctrl.Result{}, waiting
	}
	if hasConflict(outcomes) {
		// Terminal until the foreign object goes away or the user
		// renames. Watches on the dependent kinds retrigger us.
		return ctrl.Result{}, nil
	}

	return ctrl.Result{RequeueAfter: r.ResyncInterval}, nil
}

// =============================================================================
// Status aggregation.
// =============================================================================

// markDegraded stamps the terminal Degraded shape used for invalid specs.
func (r *MicroserviceReconciler) markDegraded(ms *appsv1alpha1.Microservice, reason, message string) {
	ms.Status.ObservedGeneration = ms.Generation
	ms.Status.Phase = appsv1alpha1.PhaseDegraded
	setCondition(ms, ConditionTypeDegraded, metav1.ConditionTrue, reason, message)
	setCondition(ms, ConditionTypeReady, metav1.ConditionFalse, reason, message)
	setCondition(ms, ConditionTypeProgressing, metav1.ConditionFalse, reason, message)
}

// aggregateStatus folds the per-dependent outcomes into phase, counters,
// URL, and conditions.
func (r *MicroserviceReconciler) aggregateStatus(
	ms *appsv1alpha1.Microservice,
	outcomes []dependentOutcome,
	waiting *dependencyError,
	transientErr error,
) {
	ms.Status.ObservedGeneration = ms.Generation

	// The URL is advertised only once the route really exists under our
	// ownership, not merely because the toggle asked for one.
	if ingressEnabled(ms) && r.IngressDomain != "" && routePresent(outcomes) {
		ms.Status.URL = serviceURL(ms, r.IngressDomain)
	} else {
		ms.Status.URL = ""
	}

	dep := liveDeployment(outcomes)
	if dep != nil {
		ms.Status.ReadyReplicas = dep.Status.ReadyReplicas
	}

	if msg := conflictMessage(outcomes); msg != "" {
		ms.Status.Phase = appsv1alpha1.PhaseDegraded
		setCondition(ms, ConditionTypeDegraded, metav1.ConditionTrue, ReasonOwnershipConflict, msg)
		setCondition(ms, ConditionTypeReady, metav1.ConditionFalse, ReasonOwnershipConflict, msg)
		setCondition(ms, ConditionTypeProgressing, metav1.ConditionFalse, ReasonOwnershipConflict, msg)
		return
	}

	if waiting != nil {
		ms.Status.Phase = appsv1alpha1.PhasePending
		setCondition(ms, ConditionTypeReady, metav1.ConditionFalse, ReasonWaitingOnDependency, waiting.Error())
		setCondition(ms, ConditionTypeProgressing, metav1.ConditionTrue, ReasonWaitingOnDependency, waiting.Error())
		setCondition(ms, ConditionTypeDegraded, metav1.ConditionFalse, ReasonWaitingOnDependency, waiting.Error())
		return
	}

	if transientErr != nil {
		msg := transientErr.Error()
		ms.Status.Phase = appsv1alpha1.PhasePending
		setCondition(ms, ConditionTypeReady, metav1.ConditionFalse, ReasonDependentsConverging, msg)
		setCondition(ms, ConditionTypeProgressing, metav1.ConditionTrue, ReasonDependentsConverging, msg)
		// A retryable hiccup is not a degradation; without this a stale
		// Degraded=True from an earlier pass would linger until the
		// failure cleared.
		setCondition(ms, ConditionTypeDegraded, metav1.ConditionFalse, ReasonDependentsConverging, msg)
		return
	}

	if msg := replicaFailureMessage(dep); msg != "" {
		ms.Status.Phase = appsv1alpha1.PhaseDegraded
		setCondition(ms, ConditionTypeDegraded, metav1.ConditionTrue, ReasonReplicaFailure, msg)
		setCondition(ms, ConditionTypeReady, metav1.ConditionFalse, ReasonReplicaFailure, msg)
		setCondition(ms, ConditionTypeProgressing, metav1.ConditionFalse, ReasonReplicaFailure, msg)
		return
	}

	if converging(outcomes, dep) {
		msg := convergenceMessage(outcomes, dep)
		ms.Status.Phase = appsv1alpha1.PhasePending
		setCondition(ms, ConditionTypeReady, metav1.ConditionFalse, ReasonDependentsConverging, msg)
		setCondition(ms, ConditionTypeProgressing, metav1.ConditionTrue, ReasonDependentsConverging, msg)
		setCondition(ms, ConditionTypeDegraded, metav1.ConditionFalse, ReasonDependentsConverging, msg)
		return
	}

	ms.Status.Phase = appsv1alpha1.PhaseRunning
	setCondition(ms, ConditionTypeReady, metav1.ConditionTrue, ReasonAllDependentsReady, "all dependents are present and ready")
	setCondition(ms, ConditionTypeProgressing, metav1.ConditionFalse, ReasonAllDependentsReady, "all dependents are present and ready")
	setCondition(ms, ConditionTypeDegraded, metav1.ConditionFalse, ReasonAllDependentsReady, "all dependents are present and ready")
}

// commitStatus writes status iff it differs from the snapshot taken at the
// top of the pass.
func (r *MicroserviceReconciler) commitStatus(ctx context.Context, original, ms *appsv1alpha1.Microservice) error {
	if equality.Semantic.DeepEqual(original.Status, ms.Status) {
		return nil
	}
	return r.Status().Update(ctx, ms)
}

// liveDeployment pulls the owned Deployment out of the outcomes, nil when
// it was not reached this pass.
func liveDeployment(outcomes []dependentOutcome) *appsv1.Deployment {
	for _, out := range outcomes {
		if dep, ok := out.live.(*appsv1.Deployment); ok {
			return dep
		}
	}
	return nil
}

// routePresent reports whether the Ingress exists under our ownership
// after this pass.
func routePresent(outcomes []dependentOutcome) bool {
	for _, out := range outcomes {
		if _, ok := out.live.(*networkingv1.Ingress); !ok {
			continue
		}
		switch out.action {
		case actionCreated, actionUpdated, actionUnchanged:
			return true
		}
	}
	return false
}

// hasConflict reports whether any dependent hit a foreign-object collision.
func hasConflict(outcomes []dependentOutcome) bool {
	return conflictMessage(outcomes) != ""
}

// conflictMessage joins the ownership conflicts across dependents.
func conflictMessage(outcomes []dependentOutcome) string {
	var msgs []string
	for _, out := range outcomes {
		if out.action == actionConflict {
			msgs = append(msgs, out.conflictMsg)
		}
	}
	return strings.Join(msgs, "; ")
}

// replicaFailureMessage surfaces the Deployment's ReplicaFailure condition
// when the workload cannot make progress (quota exhausted, image pull
// denied at admission, and the like).
func replicaFailureMessage(dep *appsv1.Deployment) string {
	if dep == nil {
		return ""
	}
	for _, cond := range dep.Status.Conditions {
		if cond.Type == appsv1.DeploymentReplicaFailure && cond.Status == corev1.ConditionTrue {
			return fmt.Sprintf("deployment replica failure: %s", cond.Message)
		}
	}
	return ""
}

// converging reports whether any dependent is still settling: something was
// created or updated this pass, or the Deployment's ready count has not
// caught up with its spec.
func converging(outcomes []dependentOutcome, dep *appsv1.Deployment) bool {
	for _, out := range outcomes {
		if out.action == actionCreated || out.action == actionUpdated {
			return true
		}
	}
	if dep == nil {
		return true
	}
	return dep.Status.ReadyReplicas < deploymentTarget(dep)
}

// convergenceMessage describes what is still settling, for the
// Progressing condition.
func convergenceMessage(outcomes []dependentOutcome, dep *appsv1.Deployment) string {
	var touched []string
	for _, out := range outcomes {
		if out.action == actionCreated || out.action == actionUpdated {
			touched = append(touched, fmt.Sprintf("%s %s", out.handler, out.action))
		}
	}
	if len(touched) > 0 {
		return strings.Join(touched, ", ")
	}
	if dep != nil {
		return fmt.Sprintf("%d/%d replicas ready", dep.Status.ReadyReplicas, deploymentTarget(dep))
	}
	return "waiting for dependents"
}

// deploymentTarget is the replica count the Deployment is aiming for, with
// the server default of 1 when the field is nil (autoscaling owns it).
func deploymentTarget(dep *appsv1.Deployment) int32 {
	if dep.Spec.Replicas != nil {
		return *dep.Spec.Replicas
	}
	return 1
}

// =============================================================================
// Manager wiring.
// =============================================================================

// SetupWithManager registers the controller: one watch on Microservice and
// owner-filtered watches on every dependent kind, so edits and deletions of
// owned objects requeue the parent. Events for a key already queued
// coalesce into a single pass.
func (r *MicroserviceReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&appsv1alpha1.Microservice{}).
		Owns(&corev1.ConfigMap{}).
		Owns(&appsv1.Deployment{}).
		Owns(&corev1.Service{}).
		Owns(&networkingv1.NetworkPolicy{}).
		Owns(&autoscalingv2.HorizontalPodAutoscaler{}).
		Owns(&policyv1.PodDisruptionBudget{}).
		Owns(&networkingv1.Ingress{}).
		WithOptions(controller.Options{
			MaxConcurrentReconciles: r.MaxConcurrentReconciles,
			RateLimiter:             failureRateLimiter(DefaultBackoffBase, DefaultBackoffCap),
		}).
		Named("microservice").
		Complete(r)
}
