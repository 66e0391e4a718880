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

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	logf "sigs.k8s.io/controller-runtime/pkg/log"

	appsv1alpha1 "github.com/platform-dev/microservice-operator/api/v1alpha1"
	"github.com/platform-dev/microservice-operator/internal/policy"
)

// =============================================================================
// Dependent resource handling.
//
// Each kind of dependent (Deployment, Service, ConfigMap, NetworkPolicy,
// HPA, PDB, Ingress) implements dependentHandler. The reconciler walks a
// fixed, explicit list of handlers - no reflection-driven dispatch - and
// runs each through the same ensure engine below.
//
// Related files:
// - builders.go: The handler implementations (pure spec -> object)
// - microservice_controller.go: The reconcile loop driving the engine
// =============================================================================

// dependentHandler is the uniform interface every dependent kind implements.
// desired() must be a pure function of the spec and tier envelope: same
// inputs, same object, no hidden state.
type dependentHandler interface {
	// name identifies the handler in logs and condition messages.
	name() string

	// enabled reports whether this dependent should exist for the spec.
	enabled(ms *appsv1alpha1.Microservice) bool

	// newObject returns an empty object of the handler's kind.
	newObject() client.Object

	// desired computes the dependent object from the spec. Pure.
	desired(ms *appsv1alpha1.Microservice, tier policy.Tier) (client.Object, error)

	// needsUpdate compares only the fields this controller manages.
	// Fields a human or another controller may be adjusting are ignored.
	needsUpdate(current, desired client.Object) bool

	// rewrite copies the managed fields from desired onto current,
	// leaving everything else untouched.
	rewrite(current, desired client.Object)
}

// dependentAction describes what the ensure engine did for one dependent.
type dependentAction string

const (
	actionCreated   dependentAction = "created"
	actionUpdated   dependentAction = "updated"
	actionUnchanged dependentAction = "unchanged"
	actionDeleted   dependentAction = "deleted"
	actionSkipped   dependentAction = "skipped"
	actionConflict  dependentAction = "conflict"
)

// dependentOutcome is the result of ensuring one dependent.
type dependentOutcome struct {
	handler string
	action  dependentAction

	// live is the object as it exists after the ensure, nil when the
	// dependent was deleted or skipped.
	live client.Object

	// conflictMsg is set when action is actionConflict.
	conflictMsg string
}

// ensureDependent drives one handler through the create/conflict/diff/update
// state machine. Errors returned here are transient; ownership conflicts are
// reported in the outcome, not as errors, because retrying cannot fix them.
func (r *MicroserviceReconciler) ensureDependent(
	ctx context.Context,
	ms *appsv1alpha1.Microservice,
	tier policy.Tier,
	h dependentHandler,
) (dependentOutcome, error) {
	log := logf.FromContext(ctx).WithValues("dependent", h.name())
	key := types.NamespacedName{Namespace: ms.Namespace, Name: ms.Name}
	outcome := dependentOutcome{handler: h.name()}

	// A dependent disabled by toggles must not linger if we created it
	// earlier under a different spec.
	if !h.enabled(ms) {
		return r.deleteIfOwned(ctx, ms, h, key)
	}

	desired, err := h.desired(ms, tier)
	if err != nil {
		if de := asDependency(err); de != nil {
			return outcome, err
		}
		return outcome, fmt.Errorf("computing desired %s: %w", h.name(), err)
	}
	if err := ctrl.SetControllerReference(ms, desired, r.Scheme); err != nil {
		return outcome, fmt.Errorf("setting owner reference on %s: %w", h.name(), err)
	}

	current := h.newObject()
	err = r.Get(ctx, key, current)
	switch {
	case apierrors.IsNotFound(err):
		log.Info("Creating dependent", "name", key.Name)
		if err := r.Create(ctx, desired); err != nil {
			// AlreadyExists means we raced another actor; requeue and
			// let the next pass resolve ownership.
			return outcome, fmt.Errorf("creating %s: %w", h.name(), err)
		}
		outcome.action = actionCreated
		outcome.live = desired
		return outcome, nil

	case err != nil:
		return outcome, fmt.Errorf("fetching %s: %w", h.name(), err)
	}

	// The object exists. Never mutate an object we do not own - a name
	// collision with a foreign object is a terminal condition, not an
	// invitation to adopt or clobber it.
	if !ownedBy(current, ms) {
		log.Info("Dependent exists but is not owned by this Microservice, refusing to touch it",
			"name", key.Name)
		outcome.action = actionConflict
		outcome.conflictMsg = fmt.Sprintf("%s %q exists but is not owned by this Microservice", h.name(), key.Name)
		outcome.live = current
		return outcome, nil
	}

	if !h.needsUpdate(current, desired) {
		outcome.action = actionUnchanged
		outcome.live = current
		return outcome, nil
	}

	h.rewrite(current, desired)
	mergeLabels(current, desired.GetLabels())
	log.Info("Updating dependent", "name", key.Name)
	if err := r.Update(ctx, current); err != nil {
		return outcome, fmt.Errorf("updating %s: %w", h.name(), err)
	}
	outcome.action = actionUpdated
	outcome.live = current
	return outcome, nil
}

// deleteIfOwned removes a disabled dependent, but only when it carries our
// controller reference. Foreign objects under the same name are left alone.
func (r *MicroserviceReconciler) deleteIfOwned(
	ctx context.Context,
	ms *appsv1alpha1.Microservice,
	h dependentHandler,
	key types.NamespacedName,
) (dependentOutcome, error) {
	log := logf.FromContext(ctx).WithValues("dependent", h.name())
	outcome := dependentOutcome{handler: h.name(), action: actionSkipped}

	current := h.newObject()
	err := r.Get(ctx, key, current)
	if apierrors.IsNotFound(err) {
		return outcome, nil
	}
	if err != nil {
		return outcome, fmt.Errorf("fetching %s: %w", h.name(), err)
	}
	if !ownedBy(current, ms) {
		return outcome, nil
	}

	log.Info("Deleting dependent disabled by spec", "name", key.Name)
	if err := r.Delete(ctx, current); err != nil && !apierrors.IsNotFound(err) {
		return outcome, fmt.Errorf("deleting %s: %w", h.name(), err)
	}
	outcome.action = actionDeleted
	return outcome, nil
}

// ownedBy reports whether obj carries ms's controller owner reference.
// Matching is by UID, so a recreated Microservice with the same name does
// not accidentally claim stale dependents.
func ownedBy(obj client.Object, ms *appsv1alpha1.Microservice) bool {
	ref := metav1.GetControllerOf(obj)
	return ref != nil && ref.UID == ms.UID
}

// mergeLabels overlays our labels onto the object without wiping labels
// other actors may have added.
func mergeLabels(obj client.Object, labels map[string]string) {
	merged := obj.GetLabels()
	if merged == nil {
		merged = make(map[string]string, len(labels))
	}
	for k, v := range labels {
		merged[k] = v
	}
	obj.SetLabels(merged)
}

// labelsApplied reports whether every wanted label is present with the
// wanted value.
func labelsApplied(want, have map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}
