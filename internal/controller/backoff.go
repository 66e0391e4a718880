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
	"time"

	"k8s.io/client-go/util/workqueue"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"
)

// =============================================================================
// Work queue backoff policy.
//
// Keys that fail reconciliation are requeued with per-key exponential
// backoff: base, 2x base, 4x base, ... up to cap. A success resets the
// key's failure count (the queue calls Forget), so one bad stretch does
// not penalize the key forever. Terminal failures never reach the
// limiter - the reconciler swallows them after recording status.
// =============================================================================

// failureRateLimiter builds the per-key exponential backoff limiter used
// by the controller's work queue.
func failureRateLimiter(base, cap time.Duration) workqueue.TypedRateLimiter[reconcile.Request] {
	return workqueue.NewTypedItemExponentialFailureRateLimiter[reconcile.Request](base, cap)
}
