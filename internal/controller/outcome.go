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
	"errors"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// =============================================================================
// Error classification for the reconciler.
//
// Reconciliation errors fall into two buckets with very different retry
// behavior, and the distinction is carried as data rather than control flow:
//
//   - transient: store unavailable, network timeout, write conflict.
//     Returned to the controller runtime, which requeues the key with
//     exponential backoff.
//   - terminal: invalid spec, ownership conflict. Surfaced only through
//     status conditions; NOT retried on a timer. The next trigger is the
//     user editing the spec (new generation, new watch event).
// =============================================================================

// terminalError marks a condition that retrying cannot fix. The reconciler
// records it in status and stops without requeueing.
type terminalError struct {
	// Reason is the machine-readable condition reason.
	Reason string

	// Message is the human-readable condition message.
	Message string
}

func (e *terminalError) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// terminal builds a terminalError.
func terminal(reason, format string, args ...any) error {
	return &terminalError{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// asTerminal extracts a terminalError, or nil if err is transient.
func asTerminal(err error) *terminalError {
	var te *terminalError
	if errors.As(err, &te) {
		return te
	}
	return nil
}

// dependencyError marks a dependent whose desired state cannot be computed
// yet because data it needs is not available. Treated as transient (the
// missing data should eventually appear) but surfaced with its own
// condition reason so users can tell waiting apart from failing.
type dependencyError struct {
	Dependent string
	Detail    string
}

func (e *dependencyError) Error() string {
	return fmt.Sprintf("dependent %s waiting on dependency: %s", e.Dependent, e.Detail)
}

// asDependency extracts a dependencyError, or nil.
func asDependency(err error) *dependencyError {
	var de *dependencyError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// isTransient reports whether the error should be retried with backoff.
// Everything that is not explicitly terminal is transient - including
// programmer errors, since one bad key must not take down the process.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	return asTerminal(err) == nil
}

// isRetryableConflict reports an optimistic-concurrency failure: the object
// changed under us between read and write. The canonical response is an
// immediate requeue to re-read and recompute, not backoff.
func isRetryableConflict(err error) bool {
	return apierrors.IsConflict(err)
}
