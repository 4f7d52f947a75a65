// Copyright (c) 2026 RouteOps and/or its affiliates.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at:
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"fmt"
)

/********************************* Fatal Error ********************************/

// FatalError tells Controller to abort the event loop and stop the daemon
// as soon as possible. Reserved for broken invariants and programming
// errors - operational failures (store outage, apply failures) are handled
// by the recoverable error types below.
type FatalError struct {
	origErr error
}

// NewFatalError is the constructor for FatalError.
func NewFatalError(origErr error) error {
	return &FatalError{origErr: origErr}
}

// Error delegates the call to the underlying error.
func (e *FatalError) Error() string {
	return e.origErr.Error()
}

// GetOriginalError returns the underlying error.
func (e *FatalError) GetOriginalError() error {
	return e.origErr
}

/****************************** Store Unavailable *****************************/

// StoreUnavailableError is reported by the state-store client when the
// connection is lost. Recoverable: the Controller suspends reconciliation
// and waits for the full resynchronization pass that follows reconnect.
type StoreUnavailableError struct {
	origErr error
}

// NewStoreUnavailableError is the constructor for StoreUnavailableError.
func NewStoreUnavailableError(origErr error) error {
	return &StoreUnavailableError{origErr: origErr}
}

// Error describes the outage.
func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("state store unavailable: %v", e.origErr)
}

// GetOriginalError returns the underlying error.
func (e *StoreUnavailableError) GetOriginalError() error {
	return e.origErr
}

/******************************* Template Error *******************************/

// TemplateError is returned by the template engine when a template is
// unknown or a referenced context field is absent. Recoverable and scoped
// to a single identity: the identity is marked failed-render and skipped
// for the cycle; it is retried on the next change to that identity, not on
// a timer, so that a persistent authoring error is not masked as transient.
type TemplateError struct {
	Template string
	origErr  error
}

// NewTemplateError is the constructor for TemplateError.
func NewTemplateError(template string, origErr error) *TemplateError {
	return &TemplateError{Template: template, origErr: origErr}
}

// Error describes the render failure.
func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %q: %v", e.Template, e.origErr)
}

// GetOriginalError returns the underlying error.
func (e *TemplateError) GetOriginalError() error {
	return e.origErr
}

/******************************* Partial Failure ******************************/

// PartialFailure reports a batch that failed mid-application. The session
// has been rolled back in full - the control plane retains nothing from the
// batch and no applied-fragment baseline may be advanced. The whole batch
// is retried on the next cycle.
type PartialFailure struct {
	// CommittedPrefix is the number of commands that had been accepted
	// before the failing one (all rolled back).
	CommittedPrefix int

	// FailingCommand is the command the session rejected.
	FailingCommand string

	// Cause is the underlying session error.
	Cause error
}

// Error describes the failed batch.
func (e *PartialFailure) Error() string {
	return fmt.Sprintf("batch failed at command %d (%q): %v",
		e.CommittedPrefix, e.FailingCommand, e.Cause)
}

/************************** Persistent Apply Failure **************************/

// PersistentApplyFailure is escalated by the applier once the retry budget
// for a batch is exhausted. The daemon reports it to the status check and
// continues running in degraded mode - a crash would stop all
// reconciliation, which is strictly worse.
type PersistentApplyFailure struct {
	Attempts int
	LastErr  error
}

// Error describes the exhausted retry budget.
func (e *PersistentApplyFailure) Error() string {
	return fmt.Sprintf("failed to apply batch after %d attempts: %v",
		e.Attempts, e.LastErr)
}

// GetOriginalError returns the error of the last attempt.
func (e *PersistentApplyFailure) GetOriginalError() error {
	return e.LastErr
}
