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

package controlplane

import (
	"context"

	"github.com/routeops/bgpcfgd/pkg/fragment"
)

// Session is one configuration transaction against the routing daemon.
// The daemon is a black box behind this contract: commands executed within
// a session take effect only on Commit, and an aborted or failed session
// leaves the daemon exactly as it was before Open.
type Session interface {
	// Execute adds a command to the transaction.
	Execute(command string) error

	// Commit applies all executed commands as a unit.
	Commit() error

	// Abort discards the transaction.
	Abort() error

	// Close releases session resources. Safe after Commit/Abort.
	Close() error
}

// SessionProvider opens configuration sessions.
type SessionProvider interface {
	// NewSession opens a transactional session against the routing daemon.
	NewSession() (Session, error)
}

// API is the command applier used by the Controller. Only one batch may be
// in flight at a time; Apply serializes callers.
type API interface {
	// Apply opens one session for the batch, executes the commands in
	// order and commits. On a mid-batch failure the session is rolled
	// back in full and the whole batch is retried with backoff, up to
	// the configured attempt budget. Returns nil on success, or
	// *api.PersistentApplyFailure once the budget is exhausted.
	// Apply does not abort an already committing transaction on context
	// cancellation - it stops between attempts only.
	Apply(ctx context.Context, batch []fragment.Command) error
}
