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

// Fields is the field set of one state-store entry. A SET change always
// carries the complete field set for its key - consumers replace, never
// partially merge.
type Fields map[string]string

// Equal compares two field sets.
func (f Fields) Equal(other Fields) bool {
	if len(f) != len(other) {
		return false
	}
	for name, value := range f {
		otherValue, has := other[name]
		if !has || otherValue != value {
			return false
		}
	}
	return true
}

// Copy returns a copy of the field set.
func (f Fields) Copy() Fields {
	cp := make(Fields, len(f))
	for name, value := range f {
		cp[name] = value
	}
	return cp
}

// TableData is a snapshot of state-store content organized as
// table -> key -> fields. Delivered by resync.
type TableData map[string]map[string]Fields

// Operation discriminates state-store changes.
type Operation int

const (
	// SetOp delivers the full field set for a key.
	SetOp Operation = iota

	// DeleteOp is a tombstone - the key no longer exists in the store.
	DeleteOp
)

// String returns the store-level operation name.
func (op Operation) String() string {
	switch op {
	case SetOp:
		return "SET"
	case DeleteOp:
		return "DELETE"
	}
	return "UNKNOWN"
}

// HealthState is the control-plane health signal published by the monitor.
type HealthState int

const (
	// HealthUnknown is the state before the first monitor report.
	HealthUnknown HealthState = iota

	// HealthUp - the control-plane process accepts configuration.
	HealthUp

	// HealthRestarting - the control-plane process is restarting;
	// reconciliation is deferred to avoid configuring a half-started daemon.
	HealthRestarting

	// HealthDown - the control-plane process is not reachable.
	HealthDown
)

// String returns a human-readable health state.
func (h HealthState) String() string {
	switch h {
	case HealthUp:
		return "up"
	case HealthRestarting:
		return "restarting"
	case HealthDown:
		return "down"
	}
	return "unknown"
}
