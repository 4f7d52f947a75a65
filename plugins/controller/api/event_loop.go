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

// EventLoop gives access to the Controller's event loop.
type EventLoop interface {
	// PushEvent adds the given event into the queue for processing.
	PushEvent(event Event) error
}

// Event represents something that happened and may require the generated
// configuration to be re-evaluated - a state-store change, a resync
// snapshot, a health transition, an explicit flush or a shutdown request.
type Event interface {
	// GetName should return a string identifier, unique among event types,
	// but also somewhat descriptive for humans.
	GetName() string

	// String should return a description of the event instance.
	String() string

	// Method tells whether the event is a full resync or an incremental
	// update.
	Method() EventMethodType

	// IsBlocking should return true if any producer of this event instance
	// waits for the event result via Done.
	IsBlocking() bool

	// Done is called by the Controller when the event processing has
	// finalized. Blocking events use it to deliver the result back to the
	// producer.
	Done(error)
}

// EventHandler is a domain manager: it owns a disjoint slice of the desired
// configuration namespace, consumes the state-change events relevant to its
// tables and renders configuration fragments for its identities at flush
// time. Handlers are called synchronously from within the event loop, in
// the registration order - a handler may read (never mutate) the state of
// handlers registered before it.
type EventHandler interface {
	// String identifies the handler for the event history and for logging.
	String() string

	// HandlesEvent is used by the Controller to check if the event is being
	// watched by this handler.
	HandlesEvent(event Event) bool

	// Resync replaces the handler's desired state wholesale with the content
	// of the given snapshot. Every identity becomes dirty.
	Resync(event Event, snapshot TableData, resyncCount int) error

	// Update merges the event's field set into the handler's desired state
	// (SET is a full replace of the fields for the identity, DELETE removes
	// the identity) and marks the affected identities dirty. No rendering
	// happens here - work is deferred to the debounce boundary.
	Update(event Event) (changeDescription string, err error)

	// Flush renders dirty identities into the transaction. With full=true
	// every desired identity is rendered (used for resync and for retry
	// after a failed batch). The dirty set is consumed by the call; a
	// render failure keeps the identity out of the dirty set until its
	// next change.
	Flush(txn FragmentTxn, full bool) error

	// DirtyCount returns the number of identities waiting for the next
	// render cycle.
	DirtyCount() int
}

// EventMethodType is either Resync or Update.
type EventMethodType int

const (
	// Resync event requires the handlers to replace their desired state
	// with the delivered snapshot.
	Resync EventMethodType = iota

	// Update event applies an incremental change.
	Update
)
