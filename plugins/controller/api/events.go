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
	"sort"
	"strings"
)

/******************************** Store Resync ********************************/

// StoreResync carries a full snapshot of the watched tables. It is the first
// event the Controller processes after startup and after every store
// reconnect; incremental events received before it are replayed afterwards.
type StoreResync struct {
	Snapshot TableData

	// Generation distinguishes subscription generations: it is bumped by
	// the store watcher on every (re)connect.
	Generation int
}

// GetName returns name of the StoreResync event.
func (ev *StoreResync) GetName() string {
	return "Store Resync"
}

// String describes StoreResync event.
func (ev *StoreResync) String() string {
	str := fmt.Sprintf("%s (gen=%d)", ev.GetName(), ev.Generation)
	var tables []string
	for table := range ev.Snapshot {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		str += fmt.Sprintf("\n* %dx %s", len(ev.Snapshot[table]), table)
	}
	return str
}

// Method is Resync.
func (ev *StoreResync) Method() EventMethodType {
	return Resync
}

// IsBlocking returns false.
func (ev *StoreResync) IsBlocking() bool {
	return false
}

// Done is NOOP.
func (ev *StoreResync) Done(error) {
	return
}

/********************************* Store Down *********************************/

// StoreDown signals that the connection to the state store was lost.
// The Controller enters the Resyncing state: desired state keeps being
// updated by any events still in the queue, but reconciliation is suspended
// until the next StoreResync.
type StoreDown struct {
	Error error
}

// GetName returns name of the StoreDown event.
func (ev *StoreDown) GetName() string {
	return "Store Down"
}

// String describes StoreDown event.
func (ev *StoreDown) String() string {
	return fmt.Sprintf("%s (%v)", ev.GetName(), ev.Error)
}

// Method is Update.
func (ev *StoreDown) Method() EventMethodType {
	return Update
}

// IsBlocking returns false.
func (ev *StoreDown) IsBlocking() bool {
	return false
}

// Done is NOOP.
func (ev *StoreDown) Done(error) {
	return
}

/******************************** State Change ********************************/

// StateChange is one incremental change of a single state-store key.
// Changes for the same key arrive in append-order; ordering across keys
// is not guaranteed. Delivery is at-least-once per generation - handlers
// must be idempotent under duplicate SET of identical fields.
type StateChange struct {
	Table  string
	Key    string
	Op     Operation
	Fields Fields
}

// GetName returns name of the StateChange event.
func (ev *StateChange) GetName() string {
	return "State Change"
}

// String describes StateChange event.
func (ev *StateChange) String() string {
	str := fmt.Sprintf("%s\n"+
		"* table: %s\n"+
		"* key: %s\n"+
		"* operation: %s", ev.GetName(), ev.Table, ev.Key, ev.Op)
	if ev.Op == SetOp {
		var fields []string
		for name, value := range ev.Fields {
			fields = append(fields, name+"="+value)
		}
		sort.Strings(fields)
		str += "\n* fields: " + strings.Join(fields, ", ")
	}
	return str
}

// Method is Update.
func (ev *StateChange) Method() EventMethodType {
	return Update
}

// IsBlocking returns false.
func (ev *StateChange) IsBlocking() bool {
	return false
}

// Done is NOOP.
func (ev *StateChange) Done(error) {
	return
}

/******************************** Health Update *******************************/

// HealthUpdate carries the control-plane health signal sampled by the
// monitor. Flushes are deferred while the control plane is not Up.
type HealthUpdate struct {
	Previous HealthState
	Current  HealthState
}

// GetName returns name of the HealthUpdate event.
func (ev *HealthUpdate) GetName() string {
	return "Health Update"
}

// String describes HealthUpdate event.
func (ev *HealthUpdate) String() string {
	return fmt.Sprintf("%s (%s -> %s)", ev.GetName(), ev.Previous, ev.Current)
}

// Method is Update.
func (ev *HealthUpdate) Method() EventMethodType {
	return Update
}

// IsBlocking returns false.
func (ev *HealthUpdate) IsBlocking() bool {
	return false
}

// Done is NOOP.
func (ev *HealthUpdate) Done(error) {
	return
}

/******************************** Flush Request *******************************/

// FlushRequest asks the Controller to run a render/diff/apply cycle
// immediately, without waiting for the debounce timer. Used by the REST API
// and by tests. The producer can wait for the result.
type FlushRequest struct {
	// Full requests rendering of all desired identities, not just the
	// dirty ones.
	Full bool

	result chan error
}

// NewFlushRequest is the constructor for FlushRequest.
func NewFlushRequest(full bool) *FlushRequest {
	return &FlushRequest{
		Full:   full,
		result: make(chan error, 1),
	}
}

// GetName returns name of the FlushRequest event.
func (ev *FlushRequest) GetName() string {
	return "Flush Request"
}

// String describes FlushRequest event.
func (ev *FlushRequest) String() string {
	if ev.Full {
		return ev.GetName() + " (full)"
	}
	return ev.GetName()
}

// Method is Update.
func (ev *FlushRequest) Method() EventMethodType {
	return Update
}

// IsBlocking returns true.
func (ev *FlushRequest) IsBlocking() bool {
	return true
}

// Done propagates result to the event producer.
func (ev *FlushRequest) Done(err error) {
	ev.result <- err
}

// Wait waits for the result of the flush.
func (ev *FlushRequest) Wait() error {
	return <-ev.result
}

/********************************** Shutdown **********************************/

// Shutdown event is triggered when the daemon is being closed. The
// Controller drains: the current batch is allowed to complete, then no new
// events are accepted.
type Shutdown struct {
	result chan error
}

// NewShutdownEvent is constructor for Shutdown event.
func NewShutdownEvent() *Shutdown {
	return &Shutdown{
		result: make(chan error, 1),
	}
}

// GetName returns name of the Shutdown event.
func (ev *Shutdown) GetName() string {
	return "Shutdown"
}

// String describes Shutdown event.
func (ev *Shutdown) String() string {
	return ev.GetName()
}

// Method is Update.
func (ev *Shutdown) Method() EventMethodType {
	return Update
}

// IsBlocking returns true.
func (ev *Shutdown) IsBlocking() bool {
	return true
}

// Done propagates result to the event producer.
func (ev *Shutdown) Done(err error) {
	ev.result <- err
}

// Wait waits for the result of the shutdown event.
func (ev *Shutdown) Wait() error {
	return <-ev.result
}
