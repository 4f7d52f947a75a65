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

package statestore

import (
	"fmt"

	"github.com/routeops/bgpcfgd/plugins/controller/api"
)

// Change is one incremental change delivered by a table subscription.
// Changes for the same key are delivered in arrival order; a SET always
// carries the complete field set of the key.
type Change struct {
	Table  string
	Key    string
	Op     api.Operation
	Fields api.Fields
}

// String describes the change for logging.
func (c Change) String() string {
	return fmt.Sprintf("%s %s|%s", c.Op, c.Table, c.Key)
}

// API defines the methods the state-store client provides to the rest of
// the daemon. The core depends only on subscribe-by-table and
// read-all-keys-for-resync - not on the store's transport or encoding.
type API interface {
	// OnConnect registers a callback to be triggered once the (first)
	// connection to the store is established. If the connection already
	// is established, the callback is called immediately (synchronously).
	OnConnect(callback func() error)

	// Ping probes the store connection.
	Ping() error

	// Snapshot reads all live keys of the given tables from the given
	// logical database. Used for the resynchronization pass.
	Snapshot(db int, tables []string) (api.TableData, error)

	// Watch subscribes to incremental changes of the given tables. The
	// returned channel is closed when the subscription dies (connection
	// loss); the subscription is not restartable mid-stream - the caller
	// must Snapshot again before re-Watching. The returned stop function
	// cancels the subscription.
	Watch(db int, tables []string) (<-chan Change, func(), error)

	// Publish writes the full field set for a key into the given table
	// (monitor side) or removes it when fields is nil.
	Publish(db int, table, key string, fields api.Fields) error
}
