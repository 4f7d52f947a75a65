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

// Package mockstatestore is an in-memory implementation of the state-store
// API for unit and integration testing.
package mockstatestore

import (
	"errors"
	"sync"

	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/statestore"
)

// MockStateStore simulates the shared key/field store. Writes through
// Publish are visible in subsequent snapshots and delivered to the open
// subscriptions of the written DB.
type MockStateStore struct {
	mu sync.Mutex

	// db -> table -> key -> fields
	data map[int]map[string]map[string]api.Fields

	subscriptions []*subscription
	onConnect     []func() error
	connected     bool
	down          bool
}

type subscription struct {
	db     int
	tables map[string]struct{}
	ch     chan statestore.Change
	closed bool
}

// NewMockStateStore is the constructor.
func NewMockStateStore() *MockStateStore {
	return &MockStateStore{
		data: make(map[int]map[string]map[string]api.Fields),
	}
}

// OnConnect registers the callback; it fires on the first Connect call.
func (m *MockStateStore) OnConnect(callback func() error) {
	m.mu.Lock()
	connected := m.connected
	m.onConnect = append(m.onConnect, callback)
	m.mu.Unlock()
	if connected {
		callback()
	}
}

// Connect simulates the store becoming reachable.
func (m *MockStateStore) Connect() {
	m.mu.Lock()
	m.connected = true
	m.down = false
	callbacks := append([]func() error{}, m.onConnect...)
	m.mu.Unlock()
	for _, callback := range callbacks {
		callback()
	}
}

// Disconnect simulates a lost connection: every open subscription dies and
// Ping fails until Connect is called again.
func (m *MockStateStore) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = true
	for _, sub := range m.subscriptions {
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	m.subscriptions = nil
}

// Subscriptions returns the number of open subscriptions.
func (m *MockStateStore) Subscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	open := 0
	for _, sub := range m.subscriptions {
		if !sub.closed {
			open++
		}
	}
	return open
}

// Ping implements API.Ping.
func (m *MockStateStore) Ping() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("store is down")
	}
	return nil
}

// Snapshot implements API.Snapshot.
func (m *MockStateStore) Snapshot(db int, tables []string) (api.TableData, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, errors.New("store is down")
	}
	snapshot := make(api.TableData)
	for _, table := range tables {
		snapshot[table] = make(map[string]api.Fields)
		for key, fields := range m.data[db][table] {
			snapshot[table][key] = fields.Copy()
		}
	}
	return snapshot, nil
}

// Watch implements API.Watch.
func (m *MockStateStore) Watch(db int, tables []string) (<-chan statestore.Change, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, nil, errors.New("store is down")
	}
	sub := &subscription{
		db:     db,
		tables: make(map[string]struct{}, len(tables)),
		ch:     make(chan statestore.Change, 100),
	}
	for _, table := range tables {
		sub.tables[table] = struct{}{}
	}
	m.subscriptions = append(m.subscriptions, sub)

	stop := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if !sub.closed {
			sub.closed = true
			close(sub.ch)
		}
	}
	return sub.ch, stop, nil
}

// Publish implements API.Publish. Nil fields remove the key.
func (m *MockStateStore) Publish(db int, table, key string, fields api.Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return errors.New("store is down")
	}

	if m.data[db] == nil {
		m.data[db] = make(map[string]map[string]api.Fields)
	}
	if m.data[db][table] == nil {
		m.data[db][table] = make(map[string]api.Fields)
	}

	change := statestore.Change{Table: table, Key: key}
	if fields == nil {
		delete(m.data[db][table], key)
		change.Op = api.DeleteOp
	} else {
		m.data[db][table][key] = fields.Copy()
		change.Op = api.SetOp
		change.Fields = fields.Copy()
	}

	for _, sub := range m.subscriptions {
		if sub.closed || sub.db != db {
			continue
		}
		if _, watched := sub.tables[table]; !watched {
			continue
		}
		sub.ch <- change
	}
	return nil
}

var _ statestore.API = (*MockStateStore)(nil)
