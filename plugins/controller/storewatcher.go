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

package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ligato/cn-infra/logging"

	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/statestore"
)

// storeWatcher bridges the state store and the event loop. It subscribes
// to the configured tables, takes a snapshot and pushes StoreResync
// followed by one StateChange per delivered change. A dying subscription
// is turned into StoreDown; the watcher then probes the store and starts
// a new generation (snapshot + subscription) once it answers again.
//
// The subscription is opened before the snapshot is taken, so a change
// racing with the snapshot is delivered at least once (possibly twice -
// delivery is at-least-once by contract, managers are idempotent).
type storeWatcher struct {
	log       logging.Logger
	eventLoop api.EventLoop
	store     statestore.API

	db              int
	tables          []string
	probingInterval time.Duration

	generation int
	resyncReqs chan struct{}
	connected  chan struct{}

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// storeWatcherArgs groups the arguments of newStoreWatcher.
type storeWatcherArgs struct {
	log             logging.Logger
	eventLoop       api.EventLoop
	store           statestore.API
	db              int
	tables          []string
	probingInterval time.Duration
}

// errResyncReqFailed is returned by requestResync when the watcher cannot
// accept the request.
var errResyncReqFailed = errors.New("watcher is not accepting resync requests")

// newStoreWatcher starts the watching.
func newStoreWatcher(args *storeWatcherArgs) *storeWatcher {
	w := &storeWatcher{
		log:             args.log,
		eventLoop:       args.eventLoop,
		store:           args.store,
		db:              args.db,
		tables:          args.tables,
		probingInterval: args.probingInterval,
		resyncReqs:      make(chan struct{}, 1),
		connected:       make(chan struct{}, 1),
	}
	w.ctx, w.cancel = context.WithCancel(context.Background())

	w.store.OnConnect(w.onConnect)

	w.wg.Add(1)
	go w.watchStore()
	return w
}

// onConnect is called by the state store once the first connection is
// established.
func (w *storeWatcher) onConnect() error {
	select {
	case w.connected <- struct{}{}:
	default:
	}
	return nil
}

// requestResync asks the watcher to re-snapshot the store and push a fresh
// StoreResync, without restarting the subscription. Used by the REST API.
func (w *storeWatcher) requestResync() error {
	select {
	case w.resyncReqs <- struct{}{}:
		return nil
	default:
		return errResyncReqFailed
	}
}

// watchStore runs one subscription generation after another until closed.
func (w *storeWatcher) watchStore() {
	defer w.wg.Done()

	// wait for the first connection
	select {
	case <-w.ctx.Done():
		return
	case <-w.connected:
	}

	for {
		if !w.runGeneration() {
			return
		}
		w.eventLoop.PushEvent(&api.StoreDown{
			Error: errors.New("store subscription died"),
		})
		if !w.probeStore() {
			return
		}
	}
}

// runGeneration opens one subscription, resyncs and consumes changes until
// the subscription dies. Returns false on shutdown.
func (w *storeWatcher) runGeneration() bool {
	ch, stop, err := w.store.Watch(w.db, w.tables)
	if err != nil {
		w.log.Warnf("Failed to subscribe to the store: %v", err)
		return w.sleep(w.probingInterval)
	}
	defer stop()

	if !w.resync() {
		// snapshot failed, treat the generation as dead
		return w.sleep(w.probingInterval)
	}

	for {
		select {
		case <-w.ctx.Done():
			return false

		case <-w.resyncReqs:
			if !w.resync() {
				return true
			}

		case change, ok := <-ch:
			if !ok {
				return true
			}
			err := w.eventLoop.PushEvent(&api.StateChange{
				Table:  change.Table,
				Key:    change.Key,
				Op:     change.Op,
				Fields: change.Fields,
			})
			if err != nil {
				w.log.Warnf("Failed to push state change: %v", err)
			}
		}
	}
}

// resync takes a snapshot and pushes StoreResync. Returns false when the
// snapshot cannot be taken.
func (w *storeWatcher) resync() bool {
	snapshot, err := w.store.Snapshot(w.db, w.tables)
	if err != nil {
		w.log.Warnf("Failed to snapshot the store: %v", err)
		return false
	}
	w.generation++
	err = w.eventLoop.PushEvent(&api.StoreResync{
		Snapshot:   snapshot,
		Generation: w.generation,
	})
	if err != nil {
		w.log.Warnf("Failed to push store resync: %v", err)
		return false
	}
	return true
}

// probeStore pings the store until it answers. Returns false on shutdown.
func (w *storeWatcher) probeStore() bool {
	for {
		if !w.sleep(w.probingInterval) {
			return false
		}
		if err := w.store.Ping(); err != nil {
			w.log.Debugf("Store probe failed: %v", err)
			continue
		}
		w.log.Info("Store is reachable again, starting a new generation")
		return true
	}
}

func (w *storeWatcher) sleep(d time.Duration) bool {
	select {
	case <-w.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// close stops the watcher.
func (w *storeWatcher) close() {
	w.cancel()
	w.wg.Wait()
}
