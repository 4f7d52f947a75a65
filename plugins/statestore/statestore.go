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

// Package statestore implements the client for the shared key/field store.
// The store is a set of Redis hashes named "<TABLE><sep><key>", one logical
// database for configuration intent and one for operational state. Change
// delivery uses keyspace notifications, so a subscription observes SET
// (hash written) and DELETE (hash removed) per key.
package statestore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ligato/cn-infra/infra"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/routeops/bgpcfgd/plugins/controller/api"
)

const (
	// events the subscription needs: keyspace (K), generic (g, for DEL),
	// hash commands (h).
	keyspaceEventsConfig = "Kgh"

	// how often the connect probe retries before the first connection.
	connectProbeInterval = 3 * time.Second

	// SCAN batch size for snapshots.
	snapshotScanCount = 256
)

// Plugin implements access to the state store on top of go-redis.
type Plugin struct {
	Deps

	config *Config

	mu        sync.Mutex
	clients   map[int]*redis.Client
	connected bool
	onConnect []func() error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Deps lists dependencies of the state-store plugin.
type Deps struct {
	infra.PluginDeps
}

// Config holds the state-store connection configuration.
type Config struct {
	// Address of the Redis instance backing the store.
	Address string `json:"address"`

	// Password, if the store requires authentication.
	Password string `json:"password"`

	// ConfigDB is the logical database holding configuration intent.
	ConfigDB int `json:"config-db"`

	// StateDB is the logical database holding operational state.
	StateDB int `json:"state-db"`

	// Separator between table name and key inside a store key.
	Separator string `json:"separator"`
}

func defaultConfig() *Config {
	return &Config{
		Address:   "localhost:6379",
		ConfigDB:  4,
		StateDB:   6,
		Separator: "|",
	}
}

// Init loads the configuration and starts probing for the first connection.
func (p *Plugin) Init() error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.clients = make(map[int]*redis.Client)

	if p.config == nil {
		p.config = defaultConfig()
		if p.Cfg != nil {
			if _, err := p.Cfg.LoadValue(p.config); err != nil {
				return err
			}
		}
	}
	p.Log.Infof("State store configuration: %+v", *p.config)

	p.wg.Add(1)
	go p.probeFirstConnect()
	return nil
}

// Close terminates all store connections.
func (p *Plugin) Close() error {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, client := range p.clients {
		client.Close()
	}
	return nil
}

// OnConnect registers a callback for the first established connection.
func (p *Plugin) OnConnect(callback func() error) {
	p.mu.Lock()
	alreadyConnected := p.connected
	if !alreadyConnected {
		p.onConnect = append(p.onConnect, callback)
	}
	p.mu.Unlock()

	if alreadyConnected {
		if err := callback(); err != nil {
			p.Log.Errorf("OnConnect callback failed: %v", err)
		}
	}
}

// Ping probes the configuration database connection.
func (p *Plugin) Ping() error {
	client := p.client(p.config.ConfigDB)
	return client.Ping(p.ctx).Err()
}

// Snapshot implements API.Snapshot.
func (p *Plugin) Snapshot(db int, tables []string) (api.TableData, error) {
	client := p.client(db)
	snapshot := make(api.TableData, len(tables))

	for _, table := range tables {
		snapshot[table] = make(map[string]api.Fields)
		pattern := table + p.config.Separator + "*"
		iter := client.Scan(p.ctx, 0, pattern, snapshotScanCount).Iterator()
		for iter.Next(p.ctx) {
			storeKey := iter.Val()
			fields, err := client.HGetAll(p.ctx, storeKey).Result()
			if err != nil {
				return nil, errors.Wrapf(err, "failed to read %s", storeKey)
			}
			if len(fields) == 0 {
				// key disappeared between SCAN and HGETALL
				continue
			}
			_, key := p.splitStoreKey(storeKey)
			snapshot[table][key] = api.Fields(fields)
		}
		if err := iter.Err(); err != nil {
			return nil, errors.Wrapf(err, "failed to scan table %s", table)
		}
	}
	return snapshot, nil
}

// Watch implements API.Watch.
func (p *Plugin) Watch(db int, tables []string) (<-chan Change, func(), error) {
	client := p.client(db)

	// subscriptions rely on keyspace notifications being enabled
	if err := client.ConfigSet(p.ctx, "notify-keyspace-events", keyspaceEventsConfig).Err(); err != nil {
		p.Log.Warnf("Failed to enable keyspace notifications (assuming pre-configured): %v", err)
	}

	patterns := make([]string, 0, len(tables))
	prefix := keyspacePrefix(db)
	for _, table := range tables {
		patterns = append(patterns, prefix+table+p.config.Separator+"*")
	}
	pubsub := client.PSubscribe(p.ctx, patterns...)
	if _, err := pubsub.Receive(p.ctx); err != nil {
		pubsub.Close()
		return nil, nil, errors.Wrap(err, "failed to subscribe to store tables")
	}

	changeCh := make(chan Change, 100)
	stopCh := make(chan struct{})
	p.wg.Add(1)
	go p.deliverChanges(client, pubsub, prefix, changeCh, stopCh)

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(stopCh)
			pubsub.Close()
		})
	}
	return changeCh, stop, nil
}

// deliverChanges translates keyspace notifications into Change messages.
// The output channel is closed when the subscription dies.
func (p *Plugin) deliverChanges(client *redis.Client, pubsub *redis.PubSub,
	prefix string, changeCh chan<- Change, stopCh <-chan struct{}) {

	defer p.wg.Done()
	defer close(changeCh)

	msgCh := pubsub.Channel()
	for {
		select {
		case <-p.ctx.Done():
			return
		case <-stopCh:
			return

		case msg, ok := <-msgCh:
			if !ok {
				// subscription died - the consumer must resynchronize
				p.Log.Warn("Store subscription closed")
				return
			}
			storeKey := strings.TrimPrefix(msg.Channel, prefix)
			table, key := p.splitStoreKey(storeKey)
			if table == "" || key == "" {
				continue
			}

			var change Change
			switch msg.Payload {
			case "del", "expired":
				change = Change{Table: table, Key: key, Op: api.DeleteOp}
			default:
				// hash mutation: deliver the full current field set
				fields, err := client.HGetAll(p.ctx, storeKey).Result()
				if err != nil {
					p.Log.Warnf("Failed to read changed key %s: %v", storeKey, err)
					return
				}
				if len(fields) == 0 {
					change = Change{Table: table, Key: key, Op: api.DeleteOp}
				} else {
					change = Change{Table: table, Key: key, Op: api.SetOp,
						Fields: api.Fields(fields)}
				}
			}

			select {
			case changeCh <- change:
			case <-stopCh:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}
}

// Publish implements API.Publish.
func (p *Plugin) Publish(db int, table, key string, fields api.Fields) error {
	client := p.client(db)
	storeKey := table + p.config.Separator + key

	if fields == nil {
		return errors.Wrapf(client.Del(p.ctx, storeKey).Err(),
			"failed to delete %s", storeKey)
	}

	values := make(map[string]interface{}, len(fields))
	for name, value := range fields {
		values[name] = value
	}
	return errors.Wrapf(client.HSet(p.ctx, storeKey, values).Err(),
		"failed to write %s", storeKey)
}

// client returns (and lazily creates) the client for a logical database.
func (p *Plugin) client(db int) *redis.Client {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[db]; ok {
		return client
	}
	client := redis.NewClient(&redis.Options{
		Addr:     p.config.Address,
		Password: p.config.Password,
		DB:       db,
	})
	p.clients[db] = client
	return client
}

// probeFirstConnect pings the store until it responds, then fires the
// registered OnConnect callbacks.
func (p *Plugin) probeFirstConnect() {
	defer p.wg.Done()

	for {
		if err := p.Ping(); err == nil {
			break
		}
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(connectProbeInterval):
		}
	}

	p.mu.Lock()
	p.connected = true
	callbacks := p.onConnect
	p.onConnect = nil
	p.mu.Unlock()

	p.Log.Info("Connected to the state store")
	for _, callback := range callbacks {
		if err := callback(); err != nil {
			p.Log.Errorf("OnConnect callback failed: %v", err)
		}
	}
}

// splitStoreKey splits "<TABLE><sep><key>" into table and key. The key part
// may itself contain the separator.
func (p *Plugin) splitStoreKey(storeKey string) (table, key string) {
	parts := strings.SplitN(storeKey, p.config.Separator, 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// keyspacePrefix returns the notification channel prefix for a database.
func keyspacePrefix(db int) string {
	return "__keyspace@" + strconv.Itoa(db) + "__:"
}
