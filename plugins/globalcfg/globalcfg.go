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

// Package globalcfg manages the device-global BGP configuration domain:
// the base "router bgp" instance derived from the DEVICE_METADATA table.
// Other domain managers read the local ASN and router-id from here.
package globalcfg

import (
	"github.com/ligato/cn-infra/infra"

	"github.com/routeops/bgpcfgd/pkg/fragment"
	"github.com/routeops/bgpcfgd/pkg/templates"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
)

const (
	// MetadataTable is the state-store table carrying device metadata.
	MetadataTable = "DEVICE_METADATA"

	// the only key of the metadata table
	metadataKey = "localhost"

	// Domain under which the global fragment is applied.
	Domain = "global"

	// identity of the single fragment owned by this domain
	bgpIdentity = "bgp"

	confTemplate   = "device_global.conf"
	unconfTemplate = "device_global.unconf"
)

// Plugin implements the device-global configuration domain.
type Plugin struct {
	Deps

	metadata api.Fields
	dirty    bool
}

// Deps lists dependencies of the plugin.
type Deps struct {
	infra.PluginDeps

	Templates *templates.Engine
}

// Init is NOOP - desired state is built from the first resync.
func (p *Plugin) Init() error {
	return nil
}

// Close is NOOP.
func (p *Plugin) Close() error {
	return nil
}

// LocalASN returns the device's BGP autonomous-system number, or false
// when the metadata has not been learned yet. Must be called only from
// within the event loop.
func (p *Plugin) LocalASN() (string, bool) {
	if p.metadata == nil {
		return "", false
	}
	asn, has := p.metadata["bgp_asn"]
	return asn, has && asn != ""
}

// RouterID returns the configured router-id (may be empty).
func (p *Plugin) RouterID() string {
	if p.metadata == nil {
		return ""
	}
	return p.metadata["bgp_router_id"]
}

// HandlesEvent selects DEVICE_METADATA changes.
func (p *Plugin) HandlesEvent(event api.Event) bool {
	if change, isChange := event.(*api.StateChange); isChange {
		return change.Table == MetadataTable
	}
	return event.Method() == api.Resync
}

// Resync replaces the metadata with the snapshot content.
func (p *Plugin) Resync(event api.Event, snapshot api.TableData, resyncCount int) error {
	p.metadata = nil
	if table, has := snapshot[MetadataTable]; has {
		if fields, has := table[metadataKey]; has {
			p.metadata = fields.Copy()
		}
	}
	p.dirty = true
	return nil
}

// Update merges one metadata change.
func (p *Plugin) Update(event api.Event) (changeDescription string, err error) {
	change := event.(*api.StateChange)
	if change.Key != metadataKey {
		return "", nil
	}

	switch change.Op {
	case api.SetOp:
		if p.metadata != nil && p.metadata.Equal(change.Fields) {
			return "", nil
		}
		p.metadata = change.Fields.Copy()
	case api.DeleteOp:
		if p.metadata == nil {
			return "", nil
		}
		p.metadata = nil
	}
	p.dirty = true
	return "device metadata changed", nil
}

// Flush renders the global fragment.
func (p *Plugin) Flush(txn api.FragmentTxn, full bool) error {
	if !p.dirty && !full {
		return nil
	}
	p.dirty = false

	key := fragment.Key{Domain: Domain, Identity: bgpIdentity}
	asn, hasASN := p.LocalASN()
	if !hasASN {
		// no ASN -> no BGP instance at all
		txn.Delete(key)
		return nil
	}

	ctx := templates.Context{
		"LocalASN": asn,
		"RouterID": p.RouterID(),
	}
	text, err := p.Templates.Render(confTemplate, ctx)
	if err != nil {
		p.Log.Errorf("Failed to render %s: %v", key, api.NewTemplateError(confTemplate, err))
		return nil
	}
	undo, err := p.Templates.Render(unconfTemplate, ctx)
	if err != nil {
		p.Log.Errorf("Failed to render %s: %v", key, api.NewTemplateError(unconfTemplate, err))
		return nil
	}
	txn.Put(&fragment.Rendered{
		Key:      key,
		Template: confTemplate,
		Text:     text,
		Undo:     undo,
	})
	return nil
}

// DirtyCount returns 1 when the global fragment awaits re-rendering.
func (p *Plugin) DirtyCount() int {
	if p.dirty {
		return 1
	}
	return 0
}

var _ api.EventHandler = (*Plugin)(nil)
