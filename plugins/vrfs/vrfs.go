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

// Package vrfs manages the VRF configuration domain: one fragment per VRF,
// establishing the VRF and its per-VRF BGP instance. Other domains
// (neighbors) declare a read-only dependency on this manager to check VRF
// existence before rendering.
package vrfs

import (
	"fmt"

	"github.com/ligato/cn-infra/infra"

	"github.com/routeops/bgpcfgd/pkg/fragment"
	"github.com/routeops/bgpcfgd/pkg/templates"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/globalcfg"
)

const (
	// Table is the state-store table owned by this domain.
	Table = "VRF"

	// Domain under which VRF fragments are applied.
	Domain = "vrf"

	confTemplate   = "vrf.conf"
	unconfTemplate = "vrf.unconf"
)

// API defines what other domain managers may read from the VRF manager.
// Must be accessed only from within the event loop.
type API interface {
	// HasVRF tells whether the named VRF is part of the desired state.
	// The empty name (default VRF) always exists.
	HasVRF(name string) bool
}

// GlobalsAPI is the read-only slice of the global-configuration domain
// needed for rendering.
type GlobalsAPI interface {
	LocalASN() (string, bool)
	RouterID() string
}

// Plugin implements the VRF configuration domain.
type Plugin struct {
	Deps

	desired map[string]api.Fields
	dirty   map[string]struct{}
}

// Deps lists dependencies of the VRF manager.
type Deps struct {
	infra.PluginDeps

	Templates *templates.Engine
	Globals   GlobalsAPI
}

// Init allocates the desired-state maps.
func (p *Plugin) Init() error {
	p.desired = make(map[string]api.Fields)
	p.dirty = make(map[string]struct{})
	return nil
}

// Close is NOOP.
func (p *Plugin) Close() error {
	return nil
}

// HasVRF implements API.
func (p *Plugin) HasVRF(name string) bool {
	if name == "" {
		return true
	}
	_, has := p.desired[name]
	return has
}

// HandlesEvent selects VRF changes plus metadata changes (the local ASN is
// part of every VRF fragment).
func (p *Plugin) HandlesEvent(event api.Event) bool {
	if change, isChange := event.(*api.StateChange); isChange {
		return change.Table == Table || change.Table == globalcfg.MetadataTable
	}
	return event.Method() == api.Resync
}

// Resync replaces the desired state with the snapshot content.
func (p *Plugin) Resync(event api.Event, snapshot api.TableData, resyncCount int) error {
	p.desired = make(map[string]api.Fields)
	p.dirty = make(map[string]struct{})
	for name, fields := range snapshot[Table] {
		p.desired[name] = fields.Copy()
		p.dirty[name] = struct{}{}
	}
	return nil
}

// Update merges one incremental change.
func (p *Plugin) Update(event api.Event) (changeDescription string, err error) {
	change := event.(*api.StateChange)

	if change.Table == globalcfg.MetadataTable {
		// ASN/router-id feed every fragment - re-render all VRFs
		for name := range p.desired {
			p.dirty[name] = struct{}{}
		}
		if len(p.desired) == 0 {
			return "", nil
		}
		return fmt.Sprintf("%d VRFs dirtied by metadata change", len(p.desired)), nil
	}

	name := change.Key
	switch change.Op {
	case api.SetOp:
		if prev, has := p.desired[name]; has && prev.Equal(change.Fields) {
			// duplicate delivery
			return "", nil
		}
		p.desired[name] = change.Fields.Copy()
		p.dirty[name] = struct{}{}
		return fmt.Sprintf("vrf %s updated", name), nil

	case api.DeleteOp:
		if _, has := p.desired[name]; !has {
			return "", nil
		}
		delete(p.desired, name)
		p.dirty[name] = struct{}{}
		return fmt.Sprintf("vrf %s removed", name), nil
	}
	return "", nil
}

// Flush renders the dirty (or all) VRF fragments.
func (p *Plugin) Flush(txn api.FragmentTxn, full bool) error {
	identities := p.dirty
	if full {
		identities = make(map[string]struct{}, len(p.desired))
		for name := range p.desired {
			identities[name] = struct{}{}
		}
	}
	p.dirty = make(map[string]struct{})

	for name := range identities {
		p.render(txn, name)
	}
	return nil
}

func (p *Plugin) render(txn api.FragmentTxn, name string) {
	key := fragment.Key{Domain: Domain, Identity: name}

	fields, desired := p.desired[name]
	if !desired {
		txn.Delete(key)
		return
	}

	asn, hasASN := p.Globals.LocalASN()
	if !hasASN {
		// deferred: the metadata change will dirty us again; withdraw a
		// previously applied fragment so that the baseline does not go
		// stale while the dependency is unmet
		p.Log.Debugf("Deferring render of %s: local ASN not known yet", key)
		txn.Delete(key)
		return
	}

	ctx := templates.Context{
		"Name":     name,
		"VNI":      fields["vni"],
		"LocalASN": asn,
		"RouterID": p.Globals.RouterID(),
	}
	text, err := p.Templates.Render(confTemplate, ctx)
	if err != nil {
		p.Log.Errorf("Failed to render %s: %v", key, api.NewTemplateError(confTemplate, err))
		return
	}
	undo, err := p.Templates.Render(unconfTemplate, ctx)
	if err != nil {
		p.Log.Errorf("Failed to render %s: %v", key, api.NewTemplateError(unconfTemplate, err))
		return
	}
	txn.Put(&fragment.Rendered{
		Key:      key,
		Template: confTemplate,
		Text:     text,
		Undo:     undo,
	})
}

// DirtyCount returns the number of identities awaiting render.
func (p *Plugin) DirtyCount() int {
	return len(p.dirty)
}

var _ api.EventHandler = (*Plugin)(nil)
var _ API = (*Plugin)(nil)
