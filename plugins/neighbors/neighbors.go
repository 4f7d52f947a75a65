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

// Package neighbors manages the BGP neighbor configuration domain: static
// neighbors (BGP_NEIGHBOR table) and dynamic peer ranges (BGP_PEER_RANGE
// table). Neighbor keys may be scoped to a VRF ("<vrf>|<addr>"); rendering
// of a scoped neighbor is deferred until the VRF manager knows the VRF,
// and every neighbor defers until the local ASN is published in the
// device metadata.
package neighbors

import (
	"fmt"
	"strings"

	"github.com/ligato/cn-infra/infra"

	"github.com/routeops/bgpcfgd/pkg/fragment"
	"github.com/routeops/bgpcfgd/pkg/templates"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/globalcfg"
	"github.com/routeops/bgpcfgd/plugins/vrfs"
)

const (
	// NeighborTable holds statically configured neighbors.
	NeighborTable = "BGP_NEIGHBOR"

	// PeerRangeTable holds dynamic peer-group listen ranges.
	PeerRangeTable = "BGP_PEER_RANGE"

	// NeighborDomain and PeerRangeDomain name the fragment domains.
	NeighborDomain  = "neighbor"
	PeerRangeDomain = "peer-range"

	neighborConf    = "neighbor.conf"
	neighborUnconf  = "neighbor.unconf"
	peerRangeConf   = "peer_range.conf"
	peerRangeUnconf = "peer_range.unconf"

	defaultKeepalive = "60"
	defaultHoldtime  = "180"
)

// Plugin implements the neighbor configuration domain.
type Plugin struct {
	Deps

	// store key -> fields, per owned table
	neighbors  map[string]api.Fields
	peerRanges map[string]api.Fields

	dirtyNeighbors  map[string]struct{}
	dirtyPeerRanges map[string]struct{}
}

// Deps lists dependencies of the neighbor manager.
type Deps struct {
	infra.PluginDeps

	Templates *templates.Engine
	Globals   vrfs.GlobalsAPI
	VRFs      vrfs.API
}

// Init allocates the desired-state maps.
func (p *Plugin) Init() error {
	p.neighbors = make(map[string]api.Fields)
	p.peerRanges = make(map[string]api.Fields)
	p.dirtyNeighbors = make(map[string]struct{})
	p.dirtyPeerRanges = make(map[string]struct{})
	return nil
}

// Close is NOOP.
func (p *Plugin) Close() error {
	return nil
}

// HandlesEvent selects changes of the owned tables plus the tables whose
// state feeds into neighbor fragments (device metadata, VRFs).
func (p *Plugin) HandlesEvent(event api.Event) bool {
	if change, isChange := event.(*api.StateChange); isChange {
		switch change.Table {
		case NeighborTable, PeerRangeTable, globalcfg.MetadataTable, vrfs.Table:
			return true
		}
		return false
	}
	return event.Method() == api.Resync
}

// Resync replaces the desired state with the snapshot content.
func (p *Plugin) Resync(event api.Event, snapshot api.TableData, resyncCount int) error {
	p.neighbors = make(map[string]api.Fields)
	p.peerRanges = make(map[string]api.Fields)
	p.dirtyNeighbors = make(map[string]struct{})
	p.dirtyPeerRanges = make(map[string]struct{})
	for storeKey, fields := range snapshot[NeighborTable] {
		p.neighbors[storeKey] = fields.Copy()
		p.dirtyNeighbors[storeKey] = struct{}{}
	}
	for storeKey, fields := range snapshot[PeerRangeTable] {
		p.peerRanges[storeKey] = fields.Copy()
		p.dirtyPeerRanges[storeKey] = struct{}{}
	}
	return nil
}

// Update merges one incremental change.
func (p *Plugin) Update(event api.Event) (changeDescription string, err error) {
	change := event.(*api.StateChange)

	switch change.Table {
	case globalcfg.MetadataTable:
		// local ASN feeds every fragment
		count := p.dirtyAll()
		if count == 0 {
			return "", nil
		}
		return fmt.Sprintf("%d peers dirtied by metadata change", count), nil

	case vrfs.Table:
		count := p.dirtyVRF(change.Key)
		if count == 0 {
			return "", nil
		}
		return fmt.Sprintf("%d peers dirtied by vrf %s change", count, change.Key), nil

	case NeighborTable:
		return p.updateEntry(p.neighbors, p.dirtyNeighbors, "neighbor", change)

	case PeerRangeTable:
		return p.updateEntry(p.peerRanges, p.dirtyPeerRanges, "peer range", change)
	}
	return "", nil
}

func (p *Plugin) updateEntry(desired map[string]api.Fields, dirty map[string]struct{},
	what string, change *api.StateChange) (string, error) {

	switch change.Op {
	case api.SetOp:
		if prev, has := desired[change.Key]; has && prev.Equal(change.Fields) {
			return "", nil
		}
		desired[change.Key] = change.Fields.Copy()
		dirty[change.Key] = struct{}{}
		return fmt.Sprintf("%s %s updated", what, change.Key), nil

	case api.DeleteOp:
		if _, has := desired[change.Key]; !has {
			return "", nil
		}
		delete(desired, change.Key)
		dirty[change.Key] = struct{}{}
		return fmt.Sprintf("%s %s removed", what, change.Key), nil
	}
	return "", nil
}

func (p *Plugin) dirtyAll() int {
	for storeKey := range p.neighbors {
		p.dirtyNeighbors[storeKey] = struct{}{}
	}
	for storeKey := range p.peerRanges {
		p.dirtyPeerRanges[storeKey] = struct{}{}
	}
	return len(p.neighbors) + len(p.peerRanges)
}

func (p *Plugin) dirtyVRF(vrf string) (count int) {
	for storeKey := range p.neighbors {
		if keyVRF, _ := splitScopedKey(storeKey); keyVRF == vrf {
			p.dirtyNeighbors[storeKey] = struct{}{}
			count++
		}
	}
	for storeKey := range p.peerRanges {
		if keyVRF, _ := splitScopedKey(storeKey); keyVRF == vrf {
			p.dirtyPeerRanges[storeKey] = struct{}{}
			count++
		}
	}
	return count
}

// Flush renders the dirty (or all) neighbors and peer ranges.
func (p *Plugin) Flush(txn api.FragmentTxn, full bool) error {
	dirtyNeighbors := p.dirtyNeighbors
	dirtyPeerRanges := p.dirtyPeerRanges
	if full {
		dirtyNeighbors = allKeys(p.neighbors)
		dirtyPeerRanges = allKeys(p.peerRanges)
	}
	p.dirtyNeighbors = make(map[string]struct{})
	p.dirtyPeerRanges = make(map[string]struct{})

	for storeKey := range dirtyNeighbors {
		p.renderNeighbor(txn, storeKey)
	}
	for storeKey := range dirtyPeerRanges {
		p.renderPeerRange(txn, storeKey)
	}
	return nil
}

func (p *Plugin) renderNeighbor(txn api.FragmentTxn, storeKey string) {
	key := fragment.Key{Domain: NeighborDomain, Identity: storeKey}

	fields, desired := p.neighbors[storeKey]
	if !desired {
		txn.Delete(key)
		return
	}

	vrf, addr := splitScopedKey(storeKey)
	asn, ready := p.renderable(key, vrf)
	if !ready {
		txn.Delete(key)
		return
	}

	keepalive := fields["keepalive"]
	if keepalive == "" {
		keepalive = defaultKeepalive
	}
	holdtime := fields["holdtime"]
	if holdtime == "" {
		holdtime = defaultHoldtime
	}

	ctx := templates.Context{
		"LocalASN":    asn,
		"VRF":         vrf,
		"Addr":        addr,
		"ASN":         fields["asn"],
		"Description": fields["name"],
		"Keepalive":   keepalive,
		"Holdtime":    holdtime,
		"AdminDown":   fields["admin_status"] == "down",
	}
	p.put(txn, key, neighborConf, neighborUnconf, ctx)
}

func (p *Plugin) renderPeerRange(txn api.FragmentTxn, storeKey string) {
	key := fragment.Key{Domain: PeerRangeDomain, Identity: storeKey}

	fields, desired := p.peerRanges[storeKey]
	if !desired {
		txn.Delete(key)
		return
	}

	vrf, name := splitScopedKey(storeKey)
	asn, ready := p.renderable(key, vrf)
	if !ready {
		txn.Delete(key)
		return
	}

	ctx := templates.Context{
		"LocalASN": asn,
		"VRF":      vrf,
		"Name":     name,
		"ASN":      fields["asn"],
		"Range":    fields["range"],
	}
	p.put(txn, key, peerRangeConf, peerRangeUnconf, ctx)
}

// renderable checks the cross-domain dependencies of a fragment. A false
// return means the render is deferred; the metadata or VRF change that
// satisfies the dependency will dirty the identity again. Callers withdraw
// the fragment for the duration of the deferral - a VRF removal takes the
// neighbors under it down with the routing instance, so keeping their
// baselines would make the later re-render diff to a no-op and the
// neighbors would never return.
func (p *Plugin) renderable(key fragment.Key, vrf string) (asn string, ready bool) {
	asn, hasASN := p.Globals.LocalASN()
	if !hasASN {
		p.Log.Debugf("Deferring render of %s: local ASN not known yet", key)
		return "", false
	}
	if !p.VRFs.HasVRF(vrf) {
		p.Log.Debugf("Deferring render of %s: vrf %s not configured yet", key, vrf)
		return "", false
	}
	return asn, true
}

func (p *Plugin) put(txn api.FragmentTxn, key fragment.Key, conf, unconf string, ctx templates.Context) {
	text, err := p.Templates.Render(conf, ctx)
	if err != nil {
		p.Log.Errorf("Failed to render %s: %v", key, api.NewTemplateError(conf, err))
		return
	}
	undo, err := p.Templates.Render(unconf, ctx)
	if err != nil {
		p.Log.Errorf("Failed to render %s: %v", key, api.NewTemplateError(unconf, err))
		return
	}
	txn.Put(&fragment.Rendered{
		Key:      key,
		Template: conf,
		Text:     text,
		Undo:     undo,
	})
}

// DirtyCount returns the number of identities awaiting render.
func (p *Plugin) DirtyCount() int {
	return len(p.dirtyNeighbors) + len(p.dirtyPeerRanges)
}

// splitScopedKey splits an optionally VRF-scoped store key. Plain keys
// ("10.0.0.1") belong to the default VRF; scoped keys are "<vrf>|<rest>".
func splitScopedKey(storeKey string) (vrf, rest string) {
	if idx := strings.Index(storeKey, "|"); idx >= 0 {
		return storeKey[:idx], storeKey[idx+1:]
	}
	return "", storeKey
}

func allKeys(desired map[string]api.Fields) map[string]struct{} {
	keys := make(map[string]struct{}, len(desired))
	for storeKey := range desired {
		keys[storeKey] = struct{}{}
	}
	return keys
}

var _ api.EventHandler = (*Plugin)(nil)
