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

package neighbors

import (
	"testing"

	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/onsi/gomega"

	"github.com/routeops/bgpcfgd/pkg/fragment"
	"github.com/routeops/bgpcfgd/pkg/templates"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/globalcfg"
	"github.com/routeops/bgpcfgd/plugins/vrfs"
)

type recordingTxn struct {
	puts    map[fragment.Key]*fragment.Rendered
	deletes map[fragment.Key]struct{}
}

func newRecordingTxn() *recordingTxn {
	return &recordingTxn{
		puts:    make(map[fragment.Key]*fragment.Rendered),
		deletes: make(map[fragment.Key]struct{}),
	}
}

func (t *recordingTxn) Put(rendered *fragment.Rendered) {
	t.puts[rendered.Key] = rendered
}

func (t *recordingTxn) Delete(key fragment.Key) {
	t.deletes[key] = struct{}{}
}

func (t *recordingTxn) Get(key fragment.Key) *fragment.Rendered {
	return t.puts[key]
}

type fakeGlobals struct {
	asn string
}

func (g *fakeGlobals) LocalASN() (string, bool) {
	return g.asn, g.asn != ""
}

func (g *fakeGlobals) RouterID() string {
	return ""
}

type fakeVRFs struct {
	vrfs map[string]struct{}
}

func (v *fakeVRFs) HasVRF(name string) bool {
	if name == "" {
		return true
	}
	_, has := v.vrfs[name]
	return has
}

func newTestPlugin(t *testing.T, globals *fakeGlobals, vrfState *fakeVRFs) *Plugin {
	engine, err := templates.NewEngine(logrus.DefaultLogger())
	gomega.Expect(err).To(gomega.BeNil())

	plugin := NewPlugin(UseDeps(func(deps *Deps) {
		deps.Templates = engine
		deps.Globals = globals
		deps.VRFs = vrfState
	}))
	gomega.Expect(plugin.Init()).To(gomega.BeNil())
	return plugin
}

func neighborKey(storeKey string) fragment.Key {
	return fragment.Key{Domain: NeighborDomain, Identity: storeKey}
}

func peerRangeKey(storeKey string) fragment.Key {
	return fragment.Key{Domain: PeerRangeDomain, Identity: storeKey}
}

func TestResyncAndFlush(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t,
		&fakeGlobals{asn: "65100"},
		&fakeVRFs{vrfs: map[string]struct{}{"red": {}}})

	snapshot := api.TableData{
		NeighborTable: {
			"10.0.0.1":    {"asn": "65200", "name": "spine1"},
			"red|fc00::2": {"asn": "65201", "admin_status": "down"},
		},
		PeerRangeTable: {
			"SERVERS": {"asn": "65300", "range": "192.168.10.0/24"},
		},
	}
	err := plugin.Resync(&api.StoreResync{Snapshot: snapshot}, snapshot, 1)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(3))

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))
	gomega.Expect(txn.puts).To(gomega.HaveLen(3))

	spine := txn.Get(neighborKey("10.0.0.1"))
	gomega.Expect(spine).NotTo(gomega.BeNil())
	gomega.Expect(spine.Text).To(gomega.ContainSubstring("router bgp 65100"))
	gomega.Expect(spine.Text).To(gomega.ContainSubstring("neighbor 10.0.0.1 remote-as 65200"))
	gomega.Expect(spine.Text).To(gomega.ContainSubstring("neighbor 10.0.0.1 description spine1"))
	gomega.Expect(spine.Text).To(gomega.ContainSubstring("timers 60 180"))

	scoped := txn.Get(neighborKey("red|fc00::2"))
	gomega.Expect(scoped).NotTo(gomega.BeNil())
	gomega.Expect(scoped.Text).To(gomega.ContainSubstring("router bgp 65100 vrf red"))
	gomega.Expect(scoped.Text).To(gomega.ContainSubstring("neighbor fc00::2 shutdown"))

	servers := txn.Get(peerRangeKey("SERVERS"))
	gomega.Expect(servers).NotTo(gomega.BeNil())
	gomega.Expect(servers.Text).To(gomega.ContainSubstring("neighbor SERVERS peer-group"))
	gomega.Expect(servers.Text).To(gomega.ContainSubstring("bgp listen range 192.168.10.0/24 peer-group SERVERS"))
}

func TestDeferredUntilASNKnown(t *testing.T) {
	gomega.RegisterTestingT(t)
	globals := &fakeGlobals{}
	plugin := newTestPlugin(t, globals, &fakeVRFs{})

	_, err := plugin.Update(&api.StateChange{
		Table: NeighborTable, Key: "10.0.0.1", Op: api.SetOp,
		Fields: api.Fields{"asn": "65200"},
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.puts).To(gomega.BeEmpty())
	gomega.Expect(txn.deletes).To(gomega.HaveKey(neighborKey("10.0.0.1")))

	// metadata change re-dirties and unblocks
	globals.asn = "65100"
	description, err := plugin.Update(&api.StateChange{
		Table: globalcfg.MetadataTable, Key: "localhost", Op: api.SetOp,
		Fields: api.Fields{"bgp_asn": "65100"},
	})
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).NotTo(gomega.BeEmpty())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(1))

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.Get(neighborKey("10.0.0.1"))).NotTo(gomega.BeNil())
}

func TestDeferredUntilVRFKnown(t *testing.T) {
	gomega.RegisterTestingT(t)
	vrfState := &fakeVRFs{vrfs: map[string]struct{}{}}
	plugin := newTestPlugin(t, &fakeGlobals{asn: "65100"}, vrfState)

	_, err := plugin.Update(&api.StateChange{
		Table: NeighborTable, Key: "red|10.0.0.1", Op: api.SetOp,
		Fields: api.Fields{"asn": "65200"},
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.puts).To(gomega.BeEmpty())
	gomega.Expect(txn.deletes).To(gomega.HaveKey(neighborKey("red|10.0.0.1")))

	// the VRF change dirties only the peers scoped to that VRF
	vrfState.vrfs["red"] = struct{}{}
	description, err := plugin.Update(&api.StateChange{
		Table: vrfs.Table, Key: "red", Op: api.SetOp, Fields: api.Fields{},
	})
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).To(gomega.Equal("1 peers dirtied by vrf red change"))

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.Get(neighborKey("red|10.0.0.1"))).NotTo(gomega.BeNil())
}

func TestVRFRemovalWithdrawsScopedNeighbors(t *testing.T) {
	gomega.RegisterTestingT(t)
	vrfState := &fakeVRFs{vrfs: map[string]struct{}{"red": {}}}
	plugin := newTestPlugin(t, &fakeGlobals{asn: "65100"}, vrfState)

	_, err := plugin.Update(&api.StateChange{
		Table: NeighborTable, Key: "red|10.0.0.1", Op: api.SetOp,
		Fields: api.Fields{"asn": "65200"},
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.Get(neighborKey("red|10.0.0.1"))).NotTo(gomega.BeNil())

	// removing the VRF takes the routing instance down; the scoped
	// neighbor must be withdrawn, not silently kept in the baselines
	delete(vrfState.vrfs, "red")
	_, err = plugin.Update(&api.StateChange{
		Table: vrfs.Table, Key: "red", Op: api.DeleteOp,
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.puts).To(gomega.BeEmpty())
	gomega.Expect(txn.deletes).To(gomega.HaveKey(neighborKey("red|10.0.0.1")))

	// the VRF returning re-renders the neighbor from scratch
	vrfState.vrfs["red"] = struct{}{}
	_, err = plugin.Update(&api.StateChange{
		Table: vrfs.Table, Key: "red", Op: api.SetOp, Fields: api.Fields{},
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.Get(neighborKey("red|10.0.0.1"))).NotTo(gomega.BeNil())
}

func TestVRFChangeLeavesOtherPeersAlone(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t,
		&fakeGlobals{asn: "65100"},
		&fakeVRFs{vrfs: map[string]struct{}{"red": {}}})

	snapshot := api.TableData{
		NeighborTable: {
			"10.0.0.1":     {"asn": "65200"},
			"red|10.0.0.2": {"asn": "65201"},
		},
	}
	err := plugin.Resync(&api.StoreResync{Snapshot: snapshot}, snapshot, 1)
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())

	_, err = plugin.Update(&api.StateChange{
		Table: vrfs.Table, Key: "red", Op: api.SetOp, Fields: api.Fields{},
	})
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(1))

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.puts).To(gomega.HaveLen(1))
	gomega.Expect(txn.Get(neighborKey("red|10.0.0.2"))).NotTo(gomega.BeNil())
}

func TestNeighborRemoval(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t, &fakeGlobals{asn: "65100"}, &fakeVRFs{})

	_, err := plugin.Update(&api.StateChange{
		Table: NeighborTable, Key: "10.0.0.1", Op: api.SetOp,
		Fields: api.Fields{"asn": "65200"},
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())

	description, err := plugin.Update(&api.StateChange{
		Table: NeighborTable, Key: "10.0.0.1", Op: api.DeleteOp,
	})
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).To(gomega.Equal("neighbor 10.0.0.1 removed"))

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.deletes).To(gomega.HaveKey(neighborKey("10.0.0.1")))
}

func TestDeleteWithoutSetIsNoOp(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t, &fakeGlobals{asn: "65100"}, &fakeVRFs{})

	description, err := plugin.Update(&api.StateChange{
		Table: NeighborTable, Key: "10.0.0.1", Op: api.DeleteOp,
	})
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).To(gomega.BeEmpty())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))
}

func TestDuplicateSetIsNoOp(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t, &fakeGlobals{asn: "65100"}, &fakeVRFs{})

	change := &api.StateChange{
		Table: PeerRangeTable, Key: "SERVERS", Op: api.SetOp,
		Fields: api.Fields{"asn": "65300", "range": "192.168.10.0/24"},
	}
	_, err := plugin.Update(change)
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())

	description, err := plugin.Update(change)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).To(gomega.BeEmpty())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))
}

func TestSplitScopedKey(t *testing.T) {
	gomega.RegisterTestingT(t)

	vrf, rest := splitScopedKey("10.0.0.1")
	gomega.Expect(vrf).To(gomega.Equal(""))
	gomega.Expect(rest).To(gomega.Equal("10.0.0.1"))

	vrf, rest = splitScopedKey("red|fc00::2")
	gomega.Expect(vrf).To(gomega.Equal("red"))
	gomega.Expect(rest).To(gomega.Equal("fc00::2"))
}
