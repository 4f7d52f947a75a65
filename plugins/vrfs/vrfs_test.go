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

package vrfs

import (
	"testing"

	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/onsi/gomega"

	"github.com/routeops/bgpcfgd/pkg/fragment"
	"github.com/routeops/bgpcfgd/pkg/templates"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
	"github.com/routeops/bgpcfgd/plugins/globalcfg"
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
	asn      string
	routerID string
}

func (g *fakeGlobals) LocalASN() (string, bool) {
	return g.asn, g.asn != ""
}

func (g *fakeGlobals) RouterID() string {
	return g.routerID
}

func newTestPlugin(t *testing.T, globals *fakeGlobals) *Plugin {
	engine, err := templates.NewEngine(logrus.DefaultLogger())
	gomega.Expect(err).To(gomega.BeNil())

	plugin := NewPlugin(UseDeps(func(deps *Deps) {
		deps.Templates = engine
		deps.Globals = globals
	}))
	gomega.Expect(plugin.Init()).To(gomega.BeNil())
	return plugin
}

func vrfKey(name string) fragment.Key {
	return fragment.Key{Domain: Domain, Identity: name}
}

func TestResyncAndFlush(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t, &fakeGlobals{asn: "65100"})

	snapshot := api.TableData{
		Table: {
			"red":  {"vni": "1000"},
			"blue": {},
		},
	}
	err := plugin.Resync(&api.StoreResync{Snapshot: snapshot}, snapshot, 1)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(2))

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))
	gomega.Expect(txn.puts).To(gomega.HaveLen(2))

	red := txn.Get(vrfKey("red"))
	gomega.Expect(red).NotTo(gomega.BeNil())
	gomega.Expect(red.Text).To(gomega.ContainSubstring("vrf red"))
	gomega.Expect(red.Text).To(gomega.ContainSubstring("vni 1000"))
	gomega.Expect(red.Text).To(gomega.ContainSubstring("router bgp 65100 vrf red"))

	blue := txn.Get(vrfKey("blue"))
	gomega.Expect(blue).NotTo(gomega.BeNil())
	gomega.Expect(blue.Text).NotTo(gomega.ContainSubstring("vni"))
}

func TestHasVRF(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t, &fakeGlobals{asn: "65100"})

	snapshot := api.TableData{Table: {"red": {}}}
	err := plugin.Resync(&api.StoreResync{Snapshot: snapshot}, snapshot, 1)
	gomega.Expect(err).To(gomega.BeNil())

	gomega.Expect(plugin.HasVRF("red")).To(gomega.BeTrue())
	gomega.Expect(plugin.HasVRF("green")).To(gomega.BeFalse())
	// the default VRF always exists
	gomega.Expect(plugin.HasVRF("")).To(gomega.BeTrue())
}

func TestDeferredRenderWithoutASN(t *testing.T) {
	gomega.RegisterTestingT(t)
	globals := &fakeGlobals{}
	plugin := newTestPlugin(t, globals)

	_, err := plugin.Update(&api.StateChange{
		Table: Table, Key: "red", Op: api.SetOp, Fields: api.Fields{},
	})
	gomega.Expect(err).To(gomega.BeNil())

	// no local ASN known yet - nothing is rendered, any previously applied
	// fragment is withdrawn for the duration of the deferral
	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.puts).To(gomega.BeEmpty())
	gomega.Expect(txn.deletes).To(gomega.HaveKey(vrfKey("red")))

	// the metadata change dirties every VRF and unblocks the render
	globals.asn = "65100"
	description, err := plugin.Update(&api.StateChange{
		Table: globalcfg.MetadataTable, Key: "localhost", Op: api.SetOp,
		Fields: api.Fields{"bgp_asn": "65100"},
	})
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).NotTo(gomega.BeEmpty())

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.Get(vrfKey("red"))).NotTo(gomega.BeNil())
}

func TestVRFRemoval(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t, &fakeGlobals{asn: "65100"})

	snapshot := api.TableData{Table: {"red": {}}}
	err := plugin.Resync(&api.StoreResync{Snapshot: snapshot}, snapshot, 1)
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())

	description, err := plugin.Update(&api.StateChange{
		Table: Table, Key: "red", Op: api.DeleteOp,
	})
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).To(gomega.Equal("vrf red removed"))
	gomega.Expect(plugin.HasVRF("red")).To(gomega.BeFalse())

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.deletes).To(gomega.HaveKey(vrfKey("red")))
}

func TestDuplicateSetIsNoOp(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t, &fakeGlobals{asn: "65100"})

	change := &api.StateChange{
		Table: Table, Key: "red", Op: api.SetOp, Fields: api.Fields{"vni": "1000"},
	}
	_, err := plugin.Update(change)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(1))

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())

	description, err := plugin.Update(change)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).To(gomega.BeEmpty())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))
}

func TestFullFlushRendersEverything(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t, &fakeGlobals{asn: "65100"})

	snapshot := api.TableData{Table: {"red": {}, "blue": {}}}
	err := plugin.Resync(&api.StoreResync{Snapshot: snapshot}, snapshot, 1)
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))

	// nothing dirty, but full=true still renders all desired identities
	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, true)).To(gomega.BeNil())
	gomega.Expect(txn.puts).To(gomega.HaveLen(2))
}
