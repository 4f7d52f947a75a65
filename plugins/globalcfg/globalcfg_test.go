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

package globalcfg

import (
	"testing"

	"github.com/ligato/cn-infra/logging/logrus"
	"github.com/onsi/gomega"

	"github.com/routeops/bgpcfgd/pkg/fragment"
	"github.com/routeops/bgpcfgd/pkg/templates"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
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

func newTestPlugin(t *testing.T) *Plugin {
	engine, err := templates.NewEngine(logrus.DefaultLogger())
	gomega.Expect(err).To(gomega.BeNil())

	plugin := NewPlugin(UseDeps(func(deps *Deps) {
		deps.Templates = engine
	}))
	gomega.Expect(plugin.Init()).To(gomega.BeNil())
	return plugin
}

var globalKey = fragment.Key{Domain: Domain, Identity: "bgp"}

func TestResyncAndFlush(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	snapshot := api.TableData{
		MetadataTable: {
			"localhost": {"bgp_asn": "65100", "bgp_router_id": "10.1.0.1"},
		},
	}
	err := plugin.Resync(&api.StoreResync{Snapshot: snapshot}, snapshot, 1)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(1))

	asn, has := plugin.LocalASN()
	gomega.Expect(has).To(gomega.BeTrue())
	gomega.Expect(asn).To(gomega.Equal("65100"))
	gomega.Expect(plugin.RouterID()).To(gomega.Equal("10.1.0.1"))

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))

	rendered := txn.Get(globalKey)
	gomega.Expect(rendered).NotTo(gomega.BeNil())
	gomega.Expect(rendered.Text).To(gomega.ContainSubstring("router bgp 65100"))
	gomega.Expect(rendered.Text).To(gomega.ContainSubstring("bgp router-id 10.1.0.1"))
	gomega.Expect(rendered.Undo).To(gomega.ContainSubstring("no router bgp 65100"))
}

func TestFlushWithoutASN(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	// empty snapshot - no metadata, no BGP instance
	err := plugin.Resync(&api.StoreResync{}, api.TableData{}, 1)
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.puts).To(gomega.BeEmpty())
	gomega.Expect(txn.deletes).To(gomega.HaveKey(globalKey))
}

func TestDuplicateSetIsNoOp(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	fields := api.Fields{"bgp_asn": "65100"}
	change := &api.StateChange{
		Table: MetadataTable, Key: "localhost", Op: api.SetOp, Fields: fields,
	}
	description, err := plugin.Update(change)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).NotTo(gomega.BeEmpty())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(1))

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())

	// identical fields delivered again - nothing becomes dirty
	description, err = plugin.Update(change)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).To(gomega.BeEmpty())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))
}

func TestDeleteWithoutSetIsNoOp(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	description, err := plugin.Update(&api.StateChange{
		Table: MetadataTable, Key: "localhost", Op: api.DeleteOp,
	})
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).To(gomega.BeEmpty())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))
}

func TestForeignKeyIgnored(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	description, err := plugin.Update(&api.StateChange{
		Table: MetadataTable, Key: "eth0", Op: api.SetOp,
		Fields: api.Fields{"speed": "100000"},
	})
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(description).To(gomega.BeEmpty())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))
}

func TestMetadataDelete(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	_, err := plugin.Update(&api.StateChange{
		Table: MetadataTable, Key: "localhost", Op: api.SetOp,
		Fields: api.Fields{"bgp_asn": "65100"},
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.Get(globalKey)).NotTo(gomega.BeNil())

	_, err = plugin.Update(&api.StateChange{
		Table: MetadataTable, Key: "localhost", Op: api.DeleteOp,
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.deletes).To(gomega.HaveKey(globalKey))
}
