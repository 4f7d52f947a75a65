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

package prefixlists

import (
	"strings"
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

func setKey(name string) fragment.Key {
	return fragment.Key{Domain: Domain, Identity: name}
}

func TestResyncGroupsRulesBySet(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	snapshot := api.TableData{
		Table: {
			"LOOPBACKS|20": {"action": "permit", "prefix": "10.1.0.0/16", "ge": "32", "le": "32"},
			"LOOPBACKS|10": {"action": "permit", "prefix": "10.0.0.0/16", "ge": "32", "le": "32"},
			"SERVERS|10":   {"action": "deny", "prefix": "192.168.0.0/16"},
		},
	}
	err := plugin.Resync(&api.StoreResync{Snapshot: snapshot}, snapshot, 1)
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(2))

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.puts).To(gomega.HaveLen(2))

	loopbacks := txn.Get(setKey("LOOPBACKS"))
	gomega.Expect(loopbacks).NotTo(gomega.BeNil())
	gomega.Expect(loopbacks.Text).To(gomega.ContainSubstring(
		"ip prefix-list LOOPBACKS seq 10 permit 10.0.0.0/16 ge 32 le 32"))
	gomega.Expect(loopbacks.Text).To(gomega.ContainSubstring(
		"ip prefix-list LOOPBACKS seq 20 permit 10.1.0.0/16 ge 32 le 32"))

	// rules render in sequence order regardless of map iteration
	seq10 := strings.Index(loopbacks.Text, "seq 10")
	seq20 := strings.Index(loopbacks.Text, "seq 20")
	gomega.Expect(seq10).To(gomega.BeNumerically("<", seq20))

	servers := txn.Get(setKey("SERVERS"))
	gomega.Expect(servers).NotTo(gomega.BeNil())
	gomega.Expect(servers.Text).To(gomega.ContainSubstring(
		"ip prefix-list SERVERS seq 10 deny 192.168.0.0/16"))
	gomega.Expect(servers.Text).NotTo(gomega.ContainSubstring("ge"))
}

func TestIPv6SetRendersIPv6PrefixList(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	_, err := plugin.Update(&api.StateChange{
		Table: Table, Key: "V6SET|10", Op: api.SetOp,
		Fields: api.Fields{"action": "permit", "prefix": "fc00::/64"},
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())

	rendered := txn.Get(setKey("V6SET"))
	gomega.Expect(rendered).NotTo(gomega.BeNil())
	gomega.Expect(rendered.Text).To(gomega.ContainSubstring("ipv6 prefix-list V6SET seq 10 permit fc00::/64"))
}

func TestRuleChangeRewritesWholeSet(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	snapshot := api.TableData{
		Table: {
			"SERVERS|10": {"action": "permit", "prefix": "10.0.0.0/8"},
			"SERVERS|20": {"action": "permit", "prefix": "172.16.0.0/12"},
		},
	}
	err := plugin.Resync(&api.StoreResync{Snapshot: snapshot}, snapshot, 1)
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())

	// one rule deleted - the fragment still carries the surviving rule
	_, err = plugin.Update(&api.StateChange{
		Table: Table, Key: "SERVERS|20", Op: api.DeleteOp,
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	rendered := txn.Get(setKey("SERVERS"))
	gomega.Expect(rendered).NotTo(gomega.BeNil())
	gomega.Expect(rendered.Text).To(gomega.ContainSubstring("seq 10"))
	gomega.Expect(rendered.Text).NotTo(gomega.ContainSubstring("seq 20"))
}

func TestLastRuleRemovalDeletesSet(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	_, err := plugin.Update(&api.StateChange{
		Table: Table, Key: "SERVERS|10", Op: api.SetOp,
		Fields: api.Fields{"action": "permit", "prefix": "10.0.0.0/8"},
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn := newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())

	_, err = plugin.Update(&api.StateChange{
		Table: Table, Key: "SERVERS|10", Op: api.DeleteOp,
	})
	gomega.Expect(err).To(gomega.BeNil())

	txn = newRecordingTxn()
	gomega.Expect(plugin.Flush(txn, false)).To(gomega.BeNil())
	gomega.Expect(txn.puts).To(gomega.BeEmpty())
	gomega.Expect(txn.deletes).To(gomega.HaveKey(setKey("SERVERS")))
}

func TestMalformedKeyIgnored(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	for _, storeKey := range []string{"SERVERS", "SERVERS|", "|10", "SERVERS|ten"} {
		description, err := plugin.Update(&api.StateChange{
			Table: Table, Key: storeKey, Op: api.SetOp,
			Fields: api.Fields{"action": "permit", "prefix": "10.0.0.0/8"},
		})
		gomega.Expect(err).To(gomega.BeNil())
		gomega.Expect(description).To(gomega.BeEmpty())
	}
	gomega.Expect(plugin.DirtyCount()).To(gomega.Equal(0))
}

func TestDuplicateSetIsNoOp(t *testing.T) {
	gomega.RegisterTestingT(t)
	plugin := newTestPlugin(t)

	change := &api.StateChange{
		Table: Table, Key: "SERVERS|10", Op: api.SetOp,
		Fields: api.Fields{"action": "permit", "prefix": "10.0.0.0/8"},
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

func TestSplitRuleKey(t *testing.T) {
	gomega.RegisterTestingT(t)

	name, seq, err := splitRuleKey("MY|SET|10")
	gomega.Expect(err).To(gomega.BeNil())
	gomega.Expect(name).To(gomega.Equal("MY|SET"))
	gomega.Expect(seq).To(gomega.Equal(10))
}
