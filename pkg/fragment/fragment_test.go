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

package fragment

import (
	"testing"

	"github.com/onsi/gomega"
)

var testKey = Key{Domain: "neighbor", Identity: "10.0.0.1"}

func TestDiffNoChange(t *testing.T) {
	gomega.RegisterTestingT(t)

	gomega.Expect(Diff(testKey, nil, nil)).To(gomega.BeEmpty())

	rendered := &Rendered{Key: testKey, Text: "cfg", Undo: "no cfg"}
	applied := &Applied{Text: "cfg", Undo: "no cfg"}
	gomega.Expect(Diff(testKey, rendered, applied)).To(gomega.BeEmpty())
}

func TestDiffAdd(t *testing.T) {
	gomega.RegisterTestingT(t)

	rendered := &Rendered{Key: testKey, Text: "cfg", Undo: "no cfg"}
	commands := Diff(testKey, rendered, nil)
	gomega.Expect(commands).To(gomega.HaveLen(1))
	gomega.Expect(commands[0].Op).To(gomega.Equal(Add))
	gomega.Expect(commands[0].Text).To(gomega.Equal("cfg"))
}

func TestDiffRemove(t *testing.T) {
	gomega.RegisterTestingT(t)

	applied := &Applied{Text: "cfg", Undo: "no cfg"}
	commands := Diff(testKey, nil, applied)
	gomega.Expect(commands).To(gomega.HaveLen(1))
	gomega.Expect(commands[0].Op).To(gomega.Equal(Remove))
	// removal uses the undo remembered at apply time
	gomega.Expect(commands[0].Text).To(gomega.Equal("no cfg"))
}

func TestDiffModify(t *testing.T) {
	gomega.RegisterTestingT(t)

	rendered := &Rendered{Key: testKey, Text: "cfg v2", Undo: "no cfg"}
	applied := &Applied{Text: "cfg v1", Undo: "no cfg"}
	commands := Diff(testKey, rendered, applied)

	// never an in-place edit: remove of the old form, then add of the new
	gomega.Expect(commands).To(gomega.HaveLen(2))
	gomega.Expect(commands[0].Op).To(gomega.Equal(Remove))
	gomega.Expect(commands[0].Text).To(gomega.Equal("no cfg"))
	gomega.Expect(commands[1].Op).To(gomega.Equal(Add))
	gomega.Expect(commands[1].Text).To(gomega.Equal("cfg v2"))
}

func TestOrderRemovesBeforeAdds(t *testing.T) {
	gomega.RegisterTestingT(t)

	batch := []Command{
		{Op: Add, Key: Key{Domain: "vrf", Identity: "red"}},
		{Op: Remove, Key: Key{Domain: "neighbor", Identity: "10.0.0.2"}},
		{Op: Add, Key: Key{Domain: "neighbor", Identity: "10.0.0.1"}},
		{Op: Remove, Key: Key{Domain: "vrf", Identity: "blue"}},
	}
	ordered := Order(batch)

	gomega.Expect(ordered).To(gomega.HaveLen(4))
	// all removes first, sorted by (domain, identity)
	gomega.Expect(ordered[0].Op).To(gomega.Equal(Remove))
	gomega.Expect(ordered[0].Key.Domain).To(gomega.Equal("neighbor"))
	gomega.Expect(ordered[1].Op).To(gomega.Equal(Remove))
	gomega.Expect(ordered[1].Key.Domain).To(gomega.Equal("vrf"))
	// then all adds, sorted by (domain, identity)
	gomega.Expect(ordered[2].Op).To(gomega.Equal(Add))
	gomega.Expect(ordered[2].Key.Domain).To(gomega.Equal("neighbor"))
	gomega.Expect(ordered[3].Op).To(gomega.Equal(Add))
	gomega.Expect(ordered[3].Key.Domain).To(gomega.Equal("vrf"))
}

func TestOrderIsDeterministic(t *testing.T) {
	gomega.RegisterTestingT(t)

	batch := []Command{
		{Op: Add, Key: Key{Domain: "neighbor", Identity: "10.0.0.2"}},
		{Op: Add, Key: Key{Domain: "neighbor", Identity: "10.0.0.1"}},
	}
	first := Order(append([]Command{}, batch...))
	second := Order([]Command{batch[1], batch[0]})
	gomega.Expect(first).To(gomega.Equal(second))
}

func TestCopyBaselines(t *testing.T) {
	gomega.RegisterTestingT(t)

	baselines := Baselines{
		testKey: {Text: "cfg", Undo: "no cfg"},
	}
	cp := CopyBaselines(baselines)
	cp[testKey] = Applied{Text: "changed"}
	gomega.Expect(baselines[testKey].Text).To(gomega.Equal("cfg"))
}
