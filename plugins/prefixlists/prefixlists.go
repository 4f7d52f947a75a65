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

// Package prefixlists manages the prefix-list configuration domain.
// The store models a prefix set as one key per rule, named
// "<set>|<seq>"; the manager groups rules by set name and renders one
// fragment per set, so a rule change rewrites the whole set atomically.
package prefixlists

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/ligato/cn-infra/infra"

	"github.com/routeops/bgpcfgd/pkg/fragment"
	"github.com/routeops/bgpcfgd/pkg/templates"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
)

const (
	// Table is the state-store table owned by this domain.
	Table = "PREFIX_SET"

	// Domain under which prefix-list fragments are applied.
	Domain = "prefix-list"

	confTemplate   = "prefix_list.conf"
	unconfTemplate = "prefix_list.unconf"
)

// Entry is one rule of a prefix set, ready for rendering.
type Entry struct {
	Seq    int
	Action string
	Prefix string
	GE     string
	LE     string
}

// Plugin implements the prefix-list configuration domain.
type Plugin struct {
	Deps

	// set name -> seq -> fields
	desired map[string]map[int]api.Fields
	dirty   map[string]struct{}
}

// Deps lists dependencies of the prefix-list manager.
type Deps struct {
	infra.PluginDeps

	Templates *templates.Engine
}

// Init allocates the desired-state maps.
func (p *Plugin) Init() error {
	p.desired = make(map[string]map[int]api.Fields)
	p.dirty = make(map[string]struct{})
	return nil
}

// Close is NOOP.
func (p *Plugin) Close() error {
	return nil
}

// HandlesEvent selects prefix-set changes and resync.
func (p *Plugin) HandlesEvent(event api.Event) bool {
	if change, isChange := event.(*api.StateChange); isChange {
		return change.Table == Table
	}
	return event.Method() == api.Resync
}

// Resync replaces the desired state with the snapshot content.
func (p *Plugin) Resync(event api.Event, snapshot api.TableData, resyncCount int) error {
	p.desired = make(map[string]map[int]api.Fields)
	p.dirty = make(map[string]struct{})
	for storeKey, fields := range snapshot[Table] {
		name, seq, err := splitRuleKey(storeKey)
		if err != nil {
			p.Log.Warnf("Ignoring malformed prefix-set key %q: %v", storeKey, err)
			continue
		}
		p.setRule(name, seq, fields)
		p.dirty[name] = struct{}{}
	}
	return nil
}

// Update merges one incremental change.
func (p *Plugin) Update(event api.Event) (changeDescription string, err error) {
	change := event.(*api.StateChange)
	name, seq, splitErr := splitRuleKey(change.Key)
	if splitErr != nil {
		p.Log.Warnf("Ignoring malformed prefix-set key %q: %v", change.Key, splitErr)
		return "", nil
	}

	switch change.Op {
	case api.SetOp:
		if rules, has := p.desired[name]; has {
			if prev, hasRule := rules[seq]; hasRule && prev.Equal(change.Fields) {
				return "", nil
			}
		}
		p.setRule(name, seq, change.Fields)
		p.dirty[name] = struct{}{}
		return fmt.Sprintf("prefix-set %s rule %d updated", name, seq), nil

	case api.DeleteOp:
		rules, has := p.desired[name]
		if !has {
			return "", nil
		}
		if _, hasRule := rules[seq]; !hasRule {
			return "", nil
		}
		delete(rules, seq)
		if len(rules) == 0 {
			delete(p.desired, name)
		}
		p.dirty[name] = struct{}{}
		return fmt.Sprintf("prefix-set %s rule %d removed", name, seq), nil
	}
	return "", nil
}

func (p *Plugin) setRule(name string, seq int, fields api.Fields) {
	rules, has := p.desired[name]
	if !has {
		rules = make(map[int]api.Fields)
		p.desired[name] = rules
	}
	rules[seq] = fields.Copy()
}

// Flush renders the dirty (or all) prefix sets.
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

	rules, desired := p.desired[name]
	if !desired {
		txn.Delete(key)
		return
	}

	entries := make([]Entry, 0, len(rules))
	for seq, fields := range rules {
		entries = append(entries, Entry{
			Seq:    seq,
			Action: fields["action"],
			Prefix: fields["prefix"],
			GE:     fields["ge"],
			LE:     fields["le"],
		})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Seq < entries[j].Seq
	})

	ctx := templates.Context{
		"Name":      name,
		"IPVersion": ipVersionOf(entries),
		"Entries":   entries,
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

// splitRuleKey splits "<set>|<seq>" store keys.
func splitRuleKey(storeKey string) (name string, seq int, err error) {
	idx := strings.LastIndex(storeKey, "|")
	if idx <= 0 || idx == len(storeKey)-1 {
		return "", 0, fmt.Errorf("expected <name>|<seq>")
	}
	seq, err = strconv.Atoi(storeKey[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("sequence number: %v", err)
	}
	return storeKey[:idx], seq, nil
}

// ipVersionOf derives the address family of a set from its first rule.
func ipVersionOf(entries []Entry) int {
	if len(entries) > 0 && strings.Contains(entries[0].Prefix, ":") {
		return 6
	}
	return 4
}

var _ api.EventHandler = (*Plugin)(nil)
