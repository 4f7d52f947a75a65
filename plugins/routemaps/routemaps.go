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

// Package routemaps manages the route-map configuration domain. A route
// map is stored as one key per statement, named "<map>|<seq>", with the
// match and set clauses carried as comma-separated field values. The
// manager groups statements by map name and renders one fragment per map.
package routemaps

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
	Table = "ROUTE_MAP"

	// Domain under which route-map fragments are applied.
	Domain = "route-map"

	confTemplate   = "route_map.conf"
	unconfTemplate = "route_map.unconf"
)

// Statement is one numbered clause of a route map, ready for rendering.
type Statement struct {
	Seq     int
	Action  string
	Matches []string
	Sets    []string
}

// Plugin implements the route-map configuration domain.
type Plugin struct {
	Deps

	// map name -> seq -> fields
	desired map[string]map[int]api.Fields
	dirty   map[string]struct{}
}

// Deps lists dependencies of the route-map manager.
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

// HandlesEvent selects route-map changes and resync.
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
		name, seq, err := splitStatementKey(storeKey)
		if err != nil {
			p.Log.Warnf("Ignoring malformed route-map key %q: %v", storeKey, err)
			continue
		}
		p.setStatement(name, seq, fields)
		p.dirty[name] = struct{}{}
	}
	return nil
}

// Update merges one incremental change.
func (p *Plugin) Update(event api.Event) (changeDescription string, err error) {
	change := event.(*api.StateChange)
	name, seq, splitErr := splitStatementKey(change.Key)
	if splitErr != nil {
		p.Log.Warnf("Ignoring malformed route-map key %q: %v", change.Key, splitErr)
		return "", nil
	}

	switch change.Op {
	case api.SetOp:
		if stmts, has := p.desired[name]; has {
			if prev, hasStmt := stmts[seq]; hasStmt && prev.Equal(change.Fields) {
				return "", nil
			}
		}
		p.setStatement(name, seq, change.Fields)
		p.dirty[name] = struct{}{}
		return fmt.Sprintf("route-map %s statement %d updated", name, seq), nil

	case api.DeleteOp:
		stmts, has := p.desired[name]
		if !has {
			return "", nil
		}
		if _, hasStmt := stmts[seq]; !hasStmt {
			return "", nil
		}
		delete(stmts, seq)
		if len(stmts) == 0 {
			delete(p.desired, name)
		}
		p.dirty[name] = struct{}{}
		return fmt.Sprintf("route-map %s statement %d removed", name, seq), nil
	}
	return "", nil
}

func (p *Plugin) setStatement(name string, seq int, fields api.Fields) {
	stmts, has := p.desired[name]
	if !has {
		stmts = make(map[int]api.Fields)
		p.desired[name] = stmts
	}
	stmts[seq] = fields.Copy()
}

// Flush renders the dirty (or all) route maps.
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

	stmts, desired := p.desired[name]
	if !desired {
		txn.Delete(key)
		return
	}

	statements := make([]Statement, 0, len(stmts))
	for seq, fields := range stmts {
		action := fields["action"]
		if action == "" {
			action = "permit"
		}
		statements = append(statements, Statement{
			Seq:     seq,
			Action:  action,
			Matches: splitClauses(fields["match"]),
			Sets:    splitClauses(fields["set"]),
		})
	}
	sort.Slice(statements, func(i, j int) bool {
		return statements[i].Seq < statements[j].Seq
	})

	ctx := templates.Context{
		"Name":       name,
		"Statements": statements,
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

// splitStatementKey splits "<map>|<seq>" store keys.
func splitStatementKey(storeKey string) (name string, seq int, err error) {
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

// splitClauses splits a comma-separated clause list field.
func splitClauses(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	clauses := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			clauses = append(clauses, trimmed)
		}
	}
	return clauses
}

var _ api.EventHandler = (*Plugin)(nil)
