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

// Package fragment defines configuration fragments - per-identity slices
// of the generated control-plane configuration - together with the diff
// algorithm that turns (rendered, applied) pairs into minimal command sets.
package fragment

import (
	"fmt"
	"sort"
	"strings"
)

// Key identifies a fragment by the configuration domain that owns it
// (e.g. "neighbor", "route-map") and the domain-specific identity
// (e.g. neighbor address, route-map name).
type Key struct {
	Domain   string
	Identity string
}

// String returns the fragment key in the "<domain>/<identity>" form used
// in logs and in the REST-exposed event history.
func (k Key) String() string {
	return k.Domain + "/" + k.Identity
}

// Rendered is the output of the template engine for one identity. Text holds
// the configuration commands that establish the fragment, Undo the commands
// that withdraw it. Undo is rendered together with Text so that a removal can
// be generated later, when the desired state for the identity is already gone.
type Rendered struct {
	Key      Key
	Template string
	Text     string
	Undo     string
}

// Applied is the baseline remembered for a fragment after it has been
// successfully committed to the control plane.
type Applied struct {
	Text string
	Undo string
}

// Baselines maps fragment keys to their last successfully applied form.
// Baselines advance only on commit success; a failed batch leaves them
// untouched so that the next cycle recomputes the same diff.
type Baselines map[Key]Applied

// CopyBaselines returns a shallow copy (values are plain strings).
func CopyBaselines(b Baselines) Baselines {
	cp := make(Baselines, len(b))
	for key, applied := range b {
		cp[key] = applied
	}
	return cp
}

// OpType discriminates commands within a batch.
type OpType int

const (
	// Add establishes a fragment in the control plane.
	Add OpType = iota

	// Remove withdraws a previously applied fragment.
	Remove
)

// String returns a human-readable operation name.
func (op OpType) String() string {
	switch op {
	case Add:
		return "add"
	case Remove:
		return "remove"
	}
	return "unknown"
}

// Command is one add/remove operation of a batch.
type Command struct {
	Op   OpType
	Key  Key
	Text string
}

// String describes the command for logging.
func (c Command) String() string {
	return fmt.Sprintf("%s %s", c.Op, c.Key)
}

// Diff compares the newly rendered fragment with the applied baseline
// for the same key and returns the minimal command set:
//   - rendered only            -> single add
//   - baseline only            -> single remove (using the remembered undo)
//   - both, different text     -> remove followed by add, never an in-place
//     edit, so that the control plane cannot observe a half-updated entry
//   - both, identical text     -> nothing (idempotence)
func Diff(key Key, rendered *Rendered, applied *Applied) []Command {
	switch {
	case rendered == nil && applied == nil:
		return nil
	case rendered == nil:
		return []Command{{Op: Remove, Key: key, Text: applied.Undo}}
	case applied == nil:
		return []Command{{Op: Add, Key: key, Text: rendered.Text}}
	case rendered.Text == applied.Text:
		return nil
	}
	return []Command{
		{Op: Remove, Key: key, Text: applied.Undo},
		{Op: Add, Key: key, Text: rendered.Text},
	}
}

// Order arranges a batch for application: all removes precede all adds,
// across all domains, to avoid transient duplicate-identity conflicts in
// the control plane. Within each half the order is deterministic
// (domain, then identity).
func Order(batch []Command) []Command {
	var removes, adds []Command
	for _, cmd := range batch {
		if cmd.Op == Remove {
			removes = append(removes, cmd)
		} else {
			adds = append(adds, cmd)
		}
	}
	byKey := func(cmds []Command) {
		sort.SliceStable(cmds, func(i, j int) bool {
			if cmds[i].Key.Domain != cmds[j].Key.Domain {
				return cmds[i].Key.Domain < cmds[j].Key.Domain
			}
			return cmds[i].Key.Identity < cmds[j].Key.Identity
		})
	}
	byKey(removes)
	byKey(adds)
	return append(removes, adds...)
}

// DescribeBatch returns a multi-line summary of the batch used for
// the event history and for logging.
func DescribeBatch(batch []Command) string {
	var sb strings.Builder
	for i, cmd := range batch {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("* " + cmd.String())
	}
	return sb.String()
}
