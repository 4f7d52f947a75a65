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

package api

import (
	"github.com/routeops/bgpcfgd/pkg/fragment"
)

// FragmentTxn collects the fragments rendered by the domain managers during
// one flush cycle. The Controller diffs the collected content against the
// applied-fragment baselines and turns the result into one command batch.
type FragmentTxn interface {
	// Put adds the rendered fragment into the transaction, replacing any
	// fragment previously put for the same key.
	Put(rendered *fragment.Rendered)

	// Delete requests removal of the fragment with the given key. A delete
	// for a key without an applied baseline is a no-op.
	Delete(key fragment.Key)

	// Get returns the fragment already prepared by this transaction, or nil.
	// Until the transaction is committed, provided fragments can still be
	// changed.
	Get(key fragment.Key) *fragment.Rendered
}
