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

package controller

import (
	"github.com/routeops/bgpcfgd/pkg/fragment"
	"github.com/routeops/bgpcfgd/plugins/controller/api"
)

// fragmentTxn implements FragmentTxn for one flush cycle.
type fragmentTxn struct {
	puts    map[fragment.Key]*fragment.Rendered
	deletes map[fragment.Key]struct{}
}

func newFragmentTxn() *fragmentTxn {
	return &fragmentTxn{
		puts:    make(map[fragment.Key]*fragment.Rendered),
		deletes: make(map[fragment.Key]struct{}),
	}
}

// Put adds the rendered fragment into the transaction.
func (t *fragmentTxn) Put(rendered *fragment.Rendered) {
	delete(t.deletes, rendered.Key)
	t.puts[rendered.Key] = rendered
}

// Delete requests removal of the fragment with the given key.
func (t *fragmentTxn) Delete(key fragment.Key) {
	delete(t.puts, key)
	t.deletes[key] = struct{}{}
}

// Get returns the fragment already prepared by this transaction, or nil.
func (t *fragmentTxn) Get(key fragment.Key) *fragment.Rendered {
	return t.puts[key]
}

var _ api.FragmentTxn = (*fragmentTxn)(nil)
