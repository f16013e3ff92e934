// Copyright 2025 StreamNative, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package allocation

import (
	"slices"

	"github.com/emirpasic/gods/sets/hashset"

	"github.com/streamnative/shardalloc/coordinator/model"
)

// IgnoreEntry bars one copy from one node for the rest of a pass.
type IgnoreEntry struct {
	Copy   model.CopyID `json:"copy" yaml:"copy"`
	NodeID string       `json:"node" yaml:"node"`
}

// IgnoreRegistry is the pass-local set of (copy, node) pairs that must not
// be considered again, whatever the deciders say. It is owned by a single
// Allocation and never outlives it.
type IgnoreRegistry struct {
	entries *hashset.Set
}

func NewIgnoreRegistry() *IgnoreRegistry {
	return &IgnoreRegistry{entries: hashset.New()}
}

func (r *IgnoreRegistry) Add(copyID model.CopyID, nodeID string) {
	r.entries.Add(IgnoreEntry{Copy: copyID, NodeID: nodeID})
}

func (r *IgnoreRegistry) ShouldIgnore(copyID model.CopyID, nodeID string) bool {
	return r.entries.Contains(IgnoreEntry{Copy: copyID, NodeID: nodeID})
}

func (r *IgnoreRegistry) Len() int {
	return r.entries.Size()
}

// Entries returns the registry content ordered by copy, then node.
func (r *IgnoreRegistry) Entries() []IgnoreEntry {
	res := make([]IgnoreEntry, 0, r.entries.Size())
	for _, v := range r.entries.Values() {
		res = append(res, v.(IgnoreEntry)) //nolint:revive
	}
	slices.SortFunc(res, func(a, b IgnoreEntry) int {
		switch {
		case a.Copy != b.Copy && a.Copy.Less(b.Copy):
			return -1
		case a.Copy != b.Copy:
			return 1
		case a.NodeID < b.NodeID:
			return -1
		case a.NodeID > b.NodeID:
			return 1
		}
		return 0
	})
	return res
}
