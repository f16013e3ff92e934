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

package allocator

import (
	"encoding/json"

	"github.com/zeebo/xxh3"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
)

// Result is the outcome of an allocation pass. When Changed is false the
// routing table is the very table the pass was given.
type Result struct {
	Changed      bool                          `json:"changed" yaml:"changed"`
	RoutingTable *model.RoutingTable           `json:"routingTable" yaml:"routingTable"`
	Explanation  []allocation.ShardExplanation `json:"explanation,omitempty" yaml:"explanation,omitempty"`
}

// Digest is a stable hash of the result. The routing table contributes in
// copy order, so two results holding the same placements share a digest.
func (r *Result) Digest() uint64 {
	h := xxh3.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode(r.Changed)
	_ = enc.Encode(r.RoutingTable.Copies())
	_ = enc.Encode(r.Explanation)
	return h.Sum64()
}

// For returns the decisions recorded for one copy.
func (r *Result) For(id model.CopyID) []allocation.Entry {
	key := id.String()
	for _, se := range r.Explanation {
		if se.Shard == key {
			return se.Decisions
		}
	}
	return nil
}
