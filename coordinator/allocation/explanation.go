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
	"github.com/emirpasic/gods/maps/linkedhashmap"

	"github.com/streamnative/shardalloc/coordinator/model"
)

// Entry is one line of the audit trail of a copy.
type Entry struct {
	Node    string  `json:"node,omitempty" yaml:"node,omitempty"`
	Decider string  `json:"decider" yaml:"decider"`
	Verdict Verdict `json:"verdict" yaml:"verdict"`
	Reason  string  `json:"reason" yaml:"reason"`
}

// ShardExplanation is the exported form of the trail of one copy.
type ShardExplanation struct {
	Shard     string  `json:"shard" yaml:"shard"`
	Decisions []Entry `json:"decisions" yaml:"decisions"`
}

// Explanation is an append-only ledger of decisions recorded during a pass,
// keyed by copy in the order copies were first touched.
type Explanation struct {
	shards *linkedhashmap.Map
}

func NewExplanation() *Explanation {
	return &Explanation{shards: linkedhashmap.New()}
}

func (e *Explanation) Add(copyID model.CopyID, entry Entry) {
	var entries []Entry
	if v, found := e.shards.Get(copyID); found {
		entries = v.([]Entry) //nolint:revive
	}
	e.shards.Put(copyID, append(entries, entry))
}

// AddDecisions records the decisions a chain produced for one node.
func (e *Explanation) AddDecisions(copyID model.CopyID, nodeID string, decisions []Decision) {
	for _, d := range decisions {
		e.Add(copyID, Entry{Node: nodeID, Decider: d.Decider, Verdict: d.Verdict, Reason: d.Reason})
	}
}

func (e *Explanation) For(copyID model.CopyID) []Entry {
	v, found := e.shards.Get(copyID)
	if !found {
		return nil
	}
	entries := v.([]Entry) //nolint:revive
	res := make([]Entry, len(entries))
	copy(res, entries)
	return res
}

func (e *Explanation) Shards() []model.CopyID {
	keys := e.shards.Keys()
	res := make([]model.CopyID, len(keys))
	for i, k := range keys {
		res[i] = k.(model.CopyID) //nolint:revive
	}
	return res
}

func (e *Explanation) Len() int {
	return e.shards.Size()
}

// Export returns a detached copy of the ledger in its nested form:
// shard -> ordered list of {node, decider, verdict, reason}.
func (e *Explanation) Export() []ShardExplanation {
	res := make([]ShardExplanation, 0, e.shards.Size())
	for _, id := range e.Shards() {
		res = append(res, ShardExplanation{
			Shard:     id.String(),
			Decisions: e.For(id),
		})
	}
	return res
}
