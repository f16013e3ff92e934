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
	"strings"

	"github.com/streamnative/shardalloc/coordinator/model"
)

// Allocation is the unit of work of one allocation pass.
//
// The cluster view (nodes, metadata, input routing table) is read-only. The
// scratch state (ignore registry, explanation, ignore-disable flag) belongs
// to this pass only and is dropped with it. The working routing table is
// exposed to deciders as a read-only RoutingView; only its owner, the
// allocator, edits it.
type Allocation struct {
	nodes     []model.Node
	nodesByID map[string]*model.Node
	metadata  model.Metadata
	input     *model.RoutingTable
	routing   RoutingView
	chain     *Chain

	ignored       *IgnoreRegistry
	explanation   *Explanation
	ignoreDisable bool
}

func NewAllocation(snapshot *model.Snapshot, chain *Chain, routing RoutingView) *Allocation {
	nodes := make([]model.Node, len(snapshot.Nodes))
	copy(nodes, snapshot.Nodes)
	slices.SortFunc(nodes, func(a, b model.Node) int {
		return strings.Compare(a.ID, b.ID)
	})
	byID := make(map[string]*model.Node, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}
	if chain == nil {
		chain = NewChain()
	}

	return &Allocation{
		nodes:       nodes,
		nodesByID:   byID,
		metadata:    snapshot.Metadata,
		input:       snapshot.RoutingTable,
		routing:     routing,
		chain:       chain,
		ignored:     NewIgnoreRegistry(),
		explanation: NewExplanation(),
	}
}

// Nodes returns the node set ordered by id.
func (a *Allocation) Nodes() []model.Node {
	return a.nodes
}

// LiveNodes returns the live nodes ordered by id.
func (a *Allocation) LiveNodes() []*model.Node {
	res := make([]*model.Node, 0, len(a.nodes))
	for i := range a.nodes {
		if a.nodes[i].Live {
			res = append(res, &a.nodes[i])
		}
	}
	return res
}

func (a *Allocation) Node(id string) (*model.Node, bool) {
	n, ok := a.nodesByID[id]
	return n, ok
}

func (a *Allocation) Metadata() model.Metadata {
	return a.metadata
}

func (a *Allocation) IndexMetadata(index string) (model.IndexMetadata, bool) {
	return a.metadata.Index(index)
}

// RoutingTable is the input table the pass started from.
func (a *Allocation) RoutingTable() *model.RoutingTable {
	return a.input
}

// Routing is the working routing table, including decisions already taken
// in this pass.
func (a *Allocation) Routing() RoutingView {
	return a.routing
}

func (a *Allocation) Chain() *Chain {
	return a.chain
}

func (a *Allocation) Explanation() *Explanation {
	return a.explanation
}

func (a *Allocation) CanAllocate(shard model.ShardRouting, node *model.Node) (Verdict, []Decision) {
	return a.chain.CanAllocate(shard, node, a)
}

func (a *Allocation) CanRemain(shard model.ShardRouting, node *model.Node) (Verdict, []Decision) {
	return a.chain.CanRemain(shard, node, a)
}

// Ignore bars the copy from the node until the end of the pass.
func (a *Allocation) Ignore(copyID model.CopyID, nodeID string) {
	a.ignored.Add(copyID, nodeID)
}

func (a *Allocation) ShouldIgnore(copyID model.CopyID, nodeID string) bool {
	return a.ignored.ShouldIgnore(copyID, nodeID)
}

func (a *Allocation) IgnoredEntries() []IgnoreEntry {
	return a.ignored.Entries()
}

// IgnoreDisable tells deciders whose only purpose is to switch allocation
// off to stand aside. It is set for manual force allocations.
func (a *Allocation) IgnoreDisable() bool {
	return a.ignoreDisable
}

func (a *Allocation) SetIgnoreDisable(ignoreDisable bool) {
	a.ignoreDisable = ignoreDisable
}
