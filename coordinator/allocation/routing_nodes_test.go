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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/streamnative/shardalloc/coordinator/model"
)

func twoCopyTable() *model.RoutingTable {
	return &model.RoutingTable{Indices: map[string][]model.ShardRouting{
		"logs": {
			{Index: "logs", Shard: 0, Primary: true, State: model.ShardStateStarted, NodeID: "n1"},
			model.NewUnassigned(model.ReplicaCopy("logs", 0, 1), model.ReasonReplicaAdded),
			{Index: "logs", Shard: 1, Primary: true, State: model.ShardStateInitializing, NodeID: "n2"},
			{Index: "logs", Shard: 2, Primary: true, State: model.ShardStateRelocating, NodeID: "n1", RelocatingNodeID: "n2"},
		},
	}}
}

func TestRoutingNodesViews(t *testing.T) {
	rn := NewRoutingNodes(twoCopyTable())

	assert.Equal(t, 2, rn.CountOn("n1"))
	assert.Equal(t, 2, rn.CountOn("n2"))
	assert.Equal(t, 0, rn.InFlightRecoveries("n1"))
	assert.Equal(t, 2, rn.InFlightRecoveries("n2"))
	assert.Len(t, rn.Unassigned(), 1)
	assert.Len(t, rn.CopiesOf(model.ShardID{Index: "logs", Shard: 0}), 2)

	p, found := rn.Primary(model.ShardID{Index: "logs", Shard: 0})
	assert.True(t, found)
	assert.Equal(t, "n1", p.NodeID)
}

func TestRoutingNodesAssign(t *testing.T) {
	rn := NewRoutingNodes(twoCopyTable())
	replica := model.ReplicaCopy("logs", 0, 1)

	assert.ErrorIs(t, rn.Assign(replica, "n1"), ErrSameShardOnNode)
	assert.ErrorIs(t, rn.Assign(model.PrimaryCopy("logs", 0), "n2"), ErrCopyAssigned)
	assert.ErrorIs(t, rn.Assign(model.PrimaryCopy("nope", 0), "n2"), ErrUnknownCopy)

	assert.NoError(t, rn.Assign(replica, "n3"))
	sr, _ := rn.Get(replica)
	assert.Equal(t, model.ShardStateStarted, sr.State)
	assert.Equal(t, "n3", sr.NodeID)
	assert.Nil(t, sr.Unassigned)
	assert.Equal(t, 1, rn.PlacedInPass("n3"))
	assert.Equal(t, 1, rn.InFlightRecoveries("n3"))
}

func TestRoutingNodesUnassignAndStart(t *testing.T) {
	rn := NewRoutingNodes(twoCopyTable())

	assert.NoError(t, rn.Unassign(model.PrimaryCopy("logs", 0), model.UnassignedInfo{Reason: model.ReasonNodeLeft}))
	assert.ErrorIs(t, rn.Unassign(model.PrimaryCopy("logs", 0), model.UnassignedInfo{}), ErrCopyNotAssigned)
	assert.Equal(t, 1, rn.CountOn("n1"))

	assert.NoError(t, rn.Start(model.PrimaryCopy("logs", 1)))
	assert.NoError(t, rn.Start(model.PrimaryCopy("logs", 2)))
	assert.ErrorIs(t, rn.Start(model.PrimaryCopy("logs", 2)), ErrInvalidStateMove)

	relocated, _ := rn.Get(model.PrimaryCopy("logs", 2))
	assert.Equal(t, model.ShardStateStarted, relocated.State)
	assert.Equal(t, "n2", relocated.NodeID)
	assert.Equal(t, 0, rn.CountOn("n1"))
	assert.Equal(t, 0, rn.InFlightRecoveries("n2"))
}

func TestRoutingNodesBuildIsCopyOnWrite(t *testing.T) {
	input := twoCopyTable()
	rn := NewRoutingNodes(input)
	assert.True(t, input.Equal(rn.Build()))

	assert.NoError(t, rn.Assign(model.ReplicaCopy("logs", 0, 1), "n3"))
	out := rn.Build()
	assert.False(t, input.Equal(out))

	sr, _ := input.Get(model.ReplicaCopy("logs", 0, 1))
	assert.Equal(t, model.ShardStateUnassigned, sr.State)
	sr, _ = out.Get(model.ReplicaCopy("logs", 0, 1))
	assert.Equal(t, "n3", sr.NodeID)
}

func TestRoutingNodesMoveAndCancelRelocation(t *testing.T) {
	rn := NewRoutingNodes(twoCopyTable())
	primary := model.PrimaryCopy("logs", 0)

	assert.ErrorIs(t, rn.Move(model.PrimaryCopy("logs", 1), "n3"), ErrInvalidStateMove)
	assert.NoError(t, rn.Move(primary, "n3"))
	sr, _ := rn.Get(primary)
	assert.Equal(t, "n3", sr.NodeID)
	assert.Equal(t, 1, rn.CountOn("n1"))
	assert.Equal(t, 1, rn.PlacedInPass("n3"))

	assert.NoError(t, rn.Assign(model.ReplicaCopy("logs", 0, 1), "n1"))
	assert.ErrorIs(t, rn.Move(primary, "n1"), ErrSameShardOnNode)

	relocating := model.PrimaryCopy("logs", 2)
	assert.NoError(t, rn.CancelRelocation(relocating))
	sr, _ = rn.Get(relocating)
	assert.Equal(t, model.ShardStateStarted, sr.State)
	assert.Equal(t, "n1", sr.NodeID)
	assert.Empty(t, sr.RelocatingNodeID)
	assert.Equal(t, 1, rn.CountOn("n2"))
	assert.ErrorIs(t, rn.CancelRelocation(relocating), ErrInvalidStateMove)
}

func TestRoutingNodesKeepFailureHistory(t *testing.T) {
	rt := &model.RoutingTable{Indices: map[string][]model.ShardRouting{
		"logs": {{
			Index: "logs", Shard: 0, Primary: true, State: model.ShardStateUnassigned,
			Unassigned: &model.UnassignedInfo{Reason: model.ReasonAllocationFailed, FailedAttempts: 2},
		}},
	}}
	rn := NewRoutingNodes(rt)
	id := model.PrimaryCopy("logs", 0)

	assert.NoError(t, rn.Assign(id, "n1"))
	sr, _ := rn.Get(id)
	assert.Equal(t, 2, sr.FailedAttempts())

	assert.NoError(t, rn.Start(id))
	sr, _ = rn.Get(id)
	assert.Nil(t, sr.Unassigned)
	assert.ErrorIs(t, rn.Start(id), ErrInvalidStateMove)
}
