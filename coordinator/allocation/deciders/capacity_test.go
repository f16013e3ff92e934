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

package deciders

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
)

func zonedNodes() []model.Node {
	return []model.Node{
		node("n1", "zone", "a"),
		node("n2", "zone", "a"),
		node("n3", "zone", "b"),
		node("n4"),
	}
}

func TestAwarenessDecider(t *testing.T) {
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 1, NumberOfReplicas: 1}}
	replica := unassigned(model.ReplicaCopy("logs", 0, 1), model.ReasonReplicaAdded)
	f := newFixture(zonedNodes(), metadata, started(model.PrimaryCopy("logs", 0), "n1"), replica)
	d := NewAwarenessDecider(AwarenessSettings{Attributes: []string{"zone"}})

	assert.Equal(t, allocation.Deny, allocate(t, d, f, replica, "n2").Verdict)
	assert.Equal(t, allocation.Allow, allocate(t, d, f, replica, "n3").Verdict)

	decision := allocate(t, d, f, replica, "n4")
	assert.Equal(t, allocation.Deny, decision.Verdict)
	assert.Equal(t, "node does not contain the awareness attribute [zone]", decision.Reason)

	assert.Equal(t, allocation.Allow, allocate(t, NewAwarenessDecider(AwarenessSettings{}), f, replica, "n4").Verdict)
}

func TestAwarenessDeciderForcedValues(t *testing.T) {
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 1, NumberOfReplicas: 2}}
	replica := unassigned(model.ReplicaCopy("logs", 0, 1), model.ReasonReplicaAdded)
	f := newFixture(zonedNodes(), metadata, started(model.PrimaryCopy("logs", 0), "n1"), replica,
		unassigned(model.ReplicaCopy("logs", 0, 2), model.ReasonReplicaAdded))

	// 3 copies over zones {a, b}: two may share a zone
	d := NewAwarenessDecider(AwarenessSettings{Attributes: []string{"zone"}})
	assert.Equal(t, allocation.Allow, allocate(t, d, f, replica, "n2").Verdict)

	// 3 copies over zones {a, b, c}: one per zone, even though c has no node
	d = NewAwarenessDecider(AwarenessSettings{
		Attributes: []string{"zone"},
		Force:      map[string][]string{"zone": {"a", "b", "c"}},
	})
	assert.Equal(t, allocation.Deny, allocate(t, d, f, replica, "n2").Verdict)
	assert.Equal(t, allocation.Allow, allocate(t, d, f, replica, "n3").Verdict)
}

func TestAwarenessDeciderRemain(t *testing.T) {
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 1, NumberOfReplicas: 1}}
	primary := started(model.PrimaryCopy("logs", 0), "n1")
	replica := started(model.ReplicaCopy("logs", 0, 1), "n2")
	d := NewAwarenessDecider(AwarenessSettings{Attributes: []string{"zone"}})

	f := newFixture(zonedNodes(), metadata, primary, replica)
	assert.Equal(t, allocation.Deny, remain(t, d, f, replica).Verdict)

	replica.NodeID = "n3"
	f = newFixture(zonedNodes(), metadata, primary, replica)
	assert.Equal(t, allocation.Allow, remain(t, d, f, replica).Verdict)
	assert.Equal(t, allocation.Allow, remain(t, d, f, primary).Verdict)
}

func TestAwarenessDeciderRelocationTarget(t *testing.T) {
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 1, NumberOfReplicas: 1}}
	primary := started(model.PrimaryCopy("logs", 0), "n3")
	primary.State = model.ShardStateRelocating
	primary.RelocatingNodeID = "n1"
	replica := unassigned(model.ReplicaCopy("logs", 0, 1), model.ReasonReplicaAdded)
	d := NewAwarenessDecider(AwarenessSettings{Attributes: []string{"zone"}})

	// the primary is moving into zone a
	f := newFixture(zonedNodes(), metadata, primary, replica)
	assert.Equal(t, allocation.Deny, allocate(t, d, f, replica, "n2").Verdict)
}

func TestShardsLimitDecider(t *testing.T) {
	metadata := map[string]model.IndexMetadata{
		"logs":    {NumberOfShards: 3, TotalShardsPerNode: 1},
		"metrics": {NumberOfShards: 2},
	}
	f := newFixture([]model.Node{node("n1"), node("n2")}, metadata,
		started(model.PrimaryCopy("logs", 0), "n1"),
		started(model.PrimaryCopy("metrics", 0), "n1"),
		started(model.PrimaryCopy("metrics", 1), "n2"),
		unassigned(model.PrimaryCopy("logs", 1), model.ReasonIndexCreated),
		unassigned(model.PrimaryCopy("logs", 2), model.ReasonIndexCreated),
	)
	logs1 := unassigned(model.PrimaryCopy("logs", 1), model.ReasonIndexCreated)

	unlimited := NewShardsLimitDecider(-1)
	decision := allocate(t, unlimited, f, logs1, "n1")
	assert.Equal(t, allocation.Deny, decision.Verdict)
	assert.Contains(t, decision.Reason, "index setting [totalShardsPerNode=1]")
	assert.Equal(t, allocation.Allow, allocate(t, unlimited, f, logs1, "n2").Verdict)

	cluster := NewShardsLimitDecider(1)
	decision = allocate(t, cluster, f, logs1, "n2")
	assert.Equal(t, allocation.Deny, decision.Verdict)
	assert.Contains(t, decision.Reason, "cluster setting [totalShardsPerNode=1]")

	metrics := unassigned(model.PrimaryCopy("metrics", 1), model.ReasonNodeLeft)
	assert.Equal(t, allocation.Allow, allocate(t, NewShardsLimitDecider(0), f, metrics, "n1").Verdict)
	assert.Equal(t, allocation.Allow, allocate(t, NewShardsLimitDecider(3), f, metrics, "n1").Verdict)
}

func TestShardsLimitDeciderRemain(t *testing.T) {
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 3}}
	copies := []model.ShardRouting{
		started(model.PrimaryCopy("logs", 0), "n1"),
		started(model.PrimaryCopy("logs", 1), "n1"),
		started(model.PrimaryCopy("logs", 2), "n1"),
	}
	f := newFixture([]model.Node{node("n1")}, metadata, copies...)

	assert.Equal(t, allocation.Allow, remain(t, NewShardsLimitDecider(3), f, copies[0]).Verdict)
	assert.Equal(t, allocation.Deny, remain(t, NewShardsLimitDecider(2), f, copies[0]).Verdict)
}

func TestThrottlingDecider(t *testing.T) {
	metadata := map[string]model.IndexMetadata{
		"logs":    {NumberOfShards: 1, NumberOfReplicas: 1},
		"metrics": {NumberOfShards: 2},
	}
	initializing := started(model.PrimaryCopy("metrics", 0), "n1")
	initializing.State = model.ShardStateInitializing
	newPrimary := unassigned(model.PrimaryCopy("logs", 0), model.ReasonIndexCreated)
	oldPrimary := unassigned(model.PrimaryCopy("logs", 0), model.ReasonNodeLeft)

	f := newFixture([]model.Node{node("n1"), node("n2")}, metadata, initializing, newPrimary)
	d := NewThrottlingDecider(2, 1)

	decision := allocate(t, d, f, newPrimary, "n1")
	assert.Equal(t, allocation.Throttle, decision.Verdict)
	assert.Contains(t, decision.Reason, "nodeInitialPrimariesRecoveries=1")
	assert.Equal(t, allocation.Allow, allocate(t, d, f, oldPrimary, "n1").Verdict)
	assert.Equal(t, allocation.Allow, allocate(t, d, f, newPrimary, "n2").Verdict)

	// placements made earlier in the same pass count as recoveries
	require.NoError(t, f.routing.Assign(newPrimary.CopyID(), "n1"))
	decision = allocate(t, d, f, oldPrimary, "n1")
	assert.Equal(t, allocation.Throttle, decision.Verdict)
	assert.Contains(t, decision.Reason, "nodeConcurrentRecoveries=2")

	assert.Equal(t, allocation.Allow, allocate(t, NewThrottlingDecider(0, 0), f, oldPrimary, "n1").Verdict)
}

func TestThrottlingDeciderIncomingRelocation(t *testing.T) {
	metadata := map[string]model.IndexMetadata{"metrics": {NumberOfShards: 2}}
	relocating := started(model.PrimaryCopy("metrics", 0), "n2")
	relocating.State = model.ShardStateRelocating
	relocating.RelocatingNodeID = "n1"
	shard := unassigned(model.PrimaryCopy("metrics", 1), model.ReasonNodeLeft)

	f := newFixture([]model.Node{node("n1"), node("n2")}, metadata, relocating, shard)
	d := NewThrottlingDecider(1, 1)
	assert.Equal(t, allocation.Throttle, allocate(t, d, f, shard, "n1").Verdict)
	assert.Equal(t, allocation.Allow, allocate(t, d, f, shard, "n2").Verdict)
}

func TestNewChain(t *testing.T) {
	chain, err := NewChain(DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, []string{
		MaxRetryName, EnableName, ReplicaAfterPrimaryActiveName, SameShardName,
		FilterName, AwarenessName, ShardsLimitName, ThrottlingName,
	}, chain.Names())

	settings := DefaultSettings()
	settings.Enable = "sometimes"
	settings.MaxRetries = -1
	settings.Awareness.Force = map[string][]string{"rack": {"r1"}}
	_, err = NewChain(settings)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "maxRetries")
	assert.Contains(t, err.Error(), "rack")
}

func TestChainDeniesFilteredNode(t *testing.T) {
	settings := DefaultSettings()
	settings.Filter.Exclude = map[string]string{"_id": "n1"}
	chain, err := NewChain(settings)
	require.NoError(t, err)

	shard := unassigned(model.PrimaryCopy("logs", 0), model.ReasonIndexCreated)
	f := newFixture([]model.Node{node("n1"), node("n2")}, oneShard, shard)
	a := allocation.NewAllocation(f.snapshot, chain, f.routing)

	verdict, decisions := a.CanAllocate(shard, f.node(t, "n1"))
	assert.Equal(t, allocation.Deny, verdict)
	assert.Equal(t, FilterName, decisions[len(decisions)-1].Decider)

	verdict, decisions = a.CanAllocate(shard, f.node(t, "n2"))
	assert.Equal(t, allocation.Allow, verdict)
	assert.Len(t, decisions, 8)
}
