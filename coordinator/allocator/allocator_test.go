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
	"context"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/allocation/deciders"
	"github.com/streamnative/shardalloc/coordinator/model"
	"github.com/streamnative/shardalloc/coordinator/selectors/single"
)

func liveNodes(ids ...string) []model.Node {
	res := make([]model.Node, len(ids))
	for i, id := range ids {
		res[i] = model.Node{ID: id, Live: true}
	}
	return res
}

func snapshotOf(nodes []model.Node, metadata map[string]model.IndexMetadata, copies ...model.ShardRouting) *model.Snapshot {
	rt := model.NewRoutingTable()
	for _, sr := range copies {
		rt.Indices[sr.Index] = append(rt.Indices[sr.Index], sr)
	}
	return &model.Snapshot{
		Nodes:        nodes,
		Metadata:     model.Metadata{Indices: metadata},
		RoutingTable: rt,
	}
}

func startedOn(id model.CopyID, nodeID string) model.ShardRouting {
	return model.ShardRouting{Index: id.Index, Shard: id.Shard, Primary: id.Primary, Replica: id.Replica,
		State: model.ShardStateStarted, NodeID: nodeID}
}

func denyNode(name string, nodeID string) allocation.DecideFunc {
	return func(_ model.ShardRouting, node *model.Node, _ *allocation.Allocation) (allocation.Decision, error) {
		if node.ID == nodeID {
			return allocation.Denied(name, "node [%s] is not welcome", nodeID), nil
		}
		return allocation.Allowed(name, "node [%s] is welcome", node.ID), nil
	}
}

// builtinChain returns the built-in deciders without recovery throttling.
func builtinChain(t *testing.T) *allocation.Chain {
	t.Helper()
	settings := deciders.DefaultSettings()
	settings.NodeConcurrentRecoveries = 0
	settings.NodeInitialPrimariesRecoveries = 0
	chain, err := deciders.NewChain(settings)
	require.NoError(t, err)
	return chain
}

func hasEntry(entries []allocation.Entry, nodeID string, decider string, verdict allocation.Verdict) bool {
	for _, e := range entries {
		if e.Node == nodeID && e.Decider == decider && e.Verdict == verdict {
			return true
		}
	}
	return false
}

func assertNoDuplicatePlacement(t *testing.T, rt *model.RoutingTable) {
	t.Helper()
	seen := map[model.CopyID]bool{}
	onNode := map[string]bool{}
	for _, sr := range rt.Copies() {
		assert.False(t, seen[sr.CopyID()], "duplicate copy %s", sr.CopyID())
		seen[sr.CopyID()] = true
		for _, nodeID := range []string{sr.NodeID, sr.RelocatingNodeID} {
			if nodeID == "" {
				continue
			}
			key := fmt.Sprintf("%s@%s", sr.ShardID(), nodeID)
			assert.False(t, onNode[key], "two copies of %s on %s", sr.ShardID(), nodeID)
			onNode[key] = true
		}
		if sr.State == model.ShardStateUnassigned {
			assert.Empty(t, sr.NodeID)
		} else {
			assert.NotEmpty(t, sr.NodeID)
		}
	}
}

func TestRerouteSingleNodeSinglePrimary(t *testing.T) {
	snapshot := snapshotOf(liveNodes("n1"), map[string]model.IndexMetadata{"logs": {NumberOfShards: 1}})

	res, err := New(allocation.NewChain()).Reroute(context.Background(), snapshot)
	require.NoError(t, err)

	assert.True(t, res.Changed)
	sr, found := res.RoutingTable.Get(model.PrimaryCopy("logs", 0))
	assert.True(t, found)
	assert.Equal(t, model.ShardStateStarted, sr.State)
	assert.Equal(t, "n1", sr.NodeID)
	assert.Nil(t, sr.Unassigned)

	assert.Equal(t, []allocation.Entry{
		{Node: "n1", Decider: Name, Verdict: allocation.Allow, Reason: "copy allocated to [n1]"},
	}, res.For(model.PrimaryCopy("logs", 0)))

	// the input is untouched
	assert.Equal(t, 0, snapshot.RoutingTable.Len())
}

func TestRerouteAvoidsDeniedNode(t *testing.T) {
	snapshot := snapshotOf(liveNodes("a", "b"), map[string]model.IndexMetadata{"logs": {NumberOfShards: 3}})
	chain := allocation.NewChain(allocation.NewDecider("no_a", denyNode("no_a", "a")))

	res, err := New(chain).Reroute(context.Background(), snapshot)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	for shard := 0; shard < 3; shard++ {
		id := model.PrimaryCopy("logs", shard)
		sr, _ := res.RoutingTable.Get(id)
		assert.Equal(t, "b", sr.NodeID)

		entries := res.For(id)
		assert.True(t, hasEntry(entries, "a", "no_a", allocation.Deny), "%v", entries)
		assert.True(t, hasEntry(entries, "b", "no_a", allocation.Allow), "%v", entries)
	}
}

func TestRerouteWithoutLiveNodes(t *testing.T) {
	nodes := []model.Node{{ID: "n1", Live: false}}
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 1}}
	snapshot := snapshotOf(nodes, metadata, model.NewUnassigned(model.PrimaryCopy("logs", 0), model.ReasonIndexCreated))

	res, err := New(builtinChain(t)).Reroute(context.Background(), snapshot)
	require.NoError(t, err)

	assert.False(t, res.Changed)
	assert.Same(t, snapshot.RoutingTable, res.RoutingTable)
	assert.Equal(t, []allocation.Entry{
		{Decider: Name, Verdict: allocation.Deny, Reason: "no live nodes to allocate the copy to"},
	}, res.For(model.PrimaryCopy("logs", 0)))
}

func TestRerouteRelocatesCopyWhenNewDeciderDeniesItsNode(t *testing.T) {
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 1}}
	snapshot := snapshotOf(liveNodes("a", "b"), metadata, startedOn(model.PrimaryCopy("logs", 0), "a"))

	res, err := New(allocation.NewChain()).Reroute(context.Background(), snapshot)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	drain := allocation.NewDecider("drain_a", denyNode("drain_a", "a"))
	res, err = New(allocation.NewChain(drain)).Reroute(context.Background(), snapshot)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	id := model.PrimaryCopy("logs", 0)
	sr, _ := res.RoutingTable.Get(id)
	assert.Equal(t, model.ShardStateStarted, sr.State)
	assert.Equal(t, "b", sr.NodeID)

	entries := res.For(id)
	assert.True(t, hasEntry(entries, "a", "drain_a", allocation.Deny), "%v", entries)
	assert.True(t, hasEntry(entries, "b", "drain_a", allocation.Allow), "%v", entries)
	assert.True(t, hasEntry(entries, "b", Name, allocation.Allow), "%v", entries)

	// a second pass keeps the new placement
	next, err := New(allocation.NewChain(drain)).Reroute(context.Background(),
		&model.Snapshot{Nodes: snapshot.Nodes, Metadata: snapshot.Metadata, RoutingTable: res.RoutingTable})
	require.NoError(t, err)
	assert.False(t, next.Changed)
}

func TestRerouteRelocatesCopyThatCannotRemain(t *testing.T) {
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 1}}
	snapshot := snapshotOf(liveNodes("a", "b"), metadata, startedOn(model.PrimaryCopy("logs", 0), "a"))
	// new copies may still land on a, existing ones have to leave
	drain := allocation.NewRemainDecider("drain_a", denyNode("drain_a", "none"), denyNode("drain_a", "a"))

	res, err := New(allocation.NewChain(drain)).Reroute(context.Background(), snapshot)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	sr, _ := res.RoutingTable.Get(model.PrimaryCopy("logs", 0))
	assert.Equal(t, "b", sr.NodeID)
	assert.True(t, hasEntry(res.For(sr.CopyID()), "a", "drain_a", allocation.Deny))
}

func TestRerouteKeepsCopyWithoutRelocationTarget(t *testing.T) {
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 1}}
	snapshot := snapshotOf(liveNodes("a"), metadata, startedOn(model.PrimaryCopy("logs", 0), "a"))
	drain := allocation.NewRemainDecider("drain_a", denyNode("drain_a", "a"), denyNode("drain_a", "a"))

	res, err := New(allocation.NewChain(drain)).Reroute(context.Background(), snapshot)
	require.NoError(t, err)
	assert.False(t, res.Changed)

	entries := res.For(model.PrimaryCopy("logs", 0))
	assert.True(t, hasEntry(entries, "a", "drain_a", allocation.Deny))
	assert.Equal(t, "copy cannot remain on [a] but no other node can hold it, leaving it in place", entries[len(entries)-1].Reason)
}

func TestRerouteIsIdempotent(t *testing.T) {
	nodes := []model.Node{
		{ID: "n1", Live: true, Attributes: map[string]string{"zone": "a"}},
		{ID: "n2", Live: true, Attributes: map[string]string{"zone": "b"}},
		{ID: "n3", Live: true, Attributes: map[string]string{"zone": "a"}},
		{ID: "n4", Live: true, Attributes: map[string]string{"zone": "b"}},
	}
	metadata := map[string]model.IndexMetadata{
		"logs":    {NumberOfShards: 3, NumberOfReplicas: 1},
		"metrics": {NumberOfShards: 2, NumberOfReplicas: 2, TotalShardsPerNode: 2},
	}
	settings := deciders.DefaultSettings()
	settings.NodeConcurrentRecoveries = 0
	settings.NodeInitialPrimariesRecoveries = 0
	settings.Awareness.Attributes = []string{"zone"}
	chain, err := deciders.NewChain(settings)
	require.NoError(t, err)

	for name, a := range map[string]*Allocator{
		"lowest-id":    New(chain),
		"least-loaded": New(chain, WithSelector(single.NewLeastLoadedSelector())),
		"rebalance":    New(chain, WithRebalance(RebalanceSettings{Enabled: true, Threshold: 1})),
	} {
		t.Run(name, func(t *testing.T) {
			first, err := a.Reroute(context.Background(), snapshotOf(nodes, metadata))
			require.NoError(t, err)
			assert.True(t, first.Changed)
			assert.Equal(t, 0, first.RoutingTable.CountInState(model.ShardStateUnassigned))
			assertNoDuplicatePlacement(t, first.RoutingTable)

			second, err := a.Reroute(context.Background(),
				&model.Snapshot{Nodes: nodes, Metadata: model.Metadata{Indices: metadata}, RoutingTable: first.RoutingTable})
			require.NoError(t, err)
			assert.False(t, second.Changed)
			assert.Same(t, first.RoutingTable, second.RoutingTable)
		})
	}
}

func TestRerouteIsDeterministic(t *testing.T) {
	nodes := liveNodes("n3", "n1", "n2")
	metadata := map[string]model.IndexMetadata{
		"logs":   {NumberOfShards: 4, NumberOfReplicas: 1},
		"events": {NumberOfShards: 2, NumberOfReplicas: 2},
	}
	a := New(builtinChain(t), WithSelector(single.NewLeastLoadedSelector()))

	first, err := a.Reroute(context.Background(), snapshotOf(nodes, metadata))
	require.NoError(t, err)
	second, err := a.Reroute(context.Background(), snapshotOf(nodes, metadata))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, first.Digest(), second.Digest())
	assertNoDuplicatePlacement(t, first.RoutingTable)
}

func TestRerouteNeverStacksCopiesOfAShard(t *testing.T) {
	// no same_shard decider: the allocator itself refuses the placement
	snapshot := snapshotOf(liveNodes("n1"), map[string]model.IndexMetadata{"logs": {NumberOfShards: 1, NumberOfReplicas: 1}})

	res, err := New(allocation.NewChain()).Reroute(context.Background(), snapshot)
	require.NoError(t, err)
	assertNoDuplicatePlacement(t, res.RoutingTable)

	replica, _ := res.RoutingTable.Get(model.ReplicaCopy("logs", 0, 1))
	assert.Equal(t, model.ShardStateUnassigned, replica.State)
	entries := res.For(replica.CopyID())
	assert.True(t, hasEntry(entries, "n1", Name, allocation.Deny), "%v", entries)
	assert.Equal(t, "no node can hold the copy", entries[len(entries)-1].Reason)
}

func TestRerouteRejectsInconsistentSnapshot(t *testing.T) {
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 1}}
	snapshot := snapshotOf(liveNodes("n1"), metadata, startedOn(model.PrimaryCopy("logs", 0), "n9"))

	res, err := New(builtinChain(t)).Reroute(context.Background(), snapshot)
	assert.Nil(t, res)
	assert.ErrorIs(t, err, model.ErrInconsistentSnapshot)

	var inconsistent *model.InconsistentSnapshotError
	require.True(t, errors.As(err, &inconsistent))
	assert.Equal(t, "n9", inconsistent.NodeID)
	assert.Equal(t, model.PrimaryCopy("logs", 0), *inconsistent.Copy)

	_, err = New(builtinChain(t)).Reroute(context.Background(), nil)
	assert.ErrorIs(t, err, model.ErrInconsistentSnapshot)
}

func TestRerouteHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := New(builtinChain(t)).Reroute(ctx, snapshotOf(liveNodes("n1"), map[string]model.IndexMetadata{"logs": {NumberOfShards: 1}}))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)

	calls := 0
	ctx, cancel = context.WithCancel(context.Background())
	cancelling := allocation.NewDecider("cancel", func(_ model.ShardRouting, node *model.Node, _ *allocation.Allocation) (allocation.Decision, error) {
		calls++
		cancel()
		return allocation.Allowed("cancel", "ok"), nil
	})
	res, err = New(allocation.NewChain(cancelling)).Reroute(ctx,
		snapshotOf(liveNodes("n1"), map[string]model.IndexMetadata{"logs": {NumberOfShards: 3}}))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRerouteTreatsFailingDeciderAsDeny(t *testing.T) {
	failing := allocation.NewDecider("broken", func(_ model.ShardRouting, node *model.Node, _ *allocation.Allocation) (allocation.Decision, error) {
		if node.ID == "n1" {
			return allocation.Decision{}, errors.New("disk stats unavailable")
		}
		return allocation.Allowed("broken", "ok"), nil
	})
	snapshot := snapshotOf(liveNodes("n1", "n2"), map[string]model.IndexMetadata{"logs": {NumberOfShards: 1}})

	res, err := New(allocation.NewChain(failing)).Reroute(context.Background(), snapshot)
	require.NoError(t, err)

	sr, _ := res.RoutingTable.Get(model.PrimaryCopy("logs", 0))
	assert.Equal(t, "n2", sr.NodeID)
	assert.Contains(t, res.For(sr.CopyID()), allocation.Entry{
		Node: "n1", Decider: "broken", Verdict: allocation.Deny, Reason: "disk stats unavailable",
	})
}

func TestRerouteReleasesCopiesOfLeftNodes(t *testing.T) {
	nodes := []model.Node{{ID: "n1", Live: false}, {ID: "n2", Live: true}, {ID: "n3", Live: false}}
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 2}}
	relocating := startedOn(model.PrimaryCopy("logs", 1), "n2")
	relocating.State = model.ShardStateRelocating
	relocating.RelocatingNodeID = "n3"
	snapshot := snapshotOf(nodes, metadata, startedOn(model.PrimaryCopy("logs", 0), "n1"), relocating)

	res, err := New(builtinChain(t)).Reroute(context.Background(), snapshot)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	sr, _ := res.RoutingTable.Get(model.PrimaryCopy("logs", 0))
	assert.Equal(t, model.ShardStateStarted, sr.State)
	assert.Equal(t, "n2", sr.NodeID)
	assert.True(t, hasEntry(res.For(sr.CopyID()), "n1", Name, allocation.Deny))

	sr, _ = res.RoutingTable.Get(model.PrimaryCopy("logs", 1))
	assert.Equal(t, model.ShardStateStarted, sr.State)
	assert.Equal(t, "n2", sr.NodeID)
	assert.Empty(t, sr.RelocatingNodeID)
}

func TestRerouteKeepsNodeLeftReason(t *testing.T) {
	nodes := []model.Node{{ID: "n1", Live: false}}
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 1}}
	snapshot := snapshotOf(nodes, metadata, startedOn(model.PrimaryCopy("logs", 0), "n1"))

	res, err := New(builtinChain(t)).Reroute(context.Background(), snapshot)
	require.NoError(t, err)
	assert.True(t, res.Changed)

	sr, _ := res.RoutingTable.Get(model.PrimaryCopy("logs", 0))
	assert.Equal(t, model.ShardStateUnassigned, sr.State)
	assert.Equal(t, model.ReasonNodeLeft, sr.Unassigned.Reason)
}

func TestRerouteReconcilesWithMetadata(t *testing.T) {
	metadata := map[string]model.IndexMetadata{
		"logs":   {NumberOfShards: 1, NumberOfReplicas: 1},
		"events": {NumberOfShards: 1, NumberOfReplicas: 0},
	}
	snapshot := snapshotOf(liveNodes("n1", "n2", "n3"), metadata,
		startedOn(model.PrimaryCopy("logs", 0), "n1"),
		startedOn(model.PrimaryCopy("events", 0), "n1"),
		startedOn(model.ReplicaCopy("events", 0, 1), "n2"),
	)

	res, err := New(builtinChain(t)).Reroute(context.Background(), snapshot)
	require.NoError(t, err)
	assert.True(t, res.Changed)
	assert.Equal(t, 3, res.RoutingTable.Len())

	_, found := res.RoutingTable.Get(model.ReplicaCopy("events", 0, 1))
	assert.False(t, found)
	assert.True(t, hasEntry(res.For(model.ReplicaCopy("events", 0, 1)), "n2", Name, allocation.Deny))

	replica, found := res.RoutingTable.Get(model.ReplicaCopy("logs", 0, 1))
	assert.True(t, found)
	assert.Equal(t, "n2", replica.NodeID)
}

func TestRerouteThrottlesRecoveries(t *testing.T) {
	settings := deciders.DefaultSettings()
	settings.NodeInitialPrimariesRecoveries = 2
	chain, err := deciders.NewChain(settings)
	require.NoError(t, err)
	metadata := map[string]model.IndexMetadata{"logs": {NumberOfShards: 3}}
	a := New(chain)

	first, err := a.Reroute(context.Background(), snapshotOf(liveNodes("n1"), metadata))
	require.NoError(t, err)
	assert.True(t, first.Changed)
	assert.Equal(t, 1, first.RoutingTable.CountInState(model.ShardStateUnassigned))

	throttled := first.For(model.PrimaryCopy("logs", 2))
	assert.True(t, hasEntry(throttled, "n1", deciders.ThrottlingName, allocation.Throttle))
	assert.Equal(t, allocation.Throttle, throttled[len(throttled)-1].Verdict)

	second, err := a.Reroute(context.Background(),
		&model.Snapshot{Nodes: liveNodes("n1"), Metadata: model.Metadata{Indices: metadata}, RoutingTable: first.RoutingTable})
	require.NoError(t, err)
	assert.True(t, second.Changed)
	assert.Equal(t, 0, second.RoutingTable.CountInState(model.ShardStateUnassigned))
}
