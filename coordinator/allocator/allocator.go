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
	"log/slog"
	"slices"

	"github.com/pkg/errors"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
	"github.com/streamnative/shardalloc/coordinator/selectors"
	"github.com/streamnative/shardalloc/coordinator/selectors/single"
)

// Name under which the allocator records its own outcomes in the
// explanation, next to the decider verdicts that led to them.
const Name = "allocator"

// Allocator runs allocation passes. It keeps no state between passes and is
// safe for concurrent use.
type Allocator struct {
	*slog.Logger

	chain     *allocation.Chain
	selector  selectors.Selector[*single.Context, string]
	rebalance RebalanceSettings
	metrics   *allocatorMetrics
}

func New(chain *allocation.Chain, opts ...Option) *Allocator {
	o := &options{
		selector:  single.NewLowestNodeIDSelector(),
		rebalance: DefaultRebalanceSettings(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	if chain == nil {
		chain = allocation.NewChain()
	}
	return &Allocator{
		Logger:    o.logger.With(slog.String("component", "allocator")),
		chain:     chain,
		selector:  o.selector,
		rebalance: o.rebalance,
		metrics:   newAllocatorMetrics(),
	}
}

func (a *Allocator) Chain() *allocation.Chain {
	return a.chain
}

// Reroute runs one allocation pass over the snapshot: copies on nodes that
// left are released, copies that may no longer remain where they are are
// moved, unassigned copies are placed, and optionally the load is evened out.
func (a *Allocator) Reroute(ctx context.Context, snapshot *model.Snapshot) (*Result, error) {
	return a.run(ctx, "reroute", snapshot, nil)
}

// run executes a full pass. The prepare hook applies external events to the
// working table before the regular steps.
func (a *Allocator) run(ctx context.Context, operation string, snapshot *model.Snapshot, prepare func(p *pass)) (*Result, error) {
	timer := a.metrics.passLatency.Timer()
	defer timer.Done()

	p, err := a.open(ctx, snapshot)
	if err != nil {
		a.metrics.passesFailed.Inc()
		return nil, err
	}

	if prepare != nil {
		prepare(p)
	}
	steps := []func() error{
		p.releaseLeftNodes,
		p.checkRemain,
		p.allocateUnassigned,
	}
	if a.rebalance.Enabled {
		steps = append(steps, p.rebalance)
	}
	for _, step := range steps {
		if err := step(); err != nil {
			a.metrics.passesFailed.Inc()
			return nil, err
		}
	}
	return p.finish(operation), nil
}

// open validates the snapshot and sets up the working state of a pass.
func (a *Allocator) open(ctx context.Context, snapshot *model.Snapshot) (*pass, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if snapshot == nil {
		return nil, &model.InconsistentSnapshotError{Reason: "missing snapshot"}
	}
	if err := snapshot.Validate(); err != nil {
		a.Warn("Rejecting inconsistent snapshot", slog.Any("error", err))
		return nil, err
	}

	input := snapshot.RoutingTable
	if input == nil {
		input = model.NewRoutingTable()
		snapshot = &model.Snapshot{Nodes: snapshot.Nodes, Metadata: snapshot.Metadata, RoutingTable: input}
	}
	routing := allocation.NewRoutingNodes(input)
	p := &pass{
		Allocator: a,
		ctx:       ctx,
		input:     input,
		routing:   routing,
		alloc:     allocation.NewAllocation(snapshot, a.chain, routing),
	}
	p.reconcile()
	return p, nil
}

type pass struct {
	*Allocator

	ctx     context.Context
	input   *model.RoutingTable
	routing *allocation.RoutingNodes
	alloc   *allocation.Allocation
	stats   passStats
}

func (p *pass) explain(id model.CopyID, nodeID string, verdict allocation.Verdict, format string, args ...any) {
	p.alloc.Explanation().Add(id, allocation.Entry{
		Node:    nodeID,
		Decider: Name,
		Verdict: verdict,
		Reason:  fmt.Sprintf(format, args...),
	})
}

// reconcile makes the working table hold exactly the copies the metadata
// asks for.
func (p *pass) reconcile() {
	metadata := p.alloc.Metadata()
	for _, index := range metadata.IndexNames() {
		im := metadata.Indices[index]
		newIndex := len(p.input.Indices[index]) == 0
		for shard := 0; shard < im.NumberOfShards; shard++ {
			ids := []model.CopyID{model.PrimaryCopy(index, shard)}
			for r := 1; r <= im.NumberOfReplicas; r++ {
				ids = append(ids, model.ReplicaCopy(index, shard, r))
			}
			for _, id := range ids {
				if _, found := p.routing.Get(id); found {
					continue
				}
				reason := model.ReasonReplicaAdded
				if newIndex || id.Primary {
					reason = model.ReasonIndexCreated
				}
				p.routing.Add(model.NewUnassigned(id, reason))
			}
		}
	}

	for _, sr := range p.routing.Copies() {
		im, _ := metadata.Index(sr.Index)
		if !sr.Primary && sr.Replica > im.NumberOfReplicas {
			p.routing.Remove(sr.CopyID())
			p.explain(sr.CopyID(), sr.NodeID, allocation.Deny,
				"copy removed, index [%s] has [%d] replicas", sr.Index, im.NumberOfReplicas)
		}
	}
}

// releaseLeftNodes unassigns the copies held by nodes that are no longer
// live, and cancels relocations towards them.
func (p *pass) releaseLeftNodes() error {
	live := func(nodeID string) bool {
		n, found := p.alloc.Node(nodeID)
		return found && n.Live
	}
	for _, sr := range p.routing.Copies() {
		if !sr.Assigned() {
			continue
		}
		id := sr.CopyID()
		switch {
		case !live(sr.NodeID):
			if err := p.routing.Unassign(id, model.UnassignedInfo{
				Reason:         model.ReasonNodeLeft,
				Message:        fmt.Sprintf("node [%s] left the cluster", sr.NodeID),
				FailedAttempts: sr.FailedAttempts(),
			}); err != nil {
				return err
			}
			p.explain(id, sr.NodeID, allocation.Deny, "node [%s] is not live, copy unassigned", sr.NodeID)
		case sr.State == model.ShardStateRelocating && !live(sr.RelocatingNodeID):
			if err := p.routing.CancelRelocation(id); err != nil {
				return err
			}
			p.explain(id, sr.RelocatingNodeID, allocation.Deny,
				"relocation target [%s] is not live, copy stays on [%s]", sr.RelocatingNodeID, sr.NodeID)
		}
	}
	return nil
}

// checkRemain asks the chain whether every started copy may stay where it
// is, and moves the ones that may not.
func (p *pass) checkRemain() error {
	for _, sr := range p.routing.Copies() {
		if sr.State != model.ShardStateStarted {
			continue
		}
		if err := p.ctx.Err(); err != nil {
			return err
		}
		// the copy may have been moved by the relocation of a sibling
		current, _ := p.routing.Get(sr.CopyID())
		node, _ := p.alloc.Node(current.NodeID)

		verdict, decisions := p.alloc.CanRemain(current, node)
		if verdict != allocation.Deny {
			continue
		}
		id := current.CopyID()
		p.alloc.Explanation().AddDecisions(id, node.ID, decisions)
		p.alloc.Ignore(id, node.ID)

		allowed, _ := p.candidates(current)
		target, ok := p.selectNode(current, allowed)
		if !ok {
			p.explain(id, node.ID, allocation.Deny,
				"copy cannot remain on [%s] but no other node can hold it, leaving it in place", node.ID)
			continue
		}
		if err := p.routing.Move(id, target); err != nil {
			return errors.Wrapf(err, "relocating %s", id)
		}
		p.stats.relocated++
		p.explain(id, target, allocation.Allow, "copy cannot remain on [%s], relocated to [%s]", node.ID, target)
		p.Debug("Relocated copy",
			slog.String("copy", id.String()),
			slog.String("from", node.ID),
			slog.String("to", target))
	}
	return nil
}

// allocateUnassigned places unassigned copies, primaries first.
func (p *pass) allocateUnassigned() error {
	unassigned := p.routing.Unassigned()
	slices.SortStableFunc(unassigned, func(a, b model.ShardRouting) int {
		switch {
		case a.Primary == b.Primary:
			return 0
		case a.Primary:
			return -1
		default:
			return 1
		}
	})

	for _, sr := range unassigned {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		if err := p.allocate(sr); err != nil {
			return err
		}
	}
	return nil
}

func (p *pass) allocate(sr model.ShardRouting) error {
	id := sr.CopyID()
	allowed, throttled := p.candidates(sr)

	for len(allowed) > 0 {
		nodeID, _ := p.selectNode(sr, allowed)
		err := p.routing.Assign(id, nodeID)
		if err == nil {
			p.stats.allocated++
			p.explain(id, nodeID, allocation.Allow, "copy allocated to [%s]", nodeID)
			return nil
		}
		if !errors.Is(err, allocation.ErrSameShardOnNode) {
			return errors.Wrapf(err, "allocating %s", id)
		}
		// the chain allowed a node that already holds a copy of the shard
		p.alloc.Ignore(id, nodeID)
		p.explain(id, nodeID, allocation.Deny, "%v", err)
		allowed = slices.DeleteFunc(allowed, func(n string) bool { return n == nodeID })
	}

	switch {
	case len(throttled) > 0:
		p.stats.throttled++
		p.explain(id, "", allocation.Throttle, "allocation throttled on %v, retrying on the next pass", throttled)
	case len(p.alloc.LiveNodes()) == 0:
		p.stats.denied++
		p.explain(id, "", allocation.Deny, "no live nodes to allocate the copy to")
	default:
		p.stats.denied++
		p.explain(id, "", allocation.Deny, "no node can hold the copy")
	}
	return nil
}

// candidates evaluates the chain on every live node that is not ignored for
// the copy, and returns the allowed and throttled nodes ordered by id.
func (p *pass) candidates(sr model.ShardRouting) (allowed []string, throttled []string) {
	id := sr.CopyID()
	for _, node := range p.alloc.LiveNodes() {
		if sr.OnNode(node.ID) {
			continue
		}
		if p.alloc.ShouldIgnore(id, node.ID) {
			p.explain(id, node.ID, allocation.Deny, "node is ignored for this copy until the end of the pass")
			continue
		}
		verdict, decisions := p.alloc.CanAllocate(sr, node)
		p.alloc.Explanation().AddDecisions(id, node.ID, decisions)
		switch verdict {
		case allocation.Allow:
			allowed = append(allowed, node.ID)
		case allocation.Throttle:
			throttled = append(throttled, node.ID)
		}
	}
	return allowed, throttled
}

// selectNode asks the selector to pick one of the allowed nodes, falling back
// to the first one when it does not return a candidate.
func (p *pass) selectNode(sr model.ShardRouting, allowed []string) (string, bool) {
	if len(allowed) == 0 {
		return "", false
	}
	nodeID, err := p.selector.Select(single.NewContext(sr, p.routing, allowed...))
	if err != nil || !slices.Contains(allowed, nodeID) {
		p.Warn("Selector did not return a candidate node, using the first one",
			slog.String("copy", sr.CopyID().String()),
			slog.String("node", nodeID),
			slog.Any("error", err))
		return allowed[0], true
	}
	return nodeID, true
}

func (p *pass) finish(operation string) *Result {
	working := p.routing.Build()
	res := &Result{
		Changed:      !working.Equal(p.input),
		RoutingTable: working,
		Explanation:  p.alloc.Explanation().Export(),
	}
	if !res.Changed {
		res.RoutingTable = p.input
		p.metrics.passesUnchanged.Inc()
	} else {
		p.metrics.passesChanged.Inc()
	}
	p.metrics.record(p.stats)

	p.Debug("Allocation pass completed",
		slog.String("operation", operation),
		slog.Bool("changed", res.Changed),
		slog.Int("allocated", p.stats.allocated),
		slog.Int("relocated", p.stats.relocated),
		slog.Int("throttled", p.stats.throttled),
		slog.Int("denied", p.stats.denied),
		slog.Int("unassigned", working.CountInState(model.ShardStateUnassigned)))
	return res
}
