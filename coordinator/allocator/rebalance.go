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
	"cmp"
	"log/slog"
	"slices"

	"github.com/emirpasic/gods/queues/priorityqueue"
	"github.com/emirpasic/gods/sets/linkedhashset"
	"github.com/pkg/errors"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
)

type nodeLoad struct {
	nodeID string
	count  int
}

// heaviest first, then lowest id
func byLoadDesc(a, b any) int {
	la, lb := a.(nodeLoad), b.(nodeLoad) //nolint:revive
	if c := cmp.Compare(lb.count, la.count); c != 0 {
		return c
	}
	return cmp.Compare(la.nodeID, lb.nodeID)
}

// nodeLoads returns the copy count of every live node, lightest first.
func (p *pass) nodeLoads() []nodeLoad {
	live := p.alloc.LiveNodes()
	loads := make([]nodeLoad, 0, len(live))
	for _, n := range live {
		loads = append(loads, nodeLoad{nodeID: n.ID, count: p.routing.CountOn(n.ID)})
	}
	slices.SortFunc(loads, func(a, b nodeLoad) int {
		if c := cmp.Compare(a.count, b.count); c != 0 {
			return c
		}
		return cmp.Compare(a.nodeID, b.nodeID)
	})
	return loads
}

// rebalance moves started copies from the most to the least loaded nodes
// until the spread is within the threshold. A node none of whose copies can
// move is quarantined until another move changes the picture.
func (p *pass) rebalance() error {
	threshold := max(p.Allocator.rebalance.Threshold, 0)
	quarantined := linkedhashset.New()
	maxMoves := p.routing.Build().Len()

	for moves := 0; moves < maxMoves; {
		if err := p.ctx.Err(); err != nil {
			return err
		}
		loads := p.nodeLoads()
		if len(loads) < 2 {
			return nil
		}
		lightest := loads[0].count
		if loads[len(loads)-1].count-lightest <= threshold {
			return nil
		}

		queue := priorityqueue.NewWith(byLoadDesc)
		for _, l := range loads {
			if !quarantined.Contains(l.nodeID) {
				queue.Enqueue(l)
			}
		}
		v, ok := queue.Dequeue()
		if !ok {
			return nil
		}
		from := v.(nodeLoad) //nolint:revive
		if from.count-lightest <= threshold {
			return nil
		}

		moved, err := p.moveOneFrom(from, loads)
		if err != nil {
			return err
		}
		if moved {
			moves++
			quarantined.Clear()
			continue
		}
		quarantined.Add(from.nodeID)
		p.Debug("Can't rebalance the node, quarantine it",
			slog.String("node", from.nodeID),
			slog.Int("copies", from.count),
			slog.Any("quarantined", quarantined.Values()))
	}
	return nil
}

func (p *pass) moveOneFrom(from nodeLoad, loads []nodeLoad) (bool, error) {
	for _, sr := range p.routing.CopiesOn(from.nodeID) {
		if sr.State != model.ShardStateStarted || sr.NodeID != from.nodeID {
			continue
		}
		id := sr.CopyID()
		for _, to := range loads {
			// moving must narrow the gap, not swap the two nodes
			if from.count-to.count < 2 {
				break
			}
			if sr.OnNode(to.nodeID) || p.alloc.ShouldIgnore(id, to.nodeID) {
				continue
			}
			node, _ := p.alloc.Node(to.nodeID)
			verdict, decisions := p.alloc.CanAllocate(sr, node)
			p.alloc.Explanation().AddDecisions(id, to.nodeID, decisions)
			if verdict != allocation.Allow {
				continue
			}
			if err := p.routing.Move(id, to.nodeID); err != nil {
				if errors.Is(err, allocation.ErrSameShardOnNode) {
					p.alloc.Ignore(id, to.nodeID)
					continue
				}
				return false, errors.Wrapf(err, "rebalancing %s", id)
			}
			p.stats.relocated++
			p.explain(id, to.nodeID, allocation.Allow, "rebalanced from [%s] holding [%d] copies to [%s] holding [%d] copies",
				from.nodeID, from.count, to.nodeID, to.count)
			return true, nil
		}
	}
	return false, nil
}
