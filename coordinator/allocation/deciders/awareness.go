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
	"github.com/emirpasic/gods/sets/hashset"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
)

var _ allocation.RemainDecider = &awarenessDecider{}

type awarenessDecider struct {
	attributes []string
	force      map[string][]string
}

// NewAwarenessDecider spreads the copies of a shard evenly across the values
// of the awareness attributes (racks, zones), so that losing one failure
// domain never takes out every copy.
func NewAwarenessDecider(settings AwarenessSettings) allocation.RemainDecider {
	d := &awarenessDecider{
		attributes: append([]string(nil), settings.Attributes...),
		force:      map[string][]string{},
	}
	for attr, values := range settings.Force {
		d.force[attr] = append([]string(nil), values...)
	}
	return d
}

func (*awarenessDecider) Name() string {
	return AwarenessName
}

func (d *awarenessDecider) CanAllocate(shard model.ShardRouting, node *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	return d.decide(shard, node, a)
}

func (d *awarenessDecider) CanRemain(shard model.ShardRouting, node *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	return d.decide(shard, node, a)
}

func (d *awarenessDecider) decide(shard model.ShardRouting, node *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	if len(d.attributes) == 0 {
		return allocation.Allowed(AwarenessName, "allocation awareness is not enabled"), nil
	}
	im, ok := a.IndexMetadata(shard.Index)
	if !ok {
		return allocation.Decision{}, model.ErrInconsistentSnapshot
	}
	copies := im.Copies()

	for _, attr := range d.attributes {
		value, ok := node.Attribute(attr)
		if !ok {
			return allocation.Denied(AwarenessName, "node does not contain the awareness attribute [%s]", attr), nil
		}

		values := hashset.New()
		for _, n := range a.LiveNodes() {
			if v, ok := n.Attribute(attr); ok {
				values.Add(v)
			}
		}
		for _, v := range d.force[attr] {
			values.Add(v)
		}
		values.Add(value)

		sameValue := 1
		for _, other := range a.Routing().CopiesOf(shard.ShardID()) {
			if other.CopyID() == shard.CopyID() || !other.Assigned() {
				continue
			}
			location := other.NodeID
			if other.State == model.ShardStateRelocating {
				location = other.RelocatingNodeID
			}
			if n, found := a.Node(location); found {
				if v, ok := n.Attribute(attr); ok && v == value {
					sameValue++
				}
			}
		}

		maxPerValue := (copies + values.Size() - 1) / values.Size()
		if sameValue > maxPerValue {
			return allocation.Denied(AwarenessName,
				"there are [%d] copies of this shard and [%d] values for attribute [%s]; "+
					"this node would hold [%d] copies with [%s=%s], more than the [%d] allowed",
				copies, values.Size(), attr, sameValue, attr, value, maxPerValue), nil
		}
	}
	return allocation.Allowed(AwarenessName, "node meets all awareness attribute requirements"), nil
}
