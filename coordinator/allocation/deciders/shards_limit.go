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
	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
)

var _ allocation.RemainDecider = &shardsLimitDecider{}

type shardsLimitDecider struct {
	clusterLimit int
}

// NewShardsLimitDecider caps how many copies a node holds, per index and in
// total. Non-positive limits are disabled.
func NewShardsLimitDecider(totalShardsPerNode int) allocation.RemainDecider {
	return &shardsLimitDecider{clusterLimit: totalShardsPerNode}
}

func (*shardsLimitDecider) Name() string {
	return ShardsLimitName
}

func (d *shardsLimitDecider) CanAllocate(shard model.ShardRouting, node *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	return d.decide(shard, node, a, func(count, limit int) bool { return count >= limit })
}

// CanRemain counts the copy itself, hence the strict comparison.
func (d *shardsLimitDecider) CanRemain(shard model.ShardRouting, node *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	return d.decide(shard, node, a, func(count, limit int) bool { return count > limit })
}

func (d *shardsLimitDecider) decide(shard model.ShardRouting, node *model.Node, a *allocation.Allocation,
	exceeded func(count, limit int) bool) (allocation.Decision, error) {
	indexLimit := 0
	if im, ok := a.IndexMetadata(shard.Index); ok {
		indexLimit = im.TotalShardsPerNode
	}
	if indexLimit <= 0 && d.clusterLimit <= 0 {
		return allocation.Allowed(ShardsLimitName, "total shard limits are disabled"), nil
	}

	if d.clusterLimit > 0 {
		if count := a.Routing().CountOn(node.ID); exceeded(count, d.clusterLimit) {
			return allocation.Denied(ShardsLimitName,
				"too many shards [%d] allocated to this node, cluster setting [totalShardsPerNode=%d]",
				count, d.clusterLimit), nil
		}
	}
	if indexLimit > 0 {
		if count := a.Routing().CountOnForIndex(node.ID, shard.Index); exceeded(count, indexLimit) {
			return allocation.Denied(ShardsLimitName,
				"too many shards [%d] allocated to this node for index [%s], index setting [totalShardsPerNode=%d]",
				count, shard.Index, indexLimit), nil
		}
	}
	return allocation.Allowed(ShardsLimitName, "the shard count is under index limit [%d] and cluster limit [%d] of total shards per node",
		indexLimit, d.clusterLimit), nil
}
