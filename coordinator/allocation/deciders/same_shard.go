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

var _ allocation.RemainDecider = &sameShardDecider{}

type sameShardDecider struct{}

// NewSameShardDecider keeps two copies of a shard off the same node.
func NewSameShardDecider() allocation.Decider {
	return &sameShardDecider{}
}

func (*sameShardDecider) Name() string {
	return SameShardName
}

func (*sameShardDecider) CanAllocate(shard model.ShardRouting, node *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	for _, other := range a.Routing().CopiesOf(shard.ShardID()) {
		if other.CopyID() == shard.CopyID() {
			continue
		}
		if other.OnNode(node.ID) {
			return allocation.Denied(SameShardName,
				"a copy of this shard is already allocated to this node [%s]", other), nil
		}
	}
	return allocation.Allowed(SameShardName, "this node does not hold a copy of this shard"), nil
}

func (*sameShardDecider) CanRemain(model.ShardRouting, *model.Node, *allocation.Allocation) (allocation.Decision, error) {
	return allocation.Allowed(SameShardName, "the copy is already allocated to this node"), nil
}
