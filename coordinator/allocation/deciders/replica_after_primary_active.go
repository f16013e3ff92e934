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

var _ allocation.RemainDecider = &replicaAfterPrimaryActiveDecider{}

type replicaAfterPrimaryActiveDecider struct{}

// NewReplicaAfterPrimaryActiveDecider holds replicas back until their primary
// holds a full copy of the data.
func NewReplicaAfterPrimaryActiveDecider() allocation.Decider {
	return &replicaAfterPrimaryActiveDecider{}
}

func (*replicaAfterPrimaryActiveDecider) Name() string {
	return ReplicaAfterPrimaryActiveName
}

func (*replicaAfterPrimaryActiveDecider) CanAllocate(shard model.ShardRouting, _ *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	if shard.Primary {
		return allocation.Allowed(ReplicaAfterPrimaryActiveName, "shard is primary and can be allocated"), nil
	}
	primary, found := a.Routing().Primary(shard.ShardID())
	if !found || !primary.State.Active() {
		return allocation.Denied(ReplicaAfterPrimaryActiveName, "primary shard for this replica is not yet active"), nil
	}
	return allocation.Allowed(ReplicaAfterPrimaryActiveName, "primary shard for this replica is already active"), nil
}

func (*replicaAfterPrimaryActiveDecider) CanRemain(model.ShardRouting, *model.Node, *allocation.Allocation) (allocation.Decision, error) {
	return allocation.Allowed(ReplicaAfterPrimaryActiveName, "the replica is already allocated"), nil
}
