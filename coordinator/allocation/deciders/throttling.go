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

var _ allocation.RemainDecider = &throttlingDecider{}

type throttlingDecider struct {
	concurrentRecoveries       int
	initialPrimariesRecoveries int
}

// NewThrottlingDecider limits the recoveries a node receives at once. It
// never denies: a throttled copy is retried on the next pass. Non-positive
// limits are disabled.
func NewThrottlingDecider(concurrentRecoveries, initialPrimariesRecoveries int) allocation.Decider {
	return &throttlingDecider{
		concurrentRecoveries:       concurrentRecoveries,
		initialPrimariesRecoveries: initialPrimariesRecoveries,
	}
}

func (*throttlingDecider) Name() string {
	return ThrottlingName
}

func (d *throttlingDecider) CanAllocate(shard model.ShardRouting, node *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	inFlight := a.Routing().InFlightRecoveries(node.ID)

	if shard.Primary && shard.NeverAllocated() {
		// new primaries have no data to copy
		if d.initialPrimariesRecoveries > 0 && inFlight >= d.initialPrimariesRecoveries {
			return allocation.Throttled(ThrottlingName,
				"reached the limit of ongoing initial primary recoveries [%d], setting [nodeInitialPrimariesRecoveries=%d]",
				inFlight, d.initialPrimariesRecoveries), nil
		}
		return allocation.Allowed(ThrottlingName, "below primary recovery limit of [%d]", d.initialPrimariesRecoveries), nil
	}

	if d.concurrentRecoveries > 0 && inFlight >= d.concurrentRecoveries {
		return allocation.Throttled(ThrottlingName,
			"reached the limit of incoming shard recoveries [%d], setting [nodeConcurrentRecoveries=%d]",
			inFlight, d.concurrentRecoveries), nil
	}
	return allocation.Allowed(ThrottlingName, "below shard recovery limit of [%d]", d.concurrentRecoveries), nil
}

func (*throttlingDecider) CanRemain(model.ShardRouting, *model.Node, *allocation.Allocation) (allocation.Decision, error) {
	return allocation.Allowed(ThrottlingName, "recovery limits only gate new placements"), nil
}
