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

var _ allocation.RemainDecider = &maxRetryDecider{}

type maxRetryDecider struct {
	maxRetries int
}

// NewMaxRetryDecider stops placing copies that failed too many times in a
// row. Zero disables the limit.
func NewMaxRetryDecider(maxRetries int) allocation.Decider {
	return &maxRetryDecider{maxRetries: maxRetries}
}

func (*maxRetryDecider) Name() string {
	return MaxRetryName
}

func (d *maxRetryDecider) CanAllocate(shard model.ShardRouting, _ *model.Node, _ *allocation.Allocation) (allocation.Decision, error) {
	attempts := shard.FailedAttempts()
	if d.maxRetries > 0 && attempts >= d.maxRetries {
		return allocation.Denied(MaxRetryName,
			"shard has exceeded the maximum number of retries [%d] on failed allocation attempts", d.maxRetries), nil
	}
	return allocation.Allowed(MaxRetryName, "shard has failed allocating [%d] times but [%d] retries are allowed",
		attempts, d.maxRetries), nil
}

func (*maxRetryDecider) CanRemain(model.ShardRouting, *model.Node, *allocation.Allocation) (allocation.Decision, error) {
	return allocation.Allowed(MaxRetryName, "failed attempts only gate new placements"), nil
}
