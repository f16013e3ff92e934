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

var _ allocation.RemainDecider = &enableDecider{}

type enableDecider struct {
	mode model.EnableMode
}

// NewEnableDecider switches allocation off, entirely or per copy kind. The
// index setting takes precedence over the cluster one. It stands aside when
// the allocation ignores disabling, as for forced allocations.
func NewEnableDecider(mode model.EnableMode) allocation.Decider {
	return &enableDecider{mode: mode}
}

func (*enableDecider) Name() string {
	return EnableName
}

func (d *enableDecider) CanAllocate(shard model.ShardRouting, _ *model.Node, a *allocation.Allocation) (allocation.Decision, error) {
	if a.IgnoreDisable() {
		return allocation.Allowed(EnableName, "explicitly ignoring any disabling of allocation due to manual allocation commands"), nil
	}

	mode, source := d.mode, "cluster"
	if im, ok := a.IndexMetadata(shard.Index); ok && im.Enable != nil {
		mode, source = *im.Enable, "index"
	}

	switch mode {
	case model.EnableNone:
		return allocation.Denied(EnableName, "no allocations are allowed due to %s setting [enable=%s]", source, mode), nil
	case model.EnablePrimaries:
		if !shard.Primary {
			return allocation.Denied(EnableName, "replica allocations are forbidden due to %s setting [enable=%s]", source, mode), nil
		}
		return allocation.Allowed(EnableName, "primary allocations are allowed"), nil
	case model.EnableNewPrimaries:
		if !shard.Primary || !shard.NeverAllocated() {
			return allocation.Denied(EnableName, "non-new primary allocations are forbidden due to %s setting [enable=%s]", source, mode), nil
		}
		return allocation.Allowed(EnableName, "new primary allocations are allowed"), nil
	default:
		return allocation.Allowed(EnableName, "all allocations are allowed"), nil
	}
}

func (*enableDecider) CanRemain(model.ShardRouting, *model.Node, *allocation.Allocation) (allocation.Decision, error) {
	return allocation.Allowed(EnableName, "allocation enable settings only gate new placements"), nil
}
