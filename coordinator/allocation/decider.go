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

package allocation

import (
	"github.com/streamnative/shardalloc/coordinator/model"
)

// Decider is a single placement policy. Implementations must be pure
// functions of their arguments: they read the Allocation and never modify it.
type Decider interface {
	Name() string

	// CanAllocate votes on placing the copy on the node.
	CanAllocate(shard model.ShardRouting, node *model.Node, a *Allocation) (Decision, error)
}

// RemainDecider is implemented by deciders whose vote on copies already placed
// on a node differs from their vote on new placements. A decider without it is
// asked CanAllocate for placed copies too. A Deny forces the copy off the node.
type RemainDecider interface {
	Decider

	CanRemain(shard model.ShardRouting, node *model.Node, a *Allocation) (Decision, error)
}

type DecideFunc func(shard model.ShardRouting, node *model.Node, a *Allocation) (Decision, error)

type funcDecider struct {
	name     string
	allocate DecideFunc
}

func (f *funcDecider) Name() string {
	return f.name
}

func (f *funcDecider) CanAllocate(shard model.ShardRouting, node *model.Node, a *Allocation) (Decision, error) {
	return f.allocate(shard, node, a)
}

type funcRemainDecider struct {
	funcDecider
	remain DecideFunc
}

func (f *funcRemainDecider) CanRemain(shard model.ShardRouting, node *model.Node, a *Allocation) (Decision, error) {
	return f.remain(shard, node, a)
}

// NewDecider adapts a function to the Decider interface.
func NewDecider(name string, allocate DecideFunc) Decider {
	return &funcDecider{name: name, allocate: allocate}
}

// NewRemainDecider adapts a pair of functions to the RemainDecider interface.
func NewRemainDecider(name string, allocate DecideFunc, remain DecideFunc) RemainDecider {
	return &funcRemainDecider{
		funcDecider: funcDecider{name: name, allocate: allocate},
		remain:      remain,
	}
}
