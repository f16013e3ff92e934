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

package single

import (
	"github.com/emirpasic/gods/sets/linkedhashset"

	"github.com/streamnative/shardalloc/coordinator/allocation"
	"github.com/streamnative/shardalloc/coordinator/model"
)

// Context carries the nodes the decider chain allowed for one copy.
type Context struct {
	// Candidates holds node ids ordered by id.
	Candidates *linkedhashset.Set
	Shard      model.ShardRouting
	Routing    allocation.RoutingView
}

func NewContext(shard model.ShardRouting, routing allocation.RoutingView, candidates ...string) *Context {
	set := linkedhashset.New()
	for _, c := range candidates {
		set.Add(c)
	}
	return &Context{
		Candidates: set,
		Shard:      shard,
		Routing:    routing,
	}
}
