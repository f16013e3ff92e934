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

package model

import (
	"maps"
	"slices"
)

// RoutingTable maps each index name to the placements of its shard copies.
// A table is treated as immutable once published: the allocator builds a new
// table instead of editing an existing one.
type RoutingTable struct {
	Indices map[string][]ShardRouting `json:"indices" yaml:"indices"`
}

func NewRoutingTable() *RoutingTable {
	return &RoutingTable{
		Indices: map[string][]ShardRouting{},
	}
}

// IndexNames returns the indices in lexical order.
func (rt *RoutingTable) IndexNames() []string {
	if rt == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(rt.Indices))
}

// Copies returns every copy in the table sorted by CopyID.
func (rt *RoutingTable) Copies() []ShardRouting {
	if rt == nil {
		return nil
	}
	var res []ShardRouting
	for _, index := range rt.IndexNames() {
		res = append(res, rt.Indices[index]...)
	}
	SortCopies(res)
	return res
}

func (rt *RoutingTable) Get(id CopyID) (ShardRouting, bool) {
	if rt == nil {
		return ShardRouting{}, false
	}
	for _, s := range rt.Indices[id.Index] {
		if s.CopyID() == id {
			return s, true
		}
	}
	return ShardRouting{}, false
}

func (rt *RoutingTable) CopiesOf(id ShardID) []ShardRouting {
	if rt == nil {
		return nil
	}
	var res []ShardRouting
	for _, s := range rt.Indices[id.Index] {
		if s.Shard == id.Shard {
			res = append(res, s)
		}
	}
	SortCopies(res)
	return res
}

func (rt *RoutingTable) Len() int {
	if rt == nil {
		return 0
	}
	n := 0
	for _, copies := range rt.Indices {
		n += len(copies)
	}
	return n
}

// CountInState returns how many copies are in the given state.
func (rt *RoutingTable) CountInState(state ShardState) int {
	if rt == nil {
		return 0
	}
	n := 0
	for _, copies := range rt.Indices {
		for _, s := range copies {
			if s.State == state {
				n++
			}
		}
	}
	return n
}

func (rt *RoutingTable) Clone() *RoutingTable {
	r := NewRoutingTable()
	if rt == nil {
		return r
	}
	for index, copies := range rt.Indices {
		cloned := make([]ShardRouting, len(copies))
		for i, s := range copies {
			cloned[i] = s.Clone()
		}
		r.Indices[index] = cloned
	}
	return r
}

// Equal reports structural equality. Copy order inside an index is not
// significant, nor are indices without copies; two tables are equal when they
// hold the same placements.
func (rt *RoutingTable) Equal(other *RoutingTable) bool {
	if rt.Len() != other.Len() {
		return false
	}
	if rt == nil || other == nil {
		return true
	}
	for index, copies := range rt.Indices {
		otherCopies := other.Indices[index]
		if len(copies) != len(otherCopies) {
			return false
		}
		byID := make(map[CopyID]ShardRouting, len(otherCopies))
		for _, s := range otherCopies {
			byID[s.CopyID()] = s
		}
		for _, s := range copies {
			o, ok := byID[s.CopyID()]
			if !ok || !s.Equal(o) {
				return false
			}
		}
	}
	return true
}

func SortCopies(copies []ShardRouting) {
	slices.SortFunc(copies, func(a, b ShardRouting) int {
		ai, bi := a.CopyID(), b.CopyID()
		switch {
		case ai == bi:
			return 0
		case ai.Less(bi):
			return -1
		default:
			return 1
		}
	})
}
